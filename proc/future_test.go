package proc

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestFutureWorkerResolves(t *testing.T) {
	f := NewFuture[int, string](func(emit func(int)) string {
		emit(50)
		return "done"
	})

	r, err := f.Await(context.Background())
	if err != nil {
		t.Fatalf("Await returned error: %v", err)
	}
	if r != "done" {
		t.Errorf("result = %q, want %q", r, "done")
	}
	if !f.Finished() {
		t.Error("future should report finished")
	}
}

func TestFutureUpdatesReachSubscribers(t *testing.T) {
	release := make(chan struct{})
	subscribed := make(chan struct{})

	var mu sync.Mutex
	var got []int

	f := NewFuture[int, string](func(emit func(int)) string {
		<-subscribed
		emit(10)
		emit(20)
		emit(30)
		<-release
		return "ok"
	})

	f.OnUpdate(func(u int) {
		mu.Lock()
		got = append(got, u)
		mu.Unlock()
	})
	close(subscribed)

	// Let the worker emit everything, then resolve
	time.Sleep(50 * time.Millisecond)
	close(release)
	_, _ = f.Await(context.Background())

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 3 || got[0] != 10 || got[1] != 20 || got[2] != 30 {
		t.Errorf("updates = %v, want [10 20 30]", got)
	}
}

func TestFutureFirstResolveWins(t *testing.T) {
	f := NewFuture[int, string](func(emit func(int)) string {
		return "first"
	})
	<-f.Done()

	f.ForceFinish("second")

	r, _ := f.Await(context.Background())
	if r != "first" {
		t.Errorf("result = %q, want %q (later resolves must be no-ops)", r, "first")
	}
}

func TestFutureOnFinishReplaysAfterResolution(t *testing.T) {
	f := ResolvedFuture[int]("late")

	called := false
	f.OnFinish(func(r string) {
		called = true
		if r != "late" {
			t.Errorf("replayed result = %q, want %q", r, "late")
		}
	})
	if !called {
		t.Error("OnFinish must invoke the callback synchronously on a finished future")
	}
}

func TestFutureUpdatesDroppedAfterResolution(t *testing.T) {
	var mu sync.Mutex
	var got []int

	release := make(chan struct{})
	f := NewFuture[int, string](func(emit func(int)) string {
		<-release
		return "ok"
	})
	f.OnUpdate(func(u int) {
		mu.Lock()
		got = append(got, u)
		mu.Unlock()
	})
	close(release)
	<-f.Done()

	f.emit(99)

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 0 {
		t.Errorf("updates after resolution = %v, want none", got)
	}
}

func TestFutureForceFinishPreemptsWorker(t *testing.T) {
	block := make(chan struct{})
	defer close(block)

	f := NewFuture[int, string](func(emit func(int)) string {
		<-block
		return "worker"
	})

	f.ForceFinish("forced")

	r, err := f.Await(context.Background())
	if err != nil {
		t.Fatalf("Await returned error: %v", err)
	}
	if r != "forced" {
		t.Errorf("result = %q, want %q", r, "forced")
	}
}

func TestFutureAwaitRespectsContext(t *testing.T) {
	block := make(chan struct{})
	defer close(block)

	f := NewFuture[int, string](func(emit func(int)) string {
		<-block
		return "never"
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := f.Await(ctx)
	if err == nil {
		t.Fatal("Await should fail when the context expires first")
	}
}

func TestFutureConcurrentSubscribers(t *testing.T) {
	release := make(chan struct{})
	f := NewFuture[int, int](func(emit func(int)) int {
		<-release
		return 42
	})

	const n = 16
	results := make(chan int, n+1)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.OnFinish(func(r int) { results <- r })
		}()
	}
	wg.Wait()
	close(release)
	<-f.Done()

	// Late subscriber after resolution
	f.OnFinish(func(r int) { results <- r })

	for i := 0; i < n+1; i++ {
		select {
		case r := <-results:
			if r != 42 {
				t.Errorf("subscriber saw %d, want 42", r)
			}
		case <-time.After(time.Second):
			t.Fatalf("only %d of %d subscribers were notified", i, n+1)
		}
	}
}
