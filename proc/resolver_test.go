package proc

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

type fakeMetadata struct {
	tracks  map[string]*TrackInfo
	err     error
	gate    chan struct{}
	gateIDs map[string]bool
}

func (f *fakeMetadata) FetchTrack(ctx context.Context, query string) (*TrackInfo, error) {
	if f.gate != nil && f.gateIDs[query] {
		<-f.gate
	}
	if f.err != nil {
		return nil, f.err
	}
	if t, ok := f.tracks[query]; ok {
		return t, nil
	}
	return nil, errors.New("not found")
}

type fakePlaylists struct {
	ids  map[string][]string
	gate chan struct{}
}

func (f *fakePlaylists) ExpandPlaylist(ctx context.Context, query string) ([]string, error) {
	if f.gate != nil {
		<-f.gate
	}
	if ids, ok := f.ids[query]; ok {
		return ids, nil
	}
	return nil, ErrNotPlaylist
}

type fakeSearch struct {
	results []TrackInfo
	err     error
}

func (f *fakeSearch) Search(ctx context.Context, query string) ([]TrackInfo, error) {
	return f.results, f.err
}

func testTrack(id string) *TrackInfo {
	return &TrackInfo{ID: id, Title: "Track " + id, Channel: "Chan", Duration: 3 * time.Minute}
}

func TestResolvePlaylist(t *testing.T) {
	r := NewTrackResolver(
		&fakeMetadata{},
		&fakePlaylists{ids: map[string][]string{"https://yt/playlist?list=PL1": {"a", "b", "c"}}},
		&fakeSearch{},
	)

	var mu sync.Mutex
	var updates []FormattedMessage
	fut := r.Resolve(context.Background(), "https://yt/playlist?list=PL1")
	fut.OnUpdate(func(m FormattedMessage) {
		mu.Lock()
		updates = append(updates, m)
		mu.Unlock()
	})

	ids, err := fut.Await(context.Background())
	if err != nil {
		t.Fatalf("Await: %v", err)
	}
	if len(ids) != 3 || ids[0] != "a" || ids[2] != "c" {
		t.Errorf("ids = %v, want [a b c]", ids)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(updates) != 0 {
		t.Errorf("playlist resolution should not emit updates, got %d", len(updates))
	}
}

func TestResolveDirectQuery(t *testing.T) {
	r := NewTrackResolver(
		&fakeMetadata{tracks: map[string]*TrackInfo{"https://yt/watch?v=xyz": testTrack("xyz")}},
		&fakePlaylists{},
		&fakeSearch{},
	)

	fut := r.Resolve(context.Background(), "https://yt/watch?v=xyz")
	ids, _ := fut.Await(context.Background())
	if len(ids) != 1 || ids[0] != "xyz" {
		t.Errorf("ids = %v, want [xyz]", ids)
	}
}

func TestResolveSearchFallbackEmitsSearching(t *testing.T) {
	top := *testTrack("hit1")
	gate := make(chan struct{})
	r := NewTrackResolver(
		&fakeMetadata{tracks: map[string]*TrackInfo{top.WatchURL(): &top}},
		&fakePlaylists{gate: gate},
		&fakeSearch{results: []TrackInfo{top, *testTrack("hit2")}},
	)

	updates := make(chan FormattedMessage, 4)
	fut := r.Resolve(context.Background(), "some song")
	fut.OnUpdate(func(m FormattedMessage) { updates <- m })
	close(gate)

	ids, _ := fut.Await(context.Background())
	if len(ids) != 1 || ids[0] != "hit1" {
		t.Fatalf("ids = %v, want [hit1]", ids)
	}

	select {
	case m := <-updates:
		if len(m.Embed.Fields) == 0 || !strings.Contains(m.Embed.Fields[0].Name, "some song") {
			t.Errorf("searching update does not mention the query: %+v", m.Embed)
		}
	default:
		t.Error("expected a searching update before the search result")
	}
}

func TestResolveNothingFound(t *testing.T) {
	r := NewTrackResolver(
		&fakeMetadata{err: errors.New("down")},
		&fakePlaylists{},
		&fakeSearch{err: errors.New("down")},
	)

	fut := r.Resolve(context.Background(), "garbage")
	ids, _ := fut.Await(context.Background())
	if len(ids) != 0 {
		t.Errorf("ids = %v, want empty", ids)
	}
}
