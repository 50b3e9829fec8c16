package proc

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/disgoorg/snowflake/v2"
)

type fakeConn struct {
	mu         sync.Mutex
	opened     []snowflake.ID
	closed     bool
	sinkCloses int
	data       bytes.Buffer
}

func (c *fakeConn) Open(ctx context.Context, channelID snowflake.ID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.opened = append(c.opened, channelID)
	return nil
}

func (c *fakeConn) OpenSink(ctx context.Context) (io.WriteCloser, error) {
	return &fakeSink{c: c}, nil
}

func (c *fakeConn) Close(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type fakeSink struct {
	c    *fakeConn
	once sync.Once
}

func (s *fakeSink) Write(p []byte) (int, error) {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	return s.c.data.Write(p)
}

func (s *fakeSink) Close() error {
	s.once.Do(func() {
		s.c.mu.Lock()
		s.c.sinkCloses++
		s.c.mu.Unlock()
	})
	return nil
}

type fakeTransport struct {
	conn *fakeConn
}

func (t *fakeTransport) Conn(guildID snowflake.ID) Conn {
	return t.conn
}

func catTranscode(path string) *exec.Cmd {
	return exec.Command("cat", path)
}

type testHarness struct {
	system    *VoiceSystem
	session   *VoiceSession
	conn      *fakeConn
	metadata  *fakeMetadata
	playlists *fakePlaylists
	cache     *DownloadCache
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()

	metadata := &fakeMetadata{tracks: map[string]*TrackInfo{}}
	for _, id := range []string{"A", "B", "C", "D"} {
		metadata.tracks[id] = testTrack(id)
	}
	playlists := &fakePlaylists{ids: map[string][]string{}}
	cache := NewDownloadCache(t.TempDir(), 20, &fakeDownloader{})
	conn := &fakeConn{}

	system := NewVoiceSystem(
		NewTrackResolver(metadata, playlists, &fakeSearch{}),
		cache,
		metadata,
		nil,
		&fakeTransport{conn: conn},
		catTranscode,
	)

	return &testHarness{
		system:    system,
		session:   system.Session(snowflake.ID(1)),
		conn:      conn,
		metadata:  metadata,
		playlists: playlists,
		cache:     cache,
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func embedText(m FormattedMessage) string {
	var sb strings.Builder
	sb.WriteString(m.Embed.Description)
	for _, f := range m.Embed.Fields {
		sb.WriteString(f.Name)
		sb.WriteString(f.Value)
	}
	return sb.String()
}

func TestPlayDownloadsAndStreams(t *testing.T) {
	h := newHarness(t)

	fut := h.session.Play(context.Background(), snowflake.ID(100), "A", false)
	final, err := fut.Await(context.Background())
	if err != nil {
		t.Fatalf("Await: %v", err)
	}
	if !strings.Contains(embedText(final), "Now Playing") {
		t.Errorf("final reply = %q, want Now Playing", embedText(final))
	}

	// The whole track flows into the sink, the sink closes exactly once,
	// and the empty queue disconnects the session.
	waitFor(t, "disconnect after playback", h.conn.isClosed)

	h.conn.mu.Lock()
	defer h.conn.mu.Unlock()
	if got := h.conn.data.String(); got != "audio:A" {
		t.Errorf("sink received %q, want %q", got, "audio:A")
	}
	if h.conn.sinkCloses != 1 {
		t.Errorf("sink closed %d times, want 1", h.conn.sinkCloses)
	}
	if len(h.conn.opened) != 1 || h.conn.opened[0] != snowflake.ID(100) {
		t.Errorf("opened channels = %v", h.conn.opened)
	}
}

func TestPlayWhileBusyRepliesProcessing(t *testing.T) {
	h := newHarness(t)
	gate := make(chan struct{})
	h.playlists.gate = gate

	first := h.session.Play(context.Background(), snowflake.ID(100), "A", false)

	second := h.session.Play(context.Background(), snowflake.ID(100), "B", false)
	if !second.Finished() {
		t.Fatal("second Play should resolve immediately while busy")
	}
	msg, _ := second.Await(context.Background())
	if !strings.Contains(embedText(msg), "Already processing") {
		t.Errorf("busy reply = %q", embedText(msg))
	}

	close(gate)
	if _, err := first.Await(context.Background()); err != nil {
		t.Fatalf("first Play: %v", err)
	}
}

func TestPlayWhilePlayingEnqueues(t *testing.T) {
	h := newHarness(t)
	h.session.mu.Lock()
	h.session.playing = true
	h.session.current = testTrack("A")
	h.session.mu.Unlock()

	fut := h.session.Play(context.Background(), snowflake.ID(100), "B", false)
	final, _ := fut.Await(context.Background())
	if !strings.Contains(embedText(final), "Song added to the queue") {
		t.Errorf("reply = %q, want added to queue", embedText(final))
	}
	if !strings.Contains(embedText(final), "Queue size: 1") {
		t.Errorf("reply = %q, want the actual queue size", embedText(final))
	}

	waitFor(t, "queue to fill", func() bool {
		_, q, populating := h.session.QueueSnapshot()
		return len(q) == 1 && !populating && q[0].ID == "B"
	})
}

func TestPlayPlaylistPlaysHeadAndEnqueuesTail(t *testing.T) {
	h := newHarness(t)
	h.playlists.ids["album?list=PLX"] = []string{"A", "B", "C", "D"}

	// Hold the tail's first metadata fetch so the population window is
	// observable, and keep the transcoder alive past the assertions.
	gate := make(chan struct{})
	h.metadata.gate = gate
	h.metadata.gateIDs = map[string]bool{"B": true}
	h.system.transcode = func(path string) *exec.Cmd {
		return exec.Command("sleep", "60")
	}

	fut := h.session.Play(context.Background(), snowflake.ID(100), "album?list=PLX", true)
	final, err := fut.Await(context.Background())
	if err != nil {
		t.Fatalf("Await: %v", err)
	}
	if !strings.Contains(embedText(final), "Now Playing") {
		t.Errorf("reply = %q, want Now Playing", embedText(final))
	}
	if !strings.Contains(embedText(final), "And 3 more added to the queue") {
		t.Errorf("reply = %q, want the tail count", embedText(final))
	}

	current, q, populating := h.session.QueueSnapshot()
	if current == nil || current.ID != "A" {
		t.Errorf("current = %v, want A", current)
	}
	if !populating {
		t.Error("population should still be running while the gate holds")
	}
	if len(q) != 0 {
		t.Errorf("queue = %v before the gate opens", q)
	}

	// The tail enqueues in playlist order; the shuffle flag only applies
	// when a playlist lands on an already-playing session.
	close(gate)
	waitFor(t, "tail to populate", func() bool {
		_, q, populating := h.session.QueueSnapshot()
		return !populating && len(q) == 3
	})
	_, q, _ = h.session.QueueSnapshot()
	for i, id := range []string{"B", "C", "D"} {
		if q[i].ID != id {
			t.Errorf("queue[%d] = %s, want %s", i, q[i].ID, id)
		}
	}

	h.session.Disconnect(context.Background())
}

func TestPlayNoResults(t *testing.T) {
	h := newHarness(t)

	fut := h.session.Play(context.Background(), snowflake.ID(100), "unknown", false)
	final, _ := fut.Await(context.Background())
	if !strings.Contains(embedText(final), "No results found") {
		t.Errorf("reply = %q, want no results", embedText(final))
	}
	if h.session.processing {
		t.Error("processing flag must clear after failure")
	}
}

func TestSetNextHeadInserts(t *testing.T) {
	h := newHarness(t)
	h.session.mu.Lock()
	h.session.queue = []*TrackInfo{testTrack("A"), testTrack("B"), testTrack("C")}
	h.session.mu.Unlock()

	msg := h.session.SetNext(context.Background(), "D")
	if !strings.Contains(embedText(msg), "Song will play next") {
		t.Errorf("reply = %q", embedText(msg))
	}

	_, q, _ := h.session.QueueSnapshot()
	want := []string{"D", "A", "B", "C"}
	if len(q) != len(want) {
		t.Fatalf("queue length = %d, want %d", len(q), len(want))
	}
	for i, id := range want {
		if q[i].ID != id {
			t.Errorf("queue[%d] = %s, want %s", i, q[i].ID, id)
		}
	}
}

func TestSetNextRejectsPlaylists(t *testing.T) {
	h := newHarness(t)
	h.playlists.ids["mix?list=PL9"] = []string{"A", "B"}

	msg := h.session.SetNext(context.Background(), "mix?list=PL9")
	if !strings.Contains(embedText(msg), "No results found") {
		t.Errorf("reply = %q, want playlist rejection", embedText(msg))
	}
	_, q, _ := h.session.QueueSnapshot()
	if len(q) != 0 {
		t.Errorf("queue = %v, want untouched", q)
	}
}

func TestSkipWithEmptyQueue(t *testing.T) {
	h := newHarness(t)

	msg := h.session.Skip()
	if !strings.Contains(embedText(msg), "The queue is empty") {
		t.Errorf("reply = %q", embedText(msg))
	}
}

func TestSkipKillsTranscoderAndAdvances(t *testing.T) {
	h := newHarness(t)

	// Pre-cache B so the advance needs no download
	if _, err := h.cache.Fetch(context.Background(), "B").Await(context.Background()); err != nil {
		t.Fatal(err)
	}

	h.session.mu.Lock()
	h.session.queue = []*TrackInfo{testTrack("B")}
	h.session.conn = h.conn
	h.session.connected = true
	h.session.mu.Unlock()

	// A long-running stand-in for ffmpeg so the kill is observable
	h.system.transcode = func(path string) *exec.Cmd {
		return exec.Command("sleep", "60")
	}
	if !h.session.startStream(testTrack("A"), os.DevNull) {
		t.Fatal("startStream refused")
	}

	h.system.transcode = catTranscode
	msg := h.session.Skip()
	if !strings.Contains(embedText(msg), "Song skipped") {
		t.Errorf("reply = %q", embedText(msg))
	}

	waitFor(t, "queue to advance after skip", func() bool {
		current, q, _ := h.session.QueueSnapshot()
		return len(q) == 0 && (current == nil || current.ID == "B")
	})
}

func TestStartStreamRefusesSecondStream(t *testing.T) {
	h := newHarness(t)
	h.session.mu.Lock()
	h.session.conn = h.conn
	h.session.connected = true
	h.session.mu.Unlock()

	h.system.transcode = func(path string) *exec.Cmd {
		return exec.Command("sleep", "60")
	}
	if !h.session.startStream(testTrack("A"), os.DevNull) {
		t.Fatal("first startStream refused")
	}
	if h.session.startStream(testTrack("B"), os.DevNull) {
		t.Error("second concurrent stream must be refused")
	}
	h.session.Disconnect(context.Background())
}

func TestShuffleAndClear(t *testing.T) {
	h := newHarness(t)
	h.session.mu.Lock()
	h.session.queue = []*TrackInfo{testTrack("A"), testTrack("B"), testTrack("C")}
	h.session.mu.Unlock()

	msg := h.session.Shuffle()
	if !strings.Contains(embedText(msg), "Shuffled 3 songs") {
		t.Errorf("reply = %q", embedText(msg))
	}
	_, q, _ := h.session.QueueSnapshot()
	if len(q) != 3 {
		t.Errorf("shuffle changed queue length to %d", len(q))
	}

	msg = h.session.Clear()
	if !strings.Contains(embedText(msg), "Queue cleared") {
		t.Errorf("reply = %q", embedText(msg))
	}
	_, q, _ = h.session.QueueSnapshot()
	if len(q) != 0 {
		t.Errorf("queue = %v after clear", q)
	}
}

func TestDisconnectResetsSession(t *testing.T) {
	h := newHarness(t)
	h.session.mu.Lock()
	h.session.queue = []*TrackInfo{testTrack("A")}
	h.session.conn = h.conn
	h.session.connected = true
	h.session.channelID = snowflake.ID(100)
	h.session.mu.Unlock()

	msg := h.session.Disconnect(context.Background())
	if !strings.Contains(embedText(msg), "Disconnecting") {
		t.Errorf("reply = %q", embedText(msg))
	}
	if !h.conn.isClosed() {
		t.Error("conn should be closed")
	}
	current, q, _ := h.session.QueueSnapshot()
	if current != nil || len(q) != 0 {
		t.Error("session state should reset on disconnect")
	}
}

// blockingSink swallows writes until closed, like a voice sink whose pipe
// consumer has stopped reading.
type blockingSink struct {
	closed     chan struct{}
	once       sync.Once
	writes     int32
	closeCalls int32
	closes     int32
}

func (s *blockingSink) Write(p []byte) (int, error) {
	atomic.AddInt32(&s.writes, 1)
	<-s.closed
	return 0, io.ErrClosedPipe
}

func (s *blockingSink) Close() error {
	atomic.AddInt32(&s.closeCalls, 1)
	s.once.Do(func() {
		atomic.AddInt32(&s.closes, 1)
		close(s.closed)
	})
	return nil
}

type blockingSinkConn struct {
	fakeConn
	sink *blockingSink
}

func (c *blockingSinkConn) OpenSink(ctx context.Context) (io.WriteCloser, error) {
	return c.sink, nil
}

type sinkErrorConn struct {
	fakeConn
}

func (c *sinkErrorConn) OpenSink(ctx context.Context) (io.WriteCloser, error) {
	return nil, errors.New("udp connection not ready")
}

func TestDisconnectClosesSinkAndStopsStream(t *testing.T) {
	h := newHarness(t)
	conn := &blockingSinkConn{sink: &blockingSink{closed: make(chan struct{})}}

	path, err := h.cache.Fetch(context.Background(), "A").Await(context.Background())
	if err != nil || path == "" {
		t.Fatalf("cache fetch: %v", err)
	}

	h.session.mu.Lock()
	h.session.conn = conn
	h.session.connected = true
	h.session.mu.Unlock()

	if !h.session.startStream(testTrack("A"), path) {
		t.Fatal("startStream refused")
	}
	waitFor(t, "copy loop to block in the sink", func() bool {
		return atomic.LoadInt32(&conn.sink.writes) > 0
	})

	h.session.Disconnect(context.Background())

	// Disconnect closes the sink, which unwinds the blocked copy loop so
	// its cleanup can reap the transcoder and clear the stream state.
	waitFor(t, "copy loop to exit and clear state", func() bool {
		if atomic.LoadInt32(&conn.sink.closeCalls) < 2 {
			return false
		}
		h.session.mu.Lock()
		defer h.session.mu.Unlock()
		return !h.session.playing && h.session.cmd == nil && h.session.sink == nil
	})

	if n := atomic.LoadInt32(&conn.sink.closes); n != 1 {
		t.Errorf("sink reached the closed state %d times, want 1", n)
	}
}

func TestStartStreamFailsCleanlyWhenSinkOpenFails(t *testing.T) {
	h := newHarness(t)
	conn := &sinkErrorConn{}

	h.session.mu.Lock()
	h.session.conn = conn
	h.session.connected = true
	h.session.mu.Unlock()

	h.system.transcode = func(path string) *exec.Cmd {
		return exec.Command("sleep", "60")
	}
	if h.session.startStream(testTrack("A"), os.DevNull) {
		t.Fatal("startStream should fail when the sink cannot open")
	}

	// The failed attempt reaps its transcoder and leaves the session free
	// for the next stream.
	h.session.mu.Lock()
	playing, cmd := h.session.playing, h.session.cmd
	h.session.mu.Unlock()
	if playing || cmd != nil {
		t.Errorf("playing = %v, cmd = %v after failed sink open", playing, cmd)
	}
}

func TestAutoplayContinuesAfterQueueEmpties(t *testing.T) {
	h := newHarness(t)
	h.system.related = relatedFunc(func(ctx context.Context, tr *TrackInfo, exclude []string) (*TrackInfo, error) {
		for _, id := range exclude {
			if id == "B" {
				return nil, errNoMoreRelated
			}
		}
		return testTrack("B"), nil
	})

	h.session.mu.Lock()
	h.session.autoplay = true
	h.session.current = testTrack("A")
	h.session.conn = h.conn
	h.session.connected = true
	h.session.mu.Unlock()

	h.session.Next(context.Background())

	waitFor(t, "autoplay track to stream", func() bool {
		h.conn.mu.Lock()
		defer h.conn.mu.Unlock()
		return strings.Contains(h.conn.data.String(), "audio:B")
	})

	// Once the related source runs dry the session disconnects
	waitFor(t, "disconnect after autoplay exhausts", h.conn.isClosed)
}

var errNoMoreRelated = errors.New("no more related tracks")

type relatedFunc func(ctx context.Context, t *TrackInfo, exclude []string) (*TrackInfo, error)

func (f relatedFunc) Related(ctx context.Context, t *TrackInfo, exclude []string) (*TrackInfo, error) {
	return f(ctx, t, exclude)
}
