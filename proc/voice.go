package proc

import (
	"context"
	"errors"
	"io"
	"math/rand"
	"os/exec"
	"slices"
	"sync"

	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/snowflake/v2"
	"github.com/leeineian/hibiki/sys"
)

var (
	VoiceManager *VoiceSystem
	onceVoice    sync.Once
)

func init() {
	sys.RegisterVoiceStateUpdateHandler(onVoiceStateUpdate)
	sys.OnClientReady(func(ctx context.Context, client bot.Client) {
		GetVoiceManager().SetTransport(NewDiscordTransport(client))
	})
}

// RelatedClient finds a follow-up track for autoplay.
type RelatedClient interface {
	Related(ctx context.Context, t *TrackInfo, exclude []string) (*TrackInfo, error)
}

// TranscodeFunc builds the external transcoder process for a cached file.
// The process must emit Ogg/Opus on stdout; killing it stops playback.
type TranscodeFunc func(path string) *exec.Cmd

func FFmpegTranscode(path string) *exec.Cmd {
	return exec.Command("ffmpeg",
		"-hide_banner",
		"-loglevel", "panic",
		"-i", path,
		"-map", "0:a",
		"-acodec", "libopus",
		"-b:a", "128k",
		"-vbr", "on",
		"-f", "opus",
		"pipe:1",
	)
}

// VoiceSystem owns one VoiceSession per guild. Sessions are created lazily
// and never destroyed.
type VoiceSystem struct {
	mu        sync.Mutex
	sessions  map[snowflake.ID]*VoiceSession
	resolver  *TrackResolver
	cache     *DownloadCache
	metadata  MetadataClient
	related   RelatedClient
	transport Transport
	transcode TranscodeFunc
}

// GetVoiceManager returns the singleton VoiceSystem wired to the production
// collaborators.
func GetVoiceManager() *VoiceSystem {
	onceVoice.Do(func() {
		cacheDir := ".tracks"
		maxTracks := 20
		if cfg := sys.GlobalConfig; cfg != nil {
			cacheDir = cfg.CacheDir
			maxTracks = cfg.MaxCachedTracks
		}

		yt := NewYtdlpClient()
		VoiceManager = NewVoiceSystem(
			NewTrackResolver(yt, yt, NewYtsearchClient()),
			NewDownloadCache(cacheDir, maxTracks, yt),
			yt, yt, nil, FFmpegTranscode,
		)
	})
	return VoiceManager
}

func NewVoiceSystem(resolver *TrackResolver, cache *DownloadCache, metadata MetadataClient, related RelatedClient, transport Transport, transcode TranscodeFunc) *VoiceSystem {
	return &VoiceSystem{
		sessions:  make(map[snowflake.ID]*VoiceSession),
		resolver:  resolver,
		cache:     cache,
		metadata:  metadata,
		related:   related,
		transport: transport,
		transcode: transcode,
	}
}

func (vs *VoiceSystem) SetTransport(t Transport) {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	vs.transport = t
}

// Session returns the guild's session, creating it on first use with the
// persisted autoplay preference.
func (vs *VoiceSystem) Session(guildID snowflake.ID) *VoiceSession {
	vs.mu.Lock()
	defer vs.mu.Unlock()

	if s, ok := vs.sessions[guildID]; ok {
		return s
	}

	s := &VoiceSession{system: vs, GuildID: guildID}
	if sys.DB != nil {
		if enabled, err := sys.GetGuildAutoplay(context.Background(), guildID); err == nil {
			s.autoplay = enabled
		}
	}
	vs.sessions[guildID] = s
	return s
}

// SessionStats reports how many sessions exist and how many are connected.
func (vs *VoiceSystem) SessionStats() (sessions, connected int) {
	vs.mu.Lock()
	defer vs.mu.Unlock()

	sessions = len(vs.sessions)
	for _, s := range vs.sessions {
		s.mu.Lock()
		if s.connected {
			connected++
		}
		s.mu.Unlock()
	}
	return sessions, connected
}

func (vs *VoiceSystem) Cache() *DownloadCache {
	return vs.cache
}

func (vs *VoiceSystem) existing(guildID snowflake.ID) *VoiceSession {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	return vs.sessions[guildID]
}

// VoiceSession is the per-guild playback state. Every mutation goes through
// one mutex.
type VoiceSession struct {
	system  *VoiceSystem
	GuildID snowflake.ID

	mu         sync.Mutex
	channelID  snowflake.ID
	queue      []*TrackInfo
	current    *TrackInfo
	playing    bool
	processing bool
	populating int
	autoplay   bool
	connected  bool
	conn       Conn
	cmd        *exec.Cmd
	sink       io.WriteCloser
	history    []string
}

// Play resolves the query and starts or enqueues playback. Only one Play per
// session runs at a time; concurrent calls get a busy reply immediately.
func (s *VoiceSession) Play(ctx context.Context, channelID snowflake.ID, query string, shuffle bool) *Future[FormattedMessage, FormattedMessage] {
	s.mu.Lock()
	if s.processing {
		s.mu.Unlock()
		return ResolvedFuture[FormattedMessage](MsgProcessing())
	}
	s.processing = true
	s.mu.Unlock()

	return NewFuture(func(emit func(FormattedMessage)) FormattedMessage {
		defer s.clearProcessing()

		resFut := s.system.resolver.Resolve(ctx, query)
		resFut.OnUpdate(emit)
		ids, err := resFut.Await(ctx)
		if err != nil || len(ids) == 0 {
			return MsgNoResultsFound(query)
		}

		head, err := s.system.metadata.FetchTrack(ctx, ids[0])
		if err != nil || head == nil {
			return MsgNoResultsFound(query)
		}
		rest := ids[1:]

		s.mu.Lock()
		if s.playing {
			if len(ids) == 1 {
				s.queue = append(s.queue, head)
				queueSize := len(s.queue)
				s.mu.Unlock()
				return MsgAddedToQueue(head, 0, queueSize)
			}
			s.mu.Unlock()
			s.enqueueBackground(ctx, ids, shuffle)
			return MsgAddedToQueue(head, len(ids)-1, 0)
		}
		s.mu.Unlock()

		// Tail goes in as-is while the head downloads
		if len(rest) > 0 {
			s.enqueueBackground(ctx, rest, false)
		}

		dlFut := s.system.cache.Fetch(ctx, head.ID)
		dlFut.OnUpdate(func(p int) { emit(MsgDownloading(head, p)) })
		path, err := dlFut.Await(ctx)
		if err != nil || path == "" {
			return MsgErrorDownloading(head.Title)
		}

		if err := s.connect(ctx, channelID); err != nil {
			sys.LogVoice("Voice connect failed for guild %s: %v", s.GuildID, err)
			return MsgUnableToStartPlayback()
		}

		if !s.startStream(head, path) {
			return MsgUnableToStartPlayback()
		}
		return MsgNowPlaying(head, len(rest), channelID)
	})
}

func (s *VoiceSession) clearProcessing() {
	s.mu.Lock()
	s.processing = false
	s.mu.Unlock()
}

// enqueueBackground fetches metadata for each id and appends to the queue
// without blocking the caller.
func (s *VoiceSession) enqueueBackground(ctx context.Context, ids []string, shuffle bool) {
	queued := slices.Clone(ids)
	if shuffle {
		rand.Shuffle(len(queued), func(i, j int) { queued[i], queued[j] = queued[j], queued[i] })
	}

	s.mu.Lock()
	s.populating++
	s.mu.Unlock()

	sys.SafeGo(func() {
		defer func() {
			s.mu.Lock()
			s.populating--
			s.mu.Unlock()
		}()

		for _, id := range queued {
			t, err := s.system.metadata.FetchTrack(ctx, id)
			if err != nil || t == nil {
				sys.LogVoice("Skipping unresolvable track %s: %v", id, err)
				continue
			}
			s.mu.Lock()
			s.queue = append(s.queue, t)
			s.mu.Unlock()
		}
	})
}

func (s *VoiceSession) connect(ctx context.Context, channelID snowflake.ID) error {
	s.mu.Lock()
	if s.connected && s.channelID == channelID && s.conn != nil {
		s.mu.Unlock()
		return nil
	}
	transport := s.system.transport
	s.mu.Unlock()

	if transport == nil {
		return errors.New("voice transport not ready")
	}

	conn := transport.Conn(s.GuildID)
	if err := conn.Open(ctx, channelID); err != nil {
		return err
	}

	s.mu.Lock()
	s.conn = conn
	s.connected = true
	s.channelID = channelID
	s.mu.Unlock()
	return nil
}

// startStream launches the transcoder and the copy loop. At most one stream
// runs per session; a second call while playing is refused.
func (s *VoiceSession) startStream(track *TrackInfo, path string) bool {
	s.mu.Lock()
	if s.playing || s.conn == nil {
		s.mu.Unlock()
		return false
	}
	conn := s.conn
	cmd := s.system.transcode(path)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		s.mu.Unlock()
		return false
	}
	if err := cmd.Start(); err != nil {
		s.mu.Unlock()
		return false
	}
	s.cmd = cmd
	s.playing = true
	s.current = track
	s.mu.Unlock()

	sink, err := conn.OpenSink(context.Background())
	if err != nil {
		sys.LogVoice("Failed to open voice sink for guild %s: %v", s.GuildID, err)
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
		_ = cmd.Wait()
		s.mu.Lock()
		if s.cmd == cmd {
			s.cmd = nil
			s.playing = false
		}
		s.mu.Unlock()
		return false
	}

	s.mu.Lock()
	if s.cmd != cmd {
		// Disconnected while the sink was opening
		s.mu.Unlock()
		_ = sink.Close()
		_ = cmd.Wait()
		return false
	}
	s.sink = sink
	s.mu.Unlock()

	s.addHistory(track.ID)
	sys.LogVoice("Playing %s in guild %s", track.Title, s.GuildID)

	sys.SafeGo(func() {
		_, _ = io.Copy(sink, stdout)
		// Flush and release the sink on every exit path before advancing
		_ = sink.Close()
		_ = cmd.Wait()

		s.mu.Lock()
		s.playing = false
		s.cmd = nil
		s.sink = nil
		s.mu.Unlock()

		s.Next(context.Background())
	})
	return true
}

// Next advances to the next queued track. An empty queue disconnects unless
// autoplay can supply a related track.
func (s *VoiceSession) Next(ctx context.Context) {
	s.mu.Lock()
	if len(s.queue) == 0 {
		autoplay := s.autoplay
		last := s.current
		history := slices.Clone(s.history)
		s.mu.Unlock()

		if autoplay && last != nil && s.system.related != nil {
			if t, err := s.system.related.Related(ctx, last, history); err == nil && t != nil {
				sys.LogVoice("Autoplay picked %s after %s", t.Title, last.Title)
				s.playTrack(ctx, t)
				return
			}
			sys.LogVoice("Autoplay found nothing after %s", last.Title)
		}
		s.Disconnect(ctx)
		return
	}

	track := s.queue[0]
	s.queue = s.queue[1:]
	s.mu.Unlock()

	s.playTrack(ctx, track)
}

func (s *VoiceSession) playTrack(ctx context.Context, track *TrackInfo) {
	path, err := s.system.cache.Fetch(ctx, track.ID).Await(ctx)
	if err != nil || path == "" {
		sys.LogVoice("Failed to fetch %s: %v", track.ID, err)
		return
	}

	s.mu.Lock()
	connected := s.connected
	s.mu.Unlock()
	if !connected {
		return
	}

	s.startStream(track, path)
}

// Skip stops the current track by killing the transcoder; the copy loop's
// cleanup then advances the queue.
func (s *VoiceSession) Skip() FormattedMessage {
	s.mu.Lock()
	var upcoming *TrackInfo
	if len(s.queue) > 0 {
		upcoming = s.queue[0]
	}
	cmd := s.cmd
	s.mu.Unlock()

	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
	return MsgSongSkipped(upcoming)
}

// SetNext resolves the query to exactly one track and puts it at the front
// of the queue. Playlists are rejected.
func (s *VoiceSession) SetNext(ctx context.Context, query string) FormattedMessage {
	ids, err := s.system.resolver.Resolve(ctx, query).Await(ctx)
	if err != nil || len(ids) != 1 {
		return MsgNoResultsFound(query)
	}

	t, err := s.system.metadata.FetchTrack(ctx, ids[0])
	if err != nil || t == nil {
		return MsgNoResultsFound(query)
	}

	s.mu.Lock()
	s.queue = append([]*TrackInfo{t}, s.queue...)
	s.mu.Unlock()
	return MsgNextSongQueued(t)
}

func (s *VoiceSession) Shuffle() FormattedMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	rand.Shuffle(len(s.queue), func(i, j int) { s.queue[i], s.queue[j] = s.queue[j], s.queue[i] })
	return MsgQueueShuffled(len(s.queue))
}

func (s *VoiceSession) Clear() FormattedMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = nil
	return MsgQueueCleared()
}

// Disconnect stops playback, clears the queue and leaves the channel.
func (s *VoiceSession) Disconnect(ctx context.Context) FormattedMessage {
	s.mu.Lock()
	cmd := s.cmd
	conn := s.conn
	sink := s.sink
	s.cmd = nil
	s.conn = nil
	s.sink = nil
	s.connected = false
	s.playing = false
	s.current = nil
	s.queue = nil
	s.channelID = 0
	s.mu.Unlock()

	// Close the sink first so a blocked copy loop unwinds and reaps ffmpeg
	if sink != nil {
		_ = sink.Close()
	}
	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
	if conn != nil {
		conn.Close(ctx)
		sys.LogVoice("Disconnected from guild %s", s.GuildID)
	}
	return MsgDisconnecting()
}

func (s *VoiceSession) Autoplay() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.autoplay
}

func (s *VoiceSession) SetAutoplay(ctx context.Context, enabled bool) FormattedMessage {
	s.mu.Lock()
	s.autoplay = enabled
	s.mu.Unlock()

	if sys.DB != nil {
		if err := sys.SetGuildAutoplay(ctx, s.GuildID, enabled); err != nil {
			sys.LogVoice("Failed to persist autoplay for guild %s: %v", s.GuildID, err)
		}
	}
	return MsgAutoplayToggled(enabled)
}

// QueueSnapshot returns the current track, a copy of the queue and whether a
// background enqueue is still filling it.
func (s *VoiceSession) QueueSnapshot() (*TrackInfo, []*TrackInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var current *TrackInfo
	if s.playing {
		current = s.current
	}
	return current, slices.Clone(s.queue), s.populating > 0
}

func (s *VoiceSession) addHistory(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if slices.Contains(s.history, id) {
		return
	}
	s.history = append(s.history, id)
	if len(s.history) > 50 {
		s.history = s.history[1:]
	}
}

// handleDropped resets session state after the gateway reports the bot gone
// from voice without a local Disconnect.
func (s *VoiceSession) handleDropped() {
	s.mu.Lock()
	cmd := s.cmd
	sink := s.sink
	s.cmd = nil
	s.conn = nil
	s.sink = nil
	s.connected = false
	s.playing = false
	s.current = nil
	s.queue = nil
	s.channelID = 0
	s.mu.Unlock()

	if sink != nil {
		_ = sink.Close()
	}
	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
	sys.LogVoice("Dropped from voice in guild %s", s.GuildID)
}

// onVoiceStateUpdate disconnects the session when the bot is kicked from
// voice or left alone with only bots.
func onVoiceStateUpdate(event *events.GuildVoiceStateUpdate) {
	vm := GetVoiceManager()
	sess := vm.existing(event.VoiceState.GuildID)
	if sess == nil {
		return
	}

	if event.VoiceState.UserID == event.Client().ID() {
		if event.VoiceState.ChannelID == nil {
			sess.handleDropped()
		}
		return
	}

	sess.mu.Lock()
	channelID := sess.channelID
	connected := sess.connected
	sess.mu.Unlock()
	if !connected || channelID == 0 {
		return
	}

	humans := 0
	for state := range event.Client().Caches.VoiceStates(event.VoiceState.GuildID) {
		if state.ChannelID != nil && *state.ChannelID == channelID && state.UserID != event.Client().ID() {
			if m, ok := event.Client().Caches.Member(event.VoiceState.GuildID, state.UserID); !ok || !m.User.Bot {
				humans++
			}
		}
	}

	if humans == 0 {
		sys.LogVoice("Alone in guild %s, disconnecting", event.VoiceState.GuildID)
		sess.Disconnect(context.Background())
	}
}
