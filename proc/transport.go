package proc

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/voice"
	"github.com/disgoorg/snowflake/v2"
)

// Conn is a voice connection to one guild.
type Conn interface {
	// Open joins the given voice channel.
	Open(ctx context.Context, channelID snowflake.ID) error
	// OpenSink returns a writer accepting an Ogg/Opus stream. Closing the
	// sink stops transmission; it is safe to close more than once.
	OpenSink(ctx context.Context) (io.WriteCloser, error)
	// Close leaves the channel and releases the connection.
	Close(ctx context.Context)
}

// Transport creates voice connections.
type Transport interface {
	Conn(guildID snowflake.ID) Conn
}

type discordTransport struct {
	client bot.Client
}

// NewDiscordTransport wraps the gateway client's voice manager.
func NewDiscordTransport(client bot.Client) Transport {
	return &discordTransport{client: client}
}

func (t *discordTransport) Conn(guildID snowflake.ID) Conn {
	return &discordConn{conn: t.client.VoiceManager.CreateConn(guildID)}
}

type discordConn struct {
	conn voice.Conn
}

func (c *discordConn) Open(ctx context.Context, channelID snowflake.ID) error {
	openCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()
	return c.conn.Open(openCtx, channelID, false, false)
}

func (c *discordConn) OpenSink(ctx context.Context) (io.WriteCloser, error) {
	pr, pw := io.Pipe()
	provider := NewStreamProvider(pr)

	c.conn.SetOpusFrameProvider(provider)
	c.conn.SetSpeaking(ctx, voice.SpeakingFlagMicrophone)

	return &voiceSink{pw: pw, conn: c.conn}, nil
}

func (c *discordConn) Close(ctx context.Context) {
	c.conn.Close(ctx)
}

// voiceSink feeds the Ogg parser until closed, then clears the frame
// provider and the speaking flag.
type voiceSink struct {
	pw   *io.PipeWriter
	conn voice.Conn
	once sync.Once
}

func (s *voiceSink) Write(p []byte) (int, error) {
	return s.pw.Write(p)
}

func (s *voiceSink) Close() error {
	s.once.Do(func() {
		_ = s.pw.Close()
		// Give the frame provider a moment to drain buffered pages
		time.Sleep(100 * time.Millisecond)
		s.conn.SetOpusFrameProvider(nil)
		s.conn.SetSpeaking(context.TODO(), 0)
	})
	return nil
}
