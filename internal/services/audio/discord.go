package audio

import (
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/jonas747/dca"
)

// DiscordDialer joins voice channels through a discordgo session.
type DiscordDialer struct {
	session      *discordgo.Session
	readyTimeout time.Duration
}

func NewDiscordDialer(session *discordgo.Session, readyTimeout time.Duration) *DiscordDialer {
	return &DiscordDialer{session: session, readyTimeout: readyTimeout}
}

// Dial joins muted=false, deafened=true and waits until the connection
// reports ready.
func (d *DiscordDialer) Dial(guildID, channelID string) (Conn, error) {
	vc, err := d.session.ChannelVoiceJoin(guildID, channelID, false, true)
	if err != nil {
		return nil, fmt.Errorf("failed to join voice channel: %w", err)
	}

	conn := &discordConn{vc: vc}
	deadline := time.Now().Add(d.readyTimeout)
	for !conn.Ready() {
		if time.Now().After(deadline) {
			_ = vc.Disconnect()
			return nil, fmt.Errorf("voice connection failed to become ready")
		}
		time.Sleep(100 * time.Millisecond)
	}
	return conn, nil
}

type discordConn struct {
	vc *discordgo.VoiceConnection
}

func (c *discordConn) ChannelID() string {
	c.vc.RLock()
	defer c.vc.RUnlock()
	return c.vc.ChannelID
}

func (c *discordConn) Ready() bool {
	c.vc.RLock()
	defer c.vc.RUnlock()
	return c.vc.Ready
}

func (c *discordConn) Speaking(b bool) error {
	return c.vc.Speaking(b)
}

func (c *discordConn) Disconnect() error {
	return c.vc.Disconnect()
}

// DCAEncoder pipes sources through ffmpeg into opus frames.
type DCAEncoder struct {
	options *dca.EncodeOptions
}

// NewDCAEncoder copies options so later changes by the caller have no effect.
func NewDCAEncoder(options *dca.EncodeOptions) *DCAEncoder {
	if options == nil {
		options = dca.StdEncodeOptions
	}
	opts := *options
	return &DCAEncoder{options: &opts}
}

func (e *DCAEncoder) Start(conn Conn, source string) (Stream, error) {
	dc, ok := conn.(*discordConn)
	if !ok {
		return nil, fmt.Errorf("unsupported connection type %T", conn)
	}

	opts := *e.options
	encoder, err := dca.EncodeFile(source, &opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create encoder: %w", err)
	}

	done := make(chan error, 1)
	stream := dca.NewStream(encoder, dc.vc, done)
	return &dcaStream{encoder: encoder, stream: stream, done: done}, nil
}

type dcaStream struct {
	encoder *dca.EncodeSession
	stream  *dca.StreamingSession
	done    chan error
}

func (s *dcaStream) SetPaused(paused bool) {
	s.stream.SetPaused(paused)
}

func (s *dcaStream) Stop() {
	_ = s.encoder.Stop()
	s.encoder.Cleanup()
}

func (s *dcaStream) Done() <-chan error {
	return s.done
}
