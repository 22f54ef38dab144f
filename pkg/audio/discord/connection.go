package discord

import (
	"log/slog"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/wildjames/BalaamBot/pkg/audio"
)

// Connection wraps a joined discordgo.VoiceConnection and streams a PCM
// frame source into it. A background sender loop pulls one frame per 20 ms
// tick, encodes it to Opus, and transmits it; the Discord speaking
// indicator tracks whether the source is currently audible.
//
// Connection is safe for concurrent use.
type Connection struct {
	vc     *discordgo.VoiceConnection
	source audio.FrameSource

	done      chan struct{}
	closeOnce sync.Once

	// disconnectVC tears down the voice connection during Disconnect.
	// Defaults to vc.Disconnect; overridden in tests.
	disconnectVC func() error

	// setSpeaking toggles the Discord speaking indicator.
	// Defaults to vc.Speaking; overridden in tests.
	setSpeaking func(bool) error
}

// newConnection starts the sender loop for an already-joined voice channel.
func newConnection(vc *discordgo.VoiceConnection, source audio.FrameSource) (*Connection, error) {
	c := &Connection{
		vc:           vc,
		source:       source,
		done:         make(chan struct{}),
		disconnectVC: vc.Disconnect,
		setSpeaking:  vc.Speaking,
	}
	go c.sendLoop()
	return c, nil
}

// ChannelID returns the voice channel this connection is joined to.
func (c *Connection) ChannelID() string {
	return c.vc.ChannelID
}

// Disconnect stops the sender loop and leaves the voice channel. It is safe
// to call more than once; subsequent calls return nil.
func (c *Connection) Disconnect() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		if c.disconnectVC != nil {
			err = c.disconnectVC()
		}
	})
	return err
}

// sendLoop ticks every frame duration, pulls a frame from the source, and
// ships it to Discord as Opus. Silent frames are not transmitted; Discord
// treats the gap as silence, and the speaking indicator is cleared for the
// quiet stretch.
func (c *Connection) sendLoop() {
	enc, err := newOpusEncoder()
	if err != nil {
		slog.Error("discord: failed to create opus encoder", "err", err)
		return
	}

	ticker := time.NewTicker(audio.FrameDuration)
	defer ticker.Stop()

	speaking := false
	for {
		select {
		case <-c.done:
			if speaking {
				c.speak(false)
			}
			return
		case <-ticker.C:
			frame := c.source.Read()
			audible := !isSilence(frame)
			if audible != speaking {
				c.speak(audible)
				speaking = audible
			}
			if !audible {
				continue
			}

			pkt, err := enc.encode(frame)
			if err != nil {
				slog.Warn("discord: opus encode error", "err", err)
				continue
			}
			select {
			case c.vc.OpusSend <- pkt:
			case <-c.done:
				return
			}
		}
	}
}

// speak toggles the speaking indicator, logging any transport errors.
func (c *Connection) speak(on bool) {
	if err := c.setSpeaking(on); err != nil {
		slog.Warn("discord: speaking notification error", "speaking", on, "err", err)
	}
}

// isSilence reports whether every sample in the frame is zero.
func isSilence(frame []byte) bool {
	for _, b := range frame {
		if b != 0 {
			return false
		}
	}
	return true
}
