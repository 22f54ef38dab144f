// Package discord plays a PCM frame source into a Discord voice channel via
// the bwmarrin/discordgo library. It bridges the mixer's 48 kHz stereo PCM
// frames to Discord's Opus-based voice transport.
//
// The platform requires an active *discordgo.Session (owned by the bot
// layer). Each call to [Platform.Connect] joins a voice channel and returns
// a [Connection] whose sender loop pulls one frame per 20 ms tick from the
// supplied source.
package discord

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"github.com/wildjames/BalaamBot/pkg/audio"
)

// Platform joins Discord voice channels. It is safe for concurrent use.
type Platform struct {
	session *discordgo.Session
}

// New creates a Platform for the given session.
func New(session *discordgo.Session) *Platform {
	return &Platform{session: session}
}

// Connect joins the voice channel and returns an active [Connection]
// streaming from source. The supplied ctx governs the connection-setup
// phase only; once the Connection is returned it lives until
// [Connection.Disconnect] is called.
//
// The bot joins unmuted but deafened: playback is send-only.
func (p *Platform) Connect(ctx context.Context, guildID, channelID string, source audio.FrameSource) (*Connection, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("discord: connect: %w", err)
	}

	vc, err := p.session.ChannelVoiceJoin(guildID, channelID, false, true)
	if err != nil {
		return nil, fmt.Errorf("discord: join voice channel %q: %w", channelID, err)
	}

	conn, err := newConnection(vc, source)
	if err != nil {
		_ = vc.Disconnect()
		return nil, fmt.Errorf("discord: create connection: %w", err)
	}
	return conn, nil
}
