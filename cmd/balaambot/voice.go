package main

import (
	"context"
	"log/slog"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/wildjames/BalaamBot/internal/player"
	"github.com/wildjames/BalaamBot/internal/sfx"
	voice "github.com/wildjames/BalaamBot/pkg/audio/discord"
)

// voiceManager owns the bot's voice connections. A session is keyed by
// guild ID: one guild, one mixer, one voice connection.
type voiceManager struct {
	platform  *voice.Platform
	registry  *player.Registry
	scheduler *sfx.Scheduler

	mu    sync.Mutex
	conns map[string]*voice.Connection
}

func newVoiceManager(platform *voice.Platform, registry *player.Registry, scheduler *sfx.Scheduler) *voiceManager {
	return &voiceManager{
		platform:  platform,
		registry:  registry,
		scheduler: scheduler,
		conns:     make(map[string]*voice.Connection),
	}
}

// Join connects to the voice channel and starts streaming the guild's mixer
// into it. Joining a guild that already has a connection moves it: the old
// connection is torn down first.
func (v *voiceManager) Join(ctx context.Context, guildID, channelID string) error {
	v.mu.Lock()
	old := v.conns[guildID]
	delete(v.conns, guildID)
	v.mu.Unlock()
	if old != nil {
		old.Disconnect()
	}

	conn, err := v.platform.Connect(ctx, guildID, channelID, v.registry.Get(guildID))
	if err != nil {
		return err
	}

	v.mu.Lock()
	v.conns[guildID] = conn
	v.mu.Unlock()

	slog.Info("joined voice channel", "guild", guildID, "channel", channelID)
	return nil
}

// Leave disconnects the guild's voice connection and tears down its session
// state: effect jobs stop and the mixer is released.
func (v *voiceManager) Leave(guildID string) {
	v.mu.Lock()
	conn, ok := v.conns[guildID]
	delete(v.conns, guildID)
	v.mu.Unlock()

	if ok {
		conn.Disconnect()
	}
	v.scheduler.StopSession(guildID)
	v.registry.Release(guildID)
}

// Close disconnects every guild.
func (v *voiceManager) Close() {
	v.mu.Lock()
	guilds := make([]string, 0, len(v.conns))
	for id := range v.conns {
		guilds = append(guilds, id)
	}
	v.mu.Unlock()

	for _, id := range guilds {
		v.Leave(id)
	}
}

// HandleVoiceState reacts to the bot's own voice state: when it is kicked
// or disconnected from a channel by a moderator, the session's jobs and
// mixer are cleaned up so they do not play into the void.
func (v *voiceManager) HandleVoiceState(s *discordgo.Session, vs *discordgo.VoiceStateUpdate) {
	if s.State == nil || s.State.User == nil || vs.UserID != s.State.User.ID {
		return
	}
	if vs.ChannelID != "" {
		return
	}

	v.mu.Lock()
	_, ok := v.conns[vs.GuildID]
	v.mu.Unlock()
	if !ok {
		return
	}

	slog.Warn("removed from voice channel, releasing session", "guild", vs.GuildID)
	v.Leave(vs.GuildID)
}
