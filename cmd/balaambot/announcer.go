package main

import (
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"

	"github.com/wildjames/BalaamBot/internal/cache"
	"github.com/wildjames/BalaamBot/internal/player"
)

// channelAnnouncer posts playback notifications to a Discord text channel.
// Without a session or channel it degrades to log-only, so the pipeline
// behaves the same in headless runs.
type channelAnnouncer struct {
	session   *discordgo.Session
	channelID string
}

var _ player.Announcer = (*channelAnnouncer)(nil)

func newAnnouncer(session *discordgo.Session, channelID string) *channelAnnouncer {
	return &channelAnnouncer{session: session, channelID: channelID}
}

func (a *channelAnnouncer) NowPlaying(sessionID string, meta cache.TrackMetadata) {
	msg := "Now playing a new track."
	if meta.Title != "" {
		msg = fmt.Sprintf("Now playing: **%s** [%s]", meta.Title, meta.RuntimeDisplay)
	}
	slog.Info("now playing", "session", sessionID, "title", meta.Title, "url", meta.URL)
	a.post(msg)
}

func (a *channelAnnouncer) QueueFinished(sessionID string) {
	slog.Info("queue finished", "session", sessionID)
	a.post("Queue finished.")
}

func (a *channelAnnouncer) PlaybackError(sessionID, sourceID string, err error) {
	slog.Error("playback failed", "session", sessionID, "source", sourceID, "err", err)
	a.post(fmt.Sprintf("Playback of <%s> failed; the queue was cleared.", sourceID))
}

func (a *channelAnnouncer) post(msg string) {
	if a.session == nil || a.channelID == "" {
		return
	}
	if _, err := a.session.ChannelMessageSend(a.channelID, msg); err != nil {
		slog.Warn("announcement send failed", "channel", a.channelID, "err", err)
	}
}
