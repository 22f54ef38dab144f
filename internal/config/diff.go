package config

import "slices"

// ConfigDiff describes what changed between two loaded configs. Only the
// log level can be applied to a running server; every other change is
// reported in RestartNeeded so the operator knows a restart is due.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// RestartNeeded lists the config sections whose changes only take
	// effect after a restart.
	RestartNeeded []string
}

// Changed reports whether the diff contains any change at all.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || len(d.RestartNeeded) > 0
}

// Diff compares old and new configs and returns what changed. Sections are
// compared wholesale where the structs allow it.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Server.MetricsAddr != new.Server.MetricsAddr {
		d.RestartNeeded = append(d.RestartNeeded, "server.metrics_addr")
	}
	if old.Discord != new.Discord {
		d.RestartNeeded = append(d.RestartNeeded, "discord")
	}
	if old.Audio != new.Audio {
		d.RestartNeeded = append(d.RestartNeeded, "audio")
	}
	if old.Cache != new.Cache {
		d.RestartNeeded = append(d.RestartNeeded, "cache")
	}
	if old.Fetch != new.Fetch {
		d.RestartNeeded = append(d.RestartNeeded, "fetch")
	}
	if old.Queue.Lookahead != new.Queue.Lookahead || !slices.Equal(old.Queue.Autoplay, new.Queue.Autoplay) {
		d.RestartNeeded = append(d.RestartNeeded, "queue")
	}
	if old.SFX.Dir != new.SFX.Dir || !slices.Equal(old.SFX.Ambient, new.SFX.Ambient) {
		d.RestartNeeded = append(d.RestartNeeded, "sfx")
	}
	if old.Metadata != new.Metadata {
		d.RestartNeeded = append(d.RestartNeeded, "metadata")
	}
	return d
}
