package config

import (
	"slices"
	"testing"
)

func TestDiffNoChanges(t *testing.T) {
	t.Parallel()

	a := &Config{Server: ServerConfig{LogLevel: LogInfo}}
	b := &Config{Server: ServerConfig{LogLevel: LogInfo}}
	if d := Diff(a, b); d.Changed() {
		t.Errorf("Diff reported changes for identical configs: %+v", d)
	}
}

func TestDiffLogLevel(t *testing.T) {
	t.Parallel()

	a := &Config{Server: ServerConfig{LogLevel: LogInfo}}
	b := &Config{Server: ServerConfig{LogLevel: LogDebug}}

	d := Diff(a, b)
	if !d.LogLevelChanged || d.NewLogLevel != LogDebug {
		t.Errorf("Diff = %+v, want LogLevelChanged with debug", d)
	}
	if len(d.RestartNeeded) != 0 {
		t.Errorf("log level change flagged restart sections %v", d.RestartNeeded)
	}
}

func TestDiffSliceSections(t *testing.T) {
	t.Parallel()

	a := &Config{}
	b := &Config{
		Queue: QueueConfig{Autoplay: []string{"https://example.com/a"}},
		SFX:   SFXConfig{Ambient: []AmbientJob{{Name: "crickets"}}},
	}

	d := Diff(a, b)
	want := []string{"queue", "sfx"}
	if !slices.Equal(d.RestartNeeded, want) {
		t.Errorf("RestartNeeded = %v, want %v", d.RestartNeeded, want)
	}
}

func TestDiffRestartSections(t *testing.T) {
	t.Parallel()

	a := &Config{}
	b := &Config{
		Discord: DiscordConfig{Token: "new"},
		Audio:   AudioConfig{Normalise: true},
		Queue:   QueueConfig{Lookahead: 7},
	}

	d := Diff(a, b)
	want := []string{"discord", "audio", "queue"}
	if !slices.Equal(d.RestartNeeded, want) {
		t.Errorf("RestartNeeded = %v, want %v", d.RestartNeeded, want)
	}
	if !d.Changed() {
		t.Error("Changed() = false with restart sections present")
	}
}
