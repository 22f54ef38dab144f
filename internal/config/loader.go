package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// TokenEnvVar is the environment variable consulted for the Discord bot
// token when discord.token is not set in the config file.
const TokenEnvVar = "DISCORD_API_TOKEN"

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader] and
// [Validate], with the addition of the [TokenEnvVar] fallback.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	if cfg.Discord.Token == "" {
		cfg.Discord.Token = os.Getenv(TokenEnvVar)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.Audio.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d is negative", cfg.Audio.SampleRate))
	}
	if cfg.Audio.Channels < 0 || cfg.Audio.Channels > 2 {
		errs = append(errs, fmt.Errorf("audio.channels %d is out of range [0, 2]", cfg.Audio.Channels))
	}
	if cfg.Audio.NormApproach != "" && !cfg.Audio.NormApproach.IsValid() {
		errs = append(errs, fmt.Errorf("audio.norm_approach %q is invalid; valid values: max, stddev", cfg.Audio.NormApproach))
	}
	if cfg.Audio.SampleRate != 0 && cfg.Audio.SampleRate != 48000 {
		slog.Warn("audio.sample_rate differs from the 48kHz Discord expects; voice output may sound wrong",
			"sample_rate", cfg.Audio.SampleRate)
	}

	if cfg.Fetch.Timeout < 0 {
		errs = append(errs, fmt.Errorf("fetch.timeout %s is negative", cfg.Fetch.Timeout))
	}
	if cfg.Queue.Lookahead < 0 {
		errs = append(errs, fmt.Errorf("queue.lookahead %d is negative", cfg.Queue.Lookahead))
	}

	for i, job := range cfg.SFX.Ambient {
		if job.Name == "" {
			errs = append(errs, fmt.Errorf("sfx.ambient[%d].name is empty", i))
		}
		if job.MinInterval < 0 || job.MaxInterval < job.MinInterval {
			errs = append(errs, fmt.Errorf("sfx.ambient[%d] interval range [%s, %s] is invalid",
				i, job.MinInterval, job.MaxInterval))
		}
	}

	if cfg.Discord.Token == "" && os.Getenv(TokenEnvVar) == "" {
		slog.Warn("no Discord token configured; set discord.token or " + TokenEnvVar)
	}
	if cfg.Metadata.PostgresDSN == "" {
		slog.Warn("metadata.postgres_dsn is empty; track metadata will live only in the on-disk cache")
	}

	return errors.Join(errs...)
}
