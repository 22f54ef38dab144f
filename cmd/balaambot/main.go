// Command balaambot is the main entry point for the BalaamBot music and
// soundboard server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"

	"github.com/wildjames/BalaamBot/internal/cache"
	"github.com/wildjames/BalaamBot/internal/config"
	"github.com/wildjames/BalaamBot/internal/fetch"
	"github.com/wildjames/BalaamBot/internal/health"
	"github.com/wildjames/BalaamBot/internal/observe"
	"github.com/wildjames/BalaamBot/internal/player"
	"github.com/wildjames/BalaamBot/internal/queue"
	"github.com/wildjames/BalaamBot/internal/sfx"
	"github.com/wildjames/BalaamBot/pkg/audio"
	voice "github.com/wildjames/BalaamBot/pkg/audio/discord"
	"github.com/wildjames/BalaamBot/pkg/audio/mixer"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "balaambot: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "balaambot: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	// The level lives in a LevelVar so the config watcher can adjust it at
	// runtime without swapping the handler.
	level := new(slog.LevelVar)
	level.Set(slogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	slog.Info("balaambot starting",
		"config", *configPath,
		"log_level", cfg.Server.LogLevel,
		"metrics_addr", cfg.Server.MetricsAddr,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "balaambot"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	metrics, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		slog.Error("failed to create metrics", "err", err)
		return 1
	}

	// ── Audio format ──────────────────────────────────────────────────────────
	format := audio.DefaultFormat()
	if cfg.Audio.SampleRate > 0 {
		format.SampleRate = cfg.Audio.SampleRate
	}
	if cfg.Audio.Channels > 0 {
		format.Channels = cfg.Audio.Channels
	}

	// ── Cache + metadata store ────────────────────────────────────────────────
	cacheDir := cfg.Cache.Dir
	if cacheDir == "" {
		cacheDir = "audio_cache"
	}
	store, err := cache.NewStore(cacheDir)
	if err != nil {
		slog.Error("failed to create audio cache", "err", err)
		return 1
	}

	var (
		meta cache.MetadataStore
		pool *pgxpool.Pool
	)
	if dsn := cfg.Metadata.PostgresDSN; dsn != "" {
		pool, err = pgxpool.New(ctx, dsn)
		if err != nil {
			slog.Error("failed to connect to metadata database", "err", err)
			return 1
		}
		defer pool.Close()

		pg := cache.NewPostgresMetadataStore(pool)
		if err := pg.Migrate(ctx); err != nil {
			slog.Error("failed to migrate metadata schema", "err", err)
			return 1
		}
		meta = pg
		slog.Info("shared metadata store connected")
	}

	// ── Fetch pipeline ────────────────────────────────────────────────────────
	breaker := fetch.NewBreaker(0, 0)
	fetcher := &fetch.YtdlpFetcher{
		Bin:        cfg.Fetch.YtdlpPath,
		CookieFile: cfg.Fetch.CookieFile,
		Timeout:    cfg.Fetch.Timeout,
	}
	transcoder := &fetch.FFmpegTranscoder{
		Bin:     cfg.Fetch.FFmpegPath,
		Timeout: cfg.Fetch.Timeout,
	}
	coord := fetch.NewCoordinator(fetch.CoordinatorConfig{
		Store:           store,
		Metadata:        meta,
		Fetcher:         fetcher,
		Transcoder:      transcoder,
		MetadataFetcher: fetcher,
		Format:          format,
		Breaker:         breaker,
		Metrics:         metrics,
	})

	// ── Playback core ─────────────────────────────────────────────────────────
	mixOpts := []mixer.Option{mixer.WithFormat(format)}
	if cfg.Audio.Normalise {
		approach := mixer.NormMax
		if cfg.Audio.NormApproach == config.NormStdDev {
			approach = mixer.NormStdDev
		}
		mixOpts = append(mixOpts, mixer.WithNormalisation(approach))
	}
	registry := player.NewRegistry(metrics, mixOpts...)
	playbackQueue := queue.New(metrics)

	// ── Discord session ───────────────────────────────────────────────────────
	var dg *discordgo.Session
	if cfg.Discord.Token != "" {
		dg, err = discordgo.New("Bot " + cfg.Discord.Token)
		if err != nil {
			slog.Error("failed to create Discord session", "err", err)
			return 1
		}
		dg.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildVoiceStates
		if err := dg.Open(); err != nil {
			slog.Error("failed to open Discord session", "err", err)
			return 1
		}
		defer dg.Close()
		slog.Info("discord session opened")
	}

	driver, err := player.NewDriver(player.DriverConfig{
		Queue:     playbackQueue,
		Registry:  registry,
		Source:    coord,
		Announcer: newAnnouncer(dg, cfg.Discord.TextChannelID),
		Lookahead: cfg.Queue.Lookahead,
		Metrics:   metrics,
	})
	if err != nil {
		slog.Error("failed to create playback driver", "err", err)
		return 1
	}
	defer driver.Close()

	// ── Sound effects ─────────────────────────────────────────────────────────
	sfxDir := cfg.SFX.Dir
	if sfxDir == "" {
		sfxDir = "sfx"
	}
	library := sfx.NewLibrary(sfxDir, transcoder, format)
	scheduler := sfx.NewScheduler(sfx.RegistryMixers{Registry: registry}, library)
	defer scheduler.Close()

	// ── Operational HTTP: /metrics, /healthz, /readyz ─────────────────────────
	var opsServer *http.Server
	if cfg.Server.MetricsAddr != "" {
		checkers := []health.Checker{
			health.CacheDir(cacheDir),
			health.Tool("yt-dlp", orDefault(cfg.Fetch.YtdlpPath, "yt-dlp")),
			health.Tool("ffmpeg", orDefault(cfg.Fetch.FFmpegPath, "ffmpeg")),
			health.Downloader(breaker),
		}
		if pool != nil {
			checkers = append(checkers, health.Database(pool))
		}

		mux := http.NewServeMux()
		mux.Handle("GET /metrics", promhttp.Handler())
		health.New(checkers...).Register(mux)

		opsServer = &http.Server{Addr: cfg.Server.MetricsAddr, Handler: mux}
		go func() {
			slog.Info("ops endpoint listening", "addr", cfg.Server.MetricsAddr)
			if err := opsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("ops endpoint error", "err", err)
			}
		}()
	}

	// ── Voice connection + autoplay ───────────────────────────────────────────
	var vm *voiceManager
	if dg != nil {
		vm = newVoiceManager(voice.New(dg), registry, scheduler)
		dg.AddHandler(vm.HandleVoiceState)

		if cfg.Discord.GuildID != "" && cfg.Discord.VoiceChannelID != "" {
			if err := vm.Join(ctx, cfg.Discord.GuildID, cfg.Discord.VoiceChannelID); err != nil {
				slog.Error("failed to join voice channel", "err", err)
				return 1
			}

			for _, job := range cfg.SFX.Ambient {
				if _, err := scheduler.Add(ctx, cfg.Discord.GuildID, job.Name, job.MinInterval, job.MaxInterval); err != nil {
					slog.Warn("skipping ambient effect", "effect", job.Name, "err", err)
				}
			}
			if len(cfg.Queue.Autoplay) > 0 {
				go func() {
					if err := driver.Play(ctx, cfg.Discord.GuildID, cfg.Queue.Autoplay, false); err != nil {
						slog.Error("autoplay failed", "err", err)
					}
				}()
			}
		}
	}

	// ── Config watcher ────────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		d := config.Diff(old, new)
		if d.LogLevelChanged {
			level.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level changed", "log_level", d.NewLogLevel)
		}
		if len(d.RestartNeeded) > 0 {
			slog.Warn("config sections changed; restart to apply", "sections", d.RestartNeeded)
		}
	})
	if err != nil {
		slog.Error("failed to start config watcher", "err", err)
		return 1
	}
	defer watcher.Stop()

	slog.Info("server ready — press Ctrl+C to shut down")
	<-ctx.Done()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutdown signal received, stopping…")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	scheduler.Close()
	driver.Close()
	if vm != nil {
		vm.Close()
	}
	if opsServer != nil {
		if err := opsServer.Shutdown(shutdownCtx); err != nil {
			slog.Warn("ops endpoint shutdown error", "err", err)
		}
	}
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown error", "err", err)
	}
	slog.Info("goodbye")
	return 0
}

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func orDefault(s, fallback string) string {
	if s != "" {
		return s
	}
	return fallback
}
