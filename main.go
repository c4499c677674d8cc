package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"songbird/config"
	"songbird/internal/services/audio"
	"songbird/internal/services/display"
	"songbird/internal/services/lyrics"
	"songbird/internal/services/player"
	"songbird/internal/services/queue"
	"songbird/internal/services/source"
	"songbird/pkg/dependency"
	"songbird/pkg/logger"
	"songbird/pkg/metrics"

	"github.com/bwmarrin/discordgo"
	"github.com/spf13/cobra"
)

// Version information (set during build)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCommand().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	run := func(cmd *cobra.Command, _ []string) error {
		return runBot(cmd.Context())
	}

	root := &cobra.Command{
		Use:          "songbird",
		Short:        "Discord music bot with live progress and synced lyrics",
		SilenceUsage: true,
		RunE:         run,
	}
	root.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "Connect to Discord and start serving commands",
			RunE:  run,
		},
		&cobra.Command{
			Use:   "doctor",
			Short: "Check external dependencies and configuration",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runDoctor(cmd.Context(), cmd.OutOrStdout())
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "songbird %s (commit %s, built %s)\n", Version, GitCommit, BuildTime)
			},
		},
	)
	return root
}

// runDoctor prints the dependency report and validates the configuration.
func runDoctor(ctx context.Context, out io.Writer) error {
	report := dependency.ValidateEnvironment(ctx, dependency.NewChecker(10*time.Second), dependency.SystemDependencies())
	fmt.Fprintln(out, report.GenerateReport())

	cfg, cfgErr := config.LoadConfig()
	if cfgErr != nil {
		fmt.Fprintf(out, "Configuration: %v\n", cfgErr)
	} else {
		fmt.Fprintf(out, "Configuration: OK (prefix %q, token %s)\n", cfg.Discord.CommandPrefix, cfg.GetRedactedToken())
	}

	if !report.IsHealthy() {
		return fmt.Errorf("required dependencies are missing: %v", report.RequiredMissing)
	}
	return cfgErr
}

// Application wires the services to the Discord session.
type Application struct {
	config  *config.Config
	log     *logger.Logger
	metrics *metrics.Metrics

	session  *discordgo.Session
	voice    *audio.Manager
	youtube  *source.YouTubeResolver
	player   *player.Player
	driver   *display.Driver
	errors   *ErrorHandler
	commands *CommandRouter
}

func runBot(ctx context.Context) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	appLogger, err := logger.New(logger.Config{
		Level:         cfg.Logging.Level,
		File:          cfg.Logging.OutputFile,
		MaxSizeMB:     cfg.Logging.MaxFileSizeMB,
		MaxBackups:    cfg.Logging.MaxBackups,
		MaxAgeDays:    cfg.Logging.MaxAgeDays,
		Compress:      cfg.Logging.Compress,
		EnableConsole: cfg.Logging.EnableConsole,
		EnableJSON:    cfg.Logging.EnableJSON,
		EnableStack:   cfg.Logging.EnableStackTrace,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger.SetDefault(appLogger)

	appLogger.LogStartup(Version)
	appLogger.LogConfiguration(cfg.Summary())

	report := dependency.ValidateEnvironment(ctx, dependency.NewChecker(10*time.Second), dependency.SystemDependencies())
	appLogger.Info("Dependency check completed", logger.Fields{
		"severity":         report.Severity,
		"required_missing": report.RequiredMissing,
		"optional_missing": report.OptionalMissing,
	})
	if !report.IsHealthy() {
		fmt.Println(report.GenerateReport())
		return fmt.Errorf("required dependencies are missing: %v", report.RequiredMissing)
	}

	m := metrics.Global()
	if !cfg.Features.EnableMetrics {
		m.Disable()
	}

	app := &Application{config: cfg, log: appLogger, metrics: m}
	if err := app.initialize(ctx, report.Has("yt-dlp")); err != nil {
		appLogger.Error("Failed to initialize application", err)
		return err
	}
	if err := app.start(ctx); err != nil {
		appLogger.Error("Failed to start application", err)
		return err
	}

	<-ctx.Done()
	appLogger.Info("Shutdown signal received")
	app.shutdown()
	appLogger.LogShutdown("signal received", true)
	return nil
}

func (app *Application) initialize(ctx context.Context, ytdlpAvailable bool) error {
	cfg := app.config

	session, err := discordgo.New("Bot " + cfg.Discord.Token)
	if err != nil {
		return fmt.Errorf("failed to create Discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentGuilds |
		discordgo.IntentGuildMessages |
		discordgo.IntentGuildVoiceStates |
		discordgo.IntentMessageContent
	app.session = session

	if err := os.MkdirAll(cfg.Cache.TempDirectory, 0o755); err != nil {
		return fmt.Errorf("failed to create temp directory: %w", err)
	}

	app.voice = audio.NewManager(
		audio.Config{ConnectTimeout: cfg.Audio.ConnectTimeout},
		audio.NewDiscordDialer(session, cfg.Audio.ConnectTimeout),
		audio.NewDCAEncoder(cfg.DCAOptions()),
		app.log, app.metrics,
	)

	if cfg.YouTube.EnableFallback && !ytdlpAvailable {
		app.log.Warn("yt-dlp not found, YouTube fallback disabled")
	}
	app.youtube, err = source.NewYouTubeResolver(ctx, source.YouTubeConfig{
		TempDir:        cfg.Cache.TempDirectory,
		APIKey:         cfg.YouTube.APIKey,
		RequestTimeout: cfg.YouTube.RequestTimeout,
		EnableYtDlp:    cfg.YouTube.EnableFallback && ytdlpAvailable,
		AudioQuality:   cfg.YouTube.AudioQuality,
	}, app.log)
	if err != nil {
		return fmt.Errorf("failed to create YouTube resolver: %w", err)
	}
	catbox := source.NewCatboxResolver(source.CatboxConfig{
		Host:          cfg.Catbox.Host,
		Timeout:       cfg.Catbox.Timeout,
		ProbeMetadata: cfg.Catbox.ProbeMetadata,
		ProbeBytes:    cfg.Catbox.ProbeBytes,
	}, nil, app.log)
	sources := source.NewRegistry(app.log, app.metrics, app.youtube, catbox)

	app.player = player.New(player.Config{QueueMaxSize: cfg.Queue.MaxSize}, app.voice, sources, app.log, app.metrics)

	var lyr display.Lyrics
	if cfg.Features.EnableLyrics {
		client := lyrics.NewClient(cfg.Lyrics.SearchURL, cfg.Lyrics.LyricsURL, cfg.Lyrics.Timeout, app.log)
		svc, err := lyrics.NewService(client, cfg.Lyrics.CacheSize, app.log, app.metrics)
		if err != nil {
			return fmt.Errorf("failed to create lyrics service: %w", err)
		}
		lyr = svc
	}
	app.driver = display.NewDriver(display.Config{
		UpdateInterval:   cfg.Display.UpdateInterval,
		MaxUpdates:       cfg.Display.MaxUpdates,
		BarLength:        cfg.Display.BarLength,
		RateLimitBackoff: cfg.Display.RateLimitBackoff,
		MaxLyricLength:   cfg.Display.MaxLyricLength,
		MissedLines:      cfg.Display.MissedLyricLines,
	}, app.player, lyr, app.log, app.metrics)

	app.errors = NewErrorHandler(session, app.log, app.metrics)
	app.commands = NewCommandRouter(ctx, RouterConfig{
		Prefix:           cfg.Discord.CommandPrefix,
		QueueLimit:       cfg.Queue.DisplayLimit,
		BarLength:        cfg.Display.BarLength,
		ProgressInterval: cfg.Display.ProgressEditInterval,
		EmbedColor:       cfg.Discord.EmbedColor,
	}, session, app.player, app.errors, app.log, app.metrics)

	app.player.SetEvents(player.Events{
		OnSongStart:  app.onSongStart,
		OnSongFailed: app.onSongFailed,
		OnIdle:       app.onIdle,
	})
	app.setupDiscordHandlers()

	app.log.Info("Application initialized")
	return nil
}

func (app *Application) setupDiscordHandlers() {
	app.session.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
		app.log.Info("Discord bot ready", logger.Fields{
			"username":    r.User.Username,
			"bot_id":      r.User.ID,
			"guild_count": len(r.Guilds),
		})
		if err := s.UpdateListeningStatus(app.config.Discord.CommandPrefix + " help"); err != nil {
			app.log.Warn("Failed to set bot status", logger.Fields{"error": err.Error()})
		}
	})

	app.session.AddHandler(func(_ *discordgo.Session, g *discordgo.GuildCreate) {
		app.log.Info("Joined guild", logger.Fields{"guild_id": g.ID, "guild_name": g.Name})
		app.metrics.RecordGuildAction("join", g.ID)
	})

	app.session.AddHandler(func(_ *discordgo.Session, g *discordgo.GuildDelete) {
		app.log.Info("Left guild", logger.Fields{"guild_id": g.ID})
		app.metrics.RecordGuildAction("leave", g.ID)
		if err := app.player.Stop(g.ID); err == nil {
			app.log.WithGuild(g.ID).Info("Stopped playback for removed guild")
		}
	})

	app.session.AddHandler(app.commands.HandleMessage)

	app.session.AddHandler(func(_ *discordgo.Session, _ *discordgo.Disconnect) {
		app.log.Warn("Discord gateway disconnected")
	})
}

func (app *Application) start(ctx context.Context) error {
	if err := app.session.Open(); err != nil {
		return fmt.Errorf("failed to open Discord session: %w", err)
	}

	if app.config.Features.EnableMetrics {
		go metrics.NewMonitoringCollector(app.metrics, 30*time.Second).Start(ctx)
	}
	go app.runCleanup(ctx)

	app.log.Info("Application started")
	return nil
}

// onSongStart posts the now playing message and hands it to the display
// driver. It runs off the playback loop.
func (app *Application) onSongStart(guildID string, song *queue.Song) {
	go func() {
		defer app.errors.Recover(song.ChannelID)

		// Lyrics appear with the first driver update, once looked up.
		frame := app.driver.Render(song, nil, display.StatusPlaying, 0, 0)
		frame.Lyrics = ""
		msg, err := app.session.ChannelMessageSendEmbed(song.ChannelID, frameEmbed(frame, app.config.Discord.EmbedColor))
		if err != nil {
			app.log.WithGuild(guildID).Warn("Failed to send now playing message", logger.Fields{"error": err.Error()})
			return
		}
		if !app.config.Features.EnableProgressDisplay {
			return
		}

		editor := &messageEditor{
			session:   app.session,
			channelID: song.ChannelID,
			messageID: msg.ID,
			color:     app.config.Discord.EmbedColor,
		}
		app.player.RunDisplay(guildID, func(ctx context.Context) {
			if err := app.driver.Run(ctx, guildID, song, editor); err != nil {
				app.log.WithGuild(guildID).Warn("Now playing display stopped", logger.Fields{"error": err.Error()})
			}
		})
	}()
}

func (app *Application) onSongFailed(guildID string, song *queue.Song, err error) {
	app.errors.Handle(song.ChannelID, err, logger.Fields{
		"guild_id": guildID,
		"song_id":  song.ID.String(),
		"title":    song.Title(),
	})
}

func (app *Application) onIdle(guildID string) {
	app.log.WithGuild(guildID).Info("Queue finished")
}

// runCleanup sweeps stale downloads, idle voice sessions and logs memory
// usage until ctx is cancelled.
func (app *Application) runCleanup(ctx context.Context) {
	tempTicker := time.NewTicker(app.config.Cache.CleanupInterval)
	defer tempTicker.Stop()
	voiceTicker := time.NewTicker(15 * time.Minute)
	defer voiceTicker.Stop()
	memoryTicker := time.NewTicker(5 * time.Minute)
	defer memoryTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-tempTicker.C:
			removed, err := app.youtube.CleanupTempFiles(app.config.Cache.MaxFileAge)
			if err != nil {
				app.log.Warn("Temp file cleanup failed", logger.Fields{"error": err.Error()})
			} else if removed > 0 {
				app.log.Info("Temp files cleaned up", logger.Fields{"removed": removed})
			}
		case <-voiceTicker.C:
			if n := app.voice.CleanupInactiveSessions(app.config.Audio.InactiveTimeout); n > 0 {
				app.log.Info("Inactive voice sessions closed", logger.Fields{"closed": n})
			}
		case <-memoryTicker.C:
			app.log.LogMemoryUsage()
			app.logMetrics()
		}
	}
}

// logMetrics writes a snapshot of every counter and gauge.
func (app *Application) logMetrics() {
	if app.metrics == nil || !app.metrics.IsEnabled() {
		return
	}
	summary := app.metrics.Summary()
	fields := logger.Fields(summary.Metrics)
	fields["uptime"] = summary.Uptime.Round(time.Second).String()
	app.log.Info("Metrics summary", fields)
}

// shutdown stops every guild before closing voice and the gateway so no
// playback loop touches a connection being torn down.
func (app *Application) shutdown() {
	app.log.Info("Starting graceful shutdown")

	if app.player != nil {
		app.player.Shutdown()
	}
	if app.voice != nil {
		app.voice.Shutdown()
	}
	if app.session != nil {
		if err := app.session.Close(); err != nil {
			app.log.Error("Failed to close Discord session", err)
		}
	}

	app.logMetrics()
	app.log.Info("Graceful shutdown completed")
}
