package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/slack-go/slack"
	"github.com/slack-go/slack/socketmode"
)

// Bot wires the Slack connection to the tally components
type Bot struct {
	client          SlackAPI
	socketMode      *socketmode.Client
	store           *Store
	stateManager    *StateManager
	stateRetainer   *StateRetainer
	threads         *ThreadManager
	ingestor        *Ingestor
	queries         *QueryResponder
	reporter        *Reporter
	parentChannelID string
	botUserID       string
	readyOnce       sync.Once
}

// NewBot connects to Slack, verifies the token and assembles the components
func NewBot(cfg *Config) (*Bot, error) {
	// Create a logger adapter for slack-go
	slackLogger := &slackLogAdapter{
		logger: log.With().Str("component", "slack-api").Logger(),
	}

	client := slack.New(
		cfg.BotToken,
		slack.OptionLog(slackLogger),
		slack.OptionDebug(cfg.Debug),
		slack.OptionAppLevelToken(cfg.AppToken),
	)

	socketClient := socketmode.New(
		client,
		socketmode.OptionLog(&slackLogAdapter{
			logger: log.With().Str("component", "socketmode").Logger(),
		}),
		socketmode.OptionDebug(cfg.Debug),
	)

	log.Debug().Msg("Testing authentication with Slack")
	authTest, err := client.AuthTestContext(context.Background())
	if err != nil {
		log.Error().Err(err).Msg("Authentication test failed")
		return nil, fmt.Errorf("auth test failed: %w", err)
	}

	log.Info().
		Str("user", authTest.User).
		Str("userID", authTest.UserID).
		Str("team", authTest.Team).
		Msg("Connected to Slack")

	stateManager, err := NewStateManager(cfg.StateDir)
	if err != nil {
		log.Error().Err(err).Str("stateDir", cfg.StateDir).Msg("Failed to initialize state manager")
		return nil, fmt.Errorf("failed to initialize state manager: %w", err)
	}

	b, err := assembleBot(client, cfg, authTest.UserID, stateManager)
	if err != nil {
		return nil, err
	}
	b.socketMode = socketClient
	return b, nil
}

// assembleBot builds every component around a single store
func assembleBot(client SlackAPI, cfg *Config, botUserID string, stateManager *StateManager) (*Bot, error) {
	location, err := cfg.Location()
	if err != nil {
		return nil, fmt.Errorf("failed to load timezone %q: %w", cfg.Timezone, err)
	}

	store := NewStore()
	formatter := NewMessageFormatter()

	scanner := NewBackfillScanner(client, store, stateManager, botUserID, cfg.PageSize, cfg.RequestDelay)
	threads := NewThreadManager(client, store, stateManager, scanner,
		cfg.ParentChannelID, location, cfg.RequestDelay, cfg.ThreadExpiryDays)

	reporter, err := NewReporter(client, store, threads, formatter, cfg.ReportSchedule, location)
	if err != nil {
		return nil, err
	}

	return &Bot{
		client:          client,
		store:           store,
		stateManager:    stateManager,
		stateRetainer:   NewStateRetainer(stateManager, cfg.RetentionDays),
		threads:         threads,
		ingestor:        NewIngestor(client, store, threads, stateManager, formatter, botUserID),
		queries:         NewQueryResponder(store, formatter, location),
		reporter:        reporter,
		parentChannelID: cfg.ParentChannelID,
		botUserID:       botUserID,
	}, nil
}

// Run starts the background components and the Socket Mode loop. Blocks
// until the context is canceled.
func (b *Bot) Run(ctx context.Context) error {
	b.stateManager.Start()
	b.stateRetainer.Start(ctx)
	b.threads.Start(ctx)
	b.reporter.Start()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-b.socketMode.Events:
				if !ok {
					return
				}
				b.handleEvent(ctx, evt)
			}
		}
	}()

	log.Info().Str("parentChannelID", b.parentChannelID).Msg("Bot started successfully")

	err := b.socketMode.RunContext(ctx)
	log.Info().Msg("Socket Mode loop ended, shutting down")

	b.reporter.Stop()
	b.stateRetainer.Stop()
	b.stateManager.Stop()

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// onReady runs once after the first successful connection
func (b *Bot) onReady(ctx context.Context) {
	log.Info().Str("botUserID", b.botUserID).Msg("Bot ready, scanning active threads")

	if err := b.threads.BackfillActiveThreads(ctx); err != nil {
		log.Error().Err(err).Msg("Failed to scan threads")
	}
}

func main() {
	// Set up command line flags
	configPath := flag.String("config", "", "Path to a YAML config file (default: ./config.yaml if present)")
	envFile := flag.String("env-file", "", "Path to a .env file with Slack tokens (default: ./.env if present)")
	logLevelStr := flag.String("log-level", "info", "Log level: trace, debug, info, warn, error, fatal, panic")
	stateDir := flag.String("state-dir", ".", "Directory for persistent state storage")
	retentionDays := flag.Int("retention", 30, "Number of days to keep acknowledgment records")
	threadExpiryDays := flag.Int("thread-expiry", 7, "Number of days of inactivity before a thread stops being tracked")
	flag.Parse()

	if err := LoadDotEnv(*envFile); err != nil {
		fmt.Printf("Warning: %v\n", err)
	}

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Explicit flags win over file and environment
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "log-level":
			cfg.LogLevel = *logLevelStr
		case "state-dir":
			cfg.StateDir = *stateDir
		case "retention":
			cfg.RetentionDays = *retentionDays
		case "thread-expiry":
			cfg.ThreadExpiryDays = *threadExpiryDays
		}
	})

	// Set up zerolog
	consoleWriter := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}

	logLevel, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		// Default to info if invalid level
		logLevel = zerolog.InfoLevel
		fmt.Printf("Invalid log level '%s', defaulting to 'info'\n", cfg.LogLevel)
	}
	zerolog.SetGlobalLevel(logLevel)
	log.Logger = zerolog.New(consoleWriter).With().Timestamp().Logger()

	log.Info().
		Str("level", logLevel.String()).
		Msg("Logger initialized")

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	log.Info().
		Str("parentChannelID", cfg.ParentChannelID).
		Str("timezone", cfg.Timezone).
		Str("reportSchedule", cfg.ReportSchedule).
		Str("stateDir", cfg.StateDir).
		Int("retentionDays", cfg.RetentionDays).
		Int("threadExpiryDays", cfg.ThreadExpiryDays).
		Msg("Configuration loaded")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if path := resolveConfigPath(*configPath); path != "" {
		levelFromFlag := false
		flag.Visit(func(f *flag.Flag) { levelFromFlag = levelFromFlag || f.Name == "log-level" })

		watcher, err := NewConfigWatcher(path, 500*time.Millisecond, func(updated *Config) {
			if levelFromFlag {
				return
			}
			applyLogLevel(updated.LogLevel)
		})
		if err != nil {
			log.Warn().Err(err).Msg("Config hot reload disabled")
		} else {
			go watcher.Run(ctx)
		}
	}

	log.Debug().Msg("Creating bot")
	bot, err := NewBot(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Error creating bot")
	}

	log.Info().Msg("Starting bot...")
	if err := bot.Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("Error running bot")
	}
}

// applyLogLevel switches the global level at runtime
func applyLogLevel(level string) {
	logLevel, err := zerolog.ParseLevel(level)
	if err != nil {
		log.Warn().Str("level", level).Msg("Ignoring invalid log level")
		return
	}
	if logLevel == zerolog.GlobalLevel() {
		return
	}
	zerolog.SetGlobalLevel(logLevel)
	log.Info().Str("level", logLevel.String()).Msg("Log level changed")
}
