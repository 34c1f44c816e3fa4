package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"shopassist/internal/bus"
	"shopassist/internal/channel"
	"shopassist/internal/config"
	"shopassist/internal/dispatch"
	"shopassist/internal/domain"
	"shopassist/internal/flow"
	"shopassist/internal/gateway"
	"shopassist/internal/history"
	"shopassist/internal/orchestrator"
	"shopassist/internal/provider"
	"shopassist/internal/voice"

	"github.com/spf13/cobra"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:   "shopassist",
		Short: "ShopAssist: conversational commerce assistant",
		Long:  "ShopAssist is the conversational sales assistant core for the TechTrend storefront.",
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json (default: ~/.shopassist/config.json)")

	root.AddCommand(initCmd())
	root.AddCommand(chatCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(historyCmd())
	root.AddCommand(transcribeCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(configCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize config and data directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgDir := config.DefaultConfigDir()
			cfgPath := config.DefaultConfigPath()
			if err := os.MkdirAll(cfgDir, 0o755); err != nil {
				return err
			}
			cfg := config.Defaults()
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath)
			return nil
		},
	}
}

func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

func loadConfig() *config.Config {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Warn("config not found, using defaults", "path", cfgPath, "err", err)
		cfg = config.Defaults()
	}
	applyLogLevel(cfg.General.LogLevel)
	return cfg
}

func applyLogLevel(level string) {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}

// core is everything a running session needs, wired together.
type core struct {
	bus        *bus.InMemoryBus
	store      *history.SQLiteStore
	dispatcher *dispatch.Dispatcher
	voice      *voice.Controller
	session    *orchestrator.Orchestrator
}

func (c *core) close(ctx context.Context) {
	c.session.Close(ctx)
	c.dispatcher.Close()
	c.voice.Close()
	if err := c.store.Close(); err != nil {
		logger.Warn("history store close failed", "err", err)
	}
	c.bus.Close()
}

func buildCore(ctx context.Context, cfg *config.Config) (*core, error) {
	uiBus := bus.New(100, logger)

	dbPath := config.ExpandPath(cfg.History.DBPath)
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, err
	}
	store, err := history.NewSQLiteStore(dbPath, logger)
	if err != nil {
		return nil, fmt.Errorf("history store: %w", err)
	}

	vocab := flow.DefaultVocabulary()
	if cfg.Flow.VocabularyPath != "" {
		vocab, err = flow.LoadVocabulary(config.ExpandPath(cfg.Flow.VocabularyPath))
		if err != nil {
			return nil, fmt.Errorf("vocabulary: %w", err)
		}
	}
	machine := flow.NewMachine(vocab, logger)

	storefront := provider.NewStorefront(provider.StorefrontConfig{
		CatalogBaseURL: cfg.Catalog.BaseURL,
		CartBaseURL:    cfg.Cart.BaseURL,
		APIKey:         cfg.Catalog.APIKey,
		Logger:         logger,
	})

	var completion domain.CompletionClient
	if cfg.Completion.Enabled {
		completion = provider.NewCompletion(provider.CompletionConfig{
			APIKey:  cfg.Completion.APIKey,
			APIBase: cfg.Completion.APIBase,
			Model:   cfg.Completion.Model,
			Logger:  logger,
		})
	} else {
		logger.Warn("completion disabled, every turn will use the fallback reply")
	}

	var synth domain.SpeechSynthesizer
	if cfg.Speech.Enabled {
		synth = provider.NewSynthesizer(provider.SynthesizerConfig{
			APIBase: cfg.Speech.SynthAPIBase,
			APIKey:  cfg.Speech.SynthAPIKey,
			Model:   cfg.Speech.SynthModel,
			Logger:  logger,
		})
	}
	voiceCtl := voice.NewController(ctx, voice.Config{
		Synth:  synth,
		Store:  store,
		Bus:    uiBus,
		Logger: logger,
	})

	gw := gateway.New(gateway.Config{
		Client:      completion,
		StoreName:   cfg.General.StoreName,
		Model:       cfg.Completion.Model,
		MaxTokens:   cfg.Completion.MaxTokens,
		Temperature: cfg.Completion.Temperature,
		RateBurst:   cfg.Assistant.RateLimitBurst,
		RatePerMin:  cfg.Assistant.RateLimitPerMinute,
		Logger:      logger,
	})

	dispatcher := dispatch.New(dispatch.Config{
		Catalog:       storefront,
		Cart:          storefront,
		Flow:          machine,
		Bus:           uiBus,
		Voice:         voiceCtl,
		SuggestChance: cfg.Assistant.SuggestionChance,
		SuggestDelay:  time.Duration(cfg.Assistant.SuggestionDelayMs) * time.Millisecond,
		Logger:        logger,
	})

	session := orchestrator.New(ctx, orchestrator.Config{
		Gateway:       gw,
		Dispatcher:    dispatcher,
		Flow:          machine,
		Catalog:       storefront,
		Store:         store,
		Bus:           uiBus,
		Speaker:       voiceCtl,
		MaxCandidates: cfg.Assistant.MaxCandidates,
		HistoryLimit:  cfg.Assistant.HistoryLimit,
		Logger:        logger,
	})
	voiceCtl.OnTranscript = func(text string) {
		session.HandleUserMessage(ctx, text)
	}

	return &core{
		bus:        uiBus,
		store:      store,
		dispatcher: dispatcher,
		voice:      voiceCtl,
		session:    session,
	}, nil
}

func chatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Start interactive chat (CLI)",
		RunE:  runChat,
	}
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := buildCore(ctx, cfg)
	if err != nil {
		return err
	}
	defer c.close(context.Background())

	go printEvents(ctx, c.bus.Subscribe())

	fmt.Printf("%s assistant ready. Type a message, or /new, /quit.\n", cfg.General.StoreName)
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := scanner.Text()
		switch line {
		case "/quit", "/exit":
			return nil
		case "/new":
			c.session.NewConversation(ctx)
			fmt.Println("started a new conversation")
		case "":
		default:
			c.session.HandleUserMessage(ctx, line)
		}
		select {
		case <-ctx.Done():
			return nil
		default:
		}
	}
}

// printEvents renders bus traffic for the terminal. Amplitude samples are
// meaningless in a text terminal and are skipped.
func printEvents(ctx context.Context, events <-chan domain.UIEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch ev.Type {
			case domain.UIEventMessage:
				if ev.Message != nil && ev.Message.Role == domain.RoleAssistant {
					fmt.Printf("\nassistant: %s\n> ", ev.Message.Content)
				}
			case domain.UIEventSuggestion:
				if ev.Text != "" {
					fmt.Printf("\nassistant (suggestion): %s\n> ", ev.Text)
				}
			case domain.UIEventPanel:
				fmt.Printf("\n[ui] panel -> %s\n> ", ev.Panel)
			case domain.UIEventNotice:
				fmt.Printf("\n[notice] %s\n> ", ev.Text)
			}
		}
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the WebSocket channel for the storefront UI",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	if !cfg.Channel.Enabled {
		return fmt.Errorf("channel disabled in config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := buildCore(ctx, cfg)
	if err != nil {
		return err
	}
	defer c.close(context.Background())

	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Endpoint
	}
	srv := channel.NewServer(channel.Config{
		Host:        cfg.Channel.Host,
		Port:        cfg.Channel.Port,
		Session:     c.session,
		Voice:       c.voice,
		Bus:         c.bus,
		Logger:      logger,
		MetricsPath: metricsPath,
	})

	logger.Info("serving", "version", version, "addr", fmt.Sprintf("%s:%d", cfg.Channel.Host, cfg.Channel.Port))
	return srv.Start(ctx)
}

func historyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Browse saved conversations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List saved conversations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(ctx context.Context, store *history.SQLiteStore) error {
				items, err := store.ListConversations(ctx, 50)
				if err != nil {
					return err
				}
				for _, it := range items {
					fmt.Printf("%s  %s  %s\n", it.ID, it.Timestamp.Format(time.RFC3339), it.Title)
				}
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show [id]",
		Short: "Print one conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(ctx context.Context, store *history.SQLiteStore) error {
				item, err := store.GetConversation(ctx, args[0])
				if err != nil {
					return err
				}
				for _, m := range item.Messages {
					fmt.Printf("[%s] %s: %s\n", m.Timestamp.Format("15:04:05"), m.Role, m.Content)
				}
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete [id]",
		Short: "Delete one conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(ctx context.Context, store *history.SQLiteStore) error {
				return store.DeleteConversation(ctx, args[0])
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Delete all conversations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(ctx context.Context, store *history.SQLiteStore) error {
				return store.DeleteAllConversations(ctx)
			})
		},
	})

	return cmd
}

func withStore(fn func(ctx context.Context, store *history.SQLiteStore) error) error {
	cfg := loadConfig()
	store, err := history.NewSQLiteStore(config.ExpandPath(cfg.History.DBPath), logger)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(context.Background(), store)
}

func transcribeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "transcribe [audio-file]",
		Short: "Transcribe an audio file through the speech backend",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			if !cfg.Speech.Enabled {
				return fmt.Errorf("speech disabled in config")
			}

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			tr := provider.NewTranscriber(provider.TranscriberConfig{
				APIBase: cfg.Speech.CaptureAPIBase,
				APIKey:  cfg.Speech.CaptureAPIKey,
				Model:   cfg.Speech.CaptureModel,
				Logger:  logger,
			})
			result, err := tr.Transcribe(cmd.Context(), f, filepath.Base(args[0]))
			if err != nil {
				return err
			}
			fmt.Println(result.Text)
			return nil
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show configuration and store status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				logger.Info("config", "path", cfgPath, "loaded", false)
				cfg = config.Defaults()
			} else {
				logger.Info("config", "path", cfgPath, "loaded", true)
			}
			logger.Info("completion", "enabled", cfg.Completion.Enabled, "model", cfg.Completion.Model)
			logger.Info("speech", "enabled", cfg.Speech.Enabled)
			logger.Info("channel", "enabled", cfg.Channel.Enabled, "host", cfg.Channel.Host, "port", cfg.Channel.Port)

			dbPath := config.ExpandPath(cfg.History.DBPath)
			if _, statErr := os.Stat(dbPath); statErr == nil {
				logger.Info("history", "db", dbPath, "exists", true)
			} else {
				logger.Info("history", "db", dbPath, "exists", false)
			}
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all config values (secrets redacted)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			redacted := *cfg
			if redacted.Completion.APIKey != "" {
				redacted.Completion.APIKey = "***"
			}
			if redacted.Catalog.APIKey != "" {
				redacted.Catalog.APIKey = "***"
			}
			if redacted.Cart.APIKey != "" {
				redacted.Cart.APIKey = "***"
			}
			if redacted.Speech.CaptureAPIKey != "" {
				redacted.Speech.CaptureAPIKey = "***"
			}
			if redacted.Speech.SynthAPIKey != "" {
				redacted.Speech.SynthAPIKey = "***"
			}
			data, _ := json.MarshalIndent(redacted, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(resolveConfigPath())
		},
	})

	return cmd
}
