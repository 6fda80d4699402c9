package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xaenox/pagewatch-bot/internal/bot"
	"github.com/xaenox/pagewatch-bot/internal/conversation"
	"github.com/xaenox/pagewatch-bot/internal/fetcher"
	"github.com/xaenox/pagewatch-bot/internal/models"
	"github.com/xaenox/pagewatch-bot/internal/storage"
	"github.com/xaenox/pagewatch-bot/internal/summary"
	"github.com/xaenox/pagewatch-bot/internal/watch"
	"github.com/xaenox/pagewatch-bot/pkg/config"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "config.yaml", "path to a YAML or .env config file")
	flag.Parse()

	// Bootstrap logger until the config says which one we want
	logger, _ := zap.NewProduction()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err), zap.String("path", *configPath))
	}

	if cfg.Debug {
		logger, _ = zap.NewDevelopment()
	}
	defer logger.Sync()

	// Initialize storage
	store, err := openRegistry(cfg.Database, logger)
	if err != nil {
		logger.Fatal("Failed to initialize storage", zap.Error(err), zap.String("driver", cfg.Database.Driver))
	}
	defer store.Close()

	api, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		logger.Fatal("Failed to create bot", zap.Error(err))
	}
	api.Debug = cfg.Debug
	logger.Info("Authorized on Telegram", zap.String("account", api.Self.UserName))

	var summarizer summary.Summarizer = summary.NewLineDiffSummarizer()
	if cfg.OpenAI.APIKey != "" {
		logger.Info("Using GPT change summaries", zap.String("model", cfg.OpenAI.Model))
		summarizer = summary.NewGPTSummarizer(
			openai.NewClient(cfg.OpenAI.APIKey),
			cfg.OpenAI.Model,
			cfg.OpenAI.MaxTokens,
			cfg.OpenAI.Temperature,
			logger,
		)
	}

	notifier := bot.NewNotifier(api, cfg.Notify.RatePerSecond, cfg.Notify.Burst, logger)
	manager := watch.NewManager(
		store,
		fetcher.New(&http.Client{}, cfg.Watch.FetchTimeout, logger),
		notifier,
		summarizer,
		watch.Config{
			MaxPerUser:   cfg.Watch.MaxPerUser,
			PollInterval: cfg.Watch.PollInterval,
			CancelGrace:  cfg.Watch.CancelGrace,
		},
		logger,
	)

	controller, err := conversation.NewController(manager, models.ConversationState(cfg.Conversation.StateRequestURL), logger)
	if err != nil {
		logger.Fatal("Failed to create conversation controller", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Watch.RestoreOnStart {
		if _, err := manager.Restore(ctx); err != nil {
			logger.Error("Failed to restore watches", zap.Error(err))
		}
	}

	b := bot.New(api, manager, controller, cfg.Telegram.AllowedIDs, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return b.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return manager.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("Bot stopped with error", zap.Error(err))
		return
	}
	logger.Info("Bot stopped")
}

func openRegistry(cfg config.DatabaseConfig, logger *zap.Logger) (storage.Registry, error) {
	switch cfg.Driver {
	case "memory":
		logger.Info("Using in-memory storage")
		return storage.NewMemoryStorage(), nil
	case "postgres":
		logger.Info("Using PostgreSQL storage", zap.String("host", cfg.Host), zap.String("dbname", cfg.DBName))
		return storage.NewPostgresStorage(storage.DatabaseConfig{
			Host:     cfg.Host,
			Port:     cfg.Port,
			User:     cfg.User,
			Password: cfg.Password,
			DBName:   cfg.DBName,
			SSLMode:  cfg.SSLMode,
		}, logger)
	default:
		logger.Info("Using SQLite storage", zap.String("path", cfg.SQLitePath))
		return storage.NewSQLiteStorage(cfg.SQLitePath, logger)
	}
}
