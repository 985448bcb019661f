package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"cardforge/internal/adapter/repo"
	"cardforge/internal/http/handlers"
	httpapi "cardforge/internal/http/httpapi"
	"cardforge/internal/infra"
	"cardforge/internal/kv"
	"cardforge/internal/orchestrator"
	"cardforge/internal/providers/image"
	"cardforge/internal/providers/prompt"
	"cardforge/internal/share"
	"cardforge/internal/storage"
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx := context.Background()

	// Persistence backend for job records
	var store kv.Store
	switch cfg.KVBackend {
	case "postgres":
		pool, err := infra.NewDBPool(ctx, cfg)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect database")
		}
		defer pool.Close()
		store, err = kv.NewPostgres(ctx, pool)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to initialize postgres store")
		}
	default:
		store, err = kv.OpenSQLite(cfg.DataDir)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to open sqlite store")
		}
	}
	defer store.Close()

	// Prompt provider falls back to the static palette when Gemini is not
	// configured.
	var prompts prompt.Service
	if cfg.PromptProvider == "gemini" && cfg.GeminiAPIKey != "" {
		gemini, err := prompt.NewGemini(prompt.GeminiOptions{
			APIKey:  cfg.GeminiAPIKey,
			Model:   cfg.GeminiModel,
			BaseURL: cfg.GeminiBaseURL,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to initialize prompt provider")
		}
		prompts = gemini
	} else {
		logger.Warn().Msg("no prompt provider configured, using static prompts")
		prompts = prompt.NewStatic()
	}

	images, err := image.NewClient(image.Options{
		APIKey:  cfg.ImageAPIKey,
		BaseURL: cfg.ImageBaseURL,
		Model:   cfg.ImageModel,
		Logger:  &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize image client")
	}

	// Local file store for overlaid panels
	panels, err := storage.NewFileStore(cfg.StoragePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize panel storage")
	}

	// Share service and QR overlay are optional
	var shareSvc orchestrator.ShareService
	var overlay orchestrator.QROverlayer
	if cfg.ShareBaseURL != "" {
		shareSvc = share.NewClient(share.Options{BaseURL: cfg.ShareBaseURL, APIKey: cfg.ShareAPIKey})
		overlay = share.NewOverlayer(nil)
	}

	orch := orchestrator.New(orchestrator.Options{
		Jobs:         repo.NewJobStore(store),
		Prompts:      prompts,
		Images:       images,
		Share:        shareSvc,
		Overlay:      overlay,
		Panels:       panels,
		PanelBaseURL: cfg.PanelBaseURL,
		Poll: orchestrator.PollConfig{
			Interval:       cfg.PollInterval,
			BackoffBase:    cfg.PollBackoffBase,
			BackoffCeiling: cfg.PollBackoffCeiling,
			MaxSession:     cfg.PollMaxSession,
		},
		Logger: logger,
		Model:  cfg.ImageModel,
	})
	defer orch.Stop()

	// Reconcile jobs a previous session left processing before serving
	if err := orch.Recover(ctx); err != nil {
		logger.Error().Err(err).Msg("recovery scan failed")
	}

	app := handlers.NewApp(orch, logger, cfg.DraftCount)
	router := httpapi.NewRouter(app, logger, httpapi.Options{
		StaticDir: panels.BasePath(),
	})
	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}
