package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	_ "go.uber.org/automaxprocs"

	"archivision/internal/http/handlers"
	httpapi "archivision/internal/http/httpapi"
	"archivision/internal/infra"
	imageprovider "archivision/internal/providers/image"
	"archivision/internal/providers/prompt"
	"archivision/internal/providers/replicate"
	"archivision/internal/session"
	"archivision/internal/storage"
	"archivision/internal/workflow"
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		boot := infra.NewLogger(os.Getenv("APP_ENV"))
		boot.Fatal().Err(err).Msg("invalid configuration")
	}
	logger := infra.NewLogger(cfg.AppEnv)
	logger.Info().Str("config", cfg.String()).Msg("configuration loaded")

	ctx := context.Background()
	store, closeStore := newSessionStore(ctx, cfg, logger)
	defer closeStore()

	textLogger := logger.With().Str("component", "openai").Logger()
	text, err := prompt.NewOpenAIGenerator(prompt.OpenAIOptions{
		APIKey:       cfg.OpenAIAPIKey,
		Model:        cfg.OpenAIModel,
		BaseURL:      cfg.OpenAIBaseURL,
		Organization: cfg.OpenAIOrg,
		HTTPClient:   &http.Client{Timeout: cfg.TextTimeout},
		Logger:       &textLogger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure text generation")
	}

	imageLogger := logger.With().Str("component", "replicate").Logger()
	images, err := replicate.NewClient(replicate.Options{
		APIToken:     cfg.ReplicateAPIToken,
		BaseURL:      cfg.ReplicateBaseURL,
		Model:        cfg.ReplicateModel,
		PollInterval: cfg.ReplicatePollInterval,
		Timeout:      cfg.ImageTimeout,
		Logger:       &imageLogger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure image generation")
	}

	fetchLogger := logger.With().Str("component", "fetcher").Logger()
	fetcher := imageprovider.NewFetcher(imageprovider.FetcherOptions{
		HTTPClient:  &http.Client{Timeout: cfg.FetchTimeout},
		MaxBytes:    cfg.FetchMaxBytes,
		Concurrency: cfg.FetchConcurrency,
		Logger:      &fetchLogger,
	})

	files, err := storage.NewFileStore(cfg.ArtifactDir)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to prepare artifact directory")
	}

	loop, err := workflow.NewLoop(workflow.Options{
		Store:     store,
		Text:      text,
		Images:    images,
		Fetcher:   fetcher,
		Artifacts: files,
		Defaults:  cfg.Generation,
		Logger:    &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build workflow")
	}

	app := handlers.NewApp(loop, &logger)
	router := httpapi.NewRouter(app, httpapi.Options{
		Logger:             logger,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		RateLimitPerMin:    cfg.RateLimitPerMin,
		SecureCookies:      !cfg.IsDevelopment(),
	})

	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().
			Str("addr", server.Addr()).
			Str("openai_model", text.Model()).
			Str("replicate_model", images.Model()).
			Str("artifact_dir", files.BasePath()).
			Msg("API listening")
		if err := server.Start(); err != nil {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	// In-flight generations may take as long as the write timeout.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPWriteTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}

func newSessionStore(ctx context.Context, cfg *infra.Config, logger zerolog.Logger) (session.Store, func()) {
	if cfg.SessionStore != "redis" {
		logger.Info().Dur("ttl", cfg.SessionTTL).Msg("using in-memory session store")
		return session.NewMemoryStore(cfg.SessionTTL), func() {}
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	client, err := session.NewRedisClient(pingCtx, cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect redis")
	}
	logger.Info().Dur("ttl", cfg.SessionTTL).Msg("using redis session store")
	return session.NewRedisStore(client, cfg.SessionTTL), func() {
		if err := client.Close(); err != nil {
			logger.Warn().Err(err).Msg("failed to close redis client")
		}
	}
}
