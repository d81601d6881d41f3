package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"archivision/internal/domain"
)

const configOp = "config"

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv string
	Port   string

	OpenAIAPIKey  string
	OpenAIModel   string
	OpenAIBaseURL string
	OpenAIOrg     string

	ReplicateAPIToken     string
	ReplicateBaseURL      string
	ReplicateModel        string
	ReplicatePollInterval time.Duration

	Generation domain.GenerationDefaults

	FetchConcurrency int
	FetchMaxBytes    int64

	ArtifactDir string

	SessionStore string
	RedisURL     string
	SessionTTL   time.Duration

	CORSAllowedOrigins []string
	RateLimitPerMin    int

	TextTimeout      time.Duration
	ImageTimeout     time.Duration
	FetchTimeout     time.Duration
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
}

// LoadConfig loads configuration from environment variables and applies
// defaults where needed. Missing credentials and unusable values are
// reported as configuration failures.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:                getEnv("APP_ENV", "development"),
		Port:                  getEnv("PORT", "8080"),
		OpenAIAPIKey:          strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
		OpenAIModel:           getEnv("OPENAI_MODEL", "gpt-4"),
		OpenAIBaseURL:         getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		OpenAIOrg:             os.Getenv("OPENAI_ORG"),
		ReplicateAPIToken:     strings.TrimSpace(os.Getenv("REPLICATE_API_TOKEN")),
		ReplicateBaseURL:      getEnv("REPLICATE_BASE_URL", "https://api.replicate.com/v1"),
		ReplicateModel:        getEnv("REPLICATE_MODEL", "davisbrown/designer-architecture"),
		ReplicatePollInterval: time.Millisecond * time.Duration(getEnvInt("REPLICATE_POLL_INTERVAL_MS", 1000)),
		Generation: domain.GenerationDefaults{
			Count:         getEnvInt("IMAGE_NUM_OUTPUTS", domain.DefaultImageCount),
			AspectRatio:   domain.AspectRatio(getEnv("IMAGE_ASPECT_RATIO", string(domain.DefaultAspectRatio))),
			GuidanceScale: getEnvFloat("IMAGE_GUIDANCE_SCALE", domain.DefaultGuidanceScale),
			Quality:       getEnvInt("IMAGE_OUTPUT_QUALITY", domain.DefaultOutputQuality),
		},
		FetchConcurrency:   getEnvInt("FETCH_CONCURRENCY", 3),
		FetchMaxBytes:      int64(getEnvInt("FETCH_MAX_BYTES", 32<<20)),
		ArtifactDir:        getEnv("ARTIFACT_DIR", "artifacts"),
		SessionStore:       strings.ToLower(getEnv("SESSION_STORE", "memory")),
		RedisURL:           os.Getenv("REDIS_URL"),
		SessionTTL:         time.Minute * time.Duration(getEnvInt("SESSION_TTL_MINUTES", 120)),
		CORSAllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS"),
		RateLimitPerMin:    getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
		TextTimeout:        time.Second * time.Duration(getEnvInt("TEXT_TIMEOUT_SECONDS", 60)),
		ImageTimeout:       time.Second * time.Duration(getEnvInt("IMAGE_TIMEOUT_SECONDS", 180)),
		FetchTimeout:       time.Second * time.Duration(getEnvInt("FETCH_TIMEOUT_SECONDS", 30)),
		HTTPReadTimeout:    time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout:   time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 240)),
		HTTPIdleTimeout:    time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
	}

	if cfg.OpenAIAPIKey == "" {
		return nil, configFailure("missing_credential", "OPENAI_API_KEY is required")
	}
	if cfg.ReplicateAPIToken == "" {
		return nil, configFailure("missing_credential", "REPLICATE_API_TOKEN is required")
	}
	ar, ok := domain.ParseAspectRatio(string(cfg.Generation.AspectRatio))
	if !ok {
		return nil, configFailure("invalid_value", "IMAGE_ASPECT_RATIO %q is not supported", cfg.Generation.AspectRatio)
	}
	cfg.Generation.AspectRatio = ar
	if cfg.Generation.Count < 1 || cfg.Generation.Count > domain.MaxImageCount {
		return nil, configFailure("invalid_value", "IMAGE_NUM_OUTPUTS must be between 1 and %d", domain.MaxImageCount)
	}
	if cfg.Generation.Quality < 0 || cfg.Generation.Quality > 100 {
		return nil, configFailure("invalid_value", "IMAGE_OUTPUT_QUALITY must be between 0 and 100")
	}
	switch cfg.SessionStore {
	case "memory":
	case "redis":
		if strings.TrimSpace(cfg.RedisURL) == "" {
			return nil, configFailure("missing_value", "REDIS_URL is required when SESSION_STORE=redis")
		}
	default:
		return nil, configFailure("invalid_value", "SESSION_STORE must be memory or redis, got %q", cfg.SessionStore)
	}
	if cfg.HTTPWriteTimeout <= cfg.TextTimeout+cfg.ImageTimeout {
		return nil, configFailure("invalid_value", "HTTP_WRITE_TIMEOUT_SECONDS must exceed TEXT_TIMEOUT_SECONDS + IMAGE_TIMEOUT_SECONDS")
	}

	return cfg, nil
}

// IsDevelopment reports whether APP_ENV selects development behavior.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

func configFailure(reason, format string, args ...any) error {
	return domain.Failuref(domain.KindConfiguration, configOp, reason, format, args...)
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// String hides credentials.
func (c *Config) String() string {
	return fmt.Sprintf("env=%s port=%s openai_model=%s replicate_model=%s session_store=%s artifact_dir=%s",
		c.AppEnv, c.Port, c.OpenAIModel, c.ReplicateModel, c.SessionStore, c.ArtifactDir)
}
