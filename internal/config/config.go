// Package config loads the gateway's environment-driven configuration.
package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// RedisConfig configures the shared cache store (queues + rate limits).
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// VectorConfig configures the authoritative (Qdrant) vector backend.
type VectorConfig struct {
	DSN       string
	Dimension int
}

// ShadowConfig configures the embedded SQLite shadow vector store.
type ShadowConfig struct {
	DBPath string
}

// ProviderConfig holds an API credential and optional base URL override for
// a single AI provider.
type ProviderConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// SenderBackendConfig configures the upstream media-fetch service.
type SenderBackendConfig struct {
	URL                 string
	MediaExceptionToken string
	MediaExceptionQuery string
}

// ObsConfig configures OpenTelemetry tracing/metrics export.
type ObsConfig struct {
	OTLP           string
	ServiceName    string
	ServiceVersion string
	Environment    string
}

// QueueConfig configures job-queue and dispatcher runtime behaviour.
type QueueConfig struct {
	ResultTTLSeconds  int
	StallTimeoutSecs  int
	ConcurrencyAudio  int
	ConcurrencyImage  int
	ConcurrencyOCR    int
	ConcurrencyLLM    int
}

// Config is the gateway's fully resolved runtime configuration.
type Config struct {
	Port int

	Redis       RedisConfig
	Vector      VectorConfig
	Shadow      ShadowConfig
	Sender      SenderBackendConfig
	Obs         ObsConfig
	Queue       QueueConfig

	Groq       ProviderConfig
	Gemini     ProviderConfig
	Anthropic  ProviderConfig
	Deepgram   ProviderConfig
	AssemblyAI ProviderConfig

	LogLevel string
	LogPath  string
}

// Load reads configuration from the environment, overlaying a local .env
// file if present. Values absent from the environment keep sane defaults.
func Load() (Config, error) {
	_ = godotenv.Overload()

	cfg := Config{}
	cfg.Port = intFromEnv("PORT", 8080)

	cfg.Redis.Addr = firstNonEmpty(strings.TrimSpace(os.Getenv("CACHE_STORE_URL")), "localhost:6379")
	cfg.Redis.Password = strings.TrimSpace(os.Getenv("CACHE_STORE_PASSWORD"))
	cfg.Redis.DB = intFromEnv("CACHE_STORE_DB", 0)

	cfg.Vector.DSN = strings.TrimSpace(os.Getenv("AUTHORITATIVE_VECTOR_URL"))
	if apiKey := strings.TrimSpace(os.Getenv("AUTHORITATIVE_VECTOR_API_KEY")); apiKey != "" && cfg.Vector.DSN != "" {
		sep := "?"
		if strings.Contains(cfg.Vector.DSN, "?") {
			sep = "&"
		}
		cfg.Vector.DSN = cfg.Vector.DSN + sep + "api_key=" + apiKey
	}
	cfg.Vector.Dimension = intFromEnv("EMBEDDING_SIZE", 384)

	cfg.Shadow.DBPath = firstNonEmpty(strings.TrimSpace(os.Getenv("DB_PATH")), "./data/shadow.db")

	cfg.Sender.URL = strings.TrimSpace(os.Getenv("SENDER_BACKEND_URL"))
	cfg.Sender.MediaExceptionToken = strings.TrimSpace(os.Getenv("SENDER_BACKEND_MEDIA_EXCEPTION_TOKEN"))
	cfg.Sender.MediaExceptionQuery = strings.TrimSpace(os.Getenv("SENDER_BACKEND_MEDIA_EXCEPTION_QUERY"))

	cfg.Obs.OTLP = strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	cfg.Obs.ServiceName = firstNonEmpty(strings.TrimSpace(os.Getenv("OTEL_SERVICE_NAME")), "meego-gateway")
	cfg.Obs.ServiceVersion = strings.TrimSpace(os.Getenv("SERVICE_VERSION"))
	cfg.Obs.Environment = firstNonEmpty(strings.TrimSpace(os.Getenv("ENVIRONMENT")), "development")

	cfg.Queue.ResultTTLSeconds = intFromEnv("JOB_RESULT_TTL_SECONDS", 3600)
	cfg.Queue.StallTimeoutSecs = intFromEnv("STALL_TIMEOUT_SECONDS", 60)
	cfg.Queue.ConcurrencyAudio = intFromEnv("WORKER_CONCURRENCY_AUDIO", 3)
	cfg.Queue.ConcurrencyImage = intFromEnv("WORKER_CONCURRENCY_IMAGE", 5)
	cfg.Queue.ConcurrencyOCR = intFromEnv("WORKER_CONCURRENCY_OCR", 5)
	cfg.Queue.ConcurrencyLLM = intFromEnv("WORKER_CONCURRENCY_LLM", 4)

	cfg.Groq = providerFromEnv("GROQ_API_KEY", "GROQ_BASE_URL", "GROQ_MODEL", "https://api.groq.com/openai/v1")
	cfg.Gemini = providerFromEnv("GEMINI_API_KEY", "GEMINI_BASE_URL", "GEMINI_MODEL", "")
	cfg.Anthropic = providerFromEnv("ANTHROPIC_API_KEY", "ANTHROPIC_BASE_URL", "ANTHROPIC_MODEL", "")
	cfg.Deepgram = providerFromEnv("DEEPGRAM_API_KEY", "DEEPGRAM_BASE_URL", "", "https://api.deepgram.com")
	cfg.AssemblyAI = providerFromEnv("ASSEMBLYAI_API_KEY", "ASSEMBLYAI_BASE_URL", "", "https://api.assemblyai.com")

	cfg.LogLevel = firstNonEmpty(strings.TrimSpace(os.Getenv("LOG_LEVEL")), "info")
	cfg.LogPath = strings.TrimSpace(os.Getenv("LOG_PATH"))

	return cfg, nil
}

func providerFromEnv(keyVar, baseVar, modelVar, defaultBase string) ProviderConfig {
	pc := ProviderConfig{
		APIKey:  strings.TrimSpace(os.Getenv(keyVar)),
		BaseURL: firstNonEmpty(strings.TrimSpace(os.Getenv(baseVar)), defaultBase),
	}
	if modelVar != "" {
		pc.Model = strings.TrimSpace(os.Getenv(modelVar))
	}
	return pc
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func intFromEnv(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
