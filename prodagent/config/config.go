package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr string
	LogDir   string

	DBUser     string
	DBPassword string
	DBHost     string
	DBPort     string
	DBName     string
	DBSSLMode  string
	JWTSecret  string

	// AIProvider selects the completion backend: openrouter, groq, openai or gemini.
	AIProvider        string
	OpenRouterAPIKey  string
	GroqAPIKey        string
	OpenAIAPIKey      string
	GoogleAPIKey      string
	TextModel         string
	VisionModel       string
	CompletionTimeout time.Duration

	EmbeddingAPIKey  string
	EmbeddingBaseURL string
	EmbeddingModel   string
	RetrievalTopK    int
	RetrievalTimeout time.Duration

	HistoryWindow  int
	DefaultMode    string
	BrandName      string
	DefaultModelID string

	// AgentConfigPath optionally overrides the embedded prompt texts.
	AgentConfigPath string

	CatalogPath    string
	CatalogObject  string
	CatalogRefresh time.Duration

	MinIOEndpoint  string
	MinIOAccessKey string
	MinIOSecretKey string
	MinIOBucket    string
	MinIOSecure    bool

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	FrontendURL        string
	RateLimitPerMinute int
	MaxImageBytes      int64
	MaxImages          int
}

func LoadConfig() Config {
	// a missing .env is normal in deployed environments
	_ = godotenv.Load()

	return Config{
		HTTPAddr: getEnv("HTTP_ADDR", ":8000"),
		LogDir:   getEnv("LOG_DIR", "./logs"),

		DBUser:     getEnv("DB_USER", ""),
		DBPassword: getEnv("DB_PASSWORD", ""),
		DBHost:     getEnv("DB_HOST", ""),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBName:     getEnv("DB_NAME", ""),
		DBSSLMode:  getEnv("DB_SSLMODE", "require"),
		JWTSecret:  getEnv("JWT_SECRET", ""),

		AIProvider:        strings.ToLower(getEnv("AI_PROVIDER", "openrouter")),
		OpenRouterAPIKey:  getEnv("OPENROUTER_API_KEY", ""),
		GroqAPIKey:        getEnv("GROQ_API_KEY", ""),
		OpenAIAPIKey:      getEnv("OPENAI_API_KEY", ""),
		GoogleAPIKey:      getEnv("GOOGLE_API_KEY", ""),
		TextModel:         getEnv("TEXT_MODEL", ""),
		VisionModel:       getEnv("VISION_MODEL", ""),
		CompletionTimeout: getDuration("COMPLETION_TIMEOUT", 30*time.Second),

		EmbeddingAPIKey:  getEnv("EMBEDDING_API_KEY", ""),
		EmbeddingBaseURL: getEnv("EMBEDDING_BASE_URL", ""),
		EmbeddingModel:   getEnv("EMBEDDING_MODEL", "text-embedding-3-small"),
		RetrievalTopK:    getInt("RETRIEVAL_TOP_K", 3),
		RetrievalTimeout: getDuration("RETRIEVAL_TIMEOUT", 5*time.Second),

		HistoryWindow:  getInt("HISTORY_WINDOW", 6),
		DefaultMode:    strings.ToUpper(getEnv("MODE", "PRE_PURCHASE")),
		BrandName:      getEnv("BRAND_NAME", "echo"),
		DefaultModelID: getEnv("DEFAULT_MODEL_ID", ""),

		AgentConfigPath: getEnv("AGENT_CONFIG", ""),

		CatalogPath:    getEnv("CATALOG_PATH", "data/products.json"),
		CatalogObject:  getEnv("CATALOG_OBJECT", ""),
		CatalogRefresh: getDuration("CATALOG_REFRESH", 10*time.Minute),

		MinIOEndpoint:  getEnv("MINIO_ENDPOINT", ""),
		MinIOAccessKey: getEnv("MINIO_ACCESS_KEY", ""),
		MinIOSecretKey: getEnv("MINIO_SECRET_KEY", ""),
		MinIOBucket:    getEnv("MINIO_BUCKET", "catalog"),
		MinIOSecure:    getBool("MINIO_SECURE", false),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getInt("REDIS_DB", 0),

		FrontendURL:        getEnv("FRONTEND_URL", "http://localhost:5173"),
		RateLimitPerMinute: getInt("RATE_LIMIT_PER_MINUTE", 30),
		MaxImageBytes:      int64(getInt("MAX_IMAGE_BYTES", 10<<20)),
		MaxImages:          getInt("MAX_IMAGES", 3),
	}
}

// DatabaseEnabled reports whether enough settings exist to reach Postgres.
func (c Config) DatabaseEnabled() bool {
	return c.DBHost != "" && c.DBName != ""
}

func getEnv(key, fallback string) string {
	value := os.Getenv(key)
	if value != "" {
		return value
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return v
}

func getBool(key string, fallback bool) bool {
	v, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return v
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v, err := time.ParseDuration(os.Getenv(key))
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}
