package app

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr         string
	LogLevel         string
	LogFormat        string
	NotionAPIKey     string
	NotionDatabaseID string
	NotionBaseURL    string
	NotionVersion    string
	NotionRPS        float64
	GeminiAPIKey     string
	GeminiModel      string
	OracleTimeout    time.Duration
	RevalidateSecret string
	IndexCacheTTL    time.Duration
	SectionCacheTTL  time.Duration
	EnrichSections   bool
	CacheBackend     string
	RedisURL         string
	MongoURI         string
	MongoDatabase    string
	CacheHeaderMode  string
	SourcesFile      string
	UserAgent        string
	RateLimitRPS     float64
	RateLimitBurst   int
}

// LoadConfig reads configuration from the environment. A .env file in the
// working directory, when present, is loaded first and never overrides
// variables that are already set.
func LoadConfig() Config {
	_ = godotenv.Load()

	return Config{
		HTTPAddr:         getEnv("HTTP_ADDR", ":8080"),
		LogLevel:         strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:        strings.ToLower(getEnv("LOG_FORMAT", "text")),
		NotionAPIKey:     strings.TrimSpace(os.Getenv("NOTION_API_KEY")),
		NotionDatabaseID: strings.TrimSpace(os.Getenv("NOTION_DATABASE_ID")),
		NotionBaseURL:    strings.TrimRight(getEnv("NOTION_BASE_URL", "https://api.notion.com/v1"), "/"),
		NotionVersion:    getEnv("NOTION_VERSION", "2022-06-28"),
		NotionRPS:        getEnvFloat("NOTION_RPS", 3),
		GeminiAPIKey:     strings.TrimSpace(os.Getenv("GEMINI_API_KEY")),
		GeminiModel:      getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
		OracleTimeout:    time.Duration(getEnvInt("ORACLE_TIMEOUT_SECONDS", 20)) * time.Second,
		RevalidateSecret: strings.TrimSpace(os.Getenv("REVALIDATION_SECRET")),
		IndexCacheTTL:    time.Duration(getEnvInt("INDEX_CACHE_TTL_SECONDS", 300)) * time.Second,
		SectionCacheTTL:  time.Duration(getEnvInt("SECTION_CACHE_TTL_SECONDS", 60)) * time.Second,
		EnrichSections:   getEnvBool("SECTION_ENRICH_THUMBNAILS", false),
		CacheBackend:     strings.ToLower(getEnv("CACHE_BACKEND", "memory")),
		RedisURL:         getEnv("REDIS_URL", ""),
		MongoURI:         getEnv("MONGO_URI", ""),
		MongoDatabase:    getEnv("MONGO_DATABASE", "kbservice"),
		CacheHeaderMode:  strings.ToLower(getEnv("CACHE_HEADER_MODE", "no-store")),
		SourcesFile:      getEnv("SOURCES_FILE", ""),
		UserAgent:        getEnv("SCRAPE_USER_AGENT", "Mozilla/5.0 (compatible; FigmapediaBot/1.0)"),
		RateLimitRPS:     getEnvFloat("RATE_LIMIT_RPS", 50),
		RateLimitBurst:   getEnvInt("RATE_LIMIT_BURST", 100),
	}
}

func getEnv(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func getEnvInt(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(raw, 64)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	raw := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if raw == "" {
		return fallback
	}
	switch raw {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
