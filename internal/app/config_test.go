package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadConfigDefaults(t *testing.T) {
	for _, key := range []string{"HTTP_ADDR", "INDEX_CACHE_TTL_SECONDS", "SECTION_CACHE_TTL_SECONDS", "CACHE_BACKEND", "NOTION_RPS"} {
		t.Setenv(key, "")
	}

	cfg := LoadConfig()

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, 5*time.Minute, cfg.IndexCacheTTL)
	assert.Equal(t, time.Minute, cfg.SectionCacheTTL)
	assert.Equal(t, "memory", cfg.CacheBackend)
	assert.Equal(t, 3.0, cfg.NotionRPS)
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("INDEX_CACHE_TTL_SECONDS", "30")
	t.Setenv("CACHE_BACKEND", "Redis")
	t.Setenv("SECTION_ENRICH_THUMBNAILS", "yes")
	t.Setenv("NOTION_BASE_URL", "http://localhost:9999/v1/")

	cfg := LoadConfig()

	assert.Equal(t, 30*time.Second, cfg.IndexCacheTTL)
	assert.Equal(t, "redis", cfg.CacheBackend)
	assert.True(t, cfg.EnrichSections)
	assert.Equal(t, "http://localhost:9999/v1", cfg.NotionBaseURL)
}

func TestGetEnvIntRejectsInvalid(t *testing.T) {
	t.Setenv("X_TEST_INT", "-4")
	assert.Equal(t, 7, getEnvInt("X_TEST_INT", 7))
	t.Setenv("X_TEST_INT", "abc")
	assert.Equal(t, 7, getEnvInt("X_TEST_INT", 7))
}
