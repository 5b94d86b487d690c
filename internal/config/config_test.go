package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/DeafMist/city-pulse/internal/config"
	"github.com/stretchr/testify/require"
)

func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	for _, key := range []string{
		"ELASTICSEARCH_ADDR", "ELASTICSEARCH_CLOUD_ID", "NEWS_INDEX", "POSTS_INDEX", "EMBEDDING_DIMS",
		"GEMINI_API_KEY", "GOOGLE_CLOUD_PROJECT", "GOOGLE_CLOUD_LOCATION", "GEMINI_MODEL",
		"ENRICH_MAX_RETRIES", "ENRICH_BATCH_SIZE", "KAFKA_BROKERS", "KAFKA_PENDING_TOPIC",
		"KAFKA_CONSUMER_GROUP", "KEYWORDS", "CRAWLER_TARGETS_FILE", "ARTICLE_SOURCE",
		"ARTICLE_WORKERS", "TIMELINE_MAX_SCROLLS", "TIMELINE_IDLE_ROUNDS", "FETCH_RATE",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadCrawlerDefaults(t *testing.T) {
	isolate(t)
	t.Setenv("GEMINI_API_KEY", "test-key")

	cfg, err := config.LoadCrawler()
	require.NoError(t, err)

	require.Equal(t, []string{"http://elasticsearch:9200"}, cfg.ElasticsearchAddrs)
	require.Equal(t, "news_jakarta", cfg.NewsIndex)
	require.Equal(t, "twitter_jakarta", cfg.PostsIndex)
	require.Equal(t, config.DefaultKeywords, cfg.Keywords)
	require.Equal(t, 20, cfg.BatchSize)
	require.Equal(t, "http", cfg.ArticleSource)
	require.Equal(t, 2, cfg.Gemini.MaxRetries)
	require.Equal(t, 50, cfg.TimelineMaxScrolls)
	require.Equal(t, 5*time.Minute, cfg.TimelineMaxDuration)
	require.Equal(t, 1, cfg.TimelineIdleRounds)
	require.Empty(t, cfg.Kafka.Brokers)
	require.Equal(t, "pending_enrichment", cfg.Kafka.PendingTopic)
	require.True(t, cfg.BrowserHeadless)
}

func TestLoadCrawlerOverrides(t *testing.T) {
	isolate(t)
	t.Setenv("GOOGLE_CLOUD_PROJECT", "kota-project")
	t.Setenv("GOOGLE_CLOUD_LOCATION", "asia-southeast2")
	t.Setenv("ELASTICSEARCH_ADDR", "http://es-a:9200, http://es-b:9200")
	t.Setenv("KEYWORDS", "banjir jakarta, macet jakarta")
	t.Setenv("ENRICH_BATCH_SIZE", "5")
	t.Setenv("ARTICLE_SOURCE", "Browser")
	t.Setenv("KAFKA_BROKERS", "broker-a:29092,broker-b:29093")
	t.Setenv("TIMELINE_IDLE_ROUNDS", "3")
	t.Setenv("FETCH_RATE", "0.5")

	cfg, err := config.LoadCrawler()
	require.NoError(t, err)
	require.Equal(t, []string{"http://es-a:9200", "http://es-b:9200"}, cfg.ElasticsearchAddrs)
	require.Equal(t, []string{"banjir jakarta", "macet jakarta"}, cfg.Keywords)
	require.Equal(t, 5, cfg.BatchSize)
	require.Equal(t, "browser", cfg.ArticleSource)
	require.Equal(t, []string{"broker-a:29092", "broker-b:29093"}, cfg.Kafka.Brokers)
	require.Equal(t, 3, cfg.TimelineIdleRounds)
	require.InDelta(t, 0.5, cfg.FetchRate, 1e-9)
	require.True(t, cfg.Gemini.Configured())
	require.Equal(t, "kota-project", cfg.Gemini.Client().Project)
}

func TestLoadCrawlerValidation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "no model credentials", env: map[string]string{}},
		{name: "bad source", env: map[string]string{"GEMINI_API_KEY": "k", "ARTICLE_SOURCE": "ftp"}},
		{name: "zero batch", env: map[string]string{"GEMINI_API_KEY": "k", "ENRICH_BATCH_SIZE": "0"}},
		{name: "same index", env: map[string]string{"GEMINI_API_KEY": "k", "NEWS_INDEX": "x", "POSTS_INDEX": "x"}},
		{name: "unbounded timeline", env: map[string]string{"GEMINI_API_KEY": "k", "TIMELINE_MAX_SCROLLS": "-1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolate(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := config.LoadCrawler()
			require.Error(t, err)
		})
	}
}

func TestLoadCrawlerTargetsFile(t *testing.T) {
	isolate(t)
	t.Setenv("GEMINI_API_KEY", "k")

	path := filepath.Join(t.TempDir(), "targets.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
keywords:
  - banjir jakarta
  - "  "
  - transjakarta
timeline_url: https://x.com/pemprovdki
`), 0o600))
	t.Setenv("CRAWLER_TARGETS_FILE", path)

	cfg, err := config.LoadCrawler()
	require.NoError(t, err)
	require.Equal(t, []string{"banjir jakarta", "transjakarta"}, cfg.Keywords)
	require.Equal(t, "https://x.com/pemprovdki", cfg.TimelineURL)
}

func TestDotEnvDoesNotOverrideEnvironment(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("GEMINI_API_KEY=from-file\nNEWS_INDEX=from-file\n"), 0o600))
	t.Setenv("ENV_FILE", path)
	t.Setenv("NEWS_INDEX", "from-env")
	// godotenv only fills variables that are absent, not empty.
	require.NoError(t, os.Unsetenv("GEMINI_API_KEY"))

	cfg, err := config.LoadCrawler()
	require.NoError(t, err)
	require.Equal(t, "from-env", cfg.NewsIndex)
	require.Equal(t, "from-file", cfg.Gemini.APIKey)
}

func TestLoadWorker(t *testing.T) {
	isolate(t)
	t.Setenv("GEMINI_API_KEY", "k")
	t.Setenv("KAFKA_CONSUMER_GROUP", "custom-group")

	cfg, err := config.LoadWorker()
	require.NoError(t, err)
	require.Equal(t, []string{"kafka:9092"}, cfg.Kafka.Brokers)
	require.Equal(t, "custom-group", cfg.KafkaConsumer)
	require.Equal(t, 20000, cfg.DedupeCapacity)
	require.Equal(t, 24*time.Hour, cfg.DedupeTTL)
}

func TestLoadAPI(t *testing.T) {
	isolate(t)
	t.Setenv("API_BIND_ADDR", ":9090")
	t.Setenv("API_PAGE_SIZE", "15")
	t.Setenv("API_MAX_PAGE_SIZE", "200")
	t.Setenv("ELASTICSEARCH_ADDR", "http://api-es:9200")

	cfg, err := config.LoadAPI()
	require.NoError(t, err)
	require.Equal(t, ":9090", cfg.BindAddr)
	require.Equal(t, 15, cfg.DefaultPage)
	require.Equal(t, 200, cfg.MaxPage)
	require.Equal(t, []string{"http://api-es:9200"}, cfg.Elasticsearch().Addresses)
	require.False(t, cfg.Gemini.Configured())
}

func TestLoadAPIValidation(t *testing.T) {
	isolate(t)
	t.Setenv("API_PAGE_SIZE", "150")
	t.Setenv("API_MAX_PAGE_SIZE", "100")

	_, err := config.LoadAPI()
	require.Error(t, err)
}

func TestLoadRetention(t *testing.T) {
	isolate(t)
	t.Setenv("RETENTION_CRON", "12h")
	t.Setenv("RETENTION_MAX_AGE", "36h")
	t.Setenv("RETENTION_BATCH_SIZE", "123")

	cfg, err := config.LoadRetention()
	require.NoError(t, err)
	require.Equal(t, 12*time.Hour, cfg.Interval)
	require.Equal(t, 36*time.Hour, cfg.MaxAge)
	require.Equal(t, 123, cfg.BatchSize)
	require.Equal(t, []string{"news_jakarta", "twitter_jakarta"}, cfg.Indices())
}

func TestLoadRetentionValidation(t *testing.T) {
	isolate(t)
	t.Setenv("RETENTION_MAX_AGE", "0s")

	_, err := config.LoadRetention()
	require.Error(t, err)
}
