package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/DeafMist/city-pulse/internal/elasticsearch"
	"github.com/DeafMist/city-pulse/internal/enrich"
)

// DefaultKeywords are the search queries used when no targets file is configured.
var DefaultKeywords = []string{
	"buruh jakarta", "dki jakarta", "gubernur jakarta", "infrastruktur jakarta",
	"jakarta", "jakarta barat", "jakarta bencana", "jakarta ekonomi",
	"jakarta gubernur", "jakarta kesehatan", "jakarta masalah", "jakarta pasar",
	"jakarta pilkada", "jakarta pusat", "jakarta selatan", "jakarta terkini",
	"jakarta timur", "jakarta utara", "kriminal jakarta", "lalu lintas jakarta",
	"pajak jakarta", "pemerintah jakarta", "pemukiman jakarta", "penipuan jakarta",
	"pilkada jakarta", "upah jakarta",
}

// Common contains Elasticsearch parameters shared by every service.
type Common struct {
	ElasticsearchAddrs    []string
	ElasticsearchUsername string
	ElasticsearchPassword string
	ElasticsearchAPIKey   string
	ElasticsearchCloudID  string
	NewsIndex             string
	PostsIndex            string
	EmbeddingDims         int
}

// Elasticsearch returns the client settings.
func (c Common) Elasticsearch() elasticsearch.Config {
	return elasticsearch.Config{
		Addresses:     c.ElasticsearchAddrs,
		Username:      c.ElasticsearchUsername,
		Password:      c.ElasticsearchPassword,
		APIKey:        c.ElasticsearchAPIKey,
		CloudID:       c.ElasticsearchCloudID,
		EmbeddingDims: c.EmbeddingDims,
	}
}

// Gemini configures the generative model.
type Gemini struct {
	APIKey     string
	Project    string
	Location   string
	Model      string
	Timeout    time.Duration
	MaxRetries int
}

// Configured reports whether credentials for either backend are present.
func (g Gemini) Configured() bool {
	return g.APIKey != "" || (g.Project != "" && g.Location != "")
}

// Client returns the model client settings.
func (g Gemini) Client() enrich.GeminiConfig {
	return enrich.GeminiConfig{APIKey: g.APIKey, Project: g.Project, Location: g.Location, Model: g.Model}
}

// Kafka configures the pending-enrichment topic.
type Kafka struct {
	Brokers      []string
	PendingTopic string
}

// Crawler holds configuration for the news and timeline pipeline runs.
type Crawler struct {
	Common
	Gemini Gemini
	Kafka  Kafka

	Keywords       []string
	Languages      []string
	BatchSize      int
	FetchTimeout   time.Duration
	FetchRate      float64
	ArticleWorkers int
	ArticleSource  string
	ArticleSettle  time.Duration
	SerpWait       time.Duration

	BrowserHeadless    bool
	BrowserUserDataDir string

	TimelineURL         string
	TimelineMaxScrolls  int
	TimelineMaxDuration time.Duration
	TimelineIdleRounds  int
	TimelineScrollDelta int
	TimelineScrollPause time.Duration

	MetricsAddr string
}

// Worker holds configuration for the pending-enrichment consumer.
type Worker struct {
	Common
	Gemini         Gemini
	Kafka          Kafka
	KafkaConsumer  string
	DedupeCapacity int
	DedupeTTL      time.Duration
	QueueCapacity  int
}

// API describes HTTP-layer configuration.
type API struct {
	Common
	Gemini             Gemini
	BindAddr           string
	DefaultPage        int
	MaxPage            int
	GCSBucket          string
	GCSCredentialsFile string
	// ObjectDir confines the local paths the object endpoints may read or write.
	ObjectDir string
}

// Retention configures the cleanup loop.
type Retention struct {
	Common
	Interval  time.Duration
	MaxAge    time.Duration
	BatchSize int
}

// Indices returns the indices retention applies to.
func (r Retention) Indices() []string {
	return []string{r.NewsIndex, r.PostsIndex}
}

// Targets is the optional YAML file listing crawl targets.
type Targets struct {
	Keywords    []string `yaml:"keywords"`
	TimelineURL string   `yaml:"timeline_url"`
}

// LoadCrawler builds a Crawler config from environment variables and the optional targets file.
func LoadCrawler() (*Crawler, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	c := &Crawler{
		Common: loadCommon(),
		Gemini: loadGemini(),
		Kafka:  loadKafka(),

		Keywords:       splitAndTrim(getEnv("KEYWORDS", strings.Join(DefaultKeywords, ","))),
		Languages:      splitAndTrim(getEnv("LANGUAGES", "id,en")),
		BatchSize:      getInt("ENRICH_BATCH_SIZE", 20),
		FetchTimeout:   getDuration("FETCH_TIMEOUT", "30s"),
		FetchRate:      getFloat("FETCH_RATE", 1),
		ArticleWorkers: getInt("ARTICLE_WORKERS", 4),
		ArticleSource:  strings.ToLower(getEnv("ARTICLE_SOURCE", "http")),
		ArticleSettle:  getDuration("ARTICLE_SETTLE", "3s"),
		SerpWait:       getDuration("SERP_WAIT", "5s"),

		BrowserHeadless:    getBool("BROWSER_HEADLESS", true),
		BrowserUserDataDir: getEnv("BROWSER_USER_DATA_DIR", ""),

		TimelineURL:         getEnv("TIMELINE_URL", "https://x.com/home"),
		TimelineMaxScrolls:  getInt("TIMELINE_MAX_SCROLLS", 50),
		TimelineMaxDuration: getDuration("TIMELINE_MAX_DURATION", "5m"),
		TimelineIdleRounds:  getInt("TIMELINE_IDLE_ROUNDS", 1),
		TimelineScrollDelta: getInt("TIMELINE_SCROLL_DELTA", 1000),
		TimelineScrollPause: getDuration("TIMELINE_SCROLL_PAUSE", "2s"),

		MetricsAddr: getEnv("METRICS_ADDR", ""),
	}

	if path := getEnv("CRAWLER_TARGETS_FILE", ""); path != "" {
		targets, err := LoadTargets(path)
		if err != nil {
			return nil, err
		}
		if len(targets.Keywords) > 0 {
			c.Keywords = targets.Keywords
		}
		if targets.TimelineURL != "" {
			c.TimelineURL = targets.TimelineURL
		}
	}

	if err := c.Common.validate(); err != nil {
		return nil, err
	}
	if err := c.Gemini.validate(); err != nil {
		return nil, err
	}
	if len(c.Keywords) == 0 {
		return nil, fmt.Errorf("KEYWORDS must contain at least one keyword")
	}
	if c.BatchSize <= 0 {
		return nil, fmt.Errorf("ENRICH_BATCH_SIZE must be positive")
	}
	if c.ArticleWorkers <= 0 {
		return nil, fmt.Errorf("ARTICLE_WORKERS must be positive")
	}
	if c.ArticleSource != "http" && c.ArticleSource != "browser" {
		return nil, fmt.Errorf("ARTICLE_SOURCE must be http or browser, got %q", c.ArticleSource)
	}
	if c.FetchRate < 0 {
		return nil, fmt.Errorf("FETCH_RATE cannot be negative")
	}
	if c.TimelineMaxScrolls <= 0 {
		return nil, fmt.Errorf("TIMELINE_MAX_SCROLLS must be positive")
	}
	if c.TimelineMaxDuration <= 0 {
		return nil, fmt.Errorf("TIMELINE_MAX_DURATION must be positive")
	}
	if c.TimelineIdleRounds <= 0 {
		return nil, fmt.Errorf("TIMELINE_IDLE_ROUNDS must be positive")
	}

	return c, nil
}

// LoadWorker builds a Worker config from environment variables.
func LoadWorker() (*Worker, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	c := &Worker{
		Common:         loadCommon(),
		Gemini:         loadGemini(),
		Kafka:          loadKafka(),
		KafkaConsumer:  getEnv("KAFKA_CONSUMER_GROUP", "enrichment-worker"),
		DedupeCapacity: getInt("WORKER_DEDUPE_CAPACITY", 20000),
		DedupeTTL:      getDuration("WORKER_DEDUPE_TTL", "24h"),
		QueueCapacity:  getInt("WORKER_QUEUE_CAPACITY", 10),
	}
	if len(c.Kafka.Brokers) == 0 {
		c.Kafka.Brokers = []string{"kafka:9092"}
	}

	if err := c.Common.validate(); err != nil {
		return nil, err
	}
	if err := c.Gemini.validate(); err != nil {
		return nil, err
	}
	if c.QueueCapacity <= 0 {
		return nil, fmt.Errorf("WORKER_QUEUE_CAPACITY must be positive")
	}
	if c.DedupeCapacity <= 0 {
		return nil, fmt.Errorf("WORKER_DEDUPE_CAPACITY must be positive")
	}

	return c, nil
}

// LoadAPI builds an API config from environment variables.
func LoadAPI() (*API, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	c := &API{
		Common:             loadCommon(),
		Gemini:             loadGemini(),
		BindAddr:           getEnv("API_BIND_ADDR", "0.0.0.0:8080"),
		DefaultPage:        getInt("API_PAGE_SIZE", 20),
		MaxPage:            getInt("API_MAX_PAGE_SIZE", 100),
		GCSBucket:          getEnv("GCS_BUCKET", ""),
		GCSCredentialsFile: getEnv("GCS_CREDENTIALS_FILE", ""),
		ObjectDir:          getEnv("API_OBJECT_DIR", os.TempDir()),
	}

	if err := c.Common.validate(); err != nil {
		return nil, err
	}
	if c.DefaultPage <= 0 {
		return nil, fmt.Errorf("API_PAGE_SIZE must be positive")
	}
	if c.MaxPage <= 0 {
		return nil, fmt.Errorf("API_MAX_PAGE_SIZE must be positive")
	}
	if c.DefaultPage > c.MaxPage {
		return nil, fmt.Errorf("API_PAGE_SIZE cannot exceed API_MAX_PAGE_SIZE")
	}

	return c, nil
}

// LoadRetention builds a Retention config from environment variables.
func LoadRetention() (*Retention, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	c := &Retention{
		Common:    loadCommon(),
		Interval:  getDuration("RETENTION_CRON", "24h"),
		MaxAge:    getDuration("RETENTION_MAX_AGE", "720h"),
		BatchSize: getInt("RETENTION_BATCH_SIZE", 500),
	}

	if err := c.Common.validate(); err != nil {
		return nil, err
	}
	if c.MaxAge <= 0 {
		return nil, fmt.Errorf("RETENTION_MAX_AGE must be positive")
	}
	if c.Interval <= 0 {
		return nil, fmt.Errorf("RETENTION_CRON must be positive")
	}
	if c.BatchSize <= 0 {
		return nil, fmt.Errorf("RETENTION_BATCH_SIZE must be positive")
	}

	return c, nil
}

// LoadTargets reads a YAML targets file.
func LoadTargets(path string) (*Targets, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read targets file: %w", err)
	}
	var t Targets
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parse targets file %s: %w", path, err)
	}
	keywords := t.Keywords[:0]
	for _, k := range t.Keywords {
		if k = strings.TrimSpace(k); k != "" {
			keywords = append(keywords, k)
		}
	}
	t.Keywords = keywords
	return &t, nil
}

func loadCommon() Common {
	return Common{
		ElasticsearchAddrs:    splitAndTrim(getEnv("ELASTICSEARCH_ADDR", "http://elasticsearch:9200")),
		ElasticsearchUsername: getEnv("ELASTICSEARCH_USERNAME", ""),
		ElasticsearchPassword: getEnv("ELASTICSEARCH_PASSWORD", ""),
		ElasticsearchAPIKey:   getEnv("ELASTICSEARCH_API_KEY", ""),
		ElasticsearchCloudID:  getEnv("ELASTICSEARCH_CLOUD_ID", ""),
		NewsIndex:             getEnv("NEWS_INDEX", "news_jakarta"),
		PostsIndex:            getEnv("POSTS_INDEX", "twitter_jakarta"),
		EmbeddingDims:         getInt("EMBEDDING_DIMS", elasticsearch.DefaultEmbeddingDims),
	}
}

func (c Common) validate() error {
	if len(c.ElasticsearchAddrs) == 0 && c.ElasticsearchCloudID == "" {
		return fmt.Errorf("ELASTICSEARCH_ADDR or ELASTICSEARCH_CLOUD_ID is required")
	}
	if c.NewsIndex == c.PostsIndex {
		return fmt.Errorf("NEWS_INDEX and POSTS_INDEX must differ")
	}
	if c.EmbeddingDims <= 0 {
		return fmt.Errorf("EMBEDDING_DIMS must be positive")
	}
	return nil
}

func loadGemini() Gemini {
	return Gemini{
		APIKey:     getEnv("GEMINI_API_KEY", ""),
		Project:    getEnv("GOOGLE_CLOUD_PROJECT", ""),
		Location:   getEnv("GOOGLE_CLOUD_LOCATION", ""),
		Model:      getEnv("GEMINI_MODEL", "gemini-1.5-flash"),
		Timeout:    getDuration("ENRICH_TIMEOUT", "2m"),
		MaxRetries: getInt("ENRICH_MAX_RETRIES", 2),
	}
}

func (g Gemini) validate() error {
	if !g.Configured() {
		return fmt.Errorf("GEMINI_API_KEY or GOOGLE_CLOUD_PROJECT and GOOGLE_CLOUD_LOCATION are required")
	}
	if g.MaxRetries < 0 {
		return fmt.Errorf("ENRICH_MAX_RETRIES cannot be negative")
	}
	return nil
}

func loadKafka() Kafka {
	return Kafka{
		Brokers:      splitAndTrim(getEnv("KAFKA_BROKERS", "")),
		PendingTopic: getEnv("KAFKA_PENDING_TOPIC", "pending_enrichment"),
	}
}

// loadDotEnv reads ENV_FILE (default .env) when present. Variables already set win.
func loadDotEnv() error {
	path := getEnv("ENV_FILE", ".env")
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return fallback
}

func getFloat(key string, fallback float64) float64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			return parsed
		}
	}
	return fallback
}

func getDuration(key, fallback string) time.Duration {
	raw := getEnv(key, fallback)
	d, err := time.ParseDuration(raw)
	if err != nil {
		fd, ferr := time.ParseDuration(fallback)
		if ferr != nil {
			panic(fmt.Sprintf("invalid fallback duration %q: %v", fallback, ferr))
		}
		return fd
	}
	return d
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
