package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// SchemaDim is the vector width baked into the migrations. EMBEDDER_DIM is
// kept as configuration so a redeployment with regenerated migrations only
// has to change one constant, but at runtime the two must agree.
const SchemaDim = 128

type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Embedder   EmbedderConfig
	Rasterizer RasterizerConfig
	Storage    StorageConfig
	Ingest     IngestConfig
	Search     SearchConfig
}

type ServerConfig struct {
	Host string
	Port int
}

type DatabaseConfig struct {
	URL            string
	MaxConns       int
	MinConns       int
	MigrationsPath string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type EmbedderConfig struct {
	URL       string
	Token     string
	Dim       int           // vector width, fixed per deployment
	PatchGrid int           // vectors per page image
	BatchSize int           // images per embedding request
	BatchWait time.Duration // pause between batches
	Metric    string        // "dot" or "cosine"
}

type RasterizerConfig struct {
	URL          string
	MaxSizeBytes int64
}

type StorageConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type IngestConfig struct {
	MaxAttempts int
	BackoffBase time.Duration
	BackoffCap  time.Duration
}

type SearchConfig struct {
	CandidatesPerVector int
	DefaultTopK         int
}

func Load() (*Config, error) {
	port, err := getEnvInt("SERVER_PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("invalid SERVER_PORT: %w", err)
	}

	maxConns, err := getEnvInt("DB_MAX_CONNS", 20)
	if err != nil {
		return nil, fmt.Errorf("invalid DB_MAX_CONNS: %w", err)
	}

	minConns, err := getEnvInt("DB_MIN_CONNS", 5)
	if err != nil {
		return nil, fmt.Errorf("invalid DB_MIN_CONNS: %w", err)
	}

	redisDB, err := getEnvInt("REDIS_DB", 0)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	dim, err := getEnvInt("EMBEDDER_DIM", 128)
	if err != nil {
		return nil, fmt.Errorf("invalid EMBEDDER_DIM: %w", err)
	}

	patchGrid, err := getEnvInt("EMBEDDER_PATCH_GRID", 1030)
	if err != nil {
		return nil, fmt.Errorf("invalid EMBEDDER_PATCH_GRID: %w", err)
	}

	batchSize, err := getEnvInt("EMBEDDER_BATCH_SIZE", 3)
	if err != nil {
		return nil, fmt.Errorf("invalid EMBEDDER_BATCH_SIZE: %w", err)
	}

	maxAttempts, err := getEnvInt("INGEST_MAX_ATTEMPTS", 3)
	if err != nil {
		return nil, fmt.Errorf("invalid INGEST_MAX_ATTEMPTS: %w", err)
	}

	candidates, err := getEnvInt("SEARCH_CANDIDATES_PER_VECTOR", 100)
	if err != nil {
		return nil, fmt.Errorf("invalid SEARCH_CANDIDATES_PER_VECTOR: %w", err)
	}

	topK, err := getEnvInt("SEARCH_DEFAULT_TOP_K", 3)
	if err != nil {
		return nil, fmt.Errorf("invalid SEARCH_DEFAULT_TOP_K: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
			Port: port,
		},
		Database: DatabaseConfig{
			URL:            getEnv("DATABASE_URL", ""),
			MaxConns:       maxConns,
			MinConns:       minConns,
			MigrationsPath: getEnv("MIGRATIONS_PATH", "migrations"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		Embedder: EmbedderConfig{
			URL:       getEnv("EMBEDDER_URL", ""),
			Token:     getEnv("EMBEDDER_TOKEN", ""),
			Dim:       dim,
			PatchGrid: patchGrid,
			BatchSize: batchSize,
			BatchWait: getEnvDuration("EMBEDDER_BATCH_WAIT", time.Second),
			Metric:    getEnv("EMBEDDER_METRIC", "dot"),
		},
		Rasterizer: RasterizerConfig{
			URL:          getEnv("RASTERIZER_URL", ""),
			MaxSizeBytes: 50 << 20,
		},
		Storage: StorageConfig{
			Endpoint:  getEnv("MINIO_ENDPOINT", ""),
			AccessKey: getEnv("MINIO_ACCESS_KEY", ""),
			SecretKey: getEnv("MINIO_SECRET_KEY", ""),
			Bucket:    getEnv("MINIO_BUCKET", "page-images"),
			UseSSL:    getEnv("MINIO_USE_SSL", "false") == "true",
		},
		Ingest: IngestConfig{
			MaxAttempts: maxAttempts,
			BackoffBase: getEnvDuration("INGEST_BACKOFF_BASE", 5*time.Second),
			BackoffCap:  getEnvDuration("INGEST_BACKOFF_CAP", time.Minute),
		},
		Search: SearchConfig{
			CandidatesPerVector: candidates,
			DefaultTopK:         topK,
		},
	}

	return cfg, nil
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func (c *Config) Validate() error {
	var missing []string
	if c.Database.URL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if c.Embedder.URL == "" {
		missing = append(missing, "EMBEDDER_URL")
	}
	if c.Rasterizer.URL == "" {
		missing = append(missing, "RASTERIZER_URL")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required env vars: %s", strings.Join(missing, ", "))
	}
	if c.Embedder.Metric != "dot" && c.Embedder.Metric != "cosine" {
		return fmt.Errorf("EMBEDDER_METRIC must be \"dot\" or \"cosine\", got %q", c.Embedder.Metric)
	}
	if c.Embedder.Dim <= 0 || c.Embedder.PatchGrid <= 0 {
		return fmt.Errorf("EMBEDDER_DIM and EMBEDDER_PATCH_GRID must be positive")
	}
	// The migrations declare vector(128) columns and matching halfvec
	// indexes. A different width needs regenerated migrations, so refuse it
	// here instead of failing on the first insert with a raw Postgres error.
	if c.Embedder.Dim != SchemaDim {
		return fmt.Errorf("EMBEDDER_DIM=%d does not match the vector(%d) schema; regenerate the migrations for a different width", c.Embedder.Dim, SchemaDim)
	}
	if c.Ingest.MaxAttempts <= 0 {
		return fmt.Errorf("INGEST_MAX_ATTEMPTS must be positive")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	return strconv.Atoi(v)
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
