package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Qdrant    QdrantConfig    `mapstructure:"qdrant"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Jikan     JikanConfig     `mapstructure:"jikan"`
	Ingest    IngestConfig    `mapstructure:"ingest"`
	Transform TransformConfig `mapstructure:"transform"`
	RAG       RAGConfig       `mapstructure:"rag"`
	Supabase  SupabaseConfig  `mapstructure:"supabase"`
}

type ServerConfig struct {
	Port       int          `mapstructure:"port"`
	Mode       string       `mapstructure:"mode"`
	StaticDir  string       `mapstructure:"static_dir"`
	AdminToken string       `mapstructure:"admin_token"` // empty disables /api/admin
	CORS       CORSConfig   `mapstructure:"cors"`
	Cookie     CookieConfig `mapstructure:"cookie"`
}

type CORSConfig struct {
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
	AllowAllOrigins bool     `mapstructure:"allow_all_origins"`
}

// CookieConfig controls the session cookie carrying the provider access token.
type CookieConfig struct {
	Name   string `mapstructure:"name"`
	MaxAge int    `mapstructure:"max_age"`
	Secure bool   `mapstructure:"secure"`
	Domain string `mapstructure:"domain"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // sqlite or postgres
	Path            string        `mapstructure:"path"`
	URL             string        `mapstructure:"url"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
	LogLevel        string        `mapstructure:"log_level"`
}

// DSN returns the connection string for the configured driver.
func (c *DatabaseConfig) DSN() string {
	if c.Driver == "postgres" {
		return c.URL
	}
	if c.Path == "" {
		return "file::memory:?cache=shared"
	}
	return c.Path
}

type QdrantConfig struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	Collection string `mapstructure:"collection"`
	APIKey     string `mapstructure:"api_key"`
	UseTLS     bool   `mapstructure:"use_tls"`
}

// StorageConfig configures the S3-compatible bucket holding ingestion snapshots
// and mirrored cover images.
type StorageConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Type      string `mapstructure:"type"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	PublicURL string `mapstructure:"public_url"`
}

type LLMConfig struct {
	Model       string        `mapstructure:"model"`
	APIKey      string        `mapstructure:"api_key"`
	BaseURL     string        `mapstructure:"base_url"`
	Temperature float32       `mapstructure:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	MaxRetries  int           `mapstructure:"max_retries"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type JikanConfig struct {
	BaseURL      string        `mapstructure:"base_url"`
	RequestDelay time.Duration `mapstructure:"request_delay"`
	MaxRetries   int           `mapstructure:"max_retries"`
	BackoffBase  time.Duration `mapstructure:"backoff_base"`
	BackoffMax   time.Duration `mapstructure:"backoff_max"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

type IngestConfig struct {
	Pages        int    `mapstructure:"pages"`
	SnapshotPath string `mapstructure:"snapshot_path"`
	MirrorCovers bool   `mapstructure:"mirror_covers"`
}

type TransformConfig struct {
	ChunkSize    int `mapstructure:"chunk_size"`
	ChunkOverlap int `mapstructure:"chunk_overlap"`
	BatchSize    int `mapstructure:"batch_size"`
	Workers      int `mapstructure:"workers"`
	MaxDocuments int `mapstructure:"max_documents"`
}

type RAGConfig struct {
	TopK               int     `mapstructure:"top_k"`
	MaxRecommendations int     `mapstructure:"max_recommendations"`
	ScoreThreshold     float32 `mapstructure:"score_threshold"`
}

type SupabaseConfig struct {
	URL            string `mapstructure:"url"`
	APIKey         string `mapstructure:"api_key"`
	ServiceRoleKey string `mapstructure:"service_role_key"`
	JWTSecret      string `mapstructure:"jwt_secret"`
}

func Load(configPath string) (*Config, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Secrets and deployment endpoints come from the environment
	v.BindEnv("server.admin_token", "ADMIN_TOKEN")
	v.BindEnv("llm.api_key", "GOOGLE_API_KEY")
	v.BindEnv("llm.base_url", "LLM_BASE_URL")
	v.BindEnv("llm.model", "LLM_MODEL")
	v.BindEnv("embedding.api_key", "JINA_API_KEY")
	v.BindEnv("embedding.base_url", "OLLAMA_BASE_URL")
	v.BindEnv("supabase.url", "SUPABASE_API_URL")
	v.BindEnv("supabase.api_key", "SUPABASE_API_KEY")
	v.BindEnv("supabase.service_role_key", "SUPABASE_SERVICE_ROLE_KEY")
	v.BindEnv("supabase.jwt_secret", "SUPABASE_JWT_SECRET")
	v.BindEnv("database.url", "DATABASE_DSN", "DATABASE_URL")
	v.BindEnv("database.driver", "DATABASE_DRIVER")
	v.BindEnv("qdrant.host", "QDRANT_HOST")
	v.BindEnv("qdrant.port", "QDRANT_PORT")
	v.BindEnv("qdrant.api_key", "QDRANT_API_KEY")
	v.BindEnv("storage.endpoint", "S3_ENDPOINT")
	v.BindEnv("storage.access_key", "S3_ACCESS_KEY")
	v.BindEnv("storage.secret_key", "S3_SECRET_KEY")
	v.BindEnv("storage.bucket", "S3_BUCKET")
	v.BindEnv("storage.public_url", "S3_PUBLIC_URL")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.static_dir", "./frontend")
	v.SetDefault("server.cors.allow_all_origins", false)
	v.SetDefault("server.cors.allowed_origins", []string{"http://localhost:5500", "http://127.0.0.1:5500"})
	v.SetDefault("server.cookie.name", "access_token")
	v.SetDefault("server.cookie.max_age", 3600)
	v.SetDefault("server.cookie.secure", false)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/animerec.db")
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("database.log_level", "warn")

	v.SetDefault("qdrant.host", "localhost")
	v.SetDefault("qdrant.port", 6334)
	v.SetDefault("qdrant.collection", "anime")

	v.SetDefault("storage.enabled", false)
	v.SetDefault("storage.bucket", "animerec")
	v.SetDefault("storage.use_ssl", true)

	v.SetDefault("embedding.provider", "ollama")
	v.SetDefault("embedding.model", "bge-m3:567m")
	v.SetDefault("embedding.dimensions", 1024)
	v.SetDefault("embedding.timeout", 60*time.Second)
	v.SetDefault("embedding.max_retries", 3)

	v.SetDefault("llm.model", "gemini-2.5-flash")
	v.SetDefault("llm.base_url", "https://generativelanguage.googleapis.com/v1beta/openai")
	v.SetDefault("llm.temperature", 0.3)
	v.SetDefault("llm.max_tokens", 2048)
	v.SetDefault("llm.max_retries", 3)
	v.SetDefault("llm.timeout", 60*time.Second)

	v.SetDefault("jikan.base_url", "https://api.jikan.moe/v4")
	v.SetDefault("jikan.request_delay", 1500*time.Millisecond)
	v.SetDefault("jikan.max_retries", 3)
	v.SetDefault("jikan.backoff_base", 2*time.Second)
	v.SetDefault("jikan.backoff_max", 30*time.Second)
	v.SetDefault("jikan.timeout", 30*time.Second)

	v.SetDefault("ingest.pages", 20)
	v.SetDefault("ingest.snapshot_path", "artifacts/data.csv")
	v.SetDefault("ingest.mirror_covers", false)

	v.SetDefault("transform.chunk_size", 4000)
	v.SetDefault("transform.chunk_overlap", 400)
	v.SetDefault("transform.batch_size", 16)
	v.SetDefault("transform.workers", 4)
	v.SetDefault("transform.max_documents", 0)

	v.SetDefault("rag.top_k", 50)
	v.SetDefault("rag.max_recommendations", 10)
	v.SetDefault("rag.score_threshold", 0.0)
}

// Validate checks the settings the API server cannot run without.
func (c *Config) Validate() error {
	if err := c.Embedding.Validate(); err != nil {
		return err
	}
	if c.Supabase.URL == "" || c.Supabase.APIKey == "" {
		return fmt.Errorf("supabase: url and api_key are required (SUPABASE_API_URL, SUPABASE_API_KEY)")
	}
	if c.LLM.APIKey == "" {
		return fmt.Errorf("llm: api_key is required (GOOGLE_API_KEY)")
	}
	if c.Database.Driver == "postgres" && c.Database.URL == "" {
		return fmt.Errorf("database: url is required for the postgres driver (DATABASE_URL)")
	}
	return nil
}

// ValidatePipeline checks the settings the ingest and transform commands share.
// Embedding credentials are left to the transform step so that an ingest-only
// run does not need them.
func (c *Config) ValidatePipeline() error {
	if c.Database.Driver == "postgres" && c.Database.URL == "" {
		return fmt.Errorf("database: url is required for the postgres driver (DATABASE_URL)")
	}
	if c.Qdrant.Host == "" || c.Qdrant.Collection == "" {
		return fmt.Errorf("qdrant: host and collection are required (QDRANT_HOST)")
	}
	if c.Embedding.Dimensions <= 0 {
		return fmt.Errorf("embedding: dimensions must be positive")
	}
	if c.Ingest.Pages <= 0 {
		return fmt.Errorf("ingest: pages must be positive")
	}
	if c.Transform.ChunkSize <= 0 || c.Transform.ChunkOverlap < 0 || c.Transform.ChunkOverlap >= c.Transform.ChunkSize {
		return fmt.Errorf("transform: need chunk_size > chunk_overlap >= 0, got %d/%d",
			c.Transform.ChunkSize, c.Transform.ChunkOverlap)
	}
	if c.Storage.Enabled && c.Storage.Bucket == "" {
		return fmt.Errorf("storage: bucket is required when storage is enabled (S3_BUCKET)")
	}
	return nil
}

// GetStorageConfig returns the object storage settings with the type inferred
// when it was left empty.
func (c *Config) GetStorageConfig() StorageConfig {
	sc := c.Storage
	if sc.Type == "" {
		endpoint := strings.ToLower(sc.Endpoint)
		switch {
		case strings.Contains(endpoint, "r2.cloudflarestorage.com"):
			sc.Type = "r2"
		case strings.Contains(endpoint, "supabase.co"):
			sc.Type = "supabase"
		default:
			sc.Type = "s3compatible"
		}
	}
	return sc
}
