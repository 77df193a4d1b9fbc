// Package config loads and validates rowsearch configuration from a YAML file
// with environment-variable overrides. It provides typed structs for every
// subsystem (Index, Schema, Loader, Search, Server, Postgres, Kafka, Redis,
// etc.).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration.
type Config struct {
	Index    IndexConfig    `yaml:"index"`
	Schema   SchemaConfig   `yaml:"schema"`
	Loader   LoaderConfig   `yaml:"loader"`
	Search   SearchConfig   `yaml:"search"`
	Server   ServerConfig   `yaml:"server"`
	Postgres PostgresConfig `yaml:"postgres"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Redis    RedisConfig    `yaml:"redis"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// IndexConfig locates the index and controls segment sizing and caching.
type IndexConfig struct {
	Dir               string        `yaml:"dir"`
	SegmentMaxSize    int64         `yaml:"segmentMaxSize"`
	PostingsCacheSize int           `yaml:"postingsCacheSize"`
	OpenRetries       int           `yaml:"openRetries"`
	ReloadInterval    time.Duration `yaml:"reloadInterval"`
}

// FieldConfig declares one schema field.
type FieldConfig struct {
	Name    string `yaml:"name"`
	Indexed bool   `yaml:"indexed"`
	Stored  bool   `yaml:"stored"`
}

// SchemaConfig is the field layout used when an index is created.
type SchemaConfig struct {
	Fields []FieldConfig `yaml:"fields"`
}

// DerivedField builds a document field by joining record values. An empty
// Columns list joins every column in record order.
type DerivedField struct {
	Name      string   `yaml:"name"`
	Columns   []string `yaml:"columns"`
	Separator string   `yaml:"separator"`
}

// LoaderConfig controls how records are read and mapped to documents.
type LoaderConfig struct {
	Header     bool           `yaml:"header"`
	Delimiter  string         `yaml:"delimiter"`
	Comment    string         `yaml:"comment"`
	LazyQuotes bool           `yaml:"lazyQuotes"`
	ForceMerge bool           `yaml:"forceMerge"`
	Derived    []DerivedField `yaml:"derived"`
}

// SearchConfig controls query execution limits and output.
type SearchConfig struct {
	DefaultLimit int           `yaml:"defaultLimit"`
	MaxResults   int           `yaml:"maxResults"`
	Timeout      time.Duration `yaml:"timeout"`
	PrintField   string        `yaml:"printField"`
}

// ServerConfig holds HTTP server settings of serve mode.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	RequestTimeout  time.Duration `yaml:"requestTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	CORSOrigins     []string      `yaml:"corsOrigins"`
	// RateLimit is the sustained requests per second allowed per client
	// address; zero disables limiting.
	RateLimit float64 `yaml:"rateLimit"`
	RateBurst int     `yaml:"rateBurst"`
}

// PostgresConfig holds PostgreSQL connection parameters of the SQL source.
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
	Query           string        `yaml:"query"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// KafkaConfig holds broker and topic settings of index notifications.
type KafkaConfig struct {
	Enabled       bool        `yaml:"enabled"`
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	IndexComplete string `yaml:"indexComplete"`
}

// RedisConfig holds Redis connection and query-cache parameters.
type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. Missing values keep their defaults.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	return cfg, nil
}

// Default returns the built-in configuration without file or environment
// input.
func Default() *Config {
	return defaultConfig()
}

// defaultConfig indexes CSV rows whole: every cell of
// a row is searchable under "index" and the row is printed from "row".
func defaultConfig() *Config {
	return &Config{
		Index: IndexConfig{
			Dir:               "rowsearch_index",
			SegmentMaxSize:    64 * 1024 * 1024,
			PostingsCacheSize: 1024,
			OpenRetries:       3,
			ReloadInterval:    5 * time.Second,
		},
		Schema: SchemaConfig{
			Fields: []FieldConfig{
				{Name: "index", Indexed: true},
				{Name: "row", Stored: true},
			},
		},
		Loader: LoaderConfig{
			Delimiter:  ",",
			ForceMerge: true,
			Derived: []DerivedField{
				{Name: "index", Separator: " "},
				{Name: "row", Separator: " | "},
			},
		},
		Search: SearchConfig{
			DefaultLimit: 100,
			MaxResults:   10000,
			Timeout:      10 * time.Second,
			PrintField:   "row",
		},
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			RequestTimeout:  10 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			RateBurst:       20,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "rowsearch",
			User:            "rowsearch",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    5,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "rowsearch-serve",
			Topics: KafkaTopics{
				IndexComplete: "rowsearch.index.complete",
			},
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
			CacheTTL: 60 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "warn",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Port: 9090,
		},
	}
}

// Validate checks the values that cannot be corrected at use time.
func (c *Config) Validate() error {
	if c.Index.Dir == "" {
		return fmt.Errorf("index.dir must not be empty")
	}
	if c.Index.SegmentMaxSize <= 0 {
		return fmt.Errorf("index.segmentMaxSize must be positive, got %d", c.Index.SegmentMaxSize)
	}
	if len(c.Schema.Fields) == 0 {
		return fmt.Errorf("schema.fields must declare at least one field")
	}
	declared := make(map[string]struct{}, len(c.Schema.Fields))
	for _, f := range c.Schema.Fields {
		declared[f.Name] = struct{}{}
	}
	for _, d := range c.Loader.Derived {
		if _, ok := declared[d.Name]; !ok {
			return fmt.Errorf("loader.derived field %q is not declared in schema.fields", d.Name)
		}
	}
	if len([]rune(c.Loader.Delimiter)) != 1 {
		return fmt.Errorf("loader.delimiter must be a single character, got %q", c.Loader.Delimiter)
	}
	if len([]rune(c.Loader.Comment)) > 1 {
		return fmt.Errorf("loader.comment must be at most one character, got %q", c.Loader.Comment)
	}
	if c.Search.DefaultLimit < 0 || c.Search.MaxResults < 0 {
		return fmt.Errorf("search limits must not be negative")
	}
	if c.Server.RateLimit < 0 || (c.Server.RateLimit > 0 && c.Server.RateBurst < 1) {
		return fmt.Errorf("server.rateLimit must not be negative and needs a positive server.rateBurst")
	}
	if c.Search.MaxResults > 0 && c.Search.DefaultLimit > c.Search.MaxResults {
		return fmt.Errorf("search.defaultLimit %d exceeds search.maxResults %d", c.Search.DefaultLimit, c.Search.MaxResults)
	}
	return nil
}

// applyEnvOverrides reads RS_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("RS_INDEX_DIR"); v != "" {
		cfg.Index.Dir = v
	}
	if v := os.Getenv("RS_INDEX_SEGMENT_MAX_SIZE"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Index.SegmentMaxSize = n
		}
	}
	if v := os.Getenv("RS_LOADER_FORCE_MERGE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Loader.ForceMerge = b
		}
	}
	if v := os.Getenv("RS_SEARCH_DEFAULT_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Search.DefaultLimit = n
		}
	}
	if v := os.Getenv("RS_SEARCH_PRINT_FIELD"); v != "" {
		cfg.Search.PrintField = v
	}
	if v := os.Getenv("RS_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("RS_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("RS_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("RS_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("RS_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("RS_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("RS_POSTGRES_SSLMODE"); v != "" {
		cfg.Postgres.SSLMode = v
	}
	if v := os.Getenv("RS_KAFKA_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Kafka.Enabled = b
		}
	}
	if v := os.Getenv("RS_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("RS_REDIS_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Redis.Enabled = b
		}
	}
	if v := os.Getenv("RS_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("RS_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("RS_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("RS_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("RS_METRICS_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Metrics.Enabled = b
		}
	}
}
