package domain

import "time"

// Config holds the complete Riskboard configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server" yaml:"server"`

	// Tier determines feature availability
	Tier Tier `json:"tier" yaml:"tier"`

	// Scoring selects and configures the scorer used for uploads.
	Scoring ScoringConfig `json:"scoring" yaml:"scoring"`

	// Analysis tunes classification, aggregation and the table view.
	Analysis AnalysisConfig `json:"analysis" yaml:"analysis"`

	// Component configurations
	Repository RepositoryConfig `json:"repository" yaml:"repository"`
	Cache      CacheConfig      `json:"cache" yaml:"cache"`
	EventBus   EventBusConfig   `json:"eventBus" yaml:"eventBus"`

	// Observability
	Logging LoggingConfig `json:"logging" yaml:"logging"`
	Tracing TracingConfig `json:"tracing" yaml:"tracing"`
}

// ScoringMode determines how uploaded files are scored.
type ScoringMode string

const (
	// ScoringRemote posts the file to the external fraud-scoring service.
	ScoringRemote ScoringMode = "remote"

	// ScoringExpression scores each row locally with a CEL expression.
	// Meant for offline use when the service is unavailable.
	ScoringExpression ScoringMode = "expression"
)

// ScoringConfig holds scorer settings.
type ScoringConfig struct {
	Mode      ScoringMode   `json:"mode" yaml:"mode"`
	Endpoint  string        `json:"endpoint" yaml:"endpoint"`   // base URL of the scoring service
	Path      string        `json:"path" yaml:"path"`           // upload path, "/predict" by default
	FileField string        `json:"fileField" yaml:"fileField"` // multipart field name
	Timeout   time.Duration `json:"timeout" yaml:"timeout"`

	// Expression is the CEL program used in expression mode. It must
	// evaluate to a number.
	Expression string `json:"expression" yaml:"expression"`
	Workers    int    `json:"workers" yaml:"workers"`
}

// AnalysisConfig holds result-set settings.
type AnalysisConfig struct {
	MediumThreshold float64 `json:"mediumThreshold" yaml:"mediumThreshold"`
	HighThreshold   float64 `json:"highThreshold" yaml:"highThreshold"`
	TopN            int     `json:"topN" yaml:"topN"`
	PageSize        int     `json:"pageSize" yaml:"pageSize"`
	DemoCount       int     `json:"demoCount" yaml:"demoCount"`
	MaxDemoCount    int     `json:"maxDemoCount" yaml:"maxDemoCount"`
	MockSeed        int64   `json:"mockSeed" yaml:"mockSeed"`

	MaxUploadBytes   int64         `json:"maxUploadBytes" yaml:"maxUploadBytes"`
	UploadsPerMinute int           `json:"uploadsPerMinute" yaml:"uploadsPerMinute"` // 0 disables the limit
	ProgressInterval time.Duration `json:"progressInterval" yaml:"progressInterval"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host" yaml:"host"`
	Port         int    `json:"port" yaml:"port"`
	ReadTimeout  int    `json:"readTimeout" yaml:"readTimeout"`   // seconds
	WriteTimeout int    `json:"writeTimeout" yaml:"writeTimeout"` // seconds
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`   // debug, info, warn, error
	Format string `json:"format" yaml:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings. Spans go to the globally
// registered tracer provider; ServiceName prefixes the tracer names.
type TracingConfig struct {
	Enabled     bool   `json:"enabled" yaml:"enabled"`
	ServiceName string `json:"serviceName" yaml:"serviceName"`
}

// Tier represents the product tier.
type Tier string

const (
	// TierCommunity is the free tier with SQLite + channels
	TierCommunity Tier = "community"

	// TierPro is the paid tier with PostgreSQL + NATS + Redis
	TierPro Tier = "pro"
)

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 120,
		},
		Tier: TierCommunity,
		Scoring: ScoringConfig{
			Mode:      ScoringRemote,
			Endpoint:  "http://localhost:5000",
			Path:      "/predict",
			FileField: "file",
			Timeout:   90 * time.Second,
			Workers:   8,
		},
		Analysis: AnalysisConfig{
			MediumThreshold:  0.3,
			HighThreshold:    0.7,
			TopN:             5,
			PageSize:         10000,
			DemoCount:        50,
			MaxDemoCount:     1_000_000,
			MaxUploadBytes:   256 << 20,
			ProgressInterval: 800 * time.Millisecond,
		},
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./riskboard.db",
		},
		Cache: CacheConfig{
			Type:          "memory",
			LocalMaxSize:  64,
			LocalMaxBytes: 512 << 20,
			LocalTTL:      10 * time.Minute,
			ScoredTTL:     10 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "riskboard",
		},
	}
}

// ProConfig returns a configuration for Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "riskboard",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   64,
		LocalMaxBytes:  128 << 20,
		LocalTTL:       time.Minute,
		ScoredTTL:      time.Hour,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
		NATSQueueGroup:    "riskboard-audit",
	}
	cfg.Analysis.UploadsPerMinute = 30
	cfg.Tracing.Enabled = true
	return cfg
}
