// Package domain defines the core interfaces and types for Riskboard.
package domain

import (
	"context"
	"time"
)

// Repository persists the analysis audit trail.
// All methods require tenantID for strict multi-tenancy isolation.
type Repository interface {
	SaveAnalysis(ctx context.Context, tenantID string, rec *AnalysisRecord) error
	GetAnalysis(ctx context.Context, tenantID string, id string) (*AnalysisRecord, error)
	// ListAnalyses returns the newest records first. limit <= 0 means 50.
	ListAnalyses(ctx context.Context, tenantID string, limit int) ([]*AnalysisRecord, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `yaml:"driver"`

	// SQLite specific
	SQLitePath string `yaml:"sqlitePath"`

	// PostgreSQL specific
	PostgresHost     string `yaml:"postgresHost"`
	PostgresPort     int    `yaml:"postgresPort"`
	PostgresUser     string `yaml:"postgresUser"`
	PostgresPassword string `yaml:"postgresPassword"`
	PostgresDB       string `yaml:"postgresDB"`
	PostgresSSLMode  string `yaml:"postgresSSLMode"`

	// Connection pool settings
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}
