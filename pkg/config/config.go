package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config is the full service configuration, populated from the environment.
type Config struct {
	Service  ServiceConfig
	Server   ServerConfig
	Database DatabaseConfig
	NATS     NATSConfig
	Workflow WorkflowConfig
	Metrics  MetricsConfig
}

type ServiceConfig struct {
	Name        string `env:"SERVICE_NAME" envDefault:"be-crm-activities"`
	Version     string `env:"SERVICE_VERSION" envDefault:"dev"`
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
}

type ServerConfig struct {
	Port            int           `env:"HTTP_PORT" envDefault:"8086"`
	GRPCPort        int           `env:"GRPC_PORT" envDefault:"9086"`
	ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"15s"`
	IdleTimeout     time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"60s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"20s"`
	RequestTimeout  time.Duration `env:"REQUEST_TIMEOUT" envDefault:"30s"`
	AllowedOrigins  []string      `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"*"`
}

type DatabaseConfig struct {
	Host        string        `env:"DB_HOST" envDefault:"localhost"`
	Port        int           `env:"DB_PORT" envDefault:"5432"`
	User        string        `env:"DB_USER" envDefault:"postgres"`
	Password    string        `env:"DB_PASSWORD" envDefault:"postgres"`
	Database    string        `env:"DB_NAME" envDefault:"crm_activities"`
	SSLMode     string        `env:"DB_SSLMODE" envDefault:"disable"`
	MaxConns    int32         `env:"DB_MAX_CONNS" envDefault:"10"`
	MinConns    int32         `env:"DB_MIN_CONNS" envDefault:"2"`
	MaxConnTime time.Duration `env:"DB_MAX_CONN_LIFETIME" envDefault:"1h"`
	MaxIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" envDefault:"30m"`
	HealthCheck time.Duration `env:"DB_HEALTH_CHECK_PERIOD" envDefault:"1m"`
}

// NATSConfig configures notification publishing. An empty URL disables it.
type NATSConfig struct {
	URL            string        `env:"NATS_URL"`
	Subject        string        `env:"NATS_SUBJECT_PREFIX" envDefault:"notifications.crm"`
	Stream         string        `env:"NATS_STREAM" envDefault:"CRM_NOTIFICATIONS"`
	ConnectTimeout time.Duration `env:"NATS_CONNECT_TIMEOUT" envDefault:"5s"`
	PublishTimeout time.Duration `env:"NATS_PUBLISH_TIMEOUT" envDefault:"2s"`
}

// WorkflowConfig tunes the verification workflow.
type WorkflowConfig struct {
	// StoreDriver selects the activity store: "postgres" or "memory".
	StoreDriver       string   `env:"STORE_DRIVER" envDefault:"postgres"`
	SalesDepartmentID string   `env:"SALES_DEPARTMENT_ID" envDefault:"sales"`
	ManagerKeywords   []string `env:"MANAGER_TITLE_KEYWORDS" envSeparator:"," envDefault:"manager,head,lead,director"`
	// DirectoryFile seeds the in-memory directory when StoreDriver is "memory".
	DirectoryFile string `env:"DIRECTORY_FILE"`
}

type MetricsConfig struct {
	Enabled bool   `env:"METRICS_ENABLED" envDefault:"true"`
	Path    string `env:"METRICS_PATH" envDefault:"/metrics"`
}

// Load reads .env files when present and parses the environment.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env", ".env.local"}
	}
	existing := make([]string, 0, len(envFiles))
	for _, f := range envFiles {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		}
	}
	if len(existing) > 0 {
		if err := godotenv.Load(existing...); err != nil {
			return nil, fmt.Errorf("load env files: %w", err)
		}
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints that struct tags cannot express.
func (c *Config) Validate() error {
	switch c.Workflow.StoreDriver {
	case "postgres", "memory":
	default:
		return fmt.Errorf("STORE_DRIVER must be 'postgres' or 'memory', got '%s'", c.Workflow.StoreDriver)
	}
	if c.Workflow.SalesDepartmentID == "" {
		return fmt.Errorf("SALES_DEPARTMENT_ID is required")
	}
	if c.Server.Port <= 0 || c.Server.GRPCPort <= 0 {
		return fmt.Errorf("HTTP_PORT and GRPC_PORT must be positive")
	}
	return nil
}

// DSN renders the database connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Database, d.SSLMode)
}
