package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Shopify/sarama"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/stayops/stayops/internal/types"
)

type Configuration struct {
	Deployment DeploymentConfig `validate:"required"`
	Server     ServerConfig     `validate:"required"`
	Logging    LoggingConfig    `validate:"required"`
	Postgres   PostgresConfig   `validate:"required"`
	Kafka      KafkaConfig
	Outbox     OutboxConfig    `validate:"required"`
	Numbering  NumberingConfig `validate:"required"`
}

type DeploymentConfig struct {
	Mode types.RunMode `validate:"required"`
}

type ServerConfig struct {
	Address string `validate:"required"`
}

type LoggingConfig struct {
	Level types.LogLevel `validate:"required"`
}

type PostgresConfig struct {
	Host                   string
	Port                   int
	User                   string
	Password               string
	DBName                 string
	SSLMode                string
	MaxOpenConns           int
	MaxIdleConns           int
	ConnMaxLifetimeMinutes int
	AutoMigrate            bool
}

type KafkaConfig struct {
	Brokers       []string
	ClientID      string
	UseSASL       bool
	SASLMechanism sarama.SASLMechanism
	SASLUser      string
	SASLPassword  string
}

// OutboxConfig controls the relay worker pool and retry policy.
type OutboxConfig struct {
	Workers           int           `validate:"required,min=1"`
	BatchSize         int           `validate:"required,min=1"`
	PollInterval      time.Duration `validate:"required"`
	PublishTimeout    time.Duration `validate:"required"`
	VisibilityTimeout time.Duration `validate:"required"`
	MaxAttempts       int           `validate:"required,min=1"`
	InitialBackoff    time.Duration `validate:"required"`
	MaxBackoff        time.Duration `validate:"required"`
	DeleteOnPublish   bool
	MonitorInterval   time.Duration
}

// NumberingConfig bounds the allocator's independent transaction so a caller
// contending on a hot scope fails fast instead of queueing behind a long lock.
type NumberingConfig struct {
	AllocateTimeout time.Duration `validate:"required"`
	LockTimeout     time.Duration `validate:"required"`
}

func NewConfig() (*Configuration, error) {
	// Load .env if present; viper env bindings pick the values up
	_ = godotenv.Load()

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./internal/config")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/stayops")

	// Set up environment variables support
	v.SetEnvPrefix("STAYOPS")
	v.SetEnvKeyReplacer(strings.NewReplacer(
		".", "_",
		"-", "_",
	))
	v.AutomaticEnv()

	setDefaults(v)

	// Read config file if exists
	if err := v.ReadInConfig(); err != nil {
		if !errors.As(err, &viper.ConfigFileNotFoundError{}) {
			return nil, err
		}
	}

	var config Configuration
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	// Validate configuration
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("deployment.mode", string(types.ModeLocal))
	v.SetDefault("server.address", ":8080")
	v.SetDefault("logging.level", string(types.LogLevelInfo))

	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.sslmode", "disable")
	v.SetDefault("postgres.maxopenconns", 10)
	v.SetDefault("postgres.maxidleconns", 5)
	v.SetDefault("postgres.connmaxlifetimeminutes", 30)

	v.SetDefault("outbox.workers", 2)
	v.SetDefault("outbox.batchsize", 50)
	v.SetDefault("outbox.pollinterval", "1s")
	v.SetDefault("outbox.publishtimeout", "10s")
	v.SetDefault("outbox.visibilitytimeout", "60s")
	v.SetDefault("outbox.maxattempts", 8)
	v.SetDefault("outbox.initialbackoff", "2s")
	v.SetDefault("outbox.maxbackoff", "5m")
	v.SetDefault("outbox.monitorinterval", "30s")

	v.SetDefault("numbering.allocatetimeout", "5s")
	v.SetDefault("numbering.locktimeout", "3s")
}

func (c Configuration) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.Outbox.MaxBackoff < c.Outbox.InitialBackoff {
		return fmt.Errorf("outbox.maxbackoff must be >= outbox.initialbackoff")
	}
	// A publish attempt must finish inside the visibility window, otherwise
	// claimed rows get reclaimed mid-attempt and every slow publish becomes a
	// duplicate
	if c.Outbox.PublishTimeout >= c.Outbox.VisibilityTimeout {
		return fmt.Errorf("outbox.visibilitytimeout must exceed outbox.publishtimeout")
	}
	return nil
}

// GetDefaultConfig returns a default configuration for local development
// This is useful for running scripts or other non-web applications
func GetDefaultConfig() *Configuration {
	return &Configuration{
		Deployment: DeploymentConfig{Mode: types.ModeLocal},
		Server:     ServerConfig{Address: ":8080"},
		Logging:    LoggingConfig{Level: types.LogLevelDebug},
		Outbox: OutboxConfig{
			Workers:           1,
			BatchSize:         10,
			PollInterval:      time.Second,
			PublishTimeout:    10 * time.Second,
			VisibilityTimeout: time.Minute,
			MaxAttempts:       8,
			InitialBackoff:    2 * time.Second,
			MaxBackoff:        5 * time.Minute,
			MonitorInterval:   30 * time.Second,
		},
		Numbering: NumberingConfig{
			AllocateTimeout: 5 * time.Second,
			LockTimeout:     3 * time.Second,
		},
	}
}

func (c PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"user=%s password=%s dbname=%s host=%s port=%d sslmode=%s",
		c.User,
		c.Password,
		c.DBName,
		c.Host,
		c.Port,
		c.SSLMode,
	)
}
