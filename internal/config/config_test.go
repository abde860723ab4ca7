package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/stayops/stayops/internal/types"
)

func validConfig() Configuration {
	return Configuration{
		Deployment: DeploymentConfig{Mode: types.ModeLocal},
		Server:     ServerConfig{Address: ":8080"},
		Logging:    LoggingConfig{Level: types.LogLevelInfo},
		Postgres: PostgresConfig{
			Host:   "localhost",
			Port:   5432,
			User:   "stayops",
			DBName: "stayops",
		},
		Outbox: OutboxConfig{
			Workers:           2,
			BatchSize:         50,
			PollInterval:      time.Second,
			PublishTimeout:    10 * time.Second,
			VisibilityTimeout: time.Minute,
			MaxAttempts:       8,
			InitialBackoff:    2 * time.Second,
			MaxBackoff:        5 * time.Minute,
		},
		Numbering: NumberingConfig{
			AllocateTimeout: 5 * time.Second,
			LockTimeout:     3 * time.Second,
		},
	}
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, validConfig().Validate())
}

func TestConfigValidateBackoffOrdering(t *testing.T) {
	cfg := validConfig()
	cfg.Outbox.InitialBackoff = 10 * time.Minute
	require.Error(t, cfg.Validate())
}

func TestConfigValidatePublishTimeoutInsideVisibility(t *testing.T) {
	cfg := validConfig()
	cfg.Outbox.PublishTimeout = cfg.Outbox.VisibilityTimeout
	require.Error(t, cfg.Validate())

	cfg.Outbox.PublishTimeout = cfg.Outbox.VisibilityTimeout + time.Second
	require.Error(t, cfg.Validate())

	cfg.Outbox.PublishTimeout = cfg.Outbox.VisibilityTimeout - time.Second
	require.NoError(t, cfg.Validate())
}

func TestConfigValidateRequiresWorkers(t *testing.T) {
	cfg := validConfig()
	cfg.Outbox.Workers = 0
	require.Error(t, cfg.Validate())
}
