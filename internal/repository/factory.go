package repository

import (
	"github.com/stayops/stayops/internal/config"
	"github.com/stayops/stayops/internal/domain/outbox"
	"github.com/stayops/stayops/internal/domain/sequence"
	"github.com/stayops/stayops/internal/logger"
	"github.com/stayops/stayops/internal/postgres"
	pgRepo "github.com/stayops/stayops/internal/repository/postgres"
)

func NewOutboxRepository(db *postgres.DB, cfg *config.Configuration, logger *logger.Logger) outbox.Repository {
	return pgRepo.NewOutboxRepository(db, cfg, logger)
}

func NewSequenceRepository(db *postgres.DB, cfg *config.Configuration, logger *logger.Logger) sequence.Repository {
	return pgRepo.NewSequenceRepository(db, cfg, logger)
}
