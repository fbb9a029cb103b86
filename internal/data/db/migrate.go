package db

import (
	"gorm.io/gorm"

	"github.com/beaconkb/beacon-backend/internal/types"
)

func AutoMigrateAll(gdb *gorm.DB) error {
	return gdb.AutoMigrate(

		// =========================
		// Ingested facts
		// =========================
		&types.Signal{},
		&types.SignalExtraction{},
		&types.SignalEmbedding{},
		&types.Entity{},

		// =========================
		// Consistency + failure bookkeeping
		// =========================
		&types.GraphSyncBacklogItem{},
		&types.FailedSignalAttempt{},
		&types.DeadLetterEntry{},

		// =========================
		// Cost accounting
		// =========================
		&types.CostLog{},
		&types.AgentBudget{},
	)
}

func (s *PostgresService) AutoMigrateAll() error {
	return AutoMigrateAll(s.db)
}
