package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"
)

// Store groups the repositories sharing one database handle.
type Store struct {
	Sites        *SiteRepository
	PendingTasks *PendingTaskRepository
	Instructions *InstructionRepository
	Runs         *RunRepository
	Settings     *SettingsRepository

	db *gorm.DB
}

// NewStore creates all repositories on db.
func NewStore(db *gorm.DB) *Store {
	return &Store{
		Sites:        NewSiteRepository(db),
		PendingTasks: NewPendingTaskRepository(db),
		Instructions: NewInstructionRepository(db),
		Runs:         NewRunRepository(db),
		Settings:     NewSettingsRepository(db),
		db:           db,
	}
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database handle: %w", err)
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
