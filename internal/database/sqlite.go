package database

import (
	"fmt"

	"github.com/Tendaimurambidzi/drift-9f114-sub000/internal/crew"
	"github.com/Tendaimurambidzi/drift-9f114-sub000/internal/live"
	"github.com/Tendaimurambidzi/drift-9f114-sub000/internal/pings"
	"github.com/Tendaimurambidzi/drift-9f114-sub000/internal/users"
	"github.com/Tendaimurambidzi/drift-9f114-sub000/internal/waves"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// OpenSQLite establishes a SQLite connection and performs schema migrations.
func OpenSQLite(path string, logger *zap.Logger) (*gorm.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(
		&waves.Wave{}, &waves.Echo{},
		&crew.Edge{}, &crew.MemberCount{},
		&pings.Ping{},
		&live.Session{}, &live.Poll{}, &live.PollVote{}, &live.PollTally{}, &live.Goal{},
		&users.Profile{},
		&migrationRecord{},
	); err != nil {
		return nil, err
	}

	if err := applyMigrations(db, logger); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("database initialized", zap.String("path", path))
	}

	return db, nil
}
