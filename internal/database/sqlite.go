package database

import (
	"fmt"

	"github.com/glebarez/sqlite"
	"github.com/tavernfolk/tavern/internal/dice"
	"github.com/tavernfolk/tavern/internal/identity"
	"github.com/tavernfolk/tavern/internal/initiative"
	"github.com/tavernfolk/tavern/internal/membership"
	"github.com/tavernfolk/tavern/internal/notes"
	"github.com/tavernfolk/tavern/internal/tables"
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

	err = db.AutoMigrate(
		&identity.User{},
		&tables.Table{},
		&membership.Membership{},
		&notes.Note{},
		&notes.NoteAccessOverride{},
		&dice.DiceRoll{},
		&initiative.Session{},
		&initiative.Entry{},
		&migrationRecord{},
	)
	if err != nil {
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
