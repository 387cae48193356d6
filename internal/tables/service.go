package tables

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/tavernfolk/tavern/internal/dice"
	"github.com/tavernfolk/tavern/internal/fault"
	"github.com/tavernfolk/tavern/internal/ids"
	"github.com/tavernfolk/tavern/internal/initiative"
	"github.com/tavernfolk/tavern/internal/membership"
	"github.com/tavernfolk/tavern/internal/notes"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opCreateTable    = "tables.create"
	opGetTable       = "tables.get"
	opFindByJoinCode = "tables.find_by_join_code"
	opListTables     = "tables.list"
	opDeleteTable    = "tables.delete"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
)

// ServiceConfig describes the dependencies of the table registry.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider ids.Provider
	Logger     *zap.Logger
}

// Service owns table creation, join-code issuance and lookup, and the
// owner-only delete cascade.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider ids.Provider
	logger     *zap.Logger
}

// NewService constructs the table registry.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	if cfg.IDProvider == nil {
		return nil, errMissingIDProvider
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// CreateTable registers a new table and its implicit owner membership
// in one transaction. The join code is drawn fresh on every attempt;
// the unique index is the reservation, so a concurrent creation landing
// on the same code surfaces as a duplicate-key error and triggers a
// retry, bounded by maxJoinCodeAttempts.
func (s *Service) CreateTable(ctx context.Context, ownerID, name, description string) (Table, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Table{}, fault.New(fault.KindValidation, opCreateTable, "empty_name", nil)
	}
	if ownerID == "" {
		return Table{}, fault.New(fault.KindValidation, opCreateTable, "missing_owner", nil)
	}

	tableID, err := s.idProvider.NewID()
	if err != nil {
		return Table{}, fault.New(fault.KindStorage, opCreateTable, "id_generation_failed", err)
	}
	memberID, err := s.idProvider.NewID()
	if err != nil {
		return Table{}, fault.New(fault.KindStorage, opCreateTable, "id_generation_failed", err)
	}

	now := s.clock().UTC()
	for attempt := 1; attempt <= maxJoinCodeAttempts; attempt++ {
		code, err := newJoinCode()
		if err != nil {
			return Table{}, fault.New(fault.KindStorage, opCreateTable, "join_code_generation_failed", err)
		}

		table := Table{
			ID:          tableID,
			Name:        name,
			Description: strings.TrimSpace(description),
			JoinCode:    code,
			OwnerID:     ownerID,
			CreatedAt:   now,
		}
		ownerMembership := membership.Membership{
			ID:                  memberID,
			UserID:              ownerID,
			TableID:             tableID,
			Role:                membership.RoleOwner,
			DefaultCanViewNotes: true,
			JoinedAt:            now,
		}

		txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := tx.Create(&table).Error; err != nil {
				return err
			}
			return tx.Create(&ownerMembership).Error
		})
		if txErr == nil {
			s.logger.Info("table created",
				zap.String("table_id", tableID),
				zap.String("owner_id", ownerID))
			return table, nil
		}
		if isDuplicateKey(txErr) {
			s.logger.Warn("join code collision, retrying",
				zap.String("table_id", tableID),
				zap.Int("attempt", attempt))
			continue
		}
		s.logError(opCreateTable, "insert_failed", txErr, zap.String("table_id", tableID))
		return Table{}, fault.New(fault.KindStorage, opCreateTable, "insert_failed", txErr)
	}

	return Table{}, fault.New(fault.KindConflict, opCreateTable, "join_code_exhausted", nil)
}

// GetTable loads a table by id.
func (s *Service) GetTable(ctx context.Context, tableID string) (Table, error) {
	var table Table
	err := s.db.WithContext(ctx).Where("id = ?", tableID).Take(&table).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Table{}, fault.New(fault.KindNotFound, opGetTable, "table_not_found", nil)
	}
	if err != nil {
		s.logError(opGetTable, "lookup_failed", err, zap.String("table_id", tableID))
		return Table{}, fault.New(fault.KindStorage, opGetTable, "lookup_failed", err)
	}
	return table, nil
}

// FindByJoinCode resolves a join code to its table, case-insensitively.
func (s *Service) FindByJoinCode(ctx context.Context, code string) (Table, error) {
	normalized := NormalizeJoinCode(code)
	if normalized == "" {
		return Table{}, fault.New(fault.KindValidation, opFindByJoinCode, "empty_code", nil)
	}

	var table Table
	err := s.db.WithContext(ctx).Where("join_code = ?", normalized).Take(&table).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Table{}, fault.New(fault.KindNotFound, opFindByJoinCode, "table_not_found", nil)
	}
	if err != nil {
		s.logError(opFindByJoinCode, "lookup_failed", err)
		return Table{}, fault.New(fault.KindStorage, opFindByJoinCode, "lookup_failed", err)
	}
	return table, nil
}

// ListTables returns the tables the user owns or has joined, oldest first.
func (s *Service) ListTables(ctx context.Context, userID string) ([]Table, error) {
	memberTables := s.db.Model(&membership.Membership{}).
		Select("table_id").
		Where("user_id = ?", userID)

	var result []Table
	err := s.db.WithContext(ctx).
		Where("owner_id = ?", userID).
		Or("id IN (?)", memberTables).
		Order("created_at ASC").
		Find(&result).Error
	if err != nil {
		s.logError(opListTables, "query_failed", err, zap.String("user_id", userID))
		return nil, fault.New(fault.KindStorage, opListTables, "query_failed", err)
	}
	return result, nil
}

// DeleteTable destroys a table and everything scoped to it: overrides,
// notes, memberships, dice rolls, initiative sessions and entries. The
// cascade is an explicit transaction, not a database trigger, so the
// same logic holds on any backend.
func (s *Service) DeleteTable(ctx context.Context, requesterID, tableID string) error {
	table, err := s.GetTable(ctx, tableID)
	if err != nil {
		return err
	}
	if table.OwnerID != requesterID {
		return fault.New(fault.KindAuthorization, opDeleteTable, "not_owner", nil)
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		noteIDs := tx.Session(&gorm.Session{NewDB: true}).
			Model(&notes.Note{}).
			Select("id").
			Where("table_id = ?", tableID)
		if err := tx.Where("note_id IN (?)", noteIDs).Delete(&notes.NoteAccessOverride{}).Error; err != nil {
			return err
		}
		if err := tx.Where("table_id = ?", tableID).Delete(&notes.Note{}).Error; err != nil {
			return err
		}
		sessionIDs := tx.Session(&gorm.Session{NewDB: true}).
			Model(&initiative.Session{}).
			Select("id").
			Where("table_id = ?", tableID)
		if err := tx.Where("session_id IN (?)", sessionIDs).Delete(&initiative.Entry{}).Error; err != nil {
			return err
		}
		if err := tx.Where("table_id = ?", tableID).Delete(&initiative.Session{}).Error; err != nil {
			return err
		}
		if err := tx.Where("table_id = ?", tableID).Delete(&dice.DiceRoll{}).Error; err != nil {
			return err
		}
		if err := tx.Where("table_id = ?", tableID).Delete(&membership.Membership{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", tableID).Delete(&Table{}).Error
	})
	if txErr != nil {
		s.logError(opDeleteTable, "cascade_failed", txErr, zap.String("table_id", tableID))
		return fault.New(fault.KindStorage, opDeleteTable, "cascade_failed", txErr)
	}

	s.logger.Info("table deleted", zap.String("table_id", tableID))
	return nil
}

func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("table registry error", attrs...)
}
