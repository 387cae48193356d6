package dice

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"strings"
	"time"

	"github.com/tavernfolk/tavern/internal/fault"
	"github.com/tavernfolk/tavern/internal/ids"
	"github.com/tavernfolk/tavern/internal/membership"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opRoll         = "dice.roll"
	opHistory      = "dice.history"
	opTableHistory = "dice.table_history"

	globalHistoryLimit = 50
	tableHistoryLimit  = 100
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
)

// ServiceConfig describes the dependencies of the dice roller.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider ids.Provider
	// Face returns a die face in [1, sides]. Defaults to math/rand;
	// tests inject a deterministic generator.
	Face   func(sides int) int
	Logger *zap.Logger
}

// Service rolls dice expressions and keeps per-user and per-table
// history.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider ids.Provider
	face       func(sides int) int
	logger     *zap.Logger
}

// NewService constructs the dice roller.
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
	face := cfg.Face
	if face == nil {
		face = func(sides int) int { return rand.Intn(sides) + 1 }
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		face:       face,
		logger:     logger,
	}, nil
}

// RollRequest describes one roll. TableID is empty for rolls outside
// any table; a table-scoped roll requires membership there.
type RollRequest struct {
	Expression   string
	Description  string
	TableID      string
	Advantage    bool
	Disadvantage bool
}

// RollOutcome pairs the persisted record with the individual die
// results that produced it.
type RollOutcome struct {
	Record  DiceRoll
	Results []DieResult
}

// Roll parses, rolls, and persists one dice expression.
func (s *Service) Roll(ctx context.Context, userID string, req RollRequest) (RollOutcome, error) {
	expr, err := ParseExpression(req.Expression)
	if err != nil {
		return RollOutcome{}, err
	}
	if req.Advantage && req.Disadvantage {
		return RollOutcome{}, fault.New(fault.KindValidation, opRoll, "advantage_conflict", nil)
	}

	var tableID *string
	if strings.TrimSpace(req.TableID) != "" {
		scoped := strings.TrimSpace(req.TableID)
		if err := s.requireMembership(ctx, opRoll, userID, scoped); err != nil {
			return RollOutcome{}, err
		}
		tableID = &scoped
	}

	results, total := rollDice(expr, req.Advantage, req.Disadvantage, s.face)

	rollsJSON, err := json.Marshal(results)
	if err != nil {
		return RollOutcome{}, fault.New(fault.KindStorage, opRoll, "encode_failed", err)
	}
	rollID, err := s.idProvider.NewID()
	if err != nil {
		return RollOutcome{}, fault.New(fault.KindStorage, opRoll, "id_generation_failed", err)
	}

	record := DiceRoll{
		ID:           rollID,
		TableID:      tableID,
		UserID:       userID,
		Expression:   expr.String(),
		Result:       total,
		RollsJSON:    string(rollsJSON),
		Modifier:     expr.Modifier,
		Advantage:    req.Advantage,
		Disadvantage: req.Disadvantage,
		Description:  strings.TrimSpace(req.Description),
		CreatedAt:    s.clock().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		s.logError(opRoll, "insert_failed", err, zap.String("user_id", userID))
		return RollOutcome{}, fault.New(fault.KindStorage, opRoll, "insert_failed", err)
	}

	return RollOutcome{Record: record, Results: results}, nil
}

// History returns the user's table-less rolls, newest first.
func (s *Service) History(ctx context.Context, userID string) ([]DiceRoll, error) {
	var rolls []DiceRoll
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND table_id IS NULL", userID).
		Order("created_at DESC").
		Limit(globalHistoryLimit).
		Find(&rolls).Error
	if err != nil {
		s.logError(opHistory, "query_failed", err, zap.String("user_id", userID))
		return nil, fault.New(fault.KindStorage, opHistory, "query_failed", err)
	}
	return rolls, nil
}

// TableHistory returns the table's rolls, newest first, for members.
func (s *Service) TableHistory(ctx context.Context, userID, tableID string) ([]DiceRoll, error) {
	if err := s.requireMembership(ctx, opTableHistory, userID, tableID); err != nil {
		return nil, err
	}

	var rolls []DiceRoll
	err := s.db.WithContext(ctx).
		Where("table_id = ?", tableID).
		Order("created_at DESC").
		Limit(tableHistoryLimit).
		Find(&rolls).Error
	if err != nil {
		s.logError(opTableHistory, "query_failed", err, zap.String("table_id", tableID))
		return nil, fault.New(fault.KindStorage, opTableHistory, "query_failed", err)
	}
	return rolls, nil
}

func (s *Service) requireMembership(ctx context.Context, operation, userID, tableID string) error {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&membership.Membership{}).
		Where("user_id = ? AND table_id = ?", userID, tableID).
		Count(&count).Error
	if err != nil {
		s.logError(operation, "membership_lookup_failed", err, zap.String("table_id", tableID))
		return fault.New(fault.KindStorage, operation, "membership_lookup_failed", err)
	}
	if count == 0 {
		return fault.New(fault.KindAuthorization, operation, "not_member", nil)
	}
	return nil
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
	s.logger.Error("dice service error", attrs...)
}
