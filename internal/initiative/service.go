package initiative

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/tavernfolk/tavern/internal/fault"
	"github.com/tavernfolk/tavern/internal/ids"
	"github.com/tavernfolk/tavern/internal/membership"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opStartSession  = "initiative.start_session"
	opActiveSession = "initiative.active_session"
	opAddEntry      = "initiative.add_entry"
	opUpdateEntry   = "initiative.update_entry"
	opRemoveEntry   = "initiative.remove_entry"
	opSortedEntries = "initiative.sorted_entries"
	opNextTurn      = "initiative.next_turn"
	opEndSession    = "initiative.end_session"

	defaultSessionName = "Combat Session"

	minScore = 0
	maxScore = 50
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
)

// ServiceConfig describes the dependencies of the initiative tracker.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider ids.Provider
	Logger     *zap.Logger
}

// Service runs combat turn order. Every operation is gated on the table
// owner; players see the outcome through whatever surface the owner
// shares, not through this service.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider ids.Provider
	logger     *zap.Logger
}

// NewService constructs the initiative tracker.
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

// StartSession opens a new active session for the table, deactivating
// any previous one in the same transaction.
func (s *Service) StartSession(ctx context.Context, actorID, tableID, name string) (Session, error) {
	if err := s.requireOwner(ctx, opStartSession, actorID, tableID); err != nil {
		return Session{}, err
	}

	name = strings.TrimSpace(name)
	if name == "" {
		name = defaultSessionName
	}

	sessionID, err := s.idProvider.NewID()
	if err != nil {
		return Session{}, fault.New(fault.KindStorage, opStartSession, "id_generation_failed", err)
	}
	session := Session{
		ID:          sessionID,
		TableID:     tableID,
		Name:        name,
		IsActive:    true,
		CurrentTurn: 0,
		RoundNumber: 1,
		CreatedAt:   s.clock().UTC(),
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Model(&Session{}).
			Where("table_id = ? AND is_active = ?", tableID, true).
			Update("is_active", false).Error
		if err != nil {
			return err
		}
		return tx.Create(&session).Error
	})
	if txErr != nil {
		s.logError(opStartSession, "insert_failed", txErr, zap.String("table_id", tableID))
		return Session{}, fault.New(fault.KindStorage, opStartSession, "insert_failed", txErr)
	}

	s.logger.Info("initiative session started",
		zap.String("session_id", sessionID),
		zap.String("table_id", tableID))
	return session, nil
}

// ActiveSession returns the table's active session.
func (s *Service) ActiveSession(ctx context.Context, actorID, tableID string) (Session, error) {
	if err := s.requireOwner(ctx, opActiveSession, actorID, tableID); err != nil {
		return Session{}, err
	}

	var session Session
	err := s.db.WithContext(ctx).
		Where("table_id = ? AND is_active = ?", tableID, true).
		Take(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Session{}, fault.New(fault.KindNotFound, opActiveSession, "no_active_session", nil)
	}
	if err != nil {
		s.logError(opActiveSession, "lookup_failed", err, zap.String("table_id", tableID))
		return Session{}, fault.New(fault.KindStorage, opActiveSession, "lookup_failed", err)
	}
	return session, nil
}

// EntryInput carries a combatant's fields. UserID is empty for NPCs.
type EntryInput struct {
	Name        string
	Score       int
	UserID      string
	CustomField string
	IsNPC       bool
}

// AddEntry adds a combatant to the session.
func (s *Service) AddEntry(ctx context.Context, actorID, sessionID string, input EntryInput) (Entry, error) {
	session, err := s.loadSession(ctx, opAddEntry, sessionID)
	if err != nil {
		return Entry{}, err
	}
	if err := s.requireOwner(ctx, opAddEntry, actorID, session.TableID); err != nil {
		return Entry{}, err
	}

	name := strings.TrimSpace(input.Name)
	if name == "" {
		return Entry{}, fault.New(fault.KindValidation, opAddEntry, "empty_name", nil)
	}
	if input.Score < minScore || input.Score > maxScore {
		return Entry{}, fault.New(fault.KindValidation, opAddEntry, "score_out_of_range", nil)
	}

	entryID, err := s.idProvider.NewID()
	if err != nil {
		return Entry{}, fault.New(fault.KindStorage, opAddEntry, "id_generation_failed", err)
	}
	var userID *string
	if trimmed := strings.TrimSpace(input.UserID); trimmed != "" {
		userID = &trimmed
	}
	entry := Entry{
		ID:            entryID,
		SessionID:     sessionID,
		CharacterName: name,
		Score:         input.Score,
		UserID:        userID,
		CustomField:   strings.TrimSpace(input.CustomField),
		IsNPC:         input.IsNPC,
		CreatedAt:     s.clock().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&entry).Error; err != nil {
		s.logError(opAddEntry, "insert_failed", err, zap.String("session_id", sessionID))
		return Entry{}, fault.New(fault.KindStorage, opAddEntry, "insert_failed", err)
	}
	return entry, nil
}

// EntryUpdate mutates only the fields that are set.
type EntryUpdate struct {
	Score       *int
	CustomField *string
}

// UpdateEntry edits a combatant's score or custom field.
func (s *Service) UpdateEntry(ctx context.Context, actorID, entryID string, update EntryUpdate) (Entry, error) {
	entry, session, err := s.loadEntry(ctx, opUpdateEntry, entryID)
	if err != nil {
		return Entry{}, err
	}
	if err := s.requireOwner(ctx, opUpdateEntry, actorID, session.TableID); err != nil {
		return Entry{}, err
	}

	if update.Score != nil {
		if *update.Score < minScore || *update.Score > maxScore {
			return Entry{}, fault.New(fault.KindValidation, opUpdateEntry, "score_out_of_range", nil)
		}
		entry.Score = *update.Score
	}
	if update.CustomField != nil {
		entry.CustomField = strings.TrimSpace(*update.CustomField)
	}

	if err := s.db.WithContext(ctx).Save(&entry).Error; err != nil {
		s.logError(opUpdateEntry, "update_failed", err, zap.String("entry_id", entryID))
		return Entry{}, fault.New(fault.KindStorage, opUpdateEntry, "update_failed", err)
	}
	return entry, nil
}

// RemoveEntry drops a combatant from the session.
func (s *Service) RemoveEntry(ctx context.Context, actorID, entryID string) error {
	_, session, err := s.loadEntry(ctx, opRemoveEntry, entryID)
	if err != nil {
		return err
	}
	if err := s.requireOwner(ctx, opRemoveEntry, actorID, session.TableID); err != nil {
		return err
	}

	if err := s.db.WithContext(ctx).Where("id = ?", entryID).Delete(&Entry{}).Error; err != nil {
		s.logError(opRemoveEntry, "delete_failed", err, zap.String("entry_id", entryID))
		return fault.New(fault.KindStorage, opRemoveEntry, "delete_failed", err)
	}
	return nil
}

// SortedEntries returns the session's combatants in turn order: score
// descending, insertion order as tiebreak.
func (s *Service) SortedEntries(ctx context.Context, actorID, sessionID string) ([]Entry, error) {
	session, err := s.loadSession(ctx, opSortedEntries, sessionID)
	if err != nil {
		return nil, err
	}
	if err := s.requireOwner(ctx, opSortedEntries, actorID, session.TableID); err != nil {
		return nil, err
	}
	return s.sortedEntries(ctx, opSortedEntries, sessionID)
}

// NextTurn advances the session to the next combatant, wrapping to the
// top of the order and incrementing the round when it passes the end.
func (s *Service) NextTurn(ctx context.Context, actorID, sessionID string) (Session, *Entry, error) {
	session, err := s.loadSession(ctx, opNextTurn, sessionID)
	if err != nil {
		return Session{}, nil, err
	}
	if err := s.requireOwner(ctx, opNextTurn, actorID, session.TableID); err != nil {
		return Session{}, nil, err
	}

	entries, err := s.sortedEntries(ctx, opNextTurn, sessionID)
	if err != nil {
		return Session{}, nil, err
	}
	if len(entries) == 0 {
		return Session{}, nil, fault.New(fault.KindValidation, opNextTurn, "no_entries", nil)
	}

	session.CurrentTurn++
	if session.CurrentTurn >= len(entries) {
		session.CurrentTurn = 0
		session.RoundNumber++
	}
	if err := s.db.WithContext(ctx).Save(&session).Error; err != nil {
		s.logError(opNextTurn, "update_failed", err, zap.String("session_id", sessionID))
		return Session{}, nil, fault.New(fault.KindStorage, opNextTurn, "update_failed", err)
	}

	current := entries[session.CurrentTurn]
	return session, &current, nil
}

// EndSession deactivates the session.
func (s *Service) EndSession(ctx context.Context, actorID, sessionID string) error {
	session, err := s.loadSession(ctx, opEndSession, sessionID)
	if err != nil {
		return err
	}
	if err := s.requireOwner(ctx, opEndSession, actorID, session.TableID); err != nil {
		return err
	}

	err = s.db.WithContext(ctx).
		Model(&Session{}).
		Where("id = ?", sessionID).
		Update("is_active", false).Error
	if err != nil {
		s.logError(opEndSession, "update_failed", err, zap.String("session_id", sessionID))
		return fault.New(fault.KindStorage, opEndSession, "update_failed", err)
	}

	s.logger.Info("initiative session ended", zap.String("session_id", sessionID))
	return nil
}

func (s *Service) sortedEntries(ctx context.Context, operation, sessionID string) ([]Entry, error) {
	var entries []Entry
	err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("initiative_score DESC, created_at ASC, id ASC").
		Find(&entries).Error
	if err != nil {
		s.logError(operation, "query_failed", err, zap.String("session_id", sessionID))
		return nil, fault.New(fault.KindStorage, operation, "query_failed", err)
	}
	return entries, nil
}

func (s *Service) loadSession(ctx context.Context, operation, sessionID string) (Session, error) {
	var session Session
	err := s.db.WithContext(ctx).Where("id = ?", sessionID).Take(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Session{}, fault.New(fault.KindNotFound, operation, "session_not_found", nil)
	}
	if err != nil {
		s.logError(operation, "session_lookup_failed", err, zap.String("session_id", sessionID))
		return Session{}, fault.New(fault.KindStorage, operation, "session_lookup_failed", err)
	}
	return session, nil
}

func (s *Service) loadEntry(ctx context.Context, operation, entryID string) (Entry, Session, error) {
	var entry Entry
	err := s.db.WithContext(ctx).Where("id = ?", entryID).Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Entry{}, Session{}, fault.New(fault.KindNotFound, operation, "entry_not_found", nil)
	}
	if err != nil {
		s.logError(operation, "entry_lookup_failed", err, zap.String("entry_id", entryID))
		return Entry{}, Session{}, fault.New(fault.KindStorage, operation, "entry_lookup_failed", err)
	}
	session, err := s.loadSession(ctx, operation, entry.SessionID)
	if err != nil {
		return Entry{}, Session{}, err
	}
	return entry, session, nil
}

func (s *Service) requireOwner(ctx context.Context, operation, userID, tableID string) error {
	var member membership.Membership
	err := s.db.WithContext(ctx).Where("user_id = ? AND table_id = ?", userID, tableID).Take(&member).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fault.New(fault.KindAuthorization, operation, "not_owner", nil)
	}
	if err != nil {
		s.logError(operation, "membership_lookup_failed", err, zap.String("table_id", tableID))
		return fault.New(fault.KindStorage, operation, "membership_lookup_failed", err)
	}
	if member.Role != membership.RoleOwner {
		return fault.New(fault.KindAuthorization, operation, "not_owner", nil)
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
	s.logger.Error("initiative service error", attrs...)
}
