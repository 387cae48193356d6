package access

import (
	"context"
	"errors"

	"github.com/tavernfolk/tavern/internal/fault"
	"github.com/tavernfolk/tavern/internal/membership"
	"github.com/tavernfolk/tavern/internal/notes"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	opResolve          = "access.resolve"
	opCanPerform       = "access.can_perform"
	opCanCreate        = "access.can_create"
	opListVisibleNotes = "access.list_visible_notes"
	opSetOverride      = "access.set_override"
	opClearOverride    = "access.clear_override"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	noOpLogger         = zap.NewNop()
)

// ServiceConfig describes the dependencies of the permission resolver.
type ServiceConfig struct {
	Database *gorm.DB
	Logger   *zap.Logger
}

// Service computes effective note access and manages per-note
// overrides. Every check reads current membership and override state;
// nothing is cached across calls, so a revoked override takes effect on
// the very next check.
type Service struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewService constructs the permission resolver.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{db: cfg.Database, logger: logger}, nil
}

// Resolve computes the actor's effective access to the note.
func (s *Service) Resolve(ctx context.Context, actorID, noteID string) (Access, error) {
	note, err := s.loadNote(ctx, opResolve, noteID)
	if err != nil {
		return Access{}, err
	}
	member, err := s.loadMembership(ctx, opResolve, actorID, note.TableID)
	if err != nil {
		return Access{}, err
	}
	override, err := s.loadOverride(ctx, opResolve, noteID, actorID)
	if err != nil {
		return Access{}, err
	}
	return resolveAccess(note, actorID, member, override), nil
}

// CanPerform reports whether the actor may apply the action to the note.
func (s *Service) CanPerform(ctx context.Context, actorID, noteID string, action notes.Action) (bool, error) {
	note, err := s.loadNote(ctx, opCanPerform, noteID)
	if err != nil {
		return false, err
	}
	member, err := s.loadMembership(ctx, opCanPerform, actorID, note.TableID)
	if err != nil {
		return false, err
	}

	switch action {
	case notes.ActionDelete:
		return allowsDelete(note, actorID, member), nil
	case notes.ActionView, notes.ActionEdit:
		override, err := s.loadOverride(ctx, opCanPerform, noteID, actorID)
		if err != nil {
			return false, err
		}
		effective := resolveAccess(note, actorID, member, override)
		if action == notes.ActionEdit {
			return effective.CanEdit, nil
		}
		return effective.CanView, nil
	default:
		return false, fault.New(fault.KindValidation, opCanPerform, "unknown_action", nil)
	}
}

// CanCreate reports whether the actor holds a membership in the table.
func (s *Service) CanCreate(ctx context.Context, actorID, tableID string) (bool, error) {
	member, err := s.loadMembership(ctx, opCanCreate, actorID, tableID)
	if err != nil {
		return false, err
	}
	return member != nil, nil
}

// ListVisibleNotes filters the table's notes down to those the actor
// may view. Ordering is by creation time, id as tiebreak: stable across
// calls, so clients can rely on it.
func (s *Service) ListVisibleNotes(ctx context.Context, actorID, tableID string) ([]notes.Note, error) {
	var tableNotes []notes.Note
	err := s.db.WithContext(ctx).
		Where("table_id = ?", tableID).
		Order("created_at ASC, id ASC").
		Find(&tableNotes).Error
	if err != nil {
		s.logError(opListVisibleNotes, "query_failed", err, zap.String("table_id", tableID))
		return nil, fault.New(fault.KindStorage, opListVisibleNotes, "query_failed", err)
	}

	member, err := s.loadMembership(ctx, opListVisibleNotes, actorID, tableID)
	if err != nil {
		return nil, err
	}

	var overrides []notes.NoteAccessOverride
	noteIDs := s.db.Model(&notes.Note{}).Select("id").Where("table_id = ?", tableID)
	err = s.db.WithContext(ctx).
		Where("user_id = ? AND note_id IN (?)", actorID, noteIDs).
		Find(&overrides).Error
	if err != nil {
		s.logError(opListVisibleNotes, "override_query_failed", err, zap.String("table_id", tableID))
		return nil, fault.New(fault.KindStorage, opListVisibleNotes, "override_query_failed", err)
	}
	overrideByNote := make(map[string]*notes.NoteAccessOverride, len(overrides))
	for i := range overrides {
		overrideByNote[overrides[i].NoteID] = &overrides[i]
	}

	visible := make([]notes.Note, 0, len(tableNotes))
	for _, note := range tableNotes {
		if resolveAccess(note, actorID, member, overrideByNote[note.ID]).CanView {
			visible = append(visible, note)
		}
	}
	return visible, nil
}

// SetOverride upserts the (note, target) override. Only the note's
// author or the table owner may set one; a grant of edit without view
// is malformed and rejected before any write.
func (s *Service) SetOverride(ctx context.Context, requesterID, noteID, targetID string, canView, canEdit bool) error {
	if canEdit && !canView {
		return fault.New(fault.KindValidation, opSetOverride, "edit_without_view", nil)
	}

	note, err := s.loadNote(ctx, opSetOverride, noteID)
	if err != nil {
		return err
	}
	if err := s.requireManager(ctx, opSetOverride, requesterID, note); err != nil {
		return err
	}

	target, err := s.loadMembership(ctx, opSetOverride, targetID, note.TableID)
	if err != nil {
		return err
	}
	if target == nil {
		return fault.New(fault.KindValidation, opSetOverride, "target_not_member", nil)
	}

	override := notes.NoteAccessOverride{
		NoteID:  noteID,
		UserID:  targetID,
		CanView: canView,
		CanEdit: canEdit,
	}
	err = s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "note_id"}, {Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"can_view", "can_edit", "updated_at"}),
		}).
		Create(&override).Error
	if err != nil {
		s.logError(opSetOverride, "upsert_failed", err, zap.String("note_id", noteID))
		return fault.New(fault.KindStorage, opSetOverride, "upsert_failed", err)
	}

	s.logger.Info("note override set",
		zap.String("note_id", noteID),
		zap.String("target_id", targetID),
		zap.Bool("can_view", canView),
		zap.Bool("can_edit", canEdit))
	return nil
}

// ClearOverride removes the (note, target) override, restoring fallback
// behavior. Clearing an absent override is a no-op, not an error.
func (s *Service) ClearOverride(ctx context.Context, requesterID, noteID, targetID string) error {
	note, err := s.loadNote(ctx, opClearOverride, noteID)
	if err != nil {
		return err
	}
	if err := s.requireManager(ctx, opClearOverride, requesterID, note); err != nil {
		return err
	}

	err = s.db.WithContext(ctx).
		Where("note_id = ? AND user_id = ?", noteID, targetID).
		Delete(&notes.NoteAccessOverride{}).Error
	if err != nil {
		s.logError(opClearOverride, "delete_failed", err, zap.String("note_id", noteID))
		return fault.New(fault.KindStorage, opClearOverride, "delete_failed", err)
	}
	return nil
}

// requireManager admits the note's author and the table owner.
func (s *Service) requireManager(ctx context.Context, operation, requesterID string, note notes.Note) error {
	if note.AuthorID == requesterID {
		return nil
	}
	member, err := s.loadMembership(ctx, operation, requesterID, note.TableID)
	if err != nil {
		return err
	}
	if member != nil && member.Role == membership.RoleOwner {
		return nil
	}
	return fault.New(fault.KindAuthorization, operation, "not_author_or_owner", nil)
}

func (s *Service) loadNote(ctx context.Context, operation, noteID string) (notes.Note, error) {
	var note notes.Note
	err := s.db.WithContext(ctx).Where("id = ?", noteID).Take(&note).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return notes.Note{}, fault.New(fault.KindNotFound, operation, "note_not_found", nil)
	}
	if err != nil {
		s.logError(operation, "note_lookup_failed", err, zap.String("note_id", noteID))
		return notes.Note{}, fault.New(fault.KindStorage, operation, "note_lookup_failed", err)
	}
	return note, nil
}

func (s *Service) loadMembership(ctx context.Context, operation, userID, tableID string) (*membership.Membership, error) {
	var member membership.Membership
	err := s.db.WithContext(ctx).Where("user_id = ? AND table_id = ?", userID, tableID).Take(&member).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		s.logError(operation, "membership_lookup_failed", err, zap.String("table_id", tableID))
		return nil, fault.New(fault.KindStorage, operation, "membership_lookup_failed", err)
	}
	return &member, nil
}

func (s *Service) loadOverride(ctx context.Context, operation, noteID, userID string) (*notes.NoteAccessOverride, error) {
	var override notes.NoteAccessOverride
	err := s.db.WithContext(ctx).Where("note_id = ? AND user_id = ?", noteID, userID).Take(&override).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		s.logError(operation, "override_lookup_failed", err, zap.String("note_id", noteID))
		return nil, fault.New(fault.KindStorage, operation, "override_lookup_failed", err)
	}
	return &override, nil
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
	s.logger.Error("permission resolver error", attrs...)
}
