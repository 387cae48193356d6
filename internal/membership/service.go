package membership

import (
	"context"
	"errors"
	"time"

	"github.com/tavernfolk/tavern/internal/fault"
	"github.com/tavernfolk/tavern/internal/ids"
	"github.com/tavernfolk/tavern/internal/notes"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opJoin                 = "membership.join"
	opLeave                = "membership.leave"
	opRemoveMember         = "membership.remove_member"
	opSetDefaultVisibility = "membership.set_default_visibility"
	opRoleOf               = "membership.role_of"
	opListMembers          = "membership.list_members"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
)

// ServiceConfig describes the dependencies of the membership ledger.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider ids.Provider
	Logger     *zap.Logger
}

// Service tracks who belongs to which table, with what role, and the
// table-wide default note visibility per member.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider ids.Provider
	logger     *zap.Logger
}

// NewService constructs the membership ledger.
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

// Join creates a player membership for the user. Members can see
// general notes unless specifically restricted, so the default
// visibility flag starts true.
func (s *Service) Join(ctx context.Context, userID, tableID string) (Membership, error) {
	var tableCount int64
	if err := s.db.WithContext(ctx).Table("game_tables").Where("id = ?", tableID).Count(&tableCount).Error; err != nil {
		s.logError(opJoin, "table_lookup_failed", err, zap.String("table_id", tableID))
		return Membership{}, fault.New(fault.KindStorage, opJoin, "table_lookup_failed", err)
	}
	if tableCount == 0 {
		return Membership{}, fault.New(fault.KindNotFound, opJoin, "table_not_found", nil)
	}

	var existing Membership
	err := s.db.WithContext(ctx).Where("user_id = ? AND table_id = ?", userID, tableID).Take(&existing).Error
	if err == nil {
		return Membership{}, fault.New(fault.KindConflict, opJoin, "duplicate_membership", nil)
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		s.logError(opJoin, "lookup_failed", err, zap.String("table_id", tableID))
		return Membership{}, fault.New(fault.KindStorage, opJoin, "lookup_failed", err)
	}

	memberID, err := s.idProvider.NewID()
	if err != nil {
		return Membership{}, fault.New(fault.KindStorage, opJoin, "id_generation_failed", err)
	}
	member := Membership{
		ID:                  memberID,
		UserID:              userID,
		TableID:             tableID,
		Role:                RolePlayer,
		DefaultCanViewNotes: true,
		JoinedAt:            s.clock().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&member).Error; err != nil {
		// The unique (user, table) index backstops the pre-check under
		// concurrent joins.
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return Membership{}, fault.New(fault.KindConflict, opJoin, "duplicate_membership", err)
		}
		s.logError(opJoin, "insert_failed", err, zap.String("table_id", tableID))
		return Membership{}, fault.New(fault.KindStorage, opJoin, "insert_failed", err)
	}

	s.logger.Info("member joined",
		zap.String("user_id", userID),
		zap.String("table_id", tableID))
	return member, nil
}

// Leave removes the user's own membership. Owners must delete the
// table instead. The member's note overrides within the table are
// pruned in the same transaction; they are meaningless without the
// membership.
func (s *Service) Leave(ctx context.Context, userID, tableID string) error {
	member, err := s.membershipOf(ctx, opLeave, userID, tableID)
	if err != nil {
		return err
	}
	if member.Role == RoleOwner {
		return fault.New(fault.KindAuthorization, opLeave, "owner_cannot_leave", nil)
	}
	if err := s.removeWithPrune(ctx, opLeave, member); err != nil {
		return err
	}
	s.logger.Info("member left",
		zap.String("user_id", userID),
		zap.String("table_id", tableID))
	return nil
}

// RemoveMember lets the table owner kick a player. Removing the owner
// is never valid; the owner leaves only by deleting the table.
func (s *Service) RemoveMember(ctx context.Context, requesterID, targetID, tableID string) error {
	if err := s.requireOwner(ctx, opRemoveMember, requesterID, tableID); err != nil {
		return err
	}
	target, err := s.membershipOf(ctx, opRemoveMember, targetID, tableID)
	if err != nil {
		return err
	}
	if target.Role == RoleOwner {
		return fault.New(fault.KindValidation, opRemoveMember, "cannot_remove_owner", nil)
	}
	if err := s.removeWithPrune(ctx, opRemoveMember, target); err != nil {
		return err
	}
	s.logger.Info("member removed",
		zap.String("user_id", targetID),
		zap.String("table_id", tableID),
		zap.String("removed_by", requesterID))
	return nil
}

// SetDefaultVisibility is the owner-only switch for a member's
// fallback note visibility. The owner's own row is off limits: the
// owner rule grants full rights regardless, so a stored flag for the
// owner would be dead state.
func (s *Service) SetDefaultVisibility(ctx context.Context, requesterID, targetID, tableID string, value bool) error {
	if err := s.requireOwner(ctx, opSetDefaultVisibility, requesterID, tableID); err != nil {
		return err
	}
	target, err := s.membershipOf(ctx, opSetDefaultVisibility, targetID, tableID)
	if err != nil {
		return err
	}
	if target.Role == RoleOwner {
		return fault.New(fault.KindValidation, opSetDefaultVisibility, "cannot_modify_owner", nil)
	}

	err = s.db.WithContext(ctx).
		Model(&Membership{}).
		Where("id = ?", target.ID).
		Update("default_can_view_notes", value).Error
	if err != nil {
		s.logError(opSetDefaultVisibility, "update_failed", err, zap.String("table_id", tableID))
		return fault.New(fault.KindStorage, opSetDefaultVisibility, "update_failed", err)
	}
	return nil
}

// RoleOf reports the user's role in the table, RoleNone when no
// membership exists. Pure lookup, no side effects.
func (s *Service) RoleOf(ctx context.Context, userID, tableID string) (Role, error) {
	var member Membership
	err := s.db.WithContext(ctx).Where("user_id = ? AND table_id = ?", userID, tableID).Take(&member).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return RoleNone, nil
	}
	if err != nil {
		s.logError(opRoleOf, "lookup_failed", err, zap.String("table_id", tableID))
		return RoleNone, fault.New(fault.KindStorage, opRoleOf, "lookup_failed", err)
	}
	return member.Role, nil
}

// ListMembers returns the table's memberships in join order.
func (s *Service) ListMembers(ctx context.Context, tableID string) ([]Membership, error) {
	var members []Membership
	err := s.db.WithContext(ctx).
		Where("table_id = ?", tableID).
		Order("joined_at ASC").
		Find(&members).Error
	if err != nil {
		s.logError(opListMembers, "query_failed", err, zap.String("table_id", tableID))
		return nil, fault.New(fault.KindStorage, opListMembers, "query_failed", err)
	}
	return members, nil
}

func (s *Service) membershipOf(ctx context.Context, operation, userID, tableID string) (Membership, error) {
	var member Membership
	err := s.db.WithContext(ctx).Where("user_id = ? AND table_id = ?", userID, tableID).Take(&member).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Membership{}, fault.New(fault.KindNotFound, operation, "membership_not_found", nil)
	}
	if err != nil {
		s.logError(operation, "lookup_failed", err, zap.String("table_id", tableID))
		return Membership{}, fault.New(fault.KindStorage, operation, "lookup_failed", err)
	}
	return member, nil
}

func (s *Service) requireOwner(ctx context.Context, operation, userID, tableID string) error {
	role, err := s.RoleOf(ctx, userID, tableID)
	if err != nil {
		return err
	}
	if role != RoleOwner {
		return fault.New(fault.KindAuthorization, operation, "not_owner", nil)
	}
	return nil
}

// removeWithPrune deletes the membership and the member's overrides on
// the table's notes as one atomic batch, so no orphaned override can
// reference a non-member.
func (s *Service) removeWithPrune(ctx context.Context, operation string, member Membership) error {
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		noteIDs := tx.Session(&gorm.Session{NewDB: true}).
			Model(&notes.Note{}).
			Select("id").
			Where("table_id = ?", member.TableID)
		if err := tx.Where("user_id = ? AND note_id IN (?)", member.UserID, noteIDs).
			Delete(&notes.NoteAccessOverride{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", member.ID).Delete(&Membership{}).Error
	})
	if txErr != nil {
		s.logError(operation, "remove_failed", txErr,
			zap.String("user_id", member.UserID),
			zap.String("table_id", member.TableID))
		return fault.New(fault.KindStorage, operation, "remove_failed", txErr)
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
	s.logger.Error("membership ledger error", attrs...)
}
