package notes

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/tavernfolk/tavern/internal/fault"
	"github.com/tavernfolk/tavern/internal/ids"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opCreateNote    = "notes.create"
	opGetNote       = "notes.get"
	opEditNote      = "notes.edit"
	opDeleteNote    = "notes.delete"
	opDuplicateNote = "notes.duplicate"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	errMissingChecker    = errors.New("access checker is required")
	noOpLogger           = zap.NewNop()
)

// AccessChecker answers permission questions for note operations. Every
// mutating operation consults it before touching storage.
type AccessChecker interface {
	// CanCreate reports whether the actor may author notes in the table,
	// which requires a current membership.
	CanCreate(ctx context.Context, actorID, tableID string) (bool, error)
	// CanPerform reports whether the actor may view, edit, or delete the note.
	CanPerform(ctx context.Context, actorID, noteID string, action Action) (bool, error)
}

// ServiceConfig describes the dependencies of the note store.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider ids.Provider
	Checker    AccessChecker
	Logger     *zap.Logger
}

// Service owns the note content lifecycle. Permission decisions live in
// the checker; this service only enforces them and validates structure.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider ids.Provider
	checker    AccessChecker
	logger     *zap.Logger
}

// NewService constructs the note store.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	if cfg.IDProvider == nil {
		return nil, errMissingIDProvider
	}
	if cfg.Checker == nil {
		return nil, errMissingChecker
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
		checker:    cfg.Checker,
		logger:     logger,
	}, nil
}

// NoteInput carries the author-supplied fields of a note. Empty styling
// fields fall back to the defaults on create and keep the stored value
// on edit; a zero font size does the same.
type NoteInput struct {
	Title     string
	Content   string
	BgColor   string
	TextColor string
	FontSize  int
}

// CreateNote authors a new note in the table. Any current member may
// create notes.
func (s *Service) CreateNote(ctx context.Context, actorID, tableID string, input NoteInput) (Note, error) {
	allowed, err := s.checker.CanCreate(ctx, actorID, tableID)
	if err != nil {
		return Note{}, err
	}
	if !allowed {
		return Note{}, fault.New(fault.KindAuthorization, opCreateNote, "not_member", nil)
	}

	if input.BgColor == "" {
		input.BgColor = DefaultBgColor
	}
	if input.TextColor == "" {
		input.TextColor = DefaultTextColor
	}
	if input.FontSize == 0 {
		input.FontSize = DefaultFontSize
	}
	if err := validateInput(opCreateNote, input); err != nil {
		return Note{}, err
	}

	noteID, err := s.idProvider.NewID()
	if err != nil {
		return Note{}, fault.New(fault.KindStorage, opCreateNote, "id_generation_failed", err)
	}

	now := s.clock().UTC()
	note := Note{
		ID:        noteID,
		TableID:   tableID,
		AuthorID:  actorID,
		Title:     strings.TrimSpace(input.Title),
		Content:   input.Content,
		BgColor:   input.BgColor,
		TextColor: input.TextColor,
		FontSize:  input.FontSize,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.db.WithContext(ctx).Create(&note).Error; err != nil {
		s.logError(opCreateNote, "insert_failed", err, zap.String("table_id", tableID))
		return Note{}, fault.New(fault.KindStorage, opCreateNote, "insert_failed", err)
	}

	s.logger.Info("note created",
		zap.String("note_id", note.ID),
		zap.String("table_id", tableID),
		zap.String("author_id", actorID))
	return note, nil
}

// GetNote loads a note the actor is allowed to view.
func (s *Service) GetNote(ctx context.Context, actorID, noteID string) (Note, error) {
	note, err := s.loadNote(ctx, opGetNote, noteID)
	if err != nil {
		return Note{}, err
	}
	if err := s.requireAction(ctx, opGetNote, actorID, noteID, ActionView, "view_denied"); err != nil {
		return Note{}, err
	}
	return note, nil
}

// EditNote replaces a note's content and styling for an actor with edit
// rights.
func (s *Service) EditNote(ctx context.Context, actorID, noteID string, input NoteInput) (Note, error) {
	note, err := s.loadNote(ctx, opEditNote, noteID)
	if err != nil {
		return Note{}, err
	}
	if err := s.requireAction(ctx, opEditNote, actorID, noteID, ActionEdit, "edit_denied"); err != nil {
		return Note{}, err
	}

	if input.BgColor == "" {
		input.BgColor = note.BgColor
	}
	if input.TextColor == "" {
		input.TextColor = note.TextColor
	}
	if input.FontSize == 0 {
		input.FontSize = note.FontSize
	}
	if err := validateInput(opEditNote, input); err != nil {
		return Note{}, err
	}

	note.Title = strings.TrimSpace(input.Title)
	note.Content = input.Content
	note.BgColor = input.BgColor
	note.TextColor = input.TextColor
	note.FontSize = input.FontSize
	note.UpdatedAt = s.clock().UTC()

	if err := s.db.WithContext(ctx).Save(&note).Error; err != nil {
		s.logError(opEditNote, "update_failed", err, zap.String("note_id", noteID))
		return Note{}, fault.New(fault.KindStorage, opEditNote, "update_failed", err)
	}
	return note, nil
}

// DeleteNote removes the note and its overrides. Only the author or the
// table owner may delete; overrides never grant delete.
func (s *Service) DeleteNote(ctx context.Context, actorID, noteID string) error {
	if _, err := s.loadNote(ctx, opDeleteNote, noteID); err != nil {
		return err
	}
	if err := s.requireAction(ctx, opDeleteNote, actorID, noteID, ActionDelete, "delete_denied"); err != nil {
		return err
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("note_id = ?", noteID).Delete(&NoteAccessOverride{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", noteID).Delete(&Note{}).Error
	})
	if txErr != nil {
		s.logError(opDeleteNote, "delete_failed", txErr, zap.String("note_id", noteID))
		return fault.New(fault.KindStorage, opDeleteNote, "delete_failed", txErr)
	}

	s.logger.Info("note deleted", zap.String("note_id", noteID), zap.String("actor_id", actorID))
	return nil
}

// DuplicateNote copies a note the actor can view into a fresh note with
// the actor as author and fresh timestamps. Overrides do not carry over.
func (s *Service) DuplicateNote(ctx context.Context, actorID, noteID string) (Note, error) {
	source, err := s.loadNote(ctx, opDuplicateNote, noteID)
	if err != nil {
		return Note{}, err
	}
	if err := s.requireAction(ctx, opDuplicateNote, actorID, noteID, ActionView, "view_denied"); err != nil {
		return Note{}, err
	}

	copyID, err := s.idProvider.NewID()
	if err != nil {
		return Note{}, fault.New(fault.KindStorage, opDuplicateNote, "id_generation_failed", err)
	}

	now := s.clock().UTC()
	duplicate := Note{
		ID:        copyID,
		TableID:   source.TableID,
		AuthorID:  actorID,
		Title:     source.Title,
		Content:   source.Content,
		BgColor:   source.BgColor,
		TextColor: source.TextColor,
		FontSize:  source.FontSize,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.db.WithContext(ctx).Create(&duplicate).Error; err != nil {
		s.logError(opDuplicateNote, "insert_failed", err, zap.String("note_id", noteID))
		return Note{}, fault.New(fault.KindStorage, opDuplicateNote, "insert_failed", err)
	}

	s.logger.Info("note duplicated",
		zap.String("source_note_id", noteID),
		zap.String("note_id", copyID),
		zap.String("author_id", actorID))
	return duplicate, nil
}

func (s *Service) loadNote(ctx context.Context, operation, noteID string) (Note, error) {
	var note Note
	err := s.db.WithContext(ctx).Where("id = ?", noteID).Take(&note).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Note{}, fault.New(fault.KindNotFound, operation, "note_not_found", nil)
	}
	if err != nil {
		s.logError(operation, "lookup_failed", err, zap.String("note_id", noteID))
		return Note{}, fault.New(fault.KindStorage, operation, "lookup_failed", err)
	}
	return note, nil
}

func (s *Service) requireAction(ctx context.Context, operation, actorID, noteID string, action Action, reason string) error {
	allowed, err := s.checker.CanPerform(ctx, actorID, noteID, action)
	if err != nil {
		return err
	}
	if !allowed {
		return fault.New(fault.KindAuthorization, operation, reason, nil)
	}
	return nil
}

func validateInput(operation string, input NoteInput) error {
	if strings.TrimSpace(input.Title) == "" {
		return fault.New(fault.KindValidation, operation, "empty_title", nil)
	}
	if !validColor(input.BgColor) {
		return fault.New(fault.KindValidation, operation, "invalid_bg_color", nil)
	}
	if !validColor(input.TextColor) {
		return fault.New(fault.KindValidation, operation, "invalid_text_color", nil)
	}
	if !validFontSize(input.FontSize) {
		return fault.New(fault.KindValidation, operation, "invalid_font_size", nil)
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
	s.logger.Error("note store error", attrs...)
}
