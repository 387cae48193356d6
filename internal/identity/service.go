package identity

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/tavernfolk/tavern/internal/fault"
	"github.com/tavernfolk/tavern/internal/ids"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const (
	opRegister     = "identity.register"
	opAuthenticate = "identity.authenticate"
	opGetUser      = "identity.get_user"

	minHandleLength   = 3
	minPasswordLength = 6
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
)

// ServiceConfig describes the dependencies for account management.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider ids.Provider
	Logger     *zap.Logger
}

// Service owns user registration and credential checks. It never hands
// out password hashes; callers get the opaque user id.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider ids.Provider
	logger     *zap.Logger
}

// NewService constructs the identity service.
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

// Register creates an account with a bcrypt-hashed password.
func (s *Service) Register(ctx context.Context, handle, email, password string) (User, error) {
	handle = normalizeHandle(handle)
	email = normalizeEmail(email)

	if len(handle) < minHandleLength {
		return User{}, fault.New(fault.KindValidation, opRegister, "handle_too_short", nil)
	}
	if email == "" || !strings.Contains(email, "@") {
		return User{}, fault.New(fault.KindValidation, opRegister, "invalid_email", nil)
	}
	if len(password) < minPasswordLength {
		return User{}, fault.New(fault.KindValidation, opRegister, "password_too_short", nil)
	}

	var existing User
	err := s.db.WithContext(ctx).Where("handle = ?", handle).Take(&existing).Error
	if err == nil {
		return User{}, fault.New(fault.KindConflict, opRegister, "handle_taken", nil)
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		s.logError(opRegister, "handle_lookup_failed", err)
		return User{}, fault.New(fault.KindStorage, opRegister, "handle_lookup_failed", err)
	}
	err = s.db.WithContext(ctx).Where("email = ?", email).Take(&existing).Error
	if err == nil {
		return User{}, fault.New(fault.KindConflict, opRegister, "email_taken", nil)
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		s.logError(opRegister, "email_lookup_failed", err)
		return User{}, fault.New(fault.KindStorage, opRegister, "email_lookup_failed", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return User{}, fault.New(fault.KindStorage, opRegister, "hash_failed", err)
	}

	userID, err := s.idProvider.NewID()
	if err != nil {
		return User{}, fault.New(fault.KindStorage, opRegister, "id_generation_failed", err)
	}

	user := User{
		ID:           userID,
		Handle:       handle,
		Email:        email,
		PasswordHash: string(hash),
		CreatedAt:    s.clock().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		s.logError(opRegister, "insert_failed", err, zap.String("handle", handle))
		return User{}, fault.New(fault.KindStorage, opRegister, "insert_failed", err)
	}

	s.logger.Info("user registered", zap.String("user_id", user.ID), zap.String("handle", handle))
	return user, nil
}

// Authenticate checks a handle/password pair and returns the account.
// Bad handle and bad password fail identically so the response does not
// reveal which accounts exist.
func (s *Service) Authenticate(ctx context.Context, handle, password string) (User, error) {
	handle = normalizeHandle(handle)

	var user User
	err := s.db.WithContext(ctx).Where("handle = ?", handle).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, fault.New(fault.KindAuthorization, opAuthenticate, "invalid_credentials", nil)
	}
	if err != nil {
		s.logError(opAuthenticate, "lookup_failed", err)
		return User{}, fault.New(fault.KindStorage, opAuthenticate, "lookup_failed", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return User{}, fault.New(fault.KindAuthorization, opAuthenticate, "invalid_credentials", nil)
	}

	return user, nil
}

// GetUser loads an account by id.
func (s *Service) GetUser(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.WithContext(ctx).Where("id = ?", userID).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, fault.New(fault.KindNotFound, opGetUser, "user_not_found", nil)
	}
	if err != nil {
		s.logError(opGetUser, "lookup_failed", err, zap.String("user_id", userID))
		return User{}, fault.New(fault.KindStorage, opGetUser, "lookup_failed", err)
	}
	return user, nil
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
	s.logger.Error("identity service error", attrs...)
}
