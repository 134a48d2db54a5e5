package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/pierix/crm-api/internal/models"
	"github.com/pierix/crm-api/pkg/config"
	appErrors "github.com/pierix/crm-api/pkg/errors"
)

type userRepository interface {
	FindByID(ctx context.Context, id int64) (*models.User, error)
	FindByUsername(ctx context.Context, username string) (*models.User, error)
	ExistsByUsername(ctx context.Context, username string) (bool, error)
	Create(ctx context.Context, user *models.User) error
	Update(ctx context.Context, user *models.User) error
	UpdatePassword(ctx context.Context, id int64, passwordHash string, updatedAt time.Time) error
	SetEnabled(ctx context.Context, id int64, enabled bool) error
	Delete(ctx context.Context, id int64) error
	List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error)
}

// UserService covers account administration. Operations that weaken an
// account's standing (password change, disable, delete) also invalidate
// its sessions so stale tokens stop working at once.
type UserService struct {
	users     userRepository
	tokens    *TokenService
	validator *validator.Validate
	logger    *zap.Logger

	now func() time.Time
}

func NewUserService(users userRepository, tokens *TokenService, validate *validator.Validate, logger *zap.Logger) *UserService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UserService{
		users:     users,
		tokens:    tokens,
		validator: validate,
		logger:    logger,
		now:       time.Now,
	}
}

func (s *UserService) Get(ctx context.Context, id int64) (*models.User, error) {
	user, err := s.users.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, err
	}
	return user, nil
}

func (s *UserService) List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error) {
	return s.users.List(ctx, filter)
}

// ChangePassword verifies the current password, stores the new hash and
// revokes all sessions so every outstanding token has to log in again.
func (s *UserService) ChangePassword(ctx context.Context, userID int64, req models.ChangePasswordRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid password payload")
	}

	user, err := s.Get(ctx, userID)
	if err != nil {
		return err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.OldPassword)); err != nil {
		return appErrors.ErrBadCredentials
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "hash password")
	}

	if err := s.users.UpdatePassword(ctx, userID, string(hash), s.now().UTC()); err != nil {
		return err
	}

	if err := s.tokens.RevokeAll(ctx, userID); err != nil {
		s.logger.Warn("failed to revoke sessions after password change",
			zap.Int64("user_id", userID),
			zap.Error(err))
	}

	s.logger.Info("password changed", zap.Int64("user_id", userID))
	return nil
}

// SetEnabled toggles the account. Disabling also invalidates every session.
func (s *UserService) SetEnabled(ctx context.Context, id int64, enabled bool) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	if err := s.users.SetEnabled(ctx, id, enabled); err != nil {
		return err
	}
	if !enabled {
		if err := s.tokens.RevokeAll(ctx, id); err != nil {
			s.logger.Warn("failed to revoke sessions on disable",
				zap.Int64("user_id", id),
				zap.Error(err))
		}
	}
	s.logger.Info("account toggled", zap.Int64("user_id", id), zap.Bool("enabled", enabled))
	return nil
}

// ChangeRole assigns a new role to the account.
func (s *UserService) ChangeRole(ctx context.Context, id int64, role models.Role) error {
	if !role.Valid() {
		return appErrors.Clone(appErrors.ErrValidation, "unknown role")
	}
	user, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	user.Role = role
	user.UpdatedAt = s.now().UTC()
	return s.users.Update(ctx, user)
}

// Delete removes the account and all of its tokens. Token rows go first so
// an interrupted delete never leaves live sessions for a removed user.
func (s *UserService) Delete(ctx context.Context, id int64) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	if err := s.tokens.DeleteAllForUser(ctx, id); err != nil {
		return err
	}
	if err := s.users.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info("user deleted", zap.Int64("user_id", id))
	return nil
}

// EnsureAdmin creates the bootstrap administrator account on first start.
// An existing account with the configured username is left untouched.
func (s *UserService) EnsureAdmin(ctx context.Context, cfg config.AdminConfig) error {
	if cfg.Username == "" || cfg.Password == "" {
		return nil
	}

	exists, err := s.users.ExistsByUsername(ctx, cfg.Username)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(cfg.Password), bcrypt.DefaultCost)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "hash password")
	}

	now := s.now().UTC()
	admin := &models.User{
		Username:     cfg.Username,
		Email:        cfg.Email,
		PasswordHash: string(hash),
		FirstName:    "System",
		LastName:     "Administrator",
		Role:         models.RoleAdmin,
		Enabled:      true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.Create(ctx, admin); err != nil {
		return err
	}

	s.logger.Info("bootstrap administrator created", zap.String("username", cfg.Username))
	return nil
}
