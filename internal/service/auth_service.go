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
	"github.com/pierix/crm-api/internal/repository"
	appErrors "github.com/pierix/crm-api/pkg/errors"
)

// authUserRepository is the slice of user persistence the auth flow needs.
type authUserRepository interface {
	FindByUsername(ctx context.Context, username string) (*models.User, error)
	FindByUsernameOrEmail(ctx context.Context, identifier string) (*models.User, error)
	ExistsByUsername(ctx context.Context, username string) (bool, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	Create(ctx context.Context, user *models.User) error
	UpdateLastLogin(ctx context.Context, id int64, ts time.Time) error
}

// tokenCodec signs and verifies compact tokens.
type tokenCodec interface {
	GenerateAccessToken(user *models.User) (string, time.Time, error)
	GenerateRefreshToken(user *models.User) (string, time.Time, error)
	Decode(token string) (*models.Claims, error)
	IsExpired(claims *models.Claims) bool
	AccessTTL() time.Duration
}

// AuthService implements the session lifecycle: registration, login,
// request-time validation, refresh rotation and logout. A token is only
// accepted when both the signature verifies and its stored row is valid,
// so revocation takes effect immediately.
type AuthService struct {
	users     authUserRepository
	store     tokenStore
	sessions  *TokenService
	codec     tokenCodec
	validator *validator.Validate
	logger    *zap.Logger

	now func() time.Time
}

func NewAuthService(users authUserRepository, store tokenStore, sessions *TokenService, codec tokenCodec, validate *validator.Validate, logger *zap.Logger) *AuthService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthService{
		users:     users,
		store:     store,
		sessions:  sessions,
		codec:     codec,
		validator: validate,
		logger:    logger,
		now:       time.Now,
	}
}

// Register creates a new account and logs it in. Username collisions are
// reported before email collisions.
func (s *AuthService) Register(ctx context.Context, req models.RegisterRequest) (*models.AuthResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid registration payload")
	}

	taken, err := s.users.ExistsByUsername(ctx, req.Username)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, appErrors.ErrDuplicateUser
	}

	taken, err = s.users.ExistsByEmail(ctx, req.Email)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, appErrors.ErrDuplicateEmail
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "hash password")
	}

	now := s.now().UTC()
	user := &models.User{
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: string(hash),
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		Role:         models.RoleUser,
		Enabled:      true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}

	s.logger.Info("user registered",
		zap.Int64("user_id", user.ID),
		zap.String("username", user.Username))

	return s.openSession(ctx, user)
}

// Login authenticates by username or email. Unknown identifiers and wrong
// passwords produce the same error so the response does not leak which
// accounts exist.
func (s *AuthService) Login(ctx context.Context, req models.LoginRequest) (*models.AuthResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid login payload")
	}

	user, err := s.users.FindByUsernameOrEmail(ctx, req.UsernameOrEmail)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrBadCredentials
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return nil, appErrors.ErrBadCredentials
	}

	if !user.Enabled {
		return nil, appErrors.ErrAccountDisabled
	}

	// Recording the login time must not block the login itself.
	if err := s.users.UpdateLastLogin(ctx, user.ID, s.now().UTC()); err != nil {
		s.logger.Warn("failed to record last login",
			zap.Int64("user_id", user.ID),
			zap.Error(err))
	}

	return s.openSession(ctx, user)
}

// openSession caps concurrent sessions, then issues and persists a fresh
// token pair.
func (s *AuthService) openSession(ctx context.Context, user *models.User) (*models.AuthResponse, error) {
	if err := s.sessions.EnforceSessionLimit(ctx, user.ID); err != nil {
		return nil, err
	}

	access, refresh, err := s.issuePair(ctx, s.store, user)
	if err != nil {
		return nil, err
	}
	return s.authResponse(user, access, refresh), nil
}

// tokenSaver records issued tokens. Both the plain store and a transaction
// satisfy it, so issuePair works inside and outside Refresh.
type tokenSaver interface {
	Save(ctx context.Context, value string, userID int64, kind models.TokenKind, expiresAt time.Time) (*models.Token, error)
}

// issuePair signs an access and a refresh token and records both so they
// participate in server-side validity checks.
func (s *AuthService) issuePair(ctx context.Context, store tokenSaver, user *models.User) (string, string, error) {
	access, accessExp, err := s.codec.GenerateAccessToken(user)
	if err != nil {
		return "", "", err
	}
	refresh, refreshExp, err := s.codec.GenerateRefreshToken(user)
	if err != nil {
		return "", "", err
	}

	if _, err := store.Save(ctx, access, user.ID, models.TokenKindAccess, accessExp); err != nil {
		return "", "", err
	}
	if _, err := store.Save(ctx, refresh, user.ID, models.TokenKindRefresh, refreshExp); err != nil {
		return "", "", err
	}
	return access, refresh, nil
}

func (s *AuthService) authResponse(user *models.User, access, refresh string) *models.AuthResponse {
	return &models.AuthResponse{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.codec.AccessTTL().Seconds()),
		IssuedAt:     s.now().UTC(),
		User: models.UserInfo{
			ID:        user.ID,
			Username:  user.Username,
			Email:     user.Email,
			FirstName: user.FirstName,
			LastName:  user.LastName,
			Role:      user.Role,
		},
	}
}

// Validate checks a presented token end to end: signature, stored validity,
// claim expiry and principal resolution. It returns the resolved user on
// success and a typed error naming the first failing check otherwise.
func (s *AuthService) Validate(ctx context.Context, tokenString string) (*models.User, error) {
	claims, err := s.codec.Decode(tokenString)
	if err != nil {
		return nil, err
	}

	row, err := s.store.FindByToken(ctx, tokenString)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrInvalidToken, "token is not on record")
		}
		return nil, err
	}
	if row.Revoked {
		return nil, appErrors.ErrRevokedToken
	}
	if !row.IsValid(s.now()) || s.codec.IsExpired(claims) {
		return nil, appErrors.ErrExpiredToken
	}

	user, err := s.users.FindByUsername(ctx, claims.Username())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrUnknownPrincipal
		}
		return nil, err
	}
	if !user.Enabled {
		return nil, appErrors.ErrAccountDisabled
	}
	return user, nil
}

// Refresh rotates a session: it invalidates every access token of the owner,
// issues a fresh pair and revokes the presented refresh token. The whole
// exchange runs in one transaction with the refresh row locked, so two
// concurrent calls with the same token cannot both succeed. A refresh that
// fails validation leaves the store untouched.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*models.AuthResponse, error) {
	claims, err := s.codec.Decode(refreshToken)
	if err != nil {
		return nil, err
	}
	if s.codec.IsExpired(claims) {
		return nil, appErrors.ErrExpiredToken
	}

	user, err := s.users.FindByUsername(ctx, claims.Username())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrUnknownPrincipal
		}
		return nil, err
	}
	if !user.Enabled {
		return nil, appErrors.ErrAccountDisabled
	}

	var access, refresh string
	err = s.store.InTx(ctx, func(tx repository.TokenTx) error {
		row, err := tx.FindByTokenForUpdate(ctx, refreshToken)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrInvalidToken, "refresh token is not on record")
			}
			return err
		}
		if row.Kind != models.TokenKindRefresh {
			return appErrors.Clone(appErrors.ErrInvalidToken, "token is not a refresh token")
		}
		if row.Revoked {
			return appErrors.ErrRevokedToken
		}
		if !row.IsValid(s.now()) {
			return appErrors.ErrExpiredToken
		}

		if err := tx.ExpireAllByUserAndKind(ctx, user.ID, models.TokenKindAccess); err != nil {
			return err
		}

		access, refresh, err = s.issuePair(ctx, tx, user)
		if err != nil {
			return err
		}

		return tx.Revoke(ctx, refreshToken)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("session refreshed", zap.Int64("user_id", user.ID))
	return s.authResponse(user, access, refresh), nil
}

// Logout invalidates the caller's sessions. It is best effort and never
// fails: when the owner can be resolved from the token every one of their
// tokens is invalidated, otherwise only the presented token is revoked.
// The token may already be expired; its subject is still readable.
func (s *AuthService) Logout(ctx context.Context, tokenString string) {
	claims, err := s.codec.Decode(tokenString)
	if err == nil {
		user, err := s.users.FindByUsername(ctx, claims.Username())
		if err == nil {
			if err := s.sessions.RevokeAll(ctx, user.ID); err == nil {
				s.logger.Info("user logged out", zap.Int64("user_id", user.ID))
				return
			}
			s.logger.Warn("failed to invalidate user tokens on logout",
				zap.Int64("user_id", user.ID),
				zap.Error(err))
		}
	}

	if err := s.store.Revoke(ctx, tokenString); err != nil {
		s.logger.Warn("failed to revoke token on logout", zap.Error(err))
	}
}

// Profile returns the full profile of the authenticated user.
func (s *AuthService) Profile(ctx context.Context, username string) (*models.ProfileResponse, error) {
	user, err := s.users.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrUnknownPrincipal
		}
		return nil, err
	}
	return &models.ProfileResponse{
		UserID:    user.ID,
		Username:  user.Username,
		Email:     user.Email,
		FirstName: user.FirstName,
		LastName:  user.LastName,
		Role:      user.Role.Authority(),
		Enabled:   user.Enabled,
		CreatedAt: user.CreatedAt,
		LastLogin: user.LastLogin,
	}, nil
}
