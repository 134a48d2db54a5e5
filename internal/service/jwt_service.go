package service

import (
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/pierix/crm-api/internal/models"
	"github.com/pierix/crm-api/pkg/config"
	appErrors "github.com/pierix/crm-api/pkg/errors"
)

// JWTService encodes and decodes signed compact tokens. It owns the signing
// key; validity against the token store is a separate concern handled by the
// AuthService.
type JWTService struct {
	key        []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// NewJWTService derives the signing key from the base64 encoded secret.
func NewJWTService(cfg config.JWTConfig) (*JWTService, error) {
	if cfg.Secret == "" {
		return nil, fmt.Errorf("jwt secret is required")
	}
	key, err := base64.StdEncoding.DecodeString(cfg.Secret)
	if err != nil {
		return nil, fmt.Errorf("jwt secret must be base64 encoded: %w", err)
	}
	return &JWTService{
		key:        key,
		accessTTL:  cfg.Expiration,
		refreshTTL: cfg.RefreshExpiration,
	}, nil
}

// AccessTTL returns the configured access token lifetime.
func (s *JWTService) AccessTTL() time.Duration { return s.accessTTL }

// RefreshTTL returns the configured refresh token lifetime.
func (s *JWTService) RefreshTTL() time.Duration { return s.refreshTTL }

// GenerateAccessToken signs a short-lived token for the user.
func (s *JWTService) GenerateAccessToken(user *models.User) (string, time.Time, error) {
	return s.generate(user.Username, s.accessTTL)
}

// GenerateRefreshToken signs a long-lived token for the user.
func (s *JWTService) GenerateRefreshToken(user *models.User) (string, time.Time, error) {
	return s.generate(user.Username, s.refreshTTL)
}

func (s *JWTService) generate(subject string, ttl time.Duration) (string, time.Time, error) {
	issuedAt := time.Now().UTC()
	expiresAt := issuedAt.Add(ttl)
	claims := &models.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// Decode verifies the signature and structure of a token and returns its
// claims. Expiry is deliberately NOT enforced here: some callers need the
// claims of a just-expired token (username extraction during logout), so
// expiry enforcement belongs to the caller via IsExpired.
func (s *JWTService) Decode(tokenString string) (*models.Claims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)

	token, err := parser.ParseWithClaims(tokenString, &models.Claims{}, func(*jwt.Token) (interface{}, error) {
		return s.key, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenSignatureInvalid) {
			return nil, appErrors.Clone(appErrors.ErrInvalidToken, "token signature does not verify")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInvalidToken.Code, appErrors.ErrInvalidToken.Status, "token is malformed")
	}

	claims, ok := token.Claims.(*models.Claims)
	if !ok || claims.Subject == "" {
		return nil, appErrors.Clone(appErrors.ErrInvalidToken, "token claims are incomplete")
	}
	return claims, nil
}

// IsExpired reports whether the claim expiry has elapsed.
func (s *JWTService) IsExpired(claims *models.Claims) bool {
	if claims.ExpiresAt == nil {
		return true
	}
	return !time.Now().UTC().Before(claims.ExpiresAt.Time)
}
