package security

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/example/md-checkout/internal/clock"
	"github.com/example/md-checkout/internal/storage"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrCSRFTokenMissing = errors.New("csrf token missing")
	ErrCSRFTokenInvalid = errors.New("csrf token invalid")
	ErrCSRFTokenExpired = errors.New("csrf token expired")
	ErrWeakSecret       = errors.New("csrf secret must be at least 32 bytes")
)

// CSRFTokenTTL is how long an issued token stays valid.
const CSRFTokenTTL = 24 * time.Hour

const minSecretLen = 32

// IsCSRFError reports whether err is any of the CSRF validation errors.
func IsCSRFError(err error) bool {
	return errors.Is(err, ErrCSRFTokenMissing) ||
		errors.Is(err, ErrCSRFTokenInvalid) ||
		errors.Is(err, ErrCSRFTokenExpired)
}

type CSRFToken struct {
	Value     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// CSRFService issues one token per session. A token is accepted only for
// the session it was issued to, only while it is the latest one issued, and
// only before it expires.
type CSRFService struct {
	secretKey []byte
	ttl       time.Duration
	clock     clock.Clock
	store     storage.Storage
}

func NewCSRFService(secretKey string, store storage.Storage, clk clock.Clock) (*CSRFService, error) {
	if len(secretKey) < minSecretLen {
		return nil, ErrWeakSecret
	}
	return &CSRFService{
		secretKey: []byte(secretKey),
		ttl:       CSRFTokenTTL,
		clock:     clk,
		store:     store,
	}, nil
}

// Issue creates a token for sessionID, replacing any previous one.
func (s *CSRFService) Issue(ctx context.Context, sessionID string) (CSRFToken, error) {
	now := s.clock.Now()
	expiresAt := now.Add(s.ttl)

	claims := jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   sessionID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secretKey)
	if err != nil {
		return CSRFToken{}, fmt.Errorf("failed to sign csrf token: %w", err)
	}

	if err := s.store.Set(ctx, csrfKey(sessionID), signed); err != nil {
		return CSRFToken{}, fmt.Errorf("failed to store csrf token: %w", err)
	}
	return CSRFToken{Value: signed, ExpiresAt: expiresAt}, nil
}

// Validate checks token against the one issued to sessionID.
func (s *CSRFService) Validate(ctx context.Context, sessionID, token string) error {
	if token == "" {
		return ErrCSRFTokenMissing
	}
	stored, ok, err := s.store.Get(ctx, csrfKey(sessionID))
	if err != nil {
		return fmt.Errorf("failed to load csrf token: %w", err)
	}
	if !ok {
		return ErrCSRFTokenMissing
	}
	if subtle.ConstantTimeCompare([]byte(stored), []byte(token)) != 1 {
		return ErrCSRFTokenInvalid
	}

	_, err = jwt.ParseWithClaims(token, &jwt.RegisteredClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrCSRFTokenInvalid
		}
		return s.secretKey, nil
	},
		jwt.WithTimeFunc(s.clock.Now),
		jwt.WithSubject(sessionID),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			if rmErr := s.store.Remove(ctx, csrfKey(sessionID)); rmErr != nil {
				return fmt.Errorf("%w (cleanup failed: %v)", ErrCSRFTokenExpired, rmErr)
			}
			return ErrCSRFTokenExpired
		}
		return ErrCSRFTokenInvalid
	}
	return nil
}

// Revoke forgets the token of sessionID.
func (s *CSRFService) Revoke(ctx context.Context, sessionID string) error {
	return s.store.Remove(ctx, csrfKey(sessionID))
}

func csrfKey(sessionID string) string {
	return "csrf:" + sessionID
}
