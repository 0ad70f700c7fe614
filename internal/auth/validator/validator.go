// Package validator resolves bearer tokens to scopes. Signed JWTs are checked
// locally against the revocation list; anything else is looked up as an
// opaque token in the token store.
package validator

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"archivegate/internal/auth/models"
	dErrors "archivegate/pkg/domain-errors"
	"archivegate/pkg/platform/sentinel"
)

type JWTValidator interface {
	Validate(ctx context.Context, token string) (*models.Scope, error)
}

type TokenStore interface {
	Lookup(ctx context.Context, token string) (*models.Scope, error)
}

type RevocationList interface {
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

type Validator struct {
	jwt         JWTValidator
	tokens      TokenStore
	revocations RevocationList
	logger      *slog.Logger
	now         func() time.Time
}

type Option func(*Validator)

func WithJWT(j JWTValidator) Option {
	return func(v *Validator) { v.jwt = j }
}

func WithTokenStore(s TokenStore) Option {
	return func(v *Validator) { v.tokens = s }
}

func WithRevocationList(r RevocationList) Option {
	return func(v *Validator) { v.revocations = r }
}

func WithLogger(logger *slog.Logger) Option {
	return func(v *Validator) { v.logger = logger }
}

func WithClock(now func() time.Time) Option {
	return func(v *Validator) {
		if now != nil {
			v.now = now
		}
	}
}

func New(opts ...Option) *Validator {
	v := &Validator{now: time.Now}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate returns the scope a token grants or an unauthorized error.
// Lookups that fail for infrastructure reasons are internal errors; the
// caller denies either way.
func (v *Validator) Validate(ctx context.Context, token string) (*models.Scope, error) {
	token = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(token), "Bearer "))
	if token == "" {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "missing token")
	}

	var (
		scope *models.Scope
		err   error
	)
	if v.jwt != nil && strings.Count(token, ".") == 2 {
		scope, err = v.validateJWT(ctx, token)
	} else {
		scope, err = v.lookup(ctx, token)
	}
	if err != nil {
		return nil, err
	}
	if scope.RequesterID == "" {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "token has no requester")
	}
	return scope, nil
}

func (v *Validator) validateJWT(ctx context.Context, token string) (*models.Scope, error) {
	scope, err := v.jwt.Validate(ctx, token)
	if err != nil {
		return nil, err
	}
	if v.revocations == nil || scope.TokenID == "" {
		return scope, nil
	}
	revoked, err := v.revocations.IsRevoked(ctx, scope.TokenID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "token revocation check failed")
	}
	if revoked {
		if v.logger != nil {
			v.logger.InfoContext(ctx, "revoked token presented",
				"requester_id", scope.RequesterID,
				"jti", scope.TokenID,
			)
		}
		return nil, dErrors.New(dErrors.CodeUnauthorized, "token has been revoked")
	}
	return scope, nil
}

func (v *Validator) lookup(ctx context.Context, token string) (*models.Scope, error) {
	if v.tokens == nil {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	}
	scope, err := v.tokens.Lookup(ctx, token)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "token lookup failed")
	}
	if !scope.ExpiresAt.IsZero() && !v.now().Before(scope.ExpiresAt) {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "token has expired")
	}
	return scope, nil
}
