package jwttoken

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"archivegate/internal/auth/models"
	dErrors "archivegate/pkg/domain-errors"
	strs "archivegate/pkg/platform/strings"
)

// Claims represents the JWT claims for archive access tokens. The requester
// is the subject.
type Claims struct {
	Datasets []string `json:"datasets"`
	Roles    []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// Scope converts validated claims to the grant they carry.
func (c *Claims) Scope() *models.Scope {
	scope := &models.Scope{
		RequesterID: c.Subject,
		Datasets:    strs.DedupeAndTrim(c.Datasets),
		Roles:       strs.DedupeAndTrimLower(c.Roles),
		TokenID:     c.ID,
	}
	if c.ExpiresAt != nil {
		scope.ExpiresAt = c.ExpiresAt.Time
	}
	return scope
}

// JWTService signs and verifies HS256 access tokens bound to one issuer and
// audience. Expiry is mandatory.
type JWTService struct {
	key    []byte
	issuer string
	aud    string
	parser *jwt.Parser
}

func NewJWTService(signingKey, issuer, audience string) *JWTService {
	return &JWTService{
		key:    []byte(signingKey),
		issuer: issuer,
		aud:    audience,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithIssuer(issuer),
			jwt.WithAudience(audience),
			jwt.WithExpirationRequired(),
		),
	}
}

// GenerateAccessToken mints a token for operator tooling and tests. Clients
// never receive tokens from this service.
func (s *JWTService) GenerateAccessToken(requesterID string, datasets, roles []string, ttl time.Duration) (string, error) {
	issued := time.Now()
	claims := Claims{Datasets: datasets, Roles: roles}
	claims.Subject = requesterID
	claims.Issuer = s.issuer
	claims.Audience = jwt.ClaimStrings{s.aud}
	claims.IssuedAt = jwt.NewNumericDate(issued)
	claims.ExpiresAt = jwt.NewNumericDate(issued.Add(ttl))
	claims.ID = uuid.NewString()
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
}

func (s *JWTService) keyFunc(*jwt.Token) (any, error) { return s.key, nil }

// ValidateToken maps every parser failure to CodeUnauthorized, keeping
// expiry distinguishable in the message.
func (s *JWTService) ValidateToken(raw string) (*Claims, error) {
	var claims Claims
	tok, err := s.parser.ParseWithClaims(raw, &claims, s.keyFunc)
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, dErrors.New(dErrors.CodeUnauthorized, "token has expired")
	case err != nil, !tok.Valid:
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	case claims.Subject == "":
		return nil, dErrors.New(dErrors.CodeUnauthorized, "token has no subject")
	}
	return &claims, nil
}

// Validate satisfies the validator's token source contract.
func (s *JWTService) Validate(_ context.Context, raw string) (*models.Scope, error) {
	claims, err := s.ValidateToken(raw)
	if err != nil {
		return nil, err
	}
	return claims.Scope(), nil
}
