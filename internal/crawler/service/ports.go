package service

import (
	"context"
	"time"

	"archivegate/internal/crawler/evasion"
	"archivegate/internal/crawler/lease"
	"archivegate/internal/crawler/models"
)

type LeaseManager interface {
	Acquire(ctx context.Context, key models.SessionKey, ttl time.Duration) (*lease.Lease, error)
	Renew(ctx context.Context, l *lease.Lease, ttl time.Duration) error
	Release(ctx context.Context, l *lease.Lease) error
}

type SessionStore interface {
	Get(ctx context.Context, key models.SessionKey) (*models.Session, error)
	Save(ctx context.Context, session *models.Session) error
}

type CredentialProvider interface {
	Fetch(ctx context.Context, agencyID string) (models.Credentials, error)
}

type Profiles interface {
	Get(id string) (evasion.Profile, error)
}

// AlertSink receives state changes an operator must know about.
type AlertSink interface {
	SessionRevoked(ctx context.Context, session models.Session, reason string) error
	SessionSuspect(ctx context.Context, session models.Session) error
}
