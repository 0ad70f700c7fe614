package orchestrator

import (
	"context"

	authmodels "archivegate/internal/auth/models"
	"archivegate/internal/privacy/dp"
	ledger "archivegate/internal/privacy/ledger/models"
	"archivegate/internal/records"
	redaction "archivegate/internal/redaction/models"
	"archivegate/pkg/platform/audit"
)

// TokenValidator resolves a bearer token to the scope it grants.
type TokenValidator interface {
	Validate(ctx context.Context, token string) (*authmodels.Scope, error)
}

// RuleSets supplies the active redaction rule set.
type RuleSets interface {
	Latest(ctx context.Context) (*redaction.RuleSet, error)
}

type Redactor interface {
	RedactPage(ctx context.Context, page []records.Record, rs *redaction.RuleSet, proj redaction.Projection) ([]redaction.SanitizedRecord, error)
}

// Budget is the privacy budget ledger.
type Budget interface {
	Reserve(ctx context.Context, requesterID, datasetID string, epsilon float64) (*ledger.Allocation, error)
	Release(ctx context.Context, alloc *ledger.Allocation) error
}

type NoiseEngine interface {
	Sensitivity(q dp.AggregateQuery) (float64, error)
	Apply(ctx context.Context, q dp.AggregateQuery, raw float64, alloc *ledger.Allocation) (*dp.NoisyResult, error)
}

// AuditRecorder commits entries with fail-closed semantics.
type AuditRecorder interface {
	Record(ctx context.Context, entry audit.Entry) (audit.Entry, error)
}
