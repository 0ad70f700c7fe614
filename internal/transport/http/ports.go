package httptransport

import (
	"context"

	crawlermodels "archivegate/internal/crawler/models"
	"archivegate/internal/orchestrator"
	ledger "archivegate/internal/privacy/ledger/models"
	"archivegate/internal/query"
	"archivegate/pkg/platform/audit"
)

// QueryService runs the redaction and noise pipeline for one request.
type QueryService interface {
	Handle(ctx context.Context, desc query.Descriptor, token string) (*orchestrator.Response, error)
}

// AuditService exposes chain verification to auditors.
type AuditService interface {
	Verify(ctx context.Context, from, to audit.EntryID) (audit.VerifyResult, error)
	Head(ctx context.Context) (audit.Entry, bool, error)
}

type BudgetService interface {
	Get(ctx context.Context, requesterID, datasetID string) (*ledger.Budget, error)
}

// CrawlerAdmin performs operator credential rotation.
type CrawlerAdmin interface {
	Rotate(ctx context.Context, agency crawlermodels.Agency) (*crawlermodels.Session, error)
}

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) error
