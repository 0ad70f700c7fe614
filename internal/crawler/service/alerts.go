package service

import (
	"context"
	"fmt"

	"archivegate/internal/crawler/models"
	audit "archivegate/pkg/platform/audit"
)

// AuditRecorder is satisfied by the compliance publisher.
type AuditRecorder interface {
	Record(ctx context.Context, entry audit.Entry) (audit.Entry, error)
}

// AuditAlerts reports crawler alerts as audit trail entries, so revocations
// reach the SIEM export alongside query activity. The actor is the opaque
// credentials ref.
type AuditAlerts struct {
	recorder AuditRecorder
}

func NewAuditAlerts(recorder AuditRecorder) *AuditAlerts {
	return &AuditAlerts{recorder: recorder}
}

func (a *AuditAlerts) SessionRevoked(ctx context.Context, s models.Session, reason string) error {
	_, err := a.recorder.Record(ctx, audit.Entry{
		Action:    audit.ActionCrawlerRevoked,
		Actor:     s.CredentialsRef,
		Outcome:   audit.OutcomeDenied,
		Stage:     string(s.State),
		Severity:  audit.SeverityCritical,
		Reason:    fmt.Sprintf("agency %s: %s; manual credential rotation required", s.AgencyID, reason),
		RequestID: s.ID,
	})
	return err
}

func (a *AuditAlerts) SessionSuspect(ctx context.Context, s models.Session) error {
	_, err := a.recorder.Record(ctx, audit.Entry{
		Action:    audit.ActionCrawlerSuspicious,
		Actor:     s.CredentialsRef,
		Outcome:   audit.OutcomeError,
		Stage:     string(s.State),
		Severity:  audit.SeverityWarning,
		Reason:    fmt.Sprintf("agency %s: upstream anomaly %d", s.AgencyID, s.Counters.SuspectCount),
		RequestID: s.ID,
	})
	return err
}
