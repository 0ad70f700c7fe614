package orchestrator

import (
	"time"

	"archivegate/internal/privacy/dp"
	"archivegate/internal/query"
	redaction "archivegate/internal/redaction/models"
	"archivegate/pkg/platform/audit"
)

// State is a pipeline position of one request.
type State string

const (
	StateReceived   State = "received"
	StateAuthorized State = "authorized"
	StateFiltered   State = "filtered"
	StateRedacted   State = "redacted"
	StateNoised     State = "noised"
	StateAudited    State = "audited"
	StateResponded  State = "responded"
	StateDenied     State = "denied"
	StateErrored    State = "errored"
)

var transitions = map[State][]State{
	StateReceived:   {StateAuthorized, StateDenied, StateErrored},
	StateAuthorized: {StateFiltered, StateDenied, StateErrored},
	StateFiltered:   {StateRedacted, StateNoised, StateAudited, StateErrored},
	StateRedacted:   {StateAudited, StateErrored},
	StateNoised:     {StateAudited, StateErrored},
	StateAudited:    {StateResponded},
}

// CanTransition reports whether the pipeline may move from one state to
// another. Denied, Errored and Responded are terminal.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Stage names the step a failure happened in. It is recorded on the audit
// entry.
type Stage string

const (
	StageAuthorize Stage = "authorize"
	StageValidate  Stage = "validate"
	StageRuleSet   Stage = "rule_set"
	StageFilter    Stage = "filter"
	StageReserve   Stage = "reserve"
	StageAggregate Stage = "aggregate"
	StageRedact    Stage = "redact"
	StageNoise     Stage = "noise"
	StageComplete  Stage = "complete"
)

// SummaryItem is the record reference returned by summary queries.
type SummaryItem struct {
	ID        string    `json:"id"`
	FetchedAt time.Time `json:"timestamp"`
}

// Response is what a successful pipeline run returns. Count is the number of
// records in this page; aggregate results only ever appear noised, in
// Aggregate.
type Response struct {
	RequestID      string                      `json:"request_id"`
	Type           query.Type                  `json:"query_type"`
	Records        []redaction.SanitizedRecord `json:"data,omitempty"`
	Summary        []SummaryItem               `json:"summary,omitempty"`
	Aggregate      *dp.NoisyResult             `json:"aggregate,omitempty"`
	Count          int                         `json:"count"`
	NextCursor     string                      `json:"next_cursor,omitempty"`
	AuditEntryID   audit.EntryID               `json:"audit_entry_id"`
	RuleSetVersion string                      `json:"rule_set_version,omitempty"`
}
