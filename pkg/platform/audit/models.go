// Package audit implements the append-only, hash-chained audit trail. Every
// query and crawler alert lands here as an Entry whose hash covers its own
// fields plus the previous entry's hash, so any in-place edit breaks the chain
// from that entry onward.
package audit

import (
	"context"
	"time"
)

// EntryID is the monotonic position of an entry in the trail, starting at 1.
type EntryID uint64

// Outcome is the terminal result recorded for an audited operation.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeDenied  Outcome = "denied"
	OutcomeError   Outcome = "error"
	OutcomeTimeout Outcome = "timeout"
)

func (o Outcome) IsValid() bool {
	switch o {
	case OutcomeSuccess, OutcomeDenied, OutcomeError, OutcomeTimeout:
		return true
	}
	return false
}

// Severity levels route entries when they are exported to a SIEM.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Action names what kind of operation produced the entry.
type Action string

const (
	ActionQuery             Action = "query"
	ActionRedactionWarning  Action = "redaction_warning"
	ActionCrawlerRevoked    Action = "crawler_session_revoked"
	ActionCrawlerSuspicious Action = "crawler_session_suspect"
)

// GenesisHash is the PrevHash of the first entry.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// Entry is one immutable record in the trail. ID, Timestamp, PrevHash and
// Hash are assigned by the Trail on append.
type Entry struct {
	ID              EntryID   `json:"id"`
	Timestamp       time.Time `json:"timestamp"`
	Action          Action    `json:"action"`
	Actor           string    `json:"actor"`
	QueryDescriptor string    `json:"query_descriptor"` // sha256 hex of the canonical descriptor
	RuleSetVersion  string    `json:"rule_set_version,omitempty"`
	EpsilonConsumed float64   `json:"epsilon_consumed"`
	Outcome         Outcome   `json:"outcome"`
	Stage           string    `json:"stage,omitempty"`
	Severity        Severity  `json:"severity"`
	Reason          string    `json:"reason,omitempty"`
	RequestID       string    `json:"request_id,omitempty"`
	PrevHash        string    `json:"prev_hash"`
	Hash            string    `json:"hash"`
}

// VerifyResult reports the first entry whose hash or link does not check out.
type VerifyResult struct {
	Valid       bool    `json:"valid"`
	CorruptedAt EntryID `json:"corrupted_at,omitempty"`
	Checked     int     `json:"checked"`
}

// Store persists entries. Append must reject an entry whose ID is not exactly
// one past the current head with sentinel.ErrConflict. List returns up to
// limit entries with ID >= from in ascending order.
type Store interface {
	Append(ctx context.Context, entry Entry) error
	Head(ctx context.Context) (Entry, bool, error)
	List(ctx context.Context, from EntryID, limit int) ([]Entry, error)
}

// Exporter receives committed entries. Implementations must not block.
type Exporter interface {
	Export(entry Entry)
}
