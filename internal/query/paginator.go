package query

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"archivegate/internal/records"
	dErrors "archivegate/pkg/domain-errors"
)

const (
	DefaultLimit = 50
	MaxLimit     = 500

	tagSize = 16
)

var ErrMissingCursorKey = errors.New("cursor signing key is required")

// cursorPayload pins a cursor to the dataset and filter it was issued for.
type cursorPayload struct {
	FetchedAt time.Time `json:"t"`
	ID        string    `json:"id"`
	Dataset   string    `json:"d"`
	Filter    string    `json:"f"`
}

// Paginator walks a record source in SortKey order. Cursors are opaque and
// tagged so clients cannot forge positions or replay them across queries.
type Paginator struct {
	key          []byte
	defaultLimit int
	maxLimit     int
}

type PaginatorOption func(*Paginator)

// WithLimits overrides the default and maximum page sizes.
func WithLimits(defaultLimit, maxLimit int) PaginatorOption {
	return func(p *Paginator) {
		if defaultLimit > 0 {
			p.defaultLimit = defaultLimit
		}
		if maxLimit > 0 {
			p.maxLimit = maxLimit
		}
	}
}

func NewPaginator(key []byte, opts ...PaginatorOption) (*Paginator, error) {
	if len(key) == 0 {
		return nil, ErrMissingCursorKey
	}
	p := &Paginator{key: key, defaultLimit: DefaultLimit, maxLimit: MaxLimit}
	for _, opt := range opts {
		opt(p)
	}
	if p.defaultLimit > p.maxLimit {
		p.defaultLimit = p.maxLimit
	}
	return p, nil
}

// Limit clamps a requested page size. Zero selects the default.
func (p *Paginator) Limit(requested int) int {
	if requested <= 0 {
		return p.defaultLimit
	}
	if requested > p.maxLimit {
		return p.maxLimit
	}
	return requested
}

// Page returns up to limit matching records after the cursor position.
// Records inserted concurrently behind the cursor are never revisited, and
// no record present for the whole walk is skipped or duplicated.
func (p *Paginator) Page(ctx context.Context, src records.Source, dataset string, filter *Filter, cursor string, limit int) (*Page, error) {
	limit = p.Limit(limit)

	var after *records.SortKey
	if cursor != "" {
		key, err := p.decode(cursor, dataset, filter)
		if err != nil {
			return nil, err
		}
		after = &key
	}

	out := make([]records.Record, 0, limit)
	more := false
	err := src.Scan(ctx, dataset, after, func(r records.Record) (bool, error) {
		if !filter.Match(r) {
			return true, nil
		}
		if len(out) == limit {
			more = true
			return false, nil
		}
		out = append(out, r)
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	page := &Page{Records: out}
	if more {
		page.NextCursor = p.encode(out[len(out)-1].SortKey(), dataset, filter)
	}
	return page, nil
}

func (p *Paginator) encode(key records.SortKey, dataset string, filter *Filter) string {
	raw, _ := json.Marshal(cursorPayload{
		FetchedAt: key.FetchedAt.UTC(),
		ID:        key.ID,
		Dataset:   dataset,
		Filter:    filter.Fingerprint(),
	})
	body := base64.RawURLEncoding.EncodeToString(raw)
	return body + "." + base64.RawURLEncoding.EncodeToString(p.tag(body))
}

func (p *Paginator) decode(cursor, dataset string, filter *Filter) (records.SortKey, error) {
	invalid := dErrors.New(dErrors.CodeInvalidInput, "invalid cursor")

	body, tagPart, ok := strings.Cut(cursor, ".")
	if !ok {
		return records.SortKey{}, invalid
	}
	tag, err := base64.RawURLEncoding.DecodeString(tagPart)
	if err != nil || !hmac.Equal(tag, p.tag(body)) {
		return records.SortKey{}, invalid
	}
	raw, err := base64.RawURLEncoding.DecodeString(body)
	if err != nil {
		return records.SortKey{}, invalid
	}
	var payload cursorPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return records.SortKey{}, invalid
	}
	if payload.Dataset != dataset || payload.Filter != filter.Fingerprint() {
		return records.SortKey{}, dErrors.New(dErrors.CodeInvalidInput, "cursor was issued for a different query")
	}
	return records.SortKey{FetchedAt: payload.FetchedAt, ID: payload.ID}, nil
}

func (p *Paginator) tag(body string) []byte {
	mac := hmac.New(sha256.New, p.key)
	mac.Write([]byte(body))
	return mac.Sum(nil)[:tagSize]
}
