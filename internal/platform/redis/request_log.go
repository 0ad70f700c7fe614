package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	requestLogPrefix = "request_log:"
	requestLogTTL    = 7 * 24 * time.Hour
)

// RequestEntry is one line of the per-day request log.
type RequestEntry struct {
	Timestamp int64  `json:"timestamp"`
	Method    string `json:"method"`
	Path      string `json:"path"`
	IP        string `json:"ip"`
	Status    int    `json:"status"`
	UserAgent string `json:"user_agent"`
	Username  string `json:"username,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// RequestLog appends entries to request_log:<yyyy-mm-dd>. Each day's list
// expires seven days after its last write.
type RequestLog struct {
	client redis.UniversalClient
}

func NewRequestLog(client redis.UniversalClient) *RequestLog {
	return &RequestLog{client: client}
}

func RequestLogKey(day time.Time) string {
	return requestLogPrefix + day.UTC().Format(time.DateOnly)
}

func (l *RequestLog) Append(ctx context.Context, e RequestEntry) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode request log entry: %w", err)
	}
	key := RequestLogKey(time.Unix(e.Timestamp, 0))
	_, err = l.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.RPush(ctx, key, raw)
		p.Expire(ctx, key, requestLogTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("append request log: %w", err)
	}
	return nil
}

// Day returns the entries logged on day, oldest first.
func (l *RequestLog) Day(ctx context.Context, day time.Time) ([]RequestEntry, error) {
	raws, err := l.client.LRange(ctx, RequestLogKey(day), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read request log: %w", err)
	}
	out := make([]RequestEntry, 0, len(raws))
	for _, raw := range raws {
		var e RequestEntry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return nil, fmt.Errorf("decode request log entry: %w", err)
		}
		out = append(out, e)
	}
	return out, nil
}
