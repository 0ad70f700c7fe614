// Package requestcontext carries request-scoped values through a context
// without depending on net/http, so the query pipeline and the crawler can
// read what the middleware stored.
//
//	id := requestcontext.RequestID(ctx)
//	at := requestcontext.Now(ctx)
//
// Tests pin the clock with WithTime.
package requestcontext

import (
	"context"
	"time"
)

type key int

const (
	requesterKey key = iota
	clientIPKey
	userAgentKey
	requestIDKey
	timeKey
)

func stringValue(ctx context.Context, k key) string {
	s, _ := ctx.Value(k).(string)
	return s
}

// RequesterID is the subject of the bearer token, empty before authorization.
func RequesterID(ctx context.Context) string { return stringValue(ctx, requesterKey) }

func WithRequesterID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requesterKey, id)
}

func ClientIP(ctx context.Context) string  { return stringValue(ctx, clientIPKey) }
func UserAgent(ctx context.Context) string { return stringValue(ctx, userAgentKey) }

// WithClientMetadata stores the caller's address and user agent together.
func WithClientMetadata(ctx context.Context, ip, userAgent string) context.Context {
	return context.WithValue(context.WithValue(ctx, clientIPKey, ip), userAgentKey, userAgent)
}

func RequestID(ctx context.Context) string { return stringValue(ctx, requestIDKey) }

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// Now returns the time pinned on ctx, or the wall clock.
func Now(ctx context.Context) time.Time {
	return NowFrom(ctx, time.Now)
}

// NowFrom is Now with an injectable fallback clock.
func NowFrom(ctx context.Context, clock func() time.Time) time.Time {
	if t, ok := ctx.Value(timeKey).(time.Time); ok {
		return t
	}
	return clock()
}

// WithTime pins the request time so every timestamp taken while serving the
// request agrees.
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, timeKey, t)
}
