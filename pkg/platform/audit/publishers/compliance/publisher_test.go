package compliance

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "archivegate/pkg/domain-errors"
	audit "archivegate/pkg/platform/audit"
	"archivegate/pkg/platform/audit/store/memory"
)

type failingAppender struct{}

func (failingAppender) Append(context.Context, audit.Entry) (audit.Entry, error) {
	return audit.Entry{}, errors.New("connection reset")
}

func TestPublisher_Record(t *testing.T) {
	ctx := context.Background()

	t.Run("commits to the trail", func(t *testing.T) {
		metrics := NewMetrics(prometheus.NewRegistry())
		p := New(audit.NewTrail(memory.NewInMemoryStore()), WithMetrics(metrics))

		e, err := p.Record(ctx, audit.Entry{Action: audit.ActionQuery, Actor: "alice", Outcome: audit.OutcomeDenied})
		require.NoError(t, err)
		assert.Equal(t, audit.EntryID(1), e.ID)
		assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Entries.WithLabelValues("denied")))
	})

	t.Run("store failure is an audit write failure", func(t *testing.T) {
		metrics := NewMetrics(prometheus.NewRegistry())
		p := New(failingAppender{}, WithMetrics(metrics))

		_, err := p.Record(ctx, audit.Entry{Action: audit.ActionQuery, Actor: "alice", Outcome: audit.OutcomeSuccess})
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeAuditWriteFailure))
		assert.Equal(t, 1.0, testutil.ToFloat64(metrics.PersistFailures))
	})

	t.Run("missing actor rejected", func(t *testing.T) {
		p := New(audit.NewTrail(memory.NewInMemoryStore()))
		_, err := p.Record(ctx, audit.Entry{Action: audit.ActionQuery, Outcome: audit.OutcomeSuccess})
		assert.True(t, dErrors.HasCode(err, dErrors.CodeAuditWriteFailure))
	})
}
