//go:build integration

package postgres_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/suite"

	audit "archivegate/pkg/platform/audit"
	"archivegate/pkg/platform/audit/store/postgres"
	"archivegate/pkg/platform/sentinel"
	"archivegate/pkg/testutil/containers"
)

// =============================================================================
// Postgres Audit Store Suite
// =============================================================================
// Justification for integration tests: the chain hash must survive the
// TIMESTAMPTZ and DOUBLE PRECISION round trip, and the primary key and the
// append-only trigger are database behavior.

type PostgresStoreSuite struct {
	suite.Suite
	pg    *containers.PostgresContainer
	store *postgres.Store
	ctx   context.Context
}

func TestPostgresStoreSuite(t *testing.T) {
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.pg = containers.GetManager().GetPostgres(s.T())
	s.store = postgres.New(s.pg.DB)
	s.ctx = context.Background()
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.pg.TruncateTables(s.ctx, "audit_entries"))
}

func (s *PostgresStoreSuite) appendN(trail *audit.Trail, n int) {
	for range n {
		_, err := trail.Append(s.ctx, audit.Entry{
			Action:          audit.ActionQuery,
			Actor:           "analyst-7",
			QueryDescriptor: "6b86b273ff34fce19d6b804eff5a3f5747ada4eaa22f1d49c01e52ddb7875b4b",
			RuleSetVersion:  "2024-01-default",
			EpsilonConsumed: 0.25,
			Outcome:         audit.OutcomeSuccess,
			Stage:           "responded",
		})
		s.Require().NoError(err)
	}
}

func (s *PostgresStoreSuite) TestChainSurvivesRoundTrip() {
	s.appendN(audit.NewTrail(s.store), 3)

	result, err := audit.NewTrail(s.store).Verify(s.ctx, 0, 0)
	s.Require().NoError(err)
	s.True(result.Valid)
	s.Equal(3, result.Checked)
}

func (s *PostgresStoreSuite) TestRestartedTrailContinuesTheChain() {
	s.appendN(audit.NewTrail(s.store), 2)

	restarted := audit.NewTrail(s.store)
	s.appendN(restarted, 1)

	head, ok, err := s.store.Head(s.ctx)
	s.Require().NoError(err)
	s.Require().True(ok)
	s.Equal(audit.EntryID(3), head.ID)

	result, err := restarted.Verify(s.ctx, 0, 0)
	s.Require().NoError(err)
	s.True(result.Valid)
}

func (s *PostgresStoreSuite) TestStaleWriterConflictsThenRecovers() {
	a := audit.NewTrail(s.store)
	b := audit.NewTrail(s.store)
	s.appendN(a, 1)
	s.appendN(b, 1)

	_, err := a.Append(s.ctx, audit.Entry{Action: audit.ActionQuery, Actor: "analyst-7", Outcome: audit.OutcomeSuccess})
	s.Require().Error(err)
	s.True(errors.Is(err, sentinel.ErrConflict))

	s.appendN(a, 1)
	result, err := a.Verify(s.ctx, 0, 0)
	s.Require().NoError(err)
	s.True(result.Valid)
	s.Equal(3, result.Checked)
}

func (s *PostgresStoreSuite) TestUpdatesAreRejected() {
	s.appendN(audit.NewTrail(s.store), 1)

	_, err := s.pg.DB.ExecContext(s.ctx, `UPDATE audit_entries SET actor = 'someone-else' WHERE id = 1`)
	s.Require().Error(err)
	s.Contains(err.Error(), "append-only")

	_, err = s.pg.DB.ExecContext(s.ctx, `DELETE FROM audit_entries WHERE id = 1`)
	s.Require().Error(err)
}

func (s *PostgresStoreSuite) TestTamperingIsDetected() {
	s.appendN(audit.NewTrail(s.store), 3)

	for _, stmt := range []string{
		`ALTER TABLE audit_entries DISABLE TRIGGER audit_entries_no_update`,
		`UPDATE audit_entries SET epsilon_consumed = 0 WHERE id = 2`,
		`ALTER TABLE audit_entries ENABLE TRIGGER audit_entries_no_update`,
	} {
		_, err := s.pg.DB.ExecContext(s.ctx, stmt)
		s.Require().NoError(err)
	}

	result, err := audit.NewTrail(s.store).Verify(s.ctx, 0, 0)
	s.Require().NoError(err)
	s.False(result.Valid)
	s.Equal(audit.EntryID(2), result.CorruptedAt)
}
