//go:build integration

package postgres_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"chronicle/internal/audit"
	"chronicle/internal/audit/store/postgres"
	"chronicle/pkg/platform/sentinel"
	txcontext "chronicle/pkg/platform/tx"
	"chronicle/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *postgres.Store
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())
	s.store = postgres.New(s.postgres.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateAll(context.Background()))
}

func ptrInt(v int64) *int64       { return &v }
func ptrFloat(v float64) *float64 { return &v }

func newPair(ts time.Time) (audit.CustomerRecord, audit.InternalRecord) {
	correlationID := uuid.New()
	customer := audit.CustomerRecord{
		CorrelationID: correlationID,
		Timestamp:     ts,
		UserID:        ptrInt(42),
		WorkloadID:    ptrInt(7),
		EventType:     "workload_completed",
		Phase:         "processing",
		Status:        "success",
		Message:       "Workload completed successfully",
		Metadata:      map[string]any{"channel": "api"},
	}
	internal := audit.InternalRecord{
		CorrelationID:   correlationID,
		Timestamp:       ts,
		UserID:          ptrInt(42),
		WorkloadID:      ptrInt(7),
		EventType:       "workload_completed",
		InternalCost:    ptrFloat(0.0042),
		CustomerCharge:  ptrFloat(0.015),
		MarginPercent:   ptrFloat(72),
		ProviderName:    "deepgram",
		ModelName:       "nova-3",
		ExecutionTimeMS: ptrInt(1840),
		Metadata:        map[string]any{"region": "us-east-1"},
	}
	return customer, internal
}

func (s *PostgresStoreSuite) insertPair(ts time.Time) uuid.UUID {
	customer, internal := newPair(ts)
	payload, err := json.Marshal(internal)
	s.Require().NoError(err)
	s.Require().NoError(s.store.InsertPair(context.Background(), customer, internal, payload))
	return customer.CorrelationID
}

func (s *PostgresStoreSuite) TestInsertPairRoundTrip() {
	ctx := context.Background()
	ts := time.Now().UTC().Truncate(time.Microsecond)
	correlationID := s.insertPair(ts)

	customer, err := s.store.GetCustomer(ctx, correlationID)
	s.Require().NoError(err)
	s.Equal("workload_completed", customer.EventType)
	s.Equal(int64(42), *customer.UserID)
	s.Equal("api", customer.Metadata["channel"])
	s.True(customer.Timestamp.Equal(ts))

	internal, err := s.store.GetInternal(ctx, correlationID)
	s.Require().NoError(err)
	s.Equal(0.0042, *internal.InternalCost)
	s.Equal("deepgram", internal.ProviderName)
	s.Equal("us-east-1", internal.Metadata["region"])

	pending, err := s.store.NextUnpublished(ctx, 10)
	s.Require().NoError(err)
	s.Require().Len(pending, 1)
	s.Equal(correlationID, pending[0].CorrelationID)
}

func (s *PostgresStoreSuite) TestInsertPairRollsBackWhole() {
	ctx := context.Background()
	customer, internal := newPair(time.Now().UTC())
	// Duplicate the customer row first so the transaction fails mid-way.
	s.Require().NoError(s.store.InsertPair(ctx, customer, internal, nil))

	err := s.store.InsertPair(ctx, customer, internal, nil)
	s.Require().Error(err)

	total, err := s.store.CountCustomer(ctx)
	s.Require().NoError(err)
	s.Equal(1, total)
	total, err = s.store.CountInternal(ctx)
	s.Require().NoError(err)
	s.Equal(1, total)
}

func (s *PostgresStoreSuite) TestCallerTransactionIsReusedNotCommitted() {
	ctx := context.Background()
	tx, err := s.postgres.DB.BeginTx(ctx, nil)
	s.Require().NoError(err)

	customer, internal := newPair(time.Now().UTC())
	s.Require().NoError(s.store.InsertPair(txcontext.WithTx(ctx, tx), customer, internal, nil))
	s.Require().NoError(tx.Rollback())

	_, err = s.store.GetCustomer(ctx, customer.CorrelationID)
	s.True(errors.Is(err, sentinel.ErrNotFound), "rolled-back writes must not be visible")
}

func (s *PostgresStoreSuite) TestForeignKeyRejectsStandaloneInternal() {
	ctx := context.Background()
	_, internal := newPair(time.Now().UTC())

	_, err := s.postgres.DB.ExecContext(ctx, `
		INSERT INTO internal_records (correlation_id, timestamp, event_type)
		VALUES ($1, $2, $3)
	`, internal.CorrelationID, internal.Timestamp, internal.EventType)
	s.Require().Error(err, "internal record without customer partner must be rejected")
}

func (s *PostgresStoreSuite) TestQueryOrderingAndPagination() {
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		s.insertPair(base.Add(time.Duration(i) * time.Minute))
	}

	page, err := s.store.QueryCustomer(ctx, audit.Filter{Limit: 2}.Clamped())
	s.Require().NoError(err)
	s.Require().Len(page, 2)
	s.True(page[0].Timestamp.After(page[1].Timestamp), "newest first")

	page, err = s.store.QueryCustomer(ctx, audit.Filter{Limit: 2, Offset: 4}.Clamped())
	s.Require().NoError(err)
	s.Len(page, 1)

	page, err = s.store.QueryCustomer(ctx, audit.Filter{Limit: 2, Offset: 10}.Clamped())
	s.Require().NoError(err)
	s.Empty(page)
}

func (s *PostgresStoreSuite) TestQueryFilters() {
	ctx := context.Background()
	ts := time.Now().UTC()
	s.insertPair(ts)

	other, otherInternal := newPair(ts)
	other.UserID = ptrInt(99)
	otherInternal.UserID = ptrInt(99)
	otherInternal.ProviderName = "elevenlabs"
	s.Require().NoError(s.store.InsertPair(ctx, other, otherInternal, nil))

	records, err := s.store.QueryCustomer(ctx, audit.Filter{UserID: ptrInt(99)}.Clamped())
	s.Require().NoError(err)
	s.Len(records, 1)

	internal, err := s.store.QueryInternal(ctx, audit.Filter{ProviderName: "deepgram"}.Clamped())
	s.Require().NoError(err)
	s.Require().Len(internal, 1)
	s.Equal("deepgram", internal[0].ProviderName)

	start := ts.Add(time.Hour)
	records, err = s.store.QueryCustomer(ctx, audit.Filter{Start: &start}.Clamped())
	s.Require().NoError(err)
	s.Empty(records)
}

func (s *PostgresStoreSuite) TestOrphanScans() {
	ctx := context.Background()
	s.insertPair(time.Now().UTC())

	orphan := uuid.New()
	_, err := s.postgres.DB.ExecContext(ctx, `
		INSERT INTO customer_records (correlation_id, timestamp, event_type, message)
		VALUES ($1, NOW(), 'workload_completed', 'orphan')
	`, orphan)
	s.Require().NoError(err)

	orphans, err := s.store.OrphanedCustomerIDs(ctx)
	s.Require().NoError(err)
	s.Equal([]uuid.UUID{orphan}, orphans)

	orphans, err = s.store.OrphanedInternalIDs(ctx)
	s.Require().NoError(err)
	s.Empty(orphans)
}

func (s *PostgresStoreSuite) TestSignalInsertOrFetchUnderConcurrency() {
	ctx := context.Background()
	const goroutines = 50

	var wg sync.WaitGroup
	var newCount atomic.Int32
	ids := make([]int64, goroutines)

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			signal, wasNew, err := s.store.InsertOrFetch(ctx, "user:42:onboarding", "v1", map[string]any{"worker": i})
			s.NoError(err)
			if wasNew {
				newCount.Add(1)
			}
			ids[i] = signal.ID
		}(i)
	}
	wg.Wait()

	s.Equal(int32(1), newCount.Load(), "exactly one insert wins")
	for _, id := range ids[1:] {
		s.Equal(ids[0], id, "every caller sees the same signal")
	}
}

func (s *PostgresStoreSuite) TestMarkPublished() {
	ctx := context.Background()
	s.insertPair(time.Now().UTC())
	s.insertPair(time.Now().UTC())

	pending, err := s.store.NextUnpublished(ctx, 10)
	s.Require().NoError(err)
	s.Require().Len(pending, 2)

	s.Require().NoError(s.store.MarkPublished(ctx, []uuid.UUID{pending[0].ID}))

	pending, err = s.store.NextUnpublished(ctx, 10)
	s.Require().NoError(err)
	s.Len(pending, 1)
}
