package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"chronicle/internal/audit"
	"chronicle/pkg/platform/sentinel"
)

type MemoryStoreSuite struct {
	suite.Suite
	store *Store
	ctx   context.Context
}

func TestMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(MemoryStoreSuite))
}

func (s *MemoryStoreSuite) SetupTest() {
	s.store = New()
	s.ctx = context.Background()
}

func (s *MemoryStoreSuite) insertPair(ts time.Time) uuid.UUID {
	correlationID := uuid.New()
	err := s.store.InsertPair(s.ctx,
		audit.CustomerRecord{CorrelationID: correlationID, Timestamp: ts, EventType: "workload_completed", Message: "ok"},
		audit.InternalRecord{CorrelationID: correlationID, Timestamp: ts, EventType: "workload_completed", ProviderName: "deepgram"},
		[]byte(`{}`),
	)
	s.Require().NoError(err)
	return correlationID
}

func (s *MemoryStoreSuite) TestInsertPairPopulatesAllThree() {
	correlationID := s.insertPair(time.Now().UTC())

	customer, err := s.store.GetCustomer(s.ctx, correlationID)
	s.Require().NoError(err)
	s.Equal(correlationID, customer.CorrelationID)

	internal, err := s.store.GetInternal(s.ctx, correlationID)
	s.Require().NoError(err)
	s.Equal(correlationID, internal.CorrelationID)

	pending, err := s.store.NextUnpublished(s.ctx, 10)
	s.Require().NoError(err)
	s.Len(pending, 1)
}

func (s *MemoryStoreSuite) TestGetMissingIsNotFound() {
	_, err := s.store.GetCustomer(s.ctx, uuid.New())
	s.ErrorIs(err, sentinel.ErrNotFound)

	_, err = s.store.GetInternal(s.ctx, uuid.New())
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *MemoryStoreSuite) TestQueryNewestFirstWithPaging() {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		s.insertPair(base.Add(time.Duration(i) * time.Minute))
	}

	records, err := s.store.QueryCustomer(s.ctx, audit.Filter{Limit: 3}.Clamped())
	s.Require().NoError(err)
	s.Require().Len(records, 3)
	s.True(records[0].Timestamp.After(records[1].Timestamp))
	s.True(records[1].Timestamp.After(records[2].Timestamp))

	records, err = s.store.QueryCustomer(s.ctx, audit.Filter{Limit: 3, Offset: 3}.Clamped())
	s.Require().NoError(err)
	s.Len(records, 1)
}

func (s *MemoryStoreSuite) TestProviderFilterAppliesToInternalOnly() {
	s.insertPair(time.Now().UTC())

	internal, err := s.store.QueryInternal(s.ctx, audit.Filter{ProviderName: "deepgram"}.Clamped())
	s.Require().NoError(err)
	s.Len(internal, 1)

	internal, err = s.store.QueryInternal(s.ctx, audit.Filter{ProviderName: "elevenlabs"}.Clamped())
	s.Require().NoError(err)
	s.Empty(internal)
}

func (s *MemoryStoreSuite) TestOrphanScans() {
	s.insertPair(time.Now().UTC())

	orphanCustomer := uuid.New()
	s.store.SeedCustomer(audit.CustomerRecord{CorrelationID: orphanCustomer})
	orphanInternal := uuid.New()
	s.store.SeedInternal(audit.InternalRecord{CorrelationID: orphanInternal})

	customers, err := s.store.OrphanedCustomerIDs(s.ctx)
	s.Require().NoError(err)
	s.Equal([]uuid.UUID{orphanCustomer}, customers)

	internals, err := s.store.OrphanedInternalIDs(s.ctx)
	s.Require().NoError(err)
	s.Equal([]uuid.UUID{orphanInternal}, internals)
}

func (s *MemoryStoreSuite) TestInsertOrFetchConcurrentSameKey() {
	const goroutines = 32
	var wg sync.WaitGroup
	ids := make([]int64, goroutines)
	newFlags := make([]bool, goroutines)

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			signal, wasNew, err := s.store.InsertOrFetch(s.ctx, "user:1:done", "v1", nil)
			s.NoError(err)
			ids[i] = signal.ID
			newFlags[i] = wasNew
		}(i)
	}
	wg.Wait()

	newCount := 0
	for i, wasNew := range newFlags {
		if wasNew {
			newCount++
		}
		s.Equal(ids[0], ids[i])
	}
	s.Equal(1, newCount)
}

func (s *MemoryStoreSuite) TestMarkPublishedIsSticky() {
	s.insertPair(time.Now().UTC())
	s.insertPair(time.Now().UTC())

	pending, err := s.store.NextUnpublished(s.ctx, 1)
	s.Require().NoError(err)
	s.Require().Len(pending, 1)

	s.Require().NoError(s.store.MarkPublished(s.ctx, []uuid.UUID{pending[0].ID}))

	pending, err = s.store.NextUnpublished(s.ctx, 10)
	s.Require().NoError(err)
	s.Len(pending, 1)
}
