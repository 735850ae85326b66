package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"chronicle/internal/audit"
	"chronicle/internal/audit/store/memory"
)

type IntegritySuite struct {
	suite.Suite
	store   *memory.Store
	service *Service
}

func (s *IntegritySuite) SetupTest() {
	s.store = memory.New()
	s.service = New(s.store, s.store)
}

func TestIntegritySuite(t *testing.T) {
	suite.Run(t, new(IntegritySuite))
}

func (s *IntegritySuite) writePairs(n int) {
	ctx := context.Background()
	for i := 0; i < n; i++ {
		_, err := s.service.Write(ctx, audit.WriteRequest{
			EventType: "workload_completed",
			Message:   fmt.Sprintf("event %d", i),
		})
		s.Require().NoError(err)
	}
}

func (s *IntegritySuite) seedOrphanedCustomers(n int) {
	for i := 0; i < n; i++ {
		s.store.SeedCustomer(audit.CustomerRecord{
			CorrelationID: uuid.New(),
			Timestamp:     time.Now().UTC(),
			EventType:     "workload_completed",
			Message:       "orphan",
		})
	}
}

func (s *IntegritySuite) TestEmptyStoreIsFullyCorrelated() {
	report, err := s.service.AuditIntegrity(context.Background())
	s.Require().NoError(err)
	s.Equal(100.0, report.IntegrityPercent)
	s.True(report.PassesThreshold)
	s.Zero(report.TotalCustomer)
}

func (s *IntegritySuite) TestHealthyStreamsPass() {
	s.writePairs(50)

	report, err := s.service.AuditIntegrity(context.Background())
	s.Require().NoError(err)
	s.Equal(50, report.TotalCustomer)
	s.Equal(50, report.TotalInternal)
	s.Equal(50, report.MatchedCount)
	s.Empty(report.OrphanedCustomerIDs)
	s.Empty(report.OrphanedInternalIDs)
	s.Equal(100.0, report.IntegrityPercent)
	s.True(report.PassesThreshold)
}

func (s *IntegritySuite) TestThresholdBoundary() {
	s.Run("997 of 1000 passes", func() {
		s.SetupTest()
		s.writePairs(997)
		s.seedOrphanedCustomers(3)

		report, err := s.service.AuditIntegrity(context.Background())
		s.Require().NoError(err)
		s.Equal(1000, report.TotalCustomer)
		s.Equal(997, report.MatchedCount)
		s.Equal(99.7, report.IntegrityPercent)
		s.True(report.PassesThreshold, "threshold is inclusive")
	})

	s.Run("996 of 1000 fails", func() {
		s.SetupTest()
		s.writePairs(996)
		s.seedOrphanedCustomers(4)

		report, err := s.service.AuditIntegrity(context.Background())
		s.Require().NoError(err)
		s.Equal(99.6, report.IntegrityPercent)
		s.False(report.PassesThreshold)
	})
}

func (s *IntegritySuite) TestOrphansAreReportedNotFatal() {
	s.writePairs(2)
	s.seedOrphanedCustomers(1)
	s.store.SeedInternal(audit.InternalRecord{
		CorrelationID: uuid.New(),
		Timestamp:     time.Now().UTC(),
		EventType:     "workload_completed",
	})

	report, err := s.service.AuditCorrelation(context.Background())
	s.Require().NoError(err)
	s.Len(report.OrphanedCustomerIDs, 1)
	s.Len(report.OrphanedInternalIDs, 1)
	s.Equal(3, report.TotalCustomer)
	s.Equal(3, report.TotalInternal)

	// Writes keep working regardless of the audit outcome.
	_, err = s.service.Write(context.Background(), audit.WriteRequest{
		EventType: "workload_completed",
		Message:   "after audit",
	})
	s.NoError(err)
}

func (s *IntegritySuite) TestCustomThreshold() {
	svc := New(s.store, s.store, WithIntegrityThreshold(50.0))
	s.writePairs(6)
	s.seedOrphanedCustomers(4)

	report, err := svc.AuditIntegrity(context.Background())
	s.Require().NoError(err)
	s.Equal(60.0, report.IntegrityPercent)
	s.True(report.PassesThreshold)
}

type stubCache struct {
	stored *audit.IntegrityReport
	hits   int
	sets   int
}

func (c *stubCache) Get(context.Context) (*audit.IntegrityReport, bool) {
	if c.stored == nil {
		return nil, false
	}
	c.hits++
	return c.stored, true
}

func (c *stubCache) Set(_ context.Context, report *audit.IntegrityReport) {
	c.sets++
	c.stored = report
}

func (s *IntegritySuite) TestIntegrityReportIsCached() {
	cache := &stubCache{}
	svc := New(s.store, s.store, WithIntegrityCache(cache))
	s.writePairs(3)

	first, err := svc.AuditIntegrity(context.Background())
	s.Require().NoError(err)
	s.Equal(1, cache.sets)

	// Second call is served from the cache: new writes are not visible yet.
	s.writePairs(2)
	second, err := svc.AuditIntegrity(context.Background())
	s.Require().NoError(err)
	s.Equal(first, second)
	s.Equal(1, cache.hits)
	s.Equal(1, cache.sets)
}
