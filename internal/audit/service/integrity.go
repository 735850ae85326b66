package service

import (
	"context"
	"math"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"chronicle/internal/audit"

	derrors "chronicle/pkg/domain-errors"
)

// AuditCorrelation verifies that every record in one stream has its partner
// in the other. Orphans are reported, not thrown: they reflect historical
// state and must not block subsequent writes.
func (s *Service) AuditCorrelation(ctx context.Context) (*audit.CorrelationReport, error) {
	var (
		totalCustomer, totalInternal int
		orphanedCustomer             []uuid.UUID
		orphanedInternal             []uuid.UUID
	)

	// The four scans are independent reads; run them concurrently against
	// the pool.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		totalCustomer, err = s.records.CountCustomer(gctx)
		return err
	})
	g.Go(func() (err error) {
		totalInternal, err = s.records.CountInternal(gctx)
		return err
	})
	g.Go(func() (err error) {
		orphanedCustomer, err = s.records.OrphanedCustomerIDs(gctx)
		return err
	})
	g.Go(func() (err error) {
		orphanedInternal, err = s.records.OrphanedInternalIDs(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, derrors.Wrap(err, derrors.CodeUnavailable, "correlation audit failed")
	}

	correlationPercent := 100.0
	if totalCustomer > 0 {
		correlationPercent = 100.0 * float64(totalCustomer-len(orphanedCustomer)) / float64(totalCustomer)
	}

	return &audit.CorrelationReport{
		TotalCustomer:       totalCustomer,
		TotalInternal:       totalInternal,
		OrphanedCustomerIDs: orphanedCustomer,
		OrphanedInternalIDs: orphanedInternal,
		CorrelationPercent:  correlationPercent,
	}, nil
}

// AuditIntegrity reports the compliance gate: correlation integrity against
// the fixed threshold. Results are cached briefly when a cache is configured;
// this is a monitoring gate, not a blocking precondition for writes.
func (s *Service) AuditIntegrity(ctx context.Context) (*audit.IntegrityReport, error) {
	if s.cache != nil {
		if report, ok := s.cache.Get(ctx); ok {
			return report, nil
		}
	}

	correlation, err := s.AuditCorrelation(ctx)
	if err != nil {
		return nil, err
	}

	matched := correlation.TotalCustomer - len(correlation.OrphanedCustomerIDs)
	integrityPercent := 100.0
	if correlation.TotalCustomer > 0 {
		integrityPercent = roundTwo(100.0 * float64(matched) / float64(correlation.TotalCustomer))
	}

	report := &audit.IntegrityReport{
		CorrelationReport: *correlation,
		MatchedCount:      matched,
		IntegrityPercent:  integrityPercent,
		PassesThreshold:   integrityPercent >= s.threshold,
	}

	s.metrics.SetIntegrityPercent(integrityPercent)
	if !report.PassesThreshold {
		s.logger.WarnContext(ctx, "integrity below threshold",
			"integrity_percent", integrityPercent,
			"threshold", s.threshold,
			"orphaned_customer", len(correlation.OrphanedCustomerIDs),
			"orphaned_internal", len(correlation.OrphanedInternalIDs),
		)
	}

	if s.cache != nil {
		s.cache.Set(ctx, report)
	}
	return report, nil
}

func roundTwo(v float64) float64 {
	return math.Round(v*100) / 100
}
