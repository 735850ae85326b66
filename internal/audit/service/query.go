package service

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"chronicle/internal/audit"
	"chronicle/pkg/platform/sentinel"
	"chronicle/pkg/requestcontext"

	derrors "chronicle/pkg/domain-errors"
)

// QueryCustomer returns customer-stream records, newest first. Every returned
// row is re-classified on the way out: even if a buggy writer stored a
// forbidden field, it does not leave this method.
func (s *Service) QueryCustomer(ctx context.Context, f audit.Filter) ([]audit.CustomerRecord, error) {
	f = f.Clamped()
	f.ProviderName = "" // internal-only filter, never applied to this stream

	records, err := s.records.QueryCustomer(ctx, f)
	if err != nil {
		return nil, derrors.Wrap(err, derrors.CodeUnavailable, "customer stream query failed")
	}

	for i := range records {
		records[i].Metadata = s.policy.Classify(records[i].Metadata)
		records[i].QualityMetrics = s.policy.Classify(records[i].QualityMetrics)
	}
	return records, nil
}

// QueryInternal returns internal-stream records, newest first, unredacted.
// Refuses to serve unless the transport layer asserted the admin gate.
func (s *Service) QueryInternal(ctx context.Context, f audit.Filter) ([]audit.InternalRecord, error) {
	if err := requireAdmin(ctx); err != nil {
		return nil, err
	}

	records, err := s.records.QueryInternal(ctx, f.Clamped())
	if err != nil {
		return nil, derrors.Wrap(err, derrors.CodeUnavailable, "internal stream query failed")
	}
	return records, nil
}

// CorrelatedPair is both sides of one dual write.
type CorrelatedPair struct {
	Customer audit.CustomerRecord `json:"customer"`
	Internal audit.InternalRecord `json:"internal"`
}

// GetCorrelated returns both records for a correlation id. Admin only.
func (s *Service) GetCorrelated(ctx context.Context, correlationID uuid.UUID) (*CorrelatedPair, error) {
	if err := requireAdmin(ctx); err != nil {
		return nil, err
	}

	customer, err := s.records.GetCustomer(ctx, correlationID)
	if err != nil {
		return nil, translateLookupErr(err, "customer record not found")
	}
	internal, err := s.records.GetInternal(ctx, correlationID)
	if err != nil {
		return nil, translateLookupErr(err, "internal record not found")
	}
	return &CorrelatedPair{Customer: *customer, Internal: *internal}, nil
}

func requireAdmin(ctx context.Context) error {
	if requestcontext.AdminSubject(ctx) == "" {
		return derrors.New(derrors.CodeForbidden, "admin role required")
	}
	return nil
}

func translateLookupErr(err error, notFoundMsg string) error {
	if errors.Is(err, sentinel.ErrNotFound) {
		return derrors.New(derrors.CodeNotFound, notFoundMsg)
	}
	return derrors.Wrap(err, derrors.CodeUnavailable, "record lookup failed")
}
