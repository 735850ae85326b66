// Package service orchestrates the dual-write audit log: one sanitized
// customer record and one full internal record per business event, committed
// atomically and linked by a correlation id.
package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"chronicle/internal/audit"
	"chronicle/internal/audit/metrics"
	"chronicle/internal/audit/policy"
	"chronicle/internal/platform/config"
	"chronicle/pkg/requestcontext"

	derrors "chronicle/pkg/domain-errors"
)

// RecordStore persists and reads the two record streams. InsertPair must be
// atomic: both records and the outbox row, or nothing.
type RecordStore interface {
	InsertPair(ctx context.Context, customer audit.CustomerRecord, internal audit.InternalRecord, outboxPayload []byte) error
	QueryCustomer(ctx context.Context, f audit.Filter) ([]audit.CustomerRecord, error)
	QueryInternal(ctx context.Context, f audit.Filter) ([]audit.InternalRecord, error)
	GetCustomer(ctx context.Context, correlationID uuid.UUID) (*audit.CustomerRecord, error)
	GetInternal(ctx context.Context, correlationID uuid.UUID) (*audit.InternalRecord, error)
	CountCustomer(ctx context.Context) (int, error)
	CountInternal(ctx context.Context) (int, error)
	OrphanedCustomerIDs(ctx context.Context) ([]uuid.UUID, error)
	OrphanedInternalIDs(ctx context.Context) ([]uuid.UUID, error)
}

// SignalStore records idempotent completion signals. InsertOrFetch must be
// safe under concurrent identical keys: exactly one row wins, everyone gets it.
type SignalStore interface {
	InsertOrFetch(ctx context.Context, subjectKey, variantKey string, payload map[string]any) (audit.Signal, bool, error)
}

// IntegrityCache caches integrity reports between audits so dashboards
// polling the compliance gate don't trigger repeated orphan scans.
type IntegrityCache interface {
	Get(ctx context.Context) (*audit.IntegrityReport, bool)
	Set(ctx context.Context, report *audit.IntegrityReport)
}

// Service is the audit core. Construct with New; the zero value is unusable.
type Service struct {
	records   RecordStore
	signals   SignalStore
	policy    *policy.Policy
	logger    *slog.Logger
	metrics   *metrics.Metrics
	cache     IntegrityCache
	threshold float64
	tracer    trace.Tracer
}

type serviceConfig struct {
	policy    *policy.Policy
	logger    *slog.Logger
	metrics   *metrics.Metrics
	cache     IntegrityCache
	threshold float64
}

type Option func(*serviceConfig)

func WithPolicy(p *policy.Policy) Option {
	return func(cfg *serviceConfig) { cfg.policy = p }
}

func WithLogger(l *slog.Logger) Option {
	return func(cfg *serviceConfig) { cfg.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(cfg *serviceConfig) { cfg.metrics = m }
}

func WithIntegrityCache(c IntegrityCache) Option {
	return func(cfg *serviceConfig) { cfg.cache = c }
}

func WithIntegrityThreshold(threshold float64) Option {
	return func(cfg *serviceConfig) { cfg.threshold = threshold }
}

func New(records RecordStore, signals SignalStore, opts ...Option) *Service {
	cfg := &serviceConfig{threshold: config.IntegrityThreshold}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.policy == nil {
		cfg.policy = policy.Default()
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}
	return &Service{
		records:   records,
		signals:   signals,
		policy:    cfg.policy,
		logger:    cfg.logger,
		metrics:   cfg.metrics,
		cache:     cfg.cache,
		threshold: cfg.threshold,
		tracer:    otel.Tracer("chronicle/audit"),
	}
}

// Write records one semantic event in both streams atomically and returns the
// correlation id. Policy violations fail closed before any I/O; storage
// failures surface as CodeUnavailable and are safe to retry whole.
func (s *Service) Write(ctx context.Context, req audit.WriteRequest) (uuid.UUID, error) {
	ctx, span := s.tracer.Start(ctx, "audit.Write",
		trace.WithAttributes(attribute.String("event_type", req.EventType)))
	defer span.End()
	start := time.Now()

	if req.EventType == "" {
		s.metrics.IncrementWriteFailure("validation")
		return uuid.Nil, derrors.New(derrors.CodeBadRequest, "event_type is required")
	}
	if req.Message == "" {
		s.metrics.IncrementWriteFailure("validation")
		return uuid.Nil, derrors.New(derrors.CodeBadRequest, "message is required")
	}

	if pattern, found := s.policy.Violation(req.Message); found {
		s.metrics.IncrementPolicyViolation(pattern)
		s.metrics.IncrementWriteFailure("content_policy")
		return uuid.Nil, derrors.Newf(derrors.CodeContentPolicy,
			"message contains forbidden pattern %q; use customer-safe language", pattern)
	}

	correlationID := uuid.New()
	timestamp := requestcontext.Now(ctx).UTC()
	span.SetAttributes(attribute.String("correlation_id", correlationID.String()))

	customer := audit.CustomerRecord{
		CorrelationID:  correlationID,
		Timestamp:      timestamp,
		UserID:         req.UserID,
		WorkloadID:     req.WorkloadID,
		EventType:      req.EventType,
		Phase:          req.Phase,
		Status:         req.Status,
		Message:        req.Message,
		QualityMetrics: s.policy.Classify(req.QualityMetrics),
		Metadata:       s.policy.Classify(req.CustomerMetadata),
	}
	internal := audit.InternalRecord{
		CorrelationID:   correlationID,
		Timestamp:       timestamp,
		UserID:          req.UserID,
		WorkloadID:      req.WorkloadID,
		EventType:       req.EventType,
		InternalCost:    req.Internal.InternalCost,
		CustomerCharge:  req.Internal.CustomerCharge,
		MarginPercent:   req.Internal.MarginPercent,
		ProviderName:    req.Internal.ProviderName,
		ModelName:       req.Internal.ModelName,
		ExecutionTimeMS: req.Internal.ExecutionTimeMS,
		ErrorDetails:    req.Internal.ErrorDetails,
		Metadata:        s.enrichInternalMetadata(ctx, req.Internal.Metadata),
	}

	outboxPayload, err := json.Marshal(internal)
	if err != nil {
		s.metrics.IncrementWriteFailure("encoding")
		return uuid.Nil, derrors.Wrap(err, derrors.CodeInternal, "encode outbox payload")
	}

	if err := s.records.InsertPair(ctx, customer, internal, outboxPayload); err != nil {
		s.metrics.IncrementWriteFailure("storage")
		s.logger.ErrorContext(ctx, "dual write failed",
			"event_type", req.EventType,
			"correlation_id", correlationID,
			"error", err,
		)
		return uuid.Nil, derrors.Wrap(err, derrors.CodeUnavailable, "audit write failed")
	}

	s.metrics.ObserveWrite(float64(time.Since(start).Microseconds()) / 1000.0)
	s.logger.InfoContext(ctx, "dual write committed",
		"correlation_id", correlationID,
		"event_type", req.EventType,
		"request_id", requestcontext.RequestID(ctx),
	)
	return correlationID, nil
}

// enrichInternalMetadata copies the caller's internal metadata and stamps it
// with request-scoped trace data. Only the internal stream ever sees this.
func (s *Service) enrichInternalMetadata(ctx context.Context, meta map[string]any) map[string]any {
	requestID := requestcontext.RequestID(ctx)
	agent := requestcontext.ClientAgent(ctx)
	if requestID == "" && agent == "" {
		return meta
	}
	out := make(map[string]any, len(meta)+2)
	for k, v := range meta {
		out[k] = v
	}
	if requestID != "" {
		out["request_id"] = requestID
	}
	if agent != "" {
		out["client_agent"] = agent
	}
	return out
}

// RecordSignal records an idempotent one-time signal. Retries with the same
// composite key return the original signal id and timestamp with wasNew=false.
func (s *Service) RecordSignal(ctx context.Context, subjectKey, variantKey string, payload map[string]any) (audit.Signal, bool, error) {
	if subjectKey == "" || variantKey == "" {
		return audit.Signal{}, false, derrors.New(derrors.CodeBadRequest, "subject_key and variant_key are required")
	}

	signal, wasNew, err := s.signals.InsertOrFetch(ctx, subjectKey, variantKey, payload)
	if err != nil {
		return audit.Signal{}, false, derrors.Wrap(err, derrors.CodeUnavailable, "signal write failed")
	}

	s.metrics.IncrementSignal(wasNew)
	if !wasNew {
		s.logger.InfoContext(ctx, "signal already recorded",
			"subject_key", subjectKey,
			"variant_key", variantKey,
			"signal_id", signal.ID,
		)
	}
	return signal, wasNew, nil
}
