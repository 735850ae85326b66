// Package audit defines the dual-stream record model: every business event is
// written once to the customer-visible stream and once to the internal stream,
// linked by a correlation id. Customer records never carry commercially
// sensitive fields; internal records carry everything billing and debugging
// need.
package audit

import (
	"time"

	"github.com/google/uuid"
)

// CustomerRecord is the customer-visible side of a dual write. Immutable once
// written. The invariant: no forbidden field may ever appear here, by key name
// at any nesting depth or by content pattern in Message.
type CustomerRecord struct {
	CorrelationID  uuid.UUID      `json:"correlation_id"`
	Timestamp      time.Time      `json:"timestamp"`
	UserID         *int64         `json:"user_id,omitempty"`
	WorkloadID     *int64         `json:"workload_id,omitempty"`
	EventType      string         `json:"event_type"`
	Phase          string         `json:"phase,omitempty"`
	Status         string         `json:"status,omitempty"`
	Message        string         `json:"message"`
	QualityMetrics map[string]any `json:"quality_metrics,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// InternalRecord is the internal side of a dual write: full costs, margins,
// vendor and model identities, execution detail. Immutable once written,
// queryable only behind the elevated-privilege gate.
type InternalRecord struct {
	CorrelationID   uuid.UUID      `json:"correlation_id"`
	Timestamp       time.Time      `json:"timestamp"`
	UserID          *int64         `json:"user_id,omitempty"`
	WorkloadID      *int64         `json:"workload_id,omitempty"`
	EventType       string         `json:"event_type"`
	InternalCost    *float64       `json:"internal_cost,omitempty"`
	CustomerCharge  *float64       `json:"customer_charge,omitempty"`
	MarginPercent   *float64       `json:"margin_percent,omitempty"`
	ProviderName    string         `json:"provider_name,omitempty"`
	ModelName       string         `json:"model_name,omitempty"`
	ExecutionTimeMS *int64         `json:"execution_time_ms,omitempty"`
	ErrorDetails    string         `json:"error_details,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// InternalData is the caller-supplied internal payload for a write. It is
// persisted verbatim to the internal stream and never sanitized.
type InternalData struct {
	InternalCost    *float64
	CustomerCharge  *float64
	MarginPercent   *float64
	ProviderName    string
	ModelName       string
	ExecutionTimeMS *int64
	ErrorDetails    string
	Metadata        map[string]any
}

// WriteRequest carries one semantic event into the dual-write coordinator.
type WriteRequest struct {
	EventType        string
	UserID           *int64
	WorkloadID       *int64
	Message          string
	Internal         InternalData
	QualityMetrics   map[string]any
	Phase            string
	Status           string
	CustomerMetadata map[string]any
}

// Signal is an idempotent one-time completion marker keyed by
// (SubjectKey, VariantKey). A second write with the same key returns the
// original record rather than creating a duplicate.
type Signal struct {
	ID         int64          `json:"id"`
	SubjectKey string         `json:"subject_key"`
	VariantKey string         `json:"variant_key"`
	Payload    map[string]any `json:"payload,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// OutboxEntry is a committed internal-stream payload awaiting publication to
// the downstream firehose. Written in the same transaction as the dual write.
type OutboxEntry struct {
	ID            uuid.UUID
	CorrelationID uuid.UUID
	EventType     string
	Payload       []byte
	CreatedAt     time.Time
}

// Query bounds. Limits outside [1, MaxQueryLimit] are clamped, never rejected.
const (
	DefaultQueryLimit = 100
	MaxQueryLimit     = 500
)

// Filter narrows a stream query. ProviderName applies to the internal stream
// only. Date bounds are inclusive.
type Filter struct {
	UserID       *int64
	WorkloadID   *int64
	EventType    string
	ProviderName string
	Start        *time.Time
	End          *time.Time
	Limit        int
	Offset       int
}

// Clamped returns a copy with Limit forced into [1, MaxQueryLimit] (zero
// means DefaultQueryLimit) and Offset forced to >= 0.
func (f Filter) Clamped() Filter {
	if f.Limit <= 0 {
		f.Limit = DefaultQueryLimit
	}
	if f.Limit > MaxQueryLimit {
		f.Limit = MaxQueryLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

// CorrelationReport is the result of a correlation audit. An id is orphaned
// when it appears in one stream but not the other. Orphans are reported data,
// never an error; they must not block subsequent writes.
type CorrelationReport struct {
	TotalCustomer       int         `json:"total_customer"`
	TotalInternal       int         `json:"total_internal"`
	OrphanedCustomerIDs []uuid.UUID `json:"orphaned_customer_ids"`
	OrphanedInternalIDs []uuid.UUID `json:"orphaned_internal_ids"`
	CorrelationPercent  float64     `json:"correlation_percent"`
}

// IntegrityReport extends the correlation audit with the compliance gate.
type IntegrityReport struct {
	CorrelationReport
	MatchedCount     int     `json:"matched_count"`
	IntegrityPercent float64 `json:"integrity_percent"`
	PassesThreshold  bool    `json:"passes_threshold"`
}
