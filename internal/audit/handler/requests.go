package handler

import (
	"net/http"
	"strconv"
	"time"

	"chronicle/internal/audit"

	derrors "chronicle/pkg/domain-errors"
)

type internalPayload struct {
	InternalCost    *float64       `json:"internal_cost"`
	CustomerCharge  *float64       `json:"customer_charge"`
	MarginPercent   *float64       `json:"margin_percent"`
	ProviderName    string         `json:"provider_name"`
	ModelName       string         `json:"model_name"`
	ExecutionTimeMS *int64         `json:"execution_time_ms"`
	ErrorDetails    string         `json:"error_details"`
	Metadata        map[string]any `json:"metadata"`
}

type writeRequest struct {
	EventType        string          `json:"event_type"`
	UserID           *int64          `json:"user_id"`
	WorkloadID       *int64          `json:"workload_id"`
	Message          string          `json:"message"`
	Phase            string          `json:"phase"`
	Status           string          `json:"status"`
	QualityMetrics   map[string]any  `json:"quality_metrics"`
	CustomerMetadata map[string]any  `json:"customer_metadata"`
	Internal         internalPayload `json:"internal"`
}

func (r writeRequest) toDomain() audit.WriteRequest {
	return audit.WriteRequest{
		EventType:        r.EventType,
		UserID:           r.UserID,
		WorkloadID:       r.WorkloadID,
		Message:          r.Message,
		Phase:            r.Phase,
		Status:           r.Status,
		QualityMetrics:   r.QualityMetrics,
		CustomerMetadata: r.CustomerMetadata,
		Internal: audit.InternalData{
			InternalCost:    r.Internal.InternalCost,
			CustomerCharge:  r.Internal.CustomerCharge,
			MarginPercent:   r.Internal.MarginPercent,
			ProviderName:    r.Internal.ProviderName,
			ModelName:       r.Internal.ModelName,
			ExecutionTimeMS: r.Internal.ExecutionTimeMS,
			ErrorDetails:    r.Internal.ErrorDetails,
			Metadata:        r.Internal.Metadata,
		},
	}
}

type signalRequest struct {
	SubjectKey string         `json:"subject_key"`
	VariantKey string         `json:"variant_key"`
	Payload    map[string]any `json:"payload"`
}

// parseFilter reads stream query parameters. Limits out of range are clamped
// downstream, never rejected; malformed values are a caller error.
func parseFilter(r *http.Request) (audit.Filter, error) {
	q := r.URL.Query()
	var f audit.Filter

	var err error
	if f.UserID, err = parseOptionalInt(q.Get("user_id")); err != nil {
		return f, derrors.New(derrors.CodeBadRequest, "user_id must be an integer")
	}
	if f.WorkloadID, err = parseOptionalInt(q.Get("workload_id")); err != nil {
		return f, derrors.New(derrors.CodeBadRequest, "workload_id must be an integer")
	}
	f.EventType = q.Get("event_type")
	f.ProviderName = q.Get("provider_name")

	if f.Start, err = parseOptionalTime(q.Get("start")); err != nil {
		return f, derrors.New(derrors.CodeBadRequest, "start must be RFC 3339")
	}
	if f.End, err = parseOptionalTime(q.Get("end")); err != nil {
		return f, derrors.New(derrors.CodeBadRequest, "end must be RFC 3339")
	}

	// Unparseable limit/offset fall back to defaults rather than failing the
	// query.
	if raw := q.Get("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			f.Limit = v
		}
	}
	if raw := q.Get("offset"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			f.Offset = v
		}
	}
	return f, nil
}

func parseOptionalInt(raw string) (*int64, error) {
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func parseOptionalTime(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
