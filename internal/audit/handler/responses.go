package handler

import (
	"github.com/google/uuid"

	"chronicle/internal/audit"
)

type writeResponse struct {
	CorrelationID uuid.UUID `json:"correlation_id"`
}

type customerListResponse struct {
	Records []audit.CustomerRecord `json:"records"`
	Count   int                    `json:"count"`
	Limit   int                    `json:"limit"`
	Offset  int                    `json:"offset"`
}

type internalListResponse struct {
	Records []audit.InternalRecord `json:"records"`
	Count   int                    `json:"count"`
	Limit   int                    `json:"limit"`
	Offset  int                    `json:"offset"`
}

type signalResponse struct {
	audit.Signal
	WasNew bool `json:"was_new"`
}
