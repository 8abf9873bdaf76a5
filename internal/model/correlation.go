package model

import (
	"encoding/json"
	"time"
)

// CorrelationStatus tracks the lifecycle of an audited side effect.
type CorrelationStatus string

const (
	CorrelationPending   CorrelationStatus = "pending"
	CorrelationCompleted CorrelationStatus = "completed"
	CorrelationFailed    CorrelationStatus = "failed"
)

// Correlation is an auditable envelope around a side-effect invocation
// (service call, tool use). Handlers and the scheduler write these; the
// pipeline never reads them.
type Correlation struct {
	CorrelationID string            `json:"correlation_id"`
	ServiceType   string            `json:"service_type"`
	HandlerName   string            `json:"handler_name"`
	ActionType    string            `json:"action_type"`
	RequestData   json.RawMessage   `json:"request_data,omitempty"`
	ResponseData  json.RawMessage   `json:"response_data,omitempty"`
	Status        CorrelationStatus `json:"status"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}
