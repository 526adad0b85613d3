// Package queue consumes diagnostic workflow events from the message broker.
package queue

import "time"

// ResultQueueName is the durable queue the radiology workflow publishes to.
const ResultQueueName = "radiology.result.completed"

// ResultCompletedEvent is published by the diagnostic workflow when a result
// transitions to completed. The workflow guarantees at most one result per
// request, so each event is seen once.
type ResultCompletedEvent struct {
	RequestID     int64      `json:"request_id"`
	PatientID     int64      `json:"patient_id"`
	ProviderID    int64      `json:"provider_id"`
	RadiologistID int64      `json:"radiologist_id"`
	Fee           float64    `json:"fee"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}
