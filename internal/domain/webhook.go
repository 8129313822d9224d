package domain

import "time"

// Webhook event names dispatched by the orchestrator and sync service.
const (
	EventSyncCompleted          = "sync.completed"
	EventSyncFailed             = "sync.failed"
	EventOrchestrationCompleted = "orchestration.completed"
)

// WebhookConfig is a registered subscriber endpoint.
type WebhookConfig struct {
	ID              string     `json:"id,omitempty"`
	Name            string     `json:"name"`
	URL             string     `json:"url"`
	Secret          string     `json:"secret,omitempty"`
	IsEnabled       bool       `json:"is_enabled"`
	Events          []string   `json:"events"`
	SuccessCount    int64      `json:"success_count"`
	FailureCount    int64      `json:"failure_count"`
	LastTriggeredAt *time.Time `json:"last_triggered_at,omitempty"`
}

// SubscribedTo reports whether the webhook wants the given event.
// An empty event list means all events.
func (w WebhookConfig) SubscribedTo(event string) bool {
	if len(w.Events) == 0 {
		return true
	}
	for _, e := range w.Events {
		if e == event {
			return true
		}
	}
	return false
}

// DeliveryStatus is the terminal state of a single webhook delivery attempt.
type DeliveryStatus string

const (
	DeliveryStatusDelivered DeliveryStatus = "delivered"
	DeliveryStatusFailed    DeliveryStatus = "failed"
)

// WebhookDeliveryLog records one delivery attempt. Deliveries get exactly
// one attempt each; there is no retry queue.
type WebhookDeliveryLog struct {
	ID             string         `json:"id,omitempty"`
	WebhookID      string         `json:"webhook_id"`
	Event          string         `json:"event"`
	Status         DeliveryStatus `json:"status"`
	HTTPStatus     int            `json:"http_status"`
	ResponseTimeMS int64          `json:"response_time_ms"`
	ErrorMessage   string         `json:"error_message,omitempty"`
	Signature      string         `json:"signature"`
	DeliveredAt    time.Time      `json:"delivered_at"`
}

// WebhookPayload is the signed JSON body posted to subscribers.
type WebhookPayload struct {
	Event     string      `json:"event"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}
