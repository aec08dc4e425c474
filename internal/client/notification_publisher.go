package client

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// NotificationPublisher publishes approval workflow events to NATS for the
// notifications service.
//
// Subject convention: notifications.ap.<event_type>
// Event types: invoice_submitted, invoice_approval_required,
// invoice_approved, invoice_rejected, batch_processed
//
// All publish operations are non-fatal: errors are logged but never
// propagated, so notification failures never interrupt approval operations.
type NotificationPublisher struct {
	nc  *nats.Conn
	log zerolog.Logger
}

// NotificationEvent is the JSON schema published to NATS.
type NotificationEvent struct {
	EventType    string         `json:"event_type"`
	ActorID      string         `json:"actor_id"`
	Recipients   []string       `json:"recipients"`
	ResourceType string         `json:"resource_type,omitempty"`
	ResourceID   string         `json:"resource_id,omitempty"`
	Payload      map[string]any `json:"payload,omitempty"`
}

// NewNotificationPublisher creates a publisher. A nil connection disables
// publishing entirely.
func NewNotificationPublisher(nc *nats.Conn, log zerolog.Logger) *NotificationPublisher {
	return &NotificationPublisher{nc: nc, log: log}
}

// PublishInvoiceEvent publishes an AP approval event.
func (p *NotificationPublisher) PublishInvoiceEvent(eventType, invoiceID, actorID string, recipients []string, payload map[string]any) {
	p.publish(eventType, "invoice", invoiceID, actorID, recipients, payload)
}

// PublishBatchEvent publishes a payment batch event.
func (p *NotificationPublisher) PublishBatchEvent(eventType, batchID, actorID string, recipients []string, payload map[string]any) {
	p.publish(eventType, "payment_batch", batchID, actorID, recipients, payload)
}

func (p *NotificationPublisher) publish(eventType, resourceType, resourceID, actorID string, recipients []string, payload map[string]any) {
	if p == nil || p.nc == nil {
		return
	}
	if len(recipients) == 0 {
		return
	}

	event := &NotificationEvent{
		EventType:    eventType,
		ActorID:      actorID,
		Recipients:   recipients,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Payload:      payload,
	}

	data, err := json.Marshal(event)
	if err != nil {
		p.log.Warn().Err(err).Str("event_type", eventType).Msg("notification: failed to marshal event")
		return
	}

	subject := fmt.Sprintf("notifications.ap.%s", eventType)
	if err := p.nc.Publish(subject, data); err != nil {
		p.log.Warn().Err(err).
			Str("subject", subject).
			Str("resource_id", resourceID).
			Msg("notification: failed to publish event (non-fatal)")
		return
	}

	p.log.Debug().
		Str("subject", subject).
		Str("resource_id", resourceID).
		Int("recipients", len(recipients)).
		Msg("notification: event published")
}
