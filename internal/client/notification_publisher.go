package client

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/pesio-ai/be-crm-activities/internal/service"
)

// Publisher is the subset of the NATS client used for notifications.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// NotificationPublisher publishes activity workflow notifications to NATS
// JetStream for consumption by the notifications service.
//
// Subject convention: <prefix>.<kind>
// Kinds: status_change, review_requested, assignment_required
type NotificationPublisher struct {
	nats    Publisher
	prefix  string
	timeout time.Duration
	log     zerolog.Logger
}

// DefaultPublishTimeout bounds a single publish when no timeout is configured.
const DefaultPublishTimeout = 2 * time.Second

// NotificationEvent is the JSON schema published to NATS.
type NotificationEvent struct {
	EventType    string    `json:"event_type"`
	ActorEmail   string    `json:"actor_email,omitempty"`
	Recipients   []string  `json:"recipients"`
	Title        string    `json:"title"`
	Body         string    `json:"body"`
	ResourceType string    `json:"resource_type"`
	ResourceID   string    `json:"resource_id"`
	IsActionable bool      `json:"is_actionable,omitempty"`
	Severity     string    `json:"severity,omitempty"`
	Category     string    `json:"category,omitempty"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// NewNotificationPublisher creates a publisher backed by the given NATS client.
// A nil client turns every notification into a debug log line. Each publish
// waits at most timeout for the stream acknowledgement.
func NewNotificationPublisher(nats Publisher, prefix string, timeout time.Duration, log zerolog.Logger) *NotificationPublisher {
	if timeout <= 0 {
		timeout = DefaultPublishTimeout
	}
	return &NotificationPublisher{nats: nats, prefix: prefix, timeout: timeout, log: log}
}

// Notify publishes n. Errors are returned so the caller can count them; the
// workflow never fails because of them. The publish outlives cancellation of
// ctx but not the publisher timeout.
func (p *NotificationPublisher) Notify(ctx context.Context, n service.Notification) error {
	if p.nats == nil {
		p.log.Debug().
			Str("recipient", n.Recipient).
			Str("kind", n.Kind).
			Str("activity_id", n.ActivityID).
			Msg("notification: publisher disabled, dropping")
		return nil
	}

	event := &NotificationEvent{
		EventType:    n.Kind,
		ActorEmail:   n.ActorEmail,
		Recipients:   []string{n.Recipient},
		Title:        n.Title,
		Body:         n.Body,
		ResourceType: "sales_activity",
		ResourceID:   n.ActivityID,
		IsActionable: n.Kind != service.KindStatusChange,
		Severity:     "info",
		Category:     "crm_verification",
		OccurredAt:   time.Now().UTC(),
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	subject := fmt.Sprintf("%s.%s", p.prefix, n.Kind)
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()
	if err := p.nats.Publish(pubCtx, subject, data); err != nil {
		return err
	}

	p.log.Debug().
		Str("subject", subject).
		Str("activity_id", n.ActivityID).
		Str("recipient", n.Recipient).
		Msg("notification: event published")
	return nil
}
