// Package notify implements the durable email queue of §6: a list push of
// {type, recipient, payload}; the consumer that actually sends mail lives
// outside the core.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/lavente-care/aim-core/internal/cache"
)

type EmailType string

const (
	EmailMFAEnabled      EmailType = "mfa_enabled"
	EmailMFADisabled     EmailType = "mfa_disabled"
	EmailAccountLocked   EmailType = "account_locked"
	EmailPasswordReset   EmailType = "password_reset"
	EmailPasswordChanged EmailType = "password_changed"
	EmailNewDeviceLogin  EmailType = "new_device_login"
	EmailSecurityAlert   EmailType = "security_alert"
)

// Message is the wire shape pushed onto the queue. The consumer owns
// templating and delivery; the core only guarantees the message is queued.
type Message struct {
	Type      EmailType      `json:"type"`
	Recipient string         `json:"recipient"`
	Payload   map[string]any `json:"payload"`
}

const queueKey = "notifications:email:outbox"

// Notifier is what the services depend on; the production implementation
// is QueueNotifier, tests can substitute a recording fake.
type Notifier interface {
	Enqueue(ctx context.Context, msg Message) error
}

type QueueNotifier struct {
	cache  cache.Cache
	logger *slog.Logger
}

func NewQueueNotifier(c cache.Cache, logger *slog.Logger) *QueueNotifier {
	return &QueueNotifier{cache: c, logger: logger}
}

// Enqueue never returns an error that should interrupt the caller's
// business operation; callers that want strict delivery guarantees should
// still check the returned error and decide for themselves. The core
// services treat a queue failure the same way the audit sink does: log and
// move on, because a dropped notification email never blocks an auth
// operation.
func (q *QueueNotifier) Enqueue(ctx context.Context, msg Message) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("notify: marshal message: %w", err)
	}
	if err := q.cache.ListPush(ctx, queueKey, string(raw)); err != nil {
		q.logger.ErrorContext(ctx, "notify_enqueue_failed", slog.String("type", string(msg.Type)), slog.Any("error", err))
		return fmt.Errorf("notify: enqueue: %w", err)
	}
	return nil
}

var _ Notifier = (*QueueNotifier)(nil)
