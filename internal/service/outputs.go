package service

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/Strob0t/BuzzForge/internal/adapter/otel"
	"github.com/Strob0t/BuzzForge/internal/port/broadcast"
	"github.com/Strob0t/BuzzForge/internal/port/messagequeue"
	"github.com/Strob0t/BuzzForge/internal/port/notifier"
)

// Outputs are the optional sinks a service reports to. Every field may be nil.
// Delivery failures are logged and never fail the caller.
type Outputs struct {
	Queue   messagequeue.Queue
	Hub     broadcast.Broadcaster
	Notify  *NotificationService
	Metrics *otel.Metrics
}

func (o *Outputs) publish(ctx context.Context, subject string, payload any) {
	if o.Queue == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		slog.ErrorContext(ctx, "marshal queue payload", "subject", subject, "error", err)
		return
	}
	if err := o.Queue.Publish(ctx, subject, data); err != nil {
		slog.WarnContext(ctx, "queue publish failed", "subject", subject, "error", err)
	}
}

func (o *Outputs) broadcast(ctx context.Context, eventType string, payload any) {
	if o.Hub == nil {
		return
	}
	o.Hub.BroadcastEvent(ctx, eventType, payload)
}

func (o *Outputs) notify(ctx context.Context, n notifier.Notification) {
	o.Notify.Notify(ctx, n)
}
