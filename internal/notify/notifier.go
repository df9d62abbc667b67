// Package notify delivers fire-and-forget operational notifications.
package notify

import (
	"context"
	"log/slog"
)

// Notification kinds emitted by the lifecycle manager and billing sweep.
const (
	KindDeploymentCreated = "deployment_created"
	KindDeploymentFailed  = "deployment_failed"
	KindDeploymentDeleted = "deployment_deleted"
	KindBillingCharge     = "billing_charge"
)

// Notifier delivers a notification. Implementations must not block callers
// on delivery problems; failures are logged, never propagated.
type Notifier interface {
	Notify(ctx context.Context, kind, title, message string, data map[string]string)
}

// LogNotifier writes notifications to the structured log. It is the default
// sink; richer transports can replace it without touching callers.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a log-backed notifier.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger.With("component", "notify")}
}

// Notify logs the notification.
func (n *LogNotifier) Notify(ctx context.Context, kind, title, message string, data map[string]string) {
	attrs := []any{"kind", kind, "title", title, "message", message}
	for k, v := range data {
		attrs = append(attrs, k, v)
	}
	n.logger.InfoContext(ctx, "notification", attrs...)
}
