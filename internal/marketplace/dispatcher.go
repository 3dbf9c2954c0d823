// dispatcher.go routes a marketplace notification to the tenant it belongs to.
// A notification carries only a customer identifier, never a tenant name, so
// the dispatcher probes every tenant database in order and stops at the first
// one that claims the message.
package marketplace

import (
	"context"
	"log/slog"

	"github.com/vantage-compute/vantage-billing/internal/telemetry"
	"github.com/vantage-compute/vantage-billing/internal/tenant"
)

// TenantDirectory enumerates tenant databases and opens handles to them.
// *tenant.Manager is the production implementation.
type TenantDirectory interface {
	List(ctx context.Context) ([]string, error)
	Handle(ctx context.Context, name string) (*tenant.Handle, error)
}

// Dispatcher fans marketplace notifications out across tenant databases.
type Dispatcher struct {
	tenants TenantDirectory
}

// NewDispatcher creates a dispatcher over a tenant directory.
func NewDispatcher(tenants TenantDirectory) *Dispatcher {
	return &Dispatcher{tenants: tenants}
}

// HandleMessage parses an SQS message body and applies it to the first tenant
// that matches. The return value is the listener's delete signal: true only
// when some tenant claimed the notification. Unparseable bodies and unmatched
// notifications return false, leaving the message on the queue for redelivery.
func (d *Dispatcher) HandleMessage(ctx context.Context, body []byte) bool {
	n, err := ParseNotification(body)
	if err != nil {
		slog.Error("failed to parse marketplace notification", "error", err)
		telemetry.ReconcileTotal.WithLabelValues("unknown", "failure").Inc()
		return false
	}

	names, err := d.tenants.List(ctx)
	if err != nil {
		slog.Error("failed to enumerate tenants", "error", err)
		telemetry.ReconcileTotal.WithLabelValues(string(n.Action), "failure").Inc()
		return false
	}

	for _, name := range names {
		h, err := d.tenants.Handle(ctx, name)
		if err != nil {
			slog.Error("failed to open tenant database", "tenant", name, "error", err)
			continue
		}

		matched, err := NewReconciler(h).Apply(ctx, n)
		if err != nil {
			slog.Error("failed to reconcile marketplace notification",
				"tenant", name,
				"action", n.Action,
				"customer_identifier", n.CustomerIdentifier,
				"error", err)
			telemetry.ReconcileTotal.WithLabelValues(string(n.Action), "failure").Inc()
			return false
		}
		if matched {
			slog.Info("reconciled marketplace notification",
				"tenant", name,
				"action", n.Action,
				"customer_identifier", n.CustomerIdentifier)
			telemetry.ReconcileTotal.WithLabelValues(string(n.Action), "success").Inc()
			return true
		}
	}

	slog.Warn("marketplace notification matched no tenant",
		"action", n.Action,
		"customer_identifier", n.CustomerIdentifier)
	telemetry.UnmatchedNotificationsTotal.Inc()
	return false
}
