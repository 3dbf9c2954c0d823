// reconciler.go applies marketplace notifications to one tenant's subscription
// state. Every handler runs in a single transaction and reports whether the
// notification matched this tenant, so the dispatcher can keep probing other
// tenants on a miss. Handlers are idempotent under redelivery: a notification
// whose effect is already in place reports unmatched and writes nothing.
package marketplace

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/vantage-compute/vantage-billing/internal/db/models"
	"github.com/vantage-compute/vantage-billing/internal/db/repositories"
	"github.com/vantage-compute/vantage-billing/internal/tenant"
	"github.com/vantage-compute/vantage-billing/internal/tiering"
)

// Reconciler applies marketplace notifications against a single tenant
// database.
type Reconciler struct {
	handle *tenant.Handle
}

// NewReconciler creates a reconciler over an open tenant handle.
func NewReconciler(h *tenant.Handle) *Reconciler {
	return &Reconciler{handle: h}
}

// txRepos bundles the per-transaction repository views used by handlers.
type txRepos struct {
	subs    *repositories.SubscriptionRepository
	pending *repositories.PendingSubscriptionRepository
	trials  *repositories.FreeTrialRepository
}

func newTxRepos(tx *sqlx.Tx) txRepos {
	return txRepos{
		subs:    repositories.NewSubscriptionRepository(tx),
		pending: repositories.NewPendingSubscriptionRepository(tx),
		trials:  repositories.NewFreeTrialRepository(tx),
	}
}

// Apply runs the handler for the notification's action inside a transaction.
// It returns true when the notification matched state in this tenant and the
// transaction committed, false when nothing here matched.
func (r *Reconciler) Apply(ctx context.Context, n *Notification) (bool, error) {
	var handler func(context.Context, txRepos, *Notification) (bool, error)

	switch n.Action {
	case ActionSubscribeSuccess:
		handler = r.subscribeSuccess
	case ActionSubscribeFail:
		handler = r.subscribeFail
	case ActionUnsubscribePending:
		handler = r.unsubscribePending
	case ActionUnsubscribeSuccess:
		handler = r.unsubscribeSuccess
	default:
		return false, fmt.Errorf("%w: %q", ErrUnknownAction, n.Action)
	}

	tx, err := r.handle.DB.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}

	matched, err := handler(ctx, newTxRepos(tx), n)
	if err != nil || !matched {
		if rbErr := tx.Rollback(); rbErr != nil && err == nil {
			return false, fmt.Errorf("failed to roll back transaction: %w", rbErr)
		}
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return true, nil
}

// subscribeSuccess promotes a pending checkout into a live subscription. When
// the organization already holds a subscription (a free trial, or a redelivered
// notification) the marketplace identifiers are merged onto the existing row
// instead of inserting a second one.
func (r *Reconciler) subscribeSuccess(ctx context.Context, repos txRepos, n *Notification) (bool, error) {
	pending, err := repos.pending.GetByCustomerIdentifier(ctx, n.CustomerIdentifier)
	if err != nil {
		return false, err
	}
	if pending == nil {
		return false, nil
	}

	detail := models.SubscriptionDetail{
		CustomerIdentifier:   pending.CustomerIdentifier,
		CustomerAWSAccountID: pending.CustomerAWSAccountID,
		ProductCode:          pending.ProductCode,
		UnsubscribePending:   false,
	}

	existing, err := repos.subs.GetByOrganizationID(ctx, pending.OrganizationID)
	if err != nil {
		return false, err
	}

	if existing != nil {
		if _, err := repos.subs.UpdateDetailAndTrial(ctx, existing.ID, detail, n.FreeTrial); err != nil {
			return false, err
		}
	} else {
		tierID, err := r.handle.Lookups.TierIDByName(ctx, tiering.TierStarter.String())
		if err != nil {
			return false, err
		}
		typeID, err := r.handle.Lookups.TypeIDByName(ctx, models.TypeAWS)
		if err != nil {
			return false, err
		}

		sub := &models.Subscription{
			OrganizationID: pending.OrganizationID,
			TypeID:         typeID,
			TierID:         tierID,
			DetailData:     detail,
			ExpiresAt:      nil, // marketplace subscriptions never expire locally
			IsFreeTrial:    n.FreeTrial,
		}
		if err := repos.subs.Create(ctx, sub); err != nil {
			return false, err
		}
	}

	if n.FreeTrial {
		consumed, err := repos.trials.Exists(ctx, pending.OrganizationID)
		if err != nil {
			return false, err
		}
		if !consumed {
			if err := repos.trials.Create(ctx, pending.OrganizationID); err != nil {
				return false, err
			}
		}
	}

	if err := repos.pending.Delete(ctx, pending.ID); err != nil {
		return false, err
	}
	return true, nil
}

// subscribeFail marks the matching pending checkout as failed. The row is kept
// for support follow-up rather than deleted.
func (r *Reconciler) subscribeFail(ctx context.Context, repos txRepos, n *Notification) (bool, error) {
	return repos.pending.MarkFailed(ctx, n.CustomerIdentifier)
}

// unsubscribePending flags the live subscription so the platform can warn the
// organization before the final unsubscribe lands.
func (r *Reconciler) unsubscribePending(ctx context.Context, repos txRepos, n *Notification) (bool, error) {
	sub, err := repos.subs.GetByCustomerIdentifier(ctx, n.CustomerIdentifier)
	if err != nil {
		return false, err
	}
	if sub == nil {
		return false, nil
	}

	detail := sub.DetailData
	detail.UnsubscribePending = true
	return repos.subs.UpdateDetail(ctx, sub.ID, detail)
}

// unsubscribeSuccess removes the live subscription entirely.
func (r *Reconciler) unsubscribeSuccess(ctx context.Context, repos txRepos, n *Notification) (bool, error) {
	sub, err := repos.subs.GetByCustomerIdentifier(ctx, n.CustomerIdentifier)
	if err != nil {
		return false, err
	}
	if sub == nil {
		return false, nil
	}

	return repos.subs.Delete(ctx, sub.ID)
}
