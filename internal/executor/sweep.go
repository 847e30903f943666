package executor

import (
	"context"
	"time"

	"github.com/tgparkk/stockbot/internal/apperr"
	"github.com/tgparkk/stockbot/internal/broker"
)

// StaleOrderMaxAge is how long an unfilled order may sit before the sweep
// cancels it (SPEC_FULL.md §12).
const StaleOrderMaxAge = 5 * time.Minute

// SweepStaleOrders cancels any still-open order older than StaleOrderMaxAge
// and clears its symbol's pending-order dedupe entry, so a stuck order
// cannot block that symbol from ever being retried. An order with no
// stored routing number is left uncancelled. Grounded on
// internal/order/manager.go's ProcessOrders sweep loop, adapted from
// trailing-stop/time-based-rule evaluation to order-age cancellation.
func (e *Executor) SweepStaleOrders(ctx context.Context) ([]broker.DayOrder, error) {
	orders, err := e.brk.ListDayOrders(ctx)
	if err != nil {
		return nil, apperr.Wrap(apperr.Transport, "list day orders for sweep", err)
	}

	var swept []broker.DayOrder
	for _, o := range orders {
		if o.Cancelled || o.RemainingQty == 0 {
			continue
		}
		if time.Since(o.SubmittedAt) < StaleOrderMaxAge {
			continue
		}
		if o.RoutingOrgNo == "" {
			e.log.Warn("stale order %s for %s has no routing number, not cancelling", o.BrokerOrderID, o.Symbol)
			continue
		}
		if cancelErr := e.brk.CancelOrder(ctx, o.BrokerOrderID, o.RoutingOrgNo, o.Side, true); cancelErr != nil {
			e.log.Warn("failed to cancel stale order %s for %s: %v", o.BrokerOrderID, o.Symbol, cancelErr)
			continue
		}
		e.mu.Lock()
		delete(e.pendingOrders, o.Symbol)
		e.mu.Unlock()
		swept = append(swept, o)
	}
	return swept, nil
}
