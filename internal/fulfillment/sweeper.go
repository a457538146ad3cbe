package fulfillment

import (
	"context"
	"log"
	"time"

	"github.com/example/leadshop/internal/domain/order"
	"github.com/example/leadshop/internal/infrastructure/store"
)

// Sweeper periodically re-dispatches PAID orders whose fulfillment job
// was lost (enqueue failure, fulfiller crash mid-pass). A grace period
// keeps it from racing a job that is still in flight on the queue;
// re-delivery of an already-sent file is the accepted at-least-once cost.
type Sweeper struct {
	store      store.OrderStore
	dispatcher *Dispatcher
	interval   time.Duration
	grace      time.Duration
}

func NewSweeper(s store.OrderStore, d *Dispatcher, interval, grace time.Duration) *Sweeper {
	return &Sweeper{store: s, dispatcher: d, interval: interval, grace: grace}
}

func (w *Sweeper) Start(ctx context.Context) {
	log.Printf("[Sweeper] Starting, interval=%s grace=%s", w.interval, w.grace)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[Sweeper] Stopped")
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *Sweeper) sweep(ctx context.Context) {
	orders, err := w.store.ListByStatus(ctx, order.StatusPaid)
	if err != nil {
		log.Printf("[Sweeper] List failed: %v", err)
		return
	}

	for _, o := range orders {
		if time.Since(o.UpdatedAt) < w.grace {
			continue
		}
		log.Printf("[Sweeper] Re-dispatching stale paid order buyer=%s txn=%s", o.BuyerID, o.PaymentRef)
		w.dispatcher.Dispatch(ctx, o)
	}
}
