package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/example/leadshop/internal/alert"
	"github.com/example/leadshop/internal/domain/catalog"
	"github.com/example/leadshop/internal/domain/order"
	"github.com/example/leadshop/internal/infrastructure/store"
)

// Messenger is the outbound side of the chat gateway.
type Messenger interface {
	SendDocument(ctx context.Context, chatID, filename string, content io.Reader, caption string) error
	SendMessage(ctx context.Context, chatID, text string) error
}

// ItemResult is the per-category delivery outcome of one dispatch pass.
type ItemResult struct {
	CategoryID string
	Delivered  bool
	Err        error
}

// Dispatcher delivers the purchased artifacts for a paid order. Item
// failures are isolated: a missing file or a dead transport on one
// category never blocks the others, and the order is marked FULFILLED
// after every item has been attempted. Delivery is at-least-once; a crash
// between delivery and MarkFulfilled re-delivers on the next pass rather
// than losing a purchased artifact.
type Dispatcher struct {
	store     store.OrderStore
	catalog   *catalog.Catalog
	messenger Messenger
	alerts    *alert.Log

	leadsDir    string
	maxAttempts int
	baseBackoff time.Duration
}

func NewDispatcher(s store.OrderStore, cat *catalog.Catalog, m Messenger, alerts *alert.Log, leadsDir string) *Dispatcher {
	return &Dispatcher{
		store:       s,
		catalog:     cat,
		messenger:   m,
		alerts:      alerts,
		leadsDir:    leadsDir,
		maxAttempts: 3,
		baseBackoff: time.Second,
	}
}

// DispatchBuyer reloads the buyer's order and dispatches it if PAID.
// Anything else is a stale or duplicate job and is skipped quietly.
func (d *Dispatcher) DispatchBuyer(ctx context.Context, buyerID string) error {
	o, err := d.store.Get(ctx, buyerID)
	if err != nil {
		if errors.Is(err, order.ErrOrderNotFound) {
			log.Printf("[Fulfiller] No order for buyer %s, skipping", buyerID)
			return nil
		}
		return err
	}
	if o.Status != order.StatusPaid {
		log.Printf("[Fulfiller] Order for buyer %s is %s, skipping", buyerID, o.Status)
		return nil
	}
	d.Dispatch(ctx, o)
	return nil
}

// Dispatch attempts delivery of every selected category and then marks
// the order fulfilled regardless of individual outcomes.
func (d *Dispatcher) Dispatch(ctx context.Context, o *order.Order) []ItemResult {
	results := make([]ItemResult, 0, len(o.Categories))
	delivered := 0

	for _, categoryID := range o.Selected() {
		res := d.deliverItem(ctx, o.BuyerID, categoryID)
		if res.Delivered {
			delivered++
		} else {
			d.alerts.Raise(ctx, alert.KindArtifactFailure, o.BuyerID,
				fmt.Sprintf("category %s: %v", categoryID, res.Err))
		}
		results = append(results, res)
	}

	if _, err := d.store.MarkFulfilled(ctx, o.BuyerID); err != nil {
		// The order was not closed out, so this pass will run again via
		// the sweeper; telling the buyer "done" now would be a lie
		// followed by duplicate files.
		log.Printf("[Fulfiller] Failed to mark buyer %s fulfilled: %v", o.BuyerID, err)
		return results
	}
	log.Printf("[Fulfiller] Order fulfilled buyer=%s delivered=%d/%d", o.BuyerID, delivered, len(results))

	if delivered == len(results) {
		if err := d.messenger.SendMessage(ctx, o.BuyerID, "All your lead files have been delivered. Thank you!"); err != nil {
			log.Printf("[Fulfiller] Failed to send completion message to %s: %v", o.BuyerID, err)
		}
	}
	return results
}

func (d *Dispatcher) deliverItem(ctx context.Context, buyerID, categoryID string) ItemResult {
	cat, ok := d.catalog.Get(categoryID)
	if !ok {
		return ItemResult{CategoryID: categoryID, Err: fmt.Errorf("category %s not in catalog", categoryID)}
	}

	path := filepath.Join(d.leadsDir, cat.Artifact)

	var lastErr error
	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		f, err := os.Open(path)
		if err != nil {
			// A missing artifact will not appear between retries.
			return ItemResult{CategoryID: categoryID, Err: fmt.Errorf("artifact unavailable: %w", err)}
		}
		err = d.messenger.SendDocument(ctx, buyerID, filepath.Base(cat.Artifact), f, cat.Label)
		f.Close()
		if err == nil {
			return ItemResult{CategoryID: categoryID, Delivered: true}
		}
		lastErr = err
		log.Printf("[Fulfiller] Delivery attempt %d/%d failed buyer=%s category=%s: %v",
			attempt, d.maxAttempts, buyerID, categoryID, err)

		if attempt < d.maxAttempts {
			backoff := d.baseBackoff << (attempt - 1)
			select {
			case <-ctx.Done():
				return ItemResult{CategoryID: categoryID, Err: ctx.Err()}
			case <-time.After(backoff):
			}
		}
	}
	return ItemResult{CategoryID: categoryID, Err: fmt.Errorf("delivery failed after %d attempts: %w", d.maxAttempts, lastErr)}
}
