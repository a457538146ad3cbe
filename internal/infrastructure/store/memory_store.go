package store

import (
	"context"
	"sync"

	"github.com/example/leadshop/internal/domain/catalog"
	"github.com/example/leadshop/internal/domain/order"
	"github.com/shopspring/decimal"
)

// MemoryStore keeps orders in process memory with one mutex per buyer, so
// a slow operation on one buyer never blocks another.
type MemoryStore struct {
	catalog *catalog.Catalog

	mu      sync.Mutex // guards the entries map only
	entries map[string]*memoryEntry
}

type memoryEntry struct {
	mu sync.Mutex // serializes all mutations for one buyer
	o  *order.Order
}

func NewMemoryStore(cat *catalog.Catalog) *MemoryStore {
	return &MemoryStore{
		catalog: cat,
		entries: make(map[string]*memoryEntry),
	}
}

func (s *MemoryStore) entry(buyerID string, create bool) (*memoryEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[buyerID]
	if !ok && create {
		e = &memoryEntry{}
		s.entries[buyerID] = e
		ok = true
	}
	return e, ok
}

func (s *MemoryStore) CreateOrReset(ctx context.Context, buyerID string) (*order.Order, error) {
	e, _ := s.entry(buyerID, true)
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.o != nil && (e.o.Status == order.StatusPaid || e.o.Status == order.StatusFulfilled) {
		return nil, order.ErrInvalidStatus
	}
	e.o = order.New(buyerID)
	return e.o.Clone(), nil
}

func (s *MemoryStore) ToggleCategory(ctx context.Context, buyerID, categoryID string) (*order.Order, error) {
	if _, ok := s.catalog.Get(categoryID); !ok {
		return nil, order.ErrUnknownCategory
	}
	e, ok := s.entry(buyerID, false)
	if !ok {
		return nil, order.ErrOrderNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.o == nil {
		return nil, order.ErrOrderNotFound
	}
	if err := e.o.Toggle(categoryID); err != nil {
		return nil, err
	}
	return e.o.Clone(), nil
}

func (s *MemoryStore) Confirm(ctx context.Context, buyerID string) (*order.Order, error) {
	e, ok := s.entry(buyerID, false)
	if !ok {
		return nil, order.ErrOrderNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.o == nil {
		return nil, order.ErrOrderNotFound
	}
	total, err := s.catalog.TotalFor(e.o.Selected())
	if err != nil {
		return nil, err
	}
	if err := e.o.Confirm(total); err != nil {
		return nil, err
	}
	return e.o.Clone(), nil
}

func (s *MemoryStore) MarkPaid(ctx context.Context, buyerID, paymentRef string, amount decimal.Decimal) (*order.Order, bool, error) {
	e, ok := s.entry(buyerID, false)
	if !ok {
		return nil, false, order.ErrOrderNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.o == nil {
		return nil, false, order.ErrOrderNotFound
	}
	fresh, err := e.o.Pay(paymentRef, amount)
	if err != nil {
		return nil, false, err
	}
	return e.o.Clone(), fresh, nil
}

func (s *MemoryStore) MarkFulfilled(ctx context.Context, buyerID string) (*order.Order, error) {
	e, ok := s.entry(buyerID, false)
	if !ok {
		return nil, order.ErrOrderNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.o == nil {
		return nil, order.ErrOrderNotFound
	}
	if err := e.o.Fulfill(); err != nil {
		return nil, err
	}
	return e.o.Clone(), nil
}

func (s *MemoryStore) Get(ctx context.Context, buyerID string) (*order.Order, error) {
	e, ok := s.entry(buyerID, false)
	if !ok {
		return nil, order.ErrOrderNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.o == nil {
		return nil, order.ErrOrderNotFound
	}
	return e.o.Clone(), nil
}

func (s *MemoryStore) ListByStatus(ctx context.Context, status order.Status) ([]*order.Order, error) {
	s.mu.Lock()
	entries := make([]*memoryEntry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	s.mu.Unlock()

	var out []*order.Order
	for _, e := range entries {
		e.mu.Lock()
		if e.o != nil && e.o.Status == status {
			out = append(out, e.o.Clone())
		}
		e.mu.Unlock()
	}
	return out, nil
}
