package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/example/leadshop/internal/domain/catalog"
	"github.com/example/leadshop/internal/domain/order"
	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// PostgresStore persists orders in PostgreSQL. Per-buyer serialization
// comes from SELECT ... FOR UPDATE inside a transaction, so concurrent
// notifications for the same buyer linearize at the row lock while other
// buyers proceed in parallel. The payment reference is committed before
// MarkPaid returns, which is what lets the IPN endpoint acknowledge safely.
type PostgresStore struct {
	db      *sql.DB
	catalog *catalog.Catalog
}

func NewPostgresStore(db *sql.DB, cat *catalog.Catalog) *PostgresStore {
	return &PostgresStore{db: db, catalog: cat}
}

// InitSchema creates the orders table if it does not exist.
func (s *PostgresStore) InitSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS orders (
			buyer_id    TEXT PRIMARY KEY,
			categories  JSONB NOT NULL DEFAULT '[]',
			total       NUMERIC(12,2) NOT NULL DEFAULT 0,
			status      TEXT NOT NULL,
			payment_ref TEXT NOT NULL DEFAULT '',
			created_at  TIMESTAMPTZ NOT NULL,
			updated_at  TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_orders_status ON orders (status);
	`)
	if err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateOrReset(ctx context.Context, buyerID string) (*order.Order, error) {
	var out *order.Order
	err := s.withOrderTx(ctx, buyerID, true, func(tx *sql.Tx, o *order.Order) error {
		if o != nil && (o.Status == order.StatusPaid || o.Status == order.StatusFulfilled) {
			return order.ErrInvalidStatus
		}
		fresh := order.New(buyerID)
		if err := s.upsert(ctx, tx, fresh); err != nil {
			return err
		}
		out = fresh
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *PostgresStore) ToggleCategory(ctx context.Context, buyerID, categoryID string) (*order.Order, error) {
	if _, ok := s.catalog.Get(categoryID); !ok {
		return nil, order.ErrUnknownCategory
	}
	return s.mutate(ctx, buyerID, func(o *order.Order) error {
		return o.Toggle(categoryID)
	})
}

func (s *PostgresStore) Confirm(ctx context.Context, buyerID string) (*order.Order, error) {
	return s.mutate(ctx, buyerID, func(o *order.Order) error {
		total, err := s.catalog.TotalFor(o.Selected())
		if err != nil {
			return err
		}
		return o.Confirm(total)
	})
}

func (s *PostgresStore) MarkPaid(ctx context.Context, buyerID, paymentRef string, amount decimal.Decimal) (*order.Order, bool, error) {
	var fresh bool
	o, err := s.mutate(ctx, buyerID, func(o *order.Order) error {
		var err error
		fresh, err = o.Pay(paymentRef, amount)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return o, fresh, nil
}

func (s *PostgresStore) MarkFulfilled(ctx context.Context, buyerID string) (*order.Order, error) {
	return s.mutate(ctx, buyerID, func(o *order.Order) error {
		return o.Fulfill()
	})
}

func (s *PostgresStore) Get(ctx context.Context, buyerID string) (*order.Order, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT buyer_id, categories, total, status, payment_ref, created_at, updated_at
		FROM orders WHERE buyer_id = $1`, buyerID)
	return scanOrder(row)
}

func (s *PostgresStore) ListByStatus(ctx context.Context, status order.Status) ([]*order.Order, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT buyer_id, categories, total, status, payment_ref, created_at, updated_at
		FROM orders WHERE status = $1 ORDER BY updated_at ASC`, string(status))
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	var out []*order.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration failed: %w", err)
	}
	return out, nil
}

// mutate runs fn against the locked current row and writes the result back.
func (s *PostgresStore) mutate(ctx context.Context, buyerID string, fn func(*order.Order) error) (*order.Order, error) {
	var out *order.Order
	err := s.withOrderTx(ctx, buyerID, false, func(tx *sql.Tx, o *order.Order) error {
		if o == nil {
			return order.ErrOrderNotFound
		}
		if err := fn(o); err != nil {
			return err
		}
		if err := s.upsert(ctx, tx, o); err != nil {
			return err
		}
		out = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// withOrderTx loads the buyer's row FOR UPDATE (nil if absent when
// allowMissing), invokes fn, and commits.
func (s *PostgresStore) withOrderTx(ctx context.Context, buyerID string, allowMissing bool, fn func(*sql.Tx, *order.Order) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		SELECT buyer_id, categories, total, status, payment_ref, created_at, updated_at
		FROM orders WHERE buyer_id = $1 FOR UPDATE`, buyerID)
	o, err := scanOrder(row)
	if err != nil {
		if !errors.Is(err, order.ErrOrderNotFound) {
			return err
		}
		if !allowMissing {
			return order.ErrOrderNotFound
		}
		o = nil
	}

	if err := fn(tx, o); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *PostgresStore) upsert(ctx context.Context, tx *sql.Tx, o *order.Order) error {
	cats, err := json.Marshal(o.Selected())
	if err != nil {
		return fmt.Errorf("marshal categories: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (buyer_id, categories, total, status, payment_ref, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (buyer_id) DO UPDATE SET
			categories = EXCLUDED.categories,
			total = EXCLUDED.total,
			status = EXCLUDED.status,
			payment_ref = EXCLUDED.payment_ref,
			updated_at = EXCLUDED.updated_at`,
		o.BuyerID, cats, o.Total, string(o.Status), o.PaymentRef, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert order: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*order.Order, error) {
	var (
		o      order.Order
		cats   []byte
		status string
	)
	err := row.Scan(&o.BuyerID, &cats, &o.Total, &status, &o.PaymentRef, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, order.ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan order: %w", err)
	}
	var ids []string
	if err := json.Unmarshal(cats, &ids); err != nil {
		return nil, fmt.Errorf("unmarshal categories: %w", err)
	}
	o.Status = order.Status(status)
	o.Categories = make(map[string]bool, len(ids))
	for _, id := range ids {
		o.Categories[id] = true
	}
	return &o, nil
}

// ConnectPostgres establishes a connection to PostgreSQL
func ConnectPostgres(connStr string) (*sql.DB, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}

	// Test connection
	if err := db.Ping(); err != nil {
		return nil, err
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return db, nil
}
