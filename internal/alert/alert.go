package alert

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	KindAmountMismatch    = "amount_mismatch"
	KindInvalidStateNotif = "invalid_state_notification"
	KindArtifactFailure   = "artifact_failure"
)

// Alert is a manual-review item: something an operator must look at,
// never auto-resolved.
type Alert struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	BuyerID   string    `json:"buyer_id"`
	Detail    string    `json:"detail"`
	CreatedAt time.Time `json:"created_at"`
}

// Notifier pushes alert text to the operator channel. Usually the
// Telegram client pointed at the admin chat.
type Notifier interface {
	NotifyOperator(ctx context.Context, text string) error
}

// Log keeps alerts in memory for the admin API and pushes each one to the
// operator channel as it is raised. Losing the in-memory list on restart
// is acceptable: every alert was already delivered to the operator chat.
type Log struct {
	mu       sync.Mutex
	alerts   []Alert
	notifier Notifier // may be nil in tests
}

func NewLog(notifier Notifier) *Log {
	return &Log{notifier: notifier}
}

func (l *Log) Raise(ctx context.Context, kind, buyerID, detail string) Alert {
	a := Alert{
		ID:        uuid.New().String(),
		Kind:      kind,
		BuyerID:   buyerID,
		Detail:    detail,
		CreatedAt: time.Now(),
	}

	l.mu.Lock()
	l.alerts = append(l.alerts, a)
	l.mu.Unlock()

	log.Printf("[Alert] %s buyer=%s: %s", kind, buyerID, detail)

	if l.notifier != nil {
		text := fmt.Sprintf("⚠️ %s\nbuyer: %s\n%s", kind, buyerID, detail)
		if err := l.notifier.NotifyOperator(ctx, text); err != nil {
			log.Printf("[Alert] Failed to notify operator: %v", err)
		}
	}
	return a
}

// List returns alerts newest first.
func (l *Log) List() []Alert {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Alert, len(l.alerts))
	for i, a := range l.alerts {
		out[len(l.alerts)-1-i] = a
	}
	return out
}
