package fulfillment

import (
	"context"
	"encoding/json"
	"log"

	"github.com/example/leadshop/internal/infrastructure/kafka"
)

// Job is the handoff from reconciliation to delivery: published when an
// order turns PAID, consumed by the fulfiller.
type Job struct {
	BuyerID    string `json:"buyer_id"`
	PaymentRef string `json:"payment_ref"`
}

// QueueEnqueuer publishes jobs through the Kafka producer.
type QueueEnqueuer struct {
	producer *kafka.Producer
}

func NewQueueEnqueuer(p *kafka.Producer) *QueueEnqueuer {
	return &QueueEnqueuer{producer: p}
}

func (q *QueueEnqueuer) Enqueue(ctx context.Context, job Job) error {
	return q.producer.Publish(ctx, job.BuyerID, job)
}

// HandleJob adapts the dispatcher to the Kafka consumer's handler shape.
func (d *Dispatcher) HandleJob(ctx context.Context, key, value []byte) error {
	var job Job
	if err := json.Unmarshal(value, &job); err != nil {
		log.Printf("[Fulfiller] Dropping unreadable job %s: %v", key, err)
		return nil
	}
	return d.DispatchBuyer(ctx, job.BuyerID)
}
