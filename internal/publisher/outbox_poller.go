package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fjod/gig_cart/internal/domain"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const defaultBatchSize = 100

// OutboxStore is the part of the cart repository the poller needs.
type OutboxStore interface {
	PendingSubmissions(ctx context.Context, limit int) ([]*domain.CartSnapshot, error)
	MarkSubmissionPublished(ctx context.Context, cartID string) error
}

type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// OutboxPoller forwards submitted carts to the checkout topic. Delivery is
// at least once: a submission is marked published only after the write
// succeeds.
type OutboxPoller struct {
	tick      time.Duration
	batchSize int
	store     OutboxStore
	writer    MessageWriter
	logger    *zap.Logger
}

func NewKafkaWriter(topic string, brokers ...string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
}

func NewOutboxPoller(store OutboxStore, writer MessageWriter, tick time.Duration, logger *zap.Logger) *OutboxPoller {
	if tick <= 0 {
		tick = time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OutboxPoller{
		tick:      tick,
		batchSize: defaultBatchSize,
		store:     store,
		writer:    writer,
		logger:    logger,
	}
}

func (p *OutboxPoller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.processPending(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// processPending publishes one batch and returns how many made it out.
func (p *OutboxPoller) processPending(ctx context.Context) int {
	snapshots, err := p.store.PendingSubmissions(ctx, p.batchSize)
	if err != nil {
		p.logger.Error("failed to fetch pending submissions", zap.Error(err))
		return 0
	}

	published := 0
	for _, snapshot := range snapshots {
		if err := p.publish(ctx, snapshot); err != nil {
			p.logger.Error("failed to publish submission",
				zap.String("cart_id", snapshot.CartID), zap.Error(err))
			continue
		}

		if err := p.store.MarkSubmissionPublished(ctx, snapshot.CartID); err != nil {
			// published again on the next tick; consumers dedupe on cart_id
			p.logger.Error("failed to mark submission published",
				zap.String("cart_id", snapshot.CartID), zap.Error(err))
			continue
		}
		published++
	}

	if published > 0 {
		p.logger.Debug("published submissions", zap.Int("count", published))
	}
	return published
}

func (p *OutboxPoller) publish(ctx context.Context, snapshot *domain.CartSnapshot) error {
	payload, err := json.Marshal(NewCartSubmittedEvent(snapshot))
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(snapshot.CartID), // cart_id for ordering
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(EventTypeCartSubmitted)},
		},
	}
	return p.writer.WriteMessages(ctx, msg)
}
