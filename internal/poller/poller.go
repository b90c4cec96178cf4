// Package poller consumes payment outcomes for submitted carts.
package poller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/gig_cart/internal/service"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const (
	EventPaymentSucceeded = "payment_succeeded"
	EventPaymentFailed    = "payment_failed"

	maxHandleAttempts = 3
)

var errMalformed = errors.New("malformed payment result")

type PaymentResult struct {
	EventType string `json:"event_type"`
	CartID    string `json:"cart_id"`
	UserID    string `json:"user_id"`
	Reason    string `json:"reason,omitempty"`
}

type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// CartReopener is the slice of the cart service the poller drives.
type CartReopener interface {
	Load(ctx context.Context, userID string) (*service.CartView, error)
	Forget(userID string)
}

type PaymentResultPoller struct {
	reader  MessageReader
	carts   CartReopener
	logger  *zap.Logger
	backoff time.Duration
}

func NewKafkaReader(topic, groupID string, brokers ...string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MaxBytes: 10e6, // 10MB
	})
}

func NewPaymentResultPoller(reader MessageReader, carts CartReopener, logger *zap.Logger) *PaymentResultPoller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PaymentResultPoller{
		reader:  reader,
		carts:   carts,
		logger:  logger,
		backoff: time.Second,
	}
}

func (p *PaymentResultPoller) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		p.consumeOne(ctx)
	}
}

func (p *PaymentResultPoller) Close() {
	if err := p.reader.Close(); err != nil {
		p.logger.Warn("error closing reader", zap.Error(err))
	}
}

func (p *PaymentResultPoller) consumeOne(ctx context.Context) {
	m, err := p.reader.FetchMessage(ctx)
	if err != nil {
		if ctx.Err() == nil {
			p.logger.Error("error reading message", zap.Error(err))
			p.sleep(ctx)
		}
		return
	}

	for attempt := 1; ; attempt++ {
		err = p.handle(ctx, m)
		if err == nil || errors.Is(err, errMalformed) || attempt == maxHandleAttempts || ctx.Err() != nil {
			break
		}
		p.logger.Warn("retrying payment result", zap.Int("attempt", attempt), zap.Error(err))
		p.sleep(ctx)
	}

	switch {
	case errors.Is(err, errMalformed):
		p.logger.Warn("skipping payment result", zap.Int64("offset", m.Offset), zap.Error(err))
	case err != nil:
		p.logger.Error("failed to handle payment result", zap.Int64("offset", m.Offset), zap.Error(err))
	}

	if ctx.Err() != nil {
		return
	}
	if errCommit := p.reader.CommitMessages(ctx, m); errCommit != nil {
		p.logger.Error("failed to commit message", zap.Error(errCommit))
	}
}

func (p *PaymentResultPoller) handle(ctx context.Context, m kafka.Message) error {
	var result PaymentResult
	if err := json.Unmarshal(m.Value, &result); err != nil {
		return fmt.Errorf("%w: %v", errMalformed, err)
	}
	if result.EventType == "" {
		result.EventType = header(m, "event_type")
	}
	if result.UserID == "" {
		return fmt.Errorf("%w: missing user_id", errMalformed)
	}

	switch result.EventType {
	case EventPaymentSucceeded:
		p.carts.Forget(result.UserID)
		p.logger.Info("payment succeeded", zap.String("cart_id", result.CartID), zap.String("user_id", result.UserID))
		return nil
	case EventPaymentFailed:
		// The submitted cart stays as it was; the user gets a new draft to retry with.
		view, err := p.carts.Load(ctx, result.UserID)
		if err != nil {
			return fmt.Errorf("reopen draft for user %s: %w", result.UserID, err)
		}
		p.logger.Info("payment failed, opened a fresh draft",
			zap.String("submitted_cart_id", result.CartID),
			zap.String("draft_cart_id", view.Cart.ID),
			zap.String("user_id", result.UserID),
			zap.String("reason", result.Reason))
		return nil
	default:
		return fmt.Errorf("%w: unknown event type %q", errMalformed, result.EventType)
	}
}

func (p *PaymentResultPoller) sleep(ctx context.Context) {
	t := time.NewTimer(p.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func header(m kafka.Message, key string) string {
	for _, h := range m.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}
