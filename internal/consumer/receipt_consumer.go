package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	d "github.com/fjod/go_cart/selfcheckout/internal/domain"
	"github.com/fjod/go_cart/selfcheckout/internal/ledger"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const (
	retryBackoff    = 500 * time.Millisecond
	maxRetryBackoff = 30 * time.Second
)

// errSkip marks a message that can never be projected. It is committed and dropped.
var errSkip = errors.New("message skipped")

// MessageReader is the part of *kafka.Reader the consumer uses.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// ReceiptConsumer projects session.paid events into the receipts ledger.
type ReceiptConsumer struct {
	repo   ledger.ReceiptRepository
	reader MessageReader
	log    *zap.Logger
	now    func() time.Time

	// backoff, maxBackoff bound the wait between failed saves
	backoff    time.Duration
	maxBackoff time.Duration
}

func NewKafkaReader(topic, groupID string, brokers ...string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MaxBytes: 10e6, // 10MB
	})
}

func NewReceiptConsumer(repo ledger.ReceiptRepository, reader MessageReader, log *zap.Logger) *ReceiptConsumer {
	return &ReceiptConsumer{
		repo:       repo,
		reader:     reader,
		log:        log,
		now:        time.Now,
		backoff:    retryBackoff,
		maxBackoff: maxRetryBackoff,
	}
}

func (c *ReceiptConsumer) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		c.processMessage(ctx)
	}
}

func (c *ReceiptConsumer) Close() {
	if err := c.reader.Close(); err != nil {
		c.log.Warn("error closing kafka reader", zap.Error(err))
	}
}

// processMessage handles one message and commits its offset once it is projected or skipped.
// handle only returns another error when the context ended, and then nothing is committed.
func (c *ReceiptConsumer) processMessage(ctx context.Context) {
	m, err := c.reader.FetchMessage(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return
		}
		c.log.Error("error reading message", zap.Error(err))
		return
	}

	err = c.handle(ctx, m)
	switch {
	case err == nil:
	case errors.Is(err, errSkip):
		c.log.Warn("skipping message", zap.Int64("offset", m.Offset), zap.Error(err))
	default:
		// uncommitted; redelivered after restart
		c.log.Warn("receipt not projected, leaving message uncommitted", zap.Int64("offset", m.Offset), zap.Error(err))
		return
	}

	if err := c.reader.CommitMessages(ctx, m); err != nil {
		c.log.Error("failed to commit message", zap.Int64("offset", m.Offset), zap.Error(err))
	}
}

func (c *ReceiptConsumer) handle(ctx context.Context, m kafka.Message) error {
	if eventType := header(m, "event_type"); eventType != "" && eventType != d.EventTypeSessionPaid {
		return fmt.Errorf("%w: unexpected event type %q", errSkip, eventType)
	}

	var event d.SessionPaidEvent
	if err := json.Unmarshal(m.Value, &event); err != nil {
		return fmt.Errorf("%w: parse event: %v", errSkip, err)
	}

	receipt, err := ledger.ReceiptFromEvent(&event, c.now())
	if err != nil {
		return fmt.Errorf("%w: %v", errSkip, err)
	}

	// a receipt that cannot be saved yet is retried until it is saved or ctx ends
	wait := c.backoff
	for attempt := 1; ; attempt++ {
		err = c.repo.SaveReceipt(ctx, receipt)
		if err == nil {
			c.log.Info("receipt projected",
				zap.String("session_id", receipt.SessionID),
				zap.String("invoice_id", receipt.ID))
			return nil
		}
		if errors.Is(err, ledger.ErrDuplicateReceipt) {
			c.log.Info("receipt already exists, skipping", zap.String("session_id", receipt.SessionID))
			return nil
		}
		c.log.Warn("failed to save receipt, retrying",
			zap.String("session_id", receipt.SessionID),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return fmt.Errorf("save receipt: %w (last error: %v)", ctx.Err(), err)
		case <-time.After(wait):
		}
		wait = min(wait*2, c.maxBackoff)
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
