package consumer

import (
	"context"
	"sync"

	"github.com/fjod/go_cart/selfcheckout/internal/ledger"
	"github.com/segmentio/kafka-go"
)

type MockReceiptRepository struct {
	mu       sync.Mutex
	receipts map[string]*ledger.Receipt
	// failures is how many SaveReceipt calls fail with saveErr before succeeding.
	failures int
	saveErr  error
	calls    int
}

func NewMockReceiptRepository() *MockReceiptRepository {
	return &MockReceiptRepository{receipts: map[string]*ledger.Receipt{}}
}

func (m *MockReceiptRepository) SaveReceipt(_ context.Context, receipt *ledger.Receipt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.failures > 0 {
		m.failures--
		return m.saveErr
	}
	if _, ok := m.receipts[receipt.SessionID]; ok {
		return ledger.ErrDuplicateReceipt
	}
	m.receipts[receipt.SessionID] = receipt
	return nil
}

func (m *MockReceiptRepository) GetReceipt(_ context.Context, sessionID string) (*ledger.Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	receipt, ok := m.receipts[sessionID]
	if !ok {
		return nil, ledger.ErrReceiptNotFound
	}
	return receipt, nil
}

func (m *MockReceiptRepository) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.receipts)
}

// MockReader hands out queued messages and blocks once the queue is empty.
type MockReader struct {
	mu        sync.Mutex
	queue     []kafka.Message
	committed []kafka.Message
	closed    bool
}

func (m *MockReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	m.mu.Lock()
	if len(m.queue) > 0 {
		msg := m.queue[0]
		m.queue = m.queue[1:]
		m.mu.Unlock()
		return msg, nil
	}
	m.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (m *MockReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.committed = append(m.committed, msgs...)
	return nil
}

func (m *MockReader) Close() error {
	m.closed = true
	return nil
}

func (m *MockReader) committedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.committed)
}
