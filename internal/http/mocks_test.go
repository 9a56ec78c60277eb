package http

import (
	"context"

	d "github.com/fjod/go_cart/selfcheckout/internal/domain"
	"github.com/fjod/go_cart/selfcheckout/internal/service"
)

// MockEngine returns canned values and records what the handlers passed in.
type MockEngine struct {
	session  *d.Session
	sessions []*d.Session
	invoice  *d.Invoice
	err      error

	lastSessionID string
	lastItemID    string
	lastStart     service.StartSessionInput
	lastAdd       service.AddItemInput
	lastPaid      service.MarkPaidInput
	lastVerify    service.VerifyInput
	lastTable     service.UpdateTableInput
	lastFilter    service.ListFilter
}

func (m *MockEngine) StartSession(_ context.Context, in service.StartSessionInput) (*d.Session, error) {
	m.lastStart = in
	return m.session, m.err
}

func (m *MockEngine) AddItem(_ context.Context, sessionID string, in service.AddItemInput) (*d.Session, error) {
	m.lastSessionID, m.lastAdd = sessionID, in
	return m.session, m.err
}

func (m *MockEngine) RemoveItem(_ context.Context, sessionID, itemID string) (*d.Session, error) {
	m.lastSessionID, m.lastItemID = sessionID, itemID
	return m.session, m.err
}

func (m *MockEngine) SubmitSession(_ context.Context, sessionID string) (*d.Session, error) {
	m.lastSessionID = sessionID
	return m.session, m.err
}

func (m *MockEngine) MarkSessionPaid(_ context.Context, sessionID string, in service.MarkPaidInput) (*service.PaymentResult, error) {
	m.lastSessionID, m.lastPaid = sessionID, in
	if m.err != nil {
		return nil, m.err
	}
	return &service.PaymentResult{Session: m.session, Invoice: m.invoice}, nil
}

func (m *MockEngine) VerifySession(_ context.Context, sessionID string, in service.VerifyInput) (*d.Session, error) {
	m.lastSessionID, m.lastVerify = sessionID, in
	return m.session, m.err
}

func (m *MockEngine) UpdateSessionTable(_ context.Context, sessionID string, in service.UpdateTableInput) (*d.Session, error) {
	m.lastSessionID, m.lastTable = sessionID, in
	return m.session, m.err
}

func (m *MockEngine) ListSessions(_ context.Context, f service.ListFilter) ([]*d.Session, error) {
	m.lastFilter = f
	return m.sessions, m.err
}

func (m *MockEngine) GetSession(_ context.Context, sessionID string) (*d.Session, error) {
	m.lastSessionID = sessionID
	return m.session, m.err
}

func (m *MockEngine) GetInvoice(_ context.Context, sessionID string) (*d.Invoice, error) {
	m.lastSessionID = sessionID
	return m.invoice, m.err
}

type MockVerifier struct {
	err         error
	lastSubject string
	lastCode    string
}

func (m *MockVerifier) Verify(_ context.Context, subject, code string) error {
	m.lastSubject, m.lastCode = subject, code
	return m.err
}
