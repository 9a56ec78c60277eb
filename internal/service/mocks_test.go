package service

import (
	"context"
	"sync"

	"github.com/fjod/go_cart/selfcheckout/internal/cache"
	d "github.com/fjod/go_cart/selfcheckout/internal/domain"
	r "github.com/fjod/go_cart/selfcheckout/internal/repository"
)

type MockDirectory struct {
	Retailers []d.Retailer
	Err       error
}

func (m *MockDirectory) FindRetailer(_ context.Context, ref string) (*d.Retailer, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	for _, ret := range m.Retailers {
		if ret.Active && (ret.ID == ref || ret.Code == ref || ret.ContactEmail == ref) {
			out := ret
			return &out, nil
		}
	}
	return nil, r.ErrRetailerNotFound
}

type MockCatalog struct {
	mu    sync.Mutex
	Items map[string]d.CatalogItem // retailerID/sku
	Err   error
	Calls int
}

func (m *MockCatalog) ResolveCatalogItem(_ context.Context, retailerID, sku string) (*d.CatalogItem, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls++
	if m.Err != nil {
		return nil, false, m.Err
	}
	item, ok := m.Items[retailerID+"/"+sku]
	if !ok {
		return nil, false, nil
	}
	return &item, true, nil
}

type MockCache struct {
	mu       sync.Mutex
	Sessions map[string]*d.Session
	Deleted  []string
	GetErr   error
	SetErr   error
}

func NewMockCache() *MockCache {
	return &MockCache{Sessions: map[string]*d.Session{}}
}

func (m *MockCache) Get(_ context.Context, sessionID string) (*d.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	s, ok := m.Sessions[sessionID]
	if !ok {
		return nil, cache.ErrCacheMiss
	}
	return s.Clone(), nil
}

// Set keeps the newer of the cached and incoming copies, like the Redis cache does.
func (m *MockCache) Set(_ context.Context, session *d.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SetErr != nil {
		return m.SetErr
	}
	if cur, ok := m.Sessions[session.ID]; ok && cur.UpdatedAt.After(session.UpdatedAt) {
		return nil
	}
	m.Sessions[session.ID] = session.Clone()
	return nil
}

func (m *MockCache) Cached(sessionID string) (*d.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.Sessions[sessionID]
	return s, ok
}

func (m *MockCache) Delete(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.Sessions, sessionID)
	m.Deleted = append(m.Deleted, sessionID)
	return nil
}

// FailingStore wraps a real store and fails transactions on demand.
type FailingStore struct {
	r.SessionStore
	TxErr error
}

func (f *FailingStore) WithSessionTransaction(ctx context.Context, sessionID string, fn r.TxFunc) (*d.Session, error) {
	if f.TxErr != nil {
		return nil, f.TxErr
	}
	return f.SessionStore.WithSessionTransaction(ctx, sessionID, fn)
}

// PausingStore blocks the first GetSession after it has read the session, until Release is closed.
type PausingStore struct {
	r.SessionStore
	Read    chan struct{}
	Release chan struct{}
	once    sync.Once
}

func NewPausingStore(store r.SessionStore) *PausingStore {
	return &PausingStore{SessionStore: store, Read: make(chan struct{}), Release: make(chan struct{})}
}

func (p *PausingStore) GetSession(ctx context.Context, sessionID string) (*d.Session, error) {
	session, err := p.SessionStore.GetSession(ctx, sessionID)
	first := false
	p.once.Do(func() { first = true })
	if first {
		close(p.Read)
		<-p.Release
	}
	return session, err
}
