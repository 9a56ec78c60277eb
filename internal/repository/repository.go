package repository

import (
	"context"
	"errors"
	"time"

	d "github.com/fjod/go_cart/selfcheckout/internal/domain"
)

var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrSessionExists    = errors.New("session already exists")
	ErrInvoiceNotFound  = errors.New("invoice not found")
	ErrInvoiceExists    = errors.New("invoice for this session already exists")
	ErrDuplicateSKU     = errors.New("session already has an item with this sku")
	ErrRetailerNotFound = errors.New("retailer not found")
)

type Credentials struct {
	Host              string
	Port              int
	User              string
	Password          string
	DBName            string
	MigrationsDirPath string
}

// Snapshot is what a transaction callback sees: the locked session with its items,
// and the invoice if one was already issued.
type Snapshot struct {
	Session *d.Session
	Invoice *d.Invoice
}

// Change is what a transaction callback asks the store to persist.
// Session is written back whole; items are addressed by id.
type Change struct {
	Session        *d.Session
	InsertedItems  []d.SessionItem
	UpdatedItems   []d.SessionItem
	DeletedItemIDs []string
	Invoice        *d.Invoice
	Event          *OutboxEvent
}

// TxFunc computes the next state. Returning an error aborts the transaction with nothing written.
type TxFunc func(snap *Snapshot) (*Change, error)

type ListFilter struct {
	Status      d.SessionStatus
	RetailerID  string
	StoreType   d.StoreType
	TableNumber string
	Limit       int
}

type OutboxEvent struct {
	ID          string
	AggregateId string
	EventType   string
	Payload     []byte
	CreatedAt   time.Time
	ProcessedAt *time.Time
}

// SessionStore owns sessions, their items, invoices and outbox rows.
type SessionStore interface {
	CreateSession(ctx context.Context, session *d.Session) error
	GetSession(ctx context.Context, sessionID string) (*d.Session, error)
	ListSessions(ctx context.Context, filter ListFilter) ([]*d.Session, error)
	GetInvoice(ctx context.Context, sessionID string) (*d.Invoice, error)
	// WithSessionTransaction runs fn against a locked snapshot and persists its Change
	// in the same atomic unit. It returns the session as written.
	WithSessionTransaction(ctx context.Context, sessionID string, fn TxFunc) (*d.Session, error)
	Close() error
}

type OutboxStore interface {
	GetUnprocessedEvents(ctx context.Context, limit int) ([]*OutboxEvent, error)
	MarkEventAsProcessed(ctx context.Context, id string) error
}

// Directory is the read side of the retailer directory and catalog collaborators.
type Directory interface {
	FindRetailer(ctx context.Context, ref string) (*d.Retailer, error)
	ResolveCatalogItem(ctx context.Context, retailerID, sku string) (*d.CatalogItem, bool, error)
}

// resultSession is the session a transaction hands back: the written session row (or the
// untouched snapshot) carrying the item list with the change's item operations applied.
func resultSession(snap *Snapshot, change *Change) (*d.Session, error) {
	if change == nil {
		return snap.Session, nil
	}
	out := snap.Session
	if change.Session != nil {
		out = change.Session
	}
	out = out.Clone()
	items, err := applyItemOps(snap.Session.Items, change)
	if err != nil {
		return nil, err
	}
	out.Items = items
	return out, nil
}

// applyItemOps applies deletes, then inserts, then updates, the same order the SQL backend uses.
func applyItemOps(current []d.SessionItem, change *Change) ([]d.SessionItem, error) {
	deleted := make(map[string]bool, len(change.DeletedItemIDs))
	for _, id := range change.DeletedItemIDs {
		deleted[id] = true
	}

	items := make([]d.SessionItem, 0, len(current)+len(change.InsertedItems))
	skus := make(map[string]bool, len(current))
	for _, item := range current {
		if deleted[item.ID] {
			continue
		}
		items = append(items, item)
		skus[item.SKU] = true
	}

	for _, item := range change.InsertedItems {
		if skus[item.SKU] {
			return nil, ErrDuplicateSKU
		}
		skus[item.SKU] = true
		items = append(items, item)
	}

	for _, upd := range change.UpdatedItems {
		for i := range items {
			if items[i].ID == upd.ID {
				items[i] = upd
			}
		}
	}
	return items, nil
}

func matchesFilter(s *d.Session, f ListFilter) bool {
	if f.Status != "" && s.Status != f.Status {
		return false
	}
	if f.RetailerID != "" && s.RetailerID != f.RetailerID {
		return false
	}
	if f.StoreType != "" && s.StoreType != f.StoreType {
		return false
	}
	if f.TableNumber != "" && s.TableNumber != f.TableNumber {
		return false
	}
	return true
}
