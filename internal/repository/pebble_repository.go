package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/pebble"
	d "github.com/fjod/go_cart/selfcheckout/internal/domain"
)

const (
	sessionPrefix       = "session/"
	invoicePrefix       = "invoice/"
	retailerPrefix      = "retailer/"
	catalogPrefix       = "catalog/"
	outboxPendingPrefix = "outbox/pending/"
	outboxIndexPrefix   = "outbox/index/"
	outboxDonePrefix    = "outbox/done/"

	lockStripes = 256
)

// PebbleStore keeps sessions in an embedded Pebble database for single-node deployments.
// Each session value embeds its items, so one key holds the whole aggregate and a single
// synced batch makes a mutation atomic.
type PebbleStore struct {
	db *pebble.DB

	// session ids hash onto a fixed set of mutexes; unrelated sessions may share one
	locks [lockStripes]sync.Mutex

	seqMu   sync.Mutex
	lastSeq int64
}

func NewPebbleStore(dir string) (*PebbleStore, error) {
	opts := &pebble.Options{
		MemTableSize:             32 << 20,
		MaxConcurrentCompactions: func() int { return 2 },
		L0CompactionThreshold:    4,
		L0StopWritesThreshold:    12,
	}
	db, err := pebble.Open(filepath.Clean(dir), opts)
	if err != nil {
		return nil, fmt.Errorf("pebble open: %w", err)
	}
	return &PebbleStore{db: db}, nil
}

func (p *PebbleStore) Close() error { return p.db.Close() }

func sessionKey(id string) []byte { return []byte(sessionPrefix + id) }
func invoiceKey(id string) []byte { return []byte(invoicePrefix + id) }
func retailerKey(id string) []byte { return []byte(retailerPrefix + id) }
func outboxIndexKey(id string) []byte { return []byte(outboxIndexPrefix + id) }
func catalogKey(retailerID, sku string) []byte {
	return []byte(catalogPrefix + retailerID + "/" + sku)
}

func lockStripe(id string) int {
	return int(xxhash.Sum64String(id) % lockStripes)
}

func (p *PebbleStore) lockSession(id string) func() {
	mu := &p.locks[lockStripe(id)]
	mu.Lock()
	return mu.Unlock
}

// getJSON reads key into dst. It reports false when the key does not exist.
func (p *PebbleStore) getJSON(key []byte, dst any) (bool, error) {
	v, closer, err := p.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("pebble get %s: %w", key, err)
	}
	defer closer.Close()
	if err := json.Unmarshal(v, dst); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func setJSON(b *pebble.Batch, key []byte, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return b.Set(key, raw, nil)
}

// scanPrefix calls fn with a copy of every value under prefix, in key order.
func (p *PebbleStore) scanPrefix(prefix string, fn func(key, value []byte) error) error {
	it, err := p.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(prefix),
		UpperBound: prefixUpperBound([]byte(prefix)),
	})
	if err != nil {
		return fmt.Errorf("pebble iter: %w", err)
	}
	defer it.Close()
	for it.First(); it.Valid(); it.Next() {
		k := append([]byte(nil), it.Key()...)
		v := append([]byte(nil), it.Value()...)
		if err := fn(k, v); err != nil {
			return err
		}
	}
	return it.Error()
}

func prefixUpperBound(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

func (p *PebbleStore) CreateSession(ctx context.Context, session *d.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	unlock := p.lockSession(session.ID)
	defer unlock()

	var existing d.Session
	found, err := p.getJSON(sessionKey(session.ID), &existing)
	if err != nil {
		return err
	}
	if found {
		return ErrSessionExists
	}

	b := p.db.NewBatch()
	defer b.Close()
	if err := setJSON(b, sessionKey(session.ID), session); err != nil {
		return err
	}
	return b.Commit(pebble.Sync)
}

func (p *PebbleStore) GetSession(ctx context.Context, sessionID string) (*d.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var s d.Session
	found, err := p.getJSON(sessionKey(sessionID), &s)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrSessionNotFound
	}
	return &s, nil
}

func (p *PebbleStore) ListSessions(ctx context.Context, filter ListFilter) ([]*d.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var sessions []*d.Session
	err := p.scanPrefix(sessionPrefix, func(key, value []byte) error {
		var s d.Session
		if err := json.Unmarshal(value, &s); err != nil {
			return fmt.Errorf("decode %s: %w", key, err)
		}
		if matchesFilter(&s, filter) {
			sessions = append(sessions, &s)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(sessions, func(i, j int) bool {
		if sessions[i].CreatedAt.Equal(sessions[j].CreatedAt) {
			return sessions[i].ID < sessions[j].ID
		}
		return sessions[i].CreatedAt.After(sessions[j].CreatedAt)
	})
	if filter.Limit > 0 && len(sessions) > filter.Limit {
		sessions = sessions[:filter.Limit]
	}
	return sessions, nil
}

func (p *PebbleStore) GetInvoice(ctx context.Context, sessionID string) (*d.Invoice, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var inv d.Invoice
	found, err := p.getJSON(invoiceKey(sessionID), &inv)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrInvoiceNotFound
	}
	return &inv, nil
}

// WithSessionTransaction serializes callers per session with an in-process mutex and writes
// the whole change in one synced batch.
func (p *PebbleStore) WithSessionTransaction(ctx context.Context, sessionID string, fn TxFunc) (*d.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	unlock := p.lockSession(sessionID)
	defer unlock()

	session, err := p.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	invoice, err := p.GetInvoice(ctx, sessionID)
	if err != nil && !errors.Is(err, ErrInvoiceNotFound) {
		return nil, err
	}

	snap := &Snapshot{Session: session, Invoice: invoice}
	change, err := fn(snap)
	if err != nil {
		return nil, err
	}
	if change == nil {
		return snap.Session, nil
	}

	out, err := resultSession(snap, change)
	if err != nil {
		return nil, err
	}

	b := p.db.NewBatch()
	defer b.Close()
	if err := setJSON(b, sessionKey(sessionID), out); err != nil {
		return nil, err
	}
	if change.Invoice != nil {
		if snap.Invoice != nil {
			return nil, ErrInvoiceExists
		}
		if err := setJSON(b, invoiceKey(sessionID), change.Invoice); err != nil {
			return nil, err
		}
	}
	if change.Event != nil {
		if err := p.stageEvent(b, change.Event); err != nil {
			return nil, err
		}
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return nil, fmt.Errorf("pebble commit: %w", err)
	}
	return out, nil
}

// nextSeq hands out strictly increasing, time-ordered outbox sequence numbers.
func (p *PebbleStore) nextSeq() int64 {
	p.seqMu.Lock()
	defer p.seqMu.Unlock()
	seq := time.Now().UnixNano()
	if seq <= p.lastSeq {
		seq = p.lastSeq + 1
	}
	p.lastSeq = seq
	return seq
}

func (p *PebbleStore) stageEvent(b *pebble.Batch, ev *OutboxEvent) error {
	pending := []byte(fmt.Sprintf("%s%020d", outboxPendingPrefix, p.nextSeq()))
	if err := setJSON(b, pending, ev); err != nil {
		return err
	}
	return b.Set(outboxIndexKey(ev.ID), pending, nil)
}

func (p *PebbleStore) GetUnprocessedEvents(ctx context.Context, limit int) ([]*OutboxEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var events []*OutboxEvent
	errStop := errors.New("stop")
	err := p.scanPrefix(outboxPendingPrefix, func(key, value []byte) error {
		if limit > 0 && len(events) >= limit {
			return errStop
		}
		var ev OutboxEvent
		if err := json.Unmarshal(value, &ev); err != nil {
			return fmt.Errorf("decode %s: %w", key, err)
		}
		events = append(events, &ev)
		return nil
	})
	if err != nil && !errors.Is(err, errStop) {
		return nil, err
	}
	return events, nil
}

func (p *PebbleStore) MarkEventAsProcessed(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	pending, closer, err := p.db.Get(outboxIndexKey(id))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("pebble get outbox index: %w", err)
	}
	pendingKey := append([]byte(nil), pending...)
	_ = closer.Close()

	var ev OutboxEvent
	found, err := p.getJSON(pendingKey, &ev)
	if err != nil {
		return err
	}

	b := p.db.NewBatch()
	defer b.Close()
	if found {
		now := time.Now().UTC()
		ev.ProcessedAt = &now
		if err := setJSON(b, []byte(outboxDonePrefix+id), ev); err != nil {
			return err
		}
	}
	if err := b.Delete(pendingKey, nil); err != nil {
		return err
	}
	if err := b.Delete(outboxIndexKey(id), nil); err != nil {
		return err
	}
	return b.Commit(pebble.Sync)
}

// FindRetailer resolves by id first, then by code, contact email or shop name.
func (p *PebbleStore) FindRetailer(ctx context.Context, ref string) (*d.Retailer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var ret d.Retailer
	found, err := p.getJSON(retailerKey(ref), &ret)
	if err != nil {
		return nil, err
	}
	if found && ret.Active {
		return &ret, nil
	}

	var match *d.Retailer
	errFound := errors.New("found")
	err = p.scanPrefix(retailerPrefix, func(key, value []byte) error {
		var r d.Retailer
		if err := json.Unmarshal(value, &r); err != nil {
			return fmt.Errorf("decode %s: %w", key, err)
		}
		if !r.Active {
			return nil
		}
		if r.Code == ref || strings.EqualFold(r.ContactEmail, ref) || strings.EqualFold(r.ShopName, ref) {
			match = &r
			return errFound
		}
		return nil
	})
	if err != nil && !errors.Is(err, errFound) {
		return nil, err
	}
	if match == nil {
		return nil, ErrRetailerNotFound
	}
	return match, nil
}

func (p *PebbleStore) ResolveCatalogItem(ctx context.Context, retailerID, sku string) (*d.CatalogItem, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	var item d.CatalogItem
	found, err := p.getJSON(catalogKey(retailerID, sku), &item)
	if err != nil || !found {
		return nil, false, err
	}
	return &item, true, nil
}

func (p *PebbleStore) Seed(ctx context.Context, data *SeedData) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b := p.db.NewBatch()
	defer b.Close()
	for _, ret := range data.Retailers {
		if err := setJSON(b, retailerKey(ret.ID), ret); err != nil {
			return err
		}
	}
	for _, item := range data.Catalog {
		if err := setJSON(b, catalogKey(item.RetailerID, item.SKU), item); err != nil {
			return err
		}
	}
	return b.Commit(pebble.Sync)
}
