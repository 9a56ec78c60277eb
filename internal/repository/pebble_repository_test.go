package repository

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	d "github.com/fjod/go_cart/selfcheckout/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupPebble(t *testing.T) *PebbleStore {
	t.Helper()
	store, err := NewPebbleStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestPebble_CreateAndGetSession(t *testing.T) {
	store := setupPebble(t)
	ctx := context.Background()
	s := newTestSession("ret-1")

	require.NoError(t, store.CreateSession(ctx, s))
	assert.ErrorIs(t, store.CreateSession(ctx, s), ErrSessionExists)

	got, err := store.GetSession(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, s.ID, got.ID)
	assert.Equal(t, d.SessionStatusInProgress, got.Status)
	assert.Equal(t, "AB12CD", got.SecurityCode)

	_, err = store.GetSession(ctx, "missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestPebble_TransactionAppliesItemOps(t *testing.T) {
	store := setupPebble(t)
	ctx := context.Background()
	s := newTestSession("ret-1")
	require.NoError(t, store.CreateSession(ctx, s))

	milk := newTestItem(s.ID, "MILK", "1.20", 1)
	bread := newTestItem(s.ID, "BREAD", "2.00", 2)
	out, err := store.WithSessionTransaction(ctx, s.ID, func(snap *Snapshot) (*Change, error) {
		return &Change{InsertedItems: []d.SessionItem{milk, bread}}, nil
	})
	require.NoError(t, err)
	assert.Len(t, out.Items, 2)

	out, err = store.WithSessionTransaction(ctx, s.ID, func(snap *Snapshot) (*Change, error) {
		upd := snap.Session.Items[0]
		upd.Quantity = 3
		return &Change{UpdatedItems: []d.SessionItem{upd}, DeletedItemIDs: []string{bread.ID}}, nil
	})
	require.NoError(t, err)
	require.Len(t, out.Items, 1)
	assert.Equal(t, 3, out.Items[0].Quantity)

	stored, err := store.GetSession(ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, stored.Items, 1)
	assert.Equal(t, "MILK", stored.Items[0].SKU)
}

func TestPebble_TransactionRejectsDuplicateSKU(t *testing.T) {
	store := setupPebble(t)
	ctx := context.Background()
	s := newTestSession("ret-1")
	require.NoError(t, store.CreateSession(ctx, s))

	_, err := store.WithSessionTransaction(ctx, s.ID, func(*Snapshot) (*Change, error) {
		return &Change{InsertedItems: []d.SessionItem{newTestItem(s.ID, "MILK", "1", 1)}}, nil
	})
	require.NoError(t, err)

	_, err = store.WithSessionTransaction(ctx, s.ID, func(*Snapshot) (*Change, error) {
		return &Change{InsertedItems: []d.SessionItem{newTestItem(s.ID, "MILK", "1", 1)}}, nil
	})
	assert.ErrorIs(t, err, ErrDuplicateSKU)
}

func TestPebble_CallbackErrorWritesNothing(t *testing.T) {
	store := setupPebble(t)
	ctx := context.Background()
	s := newTestSession("ret-1")
	require.NoError(t, store.CreateSession(ctx, s))

	boom := assert.AnError
	_, err := store.WithSessionTransaction(ctx, s.ID, func(snap *Snapshot) (*Change, error) {
		snap.Session.Status = d.SessionStatusCancelled
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := store.GetSession(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, d.SessionStatusInProgress, got.Status)
}

func TestPebble_InvoiceAndOutbox(t *testing.T) {
	store := setupPebble(t)
	ctx := context.Background()
	s := newTestSession("ret-1")
	require.NoError(t, store.CreateSession(ctx, s))

	pay := func(*Snapshot) (*Change, error) {
		next := s.Clone()
		next.Status = d.SessionStatusPaid
		return &Change{
			Session: next,
			Invoice: &d.Invoice{ID: uuid.NewString(), SessionID: s.ID, RetailerID: "ret-1", PaymentMode: "UPI",
				TotalAmount: decimal.RequireFromString("10.50")},
			Event: &OutboxEvent{ID: uuid.NewString(), AggregateId: s.ID, EventType: d.EventTypeSessionPaid,
				Payload: []byte(`{"session_id":"x"}`), CreatedAt: time.Now()},
		}, nil
	}

	out, err := store.WithSessionTransaction(ctx, s.ID, pay)
	require.NoError(t, err)
	assert.Equal(t, d.SessionStatusPaid, out.Status)

	_, err = store.WithSessionTransaction(ctx, s.ID, pay)
	assert.ErrorIs(t, err, ErrInvoiceExists)

	inv, err := store.GetInvoice(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, "10.5", inv.TotalAmount.String())

	events, err := store.GetUnprocessedEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, s.ID, events[0].AggregateId)

	require.NoError(t, store.MarkEventAsProcessed(ctx, events[0].ID))
	events, err = store.GetUnprocessedEvents(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestPebble_ListSessionsFilters(t *testing.T) {
	store := setupPebble(t)
	ctx := context.Background()

	a := newTestSession("ret-1")
	b := newTestSession("ret-1")
	b.CreatedAt = a.CreatedAt.Add(time.Second)
	b.TableNumber = "T4"
	c := newTestSession("ret-2")
	for _, s := range []*d.Session{a, b, c} {
		require.NoError(t, store.CreateSession(ctx, s))
	}

	list, err := store.ListSessions(ctx, ListFilter{RetailerID: "ret-1"})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, b.ID, list[0].ID, "newest first")

	list, err = store.ListSessions(ctx, ListFilter{RetailerID: "ret-1", TableNumber: "T4"})
	require.NoError(t, err)
	require.Len(t, list, 1)

	list, err = store.ListSessions(ctx, ListFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestPebble_Directory(t *testing.T) {
	store := setupPebble(t)
	ctx := context.Background()
	require.NoError(t, store.Seed(ctx, testSeed()))

	for _, ref := range []string{"ret-1", "FRESH", "OWNER@fresh.example", "fresh mart"} {
		ret, err := store.FindRetailer(ctx, ref)
		require.NoError(t, err, ref)
		assert.Equal(t, "ret-1", ret.ID)
	}

	_, err := store.FindRetailer(ctx, "ret-2")
	assert.ErrorIs(t, err, ErrRetailerNotFound, "inactive retailers are not resolvable")

	item, ok, err := store.ResolveCatalogItem(ctx, "ret-1", "MILK-1L")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Milk 1L", item.Name)

	_, ok, err = store.ResolveCatalogItem(ctx, "ret-1", "NOPE")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPebble_ConcurrentTransactionsSerialize(t *testing.T) {
	store := setupPebble(t)
	ctx := context.Background()
	s := newTestSession("ret-1")
	require.NoError(t, store.CreateSession(ctx, s))
	_, err := store.WithSessionTransaction(ctx, s.ID, func(*Snapshot) (*Change, error) {
		return &Change{InsertedItems: []d.SessionItem{newTestItem(s.ID, "MILK", "1", 1)}}, nil
	})
	require.NoError(t, err)

	const workers = 20
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.WithSessionTransaction(ctx, s.ID, func(snap *Snapshot) (*Change, error) {
				item := snap.Session.Items[0]
				item.Quantity++
				return &Change{UpdatedItems: []d.SessionItem{item}}, nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := store.GetSession(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, workers+1, got.Items[0].Quantity)
}

func TestPebble_LockStripeIsStable(t *testing.T) {
	seen := map[int]bool{}
	for i := 0; i < 1000; i++ {
		id := uuid.NewString()
		stripe := lockStripe(id)
		assert.Equal(t, stripe, lockStripe(id))
		assert.GreaterOrEqual(t, stripe, 0)
		assert.Less(t, stripe, lockStripes)
		seen[stripe] = true
	}
	assert.Greater(t, len(seen), lockStripes/2, "ids should spread over the stripes")
}

func TestPebble_SessionsSharingAStripeBothCommit(t *testing.T) {
	store := setupPebble(t)
	ctx := context.Background()

	first := newTestSession("ret-1")
	second := newTestSession("ret-1")
	for lockStripe(second.ID) != lockStripe(first.ID) {
		second.ID = uuid.NewString()
	}
	require.NoError(t, store.CreateSession(ctx, first))
	require.NoError(t, store.CreateSession(ctx, second))

	const workers = 10
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		for _, id := range []string{first.ID, second.ID} {
			wg.Add(1)
			go func(id string, n int) {
				defer wg.Done()
				_, err := store.WithSessionTransaction(ctx, id, func(snap *Snapshot) (*Change, error) {
					item := newTestItem(id, fmt.Sprintf("SKU-%d", n), "1", 1)
					return &Change{InsertedItems: []d.SessionItem{item}}, nil
				})
				assert.NoError(t, err)
			}(id, i)
		}
	}
	wg.Wait()

	for _, id := range []string{first.ID, second.ID} {
		got, err := store.GetSession(ctx, id)
		require.NoError(t, err)
		assert.Len(t, got.Items, workers)
	}
}
