package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/go_cart/selfcheckout/internal/domain"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var ErrCatalogUnavailable = errors.New("catalog unavailable")

// Resolver answers whether a retailer's catalog knows a SKU.
// A miss is (nil, false, nil); an error means the catalog could not be asked.
type Resolver interface {
	ResolveCatalogItem(ctx context.Context, retailerID, sku string) (*domain.CatalogItem, bool, error)
}

type result struct {
	item  *domain.CatalogItem
	found bool
}

// BreakerLookup guards a Resolver with a circuit breaker and collapses identical
// concurrent lookups into one call.
type BreakerLookup struct {
	next    Resolver
	cb      *gobreaker.CircuitBreaker[result]
	sfg     singleflight.Group
	log     *zap.Logger
	timeout time.Duration
}

type Settings struct {
	Name             string
	FailureThreshold uint32
	OpenTimeout      time.Duration
	HalfOpenRequests uint32

	// LookupTimeout bounds one shared catalog call, independent of any single caller.
	LookupTimeout time.Duration
}

func DefaultSettings() Settings {
	return Settings{
		Name:             "catalog",
		FailureThreshold: 5,
		OpenTimeout:      10 * time.Second,
		HalfOpenRequests: 1,
		LookupTimeout:    3 * time.Second,
	}
}

func NewBreakerLookup(next Resolver, st Settings, log *zap.Logger) *BreakerLookup {
	if st.LookupTimeout <= 0 {
		st.LookupTimeout = DefaultSettings().LookupTimeout
	}
	b := &BreakerLookup{next: next, log: log, timeout: st.LookupTimeout}
	b.cb = gobreaker.NewCircuitBreaker[result](gobreaker.Settings{
		Name:        st.Name,
		MaxRequests: st.HalfOpenRequests,
		Timeout:     st.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= st.FailureThreshold
		},
		// the caller giving up is not a catalog failure
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	return b
}

// ResolveCatalogItem joins any in-flight lookup for the same key. The shared call is detached
// from ctx, so one caller going away does not fail the others; that caller just stops waiting.
func (b *BreakerLookup) ResolveCatalogItem(ctx context.Context, retailerID, sku string) (*domain.CatalogItem, bool, error) {
	key := retailerID + "/" + sku
	ch := b.sfg.DoChan(key, func() (interface{}, error) {
		lookupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.timeout)
		defer cancel()
		return b.cb.Execute(func() (result, error) {
			item, found, err := b.next.ResolveCatalogItem(lookupCtx, retailerID, sku)
			if err != nil {
				return result{}, err
			}
			return result{item: item, found: found}, nil
		})
	})

	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, false, fmt.Errorf("%w: %w", ErrCatalogUnavailable, res.Err)
		}
		out := res.Val.(result)
		return out.item, out.found, nil
	}
}

// State exposes the breaker state for health reporting.
func (b *BreakerLookup) State() gobreaker.State {
	return b.cb.State()
}
