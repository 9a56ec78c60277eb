package cache

import (
	"context"
	"errors"

	"github.com/fjod/go_cart/selfcheckout/internal/domain"
)

var ErrCacheMiss = errors.New("cache miss")

type SessionCache interface {
	Get(ctx context.Context, sessionID string) (*domain.Session, error)
	Set(ctx context.Context, session *domain.Session) error
	Delete(ctx context.Context, sessionID string) error
}

// Noop is used when no Redis address is configured; every read misses.
type Noop struct{}

func (Noop) Get(context.Context, string) (*domain.Session, error) { return nil, ErrCacheMiss }
func (Noop) Set(context.Context, *domain.Session) error { return nil }
func (Noop) Delete(context.Context, string) error { return nil }
