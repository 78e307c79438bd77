// Package lock provides per-key mutual exclusion, in process or through Redis.
package lock

import (
	"context"

	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/errors"
)

// ErrNotAcquired is returned when the lock could not be taken before the
// wait deadline.
var ErrNotAcquired = &errors.Error{Kind: errors.KindConflict, Message: "lock not acquired"}

// Locker serialises work per key. The returned release func must be called
// exactly once.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}
