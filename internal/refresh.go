package internal

import (
	"context"

	"golang.org/x/sync/singleflight"
)

// RefreshCoordinator collapses concurrent session renewals into one network
// exchange. Unlike a sync.Once it runs again once the in-flight call finishes.
type RefreshCoordinator struct {
	group singleflight.Group
}

// NewRefreshCoordinator creates a RefreshCoordinator ready for use.
func NewRefreshCoordinator() *RefreshCoordinator {
	return &RefreshCoordinator{}
}

// Do runs fn unless a call for key is already in flight, in which case it
// waits for that call and returns its result.
//
// fn receives the first caller's context detached from its cancellation, so
// one caller giving up does not fail the renewal for the others. A caller
// whose own context ends returns early with ctx.Err(); the in-flight call
// keeps running and is bounded by the HTTP client timeout.
func (rc *RefreshCoordinator) Do(ctx context.Context, key string, fn func(context.Context) error) (shared bool, err error) {
	detached := context.WithoutCancel(ctx)
	ch := rc.group.DoChan(key, func() (any, error) {
		return nil, fn(detached)
	})

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case res := <-ch:
		return res.Shared, res.Err
	}
}
