package async

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/tenantguard/pkg/observability"
)

// SafeGo executes a function in a goroutine with:
// - Context cancellation support
// - Panic recovery
// - Timeout enforcement
// - Error logging
//
// Use this instead of bare `go func()` for fire-and-forget work.
//
// Example:
//
//	SafeGo(ctx, logger, 5*time.Second, "role change invalidation", func(ctx context.Context) error {
//	    _, err := checker.InvalidateCache(ctx, rbac.InvalidationCriteria{RoleID: roleID})
//	    return err
//	})
func SafeGo(parentCtx context.Context, logger *observability.Logger, timeout time.Duration, taskName string, fn func(context.Context) error) {
	if logger == nil {
		logger = observability.NopLogger()
	}

	go func() {
		ctx, cancel := context.WithTimeout(parentCtx, timeout)
		defer cancel()
		defer observability.RecoverPanic(logger, taskName)

		if err := fn(ctx); err != nil {
			logger.WithError(err).WithField("task", taskName).Warn("background task failed")
		}
	}()
}

// Batch runs fn for every item with at most workers running at once, each under its
// own timeout. Failures do not cancel the remaining items. The returned slice is
// aligned with items: errs[i] is nil when items[i] succeeded.
//
// Example:
//
//	errs := Batch(ctx, userIDs, 8, 5*time.Second, func(ctx context.Context, userID string) error {
//	    _, err := calculator.ComputeEffectivePermissions(ctx, userID, "")
//	    return err
//	})
func Batch[T any](ctx context.Context, items []T, workers int, timeout time.Duration, fn func(context.Context, T) error) []error {
	if workers <= 0 {
		workers = 1
	}

	errs := make([]error, len(items))

	var g errgroup.Group
	g.SetLimit(workers)

	for i, item := range items {
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					errs[i] = observability.MustRecover(r)
				}
			}()

			if ctxErr := ctx.Err(); ctxErr != nil {
				errs[i] = ctxErr
				return nil
			}

			itemCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			errs[i] = fn(itemCtx, item)
			return nil
		})
	}

	g.Wait()
	return errs
}

// CountErrors returns how many entries of a Batch result are non-nil
func CountErrors(errs []error) int {
	n := 0
	for _, err := range errs {
		if err != nil {
			n++
		}
	}
	return n
}
