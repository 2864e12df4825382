// Package async provides safe concurrent execution primitives for background tasks.
//
// SafeGo: fire-and-forget goroutine with timeout, panic recovery and error logging
//
//	async.SafeGo(ctx, logger, 5*time.Second, "invalidate company", func(ctx context.Context) error {
//		_, err := checker.InvalidateCache(ctx, rbac.InvalidationCriteria{CompanyID: companyID})
//		return err
//	})
//
// Batch: bounded fan-out over a slice, errors aligned with the input
//
//	errs := async.Batch(ctx, userIDs, 8, 5*time.Second, warmOne)
//	failed := async.CountErrors(errs)
package async
