// Package async provides a minimal Future pattern for fire-and-forget
// asynchronous operations that only report success or failure.
//
// ExecFuture represents the outcome of a computation started in its own
// goroutine. It provides methods to wait for completion (Await), check
// status without blocking (IsComplete), and bound the wait with a
// timeout (AwaitWithTimeout).
//
// # Usage
//
// Basic asynchronous operation:
//
//	func notifyWebhook(ctx context.Context, url string) error {
//		// perform the call
//		return nil
//	}
//
//	future := async.Exec(ctx, url, notifyWebhook)
//	// do other work...
//	if err := future.Await(); err != nil {
//		log.Println(err)
//	}
//
// Using a timeout:
//
//	err := future.AwaitWithTimeout(50 * time.Millisecond)
//	if errors.Is(err, async.ErrTimeout) {
//		log.Println("operation timed out")
//	}
//
// # Coordination
//
// ExecAll waits for every future to finish and returns the first error
// encountered, in argument order:
//
//	futures := []*async.ExecFuture{
//		async.Exec(ctx, a, doSomething),
//		async.Exec(ctx, b, doSomething),
//	}
//	err := async.ExecAll(futures...)
//
// ExecAny returns as soon as any future completes, along with its index:
//
//	index, err := async.ExecAny(futures...)
//
// # Error Handling
//
// The package defines two sentinel errors:
//   - ErrTimeout: returned when AwaitWithTimeout exceeds its duration
//   - ErrNoFutures: returned when ExecAny is called with no futures
//
// # Concurrency Safety
//
// All operations are safe for concurrent use. ExecFuture uses sync.Once
// internally to guard against racing completions.
//
// # Context Support
//
// Exec respects context cancellation: if ctx is already canceled before
// the function begins, the future completes immediately with ctx.Err()
// instead of running fn.
package async
