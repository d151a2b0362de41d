// Package queue is a small durable job queue used to defer billing work.
//
// An Enqueuer serializes a payload to JSON and stores it as a Job, optionally
// delayed with WithDelay. A Worker polls Storage, claims due jobs and hands
// them to the Handler registered under the job's name (the payload's Go type
// name by default). Failed jobs are retried with linear backoff until
// MaxAttempts, after which they are buried as dead for an operator to look at.
//
// MemoryStorage serves tests and single-process runs; PGStorage uses
// SELECT ... FOR UPDATE SKIP LOCKED so several workers can share a table.
//
//	enq, _ := queue.NewEnqueuer(storage)
//	_, err := enq.Enqueue(ctx, ProcessEvent{EventID: id}, queue.WithDelay(5*time.Second))
//
//	w, _ := queue.NewWorker(storage)
//	w.Register(queue.NewHandler(func(ctx context.Context, p ProcessEvent) error { ... }))
//	g.Go(w.Run(ctx))
package queue
