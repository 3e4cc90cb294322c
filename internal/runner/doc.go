// Package runner drains the job queue against the execution engine.
//
// The Runner processes jobs strictly FIFO by index and sources strictly in
// their stored order, with exactly one engine submission in flight at a time.
// After every source it writes a durable checkpoint of the job's cursor and
// outcome counters; that checkpoint is the crash-recovery contract, so a
// restarted drain resumes from the first unprocessed source and never
// resubmits completed ones. Fully traversed jobs are classified from their
// counters (completed, partial success, failed), dequeued, and their uploaded
// payloads released.
//
// Cancellation is cooperative: requests arrive via Cancel, a control-bus
// message, or context cancellation, and are honored at the top of the job and
// source loops. An interrupted job is classified skipped and left in the
// store at its current cursor. A reconciliation sweep at every drain start
// deletes blobs that no queued job references.
//
// A Runner is constructed per drain. It guards against concurrent Run calls
// on itself, but the one-active-runner rule across processes belongs to the
// caller (the daemon's lock file).
package runner
