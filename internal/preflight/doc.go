// Package preflight provides readiness checks for the filesystem paths,
// queue database, blob storage, and engine endpoint that runq depends on.
//
// These checks run in two contexts:
//   - The runqd daemon runs RunAll once at startup and logs any failures
//     before entering the drain loop.
//   - The CLI "runq health" and "runq status" commands render check
//     results for the operator.
//
// Checks never mutate queue contents. Opening the database does run the
// standard startup repair pass, which is idempotent, so checks are safe
// to run beside a live daemon.
package preflight
