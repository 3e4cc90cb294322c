// Package main hosts the runq CLI entrypoint and command graph.
//
// The Cobra-based command tree covers queue maintenance (add, list, remove,
// clear), runner control (run, cancel, status), readiness checks, and
// configuration scaffolding. Commands open the shared queue database and
// blob directory directly; coordination with a resident runqd happens only
// through the runner lock and wake/cancel broadcasts on the control socket.
//
// Keep this package lean: add new functionality by extending the internal
// packages first, then surface it through dedicated commands or flags here.
package main
