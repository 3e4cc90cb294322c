// Package control carries cancel and wake broadcasts between runq sessions.
//
// Inside one process a MemoryBus fans messages out to subscribers, with
// per-subscriber buffering so a stalled consumer never blocks the publisher.
// The process that owns the runner additionally hosts a Hub on a Unix domain
// socket; other sessions use Broadcast to push line-delimited JSON messages
// through it, and the hub republishes them on the local bus. Cancellation is
// cooperative: a cancel message sets intent, and the runner acts on it at its
// next safe point.
package control
