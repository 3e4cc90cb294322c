// Package daemon hosts the resident runq process. The daemon acquires the
// runner lock for its lifetime, binds the control socket, and drains the
// queue whenever a wake broadcast arrives or the poll interval elapses.
//
// Only one queue owner may exist per data directory. The lock enforces
// this against both a second daemon and a foreground "runq run"; other
// sessions coordinate through wake and cancel broadcasts on the control
// socket instead of touching the drain directly.
package daemon
