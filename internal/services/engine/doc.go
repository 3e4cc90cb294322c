// Package engine wraps the backtest engine's HTTP API.
//
// The engine executes one run at a time: Submit blocks for the duration of
// the backtest and maps the engine's terminal status onto the queue's error
// taxonomy (completed, cancelled via ErrCancelled, failed as an external
// service error). Datasets travel either as shared-filesystem paths or as
// inline payload bytes for uploads.
package engine
