// Package notifications delivers run lifecycle events via pluggable notifiers.
//
// The default implementation publishes to ntfy using the topic configured in
// config.toml and gracefully degrades to a no-op when no topic is set. Each
// event class (run start, job finished, run summary, errors) can be toggled
// individually in configuration; the test notification always sends so
// operators can verify their topic.
//
// Extend this package if you need alternative transports; the runner and CLI
// depend only on the simple Service interface.
package notifications
