// Package notifications delivers batch milestones via pluggable notifiers.
//
// The default implementation publishes to ntfy using the topic configured in
// config.toml and gracefully degrades to a no-op when notifications are
// disabled. The Service interface covers batch start, batch completion, and
// job failure so callers emit consistent messages without duplicating HTTP
// glue.
//
// Extend this package for alternative transports; callers depend only on the
// Service interface.
package notifications
