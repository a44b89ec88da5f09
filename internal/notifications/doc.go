// Package notifications pushes render outcomes to ntfy.
//
// A Service is built from the [notifications] config section and degrades to
// a no-op when no topic is configured, so callers never branch on whether
// notifications are enabled.
package notifications
