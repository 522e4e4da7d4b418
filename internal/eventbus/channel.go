// Package eventbus implements the per-CR append-only event stream with a
// live Postgres LISTEN/NOTIFY notification channel, grounded on the
// teacher's pkg/events package (listener.go, manager.go, publisher.go).
package eventbus

import "fmt"

// Channel returns the Postgres NOTIFY channel name for a CR's event stream.
// Channel names are passed as pg_notify string arguments, not as SQL
// identifiers, so the cr_id's hyphens need no escaping.
func Channel(crID string) string {
	return fmt.Sprintf("cr_events_%s", crID)
}
