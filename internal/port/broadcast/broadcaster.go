// Package broadcast is the port for pushing run, buzz and trigger events to
// live ops clients.
package broadcast

import "context"

// Broadcaster fans one event out to every connected client. Delivery is best
// effort; slow clients may miss events.
type Broadcaster interface {
	BroadcastEvent(ctx context.Context, eventType string, payload any)
}
