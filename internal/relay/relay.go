// Package relay carries room events between server instances.
package relay

import "context"

// Handler receives a payload published to room by any instance, including this one.
type Handler func(room string, payload []byte)

// Relay is a room-scoped publish/subscribe transport. Subscriptions are not
// reference counted: callers subscribe when a room gains its first local
// member and unsubscribe when it loses the last one.
type Relay interface {
	Publish(ctx context.Context, room string, payload []byte) error
	Subscribe(ctx context.Context, room string) error
	Unsubscribe(ctx context.Context, room string) error
	// Run delivers incoming payloads to h until ctx is done or the relay is closed.
	Run(ctx context.Context, h Handler) error
	Close() error
}
