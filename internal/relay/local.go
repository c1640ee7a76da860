package relay

import (
	"context"
	"sync"
)

// Local is the single-instance relay. Local members are reached directly by
// the hub, so nothing needs to travel.
type Local struct {
	once sync.Once
	done chan struct{}
}

func NewLocal() *Local {
	return &Local{done: make(chan struct{})}
}

var _ Relay = (*Local)(nil)

func (l *Local) Publish(context.Context, string, []byte) error { return nil }

func (l *Local) Subscribe(context.Context, string) error { return nil }

func (l *Local) Unsubscribe(context.Context, string) error { return nil }

func (l *Local) Run(ctx context.Context, _ Handler) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		return nil
	}
}

func (l *Local) Close() error {
	l.once.Do(func() { close(l.done) })
	return nil
}
