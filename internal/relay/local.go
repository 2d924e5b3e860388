package relay

import (
	"context"

	"github.com/statecast/backend/internal/message"
)

// Local broadcasts directly into an in-process registry.
type Local struct {
	target Broadcaster
}

// NewLocal creates a Local relay.
func NewLocal(target Broadcaster) *Local {
	return &Local{target: target}
}

// Publish implements Relay.
func (l *Local) Publish(_ context.Context, channel string, msg message.Message) (int, error) {
	return l.target.Broadcast(channel, msg), nil
}

// Run implements Relay. There is nothing to consume; it waits for ctx.
func (l *Local) Run(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

// Close implements Relay.
func (l *Local) Close() error { return nil }
