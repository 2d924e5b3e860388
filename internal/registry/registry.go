// Package registry tracks live streaming subscribers per channel and fans
// published messages out to them.
//
// Three indexes are kept in lockstep under a single mutex: channel to
// subscribers, subscriber ID to metadata, and source address to subscriber IDs.
// At most one subscription per source address is live at a time; a newer
// subscription from the same address evicts the older one.
package registry

import (
	"log/slog"
	"sync"

	"github.com/statecast/backend/internal/message"
)

// Conn is the transport side of one subscriber. Write must not block; a
// returned error means the connection is gone. Done is closed once the
// connection has terminated for any reason.
type Conn interface {
	Write(p []byte) error
	Close() error
	Done() <-chan struct{}
}

// ID identifies a subscription for its whole lifetime. IDs are never reused.
type ID uint64

type subscriber struct {
	id       ID
	conn     Conn
	clientID string
	channel  string
	address  string
}

// Registry is the channel-scoped subscription index. The zero value is not
// usable; create one with New.
type Registry struct {
	mu        sync.RWMutex
	nextID    ID
	channels  map[string]map[ID]*subscriber
	subs      map[ID]*subscriber
	addresses map[string]map[ID]struct{}

	transform message.Transformer
	logger    *slog.Logger
}

// New creates an empty Registry. transform is applied to transformable message
// kinds before broadcast; nil means payloads are sent unchanged.
func New(transform message.Transformer, logger *slog.Logger) *Registry {
	if transform == nil {
		transform = message.Identity
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		channels:  make(map[string]map[ID]*subscriber),
		subs:      make(map[ID]*subscriber),
		addresses: make(map[string]map[ID]struct{}),
		transform: transform,
		logger:    logger.With(slog.String("component", "registry")),
	}
}

// Subscribe registers conn as a subscriber of channel and returns its ID.
// Any subscriber already bound to address is evicted first and its connection
// closed. When conn signals Done the subscription is removed.
func (r *Registry) Subscribe(channel string, conn Conn, clientID, address string) ID {
	r.mu.Lock()
	evicted := r.evictLocked(address)

	r.nextID++
	s := &subscriber{
		id:       r.nextID,
		conn:     conn,
		clientID: clientID,
		channel:  channel,
		address:  address,
	}

	set, ok := r.channels[channel]
	if !ok {
		set = make(map[ID]*subscriber)
		r.channels[channel] = set
	}
	set[s.id] = s
	r.subs[s.id] = s

	bound, ok := r.addresses[address]
	if !ok {
		bound = make(map[ID]struct{})
		r.addresses[address] = bound
	}
	bound[s.id] = struct{}{}
	r.mu.Unlock()

	// Connections are closed outside the lock; their Done-driven unsubscribe
	// finds nothing left to remove.
	for _, old := range evicted {
		r.logger.Info("evicted subscriber",
			slog.String("channel", old.channel),
			slog.String("client_id", old.clientID),
			slog.String("source_address", old.address),
			slog.String("replaced_by", clientID),
		)
		if err := old.conn.Close(); err != nil {
			r.logger.Debug("close of evicted connection failed",
				slog.String("client_id", old.clientID),
				slog.Any("error", err),
			)
		}
	}

	r.logger.Debug("subscribed",
		slog.String("channel", channel),
		slog.String("client_id", clientID),
		slog.String("source_address", address),
	)

	go r.watch(s)
	return s.id
}

// watch removes s once its connection terminates.
func (r *Registry) watch(s *subscriber) {
	<-s.conn.Done()
	r.Unsubscribe(s.channel, s.id)
}

// Unsubscribe removes the subscription id from channel. Unknown IDs, and IDs
// registered under a different channel, are ignored.
func (r *Registry) Unsubscribe(channel string, id ID) {
	r.mu.Lock()
	s, ok := r.subs[id]
	if !ok || s.channel != channel {
		r.mu.Unlock()
		return
	}
	r.retireLocked(s)
	r.mu.Unlock()

	r.logger.Debug("unsubscribed",
		slog.String("channel", s.channel),
		slog.String("client_id", s.clientID),
	)
}

// evictLocked retires every subscriber bound to address and returns them.
func (r *Registry) evictLocked(address string) []*subscriber {
	bound := r.addresses[address]
	if len(bound) == 0 {
		return nil
	}
	evicted := make([]*subscriber, 0, len(bound))
	for id := range bound {
		if s, ok := r.subs[id]; ok {
			evicted = append(evicted, s)
		}
	}
	for _, s := range evicted {
		r.retireLocked(s)
	}
	// Drop any dangling binding left without a metadata record.
	delete(r.addresses, address)
	return evicted
}

// retireLocked removes s from all three indexes. r.mu must be held for writing.
func (r *Registry) retireLocked(s *subscriber) {
	if set, ok := r.channels[s.channel]; ok {
		delete(set, s.id)
		if len(set) == 0 {
			delete(r.channels, s.channel)
		}
	}
	if bound, ok := r.addresses[s.address]; ok {
		delete(bound, s.id)
		if len(bound) == 0 {
			delete(r.addresses, s.address)
		}
	}
	delete(r.subs, s.id)
}

func (r *Registry) active(id ID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.subs[id]
	return ok
}

// Broadcast delivers msg to every current subscriber of channel and returns
// the number of successful deliveries. Subscribers whose write fails are
// removed; delivery to the rest continues.
func (r *Registry) Broadcast(channel string, msg message.Message) int {
	r.mu.RLock()
	set := r.channels[channel]
	if len(set) == 0 {
		r.mu.RUnlock()
		return 0
	}
	snapshot := make([]*subscriber, 0, len(set))
	for _, s := range set {
		snapshot = append(snapshot, s)
	}
	r.mu.RUnlock()

	frame, err := message.Apply(msg, r.transform).Encode()
	if err != nil {
		r.logger.Error("failed to encode message",
			slog.String("channel", channel),
			slog.String("type", string(msg.Type)),
			slog.Any("error", err),
		)
		return 0
	}

	delivered := 0
	for _, s := range snapshot {
		if !r.active(s.id) {
			continue
		}
		if err := s.conn.Write(frame); err != nil {
			r.logger.Warn("failed to deliver message",
				slog.String("channel", s.channel),
				slog.String("client_id", s.clientID),
				slog.String("source_address", s.address),
				slog.Any("error", err),
			)
			r.Unsubscribe(s.channel, s.id)
			continue
		}
		delivered++
	}
	return delivered
}

// Len returns the number of active subscriptions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

// Close removes every subscription and closes the underlying connections.
func (r *Registry) Close() {
	r.mu.Lock()
	all := make([]*subscriber, 0, len(r.subs))
	for _, s := range r.subs {
		all = append(all, s)
	}
	for _, s := range all {
		r.retireLocked(s)
	}
	r.mu.Unlock()

	for _, s := range all {
		_ = s.conn.Close()
	}
	r.logger.Info("registry closed", slog.Int("subscribers", len(all)))
}
