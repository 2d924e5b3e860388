package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/statecast/backend/internal/message"
)

var errWrite = errors.New("write failed")

// fakeConn records writes and close calls.
type fakeConn struct {
	mu         sync.Mutex
	frames     [][]byte
	writeErr   error
	closeErr   error
	closeCalls int
	done       chan struct{}
	once       sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{done: make(chan struct{})}
}

func (c *fakeConn) Write(p []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	c.frames = append(c.frames, append([]byte(nil), p...))
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closeCalls++
	err := c.closeErr
	c.mu.Unlock()
	c.once.Do(func() { close(c.done) })
	return err
}

func (c *fakeConn) Done() <-chan struct{} { return c.done }

func (c *fakeConn) received() []message.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]message.Message, 0, len(c.frames))
	for _, f := range c.frames {
		m, err := message.Decode(f)
		if err == nil {
			out = append(out, m)
		}
	}
	return out
}

func (c *fakeConn) closes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCalls
}

func newTestRegistry(transform message.Transformer) *Registry {
	return New(transform, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// checkInvariants verifies the three indexes agree with each other.
func checkInvariants(t *testing.T, r *Registry) {
	t.Helper()
	r.mu.RLock()
	defer r.mu.RUnlock()

	inChannels := 0
	for name, set := range r.channels {
		require.NotEmpty(t, set, "empty channel entry %q", name)
		for id, s := range set {
			meta, ok := r.subs[id]
			require.True(t, ok, "channel %q holds unknown id %d", name, id)
			require.Same(t, meta, s)
			require.Equal(t, name, s.channel, "subscriber %d filed under wrong channel", id)
			inChannels++
		}
	}

	inAddresses := 0
	for addr, bound := range r.addresses {
		require.NotEmpty(t, bound, "empty address entry %q", addr)
		require.Len(t, bound, 1, "address %q has more than one live subscriber", addr)
		for id := range bound {
			s, ok := r.subs[id]
			require.True(t, ok, "address %q holds unknown id %d", addr, id)
			require.Equal(t, addr, s.address)
			inAddresses++
		}
	}

	require.Equal(t, len(r.subs), inChannels)
	require.Equal(t, len(r.subs), inAddresses)
}

func msg(kind message.Kind, payload string) message.Message {
	return message.Message{Type: kind, Payload: json.RawMessage(payload)}
}

func TestSubscribeAndBroadcast(t *testing.T) {
	r := newTestRegistry(nil)
	c := newFakeConn()
	r.Subscribe("room", c, "client-1", "10.0.0.1")

	n := r.Broadcast("room", msg(message.KindEvent, `{"x":1}`))

	assert.Equal(t, 1, n)
	got := c.received()
	require.Len(t, got, 1)
	assert.Equal(t, message.KindEvent, got[0].Type)
	assert.JSONEq(t, `{"x":1}`, string(got[0].Payload))
	checkInvariants(t, r)
}

func TestBroadcastToEmptyChannel(t *testing.T) {
	r := newTestRegistry(nil)
	assert.Equal(t, 0, r.Broadcast("nobody", msg(message.KindEvent, `{}`)))
	checkInvariants(t, r)
}

func TestCrossChannelIsolation(t *testing.T) {
	r := newTestRegistry(nil)
	a, b := newFakeConn(), newFakeConn()
	r.Subscribe("a", a, "ca", "10.0.0.1")
	r.Subscribe("b", b, "cb", "10.0.0.2")

	r.Broadcast("a", msg(message.KindEvent, `{}`))

	assert.Len(t, a.received(), 1)
	assert.Empty(t, b.received())
}

func TestSameAddressEvictsPrevious(t *testing.T) {
	r := newTestRegistry(nil)
	first, second := newFakeConn(), newFakeConn()

	firstID := r.Subscribe("room", first, "first", "10.0.0.1")
	r.Subscribe("other", second, "second", "10.0.0.1")

	assert.Equal(t, 1, first.closes(), "evicted connection must be closed")
	assert.Equal(t, 0, second.closes())
	assert.Equal(t, 1, r.Len())

	views := r.ListSubscribers("")
	require.Len(t, views, 1)
	assert.Equal(t, "second", views[0].ClientID)
	assert.NotContains(t, r.ChannelStats(), "room")

	// The evicted record is gone; a late unsubscribe is a no-op.
	r.Unsubscribe("room", firstID)
	assert.Equal(t, 1, r.Len())
	checkInvariants(t, r)
}

func TestEvictionCloseFailureIsSwallowed(t *testing.T) {
	r := newTestRegistry(nil)
	first := newFakeConn()
	first.closeErr = errors.New("already gone")

	r.Subscribe("room", first, "first", "10.0.0.1")
	r.Subscribe("room", newFakeConn(), "second", "10.0.0.1")

	assert.Equal(t, 1, r.Len())
	r.Broadcast("room", msg(message.KindEvent, `{}`))
	assert.Empty(t, first.received())
	checkInvariants(t, r)
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	r := newTestRegistry(nil)
	keep := newFakeConn()
	r.Subscribe("room", keep, "keep", "10.0.0.1")
	id := r.Subscribe("room", newFakeConn(), "drop", "10.0.0.2")

	r.Unsubscribe("room", id)
	before := r.ChannelStats()
	r.Unsubscribe("room", id)
	r.Unsubscribe("room", ID(9999))

	assert.Equal(t, before, r.ChannelStats())
	assert.Equal(t, 1, r.Len())
	checkInvariants(t, r)
}

func TestUnsubscribeWrongChannelIsNoop(t *testing.T) {
	r := newTestRegistry(nil)
	id := r.Subscribe("room", newFakeConn(), "c", "10.0.0.1")

	r.Unsubscribe("elsewhere", id)

	assert.Equal(t, 1, r.Len())
	checkInvariants(t, r)
}

func TestWriteFailureRemovesSubscriber(t *testing.T) {
	r := newTestRegistry(nil)
	bad, good := newFakeConn(), newFakeConn()
	bad.writeErr = errWrite

	r.Subscribe("room", bad, "s1", "10.0.0.1")
	r.Subscribe("room", good, "s2", "10.0.0.2")

	n := r.Broadcast("room", msg(message.KindEvent, `{"n":1}`))
	assert.Equal(t, 1, n)
	assert.Len(t, good.received(), 1)
	assert.Equal(t, 1, r.Len())
	checkInvariants(t, r)

	r.mu.RLock()
	_, bound := r.addresses["10.0.0.1"]
	r.mu.RUnlock()
	assert.False(t, bound, "failed subscriber must leave the address index")

	n = r.Broadcast("room", msg(message.KindEvent, `{"n":2}`))
	assert.Equal(t, 1, n)
	assert.Len(t, good.received(), 2)

	views := r.ListSubscribers("room")
	require.Len(t, views, 1)
	assert.Equal(t, "s2", views[0].ClientID)
}

func TestFullStateIsTransformedForEverySubscriber(t *testing.T) {
	r := newTestRegistry(message.TransformerFor("https://cdn.test"))
	conns := []*fakeConn{newFakeConn(), newFakeConn(), newFakeConn()}
	for i, c := range conns {
		r.Subscribe("board", c, fmt.Sprintf("c%d", i), fmt.Sprintf("10.0.0.%d", i))
	}

	payload := `{"a":"asset://one.png","b":{"c":"asset://two.png"},"d":["asset://three.png"]}`
	r.Broadcast("board", msg(message.KindFullState, payload))

	want := `{"a":"https://cdn.test/one.png","b":{"c":"https://cdn.test/two.png"},"d":["https://cdn.test/three.png"]}`
	for i, c := range conns {
		got := c.received()
		require.Len(t, got, 1, "subscriber %d", i)
		assert.JSONEq(t, want, string(got[0].Payload), "subscriber %d", i)
	}
}

func TestVerbatimKindsAreNotTransformed(t *testing.T) {
	r := newTestRegistry(message.TransformerFor("https://cdn.test"))
	c := newFakeConn()
	r.Subscribe("board", c, "c", "10.0.0.1")

	r.Broadcast("board", msg(message.KindNotice, `{"a":"asset://one.png"}`))

	got := c.received()
	require.Len(t, got, 1)
	assert.JSONEq(t, `{"a":"asset://one.png"}`, string(got[0].Payload))
}

func TestChannelLifecycle(t *testing.T) {
	r := newTestRegistry(nil)
	id := r.Subscribe("X", newFakeConn(), "c1", "10.0.0.1")
	require.Contains(t, r.ChannelStats(), "X")

	r.Unsubscribe("X", id)
	assert.NotContains(t, r.ChannelStats(), "X")

	r.Subscribe("X", newFakeConn(), "c2", "10.0.0.1")
	stats := r.ChannelStats()
	require.Contains(t, stats, "X")
	assert.Equal(t, 1, stats["X"].Count)
	assert.Len(t, stats["X"].Subscribers, 1)
}

func TestListSubscribers(t *testing.T) {
	r := newTestRegistry(nil)
	r.Subscribe("a", newFakeConn(), "a1", "10.0.0.1")
	r.Subscribe("a", newFakeConn(), "a2", "10.0.0.2")
	r.Subscribe("b", newFakeConn(), "b1", "10.0.0.3")

	onlyA := r.ListSubscribers("a")
	require.Len(t, onlyA, 2)
	for _, v := range onlyA {
		assert.Equal(t, "a", v.Channel)
	}

	all := r.ListSubscribers("")
	require.Len(t, all, 3)
	seen := map[string]bool{}
	for _, v := range all {
		assert.False(t, seen[v.ClientID], "duplicate %s", v.ClientID)
		seen[v.ClientID] = true
	}

	assert.Empty(t, r.ListSubscribers("missing"))
}

func TestCloseNotificationUnsubscribes(t *testing.T) {
	r := newTestRegistry(nil)
	c := newFakeConn()
	r.Subscribe("room", c, "c", "10.0.0.1")

	_ = c.Close()

	require.Eventually(t, func() bool { return r.Len() == 0 }, time.Second, 5*time.Millisecond)
	assert.Empty(t, r.ChannelStats())
	checkInvariants(t, r)
}

func TestConnectedAt(t *testing.T) {
	tests := []struct {
		clientID string
		want     *time.Time
	}{
		{"HappyTiger42-1700000000000", ptr(time.UnixMilli(1700000000000).UTC())},
		{"1700000000000", ptr(time.UnixMilli(1700000000000).UTC())},
		{"abc-def", nil},
		{"trailing-", nil},
		{"", nil},
		{"client-0", nil},
	}
	for _, tt := range tests {
		t.Run(tt.clientID, func(t *testing.T) {
			got := ConnectedAt(tt.clientID)
			if tt.want == nil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.True(t, tt.want.Equal(*got))
		})
	}
}

func TestViewsCarryConnectedAt(t *testing.T) {
	r := newTestRegistry(nil)
	r.Subscribe("room", newFakeConn(), "client-1700000000000", "10.0.0.1")
	r.Subscribe("room", newFakeConn(), "no-timestamp", "10.0.0.2")

	views := r.ListSubscribers("room")
	require.Len(t, views, 2)
	assert.NotNil(t, views[0].ConnectedAt)
	assert.Nil(t, views[1].ConnectedAt)
}

func TestRegistryClose(t *testing.T) {
	r := newTestRegistry(nil)
	a, b := newFakeConn(), newFakeConn()
	r.Subscribe("a", a, "a", "10.0.0.1")
	r.Subscribe("b", b, "b", "10.0.0.2")

	r.Close()

	assert.Equal(t, 0, r.Len())
	assert.Equal(t, 1, a.closes())
	assert.Equal(t, 1, b.closes())
	checkInvariants(t, r)
}

func TestRandomOperationsKeepInvariants(t *testing.T) {
	r := newTestRegistry(nil)
	rng := rand.New(rand.NewSource(7))
	channels := []string{"a", "b", "c"}
	addresses := []string{"10.0.0.1", "10.0.0.2", "10.0.0.3", "10.0.0.4"}

	type live struct {
		id      ID
		channel string
		conn    *fakeConn
	}
	var known []live

	for step := 0; step < 500; step++ {
		switch rng.Intn(3) {
		case 0:
			c := newFakeConn()
			if rng.Intn(4) == 0 {
				c.writeErr = errWrite
			}
			ch := channels[rng.Intn(len(channels))]
			id := r.Subscribe(ch, c, fmt.Sprintf("c-%d", step), addresses[rng.Intn(len(addresses))])
			known = append(known, live{id: id, channel: ch, conn: c})
		case 1:
			if len(known) > 0 {
				k := known[rng.Intn(len(known))]
				r.Unsubscribe(k.channel, k.id)
			}
		case 2:
			r.Broadcast(channels[rng.Intn(len(channels))], msg(message.KindStateUpdate, `{"step":1}`))
		}

		checkInvariants(t, r)

		// Every registered record refers to a connection that was not closed.
		r.mu.RLock()
		for _, s := range r.subs {
			assert.Equal(t, 0, s.conn.(*fakeConn).closes(), "live record with closed connection")
		}
		r.mu.RUnlock()
	}
}

func TestConcurrentAccess(t *testing.T) {
	r := newTestRegistry(nil)
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			addr := fmt.Sprintf("10.0.%d.1", i%10)
			c := newFakeConn()
			id := r.Subscribe("room", c, fmt.Sprintf("c%d", i), addr)
			r.Broadcast("room", msg(message.KindEvent, `{}`))
			_ = r.ListSubscribers("")
			_ = r.ChannelStats()
			r.Unsubscribe("room", id)
		}(i)
	}

	wg.Wait()
	checkInvariants(t, r)
	assert.Equal(t, 0, r.Len())
}

func TestConcurrentSameAddressLastWriterWins(t *testing.T) {
	r := newTestRegistry(nil)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r.Subscribe("room", newFakeConn(), fmt.Sprintf("c%d", i), "10.9.9.9")
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, r.Len())
	checkInvariants(t, r)
}

func ptr[T any](v T) *T { return &v }
