package relay

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/statecast/backend/internal/message"
)

// recorder is a Broadcaster that remembers what it was asked to deliver.
type recorder struct {
	mu   sync.Mutex
	got  []envelope
	sent int
}

func (r *recorder) Broadcast(channel string, msg message.Message) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, envelope{Channel: channel, Message: msg})
	return r.sent
}

func (r *recorder) deliveries() []envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]envelope(nil), r.got...)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLocal_PublishBroadcastsSynchronously(t *testing.T) {
	rec := &recorder{sent: 3}
	l := NewLocal(rec)

	n, err := l.Publish(context.Background(), "room", message.Message{Type: message.KindEvent})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	require.Len(t, rec.deliveries(), 1)
	assert.Equal(t, "room", rec.deliveries()[0].Channel)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, l.Run(ctx))
	assert.NoError(t, l.Close())
}

func TestEnvelopeRoundTrip(t *testing.T) {
	msg := message.Message{Type: message.KindFullState, Payload: json.RawMessage(`{"a":1}`)}
	data, err := encodeEnvelope("room.with.dots", msg)
	require.NoError(t, err)

	env, err := decodeEnvelope(data)
	require.NoError(t, err)
	assert.Equal(t, "room.with.dots", env.Channel)
	assert.Equal(t, message.KindFullState, env.Message.Type)

	_, err = decodeEnvelope([]byte(`{"message":{"type":"event"}}`))
	assert.Error(t, err)
	_, err = decodeEnvelope([]byte(`nope`))
	assert.Error(t, err)
}

func TestNew_Backends(t *testing.T) {
	r, err := New(Options{}, &recorder{}, discardLogger())
	require.NoError(t, err)
	assert.IsType(t, &Local{}, r)

	_, err = New(Options{Backend: "carrier-pigeon"}, &recorder{}, discardLogger())
	assert.ErrorIs(t, err, ErrUnknownBackend)

	_, err = New(Options{Backend: BackendRedis, RedisURL: "::not a url"}, &recorder{}, discardLogger())
	assert.Error(t, err)
}

func TestRedisRelay(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}

	rec := &recorder{}
	r := NewRedis(RedisConfig{Client: client, Prefix: "test:statecast:"}, rec, discardLogger())
	defer r.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = r.Run(ctx) }()

	// Publish until the subscription is live; Pub/Sub drops messages sent earlier.
	require.Eventually(t, func() bool {
		if _, err := r.Publish(ctx, "room", message.Message{Type: message.KindNotice}); err != nil {
			return false
		}
		return len(rec.deliveries()) > 0
	}, 5*time.Second, 50*time.Millisecond)

	got := rec.deliveries()[0]
	assert.Equal(t, "room", got.Channel)
	assert.Equal(t, message.KindNotice, got.Message.Type)
}

func TestNATSRelay(t *testing.T) {
	nc, err := nats.Connect(nats.DefaultURL, nats.Timeout(time.Second))
	if err != nil {
		t.Skipf("NATS not available: %v", err)
	}

	rec := &recorder{}
	n := NewNATS(nc, "test.statecast", rec, discardLogger())
	defer n.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = n.Run(ctx) }()

	require.Eventually(t, func() bool {
		if _, err := n.Publish(ctx, "room>*", message.Message{Type: message.KindEvent}); err != nil {
			return false
		}
		return len(rec.deliveries()) > 0
	}, 5*time.Second, 50*time.Millisecond)

	assert.Equal(t, "room>*", rec.deliveries()[0].Channel)
}
