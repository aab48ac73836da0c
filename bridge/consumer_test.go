package bridge

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brightpath/tutorstream/errors"
	"github.com/brightpath/tutorstream/event"
)

// startTestNATS starts an embedded NATS server and returns a connected client.
func startTestNATS(t *testing.T) *nats.Conn {
	t.Helper()
	srv, err := natsserver.NewServer(&natsserver.Options{Host: "127.0.0.1", Port: -1})
	require.NoError(t, err)
	srv.Start()
	t.Cleanup(srv.Shutdown)
	require.True(t, srv.ReadyForConnections(5*time.Second), "embedded NATS not ready")

	conn, err := nats.Connect(srv.ClientURL())
	require.NoError(t, err)
	t.Cleanup(conn.Close)
	return conn
}

// recordingPublisher collects published events for assertions.
type recordingPublisher struct {
	mu     sync.Mutex
	events []*event.Event
}

func (p *recordingPublisher) Publish(ev *event.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) snapshot() []*event.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*event.Event(nil), p.events...)
}

func TestConsumerDeliversTransformedEvents(t *testing.T) {
	conn := startTestNATS(t)
	pub := &recordingPublisher{}

	c, err := NewConsumer(slog.Default(), conn, New(slog.Default()), pub)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	require.NoError(t, c.Subscribe(context.Background(), "tutoring.events.>"))

	payload := []byte(`{"id":"evt-9","source":"mastery-service",` +
		`"type":"com.brightpath.tutoring.mastery.updated","specversion":"1.0",` +
		`"data":{"studentId":"alice","skill":"algebra","score":0.9}}`)
	require.NoError(t, conn.Publish("tutoring.events.mastery", payload))
	require.NoError(t, conn.Flush())

	require.Eventually(t, func() bool {
		return len(pub.snapshot()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	got := pub.snapshot()[0]
	assert.Equal(t, "evt-9", got.ID)
	assert.Equal(t, event.KindMasteryUpdated, got.Kind)
	assert.Equal(t, "alice", got.Data["studentId"])
}

func TestConsumerSkipsBadMessages(t *testing.T) {
	conn := startTestNATS(t)
	pub := &recordingPublisher{}

	c, err := NewConsumer(slog.Default(), conn, New(slog.Default()), pub)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	require.NoError(t, c.Subscribe(context.Background(), "tutoring.events.>"))

	// Garbage, an unmapped type, then a valid envelope. Only the valid one
	// comes out and the subscription survives the first two.
	require.NoError(t, conn.Publish("tutoring.events.a", []byte(`{not json`)))
	require.NoError(t, conn.Publish("tutoring.events.b",
		[]byte(`{"id":"x","source":"s","type":"com.other.thing","specversion":"1.0","data":{}}`)))
	require.NoError(t, conn.Publish("tutoring.events.c",
		[]byte(`{"id":"evt-ok","source":"notice-service",`+
			`"type":"com.brightpath.platform.notice","specversion":"1.0","data":{"msg":"hi"}}`)))
	require.NoError(t, conn.Flush())

	require.Eventually(t, func() bool {
		return len(pub.snapshot()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "evt-ok", pub.snapshot()[0].ID)
}

func TestConsumerSubscribeValidation(t *testing.T) {
	conn := startTestNATS(t)
	pub := &recordingPublisher{}
	b := New(slog.Default())

	_, err := NewConsumer(slog.Default(), nil, b, pub)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))

	_, err = NewConsumer(slog.Default(), conn, nil, pub)
	require.Error(t, err)

	_, err = NewConsumer(slog.Default(), conn, b, nil)
	require.Error(t, err)

	c, err := NewConsumer(slog.Default(), conn, b, pub)
	require.NoError(t, err)
	err = c.Subscribe(context.Background(), "")
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestConsumerCloseUnsubscribes(t *testing.T) {
	conn := startTestNATS(t)
	pub := &recordingPublisher{}

	c, err := NewConsumer(slog.Default(), conn, New(slog.Default()), pub)
	require.NoError(t, err)
	require.NoError(t, c.Subscribe(context.Background(), "tutoring.events.>"))

	require.NoError(t, c.Close())

	payload := []byte(`{"id":"evt-late","source":"s",` +
		`"type":"com.brightpath.platform.notice","specversion":"1.0","data":{}}`)
	require.NoError(t, conn.Publish("tutoring.events.x", payload))
	require.NoError(t, conn.Flush())

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, pub.snapshot())

	// Closing twice is fine.
	require.NoError(t, c.Close())
}
