package connection

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brightpath/tutorstream/errors"
	"github.com/brightpath/tutorstream/pkg/clock"
	"github.com/brightpath/tutorstream/pkg/retry"
)

// fakeDialer scripts dial outcomes for the manager under test.
type fakeDialer struct {
	mu          sync.Mutex
	dials       int
	lastEventID string
	fail        bool
	failOnce    bool
	streams     chan io.ReadCloser
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{streams: make(chan io.ReadCloser, 8)}
}

func (d *fakeDialer) Dial(ctx context.Context, lastEventID string) (io.ReadCloser, error) {
	d.mu.Lock()
	d.dials++
	d.lastEventID = lastEventID
	fail := d.fail
	if d.failOnce {
		d.fail = false
		d.failOnce = false
	}
	d.mu.Unlock()

	if fail {
		return nil, errors.WrapTransient(fmt.Errorf("connection refused"), "fakeDialer", "Dial", "dial")
	}

	select {
	case s := <-d.streams:
		return s, nil
	case <-ctx.Done():
		return nil, errors.WrapTransient(ctx.Err(), "fakeDialer", "Dial", "dial")
	}
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func fastRetry(attempts int) retry.Config {
	return retry.Config{
		MaxAttempts:  attempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     2 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestConnectConsumesFrames(t *testing.T) {
	dialer := newFakeDialer()
	pr, pw := io.Pipe()
	dialer.streams <- pr

	var mu sync.Mutex
	var got []Message
	handler := func(msg Message) {
		mu.Lock()
		got = append(got, msg)
		mu.Unlock()
	}

	m, err := New(slog.Default(), dialer, handler, WithRetryConfig(fastRetry(10)))
	require.NoError(t, err)
	require.NoError(t, m.Connect(context.Background()))
	defer m.Disconnect()

	require.Eventually(t, func() bool {
		return m.State().State == StateConnected
	}, time.Second, 5*time.Millisecond)

	_, err = pw.Write([]byte("id:7\nevent:mastery-updated\ndata:{\"score\":0.9}\n\n"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	msg := got[0]
	mu.Unlock()
	assert.Equal(t, "7", msg.ID)
	assert.Equal(t, "mastery-updated", msg.Event)
	assert.Equal(t, `{"score":0.9}`, msg.Data)

	snap := m.State()
	assert.False(t, snap.LastEventAt.IsZero())
	pw.Close()
}

func TestConnectIsIdempotent(t *testing.T) {
	dialer := newFakeDialer()
	pr, _ := io.Pipe()
	dialer.streams <- pr

	m, err := New(slog.Default(), dialer, nil, WithRetryConfig(fastRetry(10)))
	require.NoError(t, err)
	require.NoError(t, m.Connect(context.Background()))
	defer m.Disconnect()

	require.Eventually(t, func() bool {
		return m.State().State == StateConnected
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, m.Connect(context.Background()))
	assert.Equal(t, 1, dialer.dialCount(), "second Connect must not open a second stream")
}

func TestReconnectAttemptsExhaust(t *testing.T) {
	dialer := newFakeDialer()
	dialer.fail = true

	m, err := New(slog.Default(), dialer, nil, WithRetryConfig(fastRetry(3)))
	require.NoError(t, err)
	require.NoError(t, m.Connect(context.Background()))
	defer m.Disconnect()

	require.Eventually(t, func() bool {
		return m.State().State == StateError
	}, time.Second, 5*time.Millisecond)

	snap := m.State()
	assert.Equal(t, 3, snap.ReconnectAttempts)
	assert.ErrorIs(t, snap.LastError, errors.ErrRetriesExhausted)
	assert.Equal(t, 3, dialer.dialCount(), "no dials after exhaustion")
}

func TestExhaustionStopsSchedulingTimers(t *testing.T) {
	dialer := newFakeDialer()
	dialer.fail = true
	fake := clock.NewFake(time.Unix(0, 0))

	m, err := New(slog.Default(), dialer, nil,
		WithClock(fake),
		WithRetryConfig(retry.Config{
			MaxAttempts:  2,
			InitialDelay: time.Second,
			MaxDelay:     30 * time.Second,
			Multiplier:   2.0,
		}))
	require.NoError(t, err)
	require.NoError(t, m.Connect(context.Background()))
	defer m.Disconnect()

	// First failure schedules a backoff timer.
	require.Eventually(t, func() bool {
		return fake.PendingTimers() == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, StateReconnecting, m.State().State)

	fake.Advance(2 * time.Second)

	// Second failure exhausts the budget: terminal state, no new timer.
	require.Eventually(t, func() bool {
		return m.State().State == StateError
	}, time.Second, 5*time.Millisecond)
	assert.Zero(t, fake.PendingTimers(), "exhausted manager must not schedule further attempts")
}

func TestAttemptCounterResetsOnSuccess(t *testing.T) {
	dialer := newFakeDialer()
	dialer.fail = true
	dialer.failOnce = true
	pr, _ := io.Pipe()
	dialer.streams <- pr

	m, err := New(slog.Default(), dialer, nil, WithRetryConfig(fastRetry(10)))
	require.NoError(t, err)
	require.NoError(t, m.Connect(context.Background()))
	defer m.Disconnect()

	require.Eventually(t, func() bool {
		return m.State().State == StateConnected
	}, time.Second, 5*time.Millisecond)

	assert.Zero(t, m.State().ReconnectAttempts,
		"counter resets on the connected transition")
}

func TestDisconnectResetsState(t *testing.T) {
	dialer := newFakeDialer()
	dialer.fail = true

	m, err := New(slog.Default(), dialer, nil, WithRetryConfig(fastRetry(5)))
	require.NoError(t, err)
	require.NoError(t, m.Connect(context.Background()))

	require.Eventually(t, func() bool {
		return m.State().ReconnectAttempts >= 1
	}, time.Second, 5*time.Millisecond)

	m.Disconnect()
	snap := m.State()
	assert.Equal(t, StateDisconnected, snap.State)
	assert.Zero(t, snap.ReconnectAttempts)
	assert.NoError(t, snap.LastError)

	// Idempotent.
	m.Disconnect()
}

func TestReconnectAfterExhaustionRedials(t *testing.T) {
	dialer := newFakeDialer()
	dialer.fail = true

	m, err := New(slog.Default(), dialer, nil, WithRetryConfig(fastRetry(3)))
	require.NoError(t, err)
	require.NoError(t, m.Connect(context.Background()))
	defer m.Disconnect()

	require.Eventually(t, func() bool {
		return m.State().State == StateError
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, 3, dialer.dialCount())

	// The upstream recovers; a manual Reconnect restores the full budget
	// and brings the stream back without an intervening Disconnect.
	dialer.mu.Lock()
	dialer.fail = false
	dialer.mu.Unlock()
	pr, pw := io.Pipe()
	dialer.streams <- pr
	defer pw.Close()

	m.Reconnect()

	require.Eventually(t, func() bool {
		return m.State().State == StateConnected
	}, time.Second, 5*time.Millisecond)
	assert.Greater(t, dialer.dialCount(), 3)
	assert.Zero(t, m.State().ReconnectAttempts)
}

func TestConnectAfterExhaustionRestartsLoop(t *testing.T) {
	dialer := newFakeDialer()
	dialer.fail = true

	m, err := New(slog.Default(), dialer, nil, WithRetryConfig(fastRetry(2)))
	require.NoError(t, err)
	require.NoError(t, m.Connect(context.Background()))
	defer m.Disconnect()

	require.Eventually(t, func() bool {
		return m.State().State == StateError
	}, time.Second, 5*time.Millisecond)

	dialer.mu.Lock()
	dialer.fail = false
	dialer.mu.Unlock()
	pr, pw := io.Pipe()
	dialer.streams <- pr
	defer pw.Close()

	require.NoError(t, m.Connect(context.Background()))

	require.Eventually(t, func() bool {
		return m.State().State == StateConnected
	}, time.Second, 5*time.Millisecond)
}

func TestDisconnectInterruptsBlockedRead(t *testing.T) {
	dialer := newFakeDialer()
	pr, _ := io.Pipe() // reader blocks until closed
	dialer.streams <- pr

	m, err := New(slog.Default(), dialer, nil, WithRetryConfig(fastRetry(10)))
	require.NoError(t, err)
	require.NoError(t, m.Connect(context.Background()))

	require.Eventually(t, func() bool {
		return m.State().State == StateConnected
	}, time.Second, 5*time.Millisecond)

	finished := make(chan struct{})
	go func() {
		m.Disconnect()
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("Disconnect must not wait on a blocked stream read")
	}
	assert.Equal(t, StateDisconnected, m.State().State)
}

func TestUnauthorizedDialIsTerminal(t *testing.T) {
	dialer := &unauthorizedDialer{}

	m, err := New(slog.Default(), dialer, nil, WithRetryConfig(fastRetry(10)))
	require.NoError(t, err)
	require.NoError(t, m.Connect(context.Background()))
	defer m.Disconnect()

	require.Eventually(t, func() bool {
		return m.State().State == StateError
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, dialer.dials, "auth failures are not retried")
}

type unauthorizedDialer struct {
	dials int
}

func (d *unauthorizedDialer) Dial(context.Context, string) (io.ReadCloser, error) {
	d.dials++
	return nil, errors.WrapUnauthorized(errors.ErrUnauthorized, "unauthorizedDialer", "Dial", "authenticate")
}

func TestLastEventIDSentOnRedial(t *testing.T) {
	dialer := newFakeDialer()
	first := io.NopCloser(strings.NewReader("id:41\ndata:one\n\nid:42\ndata:two\n\n"))
	dialer.streams <- first
	pr, _ := io.Pipe()
	dialer.streams <- pr

	m, err := New(slog.Default(), dialer, nil, WithRetryConfig(fastRetry(10)))
	require.NoError(t, err)
	require.NoError(t, m.Connect(context.Background()))
	defer m.Disconnect()

	// First stream ends after two frames; redial must carry the last ID.
	require.Eventually(t, func() bool {
		return dialer.dialCount() == 2
	}, time.Second, 5*time.Millisecond)

	dialer.mu.Lock()
	lastID := dialer.lastEventID
	dialer.mu.Unlock()
	assert.Equal(t, "42", lastID)
}

func TestStateStrings(t *testing.T) {
	assert.Equal(t, "disconnected", StateDisconnected.String())
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "connected", StateConnected.String())
	assert.Equal(t, "reconnecting", StateReconnecting.String())
	assert.Equal(t, "error", StateError.String())
	assert.Equal(t, "unknown", State(99).String())
}
