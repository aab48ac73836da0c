package router

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brightpath/tutorstream/event"
	"github.com/brightpath/tutorstream/pkg/clock"
)

func newTestRouter(t *testing.T, opts ...Option) *Router {
	t.Helper()
	r, err := New(slog.Default(), opts...)
	require.NoError(t, err)
	return r
}

func masteryEvent(studentID string) *event.Event {
	data := map[string]any{"score": 0.8}
	if studentID != "" {
		data["studentId"] = studentID
	}
	return event.New(event.KindMasteryUpdated, data)
}

func TestPublishDeliversToListener(t *testing.T) {
	r := newTestRouter(t)

	var received []*event.Event
	r.Subscribe(SubscribeOptions{}, func(ev *event.Event) {
		received = append(received, ev)
	})

	ev := masteryEvent("s1")
	require.NoError(t, r.Publish(ev))

	require.Len(t, received, 1)
	assert.Equal(t, ev.ID, received[0].ID)
	assert.Equal(t, uint64(1), r.EventCount())
}

func TestPublishRejectsMalformedWithoutCounting(t *testing.T) {
	r := newTestRouter(t)

	called := false
	r.Subscribe(SubscribeOptions{}, func(*event.Event) { called = true })

	bad := &event.Event{Kind: event.KindUnknown}
	err := r.Publish(bad)

	require.Error(t, err)
	assert.False(t, called, "listeners must not see rejected events")
	assert.Equal(t, uint64(0), r.EventCount())
	assert.Empty(t, r.Events())
}

func TestFanOutPreservesRegistrationOrder(t *testing.T) {
	r := newTestRouter(t)

	var order []int
	for i := 0; i < 5; i++ {
		i := i
		r.Subscribe(SubscribeOptions{}, func(*event.Event) {
			order = append(order, i)
		})
	}

	require.NoError(t, r.Publish(masteryEvent("s1")))
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestListenerPanicDoesNotStopDelivery(t *testing.T) {
	r := newTestRouter(t)

	var after bool
	r.Subscribe(SubscribeOptions{}, func(*event.Event) {
		panic("listener exploded")
	})
	r.Subscribe(SubscribeOptions{}, func(*event.Event) {
		after = true
	})

	require.NoError(t, r.Publish(masteryEvent("s1")))
	assert.True(t, after, "listeners after a panicking one must still run")
}

func TestUnsubscribeDuringPublishIsSafe(t *testing.T) {
	r := newTestRouter(t)

	var tokenB Token
	var bCalls int

	r.Subscribe(SubscribeOptions{}, func(*event.Event) {
		r.Unsubscribe(tokenB)
	})
	tokenB = r.Subscribe(SubscribeOptions{}, func(*event.Event) {
		bCalls++
	})

	require.NoError(t, r.Publish(masteryEvent("s1")))
	assert.Zero(t, bCalls, "listener removed mid-publish must be skipped")
	assert.Equal(t, 1, r.ListenerCount())
}

func TestUnsubscribeUnknownToken(t *testing.T) {
	r := newTestRouter(t)
	assert.False(t, r.Unsubscribe(Token(42)))
}

func TestTopicAndPriorityFilters(t *testing.T) {
	r := newTestRouter(t)

	var masteryCount, highCount int
	r.Subscribe(SubscribeOptions{Topics: []string{"mastery-updated"}}, func(*event.Event) {
		masteryCount++
	})
	r.Subscribe(SubscribeOptions{Priorities: []event.Priority{event.PriorityHigh}}, func(*event.Event) {
		highCount++
	})

	require.NoError(t, r.Publish(masteryEvent("s1")))
	require.NoError(t, r.Publish(event.New(event.KindSystemError, map[string]any{},
		event.WithPriority(event.PriorityHigh))))

	assert.Equal(t, 1, masteryCount)
	assert.Equal(t, 1, highCount)
}

func TestScopeFiltering(t *testing.T) {
	r := newTestRouter(t)
	r.SetScope(ScopePolicy{StudentID: "alice", BroadcastUnscoped: true})

	var seen []string
	r.Subscribe(SubscribeOptions{}, func(ev *event.Event) {
		seen = append(seen, ev.ID)
	})

	mine := masteryEvent("alice")
	other := masteryEvent("bob")
	broadcast := masteryEvent("")

	require.NoError(t, r.Publish(mine))
	require.NoError(t, r.Publish(other))
	require.NoError(t, r.Publish(broadcast))

	assert.Equal(t, []string{mine.ID, broadcast.ID}, seen)
}

func TestScopeWithoutBroadcastDropsUnscoped(t *testing.T) {
	r := newTestRouter(t)
	r.SetScope(ScopePolicy{StudentID: "alice", BroadcastUnscoped: false})

	var count int
	r.Subscribe(SubscribeOptions{}, func(*event.Event) { count++ })

	require.NoError(t, r.Publish(masteryEvent("")))
	assert.Zero(t, count)
}

func TestClearScopeKeepsBroadcastPolicy(t *testing.T) {
	r := newTestRouter(t)
	r.SetScope(ScopePolicy{StudentID: "alice", BroadcastUnscoped: false})
	r.ClearScope()

	scope := r.Scope()
	assert.Empty(t, scope.StudentID)
	assert.False(t, scope.BroadcastUnscoped)
}

func TestBufferEvictsOldestAtCapacity(t *testing.T) {
	r := newTestRouter(t, WithBufferCapacity(3))

	var ids []string
	for i := 0; i < 5; i++ {
		ev := masteryEvent("s1")
		ids = append(ids, ev.ID)
		require.NoError(t, r.Publish(ev))
	}

	events := r.Events()
	require.Len(t, events, 3)
	assert.Equal(t, ids[2], events[0].ID)
	assert.Equal(t, ids[4], events[2].ID)
	assert.Equal(t, uint64(5), r.EventCount(), "eviction does not decrement the total")
}

func TestEventsByTopicAndPriority(t *testing.T) {
	r := newTestRouter(t)

	require.NoError(t, r.Publish(masteryEvent("s1")))
	require.NoError(t, r.Publish(event.New(event.KindSystemNotice, map[string]any{},
		event.WithPriority(event.PriorityCritical))))

	assert.Len(t, r.EventsByTopic("mastery-updated"), 1)
	assert.Len(t, r.EventsByTopic("system"), 1)
	assert.Empty(t, r.EventsByTopic("feedback-received"))

	assert.Len(t, r.EventsByPriority(event.PriorityCritical), 1)
	assert.Len(t, r.EventsByPriority(event.PriorityNormal), 1)
}

func TestHealthWithinWindow(t *testing.T) {
	fake := clock.NewFake(time.Unix(1000, 0))
	r := newTestRouter(t, WithClock(fake), WithHealthWindow(60*time.Second))

	h := r.GetConnectionHealth()
	assert.False(t, h.IsHealthy, "no events ever means unhealthy")
	assert.Zero(t, h.EventCount)

	require.NoError(t, r.Publish(masteryEvent("s1")))
	h = r.GetConnectionHealth()
	assert.True(t, h.IsHealthy)
	assert.Equal(t, uint64(1), h.EventCount)

	fake.Advance(61 * time.Second)
	h = r.GetConnectionHealth()
	assert.False(t, h.IsHealthy, "stale event window means unhealthy even while connected")
	assert.Equal(t, uint64(1), h.EventCount)
}

func TestResetClearsState(t *testing.T) {
	r := newTestRouter(t)
	r.Subscribe(SubscribeOptions{}, func(*event.Event) {})
	require.NoError(t, r.Publish(masteryEvent("s1")))

	r.Reset()

	assert.Zero(t, r.EventCount())
	assert.Zero(t, r.ListenerCount())
	assert.Empty(t, r.Events())
	assert.False(t, r.GetConnectionHealth().IsHealthy)
}
