package runtime

import (
	"context"
	stderrors "errors"
	"live-queue/domain"
	"live-queue/domain/event"
	"live-queue/errors"
	"live-queue/mocks"
	"live-queue/observability"
	"live-queue/runtime/workers"
	"log/slog"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func newTestHub(opts ...HubOption) (*Hub, *Registry, *observability.Metrics) {
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	registry := NewRegistry(log)
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	supervisor := workers.NewSupervisor(log, 10*time.Millisecond)
	opts = append([]HubOption{WithClock(func() time.Time { return t0 })}, opts...)
	return NewHub(log, registry, supervisor, metrics, 16, 100*time.Millisecond, opts...), registry, metrics
}

func mutation(t event.Type, message string) event.Event {
	return event.New(t, message, domain.Question{ID: message, Content: message}, "Alice", t0)
}

func TestHub_EndToEnd_TwoUsers(t *testing.T) {
	req := require.New(t)
	hub, registry, _ := newTestHub()
	sinkA, sinkB := &recordingSink{}, &recordingSink{}

	// Given user A connects while nobody else is online
	req.True(hub.Join(connection("a", alice, 0), sinkA))

	// Then A gets only its roster and no joined event
	req.Equal(1, registry.Count())
	req.Empty(sinkA.ofType(event.UserJoined))
	rosters := sinkA.ofType(event.RosterSnapshot)
	req.Len(rosters, 1)
	req.Equal(event.Roster{Users: []domain.OnlineUser{alice.Online()}, Count: 1}, rosters[0].Payload)

	// When user B connects
	req.True(hub.Join(connection("b", bob, time.Second), sinkB))

	// Then A receives exactly one user-joined for B
	req.Equal(2, registry.Count())
	joined := sinkA.ofType(event.UserJoined)
	req.Len(joined, 1)
	req.Equal(event.Presence{User: bob.Online()}, joined[0].Payload)
	req.Equal("Bob connected", joined[0].Message)

	// And B receives a roster with A and B, and no joined event about itself
	req.Empty(sinkB.ofType(event.UserJoined))
	rosters = sinkB.ofType(event.RosterSnapshot)
	req.Len(rosters, 1)
	req.Equal(event.Roster{Users: []domain.OnlineUser{alice.Online(), bob.Online()}, Count: 2}, rosters[0].Payload)

	// When A publishes an item-created event
	created := mutation(event.ItemCreated, "first question")
	req.Equal(2, hub.Broadcast(created))

	// Then both connections receive it
	req.Equal([]event.Event{created}, sinkA.ofType(event.ItemCreated))
	req.Equal([]event.Event{created}, sinkB.ofType(event.ItemCreated))

	// When B disconnects
	req.True(hub.Leave("b"))

	// Then A receives exactly one user-left for B
	left := sinkA.ofType(event.UserLeft)
	req.Len(left, 1)
	req.Equal(event.Presence{User: bob.Online()}, left[0].Payload)
	req.Empty(sinkB.ofType(event.UserLeft))
	req.Equal(1, registry.Count())
}

func TestHub_MultiDevice(t *testing.T) {
	req := require.New(t)
	hub, _, _ := newTestHub()
	laptop, phone, observer := &recordingSink{}, &recordingSink{}, &recordingSink{}

	req.True(hub.Join(connection("observer", bob, 0), observer))
	req.True(hub.Join(connection("laptop", alice, time.Second), laptop))

	// When Alice opens a second connection
	req.True(hub.Join(connection("phone", alice, 2*time.Second), phone))

	// Then Bob was told about Alice only once
	req.Len(observer.ofType(event.UserJoined), 1)

	// And the roster lists Alice once
	roster := phone.ofType(event.RosterSnapshot)[0].Payload.(event.Roster)
	req.Equal(2, roster.Count)

	// When a broadcast happens both connections of Alice observe it
	updated := mutation(event.ItemUpdated, "edited")
	req.Equal(3, hub.Broadcast(updated))
	req.Len(laptop.ofType(event.ItemUpdated), 1)
	req.Len(phone.ofType(event.ItemUpdated), 1)

	// When one connection closes Alice is still online
	req.True(hub.Leave("laptop"))
	req.Empty(observer.ofType(event.UserLeft))

	// When the last one closes Bob is told exactly once
	req.True(hub.Leave("phone"))
	req.Len(observer.ofType(event.UserLeft), 1)
}

func TestHub_Broadcast_FailingRecipientIsIsolated(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	hub, _, metrics := newTestHub()

	first, last := &recordingSink{}, &recordingSink{}
	broken := mocks.NewMockEventSink(ctrl)
	// Join delivers user-joined to the broken sink twice and its own roster once
	broken.EXPECT().Consume(gomock.Any(), gomock.Any()).Return(errors.ErrConnectionClosed).AnyTimes()

	req.True(hub.Join(connection("c1", alice, 0), first))
	req.True(hub.Join(connection("c2", bob, time.Second), broken))
	req.True(hub.Join(connection("c3", carol, 2*time.Second), last))

	// When an event is broadcast with the failing recipient iterated in between
	created := mutation(event.ItemCreated, "isolated")
	delivered := hub.Broadcast(created)

	// Then both healthy recipients still got it
	req.Equal(2, delivered)
	req.Equal([]event.Event{created}, first.ofType(event.ItemCreated))
	req.Equal([]event.Event{created}, last.ofType(event.ItemCreated))
	req.Equal(1.0, testutil.ToFloat64(metrics.DeliveryFailures.WithLabelValues(string(event.ItemCreated))))
	req.Equal(2.0, testutil.ToFloat64(metrics.Deliveries.WithLabelValues(string(event.ItemCreated))))
}

func TestHub_Broadcast_PanickingRecipientIsIsolated(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	hub, _, _ := newTestHub()

	healthy := &recordingSink{}
	panicking := mocks.NewMockEventSink(ctrl)
	panicking.EXPECT().Consume(gomock.Any(), gomock.Any()).DoAndReturn(
		func(context.Context, event.Event) error { panic("boom") }).AnyTimes()

	req.True(hub.Join(connection("c1", alice, 0), panicking))
	req.True(hub.Join(connection("c2", bob, time.Second), healthy))

	req.Equal(1, hub.Broadcast(mutation(event.ItemDeleted, "gone")))
	req.Len(healthy.ofType(event.ItemDeleted), 1)
}

func TestHub_RelayTyping_NeverReachesSender(t *testing.T) {
	req := require.New(t)
	hub, _, _ := newTestHub()
	typist, otherTab, listener := &recordingSink{}, &recordingSink{}, &recordingSink{}

	req.True(hub.Join(connection("typist", alice, 0), typist))
	req.True(hub.Join(connection("other-tab", alice, time.Second), otherTab))
	req.True(hub.Join(connection("listener", bob, 2*time.Second), listener))

	// When Alice starts then stops typing
	req.NoError(hub.RelayTyping("typist", true))
	req.NoError(hub.RelayTyping("typist", false))

	// Then the sender never sees its own signal
	req.Empty(typist.ofType(event.TypingSignal))

	// And everybody else sees both, in order, without debounce
	signals := listener.ofType(event.TypingSignal)
	req.Len(signals, 2)
	req.Equal(event.Typing{UserID: alice.ID, UserName: alice.Name, IsTyping: true, At: t0}, signals[0].Payload)
	req.Equal(event.Typing{UserID: alice.ID, UserName: alice.Name, IsTyping: false, At: t0}, signals[1].Payload)
	req.Len(otherTab.ofType(event.TypingSignal), 2)
}

func TestHub_RelayTyping_UnknownConnectionFailsClosed(t *testing.T) {
	req := require.New(t)
	hub, _, _ := newTestHub()
	listener := &recordingSink{}
	req.True(hub.Join(connection("listener", bob, 0), listener))
	req.True(hub.Join(connection("gone", alice, time.Second), &recordingSink{}))
	req.True(hub.Leave("gone"))

	err := hub.RelayTyping("gone", true)

	req.ErrorIs(err, errors.ErrUnknownConnection)
	req.Empty(listener.ofType(event.TypingSignal))
}

func TestHub_JoinTwiceAndLeaveUnknownAreNoops(t *testing.T) {
	req := require.New(t)
	hub, registry, _ := newTestHub()
	observer, sink := &recordingSink{}, &recordingSink{}

	req.True(hub.Join(connection("observer", bob, 0), observer))
	req.True(hub.Join(connection("c1", alice, time.Second), sink))

	req.False(hub.Join(connection("c1", alice, 2*time.Second), sink))
	req.False(hub.Leave("never-registered"))
	req.True(hub.Leave("c1"))
	req.False(hub.Leave("c1"))

	req.Len(observer.ofType(event.UserJoined), 1)
	req.Len(observer.ofType(event.UserLeft), 1)
	req.Len(sink.ofType(event.RosterSnapshot), 1)
	req.Equal(1, registry.Count())
}

func TestHub_RosterAndHeartbeat(t *testing.T) {
	req := require.New(t)
	hub, _, _ := newTestHub()
	sinkA, sinkB := &recordingSink{}, &recordingSink{}
	req.True(hub.Join(connection("a", alice, 0), sinkA))
	req.True(hub.Join(connection("b", bob, time.Second), sinkB))

	req.NoError(hub.Roster("a"))
	req.NoError(hub.Heartbeat("a"))

	rosters := sinkA.ofType(event.RosterSnapshot)
	req.Len(rosters, 2)
	req.Equal(2, rosters[1].Payload.(event.Roster).Count)
	req.Len(sinkA.ofType(event.HeartbeatAck), 1)
	req.Empty(sinkB.ofType(event.HeartbeatAck))

	req.ErrorIs(hub.Roster("unknown"), errors.ErrUnknownConnection)
	req.ErrorIs(hub.Heartbeat("unknown"), errors.ErrUnknownConnection)

	stats := hub.Stats()
	req.Equal(2, stats.Connections)
	req.Equal(2, stats.OnlineUsers)
}

func TestHub_Publish_DeliversInOrder(t *testing.T) {
	req := require.New(t)
	hub, _, metrics := newTestHub()
	sinkA, sinkB := &recordingSink{}, &recordingSink{}
	req.True(hub.Join(connection("a", alice, 0), sinkA))
	req.True(hub.Join(connection("b", bob, time.Second), sinkB))

	var published []event.Event
	for _, msg := range []string{"one", "two", "three", "four"} {
		evt := mutation(event.ItemCreated, msg)
		published = append(published, evt)
		// Publishing before Start only buffers
		req.NoError(hub.Publish(context.Background(), evt))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- hub.Start(ctx) }()

	req.Eventually(func() bool {
		return len(sinkB.ofType(event.ItemCreated)) == len(published)
	}, time.Second, 5*time.Millisecond)
	req.Equal(published, sinkA.ofType(event.ItemCreated))
	req.Equal(published, sinkB.ofType(event.ItemCreated))
	req.Equal(4.0, testutil.ToFloat64(metrics.EventsPublished.WithLabelValues(string(event.ItemCreated))))

	hub.Stop()
	select {
	case err := <-done:
		req.NoError(err)
	case <-time.After(time.Second):
		req.Fail("Hub did not stop at time")
	}
	req.ErrorIs(hub.Publish(context.Background(), mutation(event.ItemCreated, "late")), errors.ErrHubStopped)
	req.ErrorIs(hub.Start(context.Background()), errors.ErrHubStopped)
}

func TestHub_Publish_WithModeration(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	moderator := mocks.NewMockModerator(ctrl)
	moderator.EXPECT().Censor("you idiot").Return("you *****", []string{"idiot"})

	hub, _, _ := newTestHub(WithModeration(moderator), WithMetricInterval(5*time.Millisecond))
	sink := &recordingSink{}
	req.True(hub.Join(connection("a", alice, 0), sink))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = hub.Start(ctx) }()
	defer hub.Stop()

	evt := event.New(event.ItemCreated, "Alice created a new question", domain.Question{ID: "q1", Content: "you idiot"}, "Alice", t0)
	req.NoError(hub.Publish(ctx, evt))

	req.Eventually(func() bool {
		return len(sink.ofType(event.ItemCreated)) == 1
	}, time.Second, 5*time.Millisecond)
	got := sink.ofType(event.ItemCreated)[0]
	req.Equal(evt.ID, got.ID)
	req.Equal("you *****", got.Payload.(domain.Question).Content)
}

func TestHub_Publish_RejectsNonMutationEvents(t *testing.T) {
	req := require.New(t)
	hub, _, _ := newTestHub()

	err := hub.Publish(context.Background(), event.NewHeartbeatAck(t0))

	req.ErrorIs(err, errors.ErrUnknownEventType)
}

func TestHub_Publish_HonoursContextWhenQueueIsFull(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	hub := NewHub(log, NewRegistry(log), workers.NewSupervisor(log, time.Millisecond),
		observability.NewMetrics(prometheus.NewRegistry()), 1, time.Millisecond)

	req.NoError(hub.Publish(context.Background(), mutation(event.ItemCreated, "fills the queue")))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := hub.Publish(ctx, mutation(event.ItemCreated, "waits"))

	req.ErrorIs(err, context.DeadlineExceeded)
}

func TestHub_Publish_FailsOnceStartReturnsOnCancelledContext(t *testing.T) {
	req := require.New(t)
	hub, _, _ := newTestHub()
	sink := &recordingSink{}
	req.True(hub.Join(connection("a", alice, 0), sink))

	// Given a hub whose context is cancelled without Stop being called
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- hub.Start(ctx) }()
	req.NoError(hub.Publish(context.Background(), mutation(event.ItemCreated, "before")))
	cancel()
	select {
	case err := <-done:
		req.NoError(err)
	case <-time.After(time.Second):
		req.Fail("Hub did not stop at time")
	}

	// When a mutation is published afterwards
	err := hub.Publish(context.Background(), mutation(event.ItemCreated, "after"))

	// Then it is refused instead of silently queued
	req.ErrorIs(err, errors.ErrHubStopped)
	created := sink.ofType(event.ItemCreated)
	req.Len(created, 1)
	req.Equal("before", created[0].Message)

	// And the hub cannot be started a second time
	req.ErrorIs(hub.Start(context.Background()), errors.ErrHubStopped)
}

func TestHub_Start_DeliversEventsBufferedAtCancellation(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	moderator := mocks.NewMockModerator(ctrl)
	moderator.EXPECT().Censor(gomock.Any()).DoAndReturn(func(text string) (string, []string) {
		return text, nil
	}).AnyTimes()

	hub, _, _ := newTestHub(WithModeration(moderator))
	sink := &recordingSink{}
	req.True(hub.Join(connection("a", alice, 0), sink))

	// Given events queued before a Start whose context is already cancelled
	var published []event.Event
	for _, msg := range []string{"one", "two", "three"} {
		evt := mutation(event.ItemCreated, msg)
		published = append(published, evt)
		req.NoError(hub.Publish(context.Background(), evt))
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// When Start returns
	req.NoError(hub.Start(ctx))

	// Then every accepted event was delivered, in order
	req.Equal(published, sink.ofType(event.ItemCreated))
	req.ErrorIs(hub.Publish(context.Background(), mutation(event.ItemCreated, "late")), errors.ErrHubStopped)
}

func TestHub_Stop_BeforeStartDeliversBufferedEvents(t *testing.T) {
	req := require.New(t)
	hub, _, _ := newTestHub()
	sink := &recordingSink{}
	req.True(hub.Join(connection("a", alice, 0), sink))
	evt := mutation(event.ItemCreated, "queued")
	req.NoError(hub.Publish(context.Background(), evt))

	hub.Stop()

	req.Equal([]event.Event{evt}, sink.ofType(event.ItemCreated))
	req.ErrorIs(hub.Start(context.Background()), errors.ErrHubStopped)
}

func TestHub_Start_RefusesConcurrentRun(t *testing.T) {
	req := require.New(t)
	hub, _, _ := newTestHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- hub.Start(ctx) }()

	req.Eventually(func() bool {
		return stderrors.Is(hub.Start(ctx), errors.ErrHubAlreadyStarted)
	}, time.Second, 5*time.Millisecond)

	hub.Stop()
	req.NoError(<-done)
}

func TestHub_RelayTyping_NeverFollowsUserLeft(t *testing.T) {
	req := require.New(t)
	for i := 0; i < 50; i++ {
		hub, _, _ := newTestHub()
		listener := &recordingSink{}
		req.True(hub.Join(connection("listener", bob, 0), listener))
		req.True(hub.Join(connection("typist", alice, time.Second), &recordingSink{}))

		// When the typist leaves while a typing signal races in
		relayed := make(chan error, 1)
		go func() { relayed <- hub.RelayTyping("typist", true) }()
		req.True(hub.Leave("typist"))
		err := <-relayed

		// Then the signal either went out before the leave or was refused
		leftAt, typingAt := -1, -1
		for n, e := range listener.received() {
			switch e.Type {
			case event.UserLeft:
				leftAt = n
			case event.TypingSignal:
				typingAt = n
			}
		}
		req.NotEqual(-1, leftAt)
		if err != nil {
			req.ErrorIs(err, errors.ErrUnknownConnection)
			req.Equal(-1, typingAt)
			continue
		}
		req.Less(typingAt, leftAt)
	}
}
