package runtime

import (
	"context"
	"fmt"
	"live-queue/contract"
	"live-queue/domain"
	"live-queue/domain/event"
	"live-queue/errors"
	"live-queue/observability"
	"live-queue/runtime/workers"
	"log/slog"
	"sync"
	"time"
)

var (
	_ contract.Publisher   = (*Hub)(nil)
	_ contract.Broadcaster = (*Hub)(nil)
)

const (
	publishChannel   = "publish"
	moderatedChannel = "moderated"
)

type HubOption func(*Hub)

// WithModeration inserts a censoring stage between the publish queue and the fan-out.
func WithModeration(moderator contract.Moderator) HubOption {
	return func(h *Hub) { h.moderator = moderator }
}

// WithMetricInterval sets how often queue gauges are sampled. Zero disables sampling.
func WithMetricInterval(interval time.Duration) HubOption {
	return func(h *Hub) { h.metricInterval = interval }
}

func WithClock(now func() time.Time) HubOption {
	return func(h *Hub) { h.now = now }
}

// Hub is the realtime core: it owns the registry, turns joins and leaves into
// presence events, relays typing signals and fans out published domain events.
//
// Every delivery pass runs under deliverMu, so the audience snapshot and the
// sends of one pass are never interleaved with another pass. Each connection
// therefore sees events in the order the passes were started.
type Hub struct {
	log            *slog.Logger
	registry       *Registry
	supervisor     contract.ISupervisor
	metrics        *observability.Metrics
	moderator      contract.Moderator
	sinkTimeout    time.Duration
	metricInterval time.Duration
	now            func() time.Time

	published chan event.Event
	moderated chan event.Event
	sanitizer *workers.ModerationWorker
	deliverMu sync.Mutex
	drainMu   sync.Mutex
	inflight  sync.WaitGroup

	mu       sync.Mutex
	started  bool
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

func NewHub(log *slog.Logger, registry *Registry, supervisor contract.ISupervisor,
	metrics *observability.Metrics, bufferSize int, sinkTimeout time.Duration, opts ...HubOption) *Hub {
	h := &Hub{
		log:         log,
		registry:    registry,
		supervisor:  supervisor,
		metrics:     metrics,
		sinkTimeout: sinkTimeout,
		now:         time.Now,
		published:   make(chan event.Event, bufferSize),
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Start runs the fan-out pipeline and blocks until ctx is done or Stop is called.
// Events published before Start stay buffered and are delivered once it runs.
// A hub runs once: when Start returns, whatever the reason, the hub is
// stopped and every event accepted by Publish has been delivered.
func (h *Hub) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	h.mu.Lock()
	select {
	case <-h.done:
		h.mu.Unlock()
		return errors.ErrHubStopped
	default:
	}
	if h.started {
		h.mu.Unlock()
		return errors.ErrHubAlreadyStarted
	}
	h.started = true
	h.cancel = cancel
	h.mu.Unlock()

	channels := []workers.NamedChannel{{Name: publishChannel, Channel: h.published}}
	source := (<-chan event.Event)(h.published)
	if h.moderator != nil {
		h.moderated = make(chan event.Event, cap(h.published))
		h.sanitizer = workers.NewModerationWorker(h.moderator, h.published, h.moderated, h.log)
		h.supervisor.Add(h.sanitizer)
		channels = append(channels, workers.NamedChannel{Name: moderatedChannel, Channel: h.moderated})
		source = h.moderated
	}
	h.supervisor.Add(workers.NewEventFanout(h.log, h, source))
	if h.metricInterval > 0 {
		h.supervisor.Add(workers.NewChannelCapacityWorker(h.log, channels, h.metrics, h.metricInterval))
	}

	h.log.Info("Realtime hub started", "buffer_size", cap(h.published), "moderation", h.moderator != nil)
	h.supervisor.Run(runCtx)
	h.halt()
	drained := h.drain()
	h.log.Info("Realtime hub stopped", "drained", drained)
	return nil
}

// Stop cancels the pipeline. Publish fails with ErrHubStopped afterwards.
// Buffered events are delivered before Start returns; a hub that never
// started delivers them here.
func (h *Hub) Stop() {
	h.halt()
	h.mu.Lock()
	cancel, started := h.cancel, h.started
	h.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	h.supervisor.Stop()
	if !started {
		if drained := h.drain(); drained > 0 {
			h.log.Info("Realtime hub stopped before start", "drained", drained)
		}
	}
}

// halt refuses new publishes, then waits for the ones already in flight so
// nothing can enter the queue after it returns.
func (h *Hub) halt() {
	h.stopOnce.Do(func() {
		h.mu.Lock()
		close(h.done)
		h.mu.Unlock()
	})
	h.inflight.Wait()
}

// drain delivers what is left in the queues once the workers are gone:
// moderated events first, then the one moderation was holding, then the
// events that never reached moderation.
func (h *Hub) drain() int {
	h.drainMu.Lock()
	defer h.drainMu.Unlock()

	sanitizer := h.sanitizer
	if sanitizer == nil && h.moderator != nil {
		sanitizer = workers.NewModerationWorker(h.moderator, nil, nil, h.log)
	}
	drained := h.drainQueue(h.moderated, nil)
	if h.sanitizer != nil {
		for _, evt := range h.sanitizer.TakeHeld() {
			h.Broadcast(evt)
			drained++
		}
	}
	return drained + h.drainQueue(h.published, sanitizer)
}

func (h *Hub) drainQueue(queue chan event.Event, sanitizer *workers.ModerationWorker) int {
	if queue == nil {
		return 0
	}
	drained := 0
	for {
		select {
		case evt := <-queue:
			if sanitizer != nil {
				evt = sanitizer.Sanitize(evt)
			}
			h.Broadcast(evt)
			drained++
		default:
			return drained
		}
	}
}

// Publish enqueues a committed mutation for fan-out. It blocks while the queue
// is full, so no event is dropped and commit order is kept.
func (h *Hub) Publish(ctx context.Context, evt event.Event) error {
	if !evt.Type.IsMutation() {
		return fmt.Errorf("%w: %s", errors.ErrUnknownEventType, evt.Type)
	}
	h.mu.Lock()
	select {
	case <-h.done:
		h.mu.Unlock()
		return errors.ErrHubStopped
	default:
	}
	h.inflight.Add(1)
	h.mu.Unlock()
	defer h.inflight.Done()

	select {
	case h.published <- evt:
		h.metrics.EventsPublished.WithLabelValues(string(evt.Type)).Inc()
		return nil
	case <-h.done:
		return errors.ErrHubStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Broadcast delivers evt to every live connection, several connections of
// the same user included, and returns how many deliveries succeeded.
func (h *Hub) Broadcast(evt event.Event) int {
	h.deliverMu.Lock()
	defer h.deliverMu.Unlock()
	return h.deliver(evt, h.registry.Audience(""))
}

// BroadcastToOthers delivers evt to every live connection except exclude.
func (h *Hub) BroadcastToOthers(evt event.Event, exclude domain.ConnectionID) int {
	h.deliverMu.Lock()
	defer h.deliverMu.Unlock()
	return h.deliver(evt, h.registry.Audience(exclude))
}

// Unicast delivers evt to a single connection. Removed ids fail closed.
func (h *Hub) Unicast(connID domain.ConnectionID, evt event.Event) error {
	h.deliverMu.Lock()
	defer h.deliverMu.Unlock()
	return h.unicast(connID, evt)
}

// Join registers an authenticated connection. The first connection of a user
// announces them to everybody else; the joining connection always receives
// the roster, itself included, and never its own user-joined.
func (h *Hub) Join(conn domain.Connection, sink contract.EventSink) bool {
	h.deliverMu.Lock()
	defer h.deliverMu.Unlock()

	registration, ok := h.registry.Register(conn, sink)
	if !ok {
		return false
	}
	h.refreshPresence()

	now := h.now()
	if registration.First {
		h.deliver(event.NewUserJoined(conn.User.Online(), now), registration.Others)
	}
	if err := h.unicast(conn.ID, event.NewRosterSnapshot(registration.Roster, now)); err != nil {
		h.log.Warn("Roster snapshot not delivered", "connection_id", conn.ID, "error", err)
	}

	h.log.Info("Connection joined",
		"connection_id", conn.ID,
		"user_id", conn.User.ID,
		"first", registration.First,
		"online_users", len(registration.Roster))
	return true
}

// Leave unregisters a connection and announces the user's departure once
// their last connection is gone. Unknown ids are ignored.
func (h *Hub) Leave(connID domain.ConnectionID) bool {
	h.deliverMu.Lock()
	defer h.deliverMu.Unlock()

	removal, ok := h.registry.Unregister(connID)
	if !ok {
		return false
	}
	h.refreshPresence()

	if removal.Last {
		h.deliver(event.NewUserLeft(removal.Connection.User.Online(), h.now()), removal.Others)
	}
	h.log.Info("Connection left",
		"connection_id", connID,
		"user_id", removal.Connection.User.ID,
		"last", removal.Last)
	return true
}

// RelayTyping forwards a typing signal to everybody but the sender.
// Nothing is debounced or kept.
func (h *Hub) RelayTyping(connID domain.ConnectionID, isTyping bool) error {
	h.deliverMu.Lock()
	defer h.deliverMu.Unlock()
	// Looked up inside the pass so a concurrent Leave cannot slip between
	// the check and the relay.
	conn, ok := h.registry.Connection(connID)
	if !ok {
		return errors.ErrUnknownConnection
	}
	h.deliver(event.NewTypingSignal(conn.User, isTyping, h.now()), h.registry.Audience(connID))
	return nil
}

// Roster sends a fresh roster snapshot to one connection.
func (h *Hub) Roster(connID domain.ConnectionID) error {
	h.deliverMu.Lock()
	defer h.deliverMu.Unlock()
	return h.unicast(connID, event.NewRosterSnapshot(h.registry.Snapshot(), h.now()))
}

// Heartbeat answers a client ping.
func (h *Hub) Heartbeat(connID domain.ConnectionID) error {
	return h.Unicast(connID, event.NewHeartbeatAck(h.now()))
}

func (h *Hub) Stats() domain.Stats {
	users := h.registry.Snapshot()
	return domain.Stats{
		Connections: h.registry.Count(),
		OnlineUsers: len(users),
		Users:       users,
	}
}

// unicast must be called with deliverMu held.
func (h *Hub) unicast(connID domain.ConnectionID, evt event.Event) error {
	recipient, ok := h.registry.Recipient(connID)
	if !ok {
		return errors.ErrUnknownConnection
	}
	return h.send(evt, recipient)
}

// deliver must be called with deliverMu held.
// A failing recipient is logged and skipped; the loop always reaches the end.
func (h *Hub) deliver(evt event.Event, recipients []Recipient) int {
	delivered := 0
	for _, r := range recipients {
		if err := h.send(evt, r); err != nil {
			continue
		}
		delivered++
	}
	return delivered
}

func (h *Hub) send(evt event.Event, r Recipient) (err error) {
	ctx, cancel := context.WithTimeout(context.Background(), h.sinkTimeout)
	defer cancel()
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("sink panic: %v", rec)
		}
		h.metrics.Delivered(evt.Type, err == nil)
		if err != nil {
			h.log.Warn("Delivery failed",
				"connection_id", r.ConnectionID,
				"event_type", evt.Type,
				"event_id", evt.ID,
				"error", err)
		}
	}()
	return r.Sink.Consume(ctx, evt)
}

func (h *Hub) refreshPresence() {
	h.metrics.SetPresence(h.registry.Count(), h.registry.OnlineCount())
}
