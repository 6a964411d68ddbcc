package events

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/modelbay/modelbay/internal/logger"
)

// EventBus distributes events to subscribers. Subscribe returns an
// unsubscribe handle; there is no ambient global bus, callers receive
// the bus by injection.
type EventBus interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Publish(event Event) error
	PublishAsync(event Event)
	Subscribe(filter EventFilter, handler EventHandler) (func(), error)
	SubscribeJob(jobID uint, handler EventHandler) (func(), error)
	GetRecentEvents(limit int) []Event
	GetStats() EventStats
}

type eventBus struct {
	config BusConfig

	mu            sync.RWMutex
	subscriptions map[string]*Subscription
	recentEvents  []Event

	eventChannel chan Event
	stopCh       chan struct{}
	wg           sync.WaitGroup
	started      bool

	totalEvents   atomic.Int64
	droppedEvents atomic.Int64
	eventsByType  sync.Map // EventType -> *atomic.Int64
}

// NewEventBus creates an event bus with the given configuration
func NewEventBus(config BusConfig) EventBus {
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultBusConfig().BufferSize
	}
	if config.MaxRecentEvents <= 0 {
		config.MaxRecentEvents = DefaultBusConfig().MaxRecentEvents
	}
	return &eventBus{
		config:        config,
		subscriptions: make(map[string]*Subscription),
		eventChannel:  make(chan Event, config.BufferSize),
		stopCh:        make(chan struct{}),
	}
}

// Start launches the event processing goroutine
func (b *eventBus) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return fmt.Errorf("event bus already started")
	}
	b.started = true

	b.wg.Add(1)
	go b.processEvents()

	logger.Debug("Event bus started with buffer size %d", b.config.BufferSize)
	return nil
}

// Stop drains the bus and waits for the processor to exit. The context
// bounds how long the shutdown may take.
func (b *eventBus) Stop(ctx context.Context) error {
	b.mu.Lock()
	if !b.started {
		b.mu.Unlock()
		return nil
	}
	b.started = false
	b.mu.Unlock()

	close(b.stopCh)

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event bus shutdown timed out: %w", ctx.Err())
	}
}

// Publish delivers an event, blocking if the buffer is full
func (b *eventBus) Publish(event Event) error {
	b.prepare(&event)
	select {
	case b.eventChannel <- event:
		return nil
	case <-b.stopCh:
		return fmt.Errorf("event bus is stopped")
	}
}

// PublishAsync delivers an event without blocking. If the buffer is
// full the event is dropped and counted; publishers on the hot path
// must never stall on slow consumers.
func (b *eventBus) PublishAsync(event Event) {
	b.prepare(&event)
	select {
	case b.eventChannel <- event:
	default:
		b.droppedEvents.Add(1)
		logger.Warn("Event bus buffer full, dropping event type=%s job=%d", event.Type, event.JobID)
	}
}

func (b *eventBus) prepare(event *Event) {
	if event.ID == "" {
		event.ID = generateEventID()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.Version == 0 && event.Payload != nil {
		event.Version = event.Payload.SchemaVersion()
	}
}

// Subscribe registers a handler for events matching the filter and
// returns a function that removes the subscription.
func (b *eventBus) Subscribe(filter EventFilter, handler EventHandler) (func(), error) {
	if handler == nil {
		return nil, fmt.Errorf("handler must not be nil")
	}

	sub := &Subscription{
		ID:      generateEventID(),
		Filter:  filter,
		Handler: handler,
		Created: time.Now().UTC(),
	}

	b.mu.Lock()
	b.subscriptions[sub.ID] = sub
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		delete(b.subscriptions, sub.ID)
		b.mu.Unlock()
	}
	return unsubscribe, nil
}

// SubscribeJob registers a handler for all events of a single job
func (b *eventBus) SubscribeJob(jobID uint, handler EventHandler) (func(), error) {
	id := jobID
	return b.Subscribe(EventFilter{JobID: &id}, handler)
}

// GetRecentEvents returns up to limit of the most recently processed
// events, newest first.
func (b *eventBus) GetRecentEvents(limit int) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if limit <= 0 || limit > len(b.recentEvents) {
		limit = len(b.recentEvents)
	}
	out := make([]Event, limit)
	for i := 0; i < limit; i++ {
		out[i] = b.recentEvents[len(b.recentEvents)-1-i]
	}
	return out
}

// GetStats returns a snapshot of bus counters
func (b *eventBus) GetStats() EventStats {
	stats := EventStats{
		TotalEvents:   b.totalEvents.Load(),
		DroppedEvents: b.droppedEvents.Load(),
		EventsByType:  make(map[EventType]int64),
	}
	b.eventsByType.Range(func(key, value any) bool {
		stats.EventsByType[key.(EventType)] = value.(*atomic.Int64).Load()
		return true
	})
	b.mu.RLock()
	stats.Subscriptions = len(b.subscriptions)
	b.mu.RUnlock()
	return stats
}

func (b *eventBus) processEvents() {
	defer b.wg.Done()
	for {
		select {
		case event := <-b.eventChannel:
			b.handleEvent(event)
		case <-b.stopCh:
			// Drain whatever is already buffered before exiting
			for {
				select {
				case event := <-b.eventChannel:
					b.handleEvent(event)
				default:
					return
				}
			}
		}
	}
}

func (b *eventBus) handleEvent(event Event) {
	b.totalEvents.Add(1)
	counter, _ := b.eventsByType.LoadOrStore(event.Type, &atomic.Int64{})
	counter.(*atomic.Int64).Add(1)

	b.mu.Lock()
	b.recentEvents = append(b.recentEvents, event)
	if len(b.recentEvents) > b.config.MaxRecentEvents {
		b.recentEvents = b.recentEvents[len(b.recentEvents)-b.config.MaxRecentEvents:]
	}
	subs := make([]*Subscription, 0, len(b.subscriptions))
	for _, sub := range b.subscriptions {
		if sub.Filter.Matches(event) {
			subs = append(subs, sub)
		}
	}
	b.mu.Unlock()

	for _, sub := range subs {
		b.notifySubscriber(sub, event)
	}
}

func (b *eventBus) notifySubscriber(sub *Subscription, event Event) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Event handler panicked: subscription=%s event=%s: %v", sub.ID, event.Type, r)
		}
	}()

	atomic.AddInt64(&sub.TriggerCount, 1)
	if err := sub.Handler(event); err != nil {
		logger.Warn("Event handler error: subscription=%s event=%s: %v", sub.ID, event.Type, err)
	}
}

func generateEventID() string {
	return "evt_" + uuid.NewString()
}
