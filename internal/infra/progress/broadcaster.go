package progress

import (
	"sync"

	"github.com/rs/zerolog"

	"appforge/internal/domain/model"
	"appforge/internal/infra/metrics"
)

// Callback receives progress events for one subscription. It runs on the
// subscription's own goroutine, in emission order for its project.
type Callback func(model.ProgressEvent)

const subscriberBuffer = 64

// Broadcaster fans stage/percentage/message updates out to live listeners,
// keyed by project id. It is constructed once at process start and injected;
// there is no global registry.
//
// Delivery is best-effort: a slow subscriber never blocks Emit (events are
// dropped when its buffer fills), a panicking callback is recovered and
// logged, and a subscriber that connects after an event was emitted never
// sees it. Per-project order is preserved for each subscriber.
type Broadcaster struct {
	mu   sync.RWMutex
	subs map[string]map[int]*subscriber
	next int
	log  *zerolog.Logger
}

type subscriber struct {
	ch   chan model.ProgressEvent
	done chan struct{}
}

func NewBroadcaster(log *zerolog.Logger) *Broadcaster {
	return &Broadcaster{
		subs: make(map[string]map[int]*subscriber),
		log:  log,
	}
}

// Emit publishes an event to every subscriber of the project. Never blocks.
func (b *Broadcaster) Emit(projectID string, progress int, stage, message string) {
	ev := model.ProgressEvent{ProjectID: projectID, Progress: progress, Stage: stage, Message: message}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs[projectID] {
		select {
		case s.ch <- ev:
		default:
			metrics.IncProgressDropped()
			b.log.Warn().Str("project_id", projectID).Msg("progress subscriber buffer full, event dropped")
		}
	}
}

// Subscribe registers interest in a project's events and returns an
// unsubscribe func. The callback runs on a dedicated goroutine.
func (b *Broadcaster) Subscribe(projectID string, cb Callback) func() {
	s := &subscriber{
		ch:   make(chan model.ProgressEvent, subscriberBuffer),
		done: make(chan struct{}),
	}

	b.mu.Lock()
	id := b.next
	b.next++
	if b.subs[projectID] == nil {
		b.subs[projectID] = make(map[int]*subscriber)
	}
	b.subs[projectID][id] = s
	b.mu.Unlock()

	go b.drain(projectID, s, cb)

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			if set, ok := b.subs[projectID]; ok {
				delete(set, id)
				if len(set) == 0 {
					delete(b.subs, projectID)
				}
			}
			b.mu.Unlock()
			close(s.done)
		})
	}
}

func (b *Broadcaster) drain(projectID string, s *subscriber, cb Callback) {
	for {
		select {
		case <-s.done:
			return
		case ev := <-s.ch:
			b.deliver(projectID, cb, ev)
		}
	}
}

func (b *Broadcaster) deliver(projectID string, cb Callback, ev model.ProgressEvent) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error().Str("project_id", projectID).Interface("panic", r).
				Msg("progress subscriber panicked")
		}
	}()
	cb(ev)
}
