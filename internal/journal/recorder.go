// Package journal records supply update transitions. Each transition is a log
// line, a row in the event store and a message to live subscribers.
package journal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"model-token-engine/internal/domain"
	"model-token-engine/internal/idhash"
	"model-token-engine/internal/observability"
	"model-token-engine/internal/storage"
)

// DefaultSubscriberBuffer is the channel size handed to new subscribers.
const DefaultSubscriberBuffer = 64

// Recorder appends transition events and fans them out.
type Recorder struct {
	events storage.EventStore
	logger logrus.FieldLogger
	now    func() time.Time

	mu     sync.RWMutex
	subs   map[int]chan domain.UpdateEvent
	nextID int
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithClock overrides the time source for OccurredAt.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) {
		r.now = now
	}
}

// NewRecorder creates a Recorder. events may be nil to journal to logs only.
func NewRecorder(events storage.EventStore, logger logrus.FieldLogger, opts ...Option) *Recorder {
	r := &Recorder{
		events: events,
		logger: logger.WithField("component", "journal"),
		now:    time.Now,
		subs:   make(map[int]chan domain.UpdateEvent),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record fills EventID and OccurredAt, then logs, persists and publishes e.
// A repeated transition of the same operation is persisted once.
func (r *Recorder) Record(ctx context.Context, e *domain.UpdateEvent) error {
	if e == nil || e.OperationID == "" || e.Stage == "" {
		return fmt.Errorf("record transition: %w", storage.ErrInvalidInput)
	}
	if e.Status == "" {
		e.Status = domain.EventStatusOK
	}
	if e.EventID == "" {
		e.EventID = idhash.ComputeEventID(e.OperationID, e.Stage, e.Status)
	}
	if e.OccurredAt == 0 {
		e.OccurredAt = r.now().UnixMilli()
	}

	r.log(e)
	observability.RecordTransition(string(e.Stage), e.Status)

	if r.events != nil {
		if err := r.events.Append(ctx, e); err != nil && !errors.Is(err, storage.ErrDuplicateKey) {
			return fmt.Errorf("append transition %s/%s: %w", e.OperationID, e.Stage, err)
		}
	}

	r.publish(*e)
	return nil
}

func (r *Recorder) log(e *domain.UpdateEvent) {
	fields := logrus.Fields{
		"operation_id": e.OperationID,
		"model_id":     e.ModelID,
		"token":        e.TokenAddress,
		"kind":         string(e.Kind),
		"stage":        string(e.Stage),
		"status":       e.Status,
	}
	if e.TransactionHash != "" {
		fields["tx_hash"] = e.TransactionHash
	}
	if e.FailedStage != "" {
		fields["failed_stage"] = e.FailedStage
	}
	if e.Price != nil {
		fields["price"] = *e.Price
	}
	if e.TotalSupply != nil {
		fields["total_supply"] = *e.TotalSupply
	}
	if e.ImpactPct != nil {
		fields["impact_pct"] = *e.ImpactPct
	}

	entry := r.logger.WithFields(fields)
	if e.Status == domain.EventStatusFailed {
		entry.Warn(e.Detail)
		return
	}
	if e.Detail != "" {
		entry.Info(e.Detail)
		return
	}
	entry.Info("transition")
}

// Subscribe registers a live listener. Events are dropped for a subscriber
// whose buffer is full. The returned func unsubscribes and closes the channel.
func (r *Recorder) Subscribe(buffer int) (<-chan domain.UpdateEvent, func()) {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	ch := make(chan domain.UpdateEvent, buffer)

	r.mu.Lock()
	id := r.nextID
	r.nextID++
	r.subs[id] = ch
	n := len(r.subs)
	r.mu.Unlock()
	observability.SetStreamSubscribers(n)

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.subs, id)
			n := len(r.subs)
			close(ch)
			r.mu.Unlock()
			observability.SetStreamSubscribers(n)
		})
	}
}

func (r *Recorder) publish(e domain.UpdateEvent) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for id, ch := range r.subs {
		select {
		case ch <- e:
		default:
			r.logger.WithField("subscriber", id).Debug("subscriber buffer full, event dropped")
		}
	}
}

// Subscribers returns the number of live listeners.
func (r *Recorder) Subscribers() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}
