package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const defaultMaxPending = 256

// Identifiable is implemented by records mirrored into a synchronized collection.
type Identifiable interface {
	RecordID() string
}

// SubscriptionError carries the raw status of a subscribe attempt that did not succeed.
type SubscriptionError struct {
	Status Status
	Cause  error
}

func (e *SubscriptionError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("realtime: subscribe status %s", e.Status)
	}
	return fmt.Sprintf("realtime: subscribe status %s: %v", e.Status, e.Cause)
}

func (e *SubscriptionError) Unwrap() error {
	return e.Cause
}

// Options scope a Subscription.
type Options struct {
	Event  EventType
	Schema string
	Filter Filter
	// BufferUntilSeeded holds deltas received before Seed and replays them on top of the seed.
	BufferUntilSeeded bool
	// MaxPending caps the pre-seed buffer; the oldest deltas are dropped beyond it. Defaults to 256.
	MaxPending int
	// OnChange is invoked after the collection or the connection state changed.
	OnChange func()
	Logger   *zap.Logger
}

// Subscription mirrors one table's change feed into an ordered collection. Each instance owns
// its channel; Close must be called when the consumer goes away.
type Subscription[T Identifiable] struct {
	mu        sync.RWMutex
	name      string
	items     []T
	connected bool
	err       error
	seeded    bool
	buffer    bool
	pending   []Delta
	maxPend   int
	dropped   int
	channel   Channel
	onChange  func()
	logger    *zap.Logger
}

// Subscribe opens a uniquely named channel for table and returns the live collection.
func Subscribe[T Identifiable](ctx context.Context, transport Transport, table string, opts Options) (subscription *Subscription[T], err error) {
	if transport == nil {
		return nil, fmt.Errorf("%w: transport required", ErrInvalidChannelConfig)
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	maxPending := opts.MaxPending
	if maxPending <= 0 {
		maxPending = defaultMaxPending
	}
	s := &Subscription[T]{
		name:     channelName(table),
		items:    []T{},
		buffer:   opts.BufferUntilSeeded,
		maxPend:  maxPending,
		onChange: opts.OnChange,
		logger:   logger,
	}

	var channel Channel
	defer func() {
		if err != nil && channel != nil {
			_ = channel.Close()
		}
	}()

	channel, err = transport.Subscribe(ctx, s.name, ChannelConfig{
		Table:  table,
		Schema: opts.Schema,
		Event:  opts.Event,
		Filter: opts.Filter,
	}, Handlers{
		OnSync:   s.handleSync,
		OnChange: s.handleChange,
		OnStatus: s.handleStatus,
	})
	if err != nil {
		logger.Error("realtime subscribe failed",
			zap.String("channel", s.name),
			zap.String("table", table),
			zap.Error(err))
		return nil, err
	}

	s.mu.Lock()
	s.channel = channel
	s.mu.Unlock()
	return s, nil
}

func channelName(table string) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")
	return table + "-" + suffix[:12]
}

// Name returns the process-unique channel name.
func (s *Subscription[T]) Name() string {
	return s.name
}

// Items returns a snapshot of the collection in application order.
func (s *Subscription[T]) Items() []T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]T(nil), s.items...)
}

// Connected reports whether the channel is currently subscribed.
func (s *Subscription[T]) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

// Err returns the last connection error, or nil.
func (s *Subscription[T]) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

// Seed replaces the collection with a fetched snapshot. Deltas buffered before the first seed are
// replayed on top of it.
func (s *Subscription[T]) Seed(items []T) {
	s.mu.Lock()
	s.items = append([]T{}, items...)
	pending := s.pending
	s.pending = nil
	s.dropped = 0
	s.seeded = true
	for _, delta := range pending {
		s.applyLocked(delta)
	}
	s.mu.Unlock()
	s.notify()
}

// Apply layers a single delta onto the collection.
func (s *Subscription[T]) Apply(delta Delta) {
	s.mu.Lock()
	if s.buffer && !s.seeded {
		if len(s.pending) >= s.maxPend {
			// A later seed is fetched after these deltas, so the oldest are the safest to lose.
			s.pending = append(s.pending[:0], s.pending[1:]...)
			s.dropped++
			if s.dropped == 1 {
				s.logger.Warn("realtime pre-seed buffer full, dropping oldest deltas",
					zap.String("channel", s.name),
					zap.Int("max_pending", s.maxPend))
			}
		}
		s.pending = append(s.pending, delta)
		s.mu.Unlock()
		return
	}
	s.applyLocked(delta)
	s.mu.Unlock()
	s.notify()
}

// Close releases the channel.
func (s *Subscription[T]) Close() error {
	s.mu.Lock()
	channel := s.channel
	s.channel = nil
	s.connected = false
	s.mu.Unlock()
	if channel == nil {
		return nil
	}
	return channel.Close()
}

func (s *Subscription[T]) applyLocked(delta Delta) {
	items, err := ApplyDelta(s.items, delta)
	if err != nil {
		s.logger.Warn("realtime delta rejected",
			zap.String("channel", s.name),
			zap.String("record_id", delta.ID),
			zap.Error(err))
		return
	}
	s.items = items
}

func (s *Subscription[T]) handleSync() {
	s.mu.Lock()
	s.connected = true
	s.mu.Unlock()
	s.notify()
}

func (s *Subscription[T]) handleStatus(status Status, cause error) {
	s.mu.Lock()
	if status == StatusSubscribed {
		s.err = nil
		s.connected = true
	} else {
		s.err = &SubscriptionError{Status: status, Cause: cause}
		s.connected = false
	}
	s.mu.Unlock()
	if status != StatusSubscribed {
		s.logger.Warn("realtime channel disconnected",
			zap.String("channel", s.name),
			zap.String("status", string(status)),
			zap.Error(cause))
	}
	s.notify()
}

func (s *Subscription[T]) handleChange(event ChangeEvent) {
	delta, err := DecodeDelta(event)
	if err != nil {
		s.logger.Warn("realtime event dropped",
			zap.String("channel", s.name),
			zap.String("table", event.Table),
			zap.Error(err))
		return
	}
	s.Apply(delta)
}

func (s *Subscription[T]) notify() {
	if s.onChange != nil {
		s.onChange()
	}
}

// ApplyDelta returns the collection with delta applied. Inserts append, updates shallow-merge the
// incoming fields into the matching record and are dropped on a miss, deletes remove the matching
// record and are a no-op on a miss. The input slice is not modified.
func ApplyDelta[T Identifiable](items []T, delta Delta) ([]T, error) {
	switch delta.Kind {
	case DeltaInsert:
		var record T
		if err := json.Unmarshal(delta.Row, &record); err != nil {
			return items, err
		}
		next := make([]T, 0, len(items)+1)
		next = append(next, items...)
		return append(next, record), nil
	case DeltaUpdate:
		index := indexOf(items, delta.ID)
		if index < 0 {
			return items, nil
		}
		merged := items[index]
		if err := json.Unmarshal(delta.Row, &merged); err != nil {
			return items, err
		}
		next := append([]T(nil), items...)
		next[index] = merged
		return next, nil
	case DeltaDelete:
		next := make([]T, 0, len(items))
		for _, item := range items {
			if item.RecordID() != delta.ID {
				next = append(next, item)
			}
		}
		return next, nil
	default:
		return items, fmt.Errorf("%w: %q", ErrUnknownEventType, delta.Kind)
	}
}

func indexOf[T Identifiable](items []T, id string) int {
	for i, item := range items {
		if item.RecordID() == id {
			return i
		}
	}
	return -1
}
