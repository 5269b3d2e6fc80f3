package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Status is the subscribe status reported to a channel's status handler.
type Status string

const (
	StatusSubscribed   Status = "SUBSCRIBED"
	StatusChannelError Status = "CHANNEL_ERROR"
	StatusTimedOut     Status = "TIMED_OUT"
	StatusClosed       Status = "CLOSED"
)

const defaultHubBufferSize = 64

var (
	// ErrDuplicateChannel indicates a channel name is already registered.
	ErrDuplicateChannel = errors.New("realtime: duplicate channel name")
	// ErrChannelOverflow indicates a channel fell behind and was closed by the hub.
	ErrChannelOverflow = errors.New("realtime: channel buffer overflow")
	// ErrHubClosed indicates the hub no longer accepts subscriptions.
	ErrHubClosed = errors.New("realtime: hub closed")
)

// Handlers receive channel callbacks. Every callback of a channel runs on the same goroutine,
// in delivery order.
type Handlers struct {
	OnSync   func()
	OnChange func(ChangeEvent)
	OnStatus func(Status, error)
}

// Channel is a live subscription handle. Close releases it and is safe to call more than once.
type Channel interface {
	Name() string
	Close() error
}

// Publisher receives row changes after they are committed.
type Publisher interface {
	Publish(event ChangeEvent)
}

// Transport opens channels on a change feed.
type Transport interface {
	Subscribe(ctx context.Context, name string, cfg ChannelConfig, handlers Handlers) (Channel, error)
}

// HubConfig configures a Hub.
type HubConfig struct {
	BufferSize int
	Logger     *zap.Logger
}

// Hub is the in-process change feed: stores publish row changes and channels receive the ones in scope.
type Hub struct {
	mu         sync.RWMutex
	channels   map[string]*hubChannel
	observers  []func(ChangeEvent)
	bufferSize int
	logger     *zap.Logger
	closed     bool
}

type hubChannel struct {
	hub      *Hub
	name     string
	config   ChannelConfig
	handlers Handlers
	queue    chan ChangeEvent
	done     chan struct{}
	once     sync.Once
	failMu   sync.Mutex
	failure  error
}

func NewHub(cfg HubConfig) *Hub {
	bufferSize := cfg.BufferSize
	if bufferSize <= 0 {
		bufferSize = defaultHubBufferSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		channels:   make(map[string]*hubChannel),
		bufferSize: bufferSize,
		logger:     logger,
	}
}

// Subscribe registers a channel. The SUBSCRIBED status and the presence sync are reported
// before Subscribe returns; change events follow on the channel goroutine.
func (h *Hub) Subscribe(ctx context.Context, name string, cfg ChannelConfig, handlers Handlers) (Channel, error) {
	normalized, err := cfg.normalized()
	if err != nil {
		return nil, err
	}
	channel := &hubChannel{
		hub:      h,
		name:     name,
		config:   normalized,
		handlers: handlers,
		queue:    make(chan ChangeEvent, h.bufferSize),
		done:     make(chan struct{}),
	}
	if err := h.register(channel); err != nil {
		return nil, err
	}

	channel.reportStatus(StatusSubscribed, nil)
	if handlers.OnSync != nil {
		handlers.OnSync()
	}

	go channel.run()
	go func() {
		select {
		case <-ctx.Done():
			_ = channel.Close()
		case <-channel.done:
		}
	}()
	return channel, nil
}

// Publish delivers the event to local channels and forwards it to observers.
func (h *Hub) Publish(event ChangeEvent) {
	h.Deliver(event)
	h.mu.RLock()
	observers := append([]func(ChangeEvent){}, h.observers...)
	h.mu.RUnlock()
	for _, observer := range observers {
		observer(event)
	}
}

// Deliver fans the event out to matching local channels only.
func (h *Hub) Deliver(event ChangeEvent) {
	if event.Table == "" || event.EventType == "" {
		return
	}
	h.mu.RLock()
	targets := make([]*hubChannel, 0, len(h.channels))
	for _, channel := range h.channels {
		if channel.config.Matches(event) {
			targets = append(targets, channel)
		}
	}
	h.mu.RUnlock()
	for _, channel := range targets {
		select {
		case <-channel.done:
		case channel.queue <- event:
		default:
			h.logger.Warn("realtime channel overflow",
				zap.String("channel", channel.name),
				zap.String("table", event.Table))
			channel.fail(ErrChannelOverflow)
		}
	}
}

// Observe registers a callback invoked for every event published locally.
func (h *Hub) Observe(observer func(ChangeEvent)) {
	if observer == nil {
		return
	}
	h.mu.Lock()
	h.observers = append(h.observers, observer)
	h.mu.Unlock()
}

// ChannelCount reports the number of open channels.
func (h *Hub) ChannelCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels)
}

// Close tears down every open channel and rejects new subscriptions.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	channels := make([]*hubChannel, 0, len(h.channels))
	for _, channel := range h.channels {
		channels = append(channels, channel)
	}
	h.mu.Unlock()
	for _, channel := range channels {
		_ = channel.Close()
	}
}

func (h *Hub) register(channel *hubChannel) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrHubClosed
	}
	if _, exists := h.channels[channel.name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateChannel, channel.name)
	}
	h.channels[channel.name] = channel
	return nil
}

func (h *Hub) unregister(name string) {
	h.mu.Lock()
	delete(h.channels, name)
	h.mu.Unlock()
}

func (c *hubChannel) Name() string {
	return c.name
}

func (c *hubChannel) Close() error {
	c.once.Do(func() {
		c.hub.unregister(c.name)
		close(c.done)
	})
	return nil
}

func (c *hubChannel) fail(cause error) {
	c.failMu.Lock()
	if c.failure == nil {
		c.failure = cause
	}
	c.failMu.Unlock()
	_ = c.Close()
}

func (c *hubChannel) run() {
	for {
		select {
		case <-c.done:
			c.failMu.Lock()
			failure := c.failure
			c.failMu.Unlock()
			if failure != nil {
				c.reportStatus(StatusChannelError, failure)
			}
			return
		case event := <-c.queue:
			if c.handlers.OnChange != nil {
				c.handlers.OnChange(event)
			}
		}
	}
}

func (c *hubChannel) reportStatus(status Status, err error) {
	if c.handlers.OnStatus != nil {
		c.handlers.OnStatus(status, err)
	}
}
