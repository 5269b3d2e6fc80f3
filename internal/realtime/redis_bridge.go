package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const defaultBridgePublishTimeout = 5 * time.Second

var (
	errMissingRedisClient = errors.New("realtime: redis client required")
	errMissingBridgeHub   = errors.New("realtime: hub required")
)

// RedisBridgeConfig configures cross-node fan-out of change events.
type RedisBridgeConfig struct {
	Client   *redis.Client
	Hub      *Hub
	Channel  string
	NodeName string
	Logger   *zap.Logger
}

// RedisBridge republishes local change events on a redis pub/sub channel and delivers the
// events of other nodes into the local hub.
type RedisBridge struct {
	client   *redis.Client
	hub      *Hub
	channel  string
	nodeName string
	logger   *zap.Logger
	pubsub   *redis.PubSub
	cancel   context.CancelFunc
}

type clusterEnvelope struct {
	NodeName string      `json:"node_name"`
	Event    ChangeEvent `json:"event"`
}

func NewRedisBridge(cfg RedisBridgeConfig) (*RedisBridge, error) {
	if cfg.Client == nil {
		return nil, errMissingRedisClient
	}
	if cfg.Hub == nil {
		return nil, errMissingBridgeHub
	}
	nodeName := cfg.NodeName
	if nodeName == "" {
		nodeName = defaultNodeName()
	}
	channel := cfg.Channel
	if channel == "" {
		channel = "notesmary-realtime"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisBridge{
		client:   cfg.Client,
		hub:      cfg.Hub,
		channel:  channel,
		nodeName: nodeName,
		logger:   logger.With(zap.String("node", nodeName), zap.String("redis_channel", channel)),
	}, nil
}

// Start subscribes to the redis channel and begins forwarding hub events.
func (b *RedisBridge) Start(ctx context.Context) error {
	if err := b.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("realtime: redis ping: %w", err)
	}
	pubsub := b.client.Subscribe(ctx, b.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("realtime: redis subscribe: %w", err)
	}
	runCtx, cancel := context.WithCancel(ctx)
	b.pubsub = pubsub
	b.cancel = cancel
	b.hub.Observe(func(event ChangeEvent) {
		b.forward(runCtx, event)
	})
	go b.receive(runCtx)
	b.logger.Info("realtime redis bridge started")
	return nil
}

// Close stops forwarding and releases the redis subscription.
func (b *RedisBridge) Close() error {
	if b.cancel != nil {
		b.cancel()
	}
	if b.pubsub != nil {
		return b.pubsub.Close()
	}
	return nil
}

func (b *RedisBridge) forward(ctx context.Context, event ChangeEvent) {
	if ctx.Err() != nil {
		return
	}
	payload, err := json.Marshal(clusterEnvelope{NodeName: b.nodeName, Event: event})
	if err != nil {
		b.logger.Error("redis bridge marshal failed", zap.Error(err))
		return
	}
	publishCtx, cancel := context.WithTimeout(ctx, defaultBridgePublishTimeout)
	defer cancel()
	if err := b.client.Publish(publishCtx, b.channel, payload).Err(); err != nil {
		b.logger.Error("redis bridge publish failed", zap.String("table", event.Table), zap.Error(err))
	}
}

func (b *RedisBridge) receive(ctx context.Context) {
	messages := b.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case message, ok := <-messages:
			if !ok {
				return
			}
			b.handleMessage(message.Payload)
		}
	}
}

func (b *RedisBridge) handleMessage(payload string) {
	var envelope clusterEnvelope
	if err := json.Unmarshal([]byte(payload), &envelope); err != nil {
		b.logger.Warn("redis bridge payload rejected", zap.Error(err))
		return
	}
	if envelope.NodeName == b.nodeName {
		return
	}
	b.hub.Deliver(envelope.Event)
}

// defaultNodeName is unique per process so replicas never mistake each other's events for their own echo.
func defaultNodeName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "node"
	}
	return host + "-" + uuid.NewString()
}
