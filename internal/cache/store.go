// Package cache persists JSON payloads behind expiring envelopes.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrMissingKey indicates an empty cache key.
var ErrMissingKey = errors.New("cache: key required")

// Store is a persistent key/value store. A Get before expiry returns the payload verbatim;
// after expiry the entry is a miss.
type Store interface {
	Get(ctx context.Context, key string, dest any) (bool, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Remove(ctx context.Context, key string) error
}

// Envelope is the persisted form of a cached value. ExpiresAt is unix milliseconds; nil never expires.
type Envelope struct {
	Payload   json.RawMessage `json:"payload"`
	ExpiresAt *int64          `json:"expiresAt,omitempty"`
}

// NewEnvelope encodes value with an expiry ttl after now. A non-positive ttl never expires.
func NewEnvelope(value any, ttl time.Duration, now time.Time) (Envelope, error) {
	payload, err := json.Marshal(value)
	if err != nil {
		return Envelope{}, err
	}
	envelope := Envelope{Payload: payload}
	if ttl > 0 {
		expiresAt := now.Add(ttl).UnixMilli()
		envelope.ExpiresAt = &expiresAt
	}
	return envelope, nil
}

// Expired reports whether the envelope is past its expiry at now.
func (e Envelope) Expired(now time.Time) bool {
	return e.ExpiresAt != nil && now.UnixMilli() >= *e.ExpiresAt
}

// Decode unmarshals the payload into dest.
func (e Envelope) Decode(dest any) error {
	return json.Unmarshal(e.Payload, dest)
}
