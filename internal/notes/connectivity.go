package notes

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

const defaultProbeTimeout = 2 * time.Second

// ErrStatusUnavailable indicates the runtime exposes no network-status capability.
var ErrStatusUnavailable = errors.New("notes: network status unavailable")

var errMissingProbeURL = errors.New("notes: probe url is required")

// ConnectionStatus reports the device's connectivity.
type ConnectionStatus struct {
	Connected      bool   `json:"connected"`
	ConnectionType string `json:"connectionType,omitempty"`
}

// NetworkStatus reports whether the backend is reachable.
type NetworkStatus interface {
	Status(ctx context.Context) (ConnectionStatus, error)
}

// StaticStatus is a manually toggled NetworkStatus.
type StaticStatus struct {
	connected atomic.Bool
}

func NewStaticStatus(connected bool) *StaticStatus {
	status := &StaticStatus{}
	status.connected.Store(connected)
	return status
}

func (s *StaticStatus) SetConnected(connected bool) {
	s.connected.Store(connected)
}

func (s *StaticStatus) Status(context.Context) (ConnectionStatus, error) {
	return ConnectionStatus{Connected: s.connected.Load(), ConnectionType: "static"}, nil
}

// UnavailableStatus models a runtime without a network-status capability.
type UnavailableStatus struct{}

func (UnavailableStatus) Status(context.Context) (ConnectionStatus, error) {
	return ConnectionStatus{}, ErrStatusUnavailable
}

// HTTPProbeConfig configures an HTTPProbe.
type HTTPProbeConfig struct {
	URL        string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// HTTPProbe treats the backend as reachable when a GET on URL answers below 500 within the timeout.
type HTTPProbe struct {
	url     string
	timeout time.Duration
	client  *http.Client
}

func NewHTTPProbe(cfg HTTPProbeConfig) (*HTTPProbe, error) {
	url := strings.TrimSpace(cfg.URL)
	if url == "" {
		return nil, errMissingProbeURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultProbeTimeout
	}
	client := cfg.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPProbe{url: url, timeout: timeout, client: client}, nil
}

func (p *HTTPProbe) Status(ctx context.Context) (ConnectionStatus, error) {
	probeCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, p.url, nil)
	if err != nil {
		return ConnectionStatus{}, err
	}
	response, err := p.client.Do(req)
	if err != nil {
		return ConnectionStatus{Connected: false, ConnectionType: "none"}, nil
	}
	defer response.Body.Close()
	return ConnectionStatus{Connected: response.StatusCode < http.StatusInternalServerError, ConnectionType: "http"}, nil
}
