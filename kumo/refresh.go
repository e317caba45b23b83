package kumo

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"
)

// The REST layer serves whatever the server last cached, which can lag
// the physical unit by hours. A forced refresh pushes a
// force_adapter_request per facet down the realtime channel, waits a
// bounded time for the matching push events, and merges whatever
// arrived into the baseline record. Facets that never arrive keep
// their baseline values: partial data is success, not failure.

// Facet is one independently requested and reported category of
// device state on the realtime channel.
type Facet string

const (
	FacetIUStatus      Facet = "iuStatus"
	FacetProfile       Facet = "profile"
	FacetAdapterStatus Facet = "adapterStatus"
	FacetMhk2          Facet = "mhk2"
)

// AllFacets in the order the mobile app requests them.
var AllFacets = []Facet{FacetIUStatus, FacetProfile, FacetAdapterStatus, FacetMhk2}

const (
	defaultRefreshTimeout = 4 * time.Second
	sessionIdleTimeout    = 5 * time.Minute

	// Wire event names.
	eventSubscribe    = "subscribe"
	eventForceRequest = "force_adapter_request"
	eventSubscribed   = "subscribed"
	eventDeviceUpdate = "device_update"
	eventDeviceStatus = "device_status"
)

// PushChannel is the transport surface the coordinator needs from the
// realtime connection. The production implementation is the Socket.IO
// client in internal/socketio; tests inject a fake and drive it with
// synthetic events.
type PushChannel interface {
	// Emit sends a client event with JSON-encodable arguments.
	Emit(event string, args ...any) error
	// On registers a handler for a server event. The handler receives
	// the event's first argument, undecoded.
	On(event string, handler func(data json.RawMessage))
	Close() error
}

// ChannelDialer opens a PushChannel. It owns the transport handshake;
// by the time it returns the channel is ready for subscribe events.
type ChannelDialer func(ctx context.Context, socketURL, accessToken string) (PushChannel, error)

// Session lifecycle states.
type sessionState int

const (
	sessionDisconnected sessionState = iota
	sessionConnecting
	sessionConnected
)

// Per-device refresh states.
type refreshState int

const (
	refreshSubscribing refreshState = iota
	refreshAwaitingFacets
	refreshReconciled
	refreshFailed
)

// refreshSession owns the shared realtime connection and the pending
// per-device facet collectors. One session per Client; a fresh login
// gets a fresh session.
type refreshSession struct {
	dialer  ChannelDialer
	timeout time.Duration

	mu      sync.Mutex // serializes connect attempts, guards channel/state
	state   sessionState
	channel PushChannel
	idle    *time.Timer

	collectorsMu sync.Mutex
	collectors   map[string]*facetCollector
}

func newRefreshSession(dialer ChannelDialer, timeout time.Duration) *refreshSession {
	return &refreshSession{
		dialer:     dialer,
		timeout:    timeout,
		collectors: make(map[string]*facetCollector),
	}
}

// facetCollector accumulates push events for one serial during one
// refresh batch. Collectors are keyed by serial, so concurrent
// refreshes of distinct devices cannot touch each other's state.
type facetCollector struct {
	serial string
	state  refreshState

	mu         sync.Mutex
	want       map[Facet]bool
	received   []facetEvent // arrival order; last write wins per field
	seen       map[Facet]bool
	connected  *bool // from device_status connection-state deltas
	subscribed chan struct{}
	complete   chan struct{}
}

type facetEvent struct {
	facet   Facet
	payload *statusPayload
}

// ensureChannel returns the shared channel, dialing it if needed. Only
// one connect attempt is ever in flight: concurrent callers block on
// the mutex and reuse the attempt's outcome.
func (s *refreshSession) ensureChannel(ctx context.Context, socketURL, token string) (PushChannel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.channel != nil {
		s.touchLocked()
		return s.channel, nil
	}
	if s.dialer == nil {
		return nil, ErrRefreshUnsupported
	}

	s.state = sessionConnecting
	ch, err := s.dialer(ctx, socketURL, token)
	if err != nil {
		s.state = sessionDisconnected
		return nil, fmt.Errorf("%w (connect: %v)", ErrRefreshTimeout, err)
	}

	ch.On(eventSubscribed, s.onSubscribed)
	ch.On(eventDeviceUpdate, s.onDeviceUpdate)
	ch.On(eventDeviceStatus, s.onDeviceStatus)

	s.channel = ch
	s.state = sessionConnected
	s.touchLocked()
	return ch, nil
}

// touchLocked (re)arms the idle teardown timer. Callers hold s.mu.
func (s *refreshSession) touchLocked() {
	if s.idle != nil {
		s.idle.Stop()
	}
	s.idle = time.AfterFunc(sessionIdleTimeout, s.close)
}

// drop discards a channel that failed mid-use so the next refresh
// redials instead of reusing a dead connection.
func (s *refreshSession) drop(ch PushChannel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.channel == ch {
		s.channel = nil
		s.state = sessionDisconnected
		_ = ch.Close()
	}
}

func (s *refreshSession) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.idle != nil {
		s.idle.Stop()
		s.idle = nil
	}
	if s.channel != nil {
		_ = s.channel.Close()
		s.channel = nil
	}
	s.state = sessionDisconnected
}

func (s *refreshSession) register(serial string, facets []Facet) *facetCollector {
	col := &facetCollector{
		serial:     serial,
		state:      refreshSubscribing,
		want:       make(map[Facet]bool, len(facets)),
		seen:       make(map[Facet]bool, len(facets)),
		subscribed: make(chan struct{}),
		complete:   make(chan struct{}),
	}
	for _, f := range facets {
		col.want[f] = true
	}
	s.collectorsMu.Lock()
	s.collectors[serial] = col
	s.collectorsMu.Unlock()
	return col
}

// deregister removes the collector. Facet events arriving after this
// point are late by definition and are discarded, not merged: the
// caller's snapshot has already been returned.
func (s *refreshSession) deregister(serial string) {
	s.collectorsMu.Lock()
	delete(s.collectors, serial)
	s.collectorsMu.Unlock()
}

func (s *refreshSession) lookup(serial string) *facetCollector {
	s.collectorsMu.Lock()
	defer s.collectorsMu.Unlock()
	return s.collectors[serial]
}

func (s *refreshSession) onSubscribed(data json.RawMessage) {
	var serial string
	if err := json.Unmarshal(data, &serial); err != nil {
		// Some deployments ack with an object instead of a bare string.
		var obj struct {
			DeviceSerial string `json:"deviceSerial"`
		}
		if json.Unmarshal(data, &obj) != nil || obj.DeviceSerial == "" {
			return
		}
		serial = obj.DeviceSerial
	}
	col := s.lookup(serial)
	if col == nil {
		return
	}
	col.markSubscribed()
}

func (s *refreshSession) onDeviceUpdate(data json.RawMessage) {
	payload, err := decodeStatusPayload(data)
	if err != nil {
		log.Printf("kumo: discarding undecodable device_update: %v", err)
		return
	}
	flat := flatten(payload)
	serial := firstNonEmpty(flat.DeviceSerial, flat.Serial)
	if serial == "" {
		return
	}
	col := s.lookup(serial)
	if col == nil {
		// Unsubscribed serial or a facet that arrived after its batch
		// deadline; either way it no longer has a home.
		return
	}
	facet, ok := classifyFacet(payload)
	if !ok {
		return
	}
	col.add(facet, payload)
}

func (s *refreshSession) onDeviceStatus(data json.RawMessage) {
	payload, err := decodeStatusPayload(data)
	if err != nil {
		return
	}
	flat := flatten(payload)
	serial := firstNonEmpty(flat.DeviceSerial, flat.Serial)
	if serial == "" || flat.Connected == nil {
		return
	}
	if col := s.lookup(serial); col != nil {
		col.setConnected(*flat.Connected)
	}
}

func (c *facetCollector) fail() {
	c.mu.Lock()
	c.state = refreshFailed
	c.mu.Unlock()
}

func (c *facetCollector) markSubscribed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == refreshSubscribing {
		c.state = refreshAwaitingFacets
		close(c.subscribed)
	}
}

func (c *facetCollector) add(facet Facet, payload *statusPayload) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.want[facet] {
		return
	}
	c.received = append(c.received, facetEvent{facet: facet, payload: payload})
	if !c.seen[facet] {
		c.seen[facet] = true
		if len(c.seen) == len(c.want) && c.state != refreshReconciled && c.state != refreshFailed {
			c.state = refreshReconciled
			close(c.complete)
		}
	}
}

func (c *facetCollector) setConnected(connected bool) {
	c.mu.Lock()
	c.connected = &connected
	c.mu.Unlock()
}

// snapshot returns the events collected so far, in arrival order.
func (c *facetCollector) snapshot() ([]facetEvent, *bool, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	events := make([]facetEvent, len(c.received))
	copy(events, c.received)
	return events, c.connected, len(c.seen)
}

// refreshOne runs the full per-device flow: subscribe, ack wait,
// forced-refresh emits, facet collection, reconcile. Every wait is
// bounded by ctx, which carries the batch's shared deadline. Failures
// never propagate as errors in the returned record's place; they
// degrade to the baseline with the condition noted in RefreshErr.
func (s *refreshSession) refreshOne(ctx context.Context, socketURL, token string, baseline DeviceStatus, facets []Facet) DeviceStatus {
	if len(facets) == 0 {
		facets = []Facet{FacetIUStatus}
	}

	ch, err := s.ensureChannel(ctx, socketURL, token)
	if err != nil {
		return degraded(baseline, err)
	}

	col := s.register(baseline.Serial, facets)
	defer s.deregister(baseline.Serial)

	if err := ch.Emit(eventSubscribe, baseline.Serial); err != nil {
		s.drop(ch)
		col.fail()
		return degraded(baseline, fmt.Errorf("%w (subscribe: %v)", ErrRefreshTimeout, err))
	}

	select {
	case <-col.subscribed:
	case <-ctx.Done():
		col.fail()
		return degraded(baseline, ErrRefreshTimeout)
	}

	for _, facet := range facets {
		if err := ch.Emit(eventForceRequest, baseline.Serial, string(facet)); err != nil {
			s.drop(ch)
			col.fail()
			return degraded(baseline, fmt.Errorf("%w (force refresh: %v)", ErrRefreshTimeout, err))
		}
	}

	select {
	case <-col.complete:
	case <-ctx.Done():
		// Deadline hit; reconcile whatever arrived.
	}

	events, connected, seen := col.snapshot()
	if seen == 0 {
		return degraded(baseline, ErrRefreshTimeout)
	}

	merged := baseline
	for _, ev := range events {
		merged = merged.withFacet(ev.facet, ev.payload)
	}
	if connected != nil {
		merged.Connected = *connected
	}
	if seen == len(facets) {
		merged.Provenance = ProvenanceFresh
	} else {
		merged.Provenance = ProvenancePartial
	}
	return merged
}

// refreshBatch refreshes several devices under one shared deadline.
// Waits for distinct devices run concurrently, not serialized.
func (s *refreshSession) refreshBatch(ctx context.Context, socketURL, token string, baselines []DeviceStatus, facets []Facet) []DeviceStatus {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	out := make([]DeviceStatus, len(baselines))
	var wg sync.WaitGroup
	for i, baseline := range baselines {
		wg.Add(1)
		go func(i int, baseline DeviceStatus) {
			defer wg.Done()
			out[i] = s.refreshOne(ctx, socketURL, token, baseline, facets)
		}(i, baseline)
	}
	wg.Wait()
	return out
}

func degraded(baseline DeviceStatus, err error) DeviceStatus {
	out := baseline
	out.Provenance = ProvenanceCache
	out.RefreshErr = err
	return out
}
