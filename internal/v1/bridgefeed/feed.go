// Package bridgefeed is a reference BridgeSelector implementation: a
// websocket client per known videobridge that consumes its
// stats/event feed and turns connect/disconnect and load frames into
// BRIDGE_UP/BRIDGE_DOWN events plus a region-then-least-loaded
// selection policy (spec §4.7's Open Question decision).
//
// Grounded on the teacher's transport.Client read/write pump pair
// (internal/v1/transport/client.go): one goroutine reading frames off
// a websocket connection and dispatching them, generalized here from
// "per-browser-client signalling" to "per-bridge stats feed".
package bridgefeed

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"mellium.im/xmpp/jid"

	"github.com/jitsi-focus-go/focus/internal/v1/iface"
	"github.com/jitsi-focus-go/focus/internal/v1/logging"
)

// statFrame is one JSON message on a bridge's stats websocket.
type statFrame struct {
	Type          string `json:"type"` // "hello", "stats", "bye"
	RelayID       string `json:"relay_id,omitempty"`
	Region        string `json:"region,omitempty"`
	ParticipantCt int    `json:"participants,omitempty"`
}

type trackedBridge struct {
	handle   iface.Bridge
	alive    bool
	lastLoad int
	conn     *websocket.Conn
}

// Router aggregates one feed connection per bridge and implements
// iface.BridgeSelector over the aggregate.
type Router struct {
	mu       sync.Mutex
	bridges  map[string]*trackedBridge // keyed by JID string
	upHandlers   []func(jid.JID)
	downHandlers []func(jid.JID)
}

// NewRouter constructs an empty Router. Call Watch for each known
// bridge's stats endpoint.
func NewRouter() *Router {
	return &Router{bridges: make(map[string]*trackedBridge)}
}

// Watch dials a bridge's stats websocket and tracks it under j/relayID/region.
// The read pump runs until ctx is cancelled or the connection drops; on
// either, the bridge is marked down and OnBridgeDown fires.
func (r *Router) Watch(ctx context.Context, j jid.JID, url, relayID, region string) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return err
	}

	handle := iface.Bridge{JID: j, RelayID: relayID, Region: region}
	tb := &trackedBridge{handle: handle, conn: conn}

	r.mu.Lock()
	r.bridges[j.String()] = tb
	r.mu.Unlock()

	r.markUp(j)

	go r.readPump(ctx, j, tb)
	return nil
}

func (r *Router) readPump(ctx context.Context, j jid.JID, tb *trackedBridge) {
	defer func() {
		tb.conn.Close()
		r.markDown(j)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, data, err := tb.conn.ReadMessage()
		if err != nil {
			logging.Warn(ctx, "bridge stats feed read failed", zap.String("bridge", j.String()), zap.Error(err))
			return
		}

		var frame statFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			continue
		}

		switch frame.Type {
		case "bye":
			return
		case "stats":
			r.mu.Lock()
			tb.lastLoad = frame.ParticipantCt
			r.mu.Unlock()
		}
	}
}

func (r *Router) markUp(j jid.JID) {
	r.mu.Lock()
	if tb, ok := r.bridges[j.String()]; ok {
		tb.alive = true
	}
	handlers := append([]func(jid.JID)(nil), r.upHandlers...)
	r.mu.Unlock()
	for _, h := range handlers {
		h(j)
	}
}

func (r *Router) markDown(j jid.JID) {
	r.mu.Lock()
	if tb, ok := r.bridges[j.String()]; ok {
		tb.alive = false
	}
	handlers := append([]func(jid.JID)(nil), r.downHandlers...)
	r.mu.Unlock()
	for _, h := range handlers {
		h(j)
	}
}

// SelectBridge implements iface.BridgeSelector: prefer an alive bridge
// matching hint.Region, tie-broken by lowest last-observed load; fall
// back to any alive bridge if no region match exists.
func (r *Router) SelectBridge(view iface.ConferenceView, hint iface.ParticipantHint) (iface.Bridge, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var best *trackedBridge
	var bestRegionMatch *trackedBridge
	for _, tb := range r.bridges {
		if !tb.alive {
			continue
		}
		if best == nil || tb.lastLoad < best.lastLoad {
			best = tb
		}
		if hint.Region != "" && tb.handle.Region == hint.Region {
			if bestRegionMatch == nil || tb.lastLoad < bestRegionMatch.lastLoad {
				bestRegionMatch = tb
			}
		}
	}
	if bestRegionMatch != nil {
		bestRegionMatch.lastLoad++
		return bestRegionMatch.handle, true
	}
	if best != nil {
		best.lastLoad++
		return best.handle, true
	}
	return iface.Bridge{}, false
}

// GetBridge returns the tracked handle for j, alive or not (used by the
// enforced-videobridge override, which bypasses liveness filtering).
func (r *Router) GetBridge(j jid.JID) (iface.Bridge, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tb, ok := r.bridges[j.String()]
	if !ok {
		return iface.Bridge{}, false
	}
	return tb.handle, true
}

// UpdateBridgeOperationalStatus lets a caller force a bridge's liveness
// (e.g. an external health probe), independent of the feed connection.
func (r *Router) UpdateBridgeOperationalStatus(j jid.JID, alive bool) {
	r.mu.Lock()
	tb, ok := r.bridges[j.String()]
	if ok {
		tb.alive = alive
	}
	r.mu.Unlock()
	if !ok {
		return
	}
	if alive {
		r.markUp(j)
	} else {
		r.markDown(j)
	}
}

func (r *Router) OnBridgeUp(handler func(j jid.JID)) (unregister func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.upHandlers = append(r.upHandlers, handler)
	idx := len(r.upHandlers) - 1
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.upHandlers[idx] = func(jid.JID) {}
	}
}

func (r *Router) OnBridgeDown(handler func(j jid.JID)) (unregister func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.downHandlers = append(r.downHandlers, handler)
	idx := len(r.downHandlers) - 1
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.downHandlers[idx] = func(jid.JID) {}
	}
}

// Close disconnects every tracked bridge feed.
func (r *Router) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, tb := range r.bridges {
		if tb.conn != nil {
			_ = tb.conn.Close()
		}
	}
}
