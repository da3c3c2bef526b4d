// Package registry implements ConferenceRegistry: the process-wide map
// of live conferences keyed by room id, GID allocation/uniqueness, the
// idle-sweep loop, and graceful shutdown (spec §3, §5).
//
// Grounded on the teacher's session.Hub: a map + mutex registry that
// creates rooms on demand and cleans them up after a grace period
// (session/hub.go's getOrCreateRoom/removeRoom), generalized here to
// GID allocation and a periodic idle sweep instead of a single
// per-room cleanup timer.
package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jitsi-focus-go/focus/internal/v1/conference"
	"github.com/jitsi-focus-go/focus/internal/v1/events"
	"github.com/jitsi-focus-go/focus/internal/v1/gid"
	"github.com/jitsi-focus-go/focus/internal/v1/logging"
)

// GidLeaser is the optional cross-process GID uniqueness collaborator
// (internal/registryredis). A nil GidLeaser means single-process
// uniqueness only.
type GidLeaser interface {
	// TryLease attempts to claim gid cross-process. ok is false if
	// another process already holds it.
	TryLease(ctx context.Context, gid uint32) (ok bool, err error)
	// Release gives up a previously leased gid.
	Release(ctx context.Context, gid uint32)
}

// Factory builds the Collaborators for a newly created conference. The
// registry itself knows nothing about XMPP, MUC, or bridges — it only
// owns lifecycle and lookup.
type Factory func(roomID string) conference.Collaborators

const sweepInterval = 5 * time.Second

// Registry is the ConferenceRegistry described in spec §3/§5.
type Registry struct {
	mu          sync.Mutex
	conferences map[string]*conference.Conference
	gidsInUse   map[uint32]bool
	gidAlloc    *gid.Allocator
	leaser      GidLeaser

	cfg     conference.Config
	factory Factory

	sweepTicker *time.Ticker
	sweepDone   chan struct{}

	shuttingDown bool
	emptyCh      chan struct{}
}

// New constructs a Registry and starts its idle-sweep loop.
func New(shortID uint16, cfg conference.Config, factory Factory, leaser GidLeaser) *Registry {
	r := &Registry{
		conferences: make(map[string]*conference.Conference),
		gidsInUse:   make(map[uint32]bool),
		gidAlloc:    gid.New(shortID),
		leaser:      leaser,
		cfg:         cfg,
		factory:     factory,
		sweepTicker: time.NewTicker(sweepInterval),
		sweepDone:   make(chan struct{}),
		emptyCh:     make(chan struct{}, 1),
	}
	go r.sweepLoop()
	return r
}

// Count returns the number of conferences currently tracked.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conferences)
}

// Get returns the conference for roomID, if tracked.
func (r *Registry) Get(roomID string) (*conference.Conference, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conferences[roomID]
	return c, ok
}

// GetOrCreate returns the existing conference for roomID, or creates,
// starts, and tracks a new one. Conference construction and Start are
// performed outside the registry lock once the slot is reserved, so the
// process-wide lock is never held while invoking into a Conference
// (spec §5 locking order).
func (r *Registry) GetOrCreate(ctx context.Context, roomID string) (*conference.Conference, error) {
	r.mu.Lock()
	if r.shuttingDown {
		r.mu.Unlock()
		return nil, fmt.Errorf("registry is shutting down, refusing new conference %s", roomID)
	}
	if c, ok := r.conferences[roomID]; ok {
		r.mu.Unlock()
		return c, nil
	}
	g, err := r.allocateGID(ctx)
	if err != nil {
		r.mu.Unlock()
		return nil, err
	}
	r.mu.Unlock()

	bus := events.NewBus[conference.Ended]()
	c := conference.New(roomID, g, r.cfg, r.factory(roomID), bus)
	bus.Subscribe(func(ended conference.Ended) { r.onConferenceEnded(ended) })

	r.mu.Lock()
	r.conferences[roomID] = c
	r.mu.Unlock()

	if err := c.Start(ctx); err != nil {
		r.mu.Lock()
		delete(r.conferences, roomID)
		delete(r.gidsInUse, g)
		r.mu.Unlock()
		if r.leaser != nil {
			r.leaser.Release(ctx, g)
		}
		return nil, err
	}

	logging.Info(ctx, "conference created", zap.String("room_id", roomID), zap.Uint32("gid", g))
	return c, nil
}

// allocateGID picks a GID unique against the in-process set (and,
// when a leaser is configured, cross-process) and reserves it. Must be
// called with r.mu held.
func (r *Registry) allocateGID(ctx context.Context) (uint32, error) {
	for attempt := 0; attempt < 32; attempt++ {
		g := r.gidAlloc.Next()
		if r.gidsInUse[g] {
			continue
		}
		if r.leaser != nil {
			ok, err := r.leaser.TryLease(ctx, g)
			if err != nil {
				return 0, fmt.Errorf("gid lease failed: %w", err)
			}
			if !ok {
				continue
			}
		}
		r.gidsInUse[g] = true
		return g, nil
	}
	return 0, fmt.Errorf("failed to allocate a unique gid after 32 attempts")
}

// onConferenceEnded removes a conference once it reaches StateEnded,
// releasing its GID.
func (r *Registry) onConferenceEnded(ended conference.Ended) {
	ctx := context.Background()
	r.mu.Lock()
	delete(r.conferences, ended.RoomID)
	delete(r.gidsInUse, ended.GID)
	shuttingDown := r.shuttingDown
	remaining := len(r.conferences)
	r.mu.Unlock()

	if r.leaser != nil {
		r.leaser.Release(ctx, ended.GID)
	}
	logging.Info(ctx, "conference ended", zap.String("room_id", ended.RoomID), zap.Uint32("gid", ended.GID))

	if shuttingDown && remaining == 0 {
		select {
		case r.emptyCh <- struct{}{}:
		default:
		}
	}
}

// sweepLoop periodically terminates conferences that have been idle
// (no non-focus member present) longer than cfg.IdleTimeout.
func (r *Registry) sweepLoop() {
	for {
		select {
		case <-r.sweepDone:
			return
		case now := <-r.sweepTicker.C:
			r.sweepOnce(now)
		}
	}
}

func (r *Registry) sweepOnce(now time.Time) {
	r.mu.Lock()
	candidates := make([]*conference.Conference, 0, len(r.conferences))
	for _, c := range r.conferences {
		candidates = append(candidates, c)
	}
	r.mu.Unlock()

	for _, c := range candidates {
		if r.cfg.IdleTimeout > 0 && c.IdleFor(now) >= r.cfg.IdleTimeout {
			c.Stop(context.Background())
		}
	}
}

// EnableGracefulShutdown stops accepting new conferences, terminates
// every tracked conference, and blocks until the registry is empty or
// ctx is done.
func (r *Registry) EnableGracefulShutdown(ctx context.Context) error {
	r.mu.Lock()
	r.shuttingDown = true
	all := make([]*conference.Conference, 0, len(r.conferences))
	for _, c := range r.conferences {
		all = append(all, c)
	}
	empty := len(all) == 0
	r.mu.Unlock()

	r.sweepTicker.Stop()
	close(r.sweepDone)

	if empty {
		return nil
	}
	for _, c := range all {
		go c.Stop(ctx)
	}

	select {
	case <-r.emptyCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
