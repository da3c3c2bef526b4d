package conference

import (
	"context"

	"go.uber.org/zap"
	"mellium.im/xmpp/jid"

	"github.com/jitsi-focus-go/focus/internal/v1/bridge"
	"github.com/jitsi-focus-go/focus/internal/v1/iface"
	"github.com/jitsi-focus-go/focus/internal/v1/logging"
	"github.com/jitsi-focus-go/focus/internal/v1/metrics"
	"github.com/jitsi-focus-go/focus/internal/v1/participant"
	"github.com/jitsi-focus-go/focus/internal/v1/sourcemodel"
)

func (c *Conference) channelsInfoOf(p *participant.Participant) iface.ChannelsInfo {
	c.channelsMu.Lock()
	defer c.channelsMu.Unlock()
	return c.channels[p.EndpointID]
}

func (c *Conference) setChannelsInfoOf(p *participant.Participant, ci iface.ChannelsInfo) {
	c.channelsMu.Lock()
	defer c.channelsMu.Unlock()
	c.channels[p.EndpointID] = ci
}

func (c *Conference) clearChannelsInfoOf(p *participant.Participant) {
	c.channelsMu.Lock()
	defer c.channelsMu.Unlock()
	delete(c.channels, p.EndpointID)
}

// bridgeSessionFor returns the BridgeSession p is currently placed on,
// or nil.
func (c *Conference) bridgeSessionFor(p *participant.Participant) *bridge.Session {
	id := p.BridgeSessionID()
	if id == "" {
		return nil
	}
	c.bridgesLock.Lock()
	defer c.bridgesLock.Unlock()
	for _, bs := range c.bridges {
		if bs.BridgeJID().String() == id {
			return bs
		}
	}
	return nil
}

func (c *Conference) colibriOf(bs *bridge.Session) iface.ColibriConference {
	return c.collab.ColibriFor(bs.Handle)
}

// selectAndPlace picks a bridge for p per spec §4.7 and returns the
// BridgeSession it was placed on (creating one if this is the first
// placement on that bridge).
func (c *Conference) selectAndPlace(p *participant.Participant) (*bridge.Session, bool) {
	c.bridgesLock.Lock()
	defer c.bridgesLock.Unlock()

	view := iface.ConferenceView{}
	for _, bs := range c.bridges {
		view.Bridges = append(view.Bridges, bs.Handle)
	}

	chosen, ok := c.pickBridge(view)
	if !ok {
		return nil, false
	}

	for _, bs := range c.bridges {
		if bs.Handle.JID.String() == chosen.JID.String() {
			bs.Add(p)
			p.SetBridgeSessionID(bs.BridgeJID().String())
			return bs, true
		}
	}

	colibri := c.collab.ColibriFor(chosen)
	colibri.SetGID(c.GID)
	bs := bridge.NewSession(c.RoomID, chosen, colibri)
	bs.Add(p)
	p.SetBridgeSessionID(bs.BridgeJID().String())
	c.bridges = append(c.bridges, bs)
	metrics.ConferenceBridges.WithLabelValues(c.RoomID).Set(float64(len(c.bridges)))
	return bs, true
}

// pickBridge implements the enforced-bridge override, then delegates to
// the BridgeSelector for region/least-loaded tie-breaking (spec §4.7).
// Open-question decision: the load metric used for the final tie-break
// is left to the selector's own view (participant count it reports
// already placed) rather than re-derived here.
func (c *Conference) pickBridge(view iface.ConferenceView) (iface.Bridge, bool) {
	if c.cfg.EnforcedVideobridge != "" {
		if j, err := jid.SafeFromString(c.cfg.EnforcedVideobridge); err == nil {
			if b, ok := c.collab.Selector.GetBridge(j); ok {
				return b, true
			}
		}
	}
	return c.collab.Selector.SelectBridge(view, iface.ParticipantHint{})
}

// inviteParticipant selects a bridge, places p, re-evaluates Octo
// relays, and schedules a ChannelAllocator. A previously in-flight
// allocator for p is cancelled only after the new one has been
// installed (spec §5 Cancellation ordering).
func (c *Conference) inviteParticipant(ctx context.Context, p *participant.Participant, reInvite bool, startMutedAudio, startMutedVideo bool) {
	bs, ok := c.selectAndPlace(p)
	if !ok {
		if !c.bridgeNotAvailableWarned {
			_ = c.collab.Room.SetPresenceExtension("bridge-not-available", true)
			c.bridgeNotAvailableWarned = true
		}
		metrics.BridgeNotAvailableTotal.Inc()
		logging.Warn(ctx, "no bridge available, invite abandoned", zap.String("endpoint_id", p.EndpointID))
		return
	}

	c.updateOctoRelays(ctx)

	alloc := bridge.NewAllocator(bs, p, c.collab.Jingle, c, reInvite, startMutedAudio, startMutedVideo)
	alloc.OnAllocated(func(ci iface.ChannelsInfo) { c.setChannelsInfoOf(p, ci) })
	previous := p.SetAllocator(alloc)
	if previous != nil {
		previous.Cancel()
	}

	conferenceSources, conferenceGroups := c.conferenceWideSources(p)
	c.collab.Pool.Submit(func(taskCtx context.Context) {
		alloc.Run(taskCtx, nil, conferenceSources, conferenceGroups)
	})
}

// conferenceWideSources gathers every other participant's current
// sources/groups, tagged with owner, for inclusion in p's Jingle offer.
func (c *Conference) conferenceWideSources(p *participant.Participant) ([]sourcemodel.MediaSource, []sourcemodel.SourceGroup) {
	c.participantsLock.RLock()
	defer c.participantsLock.RUnlock()

	var sources []sourcemodel.MediaSource
	var groups []sourcemodel.SourceGroup
	for _, other := range c.participants {
		if other.EndpointID == p.EndpointID {
			continue
		}
		sources = append(sources, other.Sources().AllSources()...)
		groups = append(groups, other.Sources().AllGroups()...)
	}
	return sources, groups
}

// updateOctoRelays recomputes each BridgeSession's remote-relay list
// whenever the bridge set changes (spec §4.8).
func (c *Conference) updateOctoRelays(ctx context.Context) {
	c.bridgesLock.Lock()
	sessions := append([]*bridge.Session(nil), c.bridges...)
	c.bridgesLock.Unlock()

	if len(sessions) <= 1 {
		return
	}
	var allRelays []string
	for _, bs := range sessions {
		if bs.Handle.RelayID != "" {
			allRelays = append(allRelays, bs.Handle.RelayID)
		}
	}
	for _, bs := range sessions {
		if err := bs.SetRelays(ctx, allRelays); err != nil {
			logging.Warn(ctx, "failed to update octo relays", zap.String("bridge", bs.BridgeJID().String()), zap.Error(err))
		}
		_ = bs.EstablishOcto(ctx)
	}
}

// disposeEmptyBridgeSessions implements the open-question decision:
// eagerly dispose a bridge session once it has no participants left,
// provided more than one bridge remains in use afterward (so a
// single-bridge conference is never left with zero sessions mid-stream).
func (c *Conference) disposeEmptyBridgeSessions(ctx context.Context) {
	c.bridgesLock.Lock()
	if len(c.bridges) <= 1 {
		c.bridgesLock.Unlock()
		return
	}
	var kept []*bridge.Session
	var toDispose []*bridge.Session
	for _, bs := range c.bridges {
		if bs.Count() == 0 {
			toDispose = append(toDispose, bs)
		} else {
			kept = append(kept, bs)
		}
	}
	if len(kept) <= 1 {
		// Disposing would leave at most one bridge in use; keep them all.
		c.bridgesLock.Unlock()
		return
	}
	c.bridges = kept
	c.bridgesLock.Unlock()

	for _, bs := range toDispose {
		bs.Dispose(ctx)
	}
	metrics.ConferenceBridges.WithLabelValues(c.RoomID).Set(float64(len(kept)))
	if len(toDispose) > 0 {
		c.updateOctoRelays(ctx)
	}
}

// displaceBridge implements onBridgeDown for a specific session that
// has already been marked failed (whether by an external BRIDGE_DOWN
// event or by OnChannelAllocationFailed).
func (c *Conference) displaceBridge(ctx context.Context, bs *bridge.Session) {
	c.bridgesLock.Lock()
	kept := make([]*bridge.Session, 0, len(c.bridges))
	for _, s := range c.bridges {
		if s != bs {
			kept = append(kept, s)
		}
	}
	c.bridges = kept
	c.bridgesLock.Unlock()

	displaced := bs.TerminateAll(ctx, c.channelsInfoOf)
	metrics.ParticipantsMoved.WithLabelValues("bridge_failure").Add(float64(len(displaced)))
	metrics.ConferenceBridges.WithLabelValues(c.RoomID).Set(float64(len(kept)))

	c.updateOctoRelays(ctx)

	for _, p := range displaced {
		previous := p.CurrentAllocator()
		audio, video := c.hasToStartMuted(p, false)
		c.inviteParticipant(ctx, p, true, audio, video)
		if previous != nil {
			previous.Cancel()
		}
	}
}

// OnBridgeDown is the iface.BridgeSelector.OnBridgeDown callback,
// registered against the selector in joinRoom.
func (c *Conference) OnBridgeDown(bridgeJID jid.JID) {
	ctx := context.Background()
	c.bridgesLock.Lock()
	var match *bridge.Session
	for _, bs := range c.bridges {
		if bs.BridgeJID().String() == bridgeJID.String() {
			match = bs
			break
		}
	}
	c.bridgesLock.Unlock()
	if match == nil {
		return
	}
	match.MarkFailed()
	c.displaceBridge(ctx, match)
}

// OnBridgeUp is the iface.BridgeSelector.OnBridgeUp callback, registered
// against the selector in joinRoom.
func (c *Conference) OnBridgeUp(bridgeJID jid.JID) {
	ctx := context.Background()
	c.bridgesLock.Lock()
	hasBridge := len(c.bridges) > 0
	c.bridgesLock.Unlock()

	if hasBridge || !c.checkMinParticipants() {
		return
	}
	c.restartConference(ctx)
}

// restartConference disposes every bridge session, cancels all
// in-flight allocators, and re-invites every participant.
func (c *Conference) restartConference(ctx context.Context) {
	c.bridgesLock.Lock()
	sessions := append([]*bridge.Session(nil), c.bridges...)
	c.bridges = nil
	c.bridgesLock.Unlock()

	c.participantsLock.RLock()
	all := make([]*participant.Participant, 0, len(c.participants))
	for _, p := range c.participants {
		all = append(all, p)
	}
	c.participantsLock.RUnlock()

	for _, p := range all {
		if a := p.CurrentAllocator(); a != nil {
			a.Cancel()
		}
	}
	for _, bs := range sessions {
		bs.Dispose(ctx)
	}
	metrics.ConferenceBridges.WithLabelValues(c.RoomID).Set(0)

	for _, p := range all {
		audio, video := c.hasToStartMuted(p, false)
		c.inviteParticipant(ctx, p, true, audio, video)
	}
}

// disposeAllBridges disposes every bridge session without re-inviting
// anyone (used on conference stop and single-participant timeout).
func (c *Conference) disposeAllBridges(ctx context.Context) {
	c.bridgesLock.Lock()
	sessions := append([]*bridge.Session(nil), c.bridges...)
	c.bridges = nil
	c.bridgesLock.Unlock()

	for _, bs := range sessions {
		bs.Dispose(ctx)
	}
	metrics.ConferenceBridges.WithLabelValues(c.RoomID).Set(0)
}

