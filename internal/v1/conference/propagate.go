package conference

import (
	"context"

	"go.uber.org/zap"

	"github.com/jitsi-focus-go/focus/internal/v1/bridge"
	"github.com/jitsi-focus-go/focus/internal/v1/logging"
	"github.com/jitsi-focus-go/focus/internal/v1/metrics"
	"github.com/jitsi-focus-go/focus/internal/v1/participant"
	"github.com/jitsi-focus-go/focus/internal/v1/sourcemodel"
)

// propagateSourcesAdded delivers source-add to every other participant
// (immediately if established, else queued) and to every *other*
// BridgeSession's Octo pseudo-participant (spec §4.6, §4.8).
func (c *Conference) propagateSourcesAdded(ctx context.Context, from *participant.Participant, sources []sourcemodel.MediaSource, groups []sourcemodel.SourceGroup) {
	if len(sources) == 0 && len(groups) == 0 {
		return
	}

	c.participantsLock.RLock()
	peers := make([]*participant.Participant, 0, len(c.participants))
	for _, p := range c.participants {
		if p.EndpointID != from.EndpointID {
			peers = append(peers, p)
		}
	}
	c.participantsLock.RUnlock()

	for _, peer := range peers {
		if peer.HasEstablishedSession() {
			if s := peer.JingleSession(); s != nil {
				if err := c.collab.Jingle.SendAddSourceIQ(ctx, s.SID, sources, groups); err != nil {
					logging.Warn(ctx, "source-add delivery failed", zap.String("to", peer.EndpointID), zap.Error(err))
				}
			}
		} else {
			peer.ScheduleSourcesToAdd(sources)
		}
	}

	ownBridge := from.BridgeSessionID()
	for _, bs := range c.otherBridgeSessions(ownBridge) {
		if err := bs.AddSources(ctx, sources, groups); err != nil {
			logging.Warn(ctx, "octo source propagation failed", zap.String("bridge", bs.BridgeJID().String()), zap.Error(err))
		}
	}
}

// propagateSourcesRemoved is the source-remove analog of
// propagateSourcesAdded.
func (c *Conference) propagateSourcesRemoved(ctx context.Context, from *participant.Participant, sources []sourcemodel.MediaSource, groups []sourcemodel.SourceGroup) {
	if len(sources) == 0 && len(groups) == 0 {
		return
	}

	c.participantsLock.RLock()
	peers := make([]*participant.Participant, 0, len(c.participants))
	for _, p := range c.participants {
		if p.EndpointID != from.EndpointID {
			peers = append(peers, p)
		}
	}
	c.participantsLock.RUnlock()

	for _, peer := range peers {
		if peer.HasEstablishedSession() {
			if s := peer.JingleSession(); s != nil {
				if err := c.collab.Jingle.SendRemoveSourceIQ(ctx, s.SID, sources, groups); err != nil {
					logging.Warn(ctx, "source-remove delivery failed", zap.String("to", peer.EndpointID), zap.Error(err))
				}
			}
		} else {
			peer.ScheduleSourcesToRemove(sources)
		}
	}

	ownBridge := from.BridgeSessionID()
	for _, bs := range c.otherBridgeSessions(ownBridge) {
		if err := bs.RemoveSources(ctx, sources, groups); err != nil {
			logging.Warn(ctx, "octo source removal propagation failed", zap.String("bridge", bs.BridgeJID().String()), zap.Error(err))
		}
	}
}

func (c *Conference) otherBridgeSessions(exceptBridgeJID string) []*bridge.Session {
	c.bridgesLock.Lock()
	defer c.bridgesLock.Unlock()
	out := make([]*bridge.Session, 0, len(c.bridges))
	for _, bs := range c.bridges {
		if bs.BridgeJID().String() != exceptBridgeJID {
			out = append(out, bs)
		}
	}
	return out
}

// flushPending delivers p's queued source-add/remove deltas in
// insertion order immediately after its session-accept is processed,
// before any further delta from any source (spec §5 ordering guarantee).
func (c *Conference) flushPending(ctx context.Context, p *participant.Participant) {
	s := p.JingleSession()
	if s == nil {
		return
	}
	if p.HasSourcesToAdd() {
		adds := p.GetSourcesToAdd()
		if err := c.collab.Jingle.SendAddSourceIQ(ctx, s.SID, adds, nil); err != nil {
			logging.Warn(ctx, "flush pending source-add failed", zap.String("endpoint_id", p.EndpointID), zap.Error(err))
		}
		p.ClearSourcesToAdd()
	}
	if p.HasSourcesToRemove() {
		rems := p.GetSourcesToRemove()
		if err := c.collab.Jingle.SendRemoveSourceIQ(ctx, s.SID, rems, nil); err != nil {
			logging.Warn(ctx, "flush pending source-remove failed", zap.String("endpoint_id", p.EndpointID), zap.Error(err))
		}
		p.ClearSourcesToRemove()
	}
}

// terminateParticipant sends session-terminate (if established), removes
// p's sources from the conference model, propagates source-remove,
// terminates p on its bridge, and removes it from the participant set.
func (c *Conference) terminateParticipant(ctx context.Context, p *participant.Participant, reason string) {
	if s := p.JingleSession(); s != nil {
		_ = c.collab.Jingle.TerminateSession(ctx, s.SID, reason, "")
	}

	removed, removedGroups := c.sourceModel.Remove(p.RoomAddress, p.Sources(), p.Sources().AllSources(), p.Sources().AllGroups())
	c.propagateSourcesRemoved(ctx, p, removed, removedGroups)

	if bs := c.bridgeSessionFor(p); bs != nil {
		bs.Terminate(ctx, p, c.channelsInfoOf(p))
		c.clearChannelsInfoOf(p)
	}
	if a := p.CurrentAllocator(); a != nil {
		a.Cancel()
	}

	c.participantsLock.Lock()
	delete(c.participants, p.EndpointID)
	c.participantsLock.Unlock()

	metrics.ConferenceParticipants.WithLabelValues(c.RoomID).Dec()

	c.disposeEmptyBridgeSessions(ctx)
}

// stop transitions the conference to ENDED: deregisters room callbacks,
// disposes all bridge sessions, leaves the room, terminates all Jingle
// sessions, and publishes Ended.
func (c *Conference) stop(ctx context.Context) {
	c.transition(StateTerminating)

	c.participantsLock.RLock()
	all := make([]*participant.Participant, 0, len(c.participants))
	for _, p := range c.participants {
		all = append(all, p)
	}
	c.participantsLock.RUnlock()

	for _, p := range all {
		if s := p.JingleSession(); s != nil {
			_ = c.collab.Jingle.TerminateSession(ctx, s.SID, "conference ended", "")
		}
	}

	c.disposeAllBridges(ctx)

	for _, un := range c.unregister {
		un()
	}
	_ = c.collab.Room.Leave(ctx)

	c.idleMu.Lock()
	if c.singleTimer != nil {
		c.singleTimer.Stop()
	}
	c.idleMu.Unlock()

	c.transition(StateEnded)
	metrics.ActiveConferences.Dec()
	if c.events != nil {
		c.events.Publish(Ended{RoomID: c.RoomID, GID: c.GID})
	}
}

// Stop is the externally triggered graceful stop (e.g. registry
// shutdown).
func (c *Conference) Stop(ctx context.Context) {
	c.stop(ctx)
}
