package conference

import (
	"context"

	"go.uber.org/zap"

	"github.com/jitsi-focus-go/focus/internal/v1/bridge"
	"github.com/jitsi-focus-go/focus/internal/v1/focuserr"
	"github.com/jitsi-focus-go/focus/internal/v1/iface"
	"github.com/jitsi-focus-go/focus/internal/v1/logging"
	"github.com/jitsi-focus-go/focus/internal/v1/participant"
	"github.com/jitsi-focus-go/focus/internal/v1/sourcemodel"
)

// handleMemberJoin is the MucRoom.OnMemberJoin callback.
func (c *Conference) handleMemberJoin(ctx context.Context, m iface.Member) {
	p, isNew := c.trackParticipant(m)
	c.setIdleNow()
	c.roleMgr.OnMemberJoin(ctx, m)
	c.armOrDisarmSingleParticipantTimeout()

	if !isNew {
		return
	}

	if c.State() == StateActive {
		audio, video := c.hasToStartMuted(p, true)
		c.inviteParticipant(ctx, p, false, audio, video)
		return
	}
	if c.checkMinParticipants() {
		c.readyToStart(ctx)
	}
}

// handleMemberLeave is the MucRoom.OnMemberLeave/OnMemberKicked callback.
func (c *Conference) handleMemberLeave(ctx context.Context, m iface.Member, kicked bool) {
	c.participantsLock.RLock()
	p, ok := c.participants[m.JID.String()]
	c.participantsLock.RUnlock()

	c.participantsLock.RLock()
	remaining := make([]iface.Member, 0, len(c.participants))
	for _, other := range c.participants {
		if other.EndpointID != m.JID.String() {
			remaining = append(remaining, iface.Member{JID: other.RoomAddress})
		}
	}
	c.participantsLock.RUnlock()
	c.roleMgr.OnMemberLeave(ctx, m, remaining)

	if !ok {
		return
	}

	reason := "left"
	if kicked {
		reason = "kicked"
	}
	c.terminateParticipant(ctx, p, reason)

	c.participantsLock.RLock()
	n := len(c.participants)
	c.participantsLock.RUnlock()

	if n == 1 {
		c.armOrDisarmSingleParticipantTimeout()
	} else if n == 0 {
		c.markIdleFrom(nowFunc())
		c.stop(ctx)
	}
}

// OnSessionAccept handles an inbound Jingle session-accept from p.
func (c *Conference) OnSessionAccept(ctx context.Context, endpointID string, answer []iface.RtpDescription, sources []sourcemodel.MediaSource, groups []sourcemodel.SourceGroup, transport []participant.JingleContent) error {
	p := c.lookupParticipant(endpointID)
	if p == nil {
		return focuserr.New(focuserr.KindRoomNotFound, "no such participant %s", endpointID)
	}

	p.SetJingleSession(&participant.JingleSession{SID: endpointID, State: participant.JingleAccepted})
	p.AddTransportFromJingle(transport)

	claimed := p.ClaimSources(sources)
	added, addedGroups, err := c.sourceModel.TryAdd(p.RoomAddress, p.Sources(), claimed, groups)
	if err != nil {
		return err
	}

	if bs := c.bridgeSessionFor(p); bs != nil {
		ci := c.channelsInfoOf(p)
		_ = bs.UpdateChannels(ctx, p, ci, nil)
	}

	c.propagateSourcesAdded(ctx, p, added, addedGroups)
	c.flushPending(ctx, p)
	return nil
}

// OnSourceAdd handles an inbound source-add from p.
func (c *Conference) OnSourceAdd(ctx context.Context, endpointID string, sources []sourcemodel.MediaSource, groups []sourcemodel.SourceGroup) error {
	p := c.lookupParticipant(endpointID)
	if p == nil {
		return focuserr.New(focuserr.KindRoomNotFound, "no such participant %s", endpointID)
	}
	claimed := p.ClaimSources(sources)
	added, addedGroups, err := c.sourceModel.TryAdd(p.RoomAddress, p.Sources(), claimed, groups)
	if err != nil {
		return err
	}
	if len(added) == 0 && len(addedGroups) == 0 {
		logging.Warn(ctx, "duplicate source-add ignored", zap.String("endpoint_id", endpointID))
		return nil
	}
	if bs := c.bridgeSessionFor(p); bs != nil {
		ci := c.channelsInfoOf(p)
		_ = bs.UpdateChannels(ctx, p, ci, nil)
	}
	c.propagateSourcesAdded(ctx, p, added, addedGroups)
	return nil
}

// OnSourceRemove handles an inbound source-remove from p.
func (c *Conference) OnSourceRemove(ctx context.Context, endpointID string, sources []sourcemodel.MediaSource, groups []sourcemodel.SourceGroup) error {
	p := c.lookupParticipant(endpointID)
	if p == nil {
		return focuserr.New(focuserr.KindRoomNotFound, "no such participant %s", endpointID)
	}
	removed, removedGroups := c.sourceModel.Remove(p.RoomAddress, p.Sources(), sources, groups)
	if bs := c.bridgeSessionFor(p); bs != nil {
		ci := c.channelsInfoOf(p)
		_ = bs.UpdateChannels(ctx, p, ci, nil)
	}
	c.propagateSourcesRemoved(ctx, p, removed, removedGroups)
	return nil
}

// OnTransportInfo handles inbound transport-info: store on p, push to
// its bridge if already placed, otherwise drop (resent on placement).
func (c *Conference) OnTransportInfo(ctx context.Context, endpointID string, contents []participant.JingleContent) {
	p := c.lookupParticipant(endpointID)
	if p == nil {
		return
	}
	p.AddTransportFromJingle(contents)
	if bs := c.bridgeSessionFor(p); bs != nil {
		if t := p.Transport(); t != nil {
			_ = bs.UpdateChannels(ctx, p, c.channelsInfoOf(p), nil)
		}
	}
}

// OnTransportAccept is identical to OnTransportInfo but also marks the
// Jingle session accepted.
func (c *Conference) OnTransportAccept(ctx context.Context, endpointID string, contents []participant.JingleContent) {
	p := c.lookupParticipant(endpointID)
	if p == nil {
		return
	}
	c.OnTransportInfo(ctx, endpointID, contents)
	if s := p.JingleSession(); s != nil {
		s.State = participant.JingleAccepted
		p.SetJingleSession(s)
	}
}

// OnTransportReject logs and lets the bridge-side channels auto-expire
// (spec REDESIGN decision: no re-invite is triggered).
func (c *Conference) OnTransportReject(ctx context.Context, endpointID string) {
	logging.Warn(ctx, "transport-reject received, channels will auto-expire", zap.String("endpoint_id", endpointID))
}

// OnMuteRequest handles an inbound mute-audio/mute-video request.
func (c *Conference) OnMuteRequest(ctx context.Context, from, target string, mediaType sourcemodel.MediaType, mute bool, fromIsModerator bool) error {
	if from != target && !fromIsModerator {
		return focuserr.New(focuserr.KindNotAllowed, "only a moderator may mute another participant")
	}
	if from != target && !mute {
		return focuserr.New(focuserr.KindNotAllowed, "only the participant itself may unmute")
	}

	p := c.lookupParticipant(target)
	if p == nil {
		return focuserr.New(focuserr.KindRoomNotFound, "no such participant %s", target)
	}

	changed := p.SetMuted(mediaType, mute)
	if !changed {
		return nil
	}
	if bs := c.bridgeSessionFor(p); bs != nil {
		ci := c.channelsInfoOf(p)
		collab := bs // alias for clarity
		_, err := c.colibriOf(collab).MuteParticipant(ctx, ci, mute)
		if err != nil {
			return focuserr.Wrap(focuserr.KindBridgeFailure, err, "failed to update channel direction for %s", target)
		}
	}
	return nil
}

func (c *Conference) lookupParticipant(endpointID string) *participant.Participant {
	c.participantsLock.RLock()
	defer c.participantsLock.RUnlock()
	return c.participants[endpointID]
}

// OnChannelAllocationFailed implements bridge.FailureSink: mark the
// bridge session failed and displace its participants as on bridge-down
// (spec §7).
func (c *Conference) OnChannelAllocationFailed(a *bridge.Allocator) {
	bs := a.GetBridgeSession()
	bs.MarkFailed()
	ctx := context.Background()
	logging.Warn(ctx, "bridge allocation failed, displacing participants",
		zap.String("room_id", c.RoomID), zap.String("bridge", bs.BridgeJID().String()))
	c.displaceBridge(ctx, bs)
}
