package bridge

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/jitsi-focus-go/focus/internal/v1/focuserr"
	"github.com/jitsi-focus-go/focus/internal/v1/iface"
	"github.com/jitsi-focus-go/focus/internal/v1/logging"
	"github.com/jitsi-focus-go/focus/internal/v1/metrics"
	"github.com/jitsi-focus-go/focus/internal/v1/participant"
	"github.com/jitsi-focus-go/focus/internal/v1/sourcemodel"
)

// FailureSink receives notification that a ChannelAllocator could not
// complete its COLIBRI allocation (spec §4.4: "invoke
// conference.onChannelAllocationFailed(this)").
type FailureSink interface {
	OnChannelAllocationFailed(a *Allocator)
}

// Allocator is the asynchronous task that allocates COLIBRI channels for
// a participant (or for Octo) on a specific bridge and sends the Jingle
// offer. It implements participant.Allocator so Participant.SetAllocator
// accepts it directly.
type Allocator struct {
	session     *Session
	participant *participant.Participant
	jingle      iface.JingleChannel
	onFailure   FailureSink

	reInvite        bool
	startMutedAudio bool
	startMutedVideo bool
	octo            bool

	// onAllocated, if set, is invoked with the ChannelsInfo produced by a
	// successful CreateChannels call so the caller (Conference) can
	// associate it with the participant for later UpdateChannels/
	// MuteParticipant calls.
	onAllocated func(iface.ChannelsInfo)

	cancelled atomic.Bool
}

// NewAllocator constructs an Allocator for participant p on session,
// using jingle to deliver the resulting offer. onFailure is notified on
// COLIBRI failure.
func NewAllocator(session *Session, p *participant.Participant, jingle iface.JingleChannel, onFailure FailureSink, reInvite, startMutedAudio, startMutedVideo bool) *Allocator {
	return &Allocator{
		session:         session,
		participant:     p,
		jingle:          jingle,
		onFailure:       onFailure,
		reInvite:        reInvite,
		startMutedAudio: startMutedAudio,
		startMutedVideo: startMutedVideo,
	}
}

// Cancel sets the one-shot cancellation flag. Checked at every
// suspension point inside Run.
func (a *Allocator) Cancel() {
	a.cancelled.Store(true)
}

// IsCancelled reports whether Cancel has been called.
func (a *Allocator) IsCancelled() bool {
	return a.cancelled.Load()
}

// IsReInvite reports whether this allocator is re-placing an already
// seen participant (transport-replace) rather than a first placement
// (session-initiate).
func (a *Allocator) IsReInvite() bool { return a.reInvite }

// GetStartMuted returns the (audio, video) start-muted flags computed
// for this placement.
func (a *Allocator) GetStartMuted() (audio, video bool) { return a.startMutedAudio, a.startMutedVideo }

// GetParticipant returns the participant this allocator is placing.
func (a *Allocator) GetParticipant() *participant.Participant { return a.participant }

// GetBridgeSession returns the bridge session this allocator is
// targeting.
func (a *Allocator) GetBridgeSession() *Session { return a.session }

// OnAllocated installs a callback invoked with the ChannelsInfo produced
// by a successful CreateChannels call.
func (a *Allocator) OnAllocated(f func(iface.ChannelsInfo)) { a.onAllocated = f }

// Run performs the allocation. It is idempotent with respect to
// cancellation: if Cancel was called before or during the COLIBRI
// round-trip, any channels already allocated are expired before Run
// returns, and no Jingle stanza is sent.
func (a *Allocator) Run(ctx context.Context, rtpDescs []iface.RtpDescription, conferenceSources []sourcemodel.MediaSource, conferenceGroups []sourcemodel.SourceGroup) {
	kind := "participant"
	if a.octo {
		kind = "octo"
	}
	timer := metrics.AllocationDuration.WithLabelValues(kind)
	start := time.Now()
	defer func() { timer.Observe(time.Since(start).Seconds()) }()

	if a.IsCancelled() {
		metrics.AllocationsTotal.WithLabelValues(kind, "cancelled").Inc()
		return
	}

	transport := a.participant.Transport()
	var bundleTransport any
	if transport != nil {
		bundleTransport = *transport
	}

	ci, err := a.session.colibri.CreateChannels(ctx, a.participant.EndpointID, true, rtpDescs)
	if err != nil {
		metrics.AllocationsTotal.WithLabelValues(kind, "error").Inc()
		logging.Warn(ctx, "colibri channel creation failed",
			zap.String("endpoint_id", a.participant.EndpointID),
			zap.String("bridge", a.session.Handle.JID.String()),
			zap.Error(err))
		if a.onFailure != nil {
			a.onFailure.OnChannelAllocationFailed(a)
		}
		return
	}
	if a.onAllocated != nil {
		a.onAllocated(ci)
	}

	if a.IsCancelled() {
		_ = a.session.colibri.ExpireChannels(ctx, ci)
		metrics.AllocationsTotal.WithLabelValues(kind, "cancelled").Inc()
		return
	}

	if err := a.session.colibri.UpdateChannelsInfo(ctx, ci, rtpDescs, conferenceSources, conferenceGroups, bundleTransport, a.participant.EndpointID, a.session.currentRelays()); err != nil {
		metrics.AllocationsTotal.WithLabelValues(kind, "error").Inc()
		if a.onFailure != nil {
			a.onFailure.OnChannelAllocationFailed(a)
		}
		return
	}

	if a.IsCancelled() {
		_ = a.session.colibri.ExpireChannels(ctx, ci)
		metrics.AllocationsTotal.WithLabelValues(kind, "cancelled").Inc()
		return
	}

	var sendErr error
	if a.reInvite {
		sendErr = a.jingle.SendTransportReplace(ctx, sessionIDOf(a.participant), rtpDescs)
	} else {
		_, sendErr = a.jingle.InitiateSession(ctx, true, a.participant.RoomAddress, rtpDescs, a.startMutedAudio, a.startMutedVideo)
	}
	if sendErr != nil {
		metrics.AllocationsTotal.WithLabelValues(kind, "error").Inc()
		logging.Warn(ctx, "jingle offer delivery failed",
			zap.String("endpoint_id", a.participant.EndpointID),
			zap.Error(sendErr))
		if a.onFailure != nil {
			a.onFailure.OnChannelAllocationFailed(a)
		}
		return
	}

	metrics.AllocationsTotal.WithLabelValues(kind, "success").Inc()
}

func sessionIDOf(p *participant.Participant) string {
	if s := p.JingleSession(); s != nil {
		return s.SID
	}
	return ""
}

// Failure wraps a bridge allocation error as the internal KindBridgeFailure
// kind, matching spec §4.4's "Failure-kind: BRIDGE_FAILURE (no bridge
// could accept the allocation)".
func Failure(endpointID string, cause error) error {
	return focuserr.Wrap(focuserr.KindBridgeFailure, cause, "channel allocation failed for %s", endpointID)
}
