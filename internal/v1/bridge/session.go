// Package bridge implements per-conference per-bridge state
// (BridgeSession), Octo inter-bridge relay wiring, and the
// ChannelAllocator that drives COLIBRI allocation plus the Jingle offer
// for one participant (spec §4.3, §4.4, §4.8).
package bridge

import (
	"context"
	"sync"

	"mellium.im/xmpp/jid"

	"github.com/jitsi-focus-go/focus/internal/v1/focuserr"
	"github.com/jitsi-focus-go/focus/internal/v1/iface"
	"github.com/jitsi-focus-go/focus/internal/v1/metrics"
	"github.com/jitsi-focus-go/focus/internal/v1/participant"
	"github.com/jitsi-focus-go/focus/internal/v1/sourcemodel"
)

// OctoParticipant is the pseudo-participant each BridgeSession maintains
// once more than one bridge is in use for a conference. It has its own
// SourceMap (the union of every other bridge's real participants'
// sources) and a remote-relay list.
type OctoParticipant struct {
	sources      *sourcemodel.SourceMap
	relays       []string
	channelsInfo *iface.ChannelsInfo // nil until the Octo session is established
	pendingAdd   []sourcemodel.MediaSource
	pendingRem   []sourcemodel.MediaSource
}

func newOctoParticipant() *OctoParticipant {
	return &OctoParticipant{sources: sourcemodel.NewSourceMap()}
}

// Session is one conference's placement of participants on a single
// bridge (videobridge/SFU).
type Session struct {
	mu sync.Mutex

	Handle    iface.Bridge
	colibri   iface.ColibriConference
	conferenceID string

	participants map[string]*participant.Participant // keyed by EndpointID
	octo         *OctoParticipant
	hasFailed    bool
}

// NewSession constructs a BridgeSession for handle, backed by colibri.
func NewSession(conferenceID string, handle iface.Bridge, colibri iface.ColibriConference) *Session {
	return &Session{
		Handle:       handle,
		colibri:      colibri,
		conferenceID: conferenceID,
		participants: make(map[string]*participant.Participant),
	}
}

// HasFailed reports whether this session was marked failed (allocation
// error or external bridge-down).
func (s *Session) HasFailed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasFailed
}

// MarkFailed sets the failed flag. Once set, Dispose and Terminate skip
// the COLIBRI expire round-trip (the bridge is presumed gone).
func (s *Session) MarkFailed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hasFailed = true
}

// Participants returns a snapshot of the participants placed on this
// session.
func (s *Session) Participants() []*participant.Participant {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*participant.Participant, 0, len(s.participants))
	for _, p := range s.participants {
		out = append(out, p)
	}
	return out
}

// Count returns the number of participants currently placed.
func (s *Session) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.participants)
}

// Add places p on this session.
func (s *Session) Add(p *participant.Participant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.participants[p.EndpointID] = p
}

// UpdateChannels sends the latest RTP description + sources + transport
// + endpoint id to the bridge for p via COLIBRI.
func (s *Session) UpdateChannels(ctx context.Context, p *participant.Participant, ci iface.ChannelsInfo, rtpDescs []iface.RtpDescription) error {
	sources := p.Sources().AllSources()
	groups := p.Sources().AllGroups()
	var transport any
	if t := p.Transport(); t != nil {
		transport = *t
	}
	return s.colibri.UpdateChannelsInfo(ctx, ci, rtpDescs, sources, groups, transport, p.EndpointID, s.currentRelays())
}

func (s *Session) currentRelays() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.octo == nil {
		return nil
	}
	return append([]string(nil), s.octo.relays...)
}

// ensureOcto lazily creates the Octo pseudo-participant's local state.
// It does not create COLIBRI channels; only EstablishOcto does, and until
// then AddSources/RemoveSources queue their deltas.
func (s *Session) ensureOcto() *OctoParticipant {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.octo == nil {
		s.octo = newOctoParticipant()
	}
	return s.octo
}

// AddSources replicates sources owned by a participant on a *different*
// bridge into this session's Octo pseudo-participant, pushing a COLIBRI
// update, or queuing if the Octo channels are not yet established.
func (s *Session) AddSources(ctx context.Context, sources []sourcemodel.MediaSource, groups []sourcemodel.SourceGroup) error {
	octo := s.ensureOcto()

	s.mu.Lock()
	for _, src := range sources {
		octo.sources.Put(src)
	}
	established := octo.channelsInfo != nil
	if !established {
		octo.pendingAdd = append(octo.pendingAdd, sources...)
		s.mu.Unlock()
		return nil
	}
	ci := *octo.channelsInfo
	s.mu.Unlock()

	if err := s.colibri.UpdateSourcesInfo(ctx, sources, groups, ci); err != nil {
		return focuserr.Wrap(focuserr.KindBridgeFailure, err, "octo add-sources update failed on bridge %s", s.Handle.JID)
	}
	return nil
}

// RemoveSources is the inverse of AddSources.
func (s *Session) RemoveSources(ctx context.Context, sources []sourcemodel.MediaSource, groups []sourcemodel.SourceGroup) error {
	octo := s.ensureOcto()

	s.mu.Lock()
	for _, src := range sources {
		octo.sources.Delete(src.Type, src.SSRC)
	}
	established := octo.channelsInfo != nil
	if !established {
		octo.pendingRem = append(octo.pendingRem, sources...)
		s.mu.Unlock()
		return nil
	}
	ci := *octo.channelsInfo
	s.mu.Unlock()

	if err := s.colibri.UpdateSourcesInfo(ctx, sources, groups, ci); err != nil {
		return focuserr.Wrap(focuserr.KindBridgeFailure, err, "octo remove-sources update failed on bridge %s", s.Handle.JID)
	}
	return nil
}

// EstablishOcto creates the Octo pseudo-participant's COLIBRI channels
// (first time this bridge needs relaying to at least one other bridge)
// and flushes any sources queued before establishment.
func (s *Session) EstablishOcto(ctx context.Context) error {
	octo := s.ensureOcto()

	s.mu.Lock()
	if octo.channelsInfo != nil {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	ci, err := s.colibri.CreateChannels(ctx, octoEndpointID(s.Handle), true, nil)
	if err != nil {
		return focuserr.Wrap(focuserr.KindBridgeFailure, err, "failed to establish octo channels on bridge %s", s.Handle.JID)
	}

	s.mu.Lock()
	octo.channelsInfo = &ci
	pendingAdd := octo.pendingAdd
	pendingRem := octo.pendingRem
	octo.pendingAdd = nil
	octo.pendingRem = nil
	s.mu.Unlock()

	if len(pendingAdd) > 0 {
		if err := s.colibri.UpdateSourcesInfo(ctx, pendingAdd, nil, ci); err != nil {
			return focuserr.Wrap(focuserr.KindBridgeFailure, err, "failed to flush queued octo sources on bridge %s", s.Handle.JID)
		}
	}
	if len(pendingRem) > 0 {
		_ = s.colibri.UpdateSourcesInfo(ctx, nil, nil, ci) // removals of never-added sources are a no-op on the bridge side
	}
	return nil
}

func octoEndpointID(h iface.Bridge) string {
	return "octo-" + h.JID.String()
}

// SetRelays computes allRelays \ ownRelayId and updates the Octo
// pseudo-participant's remote-relay list on the bridge (spec §4.8).
func (s *Session) SetRelays(ctx context.Context, allRelays []string) error {
	own := s.Handle.RelayID
	remote := make([]string, 0, len(allRelays))
	for _, r := range allRelays {
		if r != own {
			remote = append(remote, r)
		}
	}

	octo := s.ensureOcto()
	s.mu.Lock()
	octo.relays = remote
	established := octo.channelsInfo != nil
	var ci iface.ChannelsInfo
	if established {
		ci = *octo.channelsInfo
	}
	s.mu.Unlock()

	metrics.OctoRelaysConfigured.WithLabelValues(s.conferenceID, s.Handle.JID.String()).Set(float64(len(remote)))

	if !established {
		return nil
	}
	return s.colibri.UpdateTransportInfo(ctx, map[string]any{"relays": remote}, ci)
}

// Relays returns the Octo pseudo-participant's current remote-relay
// list, or nil if no Octo participant exists yet.
func (s *Session) Relays() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.octo == nil {
		return nil
	}
	return append([]string(nil), s.octo.relays...)
}

// Terminate removes p from this session; if the session has not failed
// it also sends a COLIBRI channel-expire (not awaited synchronously).
func (s *Session) Terminate(ctx context.Context, p *participant.Participant, ci iface.ChannelsInfo) {
	s.mu.Lock()
	delete(s.participants, p.EndpointID)
	failed := s.hasFailed
	s.mu.Unlock()

	if !failed {
		go func() {
			_ = s.colibri.ExpireChannels(context.WithoutCancel(ctx), ci)
		}()
	}
}

// TerminateAll terminates every currently placed participant (snapshot
// first) and returns the list removed. Used to collect displaced
// participants during failover or restart.
func (s *Session) TerminateAll(ctx context.Context, channelsOf func(*participant.Participant) iface.ChannelsInfo) []*participant.Participant {
	removed := s.Participants()
	for _, p := range removed {
		s.Terminate(ctx, p, channelsOf(p))
	}
	return removed
}

// Dispose tears down the whole COLIBRI conference if the session has
// not failed, otherwise just drops local state.
func (s *Session) Dispose(ctx context.Context) {
	s.mu.Lock()
	failed := s.hasFailed
	s.mu.Unlock()

	if !failed {
		_ = s.colibri.ExpireConference(ctx)
	}
	s.colibri.Dispose()
}

// BridgeJID is a convenience accessor used by propagation code that only
// has a Session and needs to address the bridge (e.g. for logging).
func (s *Session) BridgeJID() jid.JID {
	return s.Handle.JID
}
