// Package participant models one chat member's signalling state: its
// Jingle session handle, transport, owned sources, pending source
// deltas, mute flags, and restart-request rate limiting (spec §4.2).
package participant

import (
	"sync"
	"time"

	"mellium.im/xmpp/jid"

	"github.com/jitsi-focus-go/focus/internal/v1/sourcemodel"
)

// Capability names a signalling feature an endpoint advertised in its
// MUC presence (bundle, dtls, ice, audio, jibri, ...).
type Capability string

const (
	CapBundle    Capability = "bundle"
	CapDTLS      Capability = "dtls"
	CapRTX       Capability = "rtx"
	CapICE       Capability = "ice"
	CapSCTP      Capability = "sctp"
	CapAudio     Capability = "audio"
	CapVideo     Capability = "video"
	CapAudioMute Capability = "audio-mute"
	CapTCC       Capability = "tcc"
	CapREMB      Capability = "remb"
	CapOpusRED   Capability = "opus-red"
	CapLipSync   Capability = "lip-sync"
	CapJigasi    Capability = "jigasi"
	CapJibri     Capability = "jibri"
)

// IceCandidate is the opaque payload of a single ICE candidate,
// deduplicated by (foundation, component, ip, port).
type IceCandidate struct {
	Foundation string
	Component  int
	IP         string
	Port       int
	Payload    any // transport-specific candidate attributes
}

func (c IceCandidate) key() [4]any {
	return [4]any{c.Foundation, c.Component, c.IP, c.Port}
}

// Transport is the bundled ice-udp transport for a participant: a
// ufrag/pwd pair, a fingerprint, and accumulated candidates.
type Transport struct {
	Ufrag       string
	Pwd         string
	Fingerprint string
	RtcpMux     bool
	Candidates  []IceCandidate
}

// merge adds any candidate from other not already present (by key),
// and forces RtcpMux on (spec: "asserts rtcp-mux, adds the extension if
// missing").
func (t *Transport) merge(other Transport) {
	seen := make(map[[4]any]bool, len(t.Candidates))
	for _, c := range t.Candidates {
		seen[c.key()] = true
	}
	for _, c := range other.Candidates {
		if !seen[c.key()] {
			t.Candidates = append(t.Candidates, c)
			seen[c.key()] = true
		}
	}
	t.RtcpMux = true
}

// JingleContent is one <content/> of a Jingle session-initiate/accept,
// carrying the transport for a single media-type description.
type JingleContent struct {
	MediaType sourcemodel.MediaType
	Transport Transport
}

// JingleSessionState distinguishes whether a session has been offered,
// accepted, or neither.
type JingleSessionState int

const (
	JingleNone JingleSessionState = iota
	JingleOffered
	JingleAccepted
)

// JingleSession is the opaque Jingle session handle attached to a
// participant once a ChannelAllocator has sent session-initiate (or
// transport-replace on re-invite).
type JingleSession struct {
	SID   string
	State JingleSessionState
}

// Allocator is the minimal surface Participant needs from an in-flight
// ChannelAllocator to support the "install new before cancel old"
// re-invite ordering (spec §5 Cancellation).
type Allocator interface {
	Cancel()
}

const (
	restartMinGap      = 10 * time.Second
	restartWindow       = 60 * time.Second
	restartMaxInWindow = 3
)

// Participant is one non-focus MUC member's signalling state.
type Participant struct {
	mu sync.Mutex

	EndpointID  string // MUC nickname, the bridge-facing short id
	RoomAddress jid.JID
	JoinOrder   int // 1-indexed, assigned by the MUC

	capabilities map[Capability]bool

	jingle    *JingleSession
	transport *Transport

	sources *sourcemodel.SourceMap

	pendingAdd    []sourcemodel.MediaSource
	pendingRemove []sourcemodel.MediaSource

	mutedAudio bool
	mutedVideo bool

	restartRequests []time.Time

	bridgeSessionID string // opaque key of the placed BridgeSession, "" if none
	allocator       Allocator
}

// New constructs a Participant for a freshly-joined MUC member.
func New(endpointID string, roomAddress jid.JID, joinOrder int, caps []Capability) *Participant {
	capSet := make(map[Capability]bool, len(caps))
	for _, c := range caps {
		capSet[c] = true
	}
	return &Participant{
		EndpointID:   endpointID,
		RoomAddress:  roomAddress,
		JoinOrder:    joinOrder,
		capabilities: capSet,
		sources:      sourcemodel.NewSourceMap(),
	}
}

// HasCapability reports whether the participant advertised c.
func (p *Participant) HasCapability(c Capability) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.capabilities[c]
}

// Sources returns the participant's owned SourceMap. Callers that need a
// propagation-safe snapshot should call DeepCopy on the result.
func (p *Participant) Sources() *sourcemodel.SourceMap {
	return p.sources
}

// SetJingleSession replaces the participant's Jingle session handle. If
// one already exists, the caller (session-accept handling) is expected
// to log the overwrite; Participant itself just performs it (spec
// §4.2: "If a handle already exists and the caller is session-accept,
// log and overwrite").
func (p *Participant) SetJingleSession(s *JingleSession) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.jingle = s
}

// JingleSession returns the current Jingle session handle, or nil.
func (p *Participant) JingleSession() *JingleSession {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.jingle
}

// HasEstablishedSession reports whether session-accept has been
// processed for this participant.
func (p *Participant) HasEstablishedSession() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.jingle != nil && p.jingle.State == JingleAccepted
}

// AddTransportFromJingle extracts the first ice-udp transport from
// contents and either stores it verbatim (first time) or merges new
// candidates into the existing stored transport.
func (p *Participant) AddTransportFromJingle(contents []JingleContent) {
	if len(contents) == 0 {
		return
	}
	incoming := contents[0].Transport
	incoming.RtcpMux = true

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.transport == nil {
		t := incoming
		p.transport = &t
		return
	}
	p.transport.merge(incoming)
}

// Transport returns the participant's current bundled transport, or nil
// if none has been received yet.
func (p *Participant) Transport() *Transport {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.transport
}

// ClaimSources stamps each source with this participant's room address
// as owner before validation by sourcemodel.Model.TryAdd.
func (p *Participant) ClaimSources(sources []sourcemodel.MediaSource) []sourcemodel.MediaSource {
	out := make([]sourcemodel.MediaSource, len(sources))
	for i, s := range sources {
		out[i] = s.WithOwner(p.RoomAddress)
	}
	return out
}

// ScheduleSourcesToAdd enqueues sources for delivery once a Jingle
// session is established (spec invariant: pending queues are non-empty
// only while the participant has no session).
func (p *Participant) ScheduleSourcesToAdd(sources []sourcemodel.MediaSource) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pendingAdd = append(p.pendingAdd, sources...)
}

// ScheduleSourcesToRemove enqueues sources for removal delivery.
func (p *Participant) ScheduleSourcesToRemove(sources []sourcemodel.MediaSource) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pendingRemove = append(p.pendingRemove, sources...)
}

// HasSourcesToAdd reports whether any add-deltas are queued.
func (p *Participant) HasSourcesToAdd() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pendingAdd) > 0
}

// HasSourcesToRemove reports whether any remove-deltas are queued.
func (p *Participant) HasSourcesToRemove() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pendingRemove) > 0
}

// GetSourcesToAdd returns the queued add-deltas in insertion order.
func (p *Participant) GetSourcesToAdd() []sourcemodel.MediaSource {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]sourcemodel.MediaSource, len(p.pendingAdd))
	copy(out, p.pendingAdd)
	return out
}

// GetSourcesToRemove returns the queued remove-deltas in insertion
// order.
func (p *Participant) GetSourcesToRemove() []sourcemodel.MediaSource {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]sourcemodel.MediaSource, len(p.pendingRemove))
	copy(out, p.pendingRemove)
	return out
}

// ClearSourcesToAdd empties the add-delta queue.
func (p *Participant) ClearSourcesToAdd() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pendingAdd = nil
}

// ClearSourcesToRemove empties the remove-delta queue.
func (p *Participant) ClearSourcesToRemove() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pendingRemove = nil
}

// IncrementAndCheckRestartRequests applies the restart-request rate
// limit as a pure function of now and prior call history: accept if the
// previous request is older than 10s and, after pruning requests older
// than 60s, fewer than 3 remain.
func (p *Participant) IncrementAndCheckRestartRequests(now time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.restartRequests) > 0 {
		last := p.restartRequests[len(p.restartRequests)-1]
		if now.Sub(last) < restartMinGap {
			return false
		}
	}

	cutoff := now.Add(-restartWindow)
	kept := p.restartRequests[:0:0]
	for _, t := range p.restartRequests {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	p.restartRequests = kept

	if len(p.restartRequests) >= restartMaxInWindow {
		return false
	}
	p.restartRequests = append(p.restartRequests, now)
	return true
}

// IsMuted reports the current mute flag for a media axis.
func (p *Participant) IsMuted(t sourcemodel.MediaType) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if t == sourcemodel.Audio {
		return p.mutedAudio
	}
	return p.mutedVideo
}

// SetMuted sets the mute flag for a media axis. Reports whether the
// value changed, so callers know whether a side-effecting channel
// direction update is needed.
func (p *Participant) SetMuted(t sourcemodel.MediaType, muted bool) (changed bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if t == sourcemodel.Audio {
		changed = p.mutedAudio != muted
		p.mutedAudio = muted
	} else {
		changed = p.mutedVideo != muted
		p.mutedVideo = muted
	}
	return changed
}

// BridgeSessionID returns the key of the BridgeSession this participant
// is currently placed on, or "" if none.
func (p *Participant) BridgeSessionID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.bridgeSessionID
}

// SetBridgeSessionID records the BridgeSession this participant has been
// placed on.
func (p *Participant) SetBridgeSessionID(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bridgeSessionID = id
}

// SetAllocator installs a new allocator into this participant's slot and
// returns whatever allocator was previously installed, implementing the
// "install new before cancel old" ordering required by re-invite (spec
// §5 Cancellation): callers must call Cancel on the returned value
// themselves, after this call returns.
func (p *Participant) SetAllocator(a Allocator) (previous Allocator) {
	p.mu.Lock()
	defer p.mu.Unlock()
	previous = p.allocator
	p.allocator = a
	return previous
}

// CurrentAllocator returns the currently installed allocator, or nil.
func (p *Participant) CurrentAllocator() Allocator {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.allocator
}
