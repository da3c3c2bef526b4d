// Package iface declares the capability interfaces the orchestration
// core consumes from its collaborators (spec §6): XMPP transport,
// the MUC room abstraction, Jingle channel signalling, COLIBRI bridge
// control, bridge discovery/selection, and an optional authentication
// authority. Concrete implementations of these interfaces live outside
// this module's scope; internal/bridgeclient, internal/bridgefeed, and
// internal/authauthority provide reference implementations of the
// bridge-facing and auth-facing ones.
package iface

import (
	"context"
	"time"

	"mellium.im/xmpp/jid"

	"github.com/jitsi-focus-go/focus/internal/v1/sourcemodel"
)

// ConnState is an XmppTransport connection-state transition.
type ConnState int

const (
	Unregistered ConnState = iota
	Registered
)

// XmppTransport is the stanza transport collaborator. The orchestration
// core never parses or emits XML itself; it registers handlers and asks
// the transport to carry stanzas.
type XmppTransport interface {
	// RegisterHandler installs a handler for inbound IQs matching
	// (element, namespace, iqType). Unregister via the returned func.
	RegisterHandler(element, namespace, iqType string, handler func(from jid.JID, payload any)) (unregister func())

	// SendIQ sends a stanza and blocks for a reply or ctx's deadline.
	SendIQ(ctx context.Context, to jid.JID, payload any) (reply any, err error)

	// SendIQAsync sends a stanza without blocking; onResult is invoked
	// from an arbitrary goroutine once a reply or failure is known.
	SendIQAsync(to jid.JID, payload any, onResult func(reply any, err error))

	// OnConnState subscribes to REGISTERED/UNREGISTERED transitions.
	OnConnState(handler func(ConnState)) (unregister func())
}

// Affiliation mirrors a MUC member's room affiliation (owner, admin,
// member, none) for ownership/role election purposes.
type Affiliation int

const (
	AffiliationNone Affiliation = iota
	AffiliationMember
	AffiliationAdmin
	AffiliationOwner
)

// Member is a snapshot of one MUC room occupant.
type Member struct {
	JID         jid.JID // full room address (room@domain/nick)
	RealJID     jid.JID // the member's bare, authenticated JID if known
	Affiliation Affiliation
	IsRobot     bool // SIP gateway / recorder client, skipped during role election
	JoinOrder   int
}

// MucRoom is the chat-room collaborator a Conference joins to learn
// membership and drive ownership.
type MucRoom interface {
	Join(ctx context.Context) error
	Leave(ctx context.Context) error
	Destroy(ctx context.Context, reason string) error

	Members() []Member
	FindMember(j jid.JID) (Member, bool)

	OnMemberJoin(handler func(Member)) (unregister func())
	OnMemberLeave(handler func(Member)) (unregister func())
	OnMemberKicked(handler func(Member)) (unregister func())
	OnLocalRoleChange(handler func(isOwner bool)) (unregister func())

	GrantOwnership(ctx context.Context, j jid.JID) error

	SetPresenceExtension(name string, payload any) error
	RemovePresenceExtension(name string) error
}

// RtpDescription is one Jingle content's codec/RTP-header-extension
// description, passed through to COLIBRI as an opaque payload.
type RtpDescription struct {
	MediaType sourcemodel.MediaType
	Payload   any
}

// JingleChannel is the Jingle signalling collaborator.
type JingleChannel interface {
	InitiateSession(ctx context.Context, bundled bool, peer jid.JID, offer []RtpDescription, startMutedAudio, startMutedVideo bool) (bool, error)
	TerminateSession(ctx context.Context, sid string, reason, msg string) error
	SendAddSourceIQ(ctx context.Context, sid string, sources []sourcemodel.MediaSource, groups []sourcemodel.SourceGroup) error
	SendRemoveSourceIQ(ctx context.Context, sid string, sources []sourcemodel.MediaSource, groups []sourcemodel.SourceGroup) error
	SendTransportReplace(ctx context.Context, sid string, offer []RtpDescription) error

	OnSessionAccept(handler func(sid string, answer []RtpDescription)) (unregister func())
	OnTransportInfo(handler func(sid string, contents []RtpDescription)) (unregister func())
	OnTransportAccept(handler func(sid string)) (unregister func())
	OnTransportReject(handler func(sid string)) (unregister func())
	OnAddSource(handler func(sid string, sources []sourcemodel.MediaSource, groups []sourcemodel.SourceGroup)) (unregister func())
	OnRemoveSource(handler func(sid string, sources []sourcemodel.MediaSource, groups []sourcemodel.SourceGroup)) (unregister func())
	OnSessionTerminate(handler func(sid string)) (unregister func())
}

// ChannelsInfo is an opaque handle to a set of COLIBRI channels created
// for one participant or one Octo pseudo-participant.
type ChannelsInfo struct {
	EndpointID string
	Payload    any
}

// ColibriConference is the per-conference-per-bridge control
// collaborator.
type ColibriConference interface {
	SetGID(gid uint32)
	SetName(localPart string)

	CreateChannels(ctx context.Context, endpointID string, bundled bool, contents []RtpDescription) (ChannelsInfo, error)
	UpdateChannelsInfo(ctx context.Context, ci ChannelsInfo, rtpDescs []RtpDescription, sources []sourcemodel.MediaSource, groups []sourcemodel.SourceGroup, bundleTransport any, endpointID string, relays []string) error
	UpdateBundleTransportInfo(ctx context.Context, transport any, endpointID string) error
	UpdateTransportInfo(ctx context.Context, transportMap map[string]any, ci ChannelsInfo) error
	UpdateSourcesInfo(ctx context.Context, sources []sourcemodel.MediaSource, groups []sourcemodel.SourceGroup, ci ChannelsInfo) error
	MuteParticipant(ctx context.Context, ci ChannelsInfo, doMute bool) (bool, error)
	ExpireChannels(ctx context.Context, ci ChannelsInfo) error
	ExpireConference(ctx context.Context) error
	Dispose()
}

// Bridge is an opaque, comparable bridge handle exposed by
// BridgeSelector.
type Bridge struct {
	JID     jid.JID
	RelayID string // empty if this bridge has no Octo relay configured
	Region  string // empty if unknown
}

// ConferenceView is the read-only view of a conference's current bridge
// placement a BridgeSelector uses to apply region-proximity preference.
type ConferenceView struct {
	Bridges []Bridge
}

// ParticipantHint carries the region affinity of the participant being
// placed, if known.
type ParticipantHint struct {
	Region string
}

// BridgeSelector is the bridge-discovery collaborator. SelectBridge
// applies the region-proximity and least-loaded preference; the
// enforced-bridge override is applied by internal/conference before the
// selector is consulted. It also answers membership and liveness
// queries and emits up/down events.
type BridgeSelector interface {
	SelectBridge(view ConferenceView, hint ParticipantHint) (Bridge, bool)
	GetBridge(j jid.JID) (Bridge, bool)
	UpdateBridgeOperationalStatus(j jid.JID, alive bool)

	OnBridgeUp(handler func(j jid.JID)) (unregister func())
	OnBridgeDown(handler func(j jid.JID)) (unregister func())
}

// AuthenticationAuthority is the optional authentication collaborator
// (spec §6). A nil AuthenticationAuthority means no external auth
// backend is installed; RoleManager falls back to autoOwner election.
type AuthenticationAuthority interface {
	SessionForJID(j jid.JID) (sessionID string, ok bool)
	OnJidAuthenticated(handler func(j jid.JID, identity string, sessionID string)) (unregister func())
}

// GatewayKind distinguishes the concrete variant behind a Gateway
// capability handle without the conference needing to know its type.
type GatewayKind int

const (
	GatewayKindRecording GatewayKind = iota
	GatewayKindSIP
)

// Gateway is the recorder/dial capability collaborator: a tagged union
// of concrete kinds (recording/streaming, SIP/rayo dial-out), realized
// as a single small interface so holders start and stop handles by kind,
// never by concrete type. Handles are exposed through
// services.Services.Gateways; internal/conference holds none.
type Gateway interface {
	Kind() GatewayKind
	// Start begins the session this handle represents (a recording, a
	// SIP dial-out) for the given conference/room, returning an opaque
	// session id the gateway uses for subsequent Stop calls.
	Start(ctx context.Context, roomID string, params map[string]string) (sessionID string, err error)
	Stop(ctx context.Context, sessionID string) error
}

// RoundTripTimeout is the default deadline for a SendIQ call when the
// caller does not need a tighter bound.
const RoundTripTimeout = 15 * time.Second
