package conference

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"mellium.im/xmpp/jid"

	"github.com/jitsi-focus-go/focus/internal/v1/bridge"
	"github.com/jitsi-focus-go/focus/internal/v1/events"
	"github.com/jitsi-focus-go/focus/internal/v1/focuserr"
	"github.com/jitsi-focus-go/focus/internal/v1/iface"
	"github.com/jitsi-focus-go/focus/internal/v1/logging"
	"github.com/jitsi-focus-go/focus/internal/v1/metrics"
	"github.com/jitsi-focus-go/focus/internal/v1/participant"
	"github.com/jitsi-focus-go/focus/internal/v1/role"
	"github.com/jitsi-focus-go/focus/internal/v1/sourcemodel"
	"github.com/jitsi-focus-go/focus/internal/v1/workpool"
)

// Config holds the per-conference policy knobs sourced from process
// configuration (internal/v1/config) and per-room presence overrides.
type Config struct {
	MinParticipants          int
	MaxSourcesPerUser        int
	StartAudioMuted          int // threshold; 0 means absent
	StartVideoMuted          int // threshold; 0 means absent
	StartAudioMutedFlag      bool // initial startMuted[audio], overridable by a moderator's presence extension
	StartVideoMutedFlag      bool // initial startMuted[video], overridable by a moderator's presence extension
	EnableAutoOwner          bool
	UseRoomAsSharedDocName   bool
	EnforcedVideobridge      string // JID string, empty means absent
	LipSyncEnabled           bool
	IdleTimeout              time.Duration
	SingleParticipantTimeout time.Duration
}

// Collaborators bundles the external interfaces a Conference drives
// (spec §6). ColibriFor constructs (or returns a cached) ColibriConference
// for a given bridge handle — ownership of the underlying connection
// belongs to the caller (e.g. internal/bridgeclient).
type Collaborators struct {
	Room      iface.MucRoom
	Jingle    iface.JingleChannel
	Selector  iface.BridgeSelector
	Authority iface.AuthenticationAuthority // may be nil
	ColibriFor func(iface.Bridge) iface.ColibriConference
	Pool      *workpool.Pool
}

// Ended is published on the conference's Bus when it reaches StateEnded.
type Ended struct {
	RoomID string
	GID    uint32
}

// Conference is the per-room aggregate: it owns Participants,
// BridgeSessions, and the RoleManager, handles all inbound Jingle/MUC
// callbacks, and drives the state machine described in spec §4.6.
type Conference struct {
	RoomID string
	GID    uint32
	cfg    Config
	collab Collaborators

	stateMu sync.Mutex
	state   State

	// participantsLock serializes participant set mutations and is always
	// acquired before bridgesLock (spec §5).
	participantsLock sync.RWMutex
	participants     map[string]*participant.Participant // keyed by EndpointID
	joinCounter      int
	sourceModel      *sourcemodel.Model

	bridgesLock sync.Mutex
	bridges     []*bridge.Session

	roleMgr *role.Manager

	startMutedMu    sync.Mutex
	startMutedAudio bool // startMuted[audio]: applied to late arrivals only, per spec §4.6
	startMutedVideo bool // startMuted[video]

	idleMu         sync.Mutex
	idleTimestamp  time.Time // start of the current idle period; ignored while idleIsZero
	idleIsZero     bool      // true while a non-focus member is present (not idle)
	singleTimer    *time.Timer
	bridgeNotAvailableWarned bool

	channelsMu sync.Mutex
	channels   map[string]iface.ChannelsInfo // keyed by EndpointID

	events *events.Bus[Ended]

	unregister []func()
}

var nowFunc = time.Now

// New constructs a Conference in StateInit. Start must be called to
// begin joining the room.
func New(roomID string, gid uint32, cfg Config, collab Collaborators, bus *events.Bus[Ended]) *Conference {
	c := &Conference{
		RoomID:          roomID,
		GID:             gid,
		cfg:             cfg,
		collab:          collab,
		state:           StateInit,
		participants:    make(map[string]*participant.Participant),
		sourceModel:     sourcemodel.NewModel(cfg.MaxSourcesPerUser),
		channels:        make(map[string]iface.ChannelsInfo),
		events:          bus,
		startMutedAudio: cfg.StartAudioMutedFlag,
		startMutedVideo: cfg.StartVideoMutedFlag,
	}
	c.roleMgr = role.New(collab.Room, collab.Authority, cfg.EnableAutoOwner)
	return c
}

func (c *Conference) transition(to State) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	if !canTransition(c.state, to) {
		logging.Error(context.Background(), "invalid conference state transition",
			zap.String("room_id", c.RoomID), zap.String("from", c.state.String()), zap.String("to", to.String()))
		return
	}
	c.state = to
}

// State returns the conference's current lifecycle state.
func (c *Conference) State() State {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.state
}

// Start begins the INIT→JOINING transition. If the XMPP transport is
// already up it joins the room immediately; the caller is responsible
// for invoking Start again — or rather, registering a resumption — once
// "registered" fires if it was not yet up. For this core, Start assumes
// the transport is already registered, matching the common case where
// ConferenceRegistry only constructs conferences after the transport is
// known live.
func (c *Conference) Start(ctx context.Context) error {
	if c.collab.Room == nil {
		return focuserr.New(focuserr.KindRoomNotFound, "no room collaborator for %s", c.RoomID)
	}
	c.transition(StateJoining)
	c.markIdleFrom(nowFunc())
	return c.joinRoom(ctx)
}

// joinRoom obtains the MUC room, installs the role manager's callbacks,
// joins, and announces the shared-document name via presence if
// configured.
func (c *Conference) joinRoom(ctx context.Context) error {
	un1 := c.collab.Room.OnMemberJoin(func(m iface.Member) { c.handleMemberJoin(context.Background(), m) })
	un2 := c.collab.Room.OnMemberLeave(func(m iface.Member) { c.handleMemberLeave(context.Background(), m, false) })
	un3 := c.collab.Room.OnMemberKicked(func(m iface.Member) { c.handleMemberLeave(context.Background(), m, true) })
	un4 := c.collab.Room.OnLocalRoleChange(func(isOwner bool) {
		if isOwner {
			c.roleMgr.OnLocalRoleBecomesOwner(context.Background())
		}
	})
	un5 := c.collab.Selector.OnBridgeUp(func(j jid.JID) { c.OnBridgeUp(j) })
	un6 := c.collab.Selector.OnBridgeDown(func(j jid.JID) { c.OnBridgeDown(j) })
	c.unregister = append(c.unregister, un1, un2, un3, un4, un5, un6)

	if err := c.collab.Room.Join(ctx); err != nil {
		c.transition(StateTerminating)
		c.stop(ctx)
		return focuserr.Wrap(focuserr.KindRoomNotFound, err, "failed to join room %s", c.RoomID)
	}

	if c.cfg.UseRoomAsSharedDocName {
		_ = c.collab.Room.SetPresenceExtension("shared-doc", c.RoomID)
	}

	c.transition(StateIdle)
	metrics.ActiveConferences.Inc()
	return nil
}

// checkMinParticipants reports whether enough non-focus members are
// present to proceed past IDLE (spec: "members >= minParticipants + 1",
// the +1 accounting for the focus itself not appearing in our member
// count since we only track non-focus Participants).
func (c *Conference) checkMinParticipants() bool {
	c.participantsLock.RLock()
	defer c.participantsLock.RUnlock()
	return len(c.participants) >= c.cfg.MinParticipants
}

// readyToStart transitions IDLE→ACTIVE and invites every currently
// tracked participant (the first invitation wave).
func (c *Conference) readyToStart(ctx context.Context) {
	c.transition(StateActive)

	c.participantsLock.RLock()
	all := make([]*participant.Participant, 0, len(c.participants))
	for _, p := range c.participants {
		all = append(all, p)
	}
	c.participantsLock.RUnlock()

	for _, p := range all {
		audio, video := c.hasToStartMuted(p, true)
		c.inviteParticipant(ctx, p, false, audio, video)
	}
}

// trackParticipant creates (idempotently) the Participant entry for a
// newly seen MUC member. Membership tracking is independent of
// invitation: a Participant can exist while the conference remains IDLE
// below minParticipants.
func (c *Conference) trackParticipant(m iface.Member) (p *participant.Participant, isNew bool) {
	c.participantsLock.Lock()
	defer c.participantsLock.Unlock()
	if existing, ok := c.participants[m.JID.String()]; ok {
		return existing, false
	}
	c.joinCounter++
	p = participant.New(m.JID.String(), m.JID, c.joinCounter, nil)
	c.participants[p.EndpointID] = p
	return p, true
}

// hasToStartMuted implements spec §4.6's start-muted policy.
func (c *Conference) hasToStartMuted(p *participant.Participant, justJoined bool) (audio, video bool) {
	c.startMutedMu.Lock()
	flagAudio, flagVideo := c.startMutedAudio, c.startMutedVideo
	c.startMutedMu.Unlock()

	audio = startMutedAxis(flagAudio, c.cfg.StartAudioMuted, p.JoinOrder, justJoined)
	video = startMutedAxis(flagVideo, c.cfg.StartVideoMuted, p.JoinOrder, justJoined)
	return audio, video
}

// startMutedAxis evaluates one media axis of spec §4.6's start-muted
// policy: mute if the conference-wide startMuted[axis] flag is set for
// a late arrival, or independently if the member's join-order number
// exceeds the configured threshold.
func startMutedAxis(flag bool, threshold, joinOrder int, justJoined bool) bool {
	if flag && justJoined {
		return true
	}
	return threshold != 0 && joinOrder > threshold
}

// SetStartMuted updates the conference-wide startMuted[audio]/[video]
// flags, applied to late arrivals only (spec §6: conveyed via a
// moderator's presence extension).
func (c *Conference) SetStartMuted(audio, video bool) {
	c.startMutedMu.Lock()
	defer c.startMutedMu.Unlock()
	c.startMutedAudio = audio
	c.startMutedVideo = video
}

// setIdleNow marks the conference as non-idle (a member is present).
func (c *Conference) setIdleNow() {
	c.idleMu.Lock()
	defer c.idleMu.Unlock()
	c.idleIsZero = true
}

// markIdleFrom resets the idle clock to start counting from now, used
// when the last non-focus member leaves.
func (c *Conference) markIdleFrom(now time.Time) {
	c.idleMu.Lock()
	defer c.idleMu.Unlock()
	c.idleTimestamp = now
	c.idleIsZero = false
}

// IdleFor reports how long the conference has been idle, or zero if it
// currently has members (matches the registry's sweep contract).
func (c *Conference) IdleFor(now time.Time) time.Duration {
	c.idleMu.Lock()
	defer c.idleMu.Unlock()
	if c.idleIsZero {
		return 0
	}
	return now.Sub(c.idleTimestamp)
}

func (c *Conference) armOrDisarmSingleParticipantTimeout() {
	c.participantsLock.RLock()
	n := len(c.participants)
	c.participantsLock.RUnlock()

	c.idleMu.Lock()
	defer c.idleMu.Unlock()
	if n == 1 && c.cfg.SingleParticipantTimeout > 0 {
		if c.singleTimer != nil {
			c.singleTimer.Stop()
		}
		c.singleTimer = time.AfterFunc(c.cfg.SingleParticipantTimeout, func() { c.onSingleParticipantTimeout() })
	} else if c.singleTimer != nil {
		c.singleTimer.Stop()
		c.singleTimer = nil
	}
}

func (c *Conference) onSingleParticipantTimeout() {
	c.participantsLock.RLock()
	n := len(c.participants)
	var only *participant.Participant
	for _, p := range c.participants {
		only = p
	}
	c.participantsLock.RUnlock()

	if n != 1 || only == nil {
		return
	}
	ctx := context.Background()
	c.terminateParticipant(ctx, only, "EXPIRED")
	c.disposeAllBridges(ctx)
}

// jidOf returns the full room-address JID for a Participant; kept as a
// helper so propagation code reads naturally.
func jidOf(p *participant.Participant) jid.JID { return p.RoomAddress }
