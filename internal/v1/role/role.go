// Package role implements RoleManager: ownership/role election inside
// the MUC chat room (spec §4.5).
package role

import (
	"context"

	"go.uber.org/zap"
	"mellium.im/xmpp/jid"

	"github.com/jitsi-focus-go/focus/internal/v1/iface"
	"github.com/jitsi-focus-go/focus/internal/v1/logging"
	"github.com/jitsi-focus-go/focus/internal/v1/metrics"
)

// Manager elects and maintains the chat room's "owner" among non-focus
// members, optionally delegating to an AuthenticationAuthority.
type Manager struct {
	room       iface.MucRoom
	authority  iface.AuthenticationAuthority // nil if none installed
	autoOwner  bool
	currentOwner *jid.JID
}

// New constructs a Manager for room. authority may be nil.
func New(room iface.MucRoom, authority iface.AuthenticationAuthority, autoOwner bool) *Manager {
	return &Manager{room: room, authority: authority, autoOwner: autoOwner}
}

// CurrentOwner returns the current owner's JID, if any.
func (m *Manager) CurrentOwner() (jid.JID, bool) {
	if m.currentOwner == nil {
		return nil, false
	}
	return *m.currentOwner, true
}

// OnLocalRoleBecomesOwner handles the event where the focus itself is
// granted owner rights in the room. If an authentication authority is
// installed, every member with an active session is granted ownership;
// otherwise, if autoOwner, the first eligible member present is elected.
func (m *Manager) OnLocalRoleBecomesOwner(ctx context.Context) {
	members := m.room.Members()
	if m.authority != nil {
		for _, mem := range members {
			if mem.IsRobot {
				continue
			}
			if _, ok := m.authority.SessionForJID(mem.RealJID); ok {
				m.grant(ctx, mem)
			}
		}
		return
	}
	if m.autoOwner {
		m.electFirstEligible(ctx, members)
	}
}

// OnMemberJoin handles a new member arriving: attempts election if there
// is no owner yet and autoOwner is set, and separately grants ownership
// if the joining member already has an authenticated session.
func (m *Manager) OnMemberJoin(ctx context.Context, mem iface.Member) {
	if mem.IsRobot {
		return
	}
	if m.authority != nil {
		if _, ok := m.authority.SessionForJID(mem.RealJID); ok {
			m.grant(ctx, mem)
		}
	}
	if m.currentOwner == nil && m.autoOwner {
		m.electFirstEligible(ctx, []iface.Member{mem})
	}
}

// OnMemberLeave handles a departure: if the departing member was the
// owner, clears the owner and re-elects from the remaining members.
func (m *Manager) OnMemberLeave(ctx context.Context, mem iface.Member, remaining []iface.Member) {
	if m.currentOwner == nil || !m.currentOwner.Equal(mem.JID) {
		return
	}
	m.currentOwner = nil
	if m.autoOwner {
		m.electFirstEligible(ctx, remaining)
	}
}

// electFirstEligible attempts to grant ownership to the first non-robot
// member; a failed grant is logged and election continues with the next
// eligible member (spec §4.5).
func (m *Manager) electFirstEligible(ctx context.Context, members []iface.Member) {
	for _, mem := range members {
		if mem.IsRobot {
			continue
		}
		if m.grant(ctx, mem) {
			return
		}
	}
}

func (m *Manager) grant(ctx context.Context, mem iface.Member) bool {
	if err := m.room.GrantOwnership(ctx, mem.JID); err != nil {
		metrics.RoleGrantsTotal.WithLabelValues("error").Inc()
		logging.Warn(ctx, "owner role grant failed",
			zap.String("jid", logging.RedactResourcepart(mem.JID.String())),
			zap.Error(err))
		return false
	}
	metrics.RoleGrantsTotal.WithLabelValues("success").Inc()
	j := mem.JID
	m.currentOwner = &j
	return true
}
