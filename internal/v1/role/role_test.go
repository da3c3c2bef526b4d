package role

import (
	"context"
	"testing"

	"mellium.im/xmpp/jid"

	"github.com/jitsi-focus-go/focus/internal/v1/iface"
)

type fakeRoom struct {
	members []iface.Member
	granted []jid.JID
	failNext bool
}

func (r *fakeRoom) Join(ctx context.Context) error    { return nil }
func (r *fakeRoom) Leave(ctx context.Context) error   { return nil }
func (r *fakeRoom) Destroy(ctx context.Context, reason string) error { return nil }
func (r *fakeRoom) Members() []iface.Member           { return r.members }
func (r *fakeRoom) FindMember(j jid.JID) (iface.Member, bool) {
	for _, m := range r.members {
		if m.JID.Equal(j) {
			return m, true
		}
	}
	return iface.Member{}, false
}
func (r *fakeRoom) OnMemberJoin(handler func(iface.Member)) (unregister func())   { return func() {} }
func (r *fakeRoom) OnMemberLeave(handler func(iface.Member)) (unregister func())  { return func() {} }
func (r *fakeRoom) OnMemberKicked(handler func(iface.Member)) (unregister func()) { return func() {} }
func (r *fakeRoom) OnLocalRoleChange(handler func(bool)) (unregister func())      { return func() {} }
func (r *fakeRoom) GrantOwnership(ctx context.Context, j jid.JID) error {
	if r.failNext {
		r.failNext = false
		return errGrantFailed
	}
	r.granted = append(r.granted, j)
	return nil
}
func (r *fakeRoom) SetPresenceExtension(name string, payload any) error { return nil }
func (r *fakeRoom) RemovePresenceExtension(name string) error           { return nil }

type grantErr string

func (e grantErr) Error() string { return string(e) }

const errGrantFailed = grantErr("grant failed")

type fakeAuthority struct {
	sessions map[string]string // jid string -> session id
}

func (a *fakeAuthority) SessionForJID(j jid.JID) (string, bool) {
	sid, ok := a.sessions[j.String()]
	return sid, ok
}
func (a *fakeAuthority) OnJidAuthenticated(handler func(jid.JID, string, string)) (unregister func()) {
	return func() {}
}

func mustJID(t *testing.T, s string) jid.JID {
	t.Helper()
	j, err := jid.Parse(s)
	if err != nil {
		t.Fatalf("jid.Parse(%q): %v", s, err)
	}
	return j
}

func TestOnLocalRoleBecomesOwnerAutoOwnerElectsFirstEligible(t *testing.T) {
	alice := mustJID(t, "room@conf.example/alice")
	bob := mustJID(t, "room@conf.example/bob")
	room := &fakeRoom{members: []iface.Member{
		{JID: alice},
		{JID: bob},
	}}
	m := New(room, nil, true)

	m.OnLocalRoleBecomesOwner(context.Background())

	owner, ok := m.CurrentOwner()
	if !ok || !owner.Equal(alice) {
		t.Fatalf("expected alice elected owner, got %v (ok=%v)", owner, ok)
	}
	if len(room.granted) != 1 {
		t.Fatalf("expected exactly one grant call, got %d", len(room.granted))
	}
}

func TestOnLocalRoleBecomesOwnerSkipsRobots(t *testing.T) {
	robot := mustJID(t, "room@conf.example/recorder")
	human := mustJID(t, "room@conf.example/carol")
	room := &fakeRoom{members: []iface.Member{
		{JID: robot, IsRobot: true},
		{JID: human},
	}}
	m := New(room, nil, true)

	m.OnLocalRoleBecomesOwner(context.Background())

	owner, ok := m.CurrentOwner()
	if !ok || !owner.Equal(human) {
		t.Fatalf("expected the non-robot member elected, got %v (ok=%v)", owner, ok)
	}
}

func TestOnLocalRoleBecomesOwnerWithAuthorityGrantsAuthenticatedMembers(t *testing.T) {
	alice := mustJID(t, "room@conf.example/alice")
	bob := mustJID(t, "room@conf.example/bob")
	room := &fakeRoom{members: []iface.Member{
		{JID: alice, RealJID: alice},
		{JID: bob, RealJID: bob},
	}}
	authority := &fakeAuthority{sessions: map[string]string{alice.String(): "sess-1"}}
	m := New(room, authority, false)

	m.OnLocalRoleBecomesOwner(context.Background())

	if len(room.granted) != 1 || !room.granted[0].Equal(alice) {
		t.Fatalf("expected only alice granted, got %v", room.granted)
	}
}

func TestOnMemberLeaveReElectsWhenOwnerDeparts(t *testing.T) {
	alice := mustJID(t, "room@conf.example/alice")
	bob := mustJID(t, "room@conf.example/bob")
	room := &fakeRoom{members: []iface.Member{{JID: alice}, {JID: bob}}}
	m := New(room, nil, true)
	m.OnLocalRoleBecomesOwner(context.Background())

	owner, _ := m.CurrentOwner()
	if !owner.Equal(alice) {
		t.Fatalf("precondition: expected alice as initial owner, got %v", owner)
	}

	m.OnMemberLeave(context.Background(), iface.Member{JID: alice}, []iface.Member{{JID: bob}})

	newOwner, ok := m.CurrentOwner()
	if !ok || !newOwner.Equal(bob) {
		t.Fatalf("expected bob elected after alice left, got %v (ok=%v)", newOwner, ok)
	}
}

func TestOnMemberLeaveIgnoresNonOwnerDeparture(t *testing.T) {
	alice := mustJID(t, "room@conf.example/alice")
	bob := mustJID(t, "room@conf.example/bob")
	room := &fakeRoom{members: []iface.Member{{JID: alice}, {JID: bob}}}
	m := New(room, nil, true)
	m.OnLocalRoleBecomesOwner(context.Background())

	m.OnMemberLeave(context.Background(), iface.Member{JID: bob}, []iface.Member{{JID: alice}})

	owner, ok := m.CurrentOwner()
	if !ok || !owner.Equal(alice) {
		t.Fatalf("owner should remain alice when a non-owner leaves, got %v (ok=%v)", owner, ok)
	}
}

func TestElectionContinuesPastAFailedGrant(t *testing.T) {
	alice := mustJID(t, "room@conf.example/alice")
	bob := mustJID(t, "room@conf.example/bob")
	room := &fakeRoom{members: []iface.Member{{JID: alice}, {JID: bob}}, failNext: true}
	m := New(room, nil, true)

	m.OnLocalRoleBecomesOwner(context.Background())

	owner, ok := m.CurrentOwner()
	if !ok || !owner.Equal(bob) {
		t.Fatalf("expected election to fall through to bob after alice's grant failed, got %v (ok=%v)", owner, ok)
	}
}
