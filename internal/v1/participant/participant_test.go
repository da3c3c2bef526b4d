package participant

import (
	"testing"
	"time"

	"mellium.im/xmpp/jid"

	"github.com/jitsi-focus-go/focus/internal/v1/sourcemodel"
)

func mustJID(t *testing.T, s string) jid.JID {
	t.Helper()
	j, err := jid.Parse(s)
	if err != nil {
		t.Fatalf("jid.Parse(%q): %v", s, err)
	}
	return j
}

func TestHasCapability(t *testing.T) {
	p := New("ep1", mustJID(t, "room@conf.example/alice"), 1, []Capability{CapBundle, CapDTLS})
	if !p.HasCapability(CapBundle) {
		t.Fatal("expected CapBundle present")
	}
	if p.HasCapability(CapJibri) {
		t.Fatal("expected CapJibri absent")
	}
}

func TestClaimSourcesStampsOwner(t *testing.T) {
	alice := mustJID(t, "room@conf.example/alice")
	p := New("ep1", alice, 1, nil)

	claimed := p.ClaimSources([]sourcemodel.MediaSource{{SSRC: 1, Type: sourcemodel.Audio}})
	if len(claimed) != 1 {
		t.Fatalf("expected 1 source, got %d", len(claimed))
	}
	if claimed[0].Owner.String() != alice.String() {
		t.Fatalf("Owner = %v, want %v", claimed[0].Owner, alice)
	}
}

func TestPendingAddRemoveQueues(t *testing.T) {
	p := New("ep1", mustJID(t, "room@conf.example/alice"), 1, nil)
	if p.HasSourcesToAdd() || p.HasSourcesToRemove() {
		t.Fatal("new participant should have empty pending queues")
	}

	p.ScheduleSourcesToAdd([]sourcemodel.MediaSource{{SSRC: 1, Type: sourcemodel.Audio}})
	if !p.HasSourcesToAdd() {
		t.Fatal("expected pending add after schedule")
	}
	got := p.GetSourcesToAdd()
	if len(got) != 1 {
		t.Fatalf("expected 1 queued source, got %d", len(got))
	}
	p.ClearSourcesToAdd()
	if p.HasSourcesToAdd() {
		t.Fatal("expected pending add cleared")
	}

	p.ScheduleSourcesToRemove([]sourcemodel.MediaSource{{SSRC: 2, Type: sourcemodel.Video}})
	if !p.HasSourcesToRemove() {
		t.Fatal("expected pending remove after schedule")
	}
	p.ClearSourcesToRemove()
	if p.HasSourcesToRemove() {
		t.Fatal("expected pending remove cleared")
	}
}

func TestAddTransportFromJingleMergesCandidatesAndForcesRtcpMux(t *testing.T) {
	p := New("ep1", mustJID(t, "room@conf.example/alice"), 1, nil)

	c1 := IceCandidate{Foundation: "1", Component: 1, IP: "10.0.0.1", Port: 9}
	p.AddTransportFromJingle([]JingleContent{{Transport: Transport{Ufrag: "u", Pwd: "p", Candidates: []IceCandidate{c1}}}})

	tr := p.Transport()
	if tr == nil || len(tr.Candidates) != 1 || !tr.RtcpMux {
		t.Fatalf("expected transport with 1 candidate and rtcp-mux, got %+v", tr)
	}

	c2 := IceCandidate{Foundation: "2", Component: 1, IP: "10.0.0.2", Port: 10}
	p.AddTransportFromJingle([]JingleContent{{Transport: Transport{Candidates: []IceCandidate{c1, c2}}}})

	tr = p.Transport()
	if len(tr.Candidates) != 2 {
		t.Fatalf("expected merge to dedupe c1 and add c2, got %d candidates", len(tr.Candidates))
	}
}

func TestAddTransportFromJingleEmptyContentsIsNoop(t *testing.T) {
	p := New("ep1", mustJID(t, "room@conf.example/alice"), 1, nil)
	p.AddTransportFromJingle(nil)
	if p.Transport() != nil {
		t.Fatal("expected no transport set for empty contents")
	}
}

func TestSetMutedReportsChange(t *testing.T) {
	p := New("ep1", mustJID(t, "room@conf.example/alice"), 1, nil)
	if changed := p.SetMuted(sourcemodel.Audio, true); !changed {
		t.Fatal("expected mute transition to report changed=true")
	}
	if changed := p.SetMuted(sourcemodel.Audio, true); changed {
		t.Fatal("expected idempotent mute to report changed=false")
	}
	if !p.IsMuted(sourcemodel.Audio) {
		t.Fatal("expected IsMuted(Audio) true")
	}
	if p.IsMuted(sourcemodel.Video) {
		t.Fatal("expected IsMuted(Video) false, axes should be independent")
	}
}

func TestSetAllocatorReturnsPrevious(t *testing.T) {
	p := New("ep1", mustJID(t, "room@conf.example/alice"), 1, nil)
	if prev := p.SetAllocator(fakeAllocator{id: 1}); prev != nil {
		t.Fatal("expected nil previous allocator on first install")
	}
	prev := p.SetAllocator(fakeAllocator{id: 2})
	if prev == nil || prev.(fakeAllocator).id != 1 {
		t.Fatalf("expected previous allocator id=1, got %v", prev)
	}
	if p.CurrentAllocator().(fakeAllocator).id != 2 {
		t.Fatal("expected current allocator id=2")
	}
}

type fakeAllocator struct{ id int }

func (fakeAllocator) Cancel() {}

func TestIncrementAndCheckRestartRequestsRateLimits(t *testing.T) {
	p := New("ep1", mustJID(t, "room@conf.example/alice"), 1, nil)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	if !p.IncrementAndCheckRestartRequests(base) {
		t.Fatal("first restart request should be allowed")
	}
	if p.IncrementAndCheckRestartRequests(base.Add(2 * time.Second)) {
		t.Fatal("restart request within the 10s min gap should be rejected")
	}
	if !p.IncrementAndCheckRestartRequests(base.Add(15 * time.Second)) {
		t.Fatal("restart request after the min gap should be allowed")
	}
	if !p.IncrementAndCheckRestartRequests(base.Add(30 * time.Second)) {
		t.Fatal("third restart request (within window, under cap) should be allowed")
	}
	if p.IncrementAndCheckRestartRequests(base.Add(45 * time.Second)) {
		t.Fatal("fourth restart request within the 60s window should exceed the cap of 3")
	}
	if !p.IncrementAndCheckRestartRequests(base.Add(120 * time.Second)) {
		t.Fatal("restart request after the window has fully elapsed should be allowed again")
	}
}

func TestBridgeSessionID(t *testing.T) {
	p := New("ep1", mustJID(t, "room@conf.example/alice"), 1, nil)
	if p.BridgeSessionID() != "" {
		t.Fatal("expected empty bridge session id initially")
	}
	p.SetBridgeSessionID("bridge-1")
	if p.BridgeSessionID() != "bridge-1" {
		t.Fatalf("BridgeSessionID() = %q, want bridge-1", p.BridgeSessionID())
	}
}
