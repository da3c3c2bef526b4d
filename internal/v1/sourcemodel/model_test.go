package sourcemodel

import (
	"testing"

	"mellium.im/xmpp/jid"

	"github.com/jitsi-focus-go/focus/internal/v1/focuserr"
)

func mustJID(t *testing.T, s string) jid.JID {
	t.Helper()
	j, err := jid.Parse(s)
	if err != nil {
		t.Fatalf("jid.Parse(%q): %v", s, err)
	}
	return j
}

func TestTryAddAcceptsValidSources(t *testing.T) {
	alice := mustJID(t, "room@conf.example/alice")
	model := NewModel(20)
	own := NewSourceMap()

	sources := []MediaSource{{SSRC: 1, Type: Audio}, {SSRC: 2, Type: Video}}
	added, _, err := model.TryAdd(alice, own, sources, nil)
	if err != nil {
		t.Fatalf("TryAdd returned error: %v", err)
	}
	if len(added) != 2 {
		t.Fatalf("expected 2 sources added, got %d", len(added))
	}
	if len(own.Sources(Audio)) != 1 || len(own.Sources(Video)) != 1 {
		t.Fatalf("own SourceMap not updated correctly: %+v", own)
	}
}

func TestTryAddRejectsZeroSSRC(t *testing.T) {
	alice := mustJID(t, "room@conf.example/alice")
	model := NewModel(20)
	own := NewSourceMap()

	_, _, err := model.TryAdd(alice, own, []MediaSource{{SSRC: 0, Type: Audio}}, nil)
	if focuserr.KindOf(err) != focuserr.KindInvalidSources {
		t.Fatalf("expected KindInvalidSources for ssrc 0, got %v", focuserr.KindOf(err))
	}
}

func TestTryAddRejectsDuplicateWithinRequest(t *testing.T) {
	alice := mustJID(t, "room@conf.example/alice")
	model := NewModel(20)
	own := NewSourceMap()

	_, _, err := model.TryAdd(alice, own, []MediaSource{{SSRC: 5, Type: Audio}, {SSRC: 5, Type: Audio}}, nil)
	if focuserr.KindOf(err) != focuserr.KindInvalidSources {
		t.Fatalf("expected KindInvalidSources for duplicate ssrc in one request, got %v", focuserr.KindOf(err))
	}
}

func TestTryAddRejectsCrossParticipantSSRCCollision(t *testing.T) {
	alice := mustJID(t, "room@conf.example/alice")
	bob := mustJID(t, "room@conf.example/bob")
	model := NewModel(20)

	aliceOwn := NewSourceMap()
	if _, _, err := model.TryAdd(alice, aliceOwn, []MediaSource{{SSRC: 7, Type: Audio}}, nil); err != nil {
		t.Fatalf("precondition TryAdd for alice failed: %v", err)
	}

	bobOwn := NewSourceMap()
	_, _, err := model.TryAdd(bob, bobOwn, []MediaSource{{SSRC: 7, Type: Audio}}, nil)
	if focuserr.KindOf(err) != focuserr.KindInvalidSources {
		t.Fatalf("expected KindInvalidSources when bob claims alice's ssrc, got %v", focuserr.KindOf(err))
	}
}

func TestTryAddEnforcesPerTypeCap(t *testing.T) {
	alice := mustJID(t, "room@conf.example/alice")
	model := NewModel(1)
	own := NewSourceMap()

	_, _, err := model.TryAdd(alice, own, []MediaSource{{SSRC: 1, Type: Audio}, {SSRC: 2, Type: Audio}}, nil)
	if focuserr.KindOf(err) != focuserr.KindInvalidSources {
		t.Fatalf("expected KindInvalidSources exceeding per-type cap, got %v", focuserr.KindOf(err))
	}
	if len(own.Sources(Audio)) != 0 {
		t.Fatal("own SourceMap should be unchanged after a rejected TryAdd")
	}
}

func TestTryAddRejectsGroupWithUnownedSSRC(t *testing.T) {
	alice := mustJID(t, "room@conf.example/alice")
	model := NewModel(20)
	own := NewSourceMap()

	group := SourceGroup{Type: Video, Semantics: FIDGroup, SSRCs: []SSRC{100, 200}}
	_, _, err := model.TryAdd(alice, own, []MediaSource{{SSRC: 100, Type: Video}}, []SourceGroup{group})
	if focuserr.KindOf(err) != focuserr.KindInvalidSources {
		t.Fatalf("expected KindInvalidSources for group referencing an unowned ssrc, got %v", focuserr.KindOf(err))
	}
}

func TestTryAddRejectsEmptyGroup(t *testing.T) {
	alice := mustJID(t, "room@conf.example/alice")
	model := NewModel(20)
	own := NewSourceMap()

	_, _, err := model.TryAdd(alice, own, nil, []SourceGroup{{Type: Audio, Semantics: FIDGroup}})
	if focuserr.KindOf(err) != focuserr.KindInvalidSources {
		t.Fatalf("expected KindInvalidSources for an empty group, got %v", focuserr.KindOf(err))
	}
}

func TestTryAddRejectsUndersizedSimulcastGroup(t *testing.T) {
	alice := mustJID(t, "room@conf.example/alice")
	model := NewModel(20)
	own := NewSourceMap()

	_, _, err := model.TryAdd(alice, own, []MediaSource{{SSRC: 1, Type: Video}}, []SourceGroup{
		{Type: Video, Semantics: SimulcastGroup, SSRCs: []SSRC{1}},
	})
	if focuserr.KindOf(err) != focuserr.KindInvalidSources {
		t.Fatalf("expected KindInvalidSources for a single-ssrc simulcast group, got %v", focuserr.KindOf(err))
	}
}

func TestTryAddAcceptsGroupReferencingSameRequestSources(t *testing.T) {
	alice := mustJID(t, "room@conf.example/alice")
	model := NewModel(20)
	own := NewSourceMap()

	group := SourceGroup{Type: Video, Semantics: SimulcastGroup, SSRCs: []SSRC{1, 2}}
	_, addedGroups, err := model.TryAdd(alice, own, []MediaSource{{SSRC: 1, Type: Video}, {SSRC: 2, Type: Video}}, []SourceGroup{group})
	if err != nil {
		t.Fatalf("TryAdd returned error: %v", err)
	}
	if len(addedGroups) != 1 {
		t.Fatalf("expected 1 group added, got %d", len(addedGroups))
	}
	if len(own.Groups(Video)) != 1 {
		t.Fatal("group not recorded in own SourceMap")
	}
}

func TestRemoveOnlyRemovesOwnedSources(t *testing.T) {
	alice := mustJID(t, "room@conf.example/alice")
	bob := mustJID(t, "room@conf.example/bob")
	model := NewModel(20)
	aliceOwn := NewSourceMap()
	model.TryAdd(alice, aliceOwn, []MediaSource{{SSRC: 1, Type: Audio}}, nil)

	bobOwn := NewSourceMap()
	removed, _ := model.Remove(bob, bobOwn, []MediaSource{{SSRC: 1, Type: Audio}}, nil)
	if len(removed) != 0 {
		t.Fatal("Remove should not remove a source bob does not own, even if the ssrc is otherwise valid")
	}
	if len(aliceOwn.Sources(Audio)) != 1 {
		t.Fatal("alice's source should be untouched by bob's Remove call")
	}
}

func TestRemoveFreesSSRCForReuse(t *testing.T) {
	alice := mustJID(t, "room@conf.example/alice")
	bob := mustJID(t, "room@conf.example/bob")
	model := NewModel(20)
	aliceOwn := NewSourceMap()
	model.TryAdd(alice, aliceOwn, []MediaSource{{SSRC: 9, Type: Audio}}, nil)

	model.Remove(alice, aliceOwn, []MediaSource{{SSRC: 9, Type: Audio}}, nil)

	bobOwn := NewSourceMap()
	_, _, err := model.TryAdd(bob, bobOwn, []MediaSource{{SSRC: 9, Type: Audio}}, nil)
	if err != nil {
		t.Fatalf("expected ssrc 9 to be reusable after removal, got error: %v", err)
	}
}

func TestDeepCopyIsIndependent(t *testing.T) {
	own := NewSourceMap()
	own.Put(MediaSource{SSRC: 1, Type: Audio})

	clone := own.DeepCopy()
	clone.Put(MediaSource{SSRC: 2, Type: Audio})

	if len(own.Sources(Audio)) != 1 {
		t.Fatalf("mutating the clone affected the original: %d sources", len(own.Sources(Audio)))
	}
	if len(clone.Sources(Audio)) != 2 {
		t.Fatalf("clone should have 2 sources, got %d", len(clone.Sources(Audio)))
	}
}

func TestPutAndDeleteBypassValidation(t *testing.T) {
	own := NewSourceMap()
	own.Put(MediaSource{SSRC: 42, Type: Video})
	if len(own.Sources(Video)) != 1 {
		t.Fatal("Put did not insert the source")
	}
	own.Delete(Video, 42)
	if len(own.Sources(Video)) != 0 {
		t.Fatal("Delete did not remove the source")
	}
}
