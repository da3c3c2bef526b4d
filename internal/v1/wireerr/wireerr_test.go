package wireerr

import (
	"testing"

	"mellium.im/xmpp/stanza"

	"github.com/jitsi-focus-go/focus/internal/v1/focuserr"
)

func TestFromNilAndCancelled(t *testing.T) {
	if _, ok := From(nil); ok {
		t.Fatal("From(nil) should report ok=false")
	}
	cancelled := focuserr.New(focuserr.KindCancelled, "allocator cancelled")
	if _, ok := From(cancelled); ok {
		t.Fatal("From(KindCancelled) should report ok=false (no wire error for a cancelled allocator)")
	}
}

func TestFromMapsKnownKinds(t *testing.T) {
	cases := []struct {
		kind      focuserr.Kind
		condition stanza.Condition
	}{
		{focuserr.KindInvalidSources, stanza.BadRequest},
		{focuserr.KindNoBridgeAvailable, stanza.ServiceUnavailable},
		{focuserr.KindBridgeFailure, stanza.InternalServerError},
		{focuserr.KindNotAllowed, stanza.Forbidden},
		{focuserr.KindRoomNotFound, stanza.ItemNotFound},
		{focuserr.KindTimeout, stanza.RemoteServerTimeout},
	}
	for _, tc := range cases {
		err := focuserr.New(tc.kind, "boom")
		se, ok := From(err)
		if !ok {
			t.Fatalf("From(%v) reported ok=false, want true", tc.kind)
		}
		if se.Condition != tc.condition {
			t.Fatalf("From(%v).Condition = %v, want %v", tc.kind, se.Condition, tc.condition)
		}
		if se.Text == "" {
			t.Fatalf("From(%v).Text should carry the error message", tc.kind)
		}
	}
}
