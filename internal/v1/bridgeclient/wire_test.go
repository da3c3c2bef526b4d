package bridgeclient

import (
	"testing"

	"github.com/jitsi-focus-go/focus/internal/v1/iface"
	"github.com/jitsi-focus-go/focus/internal/v1/sourcemodel"
	"mellium.im/xmpp/jid"
)

func mustJID(t *testing.T, s string) jid.JID {
	t.Helper()
	j, err := jid.Parse(s)
	if err != nil {
		t.Fatalf("jid.Parse(%q): %v", s, err)
	}
	return j
}

func TestToSourceWireFlattensOwnerAndCopiesParams(t *testing.T) {
	owner := mustJID(t, "room@conf.example/alice")
	s := sourcemodel.MediaSource{
		Owner:  owner,
		SSRC:   12345,
		Type:   sourcemodel.Video,
		Params: map[string]string{"msid": "stream-1"},
	}

	w := toSourceWire(s)
	if w.Owner != owner.String() {
		t.Fatalf("Owner = %q, want %q", w.Owner, owner.String())
	}
	if w.SSRC != 12345 {
		t.Fatalf("SSRC = %d, want 12345", w.SSRC)
	}
	if w.Type != string(sourcemodel.Video) {
		t.Fatalf("Type = %q, want %q", w.Type, sourcemodel.Video)
	}
	if w.Params["msid"] != "stream-1" {
		t.Fatalf("Params[msid] = %q, want stream-1", w.Params["msid"])
	}
}

func TestToGroupWireFlattensSSRCs(t *testing.T) {
	owner := mustJID(t, "room@conf.example/bob")
	g := sourcemodel.SourceGroup{
		Owner:     owner,
		Type:      sourcemodel.Video,
		Semantics: sourcemodel.SimulcastGroup,
		SSRCs:     []sourcemodel.SSRC{1, 2, 3},
	}

	w := toGroupWire(g)
	if len(w.SSRCs) != 3 || w.SSRCs[0] != 1 || w.SSRCs[2] != 3 {
		t.Fatalf("SSRCs = %v, want [1 2 3]", w.SSRCs)
	}
	if w.Semantics != string(sourcemodel.SimulcastGroup) {
		t.Fatalf("Semantics = %q, want %q", w.Semantics, sourcemodel.SimulcastGroup)
	}
}

func TestToSourceWiresPreservesOrderAndLength(t *testing.T) {
	owner := mustJID(t, "room@conf.example/carol")
	sources := []sourcemodel.MediaSource{
		{Owner: owner, SSRC: 1, Type: sourcemodel.Audio},
		{Owner: owner, SSRC: 2, Type: sourcemodel.Video},
	}
	wires := toSourceWires(sources)
	if len(wires) != 2 {
		t.Fatalf("len(wires) = %d, want 2", len(wires))
	}
	if wires[0].SSRC != 1 || wires[1].SSRC != 2 {
		t.Fatalf("wire order not preserved: %+v", wires)
	}
}

func TestToRtpDescWiresCarriesPayloadThrough(t *testing.T) {
	descs := []iface.RtpDescription{
		{MediaType: sourcemodel.Audio, Payload: map[string]int{"pt": 111}},
	}
	wires := toRtpDescWires(descs)
	if len(wires) != 1 {
		t.Fatalf("len(wires) = %d, want 1", len(wires))
	}
	if wires[0].MediaType != string(sourcemodel.Audio) {
		t.Fatalf("MediaType = %q, want %q", wires[0].MediaType, sourcemodel.Audio)
	}
	payload, ok := wires[0].Payload.(map[string]int)
	if !ok || payload["pt"] != 111 {
		t.Fatalf("Payload not carried through: %+v", wires[0].Payload)
	}
}

func TestToGroupWiresEmptyInputProducesEmptySlice(t *testing.T) {
	wires := toGroupWires(nil)
	if len(wires) != 0 {
		t.Fatalf("len(wires) = %d, want 0", len(wires))
	}
}
