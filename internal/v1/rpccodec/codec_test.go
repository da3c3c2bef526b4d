package rpccodec

import (
	"testing"

	"google.golang.org/grpc/encoding"
)

type samplePayload struct {
	RoomID string `json:"room_id"`
	Count  int    `json:"count"`
}

func TestMarshalUnmarshalRoundTrips(t *testing.T) {
	var c jsonCodec
	in := samplePayload{RoomID: "room1", Count: 3}

	data, err := c.Marshal(in)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var out samplePayload
	if err := c.Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if out != in {
		t.Fatalf("round trip mismatch: got %+v, want %+v", out, in)
	}
}

func TestNameMatchesConst(t *testing.T) {
	var c jsonCodec
	if c.Name() != Name {
		t.Fatalf("Name() = %q, want %q", c.Name(), Name)
	}
	if Name != "json" {
		t.Fatalf("Name = %q, want \"json\"", Name)
	}
}

func TestCodecIsRegistered(t *testing.T) {
	got := encoding.GetCodec(Name)
	if got == nil {
		t.Fatal("expected the json codec to be registered via init()")
	}
	if _, ok := got.(jsonCodec); !ok {
		t.Fatalf("registered codec is %T, want jsonCodec", got)
	}
}
