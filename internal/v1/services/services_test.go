package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"mellium.im/xmpp/jid"

	"github.com/jitsi-focus-go/focus/internal/v1/config"
	"github.com/jitsi-focus-go/focus/internal/v1/iface"
)

func mustJID(t *testing.T, s string) jid.JID {
	t.Helper()
	j, err := jid.Parse(s)
	if err != nil {
		t.Fatalf("jid.Parse(%q): %v", s, err)
	}
	return j
}

func noopRooms(ctx context.Context, roomID string) (iface.MucRoom, iface.JingleChannel, error) {
	return nil, nil, nil
}

func TestBuildWithNoOptionalCollaborators(t *testing.T) {
	cfg := config.Config{
		Port:            "8080",
		XmppDomain:      "conf.example",
		BridgeAddrs:     "",
		MinParticipants: 2,
	}

	s, err := Build(context.Background(), cfg, noopRooms)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer s.Close()

	if s.Selector == nil {
		t.Fatal("expected a non-nil BridgeSelector even with no configured bridges")
	}
	if s.Authority != nil {
		t.Fatal("expected a nil Authority when AuthEnabled is false")
	}
	if _, ok := s.Gateways(iface.GatewayKindRecording); ok {
		t.Fatal("expected no recording gateway configured")
	}
	if _, ok := s.Gateways(iface.GatewayKindSIP); ok {
		t.Fatal("expected no sip gateway configured")
	}
}

func TestBuildDialsEveryConfiguredBridge(t *testing.T) {
	cfg := config.Config{
		Port:        "8080",
		XmppDomain:  "conf.example",
		BridgeAddrs: "bridge1.example.com:9090, bridge2.example.com:9090",
	}

	s, err := Build(context.Background(), cfg, noopRooms)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer s.Close()

	if len(s.bridgeClients) != 2 {
		t.Fatalf("len(bridgeClients) = %d, want 2", len(s.bridgeClients))
	}
}

func TestConferenceConfigTranslatesFields(t *testing.T) {
	s := &Services{Config: config.Config{
		MinParticipants:          3,
		MaxSourcesPerUser:        5,
		StartAudioMuted:          4,
		StartVideoMuted:          4,
		EnableAutoOwner:          true,
		UseRoomAsSharedDocName:   true,
		EnforcedVideobridge:      "bridge1@conf.example",
		LipSyncEnabled:           true,
		IdleTimeout:              30 * time.Second,
		SingleParticipantTimeout: 10 * time.Second,
	}}

	got := s.ConferenceConfig()
	if got.MinParticipants != 3 || got.MaxSourcesPerUser != 5 {
		t.Fatalf("unexpected conference config: %+v", got)
	}
	if !got.EnableAutoOwner || !got.UseRoomAsSharedDocName || !got.LipSyncEnabled {
		t.Fatalf("expected boolean flags carried through: %+v", got)
	}
	if got.EnforcedVideobridge != "bridge1@conf.example" {
		t.Fatalf("EnforcedVideobridge = %q, want bridge1@conf.example", got.EnforcedVideobridge)
	}
	if got.IdleTimeout != 30*time.Second || got.SingleParticipantTimeout != 10*time.Second {
		t.Fatalf("unexpected timeouts: %+v", got)
	}
}

func TestBridgeJIDLocalPartSanitizesAddress(t *testing.T) {
	got := bridgeJIDLocalPart("bridge1.example.com:9090")
	want := "bridge1-example-com-9090"
	if got != want {
		t.Fatalf("bridgeJIDLocalPart = %q, want %q", got, want)
	}
}

func TestColibriForRoomReturnsNilWhenBridgeUnknown(t *testing.T) {
	s := &Services{}
	got := s.colibriForRoom("room1@conf.example", iface.Bridge{JID: mustJID(t, "unknown-bridge@conf.example")})
	if got != nil {
		t.Fatal("expected nil ColibriConference for an unconfigured bridge")
	}
}

func TestFactoryReturnsEmptyCollaboratorsWhenRoomsFails(t *testing.T) {
	s := &Services{
		Rooms: func(ctx context.Context, roomID string) (iface.MucRoom, iface.JingleChannel, error) {
			return nil, nil, errors.New("room join refused")
		},
	}
	factory := s.Factory()
	collab := factory("room1@conf.example")
	if collab.Room != nil || collab.Jingle != nil {
		t.Fatal("expected zero-value Collaborators when the room factory fails")
	}
}

func TestFactoryWiresSelectorAndAuthority(t *testing.T) {
	s := &Services{
		Rooms:     noopRooms,
		Selector:  nil,
		Authority: nil,
	}
	factory := s.Factory()
	collab := factory("room1@conf.example")
	if collab.ColibriFor == nil {
		t.Fatal("expected ColibriFor to be wired")
	}
}
