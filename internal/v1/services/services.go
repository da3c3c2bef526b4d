// Package services bundles the process-wide collaborators a focus
// instance wires once and shares across every conference, replacing
// the module-level globals the design notes flag (spec §9 "Global
// singletons"). A Services value is constructed once in cmd/focus and
// closed over by the registry.Factory passed to registry.New.
package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"mellium.im/xmpp/jid"

	"github.com/jitsi-focus-go/focus/internal/v1/authauthority"
	"github.com/jitsi-focus-go/focus/internal/v1/bridgeclient"
	"github.com/jitsi-focus-go/focus/internal/v1/bridgefeed"
	"github.com/jitsi-focus-go/focus/internal/v1/conference"
	"github.com/jitsi-focus-go/focus/internal/v1/config"
	"github.com/jitsi-focus-go/focus/internal/v1/gateway"
	"github.com/jitsi-focus-go/focus/internal/v1/iface"
	"github.com/jitsi-focus-go/focus/internal/v1/logging"
	"github.com/jitsi-focus-go/focus/internal/v1/registry"
	"github.com/jitsi-focus-go/focus/internal/v1/registryredis"
	"github.com/jitsi-focus-go/focus/internal/v1/workpool"
)

// RoomFactory builds the room-/signalling-facing collaborators for one
// conference. XMPP transport, MUC room membership, and Jingle
// signalling stay out of this module's scope (spec §1); whatever
// process embeds this package supplies the concrete XMPP stack here.
type RoomFactory func(ctx context.Context, roomID string) (iface.MucRoom, iface.JingleChannel, error)

// GatewayFactory resolves the capability handle for a gateway kind,
// or (nil, false) if that kind has not been configured.
type GatewayFactory func(kind iface.GatewayKind) (iface.Gateway, bool)

// Services bundles every process-wide collaborator. Conference-specific
// state (room membership, bridge placement) never lives here.
type Services struct {
	Config    config.Config
	Selector  iface.BridgeSelector
	Authority iface.AuthenticationAuthority // nil if AUTH_ENABLED=false
	Gateways  GatewayFactory
	Pool      *workpool.Pool
	Rooms     RoomFactory

	bridgeClients map[string]*bridgeclient.Client // keyed by bridge JID
	feedRouter    *bridgefeed.Router
	leaser        *registryredis.Leaser // nil if REDIS_ENABLED=false
	sipGateway    *gateway.SIPGateway   // non-nil only if SIP_GATEWAY_ADDR set; owns a conn to close
}

// Build wires every concrete collaborator from cfg. rooms is the
// caller-supplied XMPP/MUC/Jingle hook (see RoomFactory).
func Build(ctx context.Context, cfg config.Config, rooms RoomFactory) (*Services, error) {
	router := bridgefeed.NewRouter()

	bridgeClients := make(map[string]*bridgeclient.Client)
	for _, addr := range strings.Split(cfg.BridgeAddrs, ",") {
		addr = strings.TrimSpace(addr)
		if addr == "" {
			continue
		}
		client, err := bridgeclient.Dial(addr, "bridge-"+addr)
		if err != nil {
			return nil, fmt.Errorf("failed to dial bridge %s: %w", addr, err)
		}
		bridgeClients[addr] = client

		j, err := jid.SafeFromString(bridgeJIDLocalPart(addr) + "@" + cfg.XmppDomain)
		if err != nil {
			return nil, fmt.Errorf("failed to build jid for bridge %s: %w", addr, err)
		}
		if err := router.Watch(ctx, j, "ws://"+addr+"/stats", addr, ""); err != nil {
			logging.Warn(ctx, "failed to connect bridge stats feed, bridge starts down", zap.String("bridge", j.String()), zap.Error(err))
		}
	}

	var authority iface.AuthenticationAuthority
	if cfg.AuthEnabled {
		a, err := authauthority.New(ctx, cfg.Auth0Domain, cfg.Auth0Audience)
		if err != nil {
			return nil, fmt.Errorf("failed to build authentication authority: %w", err)
		}
		authority = a
	}

	var leaser *registryredis.Leaser
	if cfg.RedisEnabled {
		l, err := registryredis.NewLeaser(cfg.RedisAddr, cfg.RedisPassword, 24*time.Hour)
		if err != nil {
			return nil, fmt.Errorf("failed to build redis gid leaser: %w", err)
		}
		leaser = l
	}

	gateways := map[iface.GatewayKind]iface.Gateway{}
	var sipGateway *gateway.SIPGateway
	if cfg.RecordingControllerURL != "" {
		gateways[iface.GatewayKindRecording] = gateway.NewRecordingGateway(cfg.RecordingControllerURL)
	}
	if cfg.SipGatewayAddr != "" {
		g, err := gateway.NewSIPGateway(cfg.SipGatewayAddr)
		if err != nil {
			return nil, fmt.Errorf("failed to dial sip gateway: %w", err)
		}
		sipGateway = g
		gateways[iface.GatewayKindSIP] = g
	}

	return &Services{
		Config: cfg,
		Selector: router,
		Authority: authority,
		Gateways: func(kind iface.GatewayKind) (iface.Gateway, bool) {
			g, ok := gateways[kind]
			return g, ok
		},
		Pool:          workpool.New(16),
		Rooms:         rooms,
		bridgeClients: bridgeClients,
		feedRouter:    router,
		leaser:        leaser,
		sipGateway:    sipGateway,
	}, nil
}

// colibriForRoom resolves the per-bridge Client for b and scopes it to
// roomID, satisfying conference.Collaborators.ColibriFor's
// per-bridge-handle signature once closed over one conference's room id.
func (s *Services) colibriForRoom(roomID string, b iface.Bridge) iface.ColibriConference {
	addr := b.JID.String()
	client, ok := s.bridgeClients[addr]
	if !ok {
		for a, c := range s.bridgeClients {
			if strings.HasPrefix(addr, bridgeJIDLocalPart(a)) {
				client = c
				ok = true
				break
			}
		}
	}
	if !ok {
		logging.Error(context.Background(), "no bridgeclient configured for bridge", zap.String("bridge", b.JID.String()), zap.String("room_id", roomID))
		return nil
	}
	return client.ConferenceFor(roomID)
}

func bridgeJIDLocalPart(addr string) string {
	return strings.ReplaceAll(strings.ReplaceAll(addr, ":", "-"), ".", "-")
}

// ConferenceConfig translates the process Config into conference.Config.
func (s *Services) ConferenceConfig() conference.Config {
	cfg := s.Config
	return conference.Config{
		MinParticipants:          cfg.MinParticipants,
		MaxSourcesPerUser:        cfg.MaxSourcesPerUser,
		StartAudioMuted:          cfg.StartAudioMuted,
		StartVideoMuted:          cfg.StartVideoMuted,
		StartAudioMutedFlag:      cfg.StartAudioMutedFlag,
		StartVideoMutedFlag:      cfg.StartVideoMutedFlag,
		EnableAutoOwner:          cfg.EnableAutoOwner,
		UseRoomAsSharedDocName:   cfg.UseRoomAsSharedDocName,
		EnforcedVideobridge:      cfg.EnforcedVideobridge,
		LipSyncEnabled:           cfg.LipSyncEnabled,
		IdleTimeout:              cfg.IdleTimeout,
		SingleParticipantTimeout: cfg.SingleParticipantTimeout,
	}
}

// Factory builds a registry.Factory closed over this Services value.
func (s *Services) Factory() registry.Factory {
	return func(roomID string) conference.Collaborators {
		room, jingle, err := s.Rooms(context.Background(), roomID)
		if err != nil {
			logging.Error(context.Background(), "failed to build room collaborators", zap.String("room_id", roomID), zap.Error(err))
			return conference.Collaborators{}
		}
		return conference.Collaborators{
			Room:      room,
			Jingle:    jingle,
			Selector:  s.Selector,
			Authority: s.Authority,
			ColibriFor: func(b iface.Bridge) iface.ColibriConference {
				return s.colibriForRoom(roomID, b)
			},
			Pool: s.Pool,
		}
	}
}

// NewRegistry builds a registry.Registry wired with this Services'
// collaborator factory and optional Redis GID leaser.
func (s *Services) NewRegistry() *registry.Registry {
	var leaser registry.GidLeaser
	if s.leaser != nil {
		leaser = s.leaser
	}
	return registry.New(s.Config.JicofoShortID, s.ConferenceConfig(), s.Factory(), leaser)
}

// Close releases every collaborator resource owned by Services.
func (s *Services) Close() {
	s.feedRouter.Close()
	for _, c := range s.bridgeClients {
		_ = c.Close()
	}
	if s.leaser != nil {
		_ = s.leaser.Close()
	}
	if s.sipGateway != nil {
		_ = s.sipGateway.Close()
	}
	s.Pool.Stop()
}
