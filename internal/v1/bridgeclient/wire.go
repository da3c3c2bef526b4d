package bridgeclient

import (
	"github.com/jitsi-focus-go/focus/internal/v1/iface"
	"github.com/jitsi-focus-go/focus/internal/v1/sourcemodel"
)

// Wire DTOs carried over the JSON-codec gRPC calls. jid.JID has no JSON
// marshaller of its own, so owners are flattened to their string form
// here and parsed back at the boundary only where a bridge reply
// actually needs to reference a participant (it does not, today).

type sourceWire struct {
	Owner  string            `json:"owner"`
	SSRC   uint32            `json:"ssrc"`
	Type   string            `json:"type"`
	Params map[string]string `json:"params,omitempty"`
}

type groupWire struct {
	Owner     string   `json:"owner"`
	Type      string   `json:"type"`
	Semantics string   `json:"semantics"`
	SSRCs     []uint32 `json:"ssrcs"`
}

type rtpDescriptionWire struct {
	MediaType string `json:"media_type"`
	Payload   any    `json:"payload,omitempty"`
}

func toSourceWire(s sourcemodel.MediaSource) sourceWire {
	return sourceWire{Owner: s.Owner.String(), SSRC: uint32(s.SSRC), Type: string(s.Type), Params: s.Params}
}

func toSourceWires(sources []sourcemodel.MediaSource) []sourceWire {
	out := make([]sourceWire, len(sources))
	for i, s := range sources {
		out[i] = toSourceWire(s)
	}
	return out
}

func toGroupWire(g sourcemodel.SourceGroup) groupWire {
	ssrcs := make([]uint32, len(g.SSRCs))
	for i, s := range g.SSRCs {
		ssrcs[i] = uint32(s)
	}
	return groupWire{Owner: g.Owner.String(), Type: string(g.Type), Semantics: string(g.Semantics), SSRCs: ssrcs}
}

func toGroupWires(groups []sourcemodel.SourceGroup) []groupWire {
	out := make([]groupWire, len(groups))
	for i, g := range groups {
		out[i] = toGroupWire(g)
	}
	return out
}

func toRtpDescWires(descs []iface.RtpDescription) []rtpDescriptionWire {
	out := make([]rtpDescriptionWire, len(descs))
	for i, d := range descs {
		out[i] = rtpDescriptionWire{MediaType: string(d.MediaType), Payload: d.Payload}
	}
	return out
}

type createChannelsRequest struct {
	ConferenceID string               `json:"conference_id"`
	EndpointID   string               `json:"endpoint_id"`
	Bundled      bool                 `json:"bundled"`
	Contents     []rtpDescriptionWire `json:"contents"`
}

type createChannelsResponse struct {
	EndpointID string `json:"endpoint_id"`
	Payload    any    `json:"payload"`
}

type updateChannelsInfoRequest struct {
	ChannelsPayload any                  `json:"channels_payload"`
	RtpDescs        []rtpDescriptionWire `json:"rtp_descs"`
	Sources         []sourceWire         `json:"sources"`
	Groups          []groupWire          `json:"groups"`
	BundleTransport any                  `json:"bundle_transport,omitempty"`
	EndpointID      string               `json:"endpoint_id"`
	Relays          []string             `json:"relays,omitempty"`
}

type updateBundleTransportRequest struct {
	Transport  any    `json:"transport"`
	EndpointID string `json:"endpoint_id"`
}

type updateTransportInfoRequest struct {
	TransportMap    map[string]any `json:"transport_map"`
	ChannelsPayload any            `json:"channels_payload"`
}

type updateSourcesInfoRequest struct {
	Sources         []sourceWire `json:"sources"`
	Groups          []groupWire  `json:"groups"`
	ChannelsPayload any          `json:"channels_payload"`
}

type muteParticipantRequest struct {
	ChannelsPayload any  `json:"channels_payload"`
	DoMute          bool `json:"do_mute"`
}

type muteParticipantResponse struct {
	Muted bool `json:"muted"`
}

type expireChannelsRequest struct {
	ChannelsPayload any `json:"channels_payload"`
}

type setGIDRequest struct {
	ConferenceID string `json:"conference_id"`
	GID          uint32 `json:"gid"`
}

type setNameRequest struct {
	ConferenceID string `json:"conference_id"`
	LocalPart    string `json:"local_part"`
}

type expireConferenceRequest struct {
	ConferenceID string `json:"conference_id"`
}

type emptyResponse struct{}
