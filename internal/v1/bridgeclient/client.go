// Package bridgeclient is a reference ColibriConference implementation:
// a gRPC ClientConn to a videobridge's control API, wrapped in a
// gobreaker.CircuitBreaker exactly like the teacher's pkg/sfu.SFUClient
// and bus.Service. Because the videobridge's real COLIBRI control API
// has no protobuf package available in this module (the teacher's own
// gen/proto import is itself absent from its tree), requests are
// carried as plain Go structs through a small registered JSON
// encoding.Codec and grpc.ClientConn.Invoke, rather than vendoring a
// fabricated stub.
package bridgeclient

import (
	"context"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/jitsi-focus-go/focus/internal/v1/iface"
	"github.com/jitsi-focus-go/focus/internal/v1/metrics"
	"github.com/jitsi-focus-go/focus/internal/v1/rpccodec"
	"github.com/jitsi-focus-go/focus/internal/v1/sourcemodel"
)

const serviceName = "colibri.v1.Conference"

// Client dials one videobridge's control endpoint.
type Client struct {
	conn *grpc.ClientConn
	cb   *gobreaker.CircuitBreaker
	name string // breaker/metrics label, typically the bridge JID
}

// Dial connects to a videobridge's control address (host:port).
func Dial(address, breakerName string) (*Client, error) {
	conn, err := grpc.NewClient(address, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to dial bridge %s: %w", address, err)
	}

	st := gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 3,
		Interval:    1 * time.Minute,
		Timeout:     30 * time.Second,
		OnStateChange: func(name string, from, to gobreaker.State) {
			var stateVal float64
			switch to {
			case gobreaker.StateClosed:
				stateVal = 0
			case gobreaker.StateOpen:
				stateVal = 1
			case gobreaker.StateHalfOpen:
				stateVal = 2
			}
			metrics.CircuitBreakerState.WithLabelValues(breakerName).Set(stateVal)
		},
	}

	return &Client{conn: conn, cb: gobreaker.NewCircuitBreaker(st), name: breakerName}, nil
}

// Close tears down the gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Conference scopes this Client to one conference on its bridge. Each
// Conference carries its own SetGID/SetName state, matching the
// ColibriConference interface's per-conference lifecycle.
type Conference struct {
	client       *Client
	conferenceID string
	gid          uint32
	localPart    string
}

// ConferenceFor returns a per-conference-per-bridge ColibriConference
// scoped to conferenceID. internal/conference calls this once per
// bridge a conference places participants on.
func (c *Client) ConferenceFor(conferenceID string) iface.ColibriConference {
	return &Conference{client: c, conferenceID: conferenceID}
}

func (c *Conference) SetGID(gid uint32) { c.gid = gid }

func (c *Conference) SetName(localPart string) { c.localPart = localPart }

func (c *Conference) invoke(ctx context.Context, method string, req, resp any) error {
	_, err := c.client.cb.Execute(func() (interface{}, error) {
		fullMethod := "/" + serviceName + "/" + method
		return nil, c.client.conn.Invoke(ctx, fullMethod, req, resp, grpc.CallContentSubtype(rpccodec.Name))
	})
	if err == gobreaker.ErrOpenState {
		metrics.CircuitBreakerFailures.WithLabelValues(c.client.name).Inc()
		return status.Error(codes.Unavailable, "bridge circuit breaker open")
	}
	return err
}

func (c *Conference) CreateChannels(ctx context.Context, endpointID string, bundled bool, contents []iface.RtpDescription) (iface.ChannelsInfo, error) {
	req := createChannelsRequest{
		ConferenceID: c.conferenceID,
		EndpointID:   endpointID,
		Bundled:      bundled,
		Contents:     toRtpDescWires(contents),
	}
	var resp createChannelsResponse
	if err := c.invoke(ctx, "CreateChannels", req, &resp); err != nil {
		return iface.ChannelsInfo{}, err
	}
	return iface.ChannelsInfo{EndpointID: resp.EndpointID, Payload: resp.Payload}, nil
}

func (c *Conference) UpdateChannelsInfo(ctx context.Context, ci iface.ChannelsInfo, rtpDescs []iface.RtpDescription, sources []sourcemodel.MediaSource, groups []sourcemodel.SourceGroup, bundleTransport any, endpointID string, relays []string) error {
	req := updateChannelsInfoRequest{
		ChannelsPayload: ci.Payload,
		RtpDescs:        toRtpDescWires(rtpDescs),
		Sources:         toSourceWires(sources),
		Groups:          toGroupWires(groups),
		BundleTransport: bundleTransport,
		EndpointID:      endpointID,
		Relays:          relays,
	}
	var resp emptyResponse
	return c.invoke(ctx, "UpdateChannelsInfo", req, &resp)
}

func (c *Conference) UpdateBundleTransportInfo(ctx context.Context, transport any, endpointID string) error {
	req := updateBundleTransportRequest{Transport: transport, EndpointID: endpointID}
	var resp emptyResponse
	return c.invoke(ctx, "UpdateBundleTransportInfo", req, &resp)
}

func (c *Conference) UpdateTransportInfo(ctx context.Context, transportMap map[string]any, ci iface.ChannelsInfo) error {
	req := updateTransportInfoRequest{TransportMap: transportMap, ChannelsPayload: ci.Payload}
	var resp emptyResponse
	return c.invoke(ctx, "UpdateTransportInfo", req, &resp)
}

func (c *Conference) UpdateSourcesInfo(ctx context.Context, sources []sourcemodel.MediaSource, groups []sourcemodel.SourceGroup, ci iface.ChannelsInfo) error {
	req := updateSourcesInfoRequest{Sources: toSourceWires(sources), Groups: toGroupWires(groups), ChannelsPayload: ci.Payload}
	var resp emptyResponse
	return c.invoke(ctx, "UpdateSourcesInfo", req, &resp)
}

func (c *Conference) MuteParticipant(ctx context.Context, ci iface.ChannelsInfo, doMute bool) (bool, error) {
	req := muteParticipantRequest{ChannelsPayload: ci.Payload, DoMute: doMute}
	var resp muteParticipantResponse
	if err := c.invoke(ctx, "MuteParticipant", req, &resp); err != nil {
		return false, err
	}
	return resp.Muted, nil
}

func (c *Conference) ExpireChannels(ctx context.Context, ci iface.ChannelsInfo) error {
	req := expireChannelsRequest{ChannelsPayload: ci.Payload}
	var resp emptyResponse
	return c.invoke(ctx, "ExpireChannels", req, &resp)
}

func (c *Conference) ExpireConference(ctx context.Context) error {
	req := expireConferenceRequest{ConferenceID: c.conferenceID}
	var resp emptyResponse
	return c.invoke(ctx, "ExpireConference", req, &resp)
}

func (c *Conference) Dispose() {
	// No per-conference resource to release beyond the shared Client
	// connection, which is owned and closed by whoever called Dial.
}
