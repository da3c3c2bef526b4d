// Package gateway provides two concrete iface.Gateway kinds: a
// recording/streaming handle and a SIP/rayo dial-out handle. Each is an
// opaque capability the conference starts and stops by kind only, never
// by concrete type, per the tagged-union design note.
//
// RecordingGateway is grounded on stream_processor/client.go's
// HTTP-client-with-retry shape (generalized from the teacher's raw gRPC
// dial to a retrying REST client, since the recording backend here is
// a Jibri-style REST controller rather than a captioning gRPC stream).
// SIPGateway is grounded on summary/client.go's single
// request/response RPC shape, carried over the same JSON-codec gRPC
// approach internal/bridgeclient uses.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/jitsi-focus-go/focus/internal/v1/iface"
	"github.com/jitsi-focus-go/focus/internal/v1/rpccodec"
)

// RecordingGateway starts/stops recordings or live streams on a Jibri-
// style REST controller, retrying transient failures.
type RecordingGateway struct {
	httpClient *retryablehttp.Client
	baseURL    string
}

// NewRecordingGateway builds a RecordingGateway against a controller at
// baseURL (e.g. "https://jibri.example.com").
func NewRecordingGateway(baseURL string) *RecordingGateway {
	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.RetryWaitMin = 500 * time.Millisecond
	client.RetryWaitMax = 5 * time.Second
	client.Logger = nil

	return &RecordingGateway{httpClient: client, baseURL: baseURL}
}

func (g *RecordingGateway) Kind() iface.GatewayKind { return iface.GatewayKindRecording }

type recordingStartRequest struct {
	RoomID string            `json:"room_id"`
	Params map[string]string `json:"params,omitempty"`
}

type recordingStartResponse struct {
	SessionID string `json:"session_id"`
}

// Start requests a new recording/streaming session for roomID.
func (g *RecordingGateway) Start(ctx context.Context, roomID string, params map[string]string) (string, error) {
	body, err := json.Marshal(recordingStartRequest{RoomID: roomID, Params: params})
	if err != nil {
		return "", fmt.Errorf("failed to encode recording start request: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/recordings", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build recording start request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("recording start request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("recording controller returned status %d", resp.StatusCode)
	}

	var out recordingStartResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode recording start response: %w", err)
	}
	return out.SessionID, nil
}

// Stop ends a previously started recording/streaming session.
func (g *RecordingGateway) Stop(ctx context.Context, sessionID string) error {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodDelete, g.baseURL+"/recordings/"+sessionID, nil)
	if err != nil {
		return fmt.Errorf("failed to build recording stop request: %w", err)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("recording stop request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("recording controller returned status %d", resp.StatusCode)
	}
	return nil
}

// SIPGateway dials a SIP/rayo endpoint into the conference via a
// control-plane RPC, mirroring a videoconferencing bridge's dial-out
// gateway rather than the recording controller above.
type SIPGateway struct {
	conn *grpc.ClientConn
}

const sipServiceName = "gateway.v1.SipDialer"

// NewSIPGateway dials the SIP gateway control address (host:port).
func NewSIPGateway(address string) (*SIPGateway, error) {
	conn, err := grpc.NewClient(address, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to dial sip gateway %s: %w", address, err)
	}
	return &SIPGateway{conn: conn}, nil
}

func (g *SIPGateway) Kind() iface.GatewayKind { return iface.GatewayKindSIP }

type sipDialRequest struct {
	RoomID  string            `json:"room_id"`
	URI     string            `json:"uri"`
	Params  map[string]string `json:"params,omitempty"`
}

type sipDialResponse struct {
	SessionID string `json:"session_id"`
}

// Start places a SIP call into roomID, dialing the URI given in params.
func (g *SIPGateway) Start(ctx context.Context, roomID string, params map[string]string) (string, error) {
	req := sipDialRequest{RoomID: roomID, URI: params["uri"], Params: params}
	var resp sipDialResponse
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := g.conn.Invoke(ctx, "/"+sipServiceName+"/Dial", req, &resp, grpc.CallContentSubtype(rpccodec.Name)); err != nil {
		return "", fmt.Errorf("sip dial failed: %w", err)
	}
	return resp.SessionID, nil
}

// Stop hangs up a previously dialed SIP session.
func (g *SIPGateway) Stop(ctx context.Context, sessionID string) error {
	req := struct {
		SessionID string `json:"session_id"`
	}{SessionID: sessionID}
	var resp struct{}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return g.conn.Invoke(ctx, "/"+sipServiceName+"/HangUp", req, &resp, grpc.CallContentSubtype(rpccodec.Name))
}

// Close tears down the SIP gateway's connection.
func (g *SIPGateway) Close() error {
	return g.conn.Close()
}
