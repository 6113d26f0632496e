// Package bridge is the server-to-server HTTP client the signaling
// gateway uses to provision and tear down rooms on the orchestrator.
package bridge

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pion/webrtc/v4"

	"github.com/mossy-p/webrtc-conference/internal/middleware"
)

// serviceTokenTTL bounds how long a minted bearer token stays usable.
const serviceTokenTTL = 5 * time.Minute

// Client talks to the orchestrator's room bridge endpoints. Requests are
// authenticated with a short-lived service JWT signed with the shared
// secret.
type Client struct {
	baseURL   string
	jwtSecret string
	http      *http.Client
}

func NewClient(baseURL, jwtSecret string, timeout time.Duration) *Client {
	return &Client{
		baseURL:   baseURL,
		jwtSecret: jwtSecret,
		http:      &http.Client{Timeout: timeout},
	}
}

// RoomInfo is the orchestrator's answer to room provisioning calls.
type RoomInfo struct {
	RoomID    string `json:"roomId"`
	RoomToken string `json:"roomToken"`
}

type newRoomTokenRequest struct {
	RoomID   string `json:"roomId,omitempty"`
	MaxPeers int    `json:"maxPeers,omitempty"`
}

type newRoomRequest struct {
	RoomID    string `json:"roomId,omitempty"`
	RoomToken string `json:"roomToken,omitempty"`
	MaxPeers  int    `json:"maxPeers,omitempty"`
}

type terminateRoomRequest struct {
	RoomID string `json:"roomId"`
	Reason string `json:"reason,omitempty"`
}

type rtpCapabilitiesResponse struct {
	RtpCapabilities webrtc.RTPCapabilities `json:"rtpCapabilities"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// NewRoomToken mints a signed room token without creating the room.
func (c *Client) NewRoomToken(roomID string, maxPeers int) (RoomInfo, error) {
	var info RoomInfo
	err := c.post("/newRoomToken", newRoomTokenRequest{RoomID: roomID, MaxPeers: maxPeers}, &info)
	return info, err
}

// NewRoom creates a room, minting a token unless one is supplied.
func (c *Client) NewRoom(roomID, roomToken string, maxPeers int) (RoomInfo, error) {
	var info RoomInfo
	err := c.post("/newRoom", newRoomRequest{RoomID: roomID, RoomToken: roomToken, MaxPeers: maxPeers}, &info)
	return info, err
}

// TerminateRoom closes a room and disconnects every occupant.
func (c *Client) TerminateRoom(roomID, reason string) error {
	return c.post("/terminateRoom", terminateRoomRequest{RoomID: roomID, Reason: reason}, nil)
}

// RtpCapabilities fetches the orchestrator's router capabilities, shared
// with clients in the conferenceReady payload.
func (c *Client) RtpCapabilities() (webrtc.RTPCapabilities, error) {
	req, err := http.NewRequest(http.MethodGet, c.baseURL+"/rtpCapabilities", nil)
	if err != nil {
		return webrtc.RTPCapabilities{}, err
	}

	var resp rtpCapabilitiesResponse
	if err := c.do(req, &resp); err != nil {
		return webrtc.RTPCapabilities{}, err
	}
	return resp.RtpCapabilities, nil
}

func (c *Client) post(path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", path, err)
	}

	req, err := http.NewRequest(http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	bearer, err := c.serviceToken()
	if err != nil {
		return fmt.Errorf("mint service token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+bearer)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("orchestrator %s: %w", req.URL.Path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("orchestrator %s: read response: %w", req.URL.Path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr errorResponse
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("orchestrator %s: %s", req.URL.Path, apiErr.Error)
		}
		return fmt.Errorf("orchestrator %s: status %d", req.URL.Path, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("orchestrator %s: decode response: %w", req.URL.Path, err)
	}
	return nil
}

func (c *Client) serviceToken() (string, error) {
	now := time.Now()
	claims := middleware.AuthClaims{
		UserID: "signaling-gateway",
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(serviceTokenTTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(c.jwtSecret))
}
