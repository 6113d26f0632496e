package bridge

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mossy-p/webrtc-conference/internal/middleware"
)

const testSecret = "bridge-test-secret"

func verifyBearer(t *testing.T, r *http.Request) {
	t.Helper()
	header := r.Header.Get("Authorization")
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		t.Errorf("missing bearer token on %s", r.URL.Path)
		return
	}
	claims := &middleware.AuthClaims{}
	tok, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return []byte(testSecret), nil
	})
	if err != nil || !tok.Valid {
		t.Errorf("invalid service token on %s: %v", r.URL.Path, err)
		return
	}
	if claims.UserID != "signaling-gateway" {
		t.Errorf("service token user_id = %q", claims.UserID)
	}
}

func TestNewRoomSendsAuthenticatedRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/newRoom" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		verifyBearer(t, r)

		var req newRoomRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		if req.MaxPeers != 8 {
			t.Errorf("maxPeers = %d, want 8", req.MaxPeers)
		}

		w.WriteHeader(http.StatusCreated)
		fmt.Fprintf(w, `{"roomId":%q,"roomToken":"signed-token"}`, req.RoomID)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, testSecret, time.Second)
	info, err := c.NewRoom("room-1", "", 8)
	if err != nil {
		t.Fatalf("NewRoom failed: %v", err)
	}
	if info.RoomID != "room-1" || info.RoomToken != "signed-token" {
		t.Errorf("NewRoom = %+v", info)
	}
}

func TestErrorBodySurfaced(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error":"unknown room"}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, testSecret, time.Second)
	err := c.TerminateRoom("room-missing", "test")
	if err == nil || !strings.Contains(err.Error(), "unknown room") {
		t.Errorf("TerminateRoom error = %v, want server message surfaced", err)
	}
}

func TestNewRoomTokenRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/newRoomToken" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		verifyBearer(t, r)
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"roomId":"room-minted","roomToken":"tok"}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, testSecret, time.Second)
	info, err := c.NewRoomToken("", 4)
	if err != nil {
		t.Fatalf("NewRoomToken failed: %v", err)
	}
	if info.RoomID != "room-minted" || info.RoomToken != "tok" {
		t.Errorf("NewRoomToken = %+v", info)
	}
}
