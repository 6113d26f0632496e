package session

import (
	"sync"
	"testing"
	"time"

	"github.com/mossy-p/webrtc-conference/internal/protocol"
	"github.com/mossy-p/webrtc-conference/internal/transport"
)

type fakeChannel struct {
	mu       sync.Mutex
	sent     []protocol.Message
	handlers []transport.Handler
}

func (c *fakeChannel) Connect(string, bool, time.Duration) error { return nil }
func (c *fakeChannel) Disconnect()                               {}

func (c *fakeChannel) Send(msg protocol.Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, msg)
	return true
}

func (c *fakeChannel) deliver(msg protocol.Message) {
	c.mu.Lock()
	handlers := make([]transport.Handler, len(c.handlers))
	copy(handlers, c.handlers)
	c.mu.Unlock()
	for _, fn := range handlers {
		fn(transport.Event{Kind: transport.EventMessage, Message: msg})
	}
}

func (c *fakeChannel) AddEventHandler(kind transport.EventKind, fn transport.Handler) int {
	if kind != transport.EventMessage {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append(c.handlers, fn)
	return len(c.handlers)
}

func (c *fakeChannel) RemoveEventHandler(transport.EventKind, int) {}

func (c *fakeChannel) countOf(t protocol.MessageType) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, m := range c.sent {
		if m.Type == t {
			n++
		}
	}
	return n
}

func (c *fakeChannel) lastOf(t protocol.MessageType) (protocol.Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.sent) - 1; i >= 0; i-- {
		if c.sent[i].Type == t {
			return c.sent[i], true
		}
	}
	return protocol.Message{}, false
}

type stubBridge struct {
	mu        sync.Mutex
	connects  int
	registers int
	joins     int
	leaves    int
	joinToken string
}

func (b *stubBridge) Connect(string) error { b.mu.Lock(); defer b.mu.Unlock(); b.connects++; return nil }

func (b *stubBridge) Register(string, string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.registers++
	return nil
}

func (b *stubBridge) Join(token string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.joins++
	b.joinToken = token
	return nil
}

func (b *stubBridge) Leave() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.leaves++
	return true
}

func (b *stubBridge) Close() {}

func (b *stubBridge) counts() (int, int, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connects, b.registers, b.joins
}

func newTestSession(timeout time.Duration) (*Session, *fakeChannel, *stubBridge) {
	ch := &fakeChannel{}
	bridge := &stubBridge{}
	s := NewSession(ch, bridge, Config{CallConnectTimeout: timeout, RequestTimeout: time.Second})
	return s, ch, bridge
}

func waitEvent(t *testing.T, s *Session, kind EventKind, timeout time.Duration) Event {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case evt := <-s.Events():
			if evt.Kind == kind {
				return evt
			}
		case <-deadline:
			t.Fatalf("no event of kind %d within %v", kind, timeout)
		}
	}
}

func TestSingleOutstandingInvite(t *testing.T) {
	s, ch, _ := newTestSession(time.Minute)

	if err := s.SendInvite("participant-bob"); err != nil {
		t.Fatalf("first SendInvite failed: %v", err)
	}
	if got := s.State(); got != StateCalling {
		t.Fatalf("state after SendInvite = %v, want calling", got)
	}

	if err := s.SendInvite("participant-carol"); err == nil {
		t.Errorf("second SendInvite succeeded, want rejection")
	}
	if got := s.State(); got != StateCalling {
		t.Errorf("state after rejected second invite = %v, want calling unchanged", got)
	}
	if got := ch.countOf(protocol.TypeInvite); got != 1 {
		t.Errorf("invite sent %d times, want 1", got)
	}

	// An inbound invite while calling is auto-rejected without touching
	// the outstanding attempt.
	ch.deliver(protocol.MustMessage(protocol.TypeInvite, protocol.Invite{
		ConferenceID: "conf-x", ParticipantID: "participant-dave",
	}))
	if got := ch.countOf(protocol.TypeReject); got != 1 {
		t.Errorf("auto-reject sent %d times, want 1", got)
	}
	if got := s.State(); got != StateCalling {
		t.Errorf("state after auto-reject = %v, want calling unchanged", got)
	}
}

func TestInviteResultAdvancesToConnecting(t *testing.T) {
	s, ch, _ := newTestSession(time.Minute)

	if err := s.SendInvite("participant-bob"); err != nil {
		t.Fatalf("SendInvite failed: %v", err)
	}
	ch.deliver(protocol.MustMessage(protocol.TypeInviteResult, protocol.InviteResult{
		ConferenceID: "conf-1", ParticipantID: "participant-bob",
	}))

	if got := s.State(); got != StateConnecting {
		t.Errorf("state after inviteResult = %v, want connecting", got)
	}
}

func TestInviteResultMismatchTearsDown(t *testing.T) {
	s, ch, _ := newTestSession(time.Minute)

	if err := s.SendInvite("participant-bob"); err != nil {
		t.Fatalf("SendInvite failed: %v", err)
	}
	ch.deliver(protocol.MustMessage(protocol.TypeInviteResult, protocol.InviteResult{
		ConferenceID: "conf-1", ParticipantID: "participant-someone-else",
	}))

	waitEvent(t, s, EventConferenceClosed, time.Second)
	if got := s.State(); got != StateDisconnected {
		t.Errorf("state after mismatched inviteResult = %v, want disconnected", got)
	}
}

func TestTimeoutTearsDownOnce(t *testing.T) {
	s, _, _ := newTestSession(30 * time.Millisecond)

	if err := s.SendInvite("participant-bob"); err != nil {
		t.Fatalf("SendInvite failed: %v", err)
	}

	evt := waitEvent(t, s, EventConferenceClosed, time.Second)
	if evt.Reason == "" {
		t.Errorf("timeout close has no reason")
	}
	if got := s.State(); got != StateDisconnected {
		t.Errorf("state after timeout = %v, want disconnected", got)
	}

	// Exactly one close event: no second one shows up afterwards.
	select {
	case extra := <-s.Events():
		if extra.Kind == EventConferenceClosed {
			t.Errorf("second conferenceClosed event after timeout: %+v", extra)
		}
	case <-time.After(100 * time.Millisecond):
	}

	// The attempt is fully cleared: a fresh invite is accepted again.
	if err := s.SendInvite("participant-carol"); err != nil {
		t.Errorf("SendInvite after timeout teardown failed: %v", err)
	}
}

func TestTimeoutWithdrawsCallOnWire(t *testing.T) {
	s, ch, _ := newTestSession(30 * time.Millisecond)

	if err := s.SendInvite("participant-bob"); err != nil {
		t.Fatalf("SendInvite failed: %v", err)
	}
	ch.deliver(protocol.MustMessage(protocol.TypeInviteResult, protocol.InviteResult{
		ConferenceID: "conf-1", ParticipantID: "participant-bob",
	}))

	waitEvent(t, s, EventConferenceClosed, time.Second)

	// The gateway must hear that the attempt is over, or the pending
	// conference lives on server-side and the caller stays busy forever.
	if got := ch.countOf(protocol.TypeLeave); got != 1 {
		t.Errorf("leave sent %d times after timeout, want 1", got)
	}
	if msg, ok := ch.lastOf(protocol.TypeLeave); ok {
		var leave protocol.Leave
		if err := msg.Decode(&leave); err != nil {
			t.Fatalf("bad leave payload: %v", err)
		}
		if leave.ConferenceID != "conf-1" {
			t.Errorf("leave referenced conference %q, want conf-1", leave.ConferenceID)
		}
	}
}

func TestTimeoutBeforeInviteResultStillNotifiesGateway(t *testing.T) {
	s, ch, _ := newTestSession(30 * time.Millisecond)

	if err := s.SendInvite("participant-bob"); err != nil {
		t.Fatalf("SendInvite failed: %v", err)
	}

	waitEvent(t, s, EventConferenceClosed, time.Second)
	if got := ch.countOf(protocol.TypeLeave); got != 1 {
		t.Errorf("leave sent %d times after timeout, want 1", got)
	}
}

func TestLeaveWhileAnsweringRejectsInvite(t *testing.T) {
	s, ch, _ := newTestSession(time.Minute)

	ch.deliver(protocol.MustMessage(protocol.TypeInvite, protocol.Invite{
		ConferenceID: "conf-1", ParticipantID: "participant-alice",
	}))
	waitEvent(t, s, EventInviteReceived, time.Second)

	s.Leave()

	// The caller keeps ringing until it hears a reject.
	if got := ch.countOf(protocol.TypeReject); got != 1 {
		t.Fatalf("reject sent %d times after Leave, want 1", got)
	}
	msg, _ := ch.lastOf(protocol.TypeReject)
	var reject protocol.Reject
	if err := msg.Decode(&reject); err != nil {
		t.Fatalf("bad reject payload: %v", err)
	}
	if reject.ConferenceID != "conf-1" || reject.ParticipantID != "participant-alice" {
		t.Errorf("reject = %+v, want conf-1/participant-alice", reject)
	}
	if got := s.State(); got != StateDisconnected {
		t.Errorf("state after Leave = %v, want disconnected", got)
	}
}

func TestLeaveIsIdempotent(t *testing.T) {
	s, ch, _ := newTestSession(time.Minute)

	if err := s.SendInvite("participant-bob"); err != nil {
		t.Fatalf("SendInvite failed: %v", err)
	}
	ch.deliver(protocol.MustMessage(protocol.TypeInviteResult, protocol.InviteResult{
		ConferenceID: "conf-1", ParticipantID: "participant-bob",
	}))

	s.Leave()
	if got := ch.countOf(protocol.TypeLeave); got != 1 {
		t.Fatalf("leave sent %d times after first Leave, want 1", got)
	}
	waitEvent(t, s, EventConferenceClosed, time.Second)

	s.Leave()
	if got := ch.countOf(protocol.TypeLeave); got != 1 {
		t.Errorf("leave sent %d times after second Leave, want still 1", got)
	}
	if got := s.State(); got != StateDisconnected {
		t.Errorf("state after Leave = %v, want disconnected", got)
	}
}

func TestStaleJoinConfResultIgnored(t *testing.T) {
	s, ch, _ := newTestSession(time.Minute)

	if err := s.JoinConference("conf-1", ""); err != nil {
		t.Fatalf("JoinConference failed: %v", err)
	}

	ch.deliver(protocol.MustMessage(protocol.TypeJoinConfResult, protocol.JoinConfResult{
		ConferenceID: "conf-other", LeaderID: "participant-x",
	}))
	if got := s.State(); got != StateConnecting {
		t.Errorf("state after stale joinConfResult = %v, want connecting unchanged", got)
	}
	select {
	case evt := <-s.Events():
		t.Errorf("stale joinConfResult emitted event %+v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestStaleConferenceReadyIgnored(t *testing.T) {
	s, ch, bridge := newTestSession(time.Minute)

	if err := s.JoinConference("conf-1", ""); err != nil {
		t.Fatalf("JoinConference failed: %v", err)
	}
	ch.deliver(protocol.MustMessage(protocol.TypeJoinConfResult, protocol.JoinConfResult{ConferenceID: "conf-1"}))

	ch.deliver(protocol.MustMessage(protocol.TypeConferenceReady, protocol.ConferenceReady{
		ConferenceID: "conf-other", RoomToken: "stale-token",
	}))
	time.Sleep(50 * time.Millisecond)
	if connects, _, _ := bridge.counts(); connects != 0 {
		t.Errorf("stale conferenceReady drove the room bridge (%d connects)", connects)
	}

	ch.deliver(protocol.MustMessage(protocol.TypeConferenceReady, protocol.ConferenceReady{
		ConferenceID: "conf-1", RoomToken: "room-token-1", RoomURI: "ws://room",
	}))
	waitEvent(t, s, EventConnected, time.Second)

	connects, registers, joins := bridge.counts()
	if connects != 1 || registers != 1 || joins != 1 {
		t.Errorf("bridge calls = %d/%d/%d, want 1 connect, 1 register, 1 join", connects, registers, joins)
	}
	if bridge.joinToken != "room-token-1" {
		t.Errorf("bridge joined with token %q, want room-token-1", bridge.joinToken)
	}
	if got := s.State(); got != StateConnected {
		t.Errorf("state after conferenceReady = %v, want connected", got)
	}
}

func TestAcceptMismatchIsNoOp(t *testing.T) {
	s, ch, _ := newTestSession(time.Minute)

	ch.deliver(protocol.MustMessage(protocol.TypeInvite, protocol.Invite{
		ConferenceID: "conf-1", ParticipantID: "participant-alice",
	}))
	waitEvent(t, s, EventInviteReceived, time.Second)

	if err := s.AcceptInvite("conf-wrong", "participant-alice"); err != nil {
		t.Errorf("mismatched AcceptInvite returned error %v, want logged no-op", err)
	}
	if got := s.State(); got != StateAnswering {
		t.Errorf("state after mismatched accept = %v, want answering unchanged", got)
	}
	if got := ch.countOf(protocol.TypeAccept); got != 0 {
		t.Errorf("accept sent %d times after mismatch, want 0", got)
	}
}

func TestPresenterToggle(t *testing.T) {
	s, ch, _ := newTestSession(time.Minute)

	ch.deliver(protocol.MustMessage(protocol.TypePresenterInfo, protocol.PresenterInfo{
		ParticipantID: "participant-bob", Status: "on",
	}))
	waitEvent(t, s, EventPresenterChanged, time.Second)
	if got := s.PresenterID(); got != "participant-bob" {
		t.Errorf("presenter = %q, want participant-bob", got)
	}

	// An "off" from someone who is not the presenter changes nothing.
	ch.deliver(protocol.MustMessage(protocol.TypePresenterInfo, protocol.PresenterInfo{
		ParticipantID: "participant-carol", Status: "off",
	}))
	waitEvent(t, s, EventPresenterChanged, time.Second)
	if got := s.PresenterID(); got != "participant-bob" {
		t.Errorf("presenter after unrelated off = %q, want participant-bob", got)
	}

	ch.deliver(protocol.MustMessage(protocol.TypePresenterInfo, protocol.PresenterInfo{
		ParticipantID: "participant-bob", Status: "off",
	}))
	waitEvent(t, s, EventPresenterChanged, time.Second)
	if got := s.PresenterID(); got != "" {
		t.Errorf("presenter after off = %q, want empty", got)
	}
}

func TestScreenShareRestoresTrackState(t *testing.T) {
	s, ch, _ := newTestSession(time.Minute)

	s.SetVideoEnabled(false)
	s.StartScreenShare()
	if got := s.Tracks(); !got.VideoEnabled {
		t.Errorf("video not enabled during screen share")
	}
	if got := ch.countOf(protocol.TypePresenterInfo); got != 1 {
		t.Errorf("presenterInfo sent %d times after start, want 1", got)
	}

	s.StopScreenShare()
	if got := s.Tracks(); got.VideoEnabled {
		t.Errorf("video state not restored after screen share stop")
	}
	if got := ch.countOf(protocol.TypePresenterInfo); got != 2 {
		t.Errorf("presenterInfo sent %d times after stop, want 2", got)
	}

	// Stop without an active share sends nothing.
	s.StopScreenShare()
	if got := ch.countOf(protocol.TypePresenterInfo); got != 2 {
		t.Errorf("presenterInfo sent %d times after redundant stop, want still 2", got)
	}
}
