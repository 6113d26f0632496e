package gateway

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/mossy-p/webrtc-conference/config"
	"github.com/mossy-p/webrtc-conference/internal/bridge"
	"github.com/mossy-p/webrtc-conference/internal/protocol"
)

type testConn struct {
	mu   sync.Mutex
	msgs []protocol.Message
}

func (c *testConn) deliver(msg protocol.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msg)
}

func (c *testConn) countOf(t protocol.MessageType) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, m := range c.msgs {
		if m.Type == t {
			n++
		}
	}
	return n
}

func (c *testConn) lastOf(t protocol.MessageType) (protocol.Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.msgs) - 1; i >= 0; i-- {
		if c.msgs[i].Type == t {
			return c.msgs[i], true
		}
	}
	return protocol.Message{}, false
}

// waitOn polls until the connection has received at least one message of
// the given type.
func (c *testConn) waitOn(t *testing.T, msgType protocol.MessageType) protocol.Message {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if msg, ok := c.lastOf(msgType); ok {
			return msg
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("no %s message within deadline", msgType)
	return protocol.Message{}
}

type stubProvisioner struct {
	mu         sync.Mutex
	created    int
	terminated []string
	failNext   bool
}

func (p *stubProvisioner) NewRoom(roomID, roomToken string, maxPeers int) (bridge.RoomInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failNext {
		p.failNext = false
		return bridge.RoomInfo{}, errProvision
	}
	p.created++
	return bridge.RoomInfo{RoomID: "room-1", RoomToken: "room-token-1"}, nil
}

func (p *stubProvisioner) TerminateRoom(roomID, reason string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.terminated = append(p.terminated, roomID)
	return nil
}

func (p *stubProvisioner) RtpCapabilities() (webrtc.RTPCapabilities, error) {
	return webrtc.RTPCapabilities{}, nil
}

func (p *stubProvisioner) terminatedRooms() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.terminated))
	copy(out, p.terminated)
	return out
}

var errProvision = errors.New("provisioning unavailable")

func newTestServer() (*Server, *stubProvisioner) {
	rooms := &stubProvisioner{}
	cfg := config.GatewayConfig{
		RoomWSURI:          "ws://room.test/ws",
		MaxParticipants:    16,
		CallConnectTimeout: time.Minute,
		RequestTimeout:     time.Second,
	}
	return NewServer(cfg, rooms, nil), rooms
}

func register(t *testing.T, s *Server, name string) (*Participant, *testConn) {
	t.Helper()
	conn := &testConn{}
	part := s.HandleMessage(nil, conn, protocol.MustMessage(protocol.TypeRegister, protocol.Register{DisplayName: name}))
	if part == nil {
		t.Fatalf("register for %s returned no participant", name)
	}
	var result protocol.RegisterResult
	msg, _ := conn.lastOf(protocol.TypeRegisterResult)
	if err := msg.Decode(&result); err != nil || result.ParticipantID == "" {
		t.Fatalf("bad registerResult for %s: %+v, %v", name, result, err)
	}
	return part, conn
}

func TestUnregisteredMessagesRejected(t *testing.T) {
	s, _ := newTestServer()
	conn := &testConn{}

	part := s.HandleMessage(nil, conn, protocol.MustMessage(protocol.TypeInvite, protocol.Invite{ParticipantID: "x"}))
	if part != nil {
		t.Errorf("unregistered invite produced a participant")
	}
	if got := conn.countOf(protocol.TypeUnauthorized); got != 1 {
		t.Errorf("unauthorized sent %d times, want 1", got)
	}
}

func TestInviteAcceptReachesConferenceReady(t *testing.T) {
	s, rooms := newTestServer()
	alice, aliceConn := register(t, s, "Alice")
	bob, bobConn := register(t, s, "Bob")

	s.HandleMessage(alice, aliceConn, protocol.MustMessage(protocol.TypeInvite, protocol.Invite{ParticipantID: bob.ID}))

	var inviteResult protocol.InviteResult
	msg, ok := aliceConn.lastOf(protocol.TypeInviteResult)
	if !ok {
		t.Fatalf("caller got no inviteResult")
	}
	if err := msg.Decode(&inviteResult); err != nil || inviteResult.ConferenceID == "" || inviteResult.Error != "" {
		t.Fatalf("bad inviteResult: %+v, %v", inviteResult, err)
	}

	var invite protocol.Invite
	msg, ok = bobConn.lastOf(protocol.TypeInvite)
	if !ok {
		t.Fatalf("callee got no invite push")
	}
	if err := msg.Decode(&invite); err != nil || invite.ConferenceID != inviteResult.ConferenceID || invite.ParticipantID != alice.ID {
		t.Fatalf("bad invite push: %+v, %v", invite, err)
	}

	s.HandleMessage(bob, bobConn, protocol.MustMessage(protocol.TypeAccept, protocol.Accept{
		ConferenceID:  invite.ConferenceID,
		ParticipantID: alice.ID,
	}))

	var ready protocol.ConferenceReady
	if err := aliceConn.waitOn(t, protocol.TypeConferenceReady).Decode(&ready); err != nil {
		t.Fatalf("bad conferenceReady: %v", err)
	}
	if ready.RoomToken != "room-token-1" || ready.RoomURI != "ws://room.test/ws" {
		t.Errorf("conferenceReady = %+v", ready)
	}
	if ready.LeaderID != alice.ID {
		t.Errorf("leader = %q, want caller %q", ready.LeaderID, alice.ID)
	}
	bobConn.waitOn(t, protocol.TypeConferenceReady)

	rooms.mu.Lock()
	created := rooms.created
	rooms.mu.Unlock()
	if created != 1 {
		t.Errorf("rooms created = %d, want 1", created)
	}
}

func TestInviteBusyCalleeFails(t *testing.T) {
	s, _ := newTestServer()
	alice, aliceConn := register(t, s, "Alice")
	bob, bobConn := register(t, s, "Bob")
	carol, carolConn := register(t, s, "Carol")

	s.HandleMessage(alice, aliceConn, protocol.MustMessage(protocol.TypeInvite, protocol.Invite{ParticipantID: bob.ID}))
	var invite protocol.Invite
	if err := bobConn.waitOn(t, protocol.TypeInvite).Decode(&invite); err != nil {
		t.Fatalf("bad invite push: %v", err)
	}
	s.HandleMessage(bob, bobConn, protocol.MustMessage(protocol.TypeAccept, protocol.Accept{
		ConferenceID: invite.ConferenceID, ParticipantID: alice.ID,
	}))

	s.HandleMessage(carol, carolConn, protocol.MustMessage(protocol.TypeInvite, protocol.Invite{ParticipantID: bob.ID}))
	var result protocol.InviteResult
	if err := carolConn.waitOn(t, protocol.TypeInviteResult).Decode(&result); err != nil {
		t.Fatalf("bad inviteResult: %v", err)
	}
	if result.Error == "" {
		t.Errorf("inviting a busy participant succeeded: %+v", result)
	}
}

func TestRejectClosesConference(t *testing.T) {
	s, _ := newTestServer()
	alice, aliceConn := register(t, s, "Alice")
	bob, bobConn := register(t, s, "Bob")

	s.HandleMessage(alice, aliceConn, protocol.MustMessage(protocol.TypeInvite, protocol.Invite{ParticipantID: bob.ID}))
	var invite protocol.Invite
	if err := bobConn.waitOn(t, protocol.TypeInvite).Decode(&invite); err != nil {
		t.Fatalf("bad invite push: %v", err)
	}

	s.HandleMessage(bob, bobConn, protocol.MustMessage(protocol.TypeReject, protocol.Reject{
		ConferenceID: invite.ConferenceID, ParticipantID: alice.ID,
	}))

	if got := aliceConn.countOf(protocol.TypeReject); got != 1 {
		t.Errorf("caller received %d reject pushes, want 1", got)
	}
	if _, conferences := s.Stats(); conferences != 0 {
		t.Errorf("conferences after reject = %d, want 0", conferences)
	}
	if alice.conference() != nil {
		t.Errorf("caller still bound to a conference after reject")
	}
}

func TestLeaveWhilePendingCancelsInvite(t *testing.T) {
	s, _ := newTestServer()
	alice, aliceConn := register(t, s, "Alice")
	bob, bobConn := register(t, s, "Bob")

	s.HandleMessage(alice, aliceConn, protocol.MustMessage(protocol.TypeInvite, protocol.Invite{ParticipantID: bob.ID}))
	var invite protocol.Invite
	if err := bobConn.waitOn(t, protocol.TypeInvite).Decode(&invite); err != nil {
		t.Fatalf("bad invite push: %v", err)
	}

	// The caller gives up before the callee answers, with only a leave.
	s.HandleMessage(alice, aliceConn, protocol.MustMessage(protocol.TypeLeave, protocol.Leave{ConferenceID: invite.ConferenceID}))

	var cancelled protocol.InviteCancelled
	if err := bobConn.waitOn(t, protocol.TypeInviteCancelled).Decode(&cancelled); err != nil {
		t.Fatalf("bad inviteCancelled push: %v", err)
	}
	if cancelled.ConferenceID != invite.ConferenceID {
		t.Errorf("inviteCancelled for %q, want %q", cancelled.ConferenceID, invite.ConferenceID)
	}
	if _, conferences := s.Stats(); conferences != 0 {
		t.Errorf("conferences after abandoned invite = %d, want 0", conferences)
	}

	// The caller is free again.
	s.HandleMessage(alice, aliceConn, protocol.MustMessage(protocol.TypeInvite, protocol.Invite{ParticipantID: bob.ID}))
	var result protocol.InviteResult
	if err := aliceConn.waitOn(t, protocol.TypeInviteResult).Decode(&result); err != nil {
		t.Fatalf("bad inviteResult: %v", err)
	}
	if result.Error != "" {
		t.Errorf("re-invite after abandoning failed: %s", result.Error)
	}
}

func TestJoinConfCannotHijackPendingCall(t *testing.T) {
	s, _ := newTestServer()
	alice, aliceConn := register(t, s, "Alice")
	bob, bobConn := register(t, s, "Bob")
	carol, carolConn := register(t, s, "Carol")

	s.HandleMessage(alice, aliceConn, protocol.MustMessage(protocol.TypeInvite, protocol.Invite{ParticipantID: bob.ID}))
	var invite protocol.Invite
	if err := bobConn.waitOn(t, protocol.TypeInvite).Decode(&invite); err != nil {
		t.Fatalf("bad invite push: %v", err)
	}

	s.HandleMessage(carol, carolConn, protocol.MustMessage(protocol.TypeJoinConf, protocol.JoinConf{ConferenceID: invite.ConferenceID}))
	var joined protocol.JoinConfResult
	if err := carolConn.waitOn(t, protocol.TypeJoinConfResult).Decode(&joined); err != nil {
		t.Fatalf("bad joinConfResult: %v", err)
	}
	if joined.Error == "" {
		t.Fatalf("joining a direct call by id succeeded")
	}

	// The invited party's slot is intact.
	s.HandleMessage(bob, bobConn, protocol.MustMessage(protocol.TypeAccept, protocol.Accept{
		ConferenceID: invite.ConferenceID, ParticipantID: alice.ID,
	}))
	var accepted protocol.AcceptResult
	if err := bobConn.waitOn(t, protocol.TypeAcceptResult).Decode(&accepted); err != nil {
		t.Fatalf("bad acceptResult: %v", err)
	}
	if accepted.Error != "" {
		t.Errorf("accept after join attempt failed: %s", accepted.Error)
	}
}

func TestDuplicateRegistrationLogsOffOldConnection(t *testing.T) {
	s, _ := newTestServer()
	oldPart, oldConn := register(t, s, "Alice")
	register(t, s, "Alice")

	var off protocol.LoggedOff
	if err := oldConn.waitOn(t, protocol.TypeLoggedOff).Decode(&off); err != nil {
		t.Fatalf("bad loggedOff push: %v", err)
	}
	if off.Reason == "" {
		t.Errorf("loggedOff has no reason")
	}

	// The superseded connection lost its binding.
	if got := s.HandleMessage(oldPart, oldConn, protocol.MustMessage(protocol.TypeGetParticipants, nil)); got != nil {
		t.Errorf("superseded connection still bound to a participant")
	}
	if got := oldConn.countOf(protocol.TypeUnauthorized); got != 1 {
		t.Errorf("unauthorized sent %d times to superseded connection, want 1", got)
	}

	if participants, _ := s.Stats(); participants != 1 {
		t.Errorf("participants after takeover = %d, want 1", participants)
	}
}

func TestCreateAndJoinByCode(t *testing.T) {
	s, _ := newTestServer()
	alice, aliceConn := register(t, s, "Alice")
	bob, bobConn := register(t, s, "Bob")

	s.HandleMessage(alice, aliceConn, protocol.MustMessage(protocol.TypeCreateConf, protocol.CreateConf{
		RoomName:       "standup",
		ConferenceCode: "1234",
	}))
	var created protocol.CreateConfResult
	if err := aliceConn.waitOn(t, protocol.TypeCreateConfResult).Decode(&created); err != nil || created.Error != "" {
		t.Fatalf("bad createConfResult: %+v, %v", created, err)
	}
	aliceConn.waitOn(t, protocol.TypeConferenceReady)

	s.HandleMessage(bob, bobConn, protocol.MustMessage(protocol.TypeJoinConf, protocol.JoinConf{ConferenceCode: "1234"}))
	var joined protocol.JoinConfResult
	if err := bobConn.waitOn(t, protocol.TypeJoinConfResult).Decode(&joined); err != nil || joined.Error != "" {
		t.Fatalf("bad joinConfResult: %+v, %v", joined, err)
	}
	if joined.ConferenceID != created.ConferenceID || joined.LeaderID != alice.ID {
		t.Errorf("joinConfResult = %+v", joined)
	}
	bobConn.waitOn(t, protocol.TypeConferenceReady)
}

func TestDuplicateConferenceCodeRejected(t *testing.T) {
	s, _ := newTestServer()
	alice, aliceConn := register(t, s, "Alice")
	bob, bobConn := register(t, s, "Bob")

	s.HandleMessage(alice, aliceConn, protocol.MustMessage(protocol.TypeCreateConf, protocol.CreateConf{ConferenceCode: "1234"}))
	aliceConn.waitOn(t, protocol.TypeCreateConfResult)

	s.HandleMessage(bob, bobConn, protocol.MustMessage(protocol.TypeCreateConf, protocol.CreateConf{ConferenceCode: "1234"}))
	var result protocol.CreateConfResult
	if err := bobConn.waitOn(t, protocol.TypeCreateConfResult).Decode(&result); err != nil {
		t.Fatalf("bad createConfResult: %v", err)
	}
	if result.Error == "" {
		t.Errorf("duplicate conference code accepted")
	}
}

func TestTerminateNotifiesEveryoneAndTearsDownRoom(t *testing.T) {
	s, rooms := newTestServer()
	alice, aliceConn := register(t, s, "Alice")
	bob, bobConn := register(t, s, "Bob")

	s.HandleMessage(alice, aliceConn, protocol.MustMessage(protocol.TypeCreateConf, protocol.CreateConf{ConferenceCode: "99"}))
	var created protocol.CreateConfResult
	if err := aliceConn.waitOn(t, protocol.TypeCreateConfResult).Decode(&created); err != nil {
		t.Fatalf("bad createConfResult: %v", err)
	}
	aliceConn.waitOn(t, protocol.TypeConferenceReady)
	s.HandleMessage(bob, bobConn, protocol.MustMessage(protocol.TypeJoinConf, protocol.JoinConf{ConferenceID: created.ConferenceID}))
	bobConn.waitOn(t, protocol.TypeJoinConfResult)

	// Non-leader termination is refused.
	s.HandleMessage(bob, bobConn, protocol.MustMessage(protocol.TypeTerminateConf, protocol.TerminateConf{ConferenceID: created.ConferenceID}))
	if got := bobConn.countOf(protocol.TypeError); got != 1 {
		t.Errorf("non-leader terminate produced %d errors, want 1", got)
	}

	s.HandleMessage(alice, aliceConn, protocol.MustMessage(protocol.TypeTerminateConf, protocol.TerminateConf{ConferenceID: created.ConferenceID}))
	aliceConn.waitOn(t, protocol.TypeConferenceClosed)
	bobConn.waitOn(t, protocol.TypeConferenceClosed)

	if got := rooms.terminatedRooms(); len(got) != 1 || got[0] != "room-1" {
		t.Errorf("terminated rooms = %v, want [room-1]", got)
	}
	if _, conferences := s.Stats(); conferences != 0 {
		t.Errorf("conferences after terminate = %d, want 0", conferences)
	}
}

func TestLastLeaveTerminatesRoom(t *testing.T) {
	s, rooms := newTestServer()
	alice, aliceConn := register(t, s, "Alice")

	s.HandleMessage(alice, aliceConn, protocol.MustMessage(protocol.TypeCreateConf, protocol.CreateConf{}))
	aliceConn.waitOn(t, protocol.TypeConferenceReady)

	s.HandleMessage(alice, aliceConn, protocol.MustMessage(protocol.TypeLeave, protocol.Leave{}))

	if got := rooms.terminatedRooms(); len(got) != 1 {
		t.Errorf("terminated rooms after last leave = %v, want one entry", got)
	}
	if _, conferences := s.Stats(); conferences != 0 {
		t.Errorf("conferences after last leave = %d, want 0", conferences)
	}
}

func TestPresenterFanOutExcludesSender(t *testing.T) {
	s, _ := newTestServer()
	alice, aliceConn := register(t, s, "Alice")
	bob, bobConn := register(t, s, "Bob")

	s.HandleMessage(alice, aliceConn, protocol.MustMessage(protocol.TypeCreateConf, protocol.CreateConf{ConferenceCode: "55"}))
	var created protocol.CreateConfResult
	if err := aliceConn.waitOn(t, protocol.TypeCreateConfResult).Decode(&created); err != nil {
		t.Fatalf("bad createConfResult: %v", err)
	}
	aliceConn.waitOn(t, protocol.TypeConferenceReady)
	s.HandleMessage(bob, bobConn, protocol.MustMessage(protocol.TypeJoinConf, protocol.JoinConf{ConferenceID: created.ConferenceID}))
	bobConn.waitOn(t, protocol.TypeJoinConfResult)

	s.HandleMessage(alice, aliceConn, protocol.MustMessage(protocol.TypePresenterInfo, protocol.PresenterInfo{Status: "on"}))

	var info protocol.PresenterInfo
	if err := bobConn.waitOn(t, protocol.TypePresenterInfo).Decode(&info); err != nil {
		t.Fatalf("bad presenterInfo push: %v", err)
	}
	if info.ParticipantID != alice.ID || info.Status != "on" {
		t.Errorf("presenterInfo push = %+v", info)
	}
	if got := aliceConn.countOf(protocol.TypePresenterInfo); got != 0 {
		t.Errorf("sender received %d presenterInfo echoes, want 0", got)
	}
}

func TestProvisioningFailureClosesConference(t *testing.T) {
	s, rooms := newTestServer()
	alice, aliceConn := register(t, s, "Alice")

	rooms.mu.Lock()
	rooms.failNext = true
	rooms.mu.Unlock()

	s.HandleMessage(alice, aliceConn, protocol.MustMessage(protocol.TypeCreateConf, protocol.CreateConf{}))
	aliceConn.waitOn(t, protocol.TypeConferenceClosed)

	if _, conferences := s.Stats(); conferences != 0 {
		t.Errorf("conferences after failed provisioning = %d, want 0", conferences)
	}
}

func TestGetParticipantsDirectory(t *testing.T) {
	s, _ := newTestServer()
	alice, aliceConn := register(t, s, "Alice")
	register(t, s, "Bob")

	s.HandleMessage(alice, aliceConn, protocol.MustMessage(protocol.TypeGetParticipants, nil))
	var result protocol.GetParticipantsResult
	if err := aliceConn.waitOn(t, protocol.TypeGetParticipantsResult).Decode(&result); err != nil {
		t.Fatalf("bad getParticipantsResult: %v", err)
	}
	if len(result.Participants) != 2 {
		t.Errorf("directory size = %d, want 2", len(result.Participants))
	}
}
