// Package session implements the client-side conference state machine:
// invite/accept/reject negotiation with the signaling gateway, the
// call-connect timeout, and driving the room bridge once a conference
// room is ready.
package session

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/mossy-p/webrtc-conference/internal/protocol"
	"github.com/mossy-p/webrtc-conference/internal/transport"
)

// State is the call attempt state. At most one call attempt, sent or
// received, is active at a time.
type State int

const (
	StateDisconnected State = iota
	StateCalling
	StateAnswering
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateCalling:
		return "calling"
	case StateAnswering:
		return "answering"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type EventKind int

const (
	EventInviteReceived EventKind = iota
	EventConnected
	EventConferenceClosed
	EventPresenterChanged
	EventLoggedOff
)

// Event is the session's upward-facing notification.
type Event struct {
	Kind         EventKind
	ConferenceID string
	Reason       string
	Invite       *protocol.Invite
	PresenterID  string
}

// Channel is the subset of the transport channel the session drives for
// gateway signaling.
type Channel interface {
	Connect(uri string, autoReconnect bool, backoff time.Duration) error
	Send(msg protocol.Message) bool
	Disconnect()
	AddEventHandler(kind transport.EventKind, fn transport.Handler) int
	RemoveEventHandler(kind transport.EventKind, id int)
}

// RoomBridge is the media-side collaborator the session activates once
// the gateway reports the conference room ready.
type RoomBridge interface {
	Connect(uri string) error
	Register(trackingID, displayName string) error
	Join(roomToken string) error
	Leave() bool
	Close()
}

// Config carries the session's timeout tunables.
type Config struct {
	// CallConnectTimeout bounds the whole invite-to-connected window.
	CallConnectTimeout time.Duration
	// RequestTimeout bounds individual request/response waits.
	RequestTimeout time.Duration
}

var (
	errBusy         = errors.New("a call attempt is already in progress")
	errNotConnected = errors.New("signaling channel not connected")
)

// TracksInfo is the local track-enabled bookkeeping shared with the
// conference.
type TracksInfo struct {
	AudioEnabled bool
	VideoEnabled bool
}

// Session owns one participant's conference lifecycle.
type Session struct {
	ch     Channel
	bridge RoomBridge
	corr   *transport.Correlator
	cfg    Config
	events chan Event

	mu            sync.Mutex
	state         State
	participantID string
	displayName   string
	conferenceID  string
	leaderID      string
	presenterID   string
	inviteSent    *protocol.Invite
	inviteRecv    *protocol.Invite
	joinSent      *protocol.JoinConf
	callTimer     *time.Timer
	tracks        TracksInfo
	preShare      TracksInfo
	sharing       bool
}

func NewSession(ch Channel, bridge RoomBridge, cfg Config) *Session {
	s := &Session{
		ch:     ch,
		bridge: bridge,
		corr:   transport.NewCorrelator(),
		cfg:    cfg,
		events: make(chan Event, 32),
		tracks: TracksInfo{AudioEnabled: true, VideoEnabled: true},
	}
	ch.AddEventHandler(transport.EventMessage, s.handleMessage)
	ch.AddEventHandler(transport.EventDisconnected, s.handleDisconnect)
	return s
}

// Events is the upward notification stream.
func (s *Session) Events() <-chan Event {
	return s.events
}

// State snapshots the current call state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ParticipantID is the gateway-assigned identity, empty before Register.
func (s *Session) ParticipantID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.participantID
}

// LeaderID is the conference leader, empty outside a conference.
func (s *Session) LeaderID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.leaderID
}

// PresenterID is the participant currently presenting, empty when nobody is.
func (s *Session) PresenterID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.presenterID
}

func (s *Session) emit(evt Event) {
	select {
	case s.events <- evt:
	default:
		log.Printf("session: event buffer full, dropping event kind=%d", evt.Kind)
	}
}

func (s *Session) request(req protocol.Message, replyType protocol.MessageType) (protocol.Message, error) {
	wait := s.corr.Expect(replyType, s.cfg.RequestTimeout)
	if !s.ch.Send(req) {
		s.corr.FailAll(errNotConnected)
		return protocol.Message{}, errNotConnected
	}
	return wait.Await()
}

// Connect dials the signaling gateway with automatic reconnection. A
// reconnected channel holds no server-side session: callers must
// Register again after every connect event.
func (s *Session) Connect(uri string, backoff time.Duration) error {
	return s.ch.Connect(uri, true, backoff)
}

// Register announces this participant to the gateway and adopts the
// assigned participant id.
func (s *Session) Register(displayName string) error {
	reply, err := s.request(
		protocol.MustMessage(protocol.TypeRegister, protocol.Register{DisplayName: displayName}),
		protocol.TypeRegisterResult,
	)
	if err != nil {
		return err
	}

	var result protocol.RegisterResult
	if err := reply.Decode(&result); err != nil {
		return err
	}
	if result.Error != "" {
		return fmt.Errorf("register rejected: %s", result.Error)
	}

	s.mu.Lock()
	s.participantID = result.ParticipantID
	s.displayName = displayName
	s.mu.Unlock()
	return nil
}

// SendInvite starts a call attempt toward another participant. Rejected
// while any attempt, sent or received, is pending.
func (s *Session) SendInvite(participantID string) error {
	s.mu.Lock()
	if s.state != StateDisconnected || s.inviteSent != nil || s.inviteRecv != nil {
		s.mu.Unlock()
		return errBusy
	}
	invite := &protocol.Invite{ParticipantID: participantID}
	s.inviteSent = invite
	s.state = StateCalling
	s.startCallTimerLocked()
	s.mu.Unlock()

	if !s.ch.Send(protocol.MustMessage(protocol.TypeInvite, *invite)) {
		s.mu.Lock()
		s.inviteSent = nil
		s.state = StateDisconnected
		s.stopCallTimerLocked()
		s.mu.Unlock()
		return errNotConnected
	}
	return nil
}

// AcceptInvite answers the outstanding received invite. A mismatched
// conference or participant id is a protocol violation from a stale
// message: logged and ignored, never fatal.
func (s *Session) AcceptInvite(conferenceID, participantID string) error {
	s.mu.Lock()
	recv := s.inviteRecv
	if recv == nil || recv.ConferenceID != conferenceID || recv.ParticipantID != participantID {
		s.mu.Unlock()
		log.Printf("session: accept for %s/%s does not match pending invite, ignoring", conferenceID, participantID)
		return nil
	}
	s.inviteRecv = nil
	s.conferenceID = conferenceID
	s.state = StateConnecting
	s.startCallTimerLocked()
	s.mu.Unlock()

	reply, err := s.request(
		protocol.MustMessage(protocol.TypeAccept, protocol.Accept{ConferenceID: conferenceID, ParticipantID: participantID}),
		protocol.TypeAcceptResult,
	)
	if err != nil {
		s.teardown("answer failed")
		return err
	}
	var result protocol.AcceptResult
	if err := reply.Decode(&result); err != nil {
		s.teardown("answer failed")
		return err
	}
	if result.Error != "" {
		s.teardown(result.Error)
		return fmt.Errorf("accept rejected: %s", result.Error)
	}
	return nil
}

// RejectInvite declines the outstanding received invite. Mismatches are
// logged and ignored.
func (s *Session) RejectInvite(conferenceID, participantID string) {
	s.mu.Lock()
	recv := s.inviteRecv
	if recv == nil || recv.ConferenceID != conferenceID || recv.ParticipantID != participantID {
		s.mu.Unlock()
		log.Printf("session: reject for %s/%s does not match pending invite, ignoring", conferenceID, participantID)
		return
	}
	s.inviteRecv = nil
	s.state = StateDisconnected
	s.stopCallTimerLocked()
	s.mu.Unlock()

	s.ch.Send(protocol.MustMessage(protocol.TypeReject, protocol.Reject{ConferenceID: conferenceID, ParticipantID: participantID}))
}

// CreateConference provisions a named conference on the gateway. The
// room becomes usable when the conferenceReady push arrives.
func (s *Session) CreateConference(roomName, conferenceCode string, conf protocol.ConferenceConf) error {
	s.mu.Lock()
	if s.state != StateDisconnected || s.inviteSent != nil || s.inviteRecv != nil {
		s.mu.Unlock()
		return errBusy
	}
	s.state = StateConnecting
	s.startCallTimerLocked()
	s.mu.Unlock()

	reply, err := s.request(
		protocol.MustMessage(protocol.TypeCreateConf, protocol.CreateConf{
			RoomName:       roomName,
			ConferenceCode: conferenceCode,
			Config:         conf,
		}),
		protocol.TypeCreateConfResult,
	)
	if err != nil {
		s.teardown("create conference failed")
		return err
	}
	var result protocol.CreateConfResult
	if err := reply.Decode(&result); err != nil {
		s.teardown("create conference failed")
		return err
	}
	if result.Error != "" {
		s.teardown(result.Error)
		return fmt.Errorf("createConf rejected: %s", result.Error)
	}

	s.mu.Lock()
	s.conferenceID = result.ConferenceID
	s.mu.Unlock()
	return nil
}

// JoinConference asks to join an existing conference by id or code. The
// result and the subsequent conferenceReady are delivered as pushes and
// validated against this request; stale results are dropped.
func (s *Session) JoinConference(conferenceID, conferenceCode string) error {
	s.mu.Lock()
	if s.state != StateDisconnected || s.inviteSent != nil || s.inviteRecv != nil {
		s.mu.Unlock()
		return errBusy
	}
	join := &protocol.JoinConf{ConferenceID: conferenceID, ConferenceCode: conferenceCode}
	s.joinSent = join
	s.conferenceID = conferenceID
	s.state = StateConnecting
	s.startCallTimerLocked()
	s.mu.Unlock()

	if !s.ch.Send(protocol.MustMessage(protocol.TypeJoinConf, *join)) {
		s.mu.Lock()
		s.joinSent = nil
		s.conferenceID = ""
		s.state = StateDisconnected
		s.stopCallTimerLocked()
		s.mu.Unlock()
		return errNotConnected
	}
	return nil
}

// Leave exits the current call attempt or conference. Best-effort and
// idempotent: a second call with nothing active sends no wire message.
func (s *Session) Leave() {
	s.leaveAttempt("left conference")
}

// leaveAttempt withdraws whatever is pending on the wire before tearing
// down locally: a sent invite becomes inviteCancelled, a received one
// becomes reject, and the conference itself gets a leave. Shared by
// Leave and the call-connect timer so the gateway never keeps a
// conference alive for an attempt this side has abandoned.
func (s *Session) leaveAttempt(reason string) {
	s.mu.Lock()
	if s.state == StateDisconnected && s.inviteSent == nil && s.inviteRecv == nil {
		s.mu.Unlock()
		return
	}
	confID := s.conferenceID
	sent := s.inviteSent
	recv := s.inviteRecv
	s.mu.Unlock()

	if sent != nil && confID != "" {
		s.ch.Send(protocol.MustMessage(protocol.TypeInviteCancelled, protocol.InviteCancelled{ConferenceID: confID}))
	}
	if recv != nil {
		s.ch.Send(protocol.MustMessage(protocol.TypeReject, protocol.Reject{
			ConferenceID:  recv.ConferenceID,
			ParticipantID: recv.ParticipantID,
		}))
	}
	s.bridge.Leave()
	s.ch.Send(protocol.MustMessage(protocol.TypeLeave, protocol.Leave{ConferenceID: confID}))
	s.teardown(reason)
}

// Terminate asks the gateway to close the conference for everyone, then
// tears down locally without waiting for the conferenceClosed echo.
func (s *Session) Terminate() {
	s.mu.Lock()
	confID := s.conferenceID
	s.mu.Unlock()
	if confID == "" {
		return
	}

	s.ch.Send(protocol.MustMessage(protocol.TypeTerminateConf, protocol.TerminateConf{ConferenceID: confID}))
	s.bridge.Leave()
	s.teardown("conference terminated")
}

// GetParticipants queries the current conference roster.
func (s *Session) GetParticipants() ([]protocol.ParticipantInfo, error) {
	reply, err := s.request(protocol.MustMessage(protocol.TypeGetParticipants, nil), protocol.TypeGetParticipantsResult)
	if err != nil {
		return nil, err
	}
	var result protocol.GetParticipantsResult
	if err := reply.Decode(&result); err != nil {
		return nil, err
	}
	if result.Error != "" {
		return nil, fmt.Errorf("getParticipants rejected: %s", result.Error)
	}
	return result.Participants, nil
}

// GetConferences queries the gateway's open conference list.
func (s *Session) GetConferences() ([]protocol.ConferenceInfo, error) {
	reply, err := s.request(protocol.MustMessage(protocol.TypeGetConferences, nil), protocol.TypeGetConferencesResult)
	if err != nil {
		return nil, err
	}
	var result protocol.GetConferencesResult
	if err := reply.Decode(&result); err != nil {
		return nil, err
	}
	if result.Error != "" {
		return nil, fmt.Errorf("getConferences rejected: %s", result.Error)
	}
	return result.Conferences, nil
}

// SetAudioEnabled toggles the local audio track state and shares it.
func (s *Session) SetAudioEnabled(enabled bool) {
	s.mu.Lock()
	s.tracks.AudioEnabled = enabled
	s.mu.Unlock()
}

// SetVideoEnabled toggles the local video track state and shares it.
func (s *Session) SetVideoEnabled(enabled bool) {
	s.mu.Lock()
	s.tracks.VideoEnabled = enabled
	s.mu.Unlock()
}

// Tracks snapshots the local track-enabled state.
func (s *Session) Tracks() TracksInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tracks
}

// StartScreenShare claims the presenter slot and remembers the pre-share
// track state so StopScreenShare can restore it exactly.
func (s *Session) StartScreenShare() {
	s.mu.Lock()
	if s.sharing {
		s.mu.Unlock()
		return
	}
	s.sharing = true
	s.preShare = s.tracks
	s.tracks = TracksInfo{AudioEnabled: s.tracks.AudioEnabled, VideoEnabled: true}
	confID := s.conferenceID
	s.mu.Unlock()

	s.ch.Send(protocol.MustMessage(protocol.TypePresenterInfo, protocol.PresenterInfo{
		ConferenceID: confID,
		Status:       "on",
	}))
}

// StopScreenShare releases the presenter slot and restores the saved
// track state.
func (s *Session) StopScreenShare() {
	s.mu.Lock()
	if !s.sharing {
		s.mu.Unlock()
		return
	}
	s.sharing = false
	s.tracks = s.preShare
	confID := s.conferenceID
	s.mu.Unlock()

	s.ch.Send(protocol.MustMessage(protocol.TypePresenterInfo, protocol.PresenterInfo{
		ConferenceID: confID,
		Status:       "off",
	}))
}

// Close shuts the session down entirely: room bridge, pending waits and
// the gateway channel.
func (s *Session) Close() {
	s.teardown("session closed")
	s.bridge.Close()
	s.corr.FailAll(errors.New("session closed"))
	s.ch.Disconnect()
}

// startCallTimerLocked arms the call-connect timer. Caller holds s.mu.
func (s *Session) startCallTimerLocked() {
	if s.callTimer != nil {
		s.callTimer.Stop()
	}
	s.callTimer = time.AfterFunc(s.cfg.CallConnectTimeout, func() {
		s.leaveAttempt("no answer, call timed out")
	})
}

// stopCallTimerLocked cancels the timer. Stopping a fired or already
// stopped timer is a no-op. Caller holds s.mu.
func (s *Session) stopCallTimerLocked() {
	if s.callTimer != nil {
		s.callTimer.Stop()
		s.callTimer = nil
	}
}

// teardown resets the session to disconnected and emits at most one
// conferenceClosed event per call attempt. Safe to call repeatedly.
func (s *Session) teardown(reason string) {
	s.mu.Lock()
	if s.state == StateDisconnected && s.conferenceID == "" && s.inviteSent == nil && s.inviteRecv == nil && s.joinSent == nil {
		s.mu.Unlock()
		return
	}
	confID := s.conferenceID
	s.state = StateDisconnected
	s.conferenceID = ""
	s.leaderID = ""
	s.presenterID = ""
	s.inviteSent = nil
	s.inviteRecv = nil
	s.joinSent = nil
	s.sharing = false
	s.stopCallTimerLocked()
	s.mu.Unlock()

	s.emit(Event{Kind: EventConferenceClosed, ConferenceID: confID, Reason: reason})
}

func (s *Session) handleDisconnect(transport.Event) {
	s.corr.FailAll(errNotConnected)
	s.bridge.Leave()
	s.teardown("signaling connection lost")
}

func (s *Session) handleMessage(evt transport.Event) {
	msg := evt.Message
	if s.corr.Dispatch(msg) {
		return
	}

	switch msg.Type {
	case protocol.TypeInvite:
		s.handleInviteReceived(msg)
	case protocol.TypeInviteResult:
		s.handleInviteResult(msg)
	case protocol.TypeReject:
		s.handleRejected(msg)
	case protocol.TypeInviteCancelled:
		s.handleInviteCancelled(msg)
	case protocol.TypeJoinConfResult:
		s.handleJoinConfResult(msg)
	case protocol.TypeConferenceReady:
		s.handleConferenceReady(msg)
	case protocol.TypeConferenceClosed:
		s.handleConferenceClosed(msg)
	case protocol.TypePresenterInfo:
		s.handlePresenterInfo(msg)
	case protocol.TypeLoggedOff, protocol.TypeUnauthorized:
		var payload protocol.LoggedOff
		_ = msg.Decode(&payload)
		s.bridge.Leave()
		s.teardown("logged off")
		s.emit(Event{Kind: EventLoggedOff, Reason: payload.Reason})
	default:
		log.Printf("session: unhandled message type %q", msg.Type)
	}
}

// handleInviteReceived surfaces an inbound invite, or auto-rejects it
// when a call attempt is already active.
func (s *Session) handleInviteReceived(msg protocol.Message) {
	var invite protocol.Invite
	if err := msg.Decode(&invite); err != nil {
		log.Printf("session: bad invite payload: %v", err)
		return
	}

	s.mu.Lock()
	busy := s.state != StateDisconnected || s.inviteSent != nil || s.inviteRecv != nil
	if !busy {
		s.inviteRecv = &invite
		s.state = StateAnswering
	}
	s.mu.Unlock()

	if busy {
		s.ch.Send(protocol.MustMessage(protocol.TypeReject, protocol.Reject{
			ConferenceID:  invite.ConferenceID,
			ParticipantID: invite.ParticipantID,
		}))
		return
	}
	s.emit(Event{Kind: EventInviteReceived, ConferenceID: invite.ConferenceID, Invite: &invite})
}

// handleInviteResult correlates the gateway's answer to the invite just
// sent. A result that does not match the outstanding invite forces a
// teardown: the call attempt is unrecoverable from here.
func (s *Session) handleInviteResult(msg protocol.Message) {
	var result protocol.InviteResult
	if err := msg.Decode(&result); err != nil {
		log.Printf("session: bad inviteResult payload: %v", err)
		return
	}

	s.mu.Lock()
	sent := s.inviteSent
	if sent == nil || s.state != StateCalling {
		s.mu.Unlock()
		log.Printf("session: inviteResult with no outstanding invite, dropping")
		return
	}
	mismatch := (result.ParticipantID != "" && result.ParticipantID != sent.ParticipantID) ||
		(s.conferenceID != "" && result.ConferenceID != s.conferenceID)
	s.mu.Unlock()

	if result.Error != "" {
		s.teardown(result.Error)
		return
	}
	if mismatch {
		s.teardown("invite result did not match the outstanding invite")
		return
	}

	s.mu.Lock()
	s.conferenceID = result.ConferenceID
	s.inviteSent = nil
	s.state = StateConnecting
	s.mu.Unlock()
}

// handleRejected ends the call attempt when the callee declines.
func (s *Session) handleRejected(msg protocol.Message) {
	var reject protocol.Reject
	if err := msg.Decode(&reject); err != nil {
		log.Printf("session: bad reject payload: %v", err)
		return
	}

	s.mu.Lock()
	active := s.inviteSent != nil || (s.conferenceID != "" && s.conferenceID == reject.ConferenceID)
	s.mu.Unlock()
	if !active {
		log.Printf("session: reject for unknown conference %s, dropping", reject.ConferenceID)
		return
	}
	s.teardown("call rejected")
}

// handleInviteCancelled ends the answering attempt when the caller
// withdraws the invite.
func (s *Session) handleInviteCancelled(msg protocol.Message) {
	var cancelled protocol.InviteCancelled
	if err := msg.Decode(&cancelled); err != nil {
		log.Printf("session: bad inviteCancelled payload: %v", err)
		return
	}

	s.mu.Lock()
	recv := s.inviteRecv
	s.mu.Unlock()
	if recv == nil || recv.ConferenceID != cancelled.ConferenceID {
		log.Printf("session: inviteCancelled for %s does not match pending invite, dropping", cancelled.ConferenceID)
		return
	}
	s.teardown("invite cancelled")
}

// handleJoinConfResult adopts the join result only when it answers the
// outstanding join request; anything else is stale and dropped.
func (s *Session) handleJoinConfResult(msg protocol.Message) {
	var result protocol.JoinConfResult
	if err := msg.Decode(&result); err != nil {
		log.Printf("session: bad joinConfResult payload: %v", err)
		return
	}

	s.mu.Lock()
	join := s.joinSent
	stale := join == nil || (join.ConferenceID != "" && result.ConferenceID != join.ConferenceID)
	if !stale && result.Error == "" {
		s.joinSent = nil
		s.conferenceID = result.ConferenceID
		s.leaderID = result.LeaderID
		s.presenterID = result.PresenterID
	}
	s.mu.Unlock()

	if stale {
		log.Printf("session: stale joinConfResult for %s, dropping", result.ConferenceID)
		return
	}
	if result.Error != "" {
		s.teardown(result.Error)
	}
}

// handleConferenceReady validates the conference id then drives the room
// bridge: connect, register, join, each awaited before the next. The
// session only reaches connected after the room join succeeds.
func (s *Session) handleConferenceReady(msg protocol.Message) {
	var ready protocol.ConferenceReady
	if err := msg.Decode(&ready); err != nil {
		log.Printf("session: bad conferenceReady payload: %v", err)
		return
	}

	s.mu.Lock()
	match := s.conferenceID != "" && s.conferenceID == ready.ConferenceID && s.state == StateConnecting
	s.mu.Unlock()
	if !match {
		log.Printf("session: stale conferenceReady for %s, dropping", ready.ConferenceID)
		return
	}

	// Room activation awaits bridge responses on its own channel; run it
	// off the gateway read loop.
	go s.activateRoom(ready)
}

func (s *Session) activateRoom(ready protocol.ConferenceReady) {
	s.mu.Lock()
	participantID := s.participantID
	displayName := s.displayName
	s.mu.Unlock()

	if err := s.bridge.Connect(ready.RoomURI); err != nil {
		log.Printf("session: room connect failed: %v", err)
		s.teardown("room connection failed")
		return
	}
	if err := s.bridge.Register(participantID, displayName); err != nil {
		log.Printf("session: room register failed: %v", err)
		s.teardown("room registration failed")
		return
	}
	if err := s.bridge.Join(ready.RoomToken); err != nil {
		log.Printf("session: room join failed: %v", err)
		s.teardown("room join failed")
		return
	}

	s.mu.Lock()
	if s.state != StateConnecting || s.conferenceID != ready.ConferenceID {
		// Torn down while the bridge was connecting.
		s.mu.Unlock()
		s.bridge.Leave()
		return
	}
	s.state = StateConnected
	s.leaderID = ready.LeaderID
	s.presenterID = ready.PresenterID
	s.stopCallTimerLocked()
	s.mu.Unlock()

	s.emit(Event{Kind: EventConnected, ConferenceID: ready.ConferenceID})
}

// handleConferenceClosed tears down on the gateway's authoritative close.
func (s *Session) handleConferenceClosed(msg protocol.Message) {
	var closed protocol.ConferenceClosed
	if err := msg.Decode(&closed); err != nil {
		log.Printf("session: bad conferenceClosed payload: %v", err)
		return
	}

	s.mu.Lock()
	match := s.conferenceID != "" && s.conferenceID == closed.ConferenceID
	s.mu.Unlock()
	if !match {
		log.Printf("session: conferenceClosed for unknown conference %s, dropping", closed.ConferenceID)
		return
	}

	s.bridge.Leave()
	reason := closed.Reason
	if reason == "" {
		reason = "conference closed"
	}
	s.teardown(reason)
}

// handlePresenterInfo updates the shared presenter reference.
func (s *Session) handlePresenterInfo(msg protocol.Message) {
	var info protocol.PresenterInfo
	if err := msg.Decode(&info); err != nil {
		log.Printf("session: bad presenterInfo payload: %v", err)
		return
	}

	s.mu.Lock()
	if info.Status == "on" {
		s.presenterID = info.ParticipantID
	} else if s.presenterID == info.ParticipantID {
		s.presenterID = ""
	}
	presenter := s.presenterID
	s.mu.Unlock()

	s.emit(Event{Kind: EventPresenterChanged, PresenterID: presenter})
}
