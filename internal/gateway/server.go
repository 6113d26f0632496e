// Package gateway implements the signaling side of the system:
// participant registration and presence, invite/accept/reject call
// negotiation, conference bookkeeping and the conferenceReady handoff
// that points clients at a provisioned orchestrator room.
package gateway

import (
	"context"
	"log"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/mossy-p/webrtc-conference/config"
	"github.com/mossy-p/webrtc-conference/internal/bridge"
	"github.com/mossy-p/webrtc-conference/internal/protocol"
	"github.com/mossy-p/webrtc-conference/internal/redis"
)

// RoomProvisioner is the server-to-server surface for creating and
// destroying orchestrator rooms. Satisfied by bridge.Client.
type RoomProvisioner interface {
	NewRoom(roomID, roomToken string, maxPeers int) (bridge.RoomInfo, error)
	TerminateRoom(roomID, reason string) error
	RtpCapabilities() (webrtc.RTPCapabilities, error)
}

// Server owns the participant and conference registries and handles
// every inbound signaling message.
type Server struct {
	cfg   config.GatewayConfig
	rooms RoomProvisioner
	store *redis.Store // optional presence mirror, may be nil

	mu           sync.RWMutex
	participants map[string]*Participant
	conferences  map[string]*Conference
	byCode       map[string]*Conference
}

func NewServer(cfg config.GatewayConfig, rooms RoomProvisioner, store *redis.Store) *Server {
	return &Server{
		cfg:          cfg,
		rooms:        rooms,
		store:        store,
		participants: map[string]*Participant{},
		conferences:  map[string]*Conference{},
		byCode:       map[string]*Conference{},
	}
}

// HandleMessage processes one inbound message for the connection bound
// to part (nil before registration) and returns the possibly-updated
// binding.
func (s *Server) HandleMessage(part *Participant, out sender, msg protocol.Message) *Participant {
	// A connection superseded by a newer registration for the same
	// identity loses its binding and must register again.
	if part != nil && s.participant(part.ID) != part {
		part = nil
	}
	if msg.Type == protocol.TypeRegister {
		return s.handleRegister(part, out, msg)
	}
	if part == nil {
		out.deliver(protocol.MustMessage(protocol.TypeUnauthorized, nil))
		return nil
	}

	switch msg.Type {
	case protocol.TypeInvite:
		s.handleInvite(part, msg)
	case protocol.TypeAccept:
		s.handleAccept(part, msg)
	case protocol.TypeReject:
		s.handleReject(part, msg)
	case protocol.TypeInviteCancelled:
		s.handleInviteCancelled(part, msg)
	case protocol.TypeCreateConf:
		s.handleCreateConf(part, msg)
	case protocol.TypeJoinConf:
		s.handleJoinConf(part, msg)
	case protocol.TypeLeave:
		s.handleLeave(part)
	case protocol.TypeTerminateConf:
		s.handleTerminateConf(part, msg)
	case protocol.TypePresenterInfo:
		s.handlePresenterInfo(part, msg)
	case protocol.TypeGetParticipants:
		s.handleGetParticipants(part)
	case protocol.TypeGetConferences:
		s.handleGetConferences(part)
	default:
		log.Printf("gateway: unhandled message type %q", msg.Type)
	}
	return part
}

// handleRegister creates the participant identity for this connection.
// Re-registering an already-registered connection returns the existing
// identity.
func (s *Server) handleRegister(part *Participant, out sender, msg protocol.Message) *Participant {
	if part != nil {
		out.deliver(protocol.MustMessage(protocol.TypeRegisterResult, protocol.RegisterResult{
			ParticipantID: part.ID,
			Role:          part.Role,
		}))
		return part
	}

	var req protocol.Register
	if err := msg.Decode(&req); err != nil {
		out.deliver(protocol.MustMessage(protocol.TypeRegisterResult, protocol.RegisterResult{Error: "invalid register payload"}))
		return nil
	}

	// One live session per display name: a re-registration logs the
	// older connection off before the new identity is created.
	if req.DisplayName != "" {
		s.mu.RLock()
		var old *Participant
		for _, p := range s.participants {
			if p.DisplayName == req.DisplayName {
				old = p
				break
			}
		}
		s.mu.RUnlock()
		if old != nil {
			old.out.deliver(protocol.MustMessage(protocol.TypeLoggedOff, protocol.LoggedOff{
				Reason: "signed in from another connection",
			}))
			s.Disconnect(old)
		}
	}

	part = &Participant{
		ID:          uuid.NewString(),
		DisplayName: req.DisplayName,
		Role:        "user",
		out:         out,
	}

	s.mu.Lock()
	s.participants[part.ID] = part
	s.mu.Unlock()

	if s.store != nil {
		if err := s.store.SetParticipantOnline(context.Background(), part.ID, part.DisplayName); err != nil {
			log.Printf("gateway: failed to mirror participant %s: %v", part.ID, err)
		}
	}

	out.deliver(protocol.MustMessage(protocol.TypeRegisterResult, protocol.RegisterResult{
		ParticipantID: part.ID,
		Role:          part.Role,
	}))
	return part
}

func (s *Server) participant(id string) *Participant {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.participants[id]
}

func (s *Server) conference(id string) *Conference {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conferences[id]
}

// handleInvite opens a direct call attempt: a new conference with the
// caller as leader, the callee marked as pending until accept/reject.
func (s *Server) handleInvite(caller *Participant, msg protocol.Message) {
	fail := func(reason string) {
		caller.out.deliver(protocol.MustMessage(protocol.TypeInviteResult, protocol.InviteResult{Error: reason}))
	}

	var req protocol.Invite
	if err := msg.Decode(&req); err != nil {
		fail("invalid invite payload")
		return
	}
	if caller.conference() != nil {
		fail("already in a conference")
		return
	}

	callee := s.participant(req.ParticipantID)
	if callee == nil {
		fail("participant not found")
		return
	}
	if callee.ID == caller.ID {
		fail("cannot invite yourself")
		return
	}
	if callee.conference() != nil {
		fail("participant is busy")
		return
	}

	conf := newConference(uuid.NewString(), ConferenceTypeP2P, caller.ID, protocol.ConferenceConf{MaxParticipants: 2})
	conf.setPendingInvitee(callee.ID)
	conf.add(caller)
	caller.setConference(conf)

	s.mu.Lock()
	s.conferences[conf.ID] = conf
	s.mu.Unlock()

	caller.out.deliver(protocol.MustMessage(protocol.TypeInviteResult, protocol.InviteResult{
		ConferenceID:   conf.ID,
		ConferenceType: conf.Type,
		ParticipantID:  callee.ID,
	}))
	callee.out.deliver(protocol.MustMessage(protocol.TypeInvite, protocol.Invite{
		ConferenceID:  conf.ID,
		ParticipantID: caller.ID,
		DisplayName:   caller.DisplayName,
	}))
}

// handleAccept admits the invited callee and kicks off room provisioning.
func (s *Server) handleAccept(callee *Participant, msg protocol.Message) {
	fail := func(reason string) {
		callee.out.deliver(protocol.MustMessage(protocol.TypeAcceptResult, protocol.AcceptResult{Error: reason}))
	}

	var req protocol.Accept
	if err := msg.Decode(&req); err != nil {
		fail("invalid accept payload")
		return
	}

	conf := s.conference(req.ConferenceID)
	if conf == nil {
		fail("unknown conference")
		return
	}
	if conf.pendingInvitee() != callee.ID || conf.LeaderID != req.ParticipantID {
		fail("accept does not match the pending invite")
		return
	}
	if !conf.add(callee) {
		fail("conference is full")
		return
	}
	conf.setPendingInvitee("")
	callee.setConference(conf)

	callee.out.deliver(protocol.MustMessage(protocol.TypeAcceptResult, protocol.AcceptResult{ConferenceID: conf.ID}))

	// Provisioning calls the orchestrator over HTTP; keep it off the
	// connection's read loop.
	go s.activateConference(conf)
}

// handleReject relays the callee's decline to the caller and drops the
// conference.
func (s *Server) handleReject(callee *Participant, msg protocol.Message) {
	var req protocol.Reject
	if err := msg.Decode(&req); err != nil {
		log.Printf("gateway: bad reject payload: %v", err)
		return
	}

	conf := s.conference(req.ConferenceID)
	if conf == nil || conf.pendingInvitee() != callee.ID {
		log.Printf("gateway: reject for %s does not match a pending invite, dropping", req.ConferenceID)
		return
	}

	if leader := s.participant(conf.LeaderID); leader != nil {
		leader.out.deliver(protocol.MustMessage(protocol.TypeReject, protocol.Reject{
			ConferenceID:  conf.ID,
			ParticipantID: callee.ID,
		}))
	}
	s.dropConference(conf, "")
}

// handleInviteCancelled lets the caller withdraw before an answer.
func (s *Server) handleInviteCancelled(caller *Participant, msg protocol.Message) {
	var req protocol.InviteCancelled
	if err := msg.Decode(&req); err != nil {
		log.Printf("gateway: bad inviteCancelled payload: %v", err)
		return
	}

	conf := s.conference(req.ConferenceID)
	if conf == nil || conf.LeaderID != caller.ID {
		log.Printf("gateway: inviteCancelled for %s does not match, dropping", req.ConferenceID)
		return
	}

	if invitee := s.participant(conf.pendingInvitee()); invitee != nil {
		invitee.out.deliver(protocol.MustMessage(protocol.TypeInviteCancelled, protocol.InviteCancelled{ConferenceID: conf.ID}))
	}
	s.dropConference(conf, "")
}

// handleCreateConf provisions a named conference joinable by id or code.
func (s *Server) handleCreateConf(part *Participant, msg protocol.Message) {
	fail := func(reason string) {
		part.out.deliver(protocol.MustMessage(protocol.TypeCreateConfResult, protocol.CreateConfResult{Error: reason}))
	}

	var req protocol.CreateConf
	if err := msg.Decode(&req); err != nil {
		fail("invalid createConf payload")
		return
	}
	if part.conference() != nil {
		fail("already in a conference")
		return
	}

	conf := newConference(uuid.NewString(), ConferenceTypeRoom, part.ID, req.Config)
	if conf.Config.MaxParticipants <= 0 {
		conf.Config.MaxParticipants = s.cfg.MaxParticipants
	}
	conf.RoomName = req.RoomName
	conf.Code = req.ConferenceCode

	s.mu.Lock()
	if conf.Code != "" {
		if _, taken := s.byCode[conf.Code]; taken {
			s.mu.Unlock()
			fail("conference code already in use")
			return
		}
		s.byCode[conf.Code] = conf
	}
	s.conferences[conf.ID] = conf
	s.mu.Unlock()

	conf.add(part)
	part.setConference(conf)

	part.out.deliver(protocol.MustMessage(protocol.TypeCreateConfResult, protocol.CreateConfResult{
		ConferenceID:   conf.ID,
		ConferenceCode: conf.Code,
	}))

	go s.activateConference(conf)
}

// handleJoinConf admits a participant into an existing conference by id
// or code.
func (s *Server) handleJoinConf(part *Participant, msg protocol.Message) {
	fail := func(reason string) {
		part.out.deliver(protocol.MustMessage(protocol.TypeJoinConfResult, protocol.JoinConfResult{Error: reason}))
	}

	var req protocol.JoinConf
	if err := msg.Decode(&req); err != nil {
		fail("invalid joinConf payload")
		return
	}
	if part.conference() != nil {
		fail("already in a conference")
		return
	}

	var conf *Conference
	s.mu.RLock()
	if req.ConferenceID != "" {
		conf = s.conferences[req.ConferenceID]
	} else if req.ConferenceCode != "" {
		conf = s.byCode[req.ConferenceCode]
	}
	s.mu.RUnlock()

	if conf == nil {
		fail("unknown conference")
		return
	}
	// Direct calls admit only the invited party, through accept.
	if conf.Type != ConferenceTypeRoom {
		fail("conference cannot be joined directly")
		return
	}
	if !conf.add(part) {
		fail("conference is full")
		return
	}
	part.setConference(conf)

	part.out.deliver(protocol.MustMessage(protocol.TypeJoinConfResult, protocol.JoinConfResult{
		ConferenceID: conf.ID,
		LeaderID:     conf.LeaderID,
		PresenterID:  conf.presenter(),
	}))

	if _, _, ready := conf.room(); ready {
		s.sendConferenceReady(conf, part)
	}
}

// activateConference provisions the orchestrator room, then hands every
// current participant the coordinates to join it.
func (s *Server) activateConference(conf *Conference) {
	maxPeers := conf.Config.MaxParticipants
	info, err := s.rooms.NewRoom("", "", maxPeers)
	if err != nil {
		log.Printf("gateway: room provisioning for conference %s failed: %v", conf.ID, err)
		s.dropConference(conf, "room provisioning failed")
		return
	}
	conf.setRoom(info.RoomID, info.RoomToken)

	for _, p := range conf.members() {
		s.sendConferenceReady(conf, p)
	}
}

func (s *Server) sendConferenceReady(conf *Conference, p *Participant) {
	roomID, roomToken, ready := conf.room()
	if !ready {
		return
	}

	caps, err := s.rooms.RtpCapabilities()
	if err != nil {
		log.Printf("gateway: failed to fetch rtp capabilities: %v", err)
	}

	p.out.deliver(protocol.MustMessage(protocol.TypeConferenceReady, protocol.ConferenceReady{
		ConferenceID:        conf.ID,
		RoomID:              roomID,
		RoomToken:           roomToken,
		RoomURI:             s.cfg.RoomWSURI,
		RoomRtpCapabilities: caps,
		LeaderID:            conf.LeaderID,
		PresenterID:         conf.presenter(),
		ConferenceConfig:    conf.Config,
	}))
}

// handleLeave removes the participant from its conference; the last one
// out tears the room down.
func (s *Server) handleLeave(part *Participant) {
	conf := part.conference()
	if conf == nil {
		return
	}
	part.setConference(nil)

	// A leader walking away from a still-ringing invite reads as a
	// cancellation to the invitee.
	if conf.LeaderID == part.ID {
		if invitee := s.participant(conf.pendingInvitee()); invitee != nil {
			invitee.out.deliver(protocol.MustMessage(protocol.TypeInviteCancelled, protocol.InviteCancelled{ConferenceID: conf.ID}))
		}
		conf.setPendingInvitee("")
	}

	if remaining := conf.remove(part.ID); remaining == 0 {
		s.dropConference(conf, "")
	}
}

// handleTerminateConf closes the conference for everyone. Leader only.
func (s *Server) handleTerminateConf(part *Participant, msg protocol.Message) {
	var req protocol.TerminateConf
	if err := msg.Decode(&req); err != nil {
		log.Printf("gateway: bad terminateConf payload: %v", err)
		return
	}

	conf := s.conference(req.ConferenceID)
	if conf == nil {
		return
	}
	if conf.LeaderID != part.ID {
		part.out.deliver(protocol.MustMessage(protocol.TypeError, protocol.ErrorPayload{Error: "only the leader can terminate the conference"}))
		return
	}
	s.dropConference(conf, "terminated by leader")
}

// dropConference deletes a conference, notifying members when a reason
// is given and terminating the backing room if one was provisioned.
func (s *Server) dropConference(conf *Conference, reason string) {
	s.mu.Lock()
	delete(s.conferences, conf.ID)
	if conf.Code != "" {
		delete(s.byCode, conf.Code)
	}
	s.mu.Unlock()

	if reason != "" {
		conf.broadcast(protocol.MustMessage(protocol.TypeConferenceClosed, protocol.ConferenceClosed{
			ConferenceID: conf.ID,
			Reason:       reason,
		}), "")
	}
	for _, p := range conf.members() {
		p.setConference(nil)
		conf.remove(p.ID)
	}

	if roomID, _, ready := conf.room(); ready {
		if err := s.rooms.TerminateRoom(roomID, "conference closed"); err != nil {
			log.Printf("gateway: failed to terminate room %s: %v", roomID, err)
		}
	}
}

// handlePresenterInfo updates the conference presenter and fans the
// toggle out to the other members.
func (s *Server) handlePresenterInfo(part *Participant, msg protocol.Message) {
	var req protocol.PresenterInfo
	if err := msg.Decode(&req); err != nil {
		log.Printf("gateway: bad presenterInfo payload: %v", err)
		return
	}

	conf := part.conference()
	if conf == nil {
		return
	}
	conf.setPresenter(part.ID, req.Status == "on")

	conf.broadcast(protocol.MustMessage(protocol.TypePresenterInfo, protocol.PresenterInfo{
		ConferenceID:  conf.ID,
		ParticipantID: part.ID,
		Status:        req.Status,
	}), part.ID)
}

// handleGetParticipants answers with the conference roster, or the
// online directory when the participant is not in a conference.
func (s *Server) handleGetParticipants(part *Participant) {
	var infos []protocol.ParticipantInfo
	if conf := part.conference(); conf != nil {
		for _, p := range conf.members() {
			infos = append(infos, p.info())
		}
	} else {
		s.mu.RLock()
		for _, p := range s.participants {
			infos = append(infos, p.info())
		}
		s.mu.RUnlock()
	}

	part.out.deliver(protocol.MustMessage(protocol.TypeGetParticipantsResult, protocol.GetParticipantsResult{
		Participants: infos,
	}))
}

// handleGetConferences lists the open named conferences.
func (s *Server) handleGetConferences(part *Participant) {
	var infos []protocol.ConferenceInfo
	s.mu.RLock()
	for _, conf := range s.conferences {
		if conf.Type == ConferenceTypeRoom {
			infos = append(infos, conf.info())
		}
	}
	s.mu.RUnlock()

	part.out.deliver(protocol.MustMessage(protocol.TypeGetConferencesResult, protocol.GetConferencesResult{
		Conferences: infos,
	}))
}

// Disconnect cleans up after a connection closes: pending invites are
// withdrawn, the conference is left and presence is cleared.
func (s *Server) Disconnect(part *Participant) {
	// A caller vanishing mid-invite reads as a cancellation to the callee.
	s.mu.RLock()
	var abandoned []*Conference
	for _, conf := range s.conferences {
		if conf.LeaderID == part.ID && conf.pendingInvitee() != "" {
			abandoned = append(abandoned, conf)
		}
	}
	s.mu.RUnlock()
	for _, conf := range abandoned {
		if invitee := s.participant(conf.pendingInvitee()); invitee != nil {
			invitee.out.deliver(protocol.MustMessage(protocol.TypeInviteCancelled, protocol.InviteCancelled{ConferenceID: conf.ID}))
		}
		s.dropConference(conf, "")
	}

	s.handleLeave(part)

	s.mu.Lock()
	delete(s.participants, part.ID)
	s.mu.Unlock()

	if s.store != nil {
		if err := s.store.SetParticipantOffline(context.Background(), part.ID); err != nil {
			log.Printf("gateway: failed to clear participant %s: %v", part.ID, err)
		}
	}
}

// Stats reports registry sizes for introspection.
func (s *Server) Stats() (participants, conferences int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.participants), len(s.conferences)
}
