package orchestrator

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/mossy-p/webrtc-conference/config"
	"github.com/mossy-p/webrtc-conference/internal/media"
	"github.com/mossy-p/webrtc-conference/internal/protocol"
	"github.com/mossy-p/webrtc-conference/internal/redis"
	"github.com/mossy-p/webrtc-conference/internal/token"
)

// Server owns the peer and room registries and handles every inbound room
// wire message. One Server instance per process; construction is explicit
// and all collaborators are injected.
type Server struct {
	cfg    config.OrchestratorConfig
	minter *token.Minter
	engine media.Engine
	store  *redis.Store // optional mirror, may be nil

	mu    sync.RWMutex
	peers map[string]*Peer
	rooms map[string]*Room
}

func NewServer(cfg config.OrchestratorConfig, minter *token.Minter, engine media.Engine, store *redis.Store) *Server {
	return &Server{
		cfg:    cfg,
		minter: minter,
		engine: engine,
		store:  store,
		peers:  map[string]*Peer{},
		rooms:  map[string]*Room{},
	}
}

// RtpCapabilities reports the media engine's router capabilities.
func (s *Server) RtpCapabilities() webrtc.RTPCapabilities {
	return s.engine.RtpCapabilities()
}

// HandleMessage processes one inbound message for the connection bound to
// peer (nil before registration) and returns the possibly-updated binding.
func (s *Server) HandleMessage(peer *Peer, out sender, msg protocol.Message) *Peer {
	if msg.Type == protocol.TypeRoomRegister {
		return s.handleRegister(peer, out, msg)
	}

	if peer == nil {
		out.deliver(protocol.MustMessage(protocol.TypeError, protocol.ErrorPayload{Error: "not registered"}))
		return nil
	}

	switch msg.Type {
	case protocol.TypeRoomNew:
		s.handleRoomNew(peer, msg)
	case protocol.TypeRoomJoin:
		s.handleRoomJoin(peer, msg)
	case protocol.TypeRoomLeave:
		s.handleRoomLeave(peer)
	case protocol.TypeRoomTerminate:
		s.handleRoomTerminate(peer, msg)
	case protocol.TypeCreateProducerTransport:
		s.handleCreateTransport(peer, true)
	case protocol.TypeCreateConsumerTransport:
		s.handleCreateTransport(peer, false)
	case protocol.TypeConnectProducerTransport:
		s.handleConnectTransport(peer, msg, true)
	case protocol.TypeConnectConsumerTransport:
		s.handleConnectTransport(peer, msg, false)
	case protocol.TypeProduce:
		s.handleProduce(peer, msg)
	case protocol.TypeConsume:
		s.handleConsume(peer, msg)
	case protocol.TypeTerminatePeer:
		s.TerminatePeer(peer)
		return nil
	default:
		log.Printf("orchestrator: unknown message type %q from peer %s", msg.Type, peer.ID)
		out.deliver(protocol.MustMessage(protocol.TypeError, protocol.ErrorPayload{Error: "unsupported message type"}))
	}
	return peer
}

// handleRegister creates the connection's peer. Re-registering an already
// bound connection is a no-op that answers with the existing peer.
func (s *Server) handleRegister(peer *Peer, out sender, msg protocol.Message) *Peer {
	if peer != nil {
		peer.deliver(protocol.MustMessage(protocol.TypeRoomRegisterResult, protocol.RoomRegisterResult{
			PeerID:          peer.ID,
			TrackingID:      peer.TrackingID,
			RtpCapabilities: s.engine.RtpCapabilities(),
		}))
		return peer
	}

	var req protocol.RoomRegister
	if err := msg.Decode(&req); err != nil {
		out.deliver(protocol.MustMessage(protocol.TypeRoomRegisterResult, protocol.RoomRegisterResult{Error: "invalid register payload"}))
		return nil
	}

	peer = newPeer(uuid.New().String(), req.TrackingID, req.DisplayName, out)
	s.mu.Lock()
	s.peers[peer.ID] = peer
	s.mu.Unlock()

	log.Printf("peer %s registered (tracking %s)", peer.ID, peer.TrackingID)

	peer.deliver(protocol.MustMessage(protocol.TypeRoomRegisterResult, protocol.RoomRegisterResult{
		PeerID:          peer.ID,
		TrackingID:      peer.TrackingID,
		RtpCapabilities: s.engine.RtpCapabilities(),
	}))
	return peer
}

// CreateRoom registers a room, minting a token when none was supplied.
// Shared by the roomNew wire handler and the bridge HTTP endpoints.
func (s *Server) CreateRoom(roomID, roomToken string, maxPeers int) (*Room, error) {
	if roomToken != "" {
		claims, err := s.minter.Verify(roomToken)
		if err != nil {
			return nil, err
		}
		roomID = claims.RoomID
		maxPeers = claims.MaxPeers
	} else {
		if roomID == "" {
			roomID = uuid.New().String()
		}
		if maxPeers <= 0 {
			maxPeers = s.cfg.MaxRoomPeers
		}
		var err error
		roomToken, err = s.minter.Mint(roomID, maxPeers, s.cfg.TokenTTL)
		if err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	room, ok := s.rooms[roomID]
	if !ok {
		room = newRoom(roomID, roomToken, maxPeers)
		s.rooms[roomID] = room
	}
	s.mu.Unlock()
	if ok {
		return room, nil
	}

	if s.store != nil {
		if err := s.store.SaveRoom(context.Background(), redis.RoomRecord{
			ID: roomID, MaxPeers: maxPeers, CreatedAt: time.Now(),
		}); err != nil {
			log.Printf("failed to mirror room %s: %v", roomID, err)
		}
	}
	log.Printf("room %s created (maxPeers=%d)", roomID, maxPeers)
	return room, nil
}

// MintToken issues a token without creating the room; the room comes into
// existence lazily on the first join that presents the token.
func (s *Server) MintToken(roomID string, maxPeers int) (string, string, error) {
	if roomID == "" {
		roomID = uuid.New().String()
	}
	if maxPeers <= 0 {
		maxPeers = s.cfg.MaxRoomPeers
	}
	signed, err := s.minter.Mint(roomID, maxPeers, s.cfg.TokenTTL)
	return roomID, signed, err
}

func (s *Server) handleRoomNew(p *Peer, msg protocol.Message) {
	var req protocol.RoomNew
	if err := msg.Decode(&req); err != nil {
		p.deliver(protocol.MustMessage(protocol.TypeRoomNewResult, protocol.RoomNewResult{Error: "invalid roomNew payload"}))
		return
	}

	room, err := s.CreateRoom(req.RoomID, req.RoomToken, req.MaxPeers)
	if err != nil {
		p.deliver(protocol.MustMessage(protocol.TypeRoomNewResult, protocol.RoomNewResult{Error: err.Error()}))
		return
	}
	p.deliver(protocol.MustMessage(protocol.TypeRoomNewResult, protocol.RoomNewResult{
		RoomID:    room.ID,
		RoomToken: room.Token,
	}))
}

func (s *Server) handleRoomJoin(p *Peer, msg protocol.Message) {
	fail := func(reason string) {
		p.deliver(protocol.MustMessage(protocol.TypeRoomJoinResult, protocol.RoomJoinResult{Error: reason}))
	}

	var req protocol.RoomJoin
	if err := msg.Decode(&req); err != nil {
		fail("invalid roomJoin payload")
		return
	}

	claims, err := s.minter.Verify(req.RoomToken)
	if err != nil {
		fail(err.Error())
		return
	}

	if p.currentRoom() != nil {
		fail(errAlreadyInRoom.Error())
		return
	}

	s.mu.Lock()
	room, ok := s.rooms[claims.RoomID]
	if !ok {
		// Pre-issued token for a room that was never created: the room
		// comes into existence on first join.
		room = newRoom(claims.RoomID, req.RoomToken, claims.MaxPeers)
		s.rooms[claims.RoomID] = room
	}
	s.mu.Unlock()

	// Reserve the capacity slot before any suspending work.
	if err := room.reserve(p); err != nil {
		fail(err.Error())
		return
	}

	if s.store != nil {
		if err := s.store.AddRoomPeer(context.Background(), room.ID, p.ID); err != nil {
			log.Printf("failed to mirror join of %s to %s: %v", p.ID, room.ID, err)
		}
	}

	// The room may have been terminated while the reservation was held;
	// a failed commit leaves the slot with us.
	if err := room.commit(p); err != nil {
		room.release()
		fail(err.Error())
		return
	}
	log.Printf("peer %s joined room %s (%d/%d)", p.ID, room.ID, room.peerCount(), room.MaxPeers)

	p.deliver(protocol.MustMessage(protocol.TypeRoomJoinResult, protocol.RoomJoinResult{
		RoomID: room.ID,
		Peers:  room.summaries(p.ID),
	}))

	room.broadcast(protocol.MustMessage(protocol.TypeRoomNewPeer, protocol.RoomNewPeer{
		PeerID:     p.ID,
		TrackingID: p.TrackingID,
		Producers:  p.producerSummaries(),
	}), p.ID)
}

// leaveRoom detaches the peer, closes its streams and notifies the rest of
// the room. Transports stay open so the peer may join another room.
func (s *Server) leaveRoom(p *Peer) {
	room := p.currentRoom()
	if room == nil {
		return
	}

	remaining := room.remove(p)
	p.closeStreams()

	if s.store != nil {
		if err := s.store.RemoveRoomPeer(context.Background(), room.ID, p.ID); err != nil {
			log.Printf("failed to mirror leave of %s from %s: %v", p.ID, room.ID, err)
		}
	}

	room.broadcast(protocol.MustMessage(protocol.TypeRoomPeerLeft, protocol.RoomPeerLeft{
		PeerID:     p.ID,
		TrackingID: p.TrackingID,
	}), p.ID)

	log.Printf("peer %s left room %s", p.ID, room.ID)
	if remaining == 0 {
		s.deleteRoom(room)
	}
}

func (s *Server) handleRoomLeave(p *Peer) {
	s.leaveRoom(p)
	p.deliver(protocol.MustMessage(protocol.TypeRoomLeft, nil))
}

func (s *Server) deleteRoom(room *Room) {
	room.close()
	s.mu.Lock()
	delete(s.rooms, room.ID)
	s.mu.Unlock()

	if s.store != nil {
		if err := s.store.DeleteRoom(context.Background(), room.ID); err != nil {
			log.Printf("failed to delete room mirror %s: %v", room.ID, err)
		}
	}
	log.Printf("room %s removed", room.ID)
}

func (s *Server) handleCreateTransport(p *Peer, producer bool) {
	reply := protocol.TypeConsumerTransportCreated
	if producer {
		reply = protocol.TypeProducerTransportCreated
	}
	fail := func(reason string) {
		p.deliver(protocol.MustMessage(reply, protocol.TransportCreated{Error: reason}))
	}

	if producer && p.getProducerTransport() != nil || !producer && p.getConsumerTransport() != nil {
		fail("transport already created")
		return
	}

	transport, err := s.engine.NewTransport()
	if err != nil {
		fail(err.Error())
		return
	}

	stored := false
	if producer {
		stored = p.setProducerTransport(transport)
	} else {
		stored = p.setConsumerTransport(transport)
	}
	if !stored {
		// Lost a race with a concurrent create on the same connection.
		_ = transport.Close()
		fail("transport already created")
		return
	}

	p.deliver(protocol.MustMessage(reply, protocol.TransportCreated{
		TransportID:    transport.ID(),
		ICEParameters:  transport.ICEParameters(),
		ICECandidates:  transport.ICECandidates(),
		DTLSParameters: transport.DTLSParameters(),
	}))
}

func (s *Server) handleConnectTransport(p *Peer, msg protocol.Message, producer bool) {
	transport := p.getConsumerTransport()
	if producer {
		transport = p.getProducerTransport()
	}
	if transport == nil {
		p.deliver(protocol.MustMessage(protocol.TypeError, protocol.ErrorPayload{Error: "transport not created"}))
		return
	}

	var req protocol.ConnectTransport
	if err := msg.Decode(&req); err != nil {
		p.deliver(protocol.MustMessage(protocol.TypeError, protocol.ErrorPayload{Error: "invalid connect payload"}))
		return
	}

	if err := transport.Connect(req.ICEParameters, req.ICECandidates, req.DTLSParameters); err != nil {
		log.Printf("peer %s transport connect failed: %v", p.ID, err)
		p.deliver(protocol.MustMessage(protocol.TypeError, protocol.ErrorPayload{Error: "transport connect failed"}))
	}
}

func (s *Server) handleProduce(p *Peer, msg protocol.Message) {
	fail := func(reason string) {
		p.deliver(protocol.MustMessage(protocol.TypeProduced, protocol.Produced{Error: reason}))
	}

	room := p.currentRoom()
	if room == nil {
		fail("not in a room")
		return
	}
	transport := p.getProducerTransport()
	if transport == nil {
		fail("producer transport not created")
		return
	}

	var req protocol.Produce
	if err := msg.Decode(&req); err != nil {
		fail("invalid produce payload")
		return
	}

	producer, err := transport.Produce(uuid.New().String(), req.Kind, req.RtpParameters)
	if err != nil {
		fail(err.Error())
		return
	}
	p.addProducer(producer)

	p.deliver(protocol.MustMessage(protocol.TypeProduced, protocol.Produced{
		ProducerID: producer.ID(),
		Kind:       producer.Kind(),
	}))

	room.broadcast(protocol.MustMessage(protocol.TypeRoomNewProducer, protocol.RoomNewProducer{
		PeerID:     p.ID,
		ProducerID: producer.ID(),
		Kind:       producer.Kind(),
	}), p.ID)
}

func (s *Server) handleConsume(p *Peer, msg protocol.Message) {
	fail := func(reason string) {
		p.deliver(protocol.MustMessage(protocol.TypeConsumed, protocol.Consumed{Error: reason}))
	}

	room := p.currentRoom()
	if room == nil {
		fail("not in a room")
		return
	}
	transport := p.getConsumerTransport()
	if transport == nil {
		fail("consumer transport not created")
		return
	}

	var req protocol.Consume
	if err := msg.Decode(&req); err != nil {
		fail("invalid consume payload")
		return
	}

	remote, ok := room.findPeer(req.RemotePeerID)
	if !ok {
		fail("remote peer not found")
		return
	}
	producer, ok := remote.findProducer(req.ProducerID)
	if !ok {
		fail("producer not found")
		return
	}

	consumer, err := transport.Consume(uuid.New().String(), producer, req.RtpCapabilities)
	if err != nil {
		fail(err.Error())
		return
	}
	p.addConsumer(consumer)

	p.deliver(protocol.MustMessage(protocol.TypeConsumed, protocol.Consumed{
		ConsumerID:    consumer.ID(),
		ProducerID:    consumer.ProducerID(),
		PeerID:        remote.ID,
		Kind:          consumer.Kind(),
		RtpParameters: consumer.RtpParameters(),
	}))
}

// TerminatePeer force-closes everything a peer owns, detaches it from its
// room with the normal peer-left broadcast and deletes the record. Used for
// the terminatePeer wire op and for disconnect cleanup.
func (s *Server) TerminatePeer(p *Peer) {
	s.leaveRoom(p)
	p.closeMedia()

	s.mu.Lock()
	delete(s.peers, p.ID)
	s.mu.Unlock()
	log.Printf("peer %s terminated", p.ID)
}

func (s *Server) handleRoomTerminate(p *Peer, msg protocol.Message) {
	var req protocol.RoomTerminate
	if err := msg.Decode(&req); err != nil {
		p.deliver(protocol.MustMessage(protocol.TypeError, protocol.ErrorPayload{Error: "invalid roomTerminate payload"}))
		return
	}
	if err := s.TerminateRoom(req.RoomID, "terminated"); err != nil {
		p.deliver(protocol.MustMessage(protocol.TypeError, protocol.ErrorPayload{Error: err.Error()}))
	}
}

// TerminateRoom notifies every occupant (including whoever asked, if they
// occupy the room), closes all occupant media and deletes the room.
func (s *Server) TerminateRoom(roomID, reason string) error {
	s.mu.Lock()
	room, ok := s.rooms[roomID]
	if ok {
		delete(s.rooms, roomID)
	}
	s.mu.Unlock()
	if !ok {
		return errUnknownRoom
	}
	room.close()

	room.broadcast(protocol.MustMessage(protocol.TypeRoomTerminated, protocol.RoomTerminated{
		RoomID: roomID,
		Reason: reason,
	}), "")

	for _, occupant := range room.occupants("") {
		room.remove(occupant)
		occupant.closeMedia()
	}

	if s.store != nil {
		if err := s.store.DeleteRoom(context.Background(), roomID); err != nil {
			log.Printf("failed to delete room mirror %s: %v", roomID, err)
		}
	}
	log.Printf("room %s terminated (%s)", roomID, reason)
	return nil
}

// Stats reports registry counters for the introspection endpoint.
func (s *Server) Stats() (peers, rooms int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.peers), len(s.rooms)
}
