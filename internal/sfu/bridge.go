// Package sfu bridges room-orchestrator wire messages into a peer/track
// model for the conference session above it. The orchestrator knows
// nothing about conference participants; the bridge maintains the
// peerId -> trackingId mapping that lets the session resolve which
// participant an SFU peer corresponds to.
package sfu

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/mossy-p/webrtc-conference/internal/protocol"
	"github.com/mossy-p/webrtc-conference/internal/transport"
)

type EventKind int

const (
	EventRoomJoined EventKind = iota
	EventRoomClosed
	EventPeerJoined
	EventPeerLeft
	EventTrackAdded
	EventTrackInfoUpdated
)

// Event is the bridge's upward-facing notification.
type Event struct {
	Kind   EventKind
	RoomID string
	Peer   *RemotePeer
	Track  Track
	Reason string
}

// RemotePeer is one other occupant of the joined room.
type RemotePeer struct {
	PeerID     string
	TrackingID string

	mu     sync.Mutex
	tracks []Track
}

func (p *RemotePeer) addTrack(t Track) {
	p.mu.Lock()
	p.tracks = append(p.tracks, t)
	p.mu.Unlock()
}

// Tracks snapshots the remote peer's received tracks.
func (p *RemotePeer) Tracks() []Track {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Track, len(p.tracks))
	copy(out, p.tracks)
	return out
}

// Channel is the subset of the transport channel the bridge drives.
type Channel interface {
	Connect(uri string, autoReconnect bool, backoff time.Duration) error
	Send(msg protocol.Message) bool
	Disconnect()
	AddEventHandler(kind transport.EventKind, fn transport.Handler) int
	RemoveEventHandler(kind transport.EventKind, id int)
}

// Bridge wraps one channel to the room orchestrator.
type Bridge struct {
	ch      Channel
	device  Device
	corr    *transport.Correlator
	timeout time.Duration
	events  chan Event

	mu                sync.Mutex
	peerID            string
	roomID            string
	transportsCreated bool
	peers             map[string]*RemotePeer // peerId -> remote peer
}

func NewBridge(ch Channel, device Device, requestTimeout time.Duration) *Bridge {
	b := &Bridge{
		ch:      ch,
		device:  device,
		corr:    transport.NewCorrelator(),
		timeout: requestTimeout,
		events:  make(chan Event, 64),
		peers:   map[string]*RemotePeer{},
	}
	ch.AddEventHandler(transport.EventMessage, b.handleMessage)
	return b
}

// Events is the upward notification stream.
func (b *Bridge) Events() <-chan Event {
	return b.events
}

// Connect dials the orchestrator. Reconnection is not automatic here: a
// dropped room connection always requires an explicit re-register and
// re-join driven by the session layer.
func (b *Bridge) Connect(uri string) error {
	return b.ch.Connect(uri, false, 0)
}

func (b *Bridge) emit(evt Event) {
	select {
	case b.events <- evt:
	default:
		log.Printf("sfu: event buffer full, dropping event kind=%d", evt.Kind)
	}
}

func (b *Bridge) request(req protocol.Message, replyType protocol.MessageType) (protocol.Message, error) {
	wait := b.corr.Expect(replyType, b.timeout)
	if !b.ch.Send(req) {
		b.corr.FailAll(errors.New("room channel not connected"))
		return protocol.Message{}, errors.New("room channel not connected")
	}
	return wait.Await()
}

// Register announces this endpoint to the orchestrator, loads the device
// with the returned capabilities and creates both transports. Transport
// creation is idempotent: a stale re-delivered register result after a
// reconnect does not create a second pair.
func (b *Bridge) Register(trackingID, displayName string) error {
	reply, err := b.request(
		protocol.MustMessage(protocol.TypeRoomRegister, protocol.RoomRegister{TrackingID: trackingID, DisplayName: displayName}),
		protocol.TypeRoomRegisterResult,
	)
	if err != nil {
		return err
	}

	var result protocol.RoomRegisterResult
	if err := reply.Decode(&result); err != nil {
		return err
	}
	if result.Error != "" {
		return fmt.Errorf("register rejected: %s", result.Error)
	}

	b.mu.Lock()
	b.peerID = result.PeerID
	alreadyCreated := b.transportsCreated
	b.mu.Unlock()

	if err := b.device.Load(result.RtpCapabilities); err != nil {
		return fmt.Errorf("load device: %w", err)
	}
	if alreadyCreated {
		return nil
	}

	if err := b.createTransport(true); err != nil {
		return err
	}
	if err := b.createTransport(false); err != nil {
		return err
	}

	b.mu.Lock()
	b.transportsCreated = true
	b.mu.Unlock()
	return nil
}

func (b *Bridge) createTransport(producing bool) error {
	createType, createdType, connectType := protocol.TypeCreateConsumerTransport, protocol.TypeConsumerTransportCreated, protocol.TypeConnectConsumerTransport
	if producing {
		createType, createdType, connectType = protocol.TypeCreateProducerTransport, protocol.TypeProducerTransportCreated, protocol.TypeConnectProducerTransport
	}

	reply, err := b.request(protocol.MustMessage(createType, nil), createdType)
	if err != nil {
		return err
	}
	var created protocol.TransportCreated
	if err := reply.Decode(&created); err != nil {
		return err
	}
	if created.Error != "" {
		return fmt.Errorf("%s rejected: %s", createType, created.Error)
	}

	connectInfo, err := b.device.ConnectInfo(created, producing)
	if err != nil {
		return fmt.Errorf("derive connect parameters: %w", err)
	}
	if !b.ch.Send(protocol.MustMessage(connectType, connectInfo)) {
		return errors.New("room channel not connected")
	}
	return nil
}

// Join enters the room, publishes every local track and subscribes to
// every producer the existing occupants advertise.
func (b *Bridge) Join(roomToken string) error {
	reply, err := b.request(
		protocol.MustMessage(protocol.TypeRoomJoin, protocol.RoomJoin{RoomToken: roomToken}),
		protocol.TypeRoomJoinResult,
	)
	if err != nil {
		return err
	}

	var result protocol.RoomJoinResult
	if err := reply.Decode(&result); err != nil {
		return err
	}
	if result.Error != "" {
		return fmt.Errorf("join rejected: %s", result.Error)
	}

	b.mu.Lock()
	b.roomID = result.RoomID
	b.mu.Unlock()
	b.emit(Event{Kind: EventRoomJoined, RoomID: result.RoomID})

	tracks, err := b.device.Tracks()
	if err != nil {
		return fmt.Errorf("acquire local tracks: %w", err)
	}
	for _, track := range tracks {
		if err := b.produce(track); err != nil {
			return err
		}
	}

	for _, occupant := range result.Peers {
		peer := b.addPeer(occupant.PeerID, occupant.TrackingID)
		b.emit(Event{Kind: EventPeerJoined, Peer: peer})
		for _, producer := range occupant.Producers {
			go b.consume(occupant.PeerID, producer.ProducerID)
		}
	}
	return nil
}

func (b *Bridge) produce(track Track) error {
	reply, err := b.request(
		protocol.MustMessage(protocol.TypeProduce, protocol.Produce{
			Kind:          track.Kind(),
			RtpParameters: track.SendParameters(),
		}),
		protocol.TypeProduced,
	)
	if err != nil {
		return err
	}
	var produced protocol.Produced
	if err := reply.Decode(&produced); err != nil {
		return err
	}
	if produced.Error != "" {
		return fmt.Errorf("produce %s rejected: %s", track.Kind(), produced.Error)
	}
	return nil
}

// consume subscribes to one remote producer. Runs on its own goroutine
// when triggered by push notifications so the read loop is never blocked
// waiting for its own response.
func (b *Bridge) consume(peerID, producerID string) {
	reply, err := b.request(
		protocol.MustMessage(protocol.TypeConsume, protocol.Consume{
			RemotePeerID:    peerID,
			ProducerID:      producerID,
			RtpCapabilities: b.device.RtpCapabilities(),
		}),
		protocol.TypeConsumed,
	)
	if err != nil {
		log.Printf("sfu: consume %s/%s failed: %v", peerID, producerID, err)
		return
	}

	var consumed protocol.Consumed
	if err := reply.Decode(&consumed); err != nil {
		log.Printf("sfu: bad consumed payload: %v", err)
		return
	}
	if consumed.Error != "" {
		log.Printf("sfu: consume %s/%s rejected: %s", peerID, producerID, consumed.Error)
		return
	}

	track, err := b.device.Consume(consumed)
	if err != nil {
		log.Printf("sfu: device consume failed: %v", err)
		return
	}

	b.mu.Lock()
	peer := b.peers[consumed.PeerID]
	b.mu.Unlock()
	if peer == nil {
		log.Printf("sfu: consumed track for unknown peer %s", consumed.PeerID)
		return
	}
	peer.addTrack(track)
	b.emit(Event{Kind: EventTrackAdded, Peer: peer, Track: track})
}

func (b *Bridge) addPeer(peerID, trackingID string) *RemotePeer {
	b.mu.Lock()
	defer b.mu.Unlock()
	if existing, ok := b.peers[peerID]; ok {
		return existing
	}
	peer := &RemotePeer{PeerID: peerID, TrackingID: trackingID}
	b.peers[peerID] = peer
	return peer
}

// TrackingID resolves which conference participant an SFU peer belongs to.
func (b *Bridge) TrackingID(peerID string) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	peer, ok := b.peers[peerID]
	if !ok {
		return "", false
	}
	return peer.TrackingID, true
}

func (b *Bridge) handleMessage(evt transport.Event) {
	msg := evt.Message
	if b.corr.Dispatch(msg) {
		return
	}

	switch msg.Type {
	case protocol.TypeRoomNewPeer:
		var payload protocol.RoomNewPeer
		if err := msg.Decode(&payload); err != nil {
			log.Printf("sfu: bad roomNewPeer payload: %v", err)
			return
		}
		peer := b.addPeer(payload.PeerID, payload.TrackingID)
		b.emit(Event{Kind: EventPeerJoined, Peer: peer})
		for _, producer := range payload.Producers {
			go b.consume(payload.PeerID, producer.ProducerID)
		}

	case protocol.TypeRoomPeerLeft:
		var payload protocol.RoomPeerLeft
		if err := msg.Decode(&payload); err != nil {
			log.Printf("sfu: bad roomPeerLeft payload: %v", err)
			return
		}
		b.mu.Lock()
		peer := b.peers[payload.PeerID]
		delete(b.peers, payload.PeerID)
		b.mu.Unlock()
		if peer != nil {
			for _, track := range peer.Tracks() {
				track.Stop()
			}
			b.emit(Event{Kind: EventPeerLeft, Peer: peer})
		}

	case protocol.TypeRoomNewProducer:
		var payload protocol.RoomNewProducer
		if err := msg.Decode(&payload); err != nil {
			log.Printf("sfu: bad roomNewProducer payload: %v", err)
			return
		}
		go b.consume(payload.PeerID, payload.ProducerID)

	case protocol.TypeRoomTerminated:
		var payload protocol.RoomTerminated
		_ = msg.Decode(&payload)
		b.reset()
		b.emit(Event{Kind: EventRoomClosed, RoomID: payload.RoomID, Reason: payload.Reason})

	case protocol.TypeRoomLeft, protocol.TypeError:
		// roomLeft acknowledges our own leave; error pushes are logged.
		if msg.Type == protocol.TypeError {
			var payload protocol.ErrorPayload
			_ = msg.Decode(&payload)
			log.Printf("sfu: server error: %s", payload.Error)
		}

	default:
		log.Printf("sfu: unhandled message type %q", msg.Type)
	}
}

// Leave exits the room but keeps the connection and transports, matching
// the orchestrator's leave semantics. Best-effort: reports whether the
// leave message was actually sent.
func (b *Bridge) Leave() bool {
	b.mu.Lock()
	hadRoom := b.roomID != ""
	b.mu.Unlock()
	if !hadRoom {
		return false
	}
	b.reset()
	return b.ch.Send(protocol.MustMessage(protocol.TypeRoomLeave, nil))
}

func (b *Bridge) reset() {
	b.mu.Lock()
	peers := b.peers
	b.peers = map[string]*RemotePeer{}
	b.roomID = ""
	b.mu.Unlock()

	for _, peer := range peers {
		for _, track := range peer.Tracks() {
			track.Stop()
		}
	}
}

// Close tears the room connection down entirely.
func (b *Bridge) Close() {
	b.reset()
	b.corr.FailAll(errors.New("room channel closed"))
	b.mu.Lock()
	b.transportsCreated = false
	b.peerID = ""
	b.mu.Unlock()
	b.ch.Disconnect()
}
