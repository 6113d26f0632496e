package orchestrator

import (
	"sync"

	"github.com/mossy-p/webrtc-conference/internal/media"
	"github.com/mossy-p/webrtc-conference/internal/protocol"
)

// sender delivers wire messages to one connected peer. Implemented by the
// websocket Client; tests substitute their own.
type sender interface {
	deliver(msg protocol.Message)
}

// Peer is one room-orchestrator endpoint, exactly one per live connection.
// It owns at most one transport per direction and the producers/consumers
// flowing over them.
type Peer struct {
	ID          string
	TrackingID  string
	DisplayName string

	mu                sync.Mutex
	producerTransport media.Transport
	consumerTransport media.Transport
	producers         map[string]media.Producer
	consumers         map[string]media.Consumer
	room              *Room

	out sender
}

func newPeer(id, trackingID, displayName string, out sender) *Peer {
	return &Peer{
		ID:          id,
		TrackingID:  trackingID,
		DisplayName: displayName,
		producers:   map[string]media.Producer{},
		consumers:   map[string]media.Consumer{},
		out:         out,
	}
}

func (p *Peer) deliver(msg protocol.Message) {
	p.out.deliver(msg)
}

func (p *Peer) currentRoom() *Room {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.room
}

func (p *Peer) setRoom(r *Room) {
	p.mu.Lock()
	p.room = r
	p.mu.Unlock()
}

func (p *Peer) setProducerTransport(t media.Transport) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.producerTransport != nil {
		return false
	}
	p.producerTransport = t
	return true
}

func (p *Peer) setConsumerTransport(t media.Transport) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.consumerTransport != nil {
		return false
	}
	p.consumerTransport = t
	return true
}

func (p *Peer) getProducerTransport() media.Transport {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.producerTransport
}

func (p *Peer) getConsumerTransport() media.Transport {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.consumerTransport
}

func (p *Peer) addProducer(prod media.Producer) {
	p.mu.Lock()
	p.producers[prod.ID()] = prod
	p.mu.Unlock()
}

func (p *Peer) addConsumer(cons media.Consumer) {
	p.mu.Lock()
	p.consumers[cons.ID()] = cons
	p.mu.Unlock()
}

func (p *Peer) findProducer(producerID string) (media.Producer, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	prod, ok := p.producers[producerID]
	return prod, ok
}

// producerSummaries advertises the peer's active producers to other peers.
func (p *Peer) producerSummaries() []protocol.ProducerSummary {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]protocol.ProducerSummary, 0, len(p.producers))
	for _, prod := range p.producers {
		out = append(out, protocol.ProducerSummary{ProducerID: prod.ID(), Kind: prod.Kind()})
	}
	return out
}

func (p *Peer) summary() protocol.RoomPeerSummary {
	return protocol.RoomPeerSummary{
		PeerID:     p.ID,
		TrackingID: p.TrackingID,
		Producers:  p.producerSummaries(),
	}
}

// closeStreams closes producers and consumers but keeps both transports,
// so a peer that leaves one room can join another on the same connection.
func (p *Peer) closeStreams() {
	p.mu.Lock()
	producers := p.producers
	consumers := p.consumers
	p.producers = map[string]media.Producer{}
	p.consumers = map[string]media.Consumer{}
	p.mu.Unlock()

	for _, cons := range consumers {
		_ = cons.Close()
	}
	for _, prod := range producers {
		_ = prod.Close()
	}
}

// closeMedia tears down every producer, consumer and transport. Safe to
// call repeatedly; all underlying closes are idempotent.
func (p *Peer) closeMedia() {
	p.mu.Lock()
	producers := p.producers
	consumers := p.consumers
	pt, ct := p.producerTransport, p.consumerTransport
	p.producers = map[string]media.Producer{}
	p.consumers = map[string]media.Consumer{}
	p.producerTransport = nil
	p.consumerTransport = nil
	p.mu.Unlock()

	for _, cons := range consumers {
		_ = cons.Close()
	}
	for _, prod := range producers {
		_ = prod.Close()
	}
	if pt != nil {
		_ = pt.Close()
	}
	if ct != nil {
		_ = ct.Close()
	}
}
