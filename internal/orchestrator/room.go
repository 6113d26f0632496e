package orchestrator

import (
	"errors"
	"sync"

	"github.com/mossy-p/webrtc-conference/internal/protocol"
)

var (
	errRoomFull      = errors.New("room is full")
	errRoomClosed    = errors.New("room is closed")
	errAlreadyInRoom = errors.New("peer already belongs to a room")
	errUnknownRoom   = errors.New("unknown room")
)

// Room is a capacity-bounded group of peers sharing forwarded media. The
// token is set at creation and never changes. Admission is two-phase:
// a slot is reserved synchronously before any transport or store work, and
// committed (or released) afterwards, so concurrent joins near the capacity
// limit cannot both be admitted.
type Room struct {
	ID       string
	Token    string
	MaxPeers int

	mu       sync.RWMutex
	peers    map[string]*Peer
	reserved int
	closed   bool
}

func newRoom(id, token string, maxPeers int) *Room {
	return &Room{
		ID:       id,
		Token:    token,
		MaxPeers: maxPeers,
		peers:    map[string]*Peer{},
	}
}

// reserve claims an admission slot for peer without admitting it yet.
func (r *Room) reserve(p *Peer) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return errRoomClosed
	}
	if _, ok := r.peers[p.ID]; ok {
		return errAlreadyInRoom
	}
	if r.MaxPeers > 0 && len(r.peers)+r.reserved >= r.MaxPeers {
		return errRoomFull
	}
	r.reserved++
	return nil
}

// commit turns a reservation into membership. It fails when the room was
// closed while the reservation was held; the caller still owns the slot
// and must release it.
func (r *Room) commit(p *Peer) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return errRoomClosed
	}
	r.reserved--
	r.peers[p.ID] = p
	r.mu.Unlock()
	p.setRoom(r)
	return nil
}

// release drops a reservation after a failed admission.
func (r *Room) release() {
	r.mu.Lock()
	r.reserved--
	r.mu.Unlock()
}

// close stops all further admissions, reserved or not.
func (r *Room) close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
}

// remove detaches peer and reports how many admissions remain, counting
// reservations so a room is not garbage collected under a pending join.
func (r *Room) remove(p *Peer) int {
	r.mu.Lock()
	delete(r.peers, p.ID)
	remaining := len(r.peers) + r.reserved
	r.mu.Unlock()
	p.setRoom(nil)
	return remaining
}

func (r *Room) peerCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}

func (r *Room) findPeer(peerID string) (*Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.peers[peerID]
	return p, ok
}

// occupants snapshots the live peer set, optionally excluding one peer.
func (r *Room) occupants(exceptPeerID string) []*Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Peer, 0, len(r.peers))
	for id, p := range r.peers {
		if exceptPeerID != "" && id == exceptPeerID {
			continue
		}
		out = append(out, p)
	}
	return out
}

// broadcast sends msg to every current occupant except exceptPeerID. The
// occupant set is evaluated at call time, not from an earlier snapshot.
func (r *Room) broadcast(msg protocol.Message, exceptPeerID string) {
	for _, p := range r.occupants(exceptPeerID) {
		p.deliver(msg)
	}
}

func (r *Room) summaries(exceptPeerID string) []protocol.RoomPeerSummary {
	occupants := r.occupants(exceptPeerID)
	out := make([]protocol.RoomPeerSummary, 0, len(occupants))
	for _, p := range occupants {
		out = append(out, p.summary())
	}
	return out
}
