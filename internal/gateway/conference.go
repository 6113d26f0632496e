package gateway

import (
	"sync"

	"github.com/mossy-p/webrtc-conference/internal/protocol"
)

// Conference types: a direct call negotiated through invite/accept, or a
// named room joinable by id or code.
const (
	ConferenceTypeP2P  = "p2p"
	ConferenceTypeRoom = "room"
)

// Conference is one gateway-level call session backed by an orchestrator
// room once provisioning completes.
type Conference struct {
	ID       string
	Type     string
	Code     string
	RoomName string
	LeaderID string
	Config   protocol.ConferenceConf

	mu           sync.Mutex
	presenterID  string
	roomID       string
	roomToken    string
	ready        bool
	invitee      string // p2p: invited participant awaiting accept
	participants map[string]*Participant
}

func newConference(id, confType, leaderID string, conf protocol.ConferenceConf) *Conference {
	return &Conference{
		ID:           id,
		Type:         confType,
		LeaderID:     leaderID,
		Config:       conf,
		participants: map[string]*Participant{},
	}
}

func (c *Conference) add(p *Participant) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Config.MaxParticipants > 0 && len(c.participants) >= c.Config.MaxParticipants {
		return false
	}
	c.participants[p.ID] = p
	return true
}

// remove drops a participant and reports how many remain.
func (c *Conference) remove(participantID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.participants, participantID)
	if c.presenterID == participantID {
		c.presenterID = ""
	}
	return len(c.participants)
}

func (c *Conference) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.participants)
}

// members snapshots the current participant set.
func (c *Conference) members() []*Participant {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Participant, 0, len(c.participants))
	for _, p := range c.participants {
		out = append(out, p)
	}
	return out
}

// broadcast delivers msg to every current participant except one. The
// member set is evaluated at call time, not snapshotted earlier.
func (c *Conference) broadcast(msg protocol.Message, exceptID string) {
	for _, p := range c.members() {
		if p.ID == exceptID {
			continue
		}
		p.out.deliver(msg)
	}
}

func (c *Conference) presenter() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.presenterID
}

func (c *Conference) setPresenter(participantID string, on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if on {
		c.presenterID = participantID
	} else if c.presenterID == participantID {
		c.presenterID = ""
	}
}

// setRoom records the provisioned orchestrator room and marks the
// conference joinable.
func (c *Conference) setRoom(roomID, roomToken string) {
	c.mu.Lock()
	c.roomID = roomID
	c.roomToken = roomToken
	c.ready = true
	c.mu.Unlock()
}

func (c *Conference) room() (roomID, roomToken string, ready bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomID, c.roomToken, c.ready
}

func (c *Conference) pendingInvitee() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.invitee
}

func (c *Conference) setPendingInvitee(participantID string) {
	c.mu.Lock()
	c.invitee = participantID
	c.mu.Unlock()
}

func (c *Conference) info() protocol.ConferenceInfo {
	return protocol.ConferenceInfo{
		ConferenceID:   c.ID,
		ConferenceType: c.Type,
		RoomName:       c.RoomName,
		Participants:   c.size(),
	}
}
