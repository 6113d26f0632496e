package gateway

import (
	"sync"

	"github.com/mossy-p/webrtc-conference/internal/protocol"
)

// sender delivers one outbound message to a connection. Implemented by
// the websocket client; tests substitute an in-memory recorder.
type sender interface {
	deliver(msg protocol.Message)
}

// Participant is one registered signaling connection. Exactly one
// participant exists per live websocket.
type Participant struct {
	ID          string
	DisplayName string
	Role        string

	out sender

	mu   sync.Mutex
	conf *Conference
}

func (p *Participant) conference() *Conference {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conf
}

func (p *Participant) setConference(c *Conference) {
	p.mu.Lock()
	p.conf = c
	p.mu.Unlock()
}

func (p *Participant) info() protocol.ParticipantInfo {
	return protocol.ParticipantInfo{
		ParticipantID: p.ID,
		DisplayName:   p.DisplayName,
		Role:          p.Role,
	}
}
