package protocol

import (
	"encoding/json"
	"fmt"
)

// MessageType identifies a signaling or room-orchestrator wire message.
type MessageType string

// Signaling gateway message types.
const (
	TypeRegister              MessageType = "register"
	TypeRegisterResult        MessageType = "registerResult"
	TypeInvite                MessageType = "invite"
	TypeInviteResult          MessageType = "inviteResult"
	TypeReject                MessageType = "reject"
	TypeInviteCancelled       MessageType = "inviteCancelled"
	TypeAccept                MessageType = "accept"
	TypeAcceptResult          MessageType = "acceptResult"
	TypeCreateConf            MessageType = "createConf"
	TypeCreateConfResult      MessageType = "createConfResult"
	TypeJoinConf              MessageType = "joinConf"
	TypeJoinConfResult        MessageType = "joinConfResult"
	TypeConferenceReady       MessageType = "conferenceReady"
	TypeConferenceClosed      MessageType = "conferenceClosed"
	TypeLeave                 MessageType = "leave"
	TypeTerminateConf         MessageType = "terminateConf"
	TypePresenterInfo         MessageType = "presenterInfo"
	TypeGetParticipants       MessageType = "getParticipants"
	TypeGetParticipantsResult MessageType = "getParticipantsResult"
	TypeGetConferences        MessageType = "getConferences"
	TypeGetConferencesResult  MessageType = "getConferencesResult"
	TypeLoggedOff             MessageType = "loggedOff"
	TypeUnauthorized          MessageType = "unauthorized"
)

// Room orchestrator message types, client to server.
const (
	TypeRoomRegister             MessageType = "register"
	TypeTerminatePeer            MessageType = "terminatePeer"
	TypeCreateProducerTransport  MessageType = "createProducerTransport"
	TypeCreateConsumerTransport  MessageType = "createConsumerTransport"
	TypeConnectProducerTransport MessageType = "connectProducerTransport"
	TypeConnectConsumerTransport MessageType = "connectConsumerTransport"
	TypeRoomNew                  MessageType = "roomNew"
	TypeRoomJoin                 MessageType = "roomJoin"
	TypeRoomLeave                MessageType = "roomLeave"
	TypeRoomTerminate            MessageType = "roomTerminate"
	TypeProduce                  MessageType = "produce"
	TypeConsume                  MessageType = "consume"
)

// Room orchestrator message types, server to client.
const (
	TypeRoomRegisterResult       MessageType = "registerResult"
	TypeProducerTransportCreated MessageType = "producerTransportCreated"
	TypeConsumerTransportCreated MessageType = "consumerTransportCreated"
	TypeRoomNewResult            MessageType = "roomNewResult"
	TypeRoomJoinResult           MessageType = "roomJoinResult"
	TypeRoomLeft                 MessageType = "roomLeft"
	TypeRoomNewPeer              MessageType = "roomNewPeer"
	TypeRoomPeerLeft             MessageType = "roomPeerLeft"
	TypeRoomNewProducer          MessageType = "roomNewProducer"
	TypeRoomTerminated           MessageType = "roomTerminated"
	TypeProduced                 MessageType = "produced"
	TypeConsumed                 MessageType = "consumed"
	TypeError                    MessageType = "error"
)

// Message is the wire envelope shared by both protocols: one JSON object per
// frame, a type tag plus an opaque data payload decoded by the handler.
type Message struct {
	Type MessageType     `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// NewMessage marshals payload into a wire envelope.
func NewMessage(t MessageType, payload any) (Message, error) {
	if payload == nil {
		return Message{Type: t}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("marshal %s payload: %w", t, err)
	}
	return Message{Type: t, Data: data}, nil
}

// MustMessage is NewMessage for payloads built from local structs, where a
// marshal failure is a programming error.
func MustMessage(t MessageType, payload any) Message {
	msg, err := NewMessage(t, payload)
	if err != nil {
		panic(err)
	}
	return msg
}

// Decode unmarshals the envelope payload into out.
func (m Message) Decode(out any) error {
	if len(m.Data) == 0 {
		return fmt.Errorf("message %s has no payload", m.Type)
	}
	if err := json.Unmarshal(m.Data, out); err != nil {
		return fmt.Errorf("decode %s payload: %w", m.Type, err)
	}
	return nil
}

// Encode marshals the full envelope to a single frame.
func (m Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// ParseMessage decodes one frame into an envelope.
func ParseMessage(frame []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(frame, &msg); err != nil {
		return Message{}, fmt.Errorf("parse wire message: %w", err)
	}
	if msg.Type == "" {
		return Message{}, fmt.Errorf("wire message missing type")
	}
	return msg, nil
}
