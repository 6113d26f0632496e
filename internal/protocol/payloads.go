package protocol

import (
	"github.com/pion/webrtc/v4"
)

// ---- signaling gateway payloads ----

type Register struct {
	DisplayName string `json:"displayName"`
}

type RegisterResult struct {
	ParticipantID string `json:"participantId,omitempty"`
	Role          string `json:"role,omitempty"`
	Error         string `json:"error,omitempty"`
}

type Invite struct {
	ParticipantID string `json:"participantId"`
	DisplayName   string `json:"displayName,omitempty"`
	ConferenceID  string `json:"conferenceId,omitempty"`
}

type InviteResult struct {
	ConferenceID   string `json:"conferenceId,omitempty"`
	ConferenceType string `json:"conferenceType,omitempty"`
	ParticipantID  string `json:"participantId,omitempty"`
	Error          string `json:"error,omitempty"`
}

type Reject struct {
	ConferenceID  string `json:"conferenceId"`
	ParticipantID string `json:"participantId"`
}

type InviteCancelled struct {
	ConferenceID string `json:"conferenceId"`
}

type Accept struct {
	ConferenceID  string `json:"conferenceId"`
	ParticipantID string `json:"participantId"`
}

type AcceptResult struct {
	ConferenceID string `json:"conferenceId,omitempty"`
	Error        string `json:"error,omitempty"`
}

type CreateConf struct {
	ExternalID     string         `json:"externalId,omitempty"`
	RoomName       string         `json:"roomName,omitempty"`
	ConferenceCode string         `json:"conferenceCode,omitempty"`
	Config         ConferenceConf `json:"config"`
}

type CreateConfResult struct {
	ConferenceID   string `json:"conferenceId,omitempty"`
	ConferenceCode string `json:"conferenceCode,omitempty"`
	Error          string `json:"error,omitempty"`
}

type JoinConf struct {
	ConferenceID   string `json:"conferenceId,omitempty"`
	ConferenceCode string `json:"conferenceCode,omitempty"`
}

type JoinConfResult struct {
	ConferenceID string `json:"conferenceId,omitempty"`
	LeaderID     string `json:"leaderId,omitempty"`
	PresenterID  string `json:"presenterId,omitempty"`
	Error        string `json:"error,omitempty"`
}

// ConferenceConf carries tunables agreed at conference creation time.
type ConferenceConf struct {
	MaxParticipants int  `json:"maxParticipants,omitempty"`
	AudioOnly       bool `json:"audioOnly,omitempty"`
}

type ConferenceReady struct {
	ConferenceID        string                 `json:"conferenceId"`
	RoomID              string                 `json:"roomId"`
	RoomToken           string                 `json:"roomToken"`
	RoomURI             string                 `json:"roomURI"`
	RoomAuthToken       string                 `json:"roomAuthToken,omitempty"`
	RoomRtpCapabilities webrtc.RTPCapabilities `json:"roomRtpCapabilities"`
	LeaderID            string                 `json:"leaderId,omitempty"`
	PresenterID         string                 `json:"presenterId,omitempty"`
	ConferenceConfig    ConferenceConf         `json:"conferenceConfig"`
}

type ConferenceClosed struct {
	ConferenceID string `json:"conferenceId"`
	Reason       string `json:"reason,omitempty"`
}

type Leave struct {
	ConferenceID string `json:"conferenceId,omitempty"`
}

type TerminateConf struct {
	ConferenceID string `json:"conferenceId"`
}

type PresenterInfo struct {
	ConferenceID  string `json:"conferenceId,omitempty"`
	ParticipantID string `json:"participantId,omitempty"`
	Status        string `json:"status"` // "on" | "off"
}

type ParticipantInfo struct {
	ParticipantID string `json:"participantId"`
	DisplayName   string `json:"displayName"`
	Role          string `json:"role"`
	PeerID        string `json:"peerId,omitempty"`
}

type GetParticipantsResult struct {
	Participants []ParticipantInfo `json:"participants"`
	Error        string            `json:"error,omitempty"`
}

type ConferenceInfo struct {
	ConferenceID   string `json:"conferenceId"`
	ConferenceType string `json:"conferenceType"`
	RoomName       string `json:"roomName,omitempty"`
	Participants   int    `json:"participants"`
}

type GetConferencesResult struct {
	Conferences []ConferenceInfo `json:"conferences"`
	Error       string           `json:"error,omitempty"`
}

type LoggedOff struct {
	Reason string `json:"reason,omitempty"`
}

// ---- room orchestrator payloads ----

type RoomRegister struct {
	TrackingID  string `json:"trackingId"`
	DisplayName string `json:"displayName,omitempty"`
}

type RoomRegisterResult struct {
	PeerID          string                 `json:"peerId,omitempty"`
	TrackingID      string                 `json:"trackingId,omitempty"`
	RtpCapabilities webrtc.RTPCapabilities `json:"rtpCapabilities"`
	Error           string                 `json:"error,omitempty"`
}

type RoomNew struct {
	RoomID    string `json:"roomId,omitempty"`
	RoomToken string `json:"roomToken,omitempty"`
	MaxPeers  int    `json:"maxPeers,omitempty"`
}

type RoomNewResult struct {
	RoomID    string `json:"roomId,omitempty"`
	RoomToken string `json:"roomToken,omitempty"`
	Error     string `json:"error,omitempty"`
}

type RoomJoin struct {
	RoomToken string `json:"roomToken"`
}

// ProducerSummary advertises an already-active producer to joining peers.
type ProducerSummary struct {
	ProducerID string `json:"producerId"`
	Kind       string `json:"kind"`
}

type RoomPeerSummary struct {
	PeerID     string            `json:"peerId"`
	TrackingID string            `json:"trackingId"`
	Producers  []ProducerSummary `json:"producers"`
}

type RoomJoinResult struct {
	RoomID string            `json:"roomId,omitempty"`
	Peers  []RoomPeerSummary `json:"peers"`
	Error  string            `json:"error,omitempty"`
}

type RoomNewPeer struct {
	PeerID     string            `json:"peerId"`
	TrackingID string            `json:"trackingId"`
	Producers  []ProducerSummary `json:"producers"`
}

type RoomPeerLeft struct {
	PeerID     string `json:"peerId"`
	TrackingID string `json:"trackingId"`
}

type RoomNewProducer struct {
	PeerID     string `json:"peerId"`
	ProducerID string `json:"producerId"`
	Kind       string `json:"kind"`
}

type RoomTerminate struct {
	RoomID string `json:"roomId"`
}

type RoomTerminated struct {
	RoomID string `json:"roomId"`
	Reason string `json:"reason,omitempty"`
}

type TransportCreated struct {
	TransportID    string                `json:"transportId,omitempty"`
	ICEParameters  webrtc.ICEParameters  `json:"iceParameters"`
	ICECandidates  []webrtc.ICECandidate `json:"iceCandidates"`
	DTLSParameters webrtc.DTLSParameters `json:"dtlsParameters"`
	Error          string                `json:"error,omitempty"`
}

type ConnectTransport struct {
	DTLSParameters webrtc.DTLSParameters `json:"dtlsParameters"`
	ICEParameters  webrtc.ICEParameters  `json:"iceParameters"`
	ICECandidates  []webrtc.ICECandidate `json:"iceCandidates"`
}

type Produce struct {
	Kind          string                   `json:"kind"`
	RtpParameters webrtc.RTPSendParameters `json:"rtpParameters"`
}

type Produced struct {
	ProducerID string `json:"producerId,omitempty"`
	Kind       string `json:"kind,omitempty"`
	Error      string `json:"error,omitempty"`
}

type Consume struct {
	RemotePeerID    string                 `json:"remotePeerId"`
	ProducerID      string                 `json:"producerId"`
	RtpCapabilities webrtc.RTPCapabilities `json:"rtpCapabilities"`
}

type Consumed struct {
	ConsumerID    string                   `json:"consumerId,omitempty"`
	ProducerID    string                   `json:"producerId,omitempty"`
	PeerID        string                   `json:"peerId,omitempty"`
	Kind          string                   `json:"kind,omitempty"`
	RtpParameters webrtc.RTPSendParameters `json:"rtpParameters"`
	Error         string                   `json:"error,omitempty"`
}

type ErrorPayload struct {
	Error string `json:"error"`
}
