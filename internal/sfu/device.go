package sfu

import (
	"github.com/pion/webrtc/v4"

	"github.com/mossy-p/webrtc-conference/internal/protocol"
)

// Device is the local media engine behind the bridge: it owns the
// client-side transports, the captured tracks and the decoders. It is an
// external collaborator; the bridge only orchestrates the wire protocol
// around it.
type Device interface {
	// Load primes the device with the router's capabilities. Idempotent.
	Load(routerCaps webrtc.RTPCapabilities) error

	// RtpCapabilities reports what the loaded device can consume.
	RtpCapabilities() webrtc.RTPCapabilities

	// ConnectInfo derives the local handshake parameters for the
	// transport the server just created. producing selects the send or
	// receive side.
	ConnectInfo(created protocol.TransportCreated, producing bool) (protocol.ConnectTransport, error)

	// Tracks acquires the local media tracks to publish. Called lazily on
	// room join; repeated calls return the already-acquired tracks.
	Tracks() ([]Track, error)

	// Consume materializes a remote track from consumer parameters.
	Consume(consumed protocol.Consumed) (Track, error)
}

// Track is one local or remote media track handle.
type Track interface {
	ID() string
	Kind() string
	SendParameters() webrtc.RTPSendParameters
	Stop()
}
