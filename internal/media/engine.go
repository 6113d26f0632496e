// Package media wraps the pion/webrtc ORTC API behind the narrow engine
// surface the orchestrator needs: per-peer ICE/DTLS transports, producers
// (inbound RTP receivers) and consumers (outbound RTP senders forwarding a
// producer's track). Codec negotiation internals stay inside pion.
package media

import (
	"fmt"
	"log"

	"github.com/pion/logging"
	"github.com/pion/webrtc/v4"
)

// Engine creates transports and reports the router's RTP capabilities.
type Engine interface {
	RtpCapabilities() webrtc.RTPCapabilities
	NewTransport() (Transport, error)
}

// Transport is one ICE/DTLS-negotiated channel, one direction per peer.
type Transport interface {
	ID() string
	ICEParameters() webrtc.ICEParameters
	ICECandidates() []webrtc.ICECandidate
	DTLSParameters() webrtc.DTLSParameters
	Connect(remoteICE webrtc.ICEParameters, remoteCandidates []webrtc.ICECandidate, remoteDTLS webrtc.DTLSParameters) error
	Produce(id, kind string, params webrtc.RTPSendParameters) (Producer, error)
	Consume(id string, producer Producer, caps webrtc.RTPCapabilities) (Consumer, error)
	Close() error
}

// Producer is an inbound media track handle.
type Producer interface {
	ID() string
	Kind() string
	Close() error
}

// Consumer is an outbound media track handle bound to one producer.
type Consumer interface {
	ID() string
	Kind() string
	ProducerID() string
	RtpParameters() webrtc.RTPSendParameters
	Close() error
}

// Config tunes the underlying webrtc API.
type Config struct {
	UDPPortMin uint16
	UDPPortMax uint16
	ICEServers []string
}

type pionEngine struct {
	api        *webrtc.API
	iceServers []webrtc.ICEServer
	caps       webrtc.RTPCapabilities
}

// NewEngine builds a pion-backed engine with default codecs registered.
func NewEngine(cfg Config) (Engine, error) {
	settingEngine := webrtc.SettingEngine{
		LoggerFactory: logging.NewDefaultLoggerFactory(),
	}
	if cfg.UDPPortMin > 0 && cfg.UDPPortMax >= cfg.UDPPortMin {
		if err := settingEngine.SetEphemeralUDPPortRange(cfg.UDPPortMin, cfg.UDPPortMax); err != nil {
			log.Printf("failed setting UDP port range (%d-%d): %v", cfg.UDPPortMin, cfg.UDPPortMax, err)
		}
	}

	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	iceServers := make([]webrtc.ICEServer, 0, len(cfg.ICEServers))
	for _, url := range cfg.ICEServers {
		iceServers = append(iceServers, webrtc.ICEServer{URLs: []string{url}})
	}

	return &pionEngine{
		api: webrtc.NewAPI(
			webrtc.WithMediaEngine(mediaEngine),
			webrtc.WithSettingEngine(settingEngine),
		),
		iceServers: iceServers,
		caps:       routerCapabilities(),
	}, nil
}

func (e *pionEngine) RtpCapabilities() webrtc.RTPCapabilities {
	return e.caps
}

// routerCapabilities lists the codecs the relay forwards. Forwarding is
// codec-agnostic; this set only constrains what clients may produce.
func routerCapabilities() webrtc.RTPCapabilities {
	return webrtc.RTPCapabilities{
		Codecs: []webrtc.RTPCodecCapability{
			{
				MimeType:  webrtc.MimeTypeOpus,
				ClockRate: 48000,
				Channels:  2,
			},
			{
				MimeType:  webrtc.MimeTypeVP8,
				ClockRate: 90000,
			},
		},
	}
}
