package media

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
)

type pionTransport struct {
	id string

	gatherer *webrtc.ICEGatherer
	ice      *webrtc.ICETransport
	dtls     *webrtc.DTLSTransport
	api      *webrtc.API

	iceParams     webrtc.ICEParameters
	iceCandidates []webrtc.ICECandidate
	dtlsParams    webrtc.DTLSParameters

	closeOnce sync.Once
	closeErr  error
}

// NewTransport allocates a gatherer/ICE/DTLS stack and blocks until local
// candidate gathering finishes, so the created-parameters are complete.
func (e *pionEngine) NewTransport() (Transport, error) {
	gatherer, err := e.api.NewICEGatherer(webrtc.ICEGatherOptions{ICEServers: e.iceServers})
	if err != nil {
		return nil, fmt.Errorf("new ICE gatherer: %w", err)
	}

	ice := e.api.NewICETransport(gatherer)
	dtls, err := e.api.NewDTLSTransport(ice, nil)
	if err != nil {
		return nil, fmt.Errorf("new DTLS transport: %w", err)
	}

	gatherDone := make(chan struct{})
	gatherer.OnLocalCandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			close(gatherDone)
		}
	})
	if err := gatherer.Gather(); err != nil {
		return nil, fmt.Errorf("gather ICE candidates: %w", err)
	}
	<-gatherDone

	iceParams, err := gatherer.GetLocalParameters()
	if err != nil {
		return nil, fmt.Errorf("local ICE parameters: %w", err)
	}
	iceCandidates, err := gatherer.GetLocalCandidates()
	if err != nil {
		return nil, fmt.Errorf("local ICE candidates: %w", err)
	}
	dtlsParams, err := dtls.GetLocalParameters()
	if err != nil {
		return nil, fmt.Errorf("local DTLS parameters: %w", err)
	}

	return &pionTransport{
		id:            uuid.New().String(),
		gatherer:      gatherer,
		ice:           ice,
		dtls:          dtls,
		api:           e.api,
		iceParams:     iceParams,
		iceCandidates: iceCandidates,
		dtlsParams:    dtlsParams,
	}, nil
}

func (t *pionTransport) ID() string                            { return t.id }
func (t *pionTransport) ICEParameters() webrtc.ICEParameters   { return t.iceParams }
func (t *pionTransport) ICECandidates() []webrtc.ICECandidate  { return t.iceCandidates }
func (t *pionTransport) DTLSParameters() webrtc.DTLSParameters { return t.dtlsParams }

// Connect completes the ICE and DTLS handshakes with the remote side's
// parameters. The server side is always the controlled ICE agent.
func (t *pionTransport) Connect(remoteICE webrtc.ICEParameters, remoteCandidates []webrtc.ICECandidate, remoteDTLS webrtc.DTLSParameters) error {
	if err := t.ice.SetRemoteCandidates(remoteCandidates); err != nil {
		return fmt.Errorf("set remote candidates: %w", err)
	}
	role := webrtc.ICERoleControlled
	if err := t.ice.Start(nil, remoteICE, &role); err != nil {
		return fmt.Errorf("start ICE: %w", err)
	}
	if err := t.dtls.Start(remoteDTLS); err != nil {
		return fmt.Errorf("start DTLS: %w", err)
	}
	return nil
}

func (t *pionTransport) Close() error {
	t.closeOnce.Do(func() {
		if err := t.dtls.Stop(); err != nil {
			t.closeErr = err
		}
		if err := t.ice.Stop(); err != nil && t.closeErr == nil {
			t.closeErr = err
		}
	})
	return t.closeErr
}
