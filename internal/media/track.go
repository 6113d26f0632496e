package media

import (
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
)

type pionProducer struct {
	id       string
	kind     string
	receiver *webrtc.RTPReceiver

	closeOnce sync.Once
}

// Produce starts receiving the peer's outbound track on this transport.
// The caller supplies the RTP parameters it will send with; the receiver is
// programmed with the matching decoding parameters.
func (t *pionTransport) Produce(id, kind string, params webrtc.RTPSendParameters) (Producer, error) {
	codecType := webrtc.NewRTPCodecType(kind)
	if codecType == webrtc.RTPCodecType(0) {
		return nil, fmt.Errorf("unknown media kind %q", kind)
	}

	receiver, err := t.api.NewRTPReceiver(codecType, t.dtls)
	if err != nil {
		return nil, fmt.Errorf("new RTP receiver: %w", err)
	}

	recvParams := webrtc.RTPReceiveParameters{
		Encodings: make([]webrtc.RTPDecodingParameters, 0, len(params.Encodings)),
	}
	for _, enc := range params.Encodings {
		recvParams.Encodings = append(recvParams.Encodings, webrtc.RTPDecodingParameters{
			RTPCodingParameters: enc.RTPCodingParameters,
		})
	}
	if err := receiver.Receive(recvParams); err != nil {
		return nil, fmt.Errorf("start RTP receiver: %w", err)
	}

	return &pionProducer{id: id, kind: kind, receiver: receiver}, nil
}

func (p *pionProducer) ID() string   { return p.id }
func (p *pionProducer) Kind() string { return p.kind }

func (p *pionProducer) Close() error {
	var err error
	p.closeOnce.Do(func() {
		err = p.receiver.Stop()
	})
	return err
}

type pionConsumer struct {
	id         string
	kind       string
	producerID string
	sender     *webrtc.RTPSender
	params     webrtc.RTPSendParameters

	closeOnce sync.Once
}

// Consume forwards producer's inbound track out through this transport. The
// forwarding pump copies RTP packets until either side stops.
func (t *pionTransport) Consume(id string, producer Producer, caps webrtc.RTPCapabilities) (Consumer, error) {
	src, ok := producer.(*pionProducer)
	if !ok {
		return nil, fmt.Errorf("producer %s is not a media producer", producer.ID())
	}
	if !supportsKind(caps, src.kind) {
		return nil, fmt.Errorf("peer capabilities do not include %s", src.kind)
	}

	remote := src.receiver.Track()
	local, err := webrtc.NewTrackLocalStaticRTP(
		remote.Codec().RTPCodecCapability,
		fmt.Sprintf("%s-%s", src.id, remote.ID()),
		"relay",
	)
	if err != nil {
		return nil, fmt.Errorf("new local track: %w", err)
	}

	sender, err := t.api.NewRTPSender(local, t.dtls)
	if err != nil {
		return nil, fmt.Errorf("new RTP sender: %w", err)
	}
	params := sender.GetParameters()
	if err := sender.Send(params); err != nil {
		return nil, fmt.Errorf("start RTP sender: %w", err)
	}

	go func() {
		for {
			packet, _, readErr := remote.ReadRTP()
			if readErr != nil {
				return
			}
			if writeErr := local.WriteRTP(packet); writeErr != nil {
				return
			}
		}
	}()

	return &pionConsumer{
		id:         id,
		kind:       src.kind,
		producerID: src.id,
		sender:     sender,
		params:     params,
	}, nil
}

func (c *pionConsumer) ID() string                              { return c.id }
func (c *pionConsumer) Kind() string                            { return c.kind }
func (c *pionConsumer) ProducerID() string                      { return c.producerID }
func (c *pionConsumer) RtpParameters() webrtc.RTPSendParameters { return c.params }

func (c *pionConsumer) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.sender.Stop()
	})
	return err
}

func supportsKind(caps webrtc.RTPCapabilities, kind string) bool {
	if len(caps.Codecs) == 0 {
		return false
	}
	prefix := kind + "/"
	for _, codec := range caps.Codecs {
		if len(codec.MimeType) > len(prefix) && codec.MimeType[:len(prefix)] == prefix {
			return true
		}
	}
	return false
}
