package stream

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
)

// ControlChannel is the ordered data channel used to stream generation
// parameters to the backend.
type ControlChannel interface {
	Send(data []byte) error
	IsOpen() bool
	OnMessage(fn func(data []byte))
	OnError(fn func(err error))
	Close() error
}

// PeerSession abstracts the media peer so the state machine can be
// exercised without a live WebRTC stack.
type PeerSession interface {
	// CreateControlChannel must be called before CreateOffer so the
	// channel is negotiated in the SDP.
	CreateControlChannel(label string) (ControlChannel, error)

	CreateOffer(ctx context.Context) (webrtc.SessionDescription, error)
	SetAnswer(answer webrtc.SessionDescription) error
	AddRemoteCandidate(candidate webrtc.ICECandidateInit) error

	OnLocalCandidate(fn func(webrtc.ICECandidateInit))
	OnFirstMedia(fn func())
	OnClosed(fn func(reason string))

	Close() error
}

// PeerFactory builds a PeerSession for one connection attempt.
type PeerFactory func(iceServers []webrtc.ICEServer) (PeerSession, error)

// mediaStallTimeout declares inbound media stalled when no RTP packet
// arrives for this long after the first one.
const mediaStallTimeout = 10 * time.Second

// pionPeer is the production PeerSession on pion/webrtc.
type pionPeer struct {
	pc     *webrtc.PeerConnection
	logger *slog.Logger

	mu          sync.Mutex
	closed      bool
	onCandidate func(webrtc.ICECandidateInit)
	onFirst     func()
	onClosed    func(reason string)
	firstSeen   bool
	lastPacket  time.Time
}

// NewPionPeer creates a recvonly video peer with the given ICE servers.
func NewPionPeer(iceServers []webrtc.ICEServer) (PeerSession, error) {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers})
	if err != nil {
		return nil, fmt.Errorf("stream: create peer connection: %w", err)
	}

	p := &pionPeer{
		pc:     pc,
		logger: slog.Default().With("component", "stream.peer"),
	}

	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		pc.Close()
		return nil, fmt.Errorf("stream: add video transceiver: %w", err)
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		p.mu.Lock()
		fn := p.onCandidate
		p.mu.Unlock()
		if fn != nil {
			fn(c.ToJSON())
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		p.logger.Debug("track received", "kind", track.Kind().String(), "codec", track.Codec().MimeType)
		if track.Kind() == webrtc.RTPCodecTypeVideo {
			go p.readMedia(track)
		}
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		p.logger.Debug("connection state", "state", state.String())
		switch state {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateDisconnected,
			webrtc.PeerConnectionStateClosed:
			p.notifyClosed("peer connection " + state.String())
		}
	})

	return p, nil
}

// readMedia drains RTP from the inbound track. The first packet fires
// the first-media callback; a long gap afterwards counts as a stall.
func (p *pionPeer) readMedia(track *webrtc.TrackRemote) {
	var pkt *rtp.Packet
	var err error
	for {
		pkt, _, err = track.ReadRTP()
		if err != nil {
			return
		}
		_ = pkt

		p.mu.Lock()
		p.lastPacket = time.Now()
		first := !p.firstSeen
		p.firstSeen = true
		fn := p.onFirst
		p.mu.Unlock()

		if first {
			if fn != nil {
				fn()
			}
			go p.watchStall()
		}
	}
}

func (p *pionPeer) watchStall() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for range ticker.C {
		p.mu.Lock()
		closed := p.closed
		gap := time.Since(p.lastPacket)
		p.mu.Unlock()
		if closed {
			return
		}
		if gap > mediaStallTimeout {
			p.notifyClosed("inbound media stalled")
			return
		}
	}
}

func (p *pionPeer) notifyClosed(reason string) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	fn := p.onClosed
	p.mu.Unlock()
	if fn != nil {
		fn(reason)
	}
}

func (p *pionPeer) CreateControlChannel(label string) (ControlChannel, error) {
	ordered := true
	dc, err := p.pc.CreateDataChannel(label, &webrtc.DataChannelInit{Ordered: &ordered})
	if err != nil {
		return nil, fmt.Errorf("stream: create data channel: %w", err)
	}
	return newPionChannel(dc), nil
}

func (p *pionPeer) CreateOffer(ctx context.Context) (webrtc.SessionDescription, error) {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("stream: create offer: %w", err)
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("stream: set local description: %w", err)
	}
	return offer, nil
}

func (p *pionPeer) SetAnswer(answer webrtc.SessionDescription) error {
	if err := p.pc.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("stream: set remote description: %w", err)
	}
	return nil
}

func (p *pionPeer) AddRemoteCandidate(candidate webrtc.ICECandidateInit) error {
	return p.pc.AddICECandidate(candidate)
}

func (p *pionPeer) OnLocalCandidate(fn func(webrtc.ICECandidateInit)) {
	p.mu.Lock()
	p.onCandidate = fn
	p.mu.Unlock()
}

func (p *pionPeer) OnFirstMedia(fn func()) {
	p.mu.Lock()
	p.onFirst = fn
	p.mu.Unlock()
}

func (p *pionPeer) OnClosed(fn func(reason string)) {
	p.mu.Lock()
	p.onClosed = fn
	p.mu.Unlock()
}

func (p *pionPeer) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return p.pc.Close()
}

// pionChannel adapts *webrtc.DataChannel to ControlChannel.
type pionChannel struct {
	dc *webrtc.DataChannel

	mu   sync.Mutex
	open bool
}

func newPionChannel(dc *webrtc.DataChannel) *pionChannel {
	ch := &pionChannel{dc: dc}
	dc.OnOpen(func() {
		ch.mu.Lock()
		ch.open = true
		ch.mu.Unlock()
	})
	dc.OnClose(func() {
		ch.mu.Lock()
		ch.open = false
		ch.mu.Unlock()
	})
	return ch
}

func (ch *pionChannel) Send(data []byte) error {
	return ch.dc.Send(data)
}

func (ch *pionChannel) IsOpen() bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.open
}

func (ch *pionChannel) OnMessage(fn func(data []byte)) {
	ch.dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		fn(msg.Data)
	})
}

func (ch *pionChannel) OnError(fn func(err error)) {
	ch.dc.OnError(fn)
}

func (ch *pionChannel) Close() error {
	return ch.dc.Close()
}
