package negotiation

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/BioHazard786/Pairline/internal/utils"
	"github.com/pion/ice/v4"
	"github.com/pion/webrtc/v4"
)

// PeerConnection is the part of a WebRTC peer connection the engine drives.
type PeerConnection interface {
	AddTrack(track webrtc.TrackLocal) error
	// CreateOffer creates an offer and applies it as the local description.
	CreateOffer() (webrtc.SessionDescription, error)
	// CreateAnswer creates an answer and applies it as the local description.
	CreateAnswer() (webrtc.SessionDescription, error)
	SetRemoteDescription(desc webrtc.SessionDescription) error
	AddICECandidate(candidate webrtc.ICECandidateInit) error
	SendControl(data []byte) error
	Close() error
}

// PeerEventKind identifies a PeerEvent.
type PeerEventKind int

const (
	PeerCandidate PeerEventKind = iota
	PeerStateChange
	PeerControlOpen
	PeerControlMessage
	PeerRemoteTrack
)

// PeerEvent is a callback from the peer connection, forwarded to the engine
// loop.
type PeerEvent struct {
	Kind      PeerEventKind
	Candidate *webrtc.ICECandidateInit
	State     webrtc.PeerConnectionState
	Data      []byte
	TrackKind webrtc.RTPCodecType
}

// PeerFactory creates peer connections. emit must be safe to call from any
// goroutine.
type PeerFactory interface {
	NewPeer(role Role, emit func(PeerEvent)) (PeerConnection, error)
}

// ICEConfig lists the ICE servers and relay policy for calls.
type ICEConfig struct {
	STUNServers  []string
	TURNServers  []string
	TURNUsername string
	TURNPassword string

	// ForceRelay restricts candidates to TURN relays.
	ForceRelay bool
	// AutoRelay forces relay when the host looks like it is behind a VPN or
	// CGNAT.
	AutoRelay bool
}

var detectRestrictedNetwork = utils.ShouldForceRelay

// Configuration builds the pion configuration. Relay policy only applies
// when a TURN server is configured.
func (c ICEConfig) Configuration() webrtc.Configuration {
	var servers []webrtc.ICEServer
	if len(c.STUNServers) > 0 {
		servers = append(servers, webrtc.ICEServer{URLs: c.STUNServers})
	}
	if len(c.TURNServers) > 0 {
		servers = append(servers, webrtc.ICEServer{
			URLs:       c.TURNServers,
			Username:   c.TURNUsername,
			Credential: c.TURNPassword,
		})
	}

	policy := webrtc.ICETransportPolicyAll
	if len(c.TURNServers) > 0 && (c.ForceRelay || (c.AutoRelay && detectRestrictedNetwork())) {
		policy = webrtc.ICETransportPolicyRelay
	}

	return webrtc.Configuration{
		ICEServers:         servers,
		ICETransportPolicy: policy,
	}
}

// PionFactory creates pion peer connections sharing one API instance.
type PionFactory struct {
	api    *webrtc.API
	config webrtc.Configuration
}

// NewPionFactory registers the default codecs and enables mDNS candidates
// so peers on the same LAN can connect without STUN.
func NewPionFactory(cfg ICEConfig) (*PionFactory, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("failed to register codecs: %w", err)
	}

	settings := webrtc.SettingEngine{}
	settings.SetICEMulticastDNSMode(ice.MulticastDNSModeQueryAndGather)

	api := webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithSettingEngine(settings))
	config := cfg.Configuration()
	slog.Debug("peer configuration", "ice_servers", len(config.ICEServers), "relay_only", config.ICETransportPolicy == webrtc.ICETransportPolicyRelay)
	return &PionFactory{api: api, config: config}, nil
}

func (f *PionFactory) NewPeer(role Role, emit func(PeerEvent)) (PeerConnection, error) {
	pc, err := f.api.NewPeerConnection(f.config)
	if err != nil {
		return nil, NewError("create peer connection", err)
	}

	p := &pionPeer{pc: pc, emit: emit}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		init := c.ToJSON()
		emit(PeerEvent{Kind: PeerCandidate, Candidate: &init})
	})
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		emit(PeerEvent{Kind: PeerStateChange, State: s})
	})
	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		emit(PeerEvent{Kind: PeerRemoteTrack, TrackKind: track.Kind()})
		go discardRTP(track)
	})

	if role == Initiator {
		ordered := true
		dc, err := pc.CreateDataChannel(controlLabel, &webrtc.DataChannelInit{Ordered: &ordered})
		if err != nil {
			pc.Close()
			return nil, NewError("create data channel", err)
		}
		p.attach(dc)
	} else {
		pc.OnDataChannel(func(dc *webrtc.DataChannel) {
			if dc.Label() == controlLabel {
				p.attach(dc)
			}
		})
	}

	return p, nil
}

type pionPeer struct {
	pc   *webrtc.PeerConnection
	emit func(PeerEvent)

	mu      sync.Mutex
	control *webrtc.DataChannel
}

func (p *pionPeer) attach(dc *webrtc.DataChannel) {
	p.mu.Lock()
	p.control = dc
	p.mu.Unlock()

	dc.OnOpen(func() {
		p.emit(PeerEvent{Kind: PeerControlOpen})
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		p.emit(PeerEvent{Kind: PeerControlMessage, Data: msg.Data})
	})
}

func (p *pionPeer) AddTrack(track webrtc.TrackLocal) error {
	sender, err := p.pc.AddTrack(track)
	if err != nil {
		return NewError("add track", err)
	}
	// RTCP must be read for interceptors to work.
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()
	return nil
}

func (p *pionPeer) CreateOffer() (webrtc.SessionDescription, error) {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, NewError("create offer", err)
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, NewError("set local description", err)
	}
	return *p.pc.LocalDescription(), nil
}

func (p *pionPeer) CreateAnswer() (webrtc.SessionDescription, error) {
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, NewError("create answer", err)
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, NewError("set local description", err)
	}
	return *p.pc.LocalDescription(), nil
}

func (p *pionPeer) SetRemoteDescription(desc webrtc.SessionDescription) error {
	if err := p.pc.SetRemoteDescription(desc); err != nil {
		return NewError("set remote description", err)
	}
	return nil
}

func (p *pionPeer) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	if err := p.pc.AddICECandidate(candidate); err != nil {
		return NewError("add ICE candidate", err)
	}
	return nil
}

func (p *pionPeer) SendControl(data []byte) error {
	p.mu.Lock()
	dc := p.control
	p.mu.Unlock()

	if dc == nil || dc.ReadyState() != webrtc.DataChannelStateOpen {
		return ErrControlNotOpen
	}
	return dc.Send(data)
}

func (p *pionPeer) Close() error {
	return p.pc.Close()
}

func discardRTP(track *webrtc.TrackRemote) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := track.Read(buf); err != nil {
			return
		}
	}
}
