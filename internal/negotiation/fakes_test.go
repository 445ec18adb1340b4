package negotiation

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/BioHazard786/Pairline/internal/media"
	"github.com/BioHazard786/Pairline/internal/transport"
	"github.com/pion/webrtc/v4"
)

// fakePeer records every call in order.
type fakePeer struct {
	mu      sync.Mutex
	ops     []string
	sdps    []string
	control [][]byte
	closed  atomic.Int32

	emit      func(PeerEvent)
	offerErr  error
	remoteErr error
}

func (p *fakePeer) record(op string) {
	p.mu.Lock()
	p.ops = append(p.ops, op)
	p.mu.Unlock()
}

func (p *fakePeer) Ops() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.ops...)
}

func (p *fakePeer) RemoteSDPs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.sdps...)
}

func (p *fakePeer) Control() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]byte(nil), p.control...)
}

func (p *fakePeer) AddTrack(track webrtc.TrackLocal) error {
	p.record("add-track:" + track.Kind().String())
	return nil
}

func (p *fakePeer) CreateOffer() (webrtc.SessionDescription, error) {
	p.record("create-offer")
	if p.offerErr != nil {
		return webrtc.SessionDescription{}, p.offerErr
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "offer-sdp"}, nil
}

func (p *fakePeer) CreateAnswer() (webrtc.SessionDescription, error) {
	p.record("create-answer")
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer-sdp"}, nil
}

func (p *fakePeer) SetRemoteDescription(desc webrtc.SessionDescription) error {
	p.record("set-remote:" + desc.Type.String())
	p.mu.Lock()
	p.sdps = append(p.sdps, desc.SDP)
	p.mu.Unlock()
	return p.remoteErr
}

func (p *fakePeer) AddICECandidate(c webrtc.ICECandidateInit) error {
	p.record("add-ice:" + c.Candidate)
	return nil
}

func (p *fakePeer) SendControl(data []byte) error {
	p.mu.Lock()
	p.control = append(p.control, data)
	p.mu.Unlock()
	return nil
}

func (p *fakePeer) Close() error {
	p.closed.Add(1)
	return nil
}

type fakeFactory struct {
	mu      sync.Mutex
	peer    *fakePeer
	created atomic.Int32
	err     error
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{peer: &fakePeer{}}
}

func (f *fakeFactory) NewPeer(_ Role, emit func(PeerEvent)) (PeerConnection, error) {
	f.created.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	f.mu.Lock()
	f.peer.emit = emit
	f.mu.Unlock()
	return f.peer, nil
}

// Emit injects a peer callback as pion would.
func (f *fakeFactory) Emit(ev PeerEvent) {
	f.mu.Lock()
	emit := f.peer.emit
	f.mu.Unlock()
	emit(ev)
}

type fakeTrack struct {
	webrtc.TrackLocal
	kind webrtc.RTPCodecType
}

func (t fakeTrack) Kind() webrtc.RTPCodecType { return t.kind }

type fakeStream struct {
	audio, video atomic.Bool
	closed       atomic.Int32
}

func (s *fakeStream) Tracks() []webrtc.TrackLocal {
	return []webrtc.TrackLocal{fakeTrack{kind: webrtc.RTPCodecTypeAudio}, fakeTrack{kind: webrtc.RTPCodecTypeVideo}}
}

func (s *fakeStream) SetAudioEnabled(v bool) { s.audio.Store(v) }
func (s *fakeStream) SetVideoEnabled(v bool) { s.video.Store(v) }
func (s *fakeStream) AudioEnabled() bool     { return s.audio.Load() }
func (s *fakeStream) VideoEnabled() bool     { return s.video.Load() }

func (s *fakeStream) Close() error {
	s.closed.Add(1)
	return nil
}

type fakeCapturer struct {
	stream   *fakeStream
	captures atomic.Int32
}

func newFakeCapturer() *fakeCapturer {
	s := &fakeStream{}
	s.audio.Store(true)
	s.video.Store(true)
	return &fakeCapturer{stream: s}
}

func (c *fakeCapturer) Capture(context.Context) (media.Stream, error) {
	c.captures.Add(1)
	return c.stream, nil
}

// countingSession counts Close calls on a wrapped session.
type countingSession struct {
	transport.Session
	closed atomic.Int32
}

func (s *countingSession) Close() error {
	s.closed.Add(1)
	return s.Session.Close()
}

// failingSession fails every publish.
type failingSession struct {
	attempts atomic.Int32
	closed   atomic.Int32
	done     chan struct{}
}

func (s *failingSession) Publish(context.Context, transport.Message) error {
	s.attempts.Add(1)
	return errors.New("broker unreachable")
}

func (s *failingSession) OnReceive(func(transport.Message)) {}

func (s *failingSession) Done() <-chan struct{} { return s.done }

func (s *failingSession) Close() error {
	s.closed.Add(1)
	return nil
}
