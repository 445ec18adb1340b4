// Package negotiation drives the WebRTC offer/answer/ICE exchange for one
// call, from local media capture to an established peer connection.
package negotiation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BioHazard786/Pairline/internal/media"
	"github.com/BioHazard786/Pairline/internal/transport"
	"github.com/pion/webrtc/v4"
)

const (
	DefaultSettleDelay           = 1500 * time.Millisecond
	DefaultResponderDelay        = 500 * time.Millisecond
	DefaultTransportFailureLimit = 3
	DefaultOfferRetryInterval    = 2 * time.Second
	DefaultNegotiationTimeout    = 30 * time.Second

	inboundBuffer  = 64
	eventBuffer    = 64
	commandBuffer  = 8
	updatesBuffer  = 16
	publishBackoff = 200 * time.Millisecond
	byeTimeout     = 2 * time.Second
)

// Config parameterizes one Engine. Durations are used as given; use
// DefaultConfig for the standard timings.
type Config struct {
	RoomID        string
	ParticipantID string
	Role          Role

	// SettleDelay is how long the initiator waits after capture before
	// creating the offer, giving the responder time to subscribe.
	SettleDelay time.Duration
	// ResponderDelay postpones the responder's capture.
	ResponderDelay time.Duration
	// TransportFailureLimit consecutive publish failures end the call.
	TransportFailureLimit int
	// OfferRetryInterval is how often the initiator re-publishes its offer
	// and gathered candidates while no answer has arrived. The responder
	// may subscribe after the first offer went out. Zero disables it.
	OfferRetryInterval time.Duration
	// NegotiationTimeout ends a call that has not connected in time. Zero
	// disables it.
	NegotiationTimeout time.Duration

	// StartMuted disables the given tracks as soon as they are captured.
	StartMuted MediaState
}

// DefaultConfig returns a Config with the standard timings.
func DefaultConfig(roomID, participantID string, role Role) Config {
	return Config{
		RoomID:                roomID,
		ParticipantID:         participantID,
		Role:                  role,
		SettleDelay:           DefaultSettleDelay,
		ResponderDelay:        DefaultResponderDelay,
		TransportFailureLimit: DefaultTransportFailureLimit,
		OfferRetryInterval:    DefaultOfferRetryInterval,
		NegotiationTimeout:    DefaultNegotiationTimeout,
	}
}

type commandKind int

const (
	cmdHangup commandKind = iota
	cmdDeactivate
	cmdAudio
	cmdVideo
)

type command struct {
	kind    commandKind
	enabled bool
}

// Engine negotiates a single call. It exclusively owns the signaling
// session, the captured stream and the peer connection, and releases all
// three exactly once when Run returns.
type Engine struct {
	cfg      Config
	session  transport.Session
	capturer media.Capturer
	peers    PeerFactory

	inbound  chan transport.Message
	events   chan PeerEvent
	commands chan command
	updates  chan Status
	done     chan struct{}
	running  atomic.Bool

	mu   sync.Mutex
	last Status

	// Owned by the Run goroutine.
	phase           Phase
	peer            PeerConnection
	stream          media.Stream
	pendingOffer    *transport.Message
	localOffer      string
	localCandidates []webrtc.ICECandidateInit
	pending         []webrtc.ICECandidateInit
	seen            map[string]struct{}
	remoteSet       bool
	peerConnected   bool
	controlOpen     bool
	muted           MediaState
	publishFailures int
	remoteMedia     MediaState
	err             error
	teardownOnce    sync.Once
}

// New creates an Engine for session. Run starts it.
func New(cfg Config, session transport.Session, capturer media.Capturer, peers PeerFactory) *Engine {
	if cfg.TransportFailureLimit <= 0 {
		cfg.TransportFailureLimit = DefaultTransportFailureLimit
	}
	return &Engine{
		cfg:      cfg,
		session:  session,
		capturer: capturer,
		peers:    peers,
		inbound:  make(chan transport.Message, inboundBuffer),
		events:   make(chan PeerEvent, eventBuffer),
		commands: make(chan command, commandBuffer),
		updates:  make(chan Status, updatesBuffer),
		done:     make(chan struct{}),
		seen:     make(map[string]struct{}),
		muted:    cfg.StartMuted,
		last:     Status{Phase: Idle, Label: Idle.Label()},
	}
}

// Updates delivers status snapshots. Slow readers only miss intermediate
// snapshots; the channel is closed after the final Disconnected status.
func (e *Engine) Updates() <-chan Status {
	return e.updates
}

// Status returns the latest snapshot.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.last
}

// Hangup ends the call and tells the peer.
func (e *Engine) Hangup() { e.command(command{kind: cmdHangup}) }

// Deactivate ends the call because the room was closed.
func (e *Engine) Deactivate() { e.command(command{kind: cmdDeactivate}) }

// SetAudioEnabled mutes or unmutes the local audio track.
func (e *Engine) SetAudioEnabled(enabled bool) { e.command(command{kind: cmdAudio, enabled: enabled}) }

// SetVideoEnabled turns the local video track on or off.
func (e *Engine) SetVideoEnabled(enabled bool) { e.command(command{kind: cmdVideo, enabled: enabled}) }

func (e *Engine) command(c command) {
	select {
	case e.commands <- c:
	case <-e.done:
	}
}

// Run negotiates until the call ends and returns why it ended: nil after a
// local hang-up, ErrPeerLeft, ErrRoomClosed, the context error, or a
// *CallError.
func (e *Engine) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer func() {
		close(e.done)
		e.teardown()
		close(e.updates)
	}()

	slog.Info("negotiation started", "room_id", e.cfg.RoomID, "role", e.cfg.Role)
	e.session.OnReceive(e.receive)
	e.setPhase(CapturingMedia)

	var deadline <-chan time.Time
	if e.cfg.NegotiationTimeout > 0 {
		timer := time.NewTimer(e.cfg.NegotiationTimeout)
		defer timer.Stop()
		deadline = timer.C
	}
	sessionDone := e.session.Done()

	var settle, start, reoffer <-chan time.Time
	if e.cfg.Role == Initiator {
		if e.prepare(ctx) {
			settle = time.After(e.cfg.SettleDelay)
		}
	} else {
		start = time.After(e.cfg.ResponderDelay)
	}

	for e.phase != Disconnected {
		select {
		case <-ctx.Done():
			e.finish(ctx.Err())

		case <-start:
			start = nil
			if !e.prepare(ctx) {
				continue
			}
			e.setPhase(AwaitingOffer)
			if offer := e.pendingOffer; offer != nil {
				e.pendingOffer = nil
				e.acceptOffer(ctx, *offer)
			}

		case <-settle:
			settle = nil
			e.sendOffer(ctx)
			reoffer = e.offerRetry()

		case <-reoffer:
			reoffer = nil
			if e.phase == AwaitingAnswer {
				e.resendOffer(ctx)
				reoffer = e.offerRetry()
			}

		case <-deadline:
			deadline = nil
			if e.phase != Connected {
				e.fail(WrapError("negotiate", ErrTimeout, e.phase.String()))
			}

		case <-sessionDone:
			sessionDone = nil
			if e.phase == Connected {
				// Media flows peer to peer; the room watcher and the peer
				// connection state still end the call.
				slog.Warn("signaling session lost during call", "room_id", e.cfg.RoomID)
				continue
			}
			e.fail(WrapError("signaling", ErrTransport, "session closed"))

		case m := <-e.inbound:
			e.handleMessage(ctx, m)

		case ev := <-e.events:
			e.handlePeerEvent(ctx, ev)

		case c := <-e.commands:
			e.handleCommand(ctx, c)
		}
	}

	return e.err
}

// receive runs on the transport's goroutine.
func (e *Engine) receive(m transport.Message) {
	select {
	case e.inbound <- m:
	case <-e.done:
	}
}

// emitPeer runs on pion's goroutines.
func (e *Engine) emitPeer(ev PeerEvent) {
	select {
	case e.events <- ev:
	case <-e.done:
	}
}

// prepare captures media and creates the peer connection with the local
// tracks attached.
func (e *Engine) prepare(ctx context.Context) bool {
	stream, err := e.capturer.Capture(ctx)
	if err != nil {
		if ctx.Err() != nil {
			e.finish(ctx.Err())
			return false
		}
		e.fail(&CallError{Op: "capture media", Err: fmt.Errorf("%w: %w", ErrCaptureFailed, err)})
		return false
	}
	e.stream = stream
	if e.muted.Audio {
		stream.SetAudioEnabled(false)
	}
	if e.muted.Video {
		stream.SetVideoEnabled(false)
	}

	peer, err := e.peers.NewPeer(e.cfg.Role, e.emitPeer)
	if err != nil {
		e.fail(&CallError{Op: "create peer connection", Err: fmt.Errorf("%w: %w", ErrNegotiationFailed, err)})
		return false
	}
	e.peer = peer

	for _, track := range stream.Tracks() {
		if err := peer.AddTrack(track); err != nil {
			e.fail(&CallError{Op: "add track", Err: fmt.Errorf("%w: %w", ErrNegotiationFailed, err), Details: track.Kind().String()})
			return false
		}
	}
	return true
}

func (e *Engine) sendOffer(ctx context.Context) {
	e.setPhase(CreatingOffer)

	offer, err := e.peer.CreateOffer()
	if err != nil {
		e.fail(&CallError{Op: "create offer", Err: fmt.Errorf("%w: %w", ErrNegotiationFailed, err)})
		return
	}
	e.localOffer = offer.SDP
	if !e.publishReliable(ctx, transport.Message{Event: transport.EventOffer, SDP: offer.SDP}) {
		return
	}
	e.setPhase(AwaitingAnswer)
}

func (e *Engine) offerRetry() <-chan time.Time {
	if e.phase != AwaitingAnswer || e.cfg.OfferRetryInterval <= 0 {
		return nil
	}
	return time.After(e.cfg.OfferRetryInterval)
}

// resendOffer publishes the offer and every candidate gathered so far
// again. The relay drops what it cannot deliver, and the responder ignores
// what it already has.
func (e *Engine) resendOffer(ctx context.Context) {
	slog.Debug("no answer yet, re-sending offer", "room_id", e.cfg.RoomID, "candidates", len(e.localCandidates))
	if !e.publish(ctx, transport.Message{Event: transport.EventOffer, SDP: e.localOffer}) {
		return
	}
	for _, c := range e.localCandidates {
		if !e.publish(ctx, transport.Message{Event: transport.EventICECandidate, Candidate: &c}) {
			return
		}
	}
}

func (e *Engine) acceptOffer(ctx context.Context, m transport.Message) {
	e.setPhase(CreatingAnswer)

	if err := e.peer.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: m.SDP}); err != nil {
		e.fail(&CallError{Op: "apply offer", Err: fmt.Errorf("%w: %w", ErrNegotiationFailed, err)})
		return
	}
	e.remoteSet = true
	e.drainPending()

	answer, err := e.peer.CreateAnswer()
	if err != nil {
		e.fail(&CallError{Op: "create answer", Err: fmt.Errorf("%w: %w", ErrNegotiationFailed, err)})
		return
	}
	if !e.publishReliable(ctx, transport.Message{Event: transport.EventAnswer, SDP: answer.SDP}) {
		return
	}
	e.setPhase(Connecting)
}

func (e *Engine) acceptAnswer(m transport.Message) {
	if err := e.peer.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: m.SDP}); err != nil {
		e.fail(&CallError{Op: "apply answer", Err: fmt.Errorf("%w: %w", ErrNegotiationFailed, err)})
		return
	}
	e.remoteSet = true
	e.drainPending()
	e.setPhase(Connecting)
}

func (e *Engine) handleMessage(ctx context.Context, m transport.Message) {
	if e.phase == Disconnected {
		return
	}
	if m.RoomID != "" && m.RoomID != e.cfg.RoomID {
		slog.Debug("ignoring message for another room", "room_id", m.RoomID, "event", m.Event)
		return
	}
	if m.SenderID == e.cfg.ParticipantID {
		return
	}
	if err := m.Validate(); err != nil {
		slog.Debug("ignoring invalid message", "event", m.Event, "error", err)
		return
	}

	switch m.Event {
	case transport.EventOffer:
		if e.cfg.Role != Responder {
			return
		}
		switch e.phase {
		case CapturingMedia:
			if e.pendingOffer == nil {
				e.pendingOffer = &m
			}
		case AwaitingOffer:
			e.acceptOffer(ctx, m)
		default:
			slog.Debug("ignoring stale offer", "phase", e.phase)
		}

	case transport.EventAnswer:
		if e.cfg.Role != Initiator || e.phase != AwaitingAnswer {
			slog.Debug("ignoring stale answer", "phase", e.phase)
			return
		}
		e.acceptAnswer(m)

	case transport.EventICECandidate:
		e.addRemoteCandidate(*m.Candidate)

	case transport.EventBye:
		slog.Info("peer hung up", "room_id", e.cfg.RoomID)
		e.finish(ErrPeerLeft)
	}
}

// addRemoteCandidate applies c now if the remote description is set and
// queues it otherwise. Candidates already seen are dropped.
func (e *Engine) addRemoteCandidate(c webrtc.ICECandidateInit) {
	key := candidateKey(c)
	if _, dup := e.seen[key]; dup {
		return
	}
	e.seen[key] = struct{}{}

	if !e.remoteSet {
		e.pending = append(e.pending, c)
		return
	}
	e.applyCandidate(c)
}

func (e *Engine) drainPending() {
	pending := e.pending
	e.pending = nil
	for _, c := range pending {
		e.applyCandidate(c)
	}
}

func (e *Engine) applyCandidate(c webrtc.ICECandidateInit) {
	if err := e.peer.AddICECandidate(c); err != nil {
		slog.Warn("failed to add remote candidate", "candidate", c.Candidate, "error", err)
	}
}

func candidateKey(c webrtc.ICECandidateInit) string {
	key := c.Candidate + "|"
	if c.SDPMid != nil {
		key += *c.SDPMid
	}
	key += "|"
	if c.SDPMLineIndex != nil {
		key += fmt.Sprint(*c.SDPMLineIndex)
	}
	return key
}

func (e *Engine) handlePeerEvent(ctx context.Context, ev PeerEvent) {
	if e.phase == Disconnected {
		return
	}

	switch ev.Kind {
	case PeerCandidate:
		if e.cfg.Role == Initiator && ev.Candidate != nil {
			e.localCandidates = append(e.localCandidates, *ev.Candidate)
		}
		e.publish(ctx, transport.Message{Event: transport.EventICECandidate, Candidate: ev.Candidate})

	case PeerStateChange:
		slog.Debug("peer connection state", "state", ev.State.String())
		switch ev.State {
		case webrtc.PeerConnectionStateConnected:
			e.peerConnected = true
			if e.phase == Connecting {
				e.setPhase(Connected)
			}
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			e.fail(WrapError("connect", ErrConnectionFailed, ev.State.String()))
		case webrtc.PeerConnectionStateDisconnected:
			slog.Warn("peer connection interrupted", "room_id", e.cfg.RoomID)
		}

	case PeerControlOpen:
		e.controlOpen = true
		e.sendMediaState()

	case PeerControlMessage:
		e.handleControl(ev.Data)

	case PeerRemoteTrack:
		switch ev.TrackKind {
		case webrtc.RTPCodecTypeAudio:
			e.remoteMedia.Audio = true
		case webrtc.RTPCodecTypeVideo:
			e.remoteMedia.Video = true
		}
		e.publishStatus()
	}
}

func (e *Engine) handleControl(data []byte) {
	msg, err := decodeControl(data)
	if err != nil {
		slog.Debug("ignoring malformed control message", "error", err)
		return
	}

	switch msg.Type {
	case ControlMediaState:
		var state MediaState
		if err := msg.DecodePayload(&state); err != nil {
			slog.Debug("ignoring malformed media state", "error", err)
			return
		}
		e.remoteMedia = state
		e.publishStatus()
	case ControlBye:
		slog.Info("peer hung up", "room_id", e.cfg.RoomID)
		e.finish(ErrPeerLeft)
	}
}

func (e *Engine) handleCommand(ctx context.Context, c command) {
	switch c.kind {
	case cmdHangup:
		e.sayBye(ctx)
		e.finish(nil)
	case cmdDeactivate:
		slog.Info("room deactivated", "room_id", e.cfg.RoomID)
		e.finish(ErrRoomClosed)
	case cmdAudio:
		e.muted.Audio = !c.enabled
		if e.stream != nil {
			e.stream.SetAudioEnabled(c.enabled)
			e.sendMediaState()
		}
	case cmdVideo:
		e.muted.Video = !c.enabled
		if e.stream != nil {
			e.stream.SetVideoEnabled(c.enabled)
			e.sendMediaState()
		}
	}
}

func (e *Engine) sendMediaState() {
	if !e.controlOpen || e.stream == nil {
		return
	}
	e.sendControl(ControlMediaState, MediaState{Audio: e.stream.AudioEnabled(), Video: e.stream.VideoEnabled()})
}

func (e *Engine) sendControl(t string, payload any) {
	data, err := encodeControl(t, payload)
	if err != nil {
		slog.Warn("failed to encode control message", "type", t, "error", err)
		return
	}
	if err := e.peer.SendControl(data); err != nil {
		slog.Debug("control message not sent", "type", t, "error", err)
	}
}

// sayBye tells the peer we are leaving, over the data channel when open
// and over signaling. Failures are not counted; the call ends anyway.
func (e *Engine) sayBye(ctx context.Context) {
	if e.controlOpen {
		e.sendControl(ControlBye, nil)
	}
	bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), byeTimeout)
	defer cancel()
	msg := transport.Message{Event: transport.EventBye, RoomID: e.cfg.RoomID, SenderID: e.cfg.ParticipantID}
	if err := e.session.Publish(bctx, msg); err != nil {
		slog.Debug("bye not delivered", "error", err)
	}
}

// publish sends m and tracks consecutive failures. Reaching the limit ends
// the call with ErrTransport.
func (e *Engine) publish(ctx context.Context, m transport.Message) bool {
	m.RoomID = e.cfg.RoomID
	m.SenderID = e.cfg.ParticipantID

	if err := e.session.Publish(ctx, m); err != nil {
		e.publishFailures++
		slog.Warn("signaling publish failed", "event", m.Event, "failures", e.publishFailures, "error", err)
		if e.publishFailures >= e.cfg.TransportFailureLimit {
			e.fail(WrapError("publish "+m.Event, ErrTransport, err.Error()))
		}
		return false
	}
	e.publishFailures = 0
	return true
}

// publishReliable retries m until it is sent or the failure limit ends the
// call. Offers and answers cannot be lost.
func (e *Engine) publishReliable(ctx context.Context, m transport.Message) bool {
	for {
		if e.publish(ctx, m) {
			return true
		}
		if e.phase == Disconnected {
			return false
		}
		select {
		case <-ctx.Done():
			e.finish(ctx.Err())
			return false
		case <-time.After(publishBackoff):
		}
	}
}

func (e *Engine) setPhase(p Phase) {
	if p == Connecting && e.peerConnected {
		p = Connected
	}
	if e.phase == p {
		return
	}
	slog.Debug("negotiation phase", "room_id", e.cfg.RoomID, "from", e.phase, "to", p)
	e.phase = p
	if p == Connected {
		slog.Info("call connected", "room_id", e.cfg.RoomID)
	}
	e.publishStatus()
}

func (e *Engine) fail(err error) {
	slog.Error("call failed", "room_id", e.cfg.RoomID, "error", err)
	e.finish(err)
}

func (e *Engine) finish(err error) {
	if e.phase == Disconnected {
		return
	}
	e.err = err
	e.setPhase(Disconnected)
}

func (e *Engine) publishStatus() {
	s := Status{
		Phase:       e.phase,
		Label:       e.phase.Label(),
		Err:         e.err,
		RemoteMedia: e.remoteMedia,
	}

	e.mu.Lock()
	e.last = s
	e.mu.Unlock()

	// Drop the oldest snapshot rather than block the loop.
	for {
		select {
		case e.updates <- s:
			return
		default:
		}
		select {
		case <-e.updates:
		default:
		}
	}
}

// teardown releases the stream, the peer connection and the session, each
// exactly once.
func (e *Engine) teardown() {
	e.teardownOnce.Do(func() {
		if e.stream != nil {
			if err := e.stream.Close(); err != nil {
				slog.Warn("failed to release media", "error", err)
			}
		}
		if e.peer != nil {
			if err := e.peer.Close(); err != nil {
				slog.Warn("failed to close peer connection", "error", err)
			}
		}
		if err := e.session.Close(); err != nil {
			slog.Warn("failed to close signaling session", "error", err)
		}
		slog.Info("call resources released", "room_id", e.cfg.RoomID)
	})
}
