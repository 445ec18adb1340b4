package negotiation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/BioHazard786/Pairline/internal/media"
	"github.com/BioHazard786/Pairline/internal/transport"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testRoom   = "room-1"
	localID    = "local"
	remoteID   = "remote"
	waitFor    = 2 * time.Second
	pollPeriod = 2 * time.Millisecond
)

type harness struct {
	t        *testing.T
	engine   *Engine
	session  *countingSession
	remote   transport.Session
	inbox    chan transport.Message
	factory  *fakeFactory
	capturer *fakeCapturer
	result   chan error
	cancel   context.CancelFunc
}

// startEngine opens the remote side first so nothing the engine publishes
// is lost, then runs the engine in the background.
func startEngine(t *testing.T, bus *transport.Bus, role Role, capturer media.Capturer) *harness {
	t.Helper()
	ctx := context.Background()

	remote, err := bus.Open(ctx, testRoom, remoteID)
	require.NoError(t, err)
	inbox := make(chan transport.Message, 32)
	remote.OnReceive(func(m transport.Message) { inbox <- m })

	local, err := bus.Open(ctx, testRoom, localID)
	require.NoError(t, err)
	session := &countingSession{Session: local}

	h := &harness{
		t:       t,
		session: session,
		remote:  remote,
		inbox:   inbox,
		factory: newFakeFactory(),
		result:  make(chan error, 1),
	}
	if fc, ok := capturer.(*fakeCapturer); ok {
		h.capturer = fc
	}
	if capturer == nil {
		h.capturer = newFakeCapturer()
		capturer = h.capturer
	}

	cfg := Config{
		RoomID:                testRoom,
		ParticipantID:         localID,
		Role:                  role,
		TransportFailureLimit: DefaultTransportFailureLimit,
	}
	h.engine = New(cfg, session, capturer, h.factory)

	runCtx, cancel := context.WithCancel(ctx)
	h.cancel = cancel
	go func() { h.result <- h.engine.Run(runCtx) }()

	t.Cleanup(func() {
		cancel()
		remote.Close()
	})
	return h
}

func (h *harness) send(m transport.Message) {
	h.t.Helper()
	require.NoError(h.t, h.remote.Publish(context.Background(), m))
}

func (h *harness) expect(event string) transport.Message {
	h.t.Helper()
	for {
		select {
		case m := <-h.inbox:
			if m.Event == event {
				return m
			}
		case <-time.After(waitFor):
			h.t.Fatalf("timed out waiting for %s", event)
			return transport.Message{}
		}
	}
}

func (h *harness) waitPhase(p Phase) {
	h.t.Helper()
	require.Eventually(h.t, func() bool { return h.engine.Status().Phase == p }, waitFor, pollPeriod,
		"want phase %s, have %s", p, h.engine.Status().Phase)
}

func (h *harness) wait() error {
	h.t.Helper()
	select {
	case err := <-h.result:
		return err
	case <-time.After(waitFor):
		h.t.Fatal("engine did not stop")
		return nil
	}
}

func (h *harness) negotiationOps() []string {
	var ops []string
	for _, op := range h.factory.peer.Ops() {
		if len(op) >= 9 && op[:9] == "add-track" {
			continue
		}
		ops = append(ops, op)
	}
	return ops
}

func candidate(s string) *webrtc.ICECandidateInit {
	mid := "0"
	var line uint16
	return &webrtc.ICECandidateInit{Candidate: s, SDPMid: &mid, SDPMLineIndex: &line}
}

func TestEngine_InitiatorQueuesEarlyCandidates(t *testing.T) {
	h := startEngine(t, transport.NewBus(), Initiator, nil)

	offer := h.expect(transport.EventOffer)
	assert.Equal(t, "offer-sdp", offer.SDP)
	assert.Equal(t, localID, offer.SenderID)
	assert.Equal(t, testRoom, offer.RoomID)
	h.waitPhase(AwaitingAnswer)

	h.send(transport.Message{Event: transport.EventICECandidate, Candidate: candidate("c1")})
	h.send(transport.Message{Event: transport.EventICECandidate, Candidate: candidate("c2")})
	h.send(transport.Message{Event: transport.EventAnswer, SDP: "answer-sdp"})

	h.waitPhase(Connecting)
	require.Eventually(t, func() bool { return len(h.negotiationOps()) == 4 }, waitFor, pollPeriod)
	assert.Equal(t, []string{"create-offer", "set-remote:answer", "add-ice:c1", "add-ice:c2"}, h.negotiationOps())
	assert.Equal(t, Connecting.Label(), h.engine.Status().Label)

	h.factory.Emit(PeerEvent{Kind: PeerStateChange, State: webrtc.PeerConnectionStateConnected})
	h.waitPhase(Connected)
	assert.Equal(t, LabelConnected, h.engine.Status().Label)

	// Candidates after the answer are applied immediately.
	h.send(transport.Message{Event: transport.EventICECandidate, Candidate: candidate("c3")})
	require.Eventually(t, func() bool { return len(h.negotiationOps()) == 5 }, waitFor, pollPeriod)
	assert.Equal(t, "add-ice:c3", h.negotiationOps()[4])

	h.engine.Hangup()
	assert.NoError(t, h.wait())
	h.expect(transport.EventBye)

	status := h.engine.Status()
	assert.Equal(t, Disconnected, status.Phase)
	assert.Equal(t, LabelDisconnected, status.Label)
}

func TestEngine_ResponderDrainsCandidatesAfterOffer(t *testing.T) {
	h := startEngine(t, transport.NewBus(), Responder, nil)

	h.send(transport.Message{Event: transport.EventICECandidate, Candidate: candidate("c1")})
	h.send(transport.Message{Event: transport.EventICECandidate, Candidate: candidate("c2")})
	h.send(transport.Message{Event: transport.EventOffer, SDP: "remote-offer"})

	answer := h.expect(transport.EventAnswer)
	assert.Equal(t, "answer-sdp", answer.SDP)
	h.waitPhase(Connecting)

	assert.Equal(t, []string{"set-remote:offer", "add-ice:c1", "add-ice:c2", "create-answer"}, h.negotiationOps())
	assert.Equal(t, []string{"remote-offer"}, h.factory.peer.RemoteSDPs())
	assert.Equal(t, []string{"add-track:audio", "add-track:video"}, h.factory.peer.Ops()[:2], "tracks are attached before negotiating")
}

func TestEngine_DuplicateDeliveriesAreIdempotent(t *testing.T) {
	bus := transport.NewBus()
	bus.Duplicate = func(transport.Message) bool { return true }
	h := startEngine(t, bus, Responder, nil)
	h.waitPhase(AwaitingOffer)

	h.send(transport.Message{Event: transport.EventOffer, SDP: "remote-offer"})
	h.send(transport.Message{Event: transport.EventICECandidate, Candidate: candidate("c1")})
	h.send(transport.Message{Event: transport.EventOffer, SDP: "remote-offer"})

	h.expect(transport.EventAnswer)
	h.waitPhase(Connecting)

	// Give the duplicates time to arrive; none may change anything.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, []string{"set-remote:offer", "create-answer", "add-ice:c1"}, h.negotiationOps())
	assert.Equal(t, Connecting, h.engine.Status().Phase)
}

func TestEngine_IgnoresEchoesAndForeignRooms(t *testing.T) {
	bus := transport.NewBus()
	bus.Echo = true
	h := startEngine(t, bus, Responder, nil)

	h.send(transport.Message{Event: transport.EventOffer, SDP: "foreign", RoomID: "room-2"})
	h.send(transport.Message{Event: transport.EventOffer, SDP: "spoofed", SenderID: localID})
	h.send(transport.Message{Event: transport.EventAnswer, SDP: "wrong-role"})
	h.send(transport.Message{Event: transport.EventOffer, SDP: "remote-offer"})

	h.expect(transport.EventAnswer)
	h.waitPhase(Connecting)
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, []string{"remote-offer"}, h.factory.peer.RemoteSDPs())
	assert.Equal(t, Connecting, h.engine.Status().Phase)
}

func TestEngine_CaptureDenied(t *testing.T) {
	for _, role := range []Role{Initiator, Responder} {
		t.Run(role.String(), func(t *testing.T) {
			bus := transport.NewBus()
			h := startEngine(t, bus, role, media.Denied{})
			if role == Responder {
				h.send(transport.Message{Event: transport.EventOffer, SDP: "remote-offer"})
			}

			err := h.wait()
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrCaptureFailed)
			assert.ErrorIs(t, err, media.ErrDeviceUnavailable)

			var callErr *CallError
			require.ErrorAs(t, err, &callErr)
			assert.Equal(t, "capture media", callErr.Op)

			status := h.engine.Status()
			assert.Equal(t, Disconnected, status.Phase)
			assert.Equal(t, err, status.Err)

			assert.Zero(t, h.factory.created.Load(), "no peer connection without media")
			assert.Never(t, func() bool { return len(h.inbox) > 0 }, 50*time.Millisecond, 5*time.Millisecond, "nothing may be published")
			assert.EqualValues(t, 1, h.session.closed.Load())
			assert.Equal(t, 1, bus.Subscribers(testRoom))
		})
	}
}

func TestEngine_TeardownRunsOnce(t *testing.T) {
	h := startEngine(t, transport.NewBus(), Initiator, nil)
	h.expect(transport.EventOffer)

	h.engine.Hangup()
	h.engine.Hangup()
	require.NoError(t, h.wait())
	h.engine.Hangup()
	h.engine.SetAudioEnabled(false)
	h.cancel()

	assert.EqualValues(t, 1, h.capturer.stream.closed.Load())
	assert.EqualValues(t, 1, h.factory.peer.closed.Load())
	assert.EqualValues(t, 1, h.session.closed.Load())

	assert.ErrorIs(t, h.engine.Run(context.Background()), ErrAlreadyRunning)
}

func TestEngine_TerminalEvents(t *testing.T) {
	tests := []struct {
		name    string
		trigger func(h *harness)
		want    error
	}{
		{
			name:    "remote bye",
			trigger: func(h *harness) { h.send(transport.Message{Event: transport.EventBye}) },
			want:    ErrPeerLeft,
		},
		{
			name:    "room deactivated",
			trigger: func(h *harness) { h.engine.Deactivate() },
			want:    ErrRoomClosed,
		},
		{
			name:    "context cancelled",
			trigger: func(h *harness) { h.cancel() },
			want:    context.Canceled,
		},
		{
			name: "connection failed",
			trigger: func(h *harness) {
				h.factory.Emit(PeerEvent{Kind: PeerStateChange, State: webrtc.PeerConnectionStateFailed})
			},
			want: ErrConnectionFailed,
		},
		{
			name: "bye over control channel",
			trigger: func(h *harness) {
				data, err := encodeControl(ControlBye, nil)
				require.NoError(h.t, err)
				h.factory.Emit(PeerEvent{Kind: PeerControlMessage, Data: data})
			},
			want: ErrPeerLeft,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := startEngine(t, transport.NewBus(), Initiator, nil)
			h.expect(transport.EventOffer)
			h.waitPhase(AwaitingAnswer)

			tt.trigger(h)
			err := h.wait()
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, Disconnected, h.engine.Status().Phase)
			assert.EqualValues(t, 1, h.factory.peer.closed.Load())
			assert.EqualValues(t, 1, h.capturer.stream.closed.Load())
		})
	}
}

func TestEngine_PersistentTransportFailure(t *testing.T) {
	session := &failingSession{}
	capturer := newFakeCapturer()
	factory := newFakeFactory()

	e := New(Config{RoomID: testRoom, ParticipantID: localID, Role: Initiator, TransportFailureLimit: 3}, session, capturer, factory)

	done := make(chan error, 1)
	go func() { done <- e.Run(context.Background()) }()

	var err error
	select {
	case err = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("engine did not give up on the transport")
	}

	assert.ErrorIs(t, err, ErrTransport)
	assert.EqualValues(t, 3, session.attempts.Load())
	assert.EqualValues(t, 1, session.closed.Load())
	assert.EqualValues(t, 1, capturer.stream.closed.Load())
	assert.EqualValues(t, 1, factory.peer.closed.Load())
}

func TestEngine_MediaStateOverControlChannel(t *testing.T) {
	h := startEngine(t, transport.NewBus(), Initiator, nil)
	h.expect(transport.EventOffer)

	h.factory.Emit(PeerEvent{Kind: PeerControlOpen})
	require.Eventually(t, func() bool { return len(h.factory.peer.Control()) == 1 }, waitFor, pollPeriod)

	h.engine.SetAudioEnabled(false)
	require.Eventually(t, func() bool { return len(h.factory.peer.Control()) == 2 }, waitFor, pollPeriod)
	assert.False(t, h.capturer.stream.AudioEnabled())

	msg, err := decodeControl(h.factory.peer.Control()[1])
	require.NoError(t, err)
	assert.Equal(t, ControlMediaState, msg.Type)
	var state MediaState
	require.NoError(t, msg.DecodePayload(&state))
	assert.Equal(t, MediaState{Audio: false, Video: true}, state)

	data, err := encodeControl(ControlMediaState, MediaState{Audio: true, Video: false})
	require.NoError(t, err)
	h.factory.Emit(PeerEvent{Kind: PeerControlMessage, Data: data})
	require.Eventually(t, func() bool {
		return h.engine.Status().RemoteMedia == MediaState{Audio: true, Video: false}
	}, waitFor, pollPeriod)
}

func TestEngine_MutePreferenceAppliedAtCapture(t *testing.T) {
	capturer := newFakeCapturer()
	cfg := Config{
		RoomID:         testRoom,
		ParticipantID:  localID,
		Role:           Responder,
		ResponderDelay: 100 * time.Millisecond,
		StartMuted:     MediaState{Video: true},
	}
	e := New(cfg, &failingSession{}, capturer, newFakeFactory())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	// Nothing is captured yet; the preference is kept until it is.
	e.SetAudioEnabled(false)
	require.Eventually(t, func() bool { return e.Status().Phase == AwaitingOffer }, waitFor, pollPeriod)
	assert.EqualValues(t, 1, capturer.captures.Load())
	assert.False(t, capturer.stream.AudioEnabled())
	assert.False(t, capturer.stream.VideoEnabled())

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestEngine_PeerCreationFailure(t *testing.T) {
	bus := transport.NewBus()
	remote, err := bus.Open(context.Background(), testRoom, remoteID)
	require.NoError(t, err)
	defer remote.Close()
	local, err := bus.Open(context.Background(), testRoom, localID)
	require.NoError(t, err)

	factory := newFakeFactory()
	factory.err = errors.New("no codecs")
	capturer := newFakeCapturer()

	e := New(Config{RoomID: testRoom, ParticipantID: localID, Role: Initiator}, local, capturer, factory)
	err = e.Run(context.Background())
	assert.ErrorIs(t, err, ErrNegotiationFailed)
	assert.EqualValues(t, 1, capturer.stream.closed.Load(), "captured media is released on failure")
}

func runEngine(t *testing.T, e *Engine) <-chan error {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()
	t.Cleanup(cancel)
	return done
}

func TestEngine_ResponderJoiningAfterOfferStillConnects(t *testing.T) {
	bus := transport.NewBus()
	ctx := context.Background()

	initSession, err := bus.Open(ctx, testRoom, "caller")
	require.NoError(t, err)
	initFactory := newFakeFactory()
	icfg := DefaultConfig(testRoom, "caller", Initiator)
	icfg.SettleDelay = 20 * time.Millisecond
	icfg.OfferRetryInterval = 50 * time.Millisecond
	initiator := New(icfg, initSession, newFakeCapturer(), initFactory)
	runEngine(t, initiator)

	// The first offer goes out with nobody subscribed and is lost.
	require.Eventually(t, func() bool { return initiator.Status().Phase == AwaitingAnswer }, waitFor, pollPeriod)
	initFactory.Emit(PeerEvent{Kind: PeerCandidate, Candidate: candidate("early")})
	time.Sleep(30 * time.Millisecond)

	respSession, err := bus.Open(ctx, testRoom, "callee")
	require.NoError(t, err)
	respFactory := newFakeFactory()
	rcfg := DefaultConfig(testRoom, "callee", Responder)
	rcfg.ResponderDelay = 0
	responder := New(rcfg, respSession, newFakeCapturer(), respFactory)
	runEngine(t, responder)

	require.Eventually(t, func() bool {
		return initiator.Status().Phase == Connecting && responder.Status().Phase == Connecting
	}, waitFor, pollPeriod)
	assert.Equal(t, []string{"offer-sdp"}, respFactory.peer.RemoteSDPs())
	require.Eventually(t, func() bool {
		for _, op := range respFactory.peer.Ops() {
			if op == "add-ice:early" {
				return true
			}
		}
		return false
	}, waitFor, pollPeriod, "candidates gathered before the responder joined are re-sent")

	initFactory.Emit(PeerEvent{Kind: PeerStateChange, State: webrtc.PeerConnectionStateConnected})
	respFactory.Emit(PeerEvent{Kind: PeerStateChange, State: webrtc.PeerConnectionStateConnected})
	require.Eventually(t, func() bool {
		return initiator.Status().Phase == Connected && responder.Status().Phase == Connected
	}, waitFor, pollPeriod)
}

func TestEngine_OfferRepublishedUntilAnswered(t *testing.T) {
	bus := transport.NewBus()
	remote, err := bus.Open(context.Background(), testRoom, remoteID)
	require.NoError(t, err)
	defer remote.Close()
	offers := make(chan transport.Message, 32)
	remote.OnReceive(func(m transport.Message) {
		if m.Event == transport.EventOffer {
			offers <- m
		}
	})

	local, err := bus.Open(context.Background(), testRoom, localID)
	require.NoError(t, err)
	cfg := Config{RoomID: testRoom, ParticipantID: localID, Role: Initiator, OfferRetryInterval: 20 * time.Millisecond}
	factory := newFakeFactory()
	e := New(cfg, local, newFakeCapturer(), factory)
	runEngine(t, e)

	for range 3 {
		select {
		case m := <-offers:
			assert.Equal(t, "offer-sdp", m.SDP)
		case <-time.After(waitFor):
			t.Fatal("offer was not re-published")
		}
	}

	require.NoError(t, remote.Publish(context.Background(), transport.Message{Event: transport.EventAnswer, SDP: "answer-sdp"}))
	require.Eventually(t, func() bool { return e.Status().Phase == Connecting }, waitFor, pollPeriod)

	// Let deliveries already in flight land before checking for more.
	time.Sleep(20 * time.Millisecond)
	for len(offers) > 0 {
		<-offers
	}
	assert.Never(t, func() bool { return len(offers) > 0 }, 100*time.Millisecond, 5*time.Millisecond, "no offers after the answer")
	assert.Equal(t, []string{"create-offer"}, filterOps(factory.peer.Ops(), "create-offer"), "the offer is created once")
}

func filterOps(ops []string, want string) []string {
	var out []string
	for _, op := range ops {
		if op == want {
			out = append(out, op)
		}
	}
	return out
}

func TestEngine_NegotiationTimeout(t *testing.T) {
	bus := transport.NewBus()
	local, err := bus.Open(context.Background(), testRoom, localID)
	require.NoError(t, err)

	cfg := Config{RoomID: testRoom, ParticipantID: localID, Role: Responder, NegotiationTimeout: 50 * time.Millisecond}
	capturer := newFakeCapturer()
	factory := newFakeFactory()
	e := New(cfg, local, capturer, factory)
	done := runEngine(t, e)

	var runErr error
	select {
	case runErr = <-done:
	case <-time.After(waitFor):
		t.Fatal("engine waited for an offer forever")
	}
	assert.ErrorIs(t, runErr, ErrTimeout)
	assert.Equal(t, Disconnected, e.Status().Phase)
	assert.EqualValues(t, 1, capturer.stream.closed.Load())
	assert.EqualValues(t, 1, factory.peer.closed.Load())
}

func TestEngine_SignalingLoss(t *testing.T) {
	t.Run("while negotiating", func(t *testing.T) {
		h := startEngine(t, transport.NewBus(), Responder, nil)
		h.waitPhase(AwaitingOffer)

		require.NoError(t, h.session.Session.Close())
		err := h.wait()
		assert.ErrorIs(t, err, ErrTransport)
		assert.Equal(t, Disconnected, h.engine.Status().Phase)
		assert.EqualValues(t, 1, h.factory.peer.closed.Load())
		assert.EqualValues(t, 1, h.capturer.stream.closed.Load())
	})

	t.Run("after connecting", func(t *testing.T) {
		h := startEngine(t, transport.NewBus(), Responder, nil)
		h.send(transport.Message{Event: transport.EventOffer, SDP: "remote-offer"})
		h.waitPhase(Connecting)
		h.factory.Emit(PeerEvent{Kind: PeerStateChange, State: webrtc.PeerConnectionStateConnected})
		h.waitPhase(Connected)

		require.NoError(t, h.session.Session.Close())
		assert.Never(t, func() bool { return h.engine.Status().Phase != Connected }, 50*time.Millisecond, 5*time.Millisecond)

		h.engine.Hangup()
		assert.NoError(t, h.wait())
	})
}
