package signaling

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/BioHazard786/Pairline/internal/hub"
	"github.com/BioHazard786/Pairline/internal/transport"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type members map[string][]string

func (m members) Authorize(_ context.Context, roomID, participantID string) bool {
	for _, id := range m[roomID] {
		if id == participantID {
			return true
		}
	}
	return false
}

func startRelay(t *testing.T, auth hub.Authorizer) *Transport {
	t.Helper()
	h := hub.New(auth)
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)

	srv := httptest.NewServer(hub.ServeWs(h))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return New("ws" + strings.TrimPrefix(srv.URL, "http") + "/ws")
}

func collect(s transport.Session) <-chan transport.Message {
	ch := make(chan transport.Message, 16)
	s.OnReceive(func(m transport.Message) { ch <- m })
	return ch
}

func next(t *testing.T, ch <-chan transport.Message) transport.Message {
	t.Helper()
	select {
	case m := <-ch:
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for signaling message")
		return transport.Message{}
	}
}

func TestTransport_RelaysBetweenParticipants(t *testing.T) {
	tr := startRelay(t, members{"room-1": {"alice", "bob"}})
	ctx := context.Background()

	alice, err := tr.Open(ctx, "room-1", "alice")
	require.NoError(t, err)
	defer alice.Close()
	bob, err := tr.Open(ctx, "room-1", "bob")
	require.NoError(t, err)
	defer bob.Close()

	toBob := collect(bob)
	toAlice := collect(alice)

	require.NoError(t, alice.Publish(ctx, transport.Message{Event: transport.EventOffer, SDP: "v=0"}))
	m := next(t, toBob)
	assert.Equal(t, transport.EventOffer, m.Event)
	assert.Equal(t, "v=0", m.SDP)
	assert.Equal(t, "alice", m.SenderID)
	assert.Equal(t, "room-1", m.RoomID)

	mid := "0"
	require.NoError(t, bob.Publish(ctx, transport.Message{
		Event:     transport.EventICECandidate,
		Candidate: &webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 1 192.0.2.1 5000 typ host", SDPMid: &mid},
	}))
	m = next(t, toAlice)
	assert.Equal(t, transport.EventICECandidate, m.Event)
	require.NotNil(t, m.Candidate)
	assert.Equal(t, "0", *m.Candidate.SDPMid)
}

func TestTransport_PeerDisconnectBecomesBye(t *testing.T) {
	tr := startRelay(t, members{"room-1": {"alice", "bob"}})
	ctx := context.Background()

	alice, err := tr.Open(ctx, "room-1", "alice")
	require.NoError(t, err)
	defer alice.Close()
	bob, err := tr.Open(ctx, "room-1", "bob")
	require.NoError(t, err)

	toAlice := collect(alice)
	require.NoError(t, bob.Close())

	m := next(t, toAlice)
	assert.Equal(t, transport.EventBye, m.Event)
	assert.Equal(t, "bob", m.SenderID)
}

func TestTransport_RejectedSubscription(t *testing.T) {
	tr := startRelay(t, members{"room-1": {"alice", "bob"}})

	_, err := tr.Open(context.Background(), "room-1", "mallory")
	require.ErrorIs(t, err, ErrRejected)
	assert.ErrorContains(t, err, "Not a member of this room")
}

func TestTransport_PublishAfterClose(t *testing.T) {
	tr := startRelay(t, members{"room-1": {"alice", "bob"}})

	alice, err := tr.Open(context.Background(), "room-1", "alice")
	require.NoError(t, err)
	require.NoError(t, alice.Close())
	require.NoError(t, alice.Close())

	err = alice.Publish(context.Background(), transport.Message{Event: transport.EventBye})
	assert.ErrorIs(t, err, transport.ErrClosed)
}

func TestTransport_InvalidRoom(t *testing.T) {
	_, err := New("ws://127.0.0.1:1/ws").Open(context.Background(), "", "alice")
	assert.ErrorIs(t, err, transport.ErrInvalidRoom)
}

func TestTransport_DoneWhenRelayGoesAway(t *testing.T) {
	h := hub.New(members{"room-1": {"alice", "bob"}})
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	srv := httptest.NewServer(hub.ServeWs(h))
	defer srv.Close()

	tr := New("ws" + strings.TrimPrefix(srv.URL, "http") + "/ws")
	alice, err := tr.Open(context.Background(), "room-1", "alice")
	require.NoError(t, err)
	defer alice.Close()

	select {
	case <-alice.Done():
		t.Fatal("session done while the relay is up")
	default:
	}

	cancel()
	select {
	case <-alice.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not notice the relay going away")
	}
	assert.ErrorIs(t, alice.Publish(context.Background(), transport.Message{Event: transport.EventBye}), transport.ErrClosed)
}
