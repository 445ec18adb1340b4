package ui

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BioHazard786/Pairline/internal/matchmaker"
	"github.com/BioHazard786/Pairline/internal/negotiation"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingControls struct {
	mu      sync.Mutex
	actions []string
}

func (c *recordingControls) record(a string) {
	c.mu.Lock()
	c.actions = append(c.actions, a)
	c.mu.Unlock()
}

func (c *recordingControls) SetAudioEnabled(on bool) {
	if on {
		c.record("audio:on")
	} else {
		c.record("audio:off")
	}
}

func (c *recordingControls) SetVideoEnabled(on bool) {
	if on {
		c.record("video:on")
	} else {
		c.record("video:off")
	}
}

func (c *recordingControls) Hangup() { c.record("hangup") }

func press(t *testing.T, m *callModel, key string) {
	t.Helper()
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(key)})
	if cmd != nil {
		cmd()
	}
}

func TestCallModel_Keys(t *testing.T) {
	controls := &recordingControls{}
	m := newCallModel("bob", controls, true, true, make(chan tea.Msg, 1))

	press(t, m, "a")
	press(t, m, "v")
	press(t, m, "a")
	press(t, m, "x")
	press(t, m, "q")
	press(t, m, "a")

	assert.Equal(t, []string{"audio:off", "video:off", "audio:on", "hangup"}, controls.actions)
	assert.Contains(t, m.View(), "Hanging up")
}

func TestCallModel_Status(t *testing.T) {
	m := newCallModel("bob", &recordingControls{}, false, true, make(chan tea.Msg, 1))
	assert.Contains(t, m.View(), "Call with")
	assert.Contains(t, m.View(), negotiation.LabelConnecting)
	assert.NotContains(t, m.View(), "online")

	m.Update(statusMsg{Phase: negotiation.Connected, Label: negotiation.LabelConnected, RemoteMedia: negotiation.MediaState{Audio: true}})
	m.Update(onlineMsg(12))

	view := m.View()
	assert.Contains(t, view, negotiation.LabelConnected)
	assert.Contains(t, view, "12 online")
	assert.Contains(t, view, "You:  "+IconMicOff+" "+IconVideo)
	assert.Contains(t, view, "Peer: "+IconMic+" "+IconVideoOff)
	assert.False(t, m.connectedAt.IsZero())
}

func TestRoomView(t *testing.T) {
	room := &matchmaker.Room{ID: "calm-otter-lamp", ParticipantA: "a", ParticipantB: "b", NameA: "alice", NameB: "bob"}
	view := RoomView(room, "a")
	assert.Contains(t, view, "calm-otter-lamp")
	assert.Contains(t, view, "bob")
}

func TestCallSummaryView(t *testing.T) {
	view := CallSummaryView(CallSummary{
		RoomID:    "calm-otter-lamp",
		Peer:      "bob",
		Outcome:   "peer left",
		Connected: 90 * time.Second,
		Total:     2 * time.Minute,
	})
	require.NotEmpty(t, view)
	for _, want := range []string{"calm-otter-lamp", "bob", "peer left", "Talk time"} {
		assert.True(t, strings.Contains(view, want), want)
	}
}

func TestSpinnerMessage(t *testing.T) {
	s := NewSearchSpinner("searching")
	s.UpdateMessage("searching (attempt 2)")
	assert.Equal(t, "searching (attempt 2)", s.Message())
	s.Stop()
	s.Stop()
}
