package ui

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/BioHazard786/Pairline/internal/negotiation"
	"github.com/BioHazard786/Pairline/internal/utils"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
)

// Controls are the call actions bound to keys.
type Controls interface {
	SetAudioEnabled(enabled bool)
	SetVideoEnabled(enabled bool)
	Hangup()
}

type statusMsg negotiation.Status

type onlineMsg int

type clockMsg time.Time

// CallUI shows the live call status and maps keys to Controls.
type CallUI struct {
	program *tea.Program
	model   *callModel
	msgs    chan tea.Msg
	wg      sync.WaitGroup
	opts    []tea.ProgramOption
}

// NewCallUI creates the call view. audio and video are the initial local
// track states.
func NewCallUI(peerName string, controls Controls, audio, video bool, opts ...tea.ProgramOption) *CallUI {
	msgs := make(chan tea.Msg, 32)
	return &CallUI{
		model: newCallModel(peerName, controls, audio, video, msgs),
		msgs:  msgs,
		opts:  opts,
	}
}

// Start runs the UI in a goroutine
func (ui *CallUI) Start() {
	ui.program = tea.NewProgram(ui.model, ui.opts...)
	ui.wg.Add(1)
	go func() {
		defer ui.wg.Done()
		if _, err := ui.program.Run(); err != nil {
			fmt.Printf("UI error: %v\n", err)
		}
	}()
}

// UpdateStatus shows a new negotiation status.
func (ui *CallUI) UpdateStatus(s negotiation.Status) {
	ui.push(statusMsg(s))
}

// SetOnline shows the number of participants online.
func (ui *CallUI) SetOnline(n int) {
	ui.push(onlineMsg(n))
}

func (ui *CallUI) push(msg tea.Msg) {
	select {
	case ui.msgs <- msg:
	default:
	}
}

// Stop stops the UI and waits for it to restore the terminal.
func (ui *CallUI) Stop() {
	if ui.program != nil {
		ui.program.Quit()
	}
	ui.wg.Wait()
}

type callModel struct {
	peer     string
	controls Controls
	msgs     chan tea.Msg
	spinner  spinner.Model

	status      negotiation.Status
	audio       bool
	video       bool
	online      int
	onlineKnown bool

	started     time.Time
	connectedAt time.Time
	now         time.Time
	hangingUp   bool
}

func newCallModel(peer string, controls Controls, audio, video bool, msgs chan tea.Msg) *callModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle

	now := time.Now()
	return &callModel{
		peer:     peer,
		controls: controls,
		msgs:     msgs,
		spinner:  s,
		status:   negotiation.Status{Phase: negotiation.Idle, Label: negotiation.LabelConnecting},
		audio:    audio,
		video:    video,
		started:  now,
		now:      now,
	}
}

func (m *callModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.listen(), tick())
}

func (m *callModel) listen() tea.Cmd {
	return func() tea.Msg {
		return <-m.msgs
	}
}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return clockMsg(t) })
}

func (m *callModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m, m.handleKey(msg.String())

	case statusMsg:
		m.status = negotiation.Status(msg)
		if m.status.Phase == negotiation.Connected && m.connectedAt.IsZero() {
			m.connectedAt = time.Now()
		}
		return m, m.listen()

	case onlineMsg:
		m.online = int(msg)
		m.onlineKnown = true
		return m, m.listen()

	case clockMsg:
		m.now = time.Time(msg)
		return m, tick()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// handleKey returns a command because Controls may block until the call
// loop picks the action up.
func (m *callModel) handleKey(key string) tea.Cmd {
	if m.hangingUp {
		return nil
	}
	switch key {
	case "a":
		m.audio = !m.audio
		enabled := m.audio
		return func() tea.Msg { m.controls.SetAudioEnabled(enabled); return nil }
	case "v":
		m.video = !m.video
		enabled := m.video
		return func() tea.Msg { m.controls.SetVideoEnabled(enabled); return nil }
	case "q", "ctrl+c":
		m.hangingUp = true
		return func() tea.Msg { m.controls.Hangup(); return nil }
	}
	return nil
}

func (m *callModel) View() string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("\n%s Call with %s\n\n", IconCall, BoldStyle.Render(m.peer)))

	switch m.status.Label {
	case negotiation.LabelConnected:
		talk := m.now.Sub(m.connectedAt)
		if talk < 0 {
			talk = 0
		}
		b.WriteString(fmt.Sprintf("%s %s  %s %s\n", SuccessStyle.Render("●"), StatusStyle.Render(m.status.Label), IconTime, utils.FormatClock(talk)))
	case negotiation.LabelDisconnected:
		b.WriteString(fmt.Sprintf("%s %s\n", ErrorStyle.Render("●"), m.status.Label))
	default:
		b.WriteString(fmt.Sprintf("%s %s %s\n", m.spinner.View(), m.status.Label, MutedStyle.Render("("+m.status.Phase.String()+")")))
	}

	b.WriteString(fmt.Sprintf("\n  You:  %s %s\n", micIcon(m.audio), videoIcon(m.video)))
	b.WriteString(fmt.Sprintf("  Peer: %s %s\n", micIcon(m.status.RemoteMedia.Audio), videoIcon(m.status.RemoteMedia.Video)))

	if m.onlineKnown {
		b.WriteString(fmt.Sprintf("\n%s %d online\n", IconOnline, m.online))
	}

	if m.hangingUp {
		b.WriteString("\n" + MutedStyle.Render("Hanging up..."))
	} else {
		b.WriteString("\n" + MutedStyle.Render("a: mute/unmute • v: video on/off • q: hang up"))
	}
	return b.String()
}

func micIcon(on bool) string {
	if on {
		return IconMic
	}
	return IconMicOff
}

func videoIcon(on bool) string {
	if on {
		return IconVideo
	}
	return IconVideoOff
}
