package ui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BioHazard786/discushy/internal/assistant"
	"github.com/BioHazard786/discushy/internal/roster"
	"github.com/BioHazard786/discushy/internal/session"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Controls is the part of a meeting session the view drives.
// *session.Coordinator satisfies it.
type Controls interface {
	ToggleMic() (bool, error)
	ToggleCamera() (bool, error)
	StartScreenShare(ctx context.Context) error
	StopScreenShare() error
	SpeakAssistant(ctx context.Context, conv assistant.Conversation) error
	EndMeeting() error
	Leave() error
	Snapshot() session.Snapshot
	Subscribe(fn func(session.Snapshot)) (unsubscribe func())
	Done() <-chan struct{}
}

const (
	refreshInterval = 250 * time.Millisecond
	narrowWidth     = 60
)

type (
	snapshotMsg session.Snapshot
	changedMsg  struct{}
	endedMsg    struct{}
	tickMsg     time.Time
	actionErr   struct{ err error }
)

// MeetingOptions configure the meeting view.
type MeetingOptions struct {
	RoomLink string
	// Assistant enables the assistant prompt.
	Assistant bool
	// JobPostID and CandidateID are forwarded with every assistant turn.
	JobPostID   string
	CandidateID string
}

type meetingModel struct {
	ctx      context.Context
	controls Controls
	term     *Terminal
	opts     MeetingOptions

	snap     session.Snapshot
	updates  chan session.Snapshot
	spinner  spinner.Model
	input    textinput.Model
	prompt   bool
	errMsg   string
	width    int
	quitting bool
}

func newMeetingModel(ctx context.Context, controls Controls, term *Terminal, opts MeetingOptions) *meetingModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle

	in := textinput.New()
	in.Placeholder = "Ask the assistant..."
	in.CharLimit = 500
	in.Width = 50

	return &meetingModel{
		ctx:      ctx,
		controls: controls,
		term:     term,
		opts:     opts,
		snap:     controls.Snapshot(),
		updates:  make(chan session.Snapshot, 1),
		spinner:  s,
		input:    in,
	}
}

// offer replaces any unread snapshot so the view only ever renders the
// latest state. It never blocks the session goroutine.
func (m *meetingModel) offer(s session.Snapshot) {
	for {
		select {
		case m.updates <- s:
			return
		default:
		}
		select {
		case <-m.updates:
		default:
		}
	}
}

func (m *meetingModel) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		m.listenForUpdates(),
		m.listenForChanges(),
		m.waitForEnd(),
		tick(),
	)
}

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m *meetingModel) listenForUpdates() tea.Cmd {
	return func() tea.Msg {
		select {
		case s := <-m.updates:
			return snapshotMsg(s)
		case <-m.controls.Done():
			return endedMsg{}
		}
	}
}

func (m *meetingModel) listenForChanges() tea.Cmd {
	return func() tea.Msg {
		select {
		case <-m.term.Changed():
			return changedMsg{}
		case <-m.controls.Done():
			return endedMsg{}
		}
	}
}

func (m *meetingModel) waitForEnd() tea.Cmd {
	return func() tea.Msg {
		<-m.controls.Done()
		return endedMsg{}
	}
}

func (m *meetingModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.prompt {
			return m.updatePrompt(msg)
		}
		return m, m.handleKey(msg.String())

	case tea.WindowSizeMsg:
		m.width = msg.Width

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case snapshotMsg:
		m.snap = session.Snapshot(msg)
		return m, m.listenForUpdates()

	case changedMsg:
		return m, m.listenForChanges()

	case tickMsg:
		if m.quitting {
			return m, nil
		}
		return m, tick()

	case actionErr:
		m.errMsg = msg.err.Error()

	case endedMsg:
		m.quitting = true
		m.snap = m.controls.Snapshot()
		return m, tea.Quit
	}
	return m, nil
}

func (m *meetingModel) handleKey(key string) tea.Cmd {
	m.errMsg = ""
	switch key {
	case "m":
		return m.run(func() error { _, err := m.controls.ToggleMic(); return err })
	case "v":
		return m.run(func() error { _, err := m.controls.ToggleCamera(); return err })
	case "s":
		if m.snap.Sharing {
			return m.run(m.controls.StopScreenShare)
		}
		return m.run(func() error { return m.controls.StartScreenShare(m.ctx) })
	case "a":
		if !m.opts.Assistant {
			m.errMsg = "Assistant is not configured"
			return nil
		}
		m.prompt = true
		m.input.Reset()
		return m.input.Focus()
	case "e":
		if !m.isHost() {
			m.errMsg = "Only the host can end the meeting"
			return nil
		}
		return m.run(m.controls.EndMeeting)
	case "q", "ctrl+c":
		m.quitting = true
		return m.run(m.controls.Leave)
	}
	return nil
}

func (m *meetingModel) updatePrompt(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		m.prompt = false
		m.input.Blur()
		return m, m.handleKey("q")
	case "esc":
		m.prompt = false
		m.input.Blur()
		return m, nil
	case "enter":
		text := strings.TrimSpace(m.input.Value())
		m.prompt = false
		m.input.Blur()
		if text == "" {
			return m, nil
		}
		conv := m.conversation(text)
		return m, m.run(func() error { return m.controls.SpeakAssistant(m.ctx, conv) })
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// run performs a control action off the UI goroutine.
func (m *meetingModel) run(fn func() error) tea.Cmd {
	return func() tea.Msg {
		if err := fn(); err != nil && !errors.Is(err, session.ErrLeft) {
			return actionErr{err}
		}
		return nil
	}
}

func (m *meetingModel) isHost() bool {
	for _, tile := range m.snap.Tiles {
		if tile.IsSelf {
			return tile.UserRole == "host"
		}
	}
	return false
}

func (m *meetingModel) conversation(text string) assistant.Conversation {
	conv := assistant.Conversation{
		JobPostID:        m.opts.JobPostID,
		CandidateID:      m.opts.CandidateID,
		ConversationText: text,
	}
	for _, tile := range m.snap.Tiles {
		conv.People = append(conv.People, assistant.Person{Name: displayName(tile), Role: tile.UserRole})
		if tile.IsSelf {
			conv.Sender = displayName(tile)
		}
	}
	return conv
}

func displayName(tile roster.Tile) string {
	if tile.UserName != "" {
		return tile.UserName
	}
	return tile.UserID
}

func (m *meetingModel) View() string {
	var b strings.Builder

	header := fmt.Sprintf("%s discushy  ·  room %s", IconRoom, m.snap.RoomID)
	b.WriteString(HeaderStyle.Render(header))
	b.WriteString("\n")

	if m.snap.Ended {
		b.WriteString(MutedStyle.Render("Meeting closed"))
		b.WriteString("\n")
		return b.String()
	}

	if sharer, frames := m.term.Screen(); sharer != "" {
		b.WriteString(ScreenStyle.Render(fmt.Sprintf("%s %s is sharing their screen  %s",
			IconScreen, m.nameOf(sharer), MutedStyle.Render(fmt.Sprintf("%d frames", frames)))))
		b.WriteString("\n")
	} else if m.snap.Sharing {
		b.WriteString(ScreenStyle.Render(IconScreen + " You are sharing your screen"))
		b.WriteString("\n")
	}

	if m.width > 0 && m.width < narrowWidth {
		b.WriteString(ParticipantTable(m.snap.Tiles))
	} else {
		b.WriteString(m.tiles())
	}
	b.WriteString("\n")

	if len(m.snap.Tiles) <= 1 {
		fmt.Fprintf(&b, "%s %s\n", m.spinner.View(), MutedStyle.Render("Waiting for others to join..."))
		if m.opts.RoomLink != "" {
			b.WriteString(MutedStyle.Render(IconLink+" "+m.opts.RoomLink) + "\n")
		}
	}
	if m.snap.AssistantSpeaking {
		fmt.Fprintf(&b, "%s %s\n", IconAssistant, SuccessStyle.Render("Assistant is speaking"))
	}

	for _, n := range m.term.Notices() {
		b.WriteString(WarningStyle.Render(IconInfo+" "+n) + "\n")
	}
	if m.errMsg != "" {
		b.WriteString(ErrorStyle.Render(IconError+" "+m.errMsg) + "\n")
	}

	if m.prompt {
		b.WriteString("\n" + IconAssistant + " " + m.input.View() + "\n")
		b.WriteString(FooterStyle.Render("enter send · esc cancel"))
		return b.String()
	}
	b.WriteString(FooterStyle.Render(m.help()))
	return b.String()
}

func (m *meetingModel) tiles() string {
	targets := m.term.Targets()
	cells := make([]string, 0, len(m.snap.Tiles))
	for _, tile := range m.snap.Tiles {
		lines := []string{BoldStyle.Render(tileName(tile)), tileStatus(tile)}
		if !tile.IsSelf {
			lines = append(lines, m.connection(tile.UserID, targets))
		}
		style := TileStyle
		if tile.IsSpeaking {
			style = SpeakingTileStyle
		}
		cells = append(cells, style.Render(strings.Join(lines, "\n")))
	}

	perRow := 3
	if m.width > 0 {
		perRow = max(1, m.width/(TileStyle.GetWidth()+2))
	}
	var rows []string
	for i := 0; i < len(cells); i += perRow {
		rows = append(rows, lipgloss.JoinHorizontal(lipgloss.Top, cells[i:min(i+perRow, len(cells))]...))
	}
	return lipgloss.JoinVertical(lipgloss.Left, rows...)
}

func (m *meetingModel) connection(id string, targets map[string]TargetView) string {
	state := m.snap.Connections[id]
	if state != session.StateConnected {
		return MutedStyle.Render(IconWaiting + " " + state.String())
	}
	if t, ok := targets[id]; ok && !t.CameraOff {
		return SuccessStyle.Render(fmt.Sprintf("%s %d frames", IconConnect, t.VideoFrames))
	}
	return SuccessStyle.Render(IconConnect + " connected")
}

func (m *meetingModel) nameOf(id string) string {
	if id == m.snap.SelfID {
		return "You"
	}
	for _, tile := range m.snap.Tiles {
		if tile.UserID == id {
			return displayName(tile)
		}
	}
	return id
}

func (m *meetingModel) help() string {
	mic, cam, share := "mute", "camera off", "share screen"
	if !m.snap.MicOn {
		mic = "unmute"
	}
	if !m.snap.CameraOn {
		cam = "camera on"
	}
	if m.snap.Sharing {
		share = "stop sharing"
	}
	keys := []string{"m " + mic, "v " + cam, "s " + share}
	if m.opts.Assistant {
		keys = append(keys, "a assistant")
	}
	if m.isHost() {
		keys = append(keys, "e end meeting")
	}
	keys = append(keys, "q leave")
	return strings.Join(keys, " · ")
}

// Meeting runs the interactive view for one session.
type Meeting struct {
	model *meetingModel
	unsub func()
}

// NewMeeting builds the meeting view for controls and subscribes it to
// session snapshots.
func NewMeeting(ctx context.Context, controls Controls, term *Terminal, opts MeetingOptions) *Meeting {
	m := &Meeting{model: newMeetingModel(ctx, controls, term, opts)}
	m.unsub = controls.Subscribe(m.model.offer)
	return m
}

// Run blocks until the user leaves or the session ends. The view uses the
// alternate screen so the meeting does not scroll the terminal.
func (m *Meeting) Run() error {
	defer m.unsub()
	p := tea.NewProgram(m.model, tea.WithAltScreen(), tea.WithContext(m.model.ctx))
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
