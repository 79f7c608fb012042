package client

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/RJW34/CNM/internal/wire"
)

// screen enumerates the CR's top-level states (spec.md §4.5 "Client
// state machine").
type screen int

const (
	screenDashboard screen = iota
	screenConnecting
	screenConnected
	screenDisconnected
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	cursorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("212")).Bold(true)
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	statusOKStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
)

// Model is the bubbletea model backing cmd/relay-term.
type Model struct {
	hubURL string
	token  string
	conn   *Conn

	screen screen
	err    error

	sessions []wire.SessionView
	projects []wire.ProjectView
	machines []wire.MachineView
	cursor   int

	// selectedMachine narrows the dashboard's session list to one
	// machine id (spec.md §4.5); "" means "all machines" (the hub
	// already fans every machine's sessions into one list_sessions
	// reply, so filtering is a pure display concern here).
	selectedMachine string

	activeSessionID string
	viewport        viewport.Model
	scrollback      strings.Builder

	disconnectReason string
	backoff          time.Duration

	width, height int

	frames chan wire.ServerMessage
	connErrs chan error
}

// New constructs the initial model in the connecting screen; Init
// then dials hubURL with token for auth (spec.md §4.5 "Dashboard
// screen").
func New(hubURL, token string) Model {
	return Model{
		hubURL:   hubURL,
		token:    token,
		screen:   screenConnecting,
		viewport: viewport.New(80, 20),
		backoff:  minBackoff,
	}
}

// Init kicks off the first connection attempt.
func (m Model) Init() tea.Cmd {
	return m.connectCmd()
}

type connectedMsg struct{ conn *Conn }
type connectErrMsg struct{ err error }
type serverFrameMsg struct{ msg wire.ServerMessage }
type connClosedMsg struct{ reason string }

func (m Model) connectCmd() tea.Cmd {
	return func() tea.Msg {
		conn, err := Dial(m.hubURL, m.token)
		if err != nil {
			return connectErrMsg{err}
		}
		return connectedMsg{conn}
	}
}

// waitForFrame turns the next inbound server frame into a bubbletea
// message, re-armed after every delivery (the standard bubbletea
// "listen on a channel" pattern).
func waitForFrame(frames chan wire.ServerMessage) tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-frames
		if !ok {
			return nil
		}
		return serverFrameMsg{msg}
	}
}

func waitForConnErr(errs chan error) tea.Cmd {
	return func() tea.Msg {
		err, ok := <-errs
		if !ok {
			return nil
		}
		return connClosedMsg{reason: err.Error()}
	}
}

func (m *Model) pumpConn() tea.Cmd {
	m.frames = make(chan wire.ServerMessage, 64)
	m.connErrs = make(chan error, 1)

	conn := m.conn
	frames := m.frames
	errs := m.connErrs
	go func() {
		for {
			msg, err := conn.Recv()
			if err != nil {
				errs <- err
				close(frames)
				return
			}
			frames <- msg
		}
	}()

	return tea.Batch(waitForFrame(frames), waitForConnErr(errs))
}

// Update implements the CR's transition table (spec.md §4.5).
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.viewport.Width = msg.Width
		m.viewport.Height = msg.Height - 4
		if m.screen == screenConnected && m.conn != nil && m.activeSessionID != "" {
			_ = m.conn.Send(wire.ClientMessage{Type: wire.ReqResize, Cols: m.viewport.Width, Rows: m.viewport.Height})
		}
		return m, nil

	case connectedMsg:
		m.conn = msg.conn
		m.screen = screenDashboard
		m.err = nil
		m.backoff = minBackoff
		_ = m.conn.Send(wire.ClientMessage{Type: wire.ReqListMachines})
		_ = m.conn.Send(wire.ClientMessage{Type: wire.ReqListSessions})
		_ = m.conn.Send(wire.ClientMessage{Type: wire.ReqListProjects})
		return m, m.pumpConn()

	case connectErrMsg:
		m.screen = screenDisconnected
		m.err = msg.err
		m.disconnectReason = msg.err.Error()
		return m, m.reconnectAfterBackoff()

	case connClosedMsg:
		m.screen = screenDisconnected
		m.disconnectReason = msg.reason
		return m, m.reconnectAfterBackoff()

	case reconnectTickMsg:
		m.screen = screenConnecting
		return m, m.connectCmd()

	case serverFrameMsg:
		return m.handleFrame(msg.msg)

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

type reconnectTickMsg struct{}

func (m *Model) reconnectAfterBackoff() tea.Cmd {
	wait := m.backoff
	m.backoff = NextBackoff(m.backoff)
	return tea.Tick(wait, func(time.Time) tea.Msg { return reconnectTickMsg{} })
}

func (m Model) handleFrame(msg wire.ServerMessage) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case wire.EvtMachines:
		m.machines = msg.Machines
	case wire.EvtSessions:
		m.sessions = msg.Sessions
	case wire.EvtProjects:
		m.projects = msg.Projects
	case wire.EvtScrollback, wire.EvtOutput:
		if msg.SessionID == m.activeSessionID {
			m.scrollback.WriteString(msg.Data)
			m.viewport.SetContent(m.scrollback.String())
			m.viewport.GotoBottom()
		}
	case wire.EvtStatus:
		if msg.SessionID == m.activeSessionID && msg.State == wire.StatusDisconnected {
			m.scrollback.WriteString("\n[session ended: " + msg.Reason + "]\n")
			m.viewport.SetContent(m.scrollback.String())
		}
	case wire.EvtError:
		m.err = fmt.Errorf("%s", msg.Error)
	case wire.ReqPing:
		// Hub-originated keepalive ping (spec.md §5); reply in kind.
		if m.conn != nil {
			_ = m.conn.Send(wire.ClientMessage{Type: wire.EvtPong})
		}
	}
	return m, waitForFrame(m.frames)
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.screen == screenDashboard {
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case "up", "k":
			if m.cursor > 0 {
				m.cursor--
			}
		case "down", "j":
			if m.cursor < len(m.visibleSessions())-1 {
				m.cursor++
			}
		case "tab":
			m.selectedMachine = m.nextMachineFilter()
			m.cursor = 0
		case "enter":
			visible := m.visibleSessions()
			if m.cursor >= 0 && m.cursor < len(visible) {
				m.activeSessionID = visible[m.cursor].ID
				m.screen = screenConnected
				m.scrollback.Reset()
				_ = m.conn.Send(wire.ClientMessage{Type: wire.ReqConnectSession, SessionID: m.activeSessionID})
				_ = m.conn.Send(wire.ClientMessage{Type: wire.ReqResize, Cols: m.viewport.Width, Rows: m.viewport.Height})
			}
		}
		return m, nil
	}

	if m.screen == screenConnected {
		switch msg.String() {
		case "ctrl+\\":
			m.screen = screenDashboard
			return m, nil
		case "ctrl+c":
			_ = m.conn.Send(wire.ClientMessage{Type: wire.ReqControl, Key: wire.CtrlC})
			return m, nil
		case "ctrl+d":
			_ = m.conn.Send(wire.ClientMessage{Type: wire.ReqControl, Key: wire.CtrlD})
			return m, nil
		case "esc":
			_ = m.conn.Send(wire.ClientMessage{Type: wire.ReqControl, Key: wire.CtrlEsc})
			return m, nil
		}
		if m.conn != nil {
			_ = m.conn.Send(wire.ClientMessage{Type: wire.ReqInput, Data: msg.String()})
		}
		return m, nil
	}

	if msg.String() == "ctrl+c" || msg.String() == "q" {
		return m, tea.Quit
	}
	return m, nil
}

// View renders the current screen.
func (m Model) View() string {
	switch m.screen {
	case screenConnecting:
		return titleStyle.Render("connecting to relay hub...") + "\n"
	case screenDisconnected:
		msg := dimStyle.Render("reconnecting in " + m.backoff.String() + "...")
		if m.disconnectReason != "" {
			msg = errorStyle.Render("disconnected: "+m.disconnectReason) + "\n" + msg
		}
		return msg + "\n"
	case screenConnected:
		return m.viewAttached()
	default:
		return m.viewDashboard()
	}
}

// visibleSessions is m.sessions narrowed to m.selectedMachine, or the
// full list when no machine filter is active.
func (m Model) visibleSessions() []wire.SessionView {
	if m.selectedMachine == "" {
		return m.sessions
	}
	out := make([]wire.SessionView, 0, len(m.sessions))
	for _, s := range m.sessions {
		if s.MachineID == m.selectedMachine {
			out = append(out, s)
		}
	}
	return out
}

// nextMachineFilter cycles selectedMachine through "" (all machines)
// then each known machine id in m.machines order, wrapping back to
// "" after the last one (spec.md §4.5 machine selection).
func (m Model) nextMachineFilter() string {
	if len(m.machines) == 0 {
		return ""
	}
	if m.selectedMachine == "" {
		return m.machines[0].ID
	}
	for i, mv := range m.machines {
		if mv.ID == m.selectedMachine {
			if i+1 < len(m.machines) {
				return m.machines[i+1].ID
			}
			return ""
		}
	}
	return ""
}

func (m Model) viewDashboard() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("CNM relay — sessions") + "\n\n")
	filterLabel := "all machines"
	if m.selectedMachine != "" {
		filterLabel = m.selectedMachine
		for _, mv := range m.machines {
			if mv.ID == m.selectedMachine && mv.Hostname != "" {
				filterLabel = mv.Hostname
			}
		}
	}
	b.WriteString(dimStyle.Render("machine: "+filterLabel+" (tab to cycle)") + "\n")

	visible := m.visibleSessions()
	if len(visible) == 0 {
		b.WriteString(dimStyle.Render("no live sessions") + "\n")
	}
	for i, s := range visible {
		line := fmt.Sprintf("%s  %-20s  %s", s.ID[:minInt(8, len(s.ID))], s.Cwd, statusOKStyle.Render(s.Status))
		if i == m.cursor {
			b.WriteString(cursorStyle.Render("> "+line) + "\n")
		} else {
			b.WriteString("  " + line + "\n")
		}
	}
	b.WriteString("\n" + dimStyle.Render(fmt.Sprintf("%d machines, %d projects — enter to attach, q to quit", len(m.machines), len(m.projects))))
	return b.String()
}

func (m Model) viewAttached() string {
	header := titleStyle.Render("attached: " + m.activeSessionID)
	footer := dimStyle.Render("ctrl+\\ detach  ctrl+c SIGINT  ctrl+d EOF")
	return header + "\n" + m.viewport.View() + "\n" + footer
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
