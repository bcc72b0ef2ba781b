// ABOUTME: Server TUI for displaying headset sessions and clock sync state
// ABOUTME: Real-time server status display using bubbletea
package tui

import (
	"fmt"
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/xrstream/xrsync-go/pkg/xrserver"
)

// ServerTUI manages the server TUI
type ServerTUI struct {
	program  *tea.Program
	updates  chan ServerStatus
	quitChan chan struct{} // Signal to stop the server
	done     chan struct{}
	stopOnce sync.Once
}

// ServerStatus holds server state for TUI
type ServerStatus struct {
	Name     string
	Port     int
	Sessions []xrserver.SessionInfo
}

// model is the bubbletea model for server TUI
type model struct {
	status    ServerStatus
	startTime time.Time
	quitting  bool
	quitChan  chan struct{} // Channel to signal server stop
}

type tickMsg time.Time
type statusMsg ServerStatus

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")).
			MarginBottom(1)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("86"))

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("250"))

	sessionHeaderStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("220"))

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("203"))
)

func (m model) Init() tea.Cmd {
	return tickEvery()
}

func tickEvery() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "q" || msg.String() == "ctrl+c" {
			m.quitting = true
			select {
			case m.quitChan <- struct{}{}:
			default:
			}
			return m, tea.Quit
		}

	case tickMsg:
		return m, tickEvery()

	case statusMsg:
		m.status = ServerStatus(msg)
		return m, nil
	}

	return m, nil
}

func (m model) View() string {
	if m.quitting {
		return "Shutting down server...\n"
	}

	var b strings.Builder

	b.WriteString(titleStyle.Render("XRSync Server"))
	b.WriteString("\n\n")

	field := func(name, value string) {
		b.WriteString(headerStyle.Render(name + ": "))
		b.WriteString(valueStyle.Render(value))
		b.WriteString("\n")
	}
	field("Server", m.status.Name)
	field("Port", fmt.Sprintf("%d", m.status.Port))
	field("Uptime", time.Since(m.startTime).Round(time.Second).String())
	b.WriteString("\n")

	b.WriteString(sessionHeaderStyle.Render(fmt.Sprintf("Headsets (%d)", len(m.status.Sessions))))
	b.WriteString("\n\n")

	if len(m.status.Sessions) == 0 {
		b.WriteString(valueStyle.Render("  No headsets connected"))
		b.WriteString("\n")
	}
	for _, s := range m.status.Sessions {
		b.WriteString(sessionLine(s))
	}

	b.WriteString("\n")
	b.WriteString(lipgloss.NewStyle().Faint(true).Render("Press 'q' or Ctrl+C to quit"))

	return b.String()
}

// sessionLine renders one headset
func sessionLine(s xrserver.SessionInfo) string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("  • %s", s.Name))
	b.WriteString(valueStyle.Render(fmt.Sprintf(" (%s)", s.RemoteAddr)))
	b.WriteString("\n")

	if !s.Offset.Valid() {
		b.WriteString(warnStyle.Render("      clock: uncalibrated"))
		b.WriteString("\n")
		return b.String()
	}

	b.WriteString(valueStyle.Render(fmt.Sprintf("      clock: offset %v  drift %+.1f ppm  rtt %v (min %v)  %d samples",
		time.Duration(s.Offset.B),
		(s.Offset.A-1)*1e6,
		s.LastRTT.Round(time.Microsecond),
		s.MinRTT.Round(time.Microsecond),
		s.Samples)))
	b.WriteString("\n")

	line := fmt.Sprintf("      prediction: p50 %v  p99 %v  misses %d/%d  rejected %d",
		s.ExtrapolationP50, s.ExtrapolationP99, s.Misses, s.Predictions, s.Rejected)
	if s.ExtrapolationP99 > 100*time.Millisecond {
		b.WriteString(warnStyle.Render(line))
	} else {
		b.WriteString(valueStyle.Render(line))
	}
	b.WriteString("\n")

	return b.String()
}

// NewServerTUI creates a new server TUI
func NewServerTUI() *ServerTUI {
	return &ServerTUI{
		updates:  make(chan ServerStatus, 10),
		quitChan: make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// Start runs the TUI until Stop or the user quits
func (t *ServerTUI) Start(serverName string, port int) error {
	m := model{
		status: ServerStatus{
			Name: serverName,
			Port: port,
		},
		startTime: time.Now(),
		quitChan:  t.quitChan,
	}

	t.program = tea.NewProgram(m, tea.WithAltScreen())

	go func() {
		for {
			select {
			case status := <-t.updates:
				t.program.Send(statusMsg(status))
			case <-t.done:
				return
			}
		}
	}()

	_, err := t.program.Run()
	return err
}

// Update sends a status update to the TUI
func (t *ServerTUI) Update(status ServerStatus) {
	select {
	case t.updates <- status:
	default:
		// Don't block if channel is full
	}
}

// Stop stops the TUI
func (t *ServerTUI) Stop() {
	t.stopOnce.Do(func() {
		close(t.done)
		if t.program != nil {
			t.program.Quit()
		}
	})
}

// QuitChan returns the channel that signals when user wants to quit
func (t *ServerTUI) QuitChan() <-chan struct{} {
	return t.quitChan
}
