// ABOUTME: Tests for the server TUI model
// ABOUTME: Verifies rendering of sessions and quit handling
package tui

import (
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	xrsync "github.com/xrstream/xrsync-go/pkg/sync"
	"github.com/xrstream/xrsync-go/pkg/xrserver"
)

func TestViewNoSessions(t *testing.T) {
	m := model{status: ServerStatus{Name: "Lab", Port: 9757}, startTime: time.Now()}

	view := m.View()
	for _, want := range []string{"Lab", "9757", "Headsets (0)", "No headsets connected"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}
}

func TestViewSessions(t *testing.T) {
	m := model{startTime: time.Now()}

	updated, _ := m.Update(statusMsg(ServerStatus{
		Name: "Lab",
		Sessions: []xrserver.SessionInfo{
			{
				Name:             "Quest",
				Offset:           xrsync.ClockOffset{A: 1.00002, B: int64(-3 * time.Second), Calibrated: true},
				Samples:          42,
				LastRTT:          2 * time.Millisecond,
				ExtrapolationP99: 30 * time.Millisecond,
			},
			{Name: "Pico", Offset: xrsync.Identity()},
		},
	}))

	view := updated.View()
	for _, want := range []string{"Headsets (2)", "Quest", "offset -3s", "+20.0 ppm", "42 samples", "p99 30ms", "Pico", "uncalibrated"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q:\n%s", want, view)
		}
	}
}

func TestQuitKeySignals(t *testing.T) {
	quit := make(chan struct{}, 1)
	m := model{quitChan: quit}

	updated, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if cmd == nil {
		t.Error("expected quit command")
	}
	if !updated.(model).quitting {
		t.Error("model should be quitting")
	}

	select {
	case <-quit:
	default:
		t.Error("expected quit signal")
	}
}

func TestUpdateDoesNotBlock(t *testing.T) {
	tui := NewServerTUI()
	for i := 0; i < 20; i++ {
		tui.Update(ServerStatus{})
	}
	tui.Stop()
	tui.Stop()
}
