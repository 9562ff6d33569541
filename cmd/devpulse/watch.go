package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/jpalmerr/devpulse"
	"github.com/jpalmerr/devpulse/source"
)

// watchCmd shows a live terminal view of every source.
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Live terminal view of every source",
	Long: `Start the agent and show every source in a live terminal view.

Snapshots appear as soon as each fetch completes.

Keyboard shortcuts:
  q         - Quit
  r         - Refresh every source now
  +         - Double the base interval
  -         - Halve the base interval (minimum 1s)`,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().StringP("config", "c", "", "path to config file (required)")
	_ = watchCmd.MarkFlagRequired("config")
}

func runWatch(cmd *cobra.Command, args []string) error {
	// logs would corrupt the alternate screen
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))

	configFile, _ := cmd.Flags().GetString("config")
	agent, _, err := newAgent(configFile, logger, false)
	if err != nil {
		return err
	}
	defer agent.Close()

	sub := agent.Subscribe()
	defer sub.Close()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	if err := agent.Start(ctx); err != nil {
		return fmt.Errorf("failed to start agent: %w", err)
	}

	p := tea.NewProgram(newWatchModel(agent, sub), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("error running watch view: %w", err)
	}
	return nil
}

// watchModel is the bubbletea model for the watch view.
type watchModel struct {
	agent    *devpulse.Agent
	sub      *devpulse.Subscription
	statuses []devpulse.SourceStatus
	base     time.Duration
	now      time.Time
	notice   string
	quitting bool
}

// Messages
type tickMsg time.Time
type snapshotMsg source.Snapshot
type closedMsg struct{}

func newWatchModel(agent *devpulse.Agent, sub *devpulse.Subscription) watchModel {
	return watchModel{
		agent:    agent,
		sub:      sub,
		statuses: agent.Statuses(),
		base:     agent.BaseInterval(),
		now:      time.Now(),
	}
}

func (m watchModel) Init() tea.Cmd {
	return tea.Batch(tickCmd(), waitForSnapshot(m.sub))
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "r":
			started := m.agent.ForceRefreshAll()
			m.notice = fmt.Sprintf("refreshing %d sources", len(started))
		case "+":
			m = m.setBase(m.base * 2)
		case "-":
			m = m.setBase(max(m.base/2, time.Second))
		}
		m.statuses = m.agent.Statuses()
		return m, nil

	case tickMsg:
		m.now = time.Time(msg)
		m.statuses = m.agent.Statuses()
		return m, tickCmd()

	case snapshotMsg:
		m.statuses = m.agent.Statuses()
		return m, waitForSnapshot(m.sub)

	case closedMsg:
		return m, nil
	}

	return m, nil
}

func (m watchModel) setBase(d time.Duration) watchModel {
	if err := m.agent.UpdateInterval(d); err != nil {
		m.notice = err.Error()
		return m
	}
	m.base = d
	m.notice = "base interval " + d.String()
	return m
}

func (m watchModel) View() string {
	if m.quitting {
		return ""
	}

	var s strings.Builder

	s.WriteString(headerStyle.Render("DEVPULSE"))
	s.WriteString("\n\n")

	intervals := m.agent.Intervals()
	for _, st := range m.statuses {
		s.WriteString(conditionStyle(st.Condition).Render(conditionIcon(st)))
		s.WriteString(" ")
		s.WriteString(boldStyle.Render(fmt.Sprintf("%-16s", st.Source)))
		s.WriteString(summarize(st.Snapshot))
		s.WriteString("\n")
		s.WriteString(dimStyle.Render(fmt.Sprintf("  every %s  |  updated %s",
			intervals[st.Source], age(st.LastSuccessAt, m.now))))
		s.WriteString("\n")
	}

	s.WriteString("\n")
	if m.notice != "" {
		s.WriteString(dimStyle.Render(m.notice))
		s.WriteString("\n")
	}
	s.WriteString(helpStyle.Render(fmt.Sprintf("base %s | [q]uit [r]efresh [+/-] interval", m.base)))
	return s.String()
}

func conditionIcon(st devpulse.SourceStatus) string {
	if st.InFlight {
		return "↻"
	}
	switch st.Condition {
	case source.ConditionOK:
		return "✓"
	case source.ConditionStale:
		return "!"
	case source.ConditionFailed:
		return "✗"
	default:
		return "·"
	}
}

// Commands

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// waitForSnapshot blocks on the subscription until the next snapshot.
func waitForSnapshot(sub *devpulse.Subscription) tea.Cmd {
	return func() tea.Msg {
		snap, ok := <-sub.C()
		if !ok {
			return closedMsg{}
		}
		return snapshotMsg(snap)
	}
}

// Styles
var (
	primaryColor = lipgloss.Color("#7D56F4")
	successColor = lipgloss.Color("#04B575")
	warnColor    = lipgloss.Color("#FFB000")
	errorColor   = lipgloss.Color("#FF0000")
	dimColor     = lipgloss.Color("#666666")

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor)

	boldStyle = lipgloss.NewStyle().Bold(true)
	dimStyle  = lipgloss.NewStyle().Foreground(dimColor)
	helpStyle = lipgloss.NewStyle().Foreground(dimColor).Italic(true)
)

func conditionStyle(c source.Condition) lipgloss.Style {
	switch c {
	case source.ConditionOK:
		return lipgloss.NewStyle().Foreground(successColor)
	case source.ConditionStale:
		return lipgloss.NewStyle().Foreground(warnColor)
	case source.ConditionFailed:
		return lipgloss.NewStyle().Foreground(errorColor)
	default:
		return dimStyle
	}
}
