package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/wippyai/vlsim/abi"
	"github.com/wippyai/vlsim/signal"
	"github.com/wippyai/vlsim/sim"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	nameStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	kindStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4"))

	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

type replState int

const (
	stateBrowse replState = iota
	stateEdit
)

type replModel struct {
	err       error
	sim       *sim.Simulation
	title     string
	traceFile string
	status    string
	rows      []*signal.Handle
	input     textinput.Model
	selected  int
	state     replState
}

func newReplModel(s *sim.Simulation, title, traceFile string) *replModel {
	rows := append(s.IO().Handles(), s.Internals().Handles()...)
	return &replModel{
		sim:       s,
		title:     title,
		traceFile: traceFile,
		rows:      rows,
		state:     stateBrowse,
	}
}

func (m *replModel) Init() tea.Cmd {
	return nil
}

func (m *replModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}
	if m.state == stateEdit {
		return m.updateEdit(key)
	}

	m.err = nil
	switch key.String() {
	case "ctrl+c", "q":
		return m, tea.Quit

	case "up", "k":
		if m.selected > 0 {
			m.selected--
		}

	case "down", "j":
		if m.selected < len(m.rows)-1 {
			m.selected++
		}

	case "enter":
		if len(m.rows) == 0 {
			break
		}
		h := m.rows[m.selected]
		if !h.Writable() {
			m.status = h.Name() + " is not an input"
			break
		}
		m.input = textinput.New()
		m.input.Prompt = h.Name() + " = "
		m.input.Placeholder = fmt.Sprintf("%d-bit value", h.Width())
		m.input.Width = 40
		m.state = stateEdit
		return m, m.input.Focus()

	case "t":
		if err := m.sim.Tick(1); err != nil {
			m.err = err
			break
		}
		m.status = m.timeStatus("tick")

	case "e":
		if err := m.sim.Eval(); err != nil {
			m.err = err
			break
		}
		m.status = m.timeStatus("eval")

	case "w":
		m.toggleTrace()
	}
	return m, nil
}

func (m *replModel) updateEdit(key tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch key.String() {
	case "ctrl+c":
		return m, tea.Quit
	case "esc":
		m.state = stateBrowse
		return m, nil
	case "enter":
		m.commit(m.input.Value())
		m.state = stateBrowse
		return m, nil
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(key)
	return m, cmd
}

// commit writes value to the selected row.
func (m *replModel) commit(value string) {
	h := m.rows[m.selected]
	_, v, err := parseAssignment(h.Name() + "=" + value)
	if err == nil {
		err = h.Write(v)
	}
	if err != nil {
		m.err = err
		return
	}
	m.status = h.String()
}

func (m *replModel) toggleTrace() {
	if m.sim.Tracing() {
		file := m.sim.TraceFile()
		if err := m.sim.StopTrace(); err != nil {
			m.err = err
			return
		}
		m.status = "trace closed: " + file
		return
	}
	if err := m.sim.StartTrace(m.traceFile); err != nil {
		m.err = err
		return
	}
	m.status = "tracing to " + m.traceFile
}

func (m *replModel) timeStatus(what string) string {
	t, err := m.sim.Time()
	if err != nil {
		return what
	}
	return fmt.Sprintf("%s (eval count %d)", what, t)
}

func (m *replModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("vlsim"))
	b.WriteString(" ")
	b.WriteString(m.sim.Module())
	b.WriteString(" ")
	b.WriteString(m.title)
	if m.sim.Tracing() {
		b.WriteString(" ")
		b.WriteString(kindStyle.Render("[tracing " + m.sim.TraceFile() + "]"))
	}
	b.WriteString("\n\n")

	for i, h := range m.rows {
		line := m.formatRow(h)
		if i == m.selected {
			b.WriteString(selectedStyle.Render("> " + line))
		} else {
			b.WriteString("  " + line)
		}
		b.WriteString("\n")
	}
	b.WriteString("\n")

	if m.state == stateEdit {
		b.WriteString(m.input.View())
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("enter write • esc cancel"))
		return b.String()
	}

	if m.err != nil {
		b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
		b.WriteString("\n")
	} else if m.status != "" {
		b.WriteString(statusStyle.Render(m.status))
		b.WriteString("\n")
	}
	b.WriteString(helpStyle.Render("↑/↓ select • enter edit • t tick • e eval • w trace • q quit"))
	return b.String()
}

func (m *replModel) formatRow(h *signal.Handle) string {
	kind := "int"
	switch h.Category() {
	case abi.Input:
		kind = "in"
	case abi.Output:
		kind = "out"
	}
	name := h.Path().Dotted()
	if h.Category() != abi.Internal {
		name = h.Name()
	}
	value := "?"
	if v, err := h.Value(); err == nil {
		value = fmt.Sprintf("%d'h%x", h.Width(), v)
	}
	return fmt.Sprintf("%-4s %s %s", kindStyle.Render(kind), nameStyle.Render(name), value)
}
