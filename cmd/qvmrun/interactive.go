package main

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/wippyai/qvm/console"
	"github.com/wippyai/qvm/errors"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	moduleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	modeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	commandStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

// syncBuffer collects console output written while a command runs.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

// Take returns and clears everything written so far.
func (b *syncBuffer) Take() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.buf.String()
	b.buf.Reset()
	return s
}

type interactiveModel struct {
	ctx      context.Context
	con      *console.Console
	out      *syncBuffer
	err      error
	input    textinput.Model
	view     viewport.Model
	lines    []string
	loaded   []loadedModule
	history  []string
	histIdx  int
	busy     bool
	ready    bool
	quitting bool
}

type execResultMsg struct {
	err    error
	line   string
	output string
	loaded []loadedModule
}

// loadedModule is a title bar entry. The bar renders from a copy taken on
// the goroutine that ran the command, never from the registry itself.
type loadedModule struct {
	name string
	mode string
}

func snapshot(con *console.Console) []loadedModule {
	vms := con.Registry().VMs()
	out := make([]loadedModule, len(vms))
	for i, v := range vms {
		out[i] = loadedModule{name: v.Name(), mode: v.Mode().String()}
	}
	return out
}

func newInteractiveModel(ctx context.Context, con *console.Console, out *syncBuffer) *interactiveModel {
	ti := textinput.New()
	ti.Prompt = "] "
	ti.Placeholder = "vminfo"
	ti.Width = 60
	ti.Focus()

	m := &interactiveModel{ctx: ctx, con: con, out: out, input: ti, loaded: snapshot(con)}
	if early := out.Take(); early != "" {
		m.lines = append(m.lines, strings.Split(strings.TrimRight(early, "\n"), "\n")...)
	}
	return m
}

func (m *interactiveModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m *interactiveModel) execute(line string) tea.Cmd {
	return func() tea.Msg {
		err := m.con.Execute(m.ctx, line)
		return execResultMsg{line: line, output: m.out.Take(), err: err, loaded: snapshot(m.con)}
	}
}

func (m *interactiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		height := msg.Height - 4
		if height < 1 {
			height = 1
		}
		if !m.ready {
			m.view = viewport.New(msg.Width, height)
			m.ready = true
		} else {
			m.view.Width = msg.Width
			m.view.Height = height
		}
		m.refresh()

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit

		case "enter":
			line := strings.TrimSpace(m.input.Value())
			if line == "" || m.busy {
				return m, nil
			}
			if line == "quit" || line == "exit" {
				m.quitting = true
				return m, tea.Quit
			}
			m.history = append(m.history, line)
			m.histIdx = len(m.history)
			m.input.SetValue("")
			m.busy = true
			return m, m.execute(line)

		case "up":
			if m.histIdx > 0 {
				m.histIdx--
				m.input.SetValue(m.history[m.histIdx])
				m.input.CursorEnd()
			}
			return m, nil

		case "down":
			if m.histIdx < len(m.history)-1 {
				m.histIdx++
				m.input.SetValue(m.history[m.histIdx])
				m.input.CursorEnd()
			} else {
				m.histIdx = len(m.history)
				m.input.SetValue("")
			}
			return m, nil

		case "pgup", "pgdown":
			var cmd tea.Cmd
			m.view, cmd = m.view.Update(msg)
			return m, cmd
		}

	case execResultMsg:
		m.busy = false
		m.loaded = msg.loaded
		m.lines = append(m.lines, commandStyle.Render("] "+msg.line))
		if out := strings.TrimRight(msg.output, "\n"); out != "" {
			m.lines = append(m.lines, strings.Split(out, "\n")...)
		}
		if msg.err != nil {
			m.lines = append(m.lines, errorStyle.Render(fmt.Sprintf("Error: %v", msg.err)))
			if errors.SeverityOf(msg.err) == errors.Fatal {
				m.err = msg.err
				m.quitting = true
				return m, tea.Quit
			}
		}
		m.refresh()
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *interactiveModel) refresh() {
	if !m.ready {
		return
	}
	m.view.SetContent(strings.Join(m.lines, "\n"))
	m.view.GotoBottom()
}

// modules renders the loaded modules for the title bar.
func (m *interactiveModel) modules() string {
	if len(m.loaded) == 0 {
		return helpStyle.Render("no modules loaded")
	}
	parts := make([]string, len(m.loaded))
	for i, l := range m.loaded {
		parts[i] = moduleStyle.Render(l.name) + " " + modeStyle.Render(l.mode)
	}
	return strings.Join(parts, "  ")
}

func (m *interactiveModel) View() string {
	if m.quitting {
		return ""
	}
	if !m.ready {
		return "Starting console..."
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("QVM Console"))
	b.WriteString(" ")
	b.WriteString(m.modules())
	b.WriteString("\n")
	b.WriteString(m.view.View())
	b.WriteString("\n")
	b.WriteString(m.input.View())
	b.WriteString("\n")
	if m.busy {
		b.WriteString(helpStyle.Render("running..."))
	} else {
		b.WriteString(helpStyle.Render("enter run • ↑/↓ history • pgup/pgdn scroll • help commands • esc quit"))
	}
	return b.String()
}

func runInteractive(ctx context.Context, con *console.Console, out *syncBuffer) error {
	p := tea.NewProgram(newInteractiveModel(ctx, con, out), tea.WithAltScreen())
	final, err := p.Run()
	if err != nil {
		return err
	}
	if m, ok := final.(*interactiveModel); ok {
		return m.err
	}
	return nil
}
