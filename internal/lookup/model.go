// Package lookup is a terminal picker that hosts a combobox.
package lookup

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"

	"github.com/phillip-england/hrsuite/internal/combobox"
)

const maxVisible = 8

var (
	labelStyle    = lipgloss.NewStyle().Bold(true)
	cursorStyle   = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "4", Dark: "12"}).Bold(true)
	codeStyle     = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "240", Dark: "245"})
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "1", Dark: "9"})
	helpStyle     = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "245", Dark: "241"})
	dropdownStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

type Config struct {
	Label       string
	Placeholder string
	Search      combobox.SearchFunc
	Debounce    time.Duration
	Logger      *zap.Logger
}

// refreshMsg tells the program the combobox changed state on its own,
// typically because a search finished.
type refreshMsg struct{}

// Model is a bubbletea model for a single combobox.
type Model struct {
	box   *combobox.Combobox
	input textinput.Model

	updates chan struct{}
	stop    chan struct{}

	cursor   int
	chosen   combobox.Option
	picked   bool
	quitting bool
}

func New(cfg Config) *Model {
	ti := textinput.New()
	ti.Placeholder = cfg.Placeholder
	if ti.Placeholder == "" {
		ti.Placeholder = combobox.DefaultPlaceholder
	}
	ti.CharLimit = 120
	ti.Width = 40

	m := &Model{
		input:   ti,
		updates: make(chan struct{}, 1),
		stop:    make(chan struct{}),
	}
	m.box = combobox.New(combobox.Config{
		Label:       cfg.Label,
		Placeholder: ti.Placeholder,
		OnSearch:    cfg.Search,
		Debounce:    cfg.Debounce,
		Logger:      cfg.Logger,
		OnUpdate:    m.signal,
	})
	return m
}

// signal coalesces combobox updates; one pending refresh is enough.
func (m *Model) signal() {
	select {
	case m.updates <- struct{}{}:
	default:
	}
}

func (m *Model) waitForUpdate() tea.Cmd {
	return func() tea.Msg {
		select {
		case <-m.updates:
			return refreshMsg{}
		case <-m.stop:
			return nil
		}
	}
}

func (m *Model) Init() tea.Cmd {
	m.input.Focus()
	m.box.Focus()
	return tea.Batch(textinput.Blink, m.waitForUpdate())
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case refreshMsg:
		m.clampCursor()
		return m, m.waitForUpdate()
	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	view := m.box.View()
	switch msg.String() {
	case "ctrl+c":
		return m.quit()
	case "tab":
		m.input.Focus()
		m.box.Focus()
		return m, nil
	case "esc":
		if !view.Open {
			return m.quit()
		}
		m.box.Dismiss()
		return m, nil
	case "up", "ctrl+p":
		if m.cursor > 0 {
			m.cursor--
		}
		return m, nil
	case "down", "ctrl+n":
		if m.cursor < len(view.Options)-1 {
			m.cursor++
		}
		return m, nil
	case "ctrl+u":
		m.box.Clear()
		m.input.SetValue("")
		m.picked = false
		m.cursor = 0
		return m, nil
	case "enter":
		if view.Open && len(view.Options) > 0 {
			opt := view.Options[min(m.cursor, len(view.Options)-1)]
			m.box.Select(opt)
			m.input.SetValue(opt.Name)
			m.input.CursorEnd()
			m.chosen = opt
			m.picked = true
			return m, nil
		}
		if m.picked {
			return m.quit()
		}
		return m, nil
	}

	before := m.input.Value()
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	if after := m.input.Value(); after != before {
		m.box.Input(after)
		m.picked = false
		m.cursor = 0
	}
	return m, cmd
}

func (m *Model) quit() (tea.Model, tea.Cmd) {
	m.quitting = true
	m.shutdown()
	return m, tea.Quit
}

func (m *Model) shutdown() {
	select {
	case <-m.stop:
	default:
		close(m.stop)
	}
	m.box.Close()
}

func (m *Model) clampCursor() {
	n := len(m.box.View().Options)
	if m.cursor >= n {
		m.cursor = max(n-1, 0)
	}
}

// Selected returns the picked option, if any.
func (m *Model) Selected() (combobox.Option, bool) {
	return m.chosen, m.picked
}

func (m *Model) View() string {
	if m.quitting {
		return ""
	}
	view := m.box.View()

	var b strings.Builder
	if view.Label != "" {
		b.WriteString(labelStyle.Render(view.Label))
		b.WriteString("\n")
	}
	b.WriteString(m.input.View())
	b.WriteString("\n")

	if view.Open {
		b.WriteString(dropdownStyle.Render(m.renderOptions(view)))
		b.WriteString("\n")
	}
	if view.Error != "" {
		b.WriteString(errorStyle.Render(view.Error))
		b.WriteString("\n")
	}
	b.WriteString(helpStyle.Render("↑/↓ move • enter select • ctrl+u clear • esc close • ctrl+c quit"))
	return b.String()
}

func (m *Model) renderOptions(view combobox.View) string {
	switch {
	case view.Loading && len(view.Options) == 0:
		return "Searching..."
	case len(view.Options) == 0:
		return "No results found"
	}

	start := 0
	if m.cursor >= maxVisible {
		start = m.cursor - maxVisible + 1
	}
	end := min(start+maxVisible, len(view.Options))

	lines := make([]string, 0, end-start+1)
	for i := start; i < end; i++ {
		opt := view.Options[i]
		line := opt.Name
		if opt.Code != "" {
			line += " " + codeStyle.Render(opt.Code)
		}
		if i == m.cursor {
			line = cursorStyle.Render("> ") + line
		} else {
			line = "  " + line
		}
		lines = append(lines, line)
	}
	if view.Loading {
		lines = append(lines, codeStyle.Render("  searching..."))
	}
	return strings.Join(lines, "\n")
}

// Run shows the picker until the user confirms a choice or quits.
func Run(ctx context.Context, cfg Config) (combobox.Option, bool, error) {
	m := New(cfg)
	defer m.shutdown()

	if _, err := tea.NewProgram(m, tea.WithContext(ctx)).Run(); err != nil {
		return combobox.Option{}, false, fmt.Errorf("run lookup: %w", err)
	}
	opt, ok := m.Selected()
	return opt, ok, nil
}
