package term

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
)

// selectModel picks one of a few options with the arrow keys.
type selectModel struct {
	title   string
	options []string
	cursor  int
	chosen  bool
	quit    bool
}

func newSelect(title string, options []string, preselect string) selectModel {
	m := selectModel{title: title, options: options}
	for i, o := range options {
		if o == preselect {
			m.cursor = i
		}
	}
	return m
}

func (m selectModel) Init() tea.Cmd { return nil }

func (m selectModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}
	switch key.String() {
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(m.options)-1 {
			m.cursor++
		}
	case "enter":
		m.chosen = true
		return m, tea.Quit
	case "esc", "ctrl+c", "q":
		m.quit = true
		return m, tea.Quit
	}
	return m, nil
}

func (m selectModel) View() string {
	if m.chosen || m.quit {
		return ""
	}
	var b strings.Builder
	b.WriteString(titleStyle.Render(m.title) + "\n\n")
	for i, o := range m.options {
		if i == m.cursor {
			b.WriteString(selectedStyle.Render("> "+o) + "\n")
			continue
		}
		b.WriteString("  " + o + "\n")
	}
	b.WriteString("\n" + helpStyle.Render("↑/↓ move • enter select • esc cancel"))
	return b.String()
}

func (m selectModel) value() (string, bool) {
	if !m.chosen || len(m.options) == 0 {
		return "", false
	}
	return m.options[m.cursor], true
}

// inputModel reads one line of text.
type inputModel struct {
	title string
	input textinput.Model
	done  bool
	quit  bool
}

func newInput(title, value string) inputModel {
	ti := textinput.New()
	ti.SetValue(value)
	ti.CharLimit = 256
	ti.Width = 50
	ti.Focus()
	return inputModel{title: title, input: ti}
}

func (m inputModel) Init() tea.Cmd { return textinput.Blink }

func (m inputModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok {
		switch key.Type {
		case tea.KeyEnter:
			m.done = true
			return m, tea.Quit
		case tea.KeyEsc, tea.KeyCtrlC:
			m.quit = true
			return m, tea.Quit
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m inputModel) View() string {
	if m.done || m.quit {
		return ""
	}
	return fmt.Sprintf("%s\n\n%s\n\n%s", titleStyle.Render(m.title), m.input.View(), helpStyle.Render("enter accept • esc cancel"))
}

// confirmModel asks a yes/no question.
type confirmModel struct {
	title   string
	message string
	action  string
	notice  bool
	answer  bool
	done    bool
}

func (m confirmModel) Init() tea.Cmd { return nil }

func (m confirmModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}
	switch key.String() {
	case "y", "Y", "enter":
		m.answer, m.done = true, true
		return m, tea.Quit
	case "n", "N", "esc", "ctrl+c", "q":
		m.answer, m.done = m.notice, true
		return m, tea.Quit
	}
	return m, nil
}

func (m confirmModel) View() string {
	if m.done {
		return ""
	}
	help := fmt.Sprintf("y/enter %s • n/esc cancel", strings.ToLower(m.action))
	if m.notice {
		help = "enter " + strings.ToLower(m.action)
	}
	return fmt.Sprintf("%s\n%s\n\n%s", titleStyle.Render(m.title), m.message, helpStyle.Render(help))
}
