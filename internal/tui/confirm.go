// Package tui is the terminal front end: the timeline grid browser and
// small prompts used by the CLI.
package tui

import (
	"fmt"
	"io"
	"os"

	"charm.land/bubbles/v2/key"
	tea "charm.land/bubbletea/v2"
	"charm.land/lipgloss/v2"

	"github.com/wethinkt/go-timegrid/internal/i18n"
)

// ConfirmResult represents the outcome of a confirmation dialog.
type ConfirmResult int

const (
	ConfirmYes ConfirmResult = iota
	ConfirmNo
	ConfirmCancelled
)

// ConfirmOptions configures the confirm dialog.
type ConfirmOptions struct {
	Prompt      string    // The question to ask
	Affirmative string    // Text for yes button (default localized "Yes")
	Negative    string    // Text for no button (default localized "No")
	Default     bool      // Default selection (true = affirmative)
	Output      io.Writer // Where to write output (default os.Stdout)
	Input       io.Reader // Where to read keys from (default os.Stdin)
}

// Confirm asks a yes/no question, used before destructive library
// operations such as seeding.
func Confirm(opts ConfirmOptions) (ConfirmResult, error) {
	if opts.Affirmative == "" {
		opts.Affirmative = i18n.T("common.yes", "Yes")
	}
	if opts.Negative == "" {
		opts.Negative = i18n.T("common.no", "No")
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.Input == nil {
		opts.Input = os.Stdin
	}

	m := newConfirmModel(opts)
	p := tea.NewProgram(m, tea.WithOutput(opts.Output), tea.WithInput(opts.Input))
	finalModel, err := p.Run()
	if err != nil {
		return ConfirmCancelled, err
	}

	result := finalModel.(confirmModel)
	return result.result, nil
}

// confirmModel is the Bubbletea model for the confirm dialog.
type confirmModel struct {
	prompt      string
	affirmative string
	negative    string
	selection   bool // true = affirmative selected
	result      ConfirmResult
	quitting    bool
	keys        confirmKeyMap
}

type confirmKeyMap struct {
	Toggle      key.Binding
	Submit      key.Binding
	Affirmative key.Binding
	Negative    key.Binding
	Quit        key.Binding
	Abort       key.Binding
}

func defaultConfirmKeyMap(affirmative, negative string) confirmKeyMap {
	return confirmKeyMap{
		Toggle: key.NewBinding(
			key.WithKeys("left", "right", "h", "l", "tab", "shift+tab"),
			key.WithHelp("←/→", i18n.T("confirm.toggle", "toggle")),
		),
		Submit: key.NewBinding(
			key.WithKeys("enter"),
			key.WithHelp("enter", i18n.T("confirm.submit", "submit")),
		),
		Affirmative: key.NewBinding(
			key.WithKeys("y", "Y"),
			key.WithHelp("y", affirmative),
		),
		Negative: key.NewBinding(
			key.WithKeys("n", "N"),
			key.WithHelp("n", negative),
		),
		Quit: key.NewBinding(
			key.WithKeys("q", "esc"),
			key.WithHelp("esc", i18n.T("confirm.cancel", "cancel")),
		),
		Abort: key.NewBinding(
			key.WithKeys("ctrl+c"),
			key.WithHelp("ctrl+c", "abort"),
		),
	}
}

func newConfirmModel(opts ConfirmOptions) confirmModel {
	return confirmModel{
		prompt:      opts.Prompt,
		affirmative: opts.Affirmative,
		negative:    opts.Negative,
		selection:   opts.Default,
		result:      ConfirmCancelled,
		keys:        defaultConfirmKeyMap(opts.Affirmative, opts.Negative),
	}
}

func (m confirmModel) Init() tea.Cmd {
	return nil
}

func (m confirmModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Abort):
			m.result = ConfirmCancelled
			m.quitting = true
			return m, tea.Interrupt

		case key.Matches(msg, m.keys.Quit):
			m.result = ConfirmCancelled
			m.quitting = true
			return m, tea.Quit

		case key.Matches(msg, m.keys.Affirmative):
			m.result = ConfirmYes
			m.quitting = true
			return m, tea.Quit

		case key.Matches(msg, m.keys.Negative):
			m.result = ConfirmNo
			m.quitting = true
			return m, tea.Quit

		case key.Matches(msg, m.keys.Toggle):
			m.selection = !m.selection

		case key.Matches(msg, m.keys.Submit):
			if m.selection {
				m.result = ConfirmYes
			} else {
				m.result = ConfirmNo
			}
			m.quitting = true
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m confirmModel) View() tea.View {
	if m.quitting {
		return tea.NewView("")
	}

	st := GetStyles()
	var aff, neg string
	if m.selection {
		aff = st.ConfirmSelected.Render(m.affirmative)
		neg = st.ConfirmUnselected.Render(m.negative)
	} else {
		aff = st.ConfirmUnselected.Render(m.affirmative)
		neg = st.ConfirmSelected.Render(m.negative)
	}

	buttons := lipgloss.JoinHorizontal(lipgloss.Center, aff, "  ", neg)

	content := fmt.Sprintf("\n%s\n\n%s\n",
		st.ConfirmPrompt.Render(m.prompt),
		buttons,
	)

	return tea.NewView(content)
}
