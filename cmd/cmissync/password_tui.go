package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
)

const (
	txtPasswordPlaceholder = "password"
	txtPasswordPrompt      = "Enter the password of %s"
	txtPasswordPromptAnon  = "Enter the repository password"
	txtCheckingFolder      = "Checking the remote folder..."
	txtPasswordHelp        = "Press 'Enter' to submit, an empty password keeps the default. 'Esc' or 'Ctrl+C' to quit."
)

var errPasswordCancelled = errors.New("password prompt cancelled")

var focusedStyle = green

type PasswordTUIOpts struct {
	Folder string
	URL    string
	User   string
	// SubmitHandler checks a password; an error keeps the prompt open
	SubmitHandler func(password string) error
}

type passwordModel struct {
	opts *PasswordTUIOpts

	input   textinput.Model
	spinner spinner.Model

	isLoading    bool
	errorMessage string
	done         bool
}

type passwordCheckedMsg struct{ err error }

func newPasswordModel(opts *PasswordTUIOpts) passwordModel {
	input := textinput.New()
	input.Placeholder = txtPasswordPlaceholder
	input.EchoMode = textinput.EchoPassword
	input.EchoCharacter = '•'
	input.CharLimit = 256
	input.Width = 32
	input.PromptStyle = focusedStyle
	input.TextStyle = focusedStyle
	input.PlaceholderStyle = gray
	input.Focus()

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = cyan

	return passwordModel{
		opts:    opts,
		input:   input,
		spinner: s,
	}
}

func (m passwordModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick)
}

func (m passwordModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyEnter:
			if m.isLoading {
				return m, nil
			}
			return m.submit()
		}
		if m.isLoading {
			return m, nil
		}
		m.errorMessage = ""
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case passwordCheckedMsg:
		m.isLoading = false
		if msg.err != nil {
			m.errorMessage = fmt.Sprintf("%s %s", red.Bold(true).Render("ERROR:"), msg.err.Error())
			m.input.Reset()
			m.input.Focus()
			return m, textinput.Blink
		}
		m.done = true
		return m, tea.Quit
	}
	return m, nil
}

func (m passwordModel) submit() (tea.Model, tea.Cmd) {
	m.errorMessage = ""
	if m.opts.SubmitHandler == nil {
		m.done = true
		return m, tea.Quit
	}

	m.isLoading = true
	m.input.Blur()
	password := m.input.Value()
	handler := m.opts.SubmitHandler
	return m, func() tea.Msg {
		return passwordCheckedMsg{err: handler(password)}
	}
}

func (m passwordModel) View() string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("%s%s\n", gray.Render("Folder  "), green.Render(m.opts.Folder)))
	b.WriteString(fmt.Sprintf("%s%s\n\n", gray.Render("Server  "), green.Render(m.opts.URL)))
	if m.opts.User != "" {
		b.WriteString(fmt.Sprintf(txtPasswordPrompt, green.Render(m.opts.User)))
	} else {
		b.WriteString(txtPasswordPromptAnon)
	}
	b.WriteString("\n\n")
	b.WriteString(m.input.View())

	if m.isLoading {
		b.WriteString("\n\n")
		b.WriteString(fmt.Sprintf("%s %s", m.spinner.View(), txtCheckingFolder))
	}
	if m.errorMessage != "" {
		b.WriteString("\n\n")
		b.WriteString(red.Render(m.errorMessage))
	}
	b.WriteString("\n\n")
	b.WriteString(gray.Render(txtPasswordHelp))
	b.WriteString("\n")
	return b.String()
}

// RunPasswordTUI asks for a password without echoing it and returns it once
// the submit handler accepts it
func RunPasswordTUI(opts PasswordTUIOpts) (string, error) {
	model, err := tea.NewProgram(newPasswordModel(&opts)).Run()
	if err != nil {
		return "", fmt.Errorf("TUI encountered an error during execution: %w", err)
	}

	fm, ok := model.(passwordModel)
	if !ok || !fm.done {
		return "", errPasswordCancelled
	}
	return fm.input.Value(), nil
}
