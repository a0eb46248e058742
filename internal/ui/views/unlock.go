// internal/ui/views/unlock.go

package views

import (
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"sshdeck/internal/ui"
	"sshdeck/internal/ui/messages"
)

// UnlockModel asks for the master passphrase before anything else is shown.
// The passphrase is kept as runes and handed off in a single message; it is
// never echoed.
type UnlockModel struct {
	passphrase    []rune
	errorMessage  string
	width, height int
}

func NewUnlockModel() *UnlockModel {
	return &UnlockModel{passphrase: []rune{}}
}

func (m *UnlockModel) Init() tea.Cmd {
	return nil
}

func (m *UnlockModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyRunes:
			m.passphrase = append(m.passphrase, msg.Runes...)
		case tea.KeyBackspace, tea.KeyDelete:
			if len(m.passphrase) > 0 {
				m.passphrase = m.passphrase[:len(m.passphrase)-1]
			}
		case tea.KeyEnter:
			if len(m.passphrase) == 0 {
				m.errorMessage = "Passphrase cannot be empty"
				return m, nil
			}
			pass := string(m.passphrase)
			return m, tea.Sequence(
				tea.ClearScreen,
				func() tea.Msg { return messages.MasterEnteredMsg(pass) },
			)
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m *UnlockModel) View() string {
	var b strings.Builder

	b.WriteString(ui.TitleStyle.Render("sshdeck"))
	b.WriteString("\n\n")
	b.WriteString(ui.DescriptionStyle.Render("Enter master passphrase to unlock your profiles"))
	b.WriteString("\n\n")
	b.WriteString(ui.InputStyle.Render(strings.Repeat("*", len(m.passphrase))))
	b.WriteString("\n")

	if m.errorMessage != "" {
		b.WriteString("\n" + ui.ErrorStyle.Render(m.errorMessage) + "\n")
	}
	b.WriteString("\n" + ui.DescriptionStyle.Render("enter: unlock • esc: quit"))

	content := ui.WindowStyle.Render(b.String())
	if m.width > 0 && m.height > 0 {
		return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, content)
	}
	return content
}
