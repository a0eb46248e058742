// internal/ui/views/browse.go

package views

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"sshdeck/internal/bridge"
	"sshdeck/internal/ui"
	"sshdeck/internal/ui/messages"
)

type browseMode int

const (
	modeList browseMode = iota
	modeForm
	modeConfirmDelete
)

const (
	fieldName = iota
	fieldHost
	fieldPort
	fieldUsername
	fieldPassword
	fieldCount
)

// BrowseModel lists profiles and hosts the add/edit form. All store and
// vault work happens on the daemon side of the bridge; this model only
// renders and forwards.
type BrowseModel struct {
	client *bridge.Client
	master string

	mode     browseMode
	profiles []bridge.ProfileInfo
	cursor   int
	status   string
	errText  string

	inputs    []textinput.Model
	focused   int
	editingID string

	width, height int
}

func NewBrowseModel(client *bridge.Client, master string) *BrowseModel {
	inputs := make([]textinput.Model, fieldCount)
	for i := range inputs {
		inputs[i] = textinput.New()
	}
	inputs[fieldName].Placeholder = "Name"
	inputs[fieldHost].Placeholder = "Host"
	inputs[fieldPort].Placeholder = "Port (default 22)"
	inputs[fieldUsername].Placeholder = "Username"
	inputs[fieldPassword].Placeholder = "Password"
	inputs[fieldPassword].EchoMode = textinput.EchoPassword

	return &BrowseModel{
		client: client,
		master: master,
		inputs: inputs,
	}
}

func (m *BrowseModel) Init() tea.Cmd {
	return m.loadProfiles()
}

func (m *BrowseModel) loadProfiles() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		result, err := m.client.ListProfiles(ctx)
		if err != nil {
			return messages.ErrMsg{Err: err}
		}
		return messages.ProfilesLoadedMsg{Profiles: result.Profiles, Version: result.Version}
	}
}

func (m *BrowseModel) saveProfile() tea.Cmd {
	port := 22
	if v := strings.TrimSpace(m.inputs[fieldPort].Value()); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return func() tea.Msg {
				return messages.ErrMsg{Err: fmt.Errorf("port must be a number")}
			}
		}
		port = p
	}

	payload := bridge.ProfilePayload{
		ID:       m.editingID,
		Name:     strings.TrimSpace(m.inputs[fieldName].Value()),
		Host:     strings.TrimSpace(m.inputs[fieldHost].Value()),
		Port:     port,
		Username: strings.TrimSpace(m.inputs[fieldUsername].Value()),
		Password: m.inputs[fieldPassword].Value(),
	}

	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if payload.ID == "" {
			id, err := m.client.AddProfile(ctx, payload, m.master)
			if err != nil {
				return messages.ErrMsg{Err: err}
			}
			return messages.ProfileSavedMsg{ID: id}
		}
		if err := m.client.UpdateProfile(ctx, payload, m.master); err != nil {
			return messages.ErrMsg{Err: err}
		}
		return messages.ProfileSavedMsg{ID: payload.ID}
	}
}

func (m *BrowseModel) deleteProfile(id string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := m.client.DeleteProfile(ctx, id); err != nil {
			return messages.ErrMsg{Err: err}
		}
		return messages.ProfileDeletedMsg{ID: id}
	}
}

func (m *BrowseModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case messages.ProfilesLoadedMsg:
		m.profiles = msg.Profiles
		if m.cursor >= len(m.profiles) {
			m.cursor = 0
		}
		return m, nil

	case messages.ProfileSavedMsg:
		m.mode = modeList
		m.status = "Profile saved"
		m.errText = ""
		return m, m.loadProfiles()

	case messages.ProfileDeletedMsg:
		m.mode = modeList
		m.status = "Profile deleted"
		m.errText = ""
		return m, m.loadProfiles()

	case messages.CopiedMsg:
		m.status = "Address copied to clipboard"
		return m, nil

	case messages.ErrMsg:
		m.mode = modeList
		m.status = ""
		m.errText = msg.Err.Error()
		return m, nil

	case tea.KeyMsg:
		switch m.mode {
		case modeForm:
			return m.updateForm(msg)
		case modeConfirmDelete:
			return m.updateConfirmDelete(msg)
		default:
			return m.updateList(msg)
		}
	}
	return m, nil
}

func (m *BrowseModel) updateList(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "q":
		return m, tea.Quit
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(m.profiles)-1 {
			m.cursor++
		}
	case "r":
		return m, m.loadProfiles()
	case "a":
		m.openForm(nil)
	case "e":
		if p := m.selected(); p != nil {
			m.openForm(p)
		}
	case "d":
		if m.selected() != nil {
			m.mode = modeConfirmDelete
		}
	case "c":
		if p := m.selected(); p != nil {
			addr := net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
			return m, func() tea.Msg {
				if err := clipboard.WriteAll(addr); err != nil {
					return messages.ErrMsg{Err: err}
				}
				return messages.CopiedMsg{}
			}
		}
	case "enter":
		if p := m.selected(); p != nil {
			id := p.ID
			return m, func() tea.Msg {
				return messages.ConnectChosenMsg{ProfileID: id}
			}
		}
	}
	return m, nil
}

func (m *BrowseModel) updateForm(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc:
		m.mode = modeList
		return m, nil
	case tea.KeyCtrlC:
		return m, tea.Quit
	case tea.KeyTab, tea.KeyDown:
		m.focusField((m.focused + 1) % fieldCount)
		return m, nil
	case tea.KeyShiftTab, tea.KeyUp:
		m.focusField((m.focused + fieldCount - 1) % fieldCount)
		return m, nil
	case tea.KeyEnter:
		return m, m.saveProfile()
	}

	var cmd tea.Cmd
	m.inputs[m.focused], cmd = m.inputs[m.focused].Update(msg)
	return m, cmd
}

func (m *BrowseModel) updateConfirmDelete(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "y", "Y":
		if p := m.selected(); p != nil {
			return m, m.deleteProfile(p.ID)
		}
		m.mode = modeList
	case "n", "N", "esc":
		m.mode = modeList
	case "ctrl+c":
		return m, tea.Quit
	}
	return m, nil
}

func (m *BrowseModel) openForm(p *bridge.ProfileInfo) {
	for i := range m.inputs {
		m.inputs[i].SetValue("")
	}
	m.editingID = ""
	if p != nil {
		m.editingID = p.ID
		m.inputs[fieldName].SetValue(p.Name)
		m.inputs[fieldHost].SetValue(p.Host)
		m.inputs[fieldPort].SetValue(strconv.Itoa(p.Port))
		m.inputs[fieldUsername].SetValue(p.Username)
	}
	m.focusField(fieldName)
	m.mode = modeForm
	m.status = ""
	m.errText = ""
}

func (m *BrowseModel) focusField(i int) {
	m.inputs[m.focused].Blur()
	m.focused = i
	m.inputs[m.focused].Focus()
}

func (m *BrowseModel) selected() *bridge.ProfileInfo {
	if m.cursor < 0 || m.cursor >= len(m.profiles) {
		return nil
	}
	return &m.profiles[m.cursor]
}

func (m *BrowseModel) View() string {
	switch m.mode {
	case modeForm:
		return m.viewForm()
	case modeConfirmDelete:
		return m.viewConfirmDelete()
	default:
		return m.viewList()
	}
}

func (m *BrowseModel) viewList() string {
	var b strings.Builder

	b.WriteString(ui.TitleStyle.Render("Profiles"))
	b.WriteString("\n\n")

	if len(m.profiles) == 0 {
		b.WriteString(ui.DescriptionStyle.Render("No profiles yet. Press 'a' to add one."))
		b.WriteString("\n")
	}
	for i, p := range m.profiles {
		line := fmt.Sprintf("%s  %s@%s", p.Name, p.Username, net.JoinHostPort(p.Host, strconv.Itoa(p.Port)))
		if i == m.cursor {
			b.WriteString(ui.SelectedItemStyle.Render("> " + line))
		} else {
			b.WriteString(ui.ItemStyle.Render("  " + line))
		}
		b.WriteString("\n")
	}

	if m.status != "" {
		b.WriteString("\n" + ui.SuccessStyle.Render(m.status))
	}
	if m.errText != "" {
		b.WriteString("\n" + ui.ErrorStyle.Render(m.errText))
	}

	b.WriteString("\n\n" + ui.DescriptionStyle.Render(
		"enter: connect • a: add • e: edit • d: delete • c: copy address • r: refresh • q: quit"))
	return b.String()
}

func (m *BrowseModel) viewForm() string {
	var b strings.Builder

	title := "Add profile"
	if m.editingID != "" {
		title = "Edit profile"
	}
	b.WriteString(ui.TitleStyle.Render(title))
	b.WriteString("\n\n")

	labels := []string{"Name", "Host", "Port", "Username", "Password"}
	for i, input := range m.inputs {
		b.WriteString(ui.DescriptionStyle.Render(labels[i]))
		b.WriteString("\n")
		b.WriteString(input.View())
		b.WriteString("\n")
	}

	b.WriteString("\n" + ui.DescriptionStyle.Render("tab: next field • enter: save • esc: cancel"))
	return b.String()
}

func (m *BrowseModel) viewConfirmDelete() string {
	p := m.selected()
	if p == nil {
		return ""
	}
	return ui.WindowStyle.Render(fmt.Sprintf(
		"Delete profile %q?\n\n%s",
		p.Name,
		ui.DescriptionStyle.Render("y: delete • n: keep"),
	))
}
