package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"sshdeck/internal/apperr"
	"sshdeck/internal/bridge"
	"sshdeck/internal/config"
	"sshdeck/internal/ui/messages"
	"sshdeck/internal/ui/views"
)

// programModel wraps the current view and tracks the unlocked master
// passphrase plus the profile the user chose to connect to. When a
// connection is chosen the program quits; main attaches the shell and then
// re-enters the UI.
type programModel struct {
	client      *bridge.Client
	currentView tea.Model
	master      string
	connectTo   string
	quitting    bool
}

func newProgramModel(client *bridge.Client, master string) *programModel {
	m := &programModel{client: client, master: master}
	if master == "" {
		m.currentView = views.NewUnlockModel()
	} else {
		m.currentView = views.NewBrowseModel(client, master)
	}
	return m
}

func (m *programModel) Init() tea.Cmd {
	return m.currentView.Init()
}

func (m *programModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case messages.MasterEnteredMsg:
		m.master = string(msg)
		m.currentView = views.NewBrowseModel(m.client, m.master)
		return m, m.currentView.Init()

	case messages.ConnectChosenMsg:
		m.connectTo = msg.ProfileID
		return m, tea.Quit

	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			m.quitting = true
			return m, tea.Quit
		}
	}

	var cmd tea.Cmd
	m.currentView, cmd = m.currentView.Update(msg)
	return m, cmd
}

func (m *programModel) View() string {
	if m.quitting {
		return ""
	}
	return m.currentView.View()
}

func main() {
	defaultSocket, _ := config.DefaultSocketPath()
	socketPath := flag.String("socket", defaultSocket, "path to the sshdeckd control socket")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	client, err := bridge.Dial(ctx, *socketPath)
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "sshdeck: %v\nIs sshdeckd running?\n", err)
		os.Exit(1)
	}
	defer client.Close()

	// Alternate between the UI and attached shells until the user quits
	// from the profile list.
	master := ""
	for {
		model := newProgramModel(client, master)
		p := tea.NewProgram(model, tea.WithAltScreen())
		finalModel, err := p.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "sshdeck: %v\n", err)
			os.Exit(1)
		}

		final := finalModel.(*programModel)
		master = final.master
		if final.connectTo == "" {
			return
		}

		if err := connectAndAttach(client, final.connectTo, master); err != nil {
			fmt.Fprintf(os.Stderr, "sshdeck: %v\n", err)
		}
	}
}

// connectAndAttach attaches a shell, handling first contact with an unknown
// server: the fingerprint from the failed connect is shown, and if the user
// accepts it the key is recorded and the connect retried once.
func connectAndAttach(client *bridge.Client, profileID, master string) error {
	err := attachShell(client, profileID, master)
	if !apperr.IsKind(err, apperr.UnknownHost) {
		return err
	}

	fmt.Fprintf(os.Stderr, "%v\n", err)
	fmt.Fprint(os.Stderr, "Trust this host and reconnect? [y/N]: ")
	answer, _ := bufio.NewReader(os.Stdin).ReadString('\n')
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
	default:
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	fingerprint, err := client.TrustHost(ctx, profileID)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Recorded host key %s\n", fingerprint)

	return attachShell(client, profileID, master)
}
