// internal/ui/messages/messages.go

package messages

import "sshdeck/internal/bridge"

// MasterEnteredMsg carries the master passphrase out of the unlock view.
type MasterEnteredMsg string

// ProfilesLoadedMsg delivers the profile list from the daemon.
type ProfilesLoadedMsg struct {
	Profiles []bridge.ProfileInfo
	Version  int
}

// ProfileSavedMsg is sent after a successful add or update.
type ProfileSavedMsg struct {
	ID string
}

// ProfileDeletedMsg is sent after a successful delete.
type ProfileDeletedMsg struct {
	ID string
}

// ConnectChosenMsg tells the program to leave the UI and attach an
// interactive shell to the chosen profile.
type ConnectChosenMsg struct {
	ProfileID string
}

// ErrMsg wraps a bridge failure for display.
type ErrMsg struct {
	Err error
}

// CopiedMsg confirms a clipboard copy.
type CopiedMsg struct{}
