//go:build windows

package main

import (
	"context"
	"os"

	"golang.org/x/term"

	"sshdeck/internal/bridge"
)

// attachShell on Windows relays without SIGWINCH; the remote pty keeps the
// size captured at connect time.
func attachShell(client *bridge.Client, profileID, master string) error {
	fd := int(os.Stdout.Fd())
	width, height, err := term.GetSize(fd)
	if err != nil {
		width, height = 80, 24
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	result, err := client.ConnectSession(ctx, bridge.SessionConnectRequest{
		ProfileID: profileID,
		Master:    master,
		Cols:      width,
		Rows:      height,
	})
	if err != nil {
		return err
	}
	defer client.DisconnectSession(context.Background(), result.SessionID)

	stream, err := client.DialSession(ctx, result.SessionID)
	if err != nil {
		return err
	}
	defer stream.Close()

	rawState, err := term.MakeRaw(int(os.Stdin.Fd()))
	if err != nil {
		return err
	}
	defer term.Restore(int(os.Stdin.Fd()), rawState)

	relay(stream, os.Stdin, os.Stdout)
	return nil
}
