//go:build !windows

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/term"

	"sshdeck/internal/bridge"
)

// attachShell connects the chosen profile through the daemon and relays
// bytes between the local terminal and the session stream until either
// side closes. The local terminal runs raw; SIGWINCH keeps the remote pty
// in sync with the window size.
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
	defer func() {
		if err := term.Restore(int(os.Stdin.Fd()), rawState); err != nil {
			os.Stderr.WriteString("failed to restore terminal state: " + err.Error() + "\n")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGWINCH)
	defer signal.Stop(sigChan)
	go func() {
		for {
			select {
			case <-sigChan:
				if w, h, err := term.GetSize(fd); err == nil {
					client.ResizeSession(ctx, result.SessionID, h, w)
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	relay(stream, os.Stdin, os.Stdout)
	return nil
}
