package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"sshdeck/internal/bridge"
	"sshdeck/internal/config"
	"sshdeck/internal/logging"
)

// sshdeckd is the privileged host process. It owns the profile store, the
// credential vault and every live SSH session, and exposes them to the UI
// process only through the bridge socket.
func main() {
	settings, err := config.LoadSettings()
	if err != nil {
		fmt.Fprintf(os.Stderr, "sshdeckd: %v\n", err)
		os.Exit(1)
	}

	log := logging.New(settings.LogLevel)
	store := config.NewStore(settings.ProfilesPath, log)

	server := bridge.NewServer(store, log)
	if err := server.Listen(settings.SocketPath); err != nil {
		log.Error("failed to start bridge", "err", err)
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	log.Info("shutting down", "signal", sig.String())

	if err := server.Close(); err != nil {
		log.Warn("bridge shutdown", "err", err)
	}
}
