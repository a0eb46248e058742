// internal/session/knownhosts.go
//
// Host key verification against an app-owned known_hosts file. First
// contact with a server surfaces its fingerprint for explicit acceptance;
// TrustHostKey records the key so later connects verify against it.

package session

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"sshdeck/internal/apperr"
	"sshdeck/internal/config"
)

const knownHostsFileName = "known_hosts"

// KnownHostsPath returns the app-owned known_hosts file location.
func KnownHostsPath() (string, error) {
	profilesPath, err := config.DefaultProfilesPath()
	if err != nil {
		return "", err
	}
	return filepath.Join(filepath.Dir(profilesPath), "ssh", knownHostsFileName), nil
}

// VerifyKnownHosts builds a host key callback backed by the app-owned
// known_hosts file, creating an empty file on first use.
func VerifyKnownHosts() (ssh.HostKeyCallback, error) {
	path, err := KnownHostsPath()
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, apperr.New(apperr.Storage, "failed to create ssh directory", err)
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := os.WriteFile(path, nil, 0600); err != nil {
			return nil, apperr.New(apperr.Storage, "failed to create known_hosts file", err)
		}
	}

	cb, err := knownhosts.New(path)
	if err != nil {
		return nil, apperr.New(apperr.Storage, "failed to load known_hosts", err)
	}
	return surfaceUnknownHost(cb), nil
}

// surfaceUnknownHost turns a known_hosts lookup miss into a structured error
// carrying the server's fingerprint, so the caller can show it and offer
// TrustHostKey. A key MISMATCH is left untouched: changed keys must never be
// accepted through the first-contact prompt.
func surfaceUnknownHost(base ssh.HostKeyCallback) ssh.HostKeyCallback {
	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		err := base(hostname, remote, key)
		var keyErr *knownhosts.KeyError
		if errors.As(err, &keyErr) && len(keyErr.Want) == 0 {
			return apperr.Newf(apperr.UnknownHost, "unknown host %s with key fingerprint %s",
				hostname, ssh.FingerprintSHA256(key))
		}
		return err
	}
}

// FetchHostKey connects just far enough to capture the server's public key,
// without authenticating. The handshake is expected to fail; only the key
// matters.
func FetchHostKey(host string, port int) (ssh.PublicKey, error) {
	keyChan := make(chan ssh.PublicKey, 1)

	cfg := &ssh.ClientConfig{
		HostKeyCallback: func(hostname string, remote net.Addr, key ssh.PublicKey) error {
			select {
			case keyChan <- key:
			default:
			}
			return nil
		},
		Timeout: 10 * time.Second,
	}

	addr := net.JoinHostPort(host, fmt.Sprintf("%d", port))
	if conn, err := ssh.Dial("tcp", addr, cfg); err == nil {
		conn.Close()
	}

	select {
	case key := <-keyChan:
		return key, nil
	default:
		return nil, apperr.Newf(apperr.Transport, "could not retrieve host key from %s", addr)
	}
}

// TrustHostKey records the server's current host key in the app-owned
// known_hosts file, replacing any previous entry for that address, and
// returns the SHA256 fingerprint of the recorded key.
func TrustHostKey(host string, port int) (string, error) {
	key, err := FetchHostKey(host, port)
	if err != nil {
		return "", err
	}

	path, err := KnownHostsPath()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return "", apperr.New(apperr.Storage, "failed to create ssh directory", err)
	}

	hostPattern := knownhosts.Normalize(net.JoinHostPort(host, fmt.Sprintf("%d", port)))
	newLine := knownhosts.Line([]string{net.JoinHostPort(host, fmt.Sprintf("%d", port))}, key)

	// Keep every line except previous entries for this host.
	var kept []string
	if content, err := os.ReadFile(path); err == nil {
		scanner := bufio.NewScanner(strings.NewReader(string(content)))
		for scanner.Scan() {
			line := scanner.Text()
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			if !strings.HasPrefix(line, hostPattern+" ") {
				kept = append(kept, line)
			}
		}
	}
	kept = append(kept, newLine)

	content := strings.Join(kept, "\n") + "\n"
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		return "", apperr.New(apperr.Storage, "failed to write known_hosts", err)
	}
	return ssh.FingerprintSHA256(key), nil
}
