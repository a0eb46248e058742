package bridge

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"io"
	"net"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/ssh"

	"sshdeck/internal/apperr"
	"sshdeck/internal/config"
	"sshdeck/internal/logging"
)

const (
	testUser     = "deploy"
	testPassword = "hunter2"
	testMaster   = "master passphrase"
)

// newTestBridge starts a daemon-side server on a unix socket in a temp
// directory and returns a connected client. Most tests pass
// ssh.InsecureIgnoreHostKey() so sessions reach the in-process SSH server
// without a known_hosts entry; pass nil to exercise the known-hosts path.
func newTestBridge(t *testing.T, hostKeys ssh.HostKeyCallback) (*Server, *Client) {
	t.Helper()

	log := logging.New("error")
	store := config.NewStore(filepath.Join(t.TempDir(), "profiles.json"), log)
	srv := NewServer(store, log)
	srv.HostKeyCallback = hostKeys

	socketPath := filepath.Join(t.TempDir(), "bridge.sock")
	if err := srv.Listen(socketPath); err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	t.Cleanup(func() { srv.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := Dial(ctx, socketPath)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	return srv, client
}

// startSSHServer runs a loopback SSH server that echoes shell bytes, for
// exercising the session ops end to end.
func startSSHServer(t *testing.T) (host string, port int) {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate host key: %v", err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatalf("failed to build host signer: %v", err)
	}

	cfg := &ssh.ServerConfig{
		PasswordCallback: func(meta ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if meta.User() == testUser && string(pass) == testPassword {
				return nil, nil
			}
			return nil, errors.New("password rejected")
		},
	}
	cfg.AddHostKey(signer)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				sconn, chans, reqs, err := ssh.NewServerConn(conn, cfg)
				if err != nil {
					conn.Close()
					return
				}
				defer sconn.Close()
				go ssh.DiscardRequests(reqs)
				for newCh := range chans {
					ch, chReqs, err := newCh.Accept()
					if err != nil {
						continue
					}
					go func() {
						for req := range chReqs {
							req.Reply(req.Type == "pty-req" || req.Type == "shell" || req.Type == "window-change", nil)
						}
					}()
					go func() {
						io.Copy(ch, ch)
						ch.Close()
					}()
				}
			}()
		}
	}()

	h, p, _ := net.SplitHostPort(ln.Addr().String())
	portNum, _ := strconv.Atoi(p)
	return h, portNum
}

func testProfile(host string, port int) ProfilePayload {
	return ProfilePayload{
		Name:     "echo box",
		Host:     host,
		Port:     port,
		Username: testUser,
		Password: testPassword,
	}
}

func TestProfileCRUD(t *testing.T) {
	_, client := newTestBridge(t, ssh.InsecureIgnoreHostKey())
	ctx := context.Background()

	id, err := client.AddProfile(ctx, testProfile("one.example.com", 22), testMaster)
	if err != nil {
		t.Fatalf("AddProfile failed: %v", err)
	}
	if id == "" {
		t.Fatal("AddProfile returned no id")
	}

	list, err := client.ListProfiles(ctx)
	if err != nil {
		t.Fatalf("ListProfiles failed: %v", err)
	}
	if len(list.Profiles) != 1 {
		t.Fatalf("expected 1 profile, got %d", len(list.Profiles))
	}
	got := list.Profiles[0]
	if got.ID != id || got.Name != "echo box" || got.Host != "one.example.com" || got.Port != 22 || got.Username != testUser {
		t.Errorf("unexpected listed profile %+v", got)
	}

	updated := testProfile("two.example.com", 2222)
	updated.ID = id
	if err := client.UpdateProfile(ctx, updated, testMaster); err != nil {
		t.Fatalf("UpdateProfile failed: %v", err)
	}
	list, err = client.ListProfiles(ctx)
	if err != nil {
		t.Fatalf("ListProfiles failed: %v", err)
	}
	if list.Profiles[0].Host != "two.example.com" || list.Profiles[0].Port != 2222 {
		t.Errorf("update did not take: %+v", list.Profiles[0])
	}

	if err := client.DeleteProfile(ctx, id); err != nil {
		t.Fatalf("DeleteProfile failed: %v", err)
	}
	list, err = client.ListProfiles(ctx)
	if err != nil {
		t.Fatalf("ListProfiles failed: %v", err)
	}
	if len(list.Profiles) != 0 {
		t.Errorf("expected empty list after delete, got %d", len(list.Profiles))
	}
}

func TestProfileValidationOverBridge(t *testing.T) {
	_, client := newTestBridge(t, ssh.InsecureIgnoreHostKey())
	ctx := context.Background()

	bad := testProfile("", 22)
	if _, err := client.AddProfile(ctx, bad, testMaster); !apperr.IsKind(err, apperr.Validation) {
		t.Errorf("expected validation error for empty host, got %v", err)
	}

	if err := client.DeleteProfile(ctx, "no-such-id"); !apperr.IsKind(err, apperr.Validation) {
		t.Errorf("expected validation error for unknown id, got %v", err)
	}

	missing := testProfile("host.example.com", 22)
	if err := client.UpdateProfile(ctx, missing, testMaster); !apperr.IsKind(err, apperr.Validation) {
		t.Errorf("expected validation error for update without id, got %v", err)
	}
}

func TestListNeverCarriesSecrets(t *testing.T) {
	srv, client := newTestBridge(t, ssh.InsecureIgnoreHostKey())
	ctx := context.Background()

	if _, err := client.AddProfile(ctx, testProfile("one.example.com", 22), testMaster); err != nil {
		t.Fatalf("AddProfile failed: %v", err)
	}

	// The store holds only sealed envelopes.
	sealed, _ := srv.store.List()
	if len(sealed) != 1 {
		t.Fatalf("expected 1 sealed profile, got %d", len(sealed))
	}
	if bytes.Contains([]byte(sealed[0].Secret), []byte(testPassword)) {
		t.Error("password visible in stored envelope")
	}
}

func TestEncryptDecryptOverBridge(t *testing.T) {
	_, client := newTestBridge(t, ssh.InsecureIgnoreHostKey())
	ctx := context.Background()

	res, err := client.Encrypt(ctx, "secret", "hunter2", "")
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	if res.Salt == "" {
		t.Fatal("Encrypt without salt should generate one")
	}

	plaintext, err := client.Decrypt(ctx, res.Envelope, "hunter2", res.Salt)
	if err != nil {
		t.Fatalf("Decrypt failed: %v", err)
	}
	if plaintext != "secret" {
		t.Errorf("got %q, want %q", plaintext, "secret")
	}
}

func TestDecryptWrongPassphraseStaysGeneric(t *testing.T) {
	_, client := newTestBridge(t, ssh.InsecureIgnoreHostKey())
	ctx := context.Background()

	res, err := client.Encrypt(ctx, "secret", "hunter2", "a1b2")
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	_, err = client.Decrypt(ctx, res.Envelope, "wrong", "a1b2")
	if err == nil {
		t.Skip("wrong-key decrypt produced valid-looking padding")
	}
	if !apperr.IsKind(err, apperr.DecryptionFailure) {
		t.Fatalf("expected decryption failure kind, got %v", err)
	}
	if err.Error() != "could not unlock" {
		t.Errorf("decryption failure must stay generic, got %q", err.Error())
	}
}

func TestSessionLifecycleOverBridge(t *testing.T) {
	_, client := newTestBridge(t, ssh.InsecureIgnoreHostKey())
	ctx := context.Background()

	host, port := startSSHServer(t)
	profileID, err := client.AddProfile(ctx, testProfile(host, port), testMaster)
	if err != nil {
		t.Fatalf("AddProfile failed: %v", err)
	}

	res, err := client.ConnectSession(ctx, SessionConnectRequest{
		ProfileID: profileID,
		Master:    testMaster,
		Rows:      24,
		Cols:      80,
	})
	if err != nil {
		t.Fatalf("ConnectSession failed: %v", err)
	}
	if res.State != "ready" {
		t.Fatalf("expected ready session, got %q", res.State)
	}

	stream, err := client.DialSession(ctx, res.SessionID)
	if err != nil {
		t.Fatalf("DialSession failed: %v", err)
	}
	defer stream.Close()

	payload := []byte("echo probe\n")
	if _, err := stream.Write(payload); err != nil {
		t.Fatalf("stream write failed: %v", err)
	}
	buf := make([]byte, len(payload))
	if _, err := io.ReadFull(stream, buf); err != nil {
		t.Fatalf("stream read failed: %v", err)
	}
	if !bytes.Equal(buf, payload) {
		t.Errorf("echo mismatch: got %q, want %q", buf, payload)
	}

	if err := client.ResizeSession(ctx, res.SessionID, 50, 132); err != nil {
		t.Errorf("ResizeSession failed: %v", err)
	}

	if err := client.DisconnectSession(ctx, res.SessionID); err != nil {
		t.Fatalf("DisconnectSession failed: %v", err)
	}

	// The session entry is dropped once the manager terminates, so a second
	// disconnect eventually reports the session as gone.
	deadline := time.After(2 * time.Second)
	for {
		err := client.DisconnectSession(ctx, res.SessionID)
		if apperr.IsKind(err, apperr.InvalidState) {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("session entry never dropped, last err: %v", err)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestTrustHostFirstContactOverBridge(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	// nil callback: sessions verify against the app-owned known_hosts file.
	_, client := newTestBridge(t, nil)
	ctx := context.Background()

	host, port := startSSHServer(t)
	profileID, err := client.AddProfile(ctx, testProfile(host, port), testMaster)
	if err != nil {
		t.Fatalf("AddProfile failed: %v", err)
	}

	_, err = client.ConnectSession(ctx, SessionConnectRequest{
		ProfileID: profileID,
		Master:    testMaster,
	})
	if !apperr.IsKind(err, apperr.UnknownHost) {
		t.Fatalf("expected unknown host error on first contact, got %v", err)
	}
	if !strings.Contains(err.Error(), "SHA256:") {
		t.Errorf("error should carry the fingerprint for the prompt, got %q", err.Error())
	}

	fingerprint, err := client.TrustHost(ctx, profileID)
	if err != nil {
		t.Fatalf("TrustHost failed: %v", err)
	}
	if !strings.Contains(fingerprint, "SHA256:") {
		t.Errorf("unexpected fingerprint %q", fingerprint)
	}

	res, err := client.ConnectSession(ctx, SessionConnectRequest{
		ProfileID: profileID,
		Master:    testMaster,
	})
	if err != nil {
		t.Fatalf("ConnectSession after trusting the host failed: %v", err)
	}
	if res.State != "ready" {
		t.Errorf("expected ready session, got %q", res.State)
	}
	if err := client.DisconnectSession(ctx, res.SessionID); err != nil {
		t.Errorf("DisconnectSession failed: %v", err)
	}
}

func TestTrustHostUnknownProfile(t *testing.T) {
	_, client := newTestBridge(t, ssh.InsecureIgnoreHostKey())

	_, err := client.TrustHost(context.Background(), "no-such-profile")
	if !apperr.IsKind(err, apperr.Validation) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestSessionConnectWrongMaster(t *testing.T) {
	_, client := newTestBridge(t, ssh.InsecureIgnoreHostKey())
	ctx := context.Background()

	host, port := startSSHServer(t)
	profileID, err := client.AddProfile(ctx, testProfile(host, port), testMaster)
	if err != nil {
		t.Fatalf("AddProfile failed: %v", err)
	}

	_, err = client.ConnectSession(ctx, SessionConnectRequest{
		ProfileID: profileID,
		Master:    "wrong master",
	})
	if !apperr.IsKind(err, apperr.DecryptionFailure) {
		t.Fatalf("expected decryption failure, got %v", err)
	}
	if err.Error() != "could not unlock" {
		t.Errorf("decryption failure must stay generic, got %q", err.Error())
	}
}

func TestSessionConnectUnknownProfile(t *testing.T) {
	_, client := newTestBridge(t, ssh.InsecureIgnoreHostKey())

	_, err := client.ConnectSession(context.Background(), SessionConnectRequest{
		ProfileID: "no-such-profile",
		Master:    testMaster,
	})
	if !apperr.IsKind(err, apperr.Validation) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestUnknownOp(t *testing.T) {
	_, client := newTestBridge(t, ssh.InsecureIgnoreHostKey())

	err := client.call(context.Background(), Op("bogus.op"), nil, nil)
	if !apperr.IsKind(err, apperr.Validation) {
		t.Errorf("expected validation error for unknown op, got %v", err)
	}
}

func TestResizeUnknownSession(t *testing.T) {
	_, client := newTestBridge(t, ssh.InsecureIgnoreHostKey())

	err := client.ResizeSession(context.Background(), "no-such-session", 24, 80)
	if !apperr.IsKind(err, apperr.InvalidState) {
		t.Errorf("expected invalid state error, got %v", err)
	}
}
