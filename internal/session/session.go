// internal/session/session.go
//
// The session manager drives one SSH connection attempt to a terminal
// outcome and, on success, provides a duplex byte stream for an interactive
// shell. Lifecycle: Idle → Connecting → Authenticating → Ready → Closing →
// Closed, with Failed as a distinct terminal state reachable from any
// non-terminal state. One Manager owns exactly one connection; multiple
// Managers run independently with no shared state.

package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"sshdeck/internal/apperr"
	"sshdeck/internal/logging"
)

type State int

const (
	StateIdle State = iota
	StateConnecting
	StateAuthenticating
	StateReady
	StateClosing
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateReady:
		return "ready"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

const (
	defaultTermType   = "xterm-256color"
	defaultDialWait   = 10 * time.Second
	defaultKeepAlive  = 30 * time.Second
	defaultTermWidth  = 80
	defaultTermHeight = 24
)

// Params carries everything needed for one connection attempt.
type Params struct {
	Host     string
	Port     int
	Username string

	// Password and PrivateKey are mutually exclusive by convention;
	// at least one must be set. KeyPassphrase unlocks an encrypted key.
	Password      string
	PrivateKey    []byte
	KeyPassphrase string

	TermType      string
	InitialWidth  int
	InitialHeight int

	DialTimeout time.Duration
	KeepAlive   time.Duration

	// HostKeyCallback verifies the server key. Leave nil to use the
	// app-owned known_hosts file (see VerifyKnownHosts).
	HostKeyCallback ssh.HostKeyCallback
}

// Validate checks the parameters without performing any I/O.
func (p *Params) Validate() error {
	if p.Host == "" {
		return apperr.New(apperr.Validation, "host cannot be empty", nil)
	}
	if p.Port < 1 || p.Port > 65535 {
		return apperr.Newf(apperr.Validation, "port must be in [1,65535], got %d", p.Port)
	}
	if p.Username == "" {
		return apperr.New(apperr.Validation, "username cannot be empty", nil)
	}
	if p.Password == "" && len(p.PrivateKey) == 0 {
		return apperr.New(apperr.Validation, "a password or a private key is required", nil)
	}
	return nil
}

// Manager owns the lifecycle of one SSH connection.
type Manager struct {
	params Params
	log    *logging.Log

	mu      sync.RWMutex
	state   State
	lastErr error

	client *ssh.Client
	sess   *ssh.Session
	stdin  io.WriteCloser
	stdout io.Reader

	termWidth  int
	termHeight int

	stopChan chan struct{}
	done     chan struct{}
	doneOnce sync.Once
}

func NewManager(params Params, log *logging.Log) *Manager {
	return &Manager{
		params:   params,
		log:      log,
		state:    StateIdle,
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Err returns the error that moved the session to Failed, if any.
func (m *Manager) Err() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastErr
}

// Done is closed when the session reaches a terminal state, whether by
// explicit close, remote close or failure.
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

// Connect drives the attempt to Ready and returns the shell stream, or a
// structured error. Parameter validation happens before any network I/O.
// At most one attempt may run per Manager; a second call is rejected with
// an invalid-state error rather than queued.
func (m *Manager) Connect(ctx context.Context) (*Stream, error) {
	if err := m.params.Validate(); err != nil {
		return nil, err
	}

	// Parse the private key up front so a malformed credential also fails
	// before any socket is opened.
	authMethods, err := m.buildAuth()
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if m.state != StateIdle {
		state := m.state
		m.mu.Unlock()
		return nil, apperr.Newf(apperr.InvalidState, "connect not allowed in state %q", state)
	}
	m.state = StateConnecting
	m.mu.Unlock()

	hostKeyCallback := m.params.HostKeyCallback
	if hostKeyCallback == nil {
		hostKeyCallback, err = VerifyKnownHosts()
		if err != nil {
			return nil, m.fail(apperr.Storage, "failed to load known hosts", err)
		}
	}

	dialTimeout := m.params.DialTimeout
	if dialTimeout == 0 {
		dialTimeout = defaultDialWait
	}

	addr := net.JoinHostPort(m.params.Host, fmt.Sprintf("%d", m.params.Port))
	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, m.fail(apperr.Transport, fmt.Sprintf("could not reach %s", addr), err)
	}

	// Close may have raced the dial; a terminal state must stay terminal,
	// so the attempt aborts and releases the socket instead of proceeding.
	if !m.advance(StateConnecting, StateAuthenticating) {
		conn.Close()
		return nil, apperr.New(apperr.InvalidState, "session closed during connect", nil)
	}

	sshConfig := &ssh.ClientConfig{
		User:            m.params.Username,
		Auth:            authMethods,
		HostKeyCallback: hostKeyCallback,
		Timeout:         dialTimeout,
	}

	ncc, chans, reqs, err := ssh.NewClientConn(conn, addr, sshConfig)
	if err != nil {
		conn.Close()
		var ae *apperr.Error
		if errors.As(err, &ae) && ae.Kind == apperr.UnknownHost {
			return nil, m.fail(apperr.UnknownHost, ae.Message, err)
		}
		if isAuthErr(err) {
			return nil, m.fail(apperr.Authentication, "server rejected the credentials", err)
		}
		return nil, m.fail(apperr.Protocol, "ssh handshake failed", err)
	}
	client := ssh.NewClient(ncc, chans, reqs)

	stream, err := m.openShell(client)
	if err != nil {
		client.Close()
		return nil, err
	}

	// Commit Ready only if no one moved the state while the handshake and
	// shell setup ran; otherwise Close won and the transport goes down.
	m.mu.Lock()
	if m.state != StateAuthenticating {
		sess := m.sess
		m.sess, m.stdin, m.stdout = nil, nil, nil
		m.mu.Unlock()
		if sess != nil {
			sess.Close()
		}
		client.Close()
		return nil, apperr.New(apperr.InvalidState, "session closed during connect", nil)
	}
	m.client = client
	m.state = StateReady
	m.mu.Unlock()

	if m.log != nil {
		m.log.Info("session ready", "addr", addr, "user", m.params.Username)
	}

	keepAlive := m.params.KeepAlive
	if keepAlive == 0 {
		keepAlive = defaultKeepAlive
	}
	go m.keepAliveLoop(client, keepAlive)
	go m.waitRemote()

	return stream, nil
}

// openShell allocates the interactive channel: session, pty with the
// initial size hint, pipes, shell.
func (m *Manager) openShell(client *ssh.Client) (*Stream, error) {
	sess, err := client.NewSession()
	if err != nil {
		return nil, m.fail(apperr.Protocol, "failed to open session channel", err)
	}

	termType := m.params.TermType
	if termType == "" {
		termType = defaultTermType
	}
	width := m.params.InitialWidth
	height := m.params.InitialHeight
	if width == 0 {
		width = defaultTermWidth
	}
	if height == 0 {
		height = defaultTermHeight
	}

	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := sess.RequestPty(termType, height, width, modes); err != nil {
		sess.Close()
		return nil, m.fail(apperr.Protocol, "failed to request pty", err)
	}

	stdin, err := sess.StdinPipe()
	if err != nil {
		sess.Close()
		return nil, m.fail(apperr.Protocol, "failed to open stdin pipe", err)
	}
	stdout, err := sess.StdoutPipe()
	if err != nil {
		sess.Close()
		return nil, m.fail(apperr.Protocol, "failed to open stdout pipe", err)
	}

	if err := sess.Shell(); err != nil {
		sess.Close()
		return nil, m.fail(apperr.Protocol, "failed to start shell", err)
	}

	m.mu.Lock()
	m.sess = sess
	m.stdin = stdin
	m.stdout = stdout
	m.termWidth = width
	m.termHeight = height
	m.mu.Unlock()

	return &Stream{m: m}, nil
}

func (m *Manager) buildAuth() ([]ssh.AuthMethod, error) {
	if len(m.params.PrivateKey) > 0 {
		var signer ssh.Signer
		var err error
		if m.params.KeyPassphrase != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase(m.params.PrivateKey, []byte(m.params.KeyPassphrase))
		} else {
			signer, err = ssh.ParsePrivateKey(m.params.PrivateKey)
		}
		if err != nil {
			return nil, apperr.New(apperr.Validation, "failed to parse private key", err)
		}
		return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil
	}
	return []ssh.AuthMethod{ssh.Password(m.params.Password)}, nil
}

// Resize forwards a window change so the remote pty tracks the local
// terminal dimensions.
func (m *Manager) Resize(height, width int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateReady {
		return apperr.Newf(apperr.InvalidState, "resize not allowed in state %q", m.state)
	}
	if height == m.termHeight && width == m.termWidth {
		return nil
	}
	if err := m.sess.WindowChange(height, width); err != nil {
		return apperr.New(apperr.Protocol, "failed to resize remote pty", err)
	}
	m.termHeight = height
	m.termWidth = width
	return nil
}

// Close tears the session down. It is idempotent: closing a session that is
// already Closed or Failed is a no-op. Pending stream reads are unblocked
// and the transport is released on every path.
func (m *Manager) Close() error {
	m.mu.Lock()
	switch m.state {
	case StateClosed, StateFailed:
		m.mu.Unlock()
		return nil
	case StateIdle:
		m.state = StateClosed
		m.mu.Unlock()
		m.finish()
		return nil
	}
	m.state = StateClosing
	sess, client := m.sess, m.client
	m.sess, m.client = nil, nil
	m.mu.Unlock()

	var errs []string
	if sess != nil {
		if err := sess.Close(); err != nil && err != io.EOF {
			errs = append(errs, fmt.Sprintf("session close: %v", err))
		}
	}
	if client != nil {
		if err := client.Close(); err != nil {
			errs = append(errs, fmt.Sprintf("client close: %v", err))
		}
	}

	m.setState(StateClosed)
	m.finish()

	if len(errs) > 0 {
		return apperr.New(apperr.Protocol, strings.Join(errs, "; "), nil)
	}
	return nil
}

// fail records a structured error, tears down any resources and moves the
// session to the Failed terminal state.
func (m *Manager) fail(kind apperr.Kind, message string, cause error) error {
	err := apperr.New(kind, message, cause)

	m.mu.Lock()
	if m.state == StateClosed || m.state == StateFailed {
		m.mu.Unlock()
		return err
	}
	m.state = StateFailed
	m.lastErr = err
	sess, client := m.sess, m.client
	m.sess, m.client = nil, nil
	m.mu.Unlock()

	if sess != nil {
		sess.Close()
	}
	if client != nil {
		client.Close()
	}
	m.finish()

	if m.log != nil {
		m.log.Warn("session failed", "kind", kind.String(), "err", err)
	}
	return err
}

// waitRemote watches for the remote peer ending the session and completes
// the Ready → Closing → Closed transition on its behalf.
func (m *Manager) waitRemote() {
	m.mu.RLock()
	sess := m.sess
	m.mu.RUnlock()
	if sess == nil {
		return
	}

	err := sess.Wait()

	m.mu.Lock()
	if m.state != StateReady {
		// Explicit close or failure already handled the transition.
		m.mu.Unlock()
		return
	}
	m.state = StateClosing
	client := m.client
	m.sess, m.client = nil, nil
	m.state = StateClosed
	m.mu.Unlock()

	if client != nil {
		client.Close()
	}
	m.finish()

	if m.log != nil && err != nil && !isBenignExit(err) {
		m.log.Warn("session ended with error", "err", err)
	}
}

func (m *Manager) keepAliveLoop(client *ssh.Client, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, _, err := client.SendRequest("keepalive@openssh.com", true, nil); err != nil {
				m.fail(apperr.Transport, "keepalive failed", err)
				return
			}
		case <-m.stopChan:
			return
		}
	}
}

func (m *Manager) setState(state State) {
	m.mu.Lock()
	m.state = state
	m.mu.Unlock()
}

// advance moves the state machine from one specific state to the next and
// reports whether it did; false means another goroutine moved the state
// first and the caller must not proceed.
func (m *Manager) advance(from, to State) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != from {
		return false
	}
	m.state = to
	return true
}

// finish closes the coordination channels exactly once.
func (m *Manager) finish() {
	m.doneOnce.Do(func() {
		close(m.stopChan)
		close(m.done)
	})
}

func isAuthErr(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "unable to authenticate") ||
		strings.Contains(msg, "permission denied")
}

func isBenignExit(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "exit status") ||
		strings.Contains(msg, "signal: terminated") ||
		strings.Contains(msg, "signal: interrupt")
}

// Stream is the duplex byte stream handed to the terminal view. The view
// holds only this reference, never ownership of the session itself.
type Stream struct {
	m *Manager
}

// Read returns shell output. It unblocks with io.EOF when the session
// closes from either side.
func (s *Stream) Read(p []byte) (int, error) {
	s.m.mu.RLock()
	stdout := s.m.stdout
	s.m.mu.RUnlock()
	if stdout == nil {
		return 0, io.EOF
	}
	return stdout.Read(p)
}

// Write forwards shell input.
func (s *Stream) Write(p []byte) (int, error) {
	s.m.mu.RLock()
	stdin := s.m.stdin
	state := s.m.state
	s.m.mu.RUnlock()
	if stdin == nil || state != StateReady {
		return 0, io.ErrClosedPipe
	}
	return stdin.Write(p)
}

// Close closes the whole session, not just the stream.
func (s *Stream) Close() error {
	return s.m.Close()
}
