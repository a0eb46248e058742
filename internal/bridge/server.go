// internal/bridge/server.go
//
// The privileged side of the boundary: an HTTP server on a unix domain
// socket with a control websocket for request/response frames and one
// websocket per live session carrying raw shell bytes.

package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"golang.org/x/crypto/ssh"
	"golang.org/x/sync/errgroup"

	"sshdeck/internal/apperr"
	"sshdeck/internal/config"
	"sshdeck/internal/logging"
	"sshdeck/internal/models"
	"sshdeck/internal/session"
	"sshdeck/internal/vault"
)

type liveSession struct {
	mgr    *session.Manager
	stream *session.Stream
}

// Server owns the profile store, the vault operations and all live
// sessions. Each accepted control connection gets its own dispatch loop;
// sessions are independent of the control connection that created them.
type Server struct {
	log   *logging.Log
	store *config.Store

	// HostKeyCallback overrides host key verification for every session
	// this server opens. Leave nil to verify against the app-owned
	// known_hosts file.
	HostKeyCallback ssh.HostKeyCallback

	mu       sync.Mutex
	sessions map[string]*liveSession

	httpSrv *http.Server
	ln      net.Listener
}

func NewServer(store *config.Store, log *logging.Log) *Server {
	return &Server{
		log:      log,
		store:    store,
		sessions: make(map[string]*liveSession),
	}
}

// Listen binds the unix socket and starts serving. A stale socket file from
// a previous run is removed first.
func (s *Server) Listen(socketPath string) error {
	if err := os.MkdirAll(filepath.Dir(socketPath), 0700); err != nil {
		return apperr.New(apperr.Storage, "failed to create socket directory", err)
	}
	if err := os.Remove(socketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return apperr.New(apperr.Storage, "failed to remove stale socket", err)
	}

	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		return apperr.New(apperr.Transport, "failed to listen on socket", err)
	}
	if err := os.Chmod(socketPath, 0600); err != nil {
		ln.Close()
		return apperr.New(apperr.Storage, "failed to restrict socket permissions", err)
	}
	s.ln = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/bridge", s.handleBridge)
	mux.HandleFunc("/session/", s.handleSessionStream)

	s.httpSrv = &http.Server{
		Handler:     mux,
		ReadTimeout: 0, // websockets are long-lived
		IdleTimeout: 120 * time.Second,
	}

	s.log.Info("bridge listening", "socket", socketPath)
	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("bridge server stopped", "err", err)
		}
	}()
	return nil
}

// Close shuts the server down and tears down every live session.
func (s *Server) Close() error {
	s.mu.Lock()
	live := make([]*liveSession, 0, len(s.sessions))
	for _, entry := range s.sessions {
		live = append(live, entry)
	}
	s.sessions = make(map[string]*liveSession)
	s.mu.Unlock()

	for _, entry := range live {
		entry.mgr.Close()
	}

	if s.httpSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(ctx)
	}
	return nil
}

func (s *Server) handleBridge(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.log.Warn("failed to accept control connection", "err", err)
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(1024 * 1024)

	ctx := r.Context()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}

		var req Request
		if err := json.Unmarshal(data, &req); err != nil {
			s.log.Warn("malformed control frame", "err", err)
			continue
		}

		resp := s.dispatch(ctx, req)
		out, err := json.Marshal(resp)
		if err != nil {
			s.log.Error("failed to encode response", "op", string(req.Op), "err", err)
			continue
		}
		if err := conn.Write(ctx, websocket.MessageText, out); err != nil {
			return
		}
	}
}

func (s *Server) dispatch(ctx context.Context, req Request) Response {
	payload, err := s.handle(ctx, req.Op, req.Payload)
	if err != nil {
		s.log.Debug("op failed", "op", string(req.Op), "kind", apperr.KindOf(err).String())
		return Response{ID: req.ID, OK: false, Error: wireError(err)}
	}

	var raw json.RawMessage
	if payload != nil {
		raw, err = json.Marshal(payload)
		if err != nil {
			return Response{ID: req.ID, OK: false, Error: wireError(
				apperr.New(apperr.Storage, "failed to encode result", err))}
		}
	}
	return Response{ID: req.ID, OK: true, Payload: raw}
}

func (s *Server) handle(ctx context.Context, op Op, payload json.RawMessage) (any, error) {
	switch op {
	case OpProfilesList:
		return s.profilesList()
	case OpProfilesAdd:
		return s.profilesAdd(payload)
	case OpProfilesUpdate:
		return s.profilesUpdate(payload)
	case OpProfilesDelete:
		return s.profilesDelete(payload)
	case OpVaultEncrypt:
		return s.vaultEncrypt(payload)
	case OpVaultDecrypt:
		return s.vaultDecrypt(payload)
	case OpSessionConnect:
		return s.sessionConnect(ctx, payload)
	case OpSessionDisconnect:
		return s.sessionDisconnect(payload)
	case OpSessionResize:
		return s.sessionResize(payload)
	case OpSessionTrustHost:
		return s.sessionTrustHost(payload)
	case OpSFTPUpload:
		return s.sftpTransfer(payload, true)
	case OpSFTPDownload:
		return s.sftpTransfer(payload, false)
	default:
		return nil, apperr.Newf(apperr.Validation, "unknown op %q", string(op))
	}
}

func (s *Server) profilesList() (any, error) {
	sealed, version := s.store.List()
	infos := make([]ProfileInfo, 0, len(sealed))
	for _, p := range sealed {
		infos = append(infos, ProfileInfo{
			ID:       p.ID,
			Name:     p.Name,
			Host:     p.Host,
			Port:     p.Port,
			Username: p.Username,
		})
	}
	return &ProfilesListResult{Profiles: infos, Version: version}, nil
}

func (s *Server) profilesAdd(payload json.RawMessage) (any, error) {
	var req ProfileSaveRequest
	if err := decode(payload, &req); err != nil {
		return nil, err
	}

	profile := req.Profile.toModel()
	if err := profile.Validate(); err != nil {
		return nil, err
	}

	sealed, err := profile.Seal(req.Master)
	if err != nil {
		return nil, err
	}
	stored, err := s.store.Add(sealed)
	if err != nil {
		return nil, err
	}
	return &ProfileSaveResult{ID: stored.ID}, nil
}

func (s *Server) profilesUpdate(payload json.RawMessage) (any, error) {
	var req ProfileSaveRequest
	if err := decode(payload, &req); err != nil {
		return nil, err
	}
	if req.Profile.ID == "" {
		return nil, apperr.New(apperr.Validation, "profile id is required for update", nil)
	}

	profile := req.Profile.toModel()
	if err := profile.Validate(); err != nil {
		return nil, err
	}

	sealed, err := profile.Seal(req.Master)
	if err != nil {
		return nil, err
	}
	if err := s.store.Update(sealed); err != nil {
		return nil, err
	}
	return &ProfileSaveResult{ID: sealed.ID}, nil
}

func (s *Server) profilesDelete(payload json.RawMessage) (any, error) {
	var req ProfileDeleteRequest
	if err := decode(payload, &req); err != nil {
		return nil, err
	}
	if err := s.store.Delete(req.ID); err != nil {
		return nil, err
	}
	return nil, nil
}

func (s *Server) vaultEncrypt(payload json.RawMessage) (any, error) {
	var req EncryptRequest
	if err := decode(payload, &req); err != nil {
		return nil, err
	}

	salt := req.Salt
	if salt == "" {
		var err error
		salt, err = vault.NewSalt()
		if err != nil {
			return nil, err
		}
	}

	key, err := vault.DeriveKey(req.Passphrase, salt)
	if err != nil {
		return nil, err
	}
	defer vault.Zero(key)

	envelope, err := vault.Encrypt(req.Plaintext, key)
	if err != nil {
		return nil, err
	}
	return &EncryptResult{Envelope: envelope, Salt: salt}, nil
}

func (s *Server) vaultDecrypt(payload json.RawMessage) (any, error) {
	var req DecryptRequest
	if err := decode(payload, &req); err != nil {
		return nil, err
	}

	key, err := vault.DeriveKey(req.Passphrase, req.Salt)
	if err != nil {
		return nil, err
	}
	defer vault.Zero(key)

	plaintext, err := vault.Decrypt(req.Envelope, key)
	if err != nil {
		return nil, err
	}
	return &DecryptResult{Plaintext: plaintext}, nil
}

func (s *Server) sessionConnect(ctx context.Context, payload json.RawMessage) (any, error) {
	var req SessionConnectRequest
	if err := decode(payload, &req); err != nil {
		return nil, err
	}

	profile, err := s.openProfile(req.ProfileID, req.Master)
	if err != nil {
		return nil, err
	}

	params := session.Params{
		Host:            profile.Host,
		Port:            profile.Port,
		Username:        profile.Username,
		Password:        profile.Auth.Password,
		PrivateKey:      []byte(profile.Auth.PrivateKey),
		KeyPassphrase:   profile.Auth.Passphrase,
		TermType:        req.TermType,
		InitialWidth:    req.Cols,
		InitialHeight:   req.Rows,
		HostKeyCallback: s.HostKeyCallback,
	}

	mgr := session.NewManager(params, s.log)
	stream, err := mgr.Connect(ctx)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	s.mu.Lock()
	s.sessions[id] = &liveSession{mgr: mgr, stream: stream}
	s.mu.Unlock()

	// Drop the entry once the session reaches a terminal state, however
	// it got there.
	go func() {
		<-mgr.Done()
		s.mu.Lock()
		delete(s.sessions, id)
		s.mu.Unlock()
	}()

	return &SessionConnectResult{SessionID: id, State: mgr.State().String()}, nil
}

func (s *Server) sessionDisconnect(payload json.RawMessage) (any, error) {
	var req SessionRequest
	if err := decode(payload, &req); err != nil {
		return nil, err
	}
	entry, err := s.lookup(req.SessionID)
	if err != nil {
		return nil, err
	}
	return nil, entry.mgr.Close()
}

func (s *Server) sessionResize(payload json.RawMessage) (any, error) {
	var req SessionResizeRequest
	if err := decode(payload, &req); err != nil {
		return nil, err
	}
	entry, err := s.lookup(req.SessionID)
	if err != nil {
		return nil, err
	}
	return nil, entry.mgr.Resize(req.Rows, req.Cols)
}

// sessionTrustHost records the host key of the server a profile points at.
// Only the profile's public fields are needed, so no master passphrase
// crosses the boundary for this op.
func (s *Server) sessionTrustHost(payload json.RawMessage) (any, error) {
	var req TrustHostRequest
	if err := decode(payload, &req); err != nil {
		return nil, err
	}

	sealed, _ := s.store.List()
	for i := range sealed {
		if sealed[i].ID == req.ProfileID {
			fingerprint, err := session.TrustHostKey(sealed[i].Host, sealed[i].Port)
			if err != nil {
				return nil, err
			}
			s.log.Info("host key recorded", "host", sealed[i].Host, "fingerprint", fingerprint)
			return &TrustHostResult{Fingerprint: fingerprint}, nil
		}
	}
	return nil, apperr.Newf(apperr.Validation, "profile %q not found", req.ProfileID)
}

func (s *Server) sftpTransfer(payload json.RawMessage, upload bool) (any, error) {
	var req SFTPRequest
	if err := decode(payload, &req); err != nil {
		return nil, err
	}
	entry, err := s.lookup(req.SessionID)
	if err != nil {
		return nil, err
	}

	transfer, err := entry.mgr.NewTransfer()
	if err != nil {
		return nil, err
	}
	defer transfer.Close()

	if upload {
		return nil, transfer.Upload(req.LocalPath, req.RemotePath, nil)
	}
	return nil, transfer.Download(req.RemotePath, req.LocalPath, nil)
}

// openProfile loads a sealed profile from the store and unlocks it with the
// master passphrase.
func (s *Server) openProfile(id, master string) (models.Profile, error) {
	sealed, _ := s.store.List()
	for i := range sealed {
		if sealed[i].ID == id {
			return sealed[i].Open(master)
		}
	}
	return models.Profile{}, apperr.Newf(apperr.Validation, "profile %q not found", id)
}

func (s *Server) lookup(id string) (*liveSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.sessions[id]
	if !ok {
		return nil, apperr.Newf(apperr.InvalidState, "no live session %q", id)
	}
	return entry, nil
}

// handleSessionStream relays raw shell bytes for one live session. Input
// and output each get their own pump; whichever side ends first tears the
// websocket down, and a closing session unblocks both.
func (s *Server) handleSessionStream(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/session/")
	entry, err := s.lookup(id)
	if err != nil {
		http.Error(w, "no such session", http.StatusNotFound)
		return
	}

	wsConn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.log.Warn("failed to accept session stream", "session", id, "err", err)
		return
	}
	wsConn.SetReadLimit(1024 * 1024)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	netConn := websocket.NetConn(ctx, wsConn, websocket.MessageBinary)

	go func() {
		<-entry.mgr.Done()
		cancel()
	}()

	g := new(errgroup.Group)
	g.Go(func() error {
		defer cancel()
		_, err := io.Copy(netConn, entry.stream)
		return err
	})
	g.Go(func() error {
		defer cancel()
		_, err := io.Copy(entry.stream, netConn)
		return err
	})
	g.Wait()

	wsConn.Close(websocket.StatusNormalClosure, "")
}

func decode(payload json.RawMessage, v any) error {
	if len(payload) == 0 {
		return apperr.New(apperr.Validation, "missing payload", nil)
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return apperr.New(apperr.Validation, "malformed payload", err)
	}
	return nil
}

func (p ProfilePayload) toModel() models.Profile {
	return models.Profile{
		ID:       p.ID,
		Name:     p.Name,
		Host:     p.Host,
		Port:     p.Port,
		Username: p.Username,
		Auth: models.Auth{
			Password:   p.Password,
			PrivateKey: p.PrivateKey,
			Passphrase: p.Passphrase,
		},
	}
}
