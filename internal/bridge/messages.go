// internal/bridge/messages.go
//
// The fixed message set of the UI ↔ daemon boundary. The UI process never
// touches the store, the vault or a live SSH connection directly; everything
// crosses this boundary as one of the requests below, and every failure
// comes back as a kind + message pair.

package bridge

import (
	"encoding/json"

	"sshdeck/internal/apperr"
)

type Op string

const (
	OpProfilesList   Op = "profiles.list"
	OpProfilesAdd    Op = "profiles.add"
	OpProfilesUpdate Op = "profiles.update"
	OpProfilesDelete Op = "profiles.delete"

	OpVaultEncrypt Op = "vault.encrypt"
	OpVaultDecrypt Op = "vault.decrypt"

	OpSessionConnect    Op = "session.connect"
	OpSessionDisconnect Op = "session.disconnect"
	OpSessionResize     Op = "session.resize"
	OpSessionTrustHost  Op = "session.trust_host"

	OpSFTPUpload   Op = "sftp.upload"
	OpSFTPDownload Op = "sftp.download"
)

type Request struct {
	ID      uint64          `json:"id"`
	Op      Op              `json:"op"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type Response struct {
	ID      uint64          `json:"id"`
	OK      bool            `json:"ok"`
	Error   *WireError      `json:"error,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// WireError is the serialized form of an apperr.Error.
type WireError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func (e *WireError) Error() string {
	return e.Message
}

// AsAppError rebuilds the structured error on the UI side.
func (e *WireError) AsAppError() *apperr.Error {
	return apperr.New(apperr.KindFromString(e.Kind), e.Message, nil)
}

func wireError(err error) *WireError {
	kind := apperr.KindOf(err)
	msg := err.Error()
	// Decryption failures stay generic on purpose so the boundary never
	// leaks which cryptographic sub-step failed.
	if kind == apperr.DecryptionFailure {
		msg = "could not unlock"
	}
	return &WireError{Kind: kind.String(), Message: msg}
}

// ProfileInfo is the public slice of a profile. Credential material never
// crosses the boundary in a list response.
type ProfileInfo struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
}

type ProfilesListResult struct {
	Profiles []ProfileInfo `json:"profiles"`
	Version  int           `json:"version"`
}

// ProfileSaveRequest carries a full profile (with plaintext credentials)
// plus the master passphrase the daemon seals it under.
type ProfileSaveRequest struct {
	Profile ProfilePayload `json:"profile"`
	Master  string         `json:"master"`
}

type ProfilePayload struct {
	ID         string `json:"id,omitempty"`
	Name       string `json:"name"`
	Host       string `json:"host"`
	Port       int    `json:"port"`
	Username   string `json:"username"`
	Password   string `json:"password,omitempty"`
	PrivateKey string `json:"private_key,omitempty"`
	Passphrase string `json:"passphrase,omitempty"`
}

type ProfileSaveResult struct {
	ID string `json:"id"`
}

type ProfileDeleteRequest struct {
	ID string `json:"id"`
}

type EncryptRequest struct {
	Plaintext  string `json:"plaintext"`
	Passphrase string `json:"passphrase"`
	// Salt may be empty on encrypt; the daemon then generates a fresh one
	// and returns it with the envelope.
	Salt string `json:"salt,omitempty"`
}

type EncryptResult struct {
	Envelope string `json:"envelope"`
	Salt     string `json:"salt"`
}

type DecryptRequest struct {
	Envelope   string `json:"envelope"`
	Passphrase string `json:"passphrase"`
	Salt       string `json:"salt"`
}

type DecryptResult struct {
	Plaintext string `json:"plaintext"`
}

type SessionConnectRequest struct {
	ProfileID string `json:"profile_id"`
	Master    string `json:"master"`
	TermType  string `json:"term_type,omitempty"`
	Cols      int    `json:"cols,omitempty"`
	Rows      int    `json:"rows,omitempty"`
}

type SessionConnectResult struct {
	SessionID string `json:"session_id"`
	State     string `json:"state"`
}

type SessionRequest struct {
	SessionID string `json:"session_id"`
}

type SessionResizeRequest struct {
	SessionID string `json:"session_id"`
	Cols      int    `json:"cols"`
	Rows      int    `json:"rows"`
}

// TrustHostRequest asks the daemon to record the current host key of the
// server a profile points at, after the user saw the fingerprint from a
// failed first-contact connect.
type TrustHostRequest struct {
	ProfileID string `json:"profile_id"`
}

type TrustHostResult struct {
	Fingerprint string `json:"fingerprint"`
}

type SFTPRequest struct {
	SessionID  string `json:"session_id"`
	LocalPath  string `json:"local_path"`
	RemotePath string `json:"remote_path"`
}
