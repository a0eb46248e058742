// internal/models/profile.go

package models

import (
	"encoding/json"

	"sshdeck/internal/apperr"
	"sshdeck/internal/vault"
)

// Profile is one saved connection, with its secrets in the clear. This form
// only ever exists in memory inside the privileged process; the store
// persists SealedProfile instead.
type Profile struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Auth     Auth   `json:"auth"`
}

// Auth is the credential payload. Password and PrivateKey are mutually
// exclusive by convention; at least one must be set.
type Auth struct {
	Password   string `json:"password,omitempty"`
	PrivateKey string `json:"private_key,omitempty"`
	Passphrase string `json:"passphrase,omitempty"`
}

// Validate checks the invariants a profile must hold before it may be
// persisted or used to open a connection.
func (p *Profile) Validate() error {
	if p.Name == "" {
		return apperr.New(apperr.Validation, "profile name cannot be empty", nil)
	}
	if p.Host == "" {
		return apperr.New(apperr.Validation, "host cannot be empty", nil)
	}
	if p.Port < 1 || p.Port > 65535 {
		return apperr.Newf(apperr.Validation, "port must be in [1,65535], got %d", p.Port)
	}
	if p.Username == "" {
		return apperr.New(apperr.Validation, "username cannot be empty", nil)
	}
	if p.Auth.Password == "" && p.Auth.PrivateKey == "" {
		return apperr.New(apperr.Validation, "profile needs a password or a private key", nil)
	}
	return nil
}

// SealedProfile is the at-rest form: the public fields plus a per-profile
// salt and one vault envelope holding the encrypted Auth payload. The
// derived key is recomputed from (master passphrase, Salt) on demand and
// never stored.
type SealedProfile struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Salt     string `json:"salt"`
	Secret   string `json:"secret"`
}

// Seal encrypts the profile's Auth payload under a key derived from the
// master passphrase and a fresh per-profile salt.
func (p *Profile) Seal(master string) (SealedProfile, error) {
	salt, err := vault.NewSalt()
	if err != nil {
		return SealedProfile{}, err
	}

	key, err := vault.DeriveKey(master, salt)
	if err != nil {
		return SealedProfile{}, err
	}
	defer vault.Zero(key)

	plain, err := json.Marshal(p.Auth)
	if err != nil {
		return SealedProfile{}, apperr.New(apperr.Storage, "failed to encode auth payload", err)
	}

	envelope, err := vault.Encrypt(string(plain), key)
	if err != nil {
		return SealedProfile{}, err
	}

	return SealedProfile{
		ID:       p.ID,
		Name:     p.Name,
		Host:     p.Host,
		Port:     p.Port,
		Username: p.Username,
		Salt:     salt,
		Secret:   envelope,
	}, nil
}

// Open decrypts the sealed profile back into its in-memory form.
func (s *SealedProfile) Open(master string) (Profile, error) {
	key, err := vault.DeriveKey(master, s.Salt)
	if err != nil {
		return Profile{}, err
	}
	defer vault.Zero(key)

	plain, err := vault.Decrypt(s.Secret, key)
	if err != nil {
		return Profile{}, err
	}

	var auth Auth
	if err := json.Unmarshal([]byte(plain), &auth); err != nil {
		return Profile{}, apperr.New(apperr.DecryptionFailure, "could not decrypt", nil)
	}

	return Profile{
		ID:       s.ID,
		Name:     s.Name,
		Host:     s.Host,
		Port:     s.Port,
		Username: s.Username,
		Auth:     auth,
	}, nil
}
