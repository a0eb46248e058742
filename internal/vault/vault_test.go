package vault

import (
	"bytes"
	"regexp"
	"strings"
	"testing"

	"sshdeck/internal/apperr"
)

func deriveTestKey(t *testing.T) []byte {
	t.Helper()
	key, err := DeriveKey("hunter2", "a1b2")
	if err != nil {
		t.Fatalf("DeriveKey failed: %v", err)
	}
	return key
}

func TestDeriveKeyDeterministic(t *testing.T) {
	k1 := deriveTestKey(t)
	k2 := deriveTestKey(t)

	if len(k1) != KeySize {
		t.Fatalf("expected %d-byte key, got %d", KeySize, len(k1))
	}
	if !bytes.Equal(k1, k2) {
		t.Error("same (passphrase, salt) produced different keys")
	}
}

func TestDeriveKeyDifferentSalts(t *testing.T) {
	k1, err := DeriveKey("hunter2", "salt-one")
	if err != nil {
		t.Fatalf("DeriveKey failed: %v", err)
	}
	k2, err := DeriveKey("hunter2", "salt-two")
	if err != nil {
		t.Fatalf("DeriveKey failed: %v", err)
	}
	if bytes.Equal(k1, k2) {
		t.Error("different salts produced identical keys")
	}
}

func TestDeriveKeyEmptyInputs(t *testing.T) {
	if _, err := DeriveKey("", "salt"); !apperr.IsKind(err, apperr.Validation) {
		t.Errorf("empty passphrase: expected validation error, got %v", err)
	}
	if _, err := DeriveKey("pass", ""); !apperr.IsKind(err, apperr.Validation) {
		t.Errorf("empty salt: expected validation error, got %v", err)
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key := deriveTestKey(t)

	plaintexts := []string{
		"",
		"secret",
		"exactly sixteen!",
		strings.Repeat("long payload ", 100),
		"unicode: zażółć gęślą jaźń",
	}
	for _, plaintext := range plaintexts {
		envelope, err := Encrypt(plaintext, key)
		if err != nil {
			t.Fatalf("Encrypt(%q) failed: %v", plaintext, err)
		}
		got, err := Decrypt(envelope, key)
		if err != nil {
			t.Fatalf("Decrypt of %q envelope failed: %v", plaintext, err)
		}
		if got != plaintext {
			t.Errorf("round trip mismatch: got %q, want %q", got, plaintext)
		}
	}
}

func TestEncryptEnvelopeFormat(t *testing.T) {
	key := deriveTestKey(t)

	envelope, err := Encrypt("secret", key)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	// 16-byte IV is 32 hex chars, then the delimiter, then hex ciphertext.
	format := regexp.MustCompile(`^[0-9a-f]{32}:[0-9a-f]+$`)
	if !format.MatchString(envelope) {
		t.Errorf("envelope %q does not match <32-hex>:<hex>", envelope)
	}
}

func TestEncryptFreshIV(t *testing.T) {
	key := deriveTestKey(t)

	e1, err := Encrypt("secret", key)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	e2, err := Encrypt("secret", key)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	if e1 == e2 {
		t.Error("two encryptions of the same plaintext produced identical envelopes")
	}
}

func TestKeyLengthValidation(t *testing.T) {
	shortKey := make([]byte, 16)

	if _, err := Encrypt("secret", shortKey); !apperr.IsKind(err, apperr.InvalidKeyLength) {
		t.Errorf("Encrypt with 16-byte key: expected invalid key length, got %v", err)
	}
	if _, err := Decrypt("00:00", shortKey); !apperr.IsKind(err, apperr.InvalidKeyLength) {
		t.Errorf("Decrypt with 16-byte key: expected invalid key length, got %v", err)
	}
	if _, err := Encrypt("secret", nil); !apperr.IsKind(err, apperr.InvalidKeyLength) {
		t.Errorf("Encrypt with nil key: expected invalid key length, got %v", err)
	}
}

func TestDecryptMalformedEnvelope(t *testing.T) {
	key := deriveTestKey(t)

	cases := []struct {
		name     string
		envelope string
	}{
		{"no delimiter", "deadbeef"},
		{"three segments", "aa:bb:cc"},
		{"non-hex IV", strings.Repeat("zz", 16) + ":" + strings.Repeat("00", 16)},
		{"short IV", strings.Repeat("00", 8) + ":" + strings.Repeat("00", 16)},
		{"long IV", strings.Repeat("00", 24) + ":" + strings.Repeat("00", 16)},
		{"non-hex ciphertext", strings.Repeat("00", 16) + ":nothex"},
		{"empty ciphertext", strings.Repeat("00", 16) + ":"},
		{"ragged ciphertext", strings.Repeat("00", 16) + ":" + strings.Repeat("00", 15)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Decrypt(tc.envelope, key); !apperr.IsKind(err, apperr.MalformedEnvelope) {
				t.Errorf("expected malformed envelope error, got %v", err)
			}
		})
	}
}

func TestDecryptWrongKey(t *testing.T) {
	key := deriveTestKey(t)
	otherKey, err := DeriveKey("hunter3", "a1b2")
	if err != nil {
		t.Fatalf("DeriveKey failed: %v", err)
	}

	envelope, err := Encrypt("secret", key)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	got, err := Decrypt(envelope, otherKey)
	if err == nil {
		// CBC without authentication cannot reject every wrong key, but
		// it must never hand back the original plaintext.
		if got == "secret" {
			t.Fatal("decrypt with wrong key returned the original plaintext")
		}
		t.Skip("wrong-key decrypt produced valid-looking padding")
	}
	if !apperr.IsKind(err, apperr.DecryptionFailure) {
		t.Errorf("expected generic decryption failure, got %v", err)
	}
}

func TestEndToEndExample(t *testing.T) {
	k1 := deriveTestKey(t)
	k2 := deriveTestKey(t)
	if !bytes.Equal(k1, k2) || len(k1) != 32 {
		t.Fatal("deriveKey(hunter2, a1b2) must be deterministic 32 bytes")
	}

	envelope, err := Encrypt("secret", k1)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	if !regexp.MustCompile(`^[0-9a-f]{32}:[0-9a-f]+$`).MatchString(envelope) {
		t.Fatalf("unexpected envelope shape %q", envelope)
	}

	got, err := Decrypt(envelope, k1)
	if err != nil {
		t.Fatalf("Decrypt failed: %v", err)
	}
	if got != "secret" {
		t.Errorf("got %q, want %q", got, "secret")
	}
}

func TestNewSalt(t *testing.T) {
	s1, err := NewSalt()
	if err != nil {
		t.Fatalf("NewSalt failed: %v", err)
	}
	s2, err := NewSalt()
	if err != nil {
		t.Fatalf("NewSalt failed: %v", err)
	}
	if len(s1) != SaltSize*2 {
		t.Errorf("expected %d hex chars, got %d", SaltSize*2, len(s1))
	}
	if s1 == s2 {
		t.Error("two salts were identical")
	}
}
