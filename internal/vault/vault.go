// internal/vault/vault.go
//
// This package implements the credential vault for sshdeck. It derives a
// symmetric key from a user-held master passphrase plus a stored salt, and
// uses that key to protect profile secrets at rest. Only the salt and the
// ciphertext envelope are ever persisted; the derived key lives in memory
// for the duration of an operation and is discarded afterwards.

package vault

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"io"
	"strings"

	"golang.org/x/crypto/pbkdf2"

	"sshdeck/internal/apperr"
)

const (
	// KeySize is the derived key length in bytes. 32 bytes for AES-256.
	KeySize = 32

	// IVSize is the CBC initialization vector length, one cipher block.
	IVSize = aes.BlockSize

	// SaltSize is the length of a freshly generated per-profile salt.
	SaltSize = 16

	// Iterations is the PBKDF2 round count. Deliberately expensive so that
	// offline guessing of the master passphrase stays slow.
	Iterations = 120_000

	// Delimiter joins the hex-encoded IV and ciphertext in an envelope.
	// It is public, not secret.
	Delimiter = ":"
)

// DeriveKey derives a KeySize-byte key from the master passphrase and a salt
// using PBKDF2-SHA256. The same (passphrase, salt) pair always yields the
// same key. The salt is not secret and is stored alongside the data it
// protects; the key itself must never be persisted.
func DeriveKey(passphrase, salt string) ([]byte, error) {
	if passphrase == "" {
		return nil, apperr.New(apperr.Validation, "passphrase cannot be empty", nil)
	}
	if salt == "" {
		return nil, apperr.New(apperr.Validation, "salt cannot be empty", nil)
	}
	return pbkdf2.Key([]byte(passphrase), []byte(salt), Iterations, KeySize, sha256.New), nil
}

// NewSalt returns a fresh random salt, hex-encoded. One salt per profile;
// salts are never reused across unrelated secrets.
func NewSalt() (string, error) {
	b := make([]byte, SaltSize)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return "", apperr.New(apperr.Storage, "failed to generate salt", err)
	}
	return hex.EncodeToString(b), nil
}

// Encrypt encrypts plaintext with AES-256-CBC under key and returns the
// envelope hex(iv) + ":" + hex(ciphertext). A fresh IV is drawn from the
// secure random source on every call; an IV is never reused with the same key.
func Encrypt(plaintext string, key []byte) (string, error) {
	if len(key) != KeySize {
		return "", apperr.Newf(apperr.InvalidKeyLength, "key must be %d bytes, got %d", KeySize, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", apperr.New(apperr.Unknown, "failed to create cipher", err)
	}

	iv := make([]byte, IVSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", apperr.New(apperr.Storage, "failed to generate IV", err)
	}

	padded := pkcs7Pad([]byte(plaintext), aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	return hex.EncodeToString(iv) + Delimiter + hex.EncodeToString(ciphertext), nil
}

// Decrypt reverses Encrypt. It reports MalformedEnvelope when the envelope
// structure itself is wrong (segment count, hex encoding, IV length) and a
// single generic DecryptionFailure for every cryptographic failure — wrong
// key, corrupted ciphertext or bad padding are indistinguishable to the
// caller so the error cannot be used as a padding oracle.
func Decrypt(envelope string, key []byte) (string, error) {
	if len(key) != KeySize {
		return "", apperr.Newf(apperr.InvalidKeyLength, "key must be %d bytes, got %d", KeySize, len(key))
	}

	parts := strings.Split(envelope, Delimiter)
	if len(parts) != 2 {
		return "", apperr.New(apperr.MalformedEnvelope, "envelope must have exactly two segments", nil)
	}

	iv, err := hex.DecodeString(parts[0])
	if err != nil {
		return "", apperr.New(apperr.MalformedEnvelope, "IV segment is not valid hex", nil)
	}
	if len(iv) != IVSize {
		return "", apperr.Newf(apperr.MalformedEnvelope, "IV must be %d bytes, got %d", IVSize, len(iv))
	}

	ciphertext, err := hex.DecodeString(parts[1])
	if err != nil {
		return "", apperr.New(apperr.MalformedEnvelope, "ciphertext segment is not valid hex", nil)
	}
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return "", apperr.New(apperr.MalformedEnvelope, "ciphertext is not a whole number of blocks", nil)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", apperr.New(apperr.DecryptionFailure, "could not decrypt", nil)
	}

	padded := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(padded, ciphertext)

	plaintext, ok := pkcs7Unpad(padded, aes.BlockSize)
	if !ok {
		return "", apperr.New(apperr.DecryptionFailure, "could not decrypt", nil)
	}

	return string(plaintext), nil
}

// Zero overwrites a key or other secret byte slice.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	return append(data, bytes.Repeat([]byte{byte(n)}, n)...)
}

// pkcs7Unpad validates in constant time over the padding bytes. The caller
// collapses a false return into the generic decryption failure.
func pkcs7Unpad(data []byte, blockSize int) ([]byte, bool) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, false
	}
	n := int(data[len(data)-1])
	if n == 0 || n > blockSize {
		return nil, false
	}
	good := 1
	for _, b := range data[len(data)-n:] {
		good &= subtle.ConstantTimeByteEq(b, byte(n))
	}
	if good != 1 {
		return nil, false
	}
	return data[:len(data)-n], true
}
