// Package vault defines the opaque secret-decryption capability consumed by
// the reconciler (spec §9 "Vault / decryption") and a symmetric-encryption
// backed test double grounded on golang.org/x/crypto/nacl/secretbox. A real
// deployment injects its own Vault implementation; this module only needs
// the capability interface plus one ecosystem-backed double for tests.
package vault

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"os"
	"strings"

	"golang.org/x/crypto/nacl/secretbox"
)

// Vault is the capability boundary: tell whether a leaf value is an
// encrypted blob, and decrypt it. Absence of a working Vault degrades to
// "treat nothing as encrypted" (see NullVault).
type Vault interface {
	IsEncrypted(value string) bool
	Decrypt(value string) (string, error)
}

const prefix = "VAULT;"

// NullVault treats every value as plaintext. Used when no vault secret is
// available: encrypted-looking values are passed through unchanged, they
// are neither decrypted nor dropped.
type NullVault struct{}

func (NullVault) IsEncrypted(string) bool          { return false }
func (NullVault) Decrypt(v string) (string, error) { return v, nil }

// SecretboxVault encrypts/decrypts with a single shared 32-byte key using
// nacl/secretbox, prefixing ciphertext with a recognizable marker so
// IsEncrypted can distinguish encrypted leaves from plaintext ones without
// attempting to decode every string in the tree.
type SecretboxVault struct {
	key [32]byte
}

// NewSecretboxVault builds a vault from a 32-byte key.
func NewSecretboxVault(key [32]byte) *SecretboxVault { return &SecretboxVault{key: key} }

// Load reads a 32-byte secretbox key from path and returns a SecretboxVault,
// or a NullVault when path is empty (no vault configured, matching the
// original's degrade-to-plaintext behavior).
func Load(path string) (Vault, error) {
	if path == "" {
		return NullVault{}, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	trimmed := strings.TrimSpace(string(raw))
	decoded, err := base64.StdEncoding.DecodeString(trimmed)
	if err != nil {
		return nil, errors.New("vault: key file is not valid base64")
	}
	if len(decoded) != 32 {
		return nil, errors.New("vault: key must decode to exactly 32 bytes")
	}
	var key [32]byte
	copy(key[:], decoded)
	return NewSecretboxVault(key), nil
}

func (v *SecretboxVault) IsEncrypted(value string) bool {
	return strings.HasPrefix(value, prefix)
}

// Encrypt is provided for tests that need to construct encrypted fixtures.
func (v *SecretboxVault) Encrypt(plaintext string) (string, error) {
	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", err
	}
	sealed := secretbox.Seal(nonce[:], []byte(plaintext), &nonce, &v.key)
	return prefix + base64.StdEncoding.EncodeToString(sealed), nil
}

func (v *SecretboxVault) Decrypt(value string) (string, error) {
	if !v.IsEncrypted(value) {
		return value, nil
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, prefix))
	if err != nil {
		return "", err
	}
	if len(raw) < 24 {
		return "", errors.New("vault: ciphertext too short")
	}
	var nonce [24]byte
	copy(nonce[:], raw[:24])
	out, ok := secretbox.Open(nil, raw[24:], &nonce, &v.key)
	if !ok {
		return "", errors.New("vault: decryption failed")
	}
	return string(out), nil
}

// DeepDecrypt applies the vault depth-first to any map/list leaf string
// that IsEncrypted flags. Matches the original's asymmetric drop semantics:
// a map whose value fails to decrypt drops the key; a list item that fails
// to decrypt is left unchanged (spec §9, original_source/conductor/utils.py
// deep_decrypt).
func DeepDecrypt(node any, v Vault) {
	switch n := node.(type) {
	case map[string]any:
		for key, value := range n {
			switch value.(type) {
			case map[string]any, []any:
				DeepDecrypt(value, v)
			case string:
				s := value.(string)
				if v.IsEncrypted(s) {
					if plain, err := v.Decrypt(s); err == nil {
						n[key] = plain
					} else {
						delete(n, key)
					}
				}
			}
		}
	case []any:
		for i, item := range n {
			switch item.(type) {
			case map[string]any, []any:
				DeepDecrypt(item, v)
			case string:
				s := item.(string)
				if v.IsEncrypted(s) {
					if plain, err := v.Decrypt(s); err == nil {
						n[i] = plain
					}
					// decryption failure: leave item unchanged, silently
				}
			}
		}
	}
}
