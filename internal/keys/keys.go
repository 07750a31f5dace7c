// Package keys implements Ed25519 keypair generation, PKCS#8 private-key
// encoding, and raw public-key I/O for tensor-man's signing identity.
package keys

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"fmt"
	"os"

	"github.com/dreadnode/tensor-man/internal/safelog"
)

// PublicKeySize is the raw Ed25519 public-key length in bytes.
const PublicKeySize = ed25519.PublicKeySize

// Generate creates a fresh Ed25519 keypair.
func Generate() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("generate ed25519 keypair: %w", err)
	}
	return pub, priv, nil
}

// WritePrivateKey PKCS#8-encodes priv and writes it to path as a raw DER
// blob with no armor. If force is false, refuses to overwrite an existing
// file.
func WritePrivateKey(path string, priv ed25519.PrivateKey, force bool) error {
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return fmt.Errorf("encode private key: %w", err)
	}
	return writeNewFile(path, der, force, 0o600)
}

// WritePublicKey writes pub as the raw 32-byte Ed25519 public key with no
// armor. If force is false, refuses to overwrite an existing file.
func WritePublicKey(path string, pub ed25519.PublicKey, force bool) error {
	return writeNewFile(path, pub, force, 0o644)
}

func writeNewFile(path string, data []byte, force bool, perm os.FileMode) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists; pass --force to overwrite", safelog.Sanitize(path))
		} else if !os.IsNotExist(err) {
			return fmt.Errorf("stat %s: %w", safelog.Sanitize(path), err)
		}
	}
	if err := os.WriteFile(path, data, perm); err != nil {
		return fmt.Errorf("write %s: %w", safelog.Sanitize(path), err)
	}
	return nil
}

// LoadPrivateKey reads and PKCS#8-decodes an Ed25519 private key from path.
func LoadPrivateKey(path string) (ed25519.PrivateKey, error) {
	der, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read private key %s: %w", safelog.Sanitize(path), err)
	}
	key, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("parse private key %s: %w", safelog.Sanitize(path), err)
	}
	priv, ok := key.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%s does not contain an ed25519 private key", safelog.Sanitize(path))
	}
	return priv, nil
}

// LoadPublicKey reads a raw 32-byte Ed25519 public key from path.
func LoadPublicKey(path string) (ed25519.PublicKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read public key %s: %w", safelog.Sanitize(path), err)
	}
	if len(raw) != PublicKeySize {
		return nil, fmt.Errorf("%s is not a valid ed25519 public key (got %d bytes, want %d)", safelog.Sanitize(path), len(raw), PublicKeySize)
	}
	return ed25519.PublicKey(raw), nil
}
