// Package manifest implements the format-aware signing and verification
// engine (spec.md §3, §4.4): content-addressed checksums over a resolved
// file set, a canonical order-independent signing payload, Ed25519
// signing, and a verification inverse that tolerates renames but rejects
// content drift.
package manifest

import (
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/dreadnode/tensor-man/internal/safelog"
)

// Version is the current manifest schema version (spec.md §3).
const Version = "1.0"

// Algorithms is the fixed algorithm identification block every manifest
// carries.
type Algorithms struct {
	Hash      string `json:"hash"`
	Signature string `json:"signature"`
}

var defaultAlgorithms = Algorithms{Hash: "BLAKE2b512", Signature: "Ed25519"}

// Manifest is the signed document described by spec.md §3. Checksums is
// a map serialized as a sorted-key JSON object, and the signing payload is
// built from its sorted values, so insertion order never leaks into either.
type Manifest struct {
	SchemaVersion string     `json:"version"`
	SignedAt      string     `json:"signed_at"`
	SignedWith    string     `json:"signed_with"`
	PublicKey     string     `json:"public_key"`
	Algorithms    Algorithms `json:"algorithms"`
	Checksums     Checksums  `json:"checksums"`
	Signature     string     `json:"signature"`

	basePath   string
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey
}

// Checksums is a mapping from manifest-relative path (forward
// slashes) to hex-encoded BLAKE2b-512 digest, serialized with sorted keys
// (O2: deterministic JSON serialization).
type Checksums map[string]string

// MarshalJSON emits checksums with keys in sorted order.
func (c Checksums) MarshalJSON() ([]byte, error) {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		vb, err := json.Marshal(c[k])
		if err != nil {
			return nil, err
		}
		b.Write(kb)
		b.WriteByte(':')
		b.Write(vb)
	}
	b.WriteByte('}')
	return []byte(b.String()), nil
}

// ForSigning constructs a transient signing-flavored Manifest rooted at
// basePath (which must exist), computing the public-key fingerprint from
// priv's public half.
func ForSigning(basePath string, priv ed25519.PrivateKey, signedWith string) (*Manifest, error) {
	info, err := os.Stat(basePath)
	if err != nil {
		return nil, fmt.Errorf("base path %s: %w", safelog.Sanitize(basePath), err)
	}
	base := basePath
	if !info.IsDir() {
		base = filepath.Dir(basePath)
	}

	pub, ok := priv.Public().(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("private key does not expose an ed25519 public key")
	}
	fp, err := fingerprint(pub)
	if err != nil {
		return nil, err
	}

	return &Manifest{
		SchemaVersion: Version,
		SignedWith:    signedWith,
		PublicKey:     fp,
		Algorithms:    defaultAlgorithms,
		Checksums:     Checksums{},
		basePath:      base,
		privateKey:    priv,
		publicKey:     pub,
	}, nil
}

// ForVerifying constructs a transient verifying-flavored Manifest rooted
// at basePath, computing the same fingerprint from pub.
func ForVerifying(basePath string, pub ed25519.PublicKey) (*Manifest, error) {
	info, err := os.Stat(basePath)
	if err != nil {
		return nil, fmt.Errorf("base path %s: %w", safelog.Sanitize(basePath), err)
	}
	base := basePath
	if !info.IsDir() {
		base = filepath.Dir(basePath)
	}

	fp, err := fingerprint(pub)
	if err != nil {
		return nil, err
	}

	return &Manifest{
		SchemaVersion: Version,
		PublicKey:     fp,
		Algorithms:    defaultAlgorithms,
		Checksums:     Checksums{},
		basePath:      base,
		publicKey:     pub,
	}, nil
}

// FromSignaturePath deserializes an existing manifest JSON file and
// attaches basePath for subsequent verification. A manifest with a
// missing or empty public_key is rejected as a configuration failure
// (SPEC_FULL.md §12.3 — public_key is required, not optional).
func FromSignaturePath(basePath, manifestPath string) (*Manifest, error) {
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("read manifest %s: %w", safelog.Sanitize(manifestPath), err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", safelog.Sanitize(manifestPath), err)
	}
	if m.PublicKey == "" {
		return nil, fmt.Errorf("manifest %s has no public_key fingerprint", safelog.Sanitize(manifestPath))
	}
	if m.Checksums == nil {
		m.Checksums = Checksums{}
	}
	m.basePath = basePath
	return &m, nil
}

// AddChecksum canonicalizes p, requires it fall under the manifest's base
// path, streams its BLAKE2b-512 digest, and records it keyed by the
// forward-slash path relative to base_path.
func (m *Manifest) AddChecksum(p string) error {
	canon, err := filepath.Abs(p)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", safelog.Sanitize(p), err)
	}
	if resolved, err := filepath.EvalSymlinks(canon); err == nil {
		canon = resolved
	}

	base, err := filepath.Abs(m.basePath)
	if err != nil {
		return fmt.Errorf("resolve base path %s: %w", safelog.Sanitize(m.basePath), err)
	}
	if resolved, err := filepath.EvalSymlinks(base); err == nil {
		base = resolved
	}

	rel, err := filepath.Rel(base, canon)
	if err != nil || strings.HasPrefix(rel, "..") {
		return fmt.Errorf("path %s is outside base directory %s", safelog.Sanitize(canon), safelog.Sanitize(base))
	}

	digest, err := hashFile(canon)
	if err != nil {
		return err
	}

	m.Checksums[filepath.ToSlash(rel)] = digest
	return nil
}

// Payload computes the canonical signing payload: the sorted list of
// checksum values joined by "." (I2, O1 — order-independent by
// construction; keys are deliberately excluded so renames don't invalidate
// a signature).
func (m *Manifest) Payload() string {
	return payloadFrom(m.Checksums)
}

func payloadFrom(checksums Checksums) string {
	values := make([]string, 0, len(checksums))
	for _, v := range checksums {
		values = append(values, v)
	}
	sort.Strings(values)
	return strings.Join(values, ".")
}

// Sign hashes every path in paths into the manifest, computes the
// canonical payload, and signs it with the manifest's private key.
// Sorting paths first only affects log/iteration determinism; signing
// itself is payload-order-independent (property 9).
func (m *Manifest) Sign(paths []string) error {
	if m.privateKey == nil {
		return fmt.Errorf("manifest has no private key to sign with")
	}
	sorted := append([]string(nil), paths...)
	sort.Strings(sorted)

	for _, p := range sorted {
		if err := m.AddChecksum(p); err != nil {
			return err
		}
	}

	m.SignedAt = time.Now().UTC().Format(time.RFC3339)
	sig := ed25519.Sign(m.privateKey, []byte(m.Payload()))
	m.Signature = hex.EncodeToString(sig)
	return nil
}

// ErrFingerprintMismatch, ErrChecksumMismatch and ErrSignatureInvalid are
// the distinct integrity/crypto failure classes spec.md §7 requires be
// distinguishable from one another and from a generic error.
var (
	ErrFingerprintMismatch = fmt.Errorf("public key fingerprint mismatch")
	ErrChecksumMismatch    = fmt.Errorf("checksum mismatch")
	ErrSignatureInvalid    = fmt.Errorf("signature verification failed")
)

// Verify hashes paths into m, then checks m's fingerprint, checksum set,
// and signature against reference — the Manifest loaded from disk via
// FromSignaturePath.
func (m *Manifest) Verify(paths []string, reference *Manifest) error {
	for _, p := range paths {
		if err := m.AddChecksum(p); err != nil {
			return err
		}
	}

	if m.PublicKey != reference.PublicKey {
		return ErrFingerprintMismatch
	}

	if err := compareChecksumSets(m.Checksums, reference.Checksums); err != nil {
		return err
	}

	sig, err := hex.DecodeString(reference.Signature)
	if err != nil {
		return fmt.Errorf("%w: malformed signature encoding", ErrSignatureInvalid)
	}
	if m.publicKey == nil {
		return fmt.Errorf("manifest has no public key to verify with")
	}
	payload := payloadFrom(reference.Checksums)
	if !ed25519.Verify(m.publicKey, []byte(payload), sig) {
		return ErrSignatureInvalid
	}
	return nil
}

// compareChecksumSets implements the value-set equality spec.md §4.4
// mandates: every digest required (self) must appear among the digests
// provided (reference) and vice versa, tolerating renamed keys but
// rejecting missing, extra, or tampered content.
func compareChecksumSets(self, reference Checksums) error {
	selfValues := make(map[string]int, len(self))
	for _, v := range self {
		selfValues[v]++
	}
	refValues := make(map[string]int, len(reference))
	for _, v := range reference {
		refValues[v]++
	}

	for path, digest := range self {
		if refValues[digest] == 0 {
			return fmt.Errorf("%w: %s is not present in the reference manifest", ErrChecksumMismatch, safelog.Sanitize(path))
		}
		refValues[digest]--
	}
	for path, digest := range reference {
		if selfValues[digest] == 0 {
			return fmt.Errorf("%w: reference entry %s has no matching file", ErrChecksumMismatch, safelog.Sanitize(path))
		}
		selfValues[digest]--
	}
	return nil
}

// Save serializes m to path as UTF-8 JSON.
func (m *Manifest) Save(path string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("serialize manifest: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write manifest %s: %w", safelog.Sanitize(path), err)
	}
	return nil
}

// fingerprint returns hex(BLAKE2b-512(pub)) — the manifest's public_key
// field (I3: 128 hex chars).
func fingerprint(pub ed25519.PublicKey) (string, error) {
	sum := blake2b.Sum512(pub)
	return hex.EncodeToString(sum[:]), nil
}

// hashFile streams path through BLAKE2b-512 without requiring it to fit
// in memory.
func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", safelog.Sanitize(path), err)
	}
	defer f.Close()

	h, err := blake2b.New512(nil)
	if err != nil {
		return "", fmt.Errorf("init blake2b: %w", err)
	}
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", safelog.Sanitize(path), err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
