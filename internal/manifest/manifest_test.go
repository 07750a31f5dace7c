package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dreadnode/tensor-man/internal/keys"
)

func writeTempFile(t *testing.T, dir, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, content, 0o644))
	return path
}

func TestKnownBlake2bDigest(t *testing.T) {
	dir := t.TempDir()
	path := writeTempFile(t, dir, "test.txt", []byte("test"))

	digest, err := hashFile(path)
	require.NoError(t, err)
	require.Equal(t,
		"a71079d42853dea26e453004338670a53814b78137ffbed07603a41d76a483aa9bc33b582f77d30a65e6f29a896c0411f38312e1d66e0bf16386c86a89bea572",
		digest)
}

func TestRoundTripSignAndVerify(t *testing.T) {
	dir := t.TempDir()
	path := writeTempFile(t, dir, "model.safetensors", []byte("weights"))

	pub, priv, err := keys.Generate()
	require.NoError(t, err)

	m, err := ForSigning(dir, priv, "tensor-man/test")
	require.NoError(t, err)
	require.NoError(t, m.Sign([]string{path}))

	manifestPath := filepath.Join(dir, "tensor-man.signature")
	require.NoError(t, m.Save(manifestPath))

	ref, err := FromSignaturePath(dir, manifestPath)
	require.NoError(t, err)

	v, err := ForVerifying(dir, pub)
	require.NoError(t, err)
	require.NoError(t, v.Verify([]string{path}, ref))
}

func TestTamperDetection(t *testing.T) {
	dir := t.TempDir()
	path := writeTempFile(t, dir, "model.safetensors", []byte("weights"))

	pub, priv, err := keys.Generate()
	require.NoError(t, err)

	m, err := ForSigning(dir, priv, "tensor-man/test")
	require.NoError(t, err)
	require.NoError(t, m.Sign([]string{path}))
	manifestPath := filepath.Join(dir, "tensor-man.signature")
	require.NoError(t, m.Save(manifestPath))
	ref, err := FromSignaturePath(dir, manifestPath)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("tampered"), 0o644))

	v, err := ForVerifying(dir, pub)
	require.NoError(t, err)
	err = v.Verify([]string{path}, ref)
	require.ErrorIs(t, err, ErrChecksumMismatch)
}

func TestWrongKeyRejection(t *testing.T) {
	dir := t.TempDir()
	path := writeTempFile(t, dir, "model.safetensors", []byte("weights"))

	_, priv, err := keys.Generate()
	require.NoError(t, err)
	otherPub, _, err := keys.Generate()
	require.NoError(t, err)

	m, err := ForSigning(dir, priv, "tensor-man/test")
	require.NoError(t, err)
	require.NoError(t, m.Sign([]string{path}))
	manifestPath := filepath.Join(dir, "tensor-man.signature")
	require.NoError(t, m.Save(manifestPath))
	ref, err := FromSignaturePath(dir, manifestPath)
	require.NoError(t, err)

	v, err := ForVerifying(dir, otherPub)
	require.NoError(t, err)
	err = v.Verify([]string{path}, ref)
	require.ErrorIs(t, err, ErrFingerprintMismatch)
}

func TestRenameTolerance(t *testing.T) {
	dir := t.TempDir()
	path := writeTempFile(t, dir, "model.safetensors", []byte("weights"))

	pub, priv, err := keys.Generate()
	require.NoError(t, err)
	m, err := ForSigning(dir, priv, "tensor-man/test")
	require.NoError(t, err)
	require.NoError(t, m.Sign([]string{path}))
	manifestPath := filepath.Join(dir, "tensor-man.signature")
	require.NoError(t, m.Save(manifestPath))
	ref, err := FromSignaturePath(dir, manifestPath)
	require.NoError(t, err)

	renamed := filepath.Join(dir, "renamed.safetensors")
	require.NoError(t, os.Rename(path, renamed))

	v, err := ForVerifying(dir, pub)
	require.NoError(t, err)
	require.NoError(t, v.Verify([]string{renamed}, ref))
}

func TestExtraFileRejection(t *testing.T) {
	dir := t.TempDir()
	path := writeTempFile(t, dir, "model.safetensors", []byte("weights"))

	pub, priv, err := keys.Generate()
	require.NoError(t, err)
	m, err := ForSigning(dir, priv, "tensor-man/test")
	require.NoError(t, err)
	require.NoError(t, m.Sign([]string{path}))
	manifestPath := filepath.Join(dir, "tensor-man.signature")
	require.NoError(t, m.Save(manifestPath))
	ref, err := FromSignaturePath(dir, manifestPath)
	require.NoError(t, err)

	extra := writeTempFile(t, dir, "extra.safetensors", []byte("more weights"))

	v, err := ForVerifying(dir, pub)
	require.NoError(t, err)
	err = v.Verify([]string{path, extra}, ref)
	require.ErrorIs(t, err, ErrChecksumMismatch)
}

func TestEmptyFileRejection(t *testing.T) {
	dir := t.TempDir()
	path := writeTempFile(t, dir, "model.safetensors", []byte("weights"))

	pub, priv, err := keys.Generate()
	require.NoError(t, err)
	m, err := ForSigning(dir, priv, "tensor-man/test")
	require.NoError(t, err)
	require.NoError(t, m.Sign([]string{path}))
	manifestPath := filepath.Join(dir, "tensor-man.signature")
	require.NoError(t, m.Save(manifestPath))
	ref, err := FromSignaturePath(dir, manifestPath)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, nil, 0o644))

	v, err := ForVerifying(dir, pub)
	require.NoError(t, err)
	err = v.Verify([]string{path}, ref)
	require.ErrorIs(t, err, ErrChecksumMismatch)
}

func TestBasePathContainment(t *testing.T) {
	dir := t.TempDir()
	outside := t.TempDir()
	path := writeTempFile(t, outside, "model.safetensors", []byte("weights"))

	_, priv, err := keys.Generate()
	require.NoError(t, err)
	m, err := ForSigning(dir, priv, "tensor-man/test")
	require.NoError(t, err)

	err = m.AddChecksum(path)
	require.Error(t, err)
}

func TestFingerprintStability(t *testing.T) {
	dir := t.TempDir()
	pub, priv, err := keys.Generate()
	require.NoError(t, err)

	signing, err := ForSigning(dir, priv, "tensor-man/test")
	require.NoError(t, err)
	verifying, err := ForVerifying(dir, pub)
	require.NoError(t, err)

	require.Equal(t, signing.PublicKey, verifying.PublicKey)
	require.Len(t, signing.PublicKey, 128)
}

func TestPayloadOrderInvariance(t *testing.T) {
	dir := t.TempDir()
	a := writeTempFile(t, dir, "a.safetensors", []byte("alpha"))
	b := writeTempFile(t, dir, "b.safetensors", []byte("beta"))

	_, priv, err := keys.Generate()
	require.NoError(t, err)

	m1, err := ForSigning(dir, priv, "tensor-man/test")
	require.NoError(t, err)
	require.NoError(t, m1.Sign([]string{a, b}))

	m2, err := ForSigning(dir, priv, "tensor-man/test")
	require.NoError(t, err)
	require.NoError(t, m2.Sign([]string{b, a}))

	require.Equal(t, m1.Signature, m2.Signature)
}

func TestPreservedNestedPath(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "inner"), 0o755))
	path := writeTempFile(t, filepath.Join(dir, "inner"), "test.txt", []byte("nested"))

	_, priv, err := keys.Generate()
	require.NoError(t, err)
	m, err := ForSigning(dir, priv, "tensor-man/test")
	require.NoError(t, err)
	require.NoError(t, m.AddChecksum(path))

	digest, ok := m.Checksums["inner/test.txt"]
	require.True(t, ok)
	require.NotEmpty(t, digest)
}

func TestMissingPublicKeyRejected(t *testing.T) {
	dir := t.TempDir()
	manifestPath := writeTempFile(t, dir, "tensor-man.signature", []byte(`{"version":"1.0","checksums":{}}`))

	_, err := FromSignaturePath(dir, manifestPath)
	require.Error(t, err)
}
