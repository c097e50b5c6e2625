package crypto

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKeyPEM(t *testing.T) []byte {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	keyPEM := testKeyPEM(t)

	blob, err := EncryptKey(keyPEM, "hunter2")
	require.NoError(t, err)
	assert.NotContains(t, string(blob), "PRIVATE KEY", "ciphertext must not leak the PEM")

	got, err := DecryptKey(blob, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, keyPEM, got)
}

func TestDecryptWrongPassword(t *testing.T) {
	blob, err := EncryptKey(testKeyPEM(t), "correct")
	require.NoError(t, err)

	_, err = DecryptKey(blob, "wrong")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decryption failed")
}

func TestEncryptRejectsNonPEM(t *testing.T) {
	_, err := EncryptKey([]byte("not a pem"), "pw")
	require.Error(t, err)
}

func TestEncryptRejectsEmptyPassword(t *testing.T) {
	_, err := EncryptKey(testKeyPEM(t), "")
	require.Error(t, err)
}

func TestLoadKeyResolutionOrder(t *testing.T) {
	keyPEM := testKeyPEM(t)
	dir := t.TempDir()

	// Inline PEM wins over everything.
	got, err := LoadKey(KeyConfig{PrivateKeyPEM: string(keyPEM)})
	require.NoError(t, err)
	assert.Equal(t, keyPEM, got)

	// Plaintext file.
	plainPath := filepath.Join(dir, "key.pem")
	require.NoError(t, os.WriteFile(plainPath, keyPEM, 0o600))
	got, err = LoadKey(KeyConfig{PrivateKeyPath: plainPath})
	require.NoError(t, err)
	assert.Equal(t, keyPEM, got)

	// Encrypted file.
	blob, err := EncryptKey(keyPEM, "pw")
	require.NoError(t, err)
	encPath := filepath.Join(dir, "key.enc.json")
	require.NoError(t, os.WriteFile(encPath, blob, 0o600))
	got, err = LoadKey(KeyConfig{EncryptedKeyPath: encPath, KeyPassword: "pw"})
	require.NoError(t, err)
	assert.Equal(t, keyPEM, got)

	// Nothing configured.
	_, err = LoadKey(KeyConfig{})
	require.Error(t, err)
}
