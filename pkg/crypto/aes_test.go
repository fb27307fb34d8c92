package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testKey = []byte("0123456789abcdef0123456789abcdef")

func TestNewAESCrypto_RejectsBadKeySize(t *testing.T) {
	_, err := NewAESCrypto([]byte("short"))
	assert.ErrorIs(t, err, ErrInvalidKeySize)

	_, err = NewAESCrypto(testKey)
	assert.NoError(t, err)
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	c, err := NewAESCrypto(testKey)
	require.NoError(t, err)

	plaintext := "a1b2c3d4e5f60718293a4b5c6d7e8f90a1b2c3d4e5f60718293a4b5c6d7e8f90"

	ciphertext, err := c.Encrypt(plaintext)
	require.NoError(t, err)
	assert.NotEqual(t, plaintext, ciphertext)

	decrypted, err := c.Decrypt(ciphertext)
	require.NoError(t, err)
	assert.Equal(t, plaintext, decrypted)
}

func TestEncrypt_NonceMakesCiphertextsDiffer(t *testing.T) {
	c, err := NewAESCrypto(testKey)
	require.NoError(t, err)

	c1, err := c.Encrypt("same input")
	require.NoError(t, err)
	c2, err := c.Encrypt("same input")
	require.NoError(t, err)

	assert.NotEqual(t, c1, c2)
}

func TestEncryptDecrypt_EmptyString(t *testing.T) {
	c, err := NewAESCrypto(testKey)
	require.NoError(t, err)

	ciphertext, err := c.Encrypt("")
	require.NoError(t, err)
	assert.Empty(t, ciphertext)

	plaintext, err := c.Decrypt("")
	require.NoError(t, err)
	assert.Empty(t, plaintext)
}

func TestDecrypt_WrongKeyFails(t *testing.T) {
	c1, err := NewAESCrypto(testKey)
	require.NoError(t, err)
	c2, err := NewAESCrypto([]byte("ffffffffffffffffffffffffffffffff"))
	require.NoError(t, err)

	ciphertext, err := c1.Encrypt("sensitive")
	require.NoError(t, err)

	_, err = c2.Decrypt(ciphertext)
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestDecrypt_MalformedInput(t *testing.T) {
	c, err := NewAESCrypto(testKey)
	require.NoError(t, err)

	_, err = c.Decrypt("not-base64!!!")
	assert.Error(t, err)

	// Valid base64 but shorter than a nonce.
	_, err = c.Decrypt("YWJj")
	assert.ErrorIs(t, err, ErrInvalidCiphertext)
}
