package auth

import (
	"testing"

	"github.com/fernet/fernet-go"
	"github.com/stretchr/testify/require"
)

func TestKeyCipherRoundTrips(t *testing.T) {
	var key fernet.Key
	require.NoError(t, key.Generate())

	c, err := NewKeyCipher(key.Encode())
	require.NoError(t, err)

	cipherText, err := c.Encrypt("s3cr3t-peer-key")
	require.NoError(t, err)
	require.NotEqual(t, "s3cr3t-peer-key", cipherText)

	plainText, err := c.Decrypt(cipherText)
	require.NoError(t, err)
	require.Equal(t, "s3cr3t-peer-key", plainText)
}

func TestKeyCipherRejectsWrongKey(t *testing.T) {
	var key1, key2 fernet.Key
	require.NoError(t, key1.Generate())
	require.NoError(t, key2.Generate())

	c1, err := NewKeyCipher(key1.Encode())
	require.NoError(t, err)
	c2, err := NewKeyCipher(key2.Encode())
	require.NoError(t, err)

	cipherText, err := c1.Encrypt("s3cr3t-peer-key")
	require.NoError(t, err)

	_, err = c2.Decrypt(cipherText)
	require.Error(t, err)
}

func TestNewKeyCipherRejectsInvalidKey(t *testing.T) {
	_, err := NewKeyCipher("not-a-valid-fernet-key")
	require.Error(t, err)
}
