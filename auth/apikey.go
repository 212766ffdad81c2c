// Copyright (c) 2023 The KBase Project and its Contributors
// Copyright (c) 2023 Cohere Consulting, LLC
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of
// this software and associated documentation files (the "Software"), to deal in
// the Software without restriction, including without limitation the rights to
// use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies
// of the Software, and to permit persons to whom the Software is furnished to do
// so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package auth

import (
	"errors"
	"time"

	"github.com/fernet/fernet-go"
)

// keyCipherTTL is large because a peer librarian's API key is expected
// to remain encrypted at rest indefinitely; fernet's TTL check exists
// for message freshness, which doesn't apply here.
const keyCipherTTL = 100 * 365 * 24 * time.Hour

// KeyCipher encrypts and decrypts peer librarian API keys for storage
// in the catalog's librarians table, so a stolen catalog.db file alone
// doesn't expose live credentials to other federation members.
type KeyCipher struct {
	key *fernet.Key
}

// NewKeyCipher builds a KeyCipher from a base64-encoded fernet key, as
// found in config.AuthConfig.FernetKey.
func NewKeyCipher(fernetKey string) (*KeyCipher, error) {
	key, err := fernet.DecodeKey(fernetKey)
	if err != nil {
		return nil, err
	}
	return &KeyCipher{key: key}, nil
}

// Encrypt returns the fernet-encrypted, base64-encoded form of apiKey,
// suitable for storing in catalog.Librarian.APIKey.
func (c *KeyCipher) Encrypt(apiKey string) (string, error) {
	cipherText, err := fernet.EncryptAndSign([]byte(apiKey), c.key)
	if err != nil {
		return "", err
	}
	return string(cipherText), nil
}

// Decrypt recovers the plaintext API key from a value previously
// produced by Encrypt.
func (c *KeyCipher) Decrypt(cipherText string) (string, error) {
	plainText := fernet.VerifyAndDecrypt([]byte(cipherText), keyCipherTTL, []*fernet.Key{c.key})
	if plainText == nil {
		return "", errors.New("peer API key failed fernet verification")
	}
	return string(plainText), nil
}
