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
	"bytes"
	"encoding/csv"
	"errors"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/fernet/fernet-go"
)

// Authenticator accepts a bearer token in exchange for an admin User
// record. The token-to-user map lives in a fernet-encrypted,
// tab-delimited file that an operator maintains by hand; this is a
// deliberately simple access-control mechanism rather than a full
// identity provider integration.
type Authenticator struct {
	UserForToken    map[string]User
	TimeOfLastRead  time.Time
	RereadInterval  time.Duration
	AccessTokenFile string
	FernetKey       string
}

// defaultRereadInterval governs how often a long-lived Authenticator
// rereads its access token file, so an operator's edit takes effect
// without a service restart.
const defaultRereadInterval = time.Minute

// NewAuthenticator builds an Authenticator that reads accessTokenFile,
// decrypting it with fernetKey. An empty fernetKey disables the file
// entirely (every token is rejected), matching a librarian deployed
// with no admin access configured.
func NewAuthenticator(accessTokenFile, fernetKey string) (*Authenticator, error) {
	a := &Authenticator{
		RereadInterval:  defaultRereadInterval,
		AccessTokenFile: accessTokenFile,
		FernetKey:       fernetKey,
	}
	if err := a.readAccessTokenFile(); err != nil {
		return nil, err
	}
	return a, nil
}

// Authenticate returns the User associated with accessToken, or an
// error if the token isn't recognized.
func (a *Authenticator) Authenticate(accessToken string) (User, error) {
	if time.Since(a.TimeOfLastRead) > a.RereadInterval {
		if err := a.readAccessTokenFile(); err != nil {
			return User{}, err
		}
	}
	if user, found := a.UserForToken[accessToken]; found {
		return user, nil
	}
	return User{}, errors.New("invalid access token")
}

func (a *Authenticator) readAccessTokenFile() error {
	if a.FernetKey == "" {
		a.UserForToken = make(map[string]User)
		a.TimeOfLastRead = time.Now()
		slog.Debug("no fernet key configured; admin access token file disabled")
		return nil
	}

	key, err := fernet.DecodeKey(a.FernetKey)
	if err != nil {
		return err
	}

	cipherText, err := os.ReadFile(a.AccessTokenFile)
	if err != nil {
		return err
	}

	ttl := 365 * 24 * time.Hour // accept files signed up to a year ago
	plainText := fernet.VerifyAndDecrypt(cipherText, ttl, []*fernet.Key{key})
	if plainText == nil {
		return errors.New("access token file failed fernet verification")
	}

	// the plaintext content is a tab-delimited file with records like so:
	// Name\tEmail\tToken\tSuper
	reader := csv.NewReader(bytes.NewReader(plainText))
	reader.Comma = '\t'
	reader.Comment = '#'
	reader.FieldsPerRecord = 4

	records, err := reader.ReadAll()
	if err != nil {
		return err
	}

	userForToken := make(map[string]User, len(records))
	for _, record := range records {
		token := record[2]
		userForToken[token] = User{
			Name:    record[0],
			Email:   record[1],
			IsSuper: strings.EqualFold(record[3], "true") || record[3] == "1",
		}
	}

	a.UserForToken = userForToken
	a.TimeOfLastRead = time.Now()
	return nil
}
