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

package services

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/kbase/librarian/auth"
	"github.com/kbase/librarian/catalog"
)

type contextKey string

const (
	adminUserKey contextKey = "admin-user"
	librarianKey contextKey = "librarian"
)

// bearerToken extracts the token from an "Authorization: Bearer <token>"
// header, or returns an error if the header is missing or malformed.
func bearerToken(header http.Header) (string, error) {
	authData := header.Get("Authorization")
	if !strings.HasPrefix(authData, "Bearer ") {
		return "", errMissingBearer
	}
	token := strings.TrimSpace(strings.TrimPrefix(authData, "Bearer "))
	if token == "" {
		return "", errMissingBearer
	}
	return token, nil
}

var errMissingBearer = errors.New("missing bearer token")

// requireAdmin wraps handler so it only runs once the request's bearer
// token authenticates against authn, injecting the resulting auth.User
// into the request context.
func requireAdmin(authn *auth.Authenticator, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, err := bearerToken(r.Header)
		if err != nil {
			writeError(w, err.Error(), http.StatusUnauthorized)
			return
		}
		user, err := authn.Authenticate(token)
		if err != nil {
			writeError(w, "invalid access token", http.StatusUnauthorized)
			return
		}
		ctx := context.WithValue(r.Context(), adminUserKey, user)
		handler(w, r.WithContext(ctx))
	}
}

// requireSuper is like requireAdmin, additionally rejecting a
// recognized but non-superuser token for destructive admin operations.
func requireSuper(authn *auth.Authenticator, handler http.HandlerFunc) http.HandlerFunc {
	return requireAdmin(authn, func(w http.ResponseWriter, r *http.Request) {
		user, _ := r.Context().Value(adminUserKey).(auth.User)
		if !user.IsSuper {
			writeError(w, "this operation requires a superuser token", http.StatusForbidden)
			return
		}
		handler(w, r)
	})
}

// requirePeer wraps handler so it only runs once the request's bearer
// token matches some peer librarian's decrypted API key, injecting the
// matched catalog.Librarian into the request context.
func requirePeer(db *catalog.DB, cipher *auth.KeyCipher, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, err := bearerToken(r.Header)
		if err != nil {
			writeError(w, err.Error(), http.StatusUnauthorized)
			return
		}
		librarians, err := db.Librarians(r.Context())
		if err != nil {
			writeError(w, "internal error", http.StatusInternalServerError)
			return
		}
		for _, l := range librarians {
			plainKey, err := cipher.Decrypt(l.APIKey)
			if err != nil {
				continue
			}
			if plainKey == token {
				ctx := context.WithValue(r.Context(), librarianKey, l)
				handler(w, r.WithContext(ctx))
				return
			}
		}
		writeError(w, "unrecognized peer API key", http.StatusUnauthorized)
	}
}

// librarianFromContext recovers the catalog.Librarian a requirePeer
// middleware matched the request to.
func librarianFromContext(ctx context.Context) (catalog.Librarian, bool) {
	l, ok := ctx.Value(librarianKey).(catalog.Librarian)
	return l, ok
}
