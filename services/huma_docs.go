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
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humamux"
	"github.com/gorilla/mux"

	"github.com/kbase/librarian/admin"
)

// recommendedStoreInput is the huma input for the documented
// recommended_store operation: a bearer token plus the request body.
type recommendedStoreInput struct {
	Authorization string `header:"Authorization"`
	Body          admin.RecommendStoreRequest
}

// recommendedStoreOutput wraps admin.RecommendStoreResponse for huma.
type recommendedStoreOutput struct {
	Body admin.RecommendStoreResponse
}

// addHumaDocs registers the one OpenAPI-documented operation this
// service exposes, recommended_store, on top of the same router used
// for the service's other (undocumented) routes. Operators and peer
// librarians alike use this operation to decide where a new upload
// should land, so it gets the self-describing treatment: a generated
// schema, rather than hand-maintained prose, is what keeps the two in
// sync as RecommendStoreRequest evolves.
func (s *Service) addHumaDocs(router *mux.Router) {
	api := humamux.New(router, huma.DefaultConfig(s.Name, s.Version))

	huma.Register(api, huma.Operation{
		OperationID: "recommendedStore",
		Method:      http.MethodPost,
		Path:        "/api/v2/admin/recommended_store",
		Summary:     "Recommend a store for a new upload of a given size",
		Security:    []map[string][]string{{"bearerAuth": {}}},
	}, func(ctx context.Context, input *recommendedStoreInput) (*recommendedStoreOutput, error) {
		token, err := bearerToken(http.Header{"Authorization": []string{input.Authorization}})
		if err != nil {
			return nil, huma.NewError(http.StatusUnauthorized, err.Error())
		}
		if _, err := s.Auth.Authenticate(token); err != nil {
			return nil, huma.NewError(http.StatusUnauthorized, "invalid access token")
		}
		resp := s.Admin.RecommendStore(ctx, input.Body)
		return &recommendedStoreOutput{Body: resp}, nil
	})
}
