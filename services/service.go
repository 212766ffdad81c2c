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

// Package services exposes the librarian's catalog and store-admission
// logic over HTTP: a small set of admin-only operations for operators,
// and a peer-to-peer upload/clone-complete pair that other librarians
// use to push files and report completed clones.
package services

import (
	"context"
	"encoding/json"
	"log"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/net/netutil"

	"github.com/kbase/librarian/admin"
	"github.com/kbase/librarian/auth"
	"github.com/kbase/librarian/catalog"
	"github.com/kbase/librarian/config"
	"github.com/kbase/librarian/errorlog"
	"github.com/kbase/librarian/scheduler"
	"github.com/kbase/librarian/stores"
)

// Service is the librarian's HTTP front end.
type Service struct {
	Name      string
	Version   string
	StartTime time.Time
	Port      int
	Router    *mux.Router
	Server    *http.Server

	Admin     *admin.Service
	Auth      *auth.Authenticator
	Cipher    *auth.KeyCipher
	DB        *catalog.DB
	Stores    *stores.Registry
	ErrorLog  *errorlog.Log
	Scheduler *scheduler.Pool
}

// Version is the librarian service's API version string, reported on
// the root endpoint and used to build the generated OpenAPI document.
const Version = "1.0.0"

// NewService constructs a librarian HTTP service and wires its routes,
// given the already-opened catalog, store registry, and admin
// authenticators it serves.
func NewService(db *catalog.DB, registry *stores.Registry, authn *auth.Authenticator,
	cipher *auth.KeyCipher, errLog *errorlog.Log, pool *scheduler.Pool) (*Service, error) {

	s := &Service{
		Name:    "librarian",
		Version: Version,
		Port:    -1,
		Admin: &admin.Service{
			DB:       db,
			Stores:   registry,
			ErrorLog: errLog,
		},
		Auth:      authn,
		Cipher:    cipher,
		DB:        db,
		Stores:    registry,
		ErrorLog:  errLog,
		Scheduler: pool,
	}

	r := mux.NewRouter()
	r.HandleFunc("/", s.getRoot).Methods("GET")
	AddDocEndpoints(r)

	api := r.PathPrefix("/api/v2").Subrouter()
	api.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	adminRoutes := api.PathPrefix("/admin").Subrouter()
	adminRoutes.HandleFunc("/complete_upload", requireAdmin(authn, s.completeUpload)).Methods("POST")
	adminRoutes.HandleFunc("/stores", requireAdmin(authn, s.listStores)).Methods("GET")
	adminRoutes.HandleFunc("/store_manifest", requireAdmin(authn, s.storeManifest)).Methods("POST")
	adminRoutes.HandleFunc("/store_state_change", requireSuper(authn, s.storeStateChange)).Methods("POST")
	adminRoutes.HandleFunc("/delete_instance", requireSuper(authn, s.deleteInstance)).Methods("POST")

	api.HandleFunc("/upload/{id}", requirePeer(db, cipher, s.uploadFile)).Methods("POST")
	api.HandleFunc("/clone/complete", requirePeer(db, cipher, s.cloneComplete)).Methods("POST")

	// recommended_store is documented via huma rather than hand-wired,
	// since operators and peers alike rely on its generated schema
	// staying in sync with admin.RecommendStoreRequest.
	s.addHumaDocs(r)

	s.Router = r
	return s, nil
}

// getRoot handles GET /, reporting basic service metadata.
func (s *Service) getRoot(w http.ResponseWriter, r *http.Request) {
	data := RootResponse{
		Name:    s.Name,
		Version: s.Version,
		Uptime:  int(s.uptime()),
	}
	if HaveDocEndpoints {
		data.Documentation = "/docs"
	}
	jsonData, _ := json.Marshal(data)
	writeJson(w, jsonData, http.StatusOK)
}

// uptime returns the number of seconds the service has been running.
func (s *Service) uptime() float64 {
	return time.Since(s.StartTime).Seconds()
}

// Start begins serving on the given port, blocking until the server
// stops. It also starts the background task scheduler that drives
// outgoing sends, clone reconciliation, and standing order evaluation.
func (s *Service) Start(port int) error {
	log.Printf("Starting %s service on port %d...", s.Name, port)
	log.Printf("(Accepting up to %d connections)", config.Service.MaxConnections)

	s.StartTime = time.Now()
	s.Port = port

	listener, err := net.Listen("tcp", ":"+strconv.Itoa(port))
	if err != nil {
		return err
	}
	defer listener.Close()
	listener = netutil.LimitListener(listener, config.Service.MaxConnections)

	s.Scheduler.Start(context.Background())

	s.Server = &http.Server{Handler: s.Router}
	err = s.Server.Serve(listener)
	if err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the service without interrupting active
// connections.
func (s *Service) Shutdown(ctx context.Context) error {
	s.Scheduler.Stop()
	return s.Server.Shutdown(ctx)
}

// Close stops the service abruptly, freeing all resources.
func (s *Service) Close() {
	s.Scheduler.Stop()
	s.Server.Close()
}
