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

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/kbase/librarian/auth"
	"github.com/kbase/librarian/catalog"
	"github.com/kbase/librarian/config"
	"github.com/kbase/librarian/errorlog"
	"github.com/kbase/librarian/incoming"
	"github.com/kbase/librarian/scheduler"
	"github.com/kbase/librarian/sendqueue"
	"github.com/kbase/librarian/services"
	"github.com/kbase/librarian/standingorder"
	"github.com/kbase/librarian/stores"
	"github.com/kbase/librarian/transfermanager"
)

//go:generate mkdir -p services/docs
//go:generate redoc-cli bundle docs/openapi.yaml
//go:generate cp docs/openapi.yaml services/docs/openapi.yaml
//go:generate mv redoc-static.html services/docs/index.html

// The above logic bundles docs/openapi.yaml into services/docs (index.html
// and openapi.yaml), which the services package embeds and serves under
// the "docs" prefix. To enable these endpoints, you must use the "docs"
// build: go build -tags docs

// prints usage info
func usage() {
	fmt.Fprintf(os.Stderr, "%s: usage:\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "%s <config_file>\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "See config/config.go for details on config files.\n")
	os.Exit(1)
}

func enableLogging() {
	logLevel := new(slog.LevelVar)
	if config.Service.Debug {
		logLevel.Set(slog.LevelDebug)
	} else if err := logLevel.UnmarshalText([]byte(config.Service.LogLevel)); err != nil {
		logLevel.Set(slog.LevelInfo)
	}
	handler := slog.NewJSONHandler(os.Stdout,
		&slog.HandlerOptions{Level: logLevel})
	slog.SetDefault(slog.New(handler))
	slog.Debug("Debug logging enabled.")
}

// seedCatalog makes sure every store and librarian named in the
// configuration has a corresponding catalog row, so a fresh or
// restarted librarian doesn't need a separate provisioning step. An
// AlreadyExistsError here just means a previous run already seeded the
// row; anything else is fatal.
func seedCatalog(ctx context.Context, db *catalog.DB, cipher *auth.KeyCipher) error {
	for name, s := range config.Stores {
		_, err := db.CreateStore(ctx, catalog.Store{
			Name:       name,
			Kind:       s.Kind,
			Root:       s.Root,
			Ingestable: s.Ingestable,
			Available:  true,
			Enabled:    true,
		})
		var exists catalog.AlreadyExistsError
		if err != nil && !errors.As(err, &exists) {
			return fmt.Errorf("seeding store %q: %w", name, err)
		}
	}
	for name, l := range config.Librarians {
		encryptedKey, err := cipher.Encrypt(l.APIKey)
		if err != nil {
			return fmt.Errorf("encrypting API key for librarian %q: %w", name, err)
		}
		_, err = db.CreateLibrarian(ctx, catalog.Librarian{
			Name: l.Name, URL: l.URL, APIKey: encryptedKey,
		})
		var exists catalog.AlreadyExistsError
		if err != nil && !errors.As(err, &exists) {
			return fmt.Errorf("seeding librarian %q: %w", name, err)
		}
	}
	return nil
}

func main() {

	// the only argument is the configuration filename
	if len(os.Args) < 2 {
		usage()
	}
	configFile := os.Args[1]

	// read the configuration file and initialize the config package
	log.Printf("Reading configuration from '%s'...\n", configFile)
	file, err := os.Open(configFile)
	if err != nil {
		log.Panicf("Couldn't open %s: %s\n", configFile, err.Error())
	}
	defer file.Close()
	b, err := io.ReadAll(file)
	if err != nil {
		log.Panicf("Couldn't read configuration data: %s\n", err.Error())
	}
	err = config.Init(b)
	if err != nil {
		log.Panicf("Couldn't initialize the configuration: %s\n", err.Error())
	}

	enableLogging()

	db, err := catalog.Open(filepath.Join(config.Service.DataDirectory, "catalog.db"))
	if err != nil {
		log.Panicf("Couldn't open the catalog database: %s\n", err.Error())
	}
	defer db.Close()

	cipher, err := auth.NewKeyCipher(config.Auth.FernetKey)
	if err != nil {
		log.Panicf("Couldn't construct the API key cipher: %s\n", err.Error())
	}

	ctx := context.Background()
	if err := seedCatalog(ctx, db, cipher); err != nil {
		log.Panicf("Couldn't seed the catalog from configuration: %s\n", err.Error())
	}

	registry, err := stores.NewRegistry(config.Stores)
	if err != nil {
		log.Panicf("Couldn't construct store managers: %s\n", err.Error())
	}

	accessTokenFile := config.Auth.AccessTokenFile
	if accessTokenFile == "" {
		accessTokenFile = filepath.Join(config.Service.DataDirectory, "access_tokens")
	}
	authn, err := auth.NewAuthenticator(accessTokenFile, config.Auth.FernetKey)
	if err != nil {
		log.Panicf("Couldn't construct the admin authenticator: %s\n", err.Error())
	}

	errLog := errorlog.New(db, slog.Default())

	ledger, err := transfermanager.OpenLedger(filepath.Join(config.Service.DataDirectory, "ledger.db"))
	if err != nil {
		log.Panicf("Couldn't open the transfer ledger: %s\n", err.Error())
	}
	defer ledger.Close()
	mover := transfermanager.NewHTTPMover(ledger)

	pool := scheduler.New(slog.Default())
	pollInterval := time.Duration(config.Service.PollInterval) * time.Millisecond
	pool.Add(&sendqueue.ConsumeQueue{
		DB: db, Mover: mover, ErrorLog: errLog, Cipher: cipher,
		MaxRetries: config.Service.MaxAsyncSendRetries,
	}, pollInterval)
	pool.Add(&sendqueue.CheckConsumedQueue{
		DB: db, Ledger: ledger, ErrorLog: errLog,
		MaxRetries: config.Service.MaxAsyncSendRetries,
	}, pollInterval)
	pool.Add(&incoming.ReceiveClone{DB: db, Stores: registry, ErrorLog: errLog}, pollInterval)
	pool.Add(&standingorder.Evaluator{
		DB: db, ErrorLog: errLog, Predicates: standingorder.DefaultPredicates(),
	}, pollInterval)

	service, err := services.NewService(db, registry, authn, cipher, errLog, pool)
	if err != nil {
		log.Panicf("Couldn't create the service: %s\n", err.Error())
	}

	// intercept the SIGINT, SIGHUP, SIGTERM, and SIGQUIT signals so we can shut
	// down the service gracefully if they are encountered
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan,
		syscall.SIGINT,
		syscall.SIGHUP,
		syscall.SIGTERM,
		syscall.SIGQUIT)

	// start the service in a goroutine so it doesn't block
	go func() {
		err = service.Start(config.Service.Port)
		if err != nil { // on error, log the error message and issue a SIGINT
			log.Println(err.Error())
			thisProcess, _ := os.FindProcess(os.Getpid())
			thisProcess.Signal(os.Interrupt)
		}
	}()

	// block till we receive one of the above signals
	<-sigChan

	// create a deadline to wait for
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// wait for connections to close until the deadline elapses
	service.Shutdown(shutdownCtx)
	log.Println("Shutting down")
	os.Exit(0)
}
