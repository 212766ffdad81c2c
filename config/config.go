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

package config

import (
	"fmt"
	"log"
	"os"

	"gopkg.in/yaml.v3"
)

// a type with service configuration parameters
type serviceConfig struct {
	// port on which the service listens
	Port int `yaml:"port,omitempty"`
	// maximum number of allowed incoming connections
	// default: 100
	MaxConnections int `yaml:"max_connections,omitempty"`
	// maximum size of a single upload (bytes); no handler reads this
	// value, so uploads are not rejected by size
	MaxPayloadSize int64 `yaml:"max_payload_size,omitempty"`
	// polling interval for ConsumeQueue/CheckConsumedQueue/ReceiveClone (milliseconds)
	// default: 1 minute
	PollInterval int `yaml:"poll_interval"`
	// number of retries allowed for a send queue item after a failed
	// send; the failure that takes its retry count past this value marks
	// it permanently failed
	// default: 3
	MaxAsyncSendRetries int `yaml:"max_async_send_retries"`
	// name of an existing directory holding this librarian's catalog
	// database and admin access token file
	DataDirectory string `yaml:"data_dir"`
	// name of a staging directory; it must be set, but uploads from peers
	// are staged under the receiving store's root (incoming/), not here
	StagingDirectory string `yaml:"staging_dir"`
	// name of a manifest directory; StoreManifest returns its Frictionless
	// data package in the response and writes nothing here
	ManifestDirectory string `yaml:"manifest_dir"`
	// minimum slog level name ("debug", "info", "warn", "error")
	LogLevel string `yaml:"log_level,omitempty"`
	// flag indicating whether debug logging and other tools are enabled
	Debug bool `yaml:"debug"`
}

// global config variables
var Service serviceConfig
var Stores map[string]StoreConfig
var Librarians map[string]LibrarianConfig
var Auth AuthConfig

// This struct performs the unmarshalling from the YAML config file and then
// copies its fields to the globals above.
type configFile struct {
	Service    serviceConfig              `yaml:"service"`
	Stores     map[string]StoreConfig     `yaml:"stores"`
	Librarians map[string]LibrarianConfig `yaml:"librarians"`
	Auth       AuthConfig                 `yaml:"auth"`
}

// This helper locates and reads a configuration file, returning an error
// indicating success or failure. All environment variables of the form
// ${ENV_VAR} are expanded.
func readConfig(bytes []byte) error {
	// before we do anything else, expand any provided environment variables
	bytes = []byte(os.ExpandEnv(string(bytes)))

	var conf configFile
	conf.Service.Port = 8080
	conf.Service.MaxConnections = 100
	conf.Service.MaxPayloadSize = 100 * 1024 * 1024 * 1024
	conf.Service.PollInterval = 60000
	conf.Service.MaxAsyncSendRetries = 3
	conf.Service.LogLevel = "info"
	err := yaml.Unmarshal(bytes, &conf)
	if err != nil {
		log.Printf("Couldn't parse configuration data: %s\n", err)
		return err
	}

	// copy the config data into place
	Service = conf.Service
	Stores = conf.Stores
	Librarians = conf.Librarians
	Auth = conf.Auth

	return nil
}

func validateServiceParameters(params serviceConfig) error {
	if params.Port < 0 || params.Port > 65535 {
		return fmt.Errorf("Invalid port: %d (must be 0-65535)", params.Port)
	}
	if params.MaxConnections <= 0 {
		return fmt.Errorf("Invalid max_connections: %d (must be positive)",
			params.MaxConnections)
	}
	if params.PollInterval <= 0 {
		return fmt.Errorf("Non-positive poll interval specified: (%d ms)",
			params.PollInterval)
	}
	if params.MaxAsyncSendRetries <= 0 {
		return fmt.Errorf("Non-positive max_async_send_retries specified: (%d)",
			params.MaxAsyncSendRetries)
	}
	if params.StagingDirectory == "" {
		return fmt.Errorf("No staging_dir specified")
	}
	return nil
}

func validateStores(stores map[string]StoreConfig) error {
	for name, s := range stores {
		if s.Kind == "" {
			return fmt.Errorf("No kind specified for store '%s'", name)
		}
		if s.Root == "" {
			return fmt.Errorf("No root specified for store '%s'", name)
		}
	}
	return nil
}

func validateLibrarians(librarians map[string]LibrarianConfig) error {
	for name, l := range librarians {
		if l.URL == "" {
			return fmt.Errorf("No url given for librarian '%s'", name)
		}
	}
	return nil
}

// This helper validates the given configfile, returning an error that indicates
// success or failure.
func validateConfig() error {
	err := validateServiceParameters(Service)
	if err != nil {
		return err
	}
	err = validateStores(Stores)
	if err != nil {
		return err
	}
	return validateLibrarians(Librarians)
}

// Initializes the librarian's configuration using the given YAML byte data.
func Init(yamlData []byte) error {
	err := readConfig(yamlData)
	if err != nil {
		return err
	}
	err = validateConfig()
	return err
}
