package config

import (
	"github.com/google/uuid"
)

// StoreConfig describes one backing store the librarian can hold File
// instances on.
type StoreConfig struct {
	// descriptive name of the store
	Name string `yaml:"name"`
	// the store ID (uuid)
	Id uuid.UUID `yaml:"id"`
	// the kind of store manager to construct: "local", "rsync", or "s3"
	Kind string `yaml:"kind"`
	// root directory (local/rsync) or bucket name (s3)
	Root string `yaml:"root"`
	// whether new uploads may be placed on this store
	Ingestable bool `yaml:"ingestable"`
	// s3-specific settings, used only when Kind == "s3"
	S3 S3Config `yaml:"s3,omitempty"`
	// rsync-specific settings, used only when Kind == "rsync"
	Rsync RsyncConfig `yaml:"rsync,omitempty"`
}

// S3Config carries the settings stores.S3Manager turns into an
// aws-sdk-go-v2 client configuration.
type S3Config struct {
	Region      string `yaml:"region"`
	AccessKeyID string `yaml:"access_key_id"`
	SecretKey   string `yaml:"secret_key"`
	BaseURL     string `yaml:"base_url,omitempty"`
	PathStyle   bool   `yaml:"path_style,omitempty"`
}

// RsyncConfig carries the settings stores.RsyncManager needs to shell
// out to the rsync binary.
type RsyncConfig struct {
	Host string `yaml:"host"`
	User string `yaml:"user,omitempty"`
}
