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

package stores

import (
	"fmt"

	"github.com/kbase/librarian/config"
)

// Registry holds one Manager per configured store, built once at
// startup and shared by every package that needs to move bytes (admin,
// incoming). This plays the role that store.py's `StoreMetadata.store_manager`
// property plays for the Python server, but built eagerly rather than
// constructed lazily from ORM rows on each access.
type Registry struct {
	managers map[string]Manager
}

// NewRegistry constructs a Manager for every entry in storeConfigs,
// keyed by store name.
func NewRegistry(storeConfigs map[string]config.StoreConfig) (*Registry, error) {
	managers := make(map[string]Manager, len(storeConfigs))
	for name, cfg := range storeConfigs {
		mgr, err := New(Kind(cfg.Kind), cfg.Root, cfg.S3, cfg.Rsync)
		if err != nil {
			return nil, fmt.Errorf("constructing store manager %q: %w", name, err)
		}
		managers[name] = mgr
	}
	return &Registry{managers: managers}, nil
}

// Get returns the Manager registered under name, or ok=false if no
// store configuration names it.
func (r *Registry) Get(name string) (Manager, bool) {
	mgr, ok := r.managers[name]
	return mgr, ok
}

// NewRegistryFromManagers builds a Registry directly from already
// constructed Managers, bypassing config entirely. Used by tests that
// need to substitute a fake Manager.
func NewRegistryFromManagers(managers map[string]Manager) *Registry {
	return &Registry{managers: managers}
}
