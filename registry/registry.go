// Copyright 2016 Google Inc. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package registry

import (
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"

	"github.com/distsystem/nuefs/manifest"
	"github.com/distsystem/nuefs/vfsindex"
)

// SpawnFunc binds a freshly-constructed Mount to a kernel filesystem
// session rooted at m.Root. It is supplied by the daemon package as a
// wrapper around vfs.Spawn, which owns the actual hanwen/go-fuse
// wiring; the registry only needs
// the resulting Session handle. spawn receives the Mount itself
// (rather than a snapshot of its index) so the session observes future
// Update calls through m.Index() without the registry re-wiring
// anything.
type SpawnFunc func(m *Mount) (Session, error)

// Registry is the process-wide Mount Registry. The
// zero value is not usable; construct with New.
type Registry struct {
	mu      sync.Mutex
	byID    map[uint64]*Mount
	byRoot  map[string]uint64
	nextID  atomic.Uint64
	backend billy.Filesystem
	logger  *log.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithBackend overrides the filesystem used to validate mountpoints
// (default: an osfs rooted at "/").
func WithBackend(fs billy.Filesystem) Option {
	return func(r *Registry) { r.backend = fs }
}

// WithLogger overrides the logger (default: log.Default()).
func WithLogger(l *log.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// New constructs an empty Registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		byID:   map[uint64]*Mount{},
		byRoot: map[string]uint64{},
	}
	for _, o := range opts {
		o(r)
	}
	if r.backend == nil {
		r.backend = osfs.New("/")
	}
	if r.logger == nil {
		r.logger = log.Default()
	}
	return r
}

// MountInfo is a lightweight listing row for the `status` verb.
type MountInfo struct {
	ID   uint64
	Root string
}

func canonicalize(root string) (string, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("registry: Abs(%s): %w", root, err)
	}
	return filepath.Clean(abs), nil
}

// Create compiles entries into a Virtual Tree Index, validates the
// mountpoint, spawns the kernel session via spawn, and installs the
// new Mount. Create fails if root is already mounted or is not an
// empty real directory.
func (r *Registry) Create(root string, entries []manifest.Entry, spawn SpawnFunc) (*Mount, error) {
	canon, err := canonicalize(root)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if _, exists := r.byRoot[canon]; exists {
		r.mu.Unlock()
		return nil, fmt.Errorf("registry: %s is already mounted", canon)
	}
	r.mu.Unlock()

	if err := r.validateEmptyDir(canon); err != nil {
		return nil, err
	}

	idx := vfsindex.Build(entries)

	id := r.nextID.Add(1)

	m := &Mount{ID: id, Root: canon}
	m.setIndex(idx)

	session, err := spawn(m)
	if err != nil {
		return nil, fmt.Errorf("registry: spawn(%s): %w", canon, err)
	}
	m.session = session

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byRoot[canon]; exists {
		// Lost a race with a concurrent Create for the same root.
		_ = session.Unmount()
		return nil, fmt.Errorf("registry: %s is already mounted", canon)
	}
	r.byID[id] = m
	r.byRoot[canon] = id
	r.logger.Printf("registry: mounted %s as mount_id=%d", canon, id)
	return m, nil
}

func (r *Registry) validateEmptyDir(dir string) error {
	info, err := r.backend.Stat(dir)
	if err != nil {
		return fmt.Errorf("registry: mountpoint %s: %w", dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("registry: mountpoint %s is not a directory", dir)
	}
	entries, err := r.backend.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("registry: ReadDir(%s): %w", dir, err)
	}
	if len(entries) != 0 {
		return fmt.Errorf("registry: mountpoint %s is not empty", dir)
	}
	return nil
}

// Update compiles a new Virtual Tree Index and atomically swaps it
// into the live Mount. In-flight requests continue against whichever
// index they observed at dispatch.
func (r *Registry) Update(id uint64, entries []manifest.Entry) error {
	r.mu.Lock()
	m, ok := r.byID[id]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("registry: mount_id %d not found", id)
	}

	idx := vfsindex.Build(entries)
	m.setIndex(idx)
	r.logger.Printf("registry: updated mount_id=%d (%s)", id, m.Root)
	return nil
}

// Resolve looks up the mount_id owning canonical root.
func (r *Registry) Resolve(root string) (uint64, bool) {
	canon, err := canonicalize(root)
	if err != nil {
		return 0, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byRoot[canon]
	return id, ok
}

// Get returns the Mount for id.
func (r *Registry) Get(id uint64) (*Mount, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.byID[id]
	return m, ok
}

// Destroy removes the mount from both maps, then signals the kernel
// session to drain and exit.
func (r *Registry) Destroy(id uint64) error {
	r.mu.Lock()
	m, ok := r.byID[id]
	if ok {
		delete(r.byID, id)
		delete(r.byRoot, m.Root)
	}
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("registry: mount_id %d not found", id)
	}

	if err := m.session.Unmount(); err != nil {
		r.logger.Printf("registry: unmount(%d): %v", id, err)
		return err
	}
	r.logger.Printf("registry: unmounted mount_id=%d (%s)", id, m.Root)
	return nil
}

// List returns every active mount, for the `status` control verb.
func (r *Registry) List() []MountInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]MountInfo, 0, len(r.byID))
	for id, m := range r.byID {
		out = append(out, MountInfo{ID: id, Root: m.Root})
	}
	return out
}

// DestroyAll tears down every active mount, for `shutdown`.
func (r *Registry) DestroyAll() {
	for _, info := range r.List() {
		if err := r.Destroy(info.ID); err != nil {
			r.logger.Printf("registry: shutdown: destroy(%d): %v", info.ID, err)
		}
	}
}
