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

package manifest

import (
	"log"
	"os"
	"path"
	"path/filepath"
	"sync"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"golang.org/x/sync/errgroup"
)

// Compiler turns an ordered list of Layers into a flat map of compiled
// Entries, applying overlay merge semantics across layers.
type Compiler struct {
	// Backend is the filesystem used to stat and list layer sources.
	// A nil Backend defaults to an osfs rooted at "/", so Layer
	// Source/Target fields can be used as plain absolute paths.
	Backend billy.Filesystem

	// Logger receives one line per unreadable expanded source and per
	// child skipped as an invalid entry; excluded names are skipped
	// without logging. Defaults to log.Default().
	Logger *log.Logger
}

func (c *Compiler) backend() billy.Filesystem {
	if c.Backend != nil {
		return c.Backend
	}
	return osfs.New("/")
}

func (c *Compiler) logger() *log.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return log.Default()
}

// Compile applies every layer in order and returns the resulting
// virtual_path => Entry map. Compile is a pure function of its inputs
// and the filesystem snapshot observed through Backend: same layers,
// same backend state, same output.
func (c *Compiler) Compile(layers []Layer) (map[string]Entry, error) {
	result := map[string]Entry{}

	for _, layer := range layers {
		if err := c.applyLayer(result, layer); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// Compile is the package-level convenience entry point using the
// default osfs backend.
func Compile(layers []Layer) (map[string]Entry, error) {
	c := &Compiler{}
	return c.Compile(layers)
}

func (c *Compiler) applyLayer(result map[string]Entry, layer Layer) error {
	fs := c.backend()
	target := layer.normalizedTarget()

	info, err := fs.Stat(layer.Source)
	if err != nil {
		// Source does not exist: the layer contributes nothing.
		return nil
	}

	if !info.IsDir() {
		return c.applyFileLayer(result, layer, target)
	}

	if layer.expandsContents() {
		return c.applyExpandingLayer(result, layer, target)
	}
	return c.applySingleDirLayer(result, layer, target, info)
}

func rootedVirtualPath(target, name string) string {
	if target == "." {
		return name
	}
	return path.Join(target, name)
}

func (c *Compiler) applyFileLayer(result map[string]Entry, layer Layer, target string) error {
	base := filepath.Base(layer.Source)
	if !matchAllowed(layer, base) {
		return nil
	}

	vp := target
	if target == "." {
		vp = base
	}

	e := Entry{VirtualPath: vp, BackendPath: layer.Source, IsDir: false, Owner: layer.Name}
	if err := e.Validate(); err != nil {
		return err
	}
	mergeEntry(result, e)
	return nil
}

func (c *Compiler) applySingleDirLayer(result map[string]Entry, layer Layer, target string, info os.FileInfo) error {
	base := filepath.Base(layer.Source)
	if !matchAllowed(layer, base) {
		return nil
	}

	vp := target
	if target == "." {
		vp = base
	}

	e := Entry{VirtualPath: vp, BackendPath: layer.Source, IsDir: true, Owner: layer.Name}
	if err := e.Validate(); err != nil {
		return err
	}
	mergeEntry(result, e)
	return nil
}

func (c *Compiler) applyExpandingLayer(result map[string]Entry, layer Layer, target string) error {
	fs := c.backend()
	children, err := fs.ReadDir(layer.Source)
	if err != nil {
		// The whole layer is unreadable; nothing to contribute.
		c.logger().Printf("manifest: ReadDir(%s): %v", layer.Source, err)
		return nil
	}

	gitRooted := underGitTarget(target)

	var mu sync.Mutex
	var g errgroup.Group
	for _, child := range children {
		child := child
		name := child.Name()
		if defaultSkipSet[name] && !gitRooted {
			continue
		}

		candidateVP := rootedVirtualPath(target, name)
		if !gitRooted && underGitTarget(candidateVP) {
			continue
		}
		if !matchAllowed(layer, name) {
			continue
		}

		g.Go(func() error {
			childSource := filepath.Join(layer.Source, name)

			backend := childSource
			vp := candidateVP
			isDir := child.IsDir()
			if isDir {
				var suffix string
				backend, suffix = c.collapseChain(childSource, layer)
				if suffix != "" {
					vp = path.Join(vp, suffix)
				}
			}

			e := Entry{VirtualPath: vp, BackendPath: backend, IsDir: isDir, Owner: layer.Name}
			if err := e.Validate(); err != nil {
				c.logger().Printf("manifest: skipping invalid entry %q: %v", vp, err)
				return nil
			}

			mu.Lock()
			mergeEntry(result, e)
			mu.Unlock()
			return nil
		})
	}
	return g.Wait()
}

// collapseChain collapses a single-child chain of directories: while
// dir contains exactly one non-excluded subdirectory and
// no non-excluded files, descend into it, accumulating the path
// components walked as suffix.
func (c *Compiler) collapseChain(dir string, layer Layer) (backend string, suffix string) {
	fs := c.backend()
	backend = dir

	for {
		entries, err := fs.ReadDir(backend)
		if err != nil {
			return backend, suffix
		}

		var soleDir os.FileInfo
		dirCount := 0
		fileCount := 0
		for _, e := range entries {
			if !matchAllowed(layer, e.Name()) {
				continue
			}
			if e.IsDir() {
				dirCount++
				soleDir = e
			} else {
				fileCount++
			}
		}

		if dirCount != 1 || fileCount != 0 {
			return backend, suffix
		}

		backend = filepath.Join(backend, soleDir.Name())
		suffix = path.Join(suffix, soleDir.Name())
	}
}

// matchAllowed applies the exclude-then-include rule: a positive
// exclude match suppresses name, a positive include match re-admits it.
func matchAllowed(layer Layer, name string) bool {
	excluded := layer.Exclude != nil && layer.Exclude(name)
	if !excluded {
		return true
	}
	return layer.Include != nil && layer.Include(name)
}

// mergeEntry applies layer precedence: later layers
// win on collision, except directory-over-directory is idempotent so
// siblings from multiple layers merge instead of one overwriting the
// other.
func mergeEntry(result map[string]Entry, e Entry) {
	if existing, ok := result[e.VirtualPath]; ok {
		if existing.IsDir && e.IsDir {
			return
		}
	}
	result[e.VirtualPath] = e
}

// Entries returns the compiled map as a slice, for wire transfer and
// Virtual Tree Index construction.
func Entries(m map[string]Entry) []Entry {
	out := make([]Entry, 0, len(m))
	for _, e := range m {
		out = append(out, e)
	}
	return out
}
