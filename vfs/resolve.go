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

package vfs

import (
	"os"
	"path"

	"github.com/distsystem/nuefs/vfsindex"
)

// resolve runs the Virtual Tree Index lookup for a pathfs-relative
// name ("" for the mount root, no leading slash).
func (fs *NueFS) resolve(name string) (vfsindex.Resolved, bool) {
	return fs.index().Resolve(name)
}

// resolveBackend is the shortcut most read-only operations need: the
// backend path for name, or ok=false if name resolves to nothing at
// all (the caller should reply ENOENT).
func (fs *NueFS) resolveBackend(name string) (backend string, synthetic bool, ok bool) {
	r, found := fs.resolve(name)
	if !found {
		return "", false, false
	}
	return r.BackendPath, r.Synthetic, true
}

// parentDir returns the pathfs-relative parent of name ("" for a
// top-level entry).
func parentDir(name string) string {
	dir := path.Dir(name)
	if dir == "." {
		return ""
	}
	return dir
}

// resolveParentBackend resolves the backend directory that should
// host a new child of name, for create/mkdir/symlink/rename-target.
// It fails with errNoBackend when the parent is a purely synthetic
// directory (no single layer owns it, so there is nowhere to write
// the new child) and with os.ErrNotExist when the parent does not
// resolve to any directory at all.
func (fs *NueFS) resolveParentBackend(name string) (dir string, err error) {
	parent := parentDir(name)
	r, ok := fs.resolve(parent)
	if !ok {
		return "", os.ErrNotExist
	}
	if r.Synthetic || r.BackendPath == "" {
		return "", errNoBackend
	}
	return r.BackendPath, nil
}

// childBackend joins a resolved parent backend directory with the
// base name of a pathfs-relative path.
func childBackend(parentBackend, name string) string {
	return path.Join(parentBackend, path.Base(name))
}
