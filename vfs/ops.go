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
	"strings"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/fuse"
	"github.com/hanwen/go-fuse/fuse/nodefs"
)

func (fs *NueFS) GetAttr(name string, ctx *fuse.Context) (*fuse.Attr, fuse.Status) {
	r, ok := fs.resolve(name)
	if !ok {
		return nil, fuse.ENOENT
	}

	out := &fuse.Attr{}
	if r.Synthetic {
		fillSynthetic(out, fs.uid, fs.gid)
		return out, fuse.OK
	}
	if status := fs.statAttr(r.BackendPath, out); !status.Ok() {
		return nil, status
	}
	return out, fuse.OK
}

// OpenDir lists the union of explicit manifest children and backend
// children inherited through a dynamic-descent directory.
func (fs *NueFS) OpenDir(name string, ctx *fuse.Context) ([]fuse.DirEntry, fuse.Status) {
	r, ok := fs.resolve(name)
	if !ok {
		return nil, fuse.ENOENT
	}

	names := map[string]bool{}
	if children, ok := fs.index().ChildrenOf(name); ok {
		for c := range children {
			names[c] = true
		}
	}

	if !r.Synthetic && r.BackendPath != "" {
		infos, err := fs.backend.ReadDir(r.BackendPath)
		if err != nil && !os.IsNotExist(err) {
			return nil, toStatus(err)
		}
		for _, info := range infos {
			names[info.Name()] = true
		}
	}

	entries := make([]fuse.DirEntry, 0, len(names))
	for n := range names {
		child := n
		if name != "" {
			child = name + "/" + n
		}
		mode := uint32(fuse.S_IFREG)
		if fs.index().IsDir(child) {
			mode = fuse.S_IFDIR
		} else if cr, ok := fs.resolve(child); ok && !cr.Synthetic {
			if info, err := fs.backend.Stat(cr.BackendPath); err == nil && info.IsDir() {
				mode = fuse.S_IFDIR
			}
		}
		entries = append(entries, fuse.DirEntry{Name: n, Mode: mode})
	}
	return entries, fuse.OK
}

func (fs *NueFS) Open(name string, flags uint32, ctx *fuse.Context) (nodefs.File, fuse.Status) {
	r, ok := fs.resolve(name)
	if !ok {
		return nil, fuse.ENOENT
	}
	if r.Synthetic || r.BackendPath == "" {
		return nil, fuse.EISDIR
	}

	h, err := fs.backend.OpenFile(r.BackendPath, int(flags), 0)
	if err != nil {
		return nil, toStatus(err)
	}
	return newBackendFile(fs, r.BackendPath, h), fuse.OK
}

func (fs *NueFS) Create(name string, flags uint32, mode uint32, ctx *fuse.Context) (nodefs.File, fuse.Status) {
	dir, err := fs.resolveParentBackend(name)
	if err != nil {
		return nil, toStatus(err)
	}
	backend := childBackend(dir, name)

	h, err := fs.backend.OpenFile(backend, int(flags)|os.O_CREATE, os.FileMode(mode))
	if err != nil {
		return nil, toStatus(err)
	}
	return newBackendFile(fs, backend, h), fuse.OK
}

func (fs *NueFS) Mkdir(name string, mode uint32, ctx *fuse.Context) fuse.Status {
	dir, err := fs.resolveParentBackend(name)
	if err != nil {
		return toStatus(err)
	}
	backend := childBackend(dir, name)
	if err := fs.backend.MkdirAll(backend, os.FileMode(mode)); err != nil {
		return toStatus(err)
	}
	return fuse.OK
}

func (fs *NueFS) Rmdir(name string, ctx *fuse.Context) fuse.Status {
	r, ok := fs.resolve(name)
	if !ok {
		return fuse.ENOENT
	}
	if r.Synthetic || r.BackendPath == "" {
		// A purely synthetic directory only exists because deeper
		// paths are still registered beneath it; the kernel would
		// not call rmdir on a non-empty directory in the first
		// place, but there is no backend path to remove either way.
		return fuse.EROFS
	}
	if err := fs.backend.Remove(r.BackendPath); err != nil {
		return toStatus(err)
	}
	return fuse.OK
}

func (fs *NueFS) Unlink(name string, ctx *fuse.Context) fuse.Status {
	r, ok := fs.resolve(name)
	if !ok {
		return fuse.ENOENT
	}
	if r.Synthetic || r.BackendPath == "" {
		return fuse.EROFS
	}
	if err := fs.backend.Remove(r.BackendPath); err != nil {
		return toStatus(err)
	}
	return fuse.OK
}

// Rename resolves both endpoints to backend paths and rejects the
// call with EXDEV whenever those paths differ in their top-level
// directory (see backendRoot); two layers under a common top-level
// directory are not told apart. EXDEV is chosen because a
// rename that silently became a copy across backend roots would
// violate the atomicity a caller expects from rename(2).
func (fs *NueFS) Rename(oldName, newName string, ctx *fuse.Context) fuse.Status {
	oldR, ok := fs.resolve(oldName)
	if !ok || oldR.Synthetic || oldR.BackendPath == "" {
		return fuse.ENOENT
	}

	newDir, err := fs.resolveParentBackend(newName)
	if err != nil {
		return toStatus(err)
	}
	newBackend := childBackend(newDir, newName)

	if backendRoot(oldR.BackendPath) != backendRoot(newBackend) {
		return fuse.Status(syscall.EXDEV)
	}

	if err := fs.backend.Rename(oldR.BackendPath, newBackend); err != nil {
		return toStatus(err)
	}
	return fuse.OK
}

// backendRoot is the top-level component of a backend path, used as a
// coarse stand-in for "which layer's storage device this lives on":
// two backend paths sharing no top-level directory are assumed to be
// on different layers and therefore, possibly, different filesystems.
func backendRoot(p string) string {
	trimmed := strings.TrimPrefix(p, "/")
	if i := strings.IndexByte(trimmed, '/'); i >= 0 {
		return trimmed[:i]
	}
	return trimmed
}

func (fs *NueFS) Chmod(name string, mode uint32, ctx *fuse.Context) fuse.Status {
	r, ok := fs.resolve(name)
	if !ok || r.Synthetic || r.BackendPath == "" {
		return fuse.ENOENT
	}
	if chmodFS, ok := fs.backend.(interface {
		Chmod(string, os.FileMode) error
	}); ok {
		if err := chmodFS.Chmod(r.BackendPath, os.FileMode(mode)); err != nil {
			return toStatus(err)
		}
		return fuse.OK
	}
	return fuse.ENOSYS
}

func (fs *NueFS) Utimens(name string, atime, mtime *time.Time, ctx *fuse.Context) fuse.Status {
	r, ok := fs.resolve(name)
	if !ok || r.Synthetic || r.BackendPath == "" {
		return fuse.ENOENT
	}
	if chFS, ok := fs.backend.(interface {
		Chtimes(string, time.Time, time.Time) error
	}); ok {
		var a, m time.Time
		if atime != nil {
			a = *atime
		}
		if mtime != nil {
			m = *mtime
		}
		if err := chFS.Chtimes(r.BackendPath, a, m); err != nil {
			return toStatus(err)
		}
		return fuse.OK
	}
	return fuse.OK
}

func (fs *NueFS) Truncate(name string, size uint64, ctx *fuse.Context) fuse.Status {
	r, ok := fs.resolve(name)
	if !ok || r.Synthetic || r.BackendPath == "" {
		return fuse.ENOENT
	}
	h, err := fs.backend.OpenFile(r.BackendPath, os.O_WRONLY, 0)
	if err != nil {
		return toStatus(err)
	}
	defer h.Close()
	if err := h.Truncate(int64(size)); err != nil {
		return toStatus(err)
	}
	return fuse.OK
}

func (fs *NueFS) Symlink(value, linkName string, ctx *fuse.Context) fuse.Status {
	dir, err := fs.resolveParentBackend(linkName)
	if err != nil {
		return toStatus(err)
	}
	backend := childBackend(dir, linkName)

	if err := fs.backend.Symlink(value, backend); err != nil {
		return toStatus(err)
	}
	return fuse.OK
}

func (fs *NueFS) Readlink(name string, ctx *fuse.Context) (string, fuse.Status) {
	r, ok := fs.resolve(name)
	if !ok || r.Synthetic || r.BackendPath == "" {
		return "", fuse.ENOENT
	}
	target, err := fs.backend.Readlink(r.BackendPath)
	if err != nil {
		return "", toStatus(err)
	}
	return target, fuse.OK
}

func (fs *NueFS) Access(name string, mode uint32, ctx *fuse.Context) fuse.Status {
	_, ok := fs.resolve(name)
	if !ok {
		return fuse.ENOENT
	}
	return fuse.OK
}
