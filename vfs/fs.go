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
	"log"
	"os"
	"syscall"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/hanwen/go-fuse/fuse"
	"github.com/hanwen/go-fuse/fuse/pathfs"

	"github.com/distsystem/nuefs/vfsindex"
)

// IndexSource supplies the Virtual Tree Index currently published by a
// mount. registry.Mount satisfies this; NueFS depends only on the
// interface so it never needs to import the registry package back.
type IndexSource interface {
	Index() *vfsindex.Index
}

// synthDirMode is the mode reported for inferred parent directories
// that have no backing ManifestEntry.
const synthDirMode = fuse.S_IFDIR | 0755

// NueFS implements pathfs.FileSystem, translating every kernel
// filesystem operation into a Virtual Tree Index lookup plus a backend
// path operation.
type NueFS struct {
	pathfs.FileSystem

	mount   IndexSource
	backend billy.Filesystem
	logger  *log.Logger

	uid, gid uint32
}

// Options configures a NueFS instance.
type Options struct {
	// Backend is the filesystem used for every backend path
	// operation. Defaults to an osfs rooted at "/".
	Backend billy.Filesystem
	Logger  *log.Logger
}

// New constructs a NueFS bound to mount's live Virtual Tree Index.
func New(mount IndexSource, opts Options) *NueFS {
	backend := opts.Backend
	if backend == nil {
		backend = osfs.New("/")
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	return &NueFS{
		FileSystem: pathfs.NewDefaultFileSystem(),
		mount:      mount,
		backend:    backend,
		logger:     logger,
		uid:        uint32(os.Getuid()),
		gid:        uint32(os.Getgid()),
	}
}

func (fs *NueFS) index() *vfsindex.Index {
	return fs.mount.Index()
}

func (fs *NueFS) String() string {
	return "nuefs"
}

func (fs *NueFS) StatFs(name string) *fuse.StatfsOut {
	backend, synthetic, ok := fs.resolveBackend(name)
	if !ok || synthetic || backend == "" {
		backend = "/"
	}

	var s syscall.Statfs_t
	if err := syscall.Statfs(backend, &s); err != nil {
		return nil
	}
	out := &fuse.StatfsOut{}
	out.FromStatfsT(&s)
	return out
}

func (fs *NueFS) OnMount(nodeFS *pathfs.PathNodeFs) {
	fs.logger.Printf("vfs: mounted")
}

func (fs *NueFS) OnUnmount() {
	fs.logger.Printf("vfs: unmounted")
}
