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
	"fmt"
	"log"

	"github.com/go-git/go-billy/v5"
	"github.com/hanwen/go-fuse/fuse"
	"github.com/hanwen/go-fuse/fuse/nodefs"
	"github.com/hanwen/go-fuse/fuse/pathfs"
)

// Session is the kernel filesystem session for one mount: a NueFS
// bound to a live Virtual Tree Index, served by a hanwen/go-fuse
// server at Root, one OS thread pool per mount.
type Session struct {
	fs     *NueFS
	server *fuse.Server
}

// Spawn starts serving root through a dedicated FUSE server and
// returns a Session usable as registry.SpawnFunc's result. Its
// signature is not registry.SpawnFunc's: callers wrap it in a closure
// that passes the *registry.Mount (which satisfies IndexSource) and
// its Root.
func Spawn(mount IndexSource, root string, backend billy.Filesystem, logger *log.Logger) (*Session, error) {
	nfs := New(mount, Options{Backend: backend, Logger: logger})

	pathNodeFS := pathfs.NewPathNodeFs(nfs, nil)
	conn := nodefs.NewFileSystemConnector(pathNodeFS.Root(), nodefs.NewOptions())

	server, err := fuse.NewServer(conn.RawFS(), root, &fuse.MountOptions{
		Name:   "nuefs",
		FsName: root,
	})
	if err != nil {
		return nil, fmt.Errorf("vfs: mount %s: %w", root, err)
	}

	go server.Serve()
	if err := server.WaitMount(); err != nil {
		return nil, fmt.Errorf("vfs: mount %s: wait: %w", root, err)
	}

	return &Session{fs: nfs, server: server}, nil
}

// Unmount implements registry.Session: it asks the kernel to detach
// the mountpoint and waits for in-flight requests to drain.
func (s *Session) Unmount() error {
	if err := s.server.Unmount(); err != nil {
		return fmt.Errorf("vfs: unmount: %w", err)
	}
	s.server.Wait()
	return nil
}
