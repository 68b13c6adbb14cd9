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

// Package vfs serves the kernel filesystem protocol against a
// Virtual Tree Index plus
// backend path operations, via hanwen/go-fuse's pathfs layer.
package vfs

import (
	"errors"
	"os"
	"syscall"

	"github.com/hanwen/go-fuse/fuse"
)

// errNoBackend is returned by resolveParentBackend when a write hits a virtual path
// with no resolvable backend parent.
var errNoBackend = errors.New("vfs: no backend for path")

// toStatus maps a backend error to the errno the kernel protocol
// expects, propagating every backend system-call error unmodified.
func toStatus(err error) fuse.Status {
	if err == nil {
		return fuse.OK
	}
	if errors.Is(err, errNoBackend) {
		return fuse.EROFS
	}
	if os.IsNotExist(err) {
		return fuse.ENOENT
	}
	if os.IsPermission(err) {
		return fuse.EACCES
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		return fuse.Status(errno)
	}

	var linkErr *os.LinkError
	if errors.As(err, &linkErr) {
		return toStatus(linkErr.Err)
	}
	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		return toStatus(pathErr.Err)
	}

	return fuse.EIO
}
