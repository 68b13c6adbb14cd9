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

// Package registry is the process-wide table of active mounts,
// keyed by mount_id and by canonical root,
// guarded by a single coarse mutex, with each mount's index served
// lock-free from an atomic pointer.
package registry

import (
	"sync/atomic"

	"github.com/distsystem/nuefs/manifest"
	"github.com/distsystem/nuefs/vfsindex"
)

// Session is the kernel filesystem session bound to a Mount's root.
// The registry owns a Mount's lifecycle but never its FUSE plumbing;
// the vfs/daemon packages supply a Session when a Mount is created.
type Session interface {
	// Unmount signals the session to drain in-flight requests, join
	// its workers, and release the mountpoint.
	Unmount() error
}

// Mount is one active mount. Its Index is swapped
// atomically on Update; in-flight VFS requests keep whichever index
// they observed at dispatch.
type Mount struct {
	ID      uint64
	Root    string
	session Session

	index atomic.Pointer[vfsindex.Index]
}

// Index returns the currently-published Virtual Tree Index. Safe to
// call concurrently with Update.
func (m *Mount) Index() *vfsindex.Index {
	return m.index.Load()
}

func (m *Mount) setIndex(idx *vfsindex.Index) {
	m.index.Store(idx)
}

// Which runs the same resolution the VFS Request Handler uses and
// reports the winning backend path plus its layer tag.
func (m *Mount) Which(vp string) (OwnerInfo, bool) {
	r, ok := m.Index().Resolve(vp)
	if !ok || r.Synthetic {
		return OwnerInfo{}, false
	}
	return OwnerInfo{Owner: r.Owner, BackendPath: r.BackendPath}, true
}

// OwnerInfo is the result of a `which` query.
type OwnerInfo struct {
	Owner       string
	BackendPath string
}

// GetManifest returns the compiled entries backing the current index.
func (m *Mount) GetManifest() []manifest.Entry {
	return m.Index().Entries()
}
