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
	"syscall"

	"github.com/hanwen/go-fuse/fuse"
)

// statAttr stats backend through fs.backend and fills out from the
// result. Callers already know backend names a real path (not a
// synthetic directory).
func (fs *NueFS) statAttr(backend string, out *fuse.Attr) fuse.Status {
	info, err := fs.backend.Stat(backend)
	if err != nil {
		return toStatus(err)
	}
	fillFromFileInfo(info, out)
	return fuse.OK
}

// fillFromFileInfo translates an os.FileInfo into a fuse.Attr. When
// the backend is a real OS filesystem, info.Sys() is a *syscall.Stat_t
// and every field go-fuse cares about (inode, nlink, uid/gid, times)
// comes from it directly, matching hanwen/go-fuse's own loopback
// convention. Backends that cannot produce a Stat_t (e.g. an in-memory
// billy.Filesystem used in tests) fall back to the portable subset of
// os.FileInfo.
func fillFromFileInfo(info os.FileInfo, out *fuse.Attr) {
	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		out.FromStat(st)
		return
	}

	out.Size = uint64(info.Size())
	out.Mode = uint32(info.Mode().Perm())
	if info.IsDir() {
		out.Mode |= fuse.S_IFDIR
		out.Nlink = 2
	} else {
		out.Mode |= fuse.S_IFREG
		out.Nlink = 1
	}

	mtime := info.ModTime()
	sec := uint64(mtime.Unix())
	nsec := uint32(mtime.Nanosecond())
	out.Atime, out.Mtime, out.Ctime = sec, sec, sec
	out.Atimensec, out.Mtimensec, out.Ctimensec = nsec, nsec, nsec
}

// fillSynthetic reports attrs for a virtual directory with no backing
// manifest.Entry: an aggregation point inferred only because it is an
// ancestor of some registered path.
func fillSynthetic(out *fuse.Attr, uid, gid uint32) {
	out.Mode = synthDirMode
	out.Nlink = 2
	out.Uid = uid
	out.Gid = gid
}
