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
	"testing"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/hanwen/go-fuse/fuse"
	"github.com/stretchr/testify/require"

	"github.com/distsystem/nuefs/manifest"
	"github.com/distsystem/nuefs/vfsindex"
)

type fixedIndex struct {
	idx *vfsindex.Index
}

func (f fixedIndex) Index() *vfsindex.Index { return f.idx }

func newTestFS(t *testing.T, entries []manifest.Entry) (*NueFS, billy.Filesystem) {
	t.Helper()
	backend := memfs.New()
	for _, e := range entries {
		if e.IsDir {
			require.NoError(t, backend.MkdirAll(e.BackendPath, 0755))
			continue
		}
		require.NoError(t, backend.MkdirAll(parentOf(e.BackendPath), 0755))
		f, err := backend.Create(e.BackendPath)
		require.NoError(t, err)
		_, err = f.Write([]byte("content"))
		require.NoError(t, err)
		require.NoError(t, f.Close())
	}
	idx := vfsindex.Build(entries)
	return New(fixedIndex{idx}, Options{Backend: backend}), backend
}

func parentOf(p string) string {
	for i := len(p) - 1; i >= 0; i-- {
		if p[i] == '/' {
			return p[:i]
		}
	}
	return "/"
}

func TestGetAttrExactFile(t *testing.T) {
	fs, _ := newTestFS(t, []manifest.Entry{
		{VirtualPath: "a.txt", BackendPath: "/layer/a.txt"},
	})

	attr, status := fs.GetAttr("a.txt", nil)
	require.True(t, status.Ok())
	require.EqualValues(t, len("content"), attr.Size)
}

func TestGetAttrSyntheticDirectory(t *testing.T) {
	fs, _ := newTestFS(t, []manifest.Entry{
		{VirtualPath: "sub/a.txt", BackendPath: "/layer/sub/a.txt"},
	})

	attr, status := fs.GetAttr("sub", nil)
	require.True(t, status.Ok())
	require.True(t, attr.Mode&fuse.S_IFDIR != 0)
}

func TestGetAttrMissingIsENOENT(t *testing.T) {
	fs, _ := newTestFS(t, nil)
	_, status := fs.GetAttr("nope", nil)
	require.Equal(t, fuse.ENOENT, status)
}

func TestOpenDirMergesDynamicDescent(t *testing.T) {
	fs, backend := newTestFS(t, []manifest.Entry{
		{VirtualPath: "src", BackendPath: "/layer/src", IsDir: true},
	})
	require.NoError(t, backend.MkdirAll("/layer/src/nested", 0755))
	f, err := backend.Create("/layer/src/file.go")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	entries, status := fs.OpenDir("src", nil)
	require.True(t, status.Ok())

	names := map[string]bool{}
	for _, e := range entries {
		names[e.Name] = true
	}
	require.True(t, names["nested"])
	require.True(t, names["file.go"])
}

func TestCreateThenReadBack(t *testing.T) {
	fs, backend := newTestFS(t, []manifest.Entry{
		{VirtualPath: "dir", BackendPath: "/layer/dir", IsDir: true},
	})

	file, status := fs.Create("dir/new.txt", uint32(os.O_WRONLY), 0644, nil)
	require.True(t, status.Ok())
	_, status = file.Write([]byte("hello"), 0)
	require.True(t, status.Ok())
	file.Release()

	info, err := backend.Stat("/layer/dir/new.txt")
	require.NoError(t, err)
	require.EqualValues(t, 5, info.Size())
}

func TestRmdirOnSyntheticDirectoryFails(t *testing.T) {
	fs, _ := newTestFS(t, []manifest.Entry{
		{VirtualPath: "sub/a.txt", BackendPath: "/layer/sub/a.txt"},
	})
	status := fs.Rmdir("sub", nil)
	require.False(t, status.Ok())
}

func TestRenameAcrossLayersIsEXDEV(t *testing.T) {
	fs, _ := newTestFS(t, []manifest.Entry{
		{VirtualPath: "a.txt", BackendPath: "/layerA/a.txt"},
		{VirtualPath: "dirB", BackendPath: "/layerB", IsDir: true},
	})
	status := fs.Rename("a.txt", "dirB/a.txt", nil)
	require.False(t, status.Ok())
}

func TestRenameWithinSameLayerSucceeds(t *testing.T) {
	fs, backend := newTestFS(t, []manifest.Entry{
		{VirtualPath: "a.txt", BackendPath: "/layer/a.txt"},
		{VirtualPath: "dir", BackendPath: "/layer/dir", IsDir: true},
	})
	status := fs.Rename("a.txt", "dir/a.txt", nil)
	require.True(t, status.Ok())

	_, err := backend.Stat("/layer/dir/a.txt")
	require.NoError(t, err)
}
