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

// Package vfsindex is the in-memory lookup structure over a mount's
// compiled manifest.Entry set. An Index is built once
// and is immutable afterwards: concurrent readers never need to
// synchronize.
package vfsindex

import (
	"path"
	"strings"

	"github.com/emirpasic/gods/trees/redblacktree"

	"github.com/distsystem/nuefs/manifest"
)

const rootKey = ""

// Index is the Virtual Tree Index: an exact-match
// table, a children-of-directory table, and an ordered prefix table
// used for longest-prefix matches when descending into a backend
// directory that was not individually registered.
type Index struct {
	exact map[string]manifest.Entry

	// children maps a virtual directory (rootKey for the root) to
	// the set of its direct child names, explicit or inferred.
	children map[string]map[string]bool

	// prefix is an ordered table of registered directory entries,
	// keyed by virtual path, used for longest-prefix descent.
	prefix *redblacktree.Tree
}

// Build constructs an Index from a flat set of compiled entries.
// Build never mutates entries and the resulting Index is immutable.
func Build(entries []manifest.Entry) *Index {
	idx := &Index{
		exact:    make(map[string]manifest.Entry, len(entries)),
		children: map[string]map[string]bool{rootKey: {}},
		prefix:   redblacktree.NewWithStringComparator(),
	}

	for _, e := range entries {
		idx.exact[e.VirtualPath] = e
		idx.addImplicitAncestors(e.VirtualPath)
		if e.IsDir {
			idx.prefix.Put(e.VirtualPath, e)
		}
	}
	return idx
}

// addImplicitAncestors splits vp on "/" and records every parent
// directory (explicit or inferred) in the children table, since every
// non-root virtual path's parent must be present as a directory.
func (idx *Index) addImplicitAncestors(vp string) {
	parts := strings.Split(vp, "/")
	parent := rootKey
	for i, part := range parts {
		if idx.children[parent] == nil {
			idx.children[parent] = map[string]bool{}
		}
		idx.children[parent][part] = true

		if i == len(parts)-1 {
			break
		}
		if parent == rootKey {
			parent = part
		} else {
			parent = parent + "/" + part
		}
		if idx.children[parent] == nil {
			idx.children[parent] = map[string]bool{}
		}
	}
}

// LookupExact returns the entry registered at exactly vp.
func (idx *Index) LookupExact(vp string) (manifest.Entry, bool) {
	e, ok := idx.exact[vp]
	return e, ok
}

// LookupPrefix returns the longest registered directory entry that is
// vp itself or a proper ancestor of vp, plus the path remainder
// between the matched directory and vp. It walks vp's ancestors from
// the full path up to the root, using the ordered prefix table for
// each candidate lookup.
func (idx *Index) LookupPrefix(vp string) (matchedDir string, entry manifest.Entry, remainder string, ok bool) {
	candidate := vp
	for candidate != "" {
		if v, found := idx.prefix.Get(candidate); found {
			e := v.(manifest.Entry)
			rem := strings.TrimPrefix(vp, candidate)
			rem = strings.TrimPrefix(rem, "/")
			return candidate, e, rem, true
		}

		if i := strings.LastIndexByte(candidate, '/'); i >= 0 {
			candidate = candidate[:i]
		} else {
			candidate = ""
		}
	}
	return "", manifest.Entry{}, "", false
}

// ChildrenOf returns the direct child names of the virtual directory
// vp (rootKey for the mount root), merging explicitly registered
// children with children inferred from deeper registered paths.
func (idx *Index) ChildrenOf(vp string) (map[string]bool, bool) {
	c, ok := idx.children[vp]
	return c, ok
}

// IsDir reports whether vp is a registered directory or a parent of
// any registered path.
func (idx *Index) IsDir(vp string) bool {
	if e, ok := idx.exact[vp]; ok {
		return e.IsDir
	}
	_, ok := idx.children[vp]
	return ok
}

// Entries returns every compiled entry, for get_manifest replies.
func (idx *Index) Entries() []manifest.Entry {
	out := make([]manifest.Entry, 0, len(idx.exact))
	for _, e := range idx.exact {
		out = append(out, e)
	}
	return out
}

// Resolve implements the path resolution precedence:
// exact match, then longest prefix match with the backend path
// translated by the remainder, then synthetic directory, then
// "no entry" (ok=false).
type Resolved struct {
	// BackendPath is empty for a synthetic directory with no
	// backing entry.
	BackendPath string
	IsDir       bool
	// Synthetic is true when vp has no ManifestEntry of its own and
	// is reported only because it is a parent of some registered
	// path.
	Synthetic bool
	Owner     string
}

func (idx *Index) Resolve(vp string) (Resolved, bool) {
	if e, ok := idx.LookupExact(vp); ok {
		return Resolved{BackendPath: e.BackendPath, IsDir: e.IsDir, Owner: e.Owner}, true
	}
	if _, e, rem, ok := idx.LookupPrefix(vp); ok {
		backend := e.BackendPath
		if rem != "" {
			backend = path.Join(e.BackendPath, rem)
		}
		// IsDir for a dynamic-descent hit is only known by stat'ing
		// BackendPath; the caller (vfs package) does that.
		return Resolved{BackendPath: backend, Owner: e.Owner}, true
	}
	if idx.IsDir(vp) {
		return Resolved{Synthetic: true, IsDir: true}, true
	}
	return Resolved{}, false
}
