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

// Package manifest compiles layer declarations into a flat set of
// virtual-path to backend-path mappings.
package manifest

import (
	"fmt"
	"path"
	"strings"
)

// Entry is a single compiled mapping from a virtual path to a backend
// path. It is an immutable value produced by Compile and consumed by
// the Virtual Tree Index.
type Entry struct {
	// VirtualPath is a POSIX relative path with no leading "/", never
	// "." or "..".
	VirtualPath string `json:"virtual_path"`

	// BackendPath is the absolute host path that serves VirtualPath.
	BackendPath string `json:"backend_path"`

	// IsDir is true when BackendPath is a directory.
	IsDir bool `json:"is_dir"`

	// Owner is the layer tag this entry came from, used to answer
	// `which` queries (OwnerInfo.Owner in the control protocol).
	Owner string `json:"owner,omitempty"`
}

// Validate checks the entry's invariants: VirtualPath must be a
// non-empty relative POSIX path with no "..", no backslash, and not "."
// BackendPath must be absolute.
func (e Entry) Validate() error {
	vp := e.VirtualPath
	if vp == "" {
		return fmt.Errorf("manifest: virtual_path must not be empty")
	}
	if vp == "." || vp == "./" {
		return fmt.Errorf("manifest: virtual_path must not be %q", vp)
	}
	if strings.HasPrefix(vp, "/") {
		return fmt.Errorf("manifest: virtual_path %q must not be absolute", vp)
	}
	if strings.Contains(vp, "\\") {
		return fmt.Errorf("manifest: virtual_path %q must use '/' separators", vp)
	}
	for _, part := range strings.Split(vp, "/") {
		if part == "" {
			return fmt.Errorf("manifest: virtual_path %q has an empty path segment", vp)
		}
		if part == ".." {
			return fmt.Errorf("manifest: virtual_path %q must not contain '..'", vp)
		}
	}
	if e.BackendPath == "" {
		return fmt.Errorf("manifest: backend_path must not be empty")
	}
	if !path.IsAbs(e.BackendPath) {
		return fmt.Errorf("manifest: backend_path %q must be absolute", e.BackendPath)
	}
	return nil
}

// Name returns the final path component of the virtual path.
func (e Entry) Name() string {
	return path.Base(e.VirtualPath)
}
