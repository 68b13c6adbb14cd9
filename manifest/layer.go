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

package manifest

import "strings"

// Matcher decides whether a basename is matched by an include/exclude
// rule. The concrete gitignore-style pattern engine lives outside the
// core; Matcher is the black-box predicate the core consumes.
type Matcher func(name string) bool

// Layer is one user-declared mount rule: a source path (file or
// directory) mapped onto a target subpath of the virtual root.
type Layer struct {
	// Name tags entries produced by this layer for `which` queries.
	Name string

	// Source is the absolute host path to mount. A trailing "/"
	// means "expand contents into Target"; without one, Source
	// itself is registered as a single entry.
	Source string

	// Target is a relative POSIX path, or "." (or "") for the
	// virtual root.
	Target string

	// Exclude suppresses a candidate child when it matches.
	Exclude Matcher

	// Include re-admits a candidate child that Exclude suppressed.
	Include Matcher
}

// normalizedTarget trims Target and maps "" to the root marker ".".
func (l Layer) normalizedTarget() string {
	t := strings.TrimSpace(l.Target)
	if t == "" {
		t = "."
	}
	return t
}

// expandsContents reports whether Source has a trailing "/", meaning
// its children (not itself) are registered under Target.
func (l Layer) expandsContents() bool {
	return strings.HasSuffix(l.Source, "/")
}

// defaultSkipSet is the built-in set of directory basenames that are
// skipped during layer expansion unless the target path is itself
// rooted under ".git".
var defaultSkipSet = map[string]bool{
	".git":         true,
	".pixi":        true,
	"node_modules": true,
	"__pycache__":  true,
	".venv":        true,
	"target":       true,
}

func underGitTarget(virtualPath string) bool {
	return virtualPath == ".git" || strings.HasPrefix(virtualPath, ".git/")
}
