package manifest

import (
	"testing"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, fs billy.Filesystem, name, content string) {
	t.Helper()
	f, err := fs.Create(name)
	require.NoError(t, err)
	_, err = f.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

func TestCompileBasicOverlay(t *testing.T) {
	fs := memfs.New()
	writeFile(t, fs, "/tmp/A/x.txt", "a")
	writeFile(t, fs, "/tmp/B/x.txt", "b")

	layers := []Layer{
		{Name: "A", Source: "/tmp/A/", Target: "."},
		{Name: "B", Source: "/tmp/B/", Target: "."},
	}

	c := &Compiler{Backend: fs}
	got, err := c.Compile(layers)
	require.NoError(t, err)

	e, ok := got["x.txt"]
	require.True(t, ok)
	require.Equal(t, "/tmp/B/x.txt", e.BackendPath)
	require.Equal(t, "B", e.Owner)
}

func TestCompileDirectoryOverDirectoryMerges(t *testing.T) {
	fs := memfs.New()
	writeFile(t, fs, "/tmp/A/sub/one.txt", "1")
	writeFile(t, fs, "/tmp/B/sub/two.txt", "2")

	layers := []Layer{
		{Name: "A", Source: "/tmp/A/", Target: "."},
		{Name: "B", Source: "/tmp/B/", Target: "."},
	}

	c := &Compiler{Backend: fs}
	got, err := c.Compile(layers)
	require.NoError(t, err)

	sub, ok := got["sub"]
	require.True(t, ok)
	require.True(t, sub.IsDir)
	// Directory-over-directory: earlier layer's directory survives.
	require.Equal(t, "/tmp/A/sub", sub.BackendPath)
	require.Equal(t, "A", sub.Owner)
}

func TestCompileNoTrailingSlashRegistersWholeDir(t *testing.T) {
	fs := memfs.New()
	writeFile(t, fs, "/srv/libs/pkg/mod.py", "x")

	layers := []Layer{
		{Name: "libs", Source: "/srv/libs", Target: "vendor"},
	}

	c := &Compiler{Backend: fs}
	got, err := c.Compile(layers)
	require.NoError(t, err)

	e, ok := got["vendor/libs"]
	require.True(t, ok)
	require.True(t, e.IsDir)
	require.Equal(t, "/srv/libs", e.BackendPath)
}

func TestCompileSkipsDotGitByDefault(t *testing.T) {
	fs := memfs.New()
	writeFile(t, fs, "/srv/proj/.git/HEAD", "ref: refs/heads/main")
	writeFile(t, fs, "/srv/proj/main.go", "package main")

	layers := []Layer{{Name: "proj", Source: "/srv/proj/", Target: "."}}
	c := &Compiler{Backend: fs}
	got, err := c.Compile(layers)
	require.NoError(t, err)

	_, ok := got[".git"]
	require.False(t, ok)
	_, ok = got["main.go"]
	require.True(t, ok)
}

func TestCompileExplicitGitMountReenablesGit(t *testing.T) {
	fs := memfs.New()
	writeFile(t, fs, "/srv/proj/.git/HEAD", "ref: refs/heads/main")

	layers := []Layer{{Name: "gitdir", Source: "/srv/proj/.git", Target: ".git"}}
	c := &Compiler{Backend: fs}
	got, err := c.Compile(layers)
	require.NoError(t, err)

	e, ok := got[".git"]
	require.True(t, ok)
	require.True(t, e.IsDir)
}

func TestCompileExcludeThenIncludeOverride(t *testing.T) {
	fs := memfs.New()
	writeFile(t, fs, "/tmp/proj/keep.secret", "s")
	writeFile(t, fs, "/tmp/proj/drop.secret", "s")
	writeFile(t, fs, "/tmp/proj/plain.txt", "p")

	layers := []Layer{{
		Name:   "proj",
		Source: "/tmp/proj/",
		Target: ".",
		Exclude: func(name string) bool {
			return name == "keep.secret" || name == "drop.secret"
		},
		Include: func(name string) bool {
			return name == "keep.secret"
		},
	}}

	c := &Compiler{Backend: fs}
	got, err := c.Compile(layers)
	require.NoError(t, err)

	_, ok := got["keep.secret"]
	require.True(t, ok)
	_, ok = got["drop.secret"]
	require.False(t, ok)
	_, ok = got["plain.txt"]
	require.True(t, ok)
}

func TestCompileSingleChildChainCollapsing(t *testing.T) {
	fs := memfs.New()
	writeFile(t, fs, "/tmp/proj/a/b/c/leaf.txt", "x")

	layers := []Layer{{Name: "proj", Source: "/tmp/proj/", Target: "."}}
	c := &Compiler{Backend: fs}
	got, err := c.Compile(layers)
	require.NoError(t, err)

	// "a" has exactly one subdir "b", which has exactly one subdir "c",
	// which has one file and no subdirs, so collapsing stops at "c".
	_, hasA := got["a"]
	require.False(t, hasA)
	e, ok := got["a/b/c"]
	require.True(t, ok)
	require.True(t, e.IsDir)
	require.Equal(t, "/tmp/proj/a/b/c", e.BackendPath)
}

func TestCompileMissingSourceContributesNothing(t *testing.T) {
	fs := memfs.New()
	layers := []Layer{{Name: "gone", Source: "/does/not/exist/", Target: "."}}
	c := &Compiler{Backend: fs}
	got, err := c.Compile(layers)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestEntryValidateRejectsBadPaths(t *testing.T) {
	bad := []Entry{
		{VirtualPath: "", BackendPath: "/a"},
		{VirtualPath: ".", BackendPath: "/a"},
		{VirtualPath: "/abs", BackendPath: "/a"},
		{VirtualPath: "a/../b", BackendPath: "/a"},
		{VirtualPath: "a\\b", BackendPath: "/a"},
		{VirtualPath: "ok", BackendPath: "relative"},
	}
	for _, e := range bad {
		require.Error(t, e.Validate(), "%+v", e)
	}
}
