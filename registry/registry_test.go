package registry

import (
	"testing"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/stretchr/testify/require"

	"github.com/distsystem/nuefs/manifest"
)

type fakeSession struct {
	unmounted bool
}

func (s *fakeSession) Unmount() error {
	s.unmounted = true
	return nil
}

func emptyMountpoint(t *testing.T) (billy.Filesystem, string) {
	t.Helper()
	fs := memfs.New()
	require.NoError(t, fs.MkdirAll("/mnt/u", 0755))
	return fs, "/mnt/u"
}

func noopSpawn(m *Mount) (Session, error) {
	return &fakeSession{}, nil
}

func TestCreateThenResolveThenDestroy(t *testing.T) {
	fs, root := emptyMountpoint(t)
	r := New(WithBackend(fs))

	entries := []manifest.Entry{{VirtualPath: "x.txt", BackendPath: "/tmp/B/x.txt"}}
	m, err := r.Create(root, entries, noopSpawn)
	require.NoError(t, err)
	require.Equal(t, uint64(1), m.ID)

	id, ok := r.Resolve(root)
	require.True(t, ok)
	require.Equal(t, m.ID, id)

	owner, ok := m.Which("x.txt")
	require.True(t, ok)
	require.Equal(t, "/tmp/B/x.txt", owner.BackendPath)

	require.NoError(t, r.Destroy(m.ID))
	_, ok = r.Resolve(root)
	require.False(t, ok)
}

func TestCreateRefusesDoubleMount(t *testing.T) {
	fs, root := emptyMountpoint(t)
	r := New(WithBackend(fs))

	_, err := r.Create(root, nil, noopSpawn)
	require.NoError(t, err)

	_, err = r.Create(root, nil, noopSpawn)
	require.Error(t, err)
}

func TestCreateRefusesNonEmptyMountpoint(t *testing.T) {
	fs := memfs.New()
	require.NoError(t, fs.MkdirAll("/mnt/u", 0755))
	f, err := fs.Create("/mnt/u/existing")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	r := New(WithBackend(fs))
	_, err = r.Create("/mnt/u", nil, noopSpawn)
	require.Error(t, err)
}

func TestUpdateUnknownMountFails(t *testing.T) {
	r := New(WithBackend(memfs.New()))
	err := r.Update(999, nil)
	require.Error(t, err)
}

func TestUpdateSwapsIndexAtomically(t *testing.T) {
	fs, root := emptyMountpoint(t)
	r := New(WithBackend(fs))

	m, err := r.Create(root, []manifest.Entry{{VirtualPath: "x.txt", BackendPath: "/tmp/A/x.txt"}}, noopSpawn)
	require.NoError(t, err)

	owner, ok := m.Which("x.txt")
	require.True(t, ok)
	require.Equal(t, "/tmp/A/x.txt", owner.BackendPath)

	require.NoError(t, r.Update(m.ID, []manifest.Entry{{VirtualPath: "x.txt", BackendPath: "/tmp/B/x.txt"}}))

	owner, ok = m.Which("x.txt")
	require.True(t, ok)
	require.Equal(t, "/tmp/B/x.txt", owner.BackendPath)
}

func TestListAndGetManifest(t *testing.T) {
	fs, root := emptyMountpoint(t)
	r := New(WithBackend(fs))

	m, err := r.Create(root, []manifest.Entry{{VirtualPath: "x.txt", BackendPath: "/tmp/A/x.txt"}}, noopSpawn)
	require.NoError(t, err)

	list := r.List()
	require.Len(t, list, 1)
	require.Equal(t, root, list[0].Root)

	entries := m.GetManifest()
	require.Len(t, entries, 1)
}

func TestDestroyAllUnmountsEverything(t *testing.T) {
	fs := memfs.New()
	require.NoError(t, fs.MkdirAll("/mnt/a", 0755))
	require.NoError(t, fs.MkdirAll("/mnt/b", 0755))
	r := New(WithBackend(fs))

	var sessions []*fakeSession
	spawn := func(m *Mount) (Session, error) {
		s := &fakeSession{}
		sessions = append(sessions, s)
		return s, nil
	}

	_, err := r.Create("/mnt/a", nil, spawn)
	require.NoError(t, err)
	_, err = r.Create("/mnt/b", nil, spawn)
	require.NoError(t, err)

	r.DestroyAll()
	require.Empty(t, r.List())
	for _, s := range sessions {
		require.True(t, s.unmounted)
	}
}
