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

package control

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/stretchr/testify/require"

	"github.com/distsystem/nuefs/manifest"
	"github.com/distsystem/nuefs/registry"
)

type fakeSession struct{}

func (fakeSession) Unmount() error { return nil }

func startTestServer(t *testing.T) (*Client, func()) {
	t.Helper()

	backend := memfs.New()
	require.NoError(t, backend.MkdirAll("/mnt/u", 0755))

	reg := registry.New(registry.WithBackend(backend))
	spawn := func(m *registry.Mount) (registry.Session, error) { return fakeSession{}, nil }

	sock := filepath.Join(t.TempDir(), "nuefsd.sock")
	srv := New(reg, spawn, sock, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	go srv.Serve(ctx)

	var client *Client
	for i := 0; i < 50; i++ {
		c, err := Dial(sock)
		if err == nil {
			client = c
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.NotNil(t, client, "control server never accepted a connection")

	return client, func() {
		client.Close()
		cancel()
		srv.Close()
	}
}

func TestMountResolveStatusUnmount(t *testing.T) {
	client, stop := startTestServer(t)
	defer stop()

	mountRes, err := client.Mount("/mnt/u", []manifest.Entry{
		{VirtualPath: "x.txt", BackendPath: "/tmp/B/x.txt"},
	})
	require.NoError(t, err)
	require.Equal(t, uint64(1), mountRes.MountID)

	resolveRes, err := client.Resolve("/mnt/u")
	require.NoError(t, err)
	require.True(t, resolveRes.Found)
	require.Equal(t, mountRes.MountID, resolveRes.MountID)

	statusRes, err := client.Status()
	require.NoError(t, err)
	require.Len(t, statusRes.Mounts, 1)

	whichRes, err := client.Which(mountRes.MountID, "x.txt")
	require.NoError(t, err)
	require.True(t, whichRes.Found)
	require.Equal(t, "/tmp/B/x.txt", whichRes.BackendPath)

	require.NoError(t, client.Unmount(mountRes.MountID))

	statusRes, err = client.Status()
	require.NoError(t, err)
	require.Empty(t, statusRes.Mounts)
}

func TestMountTwiceFailsWithAlreadyMounted(t *testing.T) {
	client, stop := startTestServer(t)
	defer stop()

	_, err := client.Mount("/mnt/u", nil)
	require.NoError(t, err)

	_, err = client.Mount("/mnt/u", nil)
	require.Error(t, err)
	ctrlErr, ok := err.(*Error)
	require.True(t, ok)
	require.Equal(t, CodeAlreadyMounted, ctrlErr.Code)
}

func TestUpdateUnknownMountIDFails(t *testing.T) {
	client, stop := startTestServer(t)
	defer stop()

	err := client.Update(999, nil)
	require.Error(t, err)
}

func TestDaemonInfoReportsSocket(t *testing.T) {
	client, stop := startTestServer(t)
	defer stop()

	info, err := client.DaemonInfo()
	require.NoError(t, err)
	require.NotZero(t, info.PID)
	require.NotEmpty(t, info.Socket)
}

func TestShutdownDestroysMountsAndClosesServer(t *testing.T) {
	client, stop := startTestServer(t)
	defer stop()

	_, err := client.Mount("/mnt/u", nil)
	require.NoError(t, err)

	require.NoError(t, client.Shutdown())
}
