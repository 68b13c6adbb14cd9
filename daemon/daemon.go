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

// Package daemon wires the Mount Registry, the VFS Request Handler's
// session spawner, and the Control Server into the long-lived nuefsd
// process.
package daemon

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/distsystem/nuefs/control"
	"github.com/distsystem/nuefs/registry"
	"github.com/distsystem/nuefs/vfs"
)

// defaultSocketName is appended to $XDG_RUNTIME_DIR when no explicit
// socket path is configured.
const defaultSocketName = "nuefsd.sock"

// Options configures a Daemon.
type Options struct {
	// SocketPath overrides the default socket location. Empty means
	// resolve from NUEFSD_SOCKET, then $XDG_RUNTIME_DIR, then os.TempDir.
	SocketPath string
	Logger     *log.Logger
}

// Daemon is one running nuefsd process.
type Daemon struct {
	registry *registry.Registry
	control  *control.Server
	logger   *log.Logger
	socket   string
}

// resolveSocketPath applies the daemon's socket-path environment
// precedence: an explicit override, then $NUEFSD_SOCKET, then
// $XDG_RUNTIME_DIR, then os.TempDir.
func resolveSocketPath(override string) string {
	if override != "" {
		return override
	}
	if env := os.Getenv("NUEFSD_SOCKET"); env != "" {
		return env
	}
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, defaultSocketName)
	}
	return filepath.Join(os.TempDir(), defaultSocketName)
}

// New constructs a Daemon. It does not yet bind the socket or accept
// connections; call Run for that.
func New(opts Options) *Daemon {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "nuefsd: ", log.LstdFlags)
	}

	reg := registry.New(registry.WithLogger(logger))
	socket := resolveSocketPath(opts.SocketPath)

	d := &Daemon{registry: reg, logger: logger, socket: socket}
	spawn := func(m *registry.Mount) (registry.Session, error) {
		return vfs.Spawn(m, m.Root, nil, logger)
	}
	d.control = control.New(reg, spawn, socket, control.Options{Logger: logger})
	return d
}

// Run serves the control socket until ctx is cancelled or a shutdown
// request arrives, then tears down every active mount.
func (d *Daemon) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			d.logger.Printf("daemon: received shutdown signal")
			cancel()
		case <-ctx.Done():
		}
	}()
	defer signal.Stop(sigCh)

	err := d.control.Serve(ctx)
	d.registry.DestroyAll()
	if err != nil {
		return fmt.Errorf("daemon: %w", err)
	}
	return nil
}

// Socket returns the control socket path this daemon is bound to.
func (d *Daemon) Socket() string {
	return d.socket
}
