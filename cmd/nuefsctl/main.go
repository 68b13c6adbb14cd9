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

// Command nuefsctl is a control-protocol client for nuefsd: it drives
// the same mount/update/unmount/status/which/daemon_info/shutdown
// verbs the Control Server exposes, without needing
// a full compiler-driven lockfile workflow in front of it.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/jessevdk/go-flags"

	"github.com/distsystem/nuefs/control"
	"github.com/distsystem/nuefs/manifest"
)

type globalOptions struct {
	Socket string `long:"socket" description:"daemon control socket path" required:"true"`
}

var global globalOptions

func dial() (*control.Client, error) {
	return control.Dial(global.Socket)
}

func printJSON(v interface{}) {
	body, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return
	}
	fmt.Println(string(body))
}

// loadEntries reads a JSON array of {virtual_path, backend_path,
// is_dir, owner} objects, i.e. an already-compiled manifest such as
// manifest.Entries applied to a manifest.Compile result and marshaled
// to disk.
func loadEntries(path string) ([]manifest.Entry, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("nuefsctl: read %s: %w", path, err)
	}
	var entries []manifest.Entry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, fmt.Errorf("nuefsctl: parse %s: %w", path, err)
	}
	return entries, nil
}

type cmdMount struct {
	Root     string `long:"root" required:"true" description:"mountpoint, an empty real directory"`
	Manifest string `long:"manifest" required:"true" description:"path to a JSON-encoded compiled manifest"`
}

func (c *cmdMount) Execute(args []string) error {
	entries, err := loadEntries(c.Manifest)
	if err != nil {
		return err
	}
	client, err := dial()
	if err != nil {
		return err
	}
	defer client.Close()

	res, err := client.Mount(c.Root, entries)
	if err != nil {
		return err
	}
	printJSON(res)
	return nil
}

type cmdUpdate struct {
	MountID  uint64 `long:"mount-id" required:"true"`
	Manifest string `long:"manifest" required:"true"`
}

func (c *cmdUpdate) Execute(args []string) error {
	entries, err := loadEntries(c.Manifest)
	if err != nil {
		return err
	}
	client, err := dial()
	if err != nil {
		return err
	}
	defer client.Close()
	return client.Update(c.MountID, entries)
}

type cmdUnmount struct {
	MountID uint64 `long:"mount-id" required:"true"`
}

func (c *cmdUnmount) Execute(args []string) error {
	client, err := dial()
	if err != nil {
		return err
	}
	defer client.Close()
	return client.Unmount(c.MountID)
}

type cmdResolve struct {
	Root string `long:"root" required:"true"`
}

func (c *cmdResolve) Execute(args []string) error {
	client, err := dial()
	if err != nil {
		return err
	}
	defer client.Close()
	res, err := client.Resolve(c.Root)
	if err != nil {
		return err
	}
	printJSON(res)
	return nil
}

type cmdStatus struct{}

func (c *cmdStatus) Execute(args []string) error {
	client, err := dial()
	if err != nil {
		return err
	}
	defer client.Close()
	res, err := client.Status()
	if err != nil {
		return err
	}
	printJSON(res)
	return nil
}

type cmdGetManifest struct {
	MountID uint64 `long:"mount-id" required:"true"`
}

func (c *cmdGetManifest) Execute(args []string) error {
	client, err := dial()
	if err != nil {
		return err
	}
	defer client.Close()
	res, err := client.GetManifest(c.MountID)
	if err != nil {
		return err
	}
	printJSON(res)
	return nil
}

type cmdWhich struct {
	MountID     uint64 `long:"mount-id" required:"true"`
	VirtualPath string `long:"path" required:"true"`
}

func (c *cmdWhich) Execute(args []string) error {
	client, err := dial()
	if err != nil {
		return err
	}
	defer client.Close()
	res, err := client.Which(c.MountID, c.VirtualPath)
	if err != nil {
		return err
	}
	printJSON(res)
	return nil
}

type cmdDaemonInfo struct{}

func (c *cmdDaemonInfo) Execute(args []string) error {
	client, err := dial()
	if err != nil {
		return err
	}
	defer client.Close()
	res, err := client.DaemonInfo()
	if err != nil {
		return err
	}
	printJSON(res)
	return nil
}

type cmdShutdown struct{}

func (c *cmdShutdown) Execute(args []string) error {
	client, err := dial()
	if err != nil {
		return err
	}
	defer client.Close()
	return client.Shutdown()
}

func main() {
	parser := flags.NewParser(&global, flags.Default)

	parser.AddCommand("mount", "Mount a compiled manifest", "", &cmdMount{})
	parser.AddCommand("update", "Hot-swap a mount's manifest", "", &cmdUpdate{})
	parser.AddCommand("unmount", "Tear down a mount", "", &cmdUnmount{})
	parser.AddCommand("resolve", "Look up the mount_id owning a root", "", &cmdResolve{})
	parser.AddCommand("status", "List active mounts", "", &cmdStatus{})
	parser.AddCommand("get-manifest", "Dump a mount's compiled entries", "", &cmdGetManifest{})
	parser.AddCommand("which", "Resolve a virtual path to its backend owner", "", &cmdWhich{})
	parser.AddCommand("daemon-info", "Print daemon pid/socket/start time", "", &cmdDaemonInfo{})
	parser.AddCommand("shutdown", "Unmount everything and stop the daemon", "", &cmdShutdown{})

	if _, err := parser.Parse(); err != nil {
		if flags.WroteHelp(err) {
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
