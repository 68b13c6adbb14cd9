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

// Command nuefsd is the NueFS mount daemon.
package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/jessevdk/go-flags"

	"github.com/distsystem/nuefs/daemon"
)

type options struct {
	Socket string `long:"socket" description:"control socket path (default: $NUEFSD_SOCKET, then $XDG_RUNTIME_DIR/nuefsd.sock)"`
	Quiet  bool   `long:"quiet" description:"suppress informational logging"`
}

func main() {
	var opts options
	parser := flags.NewParser(&opts, flags.Default)
	parser.LongDescription = "nuefsd serves one or more layered virtual filesystem mounts over a local control socket."
	if _, err := parser.Parse(); err != nil {
		if flags.WroteHelp(err) {
			os.Exit(0)
		}
		os.Exit(1)
	}

	logger := log.New(os.Stderr, "nuefsd: ", log.LstdFlags)
	if opts.Quiet {
		if null, err := os.OpenFile(os.DevNull, os.O_WRONLY, 0); err == nil {
			logger.SetOutput(null)
		}
	}

	d := daemon.New(daemon.Options{SocketPath: opts.Socket, Logger: logger})
	logger.Printf("starting, socket=%s", d.Socket())

	if err := d.Run(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
