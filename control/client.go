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
	"encoding/json"
	"fmt"
	"net"

	"github.com/google/uuid"

	"github.com/distsystem/nuefs/manifest"
)

// Client is a thin synchronous control-protocol client, used by
// cmd/nuefsctl and by tests driving a Server without going through a
// kernel mount.
type Client struct {
	conn net.Conn
}

// Dial connects to a daemon's control socket.
func Dial(socketPath string) (*Client, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("control: dial %s: %w", socketPath, err)
	}
	return &Client{conn: conn}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// call sends verb with payload marshaled from req and unmarshals the
// result into resp (if non-nil).
func (c *Client) call(verb Verb, req, resp interface{}) error {
	var payload json.RawMessage
	if req != nil {
		body, err := json.Marshal(req)
		if err != nil {
			return fmt.Errorf("control: marshal %s payload: %w", verb, err)
		}
		payload = body
	}

	id := uuid.NewString()
	if err := writeFrame(c.conn, Request{ID: id, Verb: verb, Payload: payload}); err != nil {
		return err
	}

	var out Response
	if err := readFrame(c.conn, &out); err != nil {
		return fmt.Errorf("control: read %s reply: %w", verb, err)
	}
	if out.Err != nil {
		return out.Err
	}
	if resp != nil && len(out.Result) > 0 {
		if err := json.Unmarshal(out.Result, resp); err != nil {
			return fmt.Errorf("control: unmarshal %s result: %w", verb, err)
		}
	}
	return nil
}

func (c *Client) Mount(root string, entries []manifest.Entry) (MountResult, error) {
	var res MountResult
	err := c.call(VerbMount, MountPayload{Root: root, Entries: entries}, &res)
	return res, err
}

func (c *Client) Update(mountID uint64, entries []manifest.Entry) error {
	return c.call(VerbUpdate, UpdatePayload{MountID: mountID, Entries: entries}, nil)
}

func (c *Client) Unmount(mountID uint64) error {
	return c.call(VerbUnmount, UnmountPayload{MountID: mountID}, nil)
}

func (c *Client) Resolve(root string) (ResolveResult, error) {
	var res ResolveResult
	err := c.call(VerbResolve, ResolvePayload{Root: root}, &res)
	return res, err
}

func (c *Client) Status() (StatusResult, error) {
	var res StatusResult
	err := c.call(VerbStatus, nil, &res)
	return res, err
}

func (c *Client) GetManifest(mountID uint64) (GetManifestResult, error) {
	var res GetManifestResult
	err := c.call(VerbGetManifest, GetManifestPayload{MountID: mountID}, &res)
	return res, err
}

func (c *Client) Which(mountID uint64, virtualPath string) (WhichResult, error) {
	var res WhichResult
	err := c.call(VerbWhich, WhichPayload{MountID: mountID, VirtualPath: virtualPath}, &res)
	return res, err
}

func (c *Client) DaemonInfo() (DaemonInfoResult, error) {
	var res DaemonInfoResult
	err := c.call(VerbDaemonInfo, nil, &res)
	return res, err
}

func (c *Client) Shutdown() error {
	return c.call(VerbShutdown, nil, nil)
}
