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

// Package control is the daemon's control plane: a local
// Unix-domain socket accepting framed JSON requests and serializing
// them against a Mount Registry.
package control

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/distsystem/nuefs/manifest"
)

// Verb identifies one of the recognized control requests.
type Verb string

const (
	VerbMount       Verb = "mount"
	VerbUpdate      Verb = "update"
	VerbUnmount     Verb = "unmount"
	VerbResolve     Verb = "resolve"
	VerbStatus      Verb = "status"
	VerbGetManifest Verb = "get_manifest"
	VerbWhich       Verb = "which"
	VerbDaemonInfo  Verb = "daemon_info"
	VerbShutdown    Verb = "shutdown"
)

// Request is one framed control-protocol message.
type Request struct {
	ID      string          `json:"id"`
	Verb    Verb            `json:"verb"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Response carries either Result or a non-nil Err, never both.
type Response struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Err    *Error          `json:"error,omitempty"`
}

// Error is the structured error reply returned for every failed
// control request, instead of a bare string.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Error codes. These travel on the wire, so they are stable names
// rather than Go error values.
const (
	CodeAlreadyMounted  = "already_mounted"
	CodeNotEmpty        = "mountpoint_not_empty"
	CodeMountNotFound   = "mount_not_found"
	CodeNotFound        = "not_found"
	CodeMalformedFrame  = "malformed_frame"
	CodeUnknownVerb     = "unknown_verb"
	CodeInternal        = "internal"
)

// MountPayload is the request payload for VerbMount.
type MountPayload struct {
	Root    string           `json:"root"`
	Entries []manifest.Entry `json:"entries"`
}

// MountResult is the reply payload for a successful VerbMount.
type MountResult struct {
	MountID uint64 `json:"mount_id"`
	Root    string `json:"root"`
}

// UpdatePayload is the request payload for VerbUpdate.
type UpdatePayload struct {
	MountID uint64           `json:"mount_id"`
	Entries []manifest.Entry `json:"entries"`
}

// UnmountPayload is the request payload for VerbUnmount.
type UnmountPayload struct {
	MountID uint64 `json:"mount_id"`
}

// ResolvePayload is the request payload for VerbResolve.
type ResolvePayload struct {
	Root string `json:"root"`
}

// ResolveResult is the reply payload for VerbResolve. Found is false
// when root has no active mount.
type ResolveResult struct {
	MountID uint64 `json:"mount_id"`
	Found   bool   `json:"found"`
}

// StatusResult is the reply payload for VerbStatus.
type StatusResult struct {
	Mounts []MountStatus `json:"mounts"`
}

// MountStatus is one row of a VerbStatus reply.
type MountStatus struct {
	MountID uint64 `json:"mount_id"`
	Root    string `json:"root"`
}

// GetManifestPayload is the request payload for VerbGetManifest.
type GetManifestPayload struct {
	MountID uint64 `json:"mount_id"`
}

// GetManifestResult is the reply payload for VerbGetManifest.
type GetManifestResult struct {
	Entries []manifest.Entry `json:"entries"`
}

// WhichPayload is the request payload for VerbWhich.
type WhichPayload struct {
	MountID     uint64 `json:"mount_id"`
	VirtualPath string `json:"virtual_path"`
}

// WhichResult is the reply payload for VerbWhich. Found is false when
// the virtual path does not resolve to a real, non-synthetic entry.
type WhichResult struct {
	Owner       string `json:"owner,omitempty"`
	BackendPath string `json:"backend_path,omitempty"`
	Found       bool   `json:"found"`
}

// DaemonInfoResult is the reply payload for VerbDaemonInfo.
type DaemonInfoResult struct {
	PID       int    `json:"pid"`
	Socket    string `json:"socket"`
	StartedAt int64  `json:"started_at"`
}

// writeFrame writes a 4-byte big-endian length prefix followed by the
// JSON encoding of v.
func writeFrame(w io.Writer, v interface{}) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("control: marshal frame: %w", err)
	}
	var length [4]byte
	binary.BigEndian.PutUint32(length[:], uint32(len(body)))
	if _, err := w.Write(length[:]); err != nil {
		return fmt.Errorf("control: write frame length: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("control: write frame body: %w", err)
	}
	return nil
}

// maxFrameSize bounds a single frame to guard the daemon against a
// malformed or hostile client claiming an unbounded length prefix.
const maxFrameSize = 64 << 20

// readFrame reads one length-prefixed JSON frame into v.
func readFrame(r io.Reader, v interface{}) error {
	var length [4]byte
	if _, err := io.ReadFull(r, length[:]); err != nil {
		return err
	}
	n := binary.BigEndian.Uint32(length[:])
	if n > maxFrameSize {
		return fmt.Errorf("control: frame of %d bytes exceeds limit", n)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return fmt.Errorf("control: read frame body: %w", err)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("control: unmarshal frame: %w", err)
	}
	return nil
}
