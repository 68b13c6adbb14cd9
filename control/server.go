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
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-systemd/activation"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/distsystem/nuefs/registry"
)

// Server is the daemon's control plane. Each accepted
// connection is handled on its own goroutine; every dispatched verb
// runs on its own goroutine too, so a slow `mount` never blocks a
// concurrent `status` on the same or another connection (long operations
// must not block the daemon's ability to answer
// status or daemon_info").
type Server struct {
	registry *registry.Registry
	spawn    registry.SpawnFunc
	socket   string
	logger   *log.Logger
	pid      int
	startedAt int64

	// pollLimiter throttles status/which so a busy polling client
	// cannot starve mount/update dispatch.
	pollLimiter *rate.Limiter

	listener net.Listener

	mu       sync.Mutex
	shutdown chan struct{}
	wg       sync.WaitGroup
}

// Options configures a Server.
type Options struct {
	Logger *log.Logger
	// PollBurst/PollPerSecond bound the status/which verbs. Zero
	// values fall back to a generous default (50/s, burst 100).
	PollPerSecond float64
	PollBurst     int
}

// New constructs a Server bound to reg, listening at socketPath.
// spawn is forwarded to every registry.Create call (the daemon
// package supplies the vfs.Spawn-backed implementation).
func New(reg *registry.Registry, spawn registry.SpawnFunc, socketPath string, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	perSecond := opts.PollPerSecond
	if perSecond == 0 {
		perSecond = 50
	}
	burst := opts.PollBurst
	if burst == 0 {
		burst = 100
	}

	return &Server{
		registry:    reg,
		spawn:       spawn,
		socket:      socketPath,
		logger:      logger,
		pid:         os.Getpid(),
		pollLimiter: rate.NewLimiter(rate.Limit(perSecond), burst),
		shutdown:    make(chan struct{}),
	}
}

// listen binds the control socket, preferring a systemd-activated
// listener if one was passed to the process.
func (s *Server) listen() (net.Listener, error) {
	listeners, err := activation.Listeners()
	if err == nil {
		for _, l := range listeners {
			if l != nil {
				s.logger.Printf("control: adopted systemd socket")
				return l, nil
			}
		}
	}

	os.Remove(s.socket)
	return net.Listen("unix", s.socket)
}

// Serve binds the control socket and accepts connections until
// ctx is cancelled, Close is called, or a shutdown request arrives.
func (s *Server) Serve(ctx context.Context) error {
	l, err := s.listen()
	if err != nil {
		return fmt.Errorf("control: listen %s: %w", s.socket, err)
	}
	s.listener = l
	s.startedAt = time.Now().Unix()
	s.logger.Printf("control: listening on %s", s.socket)

	go func() {
		select {
		case <-ctx.Done():
			s.listener.Close()
		case <-s.shutdown:
			s.listener.Close()
		}
	}()

	for {
		conn, err := l.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
				s.wg.Wait()
				return nil
			case <-ctx.Done():
				s.wg.Wait()
				return nil
			default:
			}
			return fmt.Errorf("control: accept: %w", err)
		}
		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

// Close stops accepting new connections and waits for in-flight
// requests to finish.
func (s *Server) Close() {
	s.mu.Lock()
	select {
	case <-s.shutdown:
	default:
		close(s.shutdown)
	}
	s.mu.Unlock()
	if s.listener != nil {
		s.listener.Close()
	}
	s.wg.Wait()
}

// handleConn reads frames off one connection and dispatches each on
// its own goroutine, so a slow mount/unmount on this connection never
// delays a concurrently pipelined status/daemon_info reply on the same
// connection. Writes are serialized with connMu since
// net.Conn.Write is not safe for concurrent callers.
func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	var connMu sync.Mutex
	var inflight sync.WaitGroup
	defer inflight.Wait()

	for {
		var req Request
		if err := readFrame(conn, &req); err != nil {
			// A frame whose body was read but is not valid JSON gets a
			// structured error reply and the connection stays open;
			// any other read failure ends the connection.
			var syntaxErr *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			if !errors.As(err, &syntaxErr) && !errors.As(err, &typeErr) {
				return
			}
			connMu.Lock()
			werr := writeFrame(conn, Response{Err: &Error{Code: CodeMalformedFrame, Message: err.Error()}})
			connMu.Unlock()
			if werr != nil {
				return
			}
			continue
		}
		if req.ID == "" {
			req.ID = uuid.NewString()
		}

		inflight.Add(1)
		go func(req Request) {
			defer inflight.Done()
			resp := s.dispatch(req)
			connMu.Lock()
			defer connMu.Unlock()
			if err := writeFrame(conn, resp); err != nil {
				s.logger.Printf("control: write reply %s: %v", req.ID, err)
			}
		}(req)
	}
}

func (s *Server) dispatch(req Request) Response {
	if req.Verb == VerbStatus || req.Verb == VerbWhich {
		_ = s.pollLimiter.Wait(context.Background())
	}

	s.logger.Printf("control: request id=%s verb=%s", req.ID, req.Verb)

	result, cErr := s.dispatchVerb(req)
	if cErr != nil {
		return Response{ID: req.ID, Err: cErr}
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return Response{ID: req.ID, Err: &Error{Code: CodeInternal, Message: err.Error()}}
	}
	return Response{ID: req.ID, Result: raw}
}

func (s *Server) dispatchVerb(req Request) (interface{}, *Error) {
	switch req.Verb {
	case VerbMount:
		return s.handleMount(req.Payload)
	case VerbUpdate:
		return s.handleUpdate(req.Payload)
	case VerbUnmount:
		return s.handleUnmount(req.Payload)
	case VerbResolve:
		return s.handleResolve(req.Payload)
	case VerbStatus:
		return s.handleStatus()
	case VerbGetManifest:
		return s.handleGetManifest(req.Payload)
	case VerbWhich:
		return s.handleWhich(req.Payload)
	case VerbDaemonInfo:
		return s.handleDaemonInfo()
	case VerbShutdown:
		return s.handleShutdown()
	default:
		return nil, &Error{Code: CodeUnknownVerb, Message: string(req.Verb)}
	}
}

func decode(payload json.RawMessage, v interface{}) *Error {
	if err := json.Unmarshal(payload, v); err != nil {
		return &Error{Code: CodeMalformedFrame, Message: err.Error()}
	}
	return nil
}

func (s *Server) handleMount(payload json.RawMessage) (interface{}, *Error) {
	var p MountPayload
	if err := decode(payload, &p); err != nil {
		return nil, err
	}
	m, err := s.registry.Create(p.Root, p.Entries, s.spawn)
	if err != nil {
		return nil, classify(err)
	}
	return MountResult{MountID: m.ID, Root: m.Root}, nil
}

func (s *Server) handleUpdate(payload json.RawMessage) (interface{}, *Error) {
	var p UpdatePayload
	if err := decode(payload, &p); err != nil {
		return nil, err
	}
	if err := s.registry.Update(p.MountID, p.Entries); err != nil {
		return nil, classify(err)
	}
	return struct{}{}, nil
}

func (s *Server) handleUnmount(payload json.RawMessage) (interface{}, *Error) {
	var p UnmountPayload
	if err := decode(payload, &p); err != nil {
		return nil, err
	}
	if err := s.registry.Destroy(p.MountID); err != nil {
		return nil, classify(err)
	}
	return struct{}{}, nil
}

func (s *Server) handleResolve(payload json.RawMessage) (interface{}, *Error) {
	var p ResolvePayload
	if err := decode(payload, &p); err != nil {
		return nil, err
	}
	id, ok := s.registry.Resolve(p.Root)
	return ResolveResult{MountID: id, Found: ok}, nil
}

func (s *Server) handleStatus() (interface{}, *Error) {
	list := s.registry.List()
	out := make([]MountStatus, len(list))
	for i, m := range list {
		out[i] = MountStatus{MountID: m.ID, Root: m.Root}
	}
	return StatusResult{Mounts: out}, nil
}

func (s *Server) handleGetManifest(payload json.RawMessage) (interface{}, *Error) {
	var p GetManifestPayload
	if err := decode(payload, &p); err != nil {
		return nil, err
	}
	m, ok := s.registry.Get(p.MountID)
	if !ok {
		return nil, &Error{Code: CodeMountNotFound, Message: fmt.Sprintf("mount_id %d not found", p.MountID)}
	}
	return GetManifestResult{Entries: m.GetManifest()}, nil
}

func (s *Server) handleWhich(payload json.RawMessage) (interface{}, *Error) {
	var p WhichPayload
	if err := decode(payload, &p); err != nil {
		return nil, err
	}
	m, ok := s.registry.Get(p.MountID)
	if !ok {
		return nil, &Error{Code: CodeMountNotFound, Message: fmt.Sprintf("mount_id %d not found", p.MountID)}
	}
	owner, found := m.Which(p.VirtualPath)
	if !found {
		return WhichResult{Found: false}, nil
	}
	return WhichResult{Owner: owner.Owner, BackendPath: owner.BackendPath, Found: true}, nil
}

func (s *Server) handleDaemonInfo() (interface{}, *Error) {
	return DaemonInfoResult{PID: s.pid, Socket: s.socket, StartedAt: s.startedAt}, nil
}

func (s *Server) handleShutdown() (interface{}, *Error) {
	s.registry.DestroyAll()
	go s.Close()
	return struct{}{}, nil
}

// classify maps a registry error into a stable wire code by message
// sniffing. The registry intentionally returns plain fmt.Errorf
// values with no internal error taxonomy; the Control Server is the
// boundary where those become typed replies.
func classify(err error) *Error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "already mounted"):
		return &Error{Code: CodeAlreadyMounted, Message: msg}
	case strings.Contains(msg, "not empty"):
		return &Error{Code: CodeNotEmpty, Message: msg}
	case strings.Contains(msg, "not found"):
		return &Error{Code: CodeMountNotFound, Message: msg}
	default:
		return &Error{Code: CodeInternal, Message: msg}
	}
}
