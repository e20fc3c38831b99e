// Copyright 2024 The Taskkernel Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package server implements the Idol-style single-buffer IPC dispatch
// harness spec §4.F describes: a server task loops RECV, looks up the
// handler registered for the arriving opcode, invokes it, and REPLYs
// (or REPLY_FAULTs) with the result. Grounded structurally on
// nestybox-sysbox-fs's handler/handlerDB.go — same radix-tree-backed
// registry, same RWMutex-guarded register/lookup pair — retargeted from
// filesystem-path keys to the closed, dense domain.OpCode keyspace a
// server actually dispatches on.
package server

import (
	"encoding/binary"
	"fmt"
	"sync"

	iradix "github.com/hashicorp/go-immutable-radix"
	"github.com/sirupsen/logrus"

	"github.com/oxidecomputer/taskkernel/domain"
)

// opKey encodes an OpCode as a big-endian byte key so the radix tree's
// lexicographic ordering matches numeric opcode ordering (useful for
// HandlersResourcesList-style ordered enumeration).
func opKey(op domain.OpCode) []byte {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], uint16(op))
	return b[:]
}

// handlerService implements domain.HandlerServiceIface.
type handlerService struct {
	mu   sync.RWMutex
	tree *iradix.Tree
}

// NewHandlerService builds an empty handler registry.
func NewHandlerService() domain.HandlerServiceIface {
	return &handlerService{tree: iradix.New()}
}

func (hs *handlerService) Register(h domain.HandlerIface) error {
	hs.mu.Lock()
	defer hs.mu.Unlock()

	key := opKey(h.GetOp())
	if _, ok := hs.tree.Get(key); ok {
		return fmt.Errorf("server: opcode %d already registered", h.GetOp())
	}
	tree, _, _ := hs.tree.Insert(key, h)
	hs.tree = tree
	return nil
}

func (hs *handlerService) Lookup(op domain.OpCode) (domain.HandlerIface, bool) {
	hs.mu.RLock()
	defer hs.mu.RUnlock()

	v, ok := hs.tree.Get(opKey(op))
	if !ok {
		return nil, false
	}
	return v.(domain.HandlerIface), true
}

func (hs *handlerService) Names() []string {
	hs.mu.RLock()
	defer hs.mu.RUnlock()

	var names []string
	hs.tree.Root().Walk(func(key []byte, val interface{}) bool {
		names = append(names, val.(domain.HandlerIface).GetName())
		return false
	})
	return names
}

// namedHandler adapts a plain domain.HandlerFunc into a domain.HandlerIface
// for registration, the way a generated Idol stub would.
type namedHandler struct {
	name string
	op   domain.OpCode
	fn   domain.HandlerFunc
}

// NewHandler wraps fn as a domain.HandlerIface bound to op.
func NewHandler(name string, op domain.OpCode, fn domain.HandlerFunc) domain.HandlerIface {
	return &namedHandler{name: name, op: op, fn: fn}
}

func (h *namedHandler) GetName() string          { return h.name }
func (h *namedHandler) GetOp() domain.OpCode     { return h.op }
func (h *namedHandler) Invoke(r domain.Request) domain.Response { return h.fn(r) }

// Server drives the RECV/dispatch/REPLY loop for one task (spec §4.F).
type Server struct {
	sys     domain.SyscallIface
	svc     domain.HandlerServiceIface
	mask    domain.Notification
	respCap int
	log     *logrus.Entry

	// NotificationHandler, if set, is invoked whenever RECV returns a
	// kernel notification instead of a peer message.
	NotificationHandler func(domain.Notification)
}

// NewServer builds a Server that RECVs with mask and dispatches through
// svc. respCap bounds the REPLY buffer handlers may write into; writing
// past it is itself a spec §4.F "oversized response" REPLY_FAULT.
func NewServer(sys domain.SyscallIface, svc domain.HandlerServiceIface, mask domain.Notification, respCap int, log *logrus.Entry) *Server {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Server{sys: sys, svc: svc, mask: mask, respCap: respCap, log: log}
}

// ServeOne performs one RECV and, if it was a peer message, dispatches
// and replies. It returns false if RECV itself failed (the caller
// should treat this as fatal — RECV failing means the kernel thinks
// this task is gone).
func (s *Server) ServeOne() bool {
	res, err := s.sys.Recv(s.mask)
	if err != nil {
		s.log.WithError(err).Error("server: recv failed")
		return false
	}
	if res.FromKernel {
		if s.NotificationHandler != nil {
			s.NotificationHandler(res.Notifications)
		}
		return true
	}

	h, ok := s.svc.Lookup(res.Op)
	if !ok {
		if err := s.sys.ReplyFault(res.Sender, domain.ReplyUndefinedOperation); err != nil {
			s.log.WithError(err).Warn("server: reply-fault failed")
		}
		return true
	}

	req := domain.Request{Op: res.Op, Sender: res.Sender, Args: res.Args, Leases: res.Leases}
	resp := h.Invoke(req)

	if resp.Fault != nil {
		if err := s.sys.ReplyFault(res.Sender, *resp.Fault); err != nil {
			s.log.WithError(err).Warn("server: reply-fault failed")
		}
		return true
	}
	if len(resp.Data) > s.respCap {
		if err := s.sys.ReplyFault(res.Sender, domain.ReplyBufferTooSmall); err != nil {
			s.log.WithError(err).Warn("server: reply-fault failed")
		}
		return true
	}
	if err := s.sys.Reply(res.Sender, 0, resp.Data); err != nil {
		s.log.WithError(err).Warn("server: reply failed")
	}
	return true
}

// Run calls ServeOne forever, the shape of a generated Idol server's
// `loop { idol_runtime::dispatch(...) }`.
func (s *Server) Run() {
	for s.ServeOne() {
	}
}
