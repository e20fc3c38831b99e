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

package domain

// OpCode identifies an Idol-style method on a server's dispatch table.
// Like the microkernel's own syscall numbers, a server's opcodes are
// small, stable, and chosen by the server's author, not derived.
type OpCode uint16

// Request is what the server harness (§4.F) hands a handler after RECV
// returns a message from a peer: the decoded fixed header plus access to
// any leases attached to the message.
type Request struct {
	Op      OpCode
	Sender  TaskID
	Args    []byte
	Leases  []LeaseIface
}

// Response is what a handler returns to the harness: either a success
// payload to REPLY with, or a ReplyFaultReason to REPLY_FAULT with.
type Response struct {
	Data  []byte
	Fault *ReplyFaultReason
}

// Ok builds a successful Response.
func Ok(data []byte) Response { return Response{Data: data} }

// Fault builds a REPLY_FAULT response.
func Fault(reason ReplyFaultReason) Response { return Response{Fault: &reason} }

// HandlerFunc implements one Idol method. It is the server-side analogue
// of sysbox-fs's per-path filesystem handler, keyed here by operation
// code instead of filesystem path.
type HandlerFunc func(req Request) Response

// HandlerIface is a single dispatchable Idol method together with the
// bookkeeping the dispatch table needs: a name for tracing/humility
// introspection and the opcode it answers to. A concrete server
// registers one HandlerIface per message it accepts.
type HandlerIface interface {
	GetName() string
	GetOp() OpCode
	Invoke(req Request) Response
}

// HandlerServiceIface is the Idol dispatch table a server harness
// consults on every RECV that returns a peer message. Implementations
// index handlers by OpCode the way sysbox-fs's handlerService indexes
// filesystem handlers by path, using the same immutable-radix-tree
// structure for O(log n), allocation-light lookups along the hot RECV
// path.
type HandlerServiceIface interface {
	Register(h HandlerIface) error
	Lookup(op OpCode) (HandlerIface, bool)
	Names() []string
}
