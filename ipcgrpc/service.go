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

// Package ipcgrpc exposes the supervisor to an external debugger
// (Humility) over gRPC. It is grounded on nestybox-sysbox-fs's
// ipc/apis.go, which wraps a generated grpc.Server and a
// CallbacksMap of container-lifecycle handlers; since this repo has no
// .proto source to generate a client/server stub from, the
// grpc.ServiceDesc a protoc-gen-go-grpc run would have produced is
// written by hand here instead, the way the teacher's handler
// CallbacksMap is itself just a map of plain functions bound to
// message names.
package ipcgrpc

import (
	"context"
	"fmt"

	"google.golang.org/grpc"

	"github.com/oxidecomputer/taskkernel/domain"
)

// DebuggerServer is the control-plane surface a debugger drives.
type DebuggerServer interface {
	ReadTaskStatus(ctx context.Context, req *TaskStatusRequest) (*TaskStatusResponse, error)
	RestartTask(ctx context.Context, req *RestartRequest) (*RestartResponse, error)
	SetDisposition(ctx context.Context, req *DispositionRequest) (*Empty, error)
}

// server implements DebuggerServer against the kernel's KIPC surface.
type server struct {
	kipc domain.KipcIface
	// setDisposition, if non-nil, lets the caller wire in a
	// supervisor.Supervisor.SetDisposition without this package
	// importing the supervisor package (it would otherwise be the only
	// consumer-side dependency not already flowing through domain).
	setDisposition func(index domain.TaskIndex, hold bool) error
}

// NewServer builds a DebuggerServer bound to kipc. setDisposition may
// be nil, in which case SetDisposition calls fail with a plain
// "disposition control not wired" error.
func NewServer(kipc domain.KipcIface, setDisposition func(index domain.TaskIndex, hold bool) error) DebuggerServer {
	return &server{kipc: kipc, setDisposition: setDisposition}
}

func (s *server) ReadTaskStatus(ctx context.Context, req *TaskStatusRequest) (*TaskStatusResponse, error) {
	state, fault, err := s.kipc.ReadTaskStatus(domain.TaskIndex(req.Index))
	if err != nil {
		return nil, err
	}
	resp := &TaskStatusResponse{State: state.String()}
	if state == domain.StateFaulted {
		resp.FaultSource = fault.Source.String()
		resp.FaultReason = fault.Reason.String()
	}
	return resp, nil
}

func (s *server) RestartTask(ctx context.Context, req *RestartRequest) (*RestartResponse, error) {
	gen, err := s.kipc.RestartTask(domain.TaskIndex(req.Index), req.StartAtBoot)
	if err != nil {
		return nil, err
	}
	return &RestartResponse{Generation: uint8(gen)}, nil
}

func (s *server) SetDisposition(ctx context.Context, req *DispositionRequest) (*Empty, error) {
	if s.setDisposition == nil {
		return nil, fmt.Errorf("ipcgrpc: disposition control not wired")
	}
	if err := s.setDisposition(domain.TaskIndex(req.Index), req.HoldFault); err != nil {
		return nil, err
	}
	return &Empty{}, nil
}

func _Debugger_ReadTaskStatus_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(TaskStatusRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DebuggerServer).ReadTaskStatus(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/taskkernel.Debugger/ReadTaskStatus"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(DebuggerServer).ReadTaskStatus(ctx, req.(*TaskStatusRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _Debugger_RestartTask_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(RestartRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DebuggerServer).RestartTask(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/taskkernel.Debugger/RestartTask"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(DebuggerServer).RestartTask(ctx, req.(*RestartRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _Debugger_SetDisposition_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(DispositionRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DebuggerServer).SetDisposition(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/taskkernel.Debugger/SetDisposition"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(DebuggerServer).SetDisposition(ctx, req.(*DispositionRequest))
	}
	return interceptor(ctx, in, info, handler)
}

var debuggerServiceDesc = grpc.ServiceDesc{
	ServiceName: "taskkernel.Debugger",
	HandlerType: (*DebuggerServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ReadTaskStatus", Handler: _Debugger_ReadTaskStatus_Handler},
		{MethodName: "RestartTask", Handler: _Debugger_RestartTask_Handler},
		{MethodName: "SetDisposition", Handler: _Debugger_SetDisposition_Handler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "ipcgrpc/debugger.proto",
}

// RegisterDebuggerServer registers srv on s, the way a protoc-gen-go-grpc
// Register<Name>Server function would.
func RegisterDebuggerServer(s *grpc.Server, srv DebuggerServer) {
	s.RegisterService(&debuggerServiceDesc, srv)
}

// NewGRPCServer builds a *grpc.Server configured to carry this
// package's plain structs via jsonCodec instead of protobuf.
func NewGRPCServer(opts ...grpc.ServerOption) *grpc.Server {
	allOpts := append([]grpc.ServerOption{grpc.CustomCodec(jsonCodec{})}, opts...)
	return grpc.NewServer(allOpts...)
}

// Full RPC method names, exported so a hand-rolled client (cmd/humility
// has no protoc-gen-go-grpc stub to call through) can invoke them with
// grpc.ClientConn.Invoke.
const (
	MethodReadTaskStatus = "/taskkernel.Debugger/ReadTaskStatus"
	MethodRestartTask    = "/taskkernel.Debugger/RestartTask"
	MethodSetDisposition = "/taskkernel.Debugger/SetDisposition"
)

// ClientDialOption configures a grpc.ClientConn to speak this package's
// jsonCodec, mirroring NewGRPCServer on the dial side.
func ClientDialOption() grpc.DialOption {
	return grpc.WithCodec(jsonCodec{})
}
