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

package main

import (
	"context"
	"time"

	"google.golang.org/grpc"

	"github.com/oxidecomputer/taskkernel/ipcgrpc"
)

// debuggerClient is the thin invoker humility's status/restart/hold
// subcommands drive. ipcgrpc has no protoc-generated client stub (the
// server side is a hand-authored grpc.ServiceDesc, see ipcgrpc/service.go),
// so this calls through grpc.ClientConn.Invoke directly against the
// same method names the server registers.
type debuggerClient struct {
	conn *grpc.ClientConn
}

func dialDebugger(addr string, timeout time.Duration) (*debuggerClient, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	conn, err := grpc.DialContext(ctx, addr,
		grpc.WithInsecure(),
		grpc.WithBlock(),
		ipcgrpc.ClientDialOption(),
	)
	if err != nil {
		return nil, err
	}
	return &debuggerClient{conn: conn}, nil
}

func (c *debuggerClient) Close() error { return c.conn.Close() }

func (c *debuggerClient) ReadTaskStatus(ctx context.Context, index uint16) (*ipcgrpc.TaskStatusResponse, error) {
	resp := new(ipcgrpc.TaskStatusResponse)
	req := &ipcgrpc.TaskStatusRequest{Index: index}
	if err := c.conn.Invoke(ctx, ipcgrpc.MethodReadTaskStatus, req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *debuggerClient) RestartTask(ctx context.Context, index uint16, startAtBoot bool) (*ipcgrpc.RestartResponse, error) {
	resp := new(ipcgrpc.RestartResponse)
	req := &ipcgrpc.RestartRequest{Index: index, StartAtBoot: startAtBoot}
	if err := c.conn.Invoke(ctx, ipcgrpc.MethodRestartTask, req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *debuggerClient) SetDisposition(ctx context.Context, index uint16, hold bool) error {
	req := &ipcgrpc.DispositionRequest{Index: index, HoldFault: hold}
	return c.conn.Invoke(ctx, ipcgrpc.MethodSetDisposition, req, new(ipcgrpc.Empty))
}
