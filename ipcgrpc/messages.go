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

package ipcgrpc

// Request/response payloads for the external debugger control plane
// (spec §11 domain stack: "supervisor's external debugger control-plane
// via hand-authored ServiceDesc"). A real Humility-facing wire format
// would be protobuf; these are the plain Go structs jsonCodec carries
// over the grpc transport instead.

type TaskStatusRequest struct {
	Index uint16
}

type TaskStatusResponse struct {
	State       string
	FaultSource string
	FaultReason string
}

type RestartRequest struct {
	Index       uint16
	StartAtBoot bool
}

type RestartResponse struct {
	Generation uint8
}

type DispositionRequest struct {
	Index     uint16
	HoldFault bool
}

type Empty struct{}
