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

import "encoding/json"

// jsonCodec lets this package's plain Go request/response structs ride
// over grpc.Server/grpc.ClientConn without protoc-generated
// proto.Message implementations — there's no .proto source in this
// repo to generate from, and SPEC_FULL.md's debugger control plane is
// small enough that hand-marshaled JSON is a reasonable substitute for
// what a real protobuf toolchain would produce.
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v interface{}) error { return json.Unmarshal(data, v) }
func (jsonCodec) String() string                             { return "json" }
