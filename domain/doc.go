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

// Package domain collects the interfaces and value types shared by the
// kernel, the supervisor, the server harness and the drivers. Concrete
// implementations live in kernel/, supervisor/, server/ and drv/; domain
// exists so those packages can depend on each other's contracts without
// importing each other's implementations, the same separation sysbox-fs
// draws between its domain package and state/handler/ipc.
package domain
