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

package syscall

import "github.com/oxidecomputer/taskkernel/domain"

// leaseHandle is the domain.LeaseIface a handler receives via
// domain.Request.Leases — the same accessor surface the server harness
// documents in spec §4.F ("info()", "read_at", "write_at"), backed here
// directly by the envelope's LeaseBacking rather than by a syscall
// round-trip, since this package already holds the bytes in-process.
type leaseHandle struct {
	backing domain.LeaseBacking
}

func leaseAccessors(k *Kernel, env *envelope) []domain.LeaseIface {
	out := make([]domain.LeaseIface, len(env.leases))
	for i, l := range env.leases {
		out[i] = &leaseHandle{backing: l}
	}
	return out
}

func (l *leaseHandle) Info() (domain.Lease, error) {
	return l.backing.Lease, nil
}

func (l *leaseHandle) ReadAt(offset uint32, buf []byte) (int, error) {
	if l.backing.Attr&domain.LeaseRead == 0 {
		return 0, domain.LeaseErrReadOnly
	}
	if uint64(offset)+uint64(len(buf)) > uint64(l.backing.Len) {
		return 0, domain.LeaseErrBadOffset
	}
	return copy(buf, l.backing.Data[offset:]), nil
}

func (l *leaseHandle) WriteAt(offset uint32, buf []byte) (int, error) {
	if l.backing.Attr&domain.LeaseWrite == 0 {
		return 0, domain.LeaseErrReadOnly
	}
	if uint64(offset)+uint64(len(buf)) > uint64(l.backing.Len) {
		return 0, domain.LeaseErrBadOffset
	}
	return copy(l.backing.Data[offset:], buf), nil
}
