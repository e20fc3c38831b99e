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

package supervisor

import "fmt"

// ResetReason classifies why the system last came up, reported to
// whoever asks over GetResetReason (spec §12 supplement — the
// distilled spec mentions request_reset but not the reason taxonomy
// the original tracks across resets via the supervisor's own state).
type ResetReason int

const (
	ResetUnknown ResetReason = iota
	ResetPowerOn
	ResetPin
	ResetSystemCall
	ResetBrownout
	ResetSystemWatchdog
	ResetIndependentWatchdog
	ResetLowPowerSecurity
	ResetExitStandby
	ResetOther
)

func (r ResetReason) String() string {
	switch r {
	case ResetPowerOn:
		return "power-on"
	case ResetPin:
		return "pin"
	case ResetSystemCall:
		return "system-call"
	case ResetBrownout:
		return "brownout"
	case ResetSystemWatchdog:
		return "system-watchdog"
	case ResetIndependentWatchdog:
		return "independent-watchdog"
	case ResetLowPowerSecurity:
		return "low-power-security"
	case ResetExitStandby:
		return "exit-standby"
	case ResetOther:
		return "other"
	default:
		return fmt.Sprintf("unknown(%d)", int(r))
	}
}

// DecodeResetFlags maps a raw reset-cause register value to a
// ResetReason by exact lookup of bits in table: zero is ResetUnknown,
// and a value with no entry in table is ResetOther. Bits are not
// decoded individually or in any priority order.
func DecodeResetFlags(bits uint32, table map[uint32]ResetReason) ResetReason {
	if bits == 0 {
		return ResetUnknown
	}
	if reason, ok := table[bits]; ok {
		return reason
	}
	return ResetOther
}
