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

import "fmt"

// FaultSource classifies why a task was moved to StateFaulted, mirroring
// the closed taxonomy of spec §7.
type FaultSource int

const (
	FaultUsageError FaultSource = iota
	FaultMemoryAccess
	FaultExecution
	FaultLogical
)

func (f FaultSource) String() string {
	switch f {
	case FaultUsageError:
		return "UsageError"
	case FaultMemoryAccess:
		return "MemoryAccess"
	case FaultExecution:
		return "Execution"
	case FaultLogical:
		return "Logical"
	default:
		return "Unknown"
	}
}

// UsageError enumerates the closed set of programmer mistakes that are
// always fatal to the offending task (spec §7 "Usage errors").
type UsageError int

const (
	UsageBadSyscallNumber UsageError = iota
	UsageBadSlice
	UsageBadTaskID
	UsageForbiddenOperation
	UsageBadLeaseIndex
	UsageBadLeaseOffset
	UsageNoSuchIRQ
	UsageBadKernelMessage
	UsageBadReplyFaultReason
	UsageNotSupervisor
)

func (u UsageError) String() string {
	names := [...]string{
		"BadSyscallNumber", "BadSlice", "BadTaskID", "ForbiddenOperation",
		"BadLeaseIndex", "BadLeaseOffset", "NoSuchIRQ", "BadKernelMessage",
		"BadReplyFaultReason", "NotSupervisor",
	}
	if int(u) < len(names) {
		return names[u]
	}
	return "UnknownUsageError"
}

// ExecutionFault enumerates the closed set of CPU-detected execution
// faults (spec §7 "Execution faults").
type ExecutionFault int

const (
	ExecStackOverflow ExecutionFault = iota
	ExecBusError
	ExecDivideByZero
	ExecIllegalInstruction
	ExecNonExecutableFetch
	ExecOther
)

func (e ExecutionFault) String() string {
	names := [...]string{
		"StackOverflow", "BusError", "DivideByZero", "IllegalInstruction",
		"NonExecutableFetch", "Other",
	}
	if int(e) < len(names) {
		return names[e]
	}
	return "UnknownExecutionFault"
}

// ReplyFaultReason is the closed set of server-chosen reasons passed to
// REPLY_FAULT (spec §7 "Logical faults", §4.D syscall 12).
type ReplyFaultReason int

const (
	ReplyUndefinedOperation ReplyFaultReason = iota
	ReplyBadMessageSize
	ReplyBadMessageContents
	ReplyBadLeases
	ReplyBufferTooSmall
	ReplyAccessViolation
)

func (r ReplyFaultReason) String() string {
	names := [...]string{
		"UndefinedOperation", "BadMessageSize", "BadMessageContents",
		"BadLeases", "ReplyBufferTooSmall", "AccessViolation",
	}
	if int(r) < len(names) {
		return names[r]
	}
	return "UnknownReplyFaultReason"
}

// LogicalFaultKind distinguishes the ways a logical fault can arise.
type LogicalFaultKind int

const (
	LogicalPanic LogicalFaultKind = iota
	LogicalInjected
	LogicalFromServer
)

// FaultInfo records everything the kernel knows about a fault at the
// moment it occurred (spec §4.D "Faults").
type FaultInfo struct {
	Source    FaultSource
	Usage     UsageError
	Exec      ExecutionFault
	Logical   LogicalFaultKind
	Reason    ReplyFaultReason
	InjectedBy TaskID
	Address   *uint32 // nil when the faulting address is unknown
}

func (f FaultInfo) String() string {
	switch f.Source {
	case FaultUsageError:
		return fmt.Sprintf("usage error: %s", f.Usage)
	case FaultMemoryAccess:
		if f.Address != nil {
			return fmt.Sprintf("memory access fault at 0x%08x", *f.Address)
		}
		return "memory access fault (address unknown)"
	case FaultExecution:
		return fmt.Sprintf("execution fault: %s", f.Exec)
	case FaultLogical:
		switch f.Logical {
		case LogicalPanic:
			return "panic"
		case LogicalInjected:
			return fmt.Sprintf("injected by %s", f.InjectedBy)
		case LogicalFromServer:
			return fmt.Sprintf("server fault: %s", f.Reason)
		}
	}
	return "unknown fault"
}

// TransportError is the closed set of driver-level transport faults
// (spec §7 "Transport errors"). These are returned by driver code, not
// raised as kernel faults.
type TransportError string

const (
	ErrI2CNack           TransportError = "i2c nack"
	ErrI2CTimeout        TransportError = "i2c timeout"
	ErrSPITaskRestarted  TransportError = "spi owning task restarted"
	ErrFRAMSPIError      TransportError = "fram spi error"
	ErrFlashProtection   TransportError = "flash protection violation"
)

func (e TransportError) Error() string { return string(e) }

// LeaseError is the closed set of lease-validation failures (spec §4.D
// "Lease access").
type LeaseError string

const (
	LeaseErrBadIndex  LeaseError = "bad lease index"
	LeaseErrWentAway  LeaseError = "lease peer went away"
	LeaseErrBadOffset LeaseError = "bad lease offset"
	LeaseErrReadOnly  LeaseError = "lease is read-only"
)

func (e LeaseError) Error() string { return string(e) }
