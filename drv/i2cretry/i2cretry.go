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

// Package i2cretry wraps a device transaction closure with the bounded,
// unconditional retry policy every I2C-backed driver in this repo wants
// (spec §4.G): up to N attempts, each failure traced to a ring buffer
// keyed by device tag, no backoff. It is grounded on kernel/ringbuf's
// Counters/Ringbuf generics, the same way drivers in the original
// firmware built their own retry loop directly on top of
// ringbuf!/counted-ringbuf! rather than pulling in a general-purpose
// retry library.
package i2cretry

import "github.com/oxidecomputer/taskkernel/kernel/ringbuf"

// Attempts is the number of times an operation is tried before its
// error is propagated (spec §4.G: "N=3, empirically chosen").
const Attempts = 3

// Tag identifies the device an op is retried against, for the trace
// ring buffer. It is typically a short device/rail name.
type Tag string

// Failure is one retry-exhausting or transient attempt failure,
// recorded regardless of whether the overall retry ultimately
// succeeds.
type Failure struct {
	Device  Tag
	Attempt int
	Err     string
}

// Retrier runs device operations under the retry policy, logging every
// failed attempt (not just the final one) to a bounded trace buffer.
type Retrier struct {
	trace *ringbuf.Ringbuf[Failure]
}

// New builds a Retrier with a trace buffer sized to hold depth entries.
func New(depth int) *Retrier {
	return &Retrier{trace: ringbuf.New[Failure](depth)}
}

// Trace returns the underlying failure trace, e.g. for a Humility-style
// inspector to dump.
func (r *Retrier) Trace() *ringbuf.Ringbuf[Failure] {
	return r.trace
}

// Retry runs op up to Attempts times. Every failure, including ones
// that are eventually retried away, is pushed to the trace ring buffer
// tagged with tag. Retries are unconditional: any error kind triggers
// another attempt, and there is no delay between attempts since the
// transactions this wraps are short bus operations and the goal is only
// to absorb transient glitches, not to wait out a sustained outage.
func Retry(r *Retrier, tag Tag, op func() error) error {
	var last error
	for attempt := 1; attempt <= Attempts; attempt++ {
		last = op()
		if last == nil {
			return nil
		}
		if r != nil {
			r.trace.Insert(uint16(attempt), Failure{
				Device:  tag,
				Attempt: attempt,
				Err:     last.Error(),
			})
		}
	}
	return last
}

// RetryValue is Retry for operations that also produce a value, for
// callers like PMBus register reads that want both the retried read and
// its result in one call.
func RetryValue[T any](r *Retrier, tag Tag, op func() (T, error)) (T, error) {
	var zero T
	var last error
	for attempt := 1; attempt <= Attempts; attempt++ {
		v, err := op()
		if err == nil {
			return v, nil
		}
		last = err
		if r != nil {
			r.trace.Insert(uint16(attempt), Failure{
				Device:  tag,
				Attempt: attempt,
				Err:     last.Error(),
			})
		}
	}
	return zero, last
}
