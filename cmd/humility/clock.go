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
	"time"

	"golang.org/x/sys/unix"
)

// monotonicTime is a CLOCK_MONOTONIC sample, in nanoseconds since an
// unspecified epoch. It is only ever compared against other samples
// from the same process, never serialized.
type monotonicTime int64

// Sub returns the elapsed time between two monotonicTime samples.
func (t monotonicTime) Sub(u monotonicTime) time.Duration {
	return time.Duration(t - u)
}

// monotonicNow samples CLOCK_MONOTONIC directly through the unix
// syscall rather than time.Now(), so tickForever's tick advances track
// actual elapsed wall time the way the target's timer hardware would,
// independent of wall-clock adjustments.
func monotonicNow() (monotonicTime, error) {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		return 0, err
	}
	return monotonicTime(ts.Nano()), nil
}
