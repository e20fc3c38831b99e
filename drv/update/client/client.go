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

// Package client implements the client-side counterpart to the
// drv/update ingestion state machine, the pattern SPEC_FULL.md's
// supplemented-features section grounds on drv/psc-psu-update/src/main.rs:
// periodic revision polling with exponential backoff on failure,
// serial-number-based replacement detection that resets the backoff,
// and a post-update power-good recheck loop.
package client

import "github.com/oxidecomputer/taskkernel/domain"

// InitialBackoff and MaxBackoff are the polling backoff bounds from the
// original PSU update client.
const (
	InitialBackoff domain.Ticks = 75_000
	MaxBackoff     domain.Ticks = 86_400_000
)

// Device is the firmware-update target a Client polls.
type Device interface {
	ReadRevision() (revision uint32, serial string, err error)
	ReadPowerGood() (bool, error)
}

// Client tracks one device's polling cadence and last-known identity.
type Client struct {
	device Device

	backoff      domain.Ticks
	knownSerial  string
	lastRevision uint32
	seenOnce     bool
}

// New builds a Client starting at InitialBackoff.
func New(device Device) *Client {
	return &Client{device: device, backoff: InitialBackoff}
}

// NextInterval is how long the caller should wait before the next Poll.
func (c *Client) NextInterval() domain.Ticks { return c.backoff }

// LastRevision is the most recently observed firmware revision.
func (c *Client) LastRevision() uint32 { return c.lastRevision }

// Poll reads the device's revision and serial number. A read failure
// doubles the backoff, capped at MaxBackoff, and is returned to the
// caller. A serial number change from the last successful poll is
// treated as a device replacement and resets the backoff to
// InitialBackoff, same as a successful poll under steady state.
func (c *Client) Poll() (replaced bool, err error) {
	rev, serial, err := c.device.ReadRevision()
	if err != nil {
		c.backoff = nextBackoff(c.backoff)
		return false, err
	}

	replaced = c.seenOnce && serial != c.knownSerial
	c.knownSerial = serial
	c.lastRevision = rev
	c.seenOnce = true
	c.backoff = InitialBackoff
	return replaced, nil
}

func nextBackoff(cur domain.Ticks) domain.Ticks {
	next := cur * 2
	if next > MaxBackoff || next < cur {
		return MaxBackoff
	}
	return next
}

// AwaitPowerGood polls ReadPowerGood up to maxAttempts times (the
// caller is expected to sleep domain.Ticks between calls via whatever
// timer facility it has), returning once power-good is observed or
// reporting the last error/false result once attempts are exhausted.
func (c *Client) AwaitPowerGood(maxAttempts int) (bool, error) {
	var last error
	for i := 0; i < maxAttempts; i++ {
		good, err := c.device.ReadPowerGood()
		if err != nil {
			last = err
			continue
		}
		if good {
			return true, nil
		}
	}
	return false, last
}
