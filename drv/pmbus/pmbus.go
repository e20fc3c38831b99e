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

// Package pmbus implements the alert handler described in spec §4.H:
// on a rising-edge alert, read STATUS_WORD and the six per-class status
// registers for a rail, emit one event record, and if the alert
// indicates an input fault, sample READ_VIN 25 times before clearing
// faults. It is grounded on the original firmware's board-family alert
// handlers (two near-duplicate copies, one per board family); per
// DESIGN.md's Open Question resolution, this package unifies them
// behind one RailPolicy interface rather than porting the duplication.
package pmbus

import (
	"math"

	"github.com/oxidecomputer/taskkernel/domain"
	"github.com/oxidecomputer/taskkernel/drv/i2cretry"
	"github.com/oxidecomputer/taskkernel/kernel/ringbuf"
)

// Register is a PMBus command code.
type Register uint8

const (
	RegStatusWord        Register = 0x79
	RegStatusVout        Register = 0x7A
	RegStatusIout        Register = 0x7B
	RegStatusInput       Register = 0x7C
	RegStatusTemperature Register = 0x7D
	RegStatusCML         Register = 0x7E
	RegStatusMfrSpecific Register = 0x80
	RegReadVin           Register = 0x88
	RegClearFaults       Register = 0x03
)

// NSamples is the number of READ_VIN samples taken per rail once an
// input fault is observed (spec §4.H step 4, scenario F).
const NSamples = 25

// StatusTuple is the six per-class status registers read on every
// alert (spec §4.H step 2), in the fixed order
// {Input, Vout, Iout, Temperature, CML, MfrSpecific}.
type StatusTuple [6]uint16

// RailPolicy supplies the per-board-family knowledge the handler needs:
// which rails exist and which STATUS_WORD bits mean "any fault" and
// "power good". Implementing this per family is what replaces the
// original's two separate copies of the alert-handling loop.
type RailPolicy interface {
	Rails() []string
	FaultMask() uint16
	InputFaultBit() uint16
	PowerGoodBit() uint16
}

// Device is the transport a Handler reads/writes PMBus registers over.
type Device interface {
	ReadWord(rail string, reg Register) (uint16, error)
	ReadVin(rail string) (float32, error)
	Write(rail string, reg Register, data ...byte) error
}

// EventRecord is the event emitted on every alert (spec §4.H step 3).
type EventRecord struct {
	Class    string
	Version  uint32
	DeviceID string
	Rail     string
	Time     domain.Ticks
	PowerGood *bool
	Status   StatusTuple
}

// EventSink receives emitted event records.
type EventSink interface {
	Emit(EventRecord)
}

const eventVersion = 1

// VinSample is one READ_VIN reading taken during input-fault sampling.
// Value is math.NaN() when the underlying I2C read failed.
type VinSample struct {
	Time  domain.Ticks
	Value float32
}

// RailState is the last-known power-good/fault status for a rail,
// exposed to higher-level sequencing logic (spec §4.H "State"). It is
// not persisted across reboot.
type RailState struct {
	PowerGood bool
	Faulted   bool
}

// Handler runs the alert-handling protocol for one device's rails.
type Handler struct {
	deviceID string
	policy   RailPolicy
	dev      Device
	sink     EventSink
	retrier  *i2cretry.Retrier
	now      func() domain.Ticks

	state   map[string]RailState
	samples map[string]*ringbuf.Ringbuf[VinSample]
}

// New builds a Handler. now supplies the monotonic tick for event
// timestamps and Vin sample timestamps (typically domain.SyscallIface's
// GetTimer, injected so tests can use a fake clock).
func New(deviceID string, policy RailPolicy, dev Device, sink EventSink, retrier *i2cretry.Retrier, now func() domain.Ticks) *Handler {
	h := &Handler{
		deviceID: deviceID,
		policy:   policy,
		dev:      dev,
		sink:     sink,
		retrier:  retrier,
		now:      now,
		state:    make(map[string]RailState),
		samples:  make(map[string]*ringbuf.Ringbuf[VinSample]),
	}
	for _, rail := range policy.Rails() {
		h.samples[rail] = ringbuf.New[VinSample](NSamples)
	}
	return h
}

// RailState returns the last-observed power-good/fault state for rail.
func (h *Handler) RailState(rail string) RailState {
	return h.state[rail]
}

// VinSamples returns the Vin sample trace collected for rail during its
// most recent input-fault handling.
func (h *Handler) VinSamples(rail string) *ringbuf.Ringbuf[VinSample] {
	return h.samples[rail]
}

// HandleAlert runs the full per-rail alert protocol for every rail the
// policy names (spec §4.H steps 1-5).
func (h *Handler) HandleAlert() error {
	for _, rail := range h.policy.Rails() {
		if err := h.handleRail(rail); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) handleRail(rail string) error {
	status, err := i2cretry.RetryValue(h.retrier, i2cretry.Tag(rail), func() (uint16, error) {
		return h.dev.ReadWord(rail, RegStatusWord)
	})
	if err != nil {
		return err
	}

	faulted := status&h.policy.FaultMask() != 0
	inputFault := status&h.policy.InputFaultBit() != 0

	tuple, err := h.readStatusTuple(rail)
	if err != nil {
		return err
	}
	if tuple[0] != 0 {
		inputFault = true
		faulted = true
	}

	var pwrGood *bool
	if status&h.policy.PowerGoodBit() != 0 {
		v := true
		pwrGood = &v
	} else if status != 0 {
		v := false
		pwrGood = &v
	}

	h.state[rail] = RailState{PowerGood: pwrGood != nil && *pwrGood, Faulted: faulted}

	h.emit(rail, pwrGood, tuple)

	if inputFault {
		h.sampleVin(rail)
	}

	// CLEAR_FAULTS is issued unconditionally, once per rail per alert,
	// regardless of which (if any) fault-mask bits were set: clearing
	// it is what lets PMALERT_L reassert on a subsequent fault (spec
	// §4.H step 5; original_source/drv/gimlet-seq-server/src/vcore.rs's
	// clear_faults() call is likewise unconditioned on any status bit).
	return i2cretry.Retry(h.retrier, i2cretry.Tag(rail), func() error {
		return h.dev.Write(rail, RegClearFaults)
	})
}

// readStatusTuple reads the six per-class status registers, in order
// (spec §4.H step 2).
func (h *Handler) readStatusTuple(rail string) (StatusTuple, error) {
	regs := [6]Register{RegStatusInput, RegStatusVout, RegStatusIout, RegStatusTemperature, RegStatusCML, RegStatusMfrSpecific}
	var tuple StatusTuple
	for i, reg := range regs {
		v, err := i2cretry.RetryValue(h.retrier, i2cretry.Tag(rail), func() (uint16, error) {
			return h.dev.ReadWord(rail, reg)
		})
		if err != nil {
			return StatusTuple{}, err
		}
		tuple[i] = v
	}
	return tuple, nil
}

// emit builds and hands off an event record. Per spec §4.H step 3 the
// serialization buffer is meant to be stack-local to this helper so its
// size does not inflate the caller's frame; in Go that simply means the
// EventRecord value here is never heap-escaped into a shared buffer.
func (h *Handler) emit(rail string, pwrGood *bool, tuple StatusTuple) {
	if h.sink == nil {
		return
	}
	h.sink.Emit(EventRecord{
		Class:     "pmbus.alert",
		Version:   eventVersion,
		DeviceID:  h.deviceID,
		Rail:      rail,
		Time:      h.now(),
		PowerGood: pwrGood,
		Status:    tuple,
	})
}

// sampleVin takes NSamples READ_VIN readings for rail, recording NaN
// (and continuing without retry — the next sample is the retry) on
// I2C failure (spec §4.H step 4).
func (h *Handler) sampleVin(rail string) {
	buf := h.samples[rail]
	if buf == nil {
		buf = ringbuf.New[VinSample](NSamples)
		h.samples[rail] = buf
	}
	for i := 0; i < NSamples; i++ {
		v, err := h.dev.ReadVin(rail)
		if err != nil {
			v = float32(math.NaN())
		}
		buf.Insert(uint16(i), VinSample{Time: h.now(), Value: v})
	}
}
