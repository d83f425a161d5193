// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fwimg

import (
	"fmt"

	"github.com/linuxboot/sbsfu/pkg/bytes"
	"github.com/linuxboot/sbsfu/pkg/flash"
	"github.com/linuxboot/sbsfu/pkg/log"
)

// State is the life cycle state of a firmware image.
//
// It is persisted as three sub-regions, each either erased (bit set) or
// cleared (bit unset). Sub-region i holds bit i:
//
//	New      111
//	SelfTest 011
//	Valid    001
//	Invalid  000
//
// Every legal transition only clears bits.
type State uint8

// Firmware states. StateUnknown covers every other bit combination.
const (
	StateUnknown State = iota
	StateNew
	StateSelfTest
	StateValid
	StateInvalid
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "New"
	case StateSelfTest:
		return "SelfTest"
	case StateValid:
		return "Valid"
	case StateInvalid:
		return "Invalid"
	}
	return "Unknown"
}

var stateBits = map[State]uint8{
	StateNew:      0b111,
	StateSelfTest: 0b011,
	StateValid:    0b001,
	StateInvalid:  0b000,
}

// transitionSteps lists the sub-regions each permitted transition clears, in
// order. Clearing sub-region 0 first on SelfTest->Invalid guarantees an
// interrupted invalidation never reads back as Valid.
var transitionSteps = map[[2]State][]int{
	{StateNew, StateSelfTest}:     {2},
	{StateSelfTest, StateInvalid}: {0, 1},
	{StateSelfTest, StateValid}:   {1},
	{StateValid, StateInvalid}:    {0},
}

// DecodeState classifies the StateSize bytes of regions. A sub-region which
// is neither erased nor cleared yields StateUnknown and ErrStateCorrupt.
func DecodeState(regions []byte) (State, error) {
	if len(regions) != StateSize {
		return StateUnknown, fmt.Errorf("firmware state needs %d bytes, got %d", StateSize, len(regions))
	}
	var bits uint8
	for i := 0; i < StateRegions; i++ {
		sub := regions[i*StateRegionSize : (i+1)*StateRegionSize]
		switch {
		case bytes.IsErased(sub):
			bits |= 1 << i
		case bytes.IsZeroFilled(sub):
		default:
			return StateUnknown, fmt.Errorf("%w: sub-region %d", ErrStateCorrupt, i)
		}
	}
	for s, b := range stateBits {
		if b == bits {
			return s, nil
		}
	}
	return StateUnknown, nil
}

// EncodeState returns the persisted form of s.
func EncodeState(s State) ([]byte, error) {
	bits, ok := stateBits[s]
	if !ok {
		return nil, fmt.Errorf("state %s has no encoding", s)
	}
	out := make([]byte, StateSize)
	for i := 0; i < StateRegions; i++ {
		if bits&(1<<i) == 0 {
			continue
		}
		for j := i * StateRegionSize; j < (i+1)*StateRegionSize; j++ {
			out[j] = flash.ErasedValue
		}
	}
	return out, nil
}

// StateCodec reads and writes the state sub-regions of a slot.
type StateCodec struct {
	slot flash.Access
	log  log.Logger
}

// NewStateCodec returns a codec for the image stored at the beginning of
// slot.
func NewStateCodec(dev flash.Device, slot flash.Region, logger log.Logger) *StateCodec {
	if logger == nil {
		logger = log.DefaultLogger
	}
	return &StateCodec{slot: flash.NewAccess(dev, slot), log: logger}
}

// ReadState performs a single read of the state.
func (c *StateCodec) ReadState() (State, error) {
	buf, err := readBytes(c.slot, HeaderSize, StateSize)
	if err != nil {
		return StateUnknown, err
	}
	return DecodeState(buf)
}

type stateRead struct {
	state   State
	corrupt bool
}

// ReadStateGlitchResistant reads the state three times and only returns it
// if all reads agree. It must precede every state transition decision.
func (c *StateCodec) ReadStateGlitchResistant() (State, error) {
	var reads [3]stateRead
	var corruptErr error
	for i := range reads {
		s, err := c.ReadState()
		if err != nil {
			if _, ok := err.(*FlashIOError); ok {
				return StateUnknown, err
			}
			corruptErr = err
			reads[i].corrupt = true
		}
		reads[i].state = s
	}
	if reads[0] != reads[1] || reads[1] != reads[2] {
		c.log.Errorf("firmware state reads disagree: %s/%s/%s", reads[0].state, reads[1].state, reads[2].state)
		return StateUnknown, fmt.Errorf("%w: reads %s, %s, %s", ErrGlitchDetected, reads[0].state, reads[1].state, reads[2].state)
	}
	if reads[0].corrupt {
		return StateUnknown, corruptErr
	}
	return reads[0].state, nil
}

// WriteTransition moves the persisted state from "from" to "to". Pairs
// which are not permitted are rejected before touching the flash. If the
// state already is "to" nothing is written.
func (c *StateCodec) WriteTransition(from, to State) error {
	steps, ok := transitionSteps[[2]State{from, to}]
	if !ok {
		return &InvalidTransitionError{From: from, To: to, Current: from}
	}
	cur, err := c.ReadStateGlitchResistant()
	if err != nil {
		return err
	}
	if cur == to {
		c.log.Debugf("firmware state already is %s", to)
		return nil
	}
	if cur != from {
		return &InvalidTransitionError{From: from, To: to, Current: cur}
	}
	cleared := make([]byte, StateRegionSize)
	for _, idx := range steps {
		if err := writeAt(c.slot, HeaderSize+uint32(idx)*StateRegionSize, cleared); err != nil {
			return err
		}
	}
	c.log.Infof("firmware state switched from %s to %s", from, to)
	return nil
}
