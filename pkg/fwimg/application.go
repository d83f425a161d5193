// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fwimg

// The bootloader and the application may each only perform a subset of
// the state transitions. Both always decide on a redundant read.

var bootloaderTransitions = map[[2]State]bool{
	{StateNew, StateSelfTest}:     true,
	{StateSelfTest, StateInvalid}: true,
	{StateValid, StateInvalid}:    true,
}

var applicationTransitions = map[[2]State]bool{
	{StateSelfTest, StateValid}:   true,
	{StateSelfTest, StateInvalid}: true,
}

func (m *Manager) setState(allowed map[[2]State]bool, to State) error {
	cur, err := m.state.ReadStateGlitchResistant()
	if err != nil {
		return err
	}
	if cur == to {
		return nil
	}
	if !allowed[[2]State{cur, to}] {
		return &InvalidTransitionError{From: cur, To: to, Current: cur}
	}
	return m.state.WriteTransition(cur, to)
}

// SetBootloaderState moves the active image to the given state, as the
// bootloader is permitted to do.
func (m *Manager) SetBootloaderState(to State) error {
	return m.setState(bootloaderTransitions, to)
}

// SetApplicationState moves the active image to the given state, as the
// running application is permitted to do after its self-test.
func (m *Manager) SetApplicationState(to State) error {
	return m.setState(applicationTransitions, to)
}

// ConfirmSelfTest records the verdict of the application self-test.
func (m *Manager) ConfirmSelfTest(passed bool) error {
	if passed {
		return m.SetApplicationState(StateValid)
	}
	return m.SetApplicationState(StateInvalid)
}

// ActiveState returns the state of the active image.
func (m *Manager) ActiveState() (State, error) {
	return m.state.ReadStateGlitchResistant()
}
