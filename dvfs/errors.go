package dvfs

import (
	"errors"
	"fmt"
)

var (
	// ErrTableMismatch means the hardware reference table doesn't line up
	// with the platform's candidate frequencies.
	ErrTableMismatch = errors.New("reference table mismatch")
	// ErrHardwareQuery means the hardware returned no usable reference data.
	ErrHardwareQuery = errors.New("hardware query failed")
	// ErrNoSwitchVoltage means no table entry can supply the switch voltage.
	ErrNoSwitchVoltage = errors.New("no switch voltage")
	// ErrNoSuchOperatingPoint means a frequency has no usable table entry.
	ErrNoSuchOperatingPoint = errors.New("no such operating point")
	// ErrFrequencyRead means the main clock reported a zero rate.
	ErrFrequencyRead = errors.New("frequency read failed")
	// ErrClosedLoop means the closed-loop coordinator refused a start or stop.
	ErrClosedLoop = errors.New("closed loop failed")
)

// ClockSetError is returned when a clock handle refuses a rate.
type ClockSetError struct {
	Clock string
	Freq  uint32
	Err   error
}

func (e *ClockSetError) Error() string {
	return fmt.Sprintf("couldn't set %s to %dkHz: %v", e.Clock, e.Freq, e.Err)
}

func (e *ClockSetError) Unwrap() error { return e.Err }

// VoltageSetError is returned when the regulator refuses a voltage. Freq is
// the target frequency of the transition that needed it.
type VoltageSetError struct {
	Freq uint32
	Volt uint32
	Err  error
}

func (e *VoltageSetError) Error() string {
	return fmt.Sprintf("couldn't set %duV for %dkHz: %v", e.Volt, e.Freq, e.Err)
}

func (e *VoltageSetError) Unwrap() error { return e.Err }
