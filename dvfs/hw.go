package dvfs

import "io"

// Clock is an exclusively owned clock handle. Rates are in kHz.
type Clock interface {
	SetRate(freq uint32) error
	// Rate returns the rate the hardware reports, or 0 if it can't be read.
	Rate() uint32
	Close() error
}

// Clocks hands out clock handles by name.
type Clocks interface {
	Clock(name string) (Clock, error)
}

// Dumper is implemented by clocks that can describe their hardware state.
// Dump must not change any clock or voltage.
type Dumper interface {
	Dump(w io.Writer) error
}

// Reference supplies the hardware's calibrated (ASV) rate/voltage table and
// the hardware frequency limits.
type Reference interface {
	ASVTable() ([]OperatingPoint, error)
	MinFreq() (uint32, error)
	MaxFreq() (uint32, error)
}

// Regulator sets the domain's supply voltage in uV.
type Regulator interface {
	SetVoltage(volt uint32) error
}

// Notifier is told about every completed frequency change. It can't fail
// a transition, so it doesn't return an error.
type Notifier interface {
	Notify(freq uint32)
}

// VoltageReader is implemented by regulators that can read their rail back.
type VoltageReader interface {
	Voltage() (uint32, error)
}

type noNotifier struct{}

func (noNotifier) Notify(uint32) {}

// Device is what a governing front end drives. Controller is the only
// implementation.
type Device interface {
	Target(freq uint32) error
	CurrentFrequency() (uint32, error)
	ApplyRebootCeiling() error
	Dump(w io.Writer) error
}
