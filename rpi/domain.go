package rpi

import (
	"fmt"
	"io"
	"sync"

	"github.com/Jon-Bright/mifctl/dvfs"
	"github.com/platinasystems/log"
)

// Clocks hands out firmware clocks under the names a dvfs.Platform uses.
// Rates cross the mailbox in Hz and the dvfs side in kHz.
type Clocks struct {
	rp   *RPi
	mu   sync.Mutex
	ids  map[string]uint32
	held map[string]bool
	// regs is the clock whose dump also shows the clock manager.
	regs string
}

// Clocks maps main and switch clock names to firmware clock ids.
func (rp *RPi) Clocks(main string, mainID uint32, sw string, swID uint32) *Clocks {
	return &Clocks{
		rp:   rp,
		ids:  map[string]uint32{main: mainID, sw: swID},
		held: make(map[string]bool),
		regs: main,
	}
}

func (cs *Clocks) Clock(name string) (dvfs.Clock, error) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	id, ok := cs.ids[name]
	if !ok {
		return nil, fmt.Errorf("no firmware clock for %s", name)
	}
	if cs.held[name] {
		return nil, fmt.Errorf("clock %s already held", name)
	}
	hz, err := cs.rp.ClockRate(id)
	if err != nil {
		return nil, fmt.Errorf("couldn't get rate of clock %d: %v", id, err)
	}
	if hz == 0 {
		return nil, fmt.Errorf("firmware has no clock %d", id)
	}
	cs.held[name] = true
	log.Printf("info", "%s: firmware clock %d at %dHz", name, id, hz)
	return &clock{cs: cs, name: name, id: id}, nil
}

type clock struct {
	cs   *Clocks
	name string
	id   uint32
}

func (c *clock) SetRate(freq uint32) error {
	got, err := c.cs.rp.SetClockRate(c.id, freq*1000)
	if err != nil {
		return err
	}
	if got/1000 != freq {
		log.Printf("warn", "%s: asked for %dkHz, firmware set %dHz", c.name, freq, got)
	}
	return nil
}

func (c *clock) Rate() uint32 {
	hz, err := c.cs.rp.ClockRate(c.id)
	if err != nil {
		log.Printf("err", "%s: couldn't get rate: %v", c.name, err)
		return 0
	}
	return hz / 1000
}

func (c *clock) Close() error {
	c.cs.mu.Lock()
	defer c.cs.mu.Unlock()
	if !c.cs.held[c.name] {
		return fmt.Errorf("clock %s not held", c.name)
	}
	c.cs.held[c.name] = false
	return nil
}

func (c *clock) Dump(w io.Writer) error {
	rp := c.cs.rp
	hz, err := rp.ClockRate(c.id)
	if err != nil {
		return fmt.Errorf("couldn't get rate of clock %d: %v", c.id, err)
	}
	min, err := rp.MinClockRate(c.id)
	if err != nil {
		return fmt.Errorf("couldn't get min rate of clock %d: %v", c.id, err)
	}
	max, err := rp.MaxClockRate(c.id)
	if err != nil {
		return fmt.Errorf("couldn't get max rate of clock %d: %v", c.id, err)
	}
	_, err = fmt.Fprintf(w, "firmware clock %d (%s): %dHz, min %dHz, max %dHz\n", c.id, c.name, hz, min, max)
	if err != nil {
		return err
	}
	if c.name == c.cs.regs {
		return rp.DumpClockManager(w)
	}
	return nil
}

// Regulator drives one firmware voltage rail.
type Regulator struct {
	rp *RPi
	id uint32
}

func (rp *RPi) Regulator(id uint32) *Regulator {
	return &Regulator{rp: rp, id: id}
}

func (r *Regulator) SetVoltage(volt uint32) error {
	got, err := r.rp.SetVoltage(r.id, volt)
	if err != nil {
		return err
	}
	if got < volt {
		return fmt.Errorf("rail %d at %duV, below %duV", r.id, got, volt)
	}
	return nil
}

// Voltage reads the rail back from the firmware.
func (r *Regulator) Voltage() (uint32, error) {
	return r.rp.Voltage(r.id)
}

// Reference reports the firmware's limits for a clock. The firmware has no
// calibration data, so the rate/voltage table is supplied by the caller.
type Reference struct {
	rp     *RPi
	id     uint32
	points []dvfs.OperatingPoint
}

func (rp *RPi) Reference(id uint32, points []dvfs.OperatingPoint) *Reference {
	return &Reference{rp: rp, id: id, points: points}
}

func (r *Reference) ASVTable() ([]dvfs.OperatingPoint, error) {
	return append([]dvfs.OperatingPoint{}, r.points...), nil
}

func (r *Reference) MinFreq() (uint32, error) {
	hz, err := r.rp.MinClockRate(r.id)
	return hz / 1000, err
}

func (r *Reference) MaxFreq() (uint32, error) {
	hz, err := r.rp.MaxClockRate(r.id)
	return hz / 1000, err
}
