// Package sim is stand-in hardware for a DVFS domain. It keeps the clock
// rates and rail voltage in memory and records every write, so it can run
// the controller on a machine without the real clocks and show exactly
// what the controller did.
package sim

import (
	"fmt"
	"io"
	"sync"

	"github.com/Jon-Bright/mifctl/dvfs"
)

// MIFTable is a plausible ASV table for dvfs.MIF.
var MIFTable = []dvfs.OperatingPoint{
	{Freq: 1794000, Volt: 1025000},
	{Freq: 1539000, Volt: 975000},
	{Freq: 1352000, Volt: 937500},
	{Freq: 1014000, Volt: 875000},
	{Freq: 845000, Volt: 843750},
	{Freq: 676000, Volt: 800000},
	{Freq: 546000, Volt: 775000},
	{Freq: 451000, Volt: 762500},
	{Freq: 338000, Volt: 750000},
	{Freq: 273000, Volt: 737500},
}

// Op kinds.
const (
	Rate    = "rate"
	Volt    = "volt"
	CLStart = "cl-start"
	CLStop  = "cl-stop"
	Notify  = "notify"
)

// Op is one recorded hardware access.
type Op struct {
	Kind  string
	Name  string // clock name, for Rate
	Value uint32
}

func (o Op) String() string {
	switch o.Kind {
	case Rate:
		return fmt.Sprintf("%s %s=%dkHz", o.Kind, o.Name, o.Value)
	case Volt:
		return fmt.Sprintf("%s %duV", o.Kind, o.Value)
	}
	return fmt.Sprintf("%s %d", o.Kind, o.Value)
}

// Hardware is one simulated domain. The main clock reads back whatever rate
// was set last on either clock, the way the domain's output follows the
// switch path until the main path is restored.
type Hardware struct {
	mu     sync.Mutex
	plat   dvfs.Platform
	points []dvfs.OperatingPoint
	hwMin  uint32
	hwMax  uint32
	rates  map[string]uint32
	domain uint32
	volt   uint32
	held   map[string]bool
	fail   map[string]error
	dead   bool
	ops    []Op
}

// New returns hardware running at initial, with the rail at initial's
// voltage. Hardware limits default to the table's ends.
func New(plat dvfs.Platform, points []dvfs.OperatingPoint, initial uint32) *Hardware {
	h := &Hardware{
		plat:   plat,
		points: append([]dvfs.OperatingPoint{}, points...),
		rates:  make(map[string]uint32),
		held:   make(map[string]bool),
		fail:   make(map[string]error),
		domain: initial,
	}
	if len(points) > 0 {
		h.hwMax = points[0].Freq
		h.hwMin = points[len(points)-1].Freq
	}
	for _, o := range points {
		if o.Freq == initial {
			h.volt = o.Volt
		}
	}
	h.rates[plat.MainClock] = initial
	return h
}

// SetLimits overrides the hardware min and max frequency. 0 simulates a
// failed query.
func (h *Hardware) SetLimits(min, max uint32) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.hwMin, h.hwMax = min, max
}

// FailOn makes the next and all later accesses of the given kind fail. For
// Rate, name selects the clock; for the others it's ignored.
func (h *Hardware) FailOn(kind, name string, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.fail[kind+":"+name] = err
}

// Kill makes every clock read back 0.
func (h *Hardware) Kill() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dead = true
}

func (h *Hardware) failure(kind, name string) error {
	return h.fail[kind+":"+name]
}

func (h *Hardware) record(o Op) {
	h.ops = append(h.ops, o)
}

// Ops returns a copy of everything recorded so far.
func (h *Hardware) Ops() []Op {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Op{}, h.ops...)
}

// Reset forgets the recorded ops.
func (h *Hardware) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ops = nil
}

// Domain returns the domain's output rate.
func (h *Hardware) Domain() uint32 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.domain
}

// Voltage returns the rail voltage.
func (h *Hardware) Voltage() uint32 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.volt
}

type clock struct {
	h    *Hardware
	name string
}

// Clock hands out a handle. A handle can only be held once.
func (h *Hardware) Clock(name string) (dvfs.Clock, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if name != h.plat.MainClock && name != h.plat.SwitchClock {
		return nil, fmt.Errorf("no clock %q", name)
	}
	if h.held[name] {
		return nil, fmt.Errorf("clock %q already held", name)
	}
	h.held[name] = true
	return &clock{h, name}, nil
}

// Held reports whether a clock handle is currently out.
func (h *Hardware) Held(name string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.held[name]
}

func (c *clock) SetRate(freq uint32) error {
	c.h.mu.Lock()
	defer c.h.mu.Unlock()
	if err := c.h.failure(Rate, c.name); err != nil {
		return err
	}
	c.h.record(Op{Kind: Rate, Name: c.name, Value: freq})
	c.h.rates[c.name] = freq
	c.h.domain = freq
	return nil
}

func (c *clock) Rate() uint32 {
	c.h.mu.Lock()
	defer c.h.mu.Unlock()
	if c.h.dead {
		return 0
	}
	if c.name == c.h.plat.MainClock {
		return c.h.domain
	}
	return c.h.rates[c.name]
}

func (c *clock) Close() error {
	c.h.mu.Lock()
	defer c.h.mu.Unlock()
	if !c.h.held[c.name] {
		return fmt.Errorf("clock %q not held", c.name)
	}
	c.h.held[c.name] = false
	return nil
}

func (c *clock) Dump(w io.Writer) error {
	c.h.mu.Lock()
	defer c.h.mu.Unlock()
	_, err := fmt.Fprintf(w, "sim %s: set %dkHz, domain %dkHz, rail %duV\n", c.name, c.h.rates[c.name], c.h.domain, c.h.volt)
	return err
}

func (h *Hardware) ASVTable() ([]dvfs.OperatingPoint, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.failure("asv", ""); err != nil {
		return nil, err
	}
	return append([]dvfs.OperatingPoint{}, h.points...), nil
}

func (h *Hardware) MinFreq() (uint32, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.hwMin, nil
}

func (h *Hardware) MaxFreq() (uint32, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.hwMax, nil
}

func (h *Hardware) SetVoltage(volt uint32) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.failure(Volt, ""); err != nil {
		return err
	}
	h.record(Op{Kind: Volt, Value: volt})
	h.volt = volt
	return nil
}

// Loop is the simulated closed loop; it just records Start and Stop.
type Loop struct{ h *Hardware }

// Loop returns a closed loop that records into h.
func (h *Hardware) Loop() Loop { return Loop{h} }

func (l Loop) Start() error {
	l.h.mu.Lock()
	defer l.h.mu.Unlock()
	if err := l.h.failure(CLStart, ""); err != nil {
		return err
	}
	l.h.record(Op{Kind: CLStart})
	return nil
}

func (l Loop) Stop(index int) error {
	l.h.mu.Lock()
	defer l.h.mu.Unlock()
	if err := l.h.failure(CLStop, ""); err != nil {
		return err
	}
	l.h.record(Op{Kind: CLStop, Value: uint32(index)})
	return nil
}

func (h *Hardware) Notify(freq uint32) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.record(Op{Kind: Notify, Value: freq})
}
