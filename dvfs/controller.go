package dvfs

import (
	"fmt"
	"sync"
	"time"

	"github.com/platinasystems/log"
)

// Config is what New needs to bring up a domain. ClosedLoop and Notifier are
// optional.
type Config struct {
	Platform   Platform
	Clocks     Clocks
	Reference  Reference
	Regulator  Regulator
	ClosedLoop ClosedLoop
	Notifier   Notifier
}

// Controller owns one DVFS domain. Every exported method holds the
// controller's lock for its whole duration, so transitions, reads and dumps
// never interleave.
type Controller struct {
	mu       sync.Mutex
	plat     Platform
	table    *Table
	main, sw Clock
	reg      Regulator
	loop     ClosedLoop
	notifier Notifier

	// ceiling is the effective max; it only drops below the table's max
	// after ApplyRebootCeiling.
	ceiling uint32
	// last is the most recent frequency a governor asked for.
	last  uint32
	volt  uint32
	stats stats
}

// New builds the operating point table and acquires the domain's clocks.
// On error nothing is held and the domain stays at whatever rate it had.
func New(cfg Config) (*Controller, error) {
	plat := normalize(cfg.Platform)
	if cfg.Clocks == nil || cfg.Reference == nil || cfg.Regulator == nil {
		return nil, fmt.Errorf("%s: clocks, reference and regulator are all required", plat.Name)
	}
	t, err := Build(plat, cfg.Reference)
	if err != nil {
		return nil, fmt.Errorf("couldn't build %s table: %w", plat.Name, err)
	}
	c := &Controller{
		plat:     plat,
		table:    t,
		reg:      cfg.Regulator,
		loop:     cfg.ClosedLoop,
		notifier: cfg.Notifier,
		ceiling:  t.Max(),
	}
	if c.loop == nil {
		c.loop = NoClosedLoop{}
	}
	if c.notifier == nil {
		c.notifier = noNotifier{}
	}
	c.main, err = cfg.Clocks.Clock(plat.MainClock)
	if err != nil {
		return nil, fmt.Errorf("couldn't get clock %s: %w", plat.MainClock, err)
	}
	c.sw, err = cfg.Clocks.Clock(plat.SwitchClock)
	if err != nil {
		c.main.Close() // Ignore error
		return nil, fmt.Errorf("couldn't get clock %s: %w", plat.SwitchClock, err)
	}

	cur := c.main.Rate()
	log.Printf("info", "%s: current frequency %dkHz", plat.Name, cur)
	now := time.Now()
	c.stats.init(t.Len(), now)
	if i, ok := t.Index(cur); ok {
		c.volt = t.At(i).Volt
		c.stats.track(i, now)
	}
	return c, nil
}

// Close releases the clock handles.
func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	err := c.sw.Close()
	if te := c.main.Close(); err == nil {
		err = te
	}
	return err
}

func (c *Controller) Table() *Table { return c.table }

func (c *Controller) Platform() Platform { return c.plat }

// Transition moves the domain from req.Current to req.Target. On failure
// the domain is left wherever the failing step stopped it; it's up to the
// caller to ask for a known-good frequency.
func (c *Controller) Transition(req Request) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transition(req)
}

func (c *Controller) transition(req Request) error {
	tr, ok, err := c.plan(req)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	start := time.Now()
	tr, err = c.run(tr)
	if err != nil {
		c.stats.failed(err)
		log.Printf("err", "%s: %dkHz -> %dkHz failed: %v", c.plat.Name, req.Current, req.Target, err)
		return err
	}
	c.stats.moved(tr.fromIdx, tr.toIdx, start)
	log.Printf("debug", "%s: %dkHz -> %dkHz at %duV in %v", c.plat.Name, tr.from.Freq, tr.to.Freq, tr.volt, time.Since(start))
	return nil
}

// Target is the governor's entry point. freq is clamped to the domain's
// bounds and rounded down to an enabled operating point (or up, if nothing
// is below it) before the transition runs from the current hardware rate.
func (c *Controller) Target(freq uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last = freq
	return c.target(freq)
}

func (c *Controller) target(freq uint32) error {
	if c.ceiling < c.table.Min() {
		return fmt.Errorf("%w: ceiling %dkHz below min %dkHz", ErrNoSuchOperatingPoint, c.ceiling, c.table.Min())
	}
	if freq > c.ceiling {
		freq = c.ceiling
	}
	if freq < c.table.Min() {
		freq = c.table.Min()
	}
	i, ok := c.table.Floor(freq)
	if !ok {
		i, ok = c.table.Ceil(freq)
	}
	if !ok {
		return fmt.Errorf("%w: nothing enabled near %dkHz", ErrNoSuchOperatingPoint, freq)
	}
	cur, err := c.currentFrequency()
	if err != nil {
		return err
	}
	return c.transition(Request{Current: cur, Target: c.table.At(i).Freq})
}

// CurrentFrequency returns the main clock's rate as the hardware reports it.
func (c *Controller) CurrentFrequency() (uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentFrequency()
}

func (c *Controller) currentFrequency() (uint32, error) {
	f := c.main.Rate()
	if f == 0 {
		log.Printf("err", "%s: couldn't get frequency from %s", c.plat.Name, c.plat.MainClock)
		return 0, fmt.Errorf("%w: %s reads 0", ErrFrequencyRead, c.plat.MainClock)
	}
	return f, nil
}

// ApplyRebootCeiling caps the domain at its reboot frequency and moves it
// under the cap straight away. It's meant to be called once, on the way
// down.
func (c *Controller) ApplyRebootCeiling() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.plat.RebootFreq < c.ceiling {
		c.ceiling = c.plat.RebootFreq
	}
	log.Printf("info", "%s: reboot ceiling %dkHz", c.plat.Name, c.ceiling)
	freq := c.last
	if freq == 0 {
		cur, err := c.currentFrequency()
		if err != nil {
			return err
		}
		freq = cur
	}
	return c.target(freq)
}

// Ceiling returns the effective maximum frequency.
func (c *Controller) Ceiling() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ceiling
}
