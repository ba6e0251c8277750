package dvfs

import (
	"fmt"

	"github.com/platinasystems/log"
)

// Request asks for a move from the current frequency to a target, both in
// kHz.
type Request struct {
	Current uint32
	Target  uint32
}

// transition is the state a request carries through the sequence. Each step
// takes it by value and returns the next one.
type transition struct {
	req            Request
	from, to       OperatingPoint
	fromIdx, toIdx int
	sw             OperatingPoint
	switched       bool
	// volt is the rail as applied so far.
	volt uint32
}

type step struct {
	name string
	run  func(c *Controller, tr transition) (transition, error)
}

// The rail goes up before any clock gets faster and comes down only once the
// main clock is at its final rate.
var sequence = []step{
	{"closed-loop start", (*Controller).startLoop},
	{"raise", (*Controller).raise},
	{"switch", (*Controller).toSwitch},
	{"target", (*Controller).toTarget},
	{"lower", (*Controller).lower},
	{"notify", (*Controller).notify},
	{"closed-loop stop", (*Controller).stopLoop},
}

// plan checks a request against the table and fills in the operating
// points. ok is false for a request that needs no hardware access.
func (c *Controller) plan(req Request) (tr transition, ok bool, err error) {
	toIdx, found := c.table.Index(req.Target)
	if !found || !c.table.Enabled(toIdx) {
		return tr, false, fmt.Errorf("%w: target %dkHz", ErrNoSuchOperatingPoint, req.Target)
	}
	if req.Target > c.ceiling {
		return tr, false, fmt.Errorf("%w: target %dkHz above ceiling %dkHz", ErrNoSuchOperatingPoint, req.Target, c.ceiling)
	}
	fromIdx, found := c.table.Index(req.Current)
	if !found {
		return tr, false, fmt.Errorf("%w: current %dkHz", ErrNoSuchOperatingPoint, req.Current)
	}
	tr = transition{
		req:     req,
		from:    c.table.At(fromIdx),
		to:      c.table.At(toIdx),
		fromIdx: fromIdx,
		toIdx:   toIdx,
	}
	tr.volt = tr.from.Volt
	return tr, req.Current != req.Target, nil
}

func (c *Controller) run(tr transition) (transition, error) {
	var err error
	for _, s := range sequence {
		tr, err = s.run(c, tr)
		if err != nil {
			return tr, fmt.Errorf("%s: %w", s.name, err)
		}
	}
	return tr, nil
}

func (c *Controller) setVoltage(tr transition, volt uint32) (transition, error) {
	log.Printf("debug", "%s: %duV -> %duV", c.plat.Name, tr.volt, volt)
	if err := c.reg.SetVoltage(volt); err != nil {
		return tr, &VoltageSetError{Freq: tr.to.Freq, Volt: volt, Err: err}
	}
	tr.volt = volt
	c.volt = volt
	return tr, nil
}

func (c *Controller) startLoop(tr transition) (transition, error) {
	if err := c.loop.Start(); err != nil {
		return tr, fmt.Errorf("%w: %v", ErrClosedLoop, err)
	}
	return tr, nil
}

func (c *Controller) raise(tr transition) (transition, error) {
	if tr.to.Volt <= tr.volt {
		return tr, nil
	}
	return c.setVoltage(tr, tr.to.Volt)
}

func (c *Controller) toSwitch(tr transition) (transition, error) {
	if !c.table.NeedsSwitch(tr.from.Freq, tr.to.Freq) {
		return tr, nil
	}
	tr.sw = c.table.PlanSwitch(tr.from, tr.to)
	if tr.sw.Volt > tr.volt {
		var err error
		tr, err = c.setVoltage(tr, tr.sw.Volt)
		if err != nil {
			return tr, err
		}
	}
	log.Printf("debug", "%s: switch to %dkHz at %duV for %dkHz", c.plat.Name, tr.sw.Freq, tr.volt, tr.to.Freq)
	if err := c.sw.SetRate(tr.sw.Freq); err != nil {
		return tr, &ClockSetError{Clock: c.plat.SwitchClock, Freq: tr.sw.Freq, Err: err}
	}
	tr.switched = true
	return tr, nil
}

// toTarget sets the main clock. After a switch step this is also what moves
// the domain back off the switch path.
func (c *Controller) toTarget(tr transition) (transition, error) {
	if tr.switched {
		log.Printf("debug", "%s: restore from switch to %dkHz", c.plat.Name, tr.to.Freq)
	}
	if err := c.main.SetRate(tr.to.Freq); err != nil {
		return tr, &ClockSetError{Clock: c.plat.MainClock, Freq: tr.to.Freq, Err: err}
	}
	return tr, nil
}

func (c *Controller) lower(tr transition) (transition, error) {
	if tr.volt <= tr.to.Volt {
		return tr, nil
	}
	return c.setVoltage(tr, tr.to.Volt)
}

func (c *Controller) notify(tr transition) (transition, error) {
	c.notifier.Notify(tr.to.Freq)
	return tr, nil
}

func (c *Controller) stopLoop(tr transition) (transition, error) {
	if err := c.loop.Stop(tr.toIdx); err != nil {
		return tr, fmt.Errorf("%w: %v", ErrClosedLoop, err)
	}
	return tr, nil
}
