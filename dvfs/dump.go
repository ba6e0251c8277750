package dvfs

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/platinasystems/log"
)

// State is a read-only snapshot of a domain.
type State struct {
	Name       string
	Freq       uint32 // main clock, as the hardware reports it
	SwitchFreq uint32 // switch clock, as the hardware reports it
	Volt       uint32 // last voltage the controller applied
	RailVolt   uint32 // rail as the regulator reads it back, 0 if it can't
	Min, Max   uint32
	Ceiling    uint32
	Points     []OperatingPoint
	Enabled    []bool
	Stats      TransitionStats
}

// State returns a snapshot of the domain. It doesn't touch the clocks
// beyond reading their rates.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state()
}

func (c *Controller) state() State {
	s := State{
		Name:       c.plat.Name,
		Freq:       c.main.Rate(),
		SwitchFreq: c.sw.Rate(),
		Volt:       c.volt,
		Min:        c.table.Min(),
		Max:        c.table.Max(),
		Ceiling:    c.ceiling,
		Points:     make([]OperatingPoint, c.table.Len()),
		Enabled:    make([]bool, c.table.Len()),
		Stats:      c.stats.snapshot(time.Now()),
	}
	if vr, ok := c.reg.(VoltageReader); ok {
		v, err := vr.Voltage()
		if err != nil {
			log.Printf("warn", "%s: couldn't read rail back: %v", c.plat.Name, err)
		} else {
			s.RailVolt = v
		}
	}
	for i := range s.Points {
		s.Points[i] = c.table.At(i)
		s.Enabled[i] = c.table.Enabled(i)
	}
	return s
}

// Dump writes the domain's state, followed by whatever the clocks can say
// about their hardware.
func (c *Controller) Dump(w io.Writer) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.state().Print(w); err != nil {
		return err
	}
	for _, clk := range []Clock{c.main, c.sw} {
		if d, ok := clk.(Dumper); ok {
			if err := d.Dump(w); err != nil {
				return fmt.Errorf("couldn't dump clock: %w", err)
			}
		}
	}
	return nil
}

// PointState describes entry i: "off" if the table disabled it, "capped" if
// it's above the ceiling, "on" otherwise.
func (s State) PointState(i int) string {
	switch {
	case !s.Enabled[i]:
		return "off"
	case s.Points[i].Freq > s.Ceiling:
		return "capped"
	}
	return "on"
}

// Print writes s as aligned text.
func (s State) Print(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 8, 1, ' ', 0)
	fmt.Fprintf(tw, "%s:\tfreq %dkHz\tswitch %dkHz\tvolt %duV\n", s.Name, s.Freq, s.SwitchFreq, s.Volt)
	if s.RailVolt != 0 {
		fmt.Fprintf(tw, "rail:\t%duV\t\t\n", s.RailVolt)
	}
	fmt.Fprintf(tw, "bounds:\tmin %dkHz\tmax %dkHz\tceiling %dkHz\n", s.Min, s.Max, s.Ceiling)
	fmt.Fprintf(tw, "transitions:\t%d\tfailures %d\t\n", s.Stats.Total, s.Stats.Failures)
	if s.Stats.LastErr != nil {
		fmt.Fprintf(tw, "last error:\t%v\t\t\n", s.Stats.LastErr)
	}
	fmt.Fprintf(tw, "idx\tfreq\tvolt\tstate\ttime\n")
	for i, o := range s.Points {
		st := s.PointState(i)
		if o.Freq == s.Freq {
			st += " *"
		}
		var d time.Duration
		if i < len(s.Stats.InState) {
			d = s.Stats.InState[i].Truncate(time.Millisecond)
		}
		fmt.Fprintf(tw, "%d\t%dkHz\t%duV\t%s\t%v\n", i, o.Freq, o.Volt, st, d)
	}
	return tw.Flush()
}
