package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Jon-Bright/mifctl/dvfs"
	"github.com/Jon-Bright/mifctl/notify"
	"github.com/Jon-Bright/mifctl/pmic"
	"github.com/Jon-Bright/mifctl/rpi"
	"github.com/Jon-Bright/mifctl/sim"
	"github.com/mattn/go-isatty"
	"github.com/platinasystems/log"
)

var backend = flag.String("backend", "rpi", "The hardware to drive: one of rpi, sim")
var asvFile = flag.String("asv", "", "A file of '<kHz> <uV>' lines, highest frequency first, giving the voltage for each operating point. Required for rpi, optional for sim.")
var mainClk = flag.Uint("mainclk", rpi.CLOCK_SDRAM, "The firmware clock id of the main clock")
var swClk = flag.Uint("swclk", rpi.CLOCK_CORE, "The firmware clock id of the switch clock")
var voltID = flag.Uint("voltid", rpi.VOLT_SDRAM_C, "The firmware voltage id of the rail. Ignored if pmicbus is set.")
var pmicBus = flag.Int("pmicbus", -1, "The I2C bus of a PMBus regulator for the rail. -1 means the firmware rail is used.")
var pmicAddr = flag.Int("pmicaddr", 0x40, "The I2C address of the PMBus regulator")
var pmicPage = flag.Uint("pmicpage", 0, "The PMBus page of the rail")
var clLoop = flag.Bool("clloop", false, "Hold the PMBus regulator's adaptive voltage loop off during transitions. Only relevant if pmicbus is set.")
var redisAddr = flag.String("redis", "", "The redis server to publish frequency changes to, host:port. Empty means no publishing.")
var channel = flag.String("channel", "mifctl", "The redis channel to publish frequency changes on")
var dumpOnly = flag.Bool("dump", false, "Dump the domain's state to stdout and exit")

// loadASV reads a reference table: one '<kHz> <uV>' pair per line, '#'
// starts a comment.
func loadASV(r io.Reader) ([]dvfs.OperatingPoint, error) {
	var pts []dvfs.OperatingPoint
	s := bufio.NewScanner(r)
	n := 0
	for s.Scan() {
		n++
		l := s.Text()
		if i := strings.IndexByte(l, '#'); i >= 0 {
			l = l[:i]
		}
		t := strings.Fields(l)
		if len(t) == 0 {
			continue
		}
		if len(t) != 2 {
			return nil, fmt.Errorf("line %d: got %d fields, want 2", n, len(t))
		}
		f, err := strconv.ParseUint(t[0], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("line %d: couldn't parse frequency: %v", n, err)
		}
		v, err := strconv.ParseUint(t[1], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("line %d: couldn't parse voltage: %v", n, err)
		}
		pts = append(pts, dvfs.OperatingPoint{Freq: uint32(f), Volt: uint32(v)})
	}
	if err := s.Err(); err != nil {
		return nil, fmt.Errorf("couldn't read table: %v", err)
	}
	if len(pts) == 0 {
		return nil, errors.New("empty table")
	}
	return pts, nil
}

func loadASVFile(name string) ([]dvfs.OperatingPoint, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, fmt.Errorf("couldn't open %s: %v", name, err)
	}
	defer f.Close()
	pts, err := loadASV(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %v", name, err)
	}
	return pts, nil
}

// domain is the assembled hardware and the controller driving it.
type domain struct {
	*dvfs.Controller
	closers []io.Closer
}

func (d *domain) Close() error {
	err := d.Controller.Close()
	for i := len(d.closers) - 1; i >= 0; i-- {
		if te := d.closers[i].Close(); err == nil {
			err = te
		}
	}
	return err
}

func openDomain() (*domain, error) {
	var pts []dvfs.OperatingPoint
	if *asvFile != "" {
		var err error
		pts, err = loadASVFile(*asvFile)
		if err != nil {
			return nil, err
		}
	}
	d := &domain{}
	cfg := dvfs.Config{Platform: dvfs.MIF}
	fail := func(err error) (*domain, error) {
		for i := len(d.closers) - 1; i >= 0; i-- {
			d.closers[i].Close() // Ignore error
		}
		return nil, err
	}

	switch *backend {
	case "sim":
		if pts == nil {
			pts = sim.MIFTable
		}
		hw := sim.New(dvfs.MIF, pts, pts[len(pts)/2].Freq)
		cfg.Clocks, cfg.Reference, cfg.Regulator = hw, hw, hw
		cfg.ClosedLoop = hw.Loop()
	case "rpi":
		if pts == nil {
			return nil, errors.New("rpi needs a reference table, see -asv")
		}
		rp, err := rpi.NewRPi()
		if err != nil {
			return nil, err
		}
		d.closers = append(d.closers, rp)
		if err := rp.MapClockManager(); err != nil {
			log.Printf("warn", "clock manager registers won't be dumped: %v", err)
		}
		cfg.Clocks = rp.Clocks(dvfs.MIF.MainClock, uint32(*mainClk), dvfs.MIF.SwitchClock, uint32(*swClk))
		cfg.Reference = rp.Reference(uint32(*mainClk), pts)
		cfg.Regulator = rp.Regulator(uint32(*voltID))
	default:
		return nil, fmt.Errorf("unrecognized backend: %v", *backend)
	}

	if *pmicBus >= 0 {
		if *backend == "sim" {
			return fail(errors.New("pmicbus can't be used with the sim backend"))
		}
		pm := pmic.New(*pmicBus, *pmicAddr, uint8(*pmicPage))
		cfg.Regulator = pm
		if *clLoop {
			cfg.ClosedLoop = pm.ClosedLoop()
		}
	}
	if *redisAddr != "" {
		p := notify.New(*redisAddr, *channel, dvfs.MIF.Name+".freq")
		d.closers = append(d.closers, p)
		cfg.Notifier = p
	}

	c, err := dvfs.New(cfg)
	if err != nil {
		return fail(err)
	}
	d.Controller = c
	return d, nil
}

// dump writes the domain's state. A terminal gets a header saying what it's
// looking at.
func dump(w io.Writer, fd uintptr, dev dvfs.Device) error {
	if isatty.IsTerminal(fd) {
		_, err := fmt.Fprintf(w, "mifctl %s backend, %s\n\n", *backend, time.Now().Format(time.RFC3339))
		if err != nil {
			return err
		}
	}
	return dev.Dump(w)
}
