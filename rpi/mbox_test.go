package rpi

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"unsafe"

	"github.com/Jon-Bright/mifctl/dvfs"
)

// fakeFirmware answers the clock and voltage tags the way the VideoCore
// firmware does.
type fakeFirmware struct {
	rates    map[uint32]uint32
	min, max map[uint32]uint32
	volts    map[uint32]int32
	sent     [][]uint32
	err      error
	closed   bool
}

func newFakeFirmware() *fakeFirmware {
	return &fakeFirmware{
		rates: map[uint32]uint32{CLOCK_SDRAM: 546000000, CLOCK_CORE: 250000000},
		min:   map[uint32]uint32{CLOCK_SDRAM: 273000000, CLOCK_CORE: 250000000},
		max:   map[uint32]uint32{CLOCK_SDRAM: 1794000000, CLOCK_CORE: 500000000},
		volts: map[uint32]int32{VOLT_SDRAM_C: -17},
	}
}

func (f *fakeFirmware) property(p []uint32) error {
	f.sent = append(f.sent, append([]uint32{}, p...))
	if f.err != nil {
		return f.err
	}
	if p[0] != uint32(len(p)*4) || p[len(p)-1] != 0 {
		return errors.New("malformed buffer")
	}
	id := p[5]
	switch p[2] {
	case TAG_GET_CLOCK_RATE:
		p[6] = f.rates[id]
	case TAG_SET_CLOCK_RATE:
		r := p[6]
		if r > f.max[id] {
			r = f.max[id]
		}
		f.rates[id] = r
		p[6] = r
	case TAG_GET_MIN_CLOCK_RATE:
		p[6] = f.min[id]
	case TAG_GET_MAX_CLOCK_RATE:
		p[6] = f.max[id]
	case TAG_GET_VOLTAGE, TAG_SET_VOLTAGE:
		v, ok := f.volts[id]
		if p[2] == TAG_SET_VOLTAGE {
			v, ok = int32(p[6]), true
			f.volts[id] = v
		}
		if ok {
			p[6] = uint32(v)
		} else {
			p[6] = voltInvalidID
		}
	default:
		p[1] = 0x80000001
		return nil
	}
	p[1] = mboxSuccess
	p[4] = mboxResponse | 8
	return nil
}

func (f *fakeFirmware) Close() error {
	f.closed = true
	return nil
}

func newTestRPi() (*RPi, *fakeFirmware) {
	f := newFakeFirmware()
	return &RPi{mbox: f, hw: &hw{RPI_HWVER_TYPE_PI4, PERIPH_BASE_RPI4, "test"}}, f
}

func TestPropertyBuffer(t *testing.T) {
	rp, f := newTestRPi()
	_, err := rp.SetClockRate(CLOCK_SDRAM, 845000000)
	if err != nil {
		t.Fatalf("SetClockRate failed: %v", err)
	}
	want := []uint32{
		36, mboxRequest,
		TAG_SET_CLOCK_RATE, 12, 0,
		CLOCK_SDRAM, 845000000, 1,
		0,
	}
	sent := f.sent[0]
	if len(sent) != len(want) {
		t.Fatalf("Incorrect buffer length, got: %d, want: %d", len(sent), len(want))
	}
	for i := range want {
		if sent[i] != want[i] {
			t.Errorf("Word %d incorrect, got: %08X, want: %08X", i, sent[i], want[i])
		}
	}

	if _, err := rp.ClockRate(CLOCK_SDRAM); err != nil {
		t.Fatalf("ClockRate failed: %v", err)
	}
	// Get has one request word but needs two for the response.
	if n := len(f.sent[1]); n != 8 {
		t.Errorf("Incorrect get buffer length, got: %d, want: 8", n)
	}
}

func TestClockRates(t *testing.T) {
	rp, _ := newTestRPi()
	hz, err := rp.ClockRate(CLOCK_SDRAM)
	if err != nil || hz != 546000000 {
		t.Errorf("ClockRate incorrect, got: %d %v, want: 546000000", hz, err)
	}
	hz, err = rp.SetClockRate(CLOCK_SDRAM, 2000000000)
	if err != nil || hz != 1794000000 {
		t.Errorf("SetClockRate incorrect, got: %d %v, want: 1794000000", hz, err)
	}
	hz, err = rp.MinClockRate(CLOCK_SDRAM)
	if err != nil || hz != 273000000 {
		t.Errorf("MinClockRate incorrect, got: %d %v, want: 273000000", hz, err)
	}
	hz, err = rp.MaxClockRate(CLOCK_CORE)
	if err != nil || hz != 500000000 {
		t.Errorf("MaxClockRate incorrect, got: %d %v, want: 500000000", hz, err)
	}
}

func TestPropertyErrors(t *testing.T) {
	rp, f := newTestRPi()
	f.err = errors.New("ioctl failed")
	if _, err := rp.ClockRate(CLOCK_SDRAM); err == nil {
		t.Errorf("ClockRate succeeded with failing mailbox")
	}
	f.err = nil
	if _, err := rp.property(0x00099999, 1); err == nil || !strings.Contains(err.Error(), "not processed") {
		t.Errorf("Unknown tag got error: %v, want not processed", err)
	}
	if _, err := rp.Voltage(VOLT_SDRAM_I); err == nil {
		t.Errorf("Voltage succeeded for unknown rail")
	}
}

func TestVoltageConversion(t *testing.T) {
	tests := []struct {
		uv  uint32
		off int32
	}{
		{1200000, 0},
		{1225000, 1},
		{1210000, 1},
		{750000, -18},
		{737500, -18},
		{725000, -19},
	}
	for _, test := range tests {
		if got := voltToOffset(test.uv); got != test.off {
			t.Errorf("voltToOffset(%d) got: %d, want: %d", test.uv, got, test.off)
		}
		if v := offsetToVolt(voltToOffset(test.uv)); v < test.uv {
			t.Errorf("%duV rounds down to %duV", test.uv, v)
		}
	}
}

func TestVoltage(t *testing.T) {
	rp, _ := newTestRPi()
	v, err := rp.Voltage(VOLT_SDRAM_C)
	if err != nil || v != 775000 {
		t.Errorf("Voltage incorrect, got: %d %v, want: 775000", v, err)
	}
	v, err = rp.SetVoltage(VOLT_SDRAM_C, 843750)
	if err != nil || v != 850000 {
		t.Errorf("SetVoltage incorrect, got: %d %v, want: 850000", v, err)
	}
}

func TestDomainClocks(t *testing.T) {
	rp, f := newTestRPi()
	cs := rp.Clocks("dvfs_mif", CLOCK_SDRAM, "dvfs_mif_sw", CLOCK_CORE)
	main, err := cs.Clock("dvfs_mif")
	if err != nil {
		t.Fatalf("Clock failed: %v", err)
	}
	if _, err := cs.Clock("dvfs_mif"); err == nil {
		t.Errorf("Clock handed out twice")
	}
	if _, err := cs.Clock("dvfs_int"); err == nil {
		t.Errorf("Clock handed out for unknown name")
	}
	if r := main.Rate(); r != 546000 {
		t.Errorf("Rate incorrect, got: %d, want: 546000", r)
	}
	if err := main.SetRate(845000); err != nil {
		t.Fatalf("SetRate failed: %v", err)
	}
	if f.rates[CLOCK_SDRAM] != 845000000 {
		t.Errorf("Firmware rate incorrect, got: %d, want: 845000000", f.rates[CLOCK_SDRAM])
	}
	if err := main.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	if _, err := cs.Clock("dvfs_mif"); err != nil {
		t.Errorf("Clock after Close failed: %v", err)
	}

	f.err = errors.New("gone")
	if r := main.Rate(); r != 0 {
		t.Errorf("Rate with failing mailbox got: %d, want: 0", r)
	}
}

func TestDomainReference(t *testing.T) {
	rp, _ := newTestRPi()
	pts := []dvfs.OperatingPoint{{Freq: 1794000, Volt: 1025000}, {Freq: 273000, Volt: 737500}}
	ref := rp.Reference(CLOCK_SDRAM, pts)
	min, err := ref.MinFreq()
	if err != nil || min != 273000 {
		t.Errorf("MinFreq incorrect, got: %d %v, want: 273000", min, err)
	}
	max, err := ref.MaxFreq()
	if err != nil || max != 1794000 {
		t.Errorf("MaxFreq incorrect, got: %d %v, want: 1794000", max, err)
	}
	asv, err := ref.ASVTable()
	if err != nil || len(asv) != 2 || asv[0] != pts[0] {
		t.Errorf("ASVTable incorrect, got: %v %v", asv, err)
	}
}

func TestDomainRegulator(t *testing.T) {
	rp, f := newTestRPi()
	reg := rp.Regulator(VOLT_SDRAM_C)
	if err := reg.SetVoltage(800000); err != nil {
		t.Fatalf("SetVoltage failed: %v", err)
	}
	if f.volts[VOLT_SDRAM_C] != -16 {
		t.Errorf("Firmware offset incorrect, got: %d, want: -16", f.volts[VOLT_SDRAM_C])
	}
}

func TestControllerOnFirmware(t *testing.T) {
	rp, f := newTestRPi()
	ref := rp.Reference(CLOCK_SDRAM, []dvfs.OperatingPoint{
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
	})
	c, err := dvfs.New(dvfs.Config{
		Platform:  dvfs.MIF,
		Clocks:    rp.Clocks("dvfs_mif", CLOCK_SDRAM, "dvfs_mif_sw", CLOCK_CORE),
		Reference: ref,
		Regulator: rp.Regulator(VOLT_SDRAM_C),
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer c.Close()
	if err := c.Target(1014000); err != nil {
		t.Fatalf("Target failed: %v", err)
	}
	if f.rates[CLOCK_SDRAM] != 1014000000 {
		t.Errorf("SDRAM clock incorrect, got: %d, want: 1014000000", f.rates[CLOCK_SDRAM])
	}
	// The switch path ran through the core clock.
	if f.rates[CLOCK_CORE] != 500000000 {
		t.Errorf("Core clock incorrect, got: %d, want: 500000000", f.rates[CLOCK_CORE])
	}
	if f.volts[VOLT_SDRAM_C] != -13 {
		t.Errorf("Rail offset incorrect, got: %d, want: -13", f.volts[VOLT_SDRAM_C])
	}
	if s := c.State(); s.RailVolt != 875000 {
		t.Errorf("Rail read back incorrect, got: %d, want: 875000", s.RailVolt)
	}
}

func TestLookupRevision(t *testing.T) {
	h, err := lookupRevision([]byte{0x00, 0xa0, 0x20, 0xd3})
	if err != nil {
		t.Fatalf("lookupRevision failed: %v", err)
	}
	if h.name != "Pi 3 B+" || h.periphBase != PERIPH_BASE_RPI2 {
		t.Errorf("Incorrect hardware, got: %+v", h)
	}
	if _, err := lookupRevision([]byte{0, 0, 0, 0x01}); err == nil {
		t.Errorf("lookupRevision identified revision 1")
	}
}

func TestClockManagerDump(t *testing.T) {
	var cm cmT
	cm[0x70/4] = CM_CLK_CTL_PASSWD | CM_CLK_CTL_ENAB | CM_CLK_CTL_BUSY | 6
	cm[0x70/4+1] = CM_CLK_DIV_PASSWD | 5<<CM_CLK_DIVI_SHIFT | 2048
	cm[0xa0/4] = CM_CLK_CTL_KILL | 1 | 1<<9
	var b bytes.Buffer
	if err := dumpClocks(&b, &cm, OSC_FREQ); err != nil {
		t.Fatalf("dumpClocks failed: %v", err)
	}
	out := b.String()
	for _, want := range []string{
		"osc 19200000Hz",
		"gp0: ctl 5A000096 div 5A005800 plld enab busy div 5.(2048/4096)",
		"pwm: ctl 00000221 div 00000000 osc kill mash1 div 0.(0/4096)",
		"gp2:",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("Dump missing %q, got:\n%s", want, out)
		}
	}
	if unsafe.Sizeof(cm) != cmClocksMappedSize {
		t.Errorf("Incorrect cmT size, got: %d, want: %d", unsafe.Sizeof(cm), cmClocksMappedSize)
	}
}

func TestClose(t *testing.T) {
	rp, f := newTestRPi()
	if err := rp.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	if !f.closed {
		t.Errorf("Mailbox not closed")
	}
}
