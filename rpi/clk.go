package rpi

import (
	"fmt"
	"io"
	"os"
	"strings"
	"unsafe"

	mmap "github.com/edsrzf/mmap-go"
	"github.com/platinasystems/log"
)

// Register layout from the BCM2835 reference at
// https://www.raspberrypi.org/app/uploads/2012/02/BCM2835-ARM-Peripherals.pdf
// p105-108. The firmware-owned clocks (core, SDRAM) aren't documented
// there, so the dump shows the general purpose ones next to them.

const (
	MEM_FILE  = "/dev/mem"
	PAGE_SIZE = 4096 // Theoretically, we could get this via whatever getconf does
	CM_OFFSET = uintptr(0x00101000)

	CM_CLK_CTL_PASSWD  = 0x5a << 24
	CM_CLK_CTL_MASH    = 3 << 9
	CM_CLK_CTL_FLIP    = 1 << 8
	CM_CLK_CTL_BUSY    = 1 << 7
	CM_CLK_CTL_KILL    = 1 << 5
	CM_CLK_CTL_ENAB    = 1 << 4
	CM_CLK_CTL_SRC     = 0xf
	CM_CLK_DIV_PASSWD  = uint32(0x5a << 24)
	CM_CLK_DIVI_SHIFT  = 12
	CM_CLK_DIVX_MASK   = 0xfff
	OSC_FREQ           = 19200000 // crystal frequency
	OSC_FREQ_PI4       = 54000000 // Pi 4 crystal frequency
	cmClocksMappedSize = 0x100
)

type cmClkT struct {
	ctl uint32
	div uint32
}

// cmT is the start of the clock manager block.
type cmT [cmClocksMappedSize / 4]uint32

var cmClocks = []struct {
	name string
	offs uintptr
}{
	{"gp0", 0x70},
	{"gp1", 0x78},
	{"gp2", 0x80},
	{"pcm", 0x98},
	{"pwm", 0xa0},
}

var cmSources = []string{"gnd", "osc", "dbg0", "dbg1", "plla", "pllc", "plld", "hdmi"}

func (c cmClkT) String() string {
	var out []string
	src := c.ctl & CM_CLK_CTL_SRC
	if int(src) < len(cmSources) {
		out = append(out, cmSources[src])
	} else {
		out = append(out, fmt.Sprintf("src%d", src))
	}
	if c.ctl&CM_CLK_CTL_ENAB != 0 {
		out = append(out, "enab")
	}
	if c.ctl&CM_CLK_CTL_KILL != 0 {
		out = append(out, "kill")
	}
	if c.ctl&CM_CLK_CTL_BUSY != 0 {
		out = append(out, "busy")
	}
	if c.ctl&CM_CLK_CTL_FLIP != 0 {
		out = append(out, "flip")
	}
	if m := (c.ctl & CM_CLK_CTL_MASH) >> 9; m != 0 {
		out = append(out, fmt.Sprintf("mash%d", m))
	}
	divi := (c.div >> CM_CLK_DIVI_SHIFT) & CM_CLK_DIVX_MASK
	divf := c.div & CM_CLK_DIVX_MASK
	out = append(out, fmt.Sprintf("div %d.(%d/4096)", divi, divf))
	return strings.Join(out, " ")
}

// mapMem opens /dev/mem and uses mmap to map a given physical address into our address space.
// Since the mapping has to start at a page boundary, the physical address is rounded down to the
// nearest page boundary. mapMem returns the mapped memory and the offset that should be used to
// access it (=physAddr%PAGE_SIZE).
func mapMem(physAddr uintptr, size int) (mmap.MMap, uintptr, error) {
	f, err := os.OpenFile(MEM_FILE, os.O_RDONLY|os.O_SYNC, os.ModePerm)
	if err != nil {
		return nil, 0, fmt.Errorf("couldn't open %s: %v", MEM_FILE, err)
	}
	defer f.Close() // Ignore error

	pagemask := ^uintptr(PAGE_SIZE - 1)
	mapAddr := physAddr & pagemask
	size += int(physAddr - mapAddr)
	log.Printf("debug", "MapRegion(f, %d, RDONLY, 0, %08X), physAddr %08X", size, int64(mapAddr), physAddr)
	mm, err := mmap.MapRegion(f, size, mmap.RDONLY, 0, int64(mapAddr))
	if err != nil {
		return nil, 0, fmt.Errorf("couldn't map region (%v, %v): %v", physAddr, size, err)
	}
	return mm, physAddr & (PAGE_SIZE - 1), nil
}

// MapClockManager maps the clock manager registers read-only, for
// DumpClockManager.
func (rp *RPi) MapClockManager() error {
	if rp.cm != nil {
		return nil
	}
	addr := CM_OFFSET + rp.hw.periphBase
	buf, offs, err := mapMem(addr, int(unsafe.Sizeof(cmT{})))
	if err != nil {
		return fmt.Errorf("couldn't map cmT at %08X: %v", addr, err)
	}
	log.Printf("info", "Got cmBuf[%d], offset %d", len(buf), offs)
	rp.cmBuf = buf
	rp.cm = (*cmT)(unsafe.Pointer(&buf[offs]))
	return nil
}

func (rp *RPi) oscFreq() uint32 {
	if rp.hw.hwType == RPI_HWVER_TYPE_PI4 {
		return OSC_FREQ_PI4
	}
	return OSC_FREQ
}

// DumpClockManager writes the general purpose clock registers. It does
// nothing if the registers aren't mapped.
func (rp *RPi) DumpClockManager(w io.Writer) error {
	if rp.cm == nil {
		return nil
	}
	return dumpClocks(w, rp.cm, rp.oscFreq())
}

func dumpClocks(w io.Writer, cm *cmT, osc uint32) error {
	_, err := fmt.Fprintf(w, "clock manager (osc %dHz):\n", osc)
	if err != nil {
		return err
	}
	for _, c := range cmClocks {
		r := cmClkT{ctl: cm[c.offs/4], div: cm[c.offs/4+1]}
		_, err = fmt.Fprintf(w, "  %s: ctl %08X div %08X %v\n", c.name, r.ctl, r.div, r)
		if err != nil {
			return err
		}
	}
	return nil
}
