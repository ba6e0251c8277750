package rpi

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"

	mmap "github.com/edsrzf/mmap-go"
	"github.com/platinasystems/log"
)

// RPi talks to the VideoCore firmware through the mailbox and, for
// diagnostics, maps the clock manager registers.
type RPi struct {
	mbox  mailbox
	hw    *hw
	cmBuf mmap.MMap
	cm    *cmT
}

func NewRPi() (*RPi, error) {
	hw, err := detectHardware()
	if err != nil {
		return nil, fmt.Errorf("couldn't detect RPi hardware: %v", err)
	}
	rp := RPi{
		hw: hw,
	}
	rp.mbox, err = mboxOpen()
	if err != nil {
		return nil, fmt.Errorf("couldn't open mailbox: %v", err)
	}
	log.Print("info", "RPi: ", hw.name)
	return &rp, nil
}

// Close releases the mailbox and any register mapping.
func (rp *RPi) Close() error {
	var err error
	if rp.cmBuf != nil {
		err = rp.cmBuf.Unmap()
		rp.cmBuf = nil
		rp.cm = nil
	}
	if te := rp.mbox.Close(); err == nil {
		err = te
	}
	return err
}

type hw struct {
	hwType     int
	periphBase uintptr
	name       string
}

const (
	RPI_HWVER_TYPE_UNKNOWN = iota
	RPI_HWVER_TYPE_PI1
	RPI_HWVER_TYPE_PI2
	RPI_HWVER_TYPE_PI4

	PERIPH_BASE_RPI  = 0x20000000
	PERIPH_BASE_RPI2 = 0x3f000000
	PERIPH_BASE_RPI4 = 0xfe000000
)

// Detect which version of a Raspberry Pi we're running on, via the
// device tree's revision.
func detectHardware() (*hw, error) {
	f, err := os.Open("/proc/device-tree/system/linux,revision")
	if err != nil {
		return nil, fmt.Errorf("couldn't open linux revision file: %v", err)
	}
	b := make([]byte, 4)
	n, err := f.Read(b)
	f.Close() // Ignore error
	if err != nil {
		return nil, fmt.Errorf("couldn't read revision: %v", err)
	}
	if n != 4 {
		return nil, fmt.Errorf("revision file got %d instead of 4 bytes", n)
	}
	return lookupRevision(b)
}

func lookupRevision(b []byte) (*hw, error) {
	r := bytes.NewReader(b)
	var ver uint32
	err := binary.Read(r, binary.BigEndian, &ver)
	if err != nil {
		return nil, fmt.Errorf("somehow couldn't convert 4 bytes to a uint32: %v", err)
	}
	if rp, ok := rasPiVariants[ver]; ok {
		return &rp, nil
	}
	return nil, fmt.Errorf("couldn't identify hardware revision %X", ver)
}

// Only boards whose firmware supports the clock and voltage tags are
// listed.
var rasPiVariants = map[uint32]hw{
	//
	// Raspberry Pi 400
	//
	0xC03130: {RPI_HWVER_TYPE_PI4, PERIPH_BASE_RPI4, "Pi 400 - 4GB v1.0"},
	//
	// Raspberry Pi 4
	//
	0xA03111: {RPI_HWVER_TYPE_PI4, PERIPH_BASE_RPI4, "Pi 4 Model B - 1GB v1.1"},
	0xB03111: {RPI_HWVER_TYPE_PI4, PERIPH_BASE_RPI4, "Pi 4 Model B - 2GB v1.1"},
	0xC03111: {RPI_HWVER_TYPE_PI4, PERIPH_BASE_RPI4, "Pi 4 Model B - 4GB v1.1"},
	0xA03112: {RPI_HWVER_TYPE_PI4, PERIPH_BASE_RPI4, "Pi 4 Model B - 1GB v1.2"},
	0xB03112: {RPI_HWVER_TYPE_PI4, PERIPH_BASE_RPI4, "Pi 4 Model B - 2GB v1.2"},
	0xC03112: {RPI_HWVER_TYPE_PI4, PERIPH_BASE_RPI4, "Pi 4 Model B - 4GB v1.2"},
	0xD03114: {RPI_HWVER_TYPE_PI4, PERIPH_BASE_RPI4, "Pi 4 Model B - 8GB v1.4"},
	0xB03114: {RPI_HWVER_TYPE_PI4, PERIPH_BASE_RPI4, "Pi 4 Model B - 2GB v1.4"},
	//
	// Model B+ and Pi Zero
	//
	0x900032: {RPI_HWVER_TYPE_PI1, PERIPH_BASE_RPI, "Model B+"},
	0x900092: {RPI_HWVER_TYPE_PI1, PERIPH_BASE_RPI, "Pi Zero v1.2"},
	0x900093: {RPI_HWVER_TYPE_PI1, PERIPH_BASE_RPI, "Pi Zero v1.3"},
	0x9000c1: {RPI_HWVER_TYPE_PI1, PERIPH_BASE_RPI, "Pi Zero W v1.1"},
	//
	// Pi 2 and 3
	//
	0xA01041: {RPI_HWVER_TYPE_PI2, PERIPH_BASE_RPI2, "Pi 2"},
	0xA21041: {RPI_HWVER_TYPE_PI2, PERIPH_BASE_RPI2, "Pi 2"},
	0xA22042: {RPI_HWVER_TYPE_PI2, PERIPH_BASE_RPI2, "Pi 2"},
	0xA02082: {RPI_HWVER_TYPE_PI2, PERIPH_BASE_RPI2, "Pi 3"},
	0xA22082: {RPI_HWVER_TYPE_PI2, PERIPH_BASE_RPI2, "Pi 3"},
	0xA020D3: {RPI_HWVER_TYPE_PI2, PERIPH_BASE_RPI2, "Pi 3 B+"},
	0x9020e0: {RPI_HWVER_TYPE_PI2, PERIPH_BASE_RPI2, "Model 3 A+"},
	0xA02100: {RPI_HWVER_TYPE_PI2, PERIPH_BASE_RPI2, "Compute Module 3+"},
}
