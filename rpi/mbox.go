package rpi

import (
	"errors"
	"fmt"
	"os"
	"path"

	"golang.org/x/sys/unix"
)

// The mailbox property interface is documented at
// https://github.com/raspberrypi/firmware/wiki/Mailbox-property-interface

const (
	VIDEOCORE_MAJOR_NUM = 100
	VCIO_FILE           = "/dev/vcio"
	MBOX_DEV            = 100 << 20 // Assumes devices have 12-bit major, 20-bit minor numbers
	MBOX_MODE           = 0600
)

const (
	TAG_GET_CLOCK_RATE     = 0x00030002
	TAG_SET_CLOCK_RATE     = 0x00038002
	TAG_GET_MAX_CLOCK_RATE = 0x00030004
	TAG_GET_MIN_CLOCK_RATE = 0x00030007
	TAG_GET_VOLTAGE        = 0x00030003
	TAG_SET_VOLTAGE        = 0x00038003

	mboxRequest   = 0x00000000
	mboxSuccess   = 0x80000000
	mboxResponse  = 0x80000000
	voltInvalidID = 0x80000000
)

// Firmware clock ids.
const (
	CLOCK_ARM   = 3
	CLOCK_CORE  = 4
	CLOCK_SDRAM = 8
)

// Firmware voltage ids.
const (
	VOLT_CORE    = 1
	VOLT_SDRAM_C = 2
	VOLT_SDRAM_P = 3
	VOLT_SDRAM_I = 4
)

type mailbox interface {
	property(buf []uint32) error
	Close() error
}

type vcio struct {
	f *os.File
}

// mboxOpenTemp creates a temporary device node for ioctl-ing with the mailbox, opens it and
// immediately removes the node once it's open.
func mboxOpenTemp() (*os.File, error) {
	tf := path.Join(os.TempDir(), fmt.Sprintf("mailbox-%d", os.Getpid()))
	err := os.Remove(tf)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("couldn't remove temp mbox: %v", err)
	}
	err = unix.Mknod(tf, unix.S_IFCHR|MBOX_MODE, MBOX_DEV)
	if err != nil {
		return nil, fmt.Errorf("couldn't make device node: %v", err)
	}
	f, err := os.OpenFile(tf, os.O_RDONLY, os.ModePerm)
	if err != nil {
		return nil, fmt.Errorf("couldn't open temp mbox: %v", err)
	}
	err = os.Remove(tf)
	if err != nil {
		f.Close() // Ignore error
		return nil, fmt.Errorf("couldn't remove temp mbox: %v", err)
	}
	return f, nil
}

// mboxOpen opens /dev/vcio for ioctl-ing with the mailbox. If that doesn't exist, it passes instead
// to mboxOpenTemp to get a temporary node.
func mboxOpen() (*vcio, error) {
	f, err := os.OpenFile(VCIO_FILE, os.O_RDONLY, os.ModePerm)
	if os.IsNotExist(err) {
		f, err = mboxOpenTemp()
	}
	if err != nil {
		return nil, fmt.Errorf("couldn't open mbox: %v", err)
	}
	return &vcio{f}, nil
}

func (m *vcio) Close() error {
	return m.f.Close()
}

// property uses ioctl to send messages via the mailbox
func (m *vcio) property(buf []uint32) error {
	if m.f == nil {
		return errors.New("mailbox not open")
	}
	mboxProperty := iowr(VIDEOCORE_MAJOR_NUM, 0, uintptr(0))
	err := ioctlArrUint32(m.f.Fd(), mboxProperty, buf)
	if err != nil {
		return fmt.Errorf("failed ioctl mbox property: %v", err)
	}
	return nil
}

// property sends a single tag and returns its response value. resp is the
// number of words the firmware's response needs; the value buffer is sized
// for whichever of request and response is longer.
func (rp *RPi) property(tag uint32, resp int, vals ...uint32) ([]uint32, error) {
	n := len(vals)
	if resp > n {
		n = resp
	}
	p := make([]uint32, 0, 6+n)
	p = append(p, 0)           // size
	p = append(p, mboxRequest) // process request
	p = append(p, tag)
	p = append(p, uint32(n*4)) // size of the value buffer
	p = append(p, 0)           // bit 31 cleared, rest is reserved
	p = append(p, vals...)
	for len(p) < 5+n {
		p = append(p, 0)
	}
	p = append(p, 0) // no more tags
	p[0] = uint32(len(p) * 4)

	err := rp.mbox.property(p)
	if err != nil {
		return nil, fmt.Errorf("mboxProperty failed: %v", err)
	}
	if p[1] != mboxSuccess {
		return nil, fmt.Errorf("request not processed: %08X", p[1])
	}
	if p[4]&mboxResponse == 0 {
		return nil, fmt.Errorf("response tag unset: %v", p[4])
	}
	got := int(p[4]&^mboxResponse) / 4
	if got < resp || got > n {
		return nil, fmt.Errorf("tag %08X response has %d words, want %d", tag, got, resp)
	}
	return p[5 : 5+got], nil
}

func (rp *RPi) clockTag(tag, id uint32, vals ...uint32) (uint32, error) {
	r, err := rp.property(tag, 2, append([]uint32{id}, vals...)...)
	if err != nil {
		return 0, err
	}
	if r[0] != id {
		return 0, fmt.Errorf("response for clock %d, want %d", r[0], id)
	}
	return r[1], nil
}

// ClockRate returns the rate of a firmware clock in Hz. 0 means the clock
// doesn't exist.
func (rp *RPi) ClockRate(id uint32) (uint32, error) {
	return rp.clockTag(TAG_GET_CLOCK_RATE, id)
}

// SetClockRate asks the firmware for a new rate in Hz and returns the rate
// it actually set. Turbo settings are left alone.
func (rp *RPi) SetClockRate(id, hz uint32) (uint32, error) {
	return rp.clockTag(TAG_SET_CLOCK_RATE, id, hz, 1)
}

func (rp *RPi) MaxClockRate(id uint32) (uint32, error) {
	return rp.clockTag(TAG_GET_MAX_CLOCK_RATE, id)
}

func (rp *RPi) MinClockRate(id uint32) (uint32, error) {
	return rp.clockTag(TAG_GET_MIN_CLOCK_RATE, id)
}

// The firmware counts voltages as an offset from 1.2V in steps of 0.025V.
const (
	voltBase = 1200000
	voltStep = 25000
)

// voltToOffset rounds up, so the rail is never set below what was asked
// for.
func voltToOffset(uv uint32) int32 {
	d := int64(uv) - voltBase
	off := d / voltStep
	if d%voltStep > 0 {
		off++
	}
	return int32(off)
}

func offsetToVolt(off int32) uint32 {
	return uint32(voltBase + int64(off)*voltStep)
}

func (rp *RPi) voltageTag(tag, id uint32, vals ...uint32) (uint32, error) {
	r, err := rp.property(tag, 2, append([]uint32{id}, vals...)...)
	if err != nil {
		return 0, err
	}
	if r[0] != id {
		return 0, fmt.Errorf("response for voltage %d, want %d", r[0], id)
	}
	if r[1] == voltInvalidID {
		return 0, fmt.Errorf("invalid voltage id %d", id)
	}
	return offsetToVolt(int32(r[1])), nil
}

// Voltage returns a firmware rail in uV.
func (rp *RPi) Voltage(id uint32) (uint32, error) {
	return rp.voltageTag(TAG_GET_VOLTAGE, id)
}

// SetVoltage sets a firmware rail to at least uv and returns the voltage
// the firmware settled on.
func (rp *RPi) SetVoltage(id, uv uint32) (uint32, error) {
	return rp.voltageTag(TAG_SET_VOLTAGE, id, uint32(voltToOffset(uv)))
}
