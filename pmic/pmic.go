// Package pmic drives a PMBus voltage regulator over SMBus: the rail's
// output voltage, and the regulator's adaptive voltage loop.
package pmic

import (
	"fmt"
	"sync"

	"github.com/platinasystems/i2c"
	"github.com/platinasystems/log"
)

// PMBus commands.
const (
	PAGE         = 0x00
	OPERATION    = 0x01
	VOUT_MODE    = 0x20
	VOUT_COMMAND = 0x21
	READ_VOUT    = 0x8B

	// Manufacturer specific: adaptive voltage loop control and the table
	// index it anchors on.
	MFR_AVS_CTRL   = 0xD0
	MFR_AVS_ANCHOR = 0xD1

	avsEnable = 1 << 0
)

// busMu serialises page selection and the access that follows it across
// every Device, since pages of one regulator share an address.
var busMu sync.Mutex

type doer func(rw i2c.RW, reg uint8, size i2c.SMBusSize, data *i2c.SMBusData) error

// Device is one page of a PMBus regulator.
type Device struct {
	Bus  int
	Addr int
	Page uint8

	mu  sync.Mutex
	do  doer
	exp int8
	// modeRead is set once the VOUT_MODE exponent is known.
	modeRead bool
}

func New(bus, addr int, page uint8) *Device {
	d := &Device{Bus: bus, Addr: addr, Page: page}
	d.do = d.i2cDo
	return d
}

func (d *Device) i2cDo(rw i2c.RW, reg uint8, size i2c.SMBusSize, data *i2c.SMBusData) (err error) {
	var bus i2c.Bus

	err = bus.Open(d.Bus)
	if err != nil {
		return
	}
	defer bus.Close()

	err = bus.ForceSlaveAddress(d.Addr)
	if err != nil {
		return
	}

	err = bus.Do(rw, reg, size, data)
	return
}

// xfer selects the device's page and runs one register access.
func (d *Device) xfer(rw i2c.RW, reg uint8, size i2c.SMBusSize, data *i2c.SMBusData) error {
	busMu.Lock()
	defer busMu.Unlock()
	var page i2c.SMBusData
	page[0] = d.Page
	if err := d.do(i2c.Write, PAGE, i2c.ByteData, &page); err != nil {
		return fmt.Errorf("couldn't select page %d: %v", d.Page, err)
	}
	if err := d.do(rw, reg, size, data); err != nil {
		return fmt.Errorf("couldn't access register %02X: %v", reg, err)
	}
	return nil
}

func (d *Device) readByte(reg uint8) (uint8, error) {
	var data i2c.SMBusData
	err := d.xfer(i2c.Read, reg, i2c.ByteData, &data)
	return data[0], err
}

func (d *Device) writeByte(reg, v uint8) error {
	var data i2c.SMBusData
	data[0] = v
	return d.xfer(i2c.Write, reg, i2c.ByteData, &data)
}

func (d *Device) readWord(reg uint8) (uint16, error) {
	var data i2c.SMBusData
	err := d.xfer(i2c.Read, reg, i2c.WordData, &data)
	return uint16(data[1])<<8 | uint16(data[0]), err
}

func (d *Device) writeWord(reg uint8, v uint16) error {
	var data i2c.SMBusData
	data[0] = uint8(v)
	data[1] = uint8(v >> 8)
	return d.xfer(i2c.Write, reg, i2c.WordData, &data)
}

// exponent returns the linear16 exponent from VOUT_MODE. Only linear mode
// is supported.
func (d *Device) exponent() (int8, error) {
	if d.modeRead {
		return d.exp, nil
	}
	m, err := d.readByte(VOUT_MODE)
	if err != nil {
		return 0, err
	}
	if m>>5 != 0 {
		return 0, fmt.Errorf("VOUT_MODE %02X isn't linear", m)
	}
	// Five bit two's complement.
	d.exp = int8(m<<3) >> 3
	d.modeRead = true
	log.Printf("info", "pmic %d-%02x page %d: VOUT exponent %d", d.Bus, d.Addr, d.Page, d.exp)
	return d.exp, nil
}

// toLinear16 converts uV to a mantissa, rounding up.
func toLinear16(uv uint32, exp int8) (uint16, error) {
	var m uint64
	if exp <= 0 {
		n := uint64(uv) << uint(-exp)
		m = (n + 999999) / 1000000
	} else {
		div := uint64(1000000) << uint(exp)
		m = (uint64(uv) + div - 1) / div
	}
	if m > 0xffff {
		return 0, fmt.Errorf("%duV doesn't fit with exponent %d", uv, exp)
	}
	return uint16(m), nil
}

func fromLinear16(m uint16, exp int8) uint32 {
	if exp <= 0 {
		return uint32((uint64(m) * 1000000) >> uint(-exp))
	}
	return uint32((uint64(m) * 1000000) << uint(exp))
}

// SetVoltage commands the rail to at least volt uV.
func (d *Device) SetVoltage(volt uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	exp, err := d.exponent()
	if err != nil {
		return err
	}
	m, err := toLinear16(volt, exp)
	if err != nil {
		return err
	}
	return d.writeWord(VOUT_COMMAND, m)
}

// Voltage reads the rail back in uV.
func (d *Device) Voltage() (uint32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	exp, err := d.exponent()
	if err != nil {
		return 0, err
	}
	m, err := d.readWord(READ_VOUT)
	if err != nil {
		return 0, err
	}
	return fromLinear16(m, exp), nil
}

// ClosedLoop holds the regulator's adaptive loop off during transitions.
type ClosedLoop struct {
	d *Device
}

func (d *Device) ClosedLoop() *ClosedLoop {
	return &ClosedLoop{d}
}

func (c *ClosedLoop) Start() error {
	c.d.mu.Lock()
	defer c.d.mu.Unlock()
	v, err := c.d.readByte(MFR_AVS_CTRL)
	if err != nil {
		return err
	}
	return c.d.writeByte(MFR_AVS_CTRL, v&^avsEnable)
}

func (c *ClosedLoop) Stop(index int) error {
	if index < 0 || index > 0xff {
		return fmt.Errorf("anchor index %d out of range", index)
	}
	c.d.mu.Lock()
	defer c.d.mu.Unlock()
	if err := c.d.writeByte(MFR_AVS_ANCHOR, uint8(index)); err != nil {
		return err
	}
	v, err := c.d.readByte(MFR_AVS_CTRL)
	if err != nil {
		return err
	}
	return c.d.writeByte(MFR_AVS_CTRL, v|avsEnable)
}
