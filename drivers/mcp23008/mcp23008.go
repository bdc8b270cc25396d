// Package mcp23008 provides a driver for the MCP23008 8-bit I2C port
// expander. Expander inputs have no interrupt path into the host, so
// pins obtained from View() implement the poll-only pin surface and
// are sampled over the bus.
//
// NOTE: I2C.Tx MUST perform a write followed by a repeated-start read
// when both w and r are provided, without releasing the bus.
package mcp23008

import (
	"errors"
	"sync"

	"pushbutton-go/pinio"

	"tinygo.org/x/drivers"
)

// I2C base address (A0..A2 strapped low).
const Address = 0x20

// Registers (IOCON.BANK=0 layout).
const (
	regIODIR   = 0x00
	regIPOL    = 0x01
	regGPINTEN = 0x02
	regGPPU    = 0x06
	regGPIO    = 0x09
	regOLAT    = 0x0A
)

const pinCount = 8

var ErrBadPin = errors.New("mcp23008: pin out of range")

// Config selects the input set and bias. All fields are optional.
type Config struct {
	// Address defaults to 0x20 if zero.
	Address uint16
	// Inputs is a bitmask of pins configured as inputs. Zero means all
	// eight pins.
	Inputs byte
	// PullUps is a bitmask of inputs with the internal 100k pull-up
	// enabled.
	PullUps byte
	// InvertInputs flips the polarity of the given inputs in hardware
	// (IPOL), so active-low wiring reads pressed as 1.
	InvertInputs byte
}

// Device wraps an I2C connection to an MCP23008.
type Device struct {
	mu      sync.Mutex
	bus     drivers.I2C
	Address uint16
	buf     [2]byte
}

// New creates a new MCP23008 connection. The I2C bus must already be
// configured. This function only creates the Device object; it does
// not touch the device.
func New(bus drivers.I2C) *Device {
	return &Device{bus: bus, Address: Address}
}

// Configure writes the direction, polarity and pull-up registers.
func (d *Device) Configure(cfg Config) error {
	if cfg.Address != 0 {
		d.Address = cfg.Address
	}
	inputs := cfg.Inputs
	if inputs == 0 {
		inputs = 0xFF
	}
	if err := d.writeReg(regIODIR, inputs); err != nil {
		return err
	}
	if err := d.writeReg(regIPOL, cfg.InvertInputs); err != nil {
		return err
	}
	return d.writeReg(regGPPU, cfg.PullUps)
}

// ReadPins returns the GPIO register, one bit per pin.
func (d *Device) ReadPins() (byte, error) {
	return d.readReg(regGPIO)
}

// GetPin samples a single pin level.
func (d *Device) GetPin(n int) (bool, error) {
	if n < 0 || n >= pinCount {
		return false, ErrBadPin
	}
	v, err := d.ReadPins()
	if err != nil {
		return false, err
	}
	return v&(1<<uint(n)) != 0, nil
}

// SetPin drives an output pin via OLAT. Pins configured as inputs
// ignore the write.
func (d *Device) SetPin(n int, level bool) error {
	if n < 0 || n >= pinCount {
		return ErrBadPin
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	cur, err := d.readRegLocked(regOLAT)
	if err != nil {
		return err
	}
	if level {
		cur |= 1 << uint(n)
	} else {
		cur &^= 1 << uint(n)
	}
	return d.writeRegLocked(regOLAT, cur)
}

func (d *Device) writeReg(reg, val byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.writeRegLocked(reg, val)
}

func (d *Device) writeRegLocked(reg, val byte) error {
	d.buf[0] = reg
	d.buf[1] = val
	return d.bus.Tx(d.Address, d.buf[:2], nil)
}

func (d *Device) readReg(reg byte) (byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.readRegLocked(reg)
}

func (d *Device) readRegLocked(reg byte) (byte, error) {
	d.buf[0] = reg
	r := d.buf[1:2]
	if err := d.bus.Tx(d.Address, d.buf[:1], r); err != nil {
		return 0, err
	}
	return r[0], nil
}

// expanderPin adapts one expander input to the poll-only pin surface.
// Bus errors read as released; the debouncer's consecutive-sample
// requirement absorbs transient glitches.
type expanderPin struct {
	dev *Device
	n   int
}

func (p *expanderPin) Get() bool {
	v, err := p.dev.GetPin(p.n)
	if err != nil {
		return false
	}
	return v
}

func (p *expanderPin) Number() int { return p.n }

// View returns a pinio.Pin sampling the given expander input.
func (d *Device) View(n int) (pinio.Pin, error) {
	if n < 0 || n >= pinCount {
		return nil, ErrBadPin
	}
	return &expanderPin{dev: d, n: n}, nil
}
