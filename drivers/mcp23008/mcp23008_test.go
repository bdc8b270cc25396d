package mcp23008

import (
	"sync"
	"testing"
)

// fakeI2C emulates the register file of a single expander at one
// address. Tx with both w and r performs the write/repeated-start-read
// sequence the driver relies on.
type fakeI2C struct {
	mu   sync.Mutex
	addr uint16
	regs [16]byte
}

func (f *fakeI2C) Tx(addr uint16, w, r []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if addr != f.addr {
		return errNoAck
	}
	if len(w) == 2 && len(r) == 0 {
		f.regs[w[0]&0x0F] = w[1]
		return nil
	}
	if len(w) == 1 && len(r) == 1 {
		r[0] = f.regs[w[0]&0x0F]
		return nil
	}
	return errNoAck
}

func (f *fakeI2C) setInput(n int, level bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if level {
		f.regs[regGPIO] |= 1 << uint(n)
	} else {
		f.regs[regGPIO] &^= 1 << uint(n)
	}
}

var errNoAck = errBus("no ack")

type errBus string

func (e errBus) Error() string { return string(e) }

func TestConfigure_WritesDirectionAndPulls(t *testing.T) {
	bus := &fakeI2C{addr: Address}
	d := New(bus)

	err := d.Configure(Config{Inputs: 0x0F, PullUps: 0x0F, InvertInputs: 0x03})
	if err != nil {
		t.Fatalf("Configure: %v", err)
	}
	if bus.regs[regIODIR] != 0x0F {
		t.Fatalf("IODIR = %#x, want 0x0f", bus.regs[regIODIR])
	}
	if bus.regs[regGPPU] != 0x0F {
		t.Fatalf("GPPU = %#x, want 0x0f", bus.regs[regGPPU])
	}
	if bus.regs[regIPOL] != 0x03 {
		t.Fatalf("IPOL = %#x, want 0x03", bus.regs[regIPOL])
	}
}

func TestConfigure_DefaultsToAllInputs(t *testing.T) {
	bus := &fakeI2C{addr: Address}
	if err := New(bus).Configure(Config{}); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	if bus.regs[regIODIR] != 0xFF {
		t.Fatalf("IODIR = %#x, want 0xff", bus.regs[regIODIR])
	}
}

func TestView_SamplesGPIORegister(t *testing.T) {
	bus := &fakeI2C{addr: Address}
	d := New(bus)
	if err := d.Configure(Config{}); err != nil {
		t.Fatalf("Configure: %v", err)
	}

	p, err := d.View(3)
	if err != nil {
		t.Fatalf("View: %v", err)
	}
	if p.Get() {
		t.Fatal("pin reads high before being driven")
	}
	bus.setInput(3, true)
	if !p.Get() {
		t.Fatal("pin did not follow GPIO bit")
	}
	if p.Number() != 3 {
		t.Fatalf("wrong pin number: %d", p.Number())
	}

	if _, err := d.View(8); err != ErrBadPin {
		t.Fatalf("expected ErrBadPin, got %v", err)
	}
}

func TestView_BusErrorReadsReleased(t *testing.T) {
	bus := &fakeI2C{addr: 0x27} // nothing at the default address
	d := New(bus)
	p, err := d.View(0)
	if err != nil {
		t.Fatalf("View: %v", err)
	}
	if p.Get() {
		t.Fatal("bus error must read as released")
	}
}

func TestSetPin_UpdatesOLAT(t *testing.T) {
	bus := &fakeI2C{addr: Address}
	d := New(bus)

	if err := d.SetPin(2, true); err != nil {
		t.Fatalf("SetPin: %v", err)
	}
	if bus.regs[regOLAT] != 0x04 {
		t.Fatalf("OLAT = %#x, want 0x04", bus.regs[regOLAT])
	}
	if err := d.SetPin(2, false); err != nil {
		t.Fatalf("SetPin: %v", err)
	}
	if bus.regs[regOLAT] != 0x00 {
		t.Fatalf("OLAT = %#x, want 0x00", bus.regs[regOLAT])
	}
	if err := d.SetPin(9, true); err != ErrBadPin {
		t.Fatalf("expected ErrBadPin, got %v", err)
	}
}
