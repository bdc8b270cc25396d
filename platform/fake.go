// platform/fake.go
package platform

import (
	"sync"
	"time"

	"pushbutton-go/pinio"
)

// FakePin implements pinio.IRQPin for host-side tests and the fake
// backend. Set drives the level and fires the configured IRQ handler
// the way real hardware would.
type FakePin struct {
	mu       sync.RWMutex
	number   int
	level    bool
	irqEdge  pinio.Edge
	irqFunc  func()
	debounce time.Duration
	lastIRQ  time.Time
}

func (p *FakePin) Set(level bool) {
	p.mu.Lock()
	old := p.level
	p.level = level
	edge := edgeFrom(old, level)
	irq := p.irqFunc
	want := irqWanted(p.irqEdge, edge)
	deb := p.debounce
	last := p.lastIRQ
	now := time.Now()
	if want && (deb == 0 || now.Sub(last) >= deb) {
		p.lastIRQ = now
		p.mu.Unlock()
		if irq != nil {
			irq() // ISR-style callback
		}
		return
	}
	p.mu.Unlock()
}

func (p *FakePin) Get() bool {
	p.mu.RLock()
	v := p.level
	p.mu.RUnlock()
	return v
}

func (p *FakePin) Toggle() { p.Set(!p.Get()) }

func (p *FakePin) Number() int { return p.number }

func (p *FakePin) SetIRQ(edge pinio.Edge, handler func()) error {
	p.mu.Lock()
	p.irqEdge = edge
	p.irqFunc = handler
	p.mu.Unlock()
	return nil
}

func (p *FakePin) ClearIRQ() error {
	p.mu.Lock()
	p.irqEdge = pinio.EdgeNone
	p.irqFunc = nil
	p.mu.Unlock()
	return nil
}

func edgeFrom(old, new bool) pinio.Edge {
	switch {
	case !old && new:
		return pinio.EdgeRising
	case old && !new:
		return pinio.EdgeFalling
	default:
		return pinio.EdgeNone
	}
}

func irqWanted(cfg, seen pinio.Edge) bool {
	switch cfg {
	case pinio.EdgeBoth:
		return seen == pinio.EdgeRising || seen == pinio.EdgeFalling
	default:
		return cfg == seen
	}
}

// HostPinFactory returns stable *FakePin instances per number.
type HostPinFactory struct {
	mu   sync.Mutex
	pins map[int]*FakePin
}

func NewHostPinFactory() *HostPinFactory {
	return &HostPinFactory{pins: make(map[int]*FakePin)}
}

func (f *HostPinFactory) ByNumber(n int) (pinio.Pin, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pins == nil {
		f.pins = make(map[int]*FakePin)
	}
	p, ok := f.pins[n]
	if !ok {
		p = &FakePin{number: n}
		f.pins[n] = p
	}
	return p, true
}

// Get exposes the underlying *FakePin for tests (e.g. to drive edges).
func (f *HostPinFactory) Get(n int) (*FakePin, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.pins[n]
	return p, ok
}
