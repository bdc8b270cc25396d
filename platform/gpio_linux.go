// platform/gpio_linux.go
//go:build linux

package platform

import (
	"sync"

	"pushbutton-go/errcode"
	"pushbutton-go/pinio"

	"github.com/warthog618/go-gpiocdev"
)

// LinePin backs a pinio.IRQPin with a kernel character-device line.
// Edge notifications are delivered by gpiocdev's event goroutine, so
// SetIRQ handlers run off the hot path and may take locks.
type LinePin struct {
	mu     sync.Mutex
	chip   string
	offset int
	pull   pinio.Pull
	line   *gpiocdev.Line
}

func (p *LinePin) Get() bool {
	p.mu.Lock()
	line := p.line
	p.mu.Unlock()
	if line == nil {
		return false
	}
	v, err := line.Value()
	if err != nil {
		return false
	}
	return v != 0
}

func (p *LinePin) Number() int { return p.offset }

// SetIRQ re-requests the line with edge detection. The kernel only
// accepts edge configuration at request time, so the existing request
// is released first.
func (p *LinePin) SetIRQ(edge pinio.Edge, handler func()) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	opts := []gpiocdev.LineReqOption{gpiocdev.AsInput}
	opts = append(opts, pullOption(p.pull)...)
	switch edge {
	case pinio.EdgeRising:
		opts = append(opts, gpiocdev.WithRisingEdge)
	case pinio.EdgeFalling:
		opts = append(opts, gpiocdev.WithFallingEdge)
	case pinio.EdgeBoth:
		opts = append(opts, gpiocdev.WithBothEdges)
	case pinio.EdgeNone:
		return p.request(opts)
	default:
		return errcode.InvalidParams
	}
	opts = append(opts, gpiocdev.WithEventHandler(func(gpiocdev.LineEvent) {
		handler()
	}))
	return p.request(opts)
}

func (p *LinePin) ClearIRQ() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	opts := append([]gpiocdev.LineReqOption{gpiocdev.AsInput}, pullOption(p.pull)...)
	return p.request(opts)
}

// request swaps the underlying line request. Caller holds p.mu.
func (p *LinePin) request(opts []gpiocdev.LineReqOption) error {
	if p.line != nil {
		p.line.Close()
		p.line = nil
	}
	line, err := gpiocdev.RequestLine(p.chip, p.offset, opts...)
	if err != nil {
		return &errcode.E{C: errcode.UnknownPin, Op: "platform.request", Err: err}
	}
	p.line = line
	return nil
}

func (p *LinePin) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.line == nil {
		return nil
	}
	err := p.line.Close()
	p.line = nil
	return err
}

func pullOption(pull pinio.Pull) []gpiocdev.LineReqOption {
	switch pull {
	case pinio.PullUp:
		return []gpiocdev.LineReqOption{gpiocdev.WithPullUp}
	case pinio.PullDown:
		return []gpiocdev.LineReqOption{gpiocdev.WithPullDown}
	default:
		return nil
	}
}

// ChipPinFactory requests lines from one gpiochip. Pins are cached so
// repeated lookups return the same request.
type ChipPinFactory struct {
	mu   sync.Mutex
	chip string
	pull pinio.Pull
	pins map[int]*LinePin
}

func NewChipPinFactory(chip string, pull pinio.Pull) (*ChipPinFactory, error) {
	if chip == "" {
		chip = "gpiochip0"
	}
	return &ChipPinFactory{
		chip: chip,
		pull: pull,
		pins: make(map[int]*LinePin),
	}, nil
}

func (f *ChipPinFactory) ByNumber(n int) (pinio.Pin, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.pins[n]
	if ok {
		return p, true
	}
	p = &LinePin{chip: f.chip, offset: n, pull: f.pull}
	if err := p.request([]gpiocdev.LineReqOption{gpiocdev.AsInput}); err != nil {
		return nil, false
	}
	f.pins[n] = p
	return p, true
}

// Close releases every requested line.
func (f *ChipPinFactory) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var first error
	for n, p := range f.pins {
		if err := p.Close(); err != nil && first == nil {
			first = err
		}
		delete(f.pins, n)
	}
	return first
}
