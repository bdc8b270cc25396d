// pinio/pinio.go
package pinio

// Pull selects the input bias for a pin.
type Pull uint8

const (
	PullNone Pull = iota
	PullUp
	PullDown
)

// Pin is the minimal surface the debouncer needs: a level sample.
// Expander-backed pins implement only this and are polled.
type Pin interface {
	Get() bool
	Number() int
}

// Edge selection for IRQ.
type Edge uint8

const (
	EdgeNone Edge = iota
	EdgeRising
	EdgeFalling
	EdgeBoth
)

// IRQPin extends Pin with level-change interrupts. The handler runs in
// interrupt-adjacent context and must not block.
type IRQPin interface {
	Pin
	SetIRQ(edge Edge, handler func()) error
	ClearIRQ() error
}

// PinFactory supplies pins by the configured number scheme.
type PinFactory interface {
	ByNumber(n int) (Pin, bool)
}

func EdgeToString(e Edge) string {
	switch e {
	case EdgeRising:
		return "rising"
	case EdgeFalling:
		return "falling"
	case EdgeBoth:
		return "both"
	default:
		return "none"
	}
}

func ParsePull(s string) Pull {
	switch s {
	case "up":
		return PullUp
	case "down":
		return PullDown
	default:
		return PullNone
	}
}
