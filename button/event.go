// button/event.go
package button

import "pushbutton-go/errcode"

// Event identifies one detectable outcome of a button cycle.
//
// KeyDown and KeyUp fire on every confirmed edge. KeyPress,
// LongKeyPress, AutoRepeatPress and DoubleClick are derived outcomes
// of a press/release cycle; apart from AutoRepeatPress they are
// mutually exclusive within one cycle.
type Event uint8

const (
	KeyDown Event = iota
	KeyUp
	KeyPress
	LongKeyPress
	AutoRepeatPress
	DoubleClick

	numEvents // sizes the binding table; not an event
)

func (e Event) Valid() bool { return e < numEvents }

func (e Event) String() string {
	switch e {
	case KeyDown:
		return "key_down"
	case KeyUp:
		return "key_up"
	case KeyPress:
		return "key_press"
	case LongKeyPress:
		return "long_key_press"
	case AutoRepeatPress:
		return "auto_repeat_press"
	case DoubleClick:
		return "double_click"
	default:
		return "invalid"
	}
}

// ParseEvent maps a wire name back to an Event.
func ParseEvent(s string) (Event, error) {
	for e := KeyDown; e < numEvents; e++ {
		if e.String() == s {
			return e, nil
		}
	}
	return 0, errcode.InvalidEvent
}

func (e Event) bit() uint16 { return 1 << e }

// Events enabled out of the box. The long-press family and
// double-click are opt-in via Bind.
const defaultEventMask = uint16(1<<KeyDown | 1<<KeyUp | 1<<KeyPress)

// Mode selects how resolved actions are delivered.
type Mode uint8

const (
	// ModeAsynchronous runs every action on the dispatcher's worker.
	ModeAsynchronous Mode = iota
	// ModeHybrid runs KeyDown/KeyUp on the worker and batches the rest
	// for ProcessSyncEvents.
	ModeHybrid
	// ModeSynchronous batches every action for ProcessSyncEvents.
	ModeSynchronous
)

func (m Mode) Valid() bool { return m <= ModeSynchronous }

func (m Mode) String() string {
	switch m {
	case ModeAsynchronous:
		return "asynchronous"
	case ModeHybrid:
		return "hybrid"
	case ModeSynchronous:
		return "synchronous"
	default:
		return "invalid"
	}
}

// ParseMode maps a wire name back to a Mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "asynchronous":
		return ModeAsynchronous, nil
	case "hybrid":
		return ModeHybrid, nil
	case "synchronous":
		return ModeSynchronous, nil
	default:
		return 0, errcode.InvalidMode
	}
}

// Action is an application-supplied callable. Actions only ever run in
// task context (the dispatcher worker or the caller's drain loop),
// never in poll/timer context, so they may block.
type Action func()
