// button/button.go
package button

import (
	"sync"
	"time"

	"pushbutton-go/errcode"
	"pushbutton-go/pinio"
	"pushbutton-go/x/mathx"
)

// Debounce state machine. A transition commits only after targetPolls
// consecutive agreeing samples; any disagreement restarts the count.
type state uint8

const (
	stateReleased state = iota
	stateConfirmingPress
	statePressing
	statePressed
	stateWaitingForRelease
	stateReleasing
)

func (s state) String() string {
	switch s {
	case stateReleased:
		return "released"
	case stateConfirmingPress:
		return "confirming_press"
	case statePressing:
		return "pressing"
	case statePressed:
		return "pressed"
	case stateWaitingForRelease:
		return "waiting_for_release"
	case stateReleasing:
		return "releasing"
	default:
		return "invalid"
	}
}

// Defaults match the usual mechanical push-button timings.
const (
	DefaultLongPress   = 750 * time.Millisecond
	DefaultAutoRepeat  = 250 * time.Millisecond
	DefaultDoubleClick = 333 * time.Millisecond
	DefaultDebounce    = 8 * time.Millisecond
	DefaultTargetPolls = 10

	minInterval = 10 * time.Millisecond
	maxInterval = time.Minute
	minPoll     = 100 * time.Microsecond
)

// Config carries per-button construction settings. Zero values select
// the defaults above.
type Config struct {
	// PressedLevel is the raw pin level read as "pressed"
	// (false for active-low wiring with a pull-up).
	PressedLevel bool
	LongPress    time.Duration
	AutoRepeat   time.Duration
	DoubleClick  time.Duration
	// Debounce is the total settle time; the pin is sampled
	// TargetPolls times across it.
	Debounce    time.Duration
	TargetPolls int
}

// Button debounces one physical push-button and feeds detected events
// to the shared Dispatcher.
//
// Poll and timer callbacks run on timer goroutines and are serialized
// by the button's own mutex; they only ever enqueue, so the lock is
// never held across a user action.
type Button struct {
	id           string
	pin          pinio.Pin
	irq          pinio.IRQPin // nil for poll-only pins
	pressedLevel bool
	disp         *Dispatcher
	menuCount    int

	mu            sync.Mutex
	state         state
	validPolls    int
	totalPolls    uint32
	targetPolls   int
	eventMask     uint16
	suppressClick bool // long press fired; swallow the trailing click
	pendingDouble bool
	doubleLevel   int // menu level captured when the window was armed
	repeating     bool
	polling       bool
	lpArmed       bool
	closed        bool

	longPress    time.Duration
	autoRepeat   time.Duration
	doubleClick  time.Duration
	pollInterval time.Duration

	pollTimer   *time.Timer
	pressTimer  *time.Timer // long-press, then auto-repeat cadence
	doubleTimer *time.Timer

	table bindingTable
}

// New constructs a button on pin. Constructing any button freezes the
// dispatcher's menu count. If the pin supports interrupts the poll
// timer is armed on demand by the edge handler; otherwise polling
// free-runs at the poll interval.
//
// Setup failures (IRQ attach) are returned here rather than silently
// disabling the feature later.
func New(d *Dispatcher, id string, pin pinio.Pin, cfg Config) (*Button, error) {
	if d == nil || pin == nil || id == "" {
		return nil, errcode.InvalidParams
	}
	if cfg.LongPress == 0 {
		cfg.LongPress = DefaultLongPress
	}
	if cfg.AutoRepeat == 0 {
		cfg.AutoRepeat = DefaultAutoRepeat
	}
	if cfg.DoubleClick == 0 {
		cfg.DoubleClick = DefaultDoubleClick
	}
	if cfg.Debounce == 0 {
		cfg.Debounce = DefaultDebounce
	}
	if cfg.TargetPolls <= 0 {
		cfg.TargetPolls = DefaultTargetPolls
	}

	b := &Button{
		id:           id,
		pin:          pin,
		pressedLevel: cfg.PressedLevel,
		disp:         d,
		state:        stateReleased,
		targetPolls:  cfg.TargetPolls,
		eventMask:    defaultEventMask,
		longPress:    mathx.Clamp(cfg.LongPress, minInterval, maxInterval),
		autoRepeat:   mathx.Clamp(cfg.AutoRepeat, minInterval, maxInterval),
		doubleClick:  mathx.Clamp(cfg.DoubleClick, minInterval, maxInterval),
		pollInterval: mathx.Clamp(cfg.Debounce/time.Duration(cfg.TargetPolls), minPoll, maxInterval),
	}
	b.menuCount = d.lockMenus()
	b.pollTimer = newStoppedTimer(b.onPollTimer)
	b.pressTimer = newStoppedTimer(b.onPressTimer)
	b.doubleTimer = newStoppedTimer(b.onDoubleTimer)

	if irq, ok := pin.(pinio.IRQPin); ok {
		if err := irq.SetIRQ(pinio.EdgeBoth, b.onEdge); err != nil {
			return nil, err
		}
		b.irq = irq
	} else {
		b.polling = true
		b.pollTimer.Reset(b.pollInterval)
	}
	return b, nil
}

func (b *Button) ID() string { return b.id }

// Level reports the current logical state (true = pressed), sampled
// directly from the pin.
func (b *Button) Level() bool { return b.pin.Get() == b.pressedLevel }

// Close cancels all three timers and detaches the interrupt. Actions
// this button already enqueued still run; nothing new is enqueued.
func (b *Button) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.polling = false
	b.lpArmed = false
	b.pendingDouble = false
	b.pollTimer.Stop()
	b.pressTimer.Stop()
	b.doubleTimer.Stop()
	b.mu.Unlock()

	if b.irq != nil {
		return b.irq.ClearIRQ()
	}
	return nil
}

// ----------------------------------------------------------------------------
// Event mask
// ----------------------------------------------------------------------------

func (b *Button) EnableEvent(ev Event) error {
	if !ev.Valid() {
		return errcode.InvalidEvent
	}
	b.mu.Lock()
	b.eventMask |= ev.bit()
	b.mu.Unlock()
	return nil
}

func (b *Button) DisableEvent(ev Event) error {
	if !ev.Valid() {
		return errcode.InvalidEvent
	}
	b.mu.Lock()
	b.eventMask &^= ev.bit()
	b.mu.Unlock()
	return nil
}

func (b *Button) EventEnabled(ev Event) bool {
	if !ev.Valid() {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.eventMask&ev.bit() != 0
}

// ----------------------------------------------------------------------------
// Intervals
// ----------------------------------------------------------------------------

// Interval setters take effect the next time the timer is armed.

func (b *Button) SetLongPressInterval(d time.Duration) {
	b.mu.Lock()
	b.longPress = mathx.Clamp(d, minInterval, maxInterval)
	b.mu.Unlock()
}

func (b *Button) LongPressInterval() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.longPress
}

func (b *Button) SetAutoRepeatInterval(d time.Duration) {
	b.mu.Lock()
	b.autoRepeat = mathx.Clamp(d, minInterval, maxInterval)
	b.mu.Unlock()
}

func (b *Button) AutoRepeatInterval() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.autoRepeat
}

func (b *Button) SetDoubleClickInterval(d time.Duration) {
	b.mu.Lock()
	b.doubleClick = mathx.Clamp(d, minInterval, maxInterval)
	b.mu.Unlock()
}

func (b *Button) DoubleClickInterval() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.doubleClick
}

// ----------------------------------------------------------------------------
// Bindings
// ----------------------------------------------------------------------------

// Bind stores action for (ev, level). Binding LongKeyPress,
// AutoRepeatPress or DoubleClick also enables that event; the basic
// edge and click events are enabled by default.
func (b *Button) Bind(ev Event, level int, action Action) error {
	if !ev.Valid() {
		return errcode.InvalidEvent
	}
	if level < 0 || level >= b.menuCount {
		return errcode.InvalidMenuLevel
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.table.ensure(b.menuCount)
	b.table.set(ev, level, action)
	switch ev {
	case LongKeyPress, AutoRepeatPress, DoubleClick:
		b.eventMask |= ev.bit()
	}
	return nil
}

// BindHere binds at the dispatcher's current menu level.
func (b *Button) BindHere(ev Event, action Action) error {
	return b.Bind(ev, b.disp.MenuLevel(), action)
}

// Unbind clears (ev, level). A dispatch already in flight completes;
// nothing new resolves the action.
func (b *Button) Unbind(ev Event, level int) error {
	if !ev.Valid() {
		return errcode.InvalidEvent
	}
	if level < 0 || level >= b.menuCount {
		return errcode.InvalidMenuLevel
	}
	b.mu.Lock()
	b.table.clear(ev, level)
	b.mu.Unlock()
	return nil
}

// UnbindHere unbinds at the dispatcher's current menu level.
func (b *Button) UnbindHere(ev Event) error {
	return b.Unbind(ev, b.disp.MenuLevel())
}

// Trigger injects a synthetic event through the normal dispatch path.
// Unbound or disabled cells are a silent no-op.
func (b *Button) Trigger(ev Event, level int) error {
	if !ev.Valid() {
		return errcode.InvalidEvent
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return errcode.ButtonClosed
	}
	b.emit(ev, level)
	return nil
}

// TriggerHere injects at the dispatcher's current menu level.
func (b *Button) TriggerHere(ev Event) error {
	return b.Trigger(ev, b.disp.MenuLevel())
}

// emit resolves and dispatches one event. Caller holds b.mu. The lock
// is released before any action runs: submit and observe only enqueue.
func (b *Button) emit(ev Event, level int) {
	if b.closed || b.eventMask&ev.bit() == 0 {
		return
	}
	b.disp.observe(Record{Button: b.id, Event: ev, MenuLevel: level, TS: time.Now()})
	if act := b.table.get(ev, level); act != nil {
		b.disp.submit(ev, act)
	}
}

// ----------------------------------------------------------------------------
// Debounce state machine
// ----------------------------------------------------------------------------

// onEdge is the interrupt trampoline: it only kicks the poll timer.
// All business logic lives in the poll path.
func (b *Button) onEdge() {
	b.mu.Lock()
	if !b.closed && !b.polling {
		b.polling = true
		b.pollTimer.Reset(b.pollInterval)
	}
	b.mu.Unlock()
}

func (b *Button) onPollTimer() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed || !b.polling {
		return
	}
	b.poll(b.pin.Get())
	if b.polling {
		b.pollTimer.Reset(b.pollInterval)
	}
}

// poll advances the state machine by one sample. Caller holds b.mu.
func (b *Button) poll(raw bool) {
	sample := raw == b.pressedLevel
	b.totalPolls++

	switch b.state {
	case stateReleased:
		if sample {
			b.state = stateConfirmingPress
			b.validPolls = 1
			if b.validPolls >= b.targetPolls {
				b.commitPress()
			}
		} else if b.irq != nil {
			// Fully idle again; the next edge re-arms polling.
			b.polling = false
		}

	case stateConfirmingPress:
		if !sample {
			// Provisional press evaporated; debounce restarts on the
			// next pressed sample.
			b.state = stateReleased
			b.validPolls = 0
			return
		}
		b.validPolls++
		if b.validPolls >= b.targetPolls {
			b.commitPress()
		}

	case statePressing, statePressed, stateWaitingForRelease:
		if !sample {
			b.state = stateReleasing
			b.validPolls = 1
			if b.validPolls >= b.targetPolls {
				b.commitRelease()
			}
		} else if b.state == statePressing {
			b.state = statePressed
		}

	case stateReleasing:
		if sample {
			// Bounced back to held; restart the release debounce.
			if b.suppressClick {
				b.state = stateWaitingForRelease
			} else {
				b.state = statePressed
			}
			b.validPolls = 0
			return
		}
		b.validPolls++
		if b.validPolls >= b.targetPolls {
			b.commitRelease()
		}
	}
}

// commitPress runs on a confirmed press edge. Caller holds b.mu.
func (b *Button) commitPress() {
	b.state = statePressing
	b.validPolls = 0
	b.repeating = false
	b.lpArmed = true
	b.pressTimer.Reset(b.longPress)
	b.emit(KeyDown, b.disp.MenuLevel())
}

// commitRelease runs on a confirmed release edge. Caller holds b.mu.
func (b *Button) commitRelease() {
	// Cancel long-press/auto-repeat before any KeyUp-dependent logic
	// so a stale firing cannot leak into the next cycle.
	b.lpArmed = false
	b.repeating = false
	b.pressTimer.Stop()

	b.state = stateReleased
	b.validPolls = 0

	level := b.disp.MenuLevel()
	b.emit(KeyUp, level)

	switch {
	case b.suppressClick:
		b.suppressClick = false

	case b.pendingDouble:
		// Second click landed inside the window.
		b.pendingDouble = false
		b.doubleTimer.Stop()
		b.emit(DoubleClick, b.doubleLevel)

	case b.doubleClickArmable(level):
		// Defer the click decision until the window closes.
		b.pendingDouble = true
		b.doubleLevel = level
		b.doubleTimer.Reset(b.doubleClick)

	default:
		b.emit(KeyPress, level)
	}

	if b.irq != nil {
		b.polling = false
	}
}

// doubleClickArmable reports whether a double-click outcome is even
// possible for this cycle. Caller holds b.mu.
func (b *Button) doubleClickArmable(level int) bool {
	return b.eventMask&DoubleClick.bit() != 0 && b.table.get(DoubleClick, level) != nil
}

// onPressTimer fires once at the long-press interval, then at the
// auto-repeat cadence until release is confirmed.
func (b *Button) onPressTimer() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed || !b.lpArmed {
		return // cancelled while this callback waited on the lock
	}
	level := b.disp.MenuLevel()
	if !b.repeating {
		b.repeating = true
		b.suppressClick = true
		if b.state == statePressing || b.state == statePressed {
			b.state = stateWaitingForRelease
		}
		b.emit(LongKeyPress, level)
	} else {
		b.emit(AutoRepeatPress, level)
	}
	b.pressTimer.Reset(b.autoRepeat)
}

// onDoubleTimer fires when the double-click window closes with no
// second click: the deferred KeyPress goes out at the level captured
// when the window was armed.
func (b *Button) onDoubleTimer() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed || !b.pendingDouble {
		return
	}
	b.pendingDouble = false
	b.emit(KeyPress, b.doubleLevel)
}

// ----------------------------------------------------------------------------
// Telemetry
// ----------------------------------------------------------------------------

// Snapshot is a point-in-time view for telemetry publishing.
type Snapshot struct {
	ID         string
	State      string
	Pressed    bool
	TotalPolls uint32
	EventMask  uint16
}

func (b *Button) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		ID:         b.id,
		State:      b.state.String(),
		Pressed:    b.state == statePressing || b.state == statePressed || b.state == stateWaitingForRelease,
		TotalPolls: b.totalPolls,
		EventMask:  b.eventMask,
	}
}
