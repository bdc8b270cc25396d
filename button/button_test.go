package button

import (
	"sync"
	"testing"
	"time"

	"pushbutton-go/pinio"
)

// fake pins, in the style of the hal worker tests

type fakePin struct {
	mu    sync.Mutex
	level bool
	n     int
}

func (p *fakePin) Get() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.level
}

func (p *fakePin) Number() int { return p.n }

func (p *fakePin) set(level bool) {
	p.mu.Lock()
	p.level = level
	p.mu.Unlock()
}

type fakeIRQPin struct {
	fakePin
	h func()
}

func (p *fakeIRQPin) SetIRQ(edge pinio.Edge, handler func()) error { p.h = handler; return nil }
func (p *fakeIRQPin) ClearIRQ() error                              { p.h = nil; return nil }

// trigger simulates a hardware edge: set level then run the handler.
func (p *fakeIRQPin) trigger(level bool) {
	p.set(level)
	if p.h != nil {
		p.h()
	}
}

var _ pinio.IRQPin = (*fakeIRQPin)(nil)

// pollN steps the state machine directly, bypassing the poll timer.
func pollN(b *Button, pressed bool, n int) {
	for i := 0; i < n; i++ {
		b.mu.Lock()
		b.poll(pressed)
		b.mu.Unlock()
	}
}

func recvRecord(t *testing.T, ch <-chan Record, d time.Duration) (Record, bool) {
	t.Helper()
	select {
	case r := <-ch:
		return r, true
	case <-time.After(d):
		return Record{}, false
	}
}

// drainRecords collects every record that arrives within d.
func drainRecords(ch <-chan Record, d time.Duration) []Record {
	var out []Record
	deadline := time.After(d)
	for {
		select {
		case r := <-ch:
			out = append(out, r)
		case <-deadline:
			return out
		}
	}
}

func newTestButton(t *testing.T, cfg Config) (*Button, *fakeIRQPin, chan Record) {
	t.Helper()
	sink := make(chan Record, 64)
	d := NewDispatcher(DispatcherConfig{Mode: ModeSynchronous, Sink: sink})
	p := &fakeIRQPin{}
	p.level = !cfg.PressedLevel // start released
	b, err := New(d, "btn0", p, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { b.Close() })
	return b, p, sink
}

func TestDebounce_CommitsAfterExactlyTargetPolls(t *testing.T) {
	b, _, sink := newTestButton(t, Config{PressedLevel: true, TargetPolls: 10})

	// Nine agreeing samples: no commit yet.
	pollN(b, true, 9)
	if _, ok := recvRecord(t, sink, 10*time.Millisecond); ok {
		t.Fatal("commit before targetPolls agreeing samples")
	}

	// One disagreement resets the count entirely.
	pollN(b, false, 1)
	pollN(b, true, 9)
	if _, ok := recvRecord(t, sink, 10*time.Millisecond); ok {
		t.Fatal("commit despite reset agreement counter")
	}

	// The tenth consecutive agreeing sample commits.
	pollN(b, true, 1)
	r, ok := recvRecord(t, sink, 100*time.Millisecond)
	if !ok || r.Event != KeyDown {
		t.Fatalf("expected KeyDown on commit, got %+v ok=%v", r, ok)
	}
}

func TestPressRelease_EmitsDownUpPress(t *testing.T) {
	b, _, sink := newTestButton(t, Config{PressedLevel: true, TargetPolls: 3})

	pollN(b, true, 3)
	pollN(b, false, 3)

	want := []Event{KeyDown, KeyUp, KeyPress}
	for _, ev := range want {
		r, ok := recvRecord(t, sink, 100*time.Millisecond)
		if !ok || r.Event != ev {
			t.Fatalf("expected %v, got %+v ok=%v", ev, r, ok)
		}
	}
	if extra := drainRecords(sink, 20*time.Millisecond); len(extra) != 0 {
		t.Fatalf("unexpected trailing events: %+v", extra)
	}
}

func TestLongPress_FiresOnceThenAutoRepeats_AndSuppressesClick(t *testing.T) {
	b, _, sink := newTestButton(t, Config{
		PressedLevel: true,
		TargetPolls:  2,
		LongPress:    40 * time.Millisecond,
		AutoRepeat:   25 * time.Millisecond,
	})
	if err := b.EnableEvent(LongKeyPress); err != nil {
		t.Fatalf("EnableEvent: %v", err)
	}
	if err := b.EnableEvent(AutoRepeatPress); err != nil {
		t.Fatalf("EnableEvent: %v", err)
	}

	pollN(b, true, 2) // confirmed press arms the long-press timer
	time.Sleep(120 * time.Millisecond)
	pollN(b, false, 2) // confirmed release

	got := drainRecords(sink, 50*time.Millisecond)
	if len(got) < 3 {
		t.Fatalf("too few events: %+v", got)
	}
	if got[0].Event != KeyDown || got[1].Event != LongKeyPress {
		t.Fatalf("expected KeyDown, LongKeyPress first, got %+v", got)
	}
	var repeats int
	for _, r := range got {
		switch r.Event {
		case AutoRepeatPress:
			repeats++
		case KeyPress, DoubleClick:
			t.Fatalf("click events must be suppressed after a long press: %+v", got)
		case LongKeyPress:
			if r != got[1] {
				t.Fatalf("LongKeyPress fired more than once: %+v", got)
			}
		}
	}
	if repeats < 1 {
		t.Fatalf("expected auto-repeat events while held, got %+v", got)
	}
	if got[len(got)-1].Event != KeyUp {
		t.Fatalf("expected trailing KeyUp, got %+v", got)
	}
}

func TestDoubleClick_TwoQuickCyclesYieldOneDoubleClick(t *testing.T) {
	b, _, sink := newTestButton(t, Config{
		PressedLevel: true,
		TargetPolls:  2,
		DoubleClick:  200 * time.Millisecond,
	})
	if err := b.Bind(DoubleClick, 0, func() {}); err != nil {
		t.Fatalf("Bind: %v", err)
	}

	pollN(b, true, 2)
	pollN(b, false, 2)
	pollN(b, true, 2)
	pollN(b, false, 2)

	got := drainRecords(sink, 50*time.Millisecond)
	want := []Event{KeyDown, KeyUp, KeyDown, KeyUp, DoubleClick}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %+v", want, got)
	}
	for i, ev := range want {
		if got[i].Event != ev {
			t.Fatalf("expected %v at %d, got %+v", ev, i, got)
		}
	}
}

func TestDoubleClick_TimeoutYieldsDeferredKeyPress(t *testing.T) {
	b, _, sink := newTestButton(t, Config{
		PressedLevel: true,
		TargetPolls:  2,
		DoubleClick:  40 * time.Millisecond,
	})
	if err := b.Bind(DoubleClick, 0, func() {}); err != nil {
		t.Fatalf("Bind: %v", err)
	}

	pollN(b, true, 2)
	pollN(b, false, 2)

	// KeyDown, KeyUp immediately; KeyPress only after the window closes.
	for _, ev := range []Event{KeyDown, KeyUp} {
		r, ok := recvRecord(t, sink, 100*time.Millisecond)
		if !ok || r.Event != ev {
			t.Fatalf("expected %v, got %+v ok=%v", ev, r, ok)
		}
	}
	if _, ok := recvRecord(t, sink, 10*time.Millisecond); ok {
		t.Fatal("KeyPress delivered before the double-click window closed")
	}
	r, ok := recvRecord(t, sink, 300*time.Millisecond)
	if !ok || r.Event != KeyPress {
		t.Fatalf("expected deferred KeyPress, got %+v ok=%v", r, ok)
	}
}

func TestDeferredKeyPress_UsesCapturedMenuLevel(t *testing.T) {
	sink := make(chan Record, 64)
	d := NewDispatcher(DispatcherConfig{Mode: ModeSynchronous, MenuCount: 3, Sink: sink})
	p := &fakeIRQPin{}
	b, err := New(d, "btn0", p, Config{
		PressedLevel: true,
		TargetPolls:  2,
		DoubleClick:  40 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer b.Close()
	if err := b.Bind(DoubleClick, 1, func() {}); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if err := d.SetMenuLevel(1); err != nil {
		t.Fatalf("SetMenuLevel: %v", err)
	}

	pollN(b, true, 2)
	pollN(b, false, 2)
	// Switch pages while the window is open.
	if err := d.SetMenuLevel(2); err != nil {
		t.Fatalf("SetMenuLevel: %v", err)
	}

	drainRecords(sink, 10*time.Millisecond) // KeyDown, KeyUp
	r, ok := recvRecord(t, sink, 300*time.Millisecond)
	if !ok || r.Event != KeyPress {
		t.Fatalf("expected deferred KeyPress, got %+v ok=%v", r, ok)
	}
	if r.MenuLevel != 1 {
		t.Fatalf("deferred KeyPress must use the captured level 1, got %d", r.MenuLevel)
	}
}

func TestEventMask_DisabledEventNeverDispatches(t *testing.T) {
	b, _, sink := newTestButton(t, Config{PressedLevel: true, TargetPolls: 2})

	if b.EventEnabled(LongKeyPress) {
		t.Fatal("LongKeyPress should be opt-in")
	}
	if err := b.DisableEvent(KeyDown); err != nil {
		t.Fatalf("DisableEvent: %v", err)
	}

	pollN(b, true, 2)
	pollN(b, false, 2)

	got := drainRecords(sink, 30*time.Millisecond)
	for _, r := range got {
		if r.Event == KeyDown {
			t.Fatalf("disabled KeyDown was dispatched: %+v", got)
		}
	}

	// Binding the long-press family enables it implicitly.
	if err := b.Bind(LongKeyPress, 0, func() {}); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if !b.EventEnabled(LongKeyPress) {
		t.Fatal("Bind(LongKeyPress) must enable the event")
	}
}

func TestUnbind_ThenTriggerIsNoOp(t *testing.T) {
	d := NewDispatcher(DispatcherConfig{Mode: ModeSynchronous})
	p := &fakeIRQPin{}
	b, err := New(d, "btn0", p, Config{PressedLevel: true})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer b.Close()

	var calls int
	if err := b.Bind(KeyPress, 0, func() { calls++ }); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if err := b.Trigger(KeyPress, 0); err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	if err := b.Unbind(KeyPress, 0); err != nil {
		t.Fatalf("Unbind: %v", err)
	}
	if err := b.Trigger(KeyPress, 0); err != nil {
		t.Fatalf("Trigger: %v", err)
	}

	if n := d.ProcessSyncEvents(); n != 1 {
		t.Fatalf("expected exactly one queued action, got %d", n)
	}
	if calls != 1 {
		t.Fatalf("expected exactly one invocation, got %d", calls)
	}
}

func TestIRQPin_EdgeStartsPollingAndIdleStopsIt(t *testing.T) {
	b, p, sink := newTestButton(t, Config{
		PressedLevel: true,
		TargetPolls:  3,
		Debounce:     3 * time.Millisecond,
	})

	p.trigger(true) // edge arms the poll timer
	r, ok := recvRecord(t, sink, 500*time.Millisecond)
	if !ok || r.Event != KeyDown {
		t.Fatalf("expected KeyDown from timer-driven polling, got %+v ok=%v", r, ok)
	}

	p.trigger(false)
	r, ok = recvRecord(t, sink, 500*time.Millisecond)
	if !ok || r.Event != KeyUp {
		t.Fatalf("expected KeyUp, got %+v ok=%v", r, ok)
	}
	// KeyPress follows (no double-click binding).
	if r, ok = recvRecord(t, sink, 500*time.Millisecond); !ok || r.Event != KeyPress {
		t.Fatalf("expected KeyPress, got %+v ok=%v", r, ok)
	}

	// Idle: polling must have disarmed.
	time.Sleep(20 * time.Millisecond)
	b.mu.Lock()
	polling := b.polling
	b.mu.Unlock()
	if polling {
		t.Fatal("poll timer still armed while fully idle")
	}
}

func TestPollOnlyPin_FreeRunningPollDetectsPress(t *testing.T) {
	sink := make(chan Record, 64)
	d := NewDispatcher(DispatcherConfig{Mode: ModeSynchronous, Sink: sink})
	p := &fakePin{} // no IRQ support
	b, err := New(d, "btn0", p, Config{
		PressedLevel: true,
		TargetPolls:  3,
		Debounce:     3 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer b.Close()

	p.set(true)
	r, ok := recvRecord(t, sink, 500*time.Millisecond)
	if !ok || r.Event != KeyDown {
		t.Fatalf("expected KeyDown from free-running poll, got %+v ok=%v", r, ok)
	}
}

func TestClose_CancelsPendingTimers(t *testing.T) {
	b, _, sink := newTestButton(t, Config{
		PressedLevel: true,
		TargetPolls:  2,
		LongPress:    30 * time.Millisecond,
	})

	pollN(b, true, 2) // arms the long-press timer
	if r, ok := recvRecord(t, sink, 100*time.Millisecond); !ok || r.Event != KeyDown {
		t.Fatalf("expected KeyDown, got %+v ok=%v", r, ok)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if got := drainRecords(sink, 80*time.Millisecond); len(got) != 0 {
		t.Fatalf("events after Close: %+v", got)
	}
	if err := b.Trigger(KeyPress, 0); err == nil {
		t.Fatal("Trigger after Close must fail")
	}
}

func TestExampleScenario_HeldPastLongPress(t *testing.T) {
	// Held well past the long-press interval, then released:
	// KeyDown, LongKeyPress, KeyUp and no KeyPress.
	b, _, sink := newTestButton(t, Config{
		PressedLevel: true,
		TargetPolls:  2,
		LongPress:    50 * time.Millisecond,
		AutoRepeat:   500 * time.Millisecond, // out of reach for this test
	})
	if err := b.EnableEvent(LongKeyPress); err != nil {
		t.Fatalf("EnableEvent: %v", err)
	}

	pollN(b, true, 2)
	time.Sleep(70 * time.Millisecond)
	pollN(b, false, 2)

	got := drainRecords(sink, 50*time.Millisecond)
	want := []Event{KeyDown, LongKeyPress, KeyUp}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %+v", want, got)
	}
	for i, ev := range want {
		if got[i].Event != ev {
			t.Fatalf("expected %v at %d, got %+v", ev, i, got)
		}
	}
}
