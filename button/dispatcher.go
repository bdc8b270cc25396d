// button/dispatcher.go
package button

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"pushbutton-go/errcode"
)

// Process-wide tuning knobs. The async queue is serviced quickly so it
// can be short; the sync queue is limited to the caller's loop
// frequency so actions can back up.
const (
	AsyncQueueDepth = 5
	SyncQueueDepth  = 10
)

// Record describes one detected event, for observers (bus publishing,
// logging). Delivery to the sink is best-effort: a full sink drops.
type Record struct {
	Button    string
	Event     Event
	MenuLevel int
	TS        time.Time
}

// Dispatcher owns everything the buttons share: the delivery mode, the
// menu level/count, both delivery queues and the worker that services
// the asynchronous one. Construct one per process, Start it, and hand
// it to every button.
type Dispatcher struct {
	mu        sync.Mutex
	mode      Mode
	menuCount int
	menuLevel int
	locked    bool // menu count frozen once the first button exists

	asyncQ chan Action

	syncMu sync.Mutex
	syncQ  []Action

	sink      chan<- Record
	asyncDrop uint32
	syncDrop  uint32
	sinkDrop  uint32

	done chan struct{}
}

// DispatcherConfig carries construction-time settings. Zero values
// select the defaults.
type DispatcherConfig struct {
	Mode       Mode
	MenuCount  int
	AsyncDepth int
	SyncDepth  int
	// Sink receives a Record per detected event, non-blocking.
	Sink chan<- Record
}

func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	if cfg.AsyncDepth <= 0 {
		cfg.AsyncDepth = AsyncQueueDepth
	}
	if cfg.SyncDepth <= 0 {
		cfg.SyncDepth = SyncQueueDepth
	}
	if cfg.MenuCount <= 0 {
		cfg.MenuCount = 1
	}
	if !cfg.Mode.Valid() {
		cfg.Mode = ModeAsynchronous
	}
	return &Dispatcher{
		mode:      cfg.Mode,
		menuCount: cfg.MenuCount,
		asyncQ:    make(chan Action, cfg.AsyncDepth),
		syncQ:     make([]Action, 0, cfg.SyncDepth),
		sink:      cfg.Sink,
		done:      make(chan struct{}),
	}
}

// Start launches the single worker that drains the asynchronous queue
// in FIFO order. It runs until ctx is cancelled. The worker keeps
// draining regardless of the current mode, so events enqueued before a
// mode switch are never lost.
func (d *Dispatcher) Start(ctx context.Context) {
	go func() {
		defer close(d.done)
		for {
			select {
			case <-ctx.Done():
				return
			case act := <-d.asyncQ:
				act()
			}
		}
	}()
}

// Done is closed once the worker has exited.
func (d *Dispatcher) Done() <-chan struct{} { return d.done }

func (d *Dispatcher) SetMode(m Mode) error {
	if !m.Valid() {
		return errcode.InvalidMode
	}
	d.mu.Lock()
	d.mode = m
	d.mu.Unlock()
	return nil
}

func (d *Dispatcher) Mode() Mode {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.mode
}

// SetMenuCount resizes the menu dimension of all binding tables to be
// allocated later. It is rejected once the first button exists, since
// already-allocated tables would go stale.
func (d *Dispatcher) SetMenuCount(n int) error {
	if n < 1 {
		return errcode.InvalidParams
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.locked {
		return errcode.MenuCountLocked
	}
	d.menuCount = n
	if d.menuLevel >= n {
		d.menuLevel = n - 1
	}
	return nil
}

func (d *Dispatcher) MenuCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.menuCount
}

func (d *Dispatcher) SetMenuLevel(level int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if level < 0 || level >= d.menuCount {
		return errcode.InvalidMenuLevel
	}
	d.menuLevel = level
	return nil
}

func (d *Dispatcher) MenuLevel() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.menuLevel
}

// lockMenus freezes the menu count. Called by the first (and every)
// button constructor.
func (d *Dispatcher) lockMenus() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.locked = true
	return d.menuCount
}

// ProcessSyncEvents drains the synchronous queue: the currently queued
// actions are removed as one batch and invoked FIFO. Call it from the
// application's main loop. An empty queue is a no-op. Returns the
// number of actions run.
func (d *Dispatcher) ProcessSyncEvents() int {
	d.syncMu.Lock()
	batch := d.syncQ
	d.syncQ = make([]Action, 0, cap(d.syncQ))
	d.syncMu.Unlock()

	for _, act := range batch {
		act()
	}
	return len(batch)
}

// submit routes a resolved action to the queue the current mode
// selects for this event. It never blocks; a full queue drops the
// action and returns false.
func (d *Dispatcher) submit(ev Event, act Action) bool {
	d.mu.Lock()
	mode := d.mode
	d.mu.Unlock()

	async := mode == ModeAsynchronous ||
		(mode == ModeHybrid && (ev == KeyDown || ev == KeyUp))

	if async {
		select {
		case d.asyncQ <- act:
			return true
		default:
			atomic.AddUint32(&d.asyncDrop, 1) // never block timer context
			return false
		}
	}

	d.syncMu.Lock()
	defer d.syncMu.Unlock()
	if len(d.syncQ) >= cap(d.syncQ) {
		atomic.AddUint32(&d.syncDrop, 1)
		return false
	}
	d.syncQ = append(d.syncQ, act)
	return true
}

// observe forwards a detection record to the sink, if any.
func (d *Dispatcher) observe(r Record) {
	if d.sink == nil {
		return
	}
	select {
	case d.sink <- r:
	default:
		atomic.AddUint32(&d.sinkDrop, 1)
	}
}

// Stats is a point-in-time snapshot for telemetry.
type Stats struct {
	Mode        Mode
	MenuLevel   int
	MenuCount   int
	AsyncQueued int
	AsyncDepth  int
	SyncQueued  int
	SyncDepth   int
	AsyncDrops  uint32
	SyncDrops   uint32
	SinkDrops   uint32
}

func (d *Dispatcher) Snapshot() Stats {
	d.mu.Lock()
	mode, level, count := d.mode, d.menuLevel, d.menuCount
	d.mu.Unlock()
	d.syncMu.Lock()
	sq, sc := len(d.syncQ), cap(d.syncQ)
	d.syncMu.Unlock()
	return Stats{
		Mode:        mode,
		MenuLevel:   level,
		MenuCount:   count,
		AsyncQueued: len(d.asyncQ),
		AsyncDepth:  cap(d.asyncQ),
		SyncQueued:  sq,
		SyncDepth:   sc,
		AsyncDrops:  atomic.LoadUint32(&d.asyncDrop),
		SyncDrops:   atomic.LoadUint32(&d.syncDrop),
		SinkDrops:   atomic.LoadUint32(&d.sinkDrop),
	}
}
