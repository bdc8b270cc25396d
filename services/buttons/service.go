// services/buttons/service.go
package buttons

import (
	"context"
	"time"

	"pushbutton-go/bus"
	"pushbutton-go/button"
	"pushbutton-go/errcode"
	"pushbutton-go/pinio"
	"pushbutton-go/x/timex"
)

var (
	topicConfig = bus.Topic{"config", "buttons"}
	topicState  = bus.Topic{"buttons", "state"}
)

// Service exposes a set of debounced buttons on the bus. Detected
// events are published per button; a control surface covers injection,
// interval tuning, mode and menu-level changes.
type Service struct {
	cfg  Config
	pins pinio.PinFactory
}

func New(cfg Config, pins pinio.PinFactory) *Service {
	return &Service{cfg: cfg, pins: pins}
}

// Start launches the service loop.
func (s *Service) Start(ctx context.Context, conn *bus.Connection) error {
	if err := s.cfg.Validate(); err != nil {
		return err
	}
	go s.run(ctx, conn)
	return nil
}

func (s *Service) run(ctx context.Context, conn *bus.Connection) {
	sink := make(chan button.Record, 64)
	mode, _ := button.ParseMode(s.cfg.Mode)

	svc := &service{
		conn:    conn,
		drainMS: s.cfg.SyncDrainMS,
		disp: button.NewDispatcher(button.DispatcherConfig{
			Mode:      mode,
			MenuCount: s.cfg.MenuCount,
			Sink:      sink,
		}),
		buttons: map[string]*button.Button{},
	}
	svc.disp.Start(ctx)

	for i := range s.cfg.Buttons {
		bc := &s.cfg.Buttons[i]
		pin, ok := s.pins.ByNumber(bc.Pin)
		if !ok {
			svc.publishState("error", "pin_unavailable", errcode.UnknownPin)
			continue
		}
		b, err := button.New(svc.disp, bc.ID, pin, bc.buttonConfig())
		if err != nil {
			svc.publishState("error", "button_setup_failed", err)
			continue
		}
		for _, ev := range bc.events() {
			svc.bindPublish(b, ev)
		}
		svc.bindPublish(b, button.KeyDown)
		svc.bindPublish(b, button.KeyUp)
		svc.bindPublish(b, button.KeyPress)
		svc.buttons[bc.ID] = b
	}

	svc.loop(ctx, sink)
}

type service struct {
	conn    *bus.Connection
	disp    *button.Dispatcher
	buttons map[string]*button.Button
	drainMS int
}

// bindPublish binds ev at every menu level to an action that publishes
// the event on the bus. Dispatch therefore follows the configured
// delivery mode; in hybrid/synchronous mode the loop's drain tick
// flushes the batch.
func (s *service) bindPublish(b *button.Button, ev button.Event) {
	id := b.ID()
	for lvl := 0; lvl < s.disp.MenuCount(); lvl++ {
		lvl := lvl
		_ = b.Bind(ev, lvl, func() {
			s.conn.Publish(s.conn.NewMessage(
				bus.Topic{"buttons", "button", id, "event"},
				eventPayload(id, ev, lvl), false))
		})
	}
}

func (s *service) loop(ctx context.Context, sink <-chan button.Record) {
	cfgSub := s.conn.Subscribe(topicConfig)
	btnCtrl := s.conn.Subscribe(bus.Topic{"buttons", "button", "+", "control", "+"})
	dispCtrl := s.conn.Subscribe(bus.Topic{"buttons", "control", "+"})
	defer s.conn.Unsubscribe(cfgSub)
	defer s.conn.Unsubscribe(btnCtrl)
	defer s.conn.Unsubscribe(dispCtrl)

	s.publishState("ready", "configured", nil)

	drain := time.NewTicker(time.Duration(s.drainMS) * time.Millisecond)
	defer drain.Stop()

	for {
		select {
		case <-ctx.Done():
			for _, b := range s.buttons {
				b.Close()
			}
			s.disp.ProcessSyncEvents() // flush what was already queued
			s.publishState("stopped", "context_cancelled", nil)
			return

		case <-drain.C:
			if s.disp.Mode() != button.ModeAsynchronous {
				s.disp.ProcessSyncEvents()
			}

		case rec := <-sink:
			// Retained last-event state per button; the action bound to
			// the event publishes the non-retained message.
			s.conn.Publish(s.conn.NewMessage(
				bus.Topic{"buttons", "button", rec.Button, "last_event"},
				eventPayload(rec.Button, rec.Event, rec.MenuLevel), true))

		case msg := <-cfgSub.Channel():
			s.applyRuntime(msg.Payload)

		case msg := <-btnCtrl.Channel():
			s.handleButtonControl(msg)

		case msg := <-dispCtrl.Channel():
			s.handleDispatcherControl(msg)
		}
	}
}

// applyRuntime applies the settings that may change after construction:
// delivery mode and menu level. Buttons and menu count are fixed at
// startup.
func (s *service) applyRuntime(payload any) {
	m, ok := payload.(map[string]any)
	if !ok {
		s.publishState("error", "config_decode_failed", errcode.InvalidPayload)
		return
	}
	if name, ok := m["mode"].(string); ok {
		if mode, err := button.ParseMode(name); err != nil {
			s.publishState("error", "invalid_mode", err)
		} else if err := s.disp.SetMode(mode); err != nil {
			s.publishState("error", "set_mode_failed", err)
		}
	}
	if lvl, ok := asInt(m["menu_level"]); ok {
		if err := s.disp.SetMenuLevel(lvl); err != nil {
			s.publishState("error", "invalid_menu_level", err)
		}
	}
	s.publishState("ready", "reconfigured", nil)
}

// handleButtonControl services buttons/button/<id>/control/<verb>.
func (s *service) handleButtonControl(msg *bus.Message) {
	if len(msg.Topic) < 5 {
		return
	}
	id, _ := msg.Topic[2].(string)
	verb, _ := msg.Topic[4].(string)
	b, ok := s.buttons[id]
	if !ok {
		s.replyErr(msg, errcode.UnknownButton)
		return
	}
	params, _ := msg.Payload.(map[string]any)

	switch verb {
	case "read":
		snap := b.Snapshot()
		s.replyOK(msg, map[string]any{
			"pressed":     snap.Pressed,
			"state":       snap.State,
			"total_polls": snap.TotalPolls,
		})

	case "inject":
		name, _ := params["event"].(string)
		ev, err := button.ParseEvent(name)
		if err != nil {
			s.replyErr(msg, err)
			return
		}
		if lvl, ok := asInt(params["menu_level"]); ok {
			err = b.Trigger(ev, lvl)
		} else {
			err = b.TriggerHere(ev)
		}
		if err != nil {
			s.replyErr(msg, err)
			return
		}
		s.replyOK(msg, nil)

	case "set_intervals":
		if ms, ok := asInt(params["long_press_ms"]); ok {
			b.SetLongPressInterval(time.Duration(ms) * time.Millisecond)
		}
		if ms, ok := asInt(params["auto_repeat_ms"]); ok {
			b.SetAutoRepeatInterval(time.Duration(ms) * time.Millisecond)
		}
		if ms, ok := asInt(params["double_click_ms"]); ok {
			b.SetDoubleClickInterval(time.Duration(ms) * time.Millisecond)
		}
		s.replyOK(msg, map[string]any{
			"long_press_ms":   b.LongPressInterval().Milliseconds(),
			"auto_repeat_ms":  b.AutoRepeatInterval().Milliseconds(),
			"double_click_ms": b.DoubleClickInterval().Milliseconds(),
		})

	case "enable_event", "disable_event":
		name, _ := params["event"].(string)
		ev, err := button.ParseEvent(name)
		if err != nil {
			s.replyErr(msg, err)
			return
		}
		if verb == "enable_event" {
			err = b.EnableEvent(ev)
		} else {
			err = b.DisableEvent(ev)
		}
		if err != nil {
			s.replyErr(msg, err)
			return
		}
		s.replyOK(msg, nil)

	default:
		s.replyErr(msg, errcode.Unsupported)
	}
}

// handleDispatcherControl services buttons/control/<verb>.
func (s *service) handleDispatcherControl(msg *bus.Message) {
	if len(msg.Topic) < 3 {
		return
	}
	verb, _ := msg.Topic[2].(string)
	params, _ := msg.Payload.(map[string]any)

	switch verb {
	case "set_mode":
		name, _ := params["mode"].(string)
		mode, err := button.ParseMode(name)
		if err != nil {
			s.replyErr(msg, err)
			return
		}
		if err := s.disp.SetMode(mode); err != nil {
			s.replyErr(msg, err)
			return
		}
		s.replyOK(msg, map[string]any{"mode": mode.String()})

	case "set_menu_level":
		lvl, ok := asInt(params["level"])
		if !ok {
			s.replyErr(msg, errcode.InvalidPayload)
			return
		}
		if err := s.disp.SetMenuLevel(lvl); err != nil {
			s.replyErr(msg, err)
			return
		}
		s.replyOK(msg, map[string]any{"level": lvl})

	case "stats":
		st := s.disp.Snapshot()
		bstats := make([]map[string]any, 0, len(s.buttons))
		for _, b := range s.buttons {
			snap := b.Snapshot()
			bstats = append(bstats, map[string]any{
				"id":          snap.ID,
				"state":       snap.State,
				"pressed":     snap.Pressed,
				"total_polls": snap.TotalPolls,
			})
		}
		s.replyOK(msg, map[string]any{
			"mode":         st.Mode.String(),
			"menu_level":   st.MenuLevel,
			"menu_count":   st.MenuCount,
			"async_queued": st.AsyncQueued,
			"sync_queued":  st.SyncQueued,
			"async_drops":  st.AsyncDrops,
			"sync_drops":   st.SyncDrops,
			"sink_drops":   st.SinkDrops,
			"buttons":      bstats,
		})

	default:
		s.replyErr(msg, errcode.Unsupported)
	}
}

// ---- helpers ----

func eventPayload(id string, ev button.Event, level int) map[string]any {
	return map[string]any{
		"button":     id,
		"event":      ev.String(),
		"menu_level": level,
		"ts_ms":      timex.NowMs(),
	}
}

func (s *service) publishState(level, status string, err error) {
	payload := map[string]any{"level": level, "status": status, "ts_ms": timex.NowMs()}
	if err != nil {
		payload["error"] = string(errcode.Of(err))
	}
	s.conn.Publish(s.conn.NewMessage(topicState, payload, true))
}

func (s *service) replyOK(req *bus.Message, extra map[string]any) {
	if len(req.ReplyTo) == 0 {
		return
	}
	m := map[string]any{"ok": true}
	for k, v := range extra {
		m[k] = v
	}
	s.conn.Reply(req, m, false)
}

func (s *service) replyErr(req *bus.Message, err error) {
	if len(req.ReplyTo) == 0 {
		return
	}
	s.conn.Reply(req, map[string]any{
		"ok":    false,
		"error": string(errcode.Of(err)),
	}, false)
}

func asInt(t any) (int, bool) {
	switch v := t.(type) {
	case int:
		return v, true
	case int32:
		return int(v), true
	case int64:
		return int(v), true
	case uint:
		return int(v), true
	case uint32:
		return int(v), true
	case uint64:
		return int(v), true
	case float32:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}
