package buttons

import (
	"testing"
	"time"

	"pushbutton-go/errcode"
)

func TestParseConfig_Defaults(t *testing.T) {
	cfg, err := ParseConfig([]byte(`
buttons:
  - id: up
    pin: 12
  - id: down
    pin: 13
    pressed_level: high
    long_press_ms: 500
    events: [long_key_press, double_click]
`))
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	if cfg.Mode != "asynchronous" || cfg.MenuCount != 1 || cfg.SyncDrainMS != 20 {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
	if len(cfg.Buttons) != 2 {
		t.Fatalf("expected 2 buttons, got %d", len(cfg.Buttons))
	}

	bc := cfg.Buttons[1].buttonConfig()
	if !bc.PressedLevel {
		t.Fatal("pressed_level high not mapped")
	}
	if bc.LongPress != 500*time.Millisecond {
		t.Fatalf("long press = %v", bc.LongPress)
	}
	if evs := cfg.Buttons[1].events(); len(evs) != 2 {
		t.Fatalf("events = %v", evs)
	}
}

func TestParseConfig_Rejections(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		code errcode.Code
	}{
		{"bad mode", "mode: turbo", errcode.InvalidMode},
		{"bad menu count", "menu_count: 0", errcode.InvalidParams},
		{"empty id", "buttons: [{pin: 1}]", errcode.InvalidParams},
		{"duplicate id", "buttons: [{id: a, pin: 1}, {id: a, pin: 2}]", errcode.InvalidParams},
		{"negative pin", "buttons: [{id: a, pin: -1}]", errcode.UnknownPin},
		{"bad level", "buttons: [{id: a, pin: 1, pressed_level: mid}]", errcode.InvalidParams},
		{"bad event", "buttons: [{id: a, pin: 1, events: [bogus]}]", errcode.InvalidEvent},
		{"not yaml", "{{{", errcode.InvalidPayload},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseConfig([]byte(tc.yaml))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if errcode.Of(err) != tc.code {
				t.Fatalf("expected %v, got %v (%v)", tc.code, errcode.Of(err), err)
			}
		})
	}
}
