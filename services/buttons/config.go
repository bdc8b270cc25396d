// services/buttons/config.go
package buttons

import (
	"fmt"
	"time"

	"pushbutton-go/button"
	"pushbutton-go/errcode"

	"gopkg.in/yaml.v3"
)

// Config is the service's YAML surface. Zero values select defaults.
type Config struct {
	// Mode is one of asynchronous, hybrid, synchronous.
	Mode      string `yaml:"mode"`
	MenuCount int    `yaml:"menu_count"`
	// SyncDrainMS is the cadence at which the service drains the
	// synchronous queue in hybrid/synchronous mode.
	SyncDrainMS int            `yaml:"sync_drain_ms"`
	Buttons     []ButtonConfig `yaml:"buttons"`
}

type ButtonConfig struct {
	ID  string `yaml:"id"`
	Pin int    `yaml:"pin"`
	// PressedLevel is "high" or "low" (default low: active-low wiring
	// with a pull-up).
	PressedLevel  string `yaml:"pressed_level"`
	LongPressMS   int    `yaml:"long_press_ms"`
	AutoRepeatMS  int    `yaml:"auto_repeat_ms"`
	DoubleClickMS int    `yaml:"double_click_ms"`
	DebounceUS    int    `yaml:"debounce_us"`
	TargetPolls   int    `yaml:"target_polls"`
	// Events lists derived events to enable beyond the default
	// key_down/key_up/key_press set.
	Events []string `yaml:"events"`
}

func DefaultConfig() Config {
	return Config{
		Mode:        button.ModeAsynchronous.String(),
		MenuCount:   1,
		SyncDrainMS: 20,
	}
}

// ParseConfig decodes YAML, fills defaults and validates.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, &errcode.E{C: errcode.InvalidPayload, Op: "buttons.ParseConfig", Err: err}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if _, err := button.ParseMode(c.Mode); err != nil {
		return &errcode.E{C: errcode.InvalidMode, Op: "buttons.Validate",
			Msg: fmt.Sprintf("mode %q", c.Mode)}
	}
	if c.MenuCount < 1 {
		return &errcode.E{C: errcode.InvalidParams, Op: "buttons.Validate",
			Msg: "menu_count must be >= 1"}
	}
	if c.SyncDrainMS <= 0 {
		c.SyncDrainMS = 20
	}
	seen := map[string]struct{}{}
	for i := range c.Buttons {
		b := &c.Buttons[i]
		if b.ID == "" {
			return &errcode.E{C: errcode.InvalidParams, Op: "buttons.Validate",
				Msg: fmt.Sprintf("button %d: empty id", i)}
		}
		if _, dup := seen[b.ID]; dup {
			return &errcode.E{C: errcode.InvalidParams, Op: "buttons.Validate",
				Msg: fmt.Sprintf("duplicate button id %q", b.ID)}
		}
		seen[b.ID] = struct{}{}
		if b.Pin < 0 {
			return &errcode.E{C: errcode.UnknownPin, Op: "buttons.Validate",
				Msg: fmt.Sprintf("button %q: pin %d", b.ID, b.Pin)}
		}
		switch b.PressedLevel {
		case "", "low", "high":
		default:
			return &errcode.E{C: errcode.InvalidParams, Op: "buttons.Validate",
				Msg: fmt.Sprintf("button %q: pressed_level %q", b.ID, b.PressedLevel)}
		}
		for _, name := range b.Events {
			if _, err := button.ParseEvent(name); err != nil {
				return &errcode.E{C: errcode.InvalidEvent, Op: "buttons.Validate",
					Msg: fmt.Sprintf("button %q: event %q", b.ID, name)}
			}
		}
	}
	return nil
}

// buttonConfig maps the wire fields onto the library config.
func (b *ButtonConfig) buttonConfig() button.Config {
	return button.Config{
		PressedLevel: b.PressedLevel == "high",
		LongPress:    time.Duration(b.LongPressMS) * time.Millisecond,
		AutoRepeat:   time.Duration(b.AutoRepeatMS) * time.Millisecond,
		DoubleClick:  time.Duration(b.DoubleClickMS) * time.Millisecond,
		Debounce:     time.Duration(b.DebounceUS) * time.Microsecond,
		TargetPolls:  b.TargetPolls,
	}
}

// events returns the derived events to enable for this button.
func (b *ButtonConfig) events() []button.Event {
	out := make([]button.Event, 0, len(b.Events))
	for _, name := range b.Events {
		if ev, err := button.ParseEvent(name); err == nil {
			out = append(out, ev)
		}
	}
	return out
}
