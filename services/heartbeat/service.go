package heartbeat

import (
	"context"
	"time"

	"pushbutton-go/bus"
	"pushbutton-go/x/timex"
)

var (
	topicConfig    = bus.Topic{"config", "heartbeat"}
	topicTelemetry = bus.Topic{"telemetry", "buttons"}
	topicStats     = bus.Topic{"buttons", "control", "stats"}
)

const defaultInterval = 5 * time.Second

// Service periodically snapshots the button service over the bus and
// republishes the result as retained telemetry, so late subscribers
// (and bridge clients) always see the current picture.
type Service struct {
	Interval time.Duration
}

func (s *Service) serviceLoop(ctx context.Context, conn *bus.Connection) {
	cfgSub := conn.Subscribe(topicConfig)
	defer conn.Unsubscribe(cfgSub)

	interval := s.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	tick := time.NewTicker(interval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-tick.C:
			s.publishSnapshot(ctx, conn)

		case msg := <-cfgSub.Channel():
			if m, ok := msg.Payload.(map[string]any); ok {
				if iv, ok := asMillis(m["interval_ms"]); ok && iv > 0 {
					tick.Reset(iv)
				}
			}
		}
	}
}

func (s *Service) publishSnapshot(ctx context.Context, conn *bus.Connection) {
	reqCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	reply, err := conn.RequestWait(reqCtx, conn.NewMessage(topicStats, nil, false))
	payload := map[string]any{"ts_ms": timex.NowMs()}
	if err != nil {
		payload["error"] = err.Error()
	} else {
		payload["stats"] = reply.Payload
	}
	conn.Publish(conn.NewMessage(topicTelemetry, payload, true))
}

func asMillis(v any) (time.Duration, bool) {
	switch n := v.(type) {
	case int:
		return time.Duration(n) * time.Millisecond, true
	case int64:
		return time.Duration(n) * time.Millisecond, true
	case float64:
		return time.Duration(n) * time.Millisecond, true
	default:
		return 0, false
	}
}

// Start the heartbeat service.
func (s *Service) Start(ctx context.Context, conn *bus.Connection) error {
	go s.serviceLoop(ctx, conn)
	return nil
}
