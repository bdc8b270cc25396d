// bridge/bridge.go
package bridge

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"pushbutton-go/bus"
	"pushbutton-go/x/timex"

	"github.com/gorilla/websocket"
)

// -----------------------------------------------------------------------------
// Configuration
// -----------------------------------------------------------------------------

// Config selects the listen address and the bus topics exported to
// WebSocket clients. Patterns use slash-separated tokens with the bus
// wildcards, e.g. "buttons/#".
type Config struct {
	Listen string   `yaml:"listen"`
	Topics []string `yaml:"topics"`

	// SendQueue bounds each client's outbound buffer. A client that
	// cannot keep up is disconnected rather than allowed to stall the
	// fan-out. Default 32.
	SendQueue int `yaml:"send_queue"`
	// RequestTimeoutMS bounds bus request round-trips made on behalf of
	// clients. Default 2000.
	RequestTimeoutMS int `yaml:"request_timeout_ms"`
}

func (c *Config) defaults() {
	if c.Listen == "" {
		c.Listen = "127.0.0.1:8137"
	}
	if len(c.Topics) == 0 {
		c.Topics = []string{"buttons/#", "telemetry/#"}
	}
	if c.SendQueue <= 0 {
		c.SendQueue = 32
	}
	if c.RequestTimeoutMS <= 0 {
		c.RequestTimeoutMS = 2000
	}
}

// ParseTopic converts a slash-separated pattern into a bus topic.
func ParseTopic(s string) bus.Topic {
	parts := strings.Split(strings.Trim(s, "/"), "/")
	t := make(bus.Topic, 0, len(parts))
	for _, p := range parts {
		t = append(t, p)
	}
	return t
}

// -----------------------------------------------------------------------------
// Wire format
// -----------------------------------------------------------------------------

// outFrame is one bus message pushed to a client.
type outFrame struct {
	Topic    []any `json:"topic"`
	Payload  any   `json:"payload"`
	Retained bool  `json:"retained,omitempty"`
	TSMs     int64 `json:"ts_ms"`
}

// inFrame is a client command: a fire-and-forget publish, or a request
// whose reply is echoed back with the same id.
type inFrame struct {
	ID      uint64   `json:"id,omitempty"`
	Publish *pubBody `json:"publish,omitempty"`
	Request *pubBody `json:"request,omitempty"`
}

type pubBody struct {
	Topic    []any `json:"topic"`
	Payload  any   `json:"payload"`
	Retained bool  `json:"retained,omitempty"`
}

type replyFrame struct {
	ID      uint64 `json:"id"`
	Payload any    `json:"payload"`
	Error   string `json:"error,omitempty"`
}

// -----------------------------------------------------------------------------
// Service
// -----------------------------------------------------------------------------

// Service bridges the in-process bus to WebSocket clients: exported
// topics fan out to every connected client, and clients may publish or
// issue request/reply round-trips against the bus.
type Service struct {
	cfg  Config
	conn *bus.Connection

	upgrader websocket.Upgrader
	ln       net.Listener

	mu      sync.Mutex
	clients map[*client]struct{}
}

func New(cfg Config) *Service {
	cfg.defaults()
	return &Service{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: map[*client]struct{}{},
	}
}

// Start binds the listener and launches the serve and fan-out loops.
func (s *Service) Start(ctx context.Context, conn *bus.Connection) error {
	s.conn = conn
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		s.publishState("error", "listen_failed", err)
		return err
	}
	s.ln = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.serveWS)
	srv := &http.Server{Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	go func() {
		_ = srv.Serve(ln)
	}()
	go s.fanout(ctx)

	s.publishState("up", "listening", nil)
	return nil
}

// Addr reports the bound listen address.
func (s *Service) Addr() string {
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// fanout forwards every exported bus message to all connected clients.
func (s *Service) fanout(ctx context.Context) {
	msgs := make(chan *bus.Message, 64)
	var subs []*bus.Subscription
	for _, pat := range s.cfg.Topics {
		sub := s.conn.Subscribe(ParseTopic(pat))
		subs = append(subs, sub)
		go func(sub *bus.Subscription) {
			for m := range sub.Channel() {
				select {
				case msgs <- m:
				case <-ctx.Done():
					return
				}
			}
		}(sub)
	}
	defer func() {
		for _, sub := range subs {
			s.conn.Unsubscribe(sub)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			s.closeAll()
			s.publishState("stopped", "context_cancelled", nil)
			return
		case m := <-msgs:
			s.broadcast(outFrame{
				Topic:    m.Topic,
				Payload:  m.Payload,
				Retained: m.Retained,
				TSMs:     timex.NowMs(),
			})
		}
	}
}

func (s *Service) broadcast(f outFrame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		select {
		case c.send <- f:
		default:
			// Slow consumer: disconnect instead of stalling everyone.
			delete(s.clients, c)
			close(c.send)
		}
	}
}

func (s *Service) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		delete(s.clients, c)
		close(c.send)
	}
}

// -----------------------------------------------------------------------------
// Per-client pumps
// -----------------------------------------------------------------------------

type client struct {
	ws   *websocket.Conn
	send chan outFrame

	// writeMu serializes the fan-out pump and reply writers; gorilla
	// connections allow only one concurrent writer.
	writeMu sync.Mutex
}

func (s *Service) serveWS(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := &client{ws: ws, send: make(chan outFrame, s.cfg.SendQueue)}
	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()

	go s.writePump(c)
	s.readPump(c)
}

func (s *Service) writePump(c *client) {
	defer c.ws.Close()
	for f := range c.send {
		c.writeMu.Lock()
		_ = c.ws.SetWriteDeadline(time.Now().Add(5 * time.Second))
		err := c.ws.WriteJSON(f)
		c.writeMu.Unlock()
		if err != nil {
			return
		}
	}
	// send closed by broadcast/closeAll
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "slow consumer"),
		time.Now().Add(time.Second))
}

func (s *Service) readPump(c *client) {
	defer func() {
		s.mu.Lock()
		if _, ok := s.clients[c]; ok {
			delete(s.clients, c)
			close(c.send)
		}
		s.mu.Unlock()
		c.ws.Close()
	}()

	for {
		var f inFrame
		if err := c.ws.ReadJSON(&f); err != nil {
			return
		}
		switch {
		case f.Publish != nil:
			t := normalizeTopic(f.Publish.Topic)
			if len(t) == 0 {
				continue
			}
			s.conn.Publish(s.conn.NewMessage(t, f.Publish.Payload, f.Publish.Retained))

		case f.Request != nil:
			t := normalizeTopic(f.Request.Topic)
			if len(t) == 0 {
				continue
			}
			go s.relayRequest(c, f.ID, t, f.Request.Payload)
		}
	}
}

// relayRequest performs one bus round-trip on the client's behalf.
func (s *Service) relayRequest(c *client, id uint64, t bus.Topic, payload any) {
	ctx, cancel := context.WithTimeout(context.Background(),
		time.Duration(s.cfg.RequestTimeoutMS)*time.Millisecond)
	defer cancel()

	reply := replyFrame{ID: id}
	if m, err := s.conn.RequestWait(ctx, s.conn.NewMessage(t, payload, false)); err != nil {
		reply.Error = err.Error()
	} else {
		reply.Payload = m.Payload
	}
	c.writeMu.Lock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(5 * time.Second))
	_ = c.ws.WriteJSON(reply)
	c.writeMu.Unlock()
}

// -----------------------------------------------------------------------------
// Utilities
// -----------------------------------------------------------------------------

// normalizeTopic maps JSON-decoded tokens onto bus tokens: strings stay,
// numbers become ints, anything else invalidates the topic.
func normalizeTopic(raw []any) bus.Topic {
	t := make(bus.Topic, 0, len(raw))
	for _, tok := range raw {
		switch v := tok.(type) {
		case string:
			t = append(t, v)
		case float64:
			t = append(t, int(v))
		case int:
			t = append(t, v)
		default:
			return nil
		}
	}
	return t
}

func (s *Service) publishState(level, status string, err error) {
	payload := map[string]any{
		"level":  level,
		"status": status,
		"ts_ms":  timex.NowMs(),
	}
	if err != nil {
		payload["error"] = err.Error()
	}
	s.conn.Publish(s.conn.NewMessage(bus.Topic{"bridge", "state"}, payload, true))
}
