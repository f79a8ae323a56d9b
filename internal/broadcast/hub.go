// Package broadcast pushes fleet snapshots to live subscribers.
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Sink receives every serialized snapshot.
type Sink interface {
	Publish(ctx context.Context, payload []byte) error
}

type subscriber struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *subscriber) write(payload []byte, timeout time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, payload)
}

// Hub is the websocket endpoint. Slow or broken subscribers are dropped
// rather than buffered.
type Hub struct {
	upgrader     websocket.Upgrader
	writeTimeout time.Duration
	log          zerolog.Logger

	mu   sync.Mutex
	subs map[*subscriber]struct{}
	last []byte
}

func NewHub(writeTimeout time.Duration, logger zerolog.Logger) *Hub {
	if writeTimeout <= 0 {
		writeTimeout = 2 * time.Second
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		writeTimeout: writeTimeout,
		log:          logger.With().Str("module", "broadcast").Logger(),
		subs:         map[*subscriber]struct{}{},
	}
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Str("remote_addr", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}
	sub := &subscriber{conn: conn}

	h.mu.Lock()
	h.subs[sub] = struct{}{}
	last := h.last
	h.mu.Unlock()
	h.log.Debug().Str("remote_addr", r.RemoteAddr).Msg("subscriber connected")

	if last != nil {
		if err := sub.write(last, h.writeTimeout); err != nil {
			h.drop(sub)
			return
		}
	}

	// Subscribers never send anything meaningful; reading detects the close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			h.drop(sub)
			return
		}
	}
}

func (h *Hub) drop(sub *subscriber) {
	h.mu.Lock()
	_, ok := h.subs[sub]
	delete(h.subs, sub)
	h.mu.Unlock()
	if ok {
		_ = sub.conn.Close()
	}
}

func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Publish writes payload to every subscriber and remembers it for the next
// one to connect.
func (h *Hub) Publish(_ context.Context, payload []byte) error {
	h.mu.Lock()
	h.last = payload
	subs := make([]*subscriber, 0, len(h.subs))
	for s := range h.subs {
		subs = append(subs, s)
	}
	h.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range subs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.write(payload, h.writeTimeout); err != nil {
				h.log.Debug().Err(err).Msg("dropping subscriber")
				h.drop(s)
			}
		}()
	}
	wg.Wait()
	return nil
}

func (h *Hub) Close() {
	h.mu.Lock()
	subs := h.subs
	h.subs = map[*subscriber]struct{}{}
	h.mu.Unlock()
	for s := range subs {
		s.mu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(time.Second))
		s.mu.Unlock()
		_ = s.conn.Close()
	}
}

type namedSink struct {
	name string
	sink Sink
}

// Fanout hands one payload to several sinks. A failing sink does not stop
// the others.
type Fanout struct {
	sinks []namedSink
}

func NewFanout() *Fanout { return &Fanout{} }

func (f *Fanout) Add(name string, s Sink) {
	f.sinks = append(f.sinks, namedSink{name: name, sink: s})
}

func (f *Fanout) Publish(ctx context.Context, payload []byte) error {
	var errs []error
	for _, s := range f.sinks {
		if err := s.sink.Publish(ctx, payload); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
		}
	}
	return errors.Join(errs...)
}
