package dashboard

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"aquarium-dashboard/pkg/events"
	"aquarium-dashboard/pkg/models"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const writeWait = 5 * time.Second

// StreamMessage is sent to WebSocket views. "hello" carries the current status on
// connect; "change" announces a store write so the view can re-fetch.
type StreamMessage struct {
	Type     string               `json:"type"`
	Key      string               `json:"key,omitempty"`
	Origin   string               `json:"origin,omitempty"`
	External bool                 `json:"external,omitempty"`
	Status   *models.SystemStatus `json:"status,omitempty"`
	At       time.Time            `json:"at"`
}

// Stream pushes change notifications to connected WebSocket views.
type Stream struct {
	svc *Service
	bus *events.Bus
	log zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex // Orders wg.Add in ServeHTTP against wg.Wait in Close
	closed bool
	wg     sync.WaitGroup
}

// NewStream creates a stream fed by bus.
func NewStream(svc *Service, bus *events.Bus, log zerolog.Logger) *Stream {
	ctx, cancel := context.WithCancel(context.Background())
	return &Stream{svc: svc, bus: bus, log: log, ctx: ctx, cancel: cancel}
}

// Close disconnects every view and waits for their handlers to return.
func (s *Stream) Close() {
	s.mu.Lock()
	s.closed = true
	s.cancel()
	s.mu.Unlock()

	s.wg.Wait()
}

// ServeHTTP upgrades the connection and forwards bus changes until either side closes.
func (s *Stream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("Failed to upgrade to websocket")
		return
	}
	defer conn.Close()

	changes, unsubscribe := s.bus.Subscribe(64)
	defer unsubscribe()

	s.log.Debug().Str("remote_addr", r.RemoteAddr).Msg("View connected")

	st := s.svc.Status()
	if err := s.send(conn, StreamMessage{Type: "hello", Status: &st, At: time.Now()}); err != nil {
		return
	}

	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()

	// Views never send anything meaningful; reading detects the close
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					s.log.Debug().Err(err).Msg("Websocket read error")
				}
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(writeWait))
			s.log.Debug().Str("remote_addr", r.RemoteAddr).Msg("View disconnected")
			return
		case c, ok := <-changes:
			if !ok {
				return
			}
			msg := StreamMessage{Type: "change", Key: c.Key, Origin: c.Origin, External: c.External, At: c.At}
			if err := s.send(conn, msg); err != nil {
				return
			}
		}
	}
}

func (s *Stream) send(conn *websocket.Conn, msg StreamMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to encode stream message")
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		s.log.Debug().Err(err).Msg("Failed to send stream message")
		return err
	}
	return nil
}
