package api

import (
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"tradecore/internal/events"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// streamedEvents are the bus topics pushed to websocket clients.
var streamedEvents = []events.Event{
	events.EventPriceTick,
	events.EventOrderSubmitted,
	events.EventOrderFilled,
	events.EventOrderPartialFilled,
	events.EventOrderCancelled,
	events.EventOrderRejected,
	events.EventOrderError,
	events.EventSignalConfirmed,
	events.EventRiskAlert,
	events.EventEmergencyStop,
	events.EventPositionChange,
	events.EventEngineState,
	events.EventModeChanged,
}

type wsEnvelope struct {
	Event     events.Event `json:"event"`
	Payload   any          `json:"payload"`
	Timestamp time.Time    `json:"timestamp"`
}

func (s *Server) websocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("ws upgrade error: %v", err)
		return
	}
	defer conn.Close()

	if s.Bus == nil {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"bus not ready"}`))
		return
	}

	merged := make(chan wsEnvelope, 256)
	done := make(chan struct{})
	defer close(done)

	for _, e := range streamedEvents {
		event := e
		stream, unsub := s.Bus.Subscribe(event, 64)
		go func() {
			defer unsub()
			for {
				select {
				case <-done:
					return
				case msg, ok := <-stream:
					if !ok {
						return
					}
					select {
					case merged <- wsEnvelope{Event: event, Payload: msg, Timestamp: time.Now()}:
					default:
						// slow client, drop
					}
				}
			}
		}()
	}

	// Discard client frames; a read error means the peer went away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case env := <-merged:
			if err := conn.WriteJSON(env); err != nil {
				log.Printf("ws write error: %v", err)
				return
			}
		}
	}
}
