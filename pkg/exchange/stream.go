package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Tick is a single ticker update from the streaming endpoint.
type Tick struct {
	Symbol    string
	Price     float64
	Volume    float64
	High24h   float64
	Low24h    float64
	Timestamp time.Time
}

// StreamClient manages lightweight streaming from the backend's public
// websocket endpoint.
type StreamClient struct {
	StreamURL string
	dialer    *websocket.Dialer
}

// NewStreamClient builds a websocket client for the given wss base URL.
func NewStreamClient(streamURL string) *StreamClient {
	return &StreamClient{
		StreamURL: streamURL,
		dialer:    websocket.DefaultDialer,
	}
}

// SubscribeTicks listens to the ticker stream for one symbol and pushes
// parsed ticks into a channel. It returns the channel and a stop function.
func (c *StreamClient) SubscribeTicks(ctx context.Context, symbol string) (<-chan Tick, func(), error) {
	// Streams use lowercase symbols without separators.
	stream := fmt.Sprintf("%s@ticker", strings.ToLower(strings.ReplaceAll(symbol, "/", "")))
	u := fmt.Sprintf("%s/%s", c.StreamURL, stream)

	conn, _, err := c.dialer.DialContext(ctx, u, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("dial ticker ws: %w", err)
	}

	out := make(chan Tick, 100)
	var once sync.Once
	stop := func() {
		once.Do(func() {
			// Ignore errors; connection may already be closed.
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			_ = conn.Close()
			close(out)
		})
	}

	go func() {
		defer stop()
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			_, msg, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) ||
					strings.Contains(err.Error(), "use of closed network connection") {
					return
				}
				log.Printf("ticker ws read error: %v", err)
				return
			}

			tick, err := parseTickMessage(symbol, msg)
			if err != nil {
				log.Printf("ticker ws parse error: %v", err)
				continue
			}
			out <- tick
		}
	}()

	return out, stop, nil
}

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

type tickMessage struct {
	Price     string `json:"c"`
	Volume    string `json:"v"`
	High      string `json:"h"`
	Low       string `json:"l"`
	EventTime int64  `json:"E"`
}

func parseTickMessage(symbol string, msg []byte) (Tick, error) {
	var m tickMessage
	if err := json.Unmarshal(msg, &m); err != nil {
		return Tick{}, fmt.Errorf("decode ticker: %w", err)
	}
	return Tick{
		Symbol:    symbol,
		Price:     parseFloat(m.Price),
		Volume:    parseFloat(m.Volume),
		High24h:   parseFloat(m.High),
		Low24h:    parseFloat(m.Low),
		Timestamp: time.UnixMilli(m.EventTime),
	}, nil
}
