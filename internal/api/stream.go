package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"macd-backtester/internal/optimizer"
)

var upgrader = websocket.Upgrader{
	CheckOrigin:       func(r *http.Request) bool { return true },
	EnableCompression: true,
}

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

// StreamMessage is one frame of the optimize stream: "cell" per evaluated
// cell, then exactly one "done" or "error".
type StreamMessage struct {
	Type      string                `json:"type"`
	Cell      *optimizer.Evaluation `json:"cell,omitempty"`
	Completed int                   `json:"completed,omitempty"`
	Total     int                   `json:"total,omitempty"`
	Result    *OptimizeResponse     `json:"result,omitempty"`
	Error     *ErrorDetail          `json:"error,omitempty"`
}

type sweepDone struct {
	resp *OptimizeResponse
	err  error
}

// streamOptimize handles GET /api/v1/optimize/stream. The client sends one
// OptimizeRequest; closing the socket cancels the sweep.
func (s *Server) streamOptimize(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn("ws upgrade failed", slog.Any("error", err))
		return
	}
	defer conn.Close()

	conn.SetReadLimit(8 << 20)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	var req OptimizeRequest
	if err := conn.ReadJSON(&req); err != nil {
		writeFrame(conn, StreamMessage{Type: "error", Error: &ErrorDetail{Code: "INVALID_REQUEST", Message: err.Error()}})
		return
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	// Only this goroutine reads from now on; a read error means the peer left.
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	total := 0
	for _, p := range req.grid() {
		if p.Validate() == nil {
			total++
		}
	}

	cells := make(chan optimizer.Evaluation, 64)
	done := make(chan sweepDone, 1)
	go func() {
		resp, err := s.sweep(ctx, &req, func(ev optimizer.Evaluation) {
			select {
			case cells <- ev:
			case <-ctx.Done():
			}
		})
		// Optimize has joined its workers, so no progress call is in flight.
		close(cells)
		done <- sweepDone{resp: resp, err: err}
	}()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	completed := 0
	sendCell := func(ev optimizer.Evaluation) bool {
		completed++
		return writeFrame(conn, StreamMessage{Type: "cell", Cell: &ev, Completed: completed, Total: total}) == nil
	}

	for {
		select {
		case ev, ok := <-cells:
			if !ok {
				cells = nil
				continue
			}
			if !sendCell(ev) {
				cancel()
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				cancel()
				return
			}
		case res := <-done:
			if cells != nil {
				for ev := range cells {
					if !sendCell(ev) {
						return
					}
				}
			}
			if res.err != nil {
				_, body := sweepErrorBody(res.err)
				writeFrame(conn, StreamMessage{Type: "error", Error: &body.Error})
			} else {
				writeFrame(conn, StreamMessage{Type: "done", Completed: completed, Total: total, Result: res.resp})
			}
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}

func writeFrame(conn *websocket.Conn, msg StreamMessage) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(msg)
}
