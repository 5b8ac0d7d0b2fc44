// README: Websocket stream of one booking's changes to its rider.
package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"ridebook/internal/http/middleware"
	"ridebook/internal/modules/booking"
	"ridebook/internal/types"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	streamBuf  = 16
)

type StreamHandler struct {
	booking  *booking.Service
	upgrader websocket.Upgrader
	log      *zap.Logger
}

func NewStreamHandler(svc *booking.Service, log *zap.Logger) *StreamHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &StreamHandler{
		booking: svc,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		log: log,
	}
}

type streamMessage struct {
	Type    string         `json:"type"`
	From    booking.Status `json:"from,omitempty"`
	To      booking.Status `json:"to,omitempty"`
	Message string         `json:"message,omitempty"`
	Booking bookingView    `json:"booking"`
}

// Stream sends a snapshot, then every change, and closes after a terminal status.
func (h *StreamHandler) Stream(c *gin.Context) {
	id := types.ID(c.Param("id"))
	ctx := c.Request.Context()

	b, err := h.booking.Get(ctx, id)
	if err != nil {
		writeBookingError(c, err)
		return
	}
	if b.RiderID.String() != middleware.CallerUID(c) {
		writeError(c, http.StatusForbidden, "booking belongs to another rider")
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Debug("websocket upgrade", zap.Error(err))
		return
	}
	defer conn.Close()

	events := make(chan booking.Event, streamBuf)
	overflow := make(chan struct{})
	var once sync.Once
	unsubscribe := h.booking.Subscribe(func(_ context.Context, e booking.Event) {
		if e.Booking.ID != id {
			return
		}
		select {
		case events <- e:
		default:
			once.Do(func() { close(overflow) })
		}
	})
	defer unsubscribe()

	// subscribed first so nothing between snapshot and stream is lost
	b, err = h.booking.Get(ctx, id)
	if err != nil {
		return
	}
	if err := h.send(conn, streamMessage{Type: "snapshot", To: b.Status, Booking: toView(b)}); err != nil {
		return
	}
	if b.Terminal() {
		h.close(conn, websocket.CloseNormalClosure, "booking finished")
		return
	}

	closed := make(chan struct{})
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case e := <-events:
			msg := streamMessage{Type: "event", From: e.From, To: e.To, Message: e.Message, Booking: toView(e.Booking)}
			if err := h.send(conn, msg); err != nil {
				return
			}
			if e.Booking.Terminal() {
				h.close(conn, websocket.CloseNormalClosure, "booking finished")
				return
			}
		case <-overflow:
			h.log.Warn("booking stream fell behind", zap.String("booking_id", id.String()))
			h.close(conn, websocket.CloseTryAgainLater, "stream fell behind")
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-closed:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (h *StreamHandler) send(conn *websocket.Conn, msg streamMessage) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(msg)
}

func (h *StreamHandler) close(conn *websocket.Conn, code int, text string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(writeWait))
}
