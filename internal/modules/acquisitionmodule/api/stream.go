package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	sharedapi "github.com/mantonx/cinerelay/internal/api"
	"github.com/mantonx/cinerelay/internal/events"
	"github.com/mantonx/cinerelay/internal/modules/acquisitionmodule/core"
)

const writeWait = 10 * time.Second

// StreamMessage is one frame of the progress stream
type StreamMessage struct {
	Type      string            `json:"type"`
	Event     *events.Event     `json:"event,omitempty"`
	Snapshot  *core.RunSnapshot `json:"snapshot,omitempty"`
	Timestamp int64             `json:"timestamp"`
}

// StreamEvents handles GET /api/acquisitions/:id/events. The first frame is
// the current snapshot; the connection closes after the terminal event.
func (h *Handler) StreamEvents(c *gin.Context) {
	sessionKey, ok := h.requireSession(c)
	if !ok {
		return
	}

	id := c.Param("id")
	run, ok := h.ownedRun(id, sessionKey)
	if !ok {
		sharedapi.RespondWithNotFound(c, "acquisition", id)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "run_id", id, "error", err)
		return
	}
	defer conn.Close()

	feed := make(chan events.Event, 64)
	if h.bus != nil {
		sub, err := h.bus.Subscribe(events.EventFilter{Targets: []string{id}}, func(e events.Event) error {
			select {
			case feed <- e:
			default:
				h.logger.Debug("stream client too slow, dropping event", "run_id", id, "type", e.Type)
			}
			return nil
		})
		if err == nil {
			defer h.bus.Unsubscribe(sub.ID)
		}
	}

	snap := run.Snapshot()
	if err := writeFrame(conn, StreamMessage{Type: "snapshot", Snapshot: &snap}); err != nil {
		return
	}

	// the reader only notices disconnects
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case e := <-feed:
			if err := writeFrame(conn, StreamMessage{Type: string(e.Type), Event: &e}); err != nil {
				return
			}
			if e.Type.Terminal() {
				closeStream(conn)
				return
			}
		case <-run.Done():
			// drain what the bus already delivered, then send the final state
			for len(feed) > 0 {
				e := <-feed
				if e.Type.Terminal() {
					continue
				}
				if err := writeFrame(conn, StreamMessage{Type: string(e.Type), Event: &e}); err != nil {
					return
				}
			}
			final := run.Snapshot()
			writeFrame(conn, StreamMessage{Type: "final", Snapshot: &final})
			closeStream(conn)
			return
		case <-gone:
			return
		case <-c.Request.Context().Done():
			return
		}
	}
}

func writeFrame(conn *websocket.Conn, msg StreamMessage) error {
	msg.Timestamp = time.Now().Unix()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(msg)
}

func closeStream(conn *websocket.Conn) {
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"),
		time.Now().Add(writeWait))
}
