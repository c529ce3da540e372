package server

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/raphaelgruber/medresearch/internal/service"
)

// Stream event types.
const (
	EventStatus = "status"
	EventReply  = "reply"
	EventError  = "error"
)

const streamWriteTimeout = 10 * time.Second

// StreamEvent is sent to websocket clients.
type StreamEvent struct {
	Type      string `json:"type"`
	Status    string `json:"status,omitempty"`
	TurnID    string `json:"turn_id,omitempty"`
	DialogID  int64  `json:"dialog_id,omitempty"`
	Title     string `json:"title,omitempty"`
	Reply     string `json:"reply,omitempty"`
	Succeeded bool   `json:"succeeded,omitempty"`
	Error     string `json:"error,omitempty"`
}

// streamConn serializes writes to a websocket connection.
type streamConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *streamConn) send(ev StreamEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
	return c.conn.WriteJSON(ev)
}

// stream runs turns over a websocket. The client sends {"message": "..."};
// the server answers with status events followed by one reply event. Dialog
// id 0 starts a new dialog that later messages continue.
func (a *API) stream(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r.Context())
	dialogID := pathID(r)
	if dialogID != 0 {
		if _, err := a.deps.Dialogs.Get(r.Context(), user.ID, dialogID); err != nil {
			a.serviceError(w, r, err)
			return
		}
	}

	ws, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer ws.Close()
	conn := &streamConn{conn: ws}
	log := a.logger.With("request_id", RequestID(r.Context()), "user_id", user.ID)

	for {
		var req TurnRequest
		if err := ws.ReadJSON(&req); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug("websocket closed", "error", err)
			}
			return
		}

		res, err := a.deps.Conversation.Turn(r.Context(), service.TurnRequest{
			UserID:   user.ID,
			DialogID: dialogID,
			Message:  req.Message,
			Status: func(status string) {
				_ = conn.send(StreamEvent{Type: EventStatus, Status: status, DialogID: dialogID})
			},
		})
		if err != nil {
			msg := err.Error()
			if !isCallerError(err) {
				log.Error("stream turn failed", "dialog_id", dialogID, "error", err)
				msg = "internal error"
			}
			if sendErr := conn.send(StreamEvent{Type: EventError, Error: msg, DialogID: dialogID}); sendErr != nil {
				return
			}
			continue
		}

		dialogID = res.Dialog.ID
		if err := conn.send(StreamEvent{
			Type:      EventReply,
			TurnID:    res.TurnID,
			DialogID:  res.Dialog.ID,
			Title:     res.Dialog.Title,
			Reply:     res.Reply,
			Succeeded: res.Succeeded,
		}); err != nil {
			return
		}
	}
}

func isCallerError(err error) bool {
	return errors.Is(err, service.ErrDialogNotFound) ||
		errors.Is(err, service.ErrEmptyMessage) ||
		errors.Is(err, service.ErrMessageTooLong)
}
