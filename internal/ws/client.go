// Package ws carries the editing-session protocol over a WebSocket
// connection: inbound edit/save frames from the client, outbound
// protocol events from the collab session.
package ws

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/gorilla/websocket"

	"github.com/inkwell-cms/inkwell-backend/internal/collab"
	"github.com/inkwell-cms/inkwell-backend/internal/common"
	"github.com/inkwell-cms/inkwell-backend/internal/domain"
	"github.com/inkwell-cms/inkwell-backend/pkg/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20 // document bodies ride on edit frames
)

// Frame is an inbound client message
type Frame struct {
	Type  string               `json:"type"` // edit_form, edit_content, save
	State *domain.SessionState `json:"state,omitempty"`
	Save  *domain.SaveInput    `json:"save,omitempty"`
}

// Client represents a single editing WebSocket connection
type Client struct {
	conn    *websocket.Conn
	session *collab.Session
	send    chan []byte
}

// NewClient creates a new editing client
func NewClient(conn *websocket.Conn, session *collab.Session) *Client {
	return &Client{
		conn:    conn,
		session: session,
		send:    make(chan []byte, 256),
	}
}

// ReadPump parses inbound frames and feeds them to the session.
// Closing the connection detaches the session, which triggers promotion
// for the next-earliest spectator.
func (c *Client) ReadPump() {
	defer func() {
		c.session.Detach()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait)) //nolint:errcheck
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait)) //nolint:errcheck
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.sendWarning("malformed frame")
			continue
		}
		c.handleFrame(&frame)
	}
}

func (c *Client) handleFrame(frame *Frame) {
	switch frame.Type {
	case "edit_form", "edit_content":
		if frame.State == nil {
			c.sendWarning("edit frame missing state")
			return
		}
		kind := collab.EditForm
		if frame.Type == "edit_content" {
			kind = collab.EditContent
		}
		if err := c.session.ApplyEdit(kind, *frame.State); err != nil {
			if errors.Is(err, common.ErrSpectatorReadOnly) {
				c.sendWarning("read-only: another session owns this scope")
				return
			}
			logger.GetLogger().Warn().Err(err).Msg("edit rejected")
			c.sendWarning("edit rejected")
		}
	case "save":
		if frame.Save == nil {
			c.sendWarning("save frame missing input")
			return
		}
		result, err := c.session.Save(frame.Save)
		if err != nil {
			c.sendSaveError(err)
			return
		}
		c.sendJSON(map[string]interface{}{
			"type":   "save_ok",
			"forked": result.Forked,
			"scope":  result.Scope,
			"status": result.Version.Status,
		})
	default:
		c.sendWarning("unknown frame type")
	}
}

func (c *Client) sendSaveError(err error) {
	code := "SAVE_FAILED"
	switch {
	case errors.Is(err, common.ErrSpectatorReadOnly):
		code = "READ_ONLY"
	case errors.Is(err, common.ErrInvalidFormat):
		code = "INVALID_FORMAT"
	case errors.Is(err, common.ErrSlugAlreadyExists):
		code = "SLUG_EXISTS"
	case errors.Is(err, common.ErrDocumentNotFound), errors.Is(err, common.ErrVersionNotFound):
		code = "NOT_FOUND"
	}
	c.sendJSON(map[string]interface{}{
		"type":    "save_error",
		"code":    code,
		"message": err.Error(),
	})
}

func (c *Client) sendWarning(message string) {
	c.sendJSON(map[string]interface{}{"type": "warning", "message": message})
}

func (c *Client) sendJSON(v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

// WritePump forwards protocol events and direct replies to the socket
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	events := c.session.Events()
	for {
		select {
		case out, ok := <-events:
			if !ok {
				// Session ended (detach or inactivity release).
				c.conn.WriteMessage(websocket.CloseMessage, []byte{}) //nolint:errcheck
				return
			}
			data, err := json.Marshal(out)
			if err != nil {
				continue
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
