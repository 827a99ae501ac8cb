package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/inkwell-cms/inkwell-backend/internal/collab"
	"github.com/inkwell-cms/inkwell-backend/internal/common"
	"github.com/inkwell-cms/inkwell-backend/internal/domain"
	"github.com/inkwell-cms/inkwell-backend/internal/middleware"
	"github.com/inkwell-cms/inkwell-backend/internal/ws"
	"github.com/inkwell-cms/inkwell-backend/pkg/logger"
)

// EditHandler upgrades connections into editing sessions
type EditHandler struct {
	coordinator    *collab.Coordinator
	allowedOrigins []string
	upgrader       websocket.Upgrader
}

// NewEditHandler creates a new EditHandler
func NewEditHandler(coordinator *collab.Coordinator, allowedOrigins string) *EditHandler {
	h := &EditHandler{
		coordinator:    coordinator,
		allowedOrigins: parseOrigins(allowedOrigins),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// parseOrigins parses comma-separated origins string
func parseOrigins(origins string) []string {
	if origins == "" {
		return nil
	}
	parts := strings.Split(origins, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		trimmed := strings.TrimSpace(p)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

// checkOrigin validates the request origin against allowed origins
func (h *EditHandler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true // Same-origin requests don't have Origin header
	}
	if len(h.allowedOrigins) == 0 {
		return true
	}
	for _, allowed := range h.allowedOrigins {
		if origin == allowed {
			return true
		}
	}
	return false
}

// Attach handles GET /ws/edit
// Query parameters define the edit scope: document, version, language,
// new, group. The connection id distinguishes tabs of the same actor.
func (h *EditHandler) Attach(c *gin.Context) {
	actorID := middleware.GetUserID(c)
	if actorID == "" {
		common.ErrorResponse(c, http.StatusUnauthorized, "authentication required", nil)
		return
	}

	scope, groupID, err := scopeFromQuery(c)
	if err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, err.Error(), nil)
		return
	}

	connID := c.Query("conn")
	if connID == "" {
		connID = c.GetString("request_id")
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.GetLogger().Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	sess, err := h.coordinator.Attach(scope, groupID, actorID, connID)
	if err != nil {
		conn.WriteMessage(websocket.CloseMessage, //nolint:errcheck
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, err.Error()))
		conn.Close()
		return
	}

	middleware.SessionAttached(1)
	client := ws.NewClient(conn, sess)
	go client.WritePump()
	go func() {
		client.ReadPump()
		middleware.SessionAttached(-1)
	}()
}

func scopeFromQuery(c *gin.Context) (domain.EditScope, string, error) {
	groupID := c.Query("group")
	scope := domain.EditScope{
		DocumentID: c.Query("document"),
		Language:   c.DefaultQuery("language", "en"),
		New:        c.Query("new") == "true",
	}
	if n := c.Query("version"); n != "" {
		version, err := strconv.Atoi(n)
		if err != nil {
			return scope, groupID, common.ErrInvalidInput
		}
		scope.Version = version
	}
	if scope.New {
		if groupID == "" {
			return scope, groupID, common.ErrInvalidInput
		}
		if scope.DocumentID == "" {
			// Pre-identity scope key for unsaved documents.
			scope.DocumentID = "new:" + groupID + ":" + c.Query("slug")
		}
		return scope, groupID, nil
	}
	if scope.DocumentID == "" || scope.Version < 1 {
		return scope, groupID, common.ErrInvalidInput
	}
	return scope, groupID, nil
}
