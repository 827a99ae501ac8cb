package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/inkwell-cms/inkwell-backend/internal/collab"
	"github.com/inkwell-cms/inkwell-backend/internal/common"
	"github.com/inkwell-cms/inkwell-backend/internal/domain"
)

// PresenceHandler exposes "who is editing / who is watching"
type PresenceHandler struct {
	coordinator *collab.Coordinator
}

// NewPresenceHandler creates a new PresenceHandler
func NewPresenceHandler(coordinator *collab.Coordinator) *PresenceHandler {
	return &PresenceHandler{coordinator: coordinator}
}

// Members handles GET /api/v1/presence
// Scope is given by the same query parameters as the edit socket.
func (h *PresenceHandler) Members(c *gin.Context) {
	scope := domain.EditScope{
		DocumentID: c.Query("document"),
		Language:   c.DefaultQuery("language", "en"),
		New:        c.Query("new") == "true",
	}
	if n := c.Query("version"); n != "" {
		version, err := strconv.Atoi(n)
		if err != nil {
			common.ErrorResponse(c, http.StatusBadRequest, "invalid version number", err)
			return
		}
		scope.Version = version
	}
	if scope.DocumentID == "" {
		common.ErrorResponse(c, http.StatusBadRequest, "document is required", nil)
		return
	}

	common.SuccessResponse(c, gin.H{"members": h.coordinator.Members(scope)}, nil)
}
