package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/inkwell-cms/inkwell-backend/internal/broadcast"
	"github.com/inkwell-cms/inkwell-backend/internal/common"
	"github.com/inkwell-cms/inkwell-backend/internal/domain"
	"github.com/inkwell-cms/inkwell-backend/internal/middleware"
	"github.com/inkwell-cms/inkwell-backend/internal/service"
	"github.com/inkwell-cms/inkwell-backend/pkg/ginutil"
)

// DocumentHandler handles document read and write requests
type DocumentHandler struct {
	service service.DocumentService
	hub     *broadcast.Hub
}

// NewDocumentHandler creates a new DocumentHandler
func NewDocumentHandler(service service.DocumentService, hub *broadcast.Hub) *DocumentHandler {
	return &DocumentHandler{service: service, hub: hub}
}

// Get handles GET /api/v1/documents/:group/:slug
// Returns the display version: published > newest draft > highest number.
func (h *DocumentHandler) Get(c *gin.Context) {
	doc, err := h.service.GetDocument(c.Param("group"), c.Param("slug"))
	if err != nil {
		h.notFoundOrError(c, err)
		return
	}

	var version *domain.Version
	if number := ginutil.QueryInt(c, "version", 0); number > 0 {
		version, err = h.service.GetVersion(doc.ID, number)
	} else {
		version, err = h.service.DisplayVersion(doc.ID)
	}
	if err != nil {
		h.notFoundOrError(c, err)
		return
	}

	common.SuccessResponse(c, gin.H{
		"document": doc,
		"version":  version,
	}, nil)
}

// ListVersions handles GET /api/v1/documents/:group/:slug/versions
func (h *DocumentHandler) ListVersions(c *gin.Context) {
	doc, err := h.service.GetDocument(c.Param("group"), c.Param("slug"))
	if err != nil {
		h.notFoundOrError(c, err)
		return
	}

	numbers, err := h.service.ListVersionNumbers(doc.ID)
	if err != nil {
		common.ErrorResponse(c, http.StatusInternalServerError, "failed to list versions", err)
		return
	}
	common.SuccessResponse(c, gin.H{"versions": numbers}, nil)
}

// Status handles GET /api/v1/documents/:group/:slug/status
func (h *DocumentHandler) Status(c *gin.Context) {
	doc, err := h.service.GetDocument(c.Param("group"), c.Param("slug"))
	if err != nil {
		h.notFoundOrError(c, err)
		return
	}

	info, err := h.service.CurrentVersionStatus(doc.ID)
	if err != nil {
		h.notFoundOrError(c, err)
		return
	}
	common.SuccessResponse(c, info, nil)
}

// Save handles POST /api/v1/documents/:group/:slug/save
// This is the non-interactive save path for external producers such as
// translation generators. Interactive editing saves flow through the
// editing WebSocket, where ownership is enforced.
func (h *DocumentHandler) Save(c *gin.Context) {
	var in domain.SaveInput
	if err := c.ShouldBindJSON(&in); err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "invalid request body", err)
		return
	}

	doc, err := h.service.GetDocument(c.Param("group"), c.Param("slug"))
	if errors.Is(err, common.ErrDocumentNotFound) {
		result, createErr := h.service.CreateDocument(c.Param("group"), &in)
		if createErr != nil {
			h.saveError(c, createErr)
			return
		}
		middleware.RecordSave("created")
		common.SuccessResponse(c, result, nil)
		return
	}
	if err != nil {
		common.ErrorResponse(c, http.StatusInternalServerError, "failed to load document", err)
		return
	}

	version := ginutil.QueryInt(c, "version", 0)
	if version == 0 {
		info, statusErr := h.service.CurrentVersionStatus(doc.ID)
		if statusErr != nil {
			h.notFoundOrError(c, statusErr)
			return
		}
		version = info.VersionNumber
	}

	scope := domain.EditScope{DocumentID: doc.ID, Version: version, Language: in.Language}
	result, err := h.service.Save(scope, &in)
	if err != nil {
		middleware.RecordSave("error")
		h.saveError(c, err)
		return
	}

	outcome := "updated"
	if result.Forked {
		outcome = "forked"
	}
	if result.Version.Status == domain.StatusPublished {
		outcome = "published"
	}
	middleware.RecordSave(outcome)

	// Live editing sessions on this scope reload canonical content the
	// same way they do after a session save. The source never matches a
	// session ref, so nobody treats it as their own echo.
	h.hub.Publish(&broadcast.Event{
		Type:     broadcast.EventSaved,
		ScopeKey: scope.Key(),
		Source:   "external",
	})

	common.SuccessResponse(c, result, nil)
}

// DeleteVersion handles DELETE /api/v1/documents/:group/:slug/versions/:n
func (h *DocumentHandler) DeleteVersion(c *gin.Context) {
	doc, err := h.service.GetDocument(c.Param("group"), c.Param("slug"))
	if err != nil {
		h.notFoundOrError(c, err)
		return
	}

	number, err := ginutil.ParamInt(c, "n")
	if err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "invalid version number", err)
		return
	}

	info, err := h.service.DeleteVersion(doc.ID, number)
	if err != nil {
		h.notFoundOrError(c, err)
		return
	}
	common.SuccessResponse(c, gin.H{"display": info}, nil)
}

func (h *DocumentHandler) saveError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, common.ErrInvalidFormat):
		common.ErrorResponse(c, http.StatusUnprocessableEntity, "invalid field format", err)
	case errors.Is(err, common.ErrSlugAlreadyExists):
		common.ErrorResponse(c, http.StatusConflict, "slug already exists in group", err)
	case errors.Is(err, common.ErrDocumentNotFound), errors.Is(err, common.ErrVersionNotFound):
		common.ErrorResponse(c, http.StatusNotFound, "not found", err)
	default:
		common.ErrorResponse(c, http.StatusInternalServerError, "save failed", err)
	}
}

func (h *DocumentHandler) notFoundOrError(c *gin.Context, err error) {
	if errors.Is(err, common.ErrDocumentNotFound) || errors.Is(err, common.ErrVersionNotFound) {
		common.ErrorResponse(c, http.StatusNotFound, "not found", err)
		return
	}
	common.ErrorResponse(c, http.StatusInternalServerError, "internal error", err)
}
