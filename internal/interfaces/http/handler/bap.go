package handler

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Eastern-Research-Group/csb-data-system/internal/application/submission"
)

// BAPHandler handles endpoints that read the status directory without
// touching the form store.
type BAPHandler struct {
	BaseHandler
	service *submission.Service
}

// NewBAPHandler creates a new BAPHandler
func NewBAPHandler(service *submission.Service) *BAPHandler {
	return &BAPHandler{service: service}
}

// RegisterRoutes registers the status directory routes under the API group.
func (h *BAPHandler) RegisterRoutes(rg *gin.RouterGroup) {
	group := rg.Group("/bap")
	group.GET("/sam-data", h.samData)
	group.POST("/duplicates", h.duplicates)
}

func (h *BAPHandler) samData(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}

	resp, err := h.service.SamData(c.Request.Context(), user)
	if err != nil {
		h.DomainError(c, err)
		return
	}
	h.Success(c, resp)
}

// duplicates forwards applicant identity data to the record matcher. The
// matcher's response is a third-party wire format, so it passes through
// unenveloped.
func (h *BAPHandler) duplicates(c *gin.Context) {
	if _, ok := currentUser(c); !ok {
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
	if err != nil {
		h.BadRequest(c, "Unable to read request body")
		return
	}

	result, err := h.service.CheckDuplicates(c.Request.Context(), body)
	if err != nil {
		h.DomainError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json", result)
}
