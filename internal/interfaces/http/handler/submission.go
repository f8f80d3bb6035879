package handler

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Eastern-Research-Group/csb-data-system/internal/application/submission"
	"github.com/Eastern-Research-Group/csb-data-system/internal/domain/rebate"
	"github.com/Eastern-Research-Group/csb-data-system/internal/infrastructure/formio"
	"github.com/Eastern-Research-Group/csb-data-system/internal/interfaces/http/middleware"
)

// maxBodyBytes caps request bodies on the submission and storage routes.
const maxBodyBytes = 8 << 20

// SubmissionHandler handles the per-year form submission endpoints.
type SubmissionHandler struct {
	BaseHandler
	service *submission.Service
}

// NewSubmissionHandler creates a new SubmissionHandler
func NewSubmissionHandler(service *submission.Service) *SubmissionHandler {
	return &SubmissionHandler{service: service}
}

// DeletePRFRequest identifies the draft payment request to discard.
type DeletePRFRequest struct {
	MongoID string `json:"mongoId" binding:"required,len=24,hexadecimal"`
}

// RegisterRoutes registers the formio routes under the API group.
func (h *SubmissionHandler) RegisterRoutes(rg *gin.RouterGroup) {
	group := rg.Group("/formio/:rebateYear")
	group.Use(middleware.RequireRebateYear())

	objectID := middleware.RequireObjectID("mongoId")

	group.GET("/frf-submissions", h.list(rebate.FormTypeFRF))
	group.POST("/frf-submission", h.createFRF)
	group.GET("/frf-submission/:mongoId", objectID, h.get(rebate.FormTypeFRF))
	group.POST("/frf-submission/:mongoId", objectID, h.update(rebate.FormTypeFRF))

	group.GET("/prf-submissions", h.list(rebate.FormTypePRF))
	group.POST("/prf-submission", h.createPRF)
	group.GET("/prf-submission/:mongoId", objectID, h.get(rebate.FormTypePRF))
	group.POST("/prf-submission/:mongoId", objectID, h.update(rebate.FormTypePRF))
	group.POST("/delete-prf-submission", h.deletePRF)

	group.GET("/crf-submissions", h.list(rebate.FormTypeCRF))
	group.POST("/crf-submission", h.createCRF)
	group.GET("/crf-submission/:mongoId", objectID, h.get(rebate.FormTypeCRF))
	group.POST("/crf-submission/:mongoId", objectID, h.update(rebate.FormTypeCRF))

	group.GET("/s3/:formType/:mongoId/:comboKey/storage/s3", objectID, h.storageDownload)
	group.POST("/s3/:formType/:mongoId/:comboKey/storage/s3", objectID, h.storageUpload)

	group.GET("/pdf/:formType/:mongoId", objectID, h.exportPDF)
}

func (h *SubmissionHandler) list(formType rebate.FormType) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := currentUser(c)
		if !ok {
			return
		}

		merged, err := h.service.ListSubmissions(c.Request.Context(), user, c.Param("rebateYear"), formType)
		if err != nil {
			h.DomainError(c, err)
			return
		}
		h.Success(c, merged)
	}
}

func (h *SubmissionHandler) get(formType rebate.FormType) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := currentUser(c)
		if !ok {
			return
		}

		envelope, err := h.service.GetSubmission(c.Request.Context(), user,
			c.Param("rebateYear"), formType, c.Param("mongoId"))
		if err != nil {
			h.DomainError(c, err)
			return
		}
		h.Success(c, envelope)
	}
}

func (h *SubmissionHandler) createFRF(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}

	var payload formio.SubmissionPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		h.BadRequest(c, "Invalid submission payload")
		return
	}

	created, err := h.service.CreateFRF(c.Request.Context(), user, c.Param("rebateYear"), payload)
	if err != nil {
		h.DomainError(c, err)
		return
	}
	h.Created(c, created)
}

func (h *SubmissionHandler) createPRF(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}

	var req submission.CreatePRFRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, "Invalid payment request context")
		return
	}

	created, err := h.service.CreatePRF(c.Request.Context(), user, c.Param("rebateYear"), req)
	if err != nil {
		h.DomainError(c, err)
		return
	}
	h.Created(c, created)
}

func (h *SubmissionHandler) createCRF(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}

	var req submission.CreateCRFRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, "Invalid close out request context")
		return
	}

	created, err := h.service.CreateCRF(c.Request.Context(), user, c.Param("rebateYear"), req)
	if err != nil {
		h.DomainError(c, err)
		return
	}
	h.Created(c, created)
}

func (h *SubmissionHandler) update(formType rebate.FormType) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := currentUser(c)
		if !ok {
			return
		}

		var payload formio.SubmissionPayload
		if err := c.ShouldBindJSON(&payload); err != nil {
			h.BadRequest(c, "Invalid submission payload")
			return
		}

		updated, err := h.service.UpdateSubmission(c.Request.Context(), user,
			c.Param("rebateYear"), formType, c.Param("mongoId"), payload)
		if err != nil {
			h.DomainError(c, err)
			return
		}
		h.Success(c, updated)
	}
}

func (h *SubmissionHandler) deletePRF(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}

	var req DeletePRFRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, "Invalid delete request")
		return
	}

	if err := h.service.DeleteSubmission(c.Request.Context(), user,
		c.Param("rebateYear"), rebate.FormTypePRF, req.MongoID); err != nil {
		h.DomainError(c, err)
		return
	}
	h.NoContent(c)
}

// storageDownload proxies file metadata lookups. The upstream response is
// a third-party wire format, so it passes through unenveloped.
func (h *SubmissionHandler) storageDownload(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}

	formType, err := rebate.ParseFormType(c.Param("formType"))
	if err != nil {
		h.DomainError(c, err)
		return
	}

	result, err := h.service.StorageDownload(c.Request.Context(), user,
		c.Param("rebateYear"), formType, c.Param("comboKey"), c.Request.URL.Query())
	if err != nil {
		h.DomainError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json", result)
}

func (h *SubmissionHandler) storageUpload(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}

	formType, err := rebate.ParseFormType(c.Param("formType"))
	if err != nil {
		h.DomainError(c, err)
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
	if err != nil {
		h.BadRequest(c, "Unable to read request body")
		return
	}

	result, err := h.service.StorageUpload(c.Request.Context(), user,
		c.Param("rebateYear"), formType, c.Param("comboKey"), c.Param("mongoId"), body)
	if err != nil {
		h.DomainError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json", result)
}

func (h *SubmissionHandler) exportPDF(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}

	formType, err := rebate.ParseFormType(c.Param("formType"))
	if err != nil {
		h.DomainError(c, err)
		return
	}

	pdf, contentType, err := h.service.ExportPDF(c.Request.Context(), user,
		c.Param("rebateYear"), formType, c.Param("mongoId"))
	if err != nil {
		h.DomainError(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="submission.pdf"`)
	c.Data(http.StatusOK, contentType, pdf)
}
