package workspace

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/casebridge/server/internal/module/billing"
	apperrors "github.com/casebridge/server/internal/shared/errors"
	"github.com/casebridge/server/internal/shared/middleware"
)

// Handler handles HTTP requests for the workspace.
type Handler struct {
	service *Service
	logger  *zap.Logger
}

// NewHandler creates a new workspace handler.
func NewHandler(service *Service, logger *zap.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// RegisterRoutes registers the workspace routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	cases := r.Group("/cases")
	{
		cases.POST("", h.CreateCase)
		cases.GET("", h.ListCases)
		cases.GET("/:id", h.GetCase)
		cases.PATCH("/:id", h.UpdateCase)
		cases.DELETE("/:id", h.DeleteCase)
		cases.POST("/:id/documents", h.AttachDocument)
		cases.GET("/:id/documents", h.ListDocuments)
		cases.POST("/:id/assistant", h.RecordAssistantRequest)
	}

	team := r.Group("/team")
	{
		team.GET("", h.ListMembers)
		team.POST("/invite", h.InviteMember)
		team.DELETE("/:id", h.RemoveMember)
	}

	r.DELETE("/documents/:id", h.DeleteDocument)
}

// CreateCase creates a new case.
func (h *Handler) CreateCase(c *gin.Context) {
	tenantID, ok := middleware.GetTenantID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var req CreateCaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	created, err := h.service.CreateCase(c.Request.Context(), tenantID, &req)
	if err != nil {
		h.respondError(c, err, "failed to create case")
		return
	}

	c.JSON(http.StatusCreated, created)
}

// ListCases returns the tenant's cases.
func (h *Handler) ListCases(c *gin.Context) {
	tenantID, ok := middleware.GetTenantID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	cases, err := h.service.ListCases(c.Request.Context(), tenantID)
	if err != nil {
		h.respondError(c, err, "failed to list cases")
		return
	}

	c.JSON(http.StatusOK, ListCasesResponse{Cases: cases})
}

// GetCase returns one case.
func (h *Handler) GetCase(c *gin.Context) {
	tenantID, caseID, ok := h.tenantAndID(c)
	if !ok {
		return
	}

	found, err := h.service.GetCase(c.Request.Context(), tenantID, caseID)
	if err != nil {
		h.respondError(c, err, "failed to get case")
		return
	}

	c.JSON(http.StatusOK, found)
}

// UpdateCase applies a partial update to a case.
func (h *Handler) UpdateCase(c *gin.Context) {
	tenantID, caseID, ok := h.tenantAndID(c)
	if !ok {
		return
	}

	var req UpdateCaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	updated, err := h.service.UpdateCase(c.Request.Context(), tenantID, caseID, &req)
	if err != nil {
		h.respondError(c, err, "failed to update case")
		return
	}

	c.JSON(http.StatusOK, updated)
}

// DeleteCase soft-deletes a case.
func (h *Handler) DeleteCase(c *gin.Context) {
	tenantID, caseID, ok := h.tenantAndID(c)
	if !ok {
		return
	}

	if err := h.service.DeleteCase(c.Request.Context(), tenantID, caseID); err != nil {
		h.respondError(c, err, "failed to delete case")
		return
	}

	c.Status(http.StatusNoContent)
}

// AttachDocument records a document on a case.
func (h *Handler) AttachDocument(c *gin.Context) {
	tenantID, caseID, ok := h.tenantAndID(c)
	if !ok {
		return
	}

	var req AttachDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	doc, err := h.service.AttachDocument(c.Request.Context(), tenantID, caseID, &req)
	if err != nil {
		h.respondError(c, err, "failed to attach document")
		return
	}

	c.JSON(http.StatusCreated, doc)
}

// ListDocuments returns the documents attached to a case.
func (h *Handler) ListDocuments(c *gin.Context) {
	tenantID, caseID, ok := h.tenantAndID(c)
	if !ok {
		return
	}

	docs, err := h.service.ListDocuments(c.Request.Context(), tenantID, caseID)
	if err != nil {
		h.respondError(c, err, "failed to list documents")
		return
	}

	c.JSON(http.StatusOK, ListDocumentsResponse{Documents: docs})
}

// DeleteDocument removes a document.
func (h *Handler) DeleteDocument(c *gin.Context) {
	tenantID, docID, ok := h.tenantAndID(c)
	if !ok {
		return
	}

	if err := h.service.DeleteDocument(c.Request.Context(), tenantID, docID); err != nil {
		h.respondError(c, err, "failed to delete document")
		return
	}

	c.Status(http.StatusNoContent)
}

// RecordAssistantRequest charges one AI request against the metered quota.
func (h *Handler) RecordAssistantRequest(c *gin.Context) {
	tenantID, caseID, ok := h.tenantAndID(c)
	if !ok {
		return
	}

	if err := h.service.RecordAssistantRequest(c.Request.Context(), tenantID, caseID); err != nil {
		h.respondError(c, err, "failed to record assistant request")
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"accepted": true})
}

// InviteMember adds a seat to the team.
func (h *Handler) InviteMember(c *gin.Context) {
	tenantID, ok := middleware.GetTenantID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var req InviteMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	member, err := h.service.InviteMember(c.Request.Context(), tenantID, &req)
	if err != nil {
		h.respondError(c, err, "failed to invite member")
		return
	}

	c.JSON(http.StatusCreated, member)
}

// ListMembers returns the tenant's team.
func (h *Handler) ListMembers(c *gin.Context) {
	tenantID, ok := middleware.GetTenantID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	members, err := h.service.ListMembers(c.Request.Context(), tenantID)
	if err != nil {
		h.respondError(c, err, "failed to list members")
		return
	}

	c.JSON(http.StatusOK, ListMembersResponse{Members: members})
}

// RemoveMember removes a non-owner seat.
func (h *Handler) RemoveMember(c *gin.Context) {
	tenantID, memberID, ok := h.tenantAndID(c)
	if !ok {
		return
	}

	if err := h.service.RemoveMember(c.Request.Context(), tenantID, memberID); err != nil {
		h.respondError(c, err, "failed to remove member")
		return
	}

	c.Status(http.StatusNoContent)
}

// tenantAndID extracts the authenticated tenant and the :id path parameter.
// It writes the error response itself when either is missing.
func (h *Handler) tenantAndID(c *gin.Context) (uuid.UUID, uuid.UUID, bool) {
	tenantID, ok := middleware.GetTenantID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return uuid.Nil, uuid.Nil, false
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return uuid.Nil, uuid.Nil, false
	}

	return tenantID, id, true
}

// respondError maps service errors to HTTP responses. Quota denials answer
// 402 so clients can route the user to the upgrade page.
func (h *Handler) respondError(c *gin.Context, err error, fallback string) {
	var quotaErr *billing.QuotaExceededError
	var appErr *apperrors.AppError

	switch {
	case errors.As(err, &quotaErr):
		appErr = apperrors.QuotaExceeded(quotaErr.Error())
		c.JSON(appErr.StatusCode, gin.H{
			"error":  appErr.ToResponse().Error,
			"metric": quotaErr.Metric,
			"limit":  quotaErr.Limit,
		})
		return
	case errors.Is(err, ErrCaseNotFound):
		appErr = apperrors.NotFound("case")
	case errors.Is(err, ErrDocumentNotFound):
		appErr = apperrors.NotFound("document")
	case errors.Is(err, ErrMemberNotFound):
		appErr = apperrors.NotFound("team member")
	case errors.Is(err, ErrMemberExists):
		appErr = apperrors.Conflict(err.Error())
	default:
		h.logger.Error(fallback, zap.Error(err))
		appErr = apperrors.Internal(fallback, err)
	}

	c.JSON(appErr.StatusCode, appErr.ToResponse())
}
