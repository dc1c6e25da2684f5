package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"ebbridge/internal/core/apperror"
	"ebbridge/internal/core/id"
	"ebbridge/internal/domain/mappings"
	"ebbridge/internal/infrastructure/http/v1/dto"
)

// ProposalHandler exposes the mapping proposal review queue.
type ProposalHandler struct {
	*BaseHandler
	service *mappings.Service
}

// NewProposalHandler creates a ProposalHandler.
func NewProposalHandler(base *BaseHandler, service *mappings.Service) *ProposalHandler {
	return &ProposalHandler{BaseHandler: base, service: service}
}

// List handles GET /v1/mappings/proposals.
func (h *ProposalHandler) List(c *gin.Context) {
	proposals, err := h.service.Pending(c.Request.Context())
	if err != nil {
		h.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"proposals": proposals})
}

// Approve handles POST /v1/mappings/proposals/:id/approve. The body is
// optional; when present it names the target mapped to the source code.
func (h *ProposalHandler) Approve(c *gin.Context) {
	proposalID, err := id.Parse(c.Param("id"))
	if err != nil {
		h.Error(c, apperror.NewValidation("invalid proposal id").WithDetail("id", c.Param("id")))
		return
	}

	var req dto.ApproveProposalRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			h.Error(c, apperror.NewValidation("invalid request body").WithCause(err))
			return
		}
	}

	p, err := h.service.Approve(c.Request.Context(), proposalID, req.Target)
	if err != nil {
		h.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// Reject handles POST /v1/mappings/proposals/:id/reject.
func (h *ProposalHandler) Reject(c *gin.Context) {
	proposalID, err := id.Parse(c.Param("id"))
	if err != nil {
		h.Error(c, apperror.NewValidation("invalid proposal id").WithDetail("id", c.Param("id")))
		return
	}

	if err := h.service.Reject(c.Request.Context(), proposalID); err != nil {
		h.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "rejected"})
}
