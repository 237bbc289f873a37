package identity

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/wbobeirne/run-lnd-store/internal/types"
	"github.com/wbobeirne/run-lnd-store/pkg/response"
)

// GinHandlers contains HTTP handlers for identity endpoints
type GinHandlers struct {
	service *Service
}

// NewGinHandlers creates a new set of HTTP handlers for identity endpoints
func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{service: service}
}

type verifyRequest struct {
	Message   string `json:"message" binding:"required"`
	Signature string `json:"signature" binding:"required"`
}

// VerifyHandler handles POST requests to verify a signed challenge.
// Unlike order creation, a node with no resolvable graph entry is rejected
// here: the store only sells to nodes with at least one public channel.
func (h *GinHandlers) VerifyHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req verifyRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "Both message and signature are required")
			return
		}

		identity, err := h.service.Verify(c.Request.Context(), req.Message, req.Signature)
		if err != nil {
			if errors.Is(err, ErrNodeUnavailable) {
				response.ServiceUnavailable(c, "Could not reach our Lightning node, please try again shortly")
				return
			}
			response.BadRequest(c, MsgInvalidSignature)
			return
		}
		if identity.Node == nil {
			response.BadRequest(c, MsgNoPublicNode)
			return
		}

		response.Success(c, types.SignatureVerification{
			Pubkey: identity.Pubkey,
			Node:   identity.Node,
			Valid:  true,
		})
	}
}

// NodeInfoHandler handles GET requests for node metadata.
// Query parameter: pubkey
func (h *GinHandlers) NodeInfoHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		pubkey := c.Query("pubkey")
		if pubkey == "" {
			response.BadRequest(c, "pubkey query parameter is required")
			return
		}

		node, err := h.service.GetNodeInfo(c.Request.Context(), pubkey)
		if err != nil {
			response.BadRequest(c, MsgNoPublicNode)
			return
		}

		response.Success(c, node)
	}
}
