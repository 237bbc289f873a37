package orders

import (
	"errors"

	"github.com/gin-gonic/gin"
	qrcode "github.com/skip2/go-qrcode"

	"github.com/wbobeirne/run-lnd-store/internal/identity"
	"github.com/wbobeirne/run-lnd-store/internal/types"
	"github.com/wbobeirne/run-lnd-store/pkg/response"
)

// GinHandlers contains HTTP handlers for stock and order endpoints
type GinHandlers struct {
	service *Service
}

// NewGinHandlers creates a new set of HTTP handlers for order endpoints
func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{service: service}
}

// StockHandler handles GET requests for per-size availability
func (h *GinHandlers) StockHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		stock, err := h.service.Ledger().GetStock()
		if err != nil {
			response.InternalError(c, "Could not load stock")
			return
		}
		response.Success(c, stock)
	}
}

type createOrderRequest struct {
	Message   string     `json:"message" binding:"required"`
	Signature string     `json:"signature" binding:"required"`
	Size      types.Size `json:"size" binding:"required"`
}

// CreateOrderHandler handles POST requests to create or resume an order.
// The request must carry a fresh proof of node ownership; the response is
// the order plus the access token needed for later writes.
func (h *GinHandlers) CreateOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createOrderRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "message, signature and size are required")
			return
		}

		envelope, err := h.service.CreateOrResumeOrder(c.Request.Context(), req.Message, req.Signature, req.Size)
		switch {
		case err == nil:
			response.Success(c, envelope)
		case errors.Is(err, identity.ErrInvalidSignature):
			response.BadRequest(c, identity.MsgInvalidSignature)
		case errors.Is(err, identity.ErrNodeUnavailable):
			response.ServiceUnavailable(c, "Could not reach our Lightning node, please try again shortly")
		case errors.Is(err, ErrInvalidSize):
			response.BadRequest(c, "That's not a size we stock")
		case errors.Is(err, ErrSoldOut):
			response.Conflict(c, "Sorry, that size just sold out")
		case errors.Is(err, ErrActiveOrderExists):
			response.Conflict(c, "You already have an order in progress")
		default:
			response.InternalError(c, "Failed to create invoice for your order, it's probably an issue on our end")
		}
	}
}

// GetOrderHandler handles GET requests to retrieve an order.
// URL parameter: id
func (h *GinHandlers) GetOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		order, err := h.service.GetOrder(c.Param("id"))
		if err != nil {
			response.InternalError(c, "An unexpected error occurred")
			return
		}
		if order == nil {
			response.NotFound(c, "No order found")
			return
		}
		response.Success(c, order)
	}
}

// UpdateShippingHandler handles PUT requests to set fulfillment fields.
// Requires a valid order token; only allow-listed fields are written,
// anything else in the payload is dropped.
func (h *GinHandlers) UpdateShippingHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var details types.ShippingDetails
		if err := c.ShouldBindJSON(&details); err != nil {
			response.BadRequest(c, "Invalid information for order, check the form and try again")
			return
		}

		order, err := h.service.FinalizeShipping(c.Param("id"), details)
		if err != nil {
			response.InternalError(c, "An unexpected error occurred")
			return
		}
		if order == nil {
			response.NotFound(c, "No order found")
			return
		}
		response.Success(c, order)
	}
}

// OrderQRHandler handles GET requests for a QR code of the order's
// payment request, rendered as a PNG.
func (h *GinHandlers) OrderQRHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		order, err := h.service.GetOrder(c.Param("id"))
		if err != nil {
			response.InternalError(c, "An unexpected error occurred")
			return
		}
		if order == nil {
			response.NotFound(c, "No order found")
			return
		}

		png, err := qrcode.Encode("lightning:"+order.PaymentRequest, qrcode.Medium, 256)
		if err != nil {
			response.InternalError(c, "Could not render QR code")
			return
		}
		c.Data(200, "image/png", png)
	}
}
