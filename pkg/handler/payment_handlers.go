// Simulated payment HTTP handlers
package handler

import (
	"errors"
	"net/http"

	"github.com/agentdesk/agentdesk/pkg/models"
	"github.com/agentdesk/agentdesk/pkg/service"
	"github.com/gin-gonic/gin"
)

// PaymentHandler handles the simulated subscription checkout.
type PaymentHandler struct {
	payments *service.PaymentService
}

func NewPaymentHandler(payments *service.PaymentService) *PaymentHandler {
	return &PaymentHandler{payments: payments}
}

// RegisterRoutes registers payment routes
func (h *PaymentHandler) RegisterRoutes(r *gin.RouterGroup) {
	payment := r.Group("/payment")
	{
		payment.POST("/checkout", h.StartCheckout)
		payment.POST("/checkout/complete", h.CompleteCheckout)
		payment.POST("/webhook", h.Webhook)
	}
}

// StartCheckout opens a checkout for a pending account.
// POST /api/payment/checkout
func (h *PaymentHandler) StartCheckout(c *gin.Context) {
	var req models.CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.payments.StartCheckout(req.Email)
	if err != nil {
		writeCheckoutError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// CompleteCheckout settles the simulated payment and activates the account.
// POST /api/payment/checkout/complete
func (h *PaymentHandler) CompleteCheckout(c *gin.Context) {
	var req models.CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.payments.CompleteCheckout(req.Email)
	if err != nil {
		writeCheckoutError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Webhook is the gateway-shaped settlement path. It does the same thing as
// CompleteCheckout; it exists so a real gateway can be dropped in later.
// POST /api/payment/webhook
func (h *PaymentHandler) Webhook(c *gin.Context) {
	var req models.CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if _, err := h.payments.CompleteCheckout(req.Email); err != nil {
		writeCheckoutError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"received": true})
}

func writeCheckoutError(c *gin.Context, err error) {
	if errors.Is(err, service.ErrUserNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
