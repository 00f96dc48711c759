package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"syntra-checkout/internal/gateway/middleware"
	"syntra-checkout/internal/services/pos"
	"syntra-checkout/internal/services/pos/checkout"
	"syntra-checkout/internal/services/pos/discount"
)

const commitTimeout = 15 * time.Second

type DiscountEvaluator interface {
	Evaluate(ctx context.Context, productID string, quantity int, customerID string) (*discount.Result, error)
}

type POSHTTPHandler struct {
	sessions  *checkout.Manager
	discounts DiscountEvaluator
	log       *zap.Logger
}

func NewPOSHTTPHandler(sessions *checkout.Manager, discounts DiscountEvaluator, log *zap.Logger) *POSHTTPHandler {
	return &POSHTTPHandler{
		sessions:  sessions,
		discounts: discounts,
		log:       log,
	}
}

// Request structs
type CreateSessionRequest struct {
	CustomerID string `json:"customer_id,omitempty"`
}

type AddItemRequest struct {
	ProductID string `json:"product_id" binding:"required"`
	VariantID string `json:"variant_id,omitempty"`
	Quantity  int    `json:"quantity" binding:"required,min=1"`
}

type UpdateItemRequest struct {
	VariantID string `json:"variant_id,omitempty"`
	Delta     int    `json:"delta" binding:"required"`
}

type SetCustomerRequest struct {
	CustomerID string `json:"customer_id"`
}

type CommitRequest struct {
	Token         string `json:"token" binding:"required"`
	PaymentMethod string `json:"payment_method" binding:"required"`
	Tendered      string `json:"tendered,omitempty"`
	CustomerID    string `json:"customer_id,omitempty"`
}

// Query structs
type EvaluateDiscountQuery struct {
	ProductID  string `form:"product_id" binding:"required"`
	Quantity   int    `form:"quantity,default=1"`
	CustomerID string `form:"customer_id"`
}

// --- Session Handlers ---

func (h *POSHTTPHandler) CreateSession(c *gin.Context) {
	var req CreateSessionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, errorResponse("Invalid request body"))
			return
		}
	}

	s := h.sessions.Create()
	if req.CustomerID != "" {
		s.SetCustomer(req.CustomerID)
	}
	c.JSON(http.StatusCreated, successResponse("Checkout session created", s.View()))
}

func (h *POSHTTPHandler) ListSessions(c *gin.Context) {
	views := h.sessions.List()
	c.JSON(http.StatusOK, successWithMetaResponse("Checkout sessions retrieved successfully", views, gin.H{"total": len(views)}))
}

func (h *POSHTTPHandler) GetSession(c *gin.Context) {
	s, err := h.sessions.Get(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse("Checkout session retrieved successfully", s.View()))
}

func (h *POSHTTPHandler) CloseSession(c *gin.Context) {
	if err := h.sessions.Close(c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse("Checkout session closed", nil))
}

func (h *POSHTTPHandler) SetCustomer(c *gin.Context) {
	var req SetCustomerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("Invalid request body"))
		return
	}
	s, err := h.sessions.Get(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	s.SetCustomer(req.CustomerID)
	c.JSON(http.StatusOK, successResponse("Customer updated", s.View()))
}

// --- Cart Handlers ---

func (h *POSHTTPHandler) AddItem(c *gin.Context) {
	var req AddItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("Invalid request body: "+err.Error()))
		return
	}
	s, err := h.sessions.Get(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	line, err := s.AddItem(ctx, req.ProductID, req.VariantID, req.Quantity)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, successWithMetaResponse("Item added to cart", line, s.View()))
}

func (h *POSHTTPHandler) UpdateItem(c *gin.Context) {
	var req UpdateItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("Invalid request body: "+err.Error()))
		return
	}
	s, err := h.sessions.Get(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}

	line, err := s.UpdateQuantity(c.Param("product_id"), req.VariantID, req.Delta)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, successWithMetaResponse("Cart item updated", line, s.View()))
}

func (h *POSHTTPHandler) RemoveItem(c *gin.Context) {
	s, err := h.sessions.Get(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	if err := s.RemoveItem(c.Param("product_id"), c.Query("variant_id")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse("Cart item removed", s.View()))
}

func (h *POSHTTPHandler) ClearCart(c *gin.Context) {
	s, err := h.sessions.Get(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	s.Clear()
	c.JSON(http.StatusOK, successResponse("Cart cleared", s.View()))
}

// --- Discount Handlers ---

func (h *POSHTTPHandler) EvaluateDiscount(c *gin.Context) {
	var query EvaluateDiscountQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("Invalid query parameters"))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	res, err := h.discounts.Evaluate(ctx, query.ProductID, query.Quantity, query.CustomerID)
	if err != nil {
		writeError(c, err)
		return
	}
	if res == nil {
		c.JSON(http.StatusOK, successResponse("No discount applies", nil))
		return
	}
	c.JSON(http.StatusOK, successResponse("Discount evaluated successfully", res))
}

// --- Commit Handlers ---

func (h *POSHTTPHandler) Commit(c *gin.Context) {
	var req CommitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("Invalid request body: "+err.Error()))
		return
	}

	tendered := decimal.Zero
	if req.Tendered != "" {
		var err error
		tendered, err = decimal.NewFromString(req.Tendered)
		if err != nil {
			c.JSON(http.StatusBadRequest, errorResponse("Invalid tendered amount"))
			return
		}
	}

	s, err := h.sessions.Get(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), commitTimeout)
	defer cancel()

	receipt, err := s.Commit(ctx, checkout.CommitRequest{
		Token:      req.Token,
		Method:     pos.PaymentMethod(req.PaymentMethod),
		Tendered:   tendered,
		CustomerID: req.CustomerID,
		CashierID:  middleware.StaffID(c),
	})
	if err != nil {
		h.log.Warn("checkout commit rejected",
			zap.String("session_id", s.ID),
			zap.String("token", req.Token),
			zap.Error(err),
		)
		writeError(c, err)
		return
	}

	status := http.StatusCreated
	message := "Order committed successfully"
	if receipt.Replayed {
		status = http.StatusOK
		message = "Order already committed"
	}
	c.JSON(status, successResponse(message, receipt))
}

// ParseLimit reads a positive integer query parameter.
func ParseLimit(c *gin.Context, name string, def int) int {
	v, err := strconv.Atoi(c.Query(name))
	if err != nil || v < 1 {
		return def
	}
	return v
}
