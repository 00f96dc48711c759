package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"syntra-checkout/internal/services/pos"
	"syntra-checkout/internal/services/pos/cart"
	"syntra-checkout/internal/services/pos/checkout"
)

type APIResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
	Meta    interface{} `json:"meta,omitempty"`
	Error   string      `json:"error,omitempty"`
}

func successResponse(message string, data interface{}) APIResponse {
	return APIResponse{
		Success: true,
		Message: message,
		Data:    data,
	}
}

func successWithMetaResponse(message string, data interface{}, meta interface{}) APIResponse {
	return APIResponse{
		Success: true,
		Message: message,
		Data:    data,
		Meta:    meta,
	}
}

func errorResponse(message string) APIResponse {
	return APIResponse{
		Success: false,
		Message: message,
	}
}

func codedErrorResponse(message, code string, data interface{}) APIResponse {
	return APIResponse{
		Success: false,
		Message: message,
		Data:    data,
		Error:   code,
	}
}

// reconciliation is returned with a partial commit failure so staff can
// fix the ledger by hand.
type reconciliation struct {
	Phase    string          `json:"phase"`
	OrderID  string          `json:"order_id,omitempty"`
	Token    string          `json:"token"`
	Reserved []pos.StockLine `json:"reserved"`
	Cause    string          `json:"cause"`
}

// writeError maps core errors onto HTTP statuses.
func writeError(c *gin.Context, err error) {
	var (
		failure  *pos.CommitFailure
		stockErr *pos.InsufficientStockError
	)
	switch {
	case errors.As(err, &failure) && failure.Partial:
		c.JSON(http.StatusInternalServerError, codedErrorResponse(err.Error(), "PARTIAL_COMMIT", reconciliation{
			Phase:    failure.Phase,
			OrderID:  failure.OrderID,
			Token:    failure.Token,
			Reserved: failure.Reserved,
			Cause:    failure.Cause.Error(),
		}))
	case pos.IsValidation(err):
		c.JSON(http.StatusBadRequest, codedErrorResponse(err.Error(), "VALIDATION_FAILED", nil))
	case errors.As(err, &stockErr):
		c.JSON(http.StatusConflict, codedErrorResponse(err.Error(), "INSUFFICIENT_STOCK", gin.H{
			"product_id": stockErr.ProductID,
			"variant_id": stockErr.VariantID,
			"requested":  stockErr.Requested,
		}))
	case errors.Is(err, cart.ErrStockLimit):
		c.JSON(http.StatusConflict, codedErrorResponse(err.Error(), "INSUFFICIENT_STOCK", nil))
	case errors.Is(err, pos.ErrCommitInProgress):
		c.JSON(http.StatusConflict, codedErrorResponse(err.Error(), "COMMIT_IN_PROGRESS", nil))
	case errors.Is(err, checkout.ErrSessionNotFound), errors.Is(err, cart.ErrLineNotFound), errors.Is(err, pos.ErrNotFound):
		c.JSON(http.StatusNotFound, codedErrorResponse(err.Error(), "NOT_FOUND", nil))
	case errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusGatewayTimeout, codedErrorResponse("Request timed out", "TIMEOUT", nil))
	default:
		c.JSON(http.StatusBadGateway, codedErrorResponse(err.Error(), "UPSTREAM_FAILURE", nil))
	}
}
