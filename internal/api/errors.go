package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"macd-backtester/internal/model"
	"macd-backtester/internal/optimizer"
)

// errNoStore is returned when a request names a symbol but the server has
// no bar store.
var errNoStore = errors.New("no bar store configured; send bars inline")

// classify maps an error onto an HTTP status and a stable error code.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, errNoStore):
		return http.StatusBadRequest, "INVALID_REQUEST"
	case errors.Is(err, optimizer.ErrNoResults):
		return http.StatusUnprocessableEntity, "NO_RESULTS"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "CANCELLED"
	}
	code := model.ErrorCode(err)
	switch code {
	case "INVALID_PARAMETER":
		return http.StatusBadRequest, code
	case "INVALID_SERIES", "INSUFFICIENT_DATA":
		return http.StatusUnprocessableEntity, code
	default:
		return http.StatusInternalServerError, code
	}
}

func errorBody(code, msg string, details map[string]interface{}) ErrorResponse {
	return ErrorResponse{Error: ErrorDetail{Code: code, Message: msg, Details: details}}
}

func badRequest(c *gin.Context, code, msg string) {
	c.JSON(http.StatusBadRequest, errorBody(code, msg, nil))
}

func respondError(c *gin.Context, err error) {
	status, code := classify(err)
	c.JSON(status, errorBody(code, err.Error(), nil))
}

// recovery turns a panic into an INTERNAL_ERROR body instead of an empty 500.
func recovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		c.AbortWithStatusJSON(http.StatusInternalServerError, errorBody("INTERNAL_ERROR", "internal server error", nil))
	})
}
