package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/franz/listen-stats/internal/util"
)

// ErrorCode is the machine-readable part of an error response
type ErrorCode string

const (
	errCodeBadRequest    ErrorCode = "bad_request"
	errCodeInvalidRange  ErrorCode = "invalid_range"
	errCodeNotFound      ErrorCode = "not_found"
	errCodeInternalError ErrorCode = "internal_error"
	errCodeStorageError  ErrorCode = "storage_unavailable"
	errCodeTimeout       ErrorCode = "timeout"
)

type errorResponse struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details string    `json:"details,omitempty"`
}

func respondWithError(c *gin.Context, statusCode int, code ErrorCode, message string, details ...string) {
	response := errorResponse{
		Error: errorDetail{
			Code:    code,
			Message: message,
		},
	}
	if len(details) > 0 {
		response.Error.Details = details[0]
	}
	c.AbortWithStatusJSON(statusCode, response)
}

func respondBadRequest(c *gin.Context, message string, details ...string) {
	respondWithError(c, http.StatusBadRequest, errCodeBadRequest, message, details...)
}

func respondNotFound(c *gin.Context, message string, details ...string) {
	respondWithError(c, http.StatusNotFound, errCodeNotFound, message, details...)
}

// respondInternalError logs err and hides it from the client
func respondInternalError(c *gin.Context, err error, message string, fields ...zap.Field) {
	fields = append(fields, zap.Error(err), zap.String("path", c.Request.URL.Path))
	util.Logger().Error(message, fields...)
	respondWithError(c, http.StatusInternalServerError, errCodeInternalError, message)
}

// respondError maps the domain error kinds onto HTTP statuses
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, util.ErrInvalidRange):
		respondWithError(c, http.StatusBadRequest, errCodeInvalidRange, "Invalid date range", err.Error())
	case errors.Is(err, util.ErrInvalidArgument):
		respondBadRequest(c, "Invalid request", err.Error())
	case errors.Is(err, util.ErrNotFound):
		respondNotFound(c, "Not found", err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		util.Logger().Warn("query timed out", zap.String("path", c.Request.URL.Path), zap.Error(err))
		respondWithError(c, http.StatusGatewayTimeout, errCodeTimeout, "Query timed out")
	case errors.Is(err, util.ErrStorageUnavailable):
		util.Logger().Error("storage unavailable", zap.String("path", c.Request.URL.Path), zap.Error(err))
		respondWithError(c, http.StatusServiceUnavailable, errCodeStorageError, "Storage unavailable")
	default:
		respondInternalError(c, err, "Internal server error")
	}
}
