package handler

import (
	"context"
	"errors"
	"net/http"

	appcart "github.com/bgl/storefront/internal/application/cart"
	apporder "github.com/bgl/storefront/internal/application/order"
	"github.com/bgl/storefront/internal/domain/shared"
	"github.com/bgl/storefront/internal/infrastructure/logger"
	"github.com/bgl/storefront/internal/infrastructure/remote"
	"github.com/bgl/storefront/internal/interfaces/http/dto"
	"github.com/bgl/storefront/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// BaseHandler provides common handler utilities
type BaseHandler struct{}

// getRequestID extracts the request ID from the context
func getRequestID(c *gin.Context) string {
	if id := c.GetString(middleware.RequestIDKey); id != "" {
		return id
	}
	return c.GetHeader(middleware.RequestIDHeader)
}

// remoteContext returns the request context carrying the caller's bearer
// token for calls to the commerce backend
func remoteContext(c *gin.Context) context.Context {
	return remote.ContextWithToken(c.Request.Context(), middleware.GetBearerToken(c))
}

// Success sends a success response
func (h *BaseHandler) Success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, dto.NewSuccessResponse(data).WithRequestID(getRequestID(c)))
}

// Created sends a 201 created response
func (h *BaseHandler) Created(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, dto.NewSuccessResponse(data).WithRequestID(getRequestID(c)))
}

// NoContent sends a 204 no content response
func (h *BaseHandler) NoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// Error sends an error response with the appropriate status code
func (h *BaseHandler) Error(c *gin.Context, statusCode int, code, message string) {
	c.JSON(statusCode, dto.NewErrorResponseWithRequestID(code, message, getRequestID(c)))
}

// ErrorWithCode sends an error response, deriving status code from error code
func (h *BaseHandler) ErrorWithCode(c *gin.Context, code, message string) {
	h.Error(c, dto.GetHTTPStatus(code), code, message)
}

// BadRequest sends a 400 bad request response
func (h *BaseHandler) BadRequest(c *gin.Context, message string) {
	h.Error(c, http.StatusBadRequest, dto.ErrCodeBadRequest, message)
}

// NotFound sends a 404 not found response
func (h *BaseHandler) NotFound(c *gin.Context, message string) {
	h.Error(c, http.StatusNotFound, dto.ErrCodeNotFound, message)
}

// Unauthorized sends a 401 unauthorized response
func (h *BaseHandler) Unauthorized(c *gin.Context, message string) {
	h.Error(c, http.StatusUnauthorized, dto.ErrCodeUnauthorized, message)
}

// Forbidden sends a 403 forbidden response
func (h *BaseHandler) Forbidden(c *gin.Context, message string) {
	h.Error(c, http.StatusForbidden, dto.ErrCodeForbidden, message)
}

// Conflict sends a 409 conflict response
func (h *BaseHandler) Conflict(c *gin.Context, code, message string) {
	h.Error(c, http.StatusConflict, code, message)
}

// InternalError sends a 500 internal server error response
func (h *BaseHandler) InternalError(c *gin.Context, message string) {
	h.Error(c, http.StatusInternalServerError, dto.ErrCodeInternal, message)
}

// BindError answers a failed ShouldBind call
func (h *BaseHandler) BindError(c *gin.Context, err error) {
	middleware.HandleValidationError(c, err)
}

// HandleError maps application and domain errors to HTTP responses
func (h *BaseHandler) HandleError(c *gin.Context, err error) {
	if err == nil {
		return
	}

	var domainErr *shared.DomainError
	switch {
	case errors.As(err, &domainErr):
		h.ErrorWithCode(c, dto.NormalizeErrorCode(domainErr.Code), domainErr.Message)
	case errors.Is(err, apporder.ErrSubmissionFailed):
		h.ErrorWithCode(c, dto.ErrCodeSubmissionFailed, "The order was not accepted by the commerce backend")
	case errors.Is(err, apporder.ErrForbidden):
		h.Forbidden(c, "Admin role required")
	case errors.Is(err, remote.ErrUnauthorized):
		h.Unauthorized(c, "The commerce backend rejected the session token")
	case errors.Is(err, remote.ErrUnavailable),
		errors.Is(err, remote.ErrRequestFailed),
		errors.Is(err, remote.ErrInvalidResponse):
		logger.GetGinLogger(c).Warn("Commerce backend call failed", zap.Error(err))
		h.ErrorWithCode(c, dto.ErrCodeUpstreamUnavailable, "The commerce backend is unavailable")
	case errors.Is(err, appcart.ErrRegistryClosed):
		h.Error(c, http.StatusServiceUnavailable, dto.ErrCodeInternal, "The service is shutting down")
	default:
		logger.L(c.Request.Context()).Error("Unhandled request error", zap.Error(err))
		h.InternalError(c, "An unexpected error occurred")
	}
}
