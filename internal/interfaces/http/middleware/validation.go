package middleware

import (
	"net/http"
	"reflect"
	"strings"

	"github.com/bgl/storefront/internal/domain/shared"
	"github.com/bgl/storefront/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

// SetupValidator names fields after their json or form tag and registers
// the storefront tags:
//
//	participant  a conversation participant id: no ':' and not a guest id
func SetupValidator() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			if name == "" {
				name = strings.SplitN(fld.Tag.Get("form"), ",", 2)[0]
			}
			return name
		})
		_ = v.RegisterValidation("participant", validParticipant)
	}
}

func validParticipant(fl validator.FieldLevel) bool {
	id := fl.Field().String()
	return id != "" && !strings.Contains(id, ":") && !shared.IsReservedID(id)
}

// fieldLabels are the names validation messages use for request fields
var fieldLabels = map[string]string{
	"product_id":    "Product ID",
	"product_name":  "Product name",
	"size":          "Size",
	"quantity":      "Quantity",
	"unit_price":    "Unit price",
	"other_id":      "Recipient",
	"other_name":    "Recipient name",
	"content":       "Message",
	"type":          "Message type",
	"status":        "Order status",
	"paymentStatus": "Payment status",
}

func labelOf(field string) string {
	if label, ok := fieldLabels[field]; ok {
		return label
	}
	return field
}

// FormatValidationErrors formats validation errors into a standard response
func FormatValidationErrors(err error, requestID string) dto.Response {
	var details []dto.ValidationDetail

	if validationErrors, ok := err.(validator.ValidationErrors); ok {
		for _, e := range validationErrors {
			details = append(details, dto.ValidationDetail{
				Field:   e.Field(),
				Message: getValidationMessage(e),
			})
		}
	}

	resp := dto.NewValidationErrorResponse(details, requestID)
	if len(details) == 0 {
		// Malformed JSON or a type mismatch rather than a rule violation
		resp.Error.Code = dto.ErrCodeBadRequest
		resp.Error.Message = "Request body could not be decoded"
	}
	return resp
}

// HandleValidationError returns a validation error response
func HandleValidationError(c *gin.Context, err error) {
	requestID := getRequestIDFromContext(c)
	c.JSON(http.StatusBadRequest, FormatValidationErrors(err, requestID))
}

// getRequestIDFromContext extracts request ID from gin context
func getRequestIDFromContext(c *gin.Context) string {
	if id := c.GetString(RequestIDKey); id != "" {
		return id
	}
	if id := c.GetHeader(RequestIDHeader); id != "" {
		return id
	}
	return ""
}

// getValidationMessage returns a human-readable validation message
func getValidationMessage(e validator.FieldError) string {
	label := labelOf(e.Field())
	text := e.Type().Kind() == reflect.String
	switch e.Tag() {
	case "required":
		return label + " is required"
	case "participant":
		return label + " must be a customer or staff ID"
	case "min":
		if text {
			return label + " must be at least " + e.Param() + " characters"
		}
		return label + " must be at least " + e.Param()
	case "max":
		if text {
			return label + " must be at most " + e.Param() + " characters"
		}
		return label + " must be at most " + e.Param()
	case "oneof":
		return label + " must be one of: " + e.Param()
	case "gte":
		return label + " must be " + e.Param() + " or more"
	case "lte":
		return label + " must be " + e.Param() + " or less"
	case "gt":
		return label + " must be greater than " + e.Param()
	case "numeric":
		return label + " must be a number"
	default:
		return label + " is invalid"
	}
}
