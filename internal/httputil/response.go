package httputil

import (
	"github.com/gofiber/fiber/v3"

	"github.com/codecollab/hub/internal/apierr"
)

// SuccessResponse wraps successful API responses in the spec's
// {success, data?, error?} envelope.
type SuccessResponse struct {
	Success bool `json:"success"`
	Data    any  `json:"data,omitempty"`
}

// ErrorBody holds structured error details.
type ErrorBody struct {
	Code    apierr.Code `json:"code"`
	Message string      `json:"message"`
}

// ErrorResponse wraps failed API responses.
type ErrorResponse struct {
	Success bool      `json:"success"`
	Error   ErrorBody `json:"error"`
}

// Success sends a 200 JSON response with the given data.
func Success(c fiber.Ctx, data any) error {
	return c.JSON(SuccessResponse{Success: true, Data: data})
}

// SuccessStatus sends a JSON response with a custom status code.
func SuccessStatus(c fiber.Ctx, status int, data any) error {
	return c.Status(status).JSON(SuccessResponse{Success: true, Data: data})
}

// Fail sends a JSON error response for the given apierr.Code, using the
// status that Code.Status reports.
func Fail(c fiber.Ctx, code apierr.Code, message string) error {
	return c.Status(code.Status()).JSON(ErrorResponse{
		Error: ErrorBody{
			Code:    code,
			Message: message,
		},
	})
}
