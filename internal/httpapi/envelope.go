// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Vidloom Contributors

package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/vidloom/accounts/internal/auth"
	"github.com/vidloom/accounts/pkg/errutil"
)

// Codes set by the REST layer itself.
const (
	CodeInternal      = "INTERNAL_ERROR"
	CodeRateLimited   = "RATE_LIMITED"
	CodeMissingToken  = "AUTH_MISSING_TOKEN"
	CodeRouteNotFound = "ROUTE_NOT_FOUND"
)

const genericInternalMessage = "something went wrong, please try again later"

// Envelope wraps every response body.
type Envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
	Code    string `json:"code,omitempty"`
}

func respond(c *gin.Context, message string, data any) {
	c.JSON(http.StatusOK, Envelope{Success: true, Message: message, Data: data})
}

func abort(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, Envelope{Message: message, Code: code})
}

// statusFor maps an error kind to its HTTP status.
func statusFor(kind auth.Kind) int {
	switch kind {
	case auth.KindValidation:
		return http.StatusBadRequest
	case auth.KindConflict:
		return http.StatusConflict
	case auth.KindNotFound:
		return http.StatusNotFound
	case auth.KindUnauthorized:
		return http.StatusUnauthorized
	case auth.KindForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// fail renders err. Operational errors keep their message and code; anything
// else is logged and replaced with a generic message.
func (s *Server) fail(c *gin.Context, err error) {
	if !auth.IsOperational(err) {
		errutil.LogError(c.Request.Context(), s.logger.With("route", c.FullPath()), "request failed", err)
		abort(c, http.StatusInternalServerError, CodeInternal, genericInternalMessage)
		return
	}
	abort(c, statusFor(auth.KindOf(err)), auth.ErrorCode(err), err.Error())
}

// invalid renders a request binding failure.
func invalid(c *gin.Context, err error) {
	abort(c, http.StatusBadRequest, auth.CodeValidationFailed, bindingMessage(err))
}

func bindingMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return "request body must be valid JSON"
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fieldMessage(fe))
	}
	return strings.Join(parts, "; ")
}

func fieldMessage(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "email":
		return field + " must be a valid email address"
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
	case "len":
		return fmt.Sprintf("%s must be exactly %s characters", field, fe.Param())
	case "numeric":
		return field + " must contain only digits"
	default:
		return field + " is invalid"
	}
}

var jsonNamesOnce sync.Once

// registerJSONNames makes validation errors report JSON field names.
func registerJSONNames() {
	jsonNamesOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
			if name == "" || name == "-" {
				return f.Name
			}
			return name
		})
	})
}
