package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"schoolattend/internal/attendance"
	"schoolattend/internal/cloudinary"
	"schoolattend/internal/faceclient"
	"schoolattend/internal/ledger"
	"schoolattend/internal/logging"
)

var statusByKind = map[string]int{
	"validation":            http.StatusUnprocessableEntity,
	"not_found":             http.StatusNotFound,
	"unknown_student":       http.StatusNotFound,
	"unauthorized_approver": http.StatusForbidden,
	"staff_not_approved":    http.StatusForbidden,
	"student_not_approved":  http.StatusConflict,
	"duplicate_attendance":  http.StatusConflict,
	"already_approved":      http.StatusConflict,
	"rejected":              http.StatusConflict,
	"invalid_transition":    http.StatusConflict,
	"duplicate_enrollment":  http.StatusConflict,
}

// writeError maps err to a status and a JSON body carrying the error kind.
func writeError(c *gin.Context, err error) {
	kind := ledger.ErrorKind(err)
	status, ok := statusByKind[kind]
	switch {
	case ok:
	case errors.Is(err, faceclient.ErrNoFace):
		status, kind = http.StatusUnprocessableEntity, "no_face"
	case errors.Is(err, attendance.ErrNoScorer), errors.Is(err, cloudinary.ErrNotConfigured):
		status, kind = http.StatusServiceUnavailable, "unavailable"
	default:
		status = http.StatusInternalServerError
	}

	body := gin.H{"error": err.Error(), "kind": kind}
	var vErr *ledger.ValidationError
	if errors.As(err, &vErr) {
		body["fields"] = vErr.FieldErrors
	}
	if status >= http.StatusInternalServerError {
		if logger := logging.FromContext(c.Request.Context()); logger != nil {
			logger.ErrorContext(c.Request.Context(), "request failed", "error", err)
		}
		if status == http.StatusInternalServerError {
			body["error"] = "internal error"
		}
	}
	c.AbortWithStatusJSON(status, body)
}

// badRequest reports a body or query that could not be decoded.
func badRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error(), "kind": "bad_request"})
}

func forbidden(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": msg, "kind": "forbidden"})
}
