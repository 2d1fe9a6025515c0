package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"fable/internal/errors"
)

// statusFor is the single place HTTP codes are assigned to the error
// taxonomy.
func statusFor(err error) int {
	switch {
	case errors.IsNotFound(err):
		return http.StatusNotFound
	case errors.IsValidation(err), errors.IsInvariantViolation(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) abortError(c *gin.Context, err error) {
	body := gin.H{"error": err.Error()}
	var structureErr *errors.StructureError
	if errors.As(err, &structureErr) {
		body["structural_errors"] = structureErr.Findings
	}
	c.JSON(statusFor(err), body)
}

func (s *Server) bindJSON(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		s.abortError(c, errors.Validation("invalid request body: %v", err))
		return false
	}
	return true
}
