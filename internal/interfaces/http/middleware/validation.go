package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Eastern-Research-Group/csb-data-system/internal/domain/rebate"
	"github.com/Eastern-Research-Group/csb-data-system/internal/interfaces/http/dto"
)

// RequireObjectID rejects requests whose named path parameter is not a
// 24-character hex document ID, before the value reaches the form store.
func RequireObjectID(param string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !validObjectID(c.Param(param)) {
			c.AbortWithStatusJSON(http.StatusBadRequest,
				dto.NewErrorResponse(dto.ErrCodeInvalidInput, "MongoDB ObjectId validation error"))
			return
		}
		c.Next()
	}
}

func validObjectID(id string) bool {
	if len(id) != 24 {
		return false
	}
	for _, r := range id {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'f':
		case r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}

// RequireRebateYear rejects requests for rebate years the portal does
// not serve.
func RequireRebateYear() gin.HandlerFunc {
	return func(c *gin.Context) {
		if year := c.Param("rebateYear"); !rebate.ValidYear(year) {
			c.AbortWithStatusJSON(http.StatusBadRequest,
				dto.NewErrorResponse(dto.ErrCodeInvalidInput, "Invalid rebate year"))
			return
		}
		c.Next()
	}
}
