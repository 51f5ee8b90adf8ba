package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/draftsync/internal/response"
)

// CheckSingleDeviceSession validates the JWT's JTI against the active session
// in Redis. Issuing a new token for the student invalidates the old one, so
// only the most recently signed-in device can save drafts or take exams.
func CheckSingleDeviceSession(auth Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := GetClaims(c)
		if claims == nil {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenRequired)
			return
		}

		if err := auth.ValidateStudentSession(c.Request.Context(), claims.UserID, claims.ID); err != nil {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrSessionInvalidated)
			return
		}

		c.Next()
	}
}
