package middlewares

import (
	"strings"

	"github.com/gin-gonic/gin"
)

// BearerToken copies an "Authorization: Bearer" credential into the token
// header when the caller did not send one, so handlers read a single header.
func BearerToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader("token") == "" {
			auth := strings.TrimSpace(c.GetHeader("Authorization"))
			if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
				if token := strings.TrimSpace(auth[7:]); token != "" {
					c.Request.Header.Set("token", token)
				}
			}
		}
		c.Next()
	}
}
