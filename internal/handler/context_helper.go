package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/dimasfr/bimbel-admin-api/internal/middleware"
	"github.com/dimasfr/bimbel-admin-api/internal/models"
)

func claimsFromContext(c *gin.Context) *models.JWTClaims {
	value, exists := c.Get(middleware.ContextUserKey)
	if !exists {
		return nil
	}
	claims, ok := value.(*models.JWTClaims)
	if !ok {
		return nil
	}
	return claims
}

// actorFromContext returns the acting user's ID, empty when unauthenticated.
func actorFromContext(c *gin.Context) string {
	claims := claimsFromContext(c)
	if claims == nil {
		return ""
	}
	return claims.UserID
}
