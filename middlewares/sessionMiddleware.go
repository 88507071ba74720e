package middlewares

import (
	"net/http"

	"bitbucket.org/mmdatafocus/crm_backend/utils"
	"github.com/gin-gonic/gin"
)

func SessionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Request.Header.Get("token")
		if token == "" {
			c.Next()
			return
		}

		parsed, err := utils.JwtValidate(token)
		if err != nil || !parsed.Valid {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}
		claims, ok := parsed.Claims.(*utils.JwtCustomClaim)
		if !ok || claims.OrganizationId == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}

		ctx := utils.SetOrganizationIdInContext(c.Request.Context(), claims.OrganizationId)
		ctx = utils.SetUserIdInContext(ctx, claims.ID)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
