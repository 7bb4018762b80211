package server

import (
	"strings"

	"github.com/fitglance/fitglance/internal/shopify"
	"github.com/gin-gonic/gin"
)

const installationIDKey = "installation_id"

// RequireInstallation resolves the installation the request operates on. An
// explicit X-Installation-Id header wins; otherwise the configured shop's
// installation is looked up once per request.
func RequireInstallation(shop *shopify.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader("X-Installation-Id"))
		if id == "" && shop != nil {
			resolved, err := shop.InstallationID(c.Request.Context())
			if err != nil {
				AbortWithError(c, err)
				return
			}
			id = resolved
		}
		if id == "" {
			AbortWithError(c, newValidationError("installation", "invalid_installation", "no installation resolved"))
			return
		}
		c.Set(installationIDKey, id)
		c.Next()
	}
}

func installationID(c *gin.Context) string {
	return c.GetString(installationIDKey)
}
