package middleware

import (
	"net/http"
	"slices"

	"github.com/gin-gonic/gin"
)

const (
	// PermissionAdmin grants every permission.
	PermissionAdmin = "platform:admin"
	// PermissionDeliveryRead allows reading delivery logs of other users.
	PermissionDeliveryRead = "delivery:read"
)

// HasPermission reports whether the permissions JWTAuth stored on c include
// permission or the admin permission.
func HasPermission(c *gin.Context, permission string) bool {
	perms, ok := c.Get("permissions")
	if !ok {
		return false
	}
	list, ok := perms.([]string)
	if !ok {
		return false
	}
	return slices.Contains(list, PermissionAdmin) || slices.Contains(list, permission)
}

// RequirePermission aborts with 403 unless the token grants permission.
func RequirePermission(permission string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := c.Get("permissions"); !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"code": "FORBIDDEN", "message": "no permissions in context",
			})
			return
		}
		if !HasPermission(c, permission) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"code": "FORBIDDEN", "message": "insufficient permissions",
			})
			return
		}
		c.Next()
	}
}
