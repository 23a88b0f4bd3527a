package middleware

import (
	"taskdesk/pkg/errutil"

	"github.com/gin-gonic/gin"
)

// Headers set by the upstream auth proxy.
const (
	HeaderUserID   = "X-User-ID"
	HeaderUserRole = "X-User-Role"
)

const (
	ctxUserID   = "actor.id"
	ctxUserRole = "actor.role"
)

// Actor requires the identity headers and stores them on the context.
func Actor() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderUserID)
		if id == "" {
			_ = c.Error(errutil.Unauthorized("missing "+HeaderUserID+" header", nil))
			c.Abort()
			return
		}
		c.Set(ctxUserID, id)
		c.Set(ctxUserRole, c.GetHeader(HeaderUserRole))
		c.Next()
	}
}

// ActorFrom returns the identity stored by Actor.
func ActorFrom(c *gin.Context) (id, role string) {
	return c.GetString(ctxUserID), c.GetString(ctxUserRole)
}
