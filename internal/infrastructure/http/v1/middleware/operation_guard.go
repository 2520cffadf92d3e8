package middleware

import (
	"github.com/gin-gonic/gin"

	"lotledger/internal/domain/integrity"
)

// OperationGuard rejects a second in-flight request for the same
// (method, route, item), where the item is read from the param route
// parameter. The guard is released when the handler returns.
func OperationGuard(guard *integrity.OperationGuard, param string) gin.HandlerFunc {
	return func(c *gin.Context) {
		item := c.Param(param)
		if item == "" {
			c.Next()
			return
		}

		release, err := guard.Enter(c.Request.Context(), c.Request.Method, c.FullPath(), item)
		if err != nil {
			_ = c.Error(err)
			c.Abort()
			return
		}
		defer release()

		c.Next()
	}
}
