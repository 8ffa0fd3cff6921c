package auth

import (
	"strings"

	"github.com/gin-gonic/gin"

	"backend/internal/common"
)

// AdminRequired 管理端点认证中间件
// 要求 Authorization: Bearer <token>, Token 须由 Manager 签发且未过期
func AdminRequired(manager *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			common.AbortWithError(c, common.CodeUnauthorized, "缺少管理 Token")
			return
		}

		claims, err := manager.Verify(token)
		if err != nil {
			common.AbortWithError(c, common.CodeUnauthorized, "管理 Token 无效或已过期")
			return
		}

		c.Set("adminRole", claims.Role)
		c.Next()
	}
}
