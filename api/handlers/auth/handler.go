package auth

import (
	"errors"

	"backend/internal/auth"
	"backend/internal/common"

	"github.com/gin-gonic/gin"
)

// Handler 管理认证处理器
type Handler struct {
	manager *auth.Manager
}

// NewHandler 创建处理器
func NewHandler(manager *auth.Manager) *Handler {
	return &Handler{manager: manager}
}

// TokenRequest 换取管理 Token 请求
type TokenRequest struct {
	APIKey string `json:"api_key" binding:"required"`
}

// Token 换取管理 Token
// @Summary 换取管理 Token
// @Description 用 Admin API Key 换取短期 JWT，凭此访问 /api/admin 端点
// @Tags Auth
// @Accept json
// @Produce json
// @Param request body TokenRequest true "认证请求"
// @Success 200 {object} common.APIResponse
// @Router /api/auth/token [post]
func (h *Handler) Token(c *gin.Context) {
	var req TokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.ResponseBadRequest(c, "请求参数错误: "+err.Error())
		return
	}

	token, expiresAt, err := h.manager.Exchange(req.APIKey)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidAPIKey) {
			common.ResponseUnauthorized(c, "API Key 无效")
			return
		}
		common.ResponseServerError(c, err.Error())
		return
	}

	common.ResponseSuccess(c, gin.H{
		"token":      token,
		"expires_at": expiresAt,
	})
}
