package sessions

import (
	"errors"

	"backend/internal/common"
	"backend/internal/conversation"

	"github.com/gin-gonic/gin"
)

// Handler 会话处理器
type Handler struct {
	service *conversation.Service
}

// NewHandler 创建处理器
func NewHandler(service *conversation.Service) *Handler {
	return &Handler{service: service}
}

// CreateRequest 创建会话请求
type CreateRequest struct {
	Title string `json:"title"`
}

// Create 创建会话
// @Summary 创建会话
// @Tags Sessions
// @Accept json
// @Produce json
// @Param request body CreateRequest true "创建请求"
// @Success 200 {object} common.APIResponse{data=conversation.Session}
// @Router /api/sessions [post]
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.ResponseBadRequest(c, "请求参数错误: "+err.Error())
		return
	}
	if req.Title == "" {
		req.Title = "新会话"
	}

	session, err := h.service.CreateSession(c.Request.Context(), req.Title)
	if err != nil {
		common.ResponseServerError(c, "创建会话失败: "+err.Error())
		return
	}
	common.ResponseSuccess(c, session)
}

// List 列出会话
// @Summary 会话列表
// @Tags Sessions
// @Produce json
// @Param page query int false "页码" default(1)
// @Param page_size query int false "每页数量" default(20)
// @Success 200 {object} common.APIResponse{data=common.ListResponse}
// @Router /api/sessions [get]
func (h *Handler) List(c *gin.Context) {
	var req common.PaginationRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		common.ResponseBadRequest(c, "请求参数错误: "+err.Error())
		return
	}

	items, total, err := h.service.ListSessions(c.Request.Context(), req.GetPageSize(), req.GetOffset())
	if err != nil {
		common.ResponseServerError(c, "查询会话失败: "+err.Error())
		return
	}
	common.ResponseList(c, items, total, &req)
}

// Get 获取会话详情
// @Summary 会话详情
// @Tags Sessions
// @Produce json
// @Param id path string true "会话 ID"
// @Success 200 {object} common.APIResponse{data=conversation.Session}
// @Router /api/sessions/{id} [get]
func (h *Handler) Get(c *gin.Context) {
	session, err := h.service.GetSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, conversation.ErrSessionNotFound) {
			common.ResponseError(c, common.CodeSessionNotFound, "")
			return
		}
		common.ResponseServerError(c, "查询会话失败: "+err.Error())
		return
	}
	common.ResponseSuccess(c, session)
}

// History 获取会话消息历史
// @Summary 会话历史
// @Tags Sessions
// @Produce json
// @Param id path string true "会话 ID"
// @Param limit query int false "条数" default(50)
// @Success 200 {object} common.APIResponse{data=[]conversation.Message}
// @Router /api/sessions/{id}/messages [get]
func (h *Handler) History(c *gin.Context) {
	var query struct {
		Limit int `form:"limit"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		common.ResponseBadRequest(c, "请求参数错误: "+err.Error())
		return
	}

	messages, err := h.service.History(c.Request.Context(), c.Param("id"), query.Limit)
	if err != nil {
		common.ResponseServerError(c, "查询历史失败: "+err.Error())
		return
	}
	common.ResponseSuccess(c, messages)
}

// Delete 删除会话
// @Summary 删除会话
// @Tags Sessions
// @Produce json
// @Param id path string true "会话 ID"
// @Success 200 {object} common.APIResponse
// @Router /api/sessions/{id} [delete]
func (h *Handler) Delete(c *gin.Context) {
	if err := h.service.DeleteSession(c.Request.Context(), c.Param("id")); err != nil {
		if errors.Is(err, conversation.ErrSessionNotFound) {
			common.ResponseError(c, common.CodeSessionNotFound, "")
			return
		}
		common.ResponseServerError(c, "删除会话失败: "+err.Error())
		return
	}
	common.ResponseSuccessMessage(c, "会话已删除", nil)
}
