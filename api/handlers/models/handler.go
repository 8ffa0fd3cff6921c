package models

import (
	"strconv"

	"backend/internal/ai"
	"backend/internal/common"
	"backend/internal/router"
	"backend/internal/tracker"

	"github.com/gin-gonic/gin"
)

// Handler 模型目录处理器
type Handler struct {
	factory  *ai.ClientFactory
	registry *router.Registry
	tracker  *tracker.Tracker
}

// NewHandler 创建处理器
func NewHandler(factory *ai.ClientFactory, registry *router.Registry, trk *tracker.Tracker) *Handler {
	return &Handler{factory: factory, registry: registry, tracker: trk}
}

// ModelView 模型目录条目
type ModelView struct {
	ID                string  `json:"id"`
	Provider          string  `json:"provider"`
	DisplayName       string  `json:"displayName"`
	Tier              string  `json:"tier"`
	MaxTokens         int     `json:"maxTokens"`
	SupportsStreaming bool    `json:"supportsStreaming"`
	InputCostPer1K    float64 `json:"inputCostPer1k"`
	OutputCostPer1K   float64 `json:"outputCostPer1k"`
	Enabled           bool    `json:"enabled"`
	AvailabilityScore float64 `json:"availabilityScore"`
	QualityScore      float64 `json:"qualityScore"`
	TotalRequests     int64   `json:"totalRequests"`
}

// List 模型目录
// @Summary 模型目录
// @Description 列出全部已配置模型及其运行期得分
// @Tags Models
// @Produce json
// @Success 200 {object} common.APIResponse{data=[]ModelView}
// @Router /api/models [get]
func (h *Handler) List(c *gin.Context) {
	descriptors := h.factory.Models()
	views := make([]ModelView, 0, len(descriptors))
	for _, desc := range descriptors {
		view := ModelView{
			ID:                desc.ID,
			Provider:          desc.Provider,
			DisplayName:       desc.DisplayName,
			Tier:              string(desc.Tier),
			MaxTokens:         desc.MaxTokens,
			SupportsStreaming: desc.SupportsStreaming,
			InputCostPer1K:    desc.InputCostPer1K,
			OutputCostPer1K:   desc.OutputCostPer1K,
			Enabled:           desc.Available,
			AvailabilityScore: 1.0,
		}
		if m, ok := h.tracker.Get(desc.ID); ok {
			view.AvailabilityScore = m.AvailabilityScore
			view.QualityScore = m.QualityScore
			view.TotalRequests = m.TotalRequests
		}
		views = append(views, view)
	}
	common.ResponseSuccess(c, views)
}

// Availability 查询单个模型的可达性
// @Summary 模型可达性
// @Description 查询模型可达性，force=true 跳过缓存强制探测
// @Tags Models
// @Produce json
// @Param id path string true "模型 ID"
// @Param force query bool false "强制探测" default(false)
// @Success 200 {object} common.APIResponse
// @Router /api/models/{id}/availability [get]
func (h *Handler) Availability(c *gin.Context) {
	modelID := c.Param("id")
	if _, ok := h.factory.Descriptor(modelID); !ok {
		common.ResponseError(c, common.CodeModelNotFound, "")
		return
	}

	force, _ := strconv.ParseBool(c.DefaultQuery("force", "false"))
	available := h.registry.CheckAvailability(c.Request.Context(), modelID, force)

	common.ResponseSuccess(c, gin.H{
		"model":     modelID,
		"available": available,
	})
}
