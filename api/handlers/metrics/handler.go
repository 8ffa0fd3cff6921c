package metrics

import (
	"backend/internal/common"
	"backend/internal/logger"
	"backend/internal/orchestrator"
	"backend/internal/tracker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Handler 指标与管理操作处理器
type Handler struct {
	orchestrator *orchestrator.Orchestrator
	tracker      *tracker.Tracker
	store        *tracker.Store // 可为 nil
}

// NewHandler 创建处理器
func NewHandler(orch *orchestrator.Orchestrator, trk *tracker.Tracker, store *tracker.Store) *Handler {
	return &Handler{orchestrator: orch, tracker: trk, store: store}
}

// Analytics 运行期分析
// @Summary 运行期分析
// @Description 汇总全部模型的自适应指标、可用性缓存与当前路由设置
// @Tags Analytics
// @Produce json
// @Success 200 {object} common.APIResponse{data=orchestrator.Analytics}
// @Router /api/analytics [get]
func (h *Handler) Analytics(c *gin.Context) {
	common.ResponseSuccess(c, h.orchestrator.Analytics())
}

// Reset 清空全部模型指标
// @Summary 重置指标
// @Tags Admin
// @Produce json
// @Success 200 {object} common.APIResponse
// @Security BearerAuth
// @Router /api/admin/metrics/reset [post]
func (h *Handler) Reset(c *gin.Context) {
	h.tracker.Reset()
	logger.Info("模型指标已重置", zap.String("operator", c.ClientIP()))
	common.ResponseSuccessMessage(c, "指标已重置", nil)
}

// Export 导出指标快照
// @Summary 导出指标
// @Description 导出可无损恢复的全量指标快照
// @Tags Admin
// @Produce json
// @Success 200 {object} common.APIResponse{data=tracker.Export}
// @Security BearerAuth
// @Router /api/admin/metrics/export [get]
func (h *Handler) Export(c *gin.Context) {
	common.ResponseSuccess(c, h.tracker.Export())
}

// Import 导入指标快照
// @Summary 导入指标
// @Description 用快照整体替换当前指标状态
// @Tags Admin
// @Accept json
// @Produce json
// @Param snapshot body tracker.Export true "指标快照"
// @Success 200 {object} common.APIResponse
// @Security BearerAuth
// @Router /api/admin/metrics/import [post]
func (h *Handler) Import(c *gin.Context) {
	var snapshot tracker.Export
	if err := c.ShouldBindJSON(&snapshot); err != nil {
		common.ResponseError(c, common.CodeInvalidSnapshot, "快照格式错误: "+err.Error())
		return
	}
	if err := h.tracker.Import(&snapshot); err != nil {
		common.ResponseError(c, common.CodeInvalidSnapshot, err.Error())
		return
	}
	logger.Info("模型指标已从快照恢复",
		zap.Int("models", len(snapshot.Models)),
		zap.String("operator", c.ClientIP()),
	)
	common.ResponseSuccessMessage(c, "指标已导入", nil)
}

// Snapshot 立即把当前指标落库
// @Summary 落库指标快照
// @Tags Admin
// @Produce json
// @Success 200 {object} common.APIResponse
// @Security BearerAuth
// @Router /api/admin/metrics/snapshot [post]
func (h *Handler) Snapshot(c *gin.Context) {
	if h.store == nil {
		common.ResponseError(c, common.CodeServiceUnavailable, "快照存储未启用")
		return
	}
	if err := h.store.Save(c.Request.Context(), h.tracker.Export()); err != nil {
		common.ResponseServerError(c, err.Error())
		return
	}
	common.ResponseSuccessMessage(c, "快照已落库", nil)
}

// UpdateSettings 更新路由运行期设置
// @Summary 更新路由设置
// @Description 部分更新降级阈值、质量阈值与可用性 TTL
// @Tags Admin
// @Accept json
// @Produce json
// @Param patch body tracker.SettingsPatch true "设置补丁"
// @Success 200 {object} common.APIResponse{data=tracker.Settings}
// @Security BearerAuth
// @Router /api/admin/settings [put]
func (h *Handler) UpdateSettings(c *gin.Context) {
	var patch tracker.SettingsPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		common.ResponseError(c, common.CodeInvalidSettings, "请求参数错误: "+err.Error())
		return
	}

	settings, err := h.tracker.UpdateSettings(patch)
	if err != nil {
		common.ResponseError(c, common.CodeInvalidSettings, err.Error())
		return
	}
	logger.Info("路由设置已更新",
		zap.Float64("fallbackThreshold", settings.FallbackThreshold),
		zap.Float64("qualityThreshold", settings.QualityThreshold),
		zap.Int("availabilityTtl", settings.AvailabilityTTL),
	)
	common.ResponseSuccess(c, settings)
}
