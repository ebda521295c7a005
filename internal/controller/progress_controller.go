package controller

import (
	"toothquest_backend/internal/service"
	"toothquest_backend/internal/util"

	"github.com/gin-gonic/gin"
)

type ProgressController struct {
	Service *service.ProgressService
}

func NewProgressController(svc *service.ProgressService) *ProgressController {
	return &ProgressController{Service: svc}
}

// @Summary 学习进度
// @Tags 学习进度
// @Produce json
// @Security BearerAuth
// @Success 200 {object} util.Response
// @Router /api/progress [get]
func (c *ProgressController) GetProgress(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	snapshot, err := c.Service.GetProgress(ctx.Request.Context(), user.UserID)
	if err != nil {
		util.RespondError(ctx, err)
		return
	}

	util.Success(ctx, snapshot)
}

// @Summary 连续学习天数
// @Tags 学习进度
// @Produce json
// @Security BearerAuth
// @Success 200 {object} util.Response
// @Router /api/progress/streak [get]
func (c *ProgressController) GetStreak(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	streak, err := c.Service.GetStreak(ctx.Request.Context(), user.UserID)
	if err != nil {
		util.RespondError(ctx, err)
		return
	}

	util.Success(ctx, streak)
}

// @Summary 重算学习进度
// @Description 指定 userId 时只重算该用户，否则重算全部学生
// @Tags 管理-学习进度
// @Produce json
// @Security BearerAuth
// @Param userId query int false "用户ID"
// @Success 200 {object} util.Response
// @Router /api/admin/progress/recompute [post]
func (c *ProgressController) Recompute(ctx *gin.Context) {
	if raw := ctx.Query("userId"); raw != "" {
		userID := util.MustParseUint(raw)
		if userID == 0 {
			util.BadRequest(ctx, "invalid user id")
			return
		}
		progress, err := c.Service.Recompute(ctx.Request.Context(), userID)
		if err != nil {
			util.RespondError(ctx, err)
			return
		}
		util.Success(ctx, progress)
		return
	}

	count, err := c.Service.RecomputeAll(ctx.Request.Context())
	if err != nil {
		util.RespondError(ctx, err)
		return
	}
	util.Success(ctx, gin.H{"recomputed": count})
}
