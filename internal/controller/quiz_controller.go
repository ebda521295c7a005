package controller

import (
	"strconv"
	"toothquest_backend/internal/model"
	"toothquest_backend/internal/repository"
	"toothquest_backend/internal/service"
	"toothquest_backend/internal/util"
	"toothquest_backend/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type QuizController struct {
	Service        *service.QuizService
	Recommendation *service.RecommendationService
}

func NewQuizController(svc *service.QuizService, rec *service.RecommendationService) *QuizController {
	return &QuizController{Service: svc, Recommendation: rec}
}

// @Summary 可作答的测验列表
// @Tags 测验
// @Produce json
// @Security BearerAuth
// @Param module query string false "模块名称"
// @Param year query int false "年级 1-5"
// @Param difficulty query string false "easy | medium | hard"
// @Success 200 {object} util.Response
// @Router /api/quizzes [get]
func (c *QuizController) List(ctx *gin.Context) {
	year, _ := strconv.Atoi(ctx.DefaultQuery("year", "0"))
	filter := repository.QuizFilter{
		ModuleName: ctx.Query("module"),
		Year:       year,
		Difficulty: model.Difficulty(ctx.Query("difficulty")),
	}

	quizzes, err := c.Service.ListAvailable(ctx.Request.Context(), filter)
	if err != nil {
		util.RespondError(ctx, err)
		return
	}

	util.Success(ctx, gin.H{"items": quizzes, "total": len(quizzes)})
}

// @Summary 推荐测验
// @Description 根据最近成绩推荐不同难度的测验
// @Tags 测验
// @Produce json
// @Security BearerAuth
// @Success 200 {object} util.Response
// @Router /api/quizzes/recommended [get]
func (c *QuizController) Recommended(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	quizzes, err := c.Recommendation.Recommend(ctx.Request.Context(), user.UserID)
	if err != nil {
		util.RespondError(ctx, err)
		return
	}

	util.Success(ctx, quizzes)
}

// @Summary 测验详情
// @Tags 测验
// @Produce json
// @Security BearerAuth
// @Param id path int true "测验ID"
// @Success 200 {object} util.Response
// @Router /api/quizzes/{id} [get]
func (c *QuizController) Get(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	quizID := util.MustParseUint(ctx.Param("id"))
	if quizID == 0 {
		util.BadRequest(ctx, "invalid quiz id")
		return
	}

	quiz, err := c.Service.GetQuiz(ctx.Request.Context(), quizID, user.IsAdmin())
	if err != nil {
		util.RespondError(ctx, err)
		return
	}

	util.Success(ctx, quiz)
}

// @Summary 创建测验并组卷
// @Description 题库不足时仍然创建，响应中带 warning
// @Tags 管理-测验
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param body body service.CreateQuizRequest true "测验信息"
// @Success 201 {object} util.Response
// @Router /api/admin/quizzes [post]
func (c *QuizController) Create(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	var req service.CreateQuizRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	quiz, result, err := c.Service.CreateQuiz(ctx.Request.Context(), user.UserID, req)
	if err != nil {
		if quiz != nil {
			// 测验已创建，组卷失败可稍后重试
			logger.Log.Error("Quiz created but composition failed", zap.Uint("quizID", quiz.ID), zap.Error(err))
		}
		util.RespondError(ctx, err)
		return
	}

	util.Created(ctx, gin.H{"quiz": quiz, "composition": result})
}

// @Summary 重新组卷
// @Description 只补齐缺少的题目，已分配的题目保持不变
// @Tags 管理-测验
// @Produce json
// @Security BearerAuth
// @Param id path int true "测验ID"
// @Success 200 {object} util.Response
// @Router /api/admin/quizzes/{id}/compose [post]
func (c *QuizController) Compose(ctx *gin.Context) {
	quizID := util.MustParseUint(ctx.Param("id"))
	if quizID == 0 {
		util.BadRequest(ctx, "invalid quiz id")
		return
	}

	result, err := c.Service.Compose(ctx.Request.Context(), quizID)
	if err != nil {
		util.RespondError(ctx, err)
		return
	}

	util.Success(ctx, result)
}

// @Summary 测验统计
// @Tags 管理-测验
// @Produce json
// @Security BearerAuth
// @Param id path int true "测验ID"
// @Success 200 {object} util.Response
// @Router /api/admin/quizzes/{id}/statistics [get]
func (c *QuizController) Statistics(ctx *gin.Context) {
	quizID := util.MustParseUint(ctx.Param("id"))
	if quizID == 0 {
		util.BadRequest(ctx, "invalid quiz id")
		return
	}

	stats, err := c.Service.Statistics(ctx.Request.Context(), quizID)
	if err != nil {
		util.RespondError(ctx, err)
		return
	}

	util.Success(ctx, stats)
}
