package controller

import (
	"toothquest_backend/internal/model"
	"toothquest_backend/internal/service"
	"toothquest_backend/internal/util"

	"github.com/gin-gonic/gin"
)

type QuizSessionController struct {
	Service *service.SessionService
}

func NewQuizSessionController(svc *service.SessionService) *QuizSessionController {
	return &QuizSessionController{Service: svc}
}

type StartSessionReq struct {
	QuizID uint `json:"quizId" binding:"required"`
}

type SubmitAnswerReq struct {
	QuestionID       uint   `json:"questionId" binding:"required"`
	SelectedOption   string `json:"selectedOption" binding:"required"`
	TimeTakenSeconds int    `json:"timeTakenSeconds"`
	Flagged          bool   `json:"flagged"`
}

// @Summary 开始测验
// @Description 已有进行中的会话时直接返回该会话（200），否则新建（201）
// @Tags 测验会话
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param body body StartSessionReq true "测验ID"
// @Success 200 {object} util.Response
// @Success 201 {object} util.Response
// @Router /api/quiz-sessions [post]
func (c *QuizSessionController) Start(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	var req StartSessionReq
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	result, err := c.Service.StartSession(ctx.Request.Context(), user.UserID, req.QuizID)
	if err != nil {
		util.RespondError(ctx, err)
		return
	}

	if result.Resumed {
		util.Success(ctx, result)
		return
	}
	util.Created(ctx, result)
}

// @Summary 我的测验会话
// @Tags 测验会话
// @Produce json
// @Security BearerAuth
// @Param status query string false "in_progress | completed | expired | abandoned"
// @Success 200 {object} util.Response
// @Router /api/quiz-sessions [get]
func (c *QuizSessionController) List(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	status := model.SessionStatus(ctx.Query("status"))
	sessions, err := c.Service.ListSessions(ctx.Request.Context(), user.UserID, status)
	if err != nil {
		util.RespondError(ctx, err)
		return
	}

	util.Success(ctx, gin.H{"items": sessions, "total": len(sessions)})
}

// @Summary 会话详情
// @Tags 测验会话
// @Produce json
// @Security BearerAuth
// @Param id path int true "会话ID"
// @Success 200 {object} util.Response
// @Router /api/quiz-sessions/{id} [get]
func (c *QuizSessionController) Get(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	sessionID := util.MustParseUint(ctx.Param("id"))
	if sessionID == 0 {
		util.BadRequest(ctx, "invalid session id")
		return
	}

	view, err := c.Service.GetSession(ctx.Request.Context(), sessionID, user.UserID, user.IsAdmin())
	if err != nil {
		util.RespondError(ctx, err)
		return
	}

	util.Success(ctx, view)
}

// @Summary 提交答案
// @Description 同一题重复提交会覆盖之前的答案；会话超时返回 410
// @Tags 测验会话
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "会话ID"
// @Param body body SubmitAnswerReq true "答案"
// @Success 200 {object} util.Response
// @Failure 410 {object} util.Response
// @Router /api/quiz-sessions/{id}/answers [post]
func (c *QuizSessionController) SubmitAnswer(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	sessionID := util.MustParseUint(ctx.Param("id"))
	if sessionID == 0 {
		util.BadRequest(ctx, "invalid session id")
		return
	}

	var req SubmitAnswerReq
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	answer, err := c.Service.SubmitAnswer(ctx.Request.Context(), service.SubmitAnswerInput{
		SessionID:        sessionID,
		UserID:           user.UserID,
		QuestionID:       req.QuestionID,
		SelectedOption:   req.SelectedOption,
		TimeTakenSeconds: req.TimeTakenSeconds,
		Flagged:          req.Flagged,
	})
	if err != nil {
		util.RespondError(ctx, err)
		return
	}

	util.Success(ctx, answer)
}

// @Summary 完成测验
// @Description 重复调用返回首次完成时的成绩
// @Tags 测验会话
// @Produce json
// @Security BearerAuth
// @Param id path int true "会话ID"
// @Success 200 {object} util.Response
// @Router /api/quiz-sessions/{id}/complete [post]
func (c *QuizSessionController) Complete(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	sessionID := util.MustParseUint(ctx.Param("id"))
	if sessionID == 0 {
		util.BadRequest(ctx, "invalid session id")
		return
	}

	result, err := c.Service.CompleteSession(ctx.Request.Context(), sessionID, user.UserID)
	if err != nil {
		util.RespondError(ctx, err)
		return
	}

	util.Success(ctx, result)
}

// @Summary 测验回顾
// @Tags 测验会话
// @Produce json
// @Security BearerAuth
// @Param id path int true "会话ID"
// @Success 200 {object} util.Response
// @Router /api/quiz-sessions/{id}/review [get]
func (c *QuizSessionController) Review(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	sessionID := util.MustParseUint(ctx.Param("id"))
	if sessionID == 0 {
		util.BadRequest(ctx, "invalid session id")
		return
	}

	review, err := c.Service.ReviewSession(ctx.Request.Context(), sessionID, user.UserID, user.IsAdmin())
	if err != nil {
		util.RespondError(ctx, err)
		return
	}

	util.Success(ctx, review)
}

// @Summary 清理超时会话
// @Tags 管理-测验会话
// @Produce json
// @Security BearerAuth
// @Param dryRun query bool false "只列出不修改"
// @Success 200 {object} util.Response
// @Router /api/admin/quiz-sessions/expire [post]
func (c *QuizSessionController) ExpireOverdue(ctx *gin.Context) {
	dryRun := ctx.Query("dryRun") == "true"

	report, err := c.Service.ExpireOverdue(ctx.Request.Context(), dryRun, 0)
	if err != nil {
		util.RespondError(ctx, err)
		return
	}

	util.Success(ctx, report)
}

// @Summary 放弃会话
// @Tags 管理-测验会话
// @Produce json
// @Security BearerAuth
// @Param id path int true "会话ID"
// @Success 200 {object} util.Response
// @Router /api/admin/quiz-sessions/{id}/abandon [post]
func (c *QuizSessionController) Abandon(ctx *gin.Context) {
	sessionID := util.MustParseUint(ctx.Param("id"))
	if sessionID == 0 {
		util.BadRequest(ctx, "invalid session id")
		return
	}

	session, err := c.Service.AbandonSession(ctx.Request.Context(), sessionID)
	if err != nil {
		util.RespondError(ctx, err)
		return
	}

	util.Success(ctx, session)
}
