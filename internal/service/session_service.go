package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"
	"toothquest_backend/internal/model"
	"toothquest_backend/internal/repository"
	"toothquest_backend/internal/util"
	"toothquest_backend/pkg/logger"
	"toothquest_backend/pkg/monitoring"
	"toothquest_backend/pkg/tracing"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var validate = validator.New()

// SubmitAnswerInput 选项字母大小写不敏感，会先规范化
type SubmitAnswerInput struct {
	SessionID        uint   `validate:"required"`
	UserID           uint   `validate:"required"`
	QuestionID       uint   `validate:"required"`
	SelectedOption   string `validate:"required"`
	TimeTakenSeconds int    `validate:"min=0"`
	Flagged          bool
}

// SessionService 测验会话状态机：in_progress -> completed | expired | abandoned
type SessionService struct {
	DB           *gorm.DB
	SessionRepo  *repository.SessionRepository
	QuizRepo     *repository.QuizRepository
	QuestionRepo *repository.QuestionRepository
	Storage      *StorageService
	Events       *EventBus

	now func() time.Time
}

func NewSessionService(
	db *gorm.DB,
	sessionRepo *repository.SessionRepository,
	quizRepo *repository.QuizRepository,
	questionRepo *repository.QuestionRepository,
	storage *StorageService,
	events *EventBus,
) *SessionService {
	return &SessionService{
		DB:           db,
		SessionRepo:  sessionRepo,
		QuizRepo:     quizRepo,
		QuestionRepo: questionRepo,
		Storage:      storage,
		Events:       events,
		now:          utcNow,
	}
}

func utcNow() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

// SetClock 测试中注入时间
func (s *SessionService) SetClock(now func() time.Time) {
	s.now = now
}

// StartSession 已有未超时的进行中会话则直接返回（Resumed=true），否则新建。
// 并发开始时由唯一索引 idx_quiz_sessions_active 决出唯一会话，失败方回读胜者。
func (s *SessionService) StartSession(ctx context.Context, userID, quizID uint) (*model.StartResult, error) {
	ctx, span := tracing.Tracer.Start(ctx, "SessionService.StartSession")
	defer span.End()
	span.SetAttributes(attribute.Int64("user.id", int64(userID)), attribute.Int64("quiz.id", int64(quizID)))

	quiz, err := s.QuizRepo.FindByID(ctx, quizID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, util.ErrQuizNotFound
		}
		return nil, err
	}
	if !quiz.Startable() {
		return nil, util.ErrQuizNotFound
	}

	assigned, err := s.QuizRepo.CountAssignments(ctx, quizID)
	if err != nil {
		return nil, err
	}
	total := int(assigned)
	if total == 0 {
		total = quiz.QuestionCount
	}

	limit := quiz.TimeLimitMinutes
	if limit <= 0 {
		limit = model.DefaultTimeLimitMinutes
	}

	now := s.now()
	var result *model.StartResult
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.SessionRepo.WithTx(tx)

		existing, err := repo.FindActive(ctx, userID, quizID)
		switch {
		case err == nil:
			if !existing.Overdue(now) {
				result = &model.StartResult{Session: existing, Resumed: true}
				return nil
			}
			expired, err := repo.MarkExpired(ctx, existing.ID, now)
			if err != nil {
				return err
			}
			if expired {
				monitoring.SessionsExpired.WithLabelValues("lazy").Inc()
				logger.Log.Info("Expired overdue session before restart",
					zap.Uint("sessionID", existing.ID),
					zap.Uint("userID", userID))
			}
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}

		session := &model.QuizSession{
			Timestamps:     model.Timestamps{CreatedAt: now, UpdatedAt: now},
			UserID:         userID,
			QuizID:         quizID,
			ActiveSlot:     model.NewActiveSlot(),
			Status:         model.SessionInProgress,
			StartedAt:      now,
			ExpiresAt:      now.Add(time.Duration(limit) * time.Minute),
			TotalQuestions: total,
		}
		if err := repo.Create(ctx, session); err != nil {
			return err
		}
		result = &model.StartResult{Session: session}
		return nil
	})

	if errors.Is(err, gorm.ErrDuplicatedKey) {
		winner, ferr := s.SessionRepo.FindActive(ctx, userID, quizID)
		if ferr != nil {
			return nil, fmt.Errorf("reload concurrent session: %w", ferr)
		}
		logger.Log.Info("Concurrent start resolved to existing session",
			zap.Uint("sessionID", winner.ID),
			zap.Uint("userID", userID))
		result = &model.StartResult{Session: winner, Resumed: true}
		err = nil
	}
	if err != nil {
		return nil, err
	}

	if result.Resumed {
		monitoring.SessionsStarted.WithLabelValues("resumed").Inc()
	} else {
		monitoring.SessionsStarted.WithLabelValues("created").Inc()
		logger.Log.Info("Quiz session started",
			zap.Uint("sessionID", result.Session.ID),
			zap.Uint("userID", userID),
			zap.Uint("quizID", quizID),
			zap.Time("expiresAt", result.Session.ExpiresAt))
	}
	return result, nil
}

// loadOwned 会话不存在返回 NotFound，非本人返回 Forbidden
func (s *SessionService) loadOwned(ctx context.Context, sessionID, userID uint) (*model.QuizSession, error) {
	session, err := s.SessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, util.ErrSessionNotFound
		}
		return nil, err
	}
	if session.UserID != userID {
		return nil, util.ErrNotSessionOwner
	}
	return session, nil
}

// ensureNotExpired 所有修改会话的操作都先经过这里：
// 非进行中的会话直接拒绝；已过截止时间的会话先转为 expired 再返回 ErrSessionExpired。
func (s *SessionService) ensureNotExpired(ctx context.Context, session *model.QuizSession) error {
	switch session.Status {
	case model.SessionInProgress:
	case model.SessionExpired:
		return util.ErrSessionExpired
	default:
		return util.ErrSessionClosed
	}

	now := s.now()
	if !session.Overdue(now) {
		return nil
	}

	expired, err := s.SessionRepo.MarkExpired(ctx, session.ID, now)
	if err != nil {
		return err
	}
	if !expired {
		// 已被其他请求结束，以库中状态为准
		current, err := s.SessionRepo.FindByID(ctx, session.ID)
		if err != nil {
			return err
		}
		*session = *current
		if session.Status == model.SessionExpired {
			return util.ErrSessionExpired
		}
		return util.ErrSessionClosed
	}

	monitoring.SessionsExpired.WithLabelValues("lazy").Inc()
	logger.Log.Info("Quiz session expired on access",
		zap.Uint("sessionID", session.ID),
		zap.Uint("userID", session.UserID),
		zap.Time("expiresAt", session.ExpiresAt))

	session.Status = model.SessionExpired
	session.ActiveSlot = nil
	session.UpdatedAt = now
	return util.ErrSessionExpired
}

// SubmitAnswer 立即判分并按 (session, question) 覆盖写入，不修改会话本身
func (s *SessionService) SubmitAnswer(ctx context.Context, in SubmitAnswerInput) (*model.QuizAnswer, error) {
	ctx, span := tracing.Tracer.Start(ctx, "SessionService.SubmitAnswer")
	defer span.End()
	span.SetAttributes(attribute.Int64("session.id", int64(in.SessionID)), attribute.Int64("question.id", int64(in.QuestionID)))

	letter, ok := model.NormalizeOption(in.SelectedOption)
	if !ok {
		return nil, util.ErrInvalidOption
	}
	in.SelectedOption = letter
	if err := validate.Struct(in); err != nil {
		return nil, fmt.Errorf("%w: %v", util.ErrInvalidAnswer, err)
	}

	session, err := s.loadOwned(ctx, in.SessionID, in.UserID)
	if err != nil {
		return nil, err
	}
	if err := s.ensureNotExpired(ctx, session); err != nil {
		return nil, err
	}

	if _, err := s.QuestionRepo.FindByID(ctx, in.QuestionID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, util.ErrQuestionNotFound
		}
		return nil, err
	}

	// 测验已组卷时只接受卷内题目
	assigned, err := s.QuizRepo.CountAssignments(ctx, session.QuizID)
	if err != nil {
		return nil, err
	}
	if assigned > 0 {
		inQuiz, err := s.QuizRepo.IsAssigned(ctx, session.QuizID, in.QuestionID)
		if err != nil {
			return nil, err
		}
		if !inQuiz {
			return nil, util.ErrQuestionNotFound
		}
	}

	correct, err := s.QuestionRepo.FindCorrectOption(ctx, in.QuestionID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		logger.Log.Warn("Question has no correct option", zap.Uint("questionID", in.QuestionID))
	}

	now := s.now()
	answer := &model.QuizAnswer{
		Timestamps:       model.Timestamps{CreatedAt: now, UpdatedAt: now},
		SessionID:        session.ID,
		QuestionID:       in.QuestionID,
		SelectedOption:   letter,
		IsCorrect:        correct != "" && letter == correct,
		TimeTakenSeconds: in.TimeTakenSeconds,
		Flagged:          in.Flagged,
	}
	if err := s.SessionRepo.UpsertAnswer(ctx, answer); err != nil {
		return nil, fmt.Errorf("save answer: %w", err)
	}

	monitoring.AnswersSubmitted.WithLabelValues(strconv.FormatBool(answer.IsCorrect)).Inc()
	return answer, nil
}

// CompleteSession 统计答题并结束会话，随后同步发布 SessionCompleted。
// 对已完成的会话重复调用返回原成绩（AlreadyCompleted=true），不会再次发布事件。
func (s *SessionService) CompleteSession(ctx context.Context, sessionID, userID uint) (*model.SessionResult, error) {
	ctx, span := tracing.Tracer.Start(ctx, "SessionService.CompleteSession")
	defer span.End()
	span.SetAttributes(attribute.Int64("session.id", int64(sessionID)))

	session, err := s.loadOwned(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}
	if session.Status == model.SessionCompleted {
		return s.resultOf(ctx, session, true), nil
	}
	if err := s.ensureNotExpired(ctx, session); err != nil {
		return nil, err
	}

	total, correct, err := s.SessionRepo.CountAnswers(ctx, session.ID)
	if err != nil {
		return nil, fmt.Errorf("count answers: %w", err)
	}

	now := s.now()
	score := util.Round(util.Percent(correct, total), 2)
	elapsed := int(now.Sub(session.StartedAt).Seconds())
	if elapsed < 0 {
		elapsed = 0
	}

	session.CompletedAt = &now
	session.Score = &score
	session.TotalQuestions = total
	session.CorrectAnswers = correct
	session.ElapsedSeconds = elapsed
	session.UpdatedAt = now

	completed, err := s.SessionRepo.MarkCompleted(ctx, session)
	if err != nil {
		return nil, fmt.Errorf("complete session: %w", err)
	}
	if !completed {
		// 与另一个完成请求或清理任务竞争失败
		current, err := s.SessionRepo.FindByID(ctx, session.ID)
		if err != nil {
			return nil, err
		}
		switch current.Status {
		case model.SessionCompleted:
			return s.resultOf(ctx, current, true), nil
		case model.SessionExpired:
			return nil, util.ErrSessionExpired
		default:
			return nil, util.ErrSessionClosed
		}
	}
	session.Status = model.SessionCompleted
	session.ActiveSlot = nil

	logger.Log.Info("Quiz session completed",
		zap.Uint("sessionID", session.ID),
		zap.Uint("userID", session.UserID),
		zap.Float64("score", score),
		zap.Int("correct", correct),
		zap.Int("total", total))

	if s.Events != nil {
		evt := NewSessionCompleted(session.ID, session.UserID, session.QuizID)
		evt.Score = score
		evt.CorrectAnswers = correct
		evt.TotalQuestions = total
		evt.ElapsedSeconds = elapsed
		evt.CompletedAt = now
		s.Events.Publish(ctx, evt)
	}

	return s.resultOf(ctx, session, false), nil
}

func (s *SessionService) resultOf(ctx context.Context, session *model.QuizSession, already bool) *model.SessionResult {
	passing := model.DefaultPassingScore
	if quiz, err := s.QuizRepo.FindByID(ctx, session.QuizID); err == nil {
		passing = quiz.PassingScore
	}

	var score float64
	if session.Score != nil {
		score = *session.Score
	}
	result := &model.SessionResult{
		SessionID:        session.ID,
		QuizID:           session.QuizID,
		Status:           session.Status,
		Score:            util.Round(score, 1),
		CorrectAnswers:   session.CorrectAnswers,
		TotalQuestions:   session.TotalQuestions,
		ElapsedSeconds:   session.ElapsedSeconds,
		Passed:           score >= float64(passing),
		AlreadyCompleted: already,
	}
	if session.CompletedAt != nil {
		result.CompletedAt = *session.CompletedAt
	}
	return result
}

// expireIfOverdue 读路径上的惰性过期，不返回 ErrSessionExpired
func (s *SessionService) expireIfOverdue(ctx context.Context, session *model.QuizSession) error {
	if session.Status != model.SessionInProgress || !session.Overdue(s.now()) {
		return nil
	}
	err := s.ensureNotExpired(ctx, session)
	if err == nil || errors.Is(err, util.ErrSessionExpired) || errors.Is(err, util.ErrSessionClosed) {
		return nil
	}
	return err
}

func (s *SessionService) view(ctx context.Context, session *model.QuizSession) (*model.SessionView, error) {
	total, _, err := s.SessionRepo.CountAnswers(ctx, session.ID)
	if err != nil {
		return nil, err
	}
	return &model.SessionView{
		QuizSession:      session,
		RemainingSeconds: session.RemainingSeconds(s.now()),
		AnsweredCount:    total,
	}, nil
}

// GetSession asAdmin 为 true 时跳过归属校验
func (s *SessionService) GetSession(ctx context.Context, sessionID, userID uint, asAdmin bool) (*model.SessionView, error) {
	var (
		session *model.QuizSession
		err     error
	)
	if asAdmin {
		session, err = s.SessionRepo.FindByID(ctx, sessionID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, util.ErrSessionNotFound
		}
	} else {
		session, err = s.loadOwned(ctx, sessionID, userID)
	}
	if err != nil {
		return nil, err
	}

	if err := s.expireIfOverdue(ctx, session); err != nil {
		return nil, err
	}
	return s.view(ctx, session)
}

// ListSessions status 为空返回全部会话
func (s *SessionService) ListSessions(ctx context.Context, userID uint, status model.SessionStatus) ([]model.SessionView, error) {
	if status != "" && !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", util.ErrInvalid, status)
	}

	// 先处理超时的进行中会话，再按条件查询
	active, err := s.SessionRepo.ListByUser(ctx, userID, model.SessionInProgress)
	if err != nil {
		return nil, err
	}
	for i := range active {
		if err := s.expireIfOverdue(ctx, &active[i]); err != nil {
			return nil, err
		}
	}

	sessions, err := s.SessionRepo.ListByUser(ctx, userID, status)
	if err != nil {
		return nil, err
	}

	views := make([]model.SessionView, 0, len(sessions))
	for i := range sessions {
		v, err := s.view(ctx, &sessions[i])
		if err != nil {
			return nil, err
		}
		views = append(views, *v)
	}
	return views, nil
}

// AbandonSession 管理员显式放弃进行中的会话
func (s *SessionService) AbandonSession(ctx context.Context, sessionID uint) (*model.QuizSession, error) {
	session, err := s.SessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, util.ErrSessionNotFound
		}
		return nil, err
	}
	if session.Status != model.SessionInProgress {
		return nil, util.ErrSessionClosed
	}

	abandoned, err := s.SessionRepo.MarkAbandoned(ctx, sessionID, s.now())
	if err != nil {
		return nil, err
	}
	if !abandoned {
		return nil, util.ErrSessionClosed
	}

	logger.Log.Info("Quiz session abandoned", zap.Uint("sessionID", sessionID), zap.Uint("userID", session.UserID))
	return s.SessionRepo.FindByID(ctx, sessionID)
}

// ExpireOverdue 批量清理超时会话，逐条条件更新；单条失败记录日志后继续
func (s *SessionService) ExpireOverdue(ctx context.Context, dryRun bool, batchSize int) (*model.ExpireReport, error) {
	ctx, span := tracing.Tracer.Start(ctx, "SessionService.ExpireOverdue")
	defer span.End()

	now := s.now()
	ids, err := s.SessionRepo.FindOverdueIDs(ctx, now, batchSize)
	if err != nil {
		return nil, fmt.Errorf("find overdue sessions: %w", err)
	}

	report := &model.ExpireReport{DryRun: dryRun, Candidates: ids}
	if dryRun {
		return report, nil
	}

	for _, id := range ids {
		expired, err := s.SessionRepo.MarkExpired(ctx, id, now)
		if err != nil {
			report.Failed++
			logger.Log.Error("Failed to expire session", zap.Uint("sessionID", id), zap.Error(err))
			continue
		}
		if expired {
			report.Expired++
			monitoring.SessionsExpired.WithLabelValues("sweep").Inc()
		}
	}

	if report.Expired > 0 || report.Failed > 0 {
		logger.Log.Info("Expired overdue quiz sessions",
			zap.Int("expired", report.Expired),
			zap.Int("failed", report.Failed))
	}
	span.SetAttributes(attribute.Int("sessions.expired", report.Expired))
	return report, nil
}

// ReviewSession 只允许回顾已完成的会话，按组卷顺序返回每道已答题目
func (s *SessionService) ReviewSession(ctx context.Context, sessionID, userID uint, asAdmin bool) (*model.SessionReview, error) {
	var (
		session *model.QuizSession
		err     error
	)
	if asAdmin {
		session, err = s.SessionRepo.FindByID(ctx, sessionID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, util.ErrSessionNotFound
		}
	} else {
		session, err = s.loadOwned(ctx, sessionID, userID)
	}
	if err != nil {
		return nil, err
	}
	if session.Status != model.SessionCompleted {
		return nil, util.ErrNotCompleted
	}

	answers, err := s.SessionRepo.ListAnswers(ctx, session.ID)
	if err != nil {
		return nil, err
	}
	questionIDs := make([]uint, 0, len(answers))
	for _, a := range answers {
		questionIDs = append(questionIDs, a.QuestionID)
	}
	questions, err := s.QuestionRepo.FindByIDsWithOptions(ctx, questionIDs)
	if err != nil {
		return nil, err
	}
	byID := make(map[uint]*model.Question, len(questions))
	for i := range questions {
		byID[questions[i].ID] = &questions[i]
	}

	assignments, err := s.QuizRepo.ListAssignments(ctx, session.QuizID)
	if err != nil {
		return nil, err
	}
	order := make(map[uint]int, len(assignments))
	for _, a := range assignments {
		order[a.QuestionID] = a.Order
	}

	items := make([]model.ReviewItem, 0, len(answers))
	for _, a := range answers {
		item := model.ReviewItem{
			QuestionID:       a.QuestionID,
			Order:            order[a.QuestionID],
			SelectedOption:   a.SelectedOption,
			IsCorrect:        a.IsCorrect,
			Flagged:          a.Flagged,
			TimeTakenSeconds: a.TimeTakenSeconds,
		}
		if q, ok := byID[a.QuestionID]; ok {
			item.Text = q.Text
			item.Explanation = q.Explanation
			for _, opt := range q.Options {
				item.Options = append(item.Options, model.ReviewOption{Letter: opt.Letter, Text: opt.Text})
				if opt.IsCorrect && item.CorrectOption == "" {
					item.CorrectOption = opt.Letter
				}
			}
			if s.Storage != nil {
				if item.ImageURL, err = s.Storage.ResolveURL(ctx, q.ImageKey); err != nil {
					logger.Log.Warn("Failed to resolve question image", zap.Uint("questionID", q.ID), zap.Error(err))
				}
				if item.ExplanationImageURL, err = s.Storage.ResolveURL(ctx, q.ExplanationImageKey); err != nil {
					logger.Log.Warn("Failed to resolve explanation image", zap.Uint("questionID", q.ID), zap.Error(err))
				}
			}
		}
		items = append(items, item)
	}

	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Order != items[j].Order {
			return items[i].Order < items[j].Order
		}
		return items[i].QuestionID < items[j].QuestionID
	})

	return &model.SessionReview{
		Result: *s.resultOf(ctx, session, false),
		Items:  items,
	}, nil
}
