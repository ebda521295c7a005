package model

import "time"

// SessionView 会话详情，附带剩余时间和已答题数
type SessionView struct {
	*QuizSession
	RemainingSeconds int `json:"remainingSeconds"`
	AnsweredCount    int `json:"answeredCount"`
}

// StartResult Resumed 为 true 表示返回的是已存在的进行中会话
type StartResult struct {
	Session *QuizSession `json:"session"`
	Resumed bool         `json:"resumed"`
}

// SessionResult 完成会话后的成绩，百分比保留一位小数
type SessionResult struct {
	SessionID        uint          `json:"sessionId"`
	QuizID           uint          `json:"quizId"`
	Status           SessionStatus `json:"status"`
	Score            float64       `json:"score"`
	CorrectAnswers   int           `json:"correctAnswers"`
	TotalQuestions   int           `json:"totalQuestions"`
	ElapsedSeconds   int           `json:"elapsedSeconds"`
	Passed           bool          `json:"passed"`
	CompletedAt      time.Time     `json:"completedAt"`
	AlreadyCompleted bool          `json:"alreadyCompleted"`
}

// ReviewItem 完成后逐题回顾
type ReviewItem struct {
	QuestionID          uint           `json:"questionId"`
	Order               int            `json:"order"`
	Text                string         `json:"text"`
	SelectedOption      string         `json:"selectedOption"`
	CorrectOption       string         `json:"correctOption"`
	IsCorrect           bool           `json:"isCorrect"`
	Flagged             bool           `json:"flagged"`
	TimeTakenSeconds    int            `json:"timeTakenSeconds"`
	Explanation         string         `json:"explanation"`
	ImageURL            string         `json:"imageUrl,omitempty"`
	ExplanationImageURL string         `json:"explanationImageUrl,omitempty"`
	Options             []ReviewOption `json:"options"`
}

type ReviewOption struct {
	Letter string `json:"letter"`
	Text   string `json:"text"`
}

type SessionReview struct {
	Result SessionResult `json:"result"`
	Items  []ReviewItem  `json:"items"`
}

// ProgressSnapshot 用户学习进度
type ProgressSnapshot struct {
	UserID                  uint      `json:"userId"`
	TotalQuestionsAttempted int       `json:"totalQuestionsAttempted"`
	CorrectAnswers          int       `json:"correctAnswers"`
	AccuracyPercent         float64   `json:"accuracyPercent"`
	TotalStudyTimeSeconds   int       `json:"totalStudyTimeSeconds"`
	TotalStudyTimeHours     float64   `json:"totalStudyTimeHours"`
	QuizzesCompleted        int       `json:"quizzesCompleted"`
	AverageScore            float64   `json:"averageScore"`
	BestScore               float64   `json:"bestScore"`
	LastRecomputedAt        time.Time `json:"lastRecomputedAt"`
}

type StreakInfo struct {
	Current int `json:"current"`
	Longest int `json:"longest"`
	// 格式 2006-01-02，无记录时为空
	LastStudyDate string `json:"lastStudyDate,omitempty"`
}

// ComposeResult Warning 非空表示题库不足
type ComposeResult struct {
	QuizID   uint   `json:"quizId"`
	Desired  int    `json:"desired"`
	Assigned int    `json:"assigned"`
	Added    int    `json:"added"`
	PoolSize int    `json:"poolSize"`
	Stage    int    `json:"stage"`
	Warning  string `json:"warning,omitempty"`
}

type QuizStatistics struct {
	QuizID           uint    `json:"quizId"`
	TotalAttempts    int     `json:"totalAttempts"`
	AverageScore     float64 `json:"averageScore"`
	PassRate         float64 `json:"passRate"`
	AverageTime      float64 `json:"averageTimeMinutes"`
	DifficultyRating string  `json:"difficultyRating"`
}

// QuizSummary 测验列表项
type QuizSummary struct {
	*Quiz
	AssignedQuestions int `json:"assignedQuestions"`
}

// ExpireReport 过期清理结果，DryRun 时 Expired 为 0
type ExpireReport struct {
	DryRun     bool   `json:"dryRun"`
	Candidates []uint `json:"candidates"`
	Expired    int    `json:"expired"`
	Failed     int    `json:"failed"`
}
