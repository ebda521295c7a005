package model

import "time"

type SessionStatus string

const (
	SessionInProgress SessionStatus = "in_progress"
	SessionCompleted  SessionStatus = "completed"
	SessionExpired    SessionStatus = "expired"
	SessionAbandoned  SessionStatus = "abandoned"
)

func (s SessionStatus) Valid() bool {
	switch s {
	case SessionInProgress, SessionCompleted, SessionExpired, SessionAbandoned:
		return true
	}
	return false
}

func (s SessionStatus) Terminal() bool {
	return s == SessionCompleted || s == SessionExpired || s == SessionAbandoned
}

// ActiveSlotValue 进行中的会话 active_slot 为 1，其余为 NULL。
// 唯一索引 (user_id, quiz_id, active_slot) 借助 NULL 互不相等，保证每个用户每个测验最多一个进行中会话。
const ActiveSlotValue = 1

// swagger:model QuizSession
type QuizSession struct {
	Timestamps
	UserID     uint          `gorm:"not null;uniqueIndex:idx_quiz_sessions_active,priority:1;index:idx_quiz_sessions_user_status,priority:1" json:"userId"`
	QuizID     uint          `gorm:"not null;uniqueIndex:idx_quiz_sessions_active,priority:2;index" json:"quizId"`
	ActiveSlot *int          `gorm:"uniqueIndex:idx_quiz_sessions_active,priority:3" json:"-"`
	Status     SessionStatus `gorm:"size:20;not null;default:'in_progress';index:idx_quiz_sessions_user_status,priority:2;index:idx_quiz_sessions_status_expires,priority:1" json:"status"`
	StartedAt  time.Time     `gorm:"not null" json:"startedAt"`
	// 截止时间 = 开始时间 + 测验时限
	ExpiresAt      time.Time  `gorm:"not null;index:idx_quiz_sessions_status_expires,priority:2" json:"expiresAt"`
	CompletedAt    *time.Time `json:"completedAt,omitempty"`
	Score          *float64   `gorm:"type:decimal(5,2)" json:"score,omitempty"`
	TotalQuestions int        `gorm:"default:0" json:"totalQuestions"`
	CorrectAnswers int        `gorm:"default:0" json:"correctAnswers"`
	ElapsedSeconds int        `gorm:"default:0" json:"elapsedSeconds"`

	Quiz *Quiz `gorm:"foreignKey:QuizID" json:"quiz,omitempty"`
}

func (QuizSession) TableName() string {
	return "quiz_sessions"
}

// Overdue 截止时间已过（严格大于）
func (s *QuizSession) Overdue(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// RemainingSeconds 非进行中或已超时返回 0
func (s *QuizSession) RemainingSeconds(now time.Time) int {
	if s.Status != SessionInProgress || !now.Before(s.ExpiresAt) {
		return 0
	}
	return int(s.ExpiresAt.Sub(now).Seconds())
}

func NewActiveSlot() *int {
	v := ActiveSlotValue
	return &v
}

// swagger:model QuizAnswer
type QuizAnswer struct {
	Timestamps
	SessionID        uint   `gorm:"not null;uniqueIndex:idx_quiz_answer_session_question" json:"sessionId"`
	QuestionID       uint   `gorm:"not null;uniqueIndex:idx_quiz_answer_session_question;index" json:"questionId"`
	SelectedOption   string `gorm:"size:1;not null" json:"selectedOption"`
	IsCorrect        bool   `gorm:"default:false" json:"isCorrect"`
	TimeTakenSeconds int    `gorm:"default:0" json:"timeTakenSeconds"`
	Flagged          bool   `gorm:"default:false" json:"flagged"`
}

func (QuizAnswer) TableName() string {
	return "quiz_answers"
}
