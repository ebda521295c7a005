package service

import (
	"context"
	"sync"
	"time"
	"toothquest_backend/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SessionCompleted 会话完成后发布的领域事件
type SessionCompleted struct {
	EventID        string    `json:"eventId"`
	SessionID      uint      `json:"sessionId"`
	UserID         uint      `json:"userId"`
	QuizID         uint      `json:"quizId"`
	Score          float64   `json:"score"`
	CorrectAnswers int       `json:"correctAnswers"`
	TotalQuestions int       `json:"totalQuestions"`
	ElapsedSeconds int       `json:"elapsedSeconds"`
	CompletedAt    time.Time `json:"completedAt"`
}

func NewSessionCompleted(sessionID, userID, quizID uint) SessionCompleted {
	return SessionCompleted{
		EventID:   uuid.New().String(),
		SessionID: sessionID,
		UserID:    userID,
		QuizID:    quizID,
	}
}

type SessionCompletedHandler func(ctx context.Context, evt SessionCompleted) error

type namedHandler struct {
	name    string
	handler SessionCompletedHandler
}

// EventBus 同步分发，处理器按注册顺序执行；单个处理器失败只记录日志
type EventBus struct {
	mu       sync.RWMutex
	handlers []namedHandler
}

func NewEventBus() *EventBus {
	return &EventBus{}
}

func (b *EventBus) Subscribe(name string, h SessionCompletedHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, namedHandler{name: name, handler: h})
}

// Publish 返回失败的处理器数量
func (b *EventBus) Publish(ctx context.Context, evt SessionCompleted) int {
	b.mu.RLock()
	handlers := make([]namedHandler, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.RUnlock()

	failed := 0
	for _, h := range handlers {
		if err := h.handler(ctx, evt); err != nil {
			failed++
			logger.Log.Error("SessionCompleted handler failed",
				zap.String("handler", h.name),
				zap.String("eventID", evt.EventID),
				zap.Uint("sessionID", evt.SessionID),
				zap.Uint("userID", evt.UserID),
				zap.Error(err))
		}
	}
	return failed
}
