package service

import (
	"context"
	"encoding/json"
	"sync"
	"time"
	"toothquest_backend/pkg/logger"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// Notifier 完成通知的投递目标
type Notifier interface {
	Notify(ctx context.Context, evt SessionCompleted) error
}

// RedisNotifier 通过 Redis pub/sub 发布，由外部通知服务订阅
type RedisNotifier struct {
	Client  *redis.Client
	Channel string
}

func (n *RedisNotifier) Notify(ctx context.Context, evt SessionCompleted) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	return n.Client.Publish(ctx, n.Channel, payload).Err()
}

// LogNotifier 未配置 Redis 时只写日志
type LogNotifier struct{}

func (LogNotifier) Notify(ctx context.Context, evt SessionCompleted) error {
	logger.Log.Info("Quiz session completed",
		zap.String("eventID", evt.EventID),
		zap.Uint("sessionID", evt.SessionID),
		zap.Uint("userID", evt.UserID),
		zap.Uint("quizID", evt.QuizID),
		zap.Float64("score", evt.Score))
	return nil
}

// NotificationService 异步投递，失败不影响主流程
type NotificationService struct {
	Sink    Notifier
	Timeout time.Duration
	wg      sync.WaitGroup
}

func NewNotificationService(rdb *redis.Client, channel string) *NotificationService {
	var sink Notifier = LogNotifier{}
	if rdb != nil {
		sink = &RedisNotifier{Client: rdb, Channel: channel}
	}
	return &NotificationService{Sink: sink, Timeout: 5 * time.Second}
}

func (s *NotificationService) HandleSessionCompleted(_ context.Context, evt SessionCompleted) error {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.Timeout)
		defer cancel()
		if err := s.Sink.Notify(ctx, evt); err != nil {
			logger.Log.Warn("Failed to deliver completion notification",
				zap.Uint("sessionID", evt.SessionID),
				zap.Error(err))
		}
	}()
	return nil
}

// Wait 等待已发出的通知投递完毕，关闭服务时调用
func (s *NotificationService) Wait() {
	s.wg.Wait()
}
