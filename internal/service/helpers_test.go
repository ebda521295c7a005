package service

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"
	"toothquest_backend/internal/config"
	"toothquest_backend/internal/model"
	"toothquest_backend/internal/repository"
	"toothquest_backend/pkg/database"

	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock(start time.Time) *testClock {
	return &testClock{now: start}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

var testStart = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := database.Open(&config.DatabaseConfig{
		Driver: "sqlite",
		Path:   filepath.Join(t.TempDir(), "quiz.db"),
	}, gormlogger.Silent)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	// sqlite 单写者，串行化连接避免 database is locked
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

type fixture struct {
	db        *gorm.DB
	users     *repository.UserRepository
	questions *repository.QuestionRepository
	quizzes   *repository.QuizRepository
	sessions  *repository.SessionRepository
	progress  *repository.ProgressRepository
	events    *EventBus
	clock     *testClock
	svc       *SessionService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := newTestDB(t)
	f := &fixture{
		db:        db,
		users:     repository.NewUserRepository(db),
		questions: repository.NewQuestionRepository(db),
		quizzes:   repository.NewQuizRepository(db),
		sessions:  repository.NewSessionRepository(db),
		progress:  repository.NewProgressRepository(db),
		events:    NewEventBus(),
		clock:     newTestClock(testStart),
	}

	storage := &StorageService{Provider: &LocalStorageProvider{Config: &config.StorageConfig{}}}
	f.svc = NewSessionService(db, f.sessions, f.quizzes, f.questions, storage, f.events)
	f.svc.SetClock(f.clock.Now)
	return f
}

func (f *fixture) seedUser(t *testing.T, email string, year int) *model.User {
	t.Helper()
	user := &model.User{Email: email, FullName: email, Role: model.Student, Year: year}
	if err := f.users.Create(context.Background(), user); err != nil {
		t.Fatalf("create user: %v", err)
	}
	return user
}

// seedQuestion 四个选项 a-d，correct 为正确选项
func (f *fixture) seedQuestion(t *testing.T, module string, year int, difficulty model.Difficulty, correct string) *model.Question {
	t.Helper()
	q := &model.Question{
		Text:        fmt.Sprintf("%s question", module),
		ModuleName:  module,
		Year:        year,
		Difficulty:  difficulty,
		Explanation: "see textbook",
		ImageKey:    "questions/img.png",
		IsActive:    true,
	}
	for _, letter := range []string{"a", "b", "c", "d"} {
		q.Options = append(q.Options, model.QuestionOption{
			Letter:    letter,
			Text:      "option " + letter,
			IsCorrect: letter == correct,
		})
	}
	if err := f.questions.Create(context.Background(), q); err != nil {
		t.Fatalf("create question: %v", err)
	}
	return q
}

type quizOpts struct {
	module     string
	year       int
	difficulty model.Difficulty
	count      int
	timeLimit  int
	passing    int
	status     model.QuizStatus
	public     bool
}

func (f *fixture) seedQuiz(t *testing.T, opts quizOpts, questions ...*model.Question) *model.Quiz {
	t.Helper()
	if opts.module == "" {
		opts.module = "Anatomy"
	}
	if opts.year == 0 {
		opts.year = 1
	}
	if opts.difficulty == "" {
		opts.difficulty = model.DifficultyMedium
	}
	if opts.status == "" {
		opts.status = model.QuizActive
	}
	if opts.count == 0 {
		opts.count = len(questions)
	}
	if opts.timeLimit == 0 {
		opts.timeLimit = 30
	}
	if opts.passing == 0 {
		opts.passing = 70
	}

	quiz := &model.Quiz{
		Title:            opts.module + " quiz",
		ModuleName:       opts.module,
		Year:             opts.year,
		Difficulty:       opts.difficulty,
		TimeLimitMinutes: opts.timeLimit,
		QuestionCount:    opts.count,
		PassingScore:     opts.passing,
		Status:           opts.status,
		IsPublic:         opts.public,
	}
	if err := f.quizzes.Create(context.Background(), quiz); err != nil {
		t.Fatalf("create quiz: %v", err)
	}

	assignments := make([]model.QuizQuestion, 0, len(questions))
	for i, q := range questions {
		assignments = append(assignments, model.QuizQuestion{QuizID: quiz.ID, QuestionID: q.ID, Order: i + 1, Points: 1})
	}
	if _, err := f.quizzes.CreateAssignments(context.Background(), assignments); err != nil {
		t.Fatalf("assign questions: %v", err)
	}
	return quiz
}

// seedPublicQuiz 常用场景：active、公开、带 n 道正确答案为 a 的题目
func (f *fixture) seedPublicQuiz(t *testing.T, n int) (*model.Quiz, []*model.Question) {
	t.Helper()
	questions := make([]*model.Question, 0, n)
	for i := 0; i < n; i++ {
		questions = append(questions, f.seedQuestion(t, "Anatomy", 1, model.DifficultyMedium, "a"))
	}
	return f.seedQuiz(t, quizOpts{public: true}, questions...), questions
}

// seedCompletedSession 直接写入已完成会话，用于统计类测试
func (f *fixture) seedCompletedSession(t *testing.T, userID, quizID uint, score float64, total, correct, elapsed int, completedAt time.Time) *model.QuizSession {
	t.Helper()
	s := &model.QuizSession{
		Timestamps:     model.Timestamps{CreatedAt: completedAt, UpdatedAt: completedAt},
		UserID:         userID,
		QuizID:         quizID,
		Status:         model.SessionCompleted,
		StartedAt:      completedAt.Add(-time.Duration(elapsed) * time.Second),
		ExpiresAt:      completedAt.Add(time.Hour),
		CompletedAt:    &completedAt,
		Score:          &score,
		TotalQuestions: total,
		CorrectAnswers: correct,
		ElapsedSeconds: elapsed,
	}
	if err := f.sessions.Create(context.Background(), s); err != nil {
		t.Fatalf("create session: %v", err)
	}
	return s
}

func (f *fixture) reload(t *testing.T, sessionID uint) *model.QuizSession {
	t.Helper()
	s, err := f.sessions.FindByID(context.Background(), sessionID)
	if err != nil {
		t.Fatalf("reload session %d: %v", sessionID, err)
	}
	return s
}
