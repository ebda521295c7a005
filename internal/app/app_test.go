package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"
	"toothquest_backend/internal/config"
	"toothquest_backend/internal/model"
	"toothquest_backend/internal/util"
	"toothquest_backend/pkg/database"

	gormlogger "gorm.io/gorm/logger"
)

const testSecret = "router-test-secret-with-32-characters"

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type testServer struct {
	t       *testing.T
	app     *App
	student string
	admin   string
	quiz    *model.Quiz
	options []*model.Question
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	cfg := &config.Config{
		Server:    config.ServerConfig{Mode: "test"},
		Database:  config.DatabaseConfig{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "app.db")},
		JWT:       config.JWTConfig{Secret: testSecret},
		Storage:   config.StorageConfig{Type: util.StorageLocal, LocalPath: t.TempDir()},
		Quiz:      config.QuizConfig{SweepBatchSize: 100},
		CORS:      config.CORSConfig{AllowedOrigins: []string{"*"}},
		RateLimit: config.RateLimitConfig{MaxRequests: 10000, WindowMinutes: 1},
	}

	db, err := database.Open(&cfg.Database, gormlogger.Silent)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	a, err := New(cfg, db, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { a.Shutdown(context.Background()) })

	s := &testServer{t: t, app: a}
	s.seed()
	s.student = s.token(1, model.Student)
	s.admin = s.token(2, model.Admin)
	return s
}

func (s *testServer) seed() {
	ctx := context.Background()
	db := s.app.DB

	db.Create(&model.User{Email: "student@example.com", Role: model.Student, Year: 1})
	db.Create(&model.User{Email: "admin@example.com", Role: model.Admin})

	for i := 0; i < 3; i++ {
		q := &model.Question{
			Text:       fmt.Sprintf("Tooth numbering %d", i),
			ModuleName: "Anatomy",
			Year:       1,
			Difficulty: model.DifficultyEasy,
			IsActive:   true,
			Options: []model.QuestionOption{
				{Letter: "a", Text: "11", IsCorrect: true},
				{Letter: "b", Text: "21"},
				{Letter: "c", Text: "31"},
				{Letter: "d", Text: "41"},
			},
		}
		if err := db.WithContext(ctx).Create(q).Error; err != nil {
			s.t.Fatalf("seed question: %v", err)
		}
		s.options = append(s.options, q)
	}

	s.quiz = &model.Quiz{
		Title:            "Dental anatomy",
		ModuleName:       "Anatomy",
		Year:             1,
		Difficulty:       model.DifficultyEasy,
		TimeLimitMinutes: 30,
		QuestionCount:    3,
		PassingScore:     70,
		Status:           model.QuizActive,
		IsPublic:         true,
	}
	if err := db.Create(s.quiz).Error; err != nil {
		s.t.Fatalf("seed quiz: %v", err)
	}
	if _, err := s.app.services.composer.Compose(ctx, s.quiz); err != nil {
		s.t.Fatalf("compose: %v", err)
	}
}

func (s *testServer) token(userID uint, role model.UserRole) string {
	token, err := util.GenerateJWT(userID, role, testSecret, time.Hour)
	if err != nil {
		s.t.Fatalf("GenerateJWT: %v", err)
	}
	return token
}

func (s *testServer) do(method, path, token string, body interface{}) (int, envelope) {
	s.t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.app.Router.ServeHTTP(rec, req)

	var env envelope
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
			s.t.Fatalf("%s %s: decode body %q: %v", method, path, rec.Body.String(), err)
		}
	}
	return rec.Code, env
}

func decode(t *testing.T, raw json.RawMessage, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(raw, v); err != nil {
		t.Fatalf("decode data %s: %v", raw, err)
	}
}

func TestHealthIsPublic(t *testing.T) {
	s := newTestServer(t)
	code, env := s.do(http.MethodGet, "/api/health", "", nil)
	if code != http.StatusOK {
		t.Fatalf("health = %d (%s)", code, env.Message)
	}
}

func TestAuthenticationAndRoles(t *testing.T) {
	s := newTestServer(t)

	if code, _ := s.do(http.MethodGet, "/api/quizzes", "", nil); code != http.StatusUnauthorized {
		t.Fatalf("no token = %d, want 401", code)
	}
	if code, _ := s.do(http.MethodGet, "/api/quizzes", "not-a-jwt", nil); code != http.StatusUnauthorized {
		t.Fatalf("garbage token = %d, want 401", code)
	}
	if code, _ := s.do(http.MethodGet, "/api/quizzes", s.student, nil); code != http.StatusOK {
		t.Fatalf("student list = %d, want 200", code)
	}

	if code, _ := s.do(http.MethodPost, "/api/admin/quiz-sessions/expire", s.student, nil); code != http.StatusForbidden {
		t.Fatalf("student on admin route = %d, want 403", code)
	}
	if code, _ := s.do(http.MethodPost, "/api/admin/quiz-sessions/expire?dryRun=true", s.admin, nil); code != http.StatusOK {
		t.Fatalf("admin expire = %d, want 200", code)
	}
}

func TestQuizSessionFlow(t *testing.T) {
	s := newTestServer(t)
	path := "/api/quiz-sessions"

	code, env := s.do(http.MethodPost, path, s.student, map[string]interface{}{"quizId": s.quiz.ID})
	if code != http.StatusCreated {
		t.Fatalf("start = %d (%s), want 201", code, env.Message)
	}
	var started model.StartResult
	decode(t, env.Data, &started)
	sid := started.Session.ID

	code, env = s.do(http.MethodPost, path, s.student, map[string]interface{}{"quizId": s.quiz.ID})
	if code != http.StatusOK {
		t.Fatalf("resume = %d, want 200", code)
	}
	var resumed model.StartResult
	decode(t, env.Data, &resumed)
	if !resumed.Resumed || resumed.Session.ID != sid {
		t.Fatalf("resume returned %+v", resumed)
	}

	answers := fmt.Sprintf("%s/%d/answers", path, sid)
	for i, q := range s.options {
		option := "A"
		if i == 2 {
			option = "b"
		}
		code, env = s.do(http.MethodPost, answers, s.student, map[string]interface{}{
			"questionId": q.ID, "selectedOption": option, "timeTakenSeconds": 15,
		})
		if code != http.StatusOK {
			t.Fatalf("answer %d = %d (%s)", i, code, env.Message)
		}
	}

	code, env = s.do(http.MethodPost, answers, s.student, map[string]interface{}{
		"questionId": s.options[0].ID, "selectedOption": "z",
	})
	if code != http.StatusBadRequest {
		t.Fatalf("bad option = %d, want 400", code)
	}

	other := s.token(99, model.Student)
	if code, _ = s.do(http.MethodGet, fmt.Sprintf("%s/%d", path, sid), other, nil); code != http.StatusForbidden {
		t.Fatalf("foreign session = %d, want 403", code)
	}

	code, env = s.do(http.MethodPost, fmt.Sprintf("%s/%d/complete", path, sid), s.student, nil)
	if code != http.StatusOK {
		t.Fatalf("complete = %d (%s)", code, env.Message)
	}
	var result model.SessionResult
	decode(t, env.Data, &result)
	if result.Score != 66.7 || result.CorrectAnswers != 2 || result.TotalQuestions != 3 || result.Passed {
		t.Fatalf("result = %+v, want 2/3 = 66.7 failing", result)
	}

	code, env = s.do(http.MethodGet, fmt.Sprintf("%s/%d/review", path, sid), s.student, nil)
	if code != http.StatusOK {
		t.Fatalf("review = %d (%s)", code, env.Message)
	}
	var review model.SessionReview
	decode(t, env.Data, &review)
	if len(review.Items) != 3 {
		t.Fatalf("review items = %d, want 3", len(review.Items))
	}

	code, env = s.do(http.MethodGet, "/api/progress", s.student, nil)
	if code != http.StatusOK {
		t.Fatalf("progress = %d", code)
	}
	var progress model.ProgressSnapshot
	decode(t, env.Data, &progress)
	if progress.QuizzesCompleted != 1 || progress.CorrectAnswers != 2 {
		t.Fatalf("progress = %+v", progress)
	}

	if code, _ = s.do(http.MethodGet, "/api/progress/streak", s.student, nil); code != http.StatusOK {
		t.Fatalf("streak = %d", code)
	}
}

func TestExpiredSessionReturnsGone(t *testing.T) {
	s := newTestServer(t)

	code, env := s.do(http.MethodPost, "/api/quiz-sessions", s.student, map[string]interface{}{"quizId": s.quiz.ID})
	if code != http.StatusCreated {
		t.Fatalf("start = %d (%s)", code, env.Message)
	}
	var started model.StartResult
	decode(t, env.Data, &started)

	later := time.Now().UTC().Add(31 * time.Minute)
	s.app.services.session.SetClock(func() time.Time { return later })

	code, _ = s.do(http.MethodPost, fmt.Sprintf("/api/quiz-sessions/%d/answers", started.Session.ID), s.student, map[string]interface{}{
		"questionId": s.options[0].ID, "selectedOption": "a",
	})
	if code != http.StatusGone {
		t.Fatalf("answer after deadline = %d, want 410", code)
	}

	code, _ = s.do(http.MethodPost, fmt.Sprintf("/api/quiz-sessions/%d/complete", started.Session.ID), s.student, nil)
	if code != http.StatusGone {
		t.Fatalf("complete after deadline = %d, want 410", code)
	}
}

func TestAdminCreatesAndInspectsQuiz(t *testing.T) {
	s := newTestServer(t)

	code, env := s.do(http.MethodPost, "/api/admin/quizzes", s.admin, map[string]interface{}{
		"title":         "Quick anatomy",
		"moduleName":    "Anatomy",
		"year":          1,
		"difficulty":    "easy",
		"questionCount": 2,
		"status":        "active",
	})
	if code != http.StatusCreated {
		t.Fatalf("create = %d (%s)", code, env.Message)
	}
	var created struct {
		Quiz        model.Quiz          `json:"quiz"`
		Composition model.ComposeResult `json:"composition"`
	}
	decode(t, env.Data, &created)
	if created.Composition.Assigned != 2 {
		t.Fatalf("composition = %+v", created.Composition)
	}

	code, env = s.do(http.MethodGet, fmt.Sprintf("/api/admin/quizzes/%d/statistics", created.Quiz.ID), s.admin, nil)
	if code != http.StatusOK {
		t.Fatalf("statistics = %d (%s)", code, env.Message)
	}
	var stats model.QuizStatistics
	decode(t, env.Data, &stats)
	if stats.DifficultyRating != util.RatingNA {
		t.Fatalf("statistics = %+v", stats)
	}

	if code, _ = s.do(http.MethodPost, "/api/admin/quizzes", s.admin, map[string]interface{}{"title": "missing module"}); code != http.StatusBadRequest {
		t.Fatalf("invalid create = %d, want 400", code)
	}
	if code, _ = s.do(http.MethodGet, "/api/quizzes/9999", s.student, nil); code != http.StatusNotFound {
		t.Fatalf("missing quiz = %d, want 404", code)
	}
	if code, _ = s.do(http.MethodPost, "/api/admin/progress/recompute", s.admin, nil); code != http.StatusOK {
		t.Fatalf("recompute = %d", code)
	}
}
