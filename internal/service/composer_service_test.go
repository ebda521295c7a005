package service

import (
	"context"
	"math/rand"
	"strings"
	"testing"
	"toothquest_backend/internal/model"
)

func newTestComposer(f *fixture) *ComposerService {
	return NewComposerService(f.questions, f.quizzes, rand.New(rand.NewSource(42)))
}

func assignedQuestionIDs(t *testing.T, f *fixture, quizID uint) []model.QuizQuestion {
	t.Helper()
	assignments, err := f.quizzes.ListAssignments(context.Background(), quizID)
	if err != nil {
		t.Fatalf("ListAssignments: %v", err)
	}
	return assignments
}

func TestComposeSmallPoolAssignsEverythingOnce(t *testing.T) {
	f := newFixture(t)
	composer := newTestComposer(f)
	for i := 0; i < 5; i++ {
		f.seedQuestion(t, "Endodontics", 2, model.DifficultyEasy, "a")
	}
	quiz := f.seedQuiz(t, quizOpts{module: "Endodontics", year: 2, difficulty: model.DifficultyEasy, count: 20, public: true})

	result, err := composer.Compose(context.Background(), quiz)
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	if result.Assigned != 5 || result.Added != 5 || result.Desired != 20 {
		t.Fatalf("result = %+v, want 5 of 20 assigned", result)
	}
	if !strings.Contains(result.Warning, "only 5 of 20") {
		t.Fatalf("warning = %q", result.Warning)
	}

	assignments := assignedQuestionIDs(t, f, quiz.ID)
	seen := map[uint]bool{}
	for i, a := range assignments {
		if seen[a.QuestionID] {
			t.Fatalf("question %d assigned twice", a.QuestionID)
		}
		seen[a.QuestionID] = true
		if a.Order != i+1 {
			t.Fatalf("assignment %d order = %d, want %d", i, a.Order, i+1)
		}
	}
}

func TestComposeTopsUpWithoutDuplicates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	composer := newTestComposer(f)
	for i := 0; i < 3; i++ {
		f.seedQuestion(t, "Periodontics", 1, model.DifficultyMedium, "a")
	}
	quiz := f.seedQuiz(t, quizOpts{module: "Periodontics", count: 6, public: true})

	if _, err := composer.Compose(ctx, quiz); err != nil {
		t.Fatalf("first Compose: %v", err)
	}

	for i := 0; i < 4; i++ {
		f.seedQuestion(t, "Periodontics", 1, model.DifficultyMedium, "a")
	}
	result, err := composer.Compose(ctx, quiz)
	if err != nil {
		t.Fatalf("second Compose: %v", err)
	}
	if result.Added != 3 || result.Assigned != 6 || result.Warning != "" {
		t.Fatalf("top-up result = %+v, want 3 added to reach 6", result)
	}

	assignments := assignedQuestionIDs(t, f, quiz.ID)
	if len(assignments) != 6 {
		t.Fatalf("assignments = %d, want 6", len(assignments))
	}
	seen := map[uint]bool{}
	for i, a := range assignments {
		if seen[a.QuestionID] {
			t.Fatalf("question %d assigned twice", a.QuestionID)
		}
		seen[a.QuestionID] = true
		if a.Order != i+1 {
			t.Fatalf("order sequence broken at %d: %d", i, a.Order)
		}
	}

	// 已满额时不再变动
	result, err = composer.Compose(ctx, quiz)
	if err != nil {
		t.Fatalf("third Compose: %v", err)
	}
	if result.Added != 0 || result.Assigned != 6 {
		t.Fatalf("full quiz result = %+v", result)
	}
}

func TestComposeRelaxesFilters(t *testing.T) {
	f := newFixture(t)
	composer := newTestComposer(f)

	hard := map[uint]bool{}
	for i := 0; i < 2; i++ {
		hard[f.seedQuestion(t, "Orthodontics", 3, model.DifficultyHard, "a").ID] = true
	}
	year3 := map[uint]bool{}
	for i := 0; i < 3; i++ {
		year3[f.seedQuestion(t, "Orthodontics", 3, model.DifficultyEasy, "a").ID] = true
	}
	for i := 0; i < 4; i++ {
		f.seedQuestion(t, "Orthodontics", 4, model.DifficultyEasy, "a")
	}
	inactive := f.seedQuestion(t, "Orthodontics", 3, model.DifficultyEasy, "a")
	f.db.Model(&model.Question{}).Where("id = ?", inactive.ID).Update("is_active", false)

	quiz := f.seedQuiz(t, quizOpts{module: "Orthodontics", year: 3, difficulty: model.DifficultyHard, count: 5, public: true})
	result, err := composer.Compose(context.Background(), quiz)
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	if result.Stage != 2 || result.Assigned != 5 {
		t.Fatalf("result = %+v, want stage 2 with 5 assigned", result)
	}

	for _, a := range assignedQuestionIDs(t, f, quiz.ID) {
		if !hard[a.QuestionID] && !year3[a.QuestionID] {
			t.Fatalf("question %d is outside the year-3 pool", a.QuestionID)
		}
	}

	wide := f.seedQuiz(t, quizOpts{module: "Orthodontics", year: 3, difficulty: model.DifficultyHard, count: 9, public: true})
	result, err = composer.Compose(context.Background(), wide)
	if err != nil {
		t.Fatalf("Compose wide: %v", err)
	}
	if result.Stage != 3 || result.Assigned != 9 {
		t.Fatalf("wide result = %+v, want stage 3 with 9 assigned", result)
	}
	for _, a := range assignedQuestionIDs(t, f, wide.ID) {
		if a.QuestionID == inactive.ID {
			t.Fatalf("inactive question was assigned")
		}
	}
}

func TestComposeEmptyPoolWarns(t *testing.T) {
	f := newFixture(t)
	composer := newTestComposer(f)
	quiz := f.seedQuiz(t, quizOpts{module: "Prosthodontics", count: 10, public: true})

	result, err := composer.Compose(context.Background(), quiz)
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	if result.Assigned != 0 || !strings.Contains(result.Warning, "no active questions") {
		t.Fatalf("result = %+v, want empty composition with warning", result)
	}
}

func TestSampleReturnsDistinctSubset(t *testing.T) {
	composer := NewComposerService(nil, nil, rand.New(rand.NewSource(7)))
	pool := []uint{10, 11, 12, 13, 14, 15, 16, 17}

	picked := composer.sample(pool, 5)
	if len(picked) != 5 {
		t.Fatalf("sample size = %d, want 5", len(picked))
	}
	inPool := map[uint]bool{}
	for _, id := range pool {
		inPool[id] = true
	}
	seen := map[uint]bool{}
	for _, id := range picked {
		if !inPool[id] || seen[id] {
			t.Fatalf("invalid sample %v", picked)
		}
		seen[id] = true
	}
	if pool[0] != 10 || pool[7] != 17 {
		t.Fatalf("sample mutated the pool: %v", pool)
	}

	if all := composer.sample(pool, 20); len(all) != len(pool) {
		t.Fatalf("oversized sample = %d, want %d", len(all), len(pool))
	}
}
