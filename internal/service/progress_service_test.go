package service

import (
	"context"
	"testing"
	"time"
	"toothquest_backend/internal/model"
)

func day(d, hour int) time.Time {
	return time.Date(2026, 3, d, hour, 0, 0, 0, time.UTC)
}

func TestComputeStreak(t *testing.T) {
	now := day(10, 12)

	cases := []struct {
		name        string
		completions []time.Time
		want        model.StreakInfo
	}{
		{"no history", nil, model.StreakInfo{}},
		{"ends today", []time.Time{day(8, 9), day(9, 9), day(10, 9)}, model.StreakInfo{Current: 3, Longest: 3, LastStudyDate: "2026-03-10"}},
		{"ends yesterday", []time.Time{day(8, 9), day(9, 20)}, model.StreakInfo{Current: 2, Longest: 2, LastStudyDate: "2026-03-09"}},
		{"broken", []time.Time{day(6, 9), day(7, 9)}, model.StreakInfo{Current: 0, Longest: 2, LastStudyDate: "2026-03-07"}},
		{"longest in the past", []time.Time{day(1, 9), day(2, 9), day(3, 9), day(4, 9), day(9, 9), day(10, 9)}, model.StreakInfo{Current: 2, Longest: 4, LastStudyDate: "2026-03-10"}},
		{"same day counted once", []time.Time{day(10, 8), day(10, 9), day(10, 11)}, model.StreakInfo{Current: 1, Longest: 1, LastStudyDate: "2026-03-10"}},
		{"unsorted input", []time.Time{day(10, 9), day(8, 9), day(9, 9)}, model.StreakInfo{Current: 3, Longest: 3, LastStudyDate: "2026-03-10"}},
	}

	for _, tc := range cases {
		got := ComputeStreak(tc.completions, now, time.UTC)
		if got != tc.want {
			t.Fatalf("%s: ComputeStreak = %+v, want %+v", tc.name, got, tc.want)
		}
	}
}

func TestComputeStreakUsesLocalCalendarDays(t *testing.T) {
	loc := time.FixedZone("UTC+1", 3600)
	// 23:30 UTC 已是当地次日
	completions := []time.Time{
		time.Date(2026, 3, 8, 23, 30, 0, 0, time.UTC),
		time.Date(2026, 3, 9, 23, 30, 0, 0, time.UTC),
	}
	got := ComputeStreak(completions, day(10, 12), loc)
	want := model.StreakInfo{Current: 2, Longest: 2, LastStudyDate: "2026-03-10"}
	if got != want {
		t.Fatalf("ComputeStreak = %+v, want %+v", got, want)
	}

	if utc := ComputeStreak(completions, day(10, 12), time.UTC); utc.LastStudyDate != "2026-03-09" {
		t.Fatalf("UTC last study date = %q, want 2026-03-09", utc.LastStudyDate)
	}
}

func TestRecomputeIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.seedUser(t, "s1@example.com", 1)
	quiz, _ := f.seedPublicQuiz(t, 1)

	f.seedCompletedSession(t, user.ID, quiz.ID, 60, 5, 3, 600, day(8, 10))
	f.seedCompletedSession(t, user.ID, quiz.ID, 80, 5, 4, 300, day(9, 10))
	// 进行中的会话不计入
	if _, err := f.svc.StartSession(ctx, user.ID, quiz.ID); err != nil {
		t.Fatalf("StartSession: %v", err)
	}

	svc := NewProgressService(f.progress, f.users, time.UTC)
	svc.SetClock(f.clock.Now)

	first, err := svc.Recompute(ctx, user.ID)
	if err != nil {
		t.Fatalf("Recompute: %v", err)
	}
	second, err := svc.Recompute(ctx, user.ID)
	if err != nil {
		t.Fatalf("second Recompute: %v", err)
	}

	for _, p := range []*model.UserProgress{first, second} {
		if p.QuizzesCompleted != 2 || p.TotalQuestionsAttempted != 10 || p.CorrectAnswers != 7 {
			t.Fatalf("progress counts = %+v", p)
		}
		if p.TotalStudyTimeSeconds != 900 || p.AverageScore != 70 || p.BestScore != 80 {
			t.Fatalf("progress aggregates = %+v", p)
		}
	}
	if first.ID != second.ID {
		t.Fatalf("recompute created a second row: %d != %d", first.ID, second.ID)
	}

	var rows int64
	f.db.Model(&model.UserProgress{}).Where("user_id = ?", user.ID).Count(&rows)
	if rows != 1 {
		t.Fatalf("user_progress rows = %d, want 1", rows)
	}
}

func TestGetProgressBuildsSnapshotOnDemand(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.seedUser(t, "s1@example.com", 1)
	quiz, _ := f.seedPublicQuiz(t, 1)
	f.seedCompletedSession(t, user.ID, quiz.ID, 60, 5, 3, 600, day(8, 10))
	f.seedCompletedSession(t, user.ID, quiz.ID, 80, 5, 4, 300, day(9, 10))

	svc := NewProgressService(f.progress, f.users, time.UTC)
	snapshot, err := svc.GetProgress(ctx, user.ID)
	if err != nil {
		t.Fatalf("GetProgress: %v", err)
	}
	if snapshot.AccuracyPercent != 70 || snapshot.TotalStudyTimeHours != 0.3 || snapshot.QuizzesCompleted != 2 {
		t.Fatalf("snapshot = %+v", snapshot)
	}

	empty := f.seedUser(t, "new@example.com", 1)
	snapshot, err = svc.GetProgress(ctx, empty.ID)
	if err != nil {
		t.Fatalf("GetProgress for new user: %v", err)
	}
	if snapshot.QuizzesCompleted != 0 || snapshot.AccuracyPercent != 0 {
		t.Fatalf("new user snapshot = %+v", snapshot)
	}
}

func TestGetStreakFromCompletedSessions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.seedUser(t, "s1@example.com", 1)
	quiz, _ := f.seedPublicQuiz(t, 1)
	f.seedCompletedSession(t, user.ID, quiz.ID, 60, 5, 3, 600, day(8, 10))
	f.seedCompletedSession(t, user.ID, quiz.ID, 70, 5, 3, 600, day(9, 10))

	svc := NewProgressService(f.progress, f.users, time.UTC)
	svc.SetClock(func() time.Time { return day(10, 8) })

	streak, err := svc.GetStreak(ctx, user.ID)
	if err != nil {
		t.Fatalf("GetStreak: %v", err)
	}
	if streak.Current != 2 || streak.Longest != 2 {
		t.Fatalf("streak = %+v, want 2/2", streak)
	}
}

func TestRecomputeAllSkipsAdminsAndDisabled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedUser(t, "a@example.com", 1)
	f.seedUser(t, "b@example.com", 2)

	admin := &model.User{Email: "admin@example.com", Role: model.Admin}
	f.users.Create(ctx, admin)
	disabled := &model.User{Email: "gone@example.com", Role: model.Student, Disabled: true}
	f.users.Create(ctx, disabled)

	svc := NewProgressService(f.progress, f.users, time.UTC)
	n, err := svc.RecomputeAll(ctx)
	if err != nil {
		t.Fatalf("RecomputeAll: %v", err)
	}
	if n != 2 {
		t.Fatalf("RecomputeAll = %d, want 2", n)
	}
}
