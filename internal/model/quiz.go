package model

type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

func (d Difficulty) Valid() bool {
	switch d {
	case DifficultyEasy, DifficultyMedium, DifficultyHard:
		return true
	}
	return false
}

type QuizStatus string

const (
	QuizDraft     QuizStatus = "draft"
	QuizActive    QuizStatus = "active"
	QuizCompleted QuizStatus = "completed"
	QuizArchived  QuizStatus = "archived"
)

func (s QuizStatus) Valid() bool {
	switch s {
	case QuizDraft, QuizActive, QuizCompleted, QuizArchived:
		return true
	}
	return false
}

const (
	DefaultTimeLimitMinutes = 30
	DefaultQuestionCount    = 20
	DefaultPassingScore     = 70
)

// swagger:model Quiz
type Quiz struct {
	BaseModel
	Title            string     `gorm:"size:200;not null" json:"title"`
	Description      string     `gorm:"type:text" json:"description"`
	ModuleName       string     `gorm:"size:100;index;not null" json:"moduleName"`
	CourseName       string     `gorm:"size:100" json:"courseName"`
	Year             int        `gorm:"index;not null" json:"year"`
	Difficulty       Difficulty `gorm:"size:10;default:'medium'" json:"difficulty"`
	TimeLimitMinutes int        `gorm:"default:30" json:"timeLimitMinutes"`
	QuestionCount    int        `gorm:"default:20" json:"questionCount"`
	PassingScore     int        `gorm:"default:70" json:"passingScore"`
	Status           QuizStatus `gorm:"size:20;default:'draft';index" json:"status"`
	IsPublic         bool       `gorm:"not null" json:"isPublic"`
	CreatedBy        uint       `gorm:"index" json:"createdBy"`
}

func (Quiz) TableName() string {
	return "quizzes"
}

// Startable 只有 active 且公开的测验可以开始作答
func (q *Quiz) Startable() bool {
	return q.Status == QuizActive && q.IsPublic
}

// swagger:model QuizQuestion
type QuizQuestion struct {
	BaseModel
	QuizID     uint `gorm:"uniqueIndex:idx_quiz_question;not null" json:"quizId"`
	QuestionID uint `gorm:"uniqueIndex:idx_quiz_question;not null" json:"questionId"`
	Order      int  `gorm:"column:sort_order;not null" json:"order"`
	Points     int  `gorm:"default:1" json:"points"`
}

func (QuizQuestion) TableName() string {
	return "quiz_questions"
}
