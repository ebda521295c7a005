package model

import "time"

// swagger:model UserProgress
// 由已完成会话全量重算得到，可随时重建
type UserProgress struct {
	BaseModel
	UserID                  uint      `gorm:"uniqueIndex;not null" json:"userId"`
	TotalQuestionsAttempted int       `gorm:"default:0" json:"totalQuestionsAttempted"`
	CorrectAnswers          int       `gorm:"default:0" json:"correctAnswers"`
	TotalStudyTimeSeconds   int       `gorm:"default:0" json:"totalStudyTimeSeconds"`
	QuizzesCompleted        int       `gorm:"default:0" json:"quizzesCompleted"`
	AverageScore            float64   `gorm:"type:decimal(5,2);default:0" json:"averageScore"`
	BestScore               float64   `gorm:"type:decimal(5,2);default:0" json:"bestScore"`
	LastRecomputedAt        time.Time `json:"lastRecomputedAt"`
}

func (UserProgress) TableName() string {
	return "user_progress"
}
