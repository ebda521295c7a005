package model

import "strings"

// swagger:model Question
type Question struct {
	BaseModel
	Text        string     `gorm:"type:text;not null" json:"text"`
	ModuleName  string     `gorm:"size:100;index:idx_questions_pool,priority:1;not null" json:"moduleName"`
	CourseName  string     `gorm:"size:100" json:"courseName"`
	Year        int        `gorm:"index:idx_questions_pool,priority:2;not null" json:"year"`
	Difficulty  Difficulty `gorm:"size:10;default:'medium'" json:"difficulty"`
	Explanation string     `gorm:"type:text" json:"explanation"`
	// 对象存储中的 key，展示时由存储层换成 URL
	ImageKey            string `gorm:"size:255" json:"-"`
	ExplanationImageKey string `gorm:"size:255" json:"-"`
	IsActive            bool   `gorm:"not null;index" json:"isActive"`

	Options []QuestionOption `gorm:"foreignKey:QuestionID" json:"options,omitempty"`
}

func (Question) TableName() string {
	return "questions"
}

// swagger:model QuestionOption
type QuestionOption struct {
	BaseModel
	QuestionID uint   `gorm:"uniqueIndex:idx_question_option_letter;not null" json:"questionId"`
	Letter     string `gorm:"size:1;uniqueIndex:idx_question_option_letter;not null" json:"letter"`
	Text       string `gorm:"type:text;not null" json:"text"`
	IsCorrect  bool   `gorm:"default:false" json:"-"`
}

func (QuestionOption) TableName() string {
	return "question_options"
}

var optionLetters = map[string]bool{"a": true, "b": true, "c": true, "d": true}

// NormalizeOption 去空格并转小写，非法字母返回 false
func NormalizeOption(s string) (string, bool) {
	letter := strings.ToLower(strings.TrimSpace(s))
	return letter, optionLetters[letter]
}
