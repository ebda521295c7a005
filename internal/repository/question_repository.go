package repository

import (
	"context"
	"toothquest_backend/internal/model"

	"gorm.io/gorm"
)

// QuestionRepository 题库只读访问，题目本身由外部题库系统维护
type QuestionRepository struct {
	DB *gorm.DB
}

func NewQuestionRepository(db *gorm.DB) *QuestionRepository {
	return &QuestionRepository{DB: db}
}

// CandidateFilter 零值字段表示不过滤
type CandidateFilter struct {
	ModuleName string
	Year       int
	Difficulty model.Difficulty
	CourseName string
	ExcludeIDs []uint
}

func (r *QuestionRepository) Create(ctx context.Context, q *model.Question) error {
	return r.DB.WithContext(ctx).Create(q).Error
}

func (r *QuestionRepository) FindByID(ctx context.Context, id uint) (*model.Question, error) {
	var q model.Question
	if err := r.DB.WithContext(ctx).First(&q, id).Error; err != nil {
		return nil, err
	}
	return &q, nil
}

// FindCorrectOption 返回正确选项字母；没有正确选项时返回 gorm.ErrRecordNotFound
func (r *QuestionRepository) FindCorrectOption(ctx context.Context, questionID uint) (string, error) {
	var opt model.QuestionOption
	err := r.DB.WithContext(ctx).
		Where("question_id = ? AND is_correct = ?", questionID, true).
		Order("letter ASC").
		First(&opt).Error
	if err != nil {
		return "", err
	}
	return opt.Letter, nil
}

// FindCandidateIDs 只返回启用的题目
func (r *QuestionRepository) FindCandidateIDs(ctx context.Context, f CandidateFilter) ([]uint, error) {
	query := r.DB.WithContext(ctx).Model(&model.Question{}).
		Where("is_active = ? AND module_name = ?", true, f.ModuleName)

	if f.Year > 0 {
		query = query.Where("year = ?", f.Year)
	}
	if f.Difficulty != "" {
		query = query.Where("difficulty = ?", f.Difficulty)
	}
	if f.CourseName != "" {
		query = query.Where("course_name = ?", f.CourseName)
	}
	if len(f.ExcludeIDs) > 0 {
		query = query.Where("id NOT IN ?", f.ExcludeIDs)
	}

	var ids []uint
	err := query.Order("id ASC").Pluck("id", &ids).Error
	return ids, err
}

// FindByIDsWithOptions 选项按字母排序
func (r *QuestionRepository) FindByIDsWithOptions(ctx context.Context, ids []uint) ([]model.Question, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var questions []model.Question
	err := r.DB.WithContext(ctx).
		Preload("Options", func(db *gorm.DB) *gorm.DB {
			return db.Order("letter ASC")
		}).
		Where("id IN ?", ids).
		Find(&questions).Error
	return questions, err
}
