package repository

import (
	"context"
	"toothquest_backend/internal/model"

	"gorm.io/gorm"
)

// UserRepository 用户表的本地镜像，只读为主
type UserRepository struct {
	DB *gorm.DB
}

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{DB: db}
}

func (r *UserRepository) Create(ctx context.Context, user *model.User) error {
	return r.DB.WithContext(ctx).Create(user).Error
}

func (r *UserRepository) FindByID(ctx context.Context, id uint) (*model.User, error) {
	var user model.User
	if err := r.DB.WithContext(ctx).First(&user, id).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// ListActiveStudentIDs 未禁用的学生，用于全量重算进度
func (r *UserRepository) ListActiveStudentIDs(ctx context.Context) ([]uint, error) {
	var ids []uint
	err := r.DB.WithContext(ctx).Model(&model.User{}).
		Where("role = ? AND disabled = ?", model.Student, false).
		Order("id ASC").
		Pluck("id", &ids).Error
	return ids, err
}
