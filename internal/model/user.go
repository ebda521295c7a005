package model

type UserRole string

const (
	Student UserRole = "student"
	Admin   UserRole = "admin"
)

// swagger:model User
// 账户由外部系统维护，这里只保留测验流程需要的字段
type User struct {
	BaseModel
	Email    string   `gorm:"size:100;uniqueIndex;not null" json:"email"`
	FullName string   `gorm:"size:100" json:"fullName"`
	Role     UserRole `gorm:"size:20;default:'student'" json:"role"`
	// 0 表示未知年级
	Year     int  `gorm:"default:0" json:"year"`
	Disabled bool `gorm:"default:false" json:"disabled"`
}

func (User) TableName() string {
	return "users"
}
