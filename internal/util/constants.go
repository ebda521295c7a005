package util

const (
	DateFormat = "2006-01-02"
	TimeFormat = "2006-01-02 15:04:05"
)

const (
	StorageLocal = "local"
	StorageMinio = "minio"
)

// 推荐测验数量
const (
	RecommendationLimit         = 5
	RecommendationPerDifficulty = 3
)

// 难度评级阈值（通过率）
const (
	RatingEasy     = "Easy"
	RatingMedium   = "Medium"
	RatingHard     = "Hard"
	RatingVeryHard = "Very Hard"
	RatingNA       = "N/A"
)

const RecommendationCacheKeyPrefix = "quiz:recommendations:"
