package repository

import (
	"context"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"positionguard/src/database"
	"positionguard/src/model"
)

// ExceptionRepository handles persistence of captured failures.
type ExceptionRepository struct {
	db *gorm.DB
}

func NewExceptionRepository() *ExceptionRepository {
	return &ExceptionRepository{db: database.MainDB}
}

func NewExceptionRepositoryWithDB(db *gorm.DB) *ExceptionRepository {
	return &ExceptionRepository{db: db}
}

func (r *ExceptionRepository) Create(ctx context.Context, exc *model.Exception) error {
	logger.WithFields(map[string]interface{}{
		"service": exc.Service,
		"module":  exc.Module,
		"method":  exc.Method,
		"ticker":  exc.Ticker,
		"level":   exc.Level,
	}).Error("Persisting exception")

	return r.db.WithContext(ctx).Create(exc).Error
}

func (r *ExceptionRepository) FindByTicker(ctx context.Context, ticker string, limit int) ([]model.Exception, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []model.Exception
	err := r.db.WithContext(ctx).
		Where("ticker = ?", ticker).
		Order("id DESC").
		Limit(limit).
		Find(&out).Error
	return out, err
}
