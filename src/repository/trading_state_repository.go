package repository

import (
	"context"
	"errors"
	"time"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"positionguard/src/database"
	"positionguard/src/model"
)

// TradingStateRepository reads and writes the single per-account state row.
// The row is always read in full and written in full.
type TradingStateRepository struct {
	db *gorm.DB
}

func NewTradingStateRepository() *TradingStateRepository {
	logger.WithField("component", "TradingStateRepository").
		Info("Creating new TradingStateRepository with MainDB")

	return &TradingStateRepository{db: database.MainDB}
}

func NewTradingStateRepositoryWithDB(db *gorm.DB) *TradingStateRepository {
	return &TradingStateRepository{db: db}
}

// Load returns (nil, nil) when the account has never been persisted.
func (r *TradingStateRepository) Load(ctx context.Context, account string) (*model.TradingStateRecord, error) {
	var rec model.TradingStateRecord
	err := r.db.WithContext(ctx).
		Where("account = ?", account).
		First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		logger.WithFields(map[string]interface{}{
			"repo":    "TradingStateRepository",
			"op":      "Load",
			"account": account,
		}).WithError(err).Error("Failed to load trading state")
		return nil, err
	}
	return &rec, nil
}

// Save upserts the record keyed by account.
func (r *TradingStateRepository) Save(ctx context.Context, rec *model.TradingStateRecord) error {
	if rec.SavedAt.IsZero() {
		rec.SavedAt = time.Now().UTC()
	}

	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "account"}},
			DoUpdates: clause.AssignmentColumns([]string{"date", "payload", "saved_at"}),
		}).
		Create(rec).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":    "TradingStateRepository",
			"op":      "Save",
			"account": rec.Account,
			"date":    rec.Date,
		}).WithError(err).Error("Failed to save trading state")
		return err
	}
	return nil
}
