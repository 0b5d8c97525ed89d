// package migrations
package migrations

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"positionguard/src/model"
)

// DataMigration tracks executed data migrations.
type DataMigration struct {
	ID        string    `gorm:"primaryKey;size:200;column:id"`
	AppliedAt time.Time `gorm:"not null;column:applied_at"`
}

func (DataMigration) TableName() string { return "data_migrations" }

func ensureDataMigrationsTable(db *gorm.DB) error {
	return db.AutoMigrate(&DataMigration{})
}

// RunOnce runs fn only if migrationID was not executed before.
// It records the migration as executed only after fn succeeds.
func RunOnce(db *gorm.DB, migrationID string, fn func(*gorm.DB) error) error {
	if db == nil {
		return nil
	}
	if migrationID == "" {
		return fmt.Errorf("migration id is empty")
	}
	if fn == nil {
		return fmt.Errorf("migration %q has nil fn", migrationID)
	}

	if err := ensureDataMigrationsTable(db); err != nil {
		return fmt.Errorf("ensure data migrations table: %w", err)
	}

	return db.Transaction(func(tx *gorm.DB) error {
		var m DataMigration
		err := tx.First(&m, "id = ?", migrationID).Error
		if err == nil {
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("check migration %q: %w", migrationID, err)
		}

		if err := fn(tx); err != nil {
			return fmt.Errorf("run migration %q: %w", migrationID, err)
		}

		rec := DataMigration{
			ID:        migrationID,
			AppliedAt: time.Now().UTC(),
		}
		if err := tx.Create(&rec).Error; err != nil {
			return fmt.Errorf("record migration %q: %w", migrationID, err)
		}
		return nil
	})
}

// Run executes all data migrations that go beyond schema auto-migrations.
// Append new migrations at the bottom with a stable unique id.
func Run(db *gorm.DB, account string) error {
	if db == nil {
		return nil
	}

	if err := RunOnce(db, "00001_backfill_order_account", backfillOrderAccount(account)); err != nil {
		return err
	}

	if err := RunOnce(db, "00002_normalize_order_tickers", normalizeOrderTickers); err != nil {
		return err
	}

	return nil
}

// backfillOrderAccount stamps journal rows written before orders carried an account.
func backfillOrderAccount(account string) func(*gorm.DB) error {
	return func(tx *gorm.DB) error {
		return tx.Model(&model.Order{}).
			Where("account IS NULL OR account = ''").
			Update("account", account).Error
	}
}

func normalizeOrderTickers(tx *gorm.DB) error {
	var orders []model.Order
	if err := tx.Select("id", "ticker").Find(&orders).Error; err != nil {
		return err
	}
	for _, o := range orders {
		norm := model.NormalizeTicker(o.Ticker)
		if norm == o.Ticker {
			continue
		}
		if err := tx.Model(&model.Order{}).Where("id = ?", o.ID).
			Update("ticker", norm).Error; err != nil {
			return fmt.Errorf("normalize order %d: %w", o.ID, err)
		}
	}
	return nil
}
