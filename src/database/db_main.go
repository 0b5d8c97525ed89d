package database

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"positionguard/src/database/migrations"
	"positionguard/src/model"
)

// MainDB is the read/write connection shared by the repositories.
var MainDB *gorm.DB

// Models lists every table owned by this service.
func Models() []interface{} {
	return []interface{}{
		&model.TradingStateRecord{},
		&model.Order{},
		&model.Exception{},
		&model.OHLCV1m{},
		&migrations.DataMigration{},
	}
}

func dialector(config Config) (gorm.Dialector, error) {
	switch config.Driver {
	case DriverPostgres, "":
		return postgres.Open(config.DatabaseURLMain), nil
	case DriverSQLite:
		return sqlite.Open(config.DatabaseURLMain), nil
	default:
		return nil, fmt.Errorf("unsupported DATABASE_DRIVER %q", config.Driver)
	}
}

// Open connects without migrating.
func Open(config Config) (*gorm.DB, error) {
	d, err := dialector(config)
	if err != nil {
		return nil, err
	}
	db, err := gorm.Open(d, &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.LogLevel(config.GormLogLevel)),
	})
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", config.Driver, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql.DB from gorm: %w", err)
	}
	if config.Driver == DriverSQLite {
		// one writer, and in-memory databases are per connection
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(config.MaxOpenConns)
		sqlDB.SetMaxIdleConns(config.MaxOpenConns / 2)
		sqlDB.SetConnMaxLifetime(1 * time.Hour)
	}
	return db, nil
}

// Migrate runs schema auto-migration followed by the data migrations.
func Migrate(db *gorm.DB, account string) error {
	if err := db.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	if err := migrations.Run(db, account); err != nil {
		return fmt.Errorf("failed to run data migrations: %w", err)
	}
	return nil
}

// InitMainDB connects MainDB and migrates it. Call once at startup.
func InitMainDB(account string) error {
	config := GetConfig()
	db, err := Open(config)
	if err != nil {
		return err
	}
	MainDB = db
	logrus.WithField("driver", config.Driver).Info("[database] MainDB connection established")

	if err := Migrate(MainDB, account); err != nil {
		return err
	}
	logrus.Info("[database] MainDB migrations completed")
	return nil
}
