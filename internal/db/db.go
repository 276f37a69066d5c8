package db

import (
	"fmt"
	"time"

	glebarez "github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type Handle struct {
	DB     *gorm.DB
	Driver string
}

// Dialector wybiera sterownik gorm po nazwie z configa.
func Dialector(driver, dsn string) (gorm.Dialector, error) {
	switch driver {
	case "postgres":
		return postgres.Open(dsn), nil
	case "mysql":
		return mysql.Open(dsn), nil
	case "sqlite":
		return sqlite.Open(dsn), nil
	case "sqlite-nocgo":
		// czysty Go, bez cgo (testy, buildy bez kompilatora C)
		return glebarez.Open(dsn), nil
	default:
		return nil, fmt.Errorf("unknown db driver %q", driver)
	}
}

func Open(driver, dsn string, log zerolog.Logger, logSQL bool) (*Handle, error) {
	d, err := Dialector(driver, dsn)
	if err != nil {
		return nil, err
	}
	gdb, err := OpenDialector(d, log, logSQL)
	if err != nil {
		return nil, err
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, err
	}
	if driver == "sqlite" || driver == "sqlite-nocgo" {
		// sqlite: jeden pisarz naraz
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(25)
		sqlDB.SetMaxIdleConns(5)
		sqlDB.SetConnMaxLifetime(5 * time.Minute)
	}
	return &Handle{DB: gdb, Driver: driver}, nil
}

func OpenDialector(d gorm.Dialector, log zerolog.Logger, logSQL bool) (*gorm.DB, error) {
	level := logger.Warn
	if logSQL {
		level = logger.Info
	}
	return gorm.Open(d, &gorm.Config{
		TranslateError: true,
		Logger: logger.New(gormWriter{log: log.With().Str("component", "gorm").Logger()}, logger.Config{
			SlowThreshold:             500 * time.Millisecond,
			LogLevel:                  level,
			IgnoreRecordNotFoundError: true,
		}),
	})
}

func (h *Handle) Close() error {
	sqlDB, err := h.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// gormWriter przekierowuje logger gorm do zerolog.
type gormWriter struct {
	log zerolog.Logger
}

func (w gormWriter) Printf(format string, args ...any) {
	w.log.Debug().Msgf(format, args...)
}
