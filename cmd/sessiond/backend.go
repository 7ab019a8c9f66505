package main

import (
	"database/sql"
	"fmt"

	"github.com/bluescreen10/tablesession"
	"github.com/bluescreen10/tablesession/aztablestore"
	"github.com/bluescreen10/tablesession/gormstore"
	"github.com/bluescreen10/tablesession/internal/config"
	"github.com/bluescreen10/tablesession/memstore"
	"github.com/bluescreen10/tablesession/mysqlstore"
	"github.com/bluescreen10/tablesession/redisstore"
	"github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// openBackend connects to the configured table service. The returned close
// function releases the client and is never nil.
func openBackend(cfg *config.Config) (tablesession.Backend, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Session.Backend {
	case config.BackendRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		return redisstore.New(rdb), rdb.Close, nil

	case config.BackendSQLite:
		db, err := gorm.Open(sqlite.Open(cfg.SQLite.Path), &gorm.Config{Logger: gormlogger.Discard})
		if err != nil {
			return nil, noop, fmt.Errorf("failed to open sqlite: %w", err)
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, noop, err
		}
		return gormstore.New(db), sqlDB.Close, nil

	case config.BackendMySQL:
		dsn, err := mysql.ParseDSN(cfg.MySQL.DSN)
		if err != nil {
			return nil, noop, fmt.Errorf("invalid MYSQL_DSN: %w", err)
		}
		dsn.ParseTime = true
		connector, err := mysql.NewConnector(dsn)
		if err != nil {
			return nil, noop, err
		}
		db := sql.OpenDB(connector)
		return mysqlstore.New(db), db.Close, nil

	case config.BackendAzure:
		var (
			s   *aztablestore.AzTableStore
			err error
		)
		if cfg.Azure.ConnectionString != "" {
			s, err = aztablestore.NewFromConnectionString(cfg.Azure.ConnectionString)
		} else {
			s, err = aztablestore.NewWithSharedKey(cfg.Azure.Account, cfg.Azure.AccessKey, cfg.Azure.TableURL)
		}
		if err != nil {
			return nil, noop, fmt.Errorf("failed to create table client: %w", err)
		}
		return s, noop, nil

	default:
		return memstore.New(), noop, nil
	}
}
