// internal/pkg/bootstrap/db.go
package bootstrap

import (
	"fmt"
	"time"

	sqlmysql "github.com/go-sql-driver/mysql"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// OpenMysql 打开一个 gorm 连接并配置连接池。
// DSN 未配置时按约定拼一个本地开发用的默认值。
func OpenMysql(dsn string) (*gorm.DB, error) {
	if dsn == "" {
		c := sqlmysql.NewConfig()
		c.User = "root"
		c.Net = "tcp"
		c.Addr = "localhost:3306"
		c.DBName = "circuitbay"
		c.ParseTime = true
		c.Loc = time.UTC
		dsn = c.FormatDSN()
	}

	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open mysql connection: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(50)
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return db, nil
}
