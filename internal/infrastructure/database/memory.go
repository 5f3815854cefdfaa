package database

import (
	"fmt"
	"strings"

	"creditsync/internal/config"

	"gorm.io/gorm"
)

// OpenMemory 打开一个进程内 SQLite 数据库，用于本地调试和测试
//
// 内存库只存在于单个连接上，所以连接池固定为 1；事务内的所有查询必须走 tx
func OpenMemory(name string) (*gorm.DB, error) {
	name = strings.NewReplacer("/", "_", " ", "_").Replace(name)
	return Open(&config.DatabaseConfig{
		Driver:       "sqlite",
		DSN:          fmt.Sprintf("file:%s?mode=memory&cache=shared", name),
		MaxOpenConns: 1,
		MaxIdleConns: 1,
		LogLevel:     "silent",
	})
}
