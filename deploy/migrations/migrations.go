// Package migrations 内嵌数据库迁移脚本，按文件名前缀的版本号顺序应用。
package migrations

import "embed"

// Files 包含全部 SQL 迁移脚本。
//
//go:embed *.sql
var Files embed.FS
