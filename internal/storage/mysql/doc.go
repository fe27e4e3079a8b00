// Package mysql 提供共享的 MySQL 连接管理与 schema 迁移能力，
// 供操作流水与子账户存储层复用。
package mysql
