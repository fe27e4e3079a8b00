// Package api 暴露 REST 接口，用于提交出站操作、查询操作进度以及管理
// 派生账户。
package api
