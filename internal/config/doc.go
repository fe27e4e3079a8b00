// Package config 负责加载守护进程启动所需的 JSON 配置文件，并为缺省
// 字段填充合理的默认值。
package config
