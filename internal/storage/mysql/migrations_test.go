package mysql

import (
	"strings"
	"testing"
)

func TestLoadMigrationFilesOrdered(t *testing.T) {
	files, err := loadMigrationFiles()
	if err != nil {
		t.Fatalf("加载迁移文件失败: %v", err)
	}
	if len(files) < 2 {
		t.Fatalf("期望至少 2 个迁移文件, 实际 %d", len(files))
	}
	for i := 1; i < len(files); i++ {
		if files[i-1].version > files[i].version {
			t.Fatalf("迁移文件未按版本排序: %s 在 %s 之前", files[i-1].name, files[i].name)
		}
	}
	if !strings.Contains(files[0].statements[0], "operations") {
		t.Fatalf("首个迁移应创建 operations 表: %s", files[0].statements[0])
	}
}

func TestSplitSQLStatements(t *testing.T) {
	statements := splitSQLStatements("-- 注释\nCREATE TABLE a (id INT);\n\nCREATE TABLE b (id INT);\n-- 尾部注释\n")
	if len(statements) != 2 {
		t.Fatalf("期望 2 条语句, 实际 %d: %v", len(statements), statements)
	}
	if !strings.HasPrefix(statements[1], "CREATE TABLE b") {
		t.Fatalf("语句拆分结果异常: %q", statements[1])
	}
}

func TestParseMigrationVersion(t *testing.T) {
	if got := parseMigrationVersion("0001_operations.sql"); got != "0001" {
		t.Fatalf("版本解析错误: %q", got)
	}
	if got := parseMigrationVersion("base.sql"); got != "base" {
		t.Fatalf("无下划线文件名解析错误: %q", got)
	}
}
