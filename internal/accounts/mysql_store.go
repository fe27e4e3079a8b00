package accounts

import (
	"context"
	"database/sql"
	"strings"
	"time"

	apperrors "FlowGate/internal/errors"
	storagemysql "FlowGate/internal/storage/mysql"
)

// MySQLStore 使用 MySQL 持久化派生账户映射。
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore 连接数据库并确保表结构就绪。
func NewMySQLStore(ctx context.Context, dsn string) (*MySQLStore, error) {
	db, err := storagemysql.Open(ctx, storagemysql.Config{DSN: dsn})
	if err != nil {
		return nil, err
	}
	if err := storagemysql.Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &MySQLStore{db: db}, nil
}

// Save 写入或更新账户映射。
func (s *MySQLStore) Save(ctx context.Context, account *ChildAccount) error {
	if account == nil || strings.TrimSpace(account.UserID) == "" {
		return apperrors.New(apperrors.CodeInvalidArgument, "账户的 user_id 不能为空")
	}
	now := time.Now().Unix()
	created := account.CreatedAt.Unix()
	if account.CreatedAt.IsZero() {
		created = now
	}

	const query = `INSERT INTO child_accounts (user_id, address, created_at, updated_at)
        VALUES (?, ?, ?, ?)
        ON DUPLICATE KEY UPDATE address = VALUES(address), updated_at = VALUES(updated_at)`
	if _, err := s.db.ExecContext(ctx, query, account.UserID, account.Address, created, now); err != nil {
		return apperrors.Wrap(apperrors.CodeStorageFailure, err, "写入派生账户失败",
			apperrors.WithMetadata("user_id", account.UserID))
	}
	return nil
}

// GetByUserID 返回用户对应的派生账户。
func (s *MySQLStore) GetByUserID(ctx context.Context, userID string) (*ChildAccount, error) {
	const query = `SELECT user_id, address, created_at, updated_at FROM child_accounts WHERE user_id = ?`
	row := s.db.QueryRowContext(ctx, query, userID)

	var (
		account            ChildAccount
		createdAt, updated int64
	)
	if err := row.Scan(&account.UserID, &account.Address, &createdAt, &updated); err != nil {
		if err == sql.ErrNoRows {
			return nil, apperrors.New(CodeAccountNotFound, "用户尚无派生账户",
				apperrors.WithMetadata("user_id", userID))
		}
		return nil, apperrors.Wrap(apperrors.CodeStorageFailure, err, "查询派生账户失败")
	}
	account.CreatedAt = time.Unix(createdAt, 0)
	account.UpdatedAt = time.Unix(updated, 0)
	return &account, nil
}

// List 按创建时间倒序返回账户。
func (s *MySQLStore) List(ctx context.Context, limit int) ([]*ChildAccount, error) {
	if limit <= 0 {
		limit = 100
	}
	const query = `SELECT user_id, address, created_at, updated_at
        FROM child_accounts ORDER BY created_at DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStorageFailure, err, "查询派生账户列表失败")
	}
	defer rows.Close()

	var result []*ChildAccount
	for rows.Next() {
		var (
			account            ChildAccount
			createdAt, updated int64
		)
		if err := rows.Scan(&account.UserID, &account.Address, &createdAt, &updated); err != nil {
			return nil, apperrors.Wrap(apperrors.CodeStorageFailure, err, "解析派生账户记录失败")
		}
		account.CreatedAt = time.Unix(createdAt, 0)
		account.UpdatedAt = time.Unix(updated, 0)
		result = append(result, &account)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStorageFailure, err, "遍历派生账户记录失败")
	}
	return result, nil
}

// Close 释放数据库连接。
func (s *MySQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
