package op

import (
	"context"
	"database/sql"
	stdErrors "errors"
	"fmt"
	"strings"
	"time"

	apperrors "FlowGate/internal/errors"
	storagemysql "FlowGate/internal/storage/mysql"
	"github.com/go-sql-driver/mysql"
)

// MySQLStore 使用 MySQL 持久化操作状态。
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore 创建一个新的 MySQLStore，并确保 schema 迁移已应用。
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

// Create 插入新的操作记录。
func (s *MySQLStore) Create(ctx context.Context, operation *Operation) error {
	if operation == nil {
		return apperrors.New(apperrors.CodeInvalidArgument, "operation 不能为空")
	}
	if strings.TrimSpace(operation.ID) == "" {
		return apperrors.New(apperrors.CodeInvalidArgument, "操作 ID 不能为空")
	}

	now := time.Now().Unix()
	operation.CreatedAt = now
	operation.UpdatedAt = now

	const stmt = `INSERT INTO operations
        (id, kind, user_id, payload, status, attempts, max_retries, last_error, error_code, terminal, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, '', '', 0, ?, ?)`

	_, err := s.db.ExecContext(ctx, stmt,
		operation.ID,
		operation.Kind,
		operation.UserID,
		string(operation.Payload),
		operation.Status,
		operation.Attempts,
		operation.MaxRetries,
		operation.CreatedAt,
		operation.UpdatedAt,
	)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if stdErrors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return ErrOperationConflict
		}
		return apperrors.Wrap(apperrors.CodeStorageFailure, err, "插入操作失败")
	}
	return nil
}

// Get 查询指定操作。
func (s *MySQLStore) Get(ctx context.Context, id string) (*Operation, error) {
	const stmt = `SELECT id, kind, user_id, payload, status, attempts, max_retries, last_error, error_code, terminal,
        result_tx_id, result_summary, result_detail, created_at, updated_at
        FROM operations WHERE id = ?`

	row := s.db.QueryRowContext(ctx, stmt, id)
	operation, err := scanOperation(row)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrOperationNotFound
		}
		return nil, apperrors.Wrap(apperrors.CodeStorageFailure, err, "查询操作失败")
	}
	return operation, nil
}

// Claim 将操作标记为运行中并返回最新状态。
func (s *MySQLStore) Claim(ctx context.Context, id string) (*Operation, error) {
	const updateStmt = `UPDATE operations SET status = ?, attempts = attempts + 1, updated_at = ?, last_error = '', error_code = ''
        WHERE id = ? AND status IN (?, ?) AND attempts < max_retries AND terminal = 0`

	now := time.Now().Unix()
	res, err := s.db.ExecContext(ctx, updateStmt,
		StatusRunning,
		now,
		id,
		StatusPending,
		StatusFailed,
	)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStorageFailure, err, "更新操作状态失败")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStorageFailure, err, "获取影响行数失败")
	}
	if affected == 0 {
		operation, getErr := s.Get(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		switch operation.Status {
		case StatusSucceeded:
			return operation, ErrOperationCompleted
		case StatusRunning:
			return operation, ErrOperationConflict
		default:
			if operation.Terminal || operation.Attempts >= operation.MaxRetries {
				return operation, ErrOperationExhausted
			}
			return operation, ErrOperationConflict
		}
	}
	return s.Get(ctx, id)
}

// MarkSucceeded 将操作标记为成功并记录执行结果。
func (s *MySQLStore) MarkSucceeded(ctx context.Context, id string, result ExecutionResult) error {
	const stmt = `UPDATE operations SET status = ?, result_tx_id = ?, result_summary = ?, result_detail = ?,
        updated_at = ?, last_error = '', error_code = '' WHERE id = ?`

	now := time.Now().Unix()
	res, err := s.db.ExecContext(ctx, stmt,
		StatusSucceeded,
		result.TxID,
		result.Summary,
		string(result.Detail),
		now,
		id,
	)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeStorageFailure, err, "标记操作成功失败")
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrOperationNotFound
	}
	return nil
}

// MarkFailed 记录失败原因。terminal 为真时置位终止标记，不再参与认领。
func (s *MySQLStore) MarkFailed(ctx context.Context, id string, errorCode, lastError string, terminal bool) error {
	stmt := `UPDATE operations SET status = ?, last_error = ?, error_code = ?, updated_at = ? WHERE id = ?`
	if terminal {
		stmt = `UPDATE operations SET status = ?, last_error = ?, error_code = ?, updated_at = ?, terminal = 1 WHERE id = ?`
	}

	now := time.Now().Unix()
	res, err := s.db.ExecContext(ctx, stmt,
		StatusFailed,
		lastError,
		errorCode,
		now,
		id,
	)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeStorageFailure, err, "标记操作失败失败")
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrOperationNotFound
	}
	return nil
}

// List 返回符合过滤条件的操作列表。
func (s *MySQLStore) List(ctx context.Context, opts ListOptions) ([]*Operation, error) {
	opts.applyDefaults()

	query := `SELECT id, kind, user_id, payload, status, attempts, max_retries, last_error, error_code, terminal,
        result_tx_id, result_summary, result_detail, created_at, updated_at FROM operations`

	clause, filterArgs := buildFilterClause(opts)
	if clause != "" {
		query += " WHERE " + clause
	}

	order := " ORDER BY updated_at DESC, created_at DESC, id DESC"
	if opts.Order == SortByUpdatedAsc {
		order = " ORDER BY updated_at ASC, created_at ASC, id ASC"
	}
	query += order + " LIMIT ? OFFSET ?"

	args := append(filterArgs, opts.Limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStorageFailure, err, "查询操作列表失败")
	}
	defer rows.Close()

	operations := make([]*Operation, 0, opts.Limit)
	for rows.Next() {
		operation, err := scanOperation(rows)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CodeStorageFailure, err, "解析操作记录失败")
		}
		operations = append(operations, operation)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStorageFailure, err, "遍历操作失败")
	}
	return operations, nil
}

// Stats 返回符合过滤条件的操作聚合信息。
func (s *MySQLStore) Stats(ctx context.Context, opts ListOptions) (OperationStats, error) {
	opts.applyDefaults()

	query := `SELECT
        COUNT(*) AS total,
        SUM(CASE WHEN status = ? THEN 1 ELSE 0 END) AS pending,
        SUM(CASE WHEN status = ? THEN 1 ELSE 0 END) AS running,
        SUM(CASE WHEN status = ? THEN 1 ELSE 0 END) AS succeeded,
        SUM(CASE WHEN status = ? THEN 1 ELSE 0 END) AS failed,
        COALESCE(MIN(updated_at), 0) AS oldest,
        COALESCE(MAX(updated_at), 0) AS newest
        FROM operations`

	clause, filterArgs := buildFilterClause(opts)
	if clause != "" {
		query += " WHERE " + clause
	}

	args := []any{string(StatusPending), string(StatusRunning), string(StatusSucceeded), string(StatusFailed)}
	args = append(args, filterArgs...)

	row := s.db.QueryRowContext(ctx, query, args...)

	var stats OperationStats
	if err := row.Scan(
		&stats.Total,
		&stats.Pending,
		&stats.Running,
		&stats.Succeeded,
		&stats.Failed,
		&stats.OldestUpdatedAt,
		&stats.NewestUpdatedAt,
	); err != nil {
		return OperationStats{}, apperrors.Wrap(apperrors.CodeStorageFailure, err, "查询操作统计失败")
	}
	if stats.Total == 0 {
		stats.OldestUpdatedAt = 0
		stats.NewestUpdatedAt = 0
	}
	return stats, nil
}

// Close 关闭底层数据库连接。
func (s *MySQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOperation(row rowScanner) (*Operation, error) {
	var operation Operation
	var payload, resultTxID, resultSummary, resultDetail sql.NullString

	if err := row.Scan(
		&operation.ID,
		&operation.Kind,
		&operation.UserID,
		&payload,
		&operation.Status,
		&operation.Attempts,
		&operation.MaxRetries,
		&operation.LastError,
		&operation.ErrorCode,
		&operation.Terminal,
		&resultTxID,
		&resultSummary,
		&resultDetail,
		&operation.CreatedAt,
		&operation.UpdatedAt,
	); err != nil {
		return nil, err
	}

	if payload.Valid && payload.String != "" {
		operation.Payload = []byte(payload.String)
	}
	if resultTxID.String != "" || resultSummary.String != "" || resultDetail.String != "" {
		result := ExecutionResult{
			TxID:    resultTxID.String,
			Summary: resultSummary.String,
		}
		if resultDetail.String != "" {
			result.Detail = []byte(resultDetail.String)
		}
		operation.Result = &result
	}
	return &operation, nil
}

func buildFilterClause(opts ListOptions) (string, []any) {
	conditions := make([]string, 0, 3)
	args := make([]any, 0, 6)

	if len(opts.Statuses) > 0 {
		placeholders := make([]string, 0, len(opts.Statuses))
		for range opts.Statuses {
			placeholders = append(placeholders, "?")
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
		for _, status := range opts.Statuses {
			args = append(args, status)
		}
	}
	if len(opts.Kinds) > 0 {
		placeholders := make([]string, 0, len(opts.Kinds))
		for range opts.Kinds {
			placeholders = append(placeholders, "?")
		}
		conditions = append(conditions, fmt.Sprintf("kind IN (%s)", strings.Join(placeholders, ",")))
		for _, kind := range opts.Kinds {
			args = append(args, kind)
		}
	}
	if opts.UserID != "" {
		conditions = append(conditions, "user_id = ?")
		args = append(args, opts.UserID)
	}

	if len(conditions) == 0 {
		return "", nil
	}
	return strings.Join(conditions, " AND "), args
}
