package accounts

import (
	"time"

	"github.com/shopspring/decimal"

	apperrors "FlowGate/internal/errors"
)

// 账户模块专用错误码。
const (
	CodeAccountNotFound        apperrors.Code = "ACCOUNT_NOT_FOUND"
	CodeAccountCreationFailure apperrors.Code = "ACCOUNT_CREATION_FAILURE"
	CodeBalanceQueryFailure    apperrors.Code = "BALANCE_QUERY_FAILURE"
)

func init() {
	apperrors.Register(CodeAccountNotFound, apperrors.Attributes{
		Message:   "child account not found",
		Severity:  apperrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	apperrors.Register(CodeAccountCreationFailure, apperrors.Attributes{
		Message:   "child account creation failed",
		Severity:  apperrors.SeverityWarning,
		Retryable: true,
		Alert:     true,
	})
	apperrors.Register(CodeBalanceQueryFailure, apperrors.Attributes{
		Message:   "balance query failed",
		Severity:  apperrors.SeverityWarning,
		Retryable: true,
		Alert:     false,
	})
}

// ChildAccount 描述根账户名下某个用户的派生账户。
type ChildAccount struct {
	UserID    string    `json:"user_id"`
	Address   string    `json:"address"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BalanceInfo 汇总账户在两个执行环境下的余额。账户未部署 COA 时
// CoaBalance 为零。
type BalanceInfo struct {
	UserID     string          `json:"user_id,omitempty"`
	Address    string          `json:"address"`
	Balance    decimal.Decimal `json:"balance"`
	CoaAddress string          `json:"coa_address,omitempty"`
	CoaBalance decimal.Decimal `json:"coa_balance"`
}
