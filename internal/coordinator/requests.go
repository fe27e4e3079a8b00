package coordinator

import (
	"strings"

	"github.com/shopspring/decimal"

	apperrors "FlowGate/internal/errors"
	"FlowGate/internal/flow"
)

// TokenForm 区分转账请求中 token 字段的三种形态。
type TokenForm int

const (
	// TokenNative 表示原生 FLOW。
	TokenNative TokenForm = iota
	// TokenCadence 表示 Cadence 侧的同质化代币（A.<addr>.<Contract>）。
	TokenCadence
	// TokenERC20 表示 EVM 侧的 ERC20 合约。
	TokenERC20
)

// TransferRequest 描述一笔出站转账。Token 为空表示原生 FLOW。
type TransferRequest struct {
	Token     string          `json:"token,omitempty"`
	Recipient string          `json:"recipient"`
	Amount    decimal.Decimal `json:"amount"`
}

// Form 返回 token 字段的形态。调用前须先通过 Validate。
func (r TransferRequest) Form() TokenForm {
	token := strings.TrimSpace(r.Token)
	switch {
	case token == "":
		return TokenNative
	case flow.IsCadenceIdentifier(token):
		return TokenCadence
	default:
		return TokenERC20
	}
}

// Validate 校验请求的各字段格式，包括 token 与收款地址形态的匹配。
func (r TransferRequest) Validate() error {
	if r.Amount.Sign() <= 0 {
		return apperrors.New(apperrors.CodeInvalidArgument, "转账数量必须为正数")
	}
	recipient := strings.TrimSpace(r.Recipient)
	if recipient == "" {
		return apperrors.New(apperrors.CodeInvalidArgument, "收款地址不能为空")
	}

	token := strings.TrimSpace(r.Token)
	switch {
	case token == "", flow.IsCadenceIdentifier(token):
		if !flow.IsFlowAddress(recipient) && !flow.IsEVMAddress(recipient) {
			return apperrors.New(apperrors.CodeInvalidArgument, "收款地址格式不合法",
				apperrors.WithMetadata("recipient", recipient))
		}
	case flow.IsEVMAddress(token):
		// ERC20 只能转入 EVM 地址。
		if !flow.IsEVMAddress(recipient) {
			return apperrors.New(apperrors.CodeInvalidArgument, "ERC20 转账的收款地址必须是 EVM 地址",
				apperrors.WithMetadata("recipient", recipient))
		}
	default:
		return apperrors.New(apperrors.CodeInvalidArgument, "无法识别的 token 格式",
			apperrors.WithMetadata("token", token))
	}
	return nil
}

// EnsureAccountRequest 描述派生账户的创建请求。
type EnsureAccountRequest struct {
	UserID string `json:"user_id"`
}

// Validate 校验请求。
func (r EnsureAccountRequest) Validate() error {
	if strings.TrimSpace(r.UserID) == "" {
		return apperrors.New(apperrors.CodeInvalidArgument, "user_id 不能为空")
	}
	return nil
}

// BalanceRequest 描述余额查询请求。UserID 为空时查询根账户。
type BalanceRequest struct {
	UserID string `json:"user_id,omitempty"`
}

// BridgeRequest 描述跨链请求。Slippage 为百分比，零值采用默认滑点。
type BridgeRequest struct {
	SourceChain      string          `json:"source_chain"`
	DestinationChain string          `json:"destination_chain"`
	Token            string          `json:"token"`
	Recipient        string          `json:"recipient"`
	Amount           decimal.Decimal `json:"amount"`
	Slippage         decimal.Decimal `json:"slippage,omitempty"`
}

// Validate 校验请求。
func (r BridgeRequest) Validate() error {
	if strings.TrimSpace(r.SourceChain) == "" || strings.TrimSpace(r.DestinationChain) == "" {
		return apperrors.New(apperrors.CodeInvalidArgument, "源链和目标链不能为空")
	}
	if strings.TrimSpace(r.Token) == "" {
		return apperrors.New(apperrors.CodeInvalidArgument, "token 不能为空")
	}
	if strings.TrimSpace(r.Recipient) == "" {
		return apperrors.New(apperrors.CodeInvalidArgument, "收款地址不能为空")
	}
	if r.Amount.Sign() <= 0 {
		return apperrors.New(apperrors.CodeInvalidArgument, "跨链数量必须为正数")
	}
	if r.Slippage.Sign() < 0 || r.Slippage.GreaterThanOrEqual(decimal.NewFromInt(100)) {
		return apperrors.New(apperrors.CodeInvalidArgument, "滑点必须位于 [0, 100) 区间")
	}
	return nil
}

// SwapRequest 描述兑换请求。
type SwapRequest struct {
	Chain     string          `json:"chain"`
	FromToken string          `json:"from_token"`
	ToToken   string          `json:"to_token"`
	Recipient string          `json:"recipient"`
	Amount    decimal.Decimal `json:"amount"`
	Slippage  decimal.Decimal `json:"slippage,omitempty"`
}

// Validate 校验请求。
func (r SwapRequest) Validate() error {
	if strings.TrimSpace(r.Chain) == "" {
		return apperrors.New(apperrors.CodeInvalidArgument, "链名称不能为空")
	}
	if strings.TrimSpace(r.FromToken) == "" || strings.TrimSpace(r.ToToken) == "" {
		return apperrors.New(apperrors.CodeInvalidArgument, "兑换代币不能为空")
	}
	if strings.EqualFold(r.FromToken, r.ToToken) {
		return apperrors.New(apperrors.CodeInvalidArgument, "兑换的两种代币不能相同")
	}
	if strings.TrimSpace(r.Recipient) == "" {
		return apperrors.New(apperrors.CodeInvalidArgument, "收款地址不能为空")
	}
	if r.Amount.Sign() <= 0 {
		return apperrors.New(apperrors.CodeInvalidArgument, "兑换数量必须为正数")
	}
	if r.Slippage.Sign() < 0 || r.Slippage.GreaterThanOrEqual(decimal.NewFromInt(100)) {
		return apperrors.New(apperrors.CodeInvalidArgument, "滑点必须位于 [0, 100) 区间")
	}
	return nil
}
