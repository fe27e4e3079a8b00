package accounts

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	apperrors "FlowGate/internal/errors"
	"FlowGate/internal/evm"
	"FlowGate/internal/flow"
	"FlowGate/internal/wallet"
	"FlowGate/pkg/logger"
)

// coaWeiDecimals 是 COA 原生余额的精度（wei）。
const coaWeiDecimals = 18

// Registry 管理根账户名下的派生账户：ensure 语义幂等，同一用户的
// 并发创建只会提交一笔交易。
type Registry struct {
	client         flow.Client
	wallet         *wallet.Wallet
	evmClient      *evm.Client
	store          Store
	rootAddress    string
	initialFunding float64
	log            *slog.Logger

	mu       sync.Mutex
	inflight map[string]*creation
}

type creation struct {
	done    chan struct{}
	account *ChildAccount
	err     error
}

// RegistryConfig 描述注册表的依赖与参数。EVMClient 指向 Flow EVM 链，
// 可为 nil，此时 COA 余额恒为零。
type RegistryConfig struct {
	Client         flow.Client
	Wallet         *wallet.Wallet
	EVMClient      *evm.Client
	Store          Store
	RootAddress    string
	InitialFunding float64
}

// NewRegistry 构建账户注册表。
func NewRegistry(cfg RegistryConfig) (*Registry, error) {
	if cfg.Client == nil || cfg.Wallet == nil || cfg.Store == nil {
		return nil, apperrors.New(apperrors.CodeInvalidArgument, "账户注册表缺少必要依赖")
	}
	root := strings.TrimSpace(cfg.RootAddress)
	if root == "" {
		root = cfg.Wallet.Address()
	}
	return &Registry{
		client:         cfg.Client,
		wallet:         cfg.Wallet,
		evmClient:      cfg.EVMClient,
		store:          cfg.Store,
		rootAddress:    root,
		initialFunding: cfg.InitialFunding,
		log:            logger.Named("accounts"),
		inflight:       make(map[string]*creation),
	}, nil
}

// EnsureAccount 返回用户的派生账户，不存在时创建。重复调用与并发
// 调用均只产生一次链上创建。
func (r *Registry) EnsureAccount(ctx context.Context, userID string) (*ChildAccount, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, apperrors.New(apperrors.CodeInvalidArgument, "user_id 不能为空")
	}

	if account, err := r.store.GetByUserID(ctx, userID); err == nil {
		return account, nil
	} else if apperrors.CodeOf(err) != CodeAccountNotFound {
		return nil, err
	}

	r.mu.Lock()
	if pending, ok := r.inflight[userID]; ok {
		r.mu.Unlock()
		select {
		case <-pending.done:
			return pending.account, pending.err
		case <-ctx.Done():
			return nil, apperrors.Wrap(CodeAccountCreationFailure, ctx.Err(),
				"等待账户创建完成时上下文已取消", apperrors.WithMetadata("user_id", userID))
		}
	}
	pending := &creation{done: make(chan struct{})}
	r.inflight[userID] = pending
	r.mu.Unlock()

	account, err := r.createAccount(ctx, userID)
	pending.account, pending.err = account, err

	r.mu.Lock()
	delete(r.inflight, userID)
	r.mu.Unlock()
	close(pending.done)

	return account, err
}

func (r *Registry) createAccount(ctx context.Context, userID string) (*ChildAccount, error) {
	// 链上可能已有该账户而本地存储缺失，先对账一次。
	if status, err := r.accountStatus(ctx, userID); err == nil && status != nil {
		account := &ChildAccount{UserID: userID, Address: status.Address}
		if err := r.store.Save(ctx, account); err != nil {
			return nil, err
		}
		return account, nil
	}

	args := []flow.Value{
		flow.String(userID),
		flow.OptionalUFix64(r.initialFunding),
	}
	handle, err := r.wallet.SendTransaction(ctx, flow.TxCreateChildAccount, args, wallet.Callbacks{})
	if err != nil {
		return nil, apperrors.Wrap(CodeAccountCreationFailure, err, "提交账户创建交易失败",
			apperrors.WithMetadata("user_id", userID))
	}

	status, err := handle.Wait(ctx)
	if err != nil {
		return nil, apperrors.Wrap(CodeAccountCreationFailure, err, "账户创建交易失败",
			apperrors.WithMetadata("user_id", userID),
			apperrors.WithMetadata("tx_id", handle.TxID))
	}

	address, _ := status.EventValue(flow.EventAccountCreated, "address")
	if address == "" {
		// 事件缺失时回退到链上查询。
		if chainStatus, err := r.accountStatus(ctx, userID); err == nil && chainStatus != nil {
			address = chainStatus.Address
		}
	}
	if address == "" {
		return nil, apperrors.New(CodeAccountCreationFailure, "账户创建交易未返回新地址",
			apperrors.WithMetadata("user_id", userID),
			apperrors.WithMetadata("tx_id", handle.TxID))
	}

	account := &ChildAccount{UserID: userID, Address: address}
	if err := r.store.Save(ctx, account); err != nil {
		return nil, err
	}
	r.log.Info("派生账户创建完成", "user_id", userID, "address", address, "tx_id", handle.TxID)
	return account, nil
}

// QueryBalance 汇总账户在 Cadence 与 EVM 两个执行环境下的余额。
// userID 为空时查询根账户本身。
func (r *Registry) QueryBalance(ctx context.Context, userID string) (*BalanceInfo, error) {
	userID = strings.TrimSpace(userID)

	status, err := r.accountStatus(ctx, userID)
	if err != nil {
		return nil, err
	}
	if status == nil {
		return nil, apperrors.New(CodeAccountNotFound, "账户不存在",
			apperrors.WithMetadata("user_id", userID))
	}

	info := &BalanceInfo{
		UserID:     userID,
		Address:    status.Address,
		Balance:    status.Balance,
		CoaAddress: status.CoaAddress,
		CoaBalance: decimal.Zero,
	}
	if status.CoaAddress != "" && r.evmClient != nil {
		wei, err := r.evmClient.NativeBalance(ctx, status.CoaAddress)
		if err != nil {
			return nil, apperrors.Wrap(CodeBalanceQueryFailure, err, "查询 COA 余额失败",
				apperrors.WithMetadata("coa_address", status.CoaAddress))
		}
		info.CoaBalance = decimal.NewFromBigInt(wei, -coaWeiDecimals)
	}
	return info, nil
}

// accountStatus 执行链上查询。账户不存在时返回 (nil, nil)。
func (r *Registry) accountStatus(ctx context.Context, userID string) (*accountStatus, error) {
	args := []flow.Value{
		flow.Address(r.rootAddress),
		flow.OptionalString(userID),
	}
	raw, err := r.client.ExecuteScript(ctx, flow.ScriptAccountInfo, args)
	if err != nil {
		return nil, apperrors.Wrap(CodeBalanceQueryFailure, err, "执行账户查询脚本失败",
			apperrors.WithMetadata("user_id", userID))
	}
	return decodeAccountStatus(raw)
}

type accountStatus struct {
	Address    string
	Balance    decimal.Decimal
	CoaAddress string
}

type cdcValue struct {
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value"`
}

// decodeAccountStatus 解析 ScriptAccountInfo 的 JSON-CDC 返回值。
// 顶层 Optional 为空表示账户不存在。
func decodeAccountStatus(raw json.RawMessage) (*accountStatus, error) {
	var outer cdcValue
	if err := json.Unmarshal(raw, &outer); err != nil {
		return nil, apperrors.Wrap(CodeBalanceQueryFailure, err, "解析账户查询结果失败")
	}
	inner := outer
	if outer.Type == "Optional" {
		if isJSONNull(outer.Value) {
			return nil, nil
		}
		if err := json.Unmarshal(outer.Value, &inner); err != nil {
			return nil, apperrors.Wrap(CodeBalanceQueryFailure, err, "解析账户查询结果失败")
		}
	}

	var body struct {
		Fields []struct {
			Name  string   `json:"name"`
			Value cdcValue `json:"value"`
		} `json:"fields"`
	}
	if err := json.Unmarshal(inner.Value, &body); err != nil {
		return nil, apperrors.Wrap(CodeBalanceQueryFailure, err, "解析账户查询结果失败")
	}

	status := &accountStatus{Balance: decimal.Zero}
	for _, field := range body.Fields {
		switch field.Name {
		case "address":
			var addr string
			if err := json.Unmarshal(field.Value.Value, &addr); err == nil {
				status.Address = addr
			}
		case "balance":
			var amount string
			if err := json.Unmarshal(field.Value.Value, &amount); err == nil {
				if parsed, err := decimal.NewFromString(amount); err == nil {
					status.Balance = parsed
				}
			}
		case "coaAddress":
			value := field.Value
			if value.Type == "Optional" {
				if isJSONNull(value.Value) {
					continue
				}
				if err := json.Unmarshal(value.Value, &value); err != nil {
					continue
				}
			}
			var hex string
			if err := json.Unmarshal(value.Value, &hex); err == nil && hex != "" {
				if !strings.HasPrefix(hex, "0x") {
					hex = "0x" + hex
				}
				status.CoaAddress = hex
			}
		}
	}
	if status.Address == "" {
		return nil, apperrors.New(CodeBalanceQueryFailure, "账户查询结果缺少地址字段")
	}
	return status, nil
}

func isJSONNull(raw json.RawMessage) bool {
	trimmed := strings.TrimSpace(string(raw))
	return trimmed == "" || trimmed == "null"
}
