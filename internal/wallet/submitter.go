package wallet

import (
	"context"
	"strconv"

	apperrors "FlowGate/internal/errors"
	"FlowGate/internal/flow"
)

// Submitter 使用指定的签名 key 提交交易。
type Submitter struct {
	client  flow.Client
	address string
}

// NewSubmitter 构建提交器。address 为根账户地址。
func NewSubmitter(client flow.Client, address string) *Submitter {
	return &Submitter{client: client, address: address}
}

// Submit 以 slot 对应的 key 提交一笔交易并返回交易 ID。提交失败时
// 调用方负责归还 slot。
func (s *Submitter) Submit(ctx context.Context, script string, args []flow.Value, slot KeySlot) (string, error) {
	txID, err := s.client.SendTransaction(ctx, script, args, flow.Authorization{
		Address:  s.address,
		KeyIndex: slot.Index,
	})
	if err != nil {
		return "", apperrors.Wrap(CodeSubmitFailure, err, "提交交易失败",
			apperrors.WithMetadata("key_index", strconv.Itoa(slot.Index)))
	}
	return txID, nil
}
