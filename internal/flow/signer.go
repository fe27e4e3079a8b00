package flow

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/hex"
	"math/big"
	"strings"

	"golang.org/x/crypto/sha3"

	apperrors "FlowGate/internal/errors"
)

// transactionDomainTag is prepended to every signable message, padded to
// 32 bytes as required by the Flow signature scheme.
const transactionDomainTag = "FLOW-V0.0-transaction"

// InMemorySigner signs envelope messages with an ECDSA P-256 key held in
// memory. Accounts provisioned for parallel submission replicate the same
// key across every slot, so the key index does not select a distinct key.
type InMemorySigner struct {
	privateKey *ecdsa.PrivateKey
}

// NewInMemorySigner parses a hex encoded P-256 private key scalar.
func NewInMemorySigner(hexKey string) (*InMemorySigner, error) {
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	if hexKey == "" {
		return nil, apperrors.New(apperrors.CodeInvalidArgument, "签名私钥不能为空")
	}
	raw, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInvalidArgument, err, "解析签名私钥失败")
	}

	curve := elliptic.P256()
	d := new(big.Int).SetBytes(raw)
	if d.Sign() <= 0 || d.Cmp(curve.Params().N) >= 0 {
		return nil, apperrors.New(apperrors.CodeInvalidArgument, "签名私钥超出曲线范围")
	}
	priv := &ecdsa.PrivateKey{D: d}
	priv.Curve = curve
	priv.X, priv.Y = curve.ScalarBaseMult(d.Bytes())
	return &InMemorySigner{privateKey: priv}, nil
}

// Sign implements the Signer interface. The signature is the raw r||s
// concatenation over the SHA3-256 digest of the tagged message.
func (s *InMemorySigner) Sign(_ context.Context, message []byte, _ int) ([]byte, error) {
	if s == nil || s.privateKey == nil {
		return nil, apperrors.New(apperrors.CodeInitializationFailure, "签名器未初始化")
	}

	hasher := sha3.New256()
	hasher.Write(paddedDomainTag())
	hasher.Write(message)
	digest := hasher.Sum(nil)

	r, sv, err := ecdsa.Sign(rand.Reader, s.privateKey, digest)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeUnknown, err, "签名失败")
	}

	byteLen := (s.privateKey.Curve.Params().BitSize + 7) / 8
	signature := make([]byte, 2*byteLen)
	r.FillBytes(signature[:byteLen])
	sv.FillBytes(signature[byteLen:])
	return signature, nil
}

func paddedDomainTag() []byte {
	tag := make([]byte, 32)
	copy(tag, transactionDomainTag)
	return tag
}
