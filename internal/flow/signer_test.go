package flow

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"testing"

	"golang.org/x/crypto/sha3"

	apperrors "FlowGate/internal/errors"
)

const testKeyHex = "0x2eb178a6d58e0f9ab6cf736428746b91bed834b7f35660c516e2a0a45fbd60e4"

func TestNewInMemorySignerRejectsBadKeys(t *testing.T) {
	cases := []struct {
		name string
		key  string
	}{
		{"empty", ""},
		{"not hex", "0xzz"},
		{"zero scalar", "00"},
		{"above curve order", "ffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewInMemorySigner(tc.key); err == nil {
				t.Fatalf("期望私钥 %q 被拒绝", tc.key)
			} else if apperrors.CodeOf(err) != apperrors.CodeInvalidArgument {
				t.Fatalf("unexpected error code: %v", err)
			}
		})
	}
}

func TestSignProducesVerifiableSignature(t *testing.T) {
	signer, err := NewInMemorySigner(testKeyHex)
	if err != nil {
		t.Fatalf("创建签名器失败: %v", err)
	}

	message := []byte("250|transfer script|[]")
	signature, err := signer.Sign(context.Background(), message, 3)
	if err != nil {
		t.Fatalf("签名失败: %v", err)
	}
	if len(signature) != 64 {
		t.Fatalf("期望 64 字节签名, 实际 %d", len(signature))
	}

	hasher := sha3.New256()
	hasher.Write(paddedDomainTag())
	hasher.Write(message)
	digest := hasher.Sum(nil)

	r := new(big.Int).SetBytes(signature[:32])
	s := new(big.Int).SetBytes(signature[32:])
	if !ecdsa.Verify(&signer.privateKey.PublicKey, digest, r, s) {
		t.Fatal("签名无法通过验证")
	}
}

func TestPaddedDomainTag(t *testing.T) {
	tag := paddedDomainTag()
	if len(tag) != 32 {
		t.Fatalf("域标签长度应为 32, 实际 %d", len(tag))
	}
	if string(tag[:len(transactionDomainTag)]) != transactionDomainTag {
		t.Fatalf("域标签前缀错误: %q", tag)
	}
	for _, b := range tag[len(transactionDomainTag):] {
		if b != 0 {
			t.Fatal("域标签填充必须为零")
		}
	}
}
