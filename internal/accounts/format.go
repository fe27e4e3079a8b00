package accounts

import (
	"fmt"
	"strings"
)

// FormatBalanceInfo 将账户余额渲染为面向用户的多行文本。
func FormatBalanceInfo(userID string, info *BalanceInfo) string {
	var b strings.Builder
	b.WriteString("Here is your account information:\n")
	fmt.Fprintf(&b, "- UserId: %s\n", userID)
	if info == nil {
		b.WriteString("- No wallet information found, maybe you don't have a wallet yet.")
		return b.String()
	}
	fmt.Fprintf(&b, "- Flow wallet address: %s\n", info.Address)
	fmt.Fprintf(&b, "- FLOW balance: %s FLOW\n", info.Balance.String())
	coa := info.CoaAddress
	if coa == "" {
		coa = "unknown"
	}
	fmt.Fprintf(&b, "- Flow wallet's COA(EVM) address: %s\n", coa)
	fmt.Fprintf(&b, "- FLOW balance in COA(EVM) address: %s FLOW", info.CoaBalance.String())
	return b.String()
}

// FormatTransactionSent 渲染交易浏览器链接。
func FormatTransactionSent(txID, network string) string {
	baseURL := "https://flowscan.io"
	if network == "testnet" {
		baseURL = "https://testnet.flowscan.io"
	}
	return fmt.Sprintf("Transaction Sent: [%s](%s/tx/%s/events)", txID, baseURL, txID)
}
