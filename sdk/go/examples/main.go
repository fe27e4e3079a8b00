// 演示如何通过 Go SDK 提交转账操作并等待其完成。
// 示例内置一个模拟服务端，便于在无真实部署时运行。
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/http/httptest"
	"time"

	"FlowGate/sdk/go/flowgate"
)

func main() {
	server := newMockServer()
	defer server.Close()

	client, err := flowgate.NewClient(server.URL, server.Client())
	if err != nil {
		log.Fatalf("创建客户端失败: %v", err)
	}
	client.SetAccessToken("demo-token")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	submitted, err := client.SubmitOperation(ctx, flowgate.OperationSubmission{
		Kind:   "transfer",
		UserID: "demo-user",
		Payload: json.RawMessage(`{
            "recipient": "0x1654653399040a61",
            "amount": "1.5"
        }`),
	})
	if err != nil {
		log.Fatalf("提交操作失败: %v", err)
	}
	fmt.Printf("operation %s submitted, status=%s\n", submitted.ID, submitted.Status)

	operation, err := client.WaitForOperation(ctx, submitted.ID, 200*time.Millisecond)
	if err != nil {
		log.Fatalf("等待操作完成失败: %v", err)
	}
	fmt.Printf("operation %s finished, status=%s\n", operation.ID, operation.Status)
	if operation.Result != nil {
		fmt.Printf("tx=%s summary=%s\n", operation.Result.TxID, operation.Result.Summary)
	}

	balance, err := client.GetBalance(ctx, "demo-user")
	if err != nil {
		log.Fatalf("查询余额失败: %v", err)
	}
	fmt.Printf("balance of %s: %s FLOW (coa %s)\n", balance.Address, balance.Balance, balance.CoaBalance)
}

func newMockServer() *httptest.Server {
	var polls int
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/operations", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(flowgate.Operation{ID: "op-demo", Kind: "transfer", Status: "pending"})
	})
	mux.HandleFunc("/api/v1/operations/op-demo", func(w http.ResponseWriter, r *http.Request) {
		polls++
		operation := flowgate.Operation{ID: "op-demo", Kind: "transfer", Status: "running"}
		if polls >= 2 {
			operation.Status = "succeeded"
			operation.Result = &flowgate.OperationResult{
				TxID:    "9c5f0a3c7b1d4e2f",
				Summary: "transferred 1.5 to 0x1654653399040a61",
			}
		}
		_ = json.NewEncoder(w).Encode(operation)
	})
	mux.HandleFunc("/api/v1/accounts/demo-user", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(flowgate.BalanceInfo{
			UserID:     "demo-user",
			Address:    "0xf8d6e0586b0a20c7",
			Balance:    "10.5",
			CoaBalance: "0.25",
		})
	})
	return httptest.NewServer(mux)
}
