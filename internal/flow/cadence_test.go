package flow

import "testing"

func TestSplitCadenceIdentifier(t *testing.T) {
	address, contract, ok := SplitCadenceIdentifier("A.1654653399040a61.FlowToken")
	if !ok {
		t.Fatal("合法标识应解析成功")
	}
	if address != "0x1654653399040a61" || contract != "FlowToken" {
		t.Fatalf("解析结果不符: %s %s", address, contract)
	}

	for _, bad := range []string{
		"",
		"FlowToken",
		"A.1654653399040a61",
		"A.xyz.FlowToken",
		"B.1654653399040a61.FlowToken",
		"A.1654653399040a61.9Token",
	} {
		if _, _, ok := SplitCadenceIdentifier(bad); ok {
			t.Fatalf("非法标识 %q 不应解析成功", bad)
		}
	}
}

func TestIdentifierPredicates(t *testing.T) {
	if !IsCadenceIdentifier("A.1654653399040a61.FlowToken") {
		t.Fatal("Cadence 标识未被识别")
	}
	if !IsEVMAddress("0x00000000000000000000000249250a5c1ecab651") {
		t.Fatal("EVM 地址未被识别")
	}
	if !IsFlowAddress("0x1654653399040a61") || !IsFlowAddress("1654653399040a61") {
		t.Fatal("Flow 地址未被识别")
	}
	if IsFlowAddress("0x00000000000000000000000249250a5c1ecab651") {
		t.Fatal("EVM 地址不应被当作 Flow 地址")
	}
}
