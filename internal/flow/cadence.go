package flow

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Value is one script or transaction argument in JSON-CDC form.
type Value struct {
	Type  string `json:"type"`
	Value any    `json:"value"`
}

// Address builds an Address argument, normalising the 0x prefix.
func Address(addr string) Value {
	addr = strings.TrimSpace(addr)
	if addr != "" && !strings.HasPrefix(addr, "0x") {
		addr = "0x" + addr
	}
	return Value{Type: "Address", Value: addr}
}

// String builds a String argument.
func String(s string) Value {
	return Value{Type: "String", Value: s}
}

// Bool builds a Bool argument.
func Bool(b bool) Value {
	return Value{Type: "Bool", Value: b}
}

// UFix64 builds a UFix64 argument. The access API requires a decimal point,
// so integral amounts are rendered with a trailing ".0".
func UFix64(amount float64) Value {
	return Value{Type: "UFix64", Value: strconv.FormatFloat(amount, 'f', 8, 64)}
}

// UInt256 builds a UInt256 argument from a plain base-10 string.
func UInt256(v string) Value {
	return Value{Type: "UInt256", Value: v}
}

// UInt64 builds a UInt64 argument.
func UInt64(v uint64) Value {
	return Value{Type: "UInt64", Value: strconv.FormatUint(v, 10)}
}

// Optional wraps another value; pass nil for Cadence nil.
func Optional(inner *Value) Value {
	if inner == nil {
		return Value{Type: "Optional", Value: nil}
	}
	return Value{Type: "Optional", Value: *inner}
}

// OptionalString is a shorthand for the common Optional(String) case.
func OptionalString(s string) Value {
	if strings.TrimSpace(s) == "" {
		return Optional(nil)
	}
	v := String(s)
	return Optional(&v)
}

// OptionalUFix64 is a shorthand for Optional(UFix64); negative means nil.
func OptionalUFix64(amount float64) Value {
	if amount < 0 {
		return Optional(nil)
	}
	v := UFix64(amount)
	return Optional(&v)
}

// EncodeArguments renders each argument as the base64 JSON-CDC string the
// access API expects.
func EncodeArguments(args []Value) ([]string, error) {
	encoded := make([]string, 0, len(args))
	for _, arg := range args {
		raw, err := json.Marshal(arg)
		if err != nil {
			return nil, fmt.Errorf("编码 Cadence 参数失败: %w", err)
		}
		encoded = append(encoded, base64.StdEncoding.EncodeToString(raw))
	}
	return encoded, nil
}

var (
	cadenceIdentifierPattern = regexp.MustCompile(`^A\.[0-9a-fA-F]{16}\.[A-Za-z_][A-Za-z0-9_]*$`)
	evmAddressPattern        = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)
	flowAddressPattern       = regexp.MustCompile(`^(0x)?[0-9a-fA-F]{16}$`)
)

// IsCadenceIdentifier reports whether s looks like "A.<address>.<Contract>".
func IsCadenceIdentifier(s string) bool {
	return cadenceIdentifierPattern.MatchString(strings.TrimSpace(s))
}

// IsEVMAddress reports whether s is a 20-byte hex address.
func IsEVMAddress(s string) bool {
	return evmAddressPattern.MatchString(strings.TrimSpace(s))
}

// IsFlowAddress reports whether s is an 8-byte ledger address.
func IsFlowAddress(s string) bool {
	return flowAddressPattern.MatchString(strings.TrimSpace(s))
}

// SplitCadenceIdentifier returns the address and contract name parts of a
// Cadence resource identifier.
func SplitCadenceIdentifier(s string) (address, contract string, ok bool) {
	if !IsCadenceIdentifier(s) {
		return "", "", false
	}
	parts := strings.SplitN(strings.TrimSpace(s), ".", 3)
	return "0x" + parts[1], parts[2], true
}
