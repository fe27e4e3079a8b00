package flow

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Signer produces an envelope signature for the given key index. Key
// material management stays outside this package.
type Signer interface {
	Sign(ctx context.Context, message []byte, keyIndex int) ([]byte, error)
}

// Config describes how to construct an access-node client.
type Config struct {
	Name         string
	AccessURL    string
	Signer       Signer
	HTTPTimeout  time.Duration
	PollInterval time.Duration
}

// AccessClient implements the Client interface against the access-node
// REST API. Status subscriptions are surfaced as a push-style stream; the
// client feeds them by polling the transaction result endpoint.
type AccessClient struct {
	name         string
	base         *url.URL
	httpClient   *http.Client
	signer       Signer
	pollInterval time.Duration
}

// NewAccessClient validates the configuration and returns a ready client.
func NewAccessClient(cfg Config) (*AccessClient, error) {
	raw := strings.TrimSpace(cfg.AccessURL)
	if raw == "" {
		return nil, errors.New("未配置 access 节点地址")
	}
	base, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("解析 access 节点地址失败: %w", err)
	}
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = 2 * time.Second
	}
	return &AccessClient{
		name:         cfg.Name,
		base:         base,
		httpClient:   &http.Client{Timeout: timeout},
		signer:       cfg.Signer,
		pollInterval: poll,
	}, nil
}

// Close releases the underlying HTTP connections.
func (c *AccessClient) Close() {
	if c != nil && c.httpClient != nil {
		c.httpClient.CloseIdleConnections()
	}
}

type accountKeyPayload struct {
	Index          string `json:"index"`
	Weight         string `json:"weight"`
	Revoked        bool   `json:"revoked"`
	SequenceNumber string `json:"sequence_number"`
}

type accountPayload struct {
	Address string              `json:"address"`
	Balance string              `json:"balance"`
	Keys    []accountKeyPayload `json:"keys"`
}

// GetAccount fetches the account together with its registered keys.
func (c *AccessClient) GetAccount(ctx context.Context, address string) (*Account, error) {
	var payload accountPayload
	path := fmt.Sprintf("/v1/accounts/%s?expand=keys", strings.TrimPrefix(address, "0x"))
	if err := c.get(ctx, path, &payload); err != nil {
		return nil, err
	}
	account := &Account{Address: "0x" + strings.TrimPrefix(payload.Address, "0x")}
	if payload.Balance != "" {
		if v, err := strconv.ParseUint(payload.Balance, 10, 64); err == nil {
			account.Balance = v
		}
	}
	for _, key := range payload.Keys {
		index, _ := strconv.Atoi(key.Index)
		weight, _ := strconv.Atoi(key.Weight)
		account.Keys = append(account.Keys, AccountKey{
			Index:   index,
			Weight:  weight,
			Revoked: key.Revoked,
		})
	}
	return account, nil
}

// ExecuteScript runs a read-only script at the latest sealed block.
func (c *AccessClient) ExecuteScript(ctx context.Context, script string, args []Value) (json.RawMessage, error) {
	encodedArgs, err := EncodeArguments(args)
	if err != nil {
		return nil, err
	}
	body := map[string]any{
		"script":    base64.StdEncoding.EncodeToString([]byte(script)),
		"arguments": encodedArgs,
	}
	var encoded string
	if err := c.post(ctx, "/v1/scripts?block_height=sealed", body, &encoded); err != nil {
		return nil, err
	}
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("解码脚本返回值失败: %w", err)
	}
	return json.RawMessage(decoded), nil
}

// SendTransaction builds, signs and submits an envelope carrying a single
// proposal/payer/authorizer key and returns the assigned transaction id.
func (c *AccessClient) SendTransaction(ctx context.Context, script string, args []Value, authz Authorization) (string, error) {
	if c.signer == nil {
		return "", errors.New("未配置交易签名器")
	}
	address := strings.TrimPrefix(authz.Address, "0x")
	sequence, err := c.keySequenceNumber(ctx, address, authz.KeyIndex)
	if err != nil {
		return "", err
	}
	block, err := c.latestBlockID(ctx)
	if err != nil {
		return "", err
	}
	encodedArgs, err := EncodeArguments(args)
	if err != nil {
		return "", err
	}

	message := envelopeMessage(script, encodedArgs, address, authz.KeyIndex, sequence, block)
	signature, err := c.signer.Sign(ctx, message, authz.KeyIndex)
	if err != nil {
		return "", fmt.Errorf("签名交易失败: %w", err)
	}

	body := map[string]any{
		"script":    base64.StdEncoding.EncodeToString([]byte(script)),
		"arguments": encodedArgs,
		"reference_block_id": block,
		"gas_limit":          "9999",
		"payer":              address,
		"proposal_key": map[string]any{
			"address":         address,
			"key_index":       strconv.Itoa(authz.KeyIndex),
			"sequence_number": strconv.FormatUint(sequence, 10),
		},
		"authorizers": []string{address},
		"envelope_signatures": []map[string]any{{
			"address":   address,
			"key_index": strconv.Itoa(authz.KeyIndex),
			"signature": base64.StdEncoding.EncodeToString(signature),
		}},
	}

	var resp struct {
		ID string `json:"id"`
	}
	if err := c.post(ctx, "/v1/transactions", body, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", errors.New("access 节点未返回交易 ID")
	}
	return resp.ID, nil
}

type txResultPayload struct {
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message"`
	Events       []struct {
		Type    string `json:"type"`
		Payload string `json:"payload"`
	} `json:"events"`
}

// SubscribeTxStatus opens a status stream for the given transaction. Each
// distinct status is delivered at most once and in network order; the
// stream closes after a terminal status.
func (c *AccessClient) SubscribeTxStatus(ctx context.Context, txID string) (*TxSubscription, error) {
	if strings.TrimSpace(txID) == "" {
		return nil, errors.New("交易 ID 不能为空")
	}
	streamCtx, cancel := context.WithCancel(ctx)
	statuses := make(chan TxStatus, 8)

	go func() {
		defer close(statuses)
		ticker := time.NewTicker(c.pollInterval)
		defer ticker.Stop()

		lastCode := StatusUnknown
		for {
			select {
			case <-streamCtx.Done():
				return
			case <-ticker.C:
			}

			var payload txResultPayload
			if err := c.get(streamCtx, "/v1/transaction_results/"+txID, &payload); err != nil {
				if streamCtx.Err() != nil {
					return
				}
				continue
			}
			status := payload.toStatus()
			if status.Code == lastCode && status.ErrorMessage == "" {
				continue
			}
			lastCode = status.Code

			select {
			case <-streamCtx.Done():
				return
			case statuses <- status:
			}
			if status.ErrorMessage != "" || status.Code == StatusSealed || status.Code == StatusExpired {
				return
			}
		}
	}()

	return NewTxSubscription(statuses, cancel), nil
}

func (p txResultPayload) toStatus() TxStatus {
	status := TxStatus{ErrorMessage: p.ErrorMessage}
	switch strings.ToUpper(p.Status) {
	case "PENDING":
		status.Code = StatusPending
	case "FINALIZED":
		status.Code = StatusFinalized
	case "EXECUTED":
		status.Code = StatusExecuted
	case "SEALED":
		status.Code = StatusSealed
	case "EXPIRED":
		status.Code = StatusExpired
	}
	for _, raw := range p.Events {
		event := Event{Type: raw.Type, Values: map[string]string{}}
		if decoded, err := base64.StdEncoding.DecodeString(raw.Payload); err == nil {
			event.Values = flattenEventPayload(decoded)
		}
		status.Events = append(status.Events, event)
	}
	return status
}

// flattenEventPayload pulls the field/value pairs out of a JSON-CDC event
// payload, keeping only scalar values.
func flattenEventPayload(payload []byte) map[string]string {
	var doc struct {
		Value struct {
			Fields []struct {
				Name  string `json:"name"`
				Value struct {
					Value any `json:"value"`
				} `json:"value"`
			} `json:"fields"`
		} `json:"value"`
	}
	values := map[string]string{}
	if err := json.Unmarshal(payload, &doc); err != nil {
		return values
	}
	for _, field := range doc.Value.Fields {
		switch v := field.Value.Value.(type) {
		case string:
			values[field.Name] = v
		case float64:
			values[field.Name] = strconv.FormatFloat(v, 'f', -1, 64)
		case bool:
			values[field.Name] = strconv.FormatBool(v)
		}
	}
	return values
}

func (c *AccessClient) keySequenceNumber(ctx context.Context, address string, keyIndex int) (uint64, error) {
	var payload accountPayload
	path := fmt.Sprintf("/v1/accounts/%s?expand=keys", address)
	if err := c.get(ctx, path, &payload); err != nil {
		return 0, err
	}
	for _, key := range payload.Keys {
		index, _ := strconv.Atoi(key.Index)
		if index != keyIndex {
			continue
		}
		seq, err := strconv.ParseUint(key.SequenceNumber, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("解析 key %d 的序列号失败: %w", keyIndex, err)
		}
		return seq, nil
	}
	return 0, fmt.Errorf("账户 %s 上不存在 key %d", address, keyIndex)
}

func (c *AccessClient) latestBlockID(ctx context.Context) (string, error) {
	var payload []struct {
		Header struct {
			ID string `json:"id"`
		} `json:"header"`
	}
	if err := c.get(ctx, "/v1/blocks?height=sealed", &payload); err != nil {
		return "", err
	}
	if len(payload) == 0 || payload[0].Header.ID == "" {
		return "", errors.New("access 节点未返回最新区块")
	}
	return payload[0].Header.ID, nil
}

// envelopeMessage builds the canonical byte message covered by the
// envelope signature.
func envelopeMessage(script string, args []string, address string, keyIndex int, sequence uint64, blockID string) []byte {
	var buf bytes.Buffer
	buf.WriteString(blockID)
	buf.WriteString("|")
	buf.WriteString(address)
	buf.WriteString("|")
	buf.WriteString(strconv.Itoa(keyIndex))
	buf.WriteString("|")
	buf.WriteString(strconv.FormatUint(sequence, 10))
	buf.WriteString("|")
	buf.WriteString(base64.StdEncoding.EncodeToString([]byte(script)))
	for _, arg := range args {
		buf.WriteString("|")
		buf.WriteString(arg)
	}
	return buf.Bytes()
}

func (c *AccessClient) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.resolve(path), nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *AccessClient) post(ctx context.Context, path string, body any, out any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("编码请求体失败: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.resolve(path), bytes.NewReader(encoded))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *AccessClient) resolve(path string) string {
	ref, err := url.Parse(path)
	if err != nil {
		return c.base.String() + path
	}
	return c.base.ResolveReference(ref).String()
}

func (c *AccessClient) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("请求 access 节点失败: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("读取 access 节点响应失败: %w", err)
	}
	if resp.StatusCode >= 400 {
		var apiErr struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Message != "" {
			return fmt.Errorf("access 节点返回错误 (%d): %s", resp.StatusCode, apiErr.Message)
		}
		return fmt.Errorf("access 节点返回错误 (%d)", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("解析 access 节点响应失败: %w", err)
	}
	return nil
}

var _ Client = (*AccessClient)(nil)
