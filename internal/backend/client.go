package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	xerrors "LendFlow-Chain/internal/errors"
	"LendFlow-Chain/internal/retry"
)

const (
	defaultTimeout      = 15 * time.Second
	validateEndpoint    = "/defi/validate-transaction/"
	graphqlEndpoint     = "/graphql/"
	recordStakeMutation = `mutation RecordStake($poolId: String!, $chainId: Int!, $wallet: String!, $txHash: String!, $amount: String!) {
  recordStakeTransaction(poolId: $poolId, chainId: $chainId, wallet: $wallet, txHash: $txHash, amount: $amount) {
    success
    message
  }
}`
)

// CodeBackendUnavailable 表示后端服务在重试耗尽后仍不可达。
const CodeBackendUnavailable xerrors.Code = "BACKEND_UNAVAILABLE"

func init() {
	xerrors.Register(CodeBackendUnavailable, xerrors.Attributes{
		Message:   "backend unavailable",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
		Alert:     true,
	})
}

// HTTPError 携带非 2xx 响应的状态码，供重试策略分类。
type HTTPError struct {
	Status int
	Body   string
}

// Error 实现 error 接口。
func (e *HTTPError) Error() string {
	return fmt.Sprintf("后端返回错误状态 %d: %s", e.Status, e.Body)
}

// HTTPStatus 实现 retry.StatusCarrier。
func (e *HTTPError) HTTPStatus() int {
	return e.Status
}

// ValidationRequest 描述一次风控预校验请求。
type ValidationRequest struct {
	Type          string         `json:"type"`
	Data          map[string]any `json:"data"`
	WalletAddress string         `json:"wallet_address"`
}

// Verdict 是风控引擎的校验结论。isValid=false 属于业务拒绝，不重试。
type Verdict struct {
	IsValid bool   `json:"isValid"`
	Reason  string `json:"reason,omitempty"`
}

// LedgerRecord 描述一条写入后端台账的交易记录。
type LedgerRecord struct {
	PoolID  string
	ChainID int64
	Wallet  string
	TxHash  string
	Amount  string
	Action  string
}

// LedgerAck 是台账记录成功后的回执。
type LedgerAck struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Config 描述后端客户端的连接参数。
type Config struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	BaseDelay  time.Duration
	MaxRetries int
}

// Client 通过 HTTP 调用后端的风控校验与台账记录接口。
// 两类调用共用同一套重试策略。
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	baseDelay  time.Duration
	maxRetries int
}

// NewClient 根据配置创建后端客户端。
func NewClient(cfg Config) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("未配置后端服务地址")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL:    baseURL,
		apiKey:     strings.TrimSpace(cfg.APIKey),
		httpClient: &http.Client{Timeout: timeout},
		baseDelay:  cfg.BaseDelay,
		maxRetries: cfg.MaxRetries,
	}, nil
}

// ValidateTransaction 调用风控预校验接口。返回的 Verdict 即使 isValid=false
// 也不是 error：业务拒绝由上层流水线处理。
func (c *Client) ValidateTransaction(ctx context.Context, req ValidationRequest) (Verdict, error) {
	if c == nil {
		return Verdict{}, xerrors.New(xerrors.CodeInitializationFailure, "后端客户端未初始化")
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return Verdict{}, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码校验请求失败")
	}

	var verdict Verdict
	opts := retry.Options{MaxRetries: c.maxRetries, BaseDelay: c.baseDelay}
	err = retry.Do(ctx, opts, func(ctx context.Context) error {
		return c.postJSON(ctx, validateEndpoint, payload, &verdict)
	})
	if err != nil {
		return Verdict{}, wrapTransport(err, "风控服务不可达")
	}
	return verdict, nil
}

// RecordTransaction 通过 GraphQL mutation 写入台账。该写操作以 txHash 为幂等键，
// 因此显式允许重试。
func (c *Client) RecordTransaction(ctx context.Context, record LedgerRecord) (*LedgerAck, error) {
	if c == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "后端客户端未初始化")
	}
	body := map[string]any{
		"query": recordStakeMutation,
		"variables": map[string]any{
			"poolId":  record.PoolID,
			"chainId": record.ChainID,
			"wallet":  record.Wallet,
			"txHash":  record.TxHash,
			"amount":  record.Amount,
		},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码台账请求失败")
	}

	var decoded struct {
		Data struct {
			RecordStakeTransaction *LedgerAck `json:"recordStakeTransaction"`
		} `json:"data"`
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}

	opts := retry.Options{
		MaxRetries:    c.maxRetries,
		BaseDelay:     c.baseDelay,
		IsMutation:    true,
		RetryMutation: true,
	}
	err = retry.Do(ctx, opts, func(ctx context.Context) error {
		decoded.Errors = nil
		return c.postJSON(ctx, graphqlEndpoint, payload, &decoded)
	})
	if err != nil {
		return nil, wrapTransport(err, "台账服务不可达")
	}
	if len(decoded.Errors) > 0 {
		return nil, xerrors.New(xerrors.CodeBusinessRejected, decoded.Errors[0].Message)
	}
	if decoded.Data.RecordStakeTransaction == nil {
		return nil, xerrors.New(xerrors.CodeBusinessRejected, "台账响应缺少 recordStakeTransaction 字段")
	}
	return decoded.Data.RecordStakeTransaction, nil
}

// wrapTransport 把重试耗尽后的纯传输错误归入 BACKEND_UNAVAILABLE。
// 携带 HTTP 状态或已有错误码的错误原样返回，保留分类信息。
func wrapTransport(err error, message string) error {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return err
	}
	if _, ok := xerrors.From(err); ok {
		return err
	}
	return xerrors.Wrap(CodeBackendUnavailable, err, message)
}

// postJSON 发送请求并解析响应。非 2xx 状态统一转换为 *HTTPError。
func (c *Client) postJSON(ctx context.Context, endpoint string, payload []byte, out any) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(payload))
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "构建后端请求失败")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &HTTPError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return xerrors.Wrap(xerrors.CodeTransportFailure, err, "解析后端响应失败")
	}
	return nil
}
