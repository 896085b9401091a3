package lendflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"time"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client. It is intentionally short to avoid hanging network calls.
const DefaultHTTPTimeout = 15 * time.Second

// Client wraps the HTTP interactions with the LendFlow REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	token      string
}

// Intent 描述一次待执行的金融操作。
type Intent struct {
	Kind          string `json:"kind"`
	Symbol        string `json:"symbol,omitempty"`
	Amount        string `json:"amount,omitempty"`
	RateMode      int    `json:"rate_mode,omitempty"`
	PoolID        string `json:"pool_id,omitempty"`
	ClaimContract string `json:"claim_contract,omitempty"`
	ClaimCalldata string `json:"claim_calldata,omitempty"`
}

// IntentSubmission represents the payload required to create a new intent.
// ID 非空时作为幂等键，重复提交返回已有记录。
type IntentSubmission struct {
	ID     string `json:"id,omitempty"`
	Chain  string `json:"chain,omitempty"`
	Wallet string `json:"wallet,omitempty"`
	Intent Intent `json:"intent"`
}

// ExecutionResult 保存意图执行的链上结果。
type ExecutionResult struct {
	Stage       string `json:"stage"`
	TxHash      string `json:"tx_hash,omitempty"`
	Confirmed   bool   `json:"confirmed"`
	BlockNumber string `json:"block_number,omitempty"`
	GasUsed     uint64 `json:"gas_used,omitempty"`
	Skipped     bool   `json:"skipped,omitempty"`
}

// IntentRecord mirrors the server side view of a submitted intent.
type IntentRecord struct {
	ID         string           `json:"id"`
	Chain      string           `json:"chain,omitempty"`
	Kind       string           `json:"kind"`
	Symbol     string           `json:"symbol,omitempty"`
	Amount     string           `json:"amount,omitempty"`
	RateMode   int              `json:"rate_mode,omitempty"`
	PoolID     string           `json:"pool_id,omitempty"`
	Wallet     string           `json:"wallet,omitempty"`
	Status     string           `json:"status"`
	Attempts   int              `json:"attempts"`
	MaxRetries int              `json:"max_retries"`
	LastError  string           `json:"last_error,omitempty"`
	ErrorCode  string           `json:"error_code,omitempty"`
	Result     *ExecutionResult `json:"result,omitempty"`
	CreatedAt  int64            `json:"created_at"`
	UpdatedAt  int64            `json:"updated_at"`
}

// IntentStats 汇总意图的状态分布。
type IntentStats struct {
	Total           int   `json:"total"`
	Pending         int   `json:"pending"`
	Running         int   `json:"running"`
	Succeeded       int   `json:"succeeded"`
	Failed          int   `json:"failed"`
	OldestUpdatedAt int64 `json:"oldest_updated_at"`
	NewestUpdatedAt int64 `json:"newest_updated_at"`
}

// ListQuery 控制列表与统计查询的过滤条件。
type ListQuery struct {
	Status string
	Kind   string
	Wallet string
	PoolID string
	Limit  int
	Offset int
}

// APIError represents server side validation or internal errors.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("lendflow api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("lendflow api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client for the LendFlow API. token 为空时不附带
// Authorization 头，适用于未开启鉴权的服务。When httpClient is nil, a default
// client with a sensible timeout is used.
func NewClient(rawURL, token string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient, token: token}, nil
}

// SubmitIntent creates a new intent and returns its queued record.
func (c *Client) SubmitIntent(ctx context.Context, submission IntentSubmission) (IntentRecord, error) {
	var record IntentRecord
	if err := c.post(ctx, "/api/v1/intents", submission, &record); err != nil {
		return IntentRecord{}, err
	}
	return record, nil
}

// GetIntent fetches a single intent by identifier.
func (c *Client) GetIntent(ctx context.Context, intentID string) (IntentRecord, error) {
	var record IntentRecord
	if err := c.get(ctx, "/api/v1/intents/"+url.PathEscape(intentID), nil, &record); err != nil {
		return IntentRecord{}, err
	}
	return record, nil
}

// ListIntents returns intents matching the query filters.
func (c *Client) ListIntents(ctx context.Context, query ListQuery) ([]IntentRecord, error) {
	var records []IntentRecord
	if err := c.get(ctx, "/api/v1/intents", query.values(), &records); err != nil {
		return nil, err
	}
	return records, nil
}

// Stats returns aggregate counts for intents matching the query filters.
func (c *Client) Stats(ctx context.Context, query ListQuery) (IntentStats, error) {
	var stats IntentStats
	if err := c.get(ctx, "/api/v1/intents/stats", query.values(), &stats); err != nil {
		return IntentStats{}, err
	}
	return stats, nil
}

// WaitForIntent polls the intent until it reaches a terminal status or the
// context is cancelled.
func (c *Client) WaitForIntent(ctx context.Context, intentID string, interval time.Duration) (IntentRecord, error) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		record, err := c.GetIntent(ctx, intentID)
		if err != nil {
			return IntentRecord{}, err
		}
		if record.Status == "succeeded" || record.Status == "failed" {
			return record, nil
		}
		select {
		case <-ctx.Done():
			return IntentRecord{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (q ListQuery) values() url.Values {
	values := url.Values{}
	if q.Status != "" {
		values.Set("status", q.Status)
	}
	if q.Kind != "" {
		values.Set("kind", q.Kind)
	}
	if q.Wallet != "" {
		values.Set("wallet", q.Wallet)
	}
	if q.PoolID != "" {
		values.Set("pool_id", q.PoolID)
	}
	if q.Limit > 0 {
		values.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Offset > 0 {
		values.Set("offset", strconv.Itoa(q.Offset))
	}
	return values
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, nil, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, query url.Values, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, query, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, query url.Values, body io.Reader) (*http.Request, error) {
	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint)}
	u := c.baseURL.ResolveReference(rel)
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr APIError
		apiErr.StatusCode = resp.StatusCode
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			if err := json.Unmarshal(data, &struct {
				Error *APIError `json:"error"`
			}{Error: &apiErr}); err != nil {
				// try direct decode into apiErr if server returned flat payload
				_ = json.Unmarshal(data, &apiErr)
			}
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return &apiErr
	}

	if out == nil {
		return nil
	}
	decoder := json.NewDecoder(resp.Body)
	if err := decoder.Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
