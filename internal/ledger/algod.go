package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/algorand/go-algorand-sdk/v2/types"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/proofmint/intermezzo/internal/apperr"
	"github.com/proofmint/intermezzo/internal/txn"
)

// Config algod 客户端配置
type Config struct {
	// BaseURL algod REST 地址，例如 http://localhost:4001
	BaseURL string

	// Token 通过 X-Algo-API-Token 头传递
	Token string

	// RateLimit 每秒请求数
	RateLimit int

	// Timeout 单次 HTTP 请求超时。需要大于节点 wait-for-block 的阻塞时间
	Timeout time.Duration

	// RetryAttempts GET 请求的重试次数。提交交易永远不重试
	RetryAttempts int

	RetryDelay time.Duration

	// ValidityWindow 交易有效期 (轮数)
	ValidityWindow uint64
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		BaseURL:        "http://localhost:4001",
		RateLimit:      20,
		Timeout:        30 * time.Second,
		RetryAttempts:  3,
		RetryDelay:     500 * time.Millisecond,
		ValidityWindow: 1000,
	}
}

// AlgodClient 基于 algod REST v2 的 Gateway 实现
type AlgodClient struct {
	cfg         *Config
	httpClient  *http.Client
	rateLimiter *rate.Limiter
	log         *zap.Logger
}

// NewAlgodClient 创建客户端
func NewAlgodClient(cfg *Config, log *zap.Logger) *AlgodClient {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = DefaultConfig().RateLimit
	}
	if cfg.ValidityWindow == 0 {
		cfg.ValidityWindow = DefaultConfig().ValidityWindow
	}
	if log == nil {
		log = zap.NewNop()
	}

	return &AlgodClient{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		rateLimiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimit),
		log:         log.Named("algod"),
	}
}

var _ Gateway = (*AlgodClient)(nil)

// Params GET /v2/transactions/params
func (c *AlgodClient) Params(ctx context.Context) (txn.Params, error) {
	var resp paramsResponse
	if err := c.getJSON(ctx, "params", "/v2/transactions/params", &resp); err != nil {
		return txn.Params{}, err
	}

	return txn.Params{
		FeePerUnit:  resp.Fee,
		MinFee:      resp.MinFee,
		FirstValid:  resp.LastRound,
		LastValid:   resp.LastRound + c.cfg.ValidityWindow,
		GenesisID:   resp.GenesisID,
		GenesisHash: resp.GenesisHash,
	}, nil
}

// Account GET /v2/accounts/{addr}?exclude=all
// 只返回余额与最低余额，资产持有情况通过 AssetHolding 单独查询
func (c *AlgodClient) Account(ctx context.Context, addr types.Address) (AccountSnapshot, error) {
	var resp accountResponse
	path := "/v2/accounts/" + addr.String() + "?exclude=all"
	if err := c.getJSON(ctx, "account", path, &resp); err != nil {
		return AccountSnapshot{}, err
	}

	snap := AccountSnapshot{
		Address:    addr,
		Balance:    resp.Amount,
		MinBalance: resp.MinBalance,
		Assets:     make(map[uint64]uint64, len(resp.Assets)),
	}
	for _, h := range resp.Assets {
		snap.Assets[h.AssetID] = h.Amount
	}
	return snap, nil
}

// AssetHolding GET /v2/accounts/{addr}/assets/{id}，404 表示未 opt-in
func (c *AlgodClient) AssetHolding(ctx context.Context, addr types.Address, assetID uint64) (uint64, bool, error) {
	var resp accountAssetResponse
	path := fmt.Sprintf("/v2/accounts/%s/assets/%d", addr.String(), assetID)
	err := c.getJSON(ctx, "asset holding", path, &resp)
	if err != nil {
		var lerr *apperr.LedgerUnavailableError
		if errors.As(err, &lerr) && lerr.Status == http.StatusNotFound {
			return 0, false, nil
		}
		return 0, false, err
	}
	if resp.AssetHolding == nil {
		return 0, false, nil
	}
	return resp.AssetHolding.Amount, true, nil
}

// Submit POST /v2/transactions
func (c *AlgodClient) Submit(ctx context.Context, signed []byte) (string, error) {
	body, err := c.doRequest(ctx, "submit", http.MethodPost, "/v2/transactions", signed, false)
	if err != nil {
		return "", err
	}

	var resp submitResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", &apperr.LedgerUnavailableError{Op: "submit", Err: fmt.Errorf("解析响应失败: %w", err)}
	}
	return resp.TxID, nil
}

// PendingStatus GET /v2/transactions/pending/{txid}
func (c *AlgodClient) PendingStatus(ctx context.Context, txID string) (PendingStatus, error) {
	var resp pendingResponse
	if err := c.getJSON(ctx, "pending", "/v2/transactions/pending/"+url.PathEscape(txID)+"?format=json", &resp); err != nil {
		return PendingStatus{}, err
	}
	return PendingStatus{
		ConfirmedRound: resp.ConfirmedRound,
		PoolError:      resp.PoolError,
		AssetIndex:     resp.AssetIndex,
	}, nil
}

// Status GET /v2/status
func (c *AlgodClient) Status(ctx context.Context) (NodeStatus, error) {
	var resp statusResponse
	if err := c.getJSON(ctx, "status", "/v2/status", &resp); err != nil {
		return NodeStatus{}, err
	}
	return NodeStatus{LastRound: resp.LastRound}, nil
}

// WaitForRound GET /v2/status/wait-for-block-after/{round}
func (c *AlgodClient) WaitForRound(ctx context.Context, round uint64) (NodeStatus, error) {
	var resp statusResponse
	if err := c.getJSON(ctx, "wait for round", fmt.Sprintf("/v2/status/wait-for-block-after/%d", round), &resp); err != nil {
		return NodeStatus{}, err
	}
	return NodeStatus{LastRound: resp.LastRound}, nil
}

func (c *AlgodClient) getJSON(ctx context.Context, op, path string, out any) error {
	body, err := c.doRequest(ctx, op, http.MethodGet, path, nil, true)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &apperr.LedgerUnavailableError{Op: op, Err: fmt.Errorf("解析响应失败: %w", err)}
	}
	return nil
}

// doRequest 带限流和重试的 HTTP 请求。
// 失败统一返回 *apperr.LedgerUnavailableError 并保留上游状态码
func (c *AlgodClient) doRequest(ctx context.Context, op, method, path string, body []byte, retry bool) ([]byte, error) {
	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + path

	attempts := 0
	if retry {
		attempts = c.cfg.RetryAttempts
	}

	var lastErr *apperr.LedgerUnavailableError
	for attempt := 0; attempt <= attempts; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, c.cfg.RetryDelay*time.Duration(attempt)); err != nil {
				return nil, &apperr.LedgerUnavailableError{Op: op, Err: err}
			}
		}

		if err := c.rateLimiter.Wait(ctx); err != nil {
			return nil, &apperr.LedgerUnavailableError{Op: op, Err: fmt.Errorf("rate limiter error: %w", err)}
		}

		var reqBody io.Reader
		if body != nil {
			reqBody = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
		if err != nil {
			return nil, &apperr.LedgerUnavailableError{Op: op, Err: fmt.Errorf("failed to create request: %w", err)}
		}
		if c.cfg.Token != "" {
			req.Header.Set("X-Algo-API-Token", c.cfg.Token)
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/x-binary")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = &apperr.LedgerUnavailableError{Op: op, Err: fmt.Errorf("HTTP request failed: %w", err)}
			if ctx.Err() != nil {
				return nil, lastErr
			}
			c.log.Debug("algod 请求失败", zap.String("op", op), zap.Int("attempt", attempt), zap.Error(err))
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = &apperr.LedgerUnavailableError{Op: op, Status: resp.StatusCode, Err: fmt.Errorf("failed to read response body: %w", err)}
			continue
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return respBody, nil
		}

		lastErr = &apperr.LedgerUnavailableError{Op: op, Status: resp.StatusCode, Err: errors.New(errorMessage(respBody))}
		switch {
		case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode >= 500:
			c.log.Debug("algod 返回可重试状态", zap.String("op", op), zap.Int("status", resp.StatusCode))
			continue
		default:
			return nil, lastErr
		}
	}

	return nil, lastErr
}

func errorMessage(body []byte) string {
	var e errorResponse
	if err := json.Unmarshal(body, &e); err == nil && e.Message != "" {
		return e.Message
	}
	return strings.TrimSpace(string(body))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
