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

	"creditsync/internal/config"
	"creditsync/internal/credit"
	"creditsync/internal/metrics"
	"creditsync/pkg/retry"

	"github.com/go-playground/validator/v10"
)

var (
	// ErrUnavailable 远端不可达、超时或返回 5xx，余额未知，不能当作 0 处理
	ErrUnavailable = errors.New("账户服务不可用")
	// ErrInvalidPayload 远端返回的数据结构不合法
	ErrInvalidPayload = errors.New("账户服务返回数据不合法")
)

// APIError 远端返回的非 2xx 响应
type APIError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("账户服务 %s 返回 %d: %s", e.Op, e.StatusCode, e.Body)
}

// Is 5xx 视为不可用
func (e *APIError) Is(target error) bool {
	return target == ErrUnavailable && e.StatusCode >= http.StatusInternalServerError
}

// Retryable 429、502、503、504 以及网络错误可以重试
func Retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return true
		}
		return false
	}
	return errors.Is(err, ErrUnavailable)
}

// Client 远端账户服务客户端
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	policy     retry.Policy
	validate   *validator.Validate
	now        func() time.Time
}

func NewClient(cfg *config.BackendConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	policy := retry.Default(Retryable)
	if cfg.MaxAttempts > 0 {
		policy.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.RetryBaseDelay > 0 {
		policy.BaseDelay = cfg.RetryBaseDelay
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
		policy:     policy,
		validate:   validator.New(),
		now:        time.Now,
	}
}

// ============================================================
// 钱包
// ============================================================

type walletResponse struct {
	PointRemain      *int64         `json:"point_remain" validate:"required,gte=0"`
	PointFrozen      *int64         `json:"point_frozen" validate:"required,gte=0"`
	PointUsed        *int64         `json:"point_used" validate:"required,gte=0"`
	AvailableCredits *int64         `json:"available_credits" validate:"omitempty,gte=0"`
	CreditPacks      []creditPackVO `json:"credit_packs" validate:"dive"`
}

type creditPackVO struct {
	ID          int64      `json:"id"`
	Capacity    *int64     `json:"capacity" validate:"required,gte=0"`
	Used        *int64     `json:"used" validate:"required,gte=0"`
	Frozen      *int64     `json:"frozen" validate:"required,gte=0"`
	Active      *bool      `json:"active" validate:"required"`
	ExpiredAt   *time.Time `json:"expired_at"`
	Description string     `json:"description"`
}

// AccountWallet 远端账户的钱包与额度包
type AccountWallet struct {
	AccountID int64
	Wallet    credit.Wallet
	Packs     []credit.CreditPack
}

// Balance 换算为归一化余额
func (w *AccountWallet) Balance(now time.Time) credit.BalanceInfo {
	return credit.Calculate(w.Wallet, w.Packs, now)
}

// GetWallet 查询账户钱包
// GET /accounts/{id}/wallet
func (c *Client) GetWallet(ctx context.Context, accountID int64) (*AccountWallet, error) {
	var resp walletResponse
	path := fmt.Sprintf("/accounts/%d/wallet", accountID)
	if err := c.do(ctx, "get_wallet", http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}

	if err := c.validate.Struct(&resp); err != nil {
		metrics.BackendRequests.WithLabelValues("get_wallet", "invalid").Inc()
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	w := &AccountWallet{
		AccountID: accountID,
		Wallet: credit.Wallet{
			PointRemain:      *resp.PointRemain,
			PointFrozen:      *resp.PointFrozen,
			PointUsed:        *resp.PointUsed,
			AvailableCredits: resp.AvailableCredits,
		},
		Packs: make([]credit.CreditPack, 0, len(resp.CreditPacks)),
	}
	for _, p := range resp.CreditPacks {
		pack := credit.CreditPack{
			ID:          p.ID,
			Capacity:    *p.Capacity,
			Used:        *p.Used,
			Frozen:      *p.Frozen,
			Active:      *p.Active,
			Description: p.Description,
		}
		if p.ExpiredAt != nil {
			pack.ExpiredAt = *p.ExpiredAt
		}
		w.Packs = append(w.Packs, pack)
	}
	return w, nil
}

// UpdatePlan 修改账户套餐，plan 必须是远端套餐名
// POST /accounts/{id}/plan
func (c *Client) UpdatePlan(ctx context.Context, accountID int64, plan string) error {
	body := map[string]interface{}{"plan": plan}
	return c.do(ctx, "update_plan", http.MethodPost, fmt.Sprintf("/accounts/%d/plan", accountID), body, nil)
}

// CreateCreditPack 为账户创建额度包
// POST /accounts/{id}/credit-packs
func (c *Client) CreateCreditPack(ctx context.Context, accountID int64, capacity int64, description, packType string) error {
	body := map[string]interface{}{
		"capacity":    capacity,
		"description": description,
		"type":        packType,
	}
	return c.do(ctx, "create_credit_pack", http.MethodPost, fmt.Sprintf("/accounts/%d/credit-packs", accountID), body, nil)
}

// UpdateCredits 调整账户积分
// POST /accounts/{id}/credits
func (c *Client) UpdateCredits(ctx context.Context, accountID int64, amount int64, description string) error {
	body := map[string]interface{}{
		"amount":      amount,
		"description": description,
	}
	return c.do(ctx, "update_credits", http.MethodPost, fmt.Sprintf("/accounts/%d/credits", accountID), body, nil)
}

func (c *Client) do(ctx context.Context, op, method, path string, body interface{}, out interface{}) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("序列化请求失败: %w", err)
		}
	}

	start := c.now()
	err := c.policy.Do(ctx, func(ctx context.Context) error {
		return c.once(ctx, op, method, path, payload, out)
	})
	metrics.BackendLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())

	switch {
	case err == nil:
		metrics.BackendRequests.WithLabelValues(op, "ok").Inc()
	case errors.Is(err, ErrUnavailable):
		metrics.BackendRequests.WithLabelValues(op, "unavailable").Inc()
	default:
		metrics.BackendRequests.WithLabelValues(op, "rejected").Inc()
	}
	return err
}

func (c *Client) once(ctx context.Context, op, method, path string, payload []byte, out interface{}) error {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("创建请求失败: %w", err)
	}
	req.Header.Set("X-API-Key", c.apiKey)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: 读取响应失败: %v", ErrUnavailable, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{Op: op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}
