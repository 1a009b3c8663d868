package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"trigger-engine-go/order"
)

// HTTPExecutor submits swaps to an external signing/execution service.
// HTTPClient is injectable so tests can use httptest.
type HTTPExecutor struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

type swapRequest struct {
	OrderID     string `json:"orderId"`
	Owner       string `json:"owner"`
	FromToken   string `json:"fromToken"`
	ToToken     string `json:"toToken"`
	Amount      string `json:"amount"`
	MaxSlippage string `json:"maxSlippagePercent"`
}

type swapResponse struct {
	Success        bool   `json:"success"`
	RealizedAmount string `json:"realizedAmount"`
	PriceAtFill    string `json:"priceAtFill"`
	Reference      string `json:"reference"`
	Reason         string `json:"reason"`
}

func (c *HTTPExecutor) Execute(ctx context.Context, o *order.Order) (Result, error) {
	if c == nil || c.HTTPClient == nil {
		return Result{}, fmt.Errorf("http client not set")
	}
	body, err := json.Marshal(swapRequest{
		OrderID:     o.ID,
		Owner:       o.Owner,
		FromToken:   o.FromToken,
		ToToken:     o.ToToken,
		Amount:      o.Amount.String(),
		MaxSlippage: o.MaxSlippagePercent.String(),
	})
	if err != nil {
		return Result{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/swap", bytes.NewReader(body))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		req.Header.Set("X-API-KEY", c.APIKey)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return Result{}, fmt.Errorf("swap status %d", resp.StatusCode)
	}

	var sr swapResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return Result{}, err
	}
	res := Result{Success: sr.Success, Reference: sr.Reference, Reason: sr.Reason}
	if sr.RealizedAmount != "" {
		if res.RealizedAmount, err = decimal.NewFromString(sr.RealizedAmount); err != nil {
			return Result{}, fmt.Errorf("bad realizedAmount %q: %w", sr.RealizedAmount, err)
		}
	}
	if sr.PriceAtFill != "" {
		if res.PriceAtFill, err = decimal.NewFromString(sr.PriceAtFill); err != nil {
			return Result{}, fmt.Errorf("bad priceAtFill %q: %w", sr.PriceAtFill, err)
		}
	}
	return res, nil
}

// NewDefaultHTTPClient returns an http.Client with a sane timeout.
func NewDefaultHTTPClient() *http.Client {
	return &http.Client{Timeout: 15 * time.Second}
}
