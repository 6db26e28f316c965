// Package payment предоставляет клиент платёжного провайдера.
package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// IntentStatusSucceeded — статус подтверждённого платёжного интента.
const IntentStatusSucceeded = "succeeded"

// Intent описывает платёжный интент провайдера.
type Intent struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret,omitempty"`
	Status       string `json:"status"`
	AmountCents  int64  `json:"amount"`
	Currency     string `json:"currency"`
}

// Client инкапсулирует HTTP-взаимодействие с платёжным провайдером.
// Сетевые сбои ретраятся, но каждый вызов ограничен общим таймаутом:
// оформление заказа не должно висеть на внешнем провайдере.
type Client struct {
	baseURL    string
	secretKey  string
	httpClient *http.Client
}

// NewClient создаёт клиент платёжного провайдера с указанным адресом и
// секретным ключом.
func NewClient(baseURL, secretKey string) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 2
	rc.RetryWaitMin = 100 * time.Millisecond
	rc.RetryWaitMax = 1 * time.Second
	rc.HTTPClient.Timeout = 5 * time.Second
	rc.Logger = nil

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		secretKey:  secretKey,
		httpClient: rc.StandardClient(),
	}
}

// CreateIntent создаёт платёжный интент на указанную сумму в минорных
// единицах валюты.
func (c *Client) CreateIntent(ctx context.Context, amountCents int64, currency string, userID int64) (*Intent, error) {
	if c == nil || c.baseURL == "" {
		return nil, fmt.Errorf("payment client not configured")
	}

	form := url.Values{}
	form.Set("amount", strconv.FormatInt(amountCents, 10))
	form.Set("currency", strings.ToLower(currency))
	form.Set("metadata[user_id]", strconv.FormatInt(userID, 10))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/payment_intents", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+c.secretKey)

	return c.doIntent(req)
}

// GetIntent запрашивает текущее состояние платёжного интента по идентификатору.
func (c *Client) GetIntent(ctx context.Context, intentID string) (*Intent, error) {
	if c == nil || c.baseURL == "" {
		return nil, fmt.Errorf("payment client not configured")
	}
	if intentID == "" {
		return nil, fmt.Errorf("empty payment intent id")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/v1/payment_intents/"+url.PathEscape(intentID), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)

	return c.doIntent(req)
}

func (c *Client) doIntent(req *http.Request) (*Intent, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var intent Intent
	if err := json.NewDecoder(resp.Body).Decode(&intent); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	return &intent, nil
}
