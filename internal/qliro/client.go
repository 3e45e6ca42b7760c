// Package qliro предоставляет клиент административного API Qliro
// для повторной сверки статуса заказа.
package qliro

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/shopspring/decimal"
)

// ErrOrderNotFound возвращается, если Qliro не знает заказ с указанным номером.
var ErrOrderNotFound = errors.New("qliro order not found")

// Client инкапсулирует HTTP-взаимодействие с административным API Qliro.
type Client struct {
	baseURL    string
	apiKey     string
	apiSecret  string
	httpClient *retryablehttp.Client
}

// Transaction описывает платёжную транзакцию заказа Qliro.
type Transaction struct {
	PaymentTransactionID int64           `json:"PaymentTransactionId"`
	Type                 string          `json:"Type"`
	Status               string          `json:"Status"`
	Amount               decimal.Decimal `json:"Amount"`
}

// Order описывает ответ Qliro по одному заказу.
type Order struct {
	OrderID             int64           `json:"OrderId"`
	MerchantReference   string          `json:"MerchantReference"`
	TotalPrice          decimal.Decimal `json:"TotalPrice"`
	Currency            string          `json:"Currency"`
	PaymentTransactions []Transaction   `json:"PaymentTransactions"`
}

// Settled сообщает, есть ли у заказа успешная авторизация или списание.
func (o *Order) Settled() bool {
	for _, tx := range o.PaymentTransactions {
		if tx.Status != "Success" {
			continue
		}
		if tx.Type == "Preauthorization" || tx.Type == "Capture" {
			return true
		}
	}
	return false
}

// NewClient создаёт клиент административного API Qliro по указанному адресу.
// Повторные попытки при сетевых ошибках, 429 и 5xx выполняет транспорт.
func NewClient(baseURL, apiKey, apiSecret string) *Client {
	base := strings.TrimRight(baseURL, "/")
	if base != "" && !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "https://" + base
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.RetryWaitMin = 500 * time.Millisecond
	rc.RetryWaitMax = 5 * time.Second
	rc.HTTPClient.Timeout = 5 * time.Second
	rc.Logger = nil

	return &Client{
		baseURL:    base,
		apiKey:     apiKey,
		apiSecret:  apiSecret,
		httpClient: rc,
	}
}

// GetOrder запрашивает состояние заказа Qliro по его номеру.
func (c *Client) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	if c == nil || c.baseURL == "" {
		return nil, fmt.Errorf("qliro client not configured")
	}

	endpoint := fmt.Sprintf("%s/checkout/adminapi/v2/orders/%s", c.baseURL, url.PathEscape(orderID))

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Qliro "+c.sign(nil))
	if c.apiKey != "" {
		req.Header.Set("X-Merchant-Api-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var order Order
	if err := json.NewDecoder(resp.Body).Decode(&order); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	return &order, nil
}

// sign вычисляет токен авторизации Qliro: base64(sha256(payload + secret)).
func (c *Client) sign(payload []byte) string {
	sum := sha256.Sum256(append(append([]byte{}, payload...), c.apiSecret...))
	return base64.StdEncoding.EncodeToString(sum[:])
}
