// Package lookup предоставляет HTTP-клиенты внешних справочников
// ценообразования: лояльность, акции, доставка и адреса.
package lookup

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/mmeshcher/gophercart-system/internal/model"
	"github.com/mmeshcher/gophercart-system/internal/pricing"
)

func newHTTPClient() *retryablehttp.Client {
	c := retryablehttp.NewClient()
	c.RetryMax = 2
	c.RetryWaitMin = 100 * time.Millisecond
	c.RetryWaitMax = 1 * time.Second
	c.HTTPClient.Timeout = 5 * time.Second
	c.Logger = nil
	return c
}

func normalizeBaseURL(baseURL string) string {
	base := strings.TrimRight(baseURL, "/")
	if base == "" {
		return ""
	}
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return base
}

func getJSON(ctx context.Context, client *retryablehttp.Client, url string, out any) (int, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return resp.StatusCode, nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, fmt.Errorf("decode response: %w", err)
	}
	return resp.StatusCode, nil
}

func postJSON(ctx context.Context, client *retryablehttp.Client, url string, in, out any) (int, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return 0, fmt.Errorf("marshal request: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return resp.StatusCode, nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, fmt.Errorf("decode response: %w", err)
	}
	return resp.StatusCode, nil
}

// LoyaltyClient инкапсулирует HTTP-взаимодействие с сервисом лояльности.
type LoyaltyClient struct {
	baseURL    string
	httpClient *retryablehttp.Client
}

// NewLoyaltyClient создаёт клиент сервиса лояльности по указанному адресу.
func NewLoyaltyClient(baseURL string) *LoyaltyClient {
	return &LoyaltyClient{
		baseURL:    normalizeBaseURL(baseURL),
		httpClient: newHTTPClient(),
	}
}

// Membership запрашивает членство пользователя в программе лояльности.
// Отсутствие членства — не ошибка: возвращается nil.
func (c *LoyaltyClient) Membership(ctx context.Context, userID string) (*pricing.Membership, error) {
	if c == nil || c.baseURL == "" {
		return nil, fmt.Errorf("loyalty client not configured")
	}

	url := fmt.Sprintf("%s/api/loyalty/users/%s/membership", c.baseURL, userID)

	var payload struct {
		Level     string `json:"level"`
		Points    int    `json:"points"`
		TaxExempt bool   `json:"tax_exempt"`
	}
	status, err := getJSON(ctx, c.httpClient, url, &payload)
	if err != nil {
		return nil, err
	}

	switch status {
	case http.StatusOK:
		return &pricing.Membership{
			Level:     payload.Level,
			Points:    payload.Points,
			TaxExempt: payload.TaxExempt,
		}, nil
	case http.StatusNoContent, http.StatusNotFound:
		return nil, nil
	default:
		return nil, fmt.Errorf("unexpected status: %d", status)
	}
}

// PromotionClient инкапсулирует HTTP-взаимодействие с сервисом акций.
type PromotionClient struct {
	baseURL    string
	httpClient *retryablehttp.Client
}

// NewPromotionClient создаёт клиент сервиса акций по указанному адресу.
func NewPromotionClient(baseURL string) *PromotionClient {
	return &PromotionClient{
		baseURL:    normalizeBaseURL(baseURL),
		httpClient: newHTTPClient(),
	}
}

// ActivePromotions возвращает активные акции для товара.
func (c *PromotionClient) ActivePromotions(ctx context.Context, productID string) ([]pricing.Promotion, error) {
	if c == nil || c.baseURL == "" {
		return nil, fmt.Errorf("promotion client not configured")
	}

	url := fmt.Sprintf("%s/api/promotions/active?product_id=%s", c.baseURL, productID)

	var payload []struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	status, err := getJSON(ctx, c.httpClient, url, &payload)
	if err != nil {
		return nil, err
	}

	switch status {
	case http.StatusOK:
		promos := make([]pricing.Promotion, 0, len(payload))
		for _, p := range payload {
			promos = append(promos, pricing.Promotion{ID: p.ID, Name: p.Name})
		}
		return promos, nil
	case http.StatusNoContent:
		return nil, nil
	default:
		return nil, fmt.Errorf("unexpected status: %d", status)
	}
}

// CalculateDiscount запрашивает расчёт скидки по акции для позиции корзины.
func (c *PromotionClient) CalculateDiscount(ctx context.Context, promotionID string, quantity int, unitPriceCents int64) (int64, error) {
	if c == nil || c.baseURL == "" {
		return 0, fmt.Errorf("promotion client not configured")
	}

	url := fmt.Sprintf("%s/api/promotions/%s/calculate", c.baseURL, promotionID)

	request := struct {
		Quantity  int   `json:"quantity"`
		UnitPrice int64 `json:"unit_price"`
	}{Quantity: quantity, UnitPrice: unitPriceCents}

	var payload struct {
		Discount int64 `json:"discount"`
	}
	status, err := postJSON(ctx, c.httpClient, url, request, &payload)
	if err != nil {
		return 0, err
	}
	if status != http.StatusOK {
		return 0, fmt.Errorf("unexpected status: %d", status)
	}
	return payload.Discount, nil
}

// ShippingClient инкапсулирует HTTP-взаимодействие с сервисом доставки.
type ShippingClient struct {
	baseURL    string
	httpClient *retryablehttp.Client
}

// NewShippingClient создаёт клиент сервиса доставки по указанному адресу.
func NewShippingClient(baseURL string) *ShippingClient {
	return &ShippingClient{
		baseURL:    normalizeBaseURL(baseURL),
		httpClient: newHTTPClient(),
	}
}

// Options запрашивает варианты доставки для корзины. Сервису передаётся
// сводка корзины: валюта, количество единиц и промежуточная сумма.
func (c *ShippingClient) Options(ctx context.Context, cart *model.Cart) ([]pricing.ShippingOption, error) {
	if c == nil || c.baseURL == "" {
		return nil, fmt.Errorf("shipping client not configured")
	}

	url := fmt.Sprintf("%s/api/shipping/options", c.baseURL)

	agg := model.Recalculate(cart.Items)
	request := struct {
		Currency      string `json:"currency"`
		TotalQuantity int    `json:"total_quantity"`
		Subtotal      int64  `json:"subtotal"`
	}{Currency: cart.Currency, TotalQuantity: agg.TotalQuantity, Subtotal: agg.SubtotalCents}

	var payload []struct {
		Name        string `json:"name"`
		Cost        int64  `json:"cost"`
		Recommended bool   `json:"recommended"`
	}
	status, err := postJSON(ctx, c.httpClient, url, request, &payload)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %d", status)
	}

	options := make([]pricing.ShippingOption, 0, len(payload))
	for _, opt := range payload {
		options = append(options, pricing.ShippingOption{
			Name:        opt.Name,
			CostCents:   opt.Cost,
			Recommended: opt.Recommended,
		})
	}
	return options, nil
}

// AddressClient инкапсулирует HTTP-взаимодействие с сервисом адресов.
type AddressClient struct {
	baseURL    string
	httpClient *retryablehttp.Client
}

// NewAddressClient создаёт клиент сервиса адресов по указанному адресу.
func NewAddressClient(baseURL string) *AddressClient {
	return &AddressClient{
		baseURL:    normalizeBaseURL(baseURL),
		httpClient: newHTTPClient(),
	}
}

// DefaultAddress запрашивает адрес доставки пользователя по умолчанию.
// Отсутствие адреса транслируется в pricing.ErrNoAddress.
func (c *AddressClient) DefaultAddress(ctx context.Context, userID string) (*pricing.Address, error) {
	if c == nil || c.baseURL == "" {
		return nil, fmt.Errorf("address client not configured")
	}

	url := fmt.Sprintf("%s/api/addresses/users/%s/default", c.baseURL, userID)

	var payload struct {
		Country string `json:"country"`
		State   string `json:"state"`
	}
	status, err := getJSON(ctx, c.httpClient, url, &payload)
	if err != nil {
		return nil, err
	}

	switch status {
	case http.StatusOK:
		return &pricing.Address{Country: payload.Country, State: payload.State}, nil
	case http.StatusNoContent, http.StatusNotFound:
		return nil, pricing.ErrNoAddress
	default:
		return nil, fmt.Errorf("unexpected status: %d", status)
	}
}
