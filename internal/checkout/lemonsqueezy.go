// Package checkout creates hosted checkout sessions with Lemon Squeezy and
// verifies its webhook signatures.
package checkout

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/vasiliy-maslov/ecommerce-microservices/storefront-service/internal/apperr"
	"github.com/vasiliy-maslov/ecommerce-microservices/storefront-service/internal/config"
)

const (
	provider             = "lemonsqueezy"
	maxErrorBodyBytes    = 32 << 10
	maxResponseBodyBytes = 1 << 20
)

type Address struct {
	Name       string
	Street     string
	City       string
	PostalCode string
	Country    string
	Phone      string
}

type Request struct {
	OrderID     string
	Email       string
	Name        string
	Billing     Address
	TotalCents  int64
	Description string
}

type Gateway interface {
	CreateCheckout(ctx context.Context, req Request) (string, error)
}

type lemonSqueezy struct {
	baseURL    string
	apiKey     string
	storeID    string
	variantID  string
	ttl        time.Duration
	httpClient *http.Client
	now        func() time.Time
}

func NewLemonSqueezy(cfg config.LemonSqueezyConfig) Gateway {
	return &lemonSqueezy{
		baseURL:    cfg.APIURL,
		apiKey:     cfg.APIKey,
		storeID:    cfg.StoreID,
		variantID:  cfg.VariantID,
		ttl:        cfg.CheckoutTTL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		now:        time.Now,
	}
}

// CentsFromDecimal converts a decimal amount to integer minor units, rounding half away from zero.
func CentsFromDecimal(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

type jsonAPIRelation struct {
	Data struct {
		Type string `json:"type"`
		ID   string `json:"id"`
	} `json:"data"`
}

func relation(typ, id string) jsonAPIRelation {
	var r jsonAPIRelation
	r.Data.Type = typ
	r.Data.ID = id
	return r
}

type checkoutBillingAddress struct {
	Country string `json:"country,omitempty"`
	Zip     string `json:"zip,omitempty"`
}

type checkoutData struct {
	Email          string                 `json:"email,omitempty"`
	Name           string                 `json:"name,omitempty"`
	BillingAddress checkoutBillingAddress `json:"billing_address"`
	Custom         map[string]string      `json:"custom"`
}

type productOptions struct {
	Description string `json:"description,omitempty"`
}

type createCheckoutBody struct {
	Data struct {
		Type       string `json:"type"`
		Attributes struct {
			CustomPrice    int64          `json:"custom_price"`
			ProductOptions productOptions `json:"product_options"`
			CheckoutData   checkoutData   `json:"checkout_data"`
			ExpiresAt      string         `json:"expires_at"`
		} `json:"attributes"`
		Relationships struct {
			Store   jsonAPIRelation `json:"store"`
			Variant jsonAPIRelation `json:"variant"`
		} `json:"relationships"`
	} `json:"data"`
}

type createCheckoutResponse struct {
	Data struct {
		ID         string `json:"id"`
		Attributes struct {
			URL string `json:"url"`
		} `json:"attributes"`
	} `json:"data"`
}

func (c *lemonSqueezy) buildBody(req Request) createCheckoutBody {
	var body createCheckoutBody
	body.Data.Type = "checkouts"
	body.Data.Attributes.CustomPrice = req.TotalCents
	body.Data.Attributes.ProductOptions.Description = req.Description
	body.Data.Attributes.CheckoutData = checkoutData{
		Email: req.Email,
		Name:  req.Name,
		BillingAddress: checkoutBillingAddress{
			Country: req.Billing.Country,
			Zip:     req.Billing.PostalCode,
		},
		Custom: map[string]string{"order_id": req.OrderID},
	}
	body.Data.Attributes.ExpiresAt = c.now().Add(c.ttl).UTC().Format(time.RFC3339)
	body.Data.Relationships.Store = relation("stores", c.storeID)
	body.Data.Relationships.Variant = relation("variants", c.variantID)
	return body
}

func (c *lemonSqueezy) CreateCheckout(ctx context.Context, req Request) (string, error) {
	if req.TotalCents <= 0 {
		return "", apperr.Validation("checkout total must be positive, got %d cents", req.TotalCents)
	}

	payload, err := json.Marshal(c.buildBody(req))
	if err != nil {
		return "", fmt.Errorf("checkout: marshal body: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/checkouts", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("checkout: create request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/vnd.api+json")
	httpReq.Header.Set("Content-Type", "application/vnd.api+json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", apperr.Upstream(provider, fmt.Errorf("request failed: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		log.Error().Int("status", resp.StatusCode).Str("order_id", req.OrderID).Bytes("body", detail).Msg("checkout: provider rejected checkout")
		return "", apperr.Upstream(provider, fmt.Errorf("status %d: %s", resp.StatusCode, bytes.TrimSpace(detail)))
	}

	var out createCheckoutResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBodyBytes)).Decode(&out); err != nil {
		return "", apperr.Upstream(provider, fmt.Errorf("decode response: %w", err))
	}
	if out.Data.Attributes.URL == "" {
		return "", apperr.Upstream(provider, errors.New("response carried no checkout url"))
	}

	log.Info().Str("order_id", req.OrderID).Str("checkout_id", out.Data.ID).Int64("total_cents", req.TotalCents).Msg("checkout: session created")
	return out.Data.Attributes.URL, nil
}
