package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"shopassist/internal/domain"
)

// StorefrontConfig configures the catalog and cart service clients.
type StorefrontConfig struct {
	CatalogBaseURL string
	CartBaseURL    string
	APIKey         string
	Logger         *slog.Logger
}

// Storefront is the HTTP client for the storefront's own catalog and cart
// services. Both are consumed as black boxes; the assistant core never owns
// their data.
type Storefront struct {
	catalogBase string
	cartBase    string
	apiKey      string
	client      *http.Client
	logger      *slog.Logger
}

func NewStorefront(cfg StorefrontConfig) *Storefront {
	return &Storefront{
		catalogBase: cfg.CatalogBaseURL,
		cartBase:    cfg.CartBaseURL,
		apiKey:      cfg.APIKey,
		client:      newHTTPClient(15 * time.Second), // UI-facing lookups should fail fast
		logger:      cfg.Logger,
	}
}

func (s *Storefront) Search(ctx context.Context, query string) ([]domain.ProductSummary, error) {
	u := fmt.Sprintf("%s/products?q=%s", s.catalogBase, url.QueryEscape(query))
	var products []domain.ProductSummary
	if err := s.getJSON(ctx, u, &products); err != nil {
		return nil, fmt.Errorf("catalog search: %w", err)
	}
	return products, nil
}

func (s *Storefront) GetProduct(ctx context.Context, id string) (*domain.ProductSummary, error) {
	u := fmt.Sprintf("%s/products/%s", s.catalogBase, url.PathEscape(id))
	var product domain.ProductSummary
	if err := s.getJSON(ctx, u, &product); err != nil {
		return nil, fmt.Errorf("catalog lookup: %w", err)
	}
	return &product, nil
}

func (s *Storefront) RelatedProducts(ctx context.Context, category string, limit int) ([]domain.ProductSummary, error) {
	u := fmt.Sprintf("%s/products?category=%s&limit=%s",
		s.catalogBase, url.QueryEscape(category), strconv.Itoa(limit))
	var products []domain.ProductSummary
	if err := s.getJSON(ctx, u, &products); err != nil {
		return nil, fmt.Errorf("related products: %w", err)
	}
	return products, nil
}

func (s *Storefront) AddItem(ctx context.Context, productID string, quantity int) error {
	return s.postCart(ctx, "/items", productID, quantity)
}

func (s *Storefront) RemoveItem(ctx context.Context, productID string, quantity int) error {
	return s.postCart(ctx, "/items/remove", productID, quantity)
}

type cartMutation struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

func (s *Storefront) postCart(ctx context.Context, path, productID string, quantity int) error {
	body, err := json.Marshal(cartMutation{ProductID: productID, Quantity: quantity})
	if err != nil {
		return fmt.Errorf("marshal cart mutation: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cartBase+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	s.authorize(req)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("cart request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("cart %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

func (s *Storefront) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	s.authorize(req)

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(respBody))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (s *Storefront) authorize(req *http.Request) {
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}
}
