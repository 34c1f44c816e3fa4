package domain

import "context"

// CompletionRequest is the contract with the remote generation service:
// role-tagged messages plus model and sampling bounds. The reply is a single
// text blob expected to contain the assistant-turn JSON object.
type CompletionRequest struct {
	Messages    []CompletionMessage
	Model       string
	MaxTokens   int
	Temperature float64
}

type CompletionMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// CompletionClient invokes the remote language-generation endpoint.
type CompletionClient interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// ProductSummary is the read-only product shape the catalog service returns.
type ProductSummary struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Category string  `json:"category"`
	Price    float64 `json:"price"`
	InStock  bool    `json:"in_stock"`
}

// CatalogService is the black-box product catalog/search collaborator.
type CatalogService interface {
	Search(ctx context.Context, query string) ([]ProductSummary, error)
	GetProduct(ctx context.Context, id string) (*ProductSummary, error)
	RelatedProducts(ctx context.Context, category string, limit int) ([]ProductSummary, error)
}

// CartService is the black-box cart collaborator. Calls are fire-and-forget
// from the dispatcher's perspective: failures are logged, never surfaced as
// turn failures.
type CartService interface {
	AddItem(ctx context.Context, productID string, quantity int) error
	RemoveItem(ctx context.Context, productID string, quantity int) error
}
