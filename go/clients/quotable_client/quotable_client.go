package quotable_client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mcdev12/typeracer/go/clients"
)

// Quote is the subset of the quotable payload the race needs.
type Quote struct {
	ID      string   `json:"_id"`
	Content string   `json:"content"`
	Author  string   `json:"author"`
	Tags    []string `json:"tags"`
	Length  int      `json:"length"`
}

type QuotableClient struct {
	*clients.BaseClient
}

// NewQuotableClient creates a client against baseURL; empty means the public API.
func NewQuotableClient(baseURL string) *QuotableClient {
	if baseURL == "" {
		baseURL = BaseURL
	}
	client := &QuotableClient{
		BaseClient: clients.NewBaseClient(baseURL),
	}
	client.SetHeader("Accept", "application/json")
	return client
}

// RandomQuote fetches one random quote.
func (c *QuotableClient) RandomQuote(ctx context.Context) (*Quote, error) {
	body, err := c.Get(ctx, RandomQuoteEndpoint)
	if err != nil {
		return nil, err
	}

	var quote Quote
	if err := json.Unmarshal(body, &quote); err != nil {
		return nil, fmt.Errorf("failed to decode quote: %w", err)
	}
	return &quote, nil
}
