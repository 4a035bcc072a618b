package words

import (
	"context"
	"errors"

	"github.com/mcdev12/typeracer/go/clients/quotable_client"
)

// QuotableSource pulls a random quote from the quotable HTTP API.
type QuotableSource struct {
	client *quotable_client.QuotableClient
}

func NewQuotableSource(client *quotable_client.QuotableClient) *QuotableSource {
	return &QuotableSource{client: client}
}

func (s *QuotableSource) Fetch(ctx context.Context) ([]string, error) {
	quote, err := s.client.RandomQuote(ctx)
	if err != nil {
		return nil, unavailable("quotable", err)
	}
	words := Split(quote.Content)
	if len(words) == 0 {
		return nil, unavailable("quotable", errors.New("empty quote"))
	}
	return words, nil
}
