// Package words produces the word list a race session is typed against.
package words

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
)

// ErrSourceUnavailable wraps every failure to produce a word list.
var ErrSourceUnavailable = errors.New("word source unavailable")

// Source yields the ordered words of a race text.
type Source interface {
	Fetch(ctx context.Context) ([]string, error)
}

// Split tokenizes a quote on whitespace.
func Split(text string) []string {
	return strings.Fields(text)
}

func unavailable(name string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrSourceUnavailable, name, err)
}

// StaticSource always returns the same text.
type StaticSource struct {
	Words []string
}

func NewStaticSource(text string) *StaticSource {
	return &StaticSource{Words: Split(text)}
}

func (s *StaticSource) Fetch(ctx context.Context) ([]string, error) {
	if len(s.Words) == 0 {
		return nil, unavailable("static", errors.New("empty text"))
	}
	return append([]string(nil), s.Words...), nil
}

// Chain tries each source in order and returns the first success.
type Chain []Source

func (c Chain) Fetch(ctx context.Context) ([]string, error) {
	var errs []error
	for i, src := range c {
		words, err := src.Fetch(ctx)
		if err == nil {
			return words, nil
		}
		log.Warn().Err(err).Int("source", i).Msg("word source failed, trying next")
		errs = append(errs, err)
		if ctx.Err() != nil {
			break
		}
	}
	if len(errs) == 0 {
		return nil, unavailable("chain", errors.New("no sources configured"))
	}
	return nil, fmt.Errorf("%w: all sources failed: %w", ErrSourceUnavailable, errors.Join(errs...))
}
