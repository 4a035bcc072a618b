package words

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"

	"gopkg.in/yaml.v3"
)

// QuoteFile is the on-disk layout of a quote bank.
type QuoteFile struct {
	Quotes []QuoteEntry `yaml:"quotes"`
}

type QuoteEntry struct {
	Content string `yaml:"content"`
	Author  string `yaml:"author"`
}

// LoadQuoteFile reads and parses a YAML quote bank.
func LoadQuoteFile(path string) (*QuoteFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read quote file: %w", err)
	}
	var qf QuoteFile
	if err := yaml.Unmarshal(data, &qf); err != nil {
		return nil, fmt.Errorf("failed to parse quote file: %w", err)
	}
	return &qf, nil
}

// FileSource picks a random quote from a YAML file loaded once at startup.
type FileSource struct {
	quotes [][]string
	pick   func(n int) int
}

func NewFileSource(path string) (*FileSource, error) {
	qf, err := LoadQuoteFile(path)
	if err != nil {
		return nil, err
	}
	src := &FileSource{pick: rand.Intn}
	for _, q := range qf.Quotes {
		if words := Split(q.Content); len(words) > 0 {
			src.quotes = append(src.quotes, words)
		}
	}
	return src, nil
}

func (s *FileSource) Fetch(ctx context.Context) ([]string, error) {
	if len(s.quotes) == 0 {
		return nil, unavailable("file", errors.New("no quotes loaded"))
	}
	words := s.quotes[s.pick(len(s.quotes))]
	return append([]string(nil), words...), nil
}
