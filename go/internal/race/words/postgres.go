package words

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
)

const randomQuoteSQL = `SELECT content FROM quotes ORDER BY random() LIMIT 1`

// RowQuerier is satisfied by *pgxpool.Pool and pgx.Conn.
type RowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresSource draws a random quote from the quotes table.
type PostgresSource struct {
	db RowQuerier
}

func NewPostgresSource(db RowQuerier) *PostgresSource {
	return &PostgresSource{db: db}
}

func (s *PostgresSource) Fetch(ctx context.Context) ([]string, error) {
	var content string
	if err := s.db.QueryRow(ctx, randomQuoteSQL).Scan(&content); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, unavailable("postgres", errors.New("quote bank is empty"))
		}
		return nil, unavailable("postgres", err)
	}
	words := Split(content)
	if len(words) == 0 {
		return nil, unavailable("postgres", errors.New("empty quote"))
	}
	return words, nil
}
