package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mcdev12/typeracer/go/internal/dbconfig"
	"github.com/mcdev12/typeracer/go/internal/race/words"
)

const createQuotesTable = `
    CREATE TABLE IF NOT EXISTS quotes (
      id         BIGSERIAL PRIMARY KEY,
      content    TEXT NOT NULL UNIQUE,
      author     TEXT NOT NULL DEFAULT '',
      created_at TIMESTAMPTZ NOT NULL DEFAULT now()
    )`

func main() {
	path := "go/internal/assets/quotes.yaml"
	if len(os.Args) > 1 {
		path = os.Args[1]
	}

	// 1) Load the YAML quote file
	qf, err := words.LoadQuoteFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load quotes: %v\n", err)
		os.Exit(1)
	}

	// 2) Connect using shared dbconfig
	ctx := context.Background()
	cfg := dbconfig.NewConfigFromEnv()
	pool, err := pgxpool.New(ctx, cfg.DSN())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	if _, err := pool.Exec(ctx, createQuotesTable); err != nil {
		fmt.Fprintf(os.Stderr, "create quotes table: %v\n", err)
		os.Exit(1)
	}

	// 3) Insert and count
	var (
		total    = len(qf.Quotes)
		inserted int
		skipped  int
		errs     int
	)

	for i, q := range qf.Quotes {
		if len(words.Split(q.Content)) == 0 {
			skipped++
			continue
		}
		cmdTag, err := pool.Exec(ctx, `
            INSERT INTO quotes (content, author)
            VALUES ($1, $2)
            ON CONFLICT (content) DO NOTHING
        `, q.Content, q.Author)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error inserting quote %d: %v\n", i, err)
			errs++
			continue
		}
		if cmdTag.RowsAffected() == 1 {
			inserted++
		} else {
			skipped++
		}
	}

	// 4) Print summary
	fmt.Printf(
		"Quotes seed complete: %d total, %d inserted, %d skipped, %d errors\n",
		total, inserted, skipped, errs,
	)
}
