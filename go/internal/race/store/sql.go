package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/mcdev12/typeracer/go/internal/models"
	"github.com/mcdev12/typeracer/go/internal/race"
	"github.com/mcdev12/typeracer/go/internal/sqlutil"
	"github.com/rs/zerolog/log"
	"github.com/sqlc-dev/pqtype"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

const (
	upsertSession = `
		INSERT INTO race_sessions (id, words, phase, start_time, finished_at, results, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			words = excluded.words,
			phase = excluded.phase,
			start_time = excluded.start_time,
			finished_at = excluded.finished_at,
			results = excluded.results,
			updated_at = excluded.updated_at`

	deletePlayers = `DELETE FROM race_players WHERE session_id = ?`

	insertPlayer = `
		INSERT INTO race_players (session_id, id, position, name, current_word_index, is_party_leader, wpm, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	selectSession = `
		SELECT id, words, phase, start_time, finished_at, created_at, updated_at
		FROM race_sessions WHERE id = ?`

	selectPlayers = `
		SELECT id, name, current_word_index, is_party_leader, wpm, finished_at
		FROM race_players WHERE session_id = ? ORDER BY position`

	selectResults = `SELECT results FROM race_sessions WHERE id = ?`

	deleteSession = `DELETE FROM race_sessions WHERE id = ?`
)

// SQLStore persists sessions in Postgres or SQLite through database/sql.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
}

// Open connects with the dialect's driver and pings the database.
func Open(ctx context.Context, dialect Dialect, dsn string) (*SQLStore, error) {
	db, err := sql.Open(dialect.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create database connection: %w", err)
	}
	if dialect.Name == SQLite.Name {
		// single writer; also keeps ":memory:" databases on one connection
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return NewSQLStore(db, dialect), nil
}

func NewSQLStore(db *sql.DB, dialect Dialect) *SQLStore {
	return &SQLStore{db: db, dialect: dialect}
}

// Migrate creates the tables if they do not exist.
func (s *SQLStore) Migrate(ctx context.Context) error {
	for _, stmt := range s.dialect.schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to migrate %s schema: %w", s.dialect.Name, err)
		}
	}
	log.Info().Str("dialect", s.dialect.Name).Msg("session store schema ready")
	return nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

// queries binds statements to one transaction.
type queries struct {
	tx      *sql.Tx
	dialect Dialect
}

func (s *SQLStore) newQueries(tx *sql.Tx) *queries {
	return &queries{tx: tx, dialect: s.dialect}
}

func (q *queries) exec(ctx context.Context, query string, args ...any) error {
	_, err := q.tx.ExecContext(ctx, q.dialect.bind(query), args...)
	return err
}

func (s *SQLStore) Save(ctx context.Context, session *models.Session) (*models.Session, error) {
	saved := session.Clone()
	if saved.ID == uuid.Nil {
		saved.ID = uuid.New()
	}

	words, err := json.Marshal(saved.Words)
	if err != nil {
		return nil, fmt.Errorf("failed to encode words: %w", err)
	}

	var results pqtype.NullRawMessage
	if saved.Phase == models.PhaseFinished {
		raw, err := json.Marshal(race.Standings(saved))
		if err != nil {
			return nil, fmt.Errorf("failed to encode results: %w", err)
		}
		results = pqtype.NullRawMessage{RawMessage: raw, Valid: true}
	}

	err = sqlutil.Run(ctx, s.db, s.newQueries, func(q *queries) error {
		if err := q.exec(ctx, upsertSession,
			saved.ID,
			string(words),
			string(saved.Phase),
			sqlutil.ToNullMillis(saved.StartTime),
			sqlutil.ToNullMillis(saved.FinishedAt),
			results,
			sqlutil.ToMillis(saved.CreatedAt),
			sqlutil.ToMillis(saved.UpdatedAt),
		); err != nil {
			return fmt.Errorf("failed to upsert session: %w", err)
		}

		if err := q.exec(ctx, deletePlayers, saved.ID); err != nil {
			return fmt.Errorf("failed to clear players: %w", err)
		}
		for i, p := range saved.Players {
			if err := q.exec(ctx, insertPlayer,
				saved.ID, p.ID, i, p.Name, p.CurrentWordIndex, p.IsPartyLeader,
				p.WordsPerMinute, sqlutil.ToNullMillis(p.FinishedAt),
			); err != nil {
				return fmt.Errorf("failed to insert player %s: %w", p.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return saved, nil
}

func (s *SQLStore) Load(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	var (
		session    models.Session
		words      []byte
		phase      string
		startTime  sql.NullInt64
		finishedAt sql.NullInt64
		createdAt  int64
		updatedAt  int64
	)

	row := s.db.QueryRowContext(ctx, s.dialect.bind(selectSession), id)
	if err := row.Scan(&session.ID, &words, &phase, &startTime, &finishedAt, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if err := json.Unmarshal(words, &session.Words); err != nil {
		return nil, fmt.Errorf("failed to decode words: %w", err)
	}
	session.Phase = models.Phase(phase)
	session.StartTime = sqlutil.FromNullMillis(startTime)
	session.FinishedAt = sqlutil.FromNullMillis(finishedAt)
	session.CreatedAt = sqlutil.FromMillis(createdAt)
	session.UpdatedAt = sqlutil.FromMillis(updatedAt)

	rows, err := s.db.QueryContext(ctx, s.dialect.bind(selectPlayers), id)
	if err != nil {
		return nil, fmt.Errorf("failed to load players: %w", err)
	}
	defer rows.Close()

	session.Players = []*models.Player{}
	for rows.Next() {
		var (
			p        models.Player
			finished sql.NullInt64
		)
		if err := rows.Scan(&p.ID, &p.Name, &p.CurrentWordIndex, &p.IsPartyLeader, &p.WordsPerMinute, &finished); err != nil {
			return nil, fmt.Errorf("failed to scan player: %w", err)
		}
		p.FinishedAt = sqlutil.FromNullMillis(finished)
		session.Players = append(session.Players, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate players: %w", err)
	}
	return &session, nil
}

var _ ResultsLoader = (*SQLStore)(nil)

// LoadResults returns the standings recorded when the session finished.
// A session that has not finished yet yields a nil slice.
func (s *SQLStore) LoadResults(ctx context.Context, id uuid.UUID) ([]race.Standing, error) {
	var results pqtype.NullRawMessage
	row := s.db.QueryRowContext(ctx, s.dialect.bind(selectResults), id)
	if err := row.Scan(&results); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load results: %w", err)
	}
	if !results.Valid {
		return nil, nil
	}

	var standings []race.Standing
	if err := json.Unmarshal(results.RawMessage, &standings); err != nil {
		return nil, fmt.Errorf("failed to decode results: %w", err)
	}
	return standings, nil
}

func (s *SQLStore) Delete(ctx context.Context, id uuid.UUID) error {
	return sqlutil.Run(ctx, s.db, s.newQueries, func(q *queries) error {
		if err := q.exec(ctx, deletePlayers, id); err != nil {
			return fmt.Errorf("failed to delete players: %w", err)
		}
		res, err := q.tx.ExecContext(ctx, q.dialect.bind(deleteSession), id)
		if err != nil {
			return fmt.Errorf("failed to delete session: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return ErrNotFound
		}
		return nil
	})
}
