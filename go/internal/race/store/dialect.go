package store

import (
	"github.com/mcdev12/typeracer/go/internal/sqlutil"
)

// Dialect captures the few differences between the supported SQL engines.
type Dialect struct {
	Name   string
	Driver string
	schema []string
	rebind bool
}

var (
	Postgres = Dialect{
		Name:   "postgres",
		Driver: "postgres",
		rebind: true,
		schema: []string{
			`CREATE TABLE IF NOT EXISTS race_sessions (
				id          UUID PRIMARY KEY,
				words       JSONB NOT NULL,
				phase       TEXT NOT NULL,
				start_time  BIGINT,
				finished_at BIGINT,
				results     JSONB,
				created_at  BIGINT NOT NULL,
				updated_at  BIGINT NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS race_players (
				session_id         UUID NOT NULL REFERENCES race_sessions(id) ON DELETE CASCADE,
				id                 UUID NOT NULL,
				position           INTEGER NOT NULL,
				name               TEXT NOT NULL,
				current_word_index INTEGER NOT NULL,
				is_party_leader    BOOLEAN NOT NULL,
				wpm                INTEGER NOT NULL,
				finished_at        BIGINT,
				PRIMARY KEY (session_id, id)
			)`,
		},
	}

	SQLite = Dialect{
		Name:   "sqlite",
		Driver: "sqlite3",
		schema: []string{
			`CREATE TABLE IF NOT EXISTS race_sessions (
				id          TEXT PRIMARY KEY,
				words       TEXT NOT NULL,
				phase       TEXT NOT NULL,
				start_time  INTEGER,
				finished_at INTEGER,
				results     BLOB,
				created_at  INTEGER NOT NULL,
				updated_at  INTEGER NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS race_players (
				session_id         TEXT NOT NULL REFERENCES race_sessions(id) ON DELETE CASCADE,
				id                 TEXT NOT NULL,
				position           INTEGER NOT NULL,
				name               TEXT NOT NULL,
				current_word_index INTEGER NOT NULL,
				is_party_leader    BOOLEAN NOT NULL,
				wpm                INTEGER NOT NULL,
				finished_at        INTEGER,
				PRIMARY KEY (session_id, id)
			)`,
		},
	}
)

func (d Dialect) bind(query string) string {
	if d.rebind {
		return sqlutil.Rebind(query)
	}
	return query
}
