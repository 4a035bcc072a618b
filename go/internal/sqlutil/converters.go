package sqlutil

import (
	"database/sql"
	"time"
)

// Timestamps are stored as unix milliseconds so both SQLite and Postgres
// hold them in a plain BIGINT column.

// ToMillis converts a time to unix milliseconds
func ToMillis(t time.Time) int64 {
	return t.UnixMilli()
}

// FromMillis converts unix milliseconds to a UTC time
func FromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// ToNullMillis converts a Go time pointer to sql.NullInt64
func ToNullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{Valid: false}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

// FromNullMillis converts sql.NullInt64 to a Go time pointer
func FromNullMillis(val sql.NullInt64) *time.Time {
	if !val.Valid {
		return nil
	}
	t := FromMillis(val.Int64)
	return &t
}
