package race

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/typeracer/go/internal/models"
)

// Standing is one row of the final leaderboard.
type Standing struct {
	Rank           int        `json:"rank"`
	PlayerID       uuid.UUID  `json:"player_id"`
	Name           string     `json:"name"`
	WordsPerMinute int        `json:"wpm"`
	WordsTyped     int        `json:"words_typed"`
	Completed      bool       `json:"completed"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
}

// Standings ranks players by WPM, then words typed, then earlier finish, then join order.
func Standings(s *models.Session) []Standing {
	rows := make([]Standing, len(s.Players))
	for i, p := range s.Players {
		rows[i] = Standing{
			PlayerID:       p.ID,
			Name:           p.Name,
			WordsPerMinute: p.WordsPerMinute,
			WordsTyped:     p.CurrentWordIndex,
			Completed:      p.CurrentWordIndex == len(s.Words),
			FinishedAt:     p.FinishedAt,
		}
	}

	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.WordsPerMinute != b.WordsPerMinute {
			return a.WordsPerMinute > b.WordsPerMinute
		}
		if a.WordsTyped != b.WordsTyped {
			return a.WordsTyped > b.WordsTyped
		}
		if a.FinishedAt != nil && b.FinishedAt != nil {
			return a.FinishedAt.Before(*b.FinishedAt)
		}
		return a.FinishedAt != nil && b.FinishedAt == nil
	})

	for i := range rows {
		rows[i].Rank = i + 1
	}
	return rows
}
