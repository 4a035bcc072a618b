package hub

import "time"

// Config holds the race timing and completion policy.
type Config struct {
	CountdownFrom int           // first countdown value, ticks run down to 0
	RaceDuration  time.Duration // length of the race clock
	// EndWhenAllFinished expires the race as soon as every player typed the full text.
	EndWhenAllFinished bool
}

func DefaultConfig() Config {
	return Config{
		CountdownFrom: 5,
		RaceDuration:  120 * time.Second,
	}
}
