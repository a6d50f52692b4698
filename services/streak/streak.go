// Package streak derives consecutive-completion runs from a habit's check-in
// history. It holds no state of its own.
package streak

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/fx"
)

const DateLayout = "2006-01-02"

var Module = fx.Module("streak", fx.Provide(NewTracker))

// Check is one calendar day of a habit's history.
type Check struct {
	Date      string
	Completed bool
}

type HistoryReader interface {
	GetCheckHistory(ctx context.Context, habitID string) ([]Check, error)
}

type Streak struct {
	Days      int    `json:"days"`
	StartDate string `json:"start_date,omitempty"`
	EndDate   string `json:"end_date,omitempty"`
}

type Tracker struct {
	history HistoryReader
}

func NewTracker(history HistoryReader) *Tracker {
	return &Tracker{history: history}
}

// CurrentStreak anchors at the most recent check record. A most recent record
// that is not completed yields a zero streak.
func (t *Tracker) CurrentStreak(ctx context.Context, habitID string) (Streak, error) {
	days, err := t.load(ctx, habitID)
	if err != nil {
		return Streak{}, err
	}
	if len(days) == 0 {
		return Streak{}, nil
	}

	latest := ""
	for d := range days {
		if d > latest {
			latest = d
		}
	}

	return walk(days, latest)
}

// StreakAt anchors at day; zero unless day itself is completed.
func (t *Tracker) StreakAt(ctx context.Context, habitID, day string) (Streak, error) {
	if _, err := time.Parse(DateLayout, day); err != nil {
		return Streak{}, fmt.Errorf("streak: invalid day %q: %w", day, err)
	}

	days, err := t.load(ctx, habitID)
	if err != nil {
		return Streak{}, err
	}

	return walk(days, day)
}

func (t *Tracker) load(ctx context.Context, habitID string) (map[string]bool, error) {
	history, err := t.history.GetCheckHistory(ctx, habitID)
	if err != nil {
		return nil, err
	}

	days := make(map[string]bool, len(history))
	for _, c := range history {
		if _, err := time.Parse(DateLayout, c.Date); err != nil {
			return nil, fmt.Errorf("streak: habit %s has malformed check date %q: %w", habitID, c.Date, err)
		}
		// duplicate rows for one day: completed wins
		days[c.Date] = days[c.Date] || c.Completed
	}

	return days, nil
}

func walk(days map[string]bool, anchor string) (Streak, error) {
	if !days[anchor] {
		return Streak{}, nil
	}

	cursor, err := time.Parse(DateLayout, anchor)
	if err != nil {
		return Streak{}, err
	}

	s := Streak{EndDate: anchor}
	for days[cursor.Format(DateLayout)] {
		s.Days++
		s.StartDate = cursor.Format(DateLayout)
		cursor = cursor.AddDate(0, 0, -1)
	}

	return s, nil
}
