// Package policy carries the reward limits as one immutable value built at
// startup and handed to the guard and the issuer.
package policy

import (
	"fmt"
	"time"

	"habitcoin/pkg/config"
	"habitcoin/services/milestone"

	"go.uber.org/fx"
)

var Module = fx.Module("policy", fx.Provide(FromConfig))

type Policy struct {
	Milestones milestone.Table

	DailyCap   int64
	MonthlyCap int64

	// Task and gift coins are capped in their own buckets and never count
	// toward the habit reward caps. Zero disables a bucket.
	TaskDailyCap int64
	GiftDailyCap int64

	MinAccountAge   time.Duration
	MaxHabits       int
	MaxActiveHabits int

	// Location anchors day and month boundaries for every cap.
	Location *time.Location
}

func Default() Policy {
	return Policy{
		Milestones:      milestone.Default(),
		DailyCap:        10,
		MonthlyCap:      200,
		TaskDailyCap:    100,
		GiftDailyCap:    100,
		MinAccountAge:   7 * 24 * time.Hour,
		MaxHabits:       10,
		MaxActiveHabits: 5,
		Location:        time.UTC,
	}
}

func FromConfig(cfg *config.Config) (Policy, error) {
	p := Default()
	r := cfg.Reward

	if r.Timezone != "" {
		loc, err := time.LoadLocation(r.Timezone)
		if err != nil {
			return Policy{}, fmt.Errorf("policy: invalid timezone %q: %w", r.Timezone, err)
		}
		p.Location = loc
	}

	if len(r.Milestones) > 0 {
		defs := make([]milestone.Definition, 0, len(r.Milestones))
		for _, m := range r.Milestones {
			defs = append(defs, milestone.Definition{Days: m.Days, Coins: m.Coins})
		}
		table, err := milestone.New(defs...)
		if err != nil {
			return Policy{}, err
		}
		p.Milestones = table
	}

	if r.DailyCap > 0 {
		p.DailyCap = r.DailyCap
	}
	if r.MonthlyCap > 0 {
		p.MonthlyCap = r.MonthlyCap
	}
	if r.MinAccountAge > 0 {
		p.MinAccountAge = r.MinAccountAge
	}
	if r.MaxHabits > 0 {
		p.MaxHabits = r.MaxHabits
	}
	if r.MaxActiveHabits > 0 {
		p.MaxActiveHabits = r.MaxActiveHabits
	}
	p.TaskDailyCap = r.TaskDailyCap
	p.GiftDailyCap = r.GiftDailyCap

	return p, p.Validate()
}

func (p Policy) Validate() error {
	if p.Location == nil {
		return fmt.Errorf("policy: location is required")
	}
	if p.DailyCap <= 0 || p.MonthlyCap <= 0 {
		return fmt.Errorf("policy: caps must be positive")
	}
	if p.DailyCap > p.MonthlyCap {
		return fmt.Errorf("policy: daily cap %d exceeds monthly cap %d", p.DailyCap, p.MonthlyCap)
	}
	if p.MaxActiveHabits > p.MaxHabits {
		return fmt.Errorf("policy: active habit limit %d exceeds habit limit %d", p.MaxActiveHabits, p.MaxHabits)
	}
	if p.Milestones.Len() == 0 {
		return fmt.Errorf("policy: milestone table is empty")
	}
	return nil
}

// DayWindow returns the UTC half-open range [start, end) of the calendar day
// containing t in the policy location.
func (p Policy) DayWindow(t time.Time) (time.Time, time.Time) {
	local := t.In(p.Location)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, p.Location)
	return start.UTC(), start.AddDate(0, 0, 1).UTC()
}

// MonthWindow is DayWindow for the calendar month.
func (p Policy) MonthWindow(t time.Time) (time.Time, time.Time) {
	local := t.In(p.Location)
	start := time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, p.Location)
	return start.UTC(), start.AddDate(0, 1, 0).UTC()
}

// Day formats t as the calendar date it falls on in the policy location.
func (p Policy) Day(t time.Time) string {
	return t.In(p.Location).Format(DateLayout)
}

const DateLayout = "2006-01-02"

// CheckInGraceDays is how far back a check can still be recorded or
// evaluated. Older days are frozen so a run that already paid cannot be
// rewritten into a new occurrence.
const CheckInGraceDays = 1

// CheckInWindow returns the earliest and latest days, inclusive, that accept
// check-ins at t.
func (p Policy) CheckInWindow(t time.Time) (string, string) {
	local := t.In(p.Location)
	return local.AddDate(0, 0, -CheckInGraceDays).Format(DateLayout), local.Format(DateLayout)
}
