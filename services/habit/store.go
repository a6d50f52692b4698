package habit

import (
	"context"
	"time"

	"habitcoin/pkg/db/option"
	"habitcoin/pkg/repository"
	"habitcoin/services/streak"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Store struct {
	db     *gorm.DB
	node   *snowflake.Node
	habits repository.Repository[Habit]
	checks repository.Repository[HabitCheck]
}

func NewStore(db *gorm.DB, node *snowflake.Node) *Store {
	return &Store{
		db:     db,
		node:   node,
		habits: repository.ProvideStore[Habit](db),
		checks: repository.ProvideStore[HabitCheck](db),
	}
}

// GetHabit returns nil when the habit does not exist.
func (s *Store) GetHabit(ctx context.Context, habitID string) (*Habit, error) {
	return s.habits.FindOne(ctx, &Habit{ID: habitID})
}

func (s *Store) CountHabits(ctx context.Context, userID string, activeOnly bool) (int64, error) {
	var opts []option.QueryOption
	if activeOnly {
		opts = append(opts, option.ApplyOperator(option.Condition{Field: "active", Operator: option.EQ, Value: true}))
	}
	return s.habits.Count(ctx, &Habit{OwnerID: userID}, opts...)
}

func (s *Store) ListHabits(ctx context.Context, ownerID string) ([]*Habit, error) {
	return s.habits.Find(ctx, &Habit{OwnerID: ownerID}, option.WithSortBy(option.QuerySortBy{OrderBy: "asc"}))
}

// GetCheckHistory returns every check of the habit, oldest first.
func (s *Store) GetCheckHistory(ctx context.Context, habitID string) ([]streak.Check, error) {
	rows, err := s.checks.Find(ctx, &HabitCheck{HabitID: habitID}, option.WithSortBy(option.QuerySortBy{
		SortBy:  "date",
		OrderBy: "asc",
		Allow:   map[string]bool{"date": true},
	}))
	if err != nil {
		return nil, err
	}

	out := make([]streak.Check, 0, len(rows))
	for _, r := range rows {
		out = append(out, streak.Check{Date: r.Date, Completed: r.Completed})
	}
	return out, nil
}

func (s *Store) createHabit(ctx context.Context, h *Habit) error {
	h.ID = s.node.Generate().String()
	return s.habits.Create(ctx, h)
}

func (s *Store) setActive(ctx context.Context, habitID string, active bool) error {
	return s.habits.Update(ctx, habitID, map[string]any{
		"active":     active,
		"updated_at": time.Now().UTC(),
	})
}

// upsertCheck toggles the day's check, creating it on first touch.
func (s *Store) upsertCheck(ctx context.Context, c *HabitCheck) error {
	now := time.Now().UTC()
	c.ID = s.node.Generate().String()
	c.CreatedAt = now
	c.UpdatedAt = now

	upsert := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "habit_id"}, {Name: "date"}},
		DoUpdates: clause.AssignmentColumns([]string{"completed", "user_id", "updated_at"}),
	})
	return s.checks.WithTrx(upsert).Create(ctx, c)
}
