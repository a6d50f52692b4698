package habit

import "time"

type Habit struct {
	ID        string    `gorm:"column:id;primaryKey" json:"id"`
	OwnerID   string    `gorm:"column:owner_id;index" json:"owner_id"`
	Name      string    `gorm:"column:name" json:"name"`
	Active    bool      `gorm:"column:active" json:"active"`
	CreatedAt time.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at" json:"updated_at"`
}

// HabitCheck is one calendar day of a habit; at most one per (habit, date).
type HabitCheck struct {
	ID        string    `gorm:"column:id;primaryKey" json:"id"`
	HabitID   string    `gorm:"column:habit_id;uniqueIndex:idx_habit_check_day,priority:1" json:"habit_id"`
	UserID    string    `gorm:"column:user_id" json:"user_id"`
	Date      string    `gorm:"column:date;type:varchar(10);uniqueIndex:idx_habit_check_day,priority:2" json:"date"`
	Completed bool      `gorm:"column:completed" json:"completed"`
	CreatedAt time.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at" json:"updated_at"`
}

func Models() []any {
	return []any{&Habit{}, &HabitCheck{}}
}
