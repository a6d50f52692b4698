package account

import "time"

type Account struct {
	ID          string    `gorm:"column:id;primaryKey" json:"id"`
	DisplayName string    `gorm:"column:display_name" json:"display_name"`
	// FamilyID groups the accounts that may assign each other tasks.
	FamilyID    string    `gorm:"column:family_id;index" json:"family_id,omitempty"`
	CreatedAt   time.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt   time.Time `gorm:"column:updated_at" json:"updated_at"`
}
