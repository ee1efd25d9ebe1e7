package models

import "time"

// User holds the account fields this service reads and writes. The full
// account (password, verification, coupons) lives in the auth service; here
// we only care about identity, voice preferences and the trial budget.
type User struct {
	ID          string `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	Email       string `gorm:"column:email;type:text" json:"email"`
	DisplayName string `gorm:"column:display_name;type:text" json:"display_name"`

	PreferredVoice    string `gorm:"column:preferred_voice;type:text" json:"preferred_voice"`
	PreferredLanguage string `gorm:"column:preferred_language;type:text" json:"preferred_language"`

	// Trial budget. TrialVersion increases on every persisted write so that
	// concurrent writers can detect lost updates instead of overwriting an
	// out-of-band top-up.
	TrialMinutesRemaining float64 `gorm:"column:trial_minutes_remaining;type:double precision" json:"trial_minutes_remaining"`
	TrialActive           bool    `gorm:"column:trial_active" json:"trial_active"`
	TrialVersion          int64   `gorm:"column:trial_version" json:"-"`

	CreatedAt time.Time `gorm:"column:created_at;type:timestamptz" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at;type:timestamptz" json:"updated_at"`
}

func (User) TableName() string { return "users" }

// TrialBudget is the meter's snapshot of the persisted trial state.
type TrialBudget struct {
	Minutes float64
	Active  bool
	Version int64
}
