package models

import (
	"time"

	"gorm.io/datatypes"
)

// Well-known local preference keys.
const (
	PreferenceLanguage     = "language"
	PreferenceReferralCode = "referral_code"
)

// Preference is a last-write-wins key/value entry owned by a user or an anonymous session.
type Preference struct {
	ID        uint           `gorm:"primaryKey" json:"-"`
	Owner     string         `gorm:"size:128;not null;uniqueIndex:idx_preference_owner_key" json:"owner"`
	Key       string         `gorm:"column:pref_key;size:64;not null;uniqueIndex:idx_preference_owner_key" json:"key"`
	Value     datatypes.JSON `gorm:"type:json" json:"value"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}
