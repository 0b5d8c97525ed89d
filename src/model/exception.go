package model

import "time"

// Exception is a captured per-ticker failure, kept for post-session review.
type Exception struct {
	ID uint `gorm:"primaryKey" json:"id"`

	Service string `gorm:"size:100;index" json:"service"` // e.g. "positionguard"
	Module  string `gorm:"size:100;index" json:"module"`  // e.g. "tp_sl"
	Method  string `gorm:"size:100" json:"method"`        // e.g. "Manage"
	Ticker  string `gorm:"size:50;index" json:"ticker"`

	Message string `gorm:"type:text" json:"message"`
	Stack   string `gorm:"type:text" json:"stack"`

	Level string `gorm:"size:20;index" json:"level"` // warn | error | fatal

	// JSON encoded extra fields
	Context string `gorm:"type:text" json:"context,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}
