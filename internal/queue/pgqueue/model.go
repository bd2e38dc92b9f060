package pgqueue

import "time"

// Job is one scheduled notification. At most one row per job_key may be
// pending; executing and finished rows with the same key can coexist with it.
type Job struct {
	ID  uint64 `gorm:"primaryKey"`
	Key string `gorm:"column:job_key;type:text;not null"`

	Queue    string `gorm:"type:text;not null"`
	Category string `gorm:"type:text;not null"`
	EntityID string `gorm:"type:text;not null"`
	FundID   string `gorm:"type:text;not null;default:''"`
	Payload  []byte `gorm:"type:jsonb;not null;default:'{}'::jsonb"`

	RunAt  time.Time `gorm:"not null"`
	Status string    `gorm:"not null;default:'pending'"` // pending/executing/completed/failed/cancelled

	Attempts    int `gorm:"not null;default:0"`
	MaxAttempts int `gorm:"not null;default:3"`

	LockedBy *string    `gorm:"type:text"`
	LockedAt *time.Time `gorm:"type:timestamptz"`

	LastError  *string    `gorm:"type:text"`
	FinishedAt *time.Time `gorm:"type:timestamptz"`

	CreatedAt time.Time `gorm:"not null;default:now()"`
	UpdatedAt time.Time `gorm:"not null;default:now()"`
}

func (Job) TableName() string { return "notification_jobs" }
