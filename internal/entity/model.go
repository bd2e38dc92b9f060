package entity

import "time"

// Read projections of the platform's tables. nudge never writes to them.

type prospectRow struct {
	ID        string     `gorm:"primaryKey;type:text"`
	FundID    string     `gorm:"type:text;not null"`
	Status    string     `gorm:"type:text;not null"`
	Email     string     `gorm:"type:text;not null;default:''"`
	Name      string     `gorm:"type:text;not null;default:''"`
	MeetingAt *time.Time `gorm:"type:timestamptz"`
	UpdatedAt time.Time
}

func (prospectRow) TableName() string { return "prospects" }

type investorRow struct {
	ID        string `gorm:"primaryKey;type:text"`
	FundID    string `gorm:"type:text;not null"`
	Status    string `gorm:"type:text;not null"`
	Email     string `gorm:"type:text;not null;default:''"`
	Name      string `gorm:"type:text;not null;default:''"`
	UpdatedAt time.Time
}

func (investorRow) TableName() string { return "investors" }

// capitalCallItemRow is one investor's share of a capital call.
type capitalCallItemRow struct {
	ID            string    `gorm:"primaryKey;type:text"`
	CapitalCallID string    `gorm:"type:text;not null"`
	FundID        string    `gorm:"type:text;not null"`
	Status        string    `gorm:"type:text;not null"`
	InvestorEmail string    `gorm:"type:text;not null;default:''"`
	InvestorName  string    `gorm:"type:text;not null;default:''"`
	AmountDue     string    `gorm:"type:numeric;not null;default:0"`
	DueDate       time.Time `gorm:"type:timestamptz;not null"`
	UpdatedAt     time.Time
}

func (capitalCallItemRow) TableName() string { return "capital_call_items" }

type teamInviteRow struct {
	ID        string    `gorm:"primaryKey;type:text"`
	FundID    string    `gorm:"type:text;not null"`
	Status    string    `gorm:"type:text;not null"`
	Email     string    `gorm:"type:text;not null"`
	Role      string    `gorm:"type:text;not null;default:''"`
	ExpiresAt time.Time `gorm:"type:timestamptz;not null"`
	UpdatedAt time.Time
}

func (teamInviteRow) TableName() string { return "team_invites" }
