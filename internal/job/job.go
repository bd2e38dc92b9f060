package job

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

var ErrUnknownCategory = errors.New("unknown job category")
var ErrMalformedKey = errors.New("malformed job key")

// Family is the entity family a job belongs to.
type Family string

const (
	FamilyProspect    Family = "prospect"
	FamilyInvestor    Family = "investor"
	FamilyCapitalCall Family = "capital_call"
	FamilyTeamInvite  Family = "team_invite"
)

func (f Family) Valid() bool {
	switch f {
	case FamilyProspect, FamilyInvestor, FamilyCapitalCall, FamilyTeamInvite:
		return true
	}
	return false
}

// namespaced families use category:family:entityId keys,
// the others keep the older category:entityId form.
func (f Family) namespaced() bool {
	return f == FamilyCapitalCall || f == FamilyTeamInvite
}

// Category is the notification type. Categories are unique across families.
type Category string

const (
	KYCReminder48h Category = "kyc_reminder_48h"
	KYCReminder5d  Category = "kyc_reminder_5d"
	KYCReminder10d Category = "kyc_reminder_10d"

	MeetingReminder24h Category = "meeting_reminder_24h"
	MeetingReminder15m Category = "meeting_reminder_15m"
	MeetingNoShowCheck Category = "meeting_no_show_check"

	NurtureDay15           Category = "nurture_day_15"
	NurtureDay23           Category = "nurture_day_23"
	NurtureDay30           Category = "nurture_day_30"
	NurtureDormantCloseout Category = "nurture_dormant_closeout"

	InvestorWelcome              Category = "investor_welcome"
	InvestorActivationReminder3d Category = "investor_activation_reminder_3d"
	InvestorActivationReminder7d Category = "investor_activation_reminder_7d"

	CapitalCallReminder7d Category = "capital_call_reminder_7d"
	CapitalCallReminder3d Category = "capital_call_reminder_3d"
	CapitalCallReminder1d Category = "capital_call_reminder_1d"
	CapitalCallPastDue    Category = "capital_call_past_due"
	CapitalCallPastDue7   Category = "capital_call_past_due_7"

	TeamInviteReminder1 Category = "team_invite_reminder_1"
	TeamInviteReminder2 Category = "team_invite_reminder_2"
)

var families = map[Category]Family{
	KYCReminder48h:         FamilyProspect,
	KYCReminder5d:          FamilyProspect,
	KYCReminder10d:         FamilyProspect,
	MeetingReminder24h:     FamilyProspect,
	MeetingReminder15m:     FamilyProspect,
	MeetingNoShowCheck:     FamilyProspect,
	NurtureDay15:           FamilyProspect,
	NurtureDay23:           FamilyProspect,
	NurtureDay30:           FamilyProspect,
	NurtureDormantCloseout: FamilyProspect,

	InvestorWelcome:              FamilyInvestor,
	InvestorActivationReminder3d: FamilyInvestor,
	InvestorActivationReminder7d: FamilyInvestor,

	CapitalCallReminder7d: FamilyCapitalCall,
	CapitalCallReminder3d: FamilyCapitalCall,
	CapitalCallReminder1d: FamilyCapitalCall,
	CapitalCallPastDue:    FamilyCapitalCall,
	CapitalCallPastDue7:   FamilyCapitalCall,

	TeamInviteReminder1: FamilyTeamInvite,
	TeamInviteReminder2: FamilyTeamInvite,
}

// Family reports which entity family owns the category.
func (c Category) Family() (Family, bool) {
	f, ok := families[c]
	return f, ok
}

// Categories returns every category owned by the family.
func Categories(f Family) []Category {
	out := make([]Category, 0, 10)
	for c, fam := range families {
		if fam == f {
			out = append(out, c)
		}
	}
	slices.Sort(out)
	return out
}

// Key derives the dedup/cancellation key for a category and entity.
// It is pure: the same inputs always give the same key.
func Key(c Category, entityID string) string {
	f, ok := c.Family()
	if ok && f.namespaced() {
		return string(c) + ":" + string(f) + ":" + entityID
	}
	return string(c) + ":" + entityID
}

// ParseKey splits a key produced by Key back into its category and entity id.
func ParseKey(key string) (Category, string, error) {
	cat, rest, ok := strings.Cut(key, ":")
	if !ok || rest == "" {
		return "", "", ErrMalformedKey
	}
	c := Category(cat)
	f, known := c.Family()
	if !known {
		return "", "", fmt.Errorf("%w: %q", ErrUnknownCategory, cat)
	}
	if f.namespaced() {
		ns, id, ok := strings.Cut(rest, ":")
		if !ok || ns != string(f) || id == "" {
			return "", "", ErrMalformedKey
		}
		return c, id, nil
	}
	return c, rest, nil
}

// Status is the lifecycle status of a scheduled job record.
type Status string

const (
	StatusPending   Status = "pending"
	StatusExecuting Status = "executing"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Meta keys carried on payloads.
const (
	MetaSequence      = "sequence"
	MetaDaysRemaining = "days_remaining"
)

// Payload is the tagged job body. Category is the discriminant: it selects
// the family, the suppression rules and the worker handler.
type Payload struct {
	Category Category          `json:"category"`
	EntityID string            `json:"entity_id"`
	FundID   string            `json:"fund_id"`
	Anchor   time.Time         `json:"anchor"`
	Meta     map[string]string `json:"meta,omitempty"`
}

func (p Payload) Key() string { return Key(p.Category, p.EntityID) }

func (p Payload) Family() Family {
	f, _ := p.Category.Family()
	return f
}

func (p Payload) Validate() error {
	if _, ok := p.Category.Family(); !ok {
		return fmt.Errorf("%w: %q", ErrUnknownCategory, p.Category)
	}
	if p.EntityID == "" {
		return errors.New("payload: entity_id required")
	}
	return nil
}

// MarshalJSON writes the anchor as an ISO timestamp in UTC.
func (p Payload) MarshalJSON() ([]byte, error) {
	type alias Payload
	return json.Marshal(struct {
		alias
		Anchor string `json:"anchor"`
	}{alias: alias(p), Anchor: p.Anchor.UTC().Format(time.RFC3339Nano)})
}

func (p *Payload) UnmarshalJSON(b []byte) error {
	type alias Payload
	var raw struct {
		alias
		Anchor string `json:"anchor"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*p = Payload(raw.alias)
	if raw.Anchor != "" {
		t, err := time.Parse(time.RFC3339Nano, raw.Anchor)
		if err != nil {
			return fmt.Errorf("payload anchor: %w", err)
		}
		p.Anchor = t
	}
	return nil
}

func Decode(b []byte) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(b, &p); err != nil {
		return Payload{}, err
	}
	return p, nil
}
