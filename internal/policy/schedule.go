package policy

import (
	"errors"
	"fmt"
	"maps"
	"time"

	"nudge/internal/job"
)

var ErrUnknownSequence = errors.New("unknown schedule sequence")

// SequenceName names a business event whose reminders are scheduled together.
type SequenceName string

const (
	SeqKYC                  SequenceName = "kyc"
	SeqMeeting              SequenceName = "meeting"
	SeqNurture              SequenceName = "nurture"
	SeqInvestorOnboarding   SequenceName = "investor_onboarding"
	SeqCapitalCallReminders SequenceName = "capital_call_reminders"
	SeqCapitalCallPastDue   SequenceName = "capital_call_past_due"
	SeqTeamInvite           SequenceName = "team_invite"
)

type Direction int

const (
	AfterAnchor Direction = iota
	BeforeAnchor
)

// TeamInviteExpiry is how long a team invite stays valid after it is sent.
const TeamInviteExpiry = 7 * 24 * time.Hour

const day = 24 * time.Hour

// Entry is one notification in a sequence.
type Entry struct {
	Category  job.Category
	Offset    time.Duration
	Direction Direction
	Meta      map[string]string
}

// DueAt returns the absolute time the entry fires for the anchor.
func (e Entry) DueAt(anchor time.Time) time.Time {
	if e.Direction == BeforeAnchor {
		return anchor.Add(-e.Offset)
	}
	return anchor.Add(e.Offset)
}

var sequences = map[SequenceName][]Entry{
	SeqKYC: {
		{Category: job.KYCReminder48h, Offset: 48 * time.Hour},
		{Category: job.KYCReminder5d, Offset: 5 * day},
		{Category: job.KYCReminder10d, Offset: 10 * day},
	},
	SeqMeeting: {
		{Category: job.MeetingReminder24h, Offset: 24 * time.Hour, Direction: BeforeAnchor},
		{Category: job.MeetingReminder15m, Offset: 15 * time.Minute, Direction: BeforeAnchor},
		{Category: job.MeetingNoShowCheck, Offset: 30 * time.Minute},
	},
	SeqNurture: {
		{Category: job.NurtureDay15, Offset: 15 * day},
		{Category: job.NurtureDay23, Offset: 23 * day},
		{Category: job.NurtureDay30, Offset: 30 * day},
		{Category: job.NurtureDormantCloseout, Offset: 31 * day},
	},
	SeqInvestorOnboarding: {
		{Category: job.InvestorWelcome, Offset: 5 * time.Minute},
		{Category: job.InvestorActivationReminder3d, Offset: 3 * day},
		{Category: job.InvestorActivationReminder7d, Offset: 7 * day},
	},
	SeqCapitalCallReminders: {
		{Category: job.CapitalCallReminder7d, Offset: 7 * day, Direction: BeforeAnchor},
		{Category: job.CapitalCallReminder3d, Offset: 3 * day, Direction: BeforeAnchor},
		{Category: job.CapitalCallReminder1d, Offset: 1 * day, Direction: BeforeAnchor},
	},
	SeqCapitalCallPastDue: {
		{Category: job.CapitalCallPastDue, Offset: 0},
		{Category: job.CapitalCallPastDue7, Offset: 7 * day},
	},
	SeqTeamInvite: {
		inviteReminder(job.TeamInviteReminder1, 2*day),
		inviteReminder(job.TeamInviteReminder2, 6*day),
	},
}

func inviteReminder(c job.Category, after time.Duration) Entry {
	remaining := int((TeamInviteExpiry - after) / day)
	return Entry{
		Category: c,
		Offset:   after,
		Meta:     map[string]string{job.MetaDaysRemaining: fmt.Sprint(remaining)},
	}
}

// Sequence returns a copy of the entries scheduled for name, in order.
func Sequence(name SequenceName) ([]Entry, error) {
	entries, ok := sequences[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSequence, name)
	}
	out := make([]Entry, len(entries))
	for i, e := range entries {
		out[i] = e
		out[i].Meta = maps.Clone(e.Meta)
	}
	return out, nil
}

func Sequences() []SequenceName {
	return []SequenceName{
		SeqKYC,
		SeqMeeting,
		SeqNurture,
		SeqInvestorOnboarding,
		SeqCapitalCallReminders,
		SeqCapitalCallPastDue,
		SeqTeamInvite,
	}
}
