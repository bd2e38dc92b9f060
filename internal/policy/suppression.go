package policy

import (
	"nudge/internal/entity"
	"nudge/internal/job"
)

// AnyState matches every previous state.
const AnyState entity.State = "*"

// Rule cancels a set of categories when an entity of Family moves from
// From (or any state, for AnyState) to To.
type Rule struct {
	Family job.Family
	From   entity.State
	To     entity.State
	Cancel []job.Category
}

func (r Rule) Matches(f job.Family, to, from entity.State) bool {
	if r.Family != f || r.To != to {
		return false
	}
	return r.From == AnyState || r.From == from
}

var (
	kycSet = []job.Category{
		job.KYCReminder48h, job.KYCReminder5d, job.KYCReminder10d,
	}
	meetingSet = []job.Category{
		job.MeetingReminder24h, job.MeetingReminder15m, job.MeetingNoShowCheck,
	}
	nurtureSet = []job.Category{
		job.NurtureDay15, job.NurtureDay23, job.NurtureDay30, job.NurtureDormantCloseout,
	}
	prospectAll = concat(kycSet, meetingSet, nurtureSet)

	activationSet = []job.Category{
		job.InvestorActivationReminder3d, job.InvestorActivationReminder7d,
	}
	onboardingAll = concat([]job.Category{job.InvestorWelcome}, activationSet)

	callReminderSet = []job.Category{
		job.CapitalCallReminder7d, job.CapitalCallReminder3d, job.CapitalCallReminder1d,
	}
	callPastDueSet = []job.Category{
		job.CapitalCallPastDue, job.CapitalCallPastDue7,
	}
	callAll = concat(callReminderSet, callPastDueSet)

	inviteSet = []job.Category{
		job.TeamInviteReminder1, job.TeamInviteReminder2,
	}
)

// rules is the complete suppression table. Every row is evaluated; a
// transition may match more than one row.
var rules = []Rule{
	{job.FamilyProspect, entity.ProspectKYCSent, entity.ProspectKYCSubmitted, kycSet},
	{job.FamilyProspect, entity.ProspectKYCSent, entity.ProspectPreQualified, kycSet},
	{job.FamilyProspect, entity.ProspectKYCSent, entity.ProspectNotEligible, kycSet},
	{job.FamilyProspect, entity.ProspectMeetingScheduled, entity.ProspectMeetingComplete, meetingSet},
	{job.FamilyProspect, entity.ProspectConsidering, entity.ProspectAccountInviteSent, nurtureSet},
	{job.FamilyProspect, AnyState, entity.ProspectNotAFit, prospectAll},
	{job.FamilyProspect, AnyState, entity.ProspectConverted, prospectAll},

	{job.FamilyInvestor, entity.InvestorInvited, entity.InvestorActive, activationSet},
	{job.FamilyInvestor, AnyState, entity.InvestorArchived, onboardingAll},

	{job.FamilyCapitalCall, AnyState, entity.CapitalCallPaid, callAll},
	{job.FamilyCapitalCall, AnyState, entity.CapitalCallCancelled, callAll},
	{job.FamilyCapitalCall, AnyState, entity.CapitalCallDefaulted, callPastDueSet},

	{job.FamilyTeamInvite, entity.InvitePending, entity.InviteAccepted, inviteSet},
	{job.FamilyTeamInvite, entity.InvitePending, entity.InviteRevoked, inviteSet},
	{job.FamilyTeamInvite, entity.InvitePending, entity.InviteExpired, inviteSet},
}

// Suppressed returns the categories to cancel for a transition, without
// duplicates and in table order. A transition to the same state cancels nothing.
func Suppressed(f job.Family, to, from entity.State) []job.Category {
	if to == from {
		return nil
	}
	var out []job.Category
	seen := map[job.Category]bool{}
	for _, r := range rules {
		if !r.Matches(f, to, from) {
			continue
		}
		for _, c := range r.Cancel {
			if !seen[c] {
				seen[c] = true
				out = append(out, c)
			}
		}
	}
	return out
}

// Rules returns a copy of the suppression table.
func Rules() []Rule {
	out := make([]Rule, len(rules))
	copy(out, rules)
	return out
}

func concat(sets ...[]job.Category) []job.Category {
	var out []job.Category
	for _, s := range sets {
		out = append(out, s...)
	}
	return out
}
