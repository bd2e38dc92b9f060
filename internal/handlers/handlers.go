// Package handlers builds the worker's dispatch tables. Every handler
// re-reads the entity and sends only if the entity is still in a state the
// notification assumes.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"nudge/internal/entity"
	"nudge/internal/job"
	"nudge/internal/sender"
	"nudge/internal/worker"
)

// Deps are shared by all handler tables.
type Deps struct {
	Lookup entity.Lookup
	Sender sender.Sender
	Now    func() time.Time
}

func (d Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// expects lists the entity states each notification is still valid in.
var expects = map[job.Category][]entity.State{
	job.KYCReminder48h: {entity.ProspectKYCSent},
	job.KYCReminder5d:  {entity.ProspectKYCSent},
	job.KYCReminder10d: {entity.ProspectKYCSent},

	job.MeetingReminder24h: {entity.ProspectMeetingScheduled},
	job.MeetingReminder15m: {entity.ProspectMeetingScheduled},
	job.MeetingNoShowCheck: {entity.ProspectMeetingScheduled},

	job.NurtureDay15:           {entity.ProspectConsidering},
	job.NurtureDay23:           {entity.ProspectConsidering},
	job.NurtureDay30:           {entity.ProspectConsidering},
	job.NurtureDormantCloseout: {entity.ProspectConsidering},

	job.InvestorWelcome:              {entity.InvestorInvited, entity.InvestorActive},
	job.InvestorActivationReminder3d: {entity.InvestorInvited},
	job.InvestorActivationReminder7d: {entity.InvestorInvited},

	job.CapitalCallReminder7d: {entity.CapitalCallNew, entity.CapitalCallPending, entity.CapitalCallPartiallyPaid},
	job.CapitalCallReminder3d: {entity.CapitalCallNew, entity.CapitalCallPending, entity.CapitalCallPartiallyPaid},
	job.CapitalCallReminder1d: {entity.CapitalCallNew, entity.CapitalCallPending, entity.CapitalCallPartiallyPaid},
	job.CapitalCallPastDue:    {entity.CapitalCallPending, entity.CapitalCallPartiallyPaid, entity.CapitalCallPastDue},
	job.CapitalCallPastDue7:   {entity.CapitalCallPending, entity.CapitalCallPartiallyPaid, entity.CapitalCallPastDue},

	job.TeamInviteReminder1: {entity.InvitePending},
	job.TeamInviteReminder2: {entity.InvitePending},
}

// Expects returns the states a category's handler sends in.
func Expects(c job.Category) []entity.State {
	return slices.Clone(expects[c])
}

// check returns a skip reason, or "" to go on sending.
type check func(p job.Payload, s entity.Snapshot, now time.Time) string

// meetingUnchanged compares at microsecond precision: the anchor has been
// through JSON and the snapshot through Postgres, which drops nanoseconds.
func meetingUnchanged(p job.Payload, s entity.Snapshot, _ time.Time) string {
	if s.MeetingAt == nil || !s.MeetingAt.Truncate(time.Microsecond).Equal(p.Anchor.Truncate(time.Microsecond)) {
		return "meeting was rescheduled"
	}
	return ""
}

func inviteLive(_ job.Payload, s entity.Snapshot, now time.Time) string {
	if s.ExpiresAt != nil && !now.Before(*s.ExpiresAt) {
		return "invite expired"
	}
	return ""
}

var extra = map[job.Category][]check{
	job.MeetingReminder24h:  {meetingUnchanged},
	job.MeetingReminder15m:  {meetingUnchanged},
	job.MeetingNoShowCheck:  {meetingUnchanged},
	job.TeamInviteReminder1: {inviteLive},
	job.TeamInviteReminder2: {inviteLive},
}

func Prospect(d Deps) worker.Table    { return d.table(job.FamilyProspect) }
func Investor(d Deps) worker.Table    { return d.table(job.FamilyInvestor) }
func CapitalCall(d Deps) worker.Table { return d.table(job.FamilyCapitalCall) }
func TeamInvite(d Deps) worker.Table  { return d.table(job.FamilyTeamInvite) }

// All returns one table per family.
func All(d Deps) []worker.Table {
	return []worker.Table{Prospect(d), Investor(d), CapitalCall(d), TeamInvite(d)}
}

func (d Deps) table(f job.Family) worker.Table {
	t := worker.Table{}
	for _, c := range job.Categories(f) {
		t[c] = d.handler(expects[c], extra[c]...)
	}
	return t
}

func (d Deps) handler(states []entity.State, checks ...check) worker.Handler {
	return func(ctx context.Context, p job.Payload) error {
		s, err := d.Lookup.Get(ctx, p.Family(), p.EntityID)
		if errors.Is(err, entity.ErrNotFound) {
			return worker.Skip("entity not found")
		}
		if err != nil {
			return fmt.Errorf("lookup %s: %w", p.Key(), err)
		}
		if !slices.Contains(states, s.State) {
			return worker.Skip(fmt.Sprintf("state is %s", s.State))
		}
		now := d.now()
		for _, c := range checks {
			if reason := c(p, s, now); reason != "" {
				return worker.Skip(reason)
			}
		}
		if s.Email == "" {
			return worker.Skip("no recipient")
		}
		if err := d.Sender.Send(ctx, message(p, s)); err != nil {
			return fmt.Errorf("notify %s: %w", p.Key(), err)
		}
		return nil
	}
}

func message(p job.Payload, s entity.Snapshot) sender.Message {
	params := maps.Clone(p.Meta)
	if params == nil {
		params = map[string]string{}
	}
	delete(params, job.MetaSequence)
	params["entity_id"] = s.ID
	params["anchor"] = p.Anchor.UTC().Format(time.RFC3339)
	if s.Name != "" {
		params["name"] = s.Name
	}
	if s.MeetingAt != nil {
		params["meeting_at"] = s.MeetingAt.UTC().Format(time.RFC3339)
	}
	if s.DueDate != nil {
		params["due_date"] = s.DueDate.UTC().Format(time.RFC3339)
	}
	if s.AmountDue != "" {
		params["amount_due"] = s.AmountDue
	}
	if s.ExpiresAt != nil {
		params["expires_at"] = s.ExpiresAt.UTC().Format(time.RFC3339)
	}
	if s.Role != "" {
		params["role"] = s.Role
	}
	return sender.Message{
		Recipient: s.Email,
		Template:  string(p.Category),
		FundID:    p.FundID,
		Params:    params,
	}
}
