package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nudge/internal/entity"
	"nudge/internal/job"
)

func TestSequence(t *testing.T) {
	t.Run("Unknown", func(t *testing.T) {
		_, err := Sequence("bogus")
		assert.ErrorIs(t, err, ErrUnknownSequence)
	})

	t.Run("EveryCategoryScheduledOnce", func(t *testing.T) {
		seen := map[job.Category]SequenceName{}
		for _, name := range Sequences() {
			entries, err := Sequence(name)
			require.NoError(t, err)
			require.NotEmpty(t, entries)
			for _, e := range entries {
				_, ok := e.Category.Family()
				require.True(t, ok, "category %s has no family", e.Category)
				prev, dup := seen[e.Category]
				require.False(t, dup, "%s in %s and %s", e.Category, prev, name)
				seen[e.Category] = name
			}
		}
		for _, f := range []job.Family{job.FamilyProspect, job.FamilyInvestor, job.FamilyCapitalCall, job.FamilyTeamInvite} {
			for _, c := range job.Categories(f) {
				assert.Contains(t, seen, c)
			}
		}
	})

	t.Run("ReturnsCopy", func(t *testing.T) {
		a, _ := Sequence(SeqTeamInvite)
		a[0].Meta[job.MetaDaysRemaining] = "99"
		a[1].Offset = 0
		b, _ := Sequence(SeqTeamInvite)
		assert.Equal(t, "5", b[0].Meta[job.MetaDaysRemaining])
		assert.Equal(t, 6*24*time.Hour, b[1].Offset)
	})
}

func TestEntryDueAt(t *testing.T) {
	anchor := time.Date(2026, 1, 20, 10, 0, 0, 0, time.UTC)
	entries, err := Sequence(SeqCapitalCallReminders)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 1, 13, 10, 0, 0, 0, time.UTC), entries[0].DueAt(anchor))
	assert.Equal(t, time.Date(2026, 1, 19, 10, 0, 0, 0, time.UTC), entries[2].DueAt(anchor))

	meeting, _ := Sequence(SeqMeeting)
	assert.Equal(t, anchor.Add(30*time.Minute), meeting[2].DueAt(anchor))
	assert.Equal(t, anchor.Add(-15*time.Minute), meeting[1].DueAt(anchor))
}

func TestTeamInviteDaysRemaining(t *testing.T) {
	entries, err := Sequence(SeqTeamInvite)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "5", entries[0].Meta[job.MetaDaysRemaining])
	assert.Equal(t, "1", entries[1].Meta[job.MetaDaysRemaining])
	for _, e := range entries {
		assert.Less(t, e.Offset, TeamInviteExpiry)
	}
}

func TestSuppressed(t *testing.T) {
	tests := []struct {
		name   string
		family job.Family
		from   entity.State
		to     entity.State
		want   []job.Category
	}{
		{
			name:   "CapitalCallPaid",
			family: job.FamilyCapitalCall,
			from:   entity.CapitalCallPending,
			to:     entity.CapitalCallPaid,
			want:   []job.Category{job.CapitalCallReminder7d, job.CapitalCallReminder3d, job.CapitalCallReminder1d, job.CapitalCallPastDue, job.CapitalCallPastDue7},
		},
		{
			name:   "CapitalCallDefaulted",
			family: job.FamilyCapitalCall,
			from:   entity.CapitalCallPastDue,
			to:     entity.CapitalCallDefaulted,
			want:   []job.Category{job.CapitalCallPastDue, job.CapitalCallPastDue7},
		},
		{
			name:   "CapitalCallUnrelated",
			family: job.FamilyCapitalCall,
			from:   entity.CapitalCallPending,
			to:     entity.CapitalCallNew,
		},
		{
			name:   "KYCSubmitted",
			family: job.FamilyProspect,
			from:   entity.ProspectKYCSent,
			to:     entity.ProspectKYCSubmitted,
			want:   []job.Category{job.KYCReminder48h, job.KYCReminder5d, job.KYCReminder10d},
		},
		{
			name:   "KYCSubmittedFromElsewhere",
			family: job.FamilyProspect,
			from:   entity.ProspectContacted,
			to:     entity.ProspectKYCSubmitted,
		},
		{
			name:   "MeetingComplete",
			family: job.FamilyProspect,
			from:   entity.ProspectMeetingScheduled,
			to:     entity.ProspectMeetingComplete,
			want:   []job.Category{job.MeetingReminder24h, job.MeetingReminder15m, job.MeetingNoShowCheck},
		},
		{
			name:   "NurtureEnds",
			family: job.FamilyProspect,
			from:   entity.ProspectConsidering,
			to:     entity.ProspectAccountInviteSent,
			want:   []job.Category{job.NurtureDay15, job.NurtureDay23, job.NurtureDay30, job.NurtureDormantCloseout},
		},
		{
			name:   "InviteAccepted",
			family: job.FamilyTeamInvite,
			from:   entity.InvitePending,
			to:     entity.InviteAccepted,
			want:   []job.Category{job.TeamInviteReminder1, job.TeamInviteReminder2},
		},
		{
			name:   "InvestorActivated",
			family: job.FamilyInvestor,
			from:   entity.InvestorInvited,
			to:     entity.InvestorActive,
			want:   []job.Category{job.InvestorActivationReminder3d, job.InvestorActivationReminder7d},
		},
		{
			name:   "SameState",
			family: job.FamilyCapitalCall,
			from:   entity.CapitalCallPaid,
			to:     entity.CapitalCallPaid,
		},
		{
			name:   "WrongFamily",
			family: job.FamilyTeamInvite,
			from:   entity.CapitalCallPending,
			to:     entity.CapitalCallPaid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Suppressed(tt.family, tt.to, tt.from))
		})
	}

	t.Run("NotAFitFromAnyState", func(t *testing.T) {
		for _, from := range []entity.State{entity.ProspectNew, entity.ProspectKYCSent, entity.ProspectConsidering, ""} {
			got := Suppressed(job.FamilyProspect, entity.ProspectNotAFit, from)
			assert.ElementsMatch(t, job.Categories(job.FamilyProspect), got)
		}
	})
}

func TestRulesReferenceOwnFamily(t *testing.T) {
	for _, r := range Rules() {
		require.NotEmpty(t, r.Cancel)
		for _, c := range r.Cancel {
			f, ok := c.Family()
			require.True(t, ok)
			assert.Equal(t, r.Family, f, "rule %s->%s cancels %s", r.From, r.To, c)
		}
	}
}
