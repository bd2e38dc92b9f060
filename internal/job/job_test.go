package job

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKey(t *testing.T) {
	t.Run("ProspectUsesShortForm", func(t *testing.T) {
		assert.Equal(t, "kyc_reminder_48h:p-1", Key(KYCReminder48h, "p-1"))
	})

	t.Run("CapitalCallIsNamespaced", func(t *testing.T) {
		assert.Equal(t, "capital_call_reminder_7d:capital_call:li-9", Key(CapitalCallReminder7d, "li-9"))
	})

	t.Run("TeamInviteIsNamespaced", func(t *testing.T) {
		assert.Equal(t, "team_invite_reminder_2:team_invite:inv-3", Key(TeamInviteReminder2, "inv-3"))
	})

	t.Run("Deterministic", func(t *testing.T) {
		assert.Equal(t, Key(NurtureDay15, "abc"), Key(NurtureDay15, "abc"))
	})

	t.Run("SameIDAcrossFamiliesDoesNotCollide", func(t *testing.T) {
		seen := map[string]Category{}
		for c := range families {
			k := Key(c, "42")
			prev, dup := seen[k]
			require.False(t, dup, "key %q shared by %s and %s", k, prev, c)
			seen[k] = c
		}
	})
}

func TestParseKey(t *testing.T) {
	for c := range families {
		cat, id, err := ParseKey(Key(c, "ent:with:colons"))
		require.NoError(t, err)
		assert.Equal(t, c, cat)
		assert.Equal(t, "ent:with:colons", id)
	}

	_, _, err := ParseKey("nope")
	assert.ErrorIs(t, err, ErrMalformedKey)

	_, _, err = ParseKey("not_a_category:1")
	assert.ErrorIs(t, err, ErrUnknownCategory)

	_, _, err = ParseKey("capital_call_past_due:team_invite:1")
	assert.ErrorIs(t, err, ErrMalformedKey)
}

func TestCategories(t *testing.T) {
	assert.Len(t, Categories(FamilyProspect), 10)
	assert.Len(t, Categories(FamilyInvestor), 3)
	assert.Len(t, Categories(FamilyCapitalCall), 5)
	assert.Len(t, Categories(FamilyTeamInvite), 2)
	assert.Empty(t, Categories(Family("fund")))
}

func TestPayloadJSON(t *testing.T) {
	anchor := time.Date(2026, 1, 20, 10, 0, 0, 0, time.FixedZone("x", 3600))
	p := Payload{
		Category: TeamInviteReminder1,
		EntityID: "inv-1",
		FundID:   "fund-1",
		Anchor:   anchor,
		Meta:     map[string]string{MetaDaysRemaining: "5"},
	}

	b, err := json.Marshal(p)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"anchor":"2026-01-20T09:00:00Z"`)
	assert.Contains(t, string(b), `"category":"team_invite_reminder_1"`)

	got, err := Decode(b)
	require.NoError(t, err)
	assert.True(t, anchor.Equal(got.Anchor))
	assert.Equal(t, p.Meta, got.Meta)
	assert.Equal(t, FamilyTeamInvite, got.Family())
	assert.Equal(t, "team_invite_reminder_1:team_invite:inv-1", got.Key())
}

func TestPayloadValidate(t *testing.T) {
	assert.NoError(t, Payload{Category: KYCReminder5d, EntityID: "p"}.Validate())
	assert.ErrorIs(t, Payload{Category: "bogus", EntityID: "p"}.Validate(), ErrUnknownCategory)
	assert.Error(t, Payload{Category: KYCReminder5d}.Validate())
}
