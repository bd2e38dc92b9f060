package entity

// State is a lifecycle state. The set of valid values depends on the family.
type State string

// Prospect pipeline.
const (
	ProspectNew               State = "new"
	ProspectContacted         State = "contacted"
	ProspectKYCSent           State = "kyc_sent"
	ProspectKYCSubmitted      State = "kyc_submitted"
	ProspectPreQualified      State = "pre_qualified"
	ProspectNotEligible       State = "not_eligible"
	ProspectMeetingScheduled  State = "meeting_scheduled"
	ProspectMeetingComplete   State = "meeting_complete"
	ProspectConsidering       State = "considering"
	ProspectAccountInviteSent State = "account_invite_sent"
	ProspectConverted         State = "converted"
	ProspectDormant           State = "dormant"
	ProspectNotAFit           State = "not_a_fit"
)

// Investor accounts.
const (
	InvestorInvited   State = "invited"
	InvestorActive    State = "active"
	InvestorSuspended State = "suspended"
	InvestorArchived  State = "archived"
)

// Capital call line items.
const (
	CapitalCallNew           State = "new"
	CapitalCallPending       State = "pending"
	CapitalCallPartiallyPaid State = "partially_paid"
	CapitalCallPaid          State = "paid"
	CapitalCallPastDue       State = "past_due"
	CapitalCallDefaulted     State = "defaulted"
	CapitalCallCancelled     State = "cancelled"
)

// Team invites.
const (
	InvitePending  State = "pending"
	InviteAccepted State = "accepted"
	InviteRevoked  State = "revoked"
	InviteExpired  State = "expired"
)
