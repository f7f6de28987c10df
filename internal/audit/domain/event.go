package domain

import "time"

// Auth event actions recorded by the service.
const (
	ActionSignUp               = "sign_up"
	ActionLoginSuccess         = "login_success"
	ActionLoginFailure         = "login_failure"
	ActionMailValidated        = "mail_validated"
	ActionResetRequested       = "reset_requested"
	ActionInviteSent           = "invite_sent"
	ActionPasswordSet          = "password_set"
	ActionImpersonationGranted = "impersonation_granted"
	ActionImpersonationDenied  = "impersonation_denied"
	ActionImpersonationRedeem  = "impersonation_redeemed"
)

// AuthEvent is one audited authentication event. Never carries credentials or
// raw tokens.
type AuthEvent struct {
	ID          string    `json:"id"`
	DirectoryID string    `json:"directoryId"`
	PartnerID   string    `json:"partnerId,omitempty"`
	ActorID     string    `json:"actorId,omitempty"`
	Action      string    `json:"action"`
	IP          string    `json:"ip,omitempty"`
	Metadata    string    `json:"metadata,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}
