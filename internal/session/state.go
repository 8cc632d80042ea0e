// Package session owns the authorization state of the client and drives it
// through the identity check, credential seeding and sign-out.
package session

import (
	"github.com/dimaakimm/hseai-session/internal/identity"
)

// Status is the discriminator of State
type Status string

const (
	StatusLoading      Status = "loading"
	StatusUnauthorized Status = "unauthorized"
	StatusAuthorized   Status = "authorized"
	StatusError        Status = "error"
)

// Reason tells a UI which remediation an error state calls for
type Reason string

const (
	// ReasonCredentialUnavailable means the identity is confirmed but the
	// model credential could not be obtained. Signing in again usually helps.
	ReasonCredentialUnavailable Reason = "credential_unavailable"
	// ReasonIdentityCheckFailed means the identity endpoint could not be
	// consulted. Waiting and retrying usually helps.
	ReasonIdentityCheckFailed Reason = "identity_check_failed"
)

const (
	messageCredentialUnavailable = "Signed in, but the model access token could not be obtained."
	messageIdentityCheckFailed   = "Could not verify authorization."
)

// State is one authorization state. Identity is set only when authorized,
// Message and Reason only on error.
type State struct {
	Status   Status             `json:"status"`
	Identity *identity.Identity `json:"me,omitempty"`
	Message  string             `json:"message,omitempty"`
	Reason   Reason             `json:"reason,omitempty"`
}

func loading() State      { return State{Status: StatusLoading} }
func unauthorized() State { return State{Status: StatusUnauthorized} }

func authorized(id *identity.Identity) State {
	return State{Status: StatusAuthorized, Identity: id}
}

func failed(reason Reason) State {
	msg := messageIdentityCheckFailed
	if reason == ReasonCredentialUnavailable {
		msg = messageCredentialUnavailable
	}
	return State{Status: StatusError, Message: msg, Reason: reason}
}

// Authorized reports whether s carries a confirmed identity.
func (s State) Authorized() bool {
	return s.Status == StatusAuthorized && s.Identity != nil
}
