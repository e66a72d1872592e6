package library

import (
	"fmt"

	"campusvault.org/internal/identity"
)

// Canonical denial reasons. ReasonRestricted is a prefix; the full reason
// names the required institution.
const (
	ReasonSignInRequired  = "sign-in required"
	ReasonPendingApproval = "account pending institutional approval"
	ReasonPrivate         = "private resource: owner or explicit share only"
	reasonRestrictedFmt   = "restricted to members of %s"
)

// EvaluateAccess decides whether requester may open the resource. It is a pure
// function of its two snapshot arguments; requester is nil for anonymous
// callers.
//
// Rules apply in fixed precedence. Visibility and institution restriction are
// independent dimensions: the restriction check runs before the private-tier
// check and binds even the owner, while same-institution membership alone
// never opens a private resource.
func EvaluateAccess(resource Resource, requester *identity.User) AccessDecision {
	// Public, unrestricted: any signed-in caller. Identity is required to view
	// every resource, so anonymous callers are refused even here.
	if resource.Visibility != VisibilityPrivate && resource.RestrictedToInstitution == "" {
		if requester == nil {
			return AccessDecision{Allowed: false, Reason: ReasonSignInRequired}
		}
		return AccessDecision{Allowed: true}
	}

	if requester == nil {
		return AccessDecision{Allowed: false, Reason: ReasonSignInRequired}
	}

	if !requester.Eligible() {
		return AccessDecision{Allowed: false, Reason: ReasonPendingApproval}
	}

	if resource.RestrictedToInstitution != "" && requester.Institution != resource.RestrictedToInstitution {
		return AccessDecision{
			Allowed: false,
			Reason:  fmt.Sprintf(reasonRestrictedFmt, resource.RestrictedToInstitution),
		}
	}

	if resource.Visibility == VisibilityPrivate {
		if requester.ID == resource.OwnerID {
			return AccessDecision{Allowed: true}
		}
		if resource.SharedWithEmail(requester.Email) {
			return AccessDecision{Allowed: true}
		}
		return AccessDecision{Allowed: false, Reason: ReasonPrivate}
	}

	return AccessDecision{Allowed: true}
}

// DenialLabel maps a decision to a bounded metric label.
func DenialLabel(d AccessDecision) string {
	switch {
	case d.Allowed:
		return ""
	case d.Reason == ReasonSignInRequired:
		return "sign_in_required"
	case d.Reason == ReasonPendingApproval:
		return "pending_approval"
	case d.Reason == ReasonPrivate:
		return "private"
	default:
		return "institution_restricted"
	}
}
