// Package sanitize filters an aggregated provider view down to what the
// caller's scope set allows. Redaction fails closed: when private visibility
// cannot be established, private fields are removed entirely, never masked.
//
// Sanitization is evaluated per request and never cached, since a caller's
// scopes can change between requests.
package sanitize

import (
	"github.com/compactmgr/engine/scopes"
	"github.com/compactmgr/engine/types"
)

// CanViewPrivate reports whether the caller has private visibility into the
// provider: a compact-level readPrivate, or a jurisdiction-level readPrivate
// for the provider's license jurisdiction or any privilege jurisdiction.
func CanViewPrivate(details *types.ProviderDetails, scopeSet scopes.Set) bool {
	compact := details.Provider.Compact

	if scopeSet.Contains(scopes.CompactScope(compact, scopes.ActionReadPrivate)) {
		return true
	}

	if j := details.Provider.LicenseJurisdiction; j != "" {
		if scopeSet.Contains(scopes.JurisdictionScope(j, compact, scopes.ActionReadPrivate)) {
			return true
		}
	}

	for _, j := range details.Provider.PrivilegeJurisdictions {
		if scopeSet.Contains(scopes.JurisdictionScope(j, compact, scopes.ActionReadPrivate)) {
			return true
		}
	}

	return false
}

// Sanitize returns a copy of details with private fields removed unless the
// caller holds private visibility. The input is never mutated.
func Sanitize(details *types.ProviderDetails, scopeSet scopes.Set) *types.ProviderDetails {
	out := cloneDetails(details)

	if CanViewPrivate(details, scopeSet) {
		return out
	}

	out.Provider.SSNLastFour = ""
	out.Provider.DateOfBirth = ""

	for i := range out.Provider.MilitaryAffiliations {
		out.Provider.MilitaryAffiliations[i].DocumentKeys = nil
	}

	for i := range out.Licenses {
		out.Licenses[i].DateOfBirth = ""
		out.Licenses[i].DocumentKeys = nil
	}

	return out
}

// cloneDetails deep-copies the slices that Sanitize mutates.
func cloneDetails(details *types.ProviderDetails) *types.ProviderDetails {
	out := &types.ProviderDetails{
		Provider:       details.Provider,
		Licenses:       append([]types.License(nil), details.Licenses...),
		Privileges:     append([]types.Privilege(nil), details.Privileges...),
		AdverseActions: append([]types.AdverseAction(nil), details.AdverseActions...),
		Investigations: append([]types.Investigation(nil), details.Investigations...),
		History:        append([]types.Update(nil), details.History...),
	}

	out.Provider.MilitaryAffiliations = append([]types.MilitaryAffiliation(nil), details.Provider.MilitaryAffiliations...)

	return out
}
