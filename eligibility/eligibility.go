// Package eligibility derives licenseStatus and compactEligibility from raw
// provider facts. The derivation is pure and is re-run on every read of a
// provider view; stored status fields are never trusted as authoritative.
package eligibility

import (
	"time"

	"github.com/compactmgr/engine/types"
)

// compactTZ is the fixed UTC-4 offset used to resolve "today" for expiration
// comparisons. The offset is deliberately not daylight-saving aware so that
// the expiration boundary is unambiguous year-round.
var compactTZ = time.FixedZone("UTC-4", -4*60*60)

// LicenseStatus derives the effective license standing. A license is
// inactive when the jurisdiction reported it inactive or its expiration date
// has passed, where "today" is resolved in the fixed UTC-4 offset.
func LicenseStatus(raw types.LicenseStatus, expiration types.Date, now time.Time) types.LicenseStatus {
	if raw == types.LicenseStatusInactive {
		return types.LicenseStatusInactive
	}

	expires, err := expiration.Time()
	if err != nil {
		// An unparseable expiration cannot prove the license current.
		return types.LicenseStatusInactive
	}

	today := now.In(compactTZ)
	todayDate := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC)

	if expires.Before(todayDate) {
		return types.LicenseStatusInactive
	}

	return types.LicenseStatusActive
}

// CompactEligibility derives whether the provider may purchase privileges.
// The rules are independent of each other; any single disqualifier makes the
// provider ineligible.
func CompactEligibility(p *types.Provider, status types.LicenseStatus) types.CompactEligibility {
	if status == types.LicenseStatusInactive {
		return types.Ineligible
	}
	if p.EncumberedStatus == types.Encumbered {
		return types.Ineligible
	}
	if p.JurisdictionUploadedCompactEligibility == types.Ineligible {
		return types.Ineligible
	}
	if p.CurrentHomeJurisdiction != "" && p.CurrentHomeJurisdiction != p.LicenseJurisdiction {
		return types.Ineligible
	}

	return types.Eligible
}

// Apply recomputes both derived fields on the provider in place. Call this
// on every assembled view before it leaves the engine.
func Apply(p *types.Provider, now time.Time) {
	p.LicenseStatus = LicenseStatus(p.JurisdictionUploadedLicenseStatus, p.DateOfExpiration, now)
	p.CompactEligibility = CompactEligibility(p, p.LicenseStatus)
}
