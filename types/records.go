package types

import (
	"fmt"
	"time"
)

// RecordType tags every item stored in a provider partition. GetProvider
// classifies items by this attribute, never by sort-key shape.
type RecordType string

const (
	RecordTypeProvider      RecordType = "provider"
	RecordTypeLicense       RecordType = "license"
	RecordTypePrivilege     RecordType = "privilege"
	RecordTypeAdverseAction RecordType = "adverseAction"
	RecordTypeInvestigation RecordType = "investigation"
	RecordTypeUpdate        RecordType = "update"
)

// LicenseStatus is a jurisdiction-reported or derived license standing.
type LicenseStatus string

const (
	LicenseStatusActive   LicenseStatus = "active"
	LicenseStatusInactive LicenseStatus = "inactive"
)

func (s LicenseStatus) Valid() bool {
	return s == LicenseStatusActive || s == LicenseStatusInactive
}

// CompactEligibility reports whether a provider may purchase privileges.
type CompactEligibility string

const (
	Eligible   CompactEligibility = "eligible"
	Ineligible CompactEligibility = "ineligible"
)

func (e CompactEligibility) Valid() bool {
	return e == Eligible || e == Ineligible
}

// EncumberedStatus reports whether a disciplinary restriction is in effect.
type EncumberedStatus string

const (
	Encumbered   EncumberedStatus = "encumbered"
	Unencumbered EncumberedStatus = "unencumbered"
)

// PersistedStatus is the stored active/inactive flag on a privilege. Unlike
// licenseStatus it is authoritative: privileges are deactivated by writes,
// not derived on read.
type PersistedStatus string

const (
	PersistedStatusActive   PersistedStatus = "active"
	PersistedStatusInactive PersistedStatus = "inactive"
)

// UpdateTier orders update-history records within a partition so a range
// query can fetch a bounded subset. Lower tiers sort first; a query for
// tiers <= t uses sk < the tier t+1 prefix as its upper bound.
type UpdateTier int

const (
	TierPrivilege UpdateTier = 1
	TierProvider  UpdateTier = 2
	TierLicense   UpdateTier = 3
)

// Date is a calendar date in "2006-01-02" form. Dates are stored as strings
// so records round-trip through the storage layer byte-for-byte.
type Date string

// DateLayout is the wire format for [Date] values.
const DateLayout = "2006-01-02"

// Time parses the date. The zero Date returns an error.
func (d Date) Time() (time.Time, error) {
	return time.Parse(DateLayout, string(d))
}

func (d Date) Valid() bool {
	_, err := d.Time()
	return err == nil
}

// Provider is the one-per-(compact, providerId) identity record. Its
// jurisdictionUploaded* fields mirror the most recently ingested license and
// feed derived status computation; they are never served as authoritative.
type Provider struct {
	Type                    RecordType `dynamodbav:"type" json:"type"`
	ProviderID              string     `dynamodbav:"providerId" json:"providerId"`
	Compact                 string     `dynamodbav:"compact" json:"compact"`
	GivenName               string     `dynamodbav:"givenName" json:"givenName"`
	MiddleName              string     `dynamodbav:"middleName,omitempty" json:"middleName,omitempty"`
	FamilyName              string     `dynamodbav:"familyName" json:"familyName"`
	DateOfBirth             Date       `dynamodbav:"dateOfBirth,omitempty" json:"dateOfBirth,omitempty"`
	SSNLastFour             string     `dynamodbav:"ssnLastFour,omitempty" json:"ssnLastFour,omitempty"`
	NPI                     string     `dynamodbav:"npi,omitempty" json:"npi,omitempty"`
	LicenseJurisdiction     string     `dynamodbav:"licenseJurisdiction" json:"licenseJurisdiction"`
	CurrentHomeJurisdiction string     `dynamodbav:"currentHomeJurisdiction,omitempty" json:"currentHomeJurisdiction,omitempty"`

	JurisdictionUploadedLicenseStatus      LicenseStatus      `dynamodbav:"jurisdictionUploadedLicenseStatus" json:"jurisdictionUploadedLicenseStatus"`
	JurisdictionUploadedCompactEligibility CompactEligibility `dynamodbav:"jurisdictionUploadedCompactEligibility" json:"jurisdictionUploadedCompactEligibility"`
	EncumberedStatus                       EncumberedStatus   `dynamodbav:"encumberedStatus,omitempty" json:"encumberedStatus,omitempty"`
	DateOfExpiration                       Date               `dynamodbav:"dateOfExpiration" json:"dateOfExpiration"`

	PrivilegeJurisdictions []string              `dynamodbav:"privilegeJurisdictions,stringset,omitemptyelem,omitempty" json:"privilegeJurisdictions,omitempty"`
	MilitaryAffiliations   []MilitaryAffiliation `dynamodbav:"militaryAffiliations,omitempty" json:"militaryAffiliations,omitempty"`

	RegisteredEmailAddress string `dynamodbav:"compactConnectRegisteredEmailAddress,omitempty" json:"compactConnectRegisteredEmailAddress,omitempty"`
	CognitoSub             string `dynamodbav:"cognitoSub,omitempty" json:"cognitoSub,omitempty"`

	DateOfUpdate time.Time `dynamodbav:"dateOfUpdate" json:"dateOfUpdate"`

	// Derived on read by the eligibility package; never persisted as
	// authoritative.
	LicenseStatus      LicenseStatus      `dynamodbav:"-" json:"licenseStatus,omitempty"`
	CompactEligibility CompactEligibility `dynamodbav:"-" json:"compactEligibility,omitempty"`
}

// MilitaryAffiliation is a provider-attached sub-record whose document keys
// are private and subject to redaction.
type MilitaryAffiliation struct {
	AffiliationType string   `dynamodbav:"affiliationType" json:"affiliationType"`
	DateOfUpload    Date     `dynamodbav:"dateOfUpload" json:"dateOfUpload"`
	Status          string   `dynamodbav:"status" json:"status"`
	DocumentKeys    []string `dynamodbav:"documentKeys,omitempty" json:"documentKeys,omitempty"`
}

func (p *Provider) Validate() error {
	fields := map[string]string{}

	if p.ProviderID == "" {
		fields["providerId"] = "required"
	}
	if p.Compact == "" {
		fields["compact"] = "required"
	}
	if p.GivenName == "" {
		fields["givenName"] = "required"
	}
	if p.FamilyName == "" {
		fields["familyName"] = "required"
	}
	if p.LicenseJurisdiction == "" {
		fields["licenseJurisdiction"] = "required"
	}
	if !p.JurisdictionUploadedLicenseStatus.Valid() {
		fields["jurisdictionUploadedLicenseStatus"] = "must be active or inactive"
	}
	if !p.JurisdictionUploadedCompactEligibility.Valid() {
		fields["jurisdictionUploadedCompactEligibility"] = "must be eligible or ineligible"
	}
	if !p.DateOfExpiration.Valid() {
		fields["dateOfExpiration"] = "must be a YYYY-MM-DD date"
	}
	if p.DateOfBirth != "" && !p.DateOfBirth.Valid() {
		fields["dateOfBirth"] = "must be a YYYY-MM-DD date"
	}
	if p.SSNLastFour != "" && len(p.SSNLastFour) != 4 {
		fields["ssnLastFour"] = "must be exactly four digits"
	}

	return newValidationError(fields)
}

// License is the raw jurisdiction-submitted fact set for one
// compact+jurisdiction+licenseType+provider. It is immutable except by full
// re-ingest or a license.deactivation event.
type License struct {
	Type         RecordType `dynamodbav:"type" json:"type"`
	ProviderID   string     `dynamodbav:"providerId" json:"providerId"`
	Compact      string     `dynamodbav:"compact" json:"compact"`
	Jurisdiction string     `dynamodbav:"jurisdiction" json:"jurisdiction"`
	LicenseType  string     `dynamodbav:"licenseType" json:"licenseType"`

	GivenName   string `dynamodbav:"givenName" json:"givenName"`
	MiddleName  string `dynamodbav:"middleName,omitempty" json:"middleName,omitempty"`
	FamilyName  string `dynamodbav:"familyName" json:"familyName"`
	DateOfBirth Date   `dynamodbav:"dateOfBirth,omitempty" json:"dateOfBirth,omitempty"`
	NPI         string `dynamodbav:"npi,omitempty" json:"npi,omitempty"`

	LicenseNumber      string             `dynamodbav:"licenseNumber,omitempty" json:"licenseNumber,omitempty"`
	LicenseStatus      LicenseStatus      `dynamodbav:"licenseStatus" json:"licenseStatus"`
	CompactEligibility CompactEligibility `dynamodbav:"compactEligibility" json:"compactEligibility"`

	DateOfIssuance   Date `dynamodbav:"dateOfIssuance" json:"dateOfIssuance"`
	DateOfRenewal    Date `dynamodbav:"dateOfRenewal,omitempty" json:"dateOfRenewal,omitempty"`
	DateOfExpiration Date `dynamodbav:"dateOfExpiration" json:"dateOfExpiration"`

	HomeAddressStreet1    string `dynamodbav:"homeAddressStreet1,omitempty" json:"homeAddressStreet1,omitempty"`
	HomeAddressStreet2    string `dynamodbav:"homeAddressStreet2,omitempty" json:"homeAddressStreet2,omitempty"`
	HomeAddressCity       string `dynamodbav:"homeAddressCity,omitempty" json:"homeAddressCity,omitempty"`
	HomeAddressState      string `dynamodbav:"homeAddressState,omitempty" json:"homeAddressState,omitempty"`
	HomeAddressPostalCode string `dynamodbav:"homeAddressPostalCode,omitempty" json:"homeAddressPostalCode,omitempty"`
	EmailAddress          string `dynamodbav:"emailAddress,omitempty" json:"emailAddress,omitempty"`
	PhoneNumber           string `dynamodbav:"phoneNumber,omitempty" json:"phoneNumber,omitempty"`

	DocumentKeys []string `dynamodbav:"documentKeys,omitempty" json:"documentKeys,omitempty"`

	DateOfUpdate time.Time `dynamodbav:"dateOfUpdate" json:"dateOfUpdate"`
}

func (l *License) Validate() error {
	fields := map[string]string{}

	if l.ProviderID == "" {
		fields["providerId"] = "required"
	}
	if l.Compact == "" {
		fields["compact"] = "required"
	}
	if l.Jurisdiction == "" {
		fields["jurisdiction"] = "required"
	}
	if l.LicenseType == "" {
		fields["licenseType"] = "required"
	}
	if l.GivenName == "" {
		fields["givenName"] = "required"
	}
	if l.FamilyName == "" {
		fields["familyName"] = "required"
	}
	if !l.LicenseStatus.Valid() {
		fields["licenseStatus"] = "must be active or inactive"
	}
	if !l.CompactEligibility.Valid() {
		fields["compactEligibility"] = "must be eligible or ineligible"
	}
	if !l.DateOfIssuance.Valid() {
		fields["dateOfIssuance"] = "must be a YYYY-MM-DD date"
	}
	if !l.DateOfExpiration.Valid() {
		fields["dateOfExpiration"] = "must be a YYYY-MM-DD date"
	}
	if l.DateOfRenewal != "" && !l.DateOfRenewal.Valid() {
		fields["dateOfRenewal"] = "must be a YYYY-MM-DD date"
	}

	return newValidationError(fields)
}

// Privilege is a cross-state practice grant purchased against a home-state
// license. One record per compact+jurisdiction+licenseType+provider.
type Privilege struct {
	Type         RecordType `dynamodbav:"type" json:"type"`
	ProviderID   string     `dynamodbav:"providerId" json:"providerId"`
	Compact      string     `dynamodbav:"compact" json:"compact"`
	Jurisdiction string     `dynamodbav:"jurisdiction" json:"jurisdiction"`
	LicenseType  string     `dynamodbav:"licenseType" json:"licenseType"`

	// LicenseJurisdiction names the home-state license the grant was issued
	// against; a deactivation of that license cascades here.
	LicenseJurisdiction string `dynamodbav:"licenseJurisdiction" json:"licenseJurisdiction"`

	DateOfIssuance   Date            `dynamodbav:"dateOfIssuance" json:"dateOfIssuance"`
	DateOfExpiration Date            `dynamodbav:"dateOfExpiration" json:"dateOfExpiration"`
	PersistedStatus  PersistedStatus `dynamodbav:"persistedStatus" json:"persistedStatus"`

	CompactTransactionID string `dynamodbav:"compactTransactionId,omitempty" json:"compactTransactionId,omitempty"`

	DateOfUpdate time.Time `dynamodbav:"dateOfUpdate" json:"dateOfUpdate"`
}

func (p *Privilege) Validate() error {
	fields := map[string]string{}

	if p.ProviderID == "" {
		fields["providerId"] = "required"
	}
	if p.Compact == "" {
		fields["compact"] = "required"
	}
	if p.Jurisdiction == "" {
		fields["jurisdiction"] = "required"
	}
	if p.LicenseType == "" {
		fields["licenseType"] = "required"
	}
	if p.LicenseJurisdiction == "" {
		fields["licenseJurisdiction"] = "required"
	}
	if p.PersistedStatus != PersistedStatusActive && p.PersistedStatus != PersistedStatusInactive {
		fields["persistedStatus"] = "must be active or inactive"
	}
	if !p.DateOfIssuance.Valid() {
		fields["dateOfIssuance"] = "must be a YYYY-MM-DD date"
	}
	if !p.DateOfExpiration.Valid() {
		fields["dateOfExpiration"] = "must be a YYYY-MM-DD date"
	}

	return newValidationError(fields)
}

// AdverseAction is an append-only disciplinary fact. Lift* fields are
// terminal: once set the encumbrance is no longer in effect.
type AdverseAction struct {
	Type         RecordType `dynamodbav:"type" json:"type"`
	ID           string     `dynamodbav:"adverseActionId" json:"adverseActionId"`
	ProviderID   string     `dynamodbav:"providerId" json:"providerId"`
	Compact      string     `dynamodbav:"compact" json:"compact"`
	Jurisdiction string     `dynamodbav:"jurisdiction" json:"jurisdiction"`
	LicenseType  string     `dynamodbav:"licenseType" json:"licenseType"`

	// ActionAgainst is "license" or "privilege".
	ActionAgainst      string `dynamodbav:"actionAgainst" json:"actionAgainst"`
	ClinicalCategory   string `dynamodbav:"clinicalPrivilegeActionCategory,omitempty" json:"clinicalPrivilegeActionCategory,omitempty"`
	EffectiveStartDate Date   `dynamodbav:"effectiveStartDate" json:"effectiveStartDate"`

	CreationDate time.Time `dynamodbav:"creationDate" json:"creationDate"`
	SubmittedBy  string    `dynamodbav:"submittedBy,omitempty" json:"submittedBy,omitempty"`

	EffectiveLiftDate Date   `dynamodbav:"effectiveLiftDate,omitempty" json:"effectiveLiftDate,omitempty"`
	LiftedBy          string `dynamodbav:"liftedBy,omitempty" json:"liftedBy,omitempty"`
}

// Lifted reports whether the encumbrance has been terminally lifted.
func (a *AdverseAction) Lifted() bool {
	return a.EffectiveLiftDate != ""
}

func (a *AdverseAction) Validate() error {
	fields := map[string]string{}

	if a.ID == "" {
		fields["adverseActionId"] = "required"
	}
	if a.ProviderID == "" {
		fields["providerId"] = "required"
	}
	if a.Compact == "" {
		fields["compact"] = "required"
	}
	if a.Jurisdiction == "" {
		fields["jurisdiction"] = "required"
	}
	if a.ActionAgainst != "license" && a.ActionAgainst != "privilege" {
		fields["actionAgainst"] = "must be license or privilege"
	}
	if !a.EffectiveStartDate.Valid() {
		fields["effectiveStartDate"] = "must be a YYYY-MM-DD date"
	}

	return newValidationError(fields)
}

// Investigation is an append-only fact recording an open inquiry. CloseDate
// is terminal.
type Investigation struct {
	Type         RecordType `dynamodbav:"type" json:"type"`
	ID           string     `dynamodbav:"investigationId" json:"investigationId"`
	ProviderID   string     `dynamodbav:"providerId" json:"providerId"`
	Compact      string     `dynamodbav:"compact" json:"compact"`
	Jurisdiction string     `dynamodbav:"jurisdiction" json:"jurisdiction"`

	CreationDate time.Time `dynamodbav:"creationDate" json:"creationDate"`
	SubmittedBy  string    `dynamodbav:"submittedBy,omitempty" json:"submittedBy,omitempty"`

	CloseDate Date   `dynamodbav:"closeDate,omitempty" json:"closeDate,omitempty"`
	ClosedBy  string `dynamodbav:"closedBy,omitempty" json:"closedBy,omitempty"`
}

func (i *Investigation) Validate() error {
	fields := map[string]string{}

	if i.ID == "" {
		fields["investigationId"] = "required"
	}
	if i.ProviderID == "" {
		fields["providerId"] = "required"
	}
	if i.Compact == "" {
		fields["compact"] = "required"
	}
	if i.Jurisdiction == "" {
		fields["jurisdiction"] = "required"
	}

	return newValidationError(fields)
}

// Update is an immutable history snapshot written on every mutation of a
// privilege, provider or license record. Previous holds the full prior
// state; UpdatedValues holds only the fields that changed.
type Update struct {
	Type       RecordType `dynamodbav:"type" json:"type"`
	ID         string     `dynamodbav:"updateId" json:"updateId"`
	ProviderID string     `dynamodbav:"providerId" json:"providerId"`
	Compact    string     `dynamodbav:"compact" json:"compact"`
	Tier       UpdateTier `dynamodbav:"tier" json:"tier"`

	Jurisdiction string `dynamodbav:"jurisdiction,omitempty" json:"jurisdiction,omitempty"`
	LicenseType  string `dynamodbav:"licenseType,omitempty" json:"licenseType,omitempty"`

	// UpdateType is "creation", "update" or "deactivation".
	UpdateType string `dynamodbav:"updateType" json:"updateType"`

	Previous      map[string]any `dynamodbav:"previous" json:"previous"`
	UpdatedValues map[string]any `dynamodbav:"updatedValues" json:"updatedValues"`

	Timestamp time.Time `dynamodbav:"timestamp" json:"timestamp"`
}

// UserPermission is the stored per-(user, compact) grant set from which a
// caller's scope set is computed at token issuance time.
type UserPermission struct {
	UserID  string `dynamodbav:"userId" json:"userId"`
	Compact string `dynamodbav:"compact" json:"compact"`

	CompactActions      []string            `dynamodbav:"compactActions,stringset,omitemptyelem,omitempty" json:"compactActions,omitempty"`
	JurisdictionActions map[string][]string `dynamodbav:"jurisdictionActions,omitempty" json:"jurisdictionActions,omitempty"`
}

// ProviderDetails is the aggregated point-in-time view assembled from one
// provider partition. Mutually consistent only at the instant of the read.
type ProviderDetails struct {
	Provider       Provider        `json:"provider"`
	Licenses       []License       `json:"licenses"`
	Privileges     []Privilege     `json:"privileges"`
	AdverseActions []AdverseAction `json:"adverseActions"`
	Investigations []Investigation `json:"investigations"`
	History        []Update        `json:"history,omitempty"`
}

// Key identifies a privilege within a compact partition.
func (p *Privilege) Key() string {
	return fmt.Sprintf("%s/%s/%s", p.Jurisdiction, p.LicenseType, p.ProviderID)
}
