// Package types defines the shared record and event types for the compact
// provider-data engine, along with the error taxonomy and the [Logger]
// interface consumed by the infrastructure clients.
//
// # Records
//
// Every persisted fact about a provider is an independently-updatable record:
// [Provider], [License], [Privilege], [AdverseAction], [Investigation] and
// [Update] (history snapshots). Records carry `dynamodbav` tags and are
// marshalled at the storage boundary; key attributes (pk/sk) are derived by
// the storage layer, never stored on the types themselves.
//
// Each record implements Validate, which reports field-level problems as a
// [*ValidationError]. Validation is explicit: decode, validate, then act.
//
// # Derived state
//
// licenseStatus and compactEligibility are never authoritative when read back
// from storage. They are recomputed from raw facts on every read; see the
// eligibility package.
//
// # Errors
//
// Sentinel values ([ErrNotFound], [ErrConflict], [ErrInvalidRequest],
// [ErrUnauthorized], [ErrInternal]) classify failures for callers. Storage
// and queue clients wrap them with call-site context.
package types
