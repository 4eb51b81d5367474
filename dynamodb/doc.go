// Package dynamodb provides the DynamoDB-backed provider record aggregation
// client for the compact provider-data engine.
//
// # Overview
//
// The package uses a single-table design. Every fact about a provider lives
// in one partition keyed by "{compact}#PROVIDER#{providerID}" ("pk") with a
// type-prefixed composite sort key ("sk"):
//
//   - Provider:        {compact}#PROVIDER
//   - License:         {compact}#LICENSE#{jurisdiction}#{licenseType}
//   - Privilege:       {compact}#PRIVILEGE#{jurisdiction}#{licenseType}
//   - Adverse action:  {compact}#ADVERSE#{jurisdiction}#{licenseType}#{id}
//   - Investigation:   {compact}#INVESTIGATION#{jurisdiction}#{id}
//   - Update history:  {compact}#UPDATE#{tier}#{timestamp}#{id}
//
// Update-history keys carry a numeric tier (1=privilege, 2=provider,
// 3=license). Every non-UPDATE prefix sorts below "UPDATE", so one range
// query with upper bound sk < {compact}#UPDATE#{tier+1} assembles the base
// records plus exactly the history tiers a caller asked for; see [Detail].
//
// SSN uniqueness is enforced by a conditional put on a translation record
// keyed "{compact}#SSN#{ssn}", with the [GSIProviderID] index as the
// back-pointer from provider id to mapping. User permission records live in
// a separate table keyed "USER#{userID}" / "COMPACT#{compact}".
//
// # Consistency
//
// Reads are eventually consistent unless requested otherwise. Multi-item
// writes (privilege creation) are not transactional: a mid-batch failure
// triggers compensating deletes for the items already written, then the
// operation surfaces an internal service error. The rollback is best-effort;
// a crash between a write and its compensating delete can leave partial
// state, which downstream consumers must treat as recoverable.
//
// # Getting Started
//
// Create a [Client] with [New], supplying an AWS config, the provider table
// name, and any [Option] values you need:
//
//	client := dynamodb.New(&awsCfg, tableName,
//	    dynamodb.WithUsersTableName("users"),
//	)
//	if err := client.Connect(); err != nil { ... }
//
// By default, [New] creates an AWS SDK v2 DynamoDB client from the supplied
// [aws.Config]. Supply [WithAPI] to inject a custom or mock implementation.
//
// # Concurrency
//
// [Client] is safe for concurrent use by multiple goroutines. No
// application-level locks are held; the only cross-request invariant is the
// SSN mapping's conditional write.
package dynamodb
