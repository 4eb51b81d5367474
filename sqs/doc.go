// Package sqs provides the inbound half of the engine's reliable event
// delivery: batch consumption from an SQS queue with per-item failure
// isolation.
//
// # Failure Contract
//
// [ProcessBatch] iterates a batch's records independently. An error or panic
// from processing a single record is caught, logged with the record's
// message ID, and converted into a per-item failure entry; processing
// continues for the remaining records. The return value is exactly the list
// of failed message IDs — the contract required by partial-batch-response
// queue semantics, so the queue redelivers only the failed subset and never
// reprocesses records that already succeeded.
//
// # Timeouts
//
// Per-record processing time is bounded below the queue's visibility
// timeout ([WithHandlerTimeout], enforced at [Consumer.Init]). A record
// that exceeds its deadline fails and is redelivered; downstream handlers
// must be idempotent, which the engine's idempotency package provides for
// notification sends.
package sqs
