// Package core provides the business logic for supplier spreadsheet imports.
//
// One file may mix private customers, company customers, electricity (POD)
// and gas (PDR) contracts in any order. The package turns such a file into
// stored customers and contracts linked to their owners, and reports what
// happened to every row. It is independent of any transport: the web
// handlers, the importctl CLI and the tests all drive the same [Service].
//
// # Pipeline
//
// A run moves through fixed stages, recorded on the [ImportRun]:
//
//  1. Read: [Read] decodes CSV (delimiter and encoding sniffed) or XLSX
//     into [RawRow] values that keep their 1-based source line.
//  2. Normalize: a [Normalizer] maps header aliases to canonical fields
//     and coerces cell values (dates, decimals, booleans, identifiers).
//  3. Detect: a [Detector] rule chain assigns each row an [EntityKind]
//     with a confidence; rows below the threshold are skipped.
//  4. Validate: a [Validator] checks per-kind rules; [FlagDuplicates]
//     warns about repeated natural keys within the file.
//  5. Associate: an [Associator] resolves customers first, then links each
//     contract to the customer in the file or in the store.
//  6. Commit: a [Committer] writes batches in transactions with a savepoint
//     per record, so one rejected record does not undo its batch.
//
// Dry runs execute every stage against a projection of the store and
// report the same outcomes without writing.
//
// # Concurrency
//
// Normalization, detection and validation fan out over a worker pool.
// Association is a barrier: every customer is resolved before any contract.
// Independent runs share only the [Store]; the [ImportLimiter] bounds how
// many run at once.
//
// # Runs
//
// [Service.Submit] starts a run and returns its id; [Service.Subscribe]
// streams [Progress] and [Service.Result] returns the finished run. Runs
// are checkpointed to a [RunStore] so history survives restarts.
package core
