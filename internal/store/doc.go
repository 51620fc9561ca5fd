// Package store persists workbooks in SQLite: definitions, cell
// values, committed recompute passes, and the append-only audit chain.
//
// One database file is one workbook. The connection is limited to a
// single writer, matching the engine's per-sheet single-writer rule.
// Values are stored as canonical JSON so identical engine states
// always produce identical bytes on disk.
//
// Two transaction shapes exist:
//   - mutation + audit entry (gateway.Persister methods): the raw
//     change and its audit record commit together;
//   - pass commit (engine.Committer): a pass record plus every
//     recomputed cell and aggregate value commit together.
//
// An edit whose recompute pass later fails is therefore still durable
// and audited, while no partially-evaluated pass is ever visible on
// disk.
package store
