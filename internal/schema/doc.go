// Package schema canonicalizes document schemas and derives primary keys.
//
// Normalize is pure and deterministic: two schemas that differ only in
// declaration order normalize to byte-identical canonical JSON, which is what
// Hash feeds into the structural hash peers compare for compatibility.
//
// After normalization a schema:
//   - forbids additional root properties
//   - declares the reserved fields _rev, _deleted, _meta and _attachments
//   - requires the reserved fields, every final field and every key field
//   - has at least one index; every index starts with _deleted and ends
//     with the primary key, except the (_meta.lwt, primary key) index that
//     the checkpoint cursor iterates
package schema
