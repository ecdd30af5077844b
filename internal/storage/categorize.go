package storage

import (
	"unicode/utf8"

	"github.com/roach88/docstore/internal/document"
	"github.com/roach88/docstore/internal/schema"
)

// Categorized is the outcome of Categorize.
type Categorized struct {
	// InsertDocs are accepted rows for keys without stored state.
	InsertDocs []document.Data
	// UpdateDocs are accepted rows replacing stored state, tombstones
	// included.
	UpdateDocs []document.Data
	// Success lists every accepted document in input order.
	Success []document.Data
	// Errors lists every rejected row in input order.
	Errors []WriteError
	// Events holds one event per accepted row in input order.
	Events []ChangeEvent
	// Checkpoint is the (lwt, id) of the newest accepted document. It is
	// meaningful only when Events is not empty.
	Checkpoint Checkpoint
}

// Accepted reports whether any row was accepted.
func (c *Categorized) Accepted() bool {
	return len(c.Events) > 0
}

// Categorize decides, without I/O, which rows of a bulk write are accepted.
//
// current holds the stored state of every key the rows touch; it is not
// modified. A row whose key repeats an earlier row of the same batch is
// checked against the state that earlier accepted row left behind.
//
// Rows with a missing revision, a missing document or an invalid
// last-write-time make Categorize return an *Error: those are caller bugs,
// not conflicts.
func Categorize(s *schema.Schema, current map[string]document.Data, rows []WriteRow, context string) (*Categorized, error) {
	for _, row := range rows {
		if err := validateRow(row, context); err != nil {
			return nil, err
		}
	}

	primaryPath := s.PrimaryPath()
	state := make(map[string]document.Data, len(current))
	for id, d := range current {
		state[id] = d
	}
	inserted := make(map[string]int)

	out := &Categorized{
		InsertDocs: []document.Data{},
		UpdateDocs: []document.Data{},
		Success:    []document.Data{},
		Errors:     []WriteError{},
		Events:     []ChangeEvent{},
	}
	var newest Checkpoint

	for _, row := range rows {
		doc, reason, err := prepareDocument(s, row.Document)
		if err != nil {
			return nil, err
		}
		if reason != "" {
			out.Errors = append(out.Errors, WriteError{
				IsError:    true,
				Status:     StatusConflict,
				Reason:     reason,
				DocumentID: row.Document.ID(primaryPath),
				WriteRow:   row,
			})
			continue
		}
		id := doc.ID(primaryPath)
		existing, exists := state[id]

		var event ChangeEvent
		switch {
		case !exists && row.Previous == nil:
			event = ChangeEvent{Operation: OperationInsert, DocumentID: id, Document: doc}
			if doc.Deleted() {
				event.Operation = OperationDelete
			}
			inserted[id] = len(out.InsertDocs)
			out.InsertDocs = append(out.InsertDocs, doc)

		case !exists || row.Previous == nil || row.Previous.Rev() != existing.Rev():
			out.Errors = append(out.Errors, WriteError{
				IsError:          true,
				Status:           StatusConflict,
				Reason:           ReasonRevision,
				DocumentID:       id,
				WriteRow:         row,
				ExistingDocument: existing,
			})
			continue

		default:
			event = ChangeEvent{DocumentID: id, Document: doc, Previous: existing}
			switch {
			case doc.Deleted():
				event.Operation = OperationDelete
			case existing.Deleted():
				event.Operation = OperationInsert
				event.Previous = nil
			default:
				event.Operation = OperationUpdate
			}
			if idx, ok := inserted[id]; ok {
				// The key was inserted earlier in this batch: it still is
				// an insert for the backend, with the newer state.
				out.InsertDocs[idx] = doc
			} else {
				out.UpdateDocs = append(out.UpdateDocs, doc)
			}
		}

		state[id] = doc
		out.Success = append(out.Success, doc)
		out.Events = append(out.Events, event)
		if cp := CheckpointOf(doc, primaryPath); len(out.Events) == 1 || cp.Compare(newest) > 0 {
			newest = cp
		}
	}

	out.Checkpoint = newest
	return out, nil
}

func validateRow(row WriteRow, context string) error {
	if row.Document == nil {
		return InvalidWriteRow("write row has no document", row, context)
	}
	if row.Document.Rev() == "" {
		return MissingRevision("document", row, context)
	}
	if row.Previous != nil && row.Previous.Rev() == "" {
		return MissingRevision("previous document", row, context)
	}
	lwt, ok := row.Document.LWT()
	if !ok || lwt < document.LWTMinimum {
		return InvalidWriteRow("document has no valid _meta.lwt", row, context)
	}
	return nil
}

// prepareDocument returns the document as it will be stored: a copy with
// the composed primary key and an explicit _deleted flag. A non-empty
// reason means the row is a conflict.
func prepareDocument(s *schema.Schema, in document.Data) (document.Data, ConflictReason, error) {
	doc := in.Clone()
	if _, err := schema.FillPrimaryKey(s, doc); err != nil {
		switch {
		case schema.IsMissingField(err):
			return nil, ReasonMissingKeyField, nil
		case schema.IsPrimaryKeyMismatch(err):
			return nil, ReasonPrimaryKeyMismatch, nil
		default:
			return nil, "", err
		}
	}
	if _, err := schema.ComposePrimaryKey(s, doc); err != nil {
		if schema.IsMissingField(err) {
			return nil, ReasonMissingKeyField, nil
		}
		return nil, "", err
	}
	id := doc.ID(s.PrimaryPath())
	if id == "" {
		return nil, ReasonMissingKeyField, nil
	}
	if limit := schema.PrimaryKeyMaxLength(s); limit > 0 && utf8.RuneCountInString(id) > limit {
		return nil, ReasonPrimaryKeyTooLong, nil
	}
	if _, ok := doc[document.FieldDeleted].(bool); !ok {
		doc[document.FieldDeleted] = false
	}
	return doc, "", nil
}
