package storage

import (
	"fmt"
	"strings"

	"github.com/roach88/docstore/internal/document"
)

// Checkpoint is a position in the (lwt, id) order of document writes.
// The zero value precedes every stored document because lwt is always
// at least document.LWTMinimum.
type Checkpoint struct {
	ID  string  `json:"id" yaml:"id"`
	LWT float64 `json:"lwt" yaml:"lwt"`
}

// Compare orders checkpoints by lwt, then by id bytewise.
func (c Checkpoint) Compare(o Checkpoint) int {
	switch {
	case c.LWT < o.LWT:
		return -1
	case c.LWT > o.LWT:
		return 1
	}
	return strings.Compare(c.ID, o.ID)
}

// IsZero reports whether c is the initial checkpoint.
func (c Checkpoint) IsZero() bool {
	return c.ID == "" && c.LWT == 0
}

func (c Checkpoint) String() string {
	return fmt.Sprintf("%s@%v", c.ID, c.LWT)
}

// CheckpointOf returns the checkpoint of a stored document.
func CheckpointOf(d document.Data, primaryPath string) Checkpoint {
	lwt, _ := d.LWT()
	return Checkpoint{ID: d.ID(primaryPath), LWT: lwt}
}

// WriteRow is one write attempt. Previous is the state the caller believes
// is current; nil means the caller expects the document not to exist.
type WriteRow struct {
	Document document.Data `json:"document"`
	Previous document.Data `json:"previous,omitempty"`
}

// Operation tags a change event.
type Operation string

const (
	OperationInsert Operation = "INSERT"
	OperationUpdate Operation = "UPDATE"
	OperationDelete Operation = "DELETE"
)

// ChangeEvent describes one accepted write.
type ChangeEvent struct {
	Operation  Operation     `json:"operation"`
	DocumentID string        `json:"documentId"`
	Document   document.Data `json:"documentData"`
	// Previous is the stored state the write replaced; nil for inserts.
	Previous document.Data `json:"previousDocumentData,omitempty"`
}

// EventBulk is the set of change events produced by one committed write.
type EventBulk struct {
	ID         string        `json:"id"`
	Events     []ChangeEvent `json:"events"`
	Checkpoint Checkpoint    `json:"checkpoint"`
	// EndTime is the clock reading, in milliseconds, when the write finished.
	EndTime float64 `json:"endTime"`
	// Context identifies the subsystem that issued the write.
	Context string `json:"context"`
}

// StatusConflict is the only WriteError status.
const StatusConflict = "CONFLICT"

// ConflictReason says why a row was rejected.
type ConflictReason string

const (
	ReasonRevision           ConflictReason = "revision"
	ReasonPrimaryKeyMismatch ConflictReason = "primary_key_mismatch"
	ReasonMissingKeyField    ConflictReason = "missing_key_field"
	ReasonPrimaryKeyTooLong  ConflictReason = "primary_key_too_long"
)

// WriteError is a rejected write row. It is returned as data, never as an
// error from BulkWrite.
type WriteError struct {
	IsError    bool           `json:"isError"`
	Status     string         `json:"status"`
	Reason     ConflictReason `json:"reason"`
	DocumentID string         `json:"documentId"`
	WriteRow   WriteRow       `json:"writeRow"`
	// ExistingDocument is the authoritative stored state, when there is one.
	ExistingDocument document.Data `json:"documentInDb,omitempty"`
}

func (e WriteError) Error() string {
	return fmt.Sprintf("%s: document %q (%s)", e.Status, e.DocumentID, e.Reason)
}

// BulkWriteResponse holds the per-row outcome of BulkWrite.
type BulkWriteResponse struct {
	Success []document.Data `json:"success"`
	Errors  []WriteError    `json:"error"`
}

// CountMode says how a count was computed.
type CountMode string

const (
	// CountFast means the count came from an index without reading documents.
	CountFast CountMode = "fast"
	// CountSlow means matching documents were materialized and counted.
	CountSlow CountMode = "slow"
)

// CountResult is returned by Count.
type CountResult struct {
	Count int       `json:"count"`
	Mode  CountMode `json:"mode"`
}

// QueryResult is returned by Query.
type QueryResult struct {
	Documents []document.Data `json:"documents"`
}

// InfoResult is returned by Info.
type InfoResult struct {
	// TotalCount includes tombstones.
	TotalCount int `json:"totalCount"`
}

// ChangedDocuments is one page of the change feed.
type ChangedDocuments struct {
	Documents  []document.Data `json:"documents"`
	Checkpoint Checkpoint      `json:"checkpoint"`
}
