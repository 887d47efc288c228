package models

// EventType classifies a document change notification.
type EventType string

const (
	// EventUpsert signals that a document was created or its content changed.
	EventUpsert EventType = "upsert"
	// EventDelete signals that a document was removed. Renames are modeled
	// by the event source as a delete of the old ID plus an upsert of the new.
	EventDelete EventType = "delete"
)

// ChangeEvent is a document change notification fed to the index manager's
// event queue. The engine never polls; it only reacts to these.
type ChangeEvent struct {
	Type       EventType `json:"type"`
	DocumentID string    `json:"document_id"`
}
