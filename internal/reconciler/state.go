package reconciler

import (
	"time"

	"github.com/stemsi/draftsync/internal/draft"
)

// Status is the save pipeline's externally visible state.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusSaving  Status = "saving"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// State is a point-in-time copy of a Reconciler's fields.
type State struct {
	Value       string
	Dirty       bool
	LastSavedAt *time.Time
	LastOrigin  *draft.Origin
	Status      Status
	LastError   error
}

// persistedKey identifies the last content the remote store accepted.
type persistedKey struct {
	content string
	origin  draft.Origin
}
