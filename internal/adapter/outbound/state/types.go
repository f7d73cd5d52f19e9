// Package state provides the file-backed session store.
//
// All sessions live in one JSON document that is loaded once at startup and
// rewritten in full on every mutation using write-tmp-then-rename, a backup
// of the previous file and an advisory lock for cross-process writers.
package state

import (
	"time"

	"github.com/clibridge/clibridge/internal/domain/session"
)

// stateVersion is the schema version written to disk.
const stateVersion = "1"

// fileState is the top-level structure persisted in the sessions file.
type fileState struct {
	// Version is the schema version for forward compatibility.
	Version string `json:"version"`

	// Sessions maps user ID to that user's continuation state.
	Sessions map[string]*session.Session `json:"sessions"`

	// UpdatedAt is the time of the last successful write.
	UpdatedAt time.Time `json:"updated_at"`
}
