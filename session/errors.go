package session

import "github.com/teranos/scbe/errs"

// Sentinel errors for Coordinator command outcomes, mirroring spec §7's
// error-kind table.
var (
	// ErrSessionNotFound names the session-not-found error kind. The
	// Directory does not return it (GetOrStart never fails); an unknown
	// session-id is rejected by the attachment handshake's
	// SessionStore.Validate call before the Directory is consulted.
	ErrSessionNotFound = errs.New("session not found")

	// ErrSessionEnded is returned by any command submitted to a Coordinator
	// that is no longer ACTIVE/INITIAL.
	ErrSessionEnded = errs.New("session ended")

	// ErrOverloaded is returned when the command mailbox is at
	// SESSION_BACKLOG_MAX and cannot accept a new attach/add command.
	ErrOverloaded = errs.New("coordinator overloaded")
)
