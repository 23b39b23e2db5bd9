package session

import (
	"github.com/teranos/scbe/location"
	"github.com/teranos/scbe/registry"
)

type commandKind int

const (
	cmdAddParticipant commandKind = iota
	cmdAttach
	cmdDetach
	cmdRemoveParticipant
	cmdUpdateLocation
	cmdTouch
	cmdEndSession
	cmdProtocolError
	cmdExpiryTimer
	cmdIdleTimer
	cmdAbsenceTimer
)

// command is the single mailbox envelope every mutation — client-driven
// or timer-driven — is serialized through. Exactly one goroutine (the
// Coordinator's run loop) ever reads the mailbox, which is what makes
// every Session/Registry mutation safe without additional locking.
type command struct {
	kind commandKind

	participantID string
	displayName   string
	avatarColor   string
	queue         *registry.Queue
	record        location.Record
	reason        string

	// generation guards timer-originated commands (absence, and
	// implicitly idle) against acting on a state that has since moved on
	// — e.g. a participant reattached between the absence timer firing
	// and the command being processed.
	generation int

	reply chan error
}
