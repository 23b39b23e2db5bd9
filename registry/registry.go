// Package registry encapsulates the per-session (participant-id →
// Participant) mapping and its derived queries. A Registry is owned
// exclusively by its Session Coordinator and is never accessed
// concurrently — it is deliberately not safe for concurrent use; the
// Coordinator's single-goroutine command mailbox is what makes that
// safe.
package registry

import (
	"time"

	"github.com/teranos/scbe/errs"
	"github.com/teranos/scbe/location"
)

// AttachmentState is a Participant's current transport binding.
type AttachmentState int

const (
	Detached AttachmentState = iota
	Attached
)

var (
	// ErrCapacityExceeded is returned by Add when the session is full.
	ErrCapacityExceeded = errs.New("capacity exceeded")
	// ErrDuplicate is returned by Add when the participant-id is already
	// present, whether attached or detached.
	ErrDuplicate = errs.New("duplicate participant")
	// ErrNotFound is returned by operations addressing an unknown participant-id.
	ErrNotFound = errs.New("participant not found")
	// ErrStale is returned by UpdateLocation for a non-monotonic update.
	ErrStale = errs.New("stale location update")
)

// Participant is one member of a session.
type Participant struct {
	ID              string
	DisplayName     string
	AvatarColor     string
	JoinedAt        time.Time
	LastActivityAt  time.Time
	State           AttachmentState
	CurrentLocation *location.Record
	Queue           *Queue
}

// Registry holds the participants of exactly one session.
type Registry struct {
	max         int
	locationTTL time.Duration
	members     map[string]*Participant
}

// New builds an empty Registry capped at max participants. locationTTL
// governs how long a participant's CurrentLocation is reported in
// SnapshotLocations before it is treated as stale.
func New(max int, locationTTL time.Duration) *Registry {
	return &Registry{
		max:         max,
		locationTTL: locationTTL,
		members:     make(map[string]*Participant),
	}
}

// Len reports the current participant count.
func (r *Registry) Len() int {
	return len(r.members)
}

// Add creates a new, initially-detached Participant entry.
func (r *Registry) Add(participantID, displayName, avatarColor string) (*Participant, error) {
	if _, exists := r.members[participantID]; exists {
		return nil, ErrDuplicate
	}
	if len(r.members) >= r.max {
		return nil, ErrCapacityExceeded
	}

	now := time.Now()
	p := &Participant{
		ID:             participantID,
		DisplayName:    displayName,
		AvatarColor:    avatarColor,
		JoinedAt:       now,
		LastActivityAt: now,
		State:          Detached,
	}
	r.members[participantID] = p
	return p, nil
}

// Find returns the participant by id, if any.
func (r *Registry) Find(participantID string) (*Participant, bool) {
	p, ok := r.members[participantID]
	return p, ok
}

// Remove detaches any live attachment and deletes the participant entry.
func (r *Registry) Remove(participantID string) (*Participant, error) {
	p, ok := r.members[participantID]
	if !ok {
		return nil, ErrNotFound
	}
	if p.State == Attached && p.Queue != nil {
		p.Queue.Close()
	}
	delete(r.members, participantID)
	return p, nil
}

// Attach binds a new outbound queue to participantID, transitioning it
// to Attached. If a prior queue was already Attached, it is returned
// still open so the caller can notify that transport (e.g. push a
// best-effort "superseded" frame) and then close it; Attach itself does
// not close it.
func (r *Registry) Attach(participantID string, q *Queue) (prior *Queue, err error) {
	p, ok := r.members[participantID]
	if !ok {
		return nil, ErrNotFound
	}

	if p.State == Attached && p.Queue != nil {
		prior = p.Queue
	}

	p.Queue = q
	p.State = Attached
	p.LastActivityAt = time.Now()
	return prior, nil
}

// Detach closes participantID's outbound queue and marks it Detached.
// The participant record itself is retained (reconnects are expected).
func (r *Registry) Detach(participantID string) error {
	p, ok := r.members[participantID]
	if !ok {
		return ErrNotFound
	}
	if p.Queue != nil {
		p.Queue.Close()
		p.Queue = nil
	}
	p.State = Detached
	return nil
}

// UpdateLocation applies a monotonicity-checked location update and
// touches last-activity-at. Returns ErrStale if rec is not strictly
// newer than the currently stored fix (an equal timestamp is a replay).
func (r *Registry) UpdateLocation(participantID string, rec location.Record) error {
	p, ok := r.members[participantID]
	if !ok {
		return ErrNotFound
	}
	if p.CurrentLocation != nil && !p.CurrentLocation.SupersededBy(rec) {
		return ErrStale
	}
	p.CurrentLocation = &rec
	p.LastActivityAt = time.Now()
	return nil
}

// Touch updates last-activity-at without mutating anything else. Used
// for keepalive pings.
func (r *Registry) Touch(participantID string) error {
	p, ok := r.members[participantID]
	if !ok {
		return ErrNotFound
	}
	p.LastActivityAt = time.Now()
	return nil
}

// LocationSnapshot is one entry of SnapshotLocations' result.
type LocationSnapshot struct {
	ParticipantID string
	Record        location.Record
}

// SnapshotLocations returns every participant's current, non-stale
// location as of now.
func (r *Registry) SnapshotLocations(now time.Time) []LocationSnapshot {
	out := make([]LocationSnapshot, 0, len(r.members))
	for id, p := range r.members {
		if p.CurrentLocation == nil || p.CurrentLocation.IsStale(now, r.locationTTL) {
			continue
		}
		out = append(out, LocationSnapshot{ParticipantID: id, Record: *p.CurrentLocation})
	}
	return out
}

// QueueRef pairs an outbound queue with the participant it belongs to,
// so a failed broadcast enqueue can be traced back to the attachment
// that needs to be force-detached.
type QueueRef struct {
	ParticipantID string
	Queue         *Queue
}

// AllQueues returns every Attached participant's outbound queue, for
// session-wide broadcasts that have no originating sender to exclude
// (e.g. session_ended).
func (r *Registry) AllQueues() []QueueRef {
	out := make([]QueueRef, 0, len(r.members))
	for id, p := range r.members {
		if p.State != Attached || p.Queue == nil {
			continue
		}
		out = append(out, QueueRef{ParticipantID: id, Queue: p.Queue})
	}
	return out
}

// OtherQueues returns the outbound queues of every Attached participant
// other than except, each exactly once.
func (r *Registry) OtherQueues(except string) []QueueRef {
	out := make([]QueueRef, 0, len(r.members))
	for id, p := range r.members {
		if id == except || p.State != Attached || p.Queue == nil {
			continue
		}
		out = append(out, QueueRef{ParticipantID: id, Queue: p.Queue})
	}
	return out
}

// ParticipantSnapshot is one entry of Snapshot's result, used to build
// initial_participants frames.
type ParticipantSnapshot struct {
	ParticipantID  string
	DisplayName    string
	AvatarColor    string
	LastActivityAt time.Time
	IsActive       bool
}

// Snapshot returns every participant's identity/presence fields.
func (r *Registry) Snapshot() []ParticipantSnapshot {
	out := make([]ParticipantSnapshot, 0, len(r.members))
	for _, p := range r.members {
		out = append(out, ParticipantSnapshot{
			ParticipantID:  p.ID,
			DisplayName:    p.DisplayName,
			AvatarColor:    p.AvatarColor,
			LastActivityAt: p.LastActivityAt,
			IsActive:       p.State == Attached,
		})
	}
	return out
}
