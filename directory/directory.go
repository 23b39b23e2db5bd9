// Package directory maintains the process-wide session-id → Coordinator
// mapping. It is the single place a new Attachment Endpoint resolves a
// session-id to the live Coordinator handling it, and it is also the
// place a Coordinator removes itself once its run loop exits — the
// same check-and-insert-then-check-and-remove shape the teacher uses
// for its process-wide client registries.
package directory

import (
	"sync"
	"time"

	"github.com/teranos/scbe/logger"
	"github.com/teranos/scbe/session"
)

// Starter constructs a new Coordinator for a session the Directory has
// not seen yet. The Directory itself never decides whether a session-id
// is valid or what its expiry is — that is the backing SessionStore's
// job (see store.SessionStore.Validate) — so Starter receives whatever
// the caller already resolved.
type Starter func(sessionID string, createdAt, expiresAt time.Time) *session.Coordinator

// Directory is safe for concurrent use.
type Directory struct {
	mu    sync.Mutex
	byID  map[string]*session.Coordinator
	start Starter
}

// New builds an empty Directory. start is invoked under the Directory's
// lock to construct a fresh Coordinator for a session-id not yet
// present; callers typically close over session.Config and a
// store.SessionStore-backed ActivityToucher.
func New(start Starter) *Directory {
	return &Directory{
		byID:  make(map[string]*session.Coordinator),
		start: start,
	}
}

// Lookup returns the live Coordinator for sessionID, if the Directory
// is already tracking one.
func (d *Directory) Lookup(sessionID string) (*session.Coordinator, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.byID[sessionID]
	return c, ok
}

// GetOrStart returns the existing Coordinator for sessionID, or starts
// a new one via Starter and registers it. The check-and-insert happens
// under the same lock, so two concurrent attaches to a brand-new
// session-id never start two Coordinators for it.
func (d *Directory) GetOrStart(sessionID string, createdAt, expiresAt time.Time) *session.Coordinator {
	d.mu.Lock()
	defer d.mu.Unlock()

	if c, ok := d.byID[sessionID]; ok {
		return c
	}

	c := d.start(sessionID, createdAt, expiresAt)
	c.Start()
	d.byID[sessionID] = c
	logger.Infow("session started", logger.FieldSessionID, sessionID)
	return c
}

// Remove drops sessionID from the Directory if, and only if, the
// Coordinator currently registered under it is c — guarding against a
// stale onEnded callback racing a newer Coordinator that has already
// taken the same session-id (which cannot happen today, since
// session-ids are never reused, but costs nothing to guard).
func (d *Directory) Remove(sessionID string, c *session.Coordinator) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if existing, ok := d.byID[sessionID]; ok && existing == c {
		delete(d.byID, sessionID)
		logger.Infow("session removed from directory", logger.FieldSessionID, sessionID, logger.FieldReason, c.EndedReason())
	}
}

// Len reports how many sessions the Directory currently tracks.
func (d *Directory) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.byID)
}
