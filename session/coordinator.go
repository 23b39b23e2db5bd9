// Package session implements the Session Coordinator: one serial state
// machine per live session. All session-mutating operations — whether
// client-driven or timer-driven — are funneled through a single
// goroutine's command mailbox, the way the teacher drives its client
// hub from one Run() loop rather than locking shared maps from many
// goroutines.
package session

import (
	"sync/atomic"
	"time"

	"github.com/teranos/scbe/location"
	"github.com/teranos/scbe/logger"
	"github.com/teranos/scbe/registry"
	"github.com/teranos/scbe/wire"
)

// ActivityToucher is the slice of SessionStore the Coordinator calls
// off its hot path: a best-effort, fire-and-forget write recording that
// the session is still alive. A nil ActivityToucher disables it.
type ActivityToucher interface {
	TouchActivity(sessionID string) error
}

// Coordinator is the per-session serial worker. Construct with New,
// then Start to launch its run loop.
type Coordinator struct {
	id        string
	name      string
	createdAt time.Time
	expiresAt time.Time

	cfg     Config
	reg     *registry.Registry
	store   ActivityToucher
	onEnded func(sessionID string)
	logger  interface {
		Infow(msg string, kv ...interface{})
		Warnw(msg string, kv ...interface{})
	}

	state       atomic.Int32
	endedReason string

	mailbox chan command
	done    chan struct{}

	expiryTimer    *time.Timer
	idleTimer      *time.Timer
	absenceTimers  map[string]*time.Timer
	detachGen      map[string]int
	protocolErrors map[string][]time.Time
}

// New constructs a Coordinator in the INITIAL state. It does not start
// its run loop — call Start for that.
func New(id, name string, createdAt, expiresAt time.Time, cfg Config, store ActivityToucher, onEnded func(string)) *Coordinator {
	c := &Coordinator{
		id:             id,
		name:           name,
		createdAt:      createdAt,
		expiresAt:      expiresAt,
		cfg:            cfg,
		reg:            registry.New(cfg.MaxParticipants, cfg.LocationTTL),
		store:          store,
		onEnded:        onEnded,
		logger:         logger.ComponentLogger("session.coordinator"),
		mailbox:        make(chan command, cfg.SessionBacklogMax),
		done:           make(chan struct{}),
		absenceTimers:  make(map[string]*time.Timer),
		detachGen:      make(map[string]int),
		protocolErrors: make(map[string][]time.Time),
	}
	c.setState(Initial)
	return c
}

// Start launches the Coordinator's run loop and arms its absolute
// expiry timer. Call exactly once.
func (c *Coordinator) Start() {
	c.expiryTimer = time.AfterFunc(time.Until(c.expiresAt), func() {
		c.injectTimer(command{kind: cmdExpiryTimer})
	})
	go c.run()
}

// ID returns the session identifier.
func (c *Coordinator) ID() string { return c.id }

// State returns the current lifecycle stage. Safe to call from any
// goroutine.
func (c *Coordinator) State() State { return State(c.state.Load()) }

// EndedReason returns the reason recorded when the session transitioned
// to ENDING, if any. Only meaningful after Done() has fired.
func (c *Coordinator) EndedReason() string { return c.endedReason }

// Done returns a channel closed once the Coordinator's run loop has
// exited (state ENDED). Attachment Endpoints should treat "coordinator
// gone" — this channel closed, or the Directory no longer resolving the
// session — as equivalent to a session_ended frame.
func (c *Coordinator) Done() <-chan struct{} { return c.done }

func (c *Coordinator) setState(s State) { c.state.Store(int32(s)) }

// --- public command API -------------------------------------------------

// AddParticipant is command 1: add-participant.
func (c *Coordinator) AddParticipant(participantID, displayName, avatarColor string) error {
	reply := make(chan error, 1)
	return c.submit(command{
		kind:          cmdAddParticipant,
		participantID: participantID,
		displayName:   displayName,
		avatarColor:   avatarColor,
		reply:         reply,
	})
}

// Attach is command 2: attach.
func (c *Coordinator) Attach(participantID string, q *registry.Queue) error {
	reply := make(chan error, 1)
	return c.submit(command{kind: cmdAttach, participantID: participantID, queue: q, reply: reply})
}

// Detach is command 3: detach.
func (c *Coordinator) Detach(participantID string) error {
	reply := make(chan error, 1)
	return c.submit(command{kind: cmdDetach, participantID: participantID, reply: reply})
}

// RemoveParticipant is command 4: remove-participant.
func (c *Coordinator) RemoveParticipant(participantID, reason string) error {
	reply := make(chan error, 1)
	return c.submit(command{kind: cmdRemoveParticipant, participantID: participantID, reason: reason, reply: reply})
}

// UpdateLocation is command 5: update-location.
func (c *Coordinator) UpdateLocation(participantID string, rec location.Record) error {
	reply := make(chan error, 1)
	return c.submit(command{kind: cmdUpdateLocation, participantID: participantID, record: rec, reply: reply})
}

// Touch is command 6: touch. Used for keepalives.
func (c *Coordinator) Touch(participantID string) error {
	reply := make(chan error, 1)
	return c.submit(command{kind: cmdTouch, participantID: participantID, reply: reply})
}

// EndSession is command 7: end-session.
func (c *Coordinator) EndSession(reason string) error {
	reply := make(chan error, 1)
	return c.submit(command{kind: cmdEndSession, reason: reason, reply: reply})
}

// ReportProtocolError records one malformed/invalid frame from
// participantID. Once the number of errors within
// Config.ProtocolErrorWindow reaches Config.ProtocolErrorLimit, the
// participant is force-removed with reason "protocol_error".
func (c *Coordinator) ReportProtocolError(participantID string) error {
	return c.submit(command{kind: cmdProtocolError, participantID: participantID})
}

// submit enqueues cmd without blocking. A full mailbox (at
// SESSION_BACKLOG_MAX) yields ErrOverloaded; a Coordinator that has
// already reached ENDED yields ErrSessionEnded instead of hanging.
func (c *Coordinator) submit(cmd command) error {
	select {
	case <-c.done:
		return ErrSessionEnded
	default:
	}

	select {
	case c.mailbox <- cmd:
	default:
		return ErrOverloaded
	}

	if cmd.reply == nil {
		return nil
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-c.done:
		return ErrSessionEnded
	}
}

// injectTimer delivers a timer-originated command into the same
// mailbox client commands use, so state mutations stay serialized. It
// never blocks past the Coordinator's lifetime.
func (c *Coordinator) injectTimer(cmd command) {
	select {
	case c.mailbox <- cmd:
	case <-c.done:
	}
}

// --- run loop -------------------------------------------------------------

func (c *Coordinator) run() {
	defer func() {
		if c.expiryTimer != nil {
			c.expiryTimer.Stop()
		}
		c.stopIdleTimer()
		for _, t := range c.absenceTimers {
			t.Stop()
		}
		close(c.done)
		if c.onEnded != nil {
			c.onEnded(c.id)
		}
	}()

	for cmd := range c.mailbox {
		c.handle(cmd)
		if c.State() == Ended {
			return
		}
	}
}

func (c *Coordinator) handle(cmd command) {
	var err error
	switch cmd.kind {
	case cmdAddParticipant:
		err = c.handleAddParticipant(cmd)
	case cmdAttach:
		err = c.handleAttach(cmd)
	case cmdDetach:
		err = c.handleDetach(cmd)
	case cmdRemoveParticipant:
		err = c.forceRemove(cmd.participantID, cmd.reason)
	case cmdUpdateLocation:
		err = c.handleUpdateLocation(cmd)
	case cmdTouch:
		err = c.reg.Touch(cmd.participantID)
	case cmdEndSession:
		c.handleEndSession(cmd.reason)
	case cmdProtocolError:
		c.recordProtocolError(cmd.participantID)
		if c.protocolErrorExceeded(cmd.participantID) {
			_ = c.forceRemove(cmd.participantID, "protocol_error")
		}
	case cmdExpiryTimer:
		if c.State() == Active || c.State() == Initial {
			c.handleEndSession("expired")
		}
	case cmdIdleTimer:
		c.idleTimer = nil
		if c.State() == Active && c.reg.Len() == 0 {
			c.handleEndSession("idle")
		}
	case cmdAbsenceTimer:
		if c.detachGen[cmd.participantID] == cmd.generation {
			if p, ok := c.reg.Find(cmd.participantID); ok && p.State == registry.Detached {
				_ = c.forceRemove(cmd.participantID, "timeout")
			}
		}
	}

	if cmd.reply != nil {
		cmd.reply <- err
	}
}

// --- command handlers -------------------------------------------------

func (c *Coordinator) handleAddParticipant(cmd command) error {
	st := c.State()
	if st != Initial && st != Active {
		return ErrSessionEnded
	}

	if _, err := c.reg.Add(cmd.participantID, cmd.displayName, cmd.avatarColor); err != nil {
		return err
	}
	if st == Initial {
		c.setState(Active)
	}
	c.stopIdleTimer()
	c.touchSessionActivity()

	c.broadcast(cmd.participantID, registry.Frame{
		Priority: true,
		Payload: wire.ParticipantJoined{
			ParticipantID: cmd.participantID,
			DisplayName:   cmd.displayName,
			AvatarColor:   cmd.avatarColor,
		},
	})
	return nil
}

func (c *Coordinator) handleAttach(cmd command) error {
	st := c.State()
	if st != Initial && st != Active {
		return ErrSessionEnded
	}

	prior, err := c.reg.Attach(cmd.participantID, cmd.queue)
	if err != nil {
		return err
	}

	c.detachGen[cmd.participantID]++
	if t, ok := c.absenceTimers[cmd.participantID]; ok {
		t.Stop()
		delete(c.absenceTimers, cmd.participantID)
	}

	if prior != nil {
		prior.TryEnqueue(registry.Frame{Priority: true, Payload: wire.SessionEnded{Reason: "superseded"}})
		prior.Close()
	}

	// Snapshots are taken after the attach completes so their ordering
	// relative to subsequent broadcasts is preserved.
	now := time.Now()
	participants := c.reg.Snapshot()
	pviews := make([]wire.ParticipantView, 0, len(participants))
	for _, p := range participants {
		pviews = append(pviews, wire.ParticipantView{
			ParticipantID: p.ParticipantID,
			DisplayName:   p.DisplayName,
			AvatarColor:   p.AvatarColor,
			LastSeen:      p.LastActivityAt,
			IsActive:      p.IsActive,
		})
	}
	locations := c.reg.SnapshotLocations(now)
	lviews := make([]wire.LocationView, 0, len(locations))
	for _, l := range locations {
		lviews = append(lviews, wire.LocationView{
			ParticipantID: l.ParticipantID,
			Lat:           l.Record.Lat,
			Lng:           l.Record.Lng,
			Accuracy:      l.Record.AccuracyMeters,
			Timestamp:     l.Record.ClientTimestamp.UTC().Format(time.RFC3339),
		})
	}

	cmd.queue.TryEnqueue(registry.Frame{Payload: wire.InitialParticipants{Participants: pviews}})
	cmd.queue.TryEnqueue(registry.Frame{Payload: wire.InitialLocations{Locations: lviews}})

	c.touchSessionActivity()
	return nil
}

func (c *Coordinator) handleDetach(cmd command) error {
	if _, ok := c.reg.Find(cmd.participantID); !ok {
		return registry.ErrNotFound
	}
	_ = c.reg.Detach(cmd.participantID)

	c.detachGen[cmd.participantID]++
	gen := c.detachGen[cmd.participantID]
	participantID := cmd.participantID
	timer := time.AfterFunc(c.cfg.AbsenceTimeout, func() {
		c.injectTimer(command{kind: cmdAbsenceTimer, participantID: participantID, generation: gen})
	})
	c.absenceTimers[cmd.participantID] = timer
	return nil
}

func (c *Coordinator) handleUpdateLocation(cmd command) error {
	if c.State() != Active {
		return nil // session not active: drop silently, per spec
	}

	err := c.reg.UpdateLocation(cmd.participantID, cmd.record)
	if err != nil {
		if err == registry.ErrStale {
			return nil // monotonicity guard: drop silently
		}
		return err
	}
	c.touchSessionActivity()

	out := wire.LocationUpdateOut{
		ParticipantID: cmd.participantID,
		Lat:           cmd.record.Lat,
		Lng:           cmd.record.Lng,
		Accuracy:      cmd.record.AccuracyMeters,
		Timestamp:     cmd.record.ClientTimestamp.UTC().Format(time.RFC3339),
	}
	c.broadcast(cmd.participantID, registry.Frame{Payload: out})
	return nil
}

func (c *Coordinator) handleEndSession(reason string) {
	st := c.State()
	if st == Ending || st == Ended {
		return // idempotent
	}

	c.setState(Ending)
	c.endedReason = reason
	c.broadcastAll(registry.Frame{Priority: true, Payload: wire.SessionEnded{Reason: reason}})
	for _, ref := range c.reg.AllQueues() {
		ref.Queue.Close()
	}
	c.setState(Ended)
}

// forceRemove is command 4 (remove-participant) reached either directly
// or as the disposition of an absence timeout, a protocol-error
// threshold breach, or a broadcast that found every slot on a queue
// occupied by priority frames.
func (c *Coordinator) forceRemove(participantID, reason string) error {
	if _, err := c.reg.Remove(participantID); err != nil {
		return err
	}
	if t, ok := c.absenceTimers[participantID]; ok {
		t.Stop()
		delete(c.absenceTimers, participantID)
	}
	delete(c.detachGen, participantID)
	delete(c.protocolErrors, participantID)

	c.broadcast(participantID, registry.Frame{
		Priority: true,
		Payload:  wire.ParticipantLeft{ParticipantID: participantID, Reason: reason},
	})

	if c.reg.Len() == 0 && c.State() == Active {
		c.startIdleTimer()
	}
	return nil
}

// --- broadcast discipline --------------------------------------------

// broadcast fans frame out to every attached participant other than
// except. A queue that cannot accept the frame even after
// priority-eviction is saturated with priority frames; that attachment
// is force-removed so it never stalls the rest of the session.
func (c *Coordinator) broadcast(except string, frame registry.Frame) {
	for _, ref := range c.reg.OtherQueues(except) {
		if !ref.Queue.TryEnqueue(frame) {
			_ = c.forceRemove(ref.ParticipantID, "overloaded_queue")
		}
	}
}

// broadcastAll is broadcast without an originating sender to exclude —
// used for session-wide lifecycle frames like session_ended.
func (c *Coordinator) broadcastAll(frame registry.Frame) {
	for _, ref := range c.reg.AllQueues() {
		ref.Queue.TryEnqueue(frame)
	}
}

// --- timers -------------------------------------------------------------

func (c *Coordinator) startIdleTimer() {
	if c.idleTimer != nil {
		return
	}
	c.idleTimer = time.AfterFunc(c.cfg.IdleGrace, func() {
		c.injectTimer(command{kind: cmdIdleTimer})
	})
}

func (c *Coordinator) stopIdleTimer() {
	if c.idleTimer != nil {
		c.idleTimer.Stop()
		c.idleTimer = nil
	}
}

// --- protocol error tracking -------------------------------------------

func (c *Coordinator) recordProtocolError(participantID string) {
	now := time.Now()
	cutoff := now.Add(-c.cfg.ProtocolErrorWindow)

	events := append(c.protocolErrors[participantID], now)
	kept := events[:0]
	for _, t := range events {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	c.protocolErrors[participantID] = kept
}

func (c *Coordinator) protocolErrorExceeded(participantID string) bool {
	return len(c.protocolErrors[participantID]) >= c.cfg.ProtocolErrorLimit
}

// --- SessionStore interaction --------------------------------------------

// touchSessionActivity is a best-effort, fire-and-forget write: the
// store is consulted off the Coordinator's hot path, never blocking the
// command mailbox, and its failures are logged rather than surfaced.
func (c *Coordinator) touchSessionActivity() {
	if c.store == nil {
		return
	}
	id := c.id
	store := c.store
	go func() {
		if err := store.TouchActivity(id); err != nil {
			c.logger.Warnw("touch-activity failed", "session_id", id, "error", err)
		}
	}()
}
