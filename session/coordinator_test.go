package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/scbe/location"
	"github.com/teranos/scbe/registry"
	"github.com/teranos/scbe/wire"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.MaxParticipants = 3
	cfg.IdleGrace = 80 * time.Millisecond
	cfg.AbsenceTimeout = 80 * time.Millisecond
	return cfg
}

func newTestCoordinator(t *testing.T, expiresIn time.Duration) *Coordinator {
	t.Helper()
	c := New("sess-1", "", time.Now(), time.Now().Add(expiresIn), testConfig(), nil, nil)
	c.Start()
	t.Cleanup(func() {
		_ = c.EndSession("test_cleanup")
	})
	return c
}

func mustDequeue(t *testing.T, q *registry.Queue) registry.Frame {
	t.Helper()
	done := make(chan struct{})
	type result struct {
		f  registry.Frame
		ok bool
	}
	ch := make(chan result, 1)
	go func() {
		f, ok := q.Dequeue(done)
		ch <- result{f, ok}
	}()
	select {
	case r := <-ch:
		require.True(t, r.ok, "expected a frame, queue was closed empty")
		return r.f
	case <-time.After(2 * time.Second):
		close(done)
		t.Fatal("timed out waiting for a frame")
		return registry.Frame{}
	}
}

func TestAddParticipantTransitionsToActive(t *testing.T) {
	c := newTestCoordinator(t, time.Hour)
	assert.Equal(t, Initial, c.State())

	require.NoError(t, c.AddParticipant("a", "Alice", "#FF0000"))
	assert.Equal(t, Active, c.State())
}

func TestAddParticipantCapacityExceeded(t *testing.T) {
	c := newTestCoordinator(t, time.Hour)
	require.NoError(t, c.AddParticipant("a", "Alice", "#FF0000"))
	require.NoError(t, c.AddParticipant("b", "Bob", "#00FF00"))
	require.NoError(t, c.AddParticipant("c", "Cara", "#0000FF"))

	err := c.AddParticipant("d", "Dan", "#FFFFFF")
	assert.ErrorIs(t, err, registry.ErrCapacityExceeded)
}

func TestTwoWayBroadcastNoSelfEcho(t *testing.T) {
	c := newTestCoordinator(t, time.Hour)
	require.NoError(t, c.AddParticipant("a", "Alice", "#FF0000"))
	require.NoError(t, c.AddParticipant("b", "Bob", "#00FF00"))

	qa := registry.NewQueue(64)
	qb := registry.NewQueue(64)
	require.NoError(t, c.Attach("a", qa))
	require.NoError(t, c.Attach("b", qb))

	// drain b's initial snapshots
	mustDequeue(t, qb) // initial_participants
	mustDequeue(t, qb) // initial_locations

	rec, err := location.New(37.7749, -122.4194, 5, time.Now())
	require.NoError(t, err)
	require.NoError(t, c.UpdateLocation("a", rec))

	frame := mustDequeue(t, qb)
	out, ok := frame.Payload.(wire.LocationUpdateOut)
	require.True(t, ok)
	assert.Equal(t, "a", out.ParticipantID)
	assert.Equal(t, 37.7749, out.Lat)

	assert.Equal(t, 0, qa.Len(), "sender receives no self-echo")
}

func TestStaleUpdateDroppedSilently(t *testing.T) {
	c := newTestCoordinator(t, time.Hour)
	require.NoError(t, c.AddParticipant("a", "Alice", "#FF0000"))
	require.NoError(t, c.AddParticipant("b", "Bob", "#00FF00"))

	qa := registry.NewQueue(64)
	qb := registry.NewQueue(64)
	require.NoError(t, c.Attach("a", qa))
	require.NoError(t, c.Attach("b", qb))
	mustDequeue(t, qb)
	mustDequeue(t, qb)

	base := time.Date(2025, 1, 15, 10, 30, 0, 0, time.UTC)
	first, err := location.New(1, 1, 1, base)
	require.NoError(t, err)
	require.NoError(t, c.UpdateLocation("a", first))
	mustDequeue(t, qb) // the first update arrives

	earlier, err := location.New(2, 2, 2, base.Add(-time.Second))
	require.NoError(t, err)
	require.NoError(t, c.UpdateLocation("a", earlier))

	assert.Equal(t, 0, qb.Len(), "stale update must not be enqueued")
}

func TestReconnectSupersession(t *testing.T) {
	c := newTestCoordinator(t, time.Hour)
	require.NoError(t, c.AddParticipant("a", "Alice", "#FF0000"))

	q1 := registry.NewQueue(64)
	require.NoError(t, c.Attach("a", q1))
	mustDequeue(t, q1) // initial_participants
	mustDequeue(t, q1) // initial_locations

	q2 := registry.NewQueue(64)
	require.NoError(t, c.Attach("a", q2))

	f := mustDequeue(t, q1)
	ended, ok := f.Payload.(wire.SessionEnded)
	require.True(t, ok)
	assert.Equal(t, "superseded", ended.Reason)

	// q2 gets fresh snapshots
	mustDequeue(t, q2)
	mustDequeue(t, q2)
}

func TestDetachThenAbsenceTimeoutRemoves(t *testing.T) {
	c := newTestCoordinator(t, time.Hour)
	require.NoError(t, c.AddParticipant("a", "Alice", "#FF0000"))
	require.NoError(t, c.AddParticipant("b", "Bob", "#00FF00"))

	qa := registry.NewQueue(64)
	qb := registry.NewQueue(64)
	require.NoError(t, c.Attach("a", qa))
	require.NoError(t, c.Attach("b", qb))
	mustDequeue(t, qb)
	mustDequeue(t, qb)

	require.NoError(t, c.Detach("a"))

	f := mustDequeue(t, qb)
	left, ok := f.Payload.(wire.ParticipantLeft)
	require.True(t, ok)
	assert.Equal(t, "a", left.ParticipantID)
	assert.Equal(t, "timeout", left.Reason)
}

func TestDetachThenReattachCancelsAbsenceTimer(t *testing.T) {
	c := newTestCoordinator(t, time.Hour)
	require.NoError(t, c.AddParticipant("a", "Alice", "#FF0000"))

	q1 := registry.NewQueue(64)
	require.NoError(t, c.Attach("a", q1))
	mustDequeue(t, q1)
	mustDequeue(t, q1)

	require.NoError(t, c.Detach("a"))

	q2 := registry.NewQueue(64)
	require.NoError(t, c.Attach("a", q2))
	mustDequeue(t, q2)
	mustDequeue(t, q2)

	// give the (cancelled) absence timer time to have fired if it wasn't
	// actually cancelled, then confirm the participant is still present.
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, 1, func() int {
		n := 0
		for range c.reg.Snapshot() {
			n++
		}
		return n
	}())
}

func TestEndSessionBroadcastsToAllAndTearsDown(t *testing.T) {
	c := newTestCoordinator(t, time.Hour)
	require.NoError(t, c.AddParticipant("a", "Alice", "#FF0000"))
	require.NoError(t, c.AddParticipant("b", "Bob", "#00FF00"))
	require.NoError(t, c.AddParticipant("c", "Cara", "#0000FF"))

	qa := registry.NewQueue(64)
	qb := registry.NewQueue(64)
	qc := registry.NewQueue(64)
	require.NoError(t, c.Attach("a", qa))
	require.NoError(t, c.Attach("b", qb))
	require.NoError(t, c.Attach("c", qc))
	for _, q := range []*registry.Queue{qa, qb, qc} {
		mustDequeue(t, q)
		mustDequeue(t, q)
	}

	require.NoError(t, c.EndSession("ended_by_creator"))

	for _, q := range []*registry.Queue{qa, qb, qc} {
		f := mustDequeue(t, q)
		ended, ok := f.Payload.(wire.SessionEnded)
		require.True(t, ok)
		assert.Equal(t, "ended_by_creator", ended.Reason)
	}

	select {
	case <-c.Done():
	case <-time.After(time.Second):
		t.Fatal("coordinator did not reach ENDED")
	}
	assert.Equal(t, Ended, c.State())
}

func TestExpiryEndsSession(t *testing.T) {
	c := New("sess-exp", "", time.Now(), time.Now().Add(30*time.Millisecond), testConfig(), nil, nil)
	c.Start()
	require.NoError(t, c.AddParticipant("a", "Alice", "#FF0000"))

	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not expire")
	}
	assert.Equal(t, "expired", c.EndedReason())
}

func TestIdleGraceEndsSessionWhenEmpty(t *testing.T) {
	cfg := testConfig()
	cfg.IdleGrace = 40 * time.Millisecond
	c := New("sess-idle", "", time.Now(), time.Now().Add(time.Hour), cfg, nil, nil)
	c.Start()

	require.NoError(t, c.AddParticipant("a", "Alice", "#FF0000"))
	require.NoError(t, c.RemoveParticipant("a", "left"))

	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not idle out")
	}
	assert.Equal(t, "idle", c.EndedReason())
}

func TestOverloadedMailboxRejectsAttach(t *testing.T) {
	cfg := testConfig()
	cfg.SessionBacklogMax = 1
	c := New("sess-overload", "", time.Now(), time.Now().Add(time.Hour), cfg, nil, nil)
	// Do not Start(): nothing drains the mailbox, so after it fills,
	// submissions observe ErrOverloaded rather than blocking forever.
	t.Cleanup(func() { close(c.done) })

	require.NoError(t, c.submit(command{kind: cmdTouch, participantID: "x"}))
	err := c.Attach("y", registry.NewQueue(1))
	assert.ErrorIs(t, err, ErrOverloaded)
}

func TestRemoveParticipantIdempotent(t *testing.T) {
	c := newTestCoordinator(t, time.Hour)
	require.NoError(t, c.AddParticipant("a", "Alice", "#FF0000"))

	require.NoError(t, c.RemoveParticipant("a", "left"))
	err := c.RemoveParticipant("a", "left")
	assert.ErrorIs(t, err, registry.ErrNotFound)
}
