package directory

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/scbe/session"
)

func newStarter(dir **Directory) Starter {
	return func(sessionID string, createdAt, expiresAt time.Time) *session.Coordinator {
		var c *session.Coordinator
		c = session.New(sessionID, "", createdAt, expiresAt, session.DefaultConfig(), nil, func(id string) {
			(*dir).Remove(id, c)
		})
		return c
	}
}

func TestGetOrStartRegistersOnce(t *testing.T) {
	var dir *Directory
	dir = New(newStarter(&dir))

	c1 := dir.GetOrStart("s1", time.Now(), time.Now().Add(time.Hour))
	c2 := dir.GetOrStart("s1", time.Now(), time.Now().Add(time.Hour))
	assert.Same(t, c1, c2)
	assert.Equal(t, 1, dir.Len())

	_ = c1.EndSession("cleanup")
}

func TestConcurrentGetOrStartStartsExactlyOneCoordinator(t *testing.T) {
	var dir *Directory
	dir = New(newStarter(&dir))

	const n = 20
	results := make([]*session.Coordinator, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		i := i
		go func() {
			defer wg.Done()
			results[i] = dir.GetOrStart("race", time.Now(), time.Now().Add(time.Hour))
		}()
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		assert.Same(t, results[0], results[i])
	}
	_ = results[0].EndSession("cleanup")
}

func TestLookupMissing(t *testing.T) {
	var dir *Directory
	dir = New(newStarter(&dir))

	_, ok := dir.Lookup("nope")
	assert.False(t, ok)
}

func TestCoordinatorEndRemovesFromDirectory(t *testing.T) {
	var dir *Directory
	dir = New(newStarter(&dir))

	c := dir.GetOrStart("s2", time.Now(), time.Now().Add(time.Hour))
	require.NoError(t, c.EndSession("ended_by_creator"))

	select {
	case <-c.Done():
	case <-time.After(time.Second):
		t.Fatal("coordinator did not end")
	}

	// Removal happens from the Coordinator's own goroutine after Done()
	// closes; give it a moment to run.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if _, ok := dir.Lookup("s2"); !ok {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("session was not removed from the directory")
}
