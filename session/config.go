package session

import (
	"time"

	"github.com/teranos/scbe/location"
)

// Config carries the bounds spec §5 names, scoped to what the
// Coordinator itself enforces (transport-level bounds like
// WRITE_DEADLINE and INBOUND_RATE live in the transport package).
type Config struct {
	MaxParticipants     int
	OutboundQueueSize   int
	LocationTTL         time.Duration // how long a location stays in snapshots before it's stale
	IdleGrace           time.Duration
	AbsenceTimeout      time.Duration
	SessionBacklogMax   int
	ProtocolErrorLimit  int           // protocol error count that triggers a force-detach...
	ProtocolErrorWindow time.Duration // ...within this sliding window before force-detach
}

// DefaultConfig returns the defaults spec §5 lists.
func DefaultConfig() Config {
	return Config{
		MaxParticipants:     50,
		OutboundQueueSize:   64,
		LocationTTL:         location.DefaultTTL,
		IdleGrace:           60 * time.Second,
		AbsenceTimeout:      60 * time.Second,
		SessionBacklogMax:   4096,
		ProtocolErrorLimit:  5,
		ProtocolErrorWindow: 10 * time.Second,
	}
}
