// Package location implements the validated, timestamped geographic fix
// that flows from a participant's device through the Coordinator to every
// other attached participant.
package location

import (
	"math"
	"time"

	"github.com/teranos/scbe/errs"
)

// DefaultTTL is how long a Record remains fresh after it was observed
// by the server when no session-specific TTL is configured. Records
// older than their TTL are excluded from snapshots and may be
// garbage-collected.
const DefaultTTL = 30 * time.Second

// ErrInvalidLocation is returned by New when a field fails validation.
var ErrInvalidLocation = errs.New("invalid location")

// Record is an immutable, validated geographic fix associated with
// exactly one (session, participant) pair. Equality is structural.
type Record struct {
	Lat               float64
	Lng               float64
	AccuracyMeters    float64
	ClientTimestamp   time.Time
	ServerObservedAt  time.Time
	Speed             *float64
	Heading           *float64
	Altitude          *float64
}

// New validates and constructs a Record. server-observed-time is taken
// as the moment of construction (the ingest instant), not supplied by
// the caller.
func New(lat, lng, accuracyMeters float64, clientTimestamp time.Time) (Record, error) {
	if !isFinite(lat) || lat < -90 || lat > 90 {
		return Record{}, errs.Wrapf(ErrInvalidLocation, "latitude %v out of range", lat)
	}
	if !isFinite(lng) || lng < -180 || lng > 180 {
		return Record{}, errs.Wrapf(ErrInvalidLocation, "longitude %v out of range", lng)
	}
	if !isFinite(accuracyMeters) || accuracyMeters < 0 {
		return Record{}, errs.Wrapf(ErrInvalidLocation, "accuracy %v invalid", accuracyMeters)
	}

	return Record{
		Lat:              lat,
		Lng:              lng,
		AccuracyMeters:   accuracyMeters,
		ClientTimestamp:  clientTimestamp,
		ServerObservedAt: time.Now(),
	}, nil
}

// WithMotion returns a copy of r carrying optional speed/heading/altitude.
// Records remain value objects: this never mutates r.
func (r Record) WithMotion(speed, heading, altitude *float64) Record {
	r.Speed = speed
	r.Heading = heading
	r.Altitude = altitude
	return r
}

// IsStale reports whether r's server-observed-time is older than ttl as
// measured from now.
func (r Record) IsStale(now time.Time, ttl time.Duration) bool {
	return now.Sub(r.ServerObservedAt) > ttl
}

// SupersededBy reports whether candidate is a valid successor to r under
// the monotonicity guard: a candidate with a client-timestamp that is not
// strictly newer is a stale replay and must be dropped.
func (r Record) SupersededBy(candidate Record) bool {
	return candidate.ClientTimestamp.After(r.ClientTimestamp)
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
