package transport

import (
	"context"
	"encoding/json"
	"hash/fnv"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/teranos/scbe/auth"
	"github.com/teranos/scbe/config"
	"github.com/teranos/scbe/directory"
	"github.com/teranos/scbe/errs"
	"github.com/teranos/scbe/location"
	"github.com/teranos/scbe/logger"
	"github.com/teranos/scbe/registry"
	"github.com/teranos/scbe/session"
	"github.com/teranos/scbe/store"
	"github.com/teranos/scbe/wire"
)

const maxMessageSize = 4096

// Keepalive timings, following the teacher's server/client.go: pingPeriod
// must stay comfortably under pongWait so a missed pong is caught before
// the read deadline fires. writeWait is the fallback write deadline
// when Config.WriteDeadlineSeconds is unset, matching spec's 5s default.
const (
	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// ErrTransportDead names the transport-dead error kind (a write blocked
// past the write deadline, or the socket errored). Nothing in this
// package returns it: writePump tears the attachment down with a reason
// string instead.
var ErrTransportDead = errs.New("transport write deadline exceeded")

// CredentialVerifier validates an opaque bearer token into the
// (session, participant) binding it authorizes. auth.JWTManager
// implements this directly.
type CredentialVerifier interface {
	ValidateToken(token string) (auth.Claims, error)
}

// avatarPalette gives every participant a stable, deterministic color
// derived from their participant-id, so reconnects keep the same color
// without the server persisting one.
var avatarPalette = []string{
	"#e6194b", "#3cb44b", "#ffe119", "#4363d8", "#f58231",
	"#911eb4", "#46f0f0", "#f032e6", "#bcf60c", "#fabebe",
}

func deriveAvatarColor(participantID string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(participantID))
	return avatarPalette[int(h.Sum32())%len(avatarPalette)]
}

// Deps bundles everything an Attachment needs to authenticate, bind to
// a Coordinator, and run its per-connection lifecycle.
type Deps struct {
	Verifier          CredentialVerifier
	Directory         *directory.Directory
	Store             store.SessionStore
	Config            config.TransportConfig
	OutboundQueueSize int
}

// Handler returns an http.HandlerFunc that upgrades the request to a
// WebSocket and runs the Attachment Endpoint lifecycle to completion.
// The handler blocks for the lifetime of the connection, one goroutine
// pair per Attachment, the same shape as the teacher's server.go.
func Handler(upgrader websocket.Upgrader, deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := r.URL.Query().Get("token")
		if token == "" {
			http.Error(w, "missing token", http.StatusUnauthorized)
			return
		}

		claims, err := deps.Verifier.ValidateToken(token)
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warnw("websocket upgrade failed", logger.FieldError, err.Error())
			return
		}

		Attach(r.Context(), conn, claims, deps)
	}
}

// Attach runs the full bind→run→teardown lifecycle for one connection.
// It blocks until the connection is torn down. Once bound, every exit
// path detaches the participant, except when the Coordinator itself
// closed the outbound queue (the attachment was superseded or removed,
// or the session ended).
func Attach(ctx context.Context, conn Conn, claims auth.Claims, deps Deps) {
	defer conn.Close()

	expiresAt, ok, err := deps.Store.Validate(ctx, claims.SessionID)
	if err != nil {
		logger.Warnw("session validation failed", logger.FieldSessionID, claims.SessionID, logger.FieldError, err.Error())
		writeFrame(conn, wire.Envelope{Type: wire.TypeError, Payload: wire.ErrorFrame{Code: wire.ErrCodeUnauthorized, Message: "session lookup failed"}})
		return
	}
	if !ok {
		writeFrame(conn, wire.Envelope{Type: wire.TypeError, Payload: wire.ErrorFrame{Code: wire.ErrCodeUnauthorized, Message: "unknown or ended session"}})
		return
	}

	coord := deps.Directory.GetOrStart(claims.SessionID, time.Now(), expiresAt)

	avatarColor := deriveAvatarColor(claims.ParticipantID)
	if err := coord.AddParticipant(claims.ParticipantID, claims.DisplayName, avatarColor); err != nil {
		switch err {
		case registry.ErrDuplicate:
			// Reconnect: the participant is already known, only the
			// outbound queue needs (re)attaching below.
		case registry.ErrCapacityExceeded:
			writeFrame(conn, wire.Envelope{Type: wire.TypeError, Payload: wire.ErrorFrame{Code: wire.ErrCodeOverloaded, Message: "session is full"}})
			return
		default:
			writeFrame(conn, wire.Envelope{Type: wire.TypeError, Payload: wire.ErrorFrame{Code: wire.ErrCodeUnauthorized, Message: "session unavailable"}})
			return
		}
	}

	q := registry.NewQueue(deps.OutboundQueueSize)
	if err := coord.Attach(claims.ParticipantID, q); err != nil {
		writeFrame(conn, wire.Envelope{Type: wire.TypeError, Payload: wire.ErrorFrame{Code: wire.ErrCodeUnauthorized, Message: "attach failed"}})
		return
	}

	if err := deps.Store.TouchActivity(claims.SessionID); err != nil {
		logger.Warnw("touch activity failed", logger.FieldSessionID, claims.SessionID, logger.FieldError, err.Error())
	}

	done := make(chan struct{})
	var once sync.Once
	teardown := func(reason string) {
		once.Do(func() {
			close(done)
			q.Close()
			// A queue the Coordinator closed itself (supersession,
			// removal, session end) is no longer this participant's
			// binding; detaching would close the successor's queue.
			if reason != "queue_closed" {
				_ = coord.Detach(claims.ParticipantID)
			}
			_ = conn.Close()
			logger.Infow("attachment closed", logger.FieldSessionID, claims.SessionID, logger.FieldParticipantID, claims.ParticipantID, logger.FieldReason, reason)
		})
	}

	limiter := rate.NewLimiter(rate.Limit(deps.Config.InboundRatePerSecond), deps.Config.InboundRateBurst)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		readPump(conn, coord, claims, limiter, done, teardown)
	}()
	go func() {
		defer wg.Done()
		writePump(conn, q, deps.Config, done, teardown)
	}()
	wg.Wait()
}

func readPump(conn Conn, coord *session.Coordinator, claims auth.Claims, limiter *rate.Limiter, done chan struct{}, teardown func(string)) {
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			teardown("read_error")
			return
		}

		select {
		case <-done:
			return
		default:
		}

		if !limiter.Allow() {
			writeFrame(conn, wire.Envelope{Type: wire.TypeError, Payload: wire.ErrorFrame{Code: wire.ErrCodeRateLimited, Message: "rate limit exceeded"}})
			continue
		}

		var env wire.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			writeFrame(conn, wire.Envelope{Type: wire.TypeError, Payload: wire.ErrorFrame{Code: wire.ErrCodeMalformed, Message: "malformed frame"}})
			_ = coord.ReportProtocolError(claims.ParticipantID)
			continue
		}

		switch env.Type {
		case wire.TypePing:
			_ = coord.Touch(claims.ParticipantID)
			writeFrame(conn, wire.Envelope{Type: wire.TypePong, Payload: wire.Pong{}})

		case wire.TypeLocationUpdate:
			in, err := decodeLocationUpdate(env.Payload)
			if err != nil {
				writeFrame(conn, wire.Envelope{Type: wire.TypeError, Payload: wire.ErrorFrame{Code: wire.ErrCodeMalformed, Message: "malformed location_update"}})
				_ = coord.ReportProtocolError(claims.ParticipantID)
				continue
			}
			ts, err := time.Parse(time.RFC3339, in.Timestamp)
			if err != nil {
				writeFrame(conn, wire.Envelope{Type: wire.TypeError, Payload: wire.ErrorFrame{Code: wire.ErrCodeInvalidLocation, Message: "invalid timestamp"}})
				_ = coord.ReportProtocolError(claims.ParticipantID)
				continue
			}
			rec, err := location.New(in.Lat, in.Lng, in.Accuracy, ts)
			if err != nil {
				writeFrame(conn, wire.Envelope{Type: wire.TypeError, Payload: wire.ErrorFrame{Code: wire.ErrCodeInvalidLocation, Message: err.Error()}})
				_ = coord.ReportProtocolError(claims.ParticipantID)
				continue
			}
			if err := coord.UpdateLocation(claims.ParticipantID, rec); err != nil {
				teardown("coordinator_unavailable")
				return
			}

		default:
			writeFrame(conn, wire.Envelope{Type: wire.TypeError, Payload: wire.ErrorFrame{Code: wire.ErrCodeMalformed, Message: "unrecognized frame type"}})
			_ = coord.ReportProtocolError(claims.ParticipantID)
		}
	}
}

func decodeLocationUpdate(payload interface{}) (wire.LocationUpdateIn, error) {
	var in wire.LocationUpdateIn
	raw, err := json.Marshal(payload)
	if err != nil {
		return in, err
	}
	if err := json.Unmarshal(raw, &in); err != nil {
		return in, err
	}
	return in, nil
}

func writePump(conn Conn, q *registry.Queue, cfg config.TransportConfig, done chan struct{}, teardown func(string)) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	frames := make(chan registry.Frame)
	go func() {
		defer close(frames)
		for {
			f, ok := q.Dequeue(done)
			if !ok {
				return
			}
			select {
			case frames <- f:
			case <-done:
				return
			}
		}
	}()

	writeDeadline := time.Duration(cfg.WriteDeadlineSeconds) * time.Second
	if writeDeadline <= 0 {
		writeDeadline = writeWait
	}

	for {
		select {
		case <-done:
			return

		case f, ok := <-frames:
			if !ok {
				teardown("queue_closed")
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := writeFrame(conn, envelopeFor(f.Payload)); err != nil {
				teardown("write_deadline_exceeded")
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				teardown("ping_failed")
				return
			}
		}
	}
}

func envelopeFor(payload interface{}) wire.Envelope {
	switch payload.(type) {
	case wire.ParticipantJoined:
		return wire.Envelope{Type: wire.TypeParticipantJoined, Payload: payload}
	case wire.ParticipantLeft:
		return wire.Envelope{Type: wire.TypeParticipantLeft, Payload: payload}
	case wire.InitialParticipants:
		return wire.Envelope{Type: wire.TypeInitialParticipants, Payload: payload}
	case wire.InitialLocations:
		return wire.Envelope{Type: wire.TypeInitialLocations, Payload: payload}
	case wire.LocationUpdateOut:
		return wire.Envelope{Type: wire.TypeLocationUpdate, Payload: payload}
	case wire.SessionEnded:
		return wire.Envelope{Type: wire.TypeSessionEnded, Payload: payload}
	case wire.ErrorFrame:
		return wire.Envelope{Type: wire.TypeError, Payload: payload}
	default:
		return wire.Envelope{Type: wire.TypeError, Payload: wire.ErrorFrame{Code: wire.ErrCodeMalformed, Message: "unrecognized outbound frame"}}
	}
}

func writeFrame(conn Conn, env wire.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}
