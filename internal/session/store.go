package session

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mandelmonkey/latency-test/internal/metrics"
)

// ErrNotFound is returned when a token does not map to a live session,
// whether it never existed, already completed, or expired.
var ErrNotFound = errors.New("session not found")

// Session is one in-progress RTT handshake. Values returned by the store
// are copies; the store owns the live record.
type Session struct {
	Token           string
	UserID          string
	ClientAddress   string
	Iteration       int
	TotalIterations int
	SumRoundTrips   time.Duration
	MinRoundTrip    time.Duration
	RoundStartedAt  time.Time
}

// AverageRTTMs returns the whole-handshake average in milliseconds,
// rounded half away from zero. Only meaningful once the session has
// completed all iterations.
func (s *Session) AverageRTTMs() int64 {
	sumMs := float64(s.SumRoundTrips) / float64(time.Millisecond)
	return int64(math.Round(sumMs / float64(s.TotalIterations)))
}

// MinRTTMs returns the fastest single round in milliseconds, rounded.
func (s *Session) MinRTTMs() int64 {
	return int64(math.Round(float64(s.MinRoundTrip) / float64(time.Millisecond)))
}

// Config holds session table tuning.
type Config struct {
	// Expiration is how long a session may sit between rounds before it
	// is considered abandoned.
	Expiration time.Duration
	// SweepInterval is how often the background sweep scans the table.
	SweepInterval time.Duration
}

// DefaultConfig returns the expiry settings used when none are configured.
func DefaultConfig() Config {
	return Config{
		Expiration:    60 * time.Second,
		SweepInterval: 30 * time.Second,
	}
}

// Store is the in-memory session table. Every operation takes the table
// lock, so concurrent Advance calls on one token serialize and the sweep
// never observes a session mid-mutation.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*Session

	clock  clockwork.Clock
	config Config
}

// NewStore creates an empty session table. The clock is injectable so
// tests can drive expiry with a fake clock.
func NewStore(clock clockwork.Clock, config Config) *Store {
	return &Store{
		sessions: make(map[string]*Session),
		clock:    clock,
		config:   config,
	}
}

// Create allocates a fresh session keyed by a new random token and stamps
// the start of round 1.
func (st *Store) Create(userID, clientAddress string, totalIterations int) *Session {
	s := &Session{
		Token:           uuid.NewString(),
		UserID:          userID,
		ClientAddress:   clientAddress,
		TotalIterations: totalIterations,
		MinRoundTrip:    time.Duration(1<<63 - 1),
		RoundStartedAt:  st.clock.Now(),
	}

	st.mu.Lock()
	st.sessions[s.Token] = s
	st.mu.Unlock()

	metrics.SessionsStarted.Inc()

	out := *s
	return &out
}

// Get returns a copy of the session for token without mutating it.
func (st *Store) Get(token string) (*Session, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	s, ok := st.sessions[token]
	if !ok || st.expired(s) {
		return nil, ErrNotFound
	}

	out := *s
	return &out, nil
}

// Advance records the elapsed round trip for the current round and moves
// the session forward one iteration. The returned bool reports whether
// this was the final round; if so the session has been removed from the
// table and the copy holds the finished totals.
func (st *Store) Advance(token string) (*Session, bool, error) {
	now := st.clock.Now()

	st.mu.Lock()
	defer st.mu.Unlock()

	s, ok := st.sessions[token]
	if !ok {
		return nil, false, ErrNotFound
	}
	if st.expired(s) {
		// Reclaim eagerly rather than letting a stale round through
		// between sweep ticks.
		delete(st.sessions, token)
		metrics.SessionsExpired.Inc()
		return nil, false, ErrNotFound
	}

	rtt := now.Sub(s.RoundStartedAt)
	s.SumRoundTrips += rtt
	if rtt < s.MinRoundTrip {
		s.MinRoundTrip = rtt
	}
	s.Iteration++
	metrics.RoundRTT.Observe(float64(rtt) / float64(time.Millisecond))

	if s.Iteration < s.TotalIterations {
		s.RoundStartedAt = now
		out := *s
		return &out, false, nil
	}

	delete(st.sessions, token)
	metrics.SessionsCompleted.Inc()
	out := *s
	return &out, true, nil
}

// Remove deletes a session regardless of its progress.
func (st *Store) Remove(token string) {
	st.mu.Lock()
	delete(st.sessions, token)
	st.mu.Unlock()
}

// Len reports how many sessions are currently live.
func (st *Store) Len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.sessions)
}

// Run drives the periodic expiry sweep until ctx is cancelled. Abandoned
// handshakes are reclaimed silently; callers only ever observe them as
// ErrNotFound.
func (st *Store) Run(ctx context.Context) {
	ticker := st.clock.NewTicker(st.config.SweepInterval)
	defer ticker.Stop()

	log.Info().
		Dur("expiration", st.config.Expiration).
		Dur("sweep_interval", st.config.SweepInterval).
		Msg("session expiry sweep started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("session expiry sweep stopped")
			return
		case <-ticker.Chan():
			st.Sweep()
		}
	}
}

// Sweep removes every session whose current round has been pending longer
// than the expiration window.
func (st *Store) Sweep() {
	st.mu.Lock()
	var reclaimed int
	for token, s := range st.sessions {
		if st.expired(s) {
			delete(st.sessions, token)
			reclaimed++
		}
	}
	remaining := len(st.sessions)
	st.mu.Unlock()

	if reclaimed > 0 {
		metrics.SessionsExpired.Add(float64(reclaimed))
		log.Debug().
			Int("reclaimed", reclaimed).
			Int("remaining", remaining).
			Msg("swept expired sessions")
	}
}

// expired reports whether the current round has outlived the expiration
// window. Callers must hold the table lock.
func (st *Store) expired(s *Session) bool {
	return st.clock.Now().Sub(s.RoundStartedAt) > st.config.Expiration
}
