package registry

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/leadpulse/realtime/config"
)

// staleScans is how many consecutive scans a connection's outbox must stay
// at capacity before it is considered stale.
const staleScans = 2

// Reaper periodically evicts connections whose outboxes cannot be drained,
// reclaiming resources without a client ever signalling disconnect. It also
// garbage-collects user entries that hold neither connections nor unread
// state; users with unread state are never collected.
type Reaper struct {
	reg      *Registry
	interval time.Duration
	logger   zerolog.Logger
	done     chan struct{}
	stopOnce sync.Once
}

// NewReaper creates a reaper for the given registry.
func NewReaper(reg *Registry, cfg *config.Config, logger zerolog.Logger) *Reaper {
	return &Reaper{
		reg:      reg,
		interval: cfg.ReaperInterval,
		logger:   logger.With().Str("component", "reaper").Logger(),
		done:     make(chan struct{}),
	}
}

// Run blocks, scanning on a fixed interval until Stop is called.
// Call in a goroutine.
func (rp *Reaper) Run() {
	ticker := time.NewTicker(rp.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rp.RunOnce()
		case <-rp.done:
			return
		}
	}
}

// Stop halts the scan loop.
func (rp *Reaper) Stop() {
	rp.stopOnce.Do(func() { close(rp.done) })
}

// RunOnce performs a single scan over every user and reports how many
// connections were evicted. A connection is stale when its outbox has been
// at capacity for staleScans consecutive scans, or when it is already
// broken; eviction goes through the same Disconnect path as an explicit
// disconnect.
func (rp *Reaper) RunOnce() int {
	reg := rp.reg

	reg.mu.RLock()
	userIDs := make([]string, 0, len(reg.users))
	for id := range reg.users {
		userIDs = append(userIDs, id)
	}
	reg.mu.RUnlock()

	evicted := 0
	collected := 0
	for _, userID := range userIDs {
		st := reg.lookup(userID)
		if st == nil {
			continue
		}

		var stale []string
		st.mu.Lock()
		for id, c := range st.conns {
			if c.Closed() {
				stale = append(stale, id)
				continue
			}
			if c.saturated() {
				c.strikes++
				if c.strikes >= staleScans {
					stale = append(stale, id)
				}
			} else {
				c.strikes = 0
			}
		}
		st.mu.Unlock()

		for _, id := range stale {
			rp.logger.Warn().
				Str("user_id", userID).
				Str("connection_id", id).
				Msg("evicting stale connection")
			reg.Disconnect(userID, id)
			evicted++
		}

		if reg.gcIfEmpty(userID) {
			collected++
		}
	}

	if evicted > 0 || collected > 0 {
		rp.logger.Info().
			Int("evicted", evicted).
			Int("users_collected", collected).
			Msg("reaper scan complete")
	}
	return evicted
}
