package registry

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/leadpulse/realtime/config"
	"github.com/leadpulse/realtime/src/store"
	"github.com/leadpulse/realtime/src/types"
)

const historyAppendTimeout = 5 * time.Second

// Dispatcher fans notifications out to a user's live connections, applying
// a per-send timeout and evicting handles that cannot accept delivery.
type Dispatcher struct {
	reg      *Registry
	recorder store.HistoryRecorder
	timeout  time.Duration
	logger   zerolog.Logger
}

// NewDispatcher creates a dispatcher. recorder may be nil to disable
// history persistence.
func NewDispatcher(reg *Registry, recorder store.HistoryRecorder, cfg *config.Config, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		reg:      reg,
		recorder: recorder,
		timeout:  cfg.SendTimeout,
		logger:   logger.With().Str("component", "dispatcher").Logger(),
	}
}

// Send attempts a bounded-time enqueue onto the connection's outbox. It
// reports true on success (updating the connection's activity time) and
// false on timeout or a closed connection, signalling the caller that the
// connection is unhealthy.
func (d *Dispatcher) Send(c *Conn, n types.Notification) bool {
	if c.Closed() {
		return false
	}

	timer := time.NewTimer(d.timeout)
	defer timer.Stop()

	select {
	case c.outbox <- n:
		c.touch()
		return true
	case <-c.done:
		return false
	case <-timer.C:
		return false
	}
}

// Fanout delivers n to every live connection of userID. Sends run
// concurrently so one stuck client never delays the user's other devices;
// connections that cannot accept delivery within the send timeout are
// evicted through the normal disconnect path. The notification's unread
// snapshot is stamped from the user's current server-side set at dispatch
// time, and the timestamp is assigned if not already set. Per-connection
// delivery failures are absorbed here, never surfaced to the caller.
func (d *Dispatcher) Fanout(userID string, n types.Notification) {
	conns, snapshot := d.reg.connections(userID)
	if snapshot == nil {
		snapshot = []string{}
	}
	n.UnreadSnapshot = snapshot
	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now()
	}

	d.appendHistory(userID, n)

	if len(conns) == 0 {
		return
	}

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		failed []*Conn
	)
	for _, c := range conns {
		wg.Add(1)
		go func(c *Conn) {
			defer wg.Done()
			if !d.Send(c, n) {
				mu.Lock()
				failed = append(failed, c)
				mu.Unlock()
			}
		}(c)
	}
	wg.Wait()

	for _, c := range failed {
		d.logger.Warn().
			Str("user_id", userID).
			Str("connection_id", c.ID).
			Str("type", string(n.Type)).
			Msg("delivery failed, evicting connection")
		d.reg.Disconnect(userID, c.ID)
	}
}

// appendHistory hands the notification to the recorder on its own
// goroutine. Recorder failures are logged and otherwise ignored; they never
// affect delivery or trigger a retry of the live fan-out.
func (d *Dispatcher) appendHistory(userID string, n types.Notification) {
	if d.recorder == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), historyAppendTimeout)
		defer cancel()
		if err := d.recorder.Append(ctx, userID, n); err != nil {
			d.logger.Error().Err(err).
				Str("user_id", userID).
				Str("type", string(n.Type)).
				Msg("history append failed")
		}
	}()
}
