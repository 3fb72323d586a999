// Package sla runs the background deadline sweep over open tickets.
package sla

import (
	"context"
	"errors"
	"time"

	"github.com/relaydesk/relaydesk/internal/config"
	"github.com/relaydesk/relaydesk/internal/domain"
	"github.com/relaydesk/relaydesk/internal/logging"
	"github.com/relaydesk/relaydesk/internal/ticket"
)

// Notifier receives the events the sweep produces. The event router
// implements this; tests use a recording fake.
type Notifier interface {
	// SLAWarning fires when an open ticket crosses a sub-100% threshold of
	// its current phase deadline (response while waiting, resolution once
	// assigned).
	SLAWarning(ctx context.Context, t *domain.Ticket, thresholdPct int, remaining time.Duration)

	// SLABreach fires when the phase deadline passes. The ticket's
	// escalation level has already been raised.
	SLABreach(ctx context.Context, t *domain.Ticket)
}

// errNoChange signals that evaluate found nothing to record. It aborts the
// conditional update without writing.
var errNoChange = errors.New("no sla change")

// Sweeper periodically walks open tickets and compares elapsed time against
// the current phase deadline at fixed threshold fractions: the response
// deadline while a ticket waits, the resolution deadline once it is
// assigned. Each threshold fires exactly once per phase: the crossing is
// recorded in the ticket's lastNotifiedThreshold under the same conditional
// update that guards against a concurrent status change, so repeated sweeps
// (or multiple instances sweeping the same store) never duplicate a warning.
type Sweeper struct {
	store      ticket.Store
	notifier   Notifier
	thresholds []int
	interval   time.Duration
	log        *logging.Logger

	now func() time.Time
}

// NewSweeper creates a sweeper from the SLA configuration. Thresholds are
// percentages of the response window, ascending (e.g. 75, 90, 100).
func NewSweeper(store ticket.Store, notifier Notifier, cfg config.SLAConfig, log *logging.Logger) *Sweeper {
	return &Sweeper{
		store:      store,
		notifier:   notifier,
		thresholds: cfg.Thresholds,
		interval:   time.Duration(cfg.SweepSeconds) * time.Second,
		log:        log.Sub("sla"),
		now:        time.Now,
	}
}

// SetClock replaces the time source, for tests.
func (s *Sweeper) SetClock(now func() time.Time) { s.now = now }

// Run sweeps on a fixed interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	s.log.Info().Dur("interval", s.interval).Ints("thresholds", s.thresholds).Msg("sla sweep started")
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("sla sweep stopped")
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep evaluates every open ticket once. A failure on one ticket is
// logged and the sweep moves on.
func (s *Sweeper) Sweep(ctx context.Context) {
	open, err := s.store.ListOpen(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("sla sweep: listing open tickets")
		return
	}

	for _, t := range open {
		if err := s.evaluate(ctx, t.ID, t.Status); err != nil {
			s.log.Warn().Err(err).Str("ticketId", t.ID).Msg("sla sweep: ticket evaluation failed")
		}
	}
}

// evaluate records newly crossed thresholds on one ticket and emits the
// corresponding events. The crossing decision runs inside the conditional
// update so it sees fresh state; notifications go out only after the write
// lands.
func (s *Sweeper) evaluate(ctx context.Context, id string, expect domain.TicketStatus) error {
	var crossed []int

	updated, err := s.store.UpdateIf(ctx, id, expect, func(t *domain.Ticket) error {
		pct := elapsedPercent(t.CreatedAt, phaseDeadline(t), s.now())
		for _, th := range s.thresholds {
			if th <= t.SLA.LastNotifiedThreshold || pct < th {
				continue
			}
			crossed = append(crossed, th)
			t.SLA.LastNotifiedThreshold = th
			if th >= 100 {
				t.SLA.EscalationLevel++
			}
		}
		if len(crossed) == 0 {
			return errNoChange
		}
		return nil
	})
	if errors.Is(err, errNoChange) {
		return nil
	}
	if errors.Is(err, ticket.ErrConflict) || errors.Is(err, ticket.ErrNotFound) {
		// Changed phase or went terminal between the list and the update.
		// The next sweep sees the new state.
		return nil
	}
	if err != nil {
		return err
	}

	now := s.now()
	deadline := phaseDeadline(updated)
	for _, th := range crossed {
		if th >= 100 {
			s.log.Warn().
				Str("ticketId", updated.ID).
				Str("status", string(updated.Status)).
				Int("escalationLevel", updated.SLA.EscalationLevel).
				Time("deadline", deadline).
				Msg("sla deadline breached")
			s.notifier.SLABreach(ctx, updated)
			continue
		}
		s.log.Info().
			Str("ticketId", updated.ID).
			Int("threshold", th).
			Msg("sla warning threshold crossed")
		s.notifier.SLAWarning(ctx, updated, th, deadline.Sub(now))
	}
	return nil
}

// phaseDeadline is the deadline the ticket is currently racing: response
// while waiting for an agent, resolution once one holds it.
func phaseDeadline(t *domain.Ticket) time.Time {
	if t.Status == domain.TicketAssigned {
		return t.SLA.ResolutionDeadline
	}
	return t.SLA.ResponseDeadline
}

// elapsedPercent returns how much of the window between created and deadline
// has passed, as a percentage. Past the deadline it keeps growing beyond 100.
func elapsedPercent(created, deadline, now time.Time) int {
	window := deadline.Sub(created)
	if window <= 0 {
		return 100
	}
	return int(now.Sub(created) * 100 / window)
}
