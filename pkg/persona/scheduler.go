package persona

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/AustinMutschler/partyphone/pkg/schedule"
)

const (
	// callGap is the minimum quiet time between two calls by the same
	// persona. Back-to-back calls from one character feel scripted.
	callGap = 5 * time.Minute

	// retryBusy is the wait before reattempting the head entry when
	// the persona or the line is occupied, or its condition is unmet.
	retryBusy = 5 * time.Minute

	// retryFailed is the wait after an unanswered or errored attempt.
	retryFailed = time.Minute
)

// runSchedule works through the persona's planned calls in StartAt
// order. The head entry is retried until it succeeds; only an answered
// call dequeues it. The loop exits when nothing is pending.
func (p *Persona) runSchedule(ctx context.Context) {
	if err := p.seedSchedule(ctx); err != nil {
		slog.Error("persona: seeding schedule failed", "persona", p.config.Name, "error", err)
		return
	}

	pending, err := p.store.PendingByPersona(ctx, p.config.Name)
	if err != nil {
		slog.Error("persona: loading schedule failed", "persona", p.config.Name, "error", err)
		return
	}
	slog.Info("persona: schedule loaded", "persona", p.config.Name, "pending", len(pending))

	for len(pending) > 0 {
		if ctx.Err() != nil {
			return
		}
		entry := pending[0]

		now := p.now()
		if entry.StartAt.After(now) {
			if !p.sleep(ctx, entry.StartAt.Sub(now)) {
				return
			}
			continue
		}

		p.mu.Lock()
		busy := p.busy
		last := p.lastCallEnded
		p.mu.Unlock()

		if !last.IsZero() && now.Sub(last) < callGap {
			if !p.sleep(ctx, callGap-now.Sub(last)) {
				return
			}
			continue
		}
		if busy {
			if !p.sleep(ctx, retryBusy) {
				return
			}
			continue
		}

		lineBusy, err := p.net.IsLineBusy(ctx, p.config.OutgoingNumber)
		if err != nil {
			slog.Warn("persona: line check failed", "persona", p.config.Name, "error", err)
			if !p.sleep(ctx, retryFailed) {
				return
			}
			continue
		}
		if lineBusy {
			slog.Info("persona: line busy, deferring call", "persona", p.config.Name, "entry", entry.ID)
			if !p.sleep(ctx, retryBusy) {
				return
			}
			continue
		}

		if entry.ConditionID != "" {
			satisfied, err := p.store.Condition(ctx, entry.ConditionID)
			if err != nil {
				slog.Warn("persona: condition check failed", "persona", p.config.Name, "condition", entry.ConditionID, "error", err)
				if !p.sleep(ctx, retryFailed) {
					return
				}
				continue
			}
			if !satisfied {
				slog.Info("persona: condition not met, deferring call", "persona", p.config.Name, "condition", entry.ConditionID)
				if !p.sleep(ctx, retryBusy) {
					return
				}
				continue
			}
		}

		answered, err := p.attemptCall(ctx, entry)
		if err != nil {
			slog.Error("persona: scheduled call failed", "persona", p.config.Name, "entry", entry.ID, "error", err)
			if !p.sleep(ctx, retryFailed) {
				return
			}
			continue
		}
		if !answered {
			slog.Info("persona: scheduled call unanswered", "persona", p.config.Name, "entry", entry.ID)
			if !p.sleep(ctx, retryFailed) {
				return
			}
			continue
		}
		pending = pending[1:]
	}

	slog.Info("persona: schedule complete", "persona", p.config.Name)
}

// seedSchedule stores the configured entries on a persona's first run.
// A store that already has entries for this persona wins over config.
func (p *Persona) seedSchedule(ctx context.Context) error {
	count, err := p.store.CountByPersona(ctx, p.config.Name)
	if err != nil {
		return err
	}
	if count > 0 || len(p.config.Schedule) == 0 {
		return nil
	}

	entries := slices.Clone(p.config.Schedule)
	for i := range entries {
		entries[i].Persona = p.config.Name
		if entries[i].ID == "" {
			entries[i].ID = uuid.NewString()
		}
	}
	slices.SortFunc(entries, func(a, b schedule.Entry) int {
		return a.StartAt.Compare(b.StartAt)
	})
	slog.Info("persona: seeding schedule", "persona", p.config.Name, "entries", len(entries))
	return p.store.BulkInsert(ctx, entries)
}

// attemptCall places one scheduled call. An answered call is marked
// completed when it ends, whatever happened on it.
func (p *Persona) attemptCall(ctx context.Context, entry schedule.Entry) (bool, error) {
	slog.Info("persona: placing scheduled call", "persona", p.config.Name, "entry", entry.ID)
	return p.net.MakeCall(ctx, p.config.OutgoingNumber, func(ctx context.Context, call Call) {
		p.handleCall(ctx, call, entry.Prompt)
		if err := p.store.MarkCompleted(ctx, entry.ID); err != nil {
			slog.Error("persona: marking call completed failed", "persona", p.config.Name, "entry", entry.ID, "error", err)
		}
	})
}
