package persona

import (
	"context"
	"log/slog"

	"github.com/AustinMutschler/partyphone/pkg/phone"
	"github.com/AustinMutschler/partyphone/pkg/schedule"
)

// cueRepeats is how many times a condition line plays its confirmation
// cue before hanging up.
const cueRepeats = 3

// ConditionLine answers a dedicated number and marks a condition
// satisfied when anyone calls it. There is no conversation: the caller
// hears a confirmation cue a few times and the line drops.
type ConditionLine struct {
	store       schedule.Store
	number      string
	conditionID string
	cueFile     string
}

// NewConditionLine creates a line that satisfies conditionID when
// number is called, playing cueFile as confirmation.
func NewConditionLine(store schedule.Store, number, conditionID, cueFile string) *ConditionLine {
	return &ConditionLine{
		store:       store,
		number:      number,
		conditionID: conditionID,
		cueFile:     cueFile,
	}
}

// Attach registers the line's number on the network.
func (l *ConditionLine) Attach(n *phone.Network) {
	n.RegisterHandlerByNumber(l.number, func(ctx context.Context, call *phone.Call) {
		l.handleCall(ctx, call)
	})
}

func (l *ConditionLine) handleCall(ctx context.Context, call Call) {
	if err := call.Answer(ctx); err != nil {
		slog.Error("persona: condition line answer failed", "number", l.number, "error", err)
		return
	}

	if err := l.store.SetCondition(ctx, l.conditionID, true); err != nil {
		slog.Error("persona: recording condition failed", "condition", l.conditionID, "error", err)
	} else {
		slog.Info("persona: condition satisfied", "condition", l.conditionID, "number", l.number)
	}

	for i := 0; i < cueRepeats; i++ {
		select {
		case <-call.End():
			return
		case <-ctx.Done():
			return
		default:
		}
		if err := call.PlayFile(ctx, l.cueFile); err != nil {
			slog.Warn("persona: playing confirmation cue failed", "number", l.number, "error", err)
			break
		}
	}

	if err := call.Hangup(ctx); err != nil {
		slog.Debug("persona: condition line hangup", "error", err)
	}
}
