package league

import (
	"context"
	"fmt"
)

// Every transition post is bracketed by events in the round's log:
// post_intent before the gateway call, then post_recorded or post_failed.
// An intent without either means an earlier attempt crashed after posting
// but before saving the message id, so the new post may be a duplicate.

func intentEvent(kind NoticeKind) string   { return "post_intent:" + string(kind) }
func recordedEvent(kind NoticeKind) string { return "post_recorded:" + string(kind) }
func failedEvent(kind NoticeKind) string   { return "post_failed:" + string(kind) }

func (e *Engine) postTracked(ctx context.Context, g Guild, roundID uint, n Notice) (MessageRef, error) {
	_, err := e.store.UpdateRound(ctx, roundID, func(tx RoundTx) error {
		pending, err := unresolvedIntents(tx, n.Kind)
		if err != nil {
			return err
		}
		if pending > 0 {
			e.observer.SuspectedDuplicate(n.Kind)
			e.logger.Warn("earlier post was never recorded, message may be duplicated",
				"guild_id", g.ID, "round_id", roundID, "kind", n.Kind, "pending", pending)
		}
		return tx.RecordEvent(intentEvent(n.Kind), map[string]any{"kind": n.Kind})
	})
	if err != nil {
		return MessageRef{}, fmt.Errorf("record post intent: %w", err)
	}

	ref, postErr := e.post(ctx, g, n)
	if postErr != nil {
		_, err := e.store.UpdateRound(ctx, roundID, func(tx RoundTx) error {
			return tx.RecordEvent(failedEvent(n.Kind), map[string]any{"error": postErr.Error()})
		})
		if err != nil {
			e.logger.Error("record post failure failed", "guild_id", g.ID, "round_id", roundID, "kind", n.Kind, "error", err)
		}
		return MessageRef{}, postErr
	}
	return ref, nil
}

func unresolvedIntents(tx RoundTx, kind NoticeKind) (int64, error) {
	intents, err := tx.EventCount(intentEvent(kind))
	if err != nil {
		return 0, err
	}
	recorded, err := tx.EventCount(recordedEvent(kind))
	if err != nil {
		return 0, err
	}
	failed, err := tx.EventCount(failedEvent(kind))
	if err != nil {
		return 0, err
	}
	return intents - recorded - failed, nil
}
