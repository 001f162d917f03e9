package results

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"scholars-backend/metrics"
)

// RollbackLatest reverses the most recent publish batch of competition by
// appending a reversal batch that undoes each of its changes.
func (p *Publisher) RollbackLatest(ctx context.Context, competition, actor string) (PublicationBatch, error) {
	unlock, err := p.locker.Lock(ctx, competition)
	if err != nil {
		metrics.RecordPublishFailure("lock")
		return PublicationBatch{}, fmt.Errorf("lock competition %s: %w", competition, err)
	}
	defer unlock()

	batch, err := p.rollback(ctx, competition, actor)
	if err != nil {
		metrics.RecordPublishFailure(failureReason(err))
		p.logger.Warn("rollback failed", zap.String("competition", competition), zap.Error(err))
		return PublicationBatch{}, err
	}

	metrics.RecordBatch(string(BatchReversal), batch.RowCount)
	p.logger.Info("batch rolled back",
		zap.String("competition", competition),
		zap.String("batch", batch.ID),
		zap.String("reverses", batch.Reverses),
		zap.String("publisher", actor),
	)
	return batch, nil
}

func (p *Publisher) rollback(ctx context.Context, competition, actor string) (PublicationBatch, error) {
	if err := ctx.Err(); err != nil {
		return PublicationBatch{}, err
	}

	// The snapshot is read first so its version covers the history below.
	snap, err := p.repo.Snapshot(ctx, competition)
	if err != nil {
		return PublicationBatch{}, err
	}
	history, err := p.repo.History(ctx, competition)
	if err != nil {
		return PublicationBatch{}, err
	}

	target, ok := latestPublish(history)
	if !ok {
		return PublicationBatch{}, &NothingToRollbackError{Competition: competition}
	}
	if snap.Reversed[target.ID] {
		return PublicationBatch{}, &AlreadyRolledBackError{BatchID: target.ID}
	}

	changes, err := p.repo.Changes(ctx, target.ID)
	if err != nil {
		return PublicationBatch{}, fmt.Errorf("load changes of batch %s: %w", target.ID, err)
	}
	inverse := make([]Change, len(changes))
	ids := make([]string, len(changes))
	for i, ch := range changes {
		j := len(changes) - 1 - i
		inverse[j] = ch.inverse()
		ids[j] = ch.RegistrationID
	}

	batch := PublicationBatch{
		ID:          p.newID(),
		Competition: competition,
		Kind:        BatchReversal,
		Reverses:    target.ID,
		RowCount:    len(inverse),
		CreatedAt:   p.now().UTC(),
		Publisher:   actor,
		RecordIDs:   ids,
		BaseVersion: snap.Version,
	}
	if err := ctx.Err(); err != nil {
		return PublicationBatch{}, err
	}
	if err := p.repo.ApplyBatch(context.WithoutCancel(ctx), batch, inverse); err != nil {
		return PublicationBatch{}, err
	}
	return batch, nil
}

// History returns every batch of competition in commit order.
func (p *Publisher) History(ctx context.Context, competition string) ([]PublicationBatch, error) {
	return p.repo.History(ctx, competition)
}

func latestPublish(history []PublicationBatch) (PublicationBatch, bool) {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Kind == BatchPublish {
			return history[i], true
		}
	}
	return PublicationBatch{}, false
}
