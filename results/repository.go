package results

import "context"

// Repository is the leaderboard store. ApplyBatch is the only write path for
// results: it applies every change, appends the batch and advances the
// competition version in one transaction, or does nothing.
type Repository interface {
	Snapshot(ctx context.Context, competition string) (*Snapshot, error)
	ApplyBatch(ctx context.Context, batch PublicationBatch, changes []Change) error
	History(ctx context.Context, competition string) ([]PublicationBatch, error)
	Changes(ctx context.Context, batchID string) ([]Change, error)
	SeedRegistrations(ctx context.Context, competition string, regs []Registration) error
}
