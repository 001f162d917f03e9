package results

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"scholars-backend/locking"
	"scholars-backend/metrics"
)

// Notification is one templated message for a participant.
type Notification struct {
	To       string         `json:"to"`
	Template string         `json:"template"`
	Payload  map[string]any `json:"payload"`
}

// NotificationDispatcher queues notifications and returns immediately.
type NotificationDispatcher interface {
	Dispatch(ctx context.Context, notifications []Notification)
}

// CertificateGenerator starts certificate jobs for qualifying registrations.
type CertificateGenerator interface {
	Generate(ctx context.Context, competition, batchID string, registrationIDs []string) error
}

// Archiver stores the original upload of a committed batch.
type Archiver interface {
	Archive(ctx context.Context, competition, batchID, name string, data []byte) error
}

// Upload is the source file a batch was built from.
type Upload struct {
	Name string
	Data []byte
}

type PublishRequest struct {
	Competition string
	Publisher   string
	Result      *ValidationResult
	Upload      *Upload
}

const TemplateResultsPublished = "results_published"

// Publisher is the only writer of leaderboard state. Publish and rollback are
// serialized per competition.
type Publisher struct {
	repo      Repository
	validator *Validator
	locker    locking.Locker
	notifier  NotificationDispatcher
	certs     CertificateGenerator
	archiver  Archiver
	logger    *zap.Logger

	maxAttempts           int
	certificatePercentile decimal.Decimal
	asyncTimeout          time.Duration
	now                   func() time.Time
	newID                 func() string

	wg sync.WaitGroup
}

type PublisherOption func(*Publisher)

func WithLocker(l locking.Locker) PublisherOption {
	return func(p *Publisher) { p.locker = l }
}

func WithNotifier(n NotificationDispatcher) PublisherOption {
	return func(p *Publisher) { p.notifier = n }
}

func WithCertificateGenerator(g CertificateGenerator) PublisherOption {
	return func(p *Publisher) { p.certs = g }
}

func WithArchiver(a Archiver) PublisherOption {
	return func(p *Publisher) { p.archiver = a }
}

func WithLogger(l *zap.Logger) PublisherOption {
	return func(p *Publisher) { p.logger = l }
}

// WithMaxAttempts bounds how often a batch is tried after concurrent
// modification. Values below one are ignored.
func WithMaxAttempts(n int) PublisherOption {
	return func(p *Publisher) {
		if n > 0 {
			p.maxAttempts = n
		}
	}
}

// WithCertificatePercentile sets the lowest percentile that earns a certificate.
func WithCertificatePercentile(d decimal.Decimal) PublisherOption {
	return func(p *Publisher) { p.certificatePercentile = d }
}

func WithAsyncTimeout(d time.Duration) PublisherOption {
	return func(p *Publisher) {
		if d > 0 {
			p.asyncTimeout = d
		}
	}
}

func WithClock(now func() time.Time) PublisherOption {
	return func(p *Publisher) { p.now = now }
}

func NewPublisher(repo Repository, v *Validator, opts ...PublisherOption) *Publisher {
	p := &Publisher{
		repo:                  repo,
		validator:             v,
		locker:                locking.NewLocal(),
		logger:                zap.NewNop(),
		maxAttempts:           3,
		certificatePercentile: decimal.NewFromInt(90),
		asyncTimeout:          2 * time.Minute,
		now:                   time.Now,
		newID:                 func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.Named("publisher")
	return p
}

// Publish commits every Insert and Update outcome of result as one batch.
func (p *Publisher) Publish(ctx context.Context, req PublishRequest) (PublicationBatch, error) {
	result := req.Result
	if result == nil {
		return PublicationBatch{}, errors.New("publish: no validation result")
	}
	competition := req.Competition
	if competition == "" {
		competition = result.Competition
	}
	if competition != result.Competition {
		return PublicationBatch{}, fmt.Errorf("publish: result was validated for %q, not %q", result.Competition, competition)
	}
	if !result.Publishable() {
		metrics.RecordPublishFailure("conflicts_present")
		return PublicationBatch{}, &ConflictsPresentError{Count: result.Conflicts()}
	}
	if len(result.Committable()) == 0 {
		metrics.RecordPublishFailure("nothing_to_publish")
		return PublicationBatch{}, ErrNothingToPublish
	}

	unlock, err := p.locker.Lock(ctx, competition)
	if err != nil {
		metrics.RecordPublishFailure("lock")
		return PublicationBatch{}, fmt.Errorf("lock competition %s: %w", competition, err)
	}
	start := time.Now()
	batch, committed, err := p.commit(ctx, competition, req.Publisher, result)
	unlock()
	if err != nil {
		metrics.RecordPublishFailure(failureReason(err))
		p.logger.Warn("publish failed",
			zap.String("competition", competition),
			zap.String("publisher", req.Publisher),
			zap.Error(err),
		)
		return PublicationBatch{}, err
	}

	metrics.RecordPublishDuration(float64(time.Since(start).Milliseconds()))
	metrics.RecordBatch(string(BatchPublish), batch.RowCount)
	p.logger.Info("batch published",
		zap.String("competition", competition),
		zap.String("batch", batch.ID),
		zap.Int("rows", batch.RowCount),
		zap.String("publisher", req.Publisher),
	)

	p.afterCommit(batch, committed, req.Upload)
	return batch, nil
}

// commit applies the batch, revalidating and retrying the whole batch when
// the store moved underneath it. It gives up as soon as revalidation would
// change what the operator approved.
func (p *Publisher) commit(ctx context.Context, competition, actor string, result *ValidationResult) (PublicationBatch, []ValidationOutcome, error) {
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return PublicationBatch{}, nil, err
		}

		committed := result.Committable()
		batch, changes := p.buildBatch(competition, actor, result.Version, committed)
		err := p.repo.ApplyBatch(context.WithoutCancel(ctx), batch, changes)
		if err == nil {
			return batch, committed, nil
		}

		var conflict *TransactionConflictError
		if !errors.As(err, &conflict) {
			return PublicationBatch{}, nil, err
		}
		if attempt >= p.maxAttempts {
			return PublicationBatch{}, nil, &TransactionConflictError{Competition: competition, Attempts: attempt, Err: conflict.Err}
		}

		p.logger.Info("batch conflicted, revalidating",
			zap.String("competition", competition),
			zap.Int("attempt", attempt),
		)
		snap, err := p.repo.Snapshot(ctx, competition)
		if err != nil {
			return PublicationBatch{}, nil, err
		}
		next, err := p.validator.Validate(ctx, result.Records(), snap)
		if err != nil {
			return PublicationBatch{}, nil, err
		}
		if !sameClassification(result.Outcomes, next.Outcomes) {
			return PublicationBatch{}, nil, &TransactionConflictError{
				Competition: competition,
				Attempts:    attempt,
				Err:         errors.New("outcomes changed on revalidation"),
			}
		}
		result = next
	}
}

func (p *Publisher) buildBatch(competition, actor string, version int64, committed []ValidationOutcome) (PublicationBatch, []Change) {
	changes := make([]Change, 0, len(committed))
	ids := make([]string, 0, len(committed))
	for _, o := range committed {
		ch := Change{RegistrationID: o.RegistrationID, Before: o.Before, After: o.After}
		if o.Kind == OutcomeInsert {
			ch.Action = ActionInsert
		} else {
			ch.Action = ActionUpdate
		}
		changes = append(changes, ch)
		ids = append(ids, o.RegistrationID)
	}
	return PublicationBatch{
		ID:          p.newID(),
		Competition: competition,
		Kind:        BatchPublish,
		RowCount:    len(changes),
		CreatedAt:   p.now().UTC(),
		Publisher:   actor,
		RecordIDs:   ids,
		BaseVersion: version,
	}, changes
}

func sameClassification(a, b []ValidationOutcome) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Kind != b[i].Kind || a[i].RegistrationID != b[i].RegistrationID {
			return false
		}
	}
	return true
}

// afterCommit runs the best-effort side effects of a batch in the background.
func (p *Publisher) afterCommit(batch PublicationBatch, committed []ValidationOutcome, upload *Upload) {
	if p.notifier == nil && p.certs == nil && (p.archiver == nil || upload == nil) {
		return
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), p.asyncTimeout)
		defer cancel()

		log := p.logger.With(zap.String("competition", batch.Competition), zap.String("batch", batch.ID))

		if p.notifier != nil {
			if ns := notificationsFor(batch, committed); len(ns) > 0 {
				p.notifier.Dispatch(ctx, ns)
			}
		}

		if p.certs != nil {
			if ids := p.qualifying(committed); len(ids) > 0 {
				if err := p.certs.Generate(ctx, batch.Competition, batch.ID, ids); err != nil {
					metrics.RecordAsyncDropped("certificate", 1)
					log.Error("certificate generation failed", zap.Int("records", len(ids)), zap.Error(err))
				}
			}
		}

		if p.archiver != nil && upload != nil {
			if err := p.archiver.Archive(ctx, batch.Competition, batch.ID, upload.Name, upload.Data); err != nil {
				metrics.RecordAsyncDropped("archive", 1)
				log.Error("archiving upload failed", zap.String("file", upload.Name), zap.Error(err))
			}
		}
	}()
}

// Wait blocks until background side effects of earlier publishes finished.
func (p *Publisher) Wait() {
	p.wg.Wait()
}

func (p *Publisher) qualifying(committed []ValidationOutcome) []string {
	var ids []string
	for _, o := range committed {
		if o.After != nil && o.After.Percentile != nil && o.After.Percentile.GreaterThanOrEqual(p.certificatePercentile) {
			ids = append(ids, o.RegistrationID)
		}
	}
	return ids
}

func notificationsFor(batch PublicationBatch, committed []ValidationOutcome) []Notification {
	out := make([]Notification, 0, len(committed))
	for _, o := range committed {
		if o.Email == "" || o.After == nil {
			continue
		}
		payload := map[string]any{
			"competition":    batch.Competition,
			"batchId":        batch.ID,
			"registrationId": o.RegistrationID,
		}
		if o.After.Score != nil {
			payload["score"] = o.After.Score.String()
		}
		if o.After.Percentile != nil {
			payload["percentile"] = o.After.Percentile.String()
		}
		if o.After.Rank != nil {
			payload["rank"] = *o.After.Rank
		}
		if o.After.Category != nil {
			payload["category"] = *o.After.Category
		}
		out = append(out, Notification{To: o.Email, Template: TemplateResultsPublished, Payload: payload})
	}
	return out
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrTransactionConflict):
		return "transaction_conflict"
	case errors.Is(err, ErrStorageUnavailable):
		return "storage_unavailable"
	case errors.Is(err, ErrAlreadyRolledBack):
		return "already_rolled_back"
	case errors.Is(err, ErrNothingToRollback):
		return "nothing_to_rollback"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "other"
	}
}
