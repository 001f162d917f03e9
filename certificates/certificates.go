// Package certificates requests certificate generation for top finishers.
package certificates

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"scholars-backend/results"
)

// Job is the message a certificate worker consumes.
type Job struct {
	Competition    string    `json:"competition"`
	BatchID        string    `json:"batchId"`
	RegistrationID string    `json:"registrationId"`
	RequestedAt    time.Time `json:"requestedAt"`
}

// PubSubGenerator publishes one Job per registration to a Pub/Sub topic.
type PubSubGenerator struct {
	topic  *pubsub.Topic
	logger *zap.Logger
	now    func() time.Time
}

// NewPubSubGenerator opens topicID, creating it when it does not exist yet.
func NewPubSubGenerator(ctx context.Context, client *pubsub.Client, topicID string, logger *zap.Logger) (*PubSubGenerator, error) {
	if client == nil {
		return nil, errors.New("pubsub client is nil")
	}
	if topicID == "" {
		return nil, errors.New("topic is required")
	}

	t := client.Topic(topicID)
	ok, err := t.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("check topic %q: %w", topicID, err)
	}
	if !ok {
		if t, err = client.CreateTopic(ctx, topicID); err != nil {
			return nil, fmt.Errorf("create topic %q: %w", topicID, err)
		}
	}
	return &PubSubGenerator{topic: t, logger: logger.Named("certificates"), now: time.Now}, nil
}

// Generate publishes every job and waits for the server to accept them. The
// returned error joins every rejected job.
func (g *PubSubGenerator) Generate(ctx context.Context, competition, batchID string, registrationIDs []string) error {
	pending := make([]*pubsub.PublishResult, 0, len(registrationIDs))
	for _, id := range registrationIDs {
		data, err := json.Marshal(Job{
			Competition:    competition,
			BatchID:        batchID,
			RegistrationID: id,
			RequestedAt:    g.now().UTC(),
		})
		if err != nil {
			return fmt.Errorf("encode certificate job %s: %w", id, err)
		}
		pending = append(pending, g.topic.Publish(ctx, &pubsub.Message{
			Data:       data,
			Attributes: map[string]string{"competition": competition, "batch": batchID},
		}))
	}

	var errs []error
	for i, res := range pending {
		if _, err := res.Get(ctx); err != nil {
			errs = append(errs, fmt.Errorf("publish certificate job %s: %w", registrationIDs[i], err))
		}
	}
	if len(errs) == 0 {
		g.logger.Info("certificate jobs published",
			zap.String("competition", competition),
			zap.String("batch", batchID),
			zap.Int("jobs", len(pending)),
		)
	}
	return errors.Join(errs...)
}

// Stop flushes buffered messages.
func (g *PubSubGenerator) Stop() {
	g.topic.Stop()
}

// LogGenerator records certificate requests in the log only.
type LogGenerator struct {
	Logger *zap.Logger
}

func (g LogGenerator) Generate(_ context.Context, competition, batchID string, registrationIDs []string) error {
	g.Logger.Info("certificate generation requested",
		zap.String("competition", competition),
		zap.String("batch", batchID),
		zap.Strings("registrations", registrationIDs),
	)
	return nil
}

var (
	_ results.CertificateGenerator = (*PubSubGenerator)(nil)
	_ results.CertificateGenerator = LogGenerator{}
)
