package certificates

import (
	"context"
	"encoding/json"
	"testing"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func newTestClient(t *testing.T) (*pubsub.Client, *pstest.Server) {
	t.Helper()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.Dial(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)

	client, err := pubsub.NewClient(context.Background(), "scholars-test", option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client, srv
}

func TestPubSubGeneratorPublishesOneJobPerRegistration(t *testing.T) {
	client, srv := newTestClient(t)
	ctx := context.Background()

	gen, err := NewPubSubGenerator(ctx, client, "certificates", zap.NewNop())
	require.NoError(t, err)
	defer gen.Stop()

	require.NoError(t, gen.Generate(ctx, "spring-2026", "batch-1", []string{"REG-001", "REG-002"}))

	msgs := srv.Messages()
	require.Len(t, msgs, 2)

	ids := map[string]bool{}
	for _, m := range msgs {
		var job Job
		require.NoError(t, json.Unmarshal(m.Data, &job))
		assert.Equal(t, "spring-2026", job.Competition)
		assert.Equal(t, "batch-1", job.BatchID)
		assert.Equal(t, "batch-1", m.Attributes["batch"])
		ids[job.RegistrationID] = true
	}
	assert.Equal(t, map[string]bool{"REG-001": true, "REG-002": true}, ids)
}

func TestNewPubSubGeneratorReusesExistingTopic(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	_, err := client.CreateTopic(ctx, "certificates")
	require.NoError(t, err)

	gen, err := NewPubSubGenerator(ctx, client, "certificates", zap.NewNop())
	require.NoError(t, err)
	gen.Stop()
}

func TestNewPubSubGeneratorRequiresTopic(t *testing.T) {
	client, _ := newTestClient(t)
	_, err := NewPubSubGenerator(context.Background(), client, "", zap.NewNop())
	assert.Error(t, err)
}

func TestLogGenerator(t *testing.T) {
	assert.NoError(t, LogGenerator{Logger: zap.NewNop()}.Generate(context.Background(), "c", "b", []string{"r"}))
}
