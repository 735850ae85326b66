//go:build integration

package stream_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"

	"chronicle/internal/platform/stream"
	"chronicle/pkg/testutil/containers"
)

func TestPublisherDeliversKeyedRecords(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	redpanda := containers.GetManager().GetRedpanda(t)
	topic := "chronicle.audit.test." + uuid.NewString()

	publisher, err := stream.New(ctx, redpanda.Brokers, topic)
	require.NoError(t, err)
	defer publisher.Close()

	correlationID := uuid.NewString()
	payload := []byte(`{"event_type":"workload_completed"}`)
	require.NoError(t, publisher.Publish(ctx, correlationID, payload))

	consumer, err := kgo.NewClient(
		kgo.SeedBrokers(redpanda.Brokers...),
		kgo.ConsumeTopics(topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	require.NoError(t, err)
	defer consumer.Close()

	fetchCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	fetches := consumer.PollFetches(fetchCtx)
	require.NoError(t, fetches.Err())

	records := fetches.Records()
	require.Len(t, records, 1)
	require.Equal(t, correlationID, string(records[0].Key))
	require.Equal(t, payload, records[0].Value)
}
