//go:build integration

package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
	postgrescontainer "github.com/testcontainers/testcontainers-go/modules/postgres"

	"example.com/teamdash/internal/domain"
	"example.com/teamdash/internal/events"
	"example.com/teamdash/internal/persistence/postgres"
)

const sampleSnapshot = `{"userName":"Ana","exportedAt":"2025-06-10T12:00:00Z","activities":[{"type":"calls","timestamp":"2025-06-10T09:00:00Z"}],"prospects":[{"company":"Acme","stage":"won","dealValue":250}]}`

func TestDispatcherPublishesImportEvents(t *testing.T) {
	ctx := context.Background()
	pool := setupPostgres(t, ctx)

	result := importSample(t, ctx, pool)

	producer := &stubProducer{}
	registry := &stubRegistry{id: 42}
	dispatcher := NewDispatcher(pool, producer, registry, nil, 10*time.Millisecond, 5)

	beforeDelivered := testutil.ToFloat64(eventsCounter.WithLabelValues(events.TypeImportCompleted, resultDelivered))
	beforeHistogram := histogramSampleCount(t)

	require.NoError(t, dispatcher.processBatch(ctx))

	require.Len(t, producer.writes, 1)
	require.Equal(t, "import_events", producer.writes[0].topic)
	require.Len(t, producer.writes[0].messages, 1)

	record := producer.writes[0].messages[0]
	require.Equal(t, result.Member.ID, string(record.Key))
	schemaID, body := DecodeWireFormat(record.Value)
	require.Equal(t, 42, schemaID)

	var payload events.ImportCompleted
	require.NoError(t, json.Unmarshal(body, &payload))
	require.Equal(t, result.Import.ID, payload.ImportID)
	require.Equal(t, 1, payload.ActivityCount.Calls)
	require.Equal(t, 250.0, payload.WonRevenue)
	require.NotEmpty(t, payload.EventID)

	require.Len(t, registry.calls, 1)
	require.Equal(t, "import_events-ImportCompleted", registry.calls[0].subject)

	require.InDelta(t, beforeDelivered+1, testutil.ToFloat64(eventsCounter.WithLabelValues(events.TypeImportCompleted, resultDelivered)), 0.0001)
	require.Greater(t, histogramSampleCount(t), beforeHistogram)
	require.Equal(t, 1, countPublished(t, ctx, pool))

	// A drained outbox is a no-op.
	require.NoError(t, dispatcher.processBatch(ctx))
	require.Len(t, producer.writes, 1)
}

func TestDispatcherRoutesMessagesToDLQOnFailure(t *testing.T) {
	ctx := context.Background()
	pool := setupPostgres(t, ctx)
	importSample(t, ctx, pool)

	producer := &stubProducer{err: errors.New("kafka write failed")}
	dispatcher := NewDispatcher(pool, producer, &stubRegistry{id: 7}, nil, 10*time.Millisecond, 5)

	beforeDLQ := testutil.ToFloat64(eventsCounter.WithLabelValues(events.TypeImportCompleted, resultDeadLettered))

	require.NoError(t, dispatcher.processBatch(ctx))

	require.InDelta(t, beforeDLQ+1, testutil.ToFloat64(eventsCounter.WithLabelValues(events.TypeImportCompleted, resultDeadLettered)), 0.0001)

	var reason string
	require.NoError(t, pool.QueryRow(ctx, `SELECT reason FROM outbox_dlq WHERE event_type = $1`, events.TypeImportCompleted).Scan(&reason))
	require.Contains(t, reason, "kafka write failed")
	require.Equal(t, 1, countPublished(t, ctx, pool))

	// The DLQ manager requeues the entry and the next dispatch succeeds.
	manager := NewDLQManager(pool, nil, 3, time.Second)
	processed, err := manager.RunOnce(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, 1, processed)

	var dlqCount int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox_dlq`).Scan(&dlqCount))
	require.Zero(t, dlqCount)

	producer.err = nil
	require.NoError(t, dispatcher.processBatch(ctx))
	require.Len(t, producer.writes, 1)
	require.Equal(t, 2, countPublished(t, ctx, pool))
}

func TestDLQManagerQuarantinesExhaustedEntries(t *testing.T) {
	ctx := context.Background()
	pool := setupPostgres(t, ctx)

	_, err := pool.Exec(ctx,
		`INSERT INTO outbox_dlq (event_id, event_type, topic, payload, reason, aggregate_type, aggregate_id, schema_subject, partition_key, retry_count, next_retry_at)
         VALUES (1, $1, 'import_events', '{}', 'boom', 'import', 'x', 'import_events-ImportCompleted', 'x', 3, NOW())`,
		events.TypeImportCompleted,
	)
	require.NoError(t, err)

	beforeQuarantined := testutil.ToFloat64(dlqOutcomeCounter.WithLabelValues(events.TypeImportCompleted, outcomeQuarantined))

	manager := NewDLQManager(pool, nil, 3, time.Second)
	processed, err := manager.RunOnce(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, 1, processed)

	var quarantined bool
	require.NoError(t, pool.QueryRow(ctx, `SELECT quarantined_at IS NOT NULL FROM outbox_dlq`).Scan(&quarantined))
	require.True(t, quarantined)
	require.InDelta(t, beforeQuarantined+1, testutil.ToFloat64(dlqOutcomeCounter.WithLabelValues(events.TypeImportCompleted, outcomeQuarantined)), 0.0001)
	require.Zero(t, testutil.ToFloat64(dlqBacklogGauge))

	// Quarantined rows are not picked up again.
	processed, err = manager.RunOnce(ctx, 10)
	require.NoError(t, err)
	require.Zero(t, processed)
}

func TestDispatcherCachesSchemaIDsAcrossBatch(t *testing.T) {
	ctx := context.Background()
	pool := setupPostgres(t, ctx)

	svc := domain.NewService(postgres.NewRepository(pool))
	_, err := svc.ImportFile(ctx, []byte(sampleSnapshot), domain.ImportOptions{})
	require.NoError(t, err)
	_, err = svc.ImportFile(ctx, []byte(sampleSnapshot), domain.ImportOptions{})
	require.NoError(t, err)

	producer := &stubProducer{}
	registry := &stubRegistry{id: 21}
	dispatcher := NewDispatcher(pool, producer, registry, nil, 10*time.Millisecond, 5)

	require.NoError(t, dispatcher.processBatch(ctx))

	require.Len(t, producer.writes, 1)
	require.Len(t, producer.writes[0].messages, 2)
	require.Len(t, registry.calls, 1, "schema registry should be invoked once due to cache")
}

func TestDispatcherUnknownSchemaMovesEventsToDLQ(t *testing.T) {
	ctx := context.Background()
	pool := setupPostgres(t, ctx)

	var eventID int64
	require.NoError(t, pool.QueryRow(ctx,
		`INSERT INTO outbox (aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload)
         VALUES ('import', 'x', 'import.unknown', 'import_events', 'import_events-value', 'x', '{}')
         RETURNING event_id`,
	).Scan(&eventID))

	producer := &stubProducer{}
	registry := &stubRegistry{id: 99}
	dispatcher := NewDispatcher(pool, producer, registry, nil, 10*time.Millisecond, 5)

	require.NoError(t, dispatcher.processBatch(ctx))

	require.Empty(t, producer.writes, "unknown schema should skip kafka writes")
	require.Empty(t, registry.calls, "schema registry should not be invoked when metadata missing")

	var reason string
	require.NoError(t, pool.QueryRow(ctx, `SELECT reason FROM outbox_dlq WHERE event_id = $1`, eventID).Scan(&reason))
	require.Contains(t, reason, "no schema metadata for event_type=import.unknown")
	require.Equal(t, 1, countPublished(t, ctx, pool))
}

type stubProducer struct {
	mu     sync.Mutex
	err    error
	writes []writtenBatch
}

type writtenBatch struct {
	topic    string
	messages []kafka.Message
}

func (s *stubProducer) WriteMessages(ctx context.Context, topic string, msgs ...kafka.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return s.err
	}

	copied := make([]kafka.Message, len(msgs))
	copy(copied, msgs)
	s.writes = append(s.writes, writtenBatch{topic: topic, messages: copied})
	return nil
}

type stubRegistry struct {
	mu    sync.Mutex
	id    int
	err   error
	calls []schemaCall
}

type schemaCall struct {
	subject string
	schema  string
}

func (s *stubRegistry) EnsureSchema(ctx context.Context, subject string, schema string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = append(s.calls, schemaCall{subject: subject, schema: schema})
	if s.err != nil {
		return 0, s.err
	}
	return s.id, nil
}

func importSample(t *testing.T, ctx context.Context, pool *pgxpool.Pool) *domain.ImportResult {
	t.Helper()
	svc := domain.NewService(postgres.NewRepository(pool))
	result, err := svc.ImportFile(ctx, []byte(sampleSnapshot), domain.ImportOptions{Source: "ana.json"})
	require.NoError(t, err)
	return result
}

func countPublished(t *testing.T, ctx context.Context, pool *pgxpool.Pool) int {
	t.Helper()
	var published int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox WHERE published_at IS NOT NULL`).Scan(&published))
	return published
}

func setupPostgres(t *testing.T, ctx context.Context) *pgxpool.Pool {
	t.Helper()

	pg, err := postgrescontainer.RunContainer(ctx,
		postgrescontainer.WithDatabase("teamdash"),
		postgrescontainer.WithUsername("teamdash"),
		postgrescontainer.WithPassword("teamdash"),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pg.Terminate(ctx) })

	connStr, err := pg.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	require.NoError(t, waitForDatabase(ctx, connStr))

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, postgres.Migrate(ctx, pool))
	return pool
}

func histogramSampleCount(t *testing.T) uint64 {
	t.Helper()

	metric := &dto.Metric{}
	require.NoError(t, batchDuration.Write(metric))
	hist := metric.GetHistogram()
	require.NotNil(t, hist)
	return hist.GetSampleCount()
}

func waitForDatabase(ctx context.Context, connStr string) error {
	deadline := time.Now().Add(30 * time.Second)
	for {
		pool, err := pgxpool.New(ctx, connStr)
		if err == nil {
			err = pool.Ping(ctx)
			pool.Close()
			if err == nil {
				return nil
			}
		}
		if time.Now().After(deadline) {
			return err
		}
		time.Sleep(time.Second)
	}
}
