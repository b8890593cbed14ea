package consumer

import (
	"context"
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"

	"example.com/teamdash/internal/domain"
	"example.com/teamdash/internal/events"
	"example.com/teamdash/internal/persistence/memory"
)

const upload = `{"userName":"Ana","exportedAt":"2025-06-10T12:00:00Z","activities":[{"type":"calls","timestamp":"2025-06-10T09:00:00Z"}],"prospects":[]}`

func TestProcessorCommitsMessages(t *testing.T) {
	msg := kafka.Message{
		Topic:     "snapshot_uploads",
		Partition: 0,
		Offset:    12,
		Key:       []byte("ana"),
		Value:     []byte(upload),
		Time:      time.Now().UTC(),
		Headers: []kafka.Header{
			{Key: events.UploadFileNameHeader, Value: []byte("ana.json")},
		},
	}

	reader := &stubReader{msgs: []kafka.Message{msg}, errAfter: context.Canceled}
	handler := &RecordingHandler{}
	proc := NewProcessor(reader, handler)

	before := testutil.ToFloat64(processedCounter.WithLabelValues("snapshot_uploads"))
	err := proc.Run(context.Background())
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, handler.count)
	require.Equal(t, 1, reader.commitCount)
	require.Equal(t, "ana.json", handler.last.FileName)
	require.Equal(t, "ana", handler.last.Key)
	require.Equal(t, "snapshot_uploads:0:12", handler.last.IdempotencyKey())
	require.JSONEq(t, upload, string(handler.last.Payload))
	require.InDelta(t, before+1, testutil.ToFloat64(processedCounter.WithLabelValues("snapshot_uploads")), 0.0001)
}

func TestProcessorCommitsUndecodableRecords(t *testing.T) {
	reader := &stubReader{msgs: []kafka.Message{{Topic: "empty_uploads"}}, errAfter: context.Canceled}
	handler := &RecordingHandler{}

	err := NewProcessor(reader, handler).Run(context.Background())
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, handler.count)
	require.Equal(t, 1, reader.commitCount)
	require.InDelta(t, 1, testutil.ToFloat64(decodeErrorCounter.WithLabelValues("empty_uploads")), 0.0001)
}

func TestProcessorLeavesFailedRecordsUncommitted(t *testing.T) {
	reader := &stubReader{msgs: []kafka.Message{{Topic: "failing_uploads", Value: []byte(upload)}}, errAfter: context.Canceled}
	handler := &RecordingHandler{err: errors.New("store down")}

	err := NewProcessor(reader, handler).Run(context.Background())
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, handler.count)
	require.Zero(t, reader.commitCount)
	require.InDelta(t, 1, testutil.ToFloat64(handlerErrorCounter.WithLabelValues("failing_uploads")), 0.0001)
}

func TestDecodeMessageStripsWireFraming(t *testing.T) {
	framed := make([]byte, 5, 5+len(upload))
	binary.BigEndian.PutUint32(framed[1:5], 9)
	framed = append(framed, upload...)

	msg, err := decodeMessage(kafka.Message{Topic: "t", Value: framed})
	require.NoError(t, err)
	require.Equal(t, 9, msg.SchemaID)
	require.JSONEq(t, upload, string(msg.Payload))

	_, err = decodeMessage(kafka.Message{Topic: "t", Value: framed[:5]})
	require.Error(t, err)
}

func TestSnapshotHandlerImportsAndReplays(t *testing.T) {
	ctx := context.Background()
	svc := domain.NewService(memory.NewRepository())
	handler := NewSnapshotHandler(svc, nil)

	msg := Message{Topic: "snapshot_uploads", Partition: 1, Offset: 7, FileName: "ana.json", Payload: []byte(upload)}
	require.NoError(t, handler.Handle(ctx, msg))
	// Redelivery of the same record replays instead of importing twice.
	require.NoError(t, handler.Handle(ctx, msg))

	imports, err := svc.ListImports(ctx, "")
	require.NoError(t, err)
	require.Len(t, imports, 1)
	require.Equal(t, "ana.json", imports[0].Source)
	require.Equal(t, "snapshot_uploads:1:7", *imports[0].IdempotencyKey)
	require.True(t, imports[0].IsCurrent)
}

func TestSnapshotHandlerSwallowsMalformedSnapshots(t *testing.T) {
	ctx := context.Background()
	svc := domain.NewService(memory.NewRepository())
	handler := NewSnapshotHandler(svc, nil)

	msg := Message{Topic: "bad_uploads", Key: "broken.json", Payload: []byte(`[1,2,3]`)}
	require.NoError(t, handler.Handle(ctx, msg))
	require.InDelta(t, 1, testutil.ToFloat64(rejectedCounter.WithLabelValues("bad_uploads")), 0.0001)

	imports, err := svc.ListImports(ctx, "")
	require.NoError(t, err)
	require.Empty(t, imports)
}

func TestSnapshotHandlerPropagatesStoreFailures(t *testing.T) {
	handler := NewSnapshotHandler(failingImporter{}, nil)
	err := handler.Handle(context.Background(), Message{Topic: "t", Payload: []byte(upload)})
	require.ErrorIs(t, err, domain.ErrStoreFailure)
}

type failingImporter struct{}

func (failingImporter) ImportFile(context.Context, []byte, domain.ImportOptions) (*domain.ImportResult, error) {
	return nil, &domain.StoreError{Op: "replace current import", Err: errors.New("connection refused")}
}

type stubReader struct {
	msgs        []kafka.Message
	idx         int
	commitCount int
	errAfter    error
}

func (r *stubReader) FetchMessage(context.Context) (kafka.Message, error) {
	if r.idx >= len(r.msgs) {
		return kafka.Message{}, r.errAfter
	}
	msg := r.msgs[r.idx]
	r.idx++
	return msg, nil
}

func (r *stubReader) CommitMessages(_ context.Context, _ ...kafka.Message) error {
	r.commitCount++
	return nil
}

func (r *stubReader) Close() error { return nil }

type RecordingHandler struct {
	count int
	last  Message
	err   error
}

var _ Handler = (*RecordingHandler)(nil)

func (h *RecordingHandler) Handle(_ context.Context, msg Message) error {
	h.count++
	h.last = msg
	return h.err
}
