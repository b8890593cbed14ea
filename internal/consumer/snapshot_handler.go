package consumer

import (
	"context"
	"errors"

	"example.com/teamdash/internal/domain"
	"example.com/teamdash/internal/platform/logger"
)

// Importer is the slice of domain.Service the handler drives.
type Importer interface {
	ImportFile(ctx context.Context, raw []byte, opts domain.ImportOptions) (*domain.ImportResult, error)
}

// SnapshotHandler imports every uploaded snapshot as the owner's current import.
type SnapshotHandler struct {
	importer Importer
	log      *logger.Logger
}

// NewSnapshotHandler constructs a handler backed by the provided importer.
func NewSnapshotHandler(importer Importer, log *logger.Logger) *SnapshotHandler {
	if log == nil {
		log = logger.NewNop()
	}
	return &SnapshotHandler{importer: importer, log: log.With("component", "snapshot_handler")}
}

// Handle runs the import. Malformed snapshots are reported and swallowed so the record is committed.
func (h *SnapshotHandler) Handle(ctx context.Context, msg Message) error {
	source := msg.FileName
	if source == "" {
		source = msg.Key
	}

	result, err := h.importer.ImportFile(ctx, msg.Payload, domain.ImportOptions{
		Source:         source,
		IdempotencyKey: msg.IdempotencyKey(),
	})
	if err != nil {
		if errors.Is(err, domain.ErrMalformedSnapshot) {
			recordRejected(msg)
			h.log.Warn("snapshot rejected", "topic", msg.Topic, "offset", msg.Offset, "source", source, "error", err)
			return nil
		}
		return err
	}

	h.log.Info("snapshot imported",
		"import_id", result.Import.ID,
		"member", result.Member.Name,
		"replay", result.Replay,
		"dropped", result.Dropped,
	)
	return nil
}
