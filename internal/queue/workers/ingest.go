package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/kunal1000-star/contextcore/internal/knowledge"
	"github.com/kunal1000-star/contextcore/internal/queue"
)

// IngestWorker turns queued document text into knowledge entries.
type IngestWorker struct {
	ingestor *knowledge.Ingestor
}

func NewIngestWorker(ingestor *knowledge.Ingestor) *IngestWorker {
	return &IngestWorker{ingestor: ingestor}
}

func (w *IngestWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload queue.KnowledgeIngestPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	slog.Info("ingesting knowledge source", "source_id", payload.SourceID)

	n, err := w.ingestor.IngestText(ctx, payload.SourceID, payload.Text, payload.Topics, payload.Reliability, payload.Chunking)
	if err != nil {
		return fmt.Errorf("ingest %s: %w", payload.SourceID, err)
	}

	slog.Info("knowledge source ingested", "source_id", payload.SourceID, "entries", n)
	return nil
}
