package knowledge

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/kunal1000-star/contextcore/internal/llm"
	"github.com/kunal1000-star/contextcore/pkg/chunker"
	"github.com/kunal1000-star/contextcore/pkg/textextract"
)

const embedBatchSize = 32

// Ingestor turns uploaded documents into searchable knowledge entries:
// extract text, chunk, embed, upsert.
type Ingestor struct {
	store   *Store
	gateway llm.Gateway
}

func NewIngestor(store *Store, gateway llm.Gateway) *Ingestor {
	return &Ingestor{
		store:   store,
		gateway: gateway,
	}
}

// IngestDocument extracts text from a document and ingests it. Returns the
// number of entries written.
func (i *Ingestor) IngestDocument(ctx context.Context, sourceID string, data io.ReaderAt, size int64, fileType string, topics []string, reliability float64, chunking string) (int, error) {
	text, err := textextract.Extract(data, size, fileType)
	if err != nil {
		return 0, fmt.Errorf("extract %s: %w", sourceID, err)
	}
	return i.IngestText(ctx, sourceID, text, topics, reliability, chunking)
}

// IngestText chunks and embeds raw text. The chunking name picks the
// strategy ("sentence" for transcripts, prose otherwise). Entries for the
// same source are replaced. Embedding failures leave entries
// keyword-searchable only.
func (i *Ingestor) IngestText(ctx context.Context, sourceID, text string, topics []string, reliability float64, chunking string) (int, error) {
	chunks := chunker.Split(text, chunker.OptionsFor(chunking))
	if len(chunks) == 0 {
		return 0, fmt.Errorf("no text extracted from %s", sourceID)
	}

	entries := make([]Entry, 0, len(chunks))
	for _, c := range chunks {
		entries = append(entries, Entry{
			SourceID:           sourceID,
			ChunkIndex:         c.Index,
			Content:            c.Content,
			Topics:             topics,
			Reliability:        reliability,
			VerificationStatus: "unverified",
		})
	}

	if err := i.embedEntries(ctx, entries); err != nil {
		slog.Warn("embedding failed, entries stored without vectors", "source_id", sourceID, "error", err)
	}

	if err := i.store.DeleteBySource(ctx, sourceID); err != nil {
		return 0, err
	}
	if err := i.store.Upsert(ctx, entries); err != nil {
		return 0, fmt.Errorf("store entries for %s: %w", sourceID, err)
	}
	return len(entries), nil
}

func (i *Ingestor) embedEntries(ctx context.Context, entries []Entry) error {
	if i.gateway == nil {
		return fmt.Errorf("no embedding gateway configured")
	}

	for start := 0; start < len(entries); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(entries) {
			end = len(entries)
		}

		input := make([]string, 0, end-start)
		for _, e := range entries[start:end] {
			input = append(input, e.Content)
		}

		resp, err := i.gateway.Embed(ctx, llm.EmbeddingRequest{Input: input})
		if err != nil {
			return fmt.Errorf("embed batch at %d: %w", start, err)
		}
		if len(resp.Embeddings) != len(input) {
			return fmt.Errorf("embed batch at %d: got %d vectors for %d inputs", start, len(resp.Embeddings), len(input))
		}
		for j, vec := range resp.Embeddings {
			entries[start+j].Embedding = vec
		}
	}
	return nil
}
