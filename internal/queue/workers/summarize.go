package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hibiken/asynq"

	"github.com/kunal1000-star/contextcore/internal/contextengine"
	"github.com/kunal1000-star/contextcore/internal/llm"
	"github.com/kunal1000-star/contextcore/internal/memorystore"
	"github.com/kunal1000-star/contextcore/internal/queue"
)

const (
	summarizeCutoff = 7 * 24 * time.Hour
	summarizeBatch  = 50
)

// SummarizeWorker compacts a user's old conversation memories into a single
// summary row, keeping long histories inside token budgets.
type SummarizeWorker struct {
	memories *memorystore.Store
	gateway  llm.Gateway
	model    string
}

func NewSummarizeWorker(memories *memorystore.Store, gateway llm.Gateway, model string) *SummarizeWorker {
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &SummarizeWorker{memories: memories, gateway: gateway, model: model}
}

func (w *SummarizeWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload queue.MemorySummarizePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	cutoff := time.Now().Add(-summarizeCutoff)
	stale, err := w.memories.FetchStale(ctx, payload.UserID, cutoff, summarizeBatch)
	if err != nil {
		return fmt.Errorf("fetch stale memories: %w", err)
	}
	if len(stale) < 2 {
		return nil
	}

	summary, err := w.summarize(ctx, stale)
	if err != nil {
		return fmt.Errorf("summarize memories for %s: %w", payload.UserID, err)
	}

	ids := make([]string, 0, len(stale))
	for _, m := range stale {
		ids = append(ids, m.ID)
	}
	if err := w.memories.ReplaceWithSummary(ctx, payload.UserID, ids, summary); err != nil {
		return fmt.Errorf("replace with summary: %w", err)
	}

	slog.Info("memories summarized", "user_id", payload.UserID, "replaced", len(ids))
	return nil
}

func (w *SummarizeWorker) summarize(ctx context.Context, memories []contextengine.MemoryRecord) (string, error) {
	var sb strings.Builder
	sb.WriteString("Messages to summarize:\n")
	for _, m := range memories {
		role := m.Role
		if role == "" {
			role = "user"
		}
		fmt.Fprintf(&sb, "%s: %s\n", role, m.Content)
	}

	resp, err := w.gateway.Chat(ctx, llm.ChatRequest{
		Model: w.model,
		Messages: []llm.Message{
			{
				Role: "system",
				Content: `Summarize the conversation so far into a concise paragraph.
Capture the key topics discussed, decisions made, and any important context.
This summary will be used to maintain context in future messages.`,
			},
			{
				Role:    "user",
				Content: sb.String(),
			},
		},
		Temperature: 0,
		MaxTokens:   300,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Content), nil
}
