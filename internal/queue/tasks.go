package queue

const (
	TypeKnowledgeIngest = "knowledge:ingest"
	TypeMemorySummarize = "memory:summarize"
)

type KnowledgeIngestPayload struct {
	SourceID    string   `json:"source_id"`
	Text        string   `json:"text"`
	Topics      []string `json:"topics,omitempty"`
	Reliability float64  `json:"reliability"`
	Chunking    string   `json:"chunking,omitempty"` // "prose" (default) or "sentence"
}

type MemorySummarizePayload struct {
	UserID string `json:"user_id"`
}
