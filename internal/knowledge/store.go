package knowledge

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/kunal1000-star/contextcore/internal/contextengine"
	"github.com/kunal1000-star/contextcore/internal/llm"
)

// Entry is one stored knowledge chunk.
type Entry struct {
	ID                 uuid.UUID
	SourceID           string
	ChunkIndex         int
	Content            string
	Topics             []string
	Reliability        float64
	VerificationStatus string
	Embedding          []float32
}

// Store retrieves knowledge entries with pgvector similarity plus keyword
// ranking, and satisfies the engine's KnowledgeFetcher interface. Query
// embedding failures degrade to keyword-only search.
type Store struct {
	db      *pgxpool.Pool
	gateway llm.Gateway
}

func NewStore(db *pgxpool.Pool, gateway llm.Gateway) *Store {
	return &Store{db: db, gateway: gateway}
}

func (s *Store) FetchKnowledge(ctx context.Context, query string, filters contextengine.KnowledgeFilters) ([]contextengine.KnowledgeRecord, error) {
	limit := filters.Limit
	if limit <= 0 {
		limit = 10
	}

	if query == "" {
		return s.fetchTop(ctx, filters, limit)
	}

	queryVec, err := s.embedQuery(ctx, query)
	if err != nil {
		slog.Warn("query embedding failed, falling back to keyword search", "error", err)
		return s.keywordSearch(ctx, query, filters, limit)
	}
	return s.hybridSearch(ctx, query, queryVec, filters, limit)
}

func (s *Store) embedQuery(ctx context.Context, query string) ([]float32, error) {
	if s.gateway == nil {
		return nil, fmt.Errorf("no embedding gateway configured")
	}
	resp, err := s.gateway.Embed(ctx, llm.EmbeddingRequest{Input: []string{query}})
	if err != nil {
		return nil, err
	}
	if len(resp.Embeddings) == 0 {
		return nil, fmt.Errorf("empty embedding response")
	}
	return resp.Embeddings[0], nil
}

// fetchTop returns the most reliable entries when there is no query to
// rank against.
func (s *Store) fetchTop(ctx context.Context, filters contextengine.KnowledgeFilters, limit int) ([]contextengine.KnowledgeRecord, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, content, topics, reliability, verification_status, updated_at
		 FROM knowledge_entries
		 WHERE reliability >= $1 AND ($2::text[] = '{}' OR topics && $2)
		 ORDER BY reliability DESC, updated_at DESC
		 LIMIT $3`,
		filters.MinReliability, topicsOrEmpty(filters.Topics), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("fetch top knowledge: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

func (s *Store) keywordSearch(ctx context.Context, query string, filters contextengine.KnowledgeFilters, limit int) ([]contextengine.KnowledgeRecord, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, content, topics, reliability, verification_status, updated_at
		 FROM knowledge_entries
		 WHERE tsv @@ plainto_tsquery('english', $1)
		   AND reliability >= $2 AND ($3::text[] = '{}' OR topics && $3)
		 ORDER BY ts_rank(tsv, plainto_tsquery('english', $1)) DESC
		 LIMIT $4`,
		query, filters.MinReliability, topicsOrEmpty(filters.Topics), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// hybridSearch combines cosine similarity with FTS ranking, 70/30.
func (s *Store) hybridSearch(ctx context.Context, query string, queryVec []float32, filters contextengine.KnowledgeFilters, limit int) ([]contextengine.KnowledgeRecord, error) {
	embedding := pgvector.NewVector(queryVec)

	rows, err := s.db.Query(ctx,
		`WITH vector_results AS (
			SELECT id, content, topics, reliability, verification_status, updated_at,
			       1 - (embedding <=> $1) AS vector_score
			FROM knowledge_entries
			WHERE embedding IS NOT NULL
			  AND reliability >= $2 AND ($3::text[] = '{}' OR topics && $3)
			ORDER BY embedding <=> $1
			LIMIT $4 * 2
		),
		keyword_results AS (
			SELECT id, content, topics, reliability, verification_status, updated_at,
			       ts_rank(tsv, plainto_tsquery('english', $5)) AS keyword_score
			FROM knowledge_entries
			WHERE tsv @@ plainto_tsquery('english', $5)
			  AND reliability >= $2 AND ($3::text[] = '{}' OR topics && $3)
			LIMIT $4 * 2
		)
		SELECT COALESCE(v.id, k.id),
		       COALESCE(v.content, k.content),
		       COALESCE(v.topics, k.topics),
		       COALESCE(v.reliability, k.reliability),
		       COALESCE(v.verification_status, k.verification_status),
		       COALESCE(v.updated_at, k.updated_at)
		FROM vector_results v
		FULL OUTER JOIN keyword_results k ON v.id = k.id
		ORDER BY (COALESCE(v.vector_score, 0) * 0.7 + COALESCE(k.keyword_score, 0) * 0.3) DESC
		LIMIT $4`,
		embedding, filters.MinReliability, topicsOrEmpty(filters.Topics), limit, query,
	)
	if err != nil {
		return nil, fmt.Errorf("hybrid search: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// Upsert writes entries transactionally, replacing existing rows by id.
func (s *Store) Upsert(ctx context.Context, entries []Entry) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, e := range entries {
		id := e.ID
		if id == uuid.Nil {
			id = uuid.New()
		}
		topics := e.Topics
		if topics == nil {
			topics = []string{}
		}

		var embedding any
		if len(e.Embedding) > 0 {
			embedding = pgvector.NewVector(e.Embedding)
		}

		_, err := tx.Exec(ctx,
			`INSERT INTO knowledge_entries
			     (id, source_id, chunk_index, content, topics, reliability, verification_status, embedding, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
			 ON CONFLICT (id) DO UPDATE SET
			     content = $4, topics = $5, reliability = $6,
			     verification_status = $7, embedding = $8, updated_at = now()`,
			id, e.SourceID, e.ChunkIndex, e.Content, topics,
			e.Reliability, e.VerificationStatus, embedding,
		)
		if err != nil {
			return fmt.Errorf("upsert knowledge entry %d: %w", e.ChunkIndex, err)
		}
	}

	return tx.Commit(ctx)
}

// DeleteBySource removes all chunks ingested from one source document.
func (s *Store) DeleteBySource(ctx context.Context, sourceID string) error {
	_, err := s.db.Exec(ctx, "DELETE FROM knowledge_entries WHERE source_id = $1", sourceID)
	if err != nil {
		return fmt.Errorf("delete knowledge source %s: %w", sourceID, err)
	}
	return nil
}

func scanRecords(rows pgx.Rows) ([]contextengine.KnowledgeRecord, error) {
	var records []contextengine.KnowledgeRecord
	for rows.Next() {
		var r contextengine.KnowledgeRecord
		var id uuid.UUID
		if err := rows.Scan(&id, &r.Content, &r.Topics, &r.Reliability, &r.VerificationStatus, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan knowledge entry: %w", err)
		}
		r.ID = id.String()
		records = append(records, r)
	}
	return records, rows.Err()
}

func topicsOrEmpty(topics []string) []string {
	if topics == nil {
		return []string{}
	}
	return topics
}
