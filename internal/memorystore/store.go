package memorystore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kunal1000-star/contextcore/internal/contextengine"
)

// Store persists conversation memories. It satisfies the engine's
// MemoryFetcher interface.
type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

func (s *Store) FetchRecentMemories(ctx context.Context, userID string, limit int) ([]contextengine.MemoryRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.Query(ctx,
		`SELECT id, content, role, relevance_score, tags, reference_count, created_at
		 FROM conversation_memories
		 WHERE user_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("fetch memories for %s: %w", userID, err)
	}
	defer rows.Close()

	var records []contextengine.MemoryRecord
	for rows.Next() {
		var r contextengine.MemoryRecord
		var id uuid.UUID
		if err := rows.Scan(&id, &r.Content, &r.Role, &r.RelevanceScore, &r.Tags, &r.References, &r.Timestamp); err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		r.ID = id.String()
		records = append(records, r)
	}
	return records, rows.Err()
}

// Add records one conversation turn.
func (s *Store) Add(ctx context.Context, userID, role, content string, relevance float64, tags []string) error {
	if tags == nil {
		tags = []string{}
	}
	_, err := s.db.Exec(ctx,
		`INSERT INTO conversation_memories (id, user_id, role, content, relevance_score, tags)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		uuid.New(), userID, role, content, relevance, tags,
	)
	if err != nil {
		return fmt.Errorf("add memory for %s: %w", userID, err)
	}
	return nil
}

// FetchStale returns unsummarized memories older than cutoff, oldest first.
// Used by the background summarization worker.
func (s *Store) FetchStale(ctx context.Context, userID string, cutoff time.Time, limit int) ([]contextengine.MemoryRecord, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, content, role, relevance_score, tags, reference_count, created_at
		 FROM conversation_memories
		 WHERE user_id = $1 AND created_at < $2 AND NOT summarized
		 ORDER BY created_at ASC
		 LIMIT $3`,
		userID, cutoff, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("fetch stale memories for %s: %w", userID, err)
	}
	defer rows.Close()

	var records []contextengine.MemoryRecord
	for rows.Next() {
		var r contextengine.MemoryRecord
		var id uuid.UUID
		if err := rows.Scan(&id, &r.Content, &r.Role, &r.RelevanceScore, &r.Tags, &r.References, &r.Timestamp); err != nil {
			return nil, fmt.Errorf("scan stale memory: %w", err)
		}
		r.ID = id.String()
		records = append(records, r)
	}
	return records, rows.Err()
}

// ReplaceWithSummary deletes the given memories and inserts one compact
// summary row in their place, atomically.
func (s *Store) ReplaceWithSummary(ctx context.Context, userID string, ids []string, summary string) error {
	if len(ids) == 0 {
		return nil
	}

	parsed := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		u, err := uuid.Parse(id)
		if err != nil {
			return fmt.Errorf("parse memory id %s: %w", id, err)
		}
		parsed = append(parsed, u)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		"DELETE FROM conversation_memories WHERE user_id = $1 AND id = ANY($2)",
		userID, parsed,
	); err != nil {
		return fmt.Errorf("delete summarized memories: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO conversation_memories (id, user_id, role, content, relevance_score, tags, summarized)
		 VALUES ($1, $2, 'system', $3, 0.5, '{summary}', TRUE)`,
		uuid.New(), userID, summary,
	); err != nil {
		return fmt.Errorf("insert summary: %w", err)
	}

	return tx.Commit(ctx)
}

// ListActiveUsers returns user ids with unsummarized memories older than
// cutoff, for the summarization scheduler.
func (s *Store) ListActiveUsers(ctx context.Context, cutoff time.Time, limit int) ([]string, error) {
	rows, err := s.db.Query(ctx,
		`SELECT DISTINCT user_id FROM conversation_memories
		 WHERE created_at < $1 AND NOT summarized
		 LIMIT $2`,
		cutoff, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list active users: %w", err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("scan user id: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}
