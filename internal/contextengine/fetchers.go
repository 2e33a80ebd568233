package contextengine

import (
	"context"
	"time"
)

// ProfileData is the user profile supplied by the persistent store.
type ProfileData struct {
	UserID        string            `json:"user_id"`
	AcademicLevel string            `json:"academic_level"`
	Subjects      []string          `json:"subjects"`
	Strengths     []string          `json:"strengths"`
	Weaknesses    []string          `json:"weaknesses"`
	StreakDays    int               `json:"streak_days"`
	Points        int               `json:"points"`
	Preferences   map[string]string `json:"preferences,omitempty"`
	WeeklyActivity string           `json:"weekly_activity,omitempty"`
	LastActive    time.Time         `json:"last_active"`
}

// MemoryRecord is one stored conversation memory.
type MemoryRecord struct {
	ID             string    `json:"id"`
	Content        string    `json:"content"`
	Role           string    `json:"role"`
	RelevanceScore float64   `json:"relevance_score"`
	Timestamp      time.Time `json:"timestamp"`
	Tags           []string  `json:"tags,omitempty"`
	References     int       `json:"references,omitempty"`
}

// KnowledgeRecord is one entry from the knowledge store.
type KnowledgeRecord struct {
	ID                 string    `json:"id"`
	Content            string    `json:"content"`
	Reliability        float64   `json:"reliability"`
	VerificationStatus string    `json:"verification_status"`
	Topics             []string  `json:"topics,omitempty"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// KnowledgeFilters narrows a knowledge fetch.
type KnowledgeFilters struct {
	Topics         []string `json:"topics,omitempty"`
	MinReliability float64  `json:"min_reliability,omitempty"`
	Limit          int      `json:"limit,omitempty"`
}

// ProfileFetcher supplies user profiles. Implemented outside the engine.
type ProfileFetcher interface {
	FetchProfile(ctx context.Context, userID string) (ProfileData, error)
}

// MemoryFetcher supplies recent conversation memories.
type MemoryFetcher interface {
	FetchRecentMemories(ctx context.Context, userID string, limit int) ([]MemoryRecord, error)
}

// KnowledgeFetcher supplies knowledge entries for a query.
type KnowledgeFetcher interface {
	FetchKnowledge(ctx context.Context, query string, filters KnowledgeFilters) ([]KnowledgeRecord, error)
}
