package profile

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kunal1000-star/contextcore/internal/contextengine"
)

// Store reads and writes learner profiles. It satisfies the engine's
// ProfileFetcher interface.
type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

func (s *Store) FetchProfile(ctx context.Context, userID string) (contextengine.ProfileData, error) {
	var p contextengine.ProfileData
	var prefs []byte

	err := s.db.QueryRow(ctx,
		`SELECT user_id, academic_level, subjects, strengths, weaknesses,
		        streak_days, points, preferences, weekly_activity, last_active
		 FROM profiles WHERE user_id = $1`,
		userID,
	).Scan(&p.UserID, &p.AcademicLevel, &p.Subjects, &p.Strengths, &p.Weaknesses,
		&p.StreakDays, &p.Points, &prefs, &p.WeeklyActivity, &p.LastActive)
	if err != nil {
		return contextengine.ProfileData{}, fmt.Errorf("fetch profile %s: %w", userID, err)
	}

	if len(prefs) > 0 {
		if err := json.Unmarshal(prefs, &p.Preferences); err != nil {
			return contextengine.ProfileData{}, fmt.Errorf("decode preferences for %s: %w", userID, err)
		}
	}
	return p, nil
}

// Upsert creates or replaces a profile.
func (s *Store) Upsert(ctx context.Context, p contextengine.ProfileData) error {
	prefs, err := json.Marshal(p.Preferences)
	if err != nil {
		return fmt.Errorf("encode preferences: %w", err)
	}

	_, err = s.db.Exec(ctx,
		`INSERT INTO profiles (user_id, academic_level, subjects, strengths, weaknesses,
		                       streak_days, points, preferences, weekly_activity, last_active, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now(), now())
		 ON CONFLICT (user_id) DO UPDATE SET
		     academic_level = $2, subjects = $3, strengths = $4, weaknesses = $5,
		     streak_days = $6, points = $7, preferences = $8, weekly_activity = $9,
		     last_active = now(), updated_at = now()`,
		p.UserID, p.AcademicLevel, p.Subjects, p.Strengths, p.Weaknesses,
		p.StreakDays, p.Points, prefs, p.WeeklyActivity,
	)
	if err != nil {
		return fmt.Errorf("upsert profile %s: %w", p.UserID, err)
	}
	return nil
}

// TouchLastActive bumps last_active after a chat turn.
func (s *Store) TouchLastActive(ctx context.Context, userID string) error {
	_, err := s.db.Exec(ctx,
		"UPDATE profiles SET last_active = now(), updated_at = now() WHERE user_id = $1", userID)
	if err != nil {
		return fmt.Errorf("touch profile %s: %w", userID, err)
	}
	return nil
}
