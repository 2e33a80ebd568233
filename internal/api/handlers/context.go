package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/kunal1000-star/contextcore/internal/auth"
	"github.com/kunal1000-star/contextcore/internal/contextengine"
)

type ContextHandler struct {
	engine *contextengine.Engine
}

func NewContextHandler(engine *contextengine.Engine) *ContextHandler {
	return &ContextHandler{engine: engine}
}

type buildContextRequest struct {
	UserID    string                       `json:"user_id,omitempty"`
	Level     contextengine.Level          `json:"level"`
	MaxTokens int                          `json:"max_tokens,omitempty"`
	Query     string                       `json:"query,omitempty"`
	Strategy  contextengine.Strategy       `json:"strategy,omitempty"`
	Budget    contextengine.BudgetStrategy `json:"budget_strategy,omitempty"`
	Preserve  contextengine.PreserveFlags  `json:"preserve"`
	SkipCache bool                         `json:"skip_cache,omitempty"`
}

func (h *ContextHandler) Build(w http.ResponseWriter, r *http.Request) {
	var req buildContextRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	userID := resolveUserID(r, req.UserID)
	if userID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "user_id required"})
		return
	}
	if req.Strategy != "" && !req.Strategy.Valid() {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown strategy"})
		return
	}

	snap := h.engine.BuildContext(r.Context(), userID, req.Level, req.MaxTokens, contextengine.BuildOptions{
		Query:          req.Query,
		Strategy:       req.Strategy,
		BudgetStrategy: req.Budget,
		Preserve:       req.Preserve,
		SkipCache:      req.SkipCache,
	})

	writeJSON(w, http.StatusOK, snap)
}

type optimizeContextRequest struct {
	Snapshot  contextengine.ContextSnapshot `json:"snapshot"`
	MaxTokens int                           `json:"max_tokens"`
	contextengine.OptimizeOptions
}

func (h *ContextHandler) Optimize(w http.ResponseWriter, r *http.Request) {
	var req optimizeContextRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	if err := req.Snapshot.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid snapshot: " + err.Error()})
		return
	}
	if req.MaxTokens <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "max_tokens must be positive"})
		return
	}
	if req.Strategy != "" && !req.Strategy.Valid() {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown strategy"})
		return
	}

	result := h.engine.OptimizeContext(req.Snapshot, req.MaxTokens, req.OptimizeOptions)
	writeJSON(w, http.StatusOK, result)
}

type scoreRequest struct {
	Snapshot contextengine.ContextSnapshot `json:"snapshot"`
	Query    string                        `json:"query,omitempty"`
}

func (h *ContextHandler) Score(w http.ResponseWriter, r *http.Request) {
	var req scoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	results := h.engine.ScoreRelevance(req.Snapshot, req.Query)
	writeJSON(w, http.StatusOK, map[string]interface{}{"results": results})
}

func (h *ContextHandler) CacheStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Cache().Stats())
}

// resolveUserID prefers the authenticated identity; explicit user_id in the
// body is honored only for service callers.
func resolveUserID(r *http.Request, bodyUserID string) string {
	if id := auth.UserIDFromContext(r.Context()); id != "" && !isServiceIdentity(id) {
		return id
	}
	return bodyUserID
}

func isServiceIdentity(id string) bool {
	return len(id) > 8 && id[:8] == "service:"
}
