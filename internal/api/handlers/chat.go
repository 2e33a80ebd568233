package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/kunal1000-star/contextcore/internal/contextengine"
	"github.com/kunal1000-star/contextcore/internal/llm"
	"github.com/kunal1000-star/contextcore/internal/memorystore"
	"github.com/kunal1000-star/contextcore/internal/profile"
)

// ChatHandler orchestrates a tutoring turn: assemble the user's context,
// call the LLM with it, and persist both sides of the exchange.
type ChatHandler struct {
	engine       *contextengine.Engine
	gateway      llm.Gateway
	memories     *memorystore.Store
	profiles     *profile.Store
	defaultModel string
}

func NewChatHandler(engine *contextengine.Engine, gateway llm.Gateway, memories *memorystore.Store, profiles *profile.Store, defaultModel string) *ChatHandler {
	return &ChatHandler{
		engine:       engine,
		gateway:      gateway,
		memories:     memories,
		profiles:     profiles,
		defaultModel: defaultModel,
	}
}

type chatRequest struct {
	UserID    string              `json:"user_id,omitempty"`
	Message   string              `json:"message"`
	Level     contextengine.Level `json:"level,omitempty"`
	MaxTokens int                 `json:"max_tokens,omitempty"`
	Provider  string              `json:"provider,omitempty"`
	Model     string              `json:"model,omitempty"`
}

type chatResponse struct {
	Reply         string              `json:"reply"`
	Model         string              `json:"model"`
	Provider      string              `json:"provider"`
	ContextLevel  contextengine.Level `json:"context_level"`
	ContextTokens int                 `json:"context_tokens"`
	Fallback      bool                `json:"fallback,omitempty"`
	InputTokens   int                 `json:"input_tokens"`
	OutputTokens  int                 `json:"output_tokens"`
	CostUSD       float64             `json:"cost_usd"`
}

func (h *ChatHandler) Chat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.Message == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "message required"})
		return
	}

	userID := resolveUserID(r, req.UserID)
	if userID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "user_id required"})
		return
	}

	level := req.Level
	if level == "" {
		level = contextengine.LevelRecent
	}

	snap := h.engine.BuildContext(r.Context(), userID, level, req.MaxTokens, contextengine.BuildOptions{
		Query: req.Message,
	})

	model := req.Model
	if model == "" {
		model = h.defaultModel
	}

	resp, err := h.gateway.Chat(r.Context(), llm.ChatRequest{
		Provider: req.Provider,
		Model:    model,
		Messages: []llm.Message{
			{Role: "system", Content: snap.Render()},
			{Role: "user", Content: req.Message},
		},
	})
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}

	// Persistence is best effort; the reply is already in hand.
	if h.memories != nil {
		if err := h.memories.Add(r.Context(), userID, "user", req.Message, 0.5, nil); err != nil {
			slog.Warn("failed to store user turn", "user_id", userID, "error", err)
		}
		if err := h.memories.Add(r.Context(), userID, "assistant", resp.Content, 0.5, nil); err != nil {
			slog.Warn("failed to store assistant turn", "user_id", userID, "error", err)
		}
	}
	if h.profiles != nil {
		if err := h.profiles.TouchLastActive(r.Context(), userID); err != nil {
			slog.Warn("failed to touch profile", "user_id", userID, "error", err)
		}
	}

	writeJSON(w, http.StatusOK, chatResponse{
		Reply:         resp.Content,
		Model:         resp.Model,
		Provider:      resp.Provider,
		ContextLevel:  snap.Level,
		ContextTokens: snap.TotalTokens,
		Fallback:      snap.Fallback,
		InputTokens:   resp.InputTokens,
		OutputTokens:  resp.OutputTokens,
		CostUSD:       resp.CostUSD,
	})
}

func (h *ChatHandler) Models(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"models": h.gateway.ListModels()})
}
