package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/kunal1000-star/contextcore/internal/queue"
	"github.com/kunal1000-star/contextcore/pkg/textextract"
)

const maxUploadBytes = 32 << 20

// KnowledgeHandler accepts documents for the knowledge base. Extraction
// happens inline so bad files fail fast; chunking and embedding run on the
// worker.
type KnowledgeHandler struct {
	queueClient *queue.Client
}

func NewKnowledgeHandler(qc *queue.Client) *KnowledgeHandler {
	return &KnowledgeHandler{queueClient: qc}
}

type ingestTextRequest struct {
	SourceID    string   `json:"source_id,omitempty"`
	Text        string   `json:"text"`
	Topics      []string `json:"topics,omitempty"`
	Reliability float64  `json:"reliability,omitempty"`
	Chunking    string   `json:"chunking,omitempty"` // "sentence" for transcripts
}

func (h *KnowledgeHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		h.ingestUpload(w, r)
		return
	}

	var req ingestTextRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.Text == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "text required"})
		return
	}

	h.enqueue(w, req.SourceID, req.Text, req.Topics, req.Reliability, req.Chunking)
}

func (h *KnowledgeHandler) ingestUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid multipart form"})
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "file required"})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxUploadBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "read file: " + err.Error()})
		return
	}

	text, err := textextract.Extract(bytes.NewReader(data), int64(len(data)), filepath.Ext(header.Filename))
	if err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
		return
	}

	h.enqueue(w, header.Filename, text, r.Form["topics"], 0.5, r.FormValue("chunking"))
}

func (h *KnowledgeHandler) enqueue(w http.ResponseWriter, sourceID, text string, topics []string, reliability float64, chunking string) {
	if sourceID == "" {
		sourceID = uuid.New().String()
	}
	if reliability <= 0 {
		reliability = 0.5
	}

	err := h.queueClient.EnqueueKnowledgeIngest(queue.KnowledgeIngestPayload{
		SourceID:    sourceID,
		Text:        text,
		Topics:      topics,
		Reliability: reliability,
		Chunking:    chunking,
	})
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"source_id": sourceID, "status": "queued"})
}
