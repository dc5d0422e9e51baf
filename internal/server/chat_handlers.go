package server

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"newsroom/internal/core"
	"newsroom/internal/dialogue"
)

// chatRequestBody is the wire shape of a `/chat` turn (spec §4.10, §6).
type chatRequestBody struct {
	UserID         string `json:"userId"`
	SessionID      string `json:"sessionId,omitempty"`
	Message        string `json:"message"`
	MaxContextNews int    `json:"maxContextNews,omitempty"`
	UseMemory      bool   `json:"useMemory"`
	Personalize    bool   `json:"personalize"`
	SeedRunID      string `json:"seedRunId,omitempty"`
}

type chatResponseBody struct {
	SessionID  string           `json:"sessionId"`
	Reply      string           `json:"reply"`
	Sources    []core.SourceRef `json:"sources,omitempty"`
	Confidence float64          `json:"confidence"`
	Warning    string           `json:"warning,omitempty"`
}

// handleChatTurn executes one dialogue turn (spec §6 "/chat").
func (s *Server) handleChatTurn(w http.ResponseWriter, r *http.Request) {
	var body chatRequestBody
	if err := decodeJSON(r, &body); err != nil {
		respondError(w, err)
		return
	}
	if body.UserID == "" || body.Message == "" {
		respondError(w, core.NewError(core.ErrConstraintViolation, "userId and message are required", nil))
		return
	}

	req := dialogue.Request{
		UserID:         body.UserID,
		SessionID:      body.SessionID,
		Message:        body.Message,
		MaxContextNews: body.MaxContextNews,
		UseMemory:      body.UseMemory,
		Personalize:    body.Personalize,
		SeedRunID:      body.SeedRunID,
	}
	if body.SeedRunID != "" {
		req.Filter = core.RetrievalFilter{RunID: body.SeedRunID}
	}

	resp, err := s.dialogue.Chat(r.Context(), req)
	if err != nil {
		respondError(w, err)
		return
	}
	respondData(w, http.StatusOK, chatResponseBody{
		SessionID:  resp.SessionID,
		Reply:      resp.Reply,
		Sources:    resp.Sources,
		Confidence: resp.Confidence,
		Warning:    resp.Warning,
	})
}

// handleChatGet returns a session's messages, newest-`limit`-first (spec §6
// "/chat/{sessionId} GET").
func (s *Server) handleChatGet(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")
	session, err := s.dialogue.GetSession(r.Context(), sessionID)
	if err != nil {
		respondError(w, err)
		return
	}

	limit := len(session.Messages)
	if q := r.URL.Query().Get("limit"); q != "" {
		if n, err := strconv.Atoi(q); err == nil && n > 0 && n < limit {
			limit = n
		}
	}
	messages := session.Messages
	if limit < len(messages) {
		messages = messages[len(messages)-limit:]
	}
	reversed := make([]core.DialogueMessage, len(messages))
	for i, m := range messages {
		reversed[len(messages)-1-i] = m
	}
	respondData(w, http.StatusOK, reversed)
}

// handleChatDelete deletes a session (spec §6 "/chat/{sessionId} DELETE").
func (s *Server) handleChatDelete(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")
	if err := s.dialogue.DeleteSession(r.Context(), sessionID); err != nil {
		respondError(w, err)
		return
	}
	respondData(w, http.StatusOK, map[string]string{"id": sessionID})
}
