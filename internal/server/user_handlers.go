package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"newsroom/internal/core"
)

// handleGetProfile returns a user's derived profile (spec §6 "/user/{id}/profile GET").
func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")
	profile, err := s.memory.GetProfile(r.Context(), userID)
	if err != nil {
		respondError(w, err)
		return
	}
	respondData(w, http.StatusOK, profile)
}

// profileUpdateBody is the wire shape of a style-preference update (spec §6
// "/user/{id}/profile PUT"); only the user-controlled stylistic fields are
// writable, the derived fields are recomputed by C7, never patched here.
type profileUpdateBody struct {
	ResponseLength       string   `json:"responseLength,omitempty"`
	Formality            string   `json:"formality,omitempty"`
	DetailDepth          string   `json:"detailDepth,omitempty"`
	PersonalizationLevel *float64 `json:"personalizationLevel,omitempty"`
}

// handlePutProfile updates a user's stylistic preferences (spec §6
// "/user/{id}/profile PUT").
func (s *Server) handlePutProfile(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")

	var body profileUpdateBody
	if err := decodeJSON(r, &body); err != nil {
		respondError(w, err)
		return
	}

	current, err := s.memory.GetProfile(r.Context(), userID)
	if err != nil {
		respondError(w, err)
		return
	}

	responseLength := current.ResponseLength
	if body.ResponseLength != "" {
		responseLength = body.ResponseLength
	}
	formality := current.Formality
	if body.Formality != "" {
		formality = body.Formality
	}
	detailDepth := current.DetailDepth
	if body.DetailDepth != "" {
		detailDepth = body.DetailDepth
	}
	personalizationLevel := current.PersonalizationLevel
	if body.PersonalizationLevel != nil {
		personalizationLevel = *body.PersonalizationLevel
	}

	if err := s.memory.SetPreferences(r.Context(), userID, responseLength, formality, detailDepth, personalizationLevel); err != nil {
		respondError(w, err)
		return
	}

	profile, err := s.memory.GetProfile(r.Context(), userID)
	if err != nil {
		respondError(w, err)
		return
	}
	respondData(w, http.StatusOK, profile)
}

// interactionRequestBody is the wire shape of an explicit interaction record
// (spec §6 "/user/{id}/interaction POST").
type interactionRequestBody struct {
	Action     string   `json:"action"`
	TargetRef  string   `json:"targetRef,omitempty"`
	Text       string   `json:"text,omitempty"`
	Importance float64  `json:"importance,omitempty"`
	Categories []string `json:"categories,omitempty"`
}

// handlePostInteraction records an explicit interaction against a user's
// memory (spec §6 "/user/{id}/interaction POST", §3 "InteractionRecord").
func (s *Server) handlePostInteraction(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")

	var body interactionRequestBody
	if err := decodeJSON(r, &body); err != nil {
		respondError(w, err)
		return
	}
	if body.Action == "" {
		respondError(w, core.NewError(core.ErrConstraintViolation, "action is required", nil))
		return
	}

	rec := core.InteractionRecord{
		UserID:     userID,
		Timestamp:  time.Now().UTC(),
		Action:     core.InteractionAction(body.Action),
		TargetRef:  body.TargetRef,
		Text:       body.Text,
		Importance: body.Importance,
		Categories: body.Categories,
	}
	if err := s.memory.Record(r.Context(), rec); err != nil {
		respondError(w, err)
		return
	}
	respondData(w, http.StatusOK, rec)
}

// handleDeleteMemory clears all of C7's state for a user (spec §6
// "/user/{id}/memory DELETE").
func (s *Server) handleDeleteMemory(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")
	if err := s.memory.Clear(r.Context(), userID); err != nil {
		respondError(w, err)
		return
	}
	respondData(w, http.StatusOK, map[string]string{"userId": userID})
}
