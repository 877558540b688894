package http

import (
	"net/http"

	"binledger/internal/apperror"
	"binledger/internal/core"
)

type cardNamesRequest struct {
	CardNames map[string]string `json:"cardNames"`
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	profile, err := s.deps.Identity.Profile(r.Context(), accountID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

// handleSetCardNames renames the cards listed in the body. An empty name
// restores the default label.
func (s *Server) handleSetCardNames(w http.ResponseWriter, r *http.Request) {
	var req cardNamesRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if len(req.CardNames) == 0 {
		writeError(w, r, apperror.ValidationFailed("cardNames", "no card names given"))
		return
	}
	names := make(map[core.Card]string, len(req.CardNames))
	for raw, name := range req.CardNames {
		card, err := core.ParseCard(raw)
		if err != nil {
			writeError(w, r, err)
			return
		}
		names[card] = sanitizeInput(name)
	}
	profile, err := s.deps.Identity.SetCardNames(r.Context(), accountID(r), names)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}
