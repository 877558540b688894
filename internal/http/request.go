package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"binledger/internal/apperror"
	"binledger/internal/core"

	"github.com/go-chi/chi/v5"
)

const (
	maxBodyBytes = 64 << 10
	maxBatchIDs  = 500
)

// decodeJSON reads a single JSON object into dst, rejecting unknown fields
// and bodies over maxBodyBytes.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			return apperror.ValidationFailed("body", "request body too large")
		case errors.Is(err, io.EOF):
			return apperror.ValidationFailed("body", "request body is empty")
		default:
			return apperror.ValidationFailed("body", "malformed JSON body")
		}
	}
	if dec.More() {
		return apperror.ValidationFailed("body", "request body must contain a single JSON object")
	}
	return nil
}

// sanitizeInput removes control characters other than tab and newlines
// and trims whitespace.
func sanitizeInput(s string) string {
	return strings.TrimSpace(strings.Map(func(r rune) rune {
		if r < 32 && r != '\t' && r != '\n' && r != '\r' {
			return -1
		}
		return r
	}, s))
}

// draftRequest is the body of add and update. Amount may be a string so
// that "12,50" is accepted as well as 12.5.
type draftRequest struct {
	Amount      json.RawMessage `json:"amount"`
	Date        string          `json:"date"`
	Description string          `json:"description"`
	Card        string          `json:"card"`
}

// toDraft validates the request. A missing date means today.
func (req draftRequest) toDraft(now time.Time) (core.Draft, error) {
	amount, err := core.ParseAmount(amountText(req.Amount))
	if err != nil {
		return core.Draft{}, err
	}
	date := core.NewDate(now.Year(), int(now.Month()), now.Day())
	if s := strings.TrimSpace(req.Date); s != "" {
		if date, err = core.ParseDate(s); err != nil {
			return core.Draft{}, err
		}
	}
	card, err := core.ParseCard(req.Card)
	if err != nil {
		return core.Draft{}, err
	}
	d := core.Draft{
		Amount:      amount,
		Date:        date,
		Description: sanitizeInput(req.Description),
		Card:        card,
	}
	return d, d.Validate()
}

// amountText accepts the amount as a JSON string or a JSON number.
func amountText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}

// idsRequest is the body of every batch operation.
type idsRequest struct {
	IDs     []string `json:"ids"`
	Confirm bool     `json:"confirm,omitempty"`
}

func (req idsRequest) validate() error {
	if len(req.IDs) > maxBatchIDs {
		return apperror.ValidationFailed("ids", fmt.Sprintf("too many ids (max %d)", maxBatchIDs))
	}
	for _, id := range req.IDs {
		if strings.TrimSpace(id) == "" {
			return apperror.ValidationFailed("ids", "ids must not be empty")
		}
	}
	return nil
}

func expenseID(r *http.Request) (string, error) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		return "", apperror.ValidationFailed("id", "expense id is required")
	}
	return id, nil
}

// listQuery reads the card filter and search text of list requests.
func listQuery(r *http.Request) (core.CardFilter, string, error) {
	q := r.URL.Query()
	f, err := core.ParseCardFilter(q.Get("card"))
	if err != nil {
		return core.CardFilter{}, "", err
	}
	return f, sanitizeInput(q.Get("q")), nil
}

// confirmed reports whether a destructive request carries confirm=true.
func confirmed(r *http.Request) bool {
	v := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("confirm")))
	return v == "true" || v == "1" || v == "yes"
}

func errNotConfirmed() error {
	return apperror.ValidationFailed("confirm", "purging is permanent and must be confirmed")
}
