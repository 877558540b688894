package http

import (
	"context"
	"net/http"

	"binledger/internal/auth"
	"binledger/internal/core"
)

type listResponse struct {
	Expenses []core.Expense `json:"expenses"`
	Count    int            `json:"count"`
}

func accountID(r *http.Request) string {
	session, _ := auth.SessionFromContext(r.Context())
	return session.AccountID
}

func (s *Server) handleListExpenses(w http.ResponseWriter, r *http.Request) {
	s.list(w, r, core.SetActive)
}

func (s *Server) handleListBin(w http.ResponseWriter, r *http.Request) {
	s.list(w, r, core.SetRecycled)
}

func (s *Server) list(w http.ResponseWriter, r *http.Request, set core.LedgerSet) {
	filter, q, err := listQuery(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	expenses, err := s.deps.Ledger.Search(r.Context(), accountID(r), set, filter, q)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Expenses: expenses, Count: len(expenses)})
}

func (s *Server) handleAddExpense(w http.ResponseWriter, r *http.Request) {
	var req draftRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	draft, err := req.toDraft(s.now())
	if err != nil {
		writeError(w, r, err)
		return
	}
	e, err := s.deps.Ledger.Add(r.Context(), accountID(r), draft)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

func (s *Server) handleUpdateExpense(w http.ResponseWriter, r *http.Request) {
	id, err := expenseID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req draftRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	draft, err := req.toDraft(s.now())
	if err != nil {
		writeError(w, r, err)
		return
	}
	e, err := s.deps.Ledger.Update(r.Context(), accountID(r), id, draft)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

// handleDeleteExpense moves one expense to the recycle bin.
func (s *Server) handleDeleteExpense(w http.ResponseWriter, r *http.Request) {
	s.single(w, r, s.deps.Ledger.SoftDelete)
}

func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request) {
	s.single(w, r, s.deps.Ledger.Restore)
}

// handlePurge permanently removes one recycled expense. The request must
// carry confirm=true.
func (s *Server) handlePurge(w http.ResponseWriter, r *http.Request) {
	if !confirmed(r) {
		writeError(w, r, errNotConfirmed())
		return
	}
	s.single(w, r, s.deps.Ledger.Purge)
}

func (s *Server) single(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, accountID, id string) error) {
	id, err := expenseID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := op(r.Context(), accountID(r), id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleBatchDelete(w http.ResponseWriter, r *http.Request) {
	s.batch(w, r, false, s.deps.Ledger.BatchSoftDelete)
}

func (s *Server) handleBatchRestore(w http.ResponseWriter, r *http.Request) {
	s.batch(w, r, false, s.deps.Ledger.BatchRestore)
}

func (s *Server) handleBatchPurge(w http.ResponseWriter, r *http.Request) {
	s.batch(w, r, true, s.deps.Ledger.BatchPurge)
}

// batch runs a multi-id operation. Destructive batches need "confirm": true
// in the body or confirm=true in the query.
func (s *Server) batch(w http.ResponseWriter, r *http.Request, destructive bool, op func(ctx context.Context, accountID string, ids []string) error) {
	var req idsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, r, err)
		return
	}
	if destructive && !req.Confirm && !confirmed(r) {
		writeError(w, r, errNotConfirmed())
		return
	}
	if err := op(r.Context(), accountID(r), req.IDs); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTotals(w http.ResponseWriter, r *http.Request) {
	totals, err := s.deps.Ledger.Totals(r.Context(), accountID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, totals)
}
