package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"binledger/internal/apperror"
	"binledger/internal/core"
	"binledger/internal/docstore"
	applog "binledger/internal/log"
	"binledger/internal/metrics"

	"golang.org/x/sync/errgroup"
)

// ChangeNotifier is told about every committed ledger write so other
// processes can refresh their views. It is optional.
type ChangeNotifier interface {
	NotifyChange(ctx context.Context, ev core.ChangeEvent) error
}

// LedgerService keeps an account's expenses partitioned into the active set
// and the recycle bin. Every operation expects the signed-in account as the
// actor of ctx (see docstore.WithActor).
//
// Moves between the sets copy the stored document verbatim, so an expense
// keeps its id and createdAt across any number of delete/restore cycles.
type LedgerService struct {
	store    docstore.Store
	notifier ChangeNotifier
	metrics  *metrics.Metrics
	now      func() time.Time
}

func NewLedgerService(store docstore.Store, notifier ChangeNotifier, m *metrics.Metrics) *LedgerService {
	return &LedgerService{
		store:    store,
		notifier: notifier,
		metrics:  m,
		now:      time.Now,
	}
}

func setPath(accountID string, set core.LedgerSet) docstore.Path {
	if set == core.SetRecycled {
		return docstore.RecycleBin(accountID)
	}
	return docstore.Expenses(accountID)
}

// Add creates an expense in the active set and returns it as stored.
func (s *LedgerService) Add(ctx context.Context, accountID string, d core.Draft) (e core.Expense, err error) {
	defer func() { s.metrics.ObserveLedger(core.OpAdd, err) }()

	d = d.Normalize()
	if err := d.Validate(); err != nil {
		return core.Expense{}, err
	}

	id := s.store.NewID()
	p := docstore.Expenses(accountID).Child(id)
	fields := core.ExpenseFields(d)
	fields[core.FieldCreatedAt] = docstore.ServerTimestamp

	if err := s.store.Batch().Write(p, fields, docstore.MustNotExist).Commit(ctx); err != nil {
		return core.Expense{}, storeError("add expense", err)
	}

	e, err = s.readBack(ctx, p)
	if err != nil {
		return core.Expense{}, err
	}

	slog.InfoContext(ctx, "Expense added",
		applog.FieldAccountID, accountID,
		applog.FieldExpenseID, e.ID,
		applog.FieldCard, string(e.Card),
		applog.FieldAmount, core.FormatAmount(e.Amount))
	s.notify(ctx, accountID, core.OpAdd, []string{e.ID}, core.SetActive)
	return e, nil
}

// Update replaces the editable fields of an active expense. createdAt is
// left untouched.
func (s *LedgerService) Update(ctx context.Context, accountID, id string, d core.Draft) (e core.Expense, err error) {
	defer func() { s.metrics.ObserveLedger(core.OpUpdate, err) }()

	d = d.Normalize()
	if err := d.Validate(); err != nil {
		return core.Expense{}, err
	}
	if id == "" {
		return core.Expense{}, apperror.ValidationFailed("id", "expense id is required")
	}

	p := docstore.Expenses(accountID).Child(id)
	err = s.store.Batch().WriteMerge(p, core.ExpenseFields(d), docstore.MustExist).Commit(ctx)
	if errors.Is(err, docstore.ErrNoDocument) {
		return core.Expense{}, apperror.NotFound("expense", id)
	}
	if err != nil {
		return core.Expense{}, storeError("update expense", err)
	}

	e, err = s.readBack(ctx, p)
	if err != nil {
		return core.Expense{}, err
	}
	slog.InfoContext(ctx, "Expense updated", applog.FieldAccountID, accountID, applog.FieldExpenseID, id)
	s.notify(ctx, accountID, core.OpUpdate, []string{id}, core.SetActive)
	return e, nil
}

func (s *LedgerService) SoftDelete(ctx context.Context, accountID, id string) error {
	return s.BatchSoftDelete(ctx, accountID, []string{id})
}

func (s *LedgerService) Restore(ctx context.Context, accountID, id string) error {
	return s.BatchRestore(ctx, accountID, []string{id})
}

// BatchSoftDelete moves every listed expense to the recycle bin in one
// atomic batch. If any id is missing from the active set nothing moves.
func (s *LedgerService) BatchSoftDelete(ctx context.Context, accountID string, ids []string) (err error) {
	defer func() { s.metrics.ObserveLedger(core.OpDelete, err) }()
	return s.move(ctx, accountID, ids, core.SetActive, core.SetRecycled, core.OpDelete)
}

// BatchRestore moves every listed expense back from the recycle bin.
func (s *LedgerService) BatchRestore(ctx context.Context, accountID string, ids []string) (err error) {
	defer func() { s.metrics.ObserveLedger(core.OpRestore, err) }()
	return s.move(ctx, accountID, ids, core.SetRecycled, core.SetActive, core.OpRestore)
}

func (s *LedgerService) Purge(ctx context.Context, accountID, id string) error {
	return s.BatchPurge(ctx, accountID, []string{id})
}

// BatchPurge permanently deletes recycled expenses. Active expenses cannot
// be purged: an id not in the recycle bin is NotFound.
func (s *LedgerService) BatchPurge(ctx context.Context, accountID string, ids []string) (err error) {
	defer func() { s.metrics.ObserveLedger(core.OpPurge, err) }()

	ids = uniqueIDs(ids)
	if len(ids) == 0 {
		return nil
	}
	bin := docstore.RecycleBin(accountID)
	if _, err := s.readAll(ctx, bin, ids); err != nil {
		return err
	}

	b := s.store.Batch()
	for _, id := range ids {
		b.Delete(bin.Child(id), docstore.MustExist)
	}
	if err := b.Commit(ctx); err != nil {
		if errors.Is(err, docstore.ErrNoDocument) {
			return apperror.NotFound("expense", failedID(err))
		}
		return storeError("purge expenses", err)
	}

	slog.InfoContext(ctx, "Expenses purged", applog.FieldAccountID, accountID, applog.FieldCount, len(ids))
	s.notify(ctx, accountID, core.OpPurge, ids, core.SetRecycled)
	return nil
}

func (s *LedgerService) move(ctx context.Context, accountID string, ids []string, from, to core.LedgerSet, op string) error {
	ids = uniqueIDs(ids)
	if len(ids) == 0 {
		return nil
	}
	src, dst := setPath(accountID, from), setPath(accountID, to)

	docs, err := s.readAll(ctx, src, ids)
	if err != nil {
		return err
	}

	b := s.store.Batch()
	for i, id := range ids {
		b.Write(dst.Child(id), docs[i])
		b.Delete(src.Child(id), docstore.MustExist)
	}
	if err := b.Commit(ctx); err != nil {
		if errors.Is(err, docstore.ErrNoDocument) {
			return apperror.NotFound("expense", failedID(err))
		}
		return storeError(op, err)
	}

	slog.InfoContext(ctx, "Expenses moved",
		applog.FieldAccountID, accountID,
		applog.FieldOperation, op,
		applog.FieldCount, len(ids))
	s.notify(ctx, accountID, op, ids, from, to)
	return nil
}

// readAll loads the documents of ids from collection concurrently. Any
// missing id fails the whole call with NotFound.
func (s *LedgerService) readAll(ctx context.Context, collection docstore.Path, ids []string) ([]docstore.Document, error) {
	docs := make([]docstore.Document, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, id := range ids {
		g.Go(func() error {
			doc, ok, err := s.store.Read(gctx, collection.Child(id))
			if err != nil {
				return storeError("read expense", err)
			}
			if !ok {
				return apperror.NotFound("expense", id)
			}
			docs[i] = doc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return docs, nil
}

func (s *LedgerService) readBack(ctx context.Context, p docstore.Path) (core.Expense, error) {
	doc, ok, err := s.store.Read(ctx, p)
	if err != nil {
		return core.Expense{}, storeError("read expense", err)
	}
	if !ok {
		return core.Expense{}, apperror.NotFound("expense", p.ID())
	}
	return core.ExpenseFromDocument(p.ID(), doc), nil
}

func (s *LedgerService) Active(ctx context.Context, accountID string) ([]core.Expense, error) {
	return s.list(ctx, accountID, core.SetActive)
}

func (s *LedgerService) Recycled(ctx context.Context, accountID string) ([]core.Expense, error) {
	return s.list(ctx, accountID, core.SetRecycled)
}

func (s *LedgerService) list(ctx context.Context, accountID string, set core.LedgerSet) ([]core.Expense, error) {
	snap, err := s.store.List(ctx, setPath(accountID, set))
	if err != nil {
		return nil, storeError(fmt.Sprintf("list %s expenses", set), err)
	}
	return expensesFromSnapshot(ctx, snap), nil
}

// Totals sums the active set. Recycled expenses never count.
func (s *LedgerService) Totals(ctx context.Context, accountID string) (core.Totals, error) {
	active, err := s.Active(ctx, accountID)
	if err != nil {
		return core.Totals{}, err
	}
	return core.ComputeTotals(active), nil
}

// Search lists one set narrowed by card and a free-text query.
func (s *LedgerService) Search(ctx context.Context, accountID string, set core.LedgerSet, f core.CardFilter, q string) ([]core.Expense, error) {
	all, err := s.list(ctx, accountID, set)
	if err != nil {
		return nil, err
	}
	return core.Filter(all, f, q), nil
}

func (s *LedgerService) notify(ctx context.Context, accountID, op string, ids []string, sets ...core.LedgerSet) {
	if s.notifier == nil {
		return
	}
	ev := core.ChangeEvent{
		AccountID: accountID,
		Operation: op,
		Sets:      sets,
		IDs:       ids,
		At:        s.now().UTC(),
	}
	if err := s.notifier.NotifyChange(ctx, ev); err != nil {
		s.metrics.NotifyFailed()
		slog.ErrorContext(ctx, "Failed to publish ledger change",
			applog.FieldAccountID, accountID,
			applog.FieldOperation, op,
			applog.FieldError, err)
	}
}

// expensesFromSnapshot decodes every document of snap. Records that no
// longer validate are still returned, so they stay visible and removable.
func expensesFromSnapshot(ctx context.Context, snap docstore.Snapshot) []core.Expense {
	out := make([]core.Expense, 0, len(snap.Docs))
	for _, d := range snap.Docs {
		e := core.ExpenseFromDocument(d.ID, d.Data)
		if err := e.Validate(); err != nil {
			slog.WarnContext(ctx, "Damaged expense record",
				"path", d.Path.String(),
				applog.FieldError, err)
		}
		out = append(out, e)
	}
	core.SortExpenses(out)
	return out
}

// failedID returns the id of the document whose precondition failed.
func failedID(err error) string {
	var pe *docstore.PreconditionError
	if errors.As(err, &pe) {
		return pe.Path.ID()
	}
	return ""
}

func uniqueIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != "" && !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}
