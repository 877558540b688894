package core

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// Totals sums the active set per card and overall.
type Totals struct {
	PerCard map[Card]decimal.Decimal `json:"perCard"`
	Total   decimal.Decimal          `json:"total"`
}

// ComputeTotals derives totals from the active set. Recycled expenses must
// not be passed in. Every card is present in the result, zero if unused.
func ComputeTotals(active []Expense) Totals {
	t := Totals{PerCard: make(map[Card]decimal.Decimal, len(Cards())), Total: decimal.Zero}
	for _, c := range Cards() {
		t.PerCard[c] = decimal.Zero
	}
	for _, e := range active {
		sum, ok := t.PerCard[e.Card]
		if !ok {
			continue
		}
		t.PerCard[e.Card] = sum.Add(e.Amount)
	}
	for _, c := range Cards() {
		t.Total = t.Total.Add(t.PerCard[c])
	}
	return t
}

// Filter returns the expenses charged to a card selected by f whose amount,
// description or localized date contains search, ignoring case. Order is
// preserved and an empty search matches everything.
func Filter(set []Expense, f CardFilter, search string) []Expense {
	needle := strings.ToLower(strings.TrimSpace(search))
	out := make([]Expense, 0, len(set))
	for _, e := range set {
		if !f.Matches(e.Card) {
			continue
		}
		if needle != "" && !matchesSearch(e, needle) {
			continue
		}
		out = append(out, e)
	}
	return out
}

// matchesSearch compares amounts in the two-place form they are shown in,
// with either decimal separator, and in the short form ("12.5").
func matchesSearch(e Expense, needle string) bool {
	shown := FormatAmount(e.Amount)
	return strings.Contains(shown, needle) ||
		strings.Contains(strings.ReplaceAll(shown, ".", ","), needle) ||
		strings.Contains(e.Amount.String(), needle) ||
		strings.Contains(strings.ToLower(e.Description), needle) ||
		strings.Contains(strings.ToLower(e.Date.Localized()), needle)
}

// SortExpenses orders newest first: by date, then creation time, then id.
func SortExpenses(set []Expense) {
	sort.SliceStable(set, func(i, j int) bool {
		a, b := set[i], set[j]
		if !a.Date.Equal(b.Date.Time) {
			return a.Date.After(b.Date.Time)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID > b.ID
	})
}
