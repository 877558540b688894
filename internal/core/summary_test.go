package core

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func exp(id, amount string, card Card, desc string, d Date) Expense {
	return Expense{ID: id, Amount: decimal.RequireFromString(amount), Card: card, Description: desc, Date: d}
}

func TestComputeTotals(t *testing.T) {
	active := []Expense{
		exp("a", "100.00", Card1, "groceries", NewDate(2024, 1, 5)),
		exp("b", "50.00", Card2, "fuel", NewDate(2024, 1, 6)),
		exp("c", "100.00", Card1, "rent", NewDate(2024, 1, 7)),
	}
	got := ComputeTotals(active)

	if !got.PerCard[Card1].Equal(decimal.RequireFromString("200")) {
		t.Errorf("card1 = %s, want 200", got.PerCard[Card1])
	}
	if !got.PerCard[Card2].Equal(decimal.RequireFromString("50")) {
		t.Errorf("card2 = %s, want 50", got.PerCard[Card2])
	}
	if !got.Total.Equal(decimal.RequireFromString("250")) {
		t.Errorf("total = %s, want 250", got.Total)
	}
}

func TestComputeTotalsEmpty(t *testing.T) {
	got := ComputeTotals(nil)
	for _, c := range Cards() {
		v, ok := got.PerCard[c]
		if !ok || !v.IsZero() {
			t.Errorf("card %s = %v (present=%v), want 0", c, v, ok)
		}
	}
	if !got.Total.IsZero() {
		t.Errorf("total = %s, want 0", got.Total)
	}
}

func TestComputeTotalsMatchesSumOfCards(t *testing.T) {
	active := []Expense{
		exp("a", "0.10", Card1, "", NewDate(2024, 2, 1)),
		exp("b", "0.20", Card2, "", NewDate(2024, 2, 1)),
		exp("c", "0.30", Card1, "", NewDate(2024, 2, 1)),
		{ID: "d", Card: Card2}, // damaged amount reads as zero
	}
	got := ComputeTotals(active)
	if !got.Total.Equal(got.PerCard[Card1].Add(got.PerCard[Card2])) {
		t.Fatalf("total %s != %s + %s", got.Total, got.PerCard[Card1], got.PerCard[Card2])
	}
	if !got.Total.Equal(decimal.RequireFromString("0.6")) {
		t.Fatalf("total = %s, want exactly 0.6", got.Total)
	}
}

func TestFilter(t *testing.T) {
	set := []Expense{
		exp("1", "250.00", Card1, "Rent January", NewDate(2024, 1, 5)),
		exp("2", "12.50", Card2, "coffee beans", NewDate(2024, 3, 14)),
		exp("3", "7.25", Card1, "Bus ticket", NewDate(2024, 3, 2)),
	}

	cases := []struct {
		name   string
		filter CardFilter
		search string
		want   []string
	}{
		{"all cards no search", AllCards(), "", []string{"1", "2", "3"}},
		{"one card", OnlyCard(Card1), "", []string{"1", "3"}},
		{"description case insensitive", AllCards(), "RENT", []string{"1"}},
		{"amount substring", AllCards(), "12.5", []string{"2"}},
		{"amount as displayed", AllCards(), "250.00", []string{"1"}},
		{"amount trailing zero", AllCards(), "12.50", []string{"2"}},
		{"amount with comma", AllCards(), "7,25", []string{"3"}},
		{"localized date", AllCards(), "3/14/2024", []string{"2"}},
		{"card and search", OnlyCard(Card2), "bus", []string{}},
		{"no match", AllCards(), "zzz", []string{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Filter(set, tc.filter, tc.search)
			if len(got) != len(tc.want) {
				t.Fatalf("got %d results, want %d", len(got), len(tc.want))
			}
			for i := range got {
				if got[i].ID != tc.want[i] {
					t.Fatalf("result %d = %s, want %s", i, got[i].ID, tc.want[i])
				}
			}
		})
	}
}

func TestFilterPreservesOrderAndSubset(t *testing.T) {
	set := []Expense{
		exp("c", "5", Card2, "a", NewDate(2024, 1, 3)),
		exp("a", "5", Card2, "b", NewDate(2024, 1, 1)),
		exp("b", "5", Card1, "c", NewDate(2024, 1, 2)),
	}
	got := Filter(set, AllCards(), "5")
	if len(got) != 3 || got[0].ID != "c" || got[1].ID != "a" || got[2].ID != "b" {
		t.Fatalf("order not preserved: %+v", got)
	}
}

func TestSortExpenses(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	set := []Expense{
		{ID: "old", Date: NewDate(2024, 1, 1), CreatedAt: t0},
		{ID: "new", Date: NewDate(2024, 2, 1), CreatedAt: t0},
		{ID: "same-day-later", Date: NewDate(2024, 1, 1), CreatedAt: t0.Add(time.Hour)},
	}
	SortExpenses(set)
	want := []string{"new", "same-day-later", "old"}
	for i, id := range want {
		if set[i].ID != id {
			t.Fatalf("position %d = %s, want %s", i, set[i].ID, id)
		}
	}
}
