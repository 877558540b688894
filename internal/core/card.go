package core

import (
	"fmt"
	"strings"

	"binledger/internal/apperror"
)

// Card identifies one of the two payment cards an expense can be charged to.
type Card string

const (
	Card1 Card = "card1"
	Card2 Card = "card2"
)

// Cards returns every card in display order.
func Cards() []Card {
	return []Card{Card1, Card2}
}

func (c Card) Valid() bool {
	return c == Card1 || c == Card2
}

func (c Card) String() string {
	return string(c)
}

// DefaultLabel is the name shown when the account has not named the card.
func (c Card) DefaultLabel() string {
	switch c {
	case Card1:
		return "Card 1"
	case Card2:
		return "Card 2"
	default:
		return string(c)
	}
}

func ParseCard(s string) (Card, error) {
	c := Card(strings.ToLower(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", apperror.ValidationFailed("card", fmt.Sprintf("unknown card %q: must be one of %v", s, Cards()))
	}
	return c, nil
}

// CardFilter selects either every card or exactly one. The zero value
// selects every card.
type CardFilter struct {
	card Card
}

func AllCards() CardFilter {
	return CardFilter{}
}

func OnlyCard(c Card) CardFilter {
	return CardFilter{card: c}
}

// ParseCardFilter accepts "all" (or empty) and the card names.
func ParseCardFilter(s string) (CardFilter, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" || s == "all" {
		return AllCards(), nil
	}
	c, err := ParseCard(s)
	if err != nil {
		return CardFilter{}, err
	}
	return OnlyCard(c), nil
}

func (f CardFilter) All() bool {
	return f.card == ""
}

func (f CardFilter) Matches(c Card) bool {
	return f.All() || f.card == c
}

func (f CardFilter) String() string {
	if f.All() {
		return "all"
	}
	return string(f.card)
}
