package core

import (
	"time"
)

// Field names of the stored documents.
const (
	FieldAmount      = "amount"
	FieldDate        = "date"
	FieldDescription = "description"
	FieldCard        = "card"
	FieldCreatedAt   = "createdAt"

	FieldAccountID       = "accountId"
	FieldCredentialEmail = "credentialEmail"
	FieldUsername        = "username"
	FieldPending         = "pending"
	FieldPendingUsername = "pendingUsername"
	FieldPendingEmail    = "pendingEmail"

	FieldCustomUsername = "customUsername"
	FieldCardNames      = "cardNames"

	FieldOperationID = "operationId"
	FieldOldUsername = "oldUsername"
	FieldNewUsername = "newUsername"
	FieldOldEmail    = "oldEmail"
	FieldNewEmail    = "newEmail"
	FieldStartedAt   = "startedAt"
)

// ExpenseFields returns the user-editable fields of an expense document.
// The write-once createdAt field is added by the caller.
func ExpenseFields(d Draft) map[string]any {
	return map[string]any{
		FieldAmount:      FormatAmount(d.Amount),
		FieldDate:        d.Date.String(),
		FieldDescription: d.Description,
		FieldCard:        string(d.Card),
	}
}

// ExpenseFromDocument decodes a stored expense. Decoding never fails: a
// missing or malformed amount reads as zero and a malformed date as the
// zero date, so a damaged record still lists and totals as zero.
func ExpenseFromDocument(id string, doc map[string]any) Expense {
	e := Expense{
		ID:          id,
		Amount:      AmountFromAny(doc[FieldAmount]),
		Description: StringField(doc, FieldDescription),
		Card:        Card(StringField(doc, FieldCard)),
		CreatedAt:   TimeFromAny(doc[FieldCreatedAt]),
	}
	if d, err := ParseDate(StringField(doc, FieldDate)); err == nil {
		e.Date = d
	}
	return e
}

func UsernameRecordFields(r UsernameRecord) map[string]any {
	doc := map[string]any{
		FieldAccountID:       r.AccountID,
		FieldCredentialEmail: r.CredentialEmail,
		FieldUsername:        r.Username,
	}
	if r.Pending {
		doc[FieldPending] = true
	}
	if r.PendingUsername != "" {
		doc[FieldPendingUsername] = r.PendingUsername
		doc[FieldPendingEmail] = r.PendingEmail
	}
	return doc
}

func UsernameRecordFromDocument(doc map[string]any) UsernameRecord {
	pending, _ := doc[FieldPending].(bool)
	return UsernameRecord{
		AccountID:       StringField(doc, FieldAccountID),
		CredentialEmail: StringField(doc, FieldCredentialEmail),
		Username:        StringField(doc, FieldUsername),
		Pending:         pending,
		PendingUsername: StringField(doc, FieldPendingUsername),
		PendingEmail:    StringField(doc, FieldPendingEmail),
	}
}

func ProfileFields(p Profile) map[string]any {
	names := make(map[string]any, len(p.CardNames))
	for c, name := range p.CardNames {
		names[string(c)] = name
	}
	return map[string]any{
		FieldCustomUsername: p.CustomUsername,
		FieldCardNames:      names,
	}
}

func ProfileFromDocument(doc map[string]any) Profile {
	p := Profile{
		CustomUsername: StringField(doc, FieldCustomUsername),
		CardNames:      make(map[Card]string),
	}
	if names, ok := doc[FieldCardNames].(map[string]any); ok {
		for k, v := range names {
			c := Card(k)
			if s, ok := v.(string); ok && c.Valid() {
				p.CardNames[c] = s
			}
		}
	}
	return p
}

func UsernameChangeFields(c UsernameChange) map[string]any {
	return map[string]any{
		FieldOperationID: c.OperationID,
		FieldOldUsername: c.OldUsername,
		FieldNewUsername: c.NewUsername,
		FieldOldEmail:    c.OldEmail,
		FieldNewEmail:    c.NewEmail,
		FieldStartedAt:   c.StartedAt.UTC().Format(time.RFC3339Nano),
	}
}

func UsernameChangeFromDocument(doc map[string]any) UsernameChange {
	return UsernameChange{
		OperationID: StringField(doc, FieldOperationID),
		OldUsername: StringField(doc, FieldOldUsername),
		NewUsername: StringField(doc, FieldNewUsername),
		OldEmail:    StringField(doc, FieldOldEmail),
		NewEmail:    StringField(doc, FieldNewEmail),
		StartedAt:   TimeFromAny(doc[FieldStartedAt]),
	}
}

// TimeFromAny reads a timestamp stored either natively or as RFC 3339 text.
func TimeFromAny(v any) time.Time {
	switch x := v.(type) {
	case time.Time:
		return x
	case string:
		t, err := time.Parse(time.RFC3339Nano, x)
		if err != nil {
			return time.Time{}
		}
		return t
	default:
		return time.Time{}
	}
}

func StringField(doc map[string]any, key string) string {
	s, _ := doc[key].(string)
	return s
}
