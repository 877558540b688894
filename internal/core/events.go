package core

import "time"

// LedgerSet names one of the two partitions of an account's expenses.
type LedgerSet string

const (
	SetActive   LedgerSet = "active"
	SetRecycled LedgerSet = "recycled"
)

// Ledger operations recorded on change events.
const (
	OpAdd     = "add"
	OpUpdate  = "update"
	OpDelete  = "soft_delete"
	OpRestore = "restore"
	OpPurge   = "purge"
)

// ChangeEvent describes a committed ledger write.
type ChangeEvent struct {
	AccountID string      `json:"accountId"`
	Operation string      `json:"operation"`
	Sets      []LedgerSet `json:"sets"`
	IDs       []string    `json:"ids"`
	At        time.Time   `json:"at"`
}
