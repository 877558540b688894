package amqp

import (
	"encoding/json"
	"errors"
	"time"

	"binledger/internal/core"

	"github.com/google/uuid"
)

// routingPrefix prefixes the account id in routing keys: ledger.{accountID}.
const routingPrefix = "ledger."

// ChangeMessage announces a committed ledger write. It carries ids only;
// receivers re-read the ledger from the store.
type ChangeMessage struct {
	MessageID string           `json:"messageId"`
	AccountID string           `json:"accountId"`
	Operation string           `json:"operation"`
	Sets      []core.LedgerSet `json:"sets"`
	IDs       []string         `json:"ids"`
	Timestamp time.Time        `json:"timestamp"`
}

func NewChangeMessage(ev core.ChangeEvent) *ChangeMessage {
	ts := ev.At
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return &ChangeMessage{
		MessageID: uuid.NewString(),
		AccountID: ev.AccountID,
		Operation: ev.Operation,
		Sets:      ev.Sets,
		IDs:       ev.IDs,
		Timestamp: ts,
	}
}

func (m *ChangeMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func ChangeMessageFromJSON(data []byte) (*ChangeMessage, error) {
	var msg ChangeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.AccountID == "" {
		return nil, errors.New("change message without account id")
	}
	return &msg, nil
}

// RoutingKey returns the routing key of changes to accountID, or the
// wildcard for every account when accountID is empty.
func RoutingKey(accountID string) string {
	if accountID == "" {
		return routingPrefix + "*"
	}
	return routingPrefix + accountID
}
