package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type EntryType string

const (
	EntryTypeDeposit          EntryType = "deposit"
	EntryTypeMilestoneRelease EntryType = "milestone_release"
	EntryTypeRefund           EntryType = "refund"
	EntryTypeAdjustment       EntryType = "adjustment"
	EntryTypeSplit            EntryType = "split"
)

// LedgerEntry is one immutable signed monetary movement against a project's
// escrow balance. Entries are never updated or deleted; corrections are new
// adjustment entries. Seq is the insertion order and breaks created_at ties,
// so cumulatively summing Amount in (CreatedAt, Seq) order must reproduce
// every BalanceAfter exactly.
type LedgerEntry struct {
	ID           uuid.UUID
	ProjectID    uuid.UUID
	Seq          int64
	Amount       int64
	BalanceAfter int64
	EntryType    EntryType
	Description  string
	Metadata     json.RawMessage
	PaymentID    *uuid.UUID
	CreatedAt    time.Time
}
