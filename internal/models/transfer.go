package models

import "time"

// TransferRecord is one completed coin movement. Rows are append-only:
// the executor inserts them once and nothing ever updates or deletes them.
type TransferRecord struct {
	ID          int64     `json:"id" db:"id"`
	SenderID    int64     `json:"senderId" db:"sender_id"`
	RecipientID int64     `json:"recipientId" db:"recipient_id"`
	Amount      int64     `json:"amount" db:"amount"`
	CreatedAt   time.Time `json:"createdAt" db:"created_at"`
}

// TransferDirection selects which side of the ledger a listing covers.
type TransferDirection string

const (
	DirectionIn  TransferDirection = "in"
	DirectionOut TransferDirection = "out"
	DirectionAll TransferDirection = "all"
)

// WizardStage is the position inside the private transfer wizard.
type WizardStage string

const (
	StageRecipient WizardStage = "recipient"
	StageAmount    WizardStage = "amount"
)

// WizardState is the per-sender wizard state machine, serialized as JSON
// into the ephemeral store. RecipientID is only meaningful in StageAmount.
type WizardState struct {
	Stage         WizardStage `json:"stage"`
	RecipientID   int64       `json:"recipientId,omitempty"`
	RecipientName string      `json:"recipientName,omitempty"`
}
