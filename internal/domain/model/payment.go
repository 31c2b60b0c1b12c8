package model

import "time"

type PaymentStatus string

const (
	PaymentStatusCreated PaymentStatus = "created" // pix charge generated
	PaymentStatusPending PaymentStatus = "pending" // awaiting confirmation from gateway
	PaymentStatusPaid    PaymentStatus = "paid"
	PaymentStatusExpired PaymentStatus = "expired"
)

// UnpaidPaymentStates are the states a pix trigger looks for.
var UnpaidPaymentStates = []PaymentStatus{PaymentStatusCreated, PaymentStatusPending}

// PaidPaymentStates mark a recipient as converted.
var PaidPaymentStates = []PaymentStatus{PaymentStatusPaid}

// Payment is one payment attempt of a recipient. A recipient can have many.
type Payment struct {
	ID        string
	OwnerID   string
	ChatID    int64
	Amount    int64 // cents
	Status    PaymentStatus
	CreatedAt time.Time
	UpdatedAt time.Time
	PaidAt    *time.Time
}
