package models

import "github.com/google/uuid"

func ensureID(id *uuid.UUID) {
	if *id == uuid.Nil {
		*id = uuid.New()
	}
}

// All lists every persisted model, in dependency order, for AutoMigrate in dev and tests.
func All() []any {
	return []any{
		&User{},
		&Vendor{},
		&Product{},
		&Coupon{},
		&Order{},
		&OrderItem{},
		&PaymentAttempt{},
		&Dispute{},
		&Refund{},
		&VendorLedgerEntry{},
		&OutboxEvent{},
		&OutboxDLQ{},
	}
}
