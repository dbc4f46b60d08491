package messages

import "time"

// Billing event types as published by the webhook intake. Values match the
// payment provider's event names so the mapping table stays greppable.
const (
	BillingSubscriptionCreated = "customer.subscription.created"
	BillingSubscriptionUpdated = "customer.subscription.updated"
	BillingSubscriptionDeleted = "customer.subscription.deleted"
	BillingPaymentSucceeded    = "invoice.payment_succeeded"
	BillingPaymentFailed       = "invoice.payment_failed"
)

type BillingEvent struct {
	Type       string    `json:"type"`
	CustomerID string    `json:"customer_id"`
	Status     string    `json:"status,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
}
