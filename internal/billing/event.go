package billing

import "time"

// MetadataUserIDKey is the processor metadata key carrying our user id. It is
// set on both the checkout session and the subscription it creates.
const MetadataUserIDKey = "user_id"

// EventKind is the closed set of processor events the synchronizer acts on.
type EventKind int

const (
	KindUnknown EventKind = iota
	KindCheckoutCompleted
	KindSubscriptionUpdated
	KindSubscriptionDeleted
	KindInvoicePaymentFailed
	KindInvoicePaymentSucceeded
)

var kindByType = map[string]EventKind{
	"checkout.session.completed":    KindCheckoutCompleted,
	"customer.subscription.updated": KindSubscriptionUpdated,
	"customer.subscription.deleted": KindSubscriptionDeleted,
	"invoice.payment_failed":        KindInvoicePaymentFailed,
	"invoice.payment_succeeded":     KindInvoicePaymentSucceeded,
}

// ParseEventKind maps a processor event type string to its kind.
func ParseEventKind(eventType string) EventKind {
	return kindByType[eventType]
}

func (k EventKind) String() string {
	switch k {
	case KindCheckoutCompleted:
		return "checkout_completed"
	case KindSubscriptionUpdated:
		return "subscription_updated"
	case KindSubscriptionDeleted:
		return "subscription_deleted"
	case KindInvoicePaymentFailed:
		return "invoice_payment_failed"
	case KindInvoicePaymentSucceeded:
		return "invoice_payment_succeeded"
	default:
		return "unknown"
	}
}

// Event is a verified webhook event decoded into processor-neutral fields.
// Which fields are populated depends on Kind:
//
//   - checkout_completed: UserID, CustomerID, SubscriptionID
//   - subscription_updated/deleted: UserID, CustomerID, SubscriptionID, Status, PeriodEnd
//   - invoice_payment_*: SubscriptionID (the user is resolved by lookup)
type Event struct {
	ID             string
	Type           string
	Kind           EventKind
	Created        time.Time
	UserID         string
	CustomerID     string
	SubscriptionID string
	Status         string
	PeriodEnd      time.Time
}

// ProcessorSubscription is the subset of a processor subscription the
// synchronizer reads when a webhook payload does not carry it.
type ProcessorSubscription struct {
	ID         string
	CustomerID string
	UserID     string
	Status     string
	PeriodEnd  time.Time
}
