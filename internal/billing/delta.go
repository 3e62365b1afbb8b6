package billing

import (
	"time"

	"github.com/dukerupert/ideacapture/internal/model"
)

// Each function below turns one event kind into the change it makes to a
// snapshot. None of them touch storage.

func checkoutCompletedDelta(ev Event, sub *ProcessorSubscription) model.SnapshotDelta {
	d := model.SnapshotDelta{
		Tier:                 model.TierPtr(model.TierPro),
		Status:               model.StatusPtr(model.StatusActive),
		StripeSubscriptionID: model.StringPtr(ev.SubscriptionID),
		Upsert:               true,
		EventAt:              ev.Created,
	}
	customerID := ev.CustomerID
	if customerID == "" {
		customerID = sub.CustomerID
	}
	if customerID != "" {
		d.StripeCustomerID = model.StringPtr(customerID)
	}
	if !sub.PeriodEnd.IsZero() {
		d.PeriodEnd = model.TimePtr(sub.PeriodEnd.UTC())
	}
	return d
}

func subscriptionUpdatedDelta(ev Event) model.SnapshotDelta {
	status := MapStatus(ev.Status)
	d := model.SnapshotDelta{
		Tier:    model.TierPtr(model.TierFor(status)),
		Status:  model.StatusPtr(status),
		EventAt: ev.Created,
	}
	withIdentifiers(&d, ev)
	if !ev.PeriodEnd.IsZero() {
		d.PeriodEnd = model.TimePtr(ev.PeriodEnd.UTC())
	}
	return d
}

func subscriptionDeletedDelta(ev Event, now time.Time) model.SnapshotDelta {
	d := model.SnapshotDelta{
		Tier:      model.TierPtr(model.TierFree),
		Status:    model.StatusPtr(model.StatusCanceled),
		PeriodEnd: model.TimePtr(now.UTC()),
		EventAt:   ev.Created,
	}
	withIdentifiers(&d, ev)
	return d
}

// withIdentifiers records the processor ids a subscription event carries so
// they are stored even when the checkout event arrives late.
func withIdentifiers(d *model.SnapshotDelta, ev Event) {
	if ev.SubscriptionID != "" {
		d.StripeSubscriptionID = model.StringPtr(ev.SubscriptionID)
	}
	if ev.CustomerID != "" {
		d.StripeCustomerID = model.StringPtr(ev.CustomerID)
	}
}

// The tier is left alone while past due so the user keeps pro during the
// processor's retry window.
func invoicePaymentFailedDelta(ev Event) model.SnapshotDelta {
	return model.SnapshotDelta{
		Status:  model.StatusPtr(model.StatusPastDue),
		EventAt: ev.Created,
	}
}

// Only a past_due subscription is revived, so a cancellation that landed
// between the failed and the successful payment is not undone.
func invoicePaymentSucceededDelta(ev Event) model.SnapshotDelta {
	return model.SnapshotDelta{
		Tier:          model.TierPtr(model.TierPro),
		Status:        model.StatusPtr(model.StatusActive),
		RequireStatus: model.StatusPtr(model.StatusPastDue),
		EventAt:       ev.Created,
	}
}
