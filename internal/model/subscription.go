package model

import "time"

type Tier string

const (
	TierFree Tier = "free"
	TierPro  Tier = "pro"
)

type Status string

const (
	StatusActive            Status = "active"
	StatusTrialing          Status = "trialing"
	StatusCanceled          Status = "canceled"
	StatusIncomplete        Status = "incomplete"
	StatusIncompleteExpired Status = "incomplete_expired"
	StatusPastDue           Status = "past_due"
	StatusUnpaid            Status = "unpaid"
)

// Entitled reports whether a subscription in this status grants the pro tier.
func (s Status) Entitled() bool {
	return s == StatusActive || s == StatusTrialing
}

// TierFor returns the tier a freshly synced subscription status resolves to.
func TierFor(s Status) Tier {
	if s.Entitled() {
		return TierPro
	}
	return TierFree
}

// Snapshot is a user's locally stored subscription state.
type Snapshot struct {
	UserID               string     `json:"user_id"`
	Tier                 Tier       `json:"subscription_tier"`
	Status               Status     `json:"subscription_status"`
	StripeCustomerID     *string    `json:"stripe_customer_id"`
	StripeSubscriptionID *string    `json:"stripe_subscription_id"`
	PeriodEnd            *time.Time `json:"subscription_end_date"`
	IdeasCount           int        `json:"ideas_count"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// SnapshotDelta describes a change to a Snapshot. Nil fields are left as stored.
type SnapshotDelta struct {
	Tier             *Tier
	Status           *Status
	StripeCustomerID *string
	// StripeSubscriptionID is only ever set, never cleared.
	StripeSubscriptionID *string
	PeriodEnd            *time.Time

	// Upsert creates a default row before applying the change when none exists.
	Upsert bool
	// RequireStatus restricts the write to rows currently in this status.
	RequireStatus *Status
	// EventAt is the processor timestamp of the event that produced the delta.
	// Tier, status and period end are not written to rows that already
	// reflect a newer event.
	EventAt time.Time
}

// Empty reports whether the delta would not change any column.
func (d SnapshotDelta) Empty() bool {
	return d.Tier == nil && d.Status == nil && d.StripeCustomerID == nil &&
		d.StripeSubscriptionID == nil && d.PeriodEnd == nil
}

func TierPtr(t Tier) *Tier { return &t }

func StatusPtr(s Status) *Status { return &s }

func StringPtr(s string) *string { return &s }

func TimePtr(t time.Time) *time.Time { return &t }
