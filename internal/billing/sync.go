package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukerupert/ideacapture/internal/model"
)

var (
	ErrMissingUserID       = errors.New("no user id in metadata")
	ErrMissingSubscription = errors.New("no subscription reference")
	ErrUpstream            = errors.New("processor lookup failed")
)

// Outcome is what happened to a single webhook event.
type Outcome string

const (
	OutcomeApplied Outcome = "applied"
	OutcomeSkipped Outcome = "skipped"
	OutcomeIgnored Outcome = "ignored"
	OutcomeDropped Outcome = "dropped"
	OutcomeFailed  Outcome = "failed"
)

// SubscriptionFetcher looks up a subscription at the processor.
type SubscriptionFetcher interface {
	FetchSubscription(ctx context.Context, id string) (*ProcessorSubscription, error)
}

// SnapshotWriter applies a delta to a user's snapshot.
type SnapshotWriter interface {
	Apply(ctx context.Context, userID string, d model.SnapshotDelta) (bool, error)
}

// Recorder receives webhook outcomes for metrics. It may be nil.
type Recorder interface {
	WebhookEvent(kind, outcome string)
	SnapshotWriteFailed(source string)
}

// Synchronizer keeps stored snapshots in line with processor events.
type Synchronizer struct {
	fetcher  SubscriptionFetcher
	store    SnapshotWriter
	recorder Recorder
	logger   *slog.Logger
	now      func() time.Time
}

func NewSynchronizer(f SubscriptionFetcher, s SnapshotWriter, rec Recorder, logger *slog.Logger) *Synchronizer {
	return &Synchronizer{
		fetcher:  f,
		store:    s,
		recorder: rec,
		logger:   logger,
		now:      time.Now,
	}
}

// Handle applies one event. It never returns an error: failures are logged
// and reported through the Outcome so the webhook can still acknowledge the
// delivery.
func (s *Synchronizer) Handle(ctx context.Context, ev Event) Outcome {
	outcome := s.handle(ctx, ev)
	if s.recorder != nil {
		s.recorder.WebhookEvent(ev.Kind.String(), string(outcome))
	}
	return outcome
}

func (s *Synchronizer) handle(ctx context.Context, ev Event) Outcome {
	logger := s.logger.With("event_id", ev.ID, "event_type", ev.Type)

	if ev.Kind == KindUnknown {
		logger.Info("ignoring unhandled event")
		return OutcomeIgnored
	}

	userID, delta, err := s.plan(ctx, ev)
	if err != nil {
		if errors.Is(err, ErrUpstream) {
			logger.Error("subscription lookup failed", "error", err)
			return OutcomeFailed
		}
		logger.Warn("dropping event", "error", err)
		return OutcomeDropped
	}
	logger = logger.With("user_id", userID)

	changed, err := s.store.Apply(ctx, userID, delta)
	if err != nil {
		logger.Error("snapshot write failed", "error", err)
		if s.recorder != nil {
			s.recorder.SnapshotWriteFailed("webhook")
		}
		return OutcomeFailed
	}
	if !changed {
		logger.Info("snapshot unchanged")
		return OutcomeSkipped
	}

	logger.Info("snapshot updated", "kind", ev.Kind.String())
	return OutcomeApplied
}

func (s *Synchronizer) plan(ctx context.Context, ev Event) (string, model.SnapshotDelta, error) {
	switch ev.Kind {
	case KindCheckoutCompleted:
		if ev.UserID == "" {
			return "", model.SnapshotDelta{}, ErrMissingUserID
		}
		if ev.SubscriptionID == "" {
			return "", model.SnapshotDelta{}, ErrMissingSubscription
		}
		sub, err := s.fetch(ctx, ev.SubscriptionID)
		if err != nil {
			return "", model.SnapshotDelta{}, err
		}
		return ev.UserID, checkoutCompletedDelta(ev, sub), nil

	case KindSubscriptionUpdated:
		if ev.UserID == "" {
			return "", model.SnapshotDelta{}, ErrMissingUserID
		}
		return ev.UserID, subscriptionUpdatedDelta(ev), nil

	case KindSubscriptionDeleted:
		if ev.UserID == "" {
			return "", model.SnapshotDelta{}, ErrMissingUserID
		}
		return ev.UserID, subscriptionDeletedDelta(ev, s.now()), nil

	case KindInvoicePaymentFailed, KindInvoicePaymentSucceeded:
		if ev.SubscriptionID == "" {
			return "", model.SnapshotDelta{}, ErrMissingSubscription
		}
		sub, err := s.fetch(ctx, ev.SubscriptionID)
		if err != nil {
			return "", model.SnapshotDelta{}, err
		}
		if sub.UserID == "" {
			return "", model.SnapshotDelta{}, ErrMissingUserID
		}
		if ev.Kind == KindInvoicePaymentFailed {
			return sub.UserID, invoicePaymentFailedDelta(ev), nil
		}
		return sub.UserID, invoicePaymentSucceededDelta(ev), nil
	}
	return "", model.SnapshotDelta{}, fmt.Errorf("unhandled event kind %s", ev.Kind)
}

func (s *Synchronizer) fetch(ctx context.Context, id string) (*ProcessorSubscription, error) {
	sub, err := s.fetcher.FetchSubscription(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: subscription %s: %v", ErrUpstream, id, err)
	}
	if sub == nil {
		return nil, fmt.Errorf("%w: subscription %s not found", ErrUpstream, id)
	}
	return sub, nil
}
