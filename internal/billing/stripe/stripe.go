package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/billingportal/session"
	checksession "github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/customer"
	"github.com/stripe/stripe-go/v82/subscription"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/dukerupert/ideacapture/internal/billing"
)

const (
	PeriodMonthly = "monthly"
	PeriodYearly  = "yearly"
)

// ErrWebhookNotConfigured is returned when no signing secret is set.
var ErrWebhookNotConfigured = errors.New("stripe webhook secret not configured")

type Config struct {
	SecretKey       string
	WebhookSecret   string
	MonthlyPriceID  string
	YearlyPriceID   string
	SuccessURL      string
	CancelURL       string
	PortalReturnURL string
	APITimeout      time.Duration
}

type Client struct {
	cfg Config
}

func NewClient(cfg Config) *Client {
	if cfg.APITimeout == 0 {
		cfg.APITimeout = 10 * time.Second
	}
	stripe.Key = cfg.SecretKey
	return &Client{cfg: cfg}
}

// CreateCustomer creates a Stripe customer tagged with our user id and
// returns the customer ID.
func (c *Client) CreateCustomer(ctx context.Context, email, userID string) (string, error) {
	params := &stripe.CustomerParams{
		Email: stripe.String(email),
		Metadata: map[string]string{
			billing.MetadataUserIDKey: userID,
		},
	}
	params.Context = ctx
	cust, err := customer.New(params)
	if err != nil {
		return "", fmt.Errorf("create stripe customer: %w", err)
	}
	return cust.ID, nil
}

// CreateCheckoutSession creates a subscription checkout session and returns
// its URL. The user id is copied onto the subscription so later webhooks can
// be attributed without a lookup table.
func (c *Client) CreateCheckoutSession(ctx context.Context, customerID, userID, period string) (string, error) {
	priceID := c.PriceIDForPeriod(period)
	if priceID == "" {
		return "", fmt.Errorf("no price configured for %s billing", period)
	}
	params := &stripe.CheckoutSessionParams{
		Customer: stripe.String(customerID),
		Mode:     stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(priceID),
				Quantity: stripe.Int64(1),
			},
		},
		Metadata: map[string]string{
			billing.MetadataUserIDKey: userID,
			"billing_period":          period,
		},
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{
				billing.MetadataUserIDKey: userID,
			},
		},
		AllowPromotionCodes: stripe.Bool(true),
		SuccessURL:          stripe.String(c.cfg.SuccessURL),
		CancelURL:           stripe.String(c.cfg.CancelURL),
	}
	params.Context = ctx
	sess, err := checksession.New(params)
	if err != nil {
		return "", fmt.Errorf("create checkout session: %w", err)
	}
	return sess.URL, nil
}

// CreateBillingPortalSession creates a Stripe billing portal session and returns the URL.
func (c *Client) CreateBillingPortalSession(ctx context.Context, customerID string) (string, error) {
	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(c.cfg.PortalReturnURL),
	}
	params.Context = ctx
	sess, err := session.New(params)
	if err != nil {
		return "", fmt.Errorf("create billing portal session: %w", err)
	}
	return sess.URL, nil
}

// PriceIDForPeriod returns the Stripe price ID for a billing period.
func (c *Client) PriceIDForPeriod(period string) string {
	if period == PeriodYearly {
		return c.cfg.YearlyPriceID
	}
	return c.cfg.MonthlyPriceID
}

// FetchSubscription retrieves a subscription, bounded by the configured API timeout.
func (c *Client) FetchSubscription(ctx context.Context, id string) (*billing.ProcessorSubscription, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.APITimeout)
	defer cancel()

	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	sub, err := subscription.Get(id, params)
	if err != nil {
		return nil, fmt.Errorf("get stripe subscription: %w", err)
	}
	return toProcessorSubscription(sub), nil
}

// ConstructWebhookEvent verifies the signature over the raw payload and
// returns the parsed event.
func (c *Client) ConstructWebhookEvent(payload []byte, sigHeader string) (stripe.Event, error) {
	if c.cfg.WebhookSecret == "" {
		return stripe.Event{}, ErrWebhookNotConfigured
	}
	return webhook.ConstructEventWithOptions(payload, sigHeader, c.cfg.WebhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
}

// DecodeEvent extracts the fields the synchronizer needs from a verified
// event. Unknown event types decode to billing.KindUnknown without error.
func DecodeEvent(ev stripe.Event) (billing.Event, error) {
	out := billing.Event{
		ID:   ev.ID,
		Type: string(ev.Type),
		Kind: billing.ParseEventKind(string(ev.Type)),
	}
	if ev.Created > 0 {
		out.Created = time.Unix(ev.Created, 0).UTC()
	}
	if out.Kind == billing.KindUnknown {
		return out, nil
	}
	if ev.Data == nil || len(ev.Data.Raw) == 0 {
		return out, fmt.Errorf("event %s has no data", ev.ID)
	}

	switch out.Kind {
	case billing.KindCheckoutCompleted:
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(ev.Data.Raw, &sess); err != nil {
			return out, fmt.Errorf("unmarshal checkout session: %w", err)
		}
		out.UserID = sess.Metadata[billing.MetadataUserIDKey]
		if sess.Customer != nil {
			out.CustomerID = sess.Customer.ID
		}
		if sess.Subscription != nil {
			out.SubscriptionID = sess.Subscription.ID
		}

	case billing.KindSubscriptionUpdated, billing.KindSubscriptionDeleted:
		var sub stripe.Subscription
		if err := json.Unmarshal(ev.Data.Raw, &sub); err != nil {
			return out, fmt.Errorf("unmarshal subscription: %w", err)
		}
		ps := toProcessorSubscription(&sub)
		out.UserID = ps.UserID
		out.CustomerID = ps.CustomerID
		out.SubscriptionID = ps.ID
		out.Status = ps.Status
		out.PeriodEnd = ps.PeriodEnd

	case billing.KindInvoicePaymentFailed, billing.KindInvoicePaymentSucceeded:
		var invoice stripe.Invoice
		if err := json.Unmarshal(ev.Data.Raw, &invoice); err != nil {
			return out, fmt.Errorf("unmarshal invoice: %w", err)
		}
		out.SubscriptionID = subscriptionIDFromInvoice(invoice)
		if invoice.Customer != nil {
			out.CustomerID = invoice.Customer.ID
		}
	}
	return out, nil
}

// subscriptionIDFromInvoice extracts the subscription ID from an invoice's parent.
func subscriptionIDFromInvoice(invoice stripe.Invoice) string {
	if invoice.Parent != nil &&
		invoice.Parent.SubscriptionDetails != nil &&
		invoice.Parent.SubscriptionDetails.Subscription != nil {
		return invoice.Parent.SubscriptionDetails.Subscription.ID
	}
	return ""
}

func toProcessorSubscription(sub *stripe.Subscription) *billing.ProcessorSubscription {
	ps := &billing.ProcessorSubscription{
		ID:        sub.ID,
		UserID:    sub.Metadata[billing.MetadataUserIDKey],
		Status:    string(sub.Status),
		PeriodEnd: currentPeriodEnd(sub),
	}
	if sub.Customer != nil {
		ps.CustomerID = sub.Customer.ID
	}
	return ps
}

// Period bounds live on subscription items; the latest end wins.
func currentPeriodEnd(sub *stripe.Subscription) time.Time {
	var end int64
	if sub.Items != nil {
		for _, item := range sub.Items.Data {
			if item != nil && item.CurrentPeriodEnd > end {
				end = item.CurrentPeriodEnd
			}
		}
	}
	if end == 0 {
		return time.Time{}
	}
	return time.Unix(end, 0).UTC()
}
