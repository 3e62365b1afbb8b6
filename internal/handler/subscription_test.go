package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukerupert/ideacapture/internal/billing"
	billingstripe "github.com/dukerupert/ideacapture/internal/billing/stripe"
	"github.com/dukerupert/ideacapture/internal/database"
	"github.com/dukerupert/ideacapture/internal/model"
	"github.com/dukerupert/ideacapture/internal/quota"
	"github.com/dukerupert/ideacapture/internal/store"
)

func newSubscriptionHandler(t *testing.T) (*SubscriptionHandler, *store.SnapshotStore, *recordingMetrics) {
	t.Helper()
	ss := newTestStore(t)
	m := newRecordingMetrics()
	return NewSubscriptionHandler(quota.NewGate(ss), ss, m, discardLogger()), ss, m
}

func checkRequest(action string) *http.Request {
	req := authed("POST", "/api/quota/"+action, "")
	req.SetPathValue("action", action)
	return req
}

func TestGetSubscriptionCreatesFreeDefault(t *testing.T) {
	h, ss, _ := newSubscriptionHandler(t)

	rec := httptest.NewRecorder()
	h.Get(rec, authed("GET", "/api/subscription", ""))
	require.Equal(t, http.StatusOK, rec.Code)

	env := decodeEnvelope(t, rec)
	require.True(t, env.Success)

	var body subscriptionResponse
	require.NoError(t, json.Unmarshal(env.Data, &body))
	assert.Equal(t, model.TierFree, body.Subscription.Tier)
	assert.Equal(t, model.StatusActive, body.Subscription.Status)
	assert.True(t, body.Limits.CanCreateIdea)
	assert.False(t, body.Limits.CanUseValidation)
	assert.Equal(t, 10, body.Limits.MaxIdeas)
	assert.Equal(t, 3, body.TierLimits.MaxRefinementQuestions)
	assert.Equal(t, 2, body.TierLimits.MaxRecordingMinutes)

	snap, err := ss.Get(context.Background(), testUserID)
	require.NoError(t, err)
	assert.NotNil(t, snap)
}

func TestCheckQuotaAllowed(t *testing.T) {
	h, _, m := newSubscriptionHandler(t)

	rec := httptest.NewRecorder()
	h.Check(rec, checkRequest("create_idea"))
	require.Equal(t, http.StatusOK, rec.Code)

	var d quota.Decision
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &d))
	assert.True(t, d.CanCreateIdea)
	assert.Empty(t, m.denials)
}

func TestCheckQuotaFreeLimitReached(t *testing.T) {
	h, ss, m := newSubscriptionHandler(t)
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		_, err := ss.IncrementIdeas(ctx, testUserID)
		require.NoError(t, err)
	}

	rec := httptest.NewRecorder()
	h.Check(rec, checkRequest("create_idea"))
	require.Equal(t, http.StatusForbidden, rec.Code)

	env := decodeEnvelope(t, rec)
	assert.False(t, env.Success)
	assert.Contains(t, env.Error, "idea limit reached")

	var le quota.LimitError
	require.NoError(t, json.Unmarshal(env.Limit, &le))
	assert.Equal(t, "max_ideas", le.Limit)
	assert.Equal(t, 10, le.Current)
	assert.Equal(t, 10, le.Max)
	assert.Equal(t, model.TierFree, le.Tier)
	assert.Equal(t, 1, m.denials["create_idea"])
}

func TestCheckQuotaValidationNeedsPro(t *testing.T) {
	h, ss, m := newSubscriptionHandler(t)
	ctx := context.Background()
	for i := 0; i < 7; i++ {
		_, err := ss.IncrementIdeas(ctx, testUserID)
		require.NoError(t, err)
	}

	rec := httptest.NewRecorder()
	h.Check(rec, checkRequest("validation"))
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, 1, m.denials["validation"])

	var le quota.LimitError
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Limit, &le))
	assert.Equal(t, "validation", le.Limit)
	assert.Equal(t, 7, le.Current)
	assert.Equal(t, 10, le.Max)
	assert.Equal(t, model.TierFree, le.Tier)
}

func TestCheckQuotaUnknownAction(t *testing.T) {
	h, _, _ := newSubscriptionHandler(t)

	rec := httptest.NewRecorder()
	h.Check(rec, checkRequest("teleport"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func ideasCount(t *testing.T, rec *httptest.ResponseRecorder) int {
	t.Helper()
	var body map[string]int
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &body))
	return body["ideas_count"]
}

func TestUsageCounters(t *testing.T) {
	h, _, _ := newSubscriptionHandler(t)

	for want := 1; want <= 3; want++ {
		rec := httptest.NewRecorder()
		h.IdeaCreated(rec, authed("POST", "/api/usage/ideas", ""))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, want, ideasCount(t, rec))
	}

	rec := httptest.NewRecorder()
	h.IdeaDeleted(rec, authed("DELETE", "/api/usage/ideas", ""))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, ideasCount(t, rec))

	rec = httptest.NewRecorder()
	h.IdeasCleared(rec, authed("DELETE", "/api/usage/ideas/all", ""))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, ideasCount(t, rec))

	rec = httptest.NewRecorder()
	h.IdeaDeleted(rec, authed("DELETE", "/api/usage/ideas", ""))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, ideasCount(t, rec))
}

func TestUsageCounterFailure(t *testing.T) {
	db, err := database.Open(":memory:")
	require.NoError(t, err)
	ss := store.NewSnapshotStore(db)
	db.Close()

	m := newRecordingMetrics()
	h := NewSubscriptionHandler(quota.NewGate(ss), ss, m, discardLogger())

	rec := httptest.NewRecorder()
	h.IdeaCreated(rec, authed("POST", "/api/usage/ideas", ""))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, 1, m.writeFailures["counter"])
}

// A user on the free plan completes checkout; the webhook lands and the
// gate immediately reflects the pro tier.
func TestNewProSignup(t *testing.T) {
	ss := newTestStore(t)
	m := newRecordingMetrics()
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_, err := ss.IncrementIdeas(ctx, testUserID)
		require.NoError(t, err)
	}

	subH := NewSubscriptionHandler(quota.NewGate(ss), ss, m, discardLogger())
	rec := httptest.NewRecorder()
	subH.Check(rec, checkRequest("create_idea"))
	require.Equal(t, http.StatusForbidden, rec.Code)

	fetcher := &fakeFetcher{subs: map[string]*billing.ProcessorSubscription{
		"sub_1": {ID: "sub_1", CustomerID: "cus_1", UserID: testUserID, Status: "active", PeriodEnd: testPeriodEnd},
	}}
	client := billingstripe.NewClient(billingstripe.Config{WebhookSecret: webhookSecret})
	webhookH := NewWebhookHandler(client, billing.NewSynchronizer(fetcher, ss, m, discardLogger()), m, discardLogger())

	rec = httptest.NewRecorder()
	webhookH.HandleStripeWebhook(rec, signedRequest(checkoutPayload(time.Now().Unix()), webhookSecret))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	subH.Get(rec, authed("GET", "/api/subscription", ""))
	require.Equal(t, http.StatusOK, rec.Code)

	var body subscriptionResponse
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &body))
	assert.Equal(t, model.TierPro, body.Subscription.Tier)
	assert.Equal(t, 10, body.Subscription.IdeasCount)
	assert.True(t, body.Limits.CanCreateIdea)
	assert.True(t, body.Limits.CanUseValidation)
	assert.Equal(t, quota.Unlimited, body.Limits.MaxIdeas)

	for _, action := range []string{"create_idea", "refinement", "validation"} {
		rec = httptest.NewRecorder()
		subH.Check(rec, checkRequest(action))
		assert.Equal(t, http.StatusOK, rec.Code, action)
	}
}
