package paypal

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePayPal struct {
	tokenHits  int32
	cancelHits int32
	cancelCode []int
	cancelBody string
	lastReason string
	created    subscriptionRequest
	requestID  string
}

func (f *fakePayPal) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&f.tokenHits, 1)
		id, secret, ok := r.BasicAuth()
		if !ok || id != "client" || secret != "secret" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"invalid_client","error_description":"Client Authentication failed"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"A21AAtoken","token_type":"Bearer","expires_in":32400}`))
	})
	mux.HandleFunc("/v1/billing/subscriptions", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer A21AAtoken", r.Header.Get("Authorization"))
		f.requestID = r.Header.Get("PayPal-Request-Id")
		_ = json.NewDecoder(r.Body).Decode(&f.created)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"I-NEW1","status":"APPROVAL_PENDING","links":[
			{"href":"https://www.sandbox.paypal.com/webapps/billing/subscriptions?ba_token=BA-1","rel":"approve","method":"GET"},
			{"href":"https://api-m.sandbox.paypal.com/v1/billing/subscriptions/I-NEW1","rel":"self","method":"GET"}]}`))
	})
	mux.HandleFunc("/v1/billing/subscriptions/I-SUB1", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer A21AAtoken", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"id":"I-SUB1","status":"ACTIVE","plan_id":"P-PLAN1",
			"subscriber":{"email_address":"buyer@example.com","name":{"given_name":"Ana","surname":"Lopez"}}}`))
	})
	mux.HandleFunc("/v1/billing/plans/P-PLAN1", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"P-PLAN1","name":"Monthly","billing_cycles":[
			{"tenure_type":"TRIAL","sequence":1,"frequency":{"interval_unit":"DAY","interval_count":7},"pricing_scheme":{"fixed_price":{"value":"0","currency_code":"USD"}}},
			{"tenure_type":"REGULAR","sequence":2,"frequency":{"interval_unit":"MONTH","interval_count":1},"pricing_scheme":{"fixed_price":{"value":"100.00","currency_code":"USD"}}}],
			"taxes":{"percentage":"16","inclusive":false}}`))
	})
	mux.HandleFunc("/v1/billing/subscriptions/I-SUB1/cancel", func(w http.ResponseWriter, r *http.Request) {
		n := int(atomic.AddInt32(&f.cancelHits, 1))
		var in map[string]string
		_ = json.NewDecoder(r.Body).Decode(&in)
		f.lastReason = in["reason"]

		code := http.StatusNoContent
		if n <= len(f.cancelCode) {
			code = f.cancelCode[n-1]
		}
		if code != http.StatusNoContent {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(code)
			_, _ = w.Write([]byte(f.cancelBody))
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	return mux
}

func newTestClient(t *testing.T, fake *fakePayPal, secret string) *Client {
	t.Helper()
	srv := httptest.NewServer(fake.handler(t))
	t.Cleanup(srv.Close)
	return NewClient(ClientConfig{
		BaseURL:      srv.URL + "/",
		ClientID:     "client",
		ClientSecret: secret,
		Timeout:      2 * time.Second,
		RetryWaitMin: time.Millisecond,
		RetryWaitMax: 5 * time.Millisecond,
	})
}

func TestClient_AccessTokenIsCached(t *testing.T) {
	fake := &fakePayPal{}
	c := newTestClient(t, fake, "secret")

	tok, err := c.GetAccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "A21AAtoken", tok)

	_, err = c.GetSubscription(context.Background(), "I-SUB1")
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&fake.tokenHits))
}

func TestClient_AccessTokenHonoursContext(t *testing.T) {
	fake := &fakePayPal{}
	c := newTestClient(t, fake, "secret")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.GetAccessToken(ctx)
	require.Error(t, err)
	assert.Equal(t, int32(0), atomic.LoadInt32(&fake.tokenHits))

	tok, err := c.GetAccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "A21AAtoken", tok)
}

func TestClient_CreateSubscription(t *testing.T) {
	fake := &fakePayPal{}
	c := newTestClient(t, fake, "secret")

	sub, err := c.CreateSubscription(context.Background(), "P-PLAN1",
		"https://shop.example.com/sale/success", "https://shop.example.com/sale/error")
	require.NoError(t, err)
	assert.Equal(t, "I-NEW1", sub.ID)
	assert.Equal(t, "https://www.sandbox.paypal.com/webapps/billing/subscriptions?ba_token=BA-1", sub.ApprovalURL())

	assert.Equal(t, "P-PLAN1", fake.created.PlanID)
	assert.Equal(t, "https://shop.example.com/sale/success", fake.created.ApplicationContext.ReturnURL)
	assert.Equal(t, "https://shop.example.com/sale/error", fake.created.ApplicationContext.CancelURL)
	assert.Equal(t, "SUBSCRIBE_NOW", fake.created.ApplicationContext.UserAction)
	assert.NotEmpty(t, fake.requestID)

	_, err = c.CreateSubscription(context.Background(), " ", "", "")
	assert.Error(t, err)
}

func TestClient_GetSubscriptionAndPlan(t *testing.T) {
	c := newTestClient(t, &fakePayPal{}, "secret")

	sub, err := c.GetSubscription(context.Background(), "I-SUB1")
	require.NoError(t, err)
	assert.Equal(t, "P-PLAN1", sub.PlanID)
	assert.Equal(t, "buyer@example.com", sub.Subscriber.EmailAddress)
	assert.True(t, sub.IsUsable())

	plan, err := c.GetPlan(context.Background(), sub.PlanID)
	require.NoError(t, err)
	cycle, ok := plan.RegularCycle()
	require.True(t, ok)
	assert.Equal(t, "MONTH", cycle.Frequency.IntervalUnit)
	assert.Equal(t, "100.00", cycle.PricingScheme.FixedPrice.Value)
	require.NotNil(t, plan.Taxes)
	assert.Equal(t, "16", plan.Taxes.Percentage)
}

func TestClient_CancelSubscription(t *testing.T) {
	fake := &fakePayPal{}
	c := newTestClient(t, fake, "secret")

	require.NoError(t, c.CancelSubscription(context.Background(), "I-SUB1", "Not satisfied with the service"))
	assert.Equal(t, "Not satisfied with the service", fake.lastReason)
}

func TestClient_CancelSubscriptionProviderError(t *testing.T) {
	fake := &fakePayPal{
		cancelCode: []int{http.StatusUnprocessableEntity},
		cancelBody: `{"name":"UNPROCESSABLE_ENTITY","message":"The requested action could not be performed.","debug_id":"f1e2"}`,
	}
	c := newTestClient(t, fake, "secret")

	err := c.CancelSubscription(context.Background(), "I-SUB1", "bye")
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnprocessableEntity, apiErr.StatusCode)
	assert.Equal(t, "The requested action could not be performed.", UserMessage(err))
	assert.Equal(t, int32(1), atomic.LoadInt32(&fake.cancelHits))
}

func TestClient_CancelRetriesOnceOnServerError(t *testing.T) {
	fake := &fakePayPal{
		cancelCode: []int{http.StatusServiceUnavailable},
		cancelBody: `{"name":"SERVICE_UNAVAILABLE"}`,
	}
	c := newTestClient(t, fake, "secret")

	require.NoError(t, c.CancelSubscription(context.Background(), "I-SUB1", "bye"))
	assert.Equal(t, int32(2), atomic.LoadInt32(&fake.cancelHits))
}

func TestClient_CancelGivesUpAfterOneRetry(t *testing.T) {
	fake := &fakePayPal{
		cancelCode: []int{http.StatusBadGateway, http.StatusBadGateway, http.StatusBadGateway},
		cancelBody: `{"message":"upstream failure"}`,
	}
	c := newTestClient(t, fake, "secret")

	err := c.CancelSubscription(context.Background(), "I-SUB1", "bye")
	require.Error(t, err)
	assert.Equal(t, "upstream failure", UserMessage(err))
	assert.Equal(t, int32(2), atomic.LoadInt32(&fake.cancelHits))
}

func TestClient_BadCredentials(t *testing.T) {
	c := newTestClient(t, &fakePayPal{}, "wrong")

	err := c.CancelSubscription(context.Background(), "I-SUB1", "bye")
	require.Error(t, err)
	assert.Equal(t, "Client Authentication failed", UserMessage(err))
}

func TestClient_RequiresID(t *testing.T) {
	c := NewClient(ClientConfig{BaseURL: "http://127.0.0.1:1"})

	_, err := c.GetSubscription(context.Background(), " ")
	assert.Error(t, err)
	_, err = c.GetPlan(context.Background(), "")
	assert.Error(t, err)
	assert.Error(t, c.CancelSubscription(context.Background(), "", "x"))
}

func TestUserMessage(t *testing.T) {
	assert.Equal(t, "", UserMessage(nil))
	assert.Equal(t, "denied", UserMessage(&APIError{StatusCode: 400, Code: "x", Description: "denied"}))
	assert.Equal(t, "Not Found", UserMessage(&APIError{StatusCode: 404}))
	assert.Contains(t, UserMessage(context.DeadlineExceeded), "not reachable")
}
