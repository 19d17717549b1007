package paypal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

type ClientConfig struct {
	BaseURL      string
	ClientID     string
	ClientSecret string

	// Timeout per attempt, default 15s.
	Timeout time.Duration
	// RetryMax is the number of retries on transport errors and 5xx, default 1.
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
}

// Client talks to the PayPal REST API with client-credential tokens.
type Client struct {
	baseURL string
	creds   *clientcredentials.Config
	http    *http.Client

	mu    sync.Mutex
	token *oauth2.Token
}

func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = 1
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")

	rc := retryablehttp.NewClient()
	rc.RetryMax = cfg.RetryMax
	if cfg.RetryWaitMin > 0 {
		rc.RetryWaitMin = cfg.RetryWaitMin
	}
	if cfg.RetryWaitMax > 0 {
		rc.RetryWaitMax = cfg.RetryWaitMax
	}
	rc.HTTPClient.Timeout = cfg.Timeout
	rc.Logger = retryLogger{}
	// hand the final 5xx to the caller so the provider message survives
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &Client{
		baseURL: baseURL,
		creds: &clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     baseURL + "/v1/oauth2/token",
			AuthStyle:    oauth2.AuthStyleInHeader,
		},
		http: rc.StandardClient(),
	}
}

// GetAccessToken returns a bearer token, fetching a new one once the cached
// token expires. Concurrent callers share one fetch.
func (c *Client) GetAccessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token.Valid() {
		return c.token.AccessToken, nil
	}

	tok, err := c.creds.Token(context.WithValue(ctx, oauth2.HTTPClient, c.http))
	if err != nil {
		return "", fmt.Errorf("paypal access token: %w", err)
	}
	c.token = tok
	return tok.AccessToken, nil
}

func (c *Client) dropToken() {
	c.mu.Lock()
	c.token = nil
	c.mu.Unlock()
}

func (c *Client) GetSubscription(ctx context.Context, id string) (*Subscription, error) {
	if strings.TrimSpace(id) == "" {
		return nil, errors.New("subscription id is required")
	}
	var out Subscription
	if _, err := c.do(ctx, http.MethodGet, "/v1/billing/subscriptions/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetPlan(ctx context.Context, id string) (*Plan, error) {
	if strings.TrimSpace(id) == "" {
		return nil, errors.New("plan id is required")
	}
	var out Plan
	if _, err := c.do(ctx, http.MethodGet, "/v1/billing/plans/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CancelSubscription cancels the subscription at PayPal. Only 204 counts as
// success.
func (c *Client) CancelSubscription(ctx context.Context, id, reason string) error {
	if strings.TrimSpace(id) == "" {
		return errors.New("subscription id is required")
	}
	body := map[string]string{"reason": reason}
	status, err := c.do(ctx, http.MethodPost, "/v1/billing/subscriptions/"+url.PathEscape(id)+"/cancel", body, nil)
	if err != nil {
		return err
	}
	if status != http.StatusNoContent {
		return &APIError{StatusCode: status, Message: "unexpected response to cancel request"}
	}
	log.Infof("[PayPal] subscription %s cancelled at provider", id)
	return nil
}

// CreateSubscription starts a subscription to planID. The buyer approves it
// at the link returned by ApprovalURL and is sent back to returnURL with
// ?subscription_id, or to cancelURL when they abort.
func (c *Client) CreateSubscription(ctx context.Context, planID, returnURL, cancelURL string) (*Subscription, error) {
	if strings.TrimSpace(planID) == "" {
		return nil, errors.New("plan id is required")
	}
	in := subscriptionRequest{
		PlanID: planID,
		ApplicationContext: ApplicationContext{
			UserAction:         "SUBSCRIBE_NOW",
			ShippingPreference: "NO_SHIPPING",
			ReturnURL:          returnURL,
			CancelURL:          cancelURL,
		},
	}
	// the request id makes a retried POST return the first subscription
	hdr := http.Header{}
	hdr.Set("PayPal-Request-Id", uuid.NewString())

	var out Subscription
	if _, err := c.send(ctx, http.MethodPost, "/v1/billing/subscriptions", hdr, in, &out); err != nil {
		return nil, err
	}
	log.Infof("[PayPal] subscription %s created for plan %s", out.ID, planID)
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) (int, error) {
	return c.send(ctx, method, path, nil, in, out)
}

func (c *Client) send(ctx context.Context, method, path string, hdr http.Header, in, out interface{}) (int, error) {
	token, err := c.GetAccessToken(ctx)
	if err != nil {
		return 0, err
	}

	var reader io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return 0, err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, err
	}
	for k, v := range hdr {
		req.Header[k] = v
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("paypal %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode == http.StatusUnauthorized {
		c.dropToken()
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := newAPIError(resp.StatusCode, body)
		log.Warnf("[PayPal] %s %s failed: %v", method, path, apiErr)
		return resp.StatusCode, apiErr
	}

	if out != nil && len(body) > 0 {
		if err := json.Unmarshal(body, out); err != nil {
			return resp.StatusCode, fmt.Errorf("paypal %s %s: decode response: %w", method, path, err)
		}
	}
	return resp.StatusCode, nil
}

// retryLogger routes retryablehttp output to the fiber logger.
type retryLogger struct{}

func (retryLogger) Error(msg string, kv ...interface{}) { log.Errorw("[PayPal] "+msg, kv...) }
func (retryLogger) Info(msg string, kv ...interface{})  { log.Debugw("[PayPal] "+msg, kv...) }
func (retryLogger) Debug(msg string, kv ...interface{}) { log.Debugw("[PayPal] "+msg, kv...) }
func (retryLogger) Warn(msg string, kv ...interface{})  { log.Warnw("[PayPal] "+msg, kv...) }
