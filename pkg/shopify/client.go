// Package shopify talks to the Shopify Admin GraphQL API and adapts it to
// the remote entity store used by the sync resolver.
package shopify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/b2b-sync/internal/resilience"
)

const defaultAPIVersion = "2024-10"

// Client executes GraphQL operations against the Admin API.
type Client interface {
	// Do runs query with vars and decodes the data object into out.
	Do(ctx context.Context, query string, vars map[string]any, out any) error
}

// APIError is returned when Shopify responds with a non-2xx status.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("shopify: HTTP %d: %s", e.StatusCode, e.Body)
}

// GraphQLError is one entry of a top-level "errors" array.
type GraphQLError struct {
	Message    string `json:"message"`
	Extensions struct {
		Code string `json:"code"`
	} `json:"extensions"`
}

// GraphQLErrors is a non-empty top-level "errors" array.
type GraphQLErrors []GraphQLError

func (e GraphQLErrors) Error() string {
	if len(e) == 1 {
		return "shopify: graphql: " + e[0].Message
	}
	return fmt.Sprintf("shopify: graphql: %s (and %d more)", e[0].Message, len(e)-1)
}

// Throttled reports whether any error carries the THROTTLED code.
func (e GraphQLErrors) Throttled() bool {
	for _, ge := range e {
		if ge.Extensions.Code == "THROTTLED" {
			return true
		}
	}
	return false
}

// Option configures the httpClient.
type Option func(*httpClient)

// WithBaseURL overrides the shop endpoint, e.g. for tests.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.endpoint = url
	}
}

// WithHTTPClient sets a custom *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithAPIVersion pins the Admin API version.
func WithAPIVersion(v string) Option {
	return func(c *httpClient) {
		c.apiVersion = v
	}
}

// WithRateLimit caps requests per second. Zero or less disables limiting.
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) {
		if rps <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		burst := int(rps)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

type httpClient struct {
	shopDomain  string
	accessToken string
	apiVersion  string
	endpoint    string
	http        *http.Client
	limiter     *rate.Limiter
}

// NewClient creates a Client for the given shop domain
// ("example.myshopify.com") and Admin API access token.
func NewClient(shopDomain, accessToken string, opts ...Option) Client {
	c := &httpClient{
		shopDomain:  shopDomain,
		accessToken: accessToken,
		apiVersion:  defaultAPIVersion,
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: rate.NewLimiter(2, 2),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.endpoint == "" {
		c.endpoint = fmt.Sprintf("https://%s/admin/api/%s/graphql.json", c.shopDomain, c.apiVersion)
	}
	return c
}

type gqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type gqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors GraphQLErrors   `json:"errors"`
}

// Do sends one GraphQL request. 429, 5xx and THROTTLED responses come back
// wrapped in resilience.TransientError.
func (c *httpClient) Do(ctx context.Context, query string, vars map[string]any, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return eris.Wrap(err, "shopify: rate limiter wait")
	}

	body, err := json.Marshal(gqlRequest{Query: query, Variables: vars})
	if err != nil {
		return eris.Wrap(err, "shopify: marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return eris.Wrap(err, "shopify: create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Shopify-Access-Token", c.accessToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "shopify: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrap(err, "shopify: read response")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return resilience.NewTransientError(apiErr, resp.StatusCode)
		}
		return apiErr
	}

	var envelope gqlResponse
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return eris.Wrap(err, "shopify: decode response")
	}
	if len(envelope.Errors) > 0 {
		if envelope.Errors.Throttled() {
			zap.L().Warn("shopify: throttled", zap.String("message", envelope.Errors[0].Message))
			return resilience.NewTransientError(envelope.Errors, http.StatusTooManyRequests)
		}
		return envelope.Errors
	}

	if out == nil || len(envelope.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return eris.Wrap(err, "shopify: decode data")
	}
	return nil
}
