package carrier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// defaultBaseURL is the carrier REST API endpoint.
const defaultBaseURL = "https://api.twilio.com"

// RestClient performs call control and messaging against the carrier REST
// API. It is safe for concurrent use.
type RestClient struct {
	accountSID string
	authToken  string
	baseURL    string
	httpClient *http.Client
}

// Option configures a [RestClient].
type Option func(*RestClient)

// WithBaseURL overrides the REST endpoint. Used in tests.
func WithBaseURL(u string) Option {
	return func(c *RestClient) {
		c.baseURL = strings.TrimSuffix(u, "/")
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *RestClient) {
		c.httpClient = hc
	}
}

// NewRestClient creates a carrier REST client authenticated with the account
// SID and auth token.
func NewRestClient(accountSID, authToken string, opts ...Option) (*RestClient, error) {
	if accountSID == "" || authToken == "" {
		return nil, errors.New("carrier: account SID and auth token are required")
	}
	c := &RestClient{
		accountSID: accountSID,
		authToken:  authToken,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Hangup ends the call by updating its status to completed.
func (c *RestClient) Hangup(ctx context.Context, callSid string) error {
	if callSid == "" {
		return errors.New("carrier: call SID must not be empty")
	}
	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Calls/%s.json", c.baseURL, c.accountSID, callSid)
	form := url.Values{"Status": {"completed"}}

	if err := c.postForm(ctx, endpoint, form, nil); err != nil {
		return fmt.Errorf("carrier: hangup %s: %w", callSid, err)
	}
	return nil
}

// SendSMS sends a text message and returns the message SID.
func (c *RestClient) SendSMS(ctx context.Context, to, from, body string) (string, error) {
	if to == "" || from == "" {
		return "", errors.New("carrier: sms needs both to and from numbers")
	}
	if body == "" {
		return "", errors.New("carrier: sms body must not be empty")
	}
	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", c.baseURL, c.accountSID)
	form := url.Values{
		"To":   {to},
		"From": {from},
		"Body": {body},
	}

	var resp struct {
		Sid string `json:"sid"`
	}
	if err := c.postForm(ctx, endpoint, form, &resp); err != nil {
		return "", fmt.Errorf("carrier: send sms to %s: %w", to, err)
	}
	return resp.Sid, nil
}

// postForm issues an authenticated form POST and decodes the JSON response
// into out when non-nil.
func (c *RestClient) postForm(ctx context.Context, endpoint string, form url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(c.accountSID, c.authToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &statusError{code: resp.StatusCode, body: truncate(string(body), 200)}
	}
	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// statusError reports a non-2xx response from the carrier API.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.code, e.body)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
