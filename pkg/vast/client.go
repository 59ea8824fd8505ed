package vast

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL       = "https://console.vast.ai"
	DefaultServerlessURL = "https://run.vast.ai"
	DefaultTimeout       = 30 * time.Second
	DefaultRetries       = 3

	apiPrefix      = "/api/v0"
	defaultBackoff = 150 * time.Millisecond
)

// RequestObserver is called once per HTTP attempt. status is 0 when the
// attempt failed before a response arrived.
type RequestObserver func(method, path string, status int, elapsed time.Duration)

// Client talks to the marketplace REST API.
type Client struct {
	apiKey        string
	baseURL       string
	serverlessURL string
	httpClient    *http.Client
	timeout       time.Duration

	retries  int
	backoff  time.Duration
	limiter  *rate.Limiter
	logger   *slog.Logger
	observer RequestObserver
	validate *validator.Validate
}

// ClientOption configures the client
type ClientOption func(*Client)

// WithBaseURL sets a custom base URL (for testing)
func WithBaseURL(u string) ClientOption {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(u, "/")
	}
}

// WithServerlessURL sets the host serving endpoint and worker group logs
func WithServerlessURL(u string) ClientOption {
	return func(c *Client) {
		c.serverlessURL = strings.TrimRight(u, "/")
	}
}

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithTimeout bounds each attempt, including reading the response body.
// Zero or negative disables the bound.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithRetries sets how many extra attempts are made on transient failures
func WithRetries(n int) ClientOption {
	return func(c *Client) {
		if n < 0 {
			n = 0
		}
		c.retries = n
	}
}

// WithBackoff sets the base delay between retries
func WithBackoff(d time.Duration) ClientOption {
	return func(c *Client) {
		c.backoff = d
	}
}

// WithMinInterval sets the minimum interval between requests
func WithMinInterval(d time.Duration) ClientOption {
	return func(c *Client) {
		if d <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		c.limiter = rate.NewLimiter(rate.Every(d), 1)
	}
}

// WithLogger sets the logger used for request tracing
func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = l
	}
}

// WithObserver registers a hook called after every attempt
func WithObserver(o RequestObserver) ClientOption {
	return func(c *Client) {
		c.observer = o
	}
}

// NewClient creates a new API client. apiKey may be empty for the few
// endpoints that allow anonymous access.
func NewClient(apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		apiKey:        apiKey,
		baseURL:       DefaultBaseURL,
		serverlessURL: DefaultServerlessURL,
		httpClient:    &http.Client{},
		timeout:       DefaultTimeout,
		retries:       DefaultRetries,
		backoff:       defaultBackoff,
		limiter:       rate.NewLimiter(rate.Inf, 1),
		validate:      newValidator(),
	}

	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}

	return c
}

// BaseURL returns the API host
func (c *Client) BaseURL() string {
	return c.baseURL
}

type request struct {
	method    string
	path      string
	query     url.Values
	body      any
	anonymous bool
	absolute  bool // path is a full URL
}

// Do sends an authenticated request to path (relative to the API root) and
// decodes the JSON response into out. out may be nil.
func (c *Client) Do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	return c.send(ctx, request{method: method, path: path, query: query, body: body}, out)
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	return c.send(ctx, request{method: http.MethodGet, path: path, query: query}, out)
}

func (c *Client) put(ctx context.Context, path string, body, out any) error {
	return c.send(ctx, request{method: http.MethodPut, path: path, body: body}, out)
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	return c.send(ctx, request{method: http.MethodPost, path: path, body: body}, out)
}

func (c *Client) delete(ctx context.Context, path string, body, out any) error {
	return c.send(ctx, request{method: http.MethodDelete, path: path, body: body}, out)
}

func (c *Client) resolve(r request) string {
	var u string
	switch {
	case r.absolute:
		u = r.path
	case strings.HasSuffix(c.baseURL, apiPrefix):
		u = c.baseURL + r.path
	default:
		u = c.baseURL + apiPrefix + r.path
	}
	if len(r.query) > 0 {
		sep := "?"
		if strings.Contains(u, "?") {
			sep = "&"
		}
		u += sep + r.query.Encode()
	}
	return u
}

func (c *Client) send(ctx context.Context, r request, out any) error {
	if !r.anonymous && c.apiKey == "" {
		return ErrNoAPIKey
	}

	var payload []byte
	if r.body != nil {
		var err error
		payload, err = json.Marshal(r.body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
	}

	reqURL := c.resolve(r)
	requestID := uuid.NewString()
	log := c.logger.With("request_id", requestID, "method", r.method, "path", r.path)

	for attempt := 0; ; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		log.Debug("api request", "url", redactURL(reqURL), "attempt", attempt+1, "body", string(payload))
		start := time.Now()
		status, data, err := c.roundTrip(ctx, r, reqURL, requestID, payload)
		elapsed := time.Since(start)
		var buildErr *requestBuildError
		if errors.As(err, &buildErr) {
			return buildErr.err
		}
		if c.observer != nil {
			c.observer(r.method, r.path, status, elapsed)
		}

		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			log.Debug("api request failed", "error", err, "elapsed", elapsed)
			if attempt < c.retries && transient(err) {
				if err := c.sleep(ctx, attempt); err != nil {
					return err
				}
				continue
			}
			return &NetworkError{Method: r.method, Path: r.path, Attempts: attempt + 1, Err: err}
		}

		log.Debug("api response", "status", status, "elapsed", elapsed, "bytes", len(data))

		if status < 200 || status > 299 {
			if attempt < c.retries && retryableStatus(r.method, status) {
				if err := c.sleep(ctx, attempt); err != nil {
					return err
				}
				continue
			}
			return newAPIError(r.method, r.path, status, data)
		}

		return decode(data, out)
	}
}

// requestBuildError marks a failure to construct the request. Nothing was
// sent, and sending again cannot help.
type requestBuildError struct {
	err error
}

func (e *requestBuildError) Error() string {
	return e.err.Error()
}

func (c *Client) roundTrip(ctx context.Context, r request, reqURL, requestID string, payload []byte) (int, []byte, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, r.method, reqURL, body)
	if err != nil {
		return 0, nil, &requestBuildError{err: fmt.Errorf("failed to create request: %w", err)}
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" && !r.absolute {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("failed to read response: %w", err)
	}
	return resp.StatusCode, data, nil
}

func (c *Client) sleep(ctx context.Context, attempt int) error {
	d := time.Duration(float64(c.backoff) * math.Pow(1.5, float64(attempt)))
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// transient reports whether a transport error may succeed on retry.
// Certificate failures never will.
func transient(err error) bool {
	var certErr *tls.CertificateVerificationError
	if errors.As(err, &certErr) {
		return false
	}
	return !errors.Is(err, context.Canceled)
}

func decode(data []byte, out any) error {
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return nil
}

// redactURL strips the api_key query parameter some endpoints still accept.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	if q.Has("api_key") {
		q.Set("api_key", "REDACTED")
		u.RawQuery = q.Encode()
	}
	return u.String()
}

// Validate runs struct validation on a request body and converts the first
// failure into a ValidationError.
func (c *Client) Validate(v any) error {
	err := c.validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return &ValidationError{Field: jsonFieldName(fe), Message: describeTag(fe)}
	}
	return &ValidationError{Message: err.Error()}
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func jsonFieldName(fe validator.FieldError) string {
	return fe.Field()
}

func describeTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "gt":
		return "must be greater than " + fe.Param()
	case "gte":
		return "must be at least " + fe.Param()
	case "lte":
		return "must be at most " + fe.Param()
	case "oneof":
		return "must be one of: " + fe.Param()
	case "email":
		return "must be a valid email address"
	default:
		return fmt.Sprintf("failed %q check", fe.Tag())
	}
}
