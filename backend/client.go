// Package backend is the HTTP collaborator for the forum API. Every call is
// bearer authorized and fails with a *CallError.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/longanisha/Mahidol-Forum-sub000/internal/logging"
	"github.com/longanisha/Mahidol-Forum-sub000/internal/tracing"
	"github.com/longanisha/Mahidol-Forum-sub000/profiles"
	"github.com/longanisha/Mahidol-Forum-sub000/sessions"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultTimeout  = 10 * time.Second
	maxResponseSize = 1 << 20

	// DefaultProfilePath is where the forum API mounts the profile router.
	DefaultProfilePath = "/points/profile"
)

var _ profiles.Fetcher = (*Client)(nil)

type Client struct {
	baseURL     *url.URL
	profilePath string
	httpClient  *http.Client
	logger      zerolog.Logger
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithProfilePath overrides the path of the profile endpoints, relative to
// the base url.
func WithProfilePath(p string) Option {
	return func(c *Client) {
		p = strings.TrimSpace(p)
		if p == "" {
			return
		}
		if !strings.HasPrefix(p, "/") {
			p = "/" + p
		}
		c.profilePath = strings.TrimRight(p, "/")
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

func NewClient(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("[backend NewClient] parse base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("[backend NewClient] base url %q must be absolute", baseURL)
	}
	c := &Client{
		baseURL:     u,
		profilePath: DefaultProfilePath,
		httpClient:  &http.Client{Timeout: defaultTimeout},
		logger:      logging.Component("backend"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Do sends one request and returns the raw response body of a 2xx answer.
// body, when not nil, is sent as JSON.
func (c *Client) Do(ctx context.Context, method, path, bearer string, body interface{}) ([]byte, error) {
	ctx, span := tracing.StartSpan(ctx, "backend "+method+" "+path,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("http.method", method), attribute.String("http.route", path)))
	defer span.End()

	fail := func(kind Kind, status int, detail string, fields []FieldError, err error) error {
		callErr := &CallError{Kind: kind, Status: status, Method: method, Path: path, Detail: detail, Fields: fields, Err: err}
		span.RecordError(callErr)
		span.SetStatus(codes.Error, string(kind))
		return callErr
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fail(KindOther, 0, "encode request", nil, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.String()+path, reader)
	if err != nil {
		return nil, fail(KindOther, 0, "build request", nil, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	tracing.Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug().Err(err).Str("method", method).Str("path", path).Msg("backend unreachable")
		return nil, fail(KindNetwork, 0, "", nil, err)
	}
	defer resp.Body.Close()
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fail(KindNetwork, resp.StatusCode, "read response", nil, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, fields := parseErrorBody(data)
		kind := KindForStatus(resp.StatusCode)
		c.logger.Debug().Int("status", resp.StatusCode).Str("kind", string(kind)).Str("path", path).Msg("backend call failed")
		return nil, fail(kind, resp.StatusCode, detail, fields, nil)
	}
	return data, nil
}

// ProfilePath returns the path the profile endpoints are called on.
func (c *Client) ProfilePath() string {
	return c.profilePath
}

// Call is Do plus JSON decoding of the response into out (skipped when nil).
func (c *Client) Call(ctx context.Context, method, path, bearer string, body, out interface{}) error {
	data, err := c.Do(ctx, method, path, bearer, body)
	if err != nil {
		return err
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &CallError{Kind: KindOther, Method: method, Path: path, Detail: "decode response", Err: err}
	}
	return nil
}

// GetProfile reads the signed in user's profile. Payloads that do not match
// the profile schema fail with KindValidation.
func (c *Client) GetProfile(ctx context.Context, bearer string) (*profiles.Profile, error) {
	data, err := c.Do(ctx, http.MethodGet, c.profilePath, bearer, nil)
	if err != nil {
		return nil, err
	}
	return c.decodeProfile(http.MethodGet, data)
}

func (c *Client) FetchProfile(ctx context.Context, session *sessions.Session) (*profiles.Profile, error) {
	if session == nil {
		return nil, &CallError{Kind: KindUnauthorized, Method: http.MethodGet, Path: c.profilePath, Detail: "no session"}
	}
	return c.GetProfile(ctx, session.AccessToken)
}

// UpdateProfile sends the user editable part of patch and returns the
// profile the backend stored.
func (c *Client) UpdateProfile(ctx context.Context, session *sessions.Session, patch profiles.Patch) (*profiles.Profile, error) {
	if session == nil {
		return nil, &CallError{Kind: KindUnauthorized, Method: http.MethodPatch, Path: c.profilePath, Detail: "no session"}
	}
	data, err := c.Do(ctx, http.MethodPatch, c.profilePath, session.AccessToken, patch.Editable())
	if err != nil {
		return nil, err
	}
	return c.decodeProfile(http.MethodPatch, data)
}

func (c *Client) decodeProfile(method string, data []byte) (*profiles.Profile, error) {
	p, err := profiles.DecodeRemote(data)
	if err != nil {
		return nil, &CallError{Kind: KindValidation, Status: http.StatusOK, Method: method, Path: c.profilePath, Detail: "unexpected profile payload", Err: err}
	}
	return p, nil
}
