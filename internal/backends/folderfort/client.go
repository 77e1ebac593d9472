// Package folderfort implements cloud.Service against the Folderfort REST
// API.
package folderfort

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/nadalpiantini/omnidrive/pkg/cloud"
	"github.com/pkg/errors"
)

const (
	ServiceName    = "folderfort"
	DefaultBaseURL = "https://na3.folderfort.com/api/v1"
	TokenName      = "omnidrive-cli"

	maxPerPage = 100
)

type Option func(*Service)

func WithBaseURL(url string) Option {
	return func(s *Service) { s.baseURL = strings.TrimRight(url, "/") }
}

func WithHTTPClient(c *http.Client) Option {
	return func(s *Service) { s.client = c }
}

// WithCache keeps list results for ttl in a cache shared by every instance
// built with this option. Mutations clear it.
func WithCache(ttl time.Duration) Option {
	cache := cloud.NewListCache(ttl)
	return func(s *Service) { s.cache = cache }
}

// WithRetryBudget bounds retries of idempotent requests that hit 429 or
// 5xx responses. Zero disables retries.
func WithRetryBudget(d time.Duration) Option {
	return func(s *Service) { s.retryBudget = d }
}

// Service talks to one Folderfort account with a bearer token.
type Service struct {
	baseURL     string
	token       string
	client      *http.Client
	cache       *cloud.ListCache
	retryBudget time.Duration
}

func New(token string, opts ...Option) *Service {
	s := &Service{
		baseURL:     DefaultBaseURL,
		token:       token,
		client:      &http.Client{Timeout: 5 * time.Minute},
		retryBudget: 20 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Constructor registers the backend with a cloud.Factory.
func Constructor(opts ...Option) cloud.Constructor {
	return func(token string) (cloud.Service, error) {
		return New(token, opts...), nil
	}
}

func (s *Service) Name() string { return ServiceName }

func (s *Service) IsAuthenticated() bool { return s.token != "" }

type apiError struct {
	status  int
	message string
}

func (e *apiError) Error() string {
	if e.message == "" {
		return fmt.Sprintf("HTTP %d", e.status)
	}
	return fmt.Sprintf("HTTP %d: %s", e.status, e.message)
}

func retryable(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

// request describes one API call. body is re-read on every attempt.
type request struct {
	method      string
	path        string
	query       map[string][]string
	body        []byte
	contentType string
	auth        bool
	idempotent  bool
}

// do sends req and decodes a 2xx response into out. It returns the final
// status code together with any error.
func (s *Service) do(ctx context.Context, req request, out any) (int, error) {
	if req.auth && s.token == "" {
		return 0, cloud.NewAuthError(ServiceName, "Not authenticated with Folderfort")
	}

	var status int
	op := func() error {
		httpReq, err := s.newRequest(ctx, req)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := s.client.Do(httpReq)
		if err != nil {
			if ctx.Err() != nil || !req.idempotent {
				return backoff.Permanent(err)
			}
			return err
		}
		defer resp.Body.Close()
		status = resp.StatusCode

		if status >= 200 && status < 300 {
			if out == nil {
				return nil
			}
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return backoff.Permanent(errors.Wrap(err, "decode response"))
			}
			return nil
		}
		apiErr := &apiError{status: status, message: readMessage(resp.Body)}
		if req.idempotent && retryable(status) {
			return apiErr
		}
		return backoff.Permanent(apiErr)
	}

	var policy backoff.BackOff = &backoff.StopBackOff{}
	if req.idempotent && s.retryBudget > 0 {
		eb := backoff.NewExponentialBackOff()
		eb.MaxElapsedTime = s.retryBudget
		policy = eb
	}
	err := backoff.Retry(op, backoff.WithContext(policy, ctx))
	return status, err
}

func (s *Service) newRequest(ctx context.Context, req request) (*http.Request, error) {
	url := s.baseURL + "/" + strings.TrimLeft(req.path, "/")
	var body io.Reader
	if req.body != nil {
		body = bytes.NewReader(req.body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.method, url, body)
	if err != nil {
		return nil, err
	}
	if len(req.query) > 0 {
		q := httpReq.URL.Query()
		for k, vs := range req.query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		httpReq.URL.RawQuery = q.Encode()
	}
	httpReq.Header.Set("Accept", "application/json")
	if req.contentType != "" {
		httpReq.Header.Set("Content-Type", req.contentType)
	}
	if req.auth {
		httpReq.Header.Set("Authorization", "Bearer "+s.token)
	}
	return httpReq, nil
}

// readMessage pulls the reason out of an error body. Validation errors are
// joined, anything else falls back to "message" or the raw text.
func readMessage(r io.Reader) string {
	raw, _ := io.ReadAll(io.LimitReader(r, 4096))
	return validationMessage(raw)
}

// classify maps a failed call to the service error taxonomy.
func classify(op string, err error) error {
	var apiErr *apiError
	if errors.As(err, &apiErr) {
		switch apiErr.status {
		case http.StatusUnauthorized:
			return cloud.NewAuthError(ServiceName, "Invalid or expired access token")
		case http.StatusNotFound:
			return cloud.NewServiceError(ServiceName, op+" failed: not found", cloud.ErrNotFound)
		}
	}
	if cloud.IsAuthError(err) {
		return err
	}
	return cloud.NewServiceError(ServiceName, op+" failed", err)
}

func jsonBody(v any) []byte {
	b, _ := json.Marshal(v)
	return b
}
