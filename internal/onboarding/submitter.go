package onboarding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/tidwall/gjson"
)

// SubmitResult is the machine's view of one registration or setup call.
// Body is retained raw because the API's response shapes vary.
type SubmitResult struct {
	Success bool
	Status  int
	UserID  string
	Token   string
	Body    []byte
	Err     string
}

// Submitter performs the external registration/setup call. It is invoked at
// most once per user confirmation; retry is a user-facing transition, never
// automatic.
type Submitter interface {
	Submit(ctx context.Context, phase string, payload map[string]string) (*SubmitResult, error)
}

// DefaultSubmitTimeout bounds one external submission call.
const DefaultSubmitTimeout = 15 * time.Second

// HTTPSubmitter posts collected data to the external registration API.
type HTTPSubmitter struct {
	client  *http.Client
	baseURL string
	token   string
}

// HTTPSubmitterOption configures an HTTPSubmitter.
type HTTPSubmitterOption func(*HTTPSubmitter)

// WithAuthToken sets a bearer token for setup-phase calls.
func WithAuthToken(token string) HTTPSubmitterOption {
	return func(s *HTTPSubmitter) { s.token = token }
}

// WithHTTPClient overrides the default client, mainly for tests.
func WithHTTPClient(c *http.Client) HTTPSubmitterOption {
	return func(s *HTTPSubmitter) { s.client = c }
}

// NewHTTPSubmitter creates a submitter for the given API base URL.
func NewHTTPSubmitter(baseURL string, opts ...HTTPSubmitterOption) *HTTPSubmitter {
	s := &HTTPSubmitter{
		client:  &http.Client{Timeout: DefaultSubmitTimeout},
		baseURL: baseURL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// phaseEndpoints maps a collection phase to its API path.
var phaseEndpoints = map[string]string{
	"registration":      "/v1/register",
	"initial_setup":     "/v1/setup",
	"change_email_only": "/v1/register",
}

// Submit posts the payload and normalizes the response. Transport errors are
// returned as errors; API-level failures come back as an unsuccessful result
// with the raw body retained for error-detail extraction.
func (s *HTTPSubmitter) Submit(ctx context.Context, phase string, payload map[string]string) (*SubmitResult, error) {
	endpoint, ok := phaseEndpoints[phase]
	if !ok {
		return nil, fmt.Errorf("unknown submission phase: %s", phase)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode submission payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build submission request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	slog.Debug("Submitting onboarding payload", "phase", phase, "endpoint", endpoint, "fields", len(payload))
	resp, err := s.client.Do(req)
	if err != nil {
		slog.Error("Onboarding submission transport failure", "error", err, "phase", phase)
		return nil, fmt.Errorf("submission request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read submission response: %w", err)
	}

	result := &SubmitResult{
		Status: resp.StatusCode,
		Body:   respBody,
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		result.Success = true
		result.UserID = firstString(respBody, "data.userId", "data.user_id", "userId", "user_id", "data.id", "id")
		if tokens := findAuthTokens(respBody); tokens != nil {
			for _, alias := range []string{"token", "accesstoken", "authtoken", "apikey"} {
				if v, ok := tokens[alias]; ok {
					result.Token = v
					break
				}
			}
		}
	} else {
		result.Err = firstString(respBody, "error", "message", "data.error")
		if result.Err == "" {
			result.Err = fmt.Sprintf("submission failed with status %d", resp.StatusCode)
		}
	}
	slog.Debug("Onboarding submission finished", "phase", phase, "status", resp.StatusCode, "success", result.Success)
	return result, nil
}

// firstString returns the first non-empty string at any of the gjson paths.
func firstString(body []byte, paths ...string) string {
	for _, p := range paths {
		if v := gjson.GetBytes(body, p); v.Type == gjson.String && v.String() != "" {
			return v.String()
		}
	}
	return ""
}
