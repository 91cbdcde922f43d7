package czds

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"czdsfetch/internal"
	"czdsfetch/utils"
)

// maxDiagnosticBody bounds how much of an error response is kept for diagnostics
const maxDiagnosticBody = 64 * 1024

// TokenSource issues bearer tokens
type TokenSource interface {
	Authenticate(ctx context.Context) (string, error)
}

// Authenticator exchanges ICANN account credentials for a bearer token
type Authenticator struct {
	client      *utils.HTTPClient
	url         string
	credentials internal.Credentials
	retry       *utils.RetryConfig
}

// NewAuthenticator creates an authenticator posting to authURL
// (normally {authentication.base.url}/api/authenticate)
func NewAuthenticator(client *utils.HTTPClient, authURL string, credentials internal.Credentials, retry *utils.RetryConfig) *Authenticator {
	if retry == nil {
		retry = utils.DefaultRetryConfig()
	}
	return &Authenticator{
		client:      client,
		url:         authURL,
		credentials: credentials,
		retry:       retry,
	}
}

type authRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type authResponse struct {
	AccessToken string `json:"accessToken"`
}

// Authenticate returns a fresh access token. Only 429 is retried; every other
// failure, including a network error, is returned immediately.
func (a *Authenticator) Authenticate(ctx context.Context) (string, error) {
	body, err := json.Marshal(authRequest{
		Username: a.credentials.Username,
		Password: a.credentials.Password,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode credentials: %w", err)
	}

	for attempt := 1; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(body))
		if err != nil {
			return "", internal.NewCZDSError(0, "invalid authentication URL", internal.ErrAuthNotFound).
				WithURL(a.url).WithCause(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")

		resp, err := a.client.Do(req)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return "", ctxErr
			}
			return "", internal.NewNetworkError(internal.ErrAuthNetwork, a.url, err)
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			drainAndClose(resp)
			if attempt >= a.retry.MaxAttempts {
				return "", internal.NewRateLimitError(internal.ErrAuthRateLimited, a.url, attempt)
			}
			internal.LogWarn("Authentication rate limited, retrying in %v (attempt %d/%d)",
				a.retry.Delay(attempt), attempt, a.retry.MaxAttempts)
			if err := a.retry.Backoff(ctx, attempt); err != nil {
				return "", err
			}
			continue
		}

		return a.handleResponse(req, resp)
	}
}

func (a *Authenticator) handleResponse(req *http.Request, resp *http.Response) (string, error) {
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var out authResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return "", internal.NewCZDSError(resp.StatusCode, "could not decode authentication response", internal.ErrAuthMalformed).
				WithURL(a.url).WithCause(err)
		}
		if out.AccessToken == "" {
			return "", internal.NewCZDSError(resp.StatusCode, "authentication response has no accessToken", internal.ErrAuthMalformed).
				WithURL(a.url)
		}
		return out.AccessToken, nil
	case http.StatusUnauthorized:
		return "", internal.NewCZDSError(resp.StatusCode, "invalid username/password", internal.ErrAuthUnauthorized).
			WithURL(a.url)
	case http.StatusBadRequest:
		return "", internal.NewCZDSError(resp.StatusCode, "authentication request rejected", internal.ErrAuthBadRequest).
			WithURL(a.url).
			WithDiagnostics(a.diagnostics(req, resp))
	case http.StatusNotFound:
		return "", internal.NewCZDSError(resp.StatusCode, "invalid authentication URL", internal.ErrAuthNotFound).
			WithURL(a.url).
			WithDiagnostics(a.diagnostics(req, resp))
	default:
		return "", internal.NewCZDSError(resp.StatusCode, "failed to authenticate user "+a.credentials.Username, internal.ErrAuthServer).
			WithURL(a.url).
			WithDiagnostics(a.diagnostics(req, resp))
	}
}

// diagnostics records the exchange with the password withheld
func (a *Authenticator) diagnostics(req *http.Request, resp *http.Response) *internal.Diagnostics {
	redacted, _ := json.Marshal(authRequest{Username: a.credentials.Username, Password: "[REDACTED]"})
	return responseDiagnostics(req, string(redacted), resp)
}

// responseDiagnostics captures the request and a bounded copy of the response body
func responseDiagnostics(req *http.Request, requestBody string, resp *http.Response) *internal.Diagnostics {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxDiagnosticBody))
	return &internal.Diagnostics{
		Method:          req.Method,
		RequestHeaders:  req.Header.Clone(),
		RequestBody:     requestBody,
		ResponseHeaders: resp.Header.Clone(),
		ResponseBody:    string(body),
	}
}

// drainAndClose discards a small remainder so the connection can be reused
func drainAndClose(resp *http.Response) {
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxDiagnosticBody))
	resp.Body.Close()
}

// Session holds the bearer token shared by the lister and fetchers. It is
// safe for concurrent use; Refresh re-authenticates at most once per stale token.
type Session struct {
	source   TokenSource
	token    string
	issuedAt time.Time
	mutex    sync.Mutex
	now      func() time.Time
}

// NewSession creates a session that obtains tokens from source on demand
func NewSession(source TokenSource) *Session {
	return &Session{
		source: source,
		now:    time.Now,
	}
}

// Seed installs a pre-issued token, skipping the initial authentication
func (s *Session) Seed(token string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.token = token
	s.issuedAt = s.now()
}

// Token returns the current token, authenticating first if there is none
func (s *Session) Token(ctx context.Context) (string, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.token != "" {
		return s.token, nil
	}
	return s.authenticateLocked(ctx)
}

// Refresh replaces stale with a new token. If another caller already replaced
// stale, the current token is returned without authenticating again.
func (s *Session) Refresh(ctx context.Context, stale string) (string, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.token != "" && s.token != stale {
		return s.token, nil
	}
	s.token = ""
	return s.authenticateLocked(ctx)
}

// Invalidate discards the current token
func (s *Session) Invalidate() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.token = ""
	s.issuedAt = time.Time{}
}

// IssuedAt reports when the current token was installed
func (s *Session) IssuedAt() time.Time {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.issuedAt
}

func (s *Session) authenticateLocked(ctx context.Context) (string, error) {
	token, err := s.source.Authenticate(ctx)
	if err != nil {
		return "", err
	}
	s.token = token
	s.issuedAt = s.now()
	return token, nil
}
