package czds

import (
	"context"
	"fmt"
	"net/http"

	"czdsfetch/internal"
	"czdsfetch/utils"
)

// requestFactory builds a fresh request for every attempt so bodies can be resent
type requestFactory func(ctx context.Context) (*http.Request, error)

// ReauthError wraps the failure of the one re-authentication a call may perform
type ReauthError struct {
	Err error
}

func (e *ReauthError) Error() string {
	return fmt.Sprintf("re-authentication failed: %v", e.Err)
}

func (e *ReauthError) Unwrap() error {
	return e.Err
}

// callResult is the terminal response of an authenticated call
type callResult struct {
	Response *http.Response
	// RateLimitAttempts counts the attempts answered with 429
	RateLimitAttempts int
	Reauthenticated   bool
}

// authorizedCaller sends bearer-authenticated requests. A 401 triggers exactly
// one session refresh and retry; 429 is retried with backoff until the retry
// budget is spent. The two budgets are independent. The final response, which
// may still be a 401 or 429, is handed back for the caller to classify.
// A streaming caller sends through the client's stream path, which drops the
// whole-request timeout in favour of an idle deadline on the body.
type authorizedCaller struct {
	client  *utils.HTTPClient
	session *Session
	retry   *utils.RetryConfig
	stream  bool
}

func newAuthorizedCaller(client *utils.HTTPClient, session *Session, retry *utils.RetryConfig) *authorizedCaller {
	if retry == nil {
		retry = utils.DefaultRetryConfig()
	}
	return &authorizedCaller{client: client, session: session, retry: retry}
}

// do returns an authentication error, a transport error, a *ReauthError, a
// context error from a backoff sleep, or the terminal response. The caller owns the response body.
func (c *authorizedCaller) do(ctx context.Context, newRequest requestFactory) (*callResult, error) {
	result := &callResult{}

	for {
		token, err := c.session.Token(ctx)
		if err != nil {
			return nil, err
		}

		req, err := newRequest(ctx)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Accept", "application/json")

		send := c.client.Do
		if c.stream {
			send = c.client.DoStream
		}
		resp, err := send(req)
		if err != nil {
			return nil, err
		}

		switch resp.StatusCode {
		case http.StatusUnauthorized:
			if result.Reauthenticated {
				result.Response = resp
				return result, nil
			}
			drainAndClose(resp)
			internal.LogInfo("The access token has expired, re-authenticating")
			result.Reauthenticated = true
			if _, err := c.session.Refresh(ctx, token); err != nil {
				return nil, &ReauthError{Err: err}
			}

		case http.StatusTooManyRequests:
			result.RateLimitAttempts++
			if result.RateLimitAttempts >= c.retry.MaxAttempts {
				result.Response = resp
				return result, nil
			}
			drainAndClose(resp)
			internal.LogWarn("Rate limited by %s, retrying in %v (attempt %d/%d)",
				req.URL.Host, c.retry.Delay(result.RateLimitAttempts), result.RateLimitAttempts, c.retry.MaxAttempts)
			if err := c.retry.Backoff(ctx, result.RateLimitAttempts); err != nil {
				return nil, err
			}

		default:
			result.Response = resp
			return result, nil
		}
	}
}
