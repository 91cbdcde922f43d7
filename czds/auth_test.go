package czds

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"czdsfetch/internal"
	"czdsfetch/utils"
)

var testCredentials = internal.Credentials{Username: "user@example.com", Password: "hunter2"}

// authServer answers the n-th authentication attempt with statuses[n], repeating the last one
func authServer(t *testing.T, statuses []int, body string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(calls.Add(1)) - 1
		if n >= len(statuses) {
			n = len(statuses) - 1
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statuses[n])
		if statuses[n] == http.StatusOK {
			w.Write([]byte(body))
		} else {
			w.Write([]byte(`{"message":"denied"}`))
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestAuthenticator_Success(t *testing.T) {
	var got authRequest
	var contentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/authenticate" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		contentType = r.Header.Get("Content-Type")
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"accessToken":"abc.def","message":"Authentication Successful"}`))
	}))
	defer srv.Close()

	auth := NewAuthenticator(utils.NewHTTPClient(), srv.URL+"/api/authenticate", testCredentials, testRetry(&sleepRecorder{}))
	token, err := auth.Authenticate(context.Background())
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if token != "abc.def" {
		t.Errorf("token = %q, want abc.def", token)
	}
	if got.Username != testCredentials.Username || got.Password != testCredentials.Password {
		t.Errorf("request body = %+v", got)
	}
	if contentType != "application/json" {
		t.Errorf("Content-Type = %q", contentType)
	}
}

func TestAuthenticator_RetriesRateLimit(t *testing.T) {
	srv, calls := authServer(t, []int{429, 429, 200}, `{"accessToken":"tok"}`)
	rec := &sleepRecorder{}

	auth := NewAuthenticator(utils.NewHTTPClient(), srv.URL, testCredentials, testRetry(rec))
	token, err := auth.Authenticate(context.Background())
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if token != "tok" {
		t.Errorf("token = %q, want tok", token)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
	assertDelays(t, rec.recorded(), 2*time.Second, 4*time.Second)
}

func TestAuthenticator_RateLimitBudgetExhausted(t *testing.T) {
	srv, calls := authServer(t, []int{429}, "")
	rec := &sleepRecorder{}

	auth := NewAuthenticator(utils.NewHTTPClient(), srv.URL, testCredentials, testRetry(rec))
	_, err := auth.Authenticate(context.Background())
	if !internal.IsType(err, internal.ErrAuthRateLimited) {
		t.Fatalf("expected AuthRateLimited, got %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want exactly 3", calls.Load())
	}
	assertDelays(t, rec.recorded(), 2*time.Second, 4*time.Second)
}

func TestAuthenticator_Failures(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantType internal.ErrorType
		wantDiag bool
	}{
		{"unauthorized", 401, "", internal.ErrAuthUnauthorized, false},
		{"bad_request", 400, "", internal.ErrAuthBadRequest, true},
		{"not_found", 404, "", internal.ErrAuthNotFound, true},
		{"server_error", 500, "", internal.ErrAuthServer, true},
		{"teapot", 418, "", internal.ErrAuthServer, true},
		{"missing_token", 200, `{"message":"ok"}`, internal.ErrAuthMalformed, false},
		{"not_json", 200, `<html>`, internal.ErrAuthMalformed, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, calls := authServer(t, []int{tt.status}, tt.body)
			rec := &sleepRecorder{}

			auth := NewAuthenticator(utils.NewHTTPClient(), srv.URL, testCredentials, testRetry(rec))
			_, err := auth.Authenticate(context.Background())

			czdsErr, ok := internal.AsCZDSError(err)
			if !ok || czdsErr.Type != tt.wantType {
				t.Fatalf("expected %v, got %v", tt.wantType, err)
			}
			if czdsErr.Code != tt.status {
				t.Errorf("Code = %d, want %d", czdsErr.Code, tt.status)
			}
			if calls.Load() != 1 {
				t.Errorf("calls = %d, only 429 is retried", calls.Load())
			}
			if len(rec.recorded()) != 0 {
				t.Errorf("unexpected sleeps %v", rec.recorded())
			}
			if tt.wantDiag != (czdsErr.Diagnostics != nil) {
				t.Errorf("diagnostics present = %v, want %v", czdsErr.Diagnostics != nil, tt.wantDiag)
			}
		})
	}
}

func TestAuthenticator_BadRequestDiagnostics(t *testing.T) {
	srv, _ := authServer(t, []int{400}, "")

	auth := NewAuthenticator(utils.NewHTTPClient(), srv.URL, testCredentials, testRetry(&sleepRecorder{}))
	_, err := auth.Authenticate(context.Background())

	czdsErr, _ := internal.AsCZDSError(err)
	if czdsErr == nil || czdsErr.Diagnostics == nil {
		t.Fatalf("expected diagnostics, got %v", err)
	}
	d := czdsErr.Diagnostics
	if d.Method != http.MethodPost {
		t.Errorf("Method = %q", d.Method)
	}
	if strings.Contains(d.RequestBody, "hunter2") {
		t.Error("password must not be kept in diagnostics")
	}
	if !strings.Contains(d.RequestBody, testCredentials.Username) {
		t.Errorf("RequestBody = %q, want the username", d.RequestBody)
	}
	if d.ResponseBody != `{"message":"denied"}` {
		t.Errorf("ResponseBody = %q", d.ResponseBody)
	}
	if d.RequestHeaders.Get("Content-Type") != "application/json" {
		t.Errorf("RequestHeaders = %v", d.RequestHeaders)
	}
}

func TestAuthenticator_NetworkErrorIsNotRetried(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()
	rec := &sleepRecorder{}

	auth := NewAuthenticator(utils.NewHTTPClient(), url, testCredentials, testRetry(rec))
	_, err := auth.Authenticate(context.Background())
	if !internal.IsType(err, internal.ErrAuthNetwork) {
		t.Fatalf("expected AuthNetworkError, got %v", err)
	}
	if len(rec.recorded()) != 0 {
		t.Errorf("network failures must not be retried, slept %v", rec.recorded())
	}
}

func TestAuthenticator_CancelledDuringBackoff(t *testing.T) {
	srv, calls := authServer(t, []int{429}, "")
	ctx, cancel := context.WithCancel(context.Background())
	retry := testRetry(&sleepRecorder{})
	retry.Sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}

	auth := NewAuthenticator(utils.NewHTTPClient(), srv.URL, testCredentials, retry)
	_, err := auth.Authenticate(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestSession_TokenIsLazyAndCached(t *testing.T) {
	source := &countingSource{}
	session := NewSession(source)

	if source.calls.Load() != 0 {
		t.Fatal("NewSession must not authenticate")
	}
	for i := 0; i < 3; i++ {
		token, err := session.Token(context.Background())
		if err != nil || token != "tok1" {
			t.Fatalf("Token() = %q, %v", token, err)
		}
	}
	if source.calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", source.calls.Load())
	}
	if session.IssuedAt().IsZero() {
		t.Error("IssuedAt should be set")
	}
}

func TestSession_Seed(t *testing.T) {
	source := &countingSource{}
	session := NewSession(source)
	session.Seed("preissued")

	token, err := session.Token(context.Background())
	if err != nil || token != "preissued" {
		t.Fatalf("Token() = %q, %v", token, err)
	}
	if source.calls.Load() != 0 {
		t.Error("a seeded session must not authenticate")
	}

	token, err = session.Refresh(context.Background(), "preissued")
	if err != nil || token != "tok1" {
		t.Fatalf("Refresh() = %q, %v", token, err)
	}
}

func TestSession_RefreshIsSingleFlight(t *testing.T) {
	source := &countingSource{}
	session := NewSession(source)

	stale, err := session.Token(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	tokens := make([]string, 10)
	for i := range tokens {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tokens[i], _ = session.Refresh(context.Background(), stale)
		}(i)
	}
	wg.Wait()

	if source.calls.Load() != 2 {
		t.Errorf("calls = %d, want one initial and one refresh", source.calls.Load())
	}
	for _, token := range tokens {
		if token != "tok2" {
			t.Errorf("token = %q, want tok2", token)
		}
	}
}

func TestSession_RefreshFailureClearsToken(t *testing.T) {
	failure := internal.NewCZDSError(401, "invalid username/password", internal.ErrAuthUnauthorized)
	source := &countingSource{fail: func(call int) error {
		if call == 2 {
			return failure
		}
		return nil
	}}
	session := NewSession(source)

	stale, _ := session.Token(context.Background())
	if _, err := session.Refresh(context.Background(), stale); !errors.Is(err, failure) {
		t.Fatalf("Refresh() error = %v", err)
	}

	token, err := session.Token(context.Background())
	if err != nil || token != "tok3" {
		t.Fatalf("Token() after failed refresh = %q, %v", token, err)
	}

	session.Invalidate()
	if !session.IssuedAt().IsZero() {
		t.Error("Invalidate should clear IssuedAt")
	}
}
