package czds

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"czdsfetch/internal"
	"czdsfetch/utils"
)

func TestZoneLinkLister_ListItems(t *testing.T) {
	var srvURL string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != LinksPath || r.Method != http.MethodGet {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok1" {
			t.Errorf("Authorization = %q", got)
		}
		fmt.Fprintf(w, `[%q, %q]`, srvURL+"/czds/downloads/com.zone", srvURL+"/czds/downloads/net.zone")
	}))
	defer srv.Close()
	srvURL = srv.URL

	lister := NewZoneLinkLister(utils.NewHTTPClient(), NewSession(&countingSource{}), testRetry(&sleepRecorder{}), srv.URL+"/")
	items, err := lister.ListItems(context.Background())
	if err != nil {
		t.Fatalf("ListItems() error = %v", err)
	}

	if len(items) != 2 {
		t.Fatalf("len(items) = %d, want 2", len(items))
	}
	if items[0].ID != "com" || items[0].URL != srv.URL+"/czds/downloads/com.zone" {
		t.Errorf("items[0] = %+v", items[0])
	}
	if items[1].ID != "net" {
		t.Errorf("items[1] = %+v", items[1])
	}
}

func TestZoneLinkLister_ReauthenticatesOnce(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.Header.Get("Authorization") != "Bearer tok2" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	source := &countingSource{}
	lister := NewZoneLinkLister(utils.NewHTTPClient(), NewSession(source), testRetry(&sleepRecorder{}), srv.URL)
	items, err := lister.ListItems(context.Background())
	if err != nil {
		t.Fatalf("ListItems() error = %v", err)
	}
	if len(items) != 0 {
		t.Errorf("items = %v, want none", items)
	}
	if calls.Load() != 2 || source.calls.Load() != 2 {
		t.Errorf("list calls = %d, auth calls = %d, want 2 and 2", calls.Load(), source.calls.Load())
	}
}

func TestZoneLinkLister_Failures(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		wantType  internal.ErrorType
		wantCalls int32
		wantAuth  int32
		wantSleep int
	}{
		{"unauthorized_after_reauth", 401, internal.ErrListUnauthorized, 2, 2, 0},
		{"server_error", 500, internal.ErrListServer, 1, 1, 0},
		{"forbidden", 403, internal.ErrListServer, 1, 1, 0},
		{"rate_limited", 429, internal.ErrListServer, 3, 1, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			source := &countingSource{}
			rec := &sleepRecorder{}
			lister := NewZoneLinkLister(utils.NewHTTPClient(), NewSession(source), testRetry(rec), srv.URL)
			_, err := lister.ListItems(context.Background())

			czdsErr, ok := internal.AsCZDSError(err)
			if !ok || czdsErr.Type != tt.wantType {
				t.Fatalf("expected %v, got %v", tt.wantType, err)
			}
			if czdsErr.Code != tt.status {
				t.Errorf("Code = %d, want %d", czdsErr.Code, tt.status)
			}
			if calls.Load() != tt.wantCalls || source.calls.Load() != tt.wantAuth {
				t.Errorf("list calls = %d, auth calls = %d, want %d and %d",
					calls.Load(), source.calls.Load(), tt.wantCalls, tt.wantAuth)
			}
			if len(rec.recorded()) != tt.wantSleep {
				t.Errorf("sleeps = %v, want %d", rec.recorded(), tt.wantSleep)
			}
		})
	}
}

func TestZoneLinkLister_ReauthFailureSurfacesAuthError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	source := &countingSource{fail: func(call int) error {
		if call > 1 {
			return internal.NewCZDSError(401, "invalid username/password", internal.ErrAuthUnauthorized)
		}
		return nil
	}}
	lister := NewZoneLinkLister(utils.NewHTTPClient(), NewSession(source), testRetry(&sleepRecorder{}), srv.URL)
	_, err := lister.ListItems(context.Background())
	if !internal.IsType(err, internal.ErrAuthUnauthorized) {
		t.Fatalf("expected AuthUnauthorized, got %v", err)
	}
}

func TestZoneLinkLister_MalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"links":`))
	}))
	defer srv.Close()

	lister := NewZoneLinkLister(utils.NewHTTPClient(), NewSession(&countingSource{}), testRetry(&sleepRecorder{}), srv.URL)
	if _, err := lister.ListItems(context.Background()); !internal.IsType(err, internal.ErrListServer) {
		t.Fatalf("expected ListServerError, got %v", err)
	}
}

func TestZoneLinkLister_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	session := NewSession(&countingSource{})
	session.Seed("preissued")
	lister := NewZoneLinkLister(utils.NewHTTPClient(), session, testRetry(&sleepRecorder{}), url)
	if _, err := lister.ListItems(context.Background()); !internal.IsType(err, internal.ErrListNetwork) {
		t.Fatalf("expected ListNetworkError, got %v", err)
	}
}

var listNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func expiredAt(offset time.Duration) string {
	return listNow.Add(offset).Format(expiredLayout)
}

func TestExpiringRequestLister_ListItems(t *testing.T) {
	day := 24 * time.Hour
	var query requestsQuery
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != RequestsPath {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&query); err != nil {
			t.Errorf("decode query: %v", err)
		}
		json.NewEncoder(w).Encode(requestsResponse{Requests: []accessRequest{
			{RequestID: "r1", TLD: "com", Expired: expiredAt(10 * day)},
			{RequestID: "r2", TLD: "net", Expired: expiredAt(-40 * day)},
			{RequestID: "r3", TLD: "org", Expired: expiredAt(200 * day)},
			{RequestID: "r4", TLD: "info", Expired: expiredAt(-5 * day)},
			{RequestID: "r5", Expired: expiredAt(day)},
		}})
	}))
	defer srv.Close()

	lister := NewExpiringRequestLister(utils.NewHTTPClient(), NewSession(&countingSource{}), testRetry(&sleepRecorder{}), srv.URL)
	lister.now = func() time.Time { return listNow }

	items, err := lister.ListItems(context.Background())
	if err != nil {
		t.Fatalf("ListItems() error = %v", err)
	}

	want := []struct{ id, requestID string }{{"com", "r1"}, {"info", "r4"}, {"r5", "r5"}}
	if len(items) != len(want) {
		t.Fatalf("items = %+v, want %d", items, len(want))
	}
	for i, w := range want {
		if items[i].ID != w.id || items[i].RequestID != w.requestID {
			t.Errorf("items[%d] = %+v, want %s/%s", i, items[i], w.id, w.requestID)
		}
	}

	if query.Status != "Approved" || query.Pagination.Size != 1200 || query.Pagination.Page != 0 {
		t.Errorf("query = %+v", query)
	}
	if query.Sort.Field != "expired" || query.Sort.Direction != "asc" || query.Filter != nil {
		t.Errorf("query sort/filter = %+v %v", query.Sort, query.Filter)
	}
}

func TestFilterExpiring(t *testing.T) {
	day := 24 * time.Hour
	tests := []struct {
		name   string
		offset time.Duration
		keep   bool
	}{
		{"expires_tomorrow", day, true},
		{"expired_yesterday", -day, true},
		{"just_inside_window", ExpiryWindow - time.Second, true},
		{"at_window_edge", ExpiryWindow, false},
		{"expired_long_ago", -ExpiryWindow - day, false},
		{"far_future", 365 * day, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			input := []accessRequest{{RequestID: "r", TLD: "example", Expired: expiredAt(tt.offset)}}
			items, err := filterExpiring(input, listNow)
			if err != nil {
				t.Fatalf("filterExpiring() error = %v", err)
			}
			if (len(items) == 1) != tt.keep {
				t.Errorf("kept = %v, want %v", len(items) == 1, tt.keep)
			}
			if tt.keep && !items[0].Expires.Equal(listNow.Add(tt.offset)) {
				t.Errorf("Expires = %v", items[0].Expires)
			}
		})
	}
}

func TestFilterExpiring_InvalidDate(t *testing.T) {
	_, err := filterExpiring([]accessRequest{{RequestID: "r", Expired: "next tuesday"}}, listNow)
	if err == nil {
		t.Fatal("expected an error for an unparseable date")
	}
}

func TestFilterExpiring_DoesNotAliasInput(t *testing.T) {
	input := []accessRequest{
		{RequestID: "a", TLD: "far", Expired: expiredAt(300 * 24 * time.Hour)},
		{RequestID: "b", TLD: "near", Expired: expiredAt(time.Hour)},
	}
	items, _ := filterExpiring(input, listNow)
	if len(items) != 1 || items[0].ID != "near" {
		t.Fatalf("items = %+v", items)
	}
	if input[0].TLD != "far" || input[1].TLD != "near" {
		t.Error("input must be left unchanged")
	}
}
