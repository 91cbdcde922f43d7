package czds

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"czdsfetch/internal"
	"czdsfetch/utils"
)

const (
	// LinksPath lists the zone files the account may download
	LinksPath = "/czds/downloads/links"
	// RequestsPath lists the account's access requests
	RequestsPath = "/czds/requests/all"

	// ExpiryWindow selects requests whose expiry is this close to now, in either direction
	ExpiryWindow = 30 * 24 * time.Hour

	requestsPageSize = 1200
	expiredLayout    = "2006-01-02T15:04:05Z"
)

// ZoneLinkLister lists downloadable zone file links
type ZoneLinkLister struct {
	caller *authorizedCaller
	url    string
}

// NewZoneLinkLister creates a lister for {czdsBaseURL}/czds/downloads/links
func NewZoneLinkLister(client *utils.HTTPClient, session *Session, retry *utils.RetryConfig, czdsBaseURL string) *ZoneLinkLister {
	return &ZoneLinkLister{
		caller: newAuthorizedCaller(client, session, retry),
		url:    joinURL(czdsBaseURL, LinksPath),
	}
}

var _ internal.Lister = (*ZoneLinkLister)(nil)

// ListItems returns one item per zone link in server order
func (l *ZoneLinkLister) ListItems(ctx context.Context) ([]internal.ResourceItem, error) {
	newRequest := func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.url, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	}

	var links []string
	if err := listCall(ctx, l.caller, l.url, newRequest, "", &links); err != nil {
		return nil, err
	}

	items := make([]internal.ResourceItem, 0, len(links))
	for _, link := range links {
		items = append(items, internal.ResourceItem{
			ID:  utils.ZoneNameFromURL(link),
			URL: link,
		})
	}
	internal.LogInfo("The number of zone files to be downloaded is %d", len(items))
	return items, nil
}

// ExpiringRequestLister lists approved access requests that expire within ExpiryWindow
type ExpiringRequestLister struct {
	caller *authorizedCaller
	url    string
	now    func() time.Time
}

// NewExpiringRequestLister creates a lister for {czdsBaseURL}/czds/requests/all
func NewExpiringRequestLister(client *utils.HTTPClient, session *Session, retry *utils.RetryConfig, czdsBaseURL string) *ExpiringRequestLister {
	return &ExpiringRequestLister{
		caller: newAuthorizedCaller(client, session, retry),
		url:    joinURL(czdsBaseURL, RequestsPath),
		now:    time.Now,
	}
}

var _ internal.Lister = (*ExpiringRequestLister)(nil)

type requestsQuery struct {
	Status     string          `json:"status"`
	Filter     *string         `json:"filter"`
	Pagination queryPagination `json:"pagination"`
	Sort       querySort       `json:"sort"`
}

type queryPagination struct {
	Size int `json:"size"`
	Page int `json:"page"`
}

type querySort struct {
	Field     string `json:"field"`
	Direction string `json:"direction"`
}

type requestsResponse struct {
	Requests []accessRequest `json:"requests"`
}

type accessRequest struct {
	RequestID string `json:"requestId"`
	TLD       string `json:"tld"`
	Expired   string `json:"expired"`
}

// ListItems returns the approved requests whose expiry lies within ExpiryWindow of now
func (l *ExpiringRequestLister) ListItems(ctx context.Context) ([]internal.ResourceItem, error) {
	payload, err := json.Marshal(requestsQuery{
		Status:     "Approved",
		Pagination: queryPagination{Size: requestsPageSize, Page: 0},
		Sort:       querySort{Field: "expired", Direction: "asc"},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request query: %w", err)
	}

	newRequest := func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.url, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	}

	var out requestsResponse
	if err := listCall(ctx, l.caller, l.url, newRequest, string(payload), &out); err != nil {
		return nil, err
	}

	items, err := filterExpiring(out.Requests, l.now())
	if err != nil {
		return nil, internal.NewCZDSError(http.StatusOK, "unexpected access request data", internal.ErrListServer).
			WithURL(l.url).WithCause(err)
	}
	internal.LogInfo("The number of zone files to request expiry extension is %d", len(items))
	return items, nil
}

// filterExpiring builds a new slice of the requests within ExpiryWindow of now, keeping order
func filterExpiring(requests []accessRequest, now time.Time) ([]internal.ResourceItem, error) {
	items := make([]internal.ResourceItem, 0, len(requests))
	for _, r := range requests {
		expired, err := time.Parse(expiredLayout, r.Expired)
		if err != nil {
			return nil, fmt.Errorf("request %s: invalid expired date %q: %w", r.RequestID, r.Expired, err)
		}

		diff := expired.Sub(now)
		if diff < 0 {
			diff = -diff
		}
		if diff >= ExpiryWindow {
			continue
		}

		id := r.TLD
		if id == "" {
			id = r.RequestID
		}
		items = append(items, internal.ResourceItem{
			ID:        id,
			RequestID: r.RequestID,
			Expires:   expired,
		})
	}
	return items, nil
}

// listCall performs an authenticated list request and decodes a 200 body into out
func listCall(ctx context.Context, caller *authorizedCaller, url string, newRequest requestFactory, requestBody string, out interface{}) error {
	result, err := caller.do(ctx, newRequest)
	if err != nil {
		return listError(ctx, url, err)
	}
	resp := result.Response
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return internal.NewCZDSError(resp.StatusCode, "could not decode list response", internal.ErrListServer).
				WithURL(url).WithCause(err)
		}
		return nil
	case resp.StatusCode == http.StatusUnauthorized:
		return internal.NewCZDSError(resp.StatusCode, "access token rejected after re-authentication", internal.ErrListUnauthorized).
			WithURL(url)
	case resp.StatusCode == http.StatusTooManyRequests:
		return internal.NewRateLimitError(internal.ErrListServer, url, result.RateLimitAttempts)
	case resp.StatusCode >= 500:
		return internal.NewCZDSError(resp.StatusCode, "failed to get list", internal.ErrListServer).
			WithURL(url)
	default:
		return internal.NewCZDSError(resp.StatusCode, "failed to get list", internal.ErrListServer).
			WithURL(url).
			WithDiagnostics(responseDiagnostics(resp.Request, requestBody, resp))
	}
}

// listError classifies a failure that produced no response
func listError(ctx context.Context, url string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	var reauth *ReauthError
	if errors.As(err, &reauth) {
		return reauth.Err
	}
	if _, ok := internal.AsCZDSError(err); ok {
		return err
	}
	return internal.NewNetworkError(internal.ErrListNetwork, url, err)
}

func joinURL(base, path string) string {
	return strings.TrimRight(base, "/") + path
}
