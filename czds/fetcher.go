package czds

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"czdsfetch/internal"
	"czdsfetch/utils"
)

// ExtensionPath is the per-request endpoint that extends an access grant
const ExtensionPath = "/czds/requests/extension/"

// ZoneFetcher downloads one zone file per item into a Storage
type ZoneFetcher struct {
	caller   *authorizedCaller
	store    internal.Storage
	progress io.Writer
}

// ZoneFetcherOption configures a ZoneFetcher
type ZoneFetcherOption func(*ZoneFetcher)

// WithProgress renders a progress bar per download to output; nil disables it
func WithProgress(output io.Writer) ZoneFetcherOption {
	return func(f *ZoneFetcher) {
		f.progress = output
	}
}

// NewZoneFetcher creates a fetcher that writes through store. Zone bodies are
// bounded by the client's idle timeout, not its request timeout.
func NewZoneFetcher(client *utils.HTTPClient, session *Session, retry *utils.RetryConfig, store internal.Storage, opts ...ZoneFetcherOption) *ZoneFetcher {
	f := &ZoneFetcher{
		caller: newAuthorizedCaller(client, session, retry),
		store:  store,
	}
	f.caller.stream = true
	for _, opt := range opts {
		opt(f)
	}
	return f
}

var _ internal.Fetcher = (*ZoneFetcher)(nil)

// FetchOne downloads item.URL. The file is reported only once it has been
// committed in full; every failure stays local to this item.
func (f *ZoneFetcher) FetchOne(ctx context.Context, item internal.ResourceItem) internal.FetchOutcome {
	start := time.Now()
	internal.LogInfo("Downloading zone file from %s", item.URL)

	newRequest := func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, item.URL, nil)
	}

	result, err := f.caller.do(ctx, newRequest)
	if err != nil {
		return failedOutcome(ctx, item, item.URL, start, err)
	}
	resp := result.Response
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusOutcome(item, item.URL, start, result)
	}

	name := utils.FilenameFromContentDisposition(resp.Header.Get("Content-Disposition"))
	if name == "" {
		name, err = utils.FilenameFromURL(item.URL)
		if err != nil {
			return newOutcome(item, internal.StatusPermanentFailure, start,
				internal.NewCZDSError(resp.StatusCode, "cannot name zone file", internal.ErrItemPermanent).
					WithURL(item.URL).WithCause(err))
		}
	}

	progress := utils.NewTransferProgress(name, resp.ContentLength, f.progress)
	stored, err := f.store.Store(ctx, name, progress.Reader(resp.Body))
	received, took := progress.Done()
	internal.LogDebug("Received %s for %s in %v", utils.FormatBytes(received), item.ID, took.Round(time.Millisecond))
	if err != nil {
		if ctx.Err() != nil {
			return newOutcome(item, internal.StatusTransientFailure, start, ctx.Err())
		}
		return newOutcome(item, internal.StatusPermanentFailure, start,
			internal.NewCZDSError(0, "failed to store zone file", internal.ErrItemPermanent).
				WithURL(item.URL).WithCause(err))
	}

	outcome := newOutcome(item, internal.StatusSuccess, start, nil)
	outcome.BytesWritten = stored.Size
	outcome.Path = stored.Path
	outcome.Digest = stored.Digest
	internal.LogInfo("Completed downloading zone to file %s (%s)", stored.Path, utils.FormatBytes(stored.Size))
	return outcome
}

// ExtensionFetcher requests an expiry extension for one access request per item
type ExtensionFetcher struct {
	caller  *authorizedCaller
	baseURL string
}

// NewExtensionFetcher creates a fetcher posting to {czdsBaseURL}/czds/requests/extension/{id}
func NewExtensionFetcher(client *utils.HTTPClient, session *Session, retry *utils.RetryConfig, czdsBaseURL string) *ExtensionFetcher {
	return &ExtensionFetcher{
		caller:  newAuthorizedCaller(client, session, retry),
		baseURL: czdsBaseURL,
	}
}

var _ internal.Fetcher = (*ExtensionFetcher)(nil)

// FetchOne posts the extension request for item.RequestID
func (f *ExtensionFetcher) FetchOne(ctx context.Context, item internal.ResourceItem) internal.FetchOutcome {
	start := time.Now()
	target := joinURL(f.baseURL, ExtensionPath+url.PathEscape(item.RequestID))
	internal.LogInfo("Requesting expiry extension for %s", item.ID)

	newRequest := func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	}

	result, err := f.caller.do(ctx, newRequest)
	if err != nil {
		return failedOutcome(ctx, item, target, start, err)
	}
	resp := result.Response
	defer drainAndClose(resp)

	if resp.StatusCode != http.StatusOK {
		return statusOutcome(item, target, start, result)
	}

	internal.LogInfo("Request for extension of %s successful", item.ID)
	return newOutcome(item, internal.StatusSuccess, start, nil)
}

// statusOutcome classifies a terminal non-200 response
func statusOutcome(item internal.ResourceItem, target string, start time.Time, result *callResult) internal.FetchOutcome {
	code := result.Response.StatusCode

	switch {
	case code == http.StatusNotFound:
		internal.LogInfo("No zone file found for %s", target)
		return newOutcome(item, internal.StatusNotFound, start, internal.NewItemNotFoundError(target))
	case code == http.StatusUnauthorized:
		err := internal.NewCZDSError(code, "access token rejected after re-authentication", internal.ErrItemUnauthorized).
			WithURL(target)
		internal.LogCZDSError(err)
		return newOutcome(item, internal.StatusPermanentFailure, start, err)
	case code == http.StatusTooManyRequests:
		err := internal.NewRateLimitError(internal.ErrItemRateLimited, target, result.RateLimitAttempts)
		internal.LogCZDSError(err)
		return newOutcome(item, internal.StatusPermanentFailure, start, err)
	default:
		err := internal.NewCZDSError(code, fmt.Sprintf("failed with code %d", code), internal.ErrItemPermanent).
			WithURL(target)
		internal.LogCZDSError(err)
		return newOutcome(item, internal.StatusPermanentFailure, start, err)
	}
}

// failedOutcome classifies an error that produced no response. A cancelled
// context yields TransientFailure, which the Driver does not record.
func failedOutcome(ctx context.Context, item internal.ResourceItem, target string, start time.Time, err error) internal.FetchOutcome {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return newOutcome(item, internal.StatusTransientFailure, start, ctxErr)
	}

	var reauth *ReauthError
	var itemErr *internal.CZDSError
	switch {
	case errors.As(err, &reauth):
		itemErr = internal.NewCZDSError(http.StatusUnauthorized, "re-authentication failed", internal.ErrItemUnauthorized).
			WithURL(target).WithCause(reauth.Err)
	case isCZDSError(err):
		itemErr = internal.NewCZDSError(0, "authentication failed", internal.ErrItemUnauthorized).
			WithURL(target).WithCause(err)
	default:
		itemErr = internal.NewNetworkError(internal.ErrItemNetwork, target, err)
	}
	internal.LogCZDSError(itemErr)
	return newOutcome(item, internal.StatusPermanentFailure, start, itemErr)
}

func isCZDSError(err error) bool {
	_, ok := internal.AsCZDSError(err)
	return ok
}

func newOutcome(item internal.ResourceItem, status internal.OutcomeStatus, start time.Time, err error) internal.FetchOutcome {
	outcome := internal.FetchOutcome{
		Item:     item,
		Status:   status,
		Duration: time.Since(start),
		Err:      err,
	}
	if err != nil {
		outcome.Error = err.Error()
	}
	return outcome
}
