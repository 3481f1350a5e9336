// Package gphotos is a minimal client for the Google Photos Library
// REST API: paged media search, album listing, and media downloads.
// Authentication is the caller's concern; pass an *http.Client whose
// transport injects credentials (an oauth2 client).
package gphotos

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"
)

// DefaultBaseURL is the production Library API root.
const DefaultBaseURL = "https://photoslibrary.googleapis.com/v1"

const defaultPageSize = 100

// APIError is a non-2xx response from the Library API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("photos api: status %d: %s", e.StatusCode, e.Body)
}

// SearchFilter narrows a media search. Zero values mean unbounded.
type SearchFilter struct {
	StartDate  time.Time
	EndDate    time.Time
	PhotosOnly bool
	AlbumID    string
}

// Client calls the Library API. Requests are paced by a shared rate
// limiter so paging and downloads together stay under quota.
type Client struct {
	httpClient *http.Client
	baseURL    string
	limiter    *rate.Limiter
	pageSize   int
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at a different API root (tests).
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// WithRateLimit caps outgoing requests per second. Zero disables the cap.
func WithRateLimit(rps float64) Option {
	return func(c *Client) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		} else {
			c.limiter = nil
		}
	}
}

// WithPageSize overrides the search/list page size (tests).
func WithPageSize(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.pageSize = n
		}
	}
}

// NewClient builds a Client over httpClient. The default rate limit of
// 10 req/s sits well under the Library API per-minute quota.
func NewClient(httpClient *http.Client, opts ...Option) *Client {
	c := &Client{
		httpClient: httpClient,
		baseURL:    DefaultBaseURL,
		limiter:    rate.NewLimiter(rate.Limit(10), 1),
		pageSize:   defaultPageSize,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SearchMedia pages through mediaItems:search results matching filter,
// invoking fn once per page. Returning an error from fn stops paging.
func (c *Client) SearchMedia(ctx context.Context, filter SearchFilter, fn func([]MediaItem) error) error {
	req := searchRequest{
		AlbumID:  filter.AlbumID,
		PageSize: c.pageSize,
	}

	// The API rejects filters combined with albumId.
	if filter.AlbumID == "" {
		req.Filters = buildFilters(filter)
	}

	for {
		var resp searchResponse
		if err := c.post(ctx, "/mediaItems:search", req, &resp); err != nil {
			return fmt.Errorf("search media: %w", err)
		}
		if len(resp.MediaItems) > 0 {
			if err := fn(resp.MediaItems); err != nil {
				return err
			}
		}
		if resp.NextPageToken == "" {
			return nil
		}
		req.PageToken = resp.NextPageToken
	}
}

// AlbumContents pages through the media items of one album.
func (c *Client) AlbumContents(ctx context.Context, albumID string, fn func([]MediaItem) error) error {
	return c.SearchMedia(ctx, SearchFilter{AlbumID: albumID}, fn)
}

// ListAlbums pages through the library's albums, invoking fn per page.
func (c *Client) ListAlbums(ctx context.Context, fn func([]Album) error) error {
	pageToken := ""
	for {
		path := fmt.Sprintf("/albums?pageSize=%d", c.pageSize)
		if pageToken != "" {
			path += "&pageToken=" + url.QueryEscape(pageToken)
		}

		var resp albumsResponse
		if err := c.get(ctx, path, &resp); err != nil {
			return fmt.Errorf("list albums: %w", err)
		}
		if len(resp.Albums) > 0 {
			if err := fn(resp.Albums); err != nil {
				return err
			}
		}
		if resp.NextPageToken == "" {
			return nil
		}
		pageToken = resp.NextPageToken
	}
}

// Download streams the original bytes of a media item to w. The =d
// suffix requests original quality; videos use =dv.
func (c *Client) Download(ctx context.Context, item MediaItem, w io.Writer) (int64, error) {
	suffix := "=d"
	if item.IsVideo() {
		suffix = "=dv"
	}

	if err := c.wait(ctx); err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, item.BaseURL+suffix, nil)
	if err != nil {
		return 0, fmt.Errorf("build download request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("download %s: %w", item.Filename, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return 0, &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, fmt.Errorf("download %s: %w", item.Filename, err)
	}
	return n, nil
}

func buildFilters(filter SearchFilter) *searchFilters {
	var f searchFilters
	hasAny := false

	if !filter.StartDate.IsZero() || !filter.EndDate.IsZero() {
		start := filter.StartDate
		if start.IsZero() {
			start = time.Date(1800, 1, 1, 0, 0, 0, 0, time.UTC)
		}
		end := filter.EndDate
		if end.IsZero() {
			end = time.Date(3000, 1, 1, 0, 0, 0, 0, time.UTC)
		}
		f.DateFilter = &dateFilter{Ranges: []dateRange{{
			StartDate: toAPIDate(start),
			EndDate:   toAPIDate(end),
		}}}
		hasAny = true
	}

	if filter.PhotosOnly {
		f.MediaTypeFilter = &mediaTypeFilter{MediaTypes: []string{"PHOTO"}}
		hasAny = true
	}

	if !hasAny {
		return nil
	}
	return &f
}

func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	if err := c.wait(req.Context()); err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}
